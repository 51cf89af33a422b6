package pgnotify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobdomain "github.com/jinford/novelforge/internal/module/job/domain"
	"github.com/jinford/novelforge/internal/module/realtime/domain"
)

type fakeConn struct {
	mu       sync.Mutex
	payloads []string
	execErr  error
	closed   bool
	panics   bool
}

func (c *fakeConn) Exec(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
	if c.panics {
		panic("boom")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.execErr != nil {
		return pgconn.CommandTag{}, c.execErr
	}
	c.payloads = append(c.payloads, args[1].(string))
	return pgconn.NewCommandTag("SELECT 1"), nil
}

func (c *fakeConn) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func record() jobdomain.EventRecord {
	return jobdomain.NewJobStatusRecord("J1", jobdomain.JobStatusRunning, nil, time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))
}

func TestBroadcaster_PublishReusesConnection(t *testing.T) {
	conn := &fakeConn{}
	dials := 0
	b := newBroadcaster("events", func(context.Context) (notifyConn, error) {
		dials++
		return conn, nil
	}, zerolog.Nop())

	b.Publish(context.Background(), record())
	b.Publish(context.Background(), record())
	require.NoError(t, b.Close(context.Background()))

	assert.Equal(t, 1, dials)
	require.Len(t, conn.payloads, 2)
	m, err := domain.Decode([]byte(conn.payloads[0]))
	require.NoError(t, err)
	assert.Equal(t, jobdomain.JobStatusRunning, m.Status)
	assert.True(t, conn.closed)
}

func TestBroadcaster_Failures(t *testing.T) {
	tests := []struct {
		name      string
		dial      func(conns *[]*fakeConn) dialFunc
		wantDials int
	}{
		{
			name: "接続失敗は呼び出し元に伝播しない",
			dial: func(_ *[]*fakeConn) dialFunc {
				return func(context.Context) (notifyConn, error) { return nil, errors.New("refused") }
			},
			wantDials: 2,
		},
		{
			name: "送信失敗後は次の配信で再接続",
			dial: func(conns *[]*fakeConn) dialFunc {
				return func(context.Context) (notifyConn, error) {
					c := &fakeConn{execErr: errors.New("broken pipe")}
					*conns = append(*conns, c)
					return c, nil
				}
			},
			wantDials: 2,
		},
		{
			name: "パニックは回復される",
			dial: func(conns *[]*fakeConn) dialFunc {
				return func(context.Context) (notifyConn, error) {
					c := &fakeConn{panics: true}
					*conns = append(*conns, c)
					return c, nil
				}
			},
			wantDials: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var conns []*fakeConn
			dials := 0
			dial := tt.dial(&conns)
			b := newBroadcaster("events", func(ctx context.Context) (notifyConn, error) {
				dials++
				return dial(ctx)
			}, zerolog.Nop())

			assert.NotPanics(t, func() {
				b.Publish(context.Background(), record())
				b.inflight.Wait()
				b.Publish(context.Background(), record())
				b.inflight.Wait()
			})
			assert.Equal(t, tt.wantDials, dials)
			require.NoError(t, b.Close(context.Background()))
		})
	}
}

func TestBroadcaster_CloseIsIdempotent(t *testing.T) {
	b := newBroadcaster("events", func(context.Context) (notifyConn, error) { return &fakeConn{}, nil }, zerolog.Nop())
	require.NoError(t, b.Init(context.Background()))
	require.NoError(t, b.Init(context.Background()))
	require.NoError(t, b.Close(context.Background()))
	require.NoError(t, b.Close(context.Background()))

	assert.Error(t, b.Init(context.Background()))
}
