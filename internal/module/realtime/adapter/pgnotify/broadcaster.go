package pgnotify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	jobdomain "github.com/jinford/novelforge/internal/module/job/domain"
	"github.com/jinford/novelforge/internal/module/realtime/domain"
)

// publishTimeout は1件の NOTIFY に許す時間です
const publishTimeout = 5 * time.Second

// notifyConn は Broadcaster が使う接続の操作です（*pgx.Conn が満たします）
type notifyConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close(ctx context.Context) error
	IsClosed() bool
}

type dialFunc func(ctx context.Context) (notifyConn, error)

// Broadcaster はイベントレコードを pg_notify でチャネルへ配信します
// 接続は最初の配信時に作成され、失敗後は次の配信時に張り直します
type Broadcaster struct {
	channel string
	dial    dialFunc
	logger  zerolog.Logger

	mu     sync.Mutex
	conn   notifyConn
	closed bool

	inflight sync.WaitGroup
}

var _ jobdomain.Publisher = (*Broadcaster)(nil)

// NewBroadcaster は Broadcaster を作成します
func NewBroadcaster(connString, channel string, logger zerolog.Logger) *Broadcaster {
	return newBroadcaster(channel, func(ctx context.Context) (notifyConn, error) {
		return pgx.Connect(ctx, connString)
	}, logger)
}

func newBroadcaster(channel string, dial dialFunc, logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		channel: channel,
		dial:    dial,
		logger:  logger.With().Str("component", "broadcaster").Str("channel", channel).Logger(),
	}
}

// Init は接続を確立します。確立済みの場合は何もしません
func (b *Broadcaster) Init(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.connLocked(ctx)
	return err
}

// Publish はレコードを非同期に配信します
// 呼び出し元をブロックせず、失敗はログに記録するだけです
func (b *Broadcaster) Publish(ctx context.Context, record jobdomain.EventRecord) {
	payload, err := domain.Encode(record)
	if err != nil {
		b.logger.Warn().Err(err).Str("job_id", record.JobID).Msg("broadcaster: failed to encode event")
		return
	}

	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error().Interface("panic", r).Str("job_id", record.JobID).Msg("broadcaster: recovered from panic")
			}
		}()

		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()
		if err := b.send(sendCtx, payload); err != nil {
			b.logger.Warn().Err(err).
				Str("job_id", record.JobID).
				Str("event_id", record.ID.String()).
				Msg("broadcaster: failed to publish event")
		}
	}()
}

func (b *Broadcaster) send(ctx context.Context, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	conn, err := b.connLocked(ctx)
	if err != nil {
		return err
	}
	if _, err := conn.Exec(ctx, "SELECT pg_notify($1, $2)", b.channel, string(payload)); err != nil {
		_ = conn.Close(ctx)
		b.conn = nil
		return fmt.Errorf("failed to notify: %w", err)
	}
	return nil
}

func (b *Broadcaster) connLocked(ctx context.Context) (notifyConn, error) {
	if b.closed {
		return nil, fmt.Errorf("broadcaster is closed")
	}
	if b.conn != nil && !b.conn.IsClosed() {
		return b.conn, nil
	}
	conn, err := b.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect broadcaster: %w", err)
	}
	b.conn = conn
	return conn, nil
}

// Close は配信中のイベントを待ってから接続を閉じます。2回目以降の呼び出しは何もしません
func (b *Broadcaster) Close(ctx context.Context) error {
	b.inflight.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close(ctx)
	b.conn = nil
	if err != nil {
		return fmt.Errorf("failed to close broadcaster: %w", err)
	}
	return nil
}

var (
	processMu          sync.Mutex
	processBroadcaster *Broadcaster
)

// Init はプロセス共有の Broadcaster を作成して返します
// 既に作成済みの場合は同じインスタンスを返します
func Init(ctx context.Context, connString, channel string, logger zerolog.Logger) (*Broadcaster, error) {
	processMu.Lock()
	defer processMu.Unlock()

	if processBroadcaster != nil {
		return processBroadcaster, nil
	}
	b := NewBroadcaster(connString, channel, logger)
	if err := b.Init(ctx); err != nil {
		return nil, err
	}
	processBroadcaster = b
	return b, nil
}

// Shutdown はプロセス共有の Broadcaster を閉じます。未作成の場合は何もしません
func Shutdown(ctx context.Context) error {
	processMu.Lock()
	b := processBroadcaster
	processBroadcaster = nil
	processMu.Unlock()

	if b == nil {
		return nil
	}
	return b.Close(ctx)
}
