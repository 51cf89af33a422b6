package local

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobdomain "github.com/jinford/novelforge/internal/module/job/domain"
	"github.com/jinford/novelforge/internal/module/realtime/domain"
)

func TestBus_PublishAndReconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bus := NewBus(zerolog.Nop())
	ch := bus.Notifications(ctx)

	record := jobdomain.NewJobStatusRecord("J1", jobdomain.JobStatusRunning, nil, time.Now())
	bus.Publish(ctx, record)
	bus.Reconnect()

	n := <-ch
	m, err := domain.Decode(n.Payload)
	require.NoError(t, err)
	assert.Equal(t, record.ID.String(), m.ID)

	n = <-ch
	assert.True(t, n.Reconnected)

	cancel()
	assert.Eventually(t, func() bool {
		_, ok := <-ch
		return !ok
	}, time.Second, 10*time.Millisecond)
}
