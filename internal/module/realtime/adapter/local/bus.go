// Package local はプロセス内で完結するリアルタイムチャネルです
// データベースを使わないデモとテストで pg_notify の代わりに使います
package local

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	jobdomain "github.com/jinford/novelforge/internal/module/job/domain"
	"github.com/jinford/novelforge/internal/module/realtime/application"
	"github.com/jinford/novelforge/internal/module/realtime/domain"
)

const defaultBuffer = 256

// Bus はイベントの配信と購読をプロセス内で行います
type Bus struct {
	logger zerolog.Logger

	mu   sync.Mutex
	subs map[chan application.Notification]struct{}
}

var (
	_ jobdomain.Publisher = (*Bus)(nil)
	_ application.Source  = (*Bus)(nil)
)

// NewBus は Bus を作成します
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		logger: logger.With().Str("component", "bus").Logger(),
		subs:   make(map[chan application.Notification]struct{}),
	}
}

// Publish はレコードをすべての購読者へ配信します。バッファが満杯の購読者には届きません
func (b *Bus) Publish(_ context.Context, record jobdomain.EventRecord) {
	payload, err := domain.Encode(record)
	if err != nil {
		b.logger.Warn().Err(err).Str("job_id", record.JobID).Msg("bus: failed to encode event")
		return
	}
	b.send(application.Notification{Payload: payload})
}

// Reconnect は再接続の通知を流します
func (b *Bus) Reconnect() {
	b.send(application.Notification{Reconnected: true})
}

func (b *Bus) send(n application.Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- n:
		default:
			b.logger.Warn().Msg("bus: subscriber buffer full, dropping notification")
		}
	}
}

// Notifications は ctx が終了するまで通知を流すチャネルを返します
func (b *Bus) Notifications(ctx context.Context) <-chan application.Notification {
	ch := make(chan application.Notification, defaultBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch
}
