package pgnotify

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/jinford/novelforge/internal/module/realtime/application"
)

const (
	minReconnectInterval = 10 * time.Second
	maxReconnectInterval = time.Minute
	pingInterval         = 90 * time.Second
)

// ListenerSource は lib/pq の Listener でチャネルを購読する通知ソースです
type ListenerSource struct {
	listener *pq.Listener
	channel  string
	logger   zerolog.Logger
}

var _ application.Source = (*ListenerSource)(nil)

// NewListenerSource はチャネルを LISTEN する通知ソースを作成します
func NewListenerSource(connString, channel string, logger zerolog.Logger) (*ListenerSource, error) {
	logger = logger.With().Str("component", "listener").Str("channel", channel).Logger()

	listener := pq.NewListener(connString, minReconnectInterval, maxReconnectInterval, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			logger.Info().Msg("listener: connected")
		case pq.ListenerEventDisconnected:
			logger.Warn().Err(err).Msg("listener: disconnected")
		case pq.ListenerEventReconnected:
			logger.Info().Msg("listener: reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			logger.Warn().Err(err).Msg("listener: connection attempt failed")
		}
	})
	if err := listener.Listen(channel); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("failed to listen on channel %s: %w", channel, err)
	}

	return &ListenerSource{listener: listener, channel: channel, logger: logger}, nil
}

// Notifications は ctx が終了するまで通知を流すチャネルを返します
// 再接続時には Reconnected の通知を流します
func (s *ListenerSource) Notifications(ctx context.Context) <-chan application.Notification {
	out := make(chan application.Notification)
	go func() {
		defer close(out)
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		for {
			var n application.Notification
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				go func() {
					if err := s.listener.Ping(); err != nil {
						s.logger.Debug().Err(err).Msg("listener: ping failed")
					}
				}()
				continue
			case pn := <-s.listener.Notify:
				// 再接続後は nil が送られる
				if pn == nil {
					n.Reconnected = true
				} else {
					n.Payload = []byte(pn.Extra)
				}
			}

			select {
			case out <- n:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Close は購読を終了します
func (s *ListenerSource) Close() error {
	if err := s.listener.Close(); err != nil {
		return fmt.Errorf("failed to close listener: %w", err)
	}
	return nil
}
