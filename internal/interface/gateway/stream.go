package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	rtapp "github.com/jinford/novelforge/internal/module/realtime/application"
	rtdomain "github.com/jinford/novelforge/internal/module/realtime/domain"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
	sendBuffer   = 32
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// streamMessage はストリームで送るフレームです
type streamMessage struct {
	Type  string                    `json:"type"` // "state" or "event"
	State *rtdomain.ConnectionState `json:"state,omitempty"`
	Event *rtdomain.Message         `json:"event,omitempty"`
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	logger := s.logger.With().Str("job_id", jobID).Logger()

	wc, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("gateway: websocket upgrade failed")
		return
	}
	defer wc.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	send := make(chan streamMessage, sendBuffer)
	enqueue := func(m streamMessage) {
		select {
		case send <- m:
		case <-ctx.Done():
		}
	}

	opts := []rtapp.FeedOption{
		rtapp.WithCapacity(s.deps.CatchupLimit),
		rtapp.WithFeedLogger(logger),
		rtapp.WithStateHandler(func(st rtdomain.ConnectionState) {
			enqueue(streamMessage{Type: "state", State: &st})
		}),
		rtapp.WithEventHandler(func(m rtdomain.Message) {
			enqueue(streamMessage{Type: "event", Event: &m})
		}),
	}
	if s.deps.Subscriber == nil {
		opts = append(opts, rtapp.WithDisabled())
	}
	feed := rtapp.NewFeed(jobID, rtapp.LogFetcher{Log: s.deps.Events}, s.deps.Subscriber, opts...)

	// フィードが終了したら残りのフレームを送ってから接続を閉じる
	feedErr := make(chan error, 1)
	go func() {
		feedErr <- feed.Run(ctx)
	}()

	// クライアントからのフレームは読み捨て、切断を検知する
	go func() {
		defer cancel()
		for {
			if _, _, err := wc.NextReader(); err != nil {
				return
			}
		}
	}()

	writeFrame := func(m streamMessage) error {
		b, err := json.Marshal(m)
		if err != nil {
			logger.Warn().Err(err).Msg("gateway: failed to marshal stream message")
			return nil
		}
		_ = wc.SetWriteDeadline(time.Now().Add(writeTimeout))
		return wc.WriteMessage(websocket.TextMessage, b)
	}
	closeWith := func(code int, reason string) {
		_ = wc.SetWriteDeadline(time.Now().Add(writeTimeout))
		_ = wc.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			closeWith(websocket.CloseNormalClosure, "")
			return
		case err := <-feedErr:
			cancel()
			for drained := false; !drained; {
				select {
				case m := <-send:
					if writeFrame(m) != nil {
						return
					}
				default:
					drained = true
				}
			}
			if err != nil {
				logger.Info().Err(err).Msg("gateway: feed stopped")
				closeWith(websocket.CloseInternalServerErr, "feed stopped")
				return
			}
			closeWith(websocket.CloseNormalClosure, "")
			return
		case m := <-send:
			if err := writeFrame(m); err != nil {
				return
			}
		case <-ticker.C:
			_ = wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := wc.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
