package application

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jinford/novelforge/internal/module/realtime/domain"
)

// DefaultSubscriberBuffer は購読者ごとの既定のバッファ長です
const DefaultSubscriberBuffer = 64

// Notification はチャネルから届いた生の通知です
type Notification struct {
	Payload     []byte
	Reconnected bool
}

// Source はチャネル通知の供給元です
type Source interface {
	// Notifications は ctx が終了するまで通知を流し、終了時にチャネルを閉じます
	Notifications(ctx context.Context) <-chan Notification
}

// Hub は1つの通知ソースをジョブごとの購読者へ振り分けます
type Hub struct {
	source Source
	buffer int
	logger zerolog.Logger

	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	closed bool
}

var _ Subscriber = (*Hub)(nil)

// HubOption は Hub のオプションです
type HubOption func(*Hub)

// WithSubscriberBuffer は購読者ごとのバッファ長を設定します
func WithSubscriberBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithHubLogger はロガーを設定します
func WithHubLogger(logger zerolog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = logger.With().Str("component", "hub").Logger()
	}
}

// NewHub は Hub を作成します
func NewHub(source Source, opts ...HubOption) *Hub {
	h := &Hub{
		source: source,
		buffer: DefaultSubscriberBuffer,
		logger: zerolog.Nop(),
		subs:   make(map[string]map[*Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run は ctx が終了するか、ソースが閉じるまで通知を配信します
// 終了時にはすべての購読を閉じます
func (h *Hub) Run(ctx context.Context) error {
	defer h.closeAll()

	for n := range h.source.Notifications(ctx) {
		if n.Reconnected {
			h.logger.Info().Msg("hub: source reconnected, asking subscribers to re-fetch")
			h.broadcast(domain.Update{Reconnected: true})
			continue
		}

		msg, err := domain.Decode(n.Payload)
		if err != nil {
			h.logger.Warn().Err(err).Msg("hub: dropping undecodable notification")
			continue
		}
		h.dispatch(msg.JobID, domain.Update{Message: &msg})
	}
	return ctx.Err()
}

// Subscribe はジョブの購読を開始します
func (h *Hub) Subscribe(_ context.Context, jobID string) (Stream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &Subscription{hub: h, jobID: jobID, ch: make(chan domain.Update, h.buffer)}
	if h.closed {
		close(sub.ch)
		sub.done = true
		return sub, nil
	}
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[*Subscription]struct{})
	}
	h.subs[jobID][sub] = struct{}{}
	return sub, nil
}

// Subscribers はジョブの購読者数を返します
func (h *Hub) Subscribers(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[jobID])
}

func (h *Hub) dispatch(jobID string, u domain.Update) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[jobID] {
		h.offer(sub, u)
	}
}

func (h *Hub) broadcast(u domain.Update) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, subs := range h.subs {
		for sub := range subs {
			h.offer(sub, u)
		}
	}
}

// offer はバッファが満杯の場合に通知を破棄します
func (h *Hub) offer(sub *Subscription, u domain.Update) {
	select {
	case sub.ch <- u:
	default:
		h.logger.Warn().Str("job_id", sub.jobID).Msg("hub: subscriber buffer full, dropping update")
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub.done {
		return
	}
	sub.done = true
	close(sub.ch)
	if subs := h.subs[sub.jobID]; subs != nil {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.subs, sub.jobID)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for jobID, subs := range h.subs {
		for sub := range subs {
			sub.done = true
			close(sub.ch)
		}
		delete(h.subs, jobID)
	}
}

// Subscription は1ジョブ分の購読です
type Subscription struct {
	hub   *Hub
	jobID string
	ch    chan domain.Update
	done  bool // hub.mu で保護
}

// Updates は通知を受け取るチャネルを返します。購読終了時に閉じられます
func (s *Subscription) Updates() <-chan domain.Update {
	return s.ch
}

// Close は購読を終了します
func (s *Subscription) Close() error {
	s.hub.remove(s)
	return nil
}
