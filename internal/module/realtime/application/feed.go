package application

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	jobdomain "github.com/jinford/novelforge/internal/module/job/domain"
	"github.com/jinford/novelforge/internal/module/realtime/domain"
	"github.com/jinford/novelforge/pkg/ring"
)

// DefaultFeedCapacity はクライアントが保持する最新イベント数です
const DefaultFeedCapacity = 50

// ErrStreamClosed はライブ購読が閉じられた場合のエラー
var ErrStreamClosed = errors.New("realtime stream closed")

// Fetcher は newest-first のイベントページを取得します
type Fetcher interface {
	Fetch(ctx context.Context, jobID string, limit int) ([]domain.Message, error)
}

// Stream はライブ購読です
type Stream interface {
	Updates() <-chan domain.Update
	Close() error
}

// Subscriber はジョブのライブ購読を開始します
type Subscriber interface {
	Subscribe(ctx context.Context, jobID string) (Stream, error)
}

// LogFetcher はイベントログを Fetcher として扱うアダプタです
type LogFetcher struct {
	Log jobdomain.EventLogReader
}

// Fetch はイベントログの最新ページをメッセージに変換して返します
func (f LogFetcher) Fetch(ctx context.Context, jobID string, limit int) ([]domain.Message, error) {
	records, err := f.Log.List(ctx, jobID, jobdomain.ListOptions{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}
	return domain.FromRecords(records), nil
}

// FeedOption は Feed のオプションです
type FeedOption func(*Feed)

// WithCapacity は保持するイベント数を設定します
func WithCapacity(n int) FeedOption {
	return func(f *Feed) {
		if n > 0 {
			f.capacity = n
		}
	}
}

// WithDisabled はリアルタイム配信を無効にします
func WithDisabled() FeedOption {
	return func(f *Feed) {
		f.disabled = true
	}
}

// WithStateHandler は接続状態が変わるたびに呼ばれる関数を設定します
func WithStateHandler(fn func(domain.ConnectionState)) FeedOption {
	return func(f *Feed) {
		f.onState = fn
	}
}

// WithEventHandler は新しいイベントを取り込むたびに呼ばれる関数を設定します
func WithEventHandler(fn func(domain.Message)) FeedOption {
	return func(f *Feed) {
		f.onEvent = fn
	}
}

// WithFeedLogger はロガーを設定します
func WithFeedLogger(logger zerolog.Logger) FeedOption {
	return func(f *Feed) {
		f.logger = logger.With().Str("component", "feed").Logger()
	}
}

// WithFeedClock は時刻の取得元を設定します
func WithFeedClock(now func() time.Time) FeedOption {
	return func(f *Feed) {
		f.now = now
	}
}

// Feed は1ジョブ分のイベントをキャッチアップとライブ購読で追跡します
type Feed struct {
	jobID      string
	fetcher    Fetcher
	subscriber Subscriber
	capacity   int
	disabled   bool
	onState    func(domain.ConnectionState)
	onEvent    func(domain.Message)
	logger     zerolog.Logger
	now        func() time.Time

	mu    sync.Mutex
	state domain.ConnectionState
	buf   *ring.Buffer[domain.Message]
	seen  map[string]struct{}
}

// NewFeed は Feed を作成します
func NewFeed(jobID string, fetcher Fetcher, subscriber Subscriber, opts ...FeedOption) *Feed {
	f := &Feed{
		jobID:      jobID,
		fetcher:    fetcher,
		subscriber: subscriber,
		capacity:   DefaultFeedCapacity,
		logger:     zerolog.Nop(),
		now:        time.Now,
		state:      domain.ConnectionState{Status: domain.StatusIdle},
	}
	for _, opt := range opts {
		opt(f)
	}
	f.buf = ring.New[domain.Message](f.capacity)
	f.seen = make(map[string]struct{}, f.capacity)
	return f
}

// State は現在の接続状態を返します
func (f *Feed) State() domain.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Events は保持しているイベントを emittedAt の新しい順に返します
func (f *Feed) Events() []domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buf.Items()
}

// Run は購読を開始し、ctx が終了するまでイベントを取り込みます
// 無効化されている場合は合成イベントを1件だけ保持して ctx の終了を待ちます
func (f *Feed) Run(ctx context.Context) error {
	if f.disabled || f.subscriber == nil {
		f.merge([]domain.Message{domain.DisabledPlaceholder(f.jobID, f.now())})
		f.setState(domain.ConnectionState{Status: domain.StatusDisabled})
		<-ctx.Done()
		return nil
	}

	f.setState(domain.ConnectionState{Status: domain.StatusConnecting})
	stream, err := f.subscriber.Subscribe(ctx, f.jobID)
	if err != nil {
		f.setError(err)
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer stream.Close()

	// 購読開始後に取得するため、その間のイベントを取りこぼさない
	if err := f.refetch(ctx); err != nil {
		f.setError(err)
	} else {
		f.setState(domain.ConnectionState{Status: domain.StatusConnected})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-stream.Updates():
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				f.setError(ErrStreamClosed)
				return ErrStreamClosed
			}
			f.handle(ctx, u)
		}
	}
}

func (f *Feed) handle(ctx context.Context, u domain.Update) {
	switch {
	case u.Err != nil:
		f.setError(u.Err)
	case u.Reconnected:
		f.setState(domain.ConnectionState{Status: domain.StatusConnecting})
		if err := f.refetch(ctx); err != nil {
			f.setError(err)
			return
		}
		f.setState(domain.ConnectionState{Status: domain.StatusConnected})
	case u.Message != nil:
		if u.Message.Truncated {
			// 本体はキャッチアップで取得する
			if err := f.refetch(ctx); err != nil {
				f.setError(err)
				return
			}
		} else {
			f.merge([]domain.Message{*u.Message})
		}
		f.setState(domain.ConnectionState{Status: domain.StatusConnected})
	}
}

func (f *Feed) refetch(ctx context.Context) error {
	messages, err := f.fetcher.Fetch(ctx, f.jobID, f.capacity)
	if err != nil {
		return err
	}
	f.merge(messages)
	return nil
}

// merge はIDで重複を除いてイベントを取り込みます
func (f *Feed) merge(messages []domain.Message) {
	var added []domain.Message

	f.mu.Lock()
	for _, m := range messages {
		if _, ok := f.seen[m.ID]; ok || m.Truncated {
			continue
		}
		added = append(added, m)
	}
	if len(added) == 0 {
		f.mu.Unlock()
		return
	}

	items := f.buf.Items()
	if len(added) == 1 && (len(items) == 0 || !added[0].EmittedAt.Before(items[0].EmittedAt)) {
		f.seen[added[0].ID] = struct{}{}
		for _, evicted := range f.buf.Push(added[0]) {
			delete(f.seen, evicted.ID)
		}
	} else {
		items = append(items, added...)
		slices.SortStableFunc(items, func(a, b domain.Message) int {
			return b.EmittedAt.Compare(a.EmittedAt)
		})
		f.buf = ring.FromSlice(items, f.capacity)
		clear(f.seen)
		for _, m := range f.buf.Items() {
			f.seen[m.ID] = struct{}{}
		}
		added = slices.DeleteFunc(added, func(m domain.Message) bool {
			_, kept := f.seen[m.ID]
			return !kept
		})
	}
	f.mu.Unlock()

	if f.onEvent == nil {
		return
	}
	// 古い順に通知する
	slices.SortStableFunc(added, func(a, b domain.Message) int {
		return a.EmittedAt.Compare(b.EmittedAt)
	})
	for _, m := range added {
		f.onEvent(m)
	}
}

func (f *Feed) setError(err error) {
	f.logger.Warn().Err(err).Str("job_id", f.jobID).Msg("feed: error")
	f.setState(domain.ConnectionState{Status: domain.StatusError, Message: err.Error()})
}

func (f *Feed) setState(s domain.ConnectionState) {
	f.mu.Lock()
	changed := f.state != s
	f.state = s
	f.mu.Unlock()

	if changed && f.onState != nil {
		f.onState(s)
	}
}
