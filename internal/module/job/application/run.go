package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jinford/novelforge/internal/module/job/domain"
)

// run は1回の Process 実行に閉じた状態です
type run struct {
	jobID     string
	logger    zerolog.Logger
	publisher domain.Publisher
	progress  domain.ProgressReporter
	now       func() time.Time

	receivedAt time.Time

	// emitMu は追記順とバッファ順を一致させます
	emitMu sync.Mutex

	mu     sync.Mutex
	last   time.Time
	events []domain.EventRecord

	// 進捗は1本のゴルーチンが順に書き込み、未送信分は最新の1件にまとめます
	reportMu   sync.Mutex
	pending    *pendingReport
	wake       chan struct{}
	reportDone chan struct{}
	started    bool
	closed     bool
}

type pendingReport struct {
	ctx      context.Context
	progress Progress
}

func (p *Processor) newRun(d Delivery) *run {
	return &run{
		jobID:     d.ID,
		logger:    p.logger.With().Str("component", "processor").Str("job_id", d.ID).Int("attempt", d.Attempt).Logger(),
		publisher: p.publisher,
		progress:  d.Progress,
		now:       p.now,
	}
}

// tick はジョブ内で単調増加する時刻を返します（マイクロ秒精度）
func (r *run) tick() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.now().UTC().Truncate(time.Microsecond)
	if !t.After(r.last) {
		t = r.last.Add(time.Microsecond)
	}
	r.last = t
	return t
}

func (r *run) track(rec domain.EventRecord) {
	r.mu.Lock()
	r.events = append(r.events, rec)
	r.mu.Unlock()
}

func (r *run) snapshotEvents() []domain.EventRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventRecord, len(r.events))
	copy(out, r.events)
	return out
}

func (r *run) eventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// appendEvent は時刻を採番してレコードを作成し、バッファ・イベントログ・配信の順に流します
func (r *run) appendEvent(ctx context.Context, stores domain.Stores, build func(at time.Time) (domain.EventRecord, error)) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	rec, err := build(r.tick())
	if err != nil {
		r.logger.Warn().Err(err).Msg("processor: failed to serialize event")
		return
	}
	r.write(ctx, stores, rec)
}

// appendRecord は作成済みのレコードをバッファ・イベントログ・配信の順に流します
func (r *run) appendRecord(ctx context.Context, stores domain.Stores, rec domain.EventRecord) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	r.write(ctx, stores, rec)
}

func (r *run) write(ctx context.Context, stores domain.Stores, rec domain.EventRecord) {
	r.track(rec)
	if _, err := stores.Events.Append(ctx, rec); err != nil {
		r.logger.Warn().Err(err).
			Str("op", "append_event").
			Str("event_kind", string(rec.Kind())).
			Str("event_id", rec.ID.String()).
			Msg("processor: persistence failed")
	}
	r.publish(ctx, rec)
}

// publish は配信の失敗（panic を含む）を呼び出し元へ伝播させません
func (r *run) publish(ctx context.Context, rec domain.EventRecord) {
	if r.publisher == nil {
		return
	}
	defer func() {
		if v := recover(); v != nil {
			r.logger.Warn().Str("panic", fmt.Sprint(v)).Str("event_id", rec.ID.String()).Msg("processor: realtime publish panicked")
		}
	}()
	r.publisher.Publish(ctx, rec)
}

// report は進捗をバックグラウンドで報告します
// 報告は発行順に1件ずつ書き込まれ、書き込み中に溜まった古い報告は最新のものに置き換えられます
// 完了は待たず、drain で Process の終了前に残りを書き込みます
func (r *run) report(ctx context.Context, progress Progress) {
	if r.progress == nil {
		return
	}
	progress.EventsEmitted = r.eventCount()
	progress.UpdatedAt = r.now()

	r.reportMu.Lock()
	defer r.reportMu.Unlock()
	if r.closed {
		return
	}
	r.pending = &pendingReport{ctx: ctx, progress: progress}
	if !r.started {
		r.started = true
		r.wake = make(chan struct{}, 1)
		r.reportDone = make(chan struct{})
		go r.reportLoop()
	}
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *run) reportLoop() {
	defer close(r.reportDone)
	for range r.wake {
		for {
			r.reportMu.Lock()
			next := r.pending
			r.pending = nil
			r.reportMu.Unlock()
			if next == nil {
				break
			}
			r.send(next.ctx, next.progress)
		}
	}
}

func (r *run) send(ctx context.Context, progress Progress) {
	defer func() {
		if v := recover(); v != nil {
			r.logger.Warn().Str("panic", fmt.Sprint(v)).Msg("processor: progress report panicked")
		}
	}()
	if err := r.progress.ReportProgress(ctx, r.jobID, progress); err != nil {
		r.logger.Warn().Err(err).Str("stage", progress.Stage).Msg("processor: failed to report progress")
	}
}

// drain は以降の報告を受け付けず、未送信の報告が書き込まれるまで待ちます
func (r *run) drain() {
	r.reportMu.Lock()
	r.closed = true
	started := r.started
	if started {
		close(r.wake)
	}
	r.reportMu.Unlock()

	if started {
		<-r.reportDone
	}
}
