package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	jobapp "github.com/jinford/novelforge/internal/module/job/application"
	jobdomain "github.com/jinford/novelforge/internal/module/job/domain"
	"github.com/jinford/novelforge/internal/module/queue/domain"
)

// JobProcessor は配送されたジョブを1件処理します
type JobProcessor interface {
	Process(ctx context.Context, d jobapp.Delivery) (*jobapp.JobResult, error)
}

// Config はワーカーの設定です
type Config struct {
	QueueName    string
	WorkerID     string
	Concurrency  int
	PollInterval time.Duration
	Lease        time.Duration
	// Heartbeat は処理中にリースを延長する間隔です（既定は Lease の1/3）
	Heartbeat time.Duration
	Retry     domain.RetryPolicy
}

// WorkerOption は Worker のオプションです
type WorkerOption func(*Worker)

// WithLogger はロガーを設定します
func WithLogger(logger zerolog.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = logger
	}
}

// WithClock は時刻の取得元を差し替えます
func WithClock(now func() time.Time) WorkerOption {
	return func(w *Worker) {
		w.now = now
	}
}

// Worker はキューからジョブを取得して Processor に渡し、結果に応じて完了・再試行・デッドレターにします
type Worker struct {
	queue     domain.Queue
	processor JobProcessor
	cfg       Config
	logger    zerolog.Logger
	now       func() time.Time
}

// NewWorker は Worker を作成します
func NewWorker(queue domain.Queue, processor JobProcessor, cfg Config, opts ...WorkerOption) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 15 * time.Minute
	}
	if cfg.Heartbeat <= 0 || cfg.Heartbeat >= cfg.Lease {
		cfg.Heartbeat = cfg.Lease / 3
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = domain.DefaultRetryPolicy()
	}
	w := &Worker{
		queue:     queue,
		processor: processor,
		cfg:       cfg,
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With().Str("component", "worker").Str("queue", cfg.QueueName).Logger()
	return w
}

// Run は ctx がキャンセルされるまで Concurrency 本のループでジョブを処理します
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().Int("concurrency", w.cfg.Concurrency).Msg("worker: started")

	g, ctx := errgroup.WithContext(ctx)
	for i := range w.cfg.Concurrency {
		slot := i
		g.Go(func() error {
			return w.loop(ctx, slot)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	w.logger.Info().Msg("worker: stopped")
	return err
}

func (w *Worker) loop(ctx context.Context, slot int) error {
	logger := w.logger.With().Int("slot", slot).Logger()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		handled, err := w.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("worker: failed to claim job")
		}
		if handled {
			timer.Reset(0)
			continue
		}
		timer.Reset(w.cfg.PollInterval)
	}
}

// RunOnce は1件取得して処理します
// 取得できるジョブがなかった場合は false を返します
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.queue.Claim(ctx, domain.ClaimInput{
		QueueName: w.cfg.QueueName,
		WorkerID:  w.cfg.WorkerID,
		Lease:     w.cfg.Lease,
	})
	if err != nil {
		if errors.Is(err, domain.ErrQueueEmpty) {
			return false, nil
		}
		return false, err
	}

	w.handle(ctx, job)
	return true, nil
}

func (w *Worker) handle(ctx context.Context, job *domain.QueuedJob) {
	logger := w.logger.With().Str("job_id", job.ID).Int("attempt", job.Attempts).Logger()
	logger.Info().Msg("worker: picked job")

	var req jobdomain.GenerationRequest
	if err := json.Unmarshal(job.Payload, &req); err != nil {
		w.deadLetter(ctx, logger, job, fmt.Errorf("decode payload: %w", err))
		return
	}
	if err := req.Validate(); err != nil {
		w.deadLetter(ctx, logger, job, err)
		return
	}

	lease := job.Lease()
	jobCtx, cancel := context.WithCancel(ctx)
	lost := w.keepLease(jobCtx, logger, lease, cancel)
	result, err := w.processor.Process(jobCtx, jobapp.Delivery{
		ID:          job.ID,
		Payload:     req,
		RequestedAt: job.RequestedAt,
		QueueName:   job.QueueName,
		Attempt:     job.Attempts,
		Progress:    progressReporter{queue: w.queue, lease: lease},
	})
	cancel()
	if <-lost {
		// 再取得したワーカーに結果の確定を委ねる
		logger.Warn().Err(err).Msg("worker: lease lost, abandoning job")
		return
	}
	if err != nil {
		if ctx.Err() != nil {
			// リースの失効後に他のワーカーが再取得する
			logger.Warn().Err(err).Msg("worker: interrupted by shutdown")
			return
		}
		if w.cfg.Retry.Exhausted(job.Attempts, job.MaxAttempts) {
			w.deadLetter(ctx, logger, job, err)
			return
		}
		delay := w.cfg.Retry.Backoff(job.Attempts)
		if rErr := w.queue.Retry(ctx, lease, err.Error(), w.now().Add(delay)); rErr != nil {
			logger.Error().Err(rErr).Msg("worker: failed to schedule retry")
			return
		}
		logger.Warn().Err(err).Dur("backoff", delay).Msg("worker: job failed, retry scheduled")
		return
	}

	if err := w.queue.Complete(ctx, lease); err != nil {
		logger.Error().Err(err).Msg("worker: failed to mark job completed")
		return
	}
	logger.Info().
		Bool("replayed", result.Replayed).
		Int64("duration_ms", result.DurationMs).
		Msg("worker: job completed")
}

func (w *Worker) deadLetter(ctx context.Context, logger zerolog.Logger, job *domain.QueuedJob, cause error) {
	if err := w.queue.DeadLetter(ctx, job.Lease(), cause.Error()); err != nil {
		logger.Error().Err(err).Msg("worker: failed to dead-letter job")
		return
	}
	logger.Error().Err(cause).Msg("worker: job dead-lettered")
}

// keepLease は ctx が終わるまで Heartbeat ごとにリースを延長します
// リースを失った場合は cancel で処理を打ち切り、返すチャネルに true を送ります
func (w *Worker) keepLease(ctx context.Context, logger zerolog.Logger, lease domain.Lease, cancel context.CancelFunc) <-chan bool {
	lost := make(chan bool, 1)
	go func() {
		ticker := time.NewTicker(w.cfg.Heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				lost <- false
				return
			case <-ticker.C:
			}
			err := w.queue.Extend(ctx, lease, w.cfg.Lease)
			switch {
			case errors.Is(err, domain.ErrLeaseLost):
				logger.Error().Err(err).Msg("worker: lease taken over by another worker")
				cancel()
				lost <- true
				return
			case err != nil && ctx.Err() == nil:
				logger.Warn().Err(err).Msg("worker: failed to extend lease")
			}
		}
	}()
	return lost
}

// progressReporter はジョブの進捗をキューの progress 列へ保存します
type progressReporter struct {
	queue domain.Queue
	lease domain.Lease
}

var _ jobdomain.ProgressReporter = progressReporter{}

func (p progressReporter) ReportProgress(ctx context.Context, jobID string, progress any) error {
	raw, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}
	if jobID != p.lease.JobID {
		return fmt.Errorf("progress for unexpected job %q", jobID)
	}
	return p.queue.ReportProgress(ctx, p.lease, raw)
}
