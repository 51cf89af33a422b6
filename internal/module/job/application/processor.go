package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jinford/novelforge/internal/module/job/domain"
)

// FailureStage は生成失敗時に記録されるステージ名です
const FailureStage = "worker-runtime"

// Delivery はキューから配送された1件のジョブです
type Delivery struct {
	ID          string
	Payload     domain.GenerationRequest
	RequestedAt time.Time
	QueueName   string
	Attempt     int

	// Progress が nil の場合は進捗を報告しません
	Progress domain.ProgressReporter
}

// JobResult は Process の結果です
type JobResult struct {
	JobID       string                `json:"jobId"`
	Status      domain.JobStatus      `json:"status"`
	Outline     []domain.OutlineEntry `json:"outline"`
	Chapters    []domain.Chapter      `json:"chapters"`
	Summary     domain.Summary        `json:"summary"`
	CompletedAt time.Time             `json:"completedAt"`
	DurationMs  int64                 `json:"durationMs"`
	Events      []domain.EventRecord  `json:"-"`

	// Replayed は完了済みジョブの再配送に対して保存済みの結果を返した場合に true です
	Replayed bool `json:"replayed"`
}

// Progress はキューへ報告する進捗です
type Progress struct {
	Status        domain.JobStatus         `json:"status"`
	Stage         string                   `json:"stage,omitempty"`
	EventsEmitted int                      `json:"eventsEmitted"`
	LastEventKind domain.EventKind         `json:"lastEventKind,omitempty"`
	Snapshot      *domain.ProgressSnapshot `json:"snapshot,omitempty"`
	UpdatedAt     time.Time                `json:"updatedAt"`
}

// ProcessorOption は Processor のオプションです
type ProcessorOption func(*Processor)

// WithPublisher はリアルタイム配信先を設定します（nil の場合は配信しません）
func WithPublisher(publisher domain.Publisher) ProcessorOption {
	return func(p *Processor) {
		p.publisher = publisher
	}
}

// WithLogger はロガーを設定します
func WithLogger(logger zerolog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithClock は時刻の取得元を差し替えます
func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) {
		p.now = now
	}
}

// Processor は1件のジョブのライフサイクルを駆動します
type Processor struct {
	backend   domain.Backend
	generator domain.Generator
	publisher domain.Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

// NewProcessor は Processor を作成します
func NewProcessor(backend domain.Backend, generator domain.Generator, opts ...ProcessorOption) *Processor {
	p := &Processor{
		backend:   backend,
		generator: generator,
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process はジョブを実行します
// 生成ケイパビリティのエラーはラップせずにそのまま返します（キューの再試行ポリシーに委ねるため）
// 永続化・リアルタイム配信・進捗報告の失敗はログに記録して処理を続行します
func (p *Processor) Process(ctx context.Context, d Delivery) (*JobResult, error) {
	r := p.newRun(d)
	defer r.drain()

	stores := p.backend.Stores()
	receivedAt := r.tick()
	r.receivedAt = receivedAt

	_, err := stores.Jobs.InitializeJob(ctx, domain.InitializeJobInput{
		JobID:       d.ID,
		Payload:     d.Payload,
		QueueName:   d.QueueName,
		RequestedAt: d.RequestedAt,
		ReceivedAt:  receivedAt,
	})
	switch {
	case errors.Is(err, domain.ErrJobCompleted):
		r.logger.Info().Msg("processor: job already completed, returning stored result")
		return p.storedResult(ctx, stores, d.ID)
	case err != nil:
		r.logger.Warn().Err(err).Str("op", "initialize_job").Msg("processor: persistence failed")
	}

	r.appendRecord(ctx, stores, domain.NewJobStatusRecord(d.ID, domain.JobStatusRunning, map[string]any{
		"queueName":   d.QueueName,
		"attempt":     d.Attempt,
		"requestedAt": d.RequestedAt,
		"receivedAt":  receivedAt,
	}, receivedAt))
	r.report(ctx, Progress{Status: domain.JobStatusRunning, Stage: "acknowledged"})

	hooks := domain.Hooks{
		Emit: func(ctx context.Context, event domain.StageEvent) {
			r.appendEvent(ctx, stores, func(at time.Time) (domain.EventRecord, error) {
				return domain.NewGenerationRecord(d.ID, event, at)
			})
			r.report(ctx, Progress{Status: domain.JobStatusRunning, Stage: event.Stage, LastEventKind: domain.EventKindGeneration})
		},
		PublishDomainEvent: func(ctx context.Context, event domain.BusinessEvent) {
			r.appendEvent(ctx, stores, func(at time.Time) (domain.EventRecord, error) {
				return domain.NewDomainRecord(d.ID, event, at)
			})
			r.report(ctx, Progress{Status: domain.JobStatusRunning, Stage: event.Type, LastEventKind: domain.EventKindDomain, Snapshot: event.Progress})
		},
		Logger: r.logger,
		Now:    p.now,
	}

	final, genErr := p.generator.Run(ctx, domain.GenerationContext{JobID: d.ID, Request: d.Payload}, hooks)
	if genErr != nil {
		p.fail(ctx, r, stores, d, genErr)
		return nil, genErr
	}
	return p.complete(ctx, r, d, final)
}

func (p *Processor) fail(ctx context.Context, r *run, stores domain.Stores, d Delivery, genErr error) {
	failedAt := r.tick()
	durationMs := failedAt.Sub(r.receivedAt).Milliseconds()
	reason := genErr.Error()

	r.logger.Error().Err(genErr).Int64("duration_ms", durationMs).Msg("processor: generation failed")

	r.appendRecord(ctx, stores, domain.NewJobStatusRecord(d.ID, domain.JobStatusFailed, map[string]any{
		"queueName":  d.QueueName,
		"attempt":    d.Attempt,
		"reason":     reason,
		"stage":      FailureStage,
		"durationMs": durationMs,
	}, failedAt))

	_, err := stores.Jobs.RecordFailure(ctx, d.ID, domain.FailureInput{
		Failure: domain.FailureRecord{
			OccurredAt: failedAt,
			Reason:     reason,
			Stage:      FailureStage,
			Metadata:   map[string]any{"attempt": d.Attempt, "queueName": d.QueueName},
		},
		CompletedAt: &failedAt,
		DurationMs:  &durationMs,
	})
	if err != nil {
		r.logger.Warn().Err(err).Str("op", "record_failure").Msg("processor: persistence failed")
	}

	err = stores.Metadata.AddContinuityAlert(ctx, d.ID, domain.ContinuityAlert{
		AlertID:  uuid.NewString(),
		Severity: domain.AlertSeverityCritical,
		Message:  fmt.Sprintf("generation failed: %s", reason),
		Context: map[string]any{
			"stage":      FailureStage,
			"reason":     reason,
			"occurredAt": failedAt,
			"attempt":    d.Attempt,
		},
		CreatedAt: failedAt,
	})
	if err != nil {
		r.logger.Warn().Err(err).Str("op", "add_continuity_alert").Msg("processor: persistence failed")
	}

	r.report(ctx, Progress{Status: domain.JobStatusFailed, Stage: FailureStage})
}

// finalization は成功時に永続化する内容です
type finalization struct {
	record    domain.EventRecord
	result    domain.GenerationResult
	delta     domain.MetricsDelta
	generated domain.GenerationContext
}

func (p *Processor) complete(ctx context.Context, r *run, d Delivery, final domain.GenerationContext) (*JobResult, error) {
	completedAt := r.tick()
	durationMs := completedAt.Sub(r.receivedAt).Milliseconds()
	summary := domain.Summarize(final.Outline, final.Chapters, d.Payload.ChapterCount)

	f := finalization{
		record: domain.NewJobStatusRecord(d.ID, domain.JobStatusCompleted, map[string]any{
			"queueName":            d.QueueName,
			"attempt":              d.Attempt,
			"chaptersGenerated":    summary.ChaptersGenerated,
			"totalChaptersPlanned": summary.TotalChaptersPlanned,
			"totalWordCount":       summary.TotalWordCount,
			"durationMs":           durationMs,
		}, completedAt),
		result: domain.GenerationResult{
			JobID:       d.ID,
			Outline:     final.Outline,
			Chapters:    final.Chapters,
			Summary:     summary,
			Engine:      final.Engine,
			CompletedAt: completedAt,
			DurationMs:  durationMs,
		},
		delta:     domain.DeltaFromGeneration(final.AnalysisUsage, final.OutlineUsage, final.Chapters),
		generated: final,
	}

	if err := p.persist(ctx, r, f); errors.Is(err, domain.ErrJobCompleted) {
		r.logger.Info().Msg("processor: job completed concurrently, returning stored result")
		return p.storedResult(ctx, p.backend.Stores(), d.ID)
	}

	r.track(f.record)
	r.publish(ctx, f.record)
	r.report(ctx, Progress{
		Status: domain.JobStatusCompleted,
		Stage:  "completed",
		Snapshot: &domain.ProgressSnapshot{
			Stage:             "completed",
			ChaptersCompleted: summary.ChaptersGenerated,
			ChaptersPlanned:   summary.TotalChaptersPlanned,
			TotalWordCount:    summary.TotalWordCount,
			Percent:           100,
		},
	})

	r.logger.Info().
		Int("chapters_generated", summary.ChaptersGenerated).
		Int("total_word_count", summary.TotalWordCount).
		Int64("duration_ms", durationMs).
		Msg("processor: job completed")

	return &JobResult{
		JobID:       d.ID,
		Status:      domain.JobStatusCompleted,
		Outline:     final.Outline,
		Chapters:    final.Chapters,
		Summary:     summary,
		CompletedAt: completedAt,
		DurationMs:  durationMs,
		Events:      r.snapshotEvents(),
	}, nil
}

// persist は成功時の書き込みを行います
// トランザクション対応の Backend ではすべてを1トランザクションで書き込み、
// 失敗した場合はロールバック後にトランザクションなしで全体を再実行します
// 返すエラーは ErrJobCompleted のみで、それ以外はログに記録します
func (p *Processor) persist(ctx context.Context, r *run, f finalization) error {
	if tb, ok := p.backend.(domain.TransactionalBackend); ok {
		err := tb.Transact(ctx, func(s domain.Stores) error {
			return p.writeFinal(ctx, r, s, f, true)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrJobCompleted) {
			return err
		}
		r.logger.Warn().Err(err).Msg("processor: transactional persistence failed, falling back to sequential writes")
	}
	return p.writeFinal(ctx, r, p.backend.Stores(), f, false)
}

// writeFinal は成功時の書き込みシーケンスです
// strict の場合は最初のエラーで中断し、そうでなければログに記録して続行します
func (p *Processor) writeFinal(ctx context.Context, r *run, s domain.Stores, f finalization, strict bool) error {
	jobID := f.result.JobID
	check := func(op string, err error) error {
		if err == nil {
			return nil
		}
		if strict {
			return fmt.Errorf("failed to %s: %w", op, err)
		}
		r.logger.Warn().Err(err).Str("op", op).Msg("processor: persistence failed")
		return nil
	}

	if s.Locks != nil {
		if err := check("acquire job lock", s.Locks.AcquireJobLock(ctx, jobID)); err != nil {
			return err
		}
	}

	_, err := s.Jobs.SaveGenerationResult(ctx, f.result)
	if errors.Is(err, domain.ErrJobCompleted) {
		// 完了レコードは既に存在するので、イベントとメトリクスを重複させない
		return err
	}
	if err := check("save generation result", err); err != nil {
		return err
	}

	_, err = s.Events.Append(ctx, f.record)
	if err := check("append completed event", err); err != nil {
		return err
	}

	if !f.delta.IsZero() {
		if err := check("increment costs", s.Metrics.IncrementCosts(ctx, jobID, f.delta.Cost)); err != nil {
			return err
		}
		if err := check("increment tokens", s.Metrics.IncrementTokens(ctx, jobID, f.delta.Tokens)); err != nil {
			return err
		}
		if err := check("update latency", s.Metrics.UpdateLatency(ctx, jobID, f.delta.Latency)); err != nil {
			return err
		}
	}

	if !f.generated.StoryBible.IsEmpty() {
		_, err := s.Metadata.UpsertStoryBible(ctx, jobID, f.generated.StoryBible)
		if err := check("upsert story bible", err); err != nil {
			return err
		}
	}
	// newest-first で保持されるため、発生順に追加する
	for _, decision := range f.generated.Decisions {
		if err := check("append ai decision", s.Metadata.AppendAIDecision(ctx, jobID, decision)); err != nil {
			return err
		}
	}
	for _, alert := range f.generated.Alerts {
		if err := check("add continuity alert", s.Metadata.AddContinuityAlert(ctx, jobID, alert)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) storedResult(ctx context.Context, stores domain.Stores, jobID string) (*JobResult, error) {
	job, err := stores.Jobs.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load completed job: %w", err)
	}

	res := &JobResult{
		JobID:    job.ID,
		Status:   job.Status,
		Outline:  job.Outline,
		Chapters: job.Chapters,
		Replayed: true,
	}
	if job.Summary != nil {
		res.Summary = *job.Summary
	}
	if job.CompletedAt != nil {
		res.CompletedAt = *job.CompletedAt
	}
	if job.DurationMs != nil {
		res.DurationMs = *job.DurationMs
	}
	return res, nil
}
