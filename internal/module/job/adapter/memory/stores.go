package memory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/jinford/novelforge/internal/module/job/domain"
)

var (
	_ domain.EventLog           = (*EventLog)(nil)
	_ domain.JobRepository      = (*JobRepository)(nil)
	_ domain.MetricsRepository  = (*MetricsRepository)(nil)
	_ domain.MetadataRepository = (*MetadataRepository)(nil)
)

func newStores(ex executor, now func() time.Time) domain.Stores {
	return domain.Stores{
		Events:   &EventLog{ex: ex, now: now},
		Jobs:     &JobRepository{ex: ex, now: now},
		Metrics:  &MetricsRepository{ex: ex, now: now},
		Metadata: &MetadataRepository{ex: ex, now: now},
	}
}

// EventLog はメモリ上のイベントログです
type EventLog struct {
	ex  executor
	now func() time.Time
}

// Append はレコードを追記します（同じIDは無視）
func (r *EventLog) Append(ctx context.Context, record domain.EventRecord) (domain.EventRecord, error) {
	if record.Body == nil {
		return domain.EventRecord{}, fmt.Errorf("failed to append event: %w", domain.ErrUnknownEventKind)
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.EmittedAt.IsZero() {
		record.EmittedAt = r.now()
	}
	record.EmittedAt = record.EmittedAt.UTC().Truncate(time.Microsecond)

	err := r.ex.write(func(st *state) error {
		if _, dup := st.eventIDs[record.ID]; dup {
			return nil
		}
		st.seq++
		st.eventIDs[record.ID] = struct{}{}
		st.events[record.JobID] = append(st.events[record.JobID], storedEvent{seq: st.seq, record: record})
		return nil
	})
	if err != nil {
		return domain.EventRecord{}, err
	}
	return record, nil
}

// List は newest-first でイベントを返します
func (r *EventLog) List(ctx context.Context, jobID string, opts domain.ListOptions) ([]domain.EventRecord, error) {
	opts = opts.Normalize()

	var matched []storedEvent
	r.ex.read(func(st *state) {
		for _, ev := range st.events[jobID] {
			if opts.Before != nil && !ev.record.EmittedAt.Before(*opts.Before) {
				continue
			}
			matched = append(matched, ev)
		}
	})

	slices.SortFunc(matched, func(a, b storedEvent) int {
		if c := b.record.EmittedAt.Compare(a.record.EmittedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.seq, a.seq)
	})

	if len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	out := make([]domain.EventRecord, len(matched))
	for i, ev := range matched {
		out[i] = ev.record
	}
	return out, nil
}

// JobRepository はメモリ上のジョブ集約ストアです
type JobRepository struct {
	ex  executor
	now func() time.Time
}

// Get はジョブを取得します
func (r *JobRepository) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	var job *domain.Job
	r.ex.read(func(st *state) {
		if j, ok := st.jobs[jobID]; ok {
			job = cloneJob(j)
		}
	})
	if job == nil {
		return nil, domain.ErrJobNotFound
	}
	return job, nil
}

// InitializeJob はジョブを running で初期化します
func (r *JobRepository) InitializeJob(ctx context.Context, input domain.InitializeJobInput) (*domain.Job, error) {
	now := r.now()
	var out *domain.Job
	err := r.ex.write(func(st *state) error {
		j, ok := st.jobs[input.JobID]
		if !ok {
			j = &domain.Job{ID: input.JobID, CreatedAt: now, Failures: []domain.FailureRecord{}}
			st.jobs[input.JobID] = j
		}
		if j.Status == domain.JobStatusCompleted {
			return domain.ErrJobCompleted
		}
		if !j.Status.CanTransitionTo(domain.JobStatusRunning) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, j.Status, domain.JobStatusRunning)
		}

		requestedAt := input.RequestedAt
		receivedAt := input.ReceivedAt
		j.Status = domain.JobStatusRunning
		j.Payload = input.Payload
		j.QueueName = input.QueueName
		j.RequestedAt = &requestedAt
		j.ReceivedAt = &receivedAt
		j.Outline = []domain.OutlineEntry{}
		j.Chapters = []domain.Chapter{}
		j.Summary = nil
		j.Engine = nil
		j.CompletedAt = nil
		j.DurationMs = nil
		j.UpdatedAt = now
		out = cloneJob(j)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SaveGenerationResult はジョブを completed にし、生成結果を保存します
func (r *JobRepository) SaveGenerationResult(ctx context.Context, result domain.GenerationResult) (*domain.Job, error) {
	now := r.now()
	var out *domain.Job
	err := r.ex.write(func(st *state) error {
		j, ok := st.jobs[result.JobID]
		if !ok {
			return domain.ErrJobNotFound
		}
		if j.Status == domain.JobStatusCompleted {
			return domain.ErrJobCompleted
		}
		if !j.Status.CanTransitionTo(domain.JobStatusCompleted) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, j.Status, domain.JobStatusCompleted)
		}

		summary := result.Summary
		completedAt := result.CompletedAt
		duration := result.DurationMs
		j.Status = domain.JobStatusCompleted
		j.Outline = slices.Clone(result.Outline)
		j.Chapters = cloneChapters(result.Chapters)
		j.Summary = &summary
		j.Engine = maps.Clone(result.Engine)
		j.CompletedAt = &completedAt
		j.DurationMs = &duration
		j.UpdatedAt = now
		out = cloneJob(j)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecordFailure はジョブを failed にし、失敗履歴を追記します
func (r *JobRepository) RecordFailure(ctx context.Context, jobID string, input domain.FailureInput) (*domain.Job, error) {
	now := r.now()
	var out *domain.Job
	err := r.ex.write(func(st *state) error {
		j, ok := st.jobs[jobID]
		if !ok {
			return domain.ErrJobNotFound
		}
		if j.Status == domain.JobStatusCompleted {
			return domain.ErrJobCompleted
		}

		j.Status = domain.JobStatusFailed
		j.Failures = append(slices.Clone(j.Failures), input.Failure)
		if input.CompletedAt != nil {
			at := *input.CompletedAt
			j.CompletedAt = &at
		}
		if input.DurationMs != nil {
			d := *input.DurationMs
			j.DurationMs = &d
		}
		j.UpdatedAt = now
		out = cloneJob(j)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MetricsRepository はメモリ上のメトリクスストアです
type MetricsRepository struct {
	ex  executor
	now func() time.Time
}

// Get はメトリクスを返します（未記録の場合はゼロ値）
func (r *MetricsRepository) Get(ctx context.Context, jobID string) (*domain.Metrics, error) {
	out := &domain.Metrics{JobID: jobID}
	r.ex.read(func(st *state) {
		if m, ok := st.metrics[jobID]; ok {
			*out = *m
		}
	})
	return out, nil
}

func (r *MetricsRepository) update(jobID string, fn func(m *domain.Metrics)) error {
	now := r.now()
	return r.ex.write(func(st *state) error {
		m, ok := st.metrics[jobID]
		if !ok {
			m = &domain.Metrics{JobID: jobID}
			st.metrics[jobID] = m
		}
		fn(m)
		m.UpdatedAt = now
		return nil
	})
}

// IncrementCosts はコストを加算します
func (r *MetricsRepository) IncrementCosts(ctx context.Context, jobID string, delta domain.CostBreakdown) error {
	return r.update(jobID, func(m *domain.Metrics) { m.Cost = m.Cost.Add(delta) })
}

// IncrementTokens はトークン数を加算します
func (r *MetricsRepository) IncrementTokens(ctx context.Context, jobID string, delta domain.TokenBreakdown) error {
	return r.update(jobID, func(m *domain.Metrics) { m.Tokens = m.Tokens.Add(delta) })
}

// UpdateLatency はレイテンシを加算します
func (r *MetricsRepository) UpdateLatency(ctx context.Context, jobID string, delta domain.LatencyBreakdown) error {
	return r.update(jobID, func(m *domain.Metrics) { m.LatencyMs = m.LatencyMs.Add(delta) })
}

// Reset はすべてのカウンタをゼロに戻します
func (r *MetricsRepository) Reset(ctx context.Context, jobID string) error {
	return r.update(jobID, func(m *domain.Metrics) {
		*m = domain.Metrics{JobID: jobID}
	})
}

// MetadataRepository はメモリ上のメタデータストアです
type MetadataRepository struct {
	ex  executor
	now func() time.Time
}

// Get はメタデータを返します（未記録の場合は空）
func (r *MetadataRepository) Get(ctx context.Context, jobID string) (*domain.Metadata, error) {
	out := &domain.Metadata{JobID: jobID, StoryBible: domain.StoryBible{}.Apply(domain.StoryBiblePatch{})}
	r.ex.read(func(st *state) {
		if md, ok := st.metadata[jobID]; ok {
			out = cloneMetadata(md)
		}
	})
	return out, nil
}

func (r *MetadataRepository) update(jobID string, fn func(md *domain.Metadata) error) error {
	now := r.now()
	return r.ex.write(func(st *state) error {
		md, ok := st.metadata[jobID]
		if !ok {
			md = &domain.Metadata{JobID: jobID}
		}
		next := cloneMetadata(md)
		if err := fn(next); err != nil {
			return err
		}
		next.UpdatedAt = now
		st.metadata[jobID] = next
		return nil
	})
}

// UpsertStoryBible はストーリーバイブルにパッチをマージします
func (r *MetadataRepository) UpsertStoryBible(ctx context.Context, jobID string, patch domain.StoryBiblePatch) (*domain.StoryBible, error) {
	var out domain.StoryBible
	err := r.update(jobID, func(md *domain.Metadata) error {
		md.StoryBible = md.StoryBible.Apply(patch)
		out = md.StoryBible.Apply(domain.StoryBiblePatch{})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AddContinuityAlert はアラートを先頭に追加します
func (r *MetadataRepository) AddContinuityAlert(ctx context.Context, jobID string, alert domain.ContinuityAlert) error {
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = r.now()
	}
	return r.update(jobID, func(md *domain.Metadata) error {
		md.ContinuityAlerts = domain.PushAlert(md.ContinuityAlerts, alert)
		return nil
	})
}

// ResolveContinuityAlert はアラートを解決済みにします
func (r *MetadataRepository) ResolveContinuityAlert(ctx context.Context, jobID, alertID string) error {
	at := r.now()
	return r.update(jobID, func(md *domain.Metadata) error {
		alerts, err := domain.ResolveAlert(md.ContinuityAlerts, alertID, at)
		if err != nil {
			return err
		}
		md.ContinuityAlerts = alerts
		return nil
	})
}

// AppendAIDecision はAI判断を先頭に追加します
func (r *MetadataRepository) AppendAIDecision(ctx context.Context, jobID string, decision domain.AIDecision) error {
	if decision.DecidedAt.IsZero() {
		decision.DecidedAt = r.now()
	}
	return r.update(jobID, func(md *domain.Metadata) error {
		md.AIDecisions = domain.PushDecision(md.AIDecisions, decision)
		return nil
	})
}
