package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jinford/novelforge/internal/infra/postgres"
	"github.com/jinford/novelforge/internal/module/job/adapter/pg/query"
	"github.com/jinford/novelforge/internal/module/job/domain"
)

// JobRepository はジョブ集約の永続化アダプターです
type JobRepository struct {
	q query.Querier
}

// NewJobRepository は新しいジョブリポジトリを作成します
func NewJobRepository(q query.Querier) *JobRepository {
	return &JobRepository{q: q}
}

var _ domain.JobRepository = (*JobRepository)(nil)

// Get はジョブを取得します
func (r *JobRepository) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	row, err := r.q.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return jobFromRow(row)
}

// InitializeJob はジョブを running で初期化します
func (r *JobRepository) InitializeJob(ctx context.Context, input domain.InitializeJobInput) (*domain.Job, error) {
	payload, err := postgres.MarshalJSONB(input.Payload)
	if err != nil {
		return nil, err
	}

	row, err := r.q.InitializeJob(ctx, query.InitializeJobParams{
		JobID:       input.JobID,
		Payload:     payload,
		QueueName:   postgres.StringToNullableText(input.QueueName),
		RequestedAt: postgres.TimeToPgtype(input.RequestedAt),
		ReceivedAt:  postgres.TimeToPgtype(input.ReceivedAt),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// 競合行が completed のため更新されなかった
			return nil, domain.ErrJobCompleted
		}
		return nil, fmt.Errorf("failed to initialize job: %w", err)
	}
	return jobFromRow(row)
}

// SaveGenerationResult はジョブを completed にし、生成結果を保存します
func (r *JobRepository) SaveGenerationResult(ctx context.Context, result domain.GenerationResult) (*domain.Job, error) {
	params := query.CompleteJobParams{
		JobID:       result.JobID,
		CompletedAt: postgres.TimeToPgtype(result.CompletedAt),
		DurationMs:  postgres.Int64PtrToPgtype(&result.DurationMs),
	}
	var err error
	if params.Outline, err = postgres.MarshalJSONB(nonNil(result.Outline)); err != nil {
		return nil, err
	}
	if params.Chapters, err = postgres.MarshalJSONB(nonNil(result.Chapters)); err != nil {
		return nil, err
	}
	if params.Summary, err = postgres.MarshalJSONB(result.Summary); err != nil {
		return nil, err
	}
	if result.Engine != nil {
		if params.Engine, err = postgres.MarshalJSONB(result.Engine); err != nil {
			return nil, err
		}
	}

	row, err := r.q.CompleteJob(ctx, params)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.rejection(ctx, result.JobID, domain.JobStatusCompleted)
		}
		return nil, fmt.Errorf("failed to save generation result: %w", err)
	}
	return jobFromRow(row)
}

// RecordFailure はジョブを failed にし、失敗履歴を追記します
func (r *JobRepository) RecordFailure(ctx context.Context, jobID string, input domain.FailureInput) (*domain.Job, error) {
	failure, err := postgres.MarshalJSONB(input.Failure)
	if err != nil {
		return nil, err
	}

	row, err := r.q.FailJob(ctx, query.FailJobParams{
		JobID:       jobID,
		Failure:     failure,
		CompletedAt: postgres.TimePtrToPgtype(input.CompletedAt),
		DurationMs:  postgres.Int64PtrToPgtype(input.DurationMs),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.rejection(ctx, jobID, domain.JobStatusFailed)
		}
		return nil, fmt.Errorf("failed to record failure: %w", err)
	}
	return jobFromRow(row)
}

// rejection は条件付き更新が0行だった理由を判定します
func (r *JobRepository) rejection(ctx context.Context, jobID string, to domain.JobStatus) error {
	current, err := r.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if current.Status == domain.JobStatusCompleted {
		return domain.ErrJobCompleted
	}
	return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, to)
}

func jobFromRow(row query.NovelJob) (*domain.Job, error) {
	job := &domain.Job{
		ID:          row.JobID,
		Status:      domain.JobStatus(row.Status),
		Outline:     []domain.OutlineEntry{},
		Chapters:    []domain.Chapter{},
		Failures:    []domain.FailureRecord{},
		QueueName:   postgres.PgtextToString(row.QueueName),
		RequestedAt: postgres.PgtypeToTimePtr(row.RequestedAt),
		ReceivedAt:  postgres.PgtypeToTimePtr(row.ReceivedAt),
		CompletedAt: postgres.PgtypeToTimePtr(row.CompletedAt),
		DurationMs:  postgres.PgtypeToInt64Ptr(row.DurationMs),
		CreatedAt:   row.CreatedAt.UTC(),
		UpdatedAt:   row.UpdatedAt.UTC(),
	}

	if err := postgres.UnmarshalJSONB(row.Payload, &job.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	if err := postgres.UnmarshalJSONB(row.Outline, &job.Outline); err != nil {
		return nil, fmt.Errorf("failed to decode outline: %w", err)
	}
	if err := postgres.UnmarshalJSONB(row.Chapters, &job.Chapters); err != nil {
		return nil, fmt.Errorf("failed to decode chapters: %w", err)
	}
	if err := postgres.UnmarshalJSONB(row.Failures, &job.Failures); err != nil {
		return nil, fmt.Errorf("failed to decode failures: %w", err)
	}
	if len(row.Summary) > 0 {
		var summary domain.Summary
		if err := postgres.UnmarshalJSONB(row.Summary, &summary); err != nil {
			return nil, fmt.Errorf("failed to decode summary: %w", err)
		}
		job.Summary = &summary
	}
	if err := postgres.UnmarshalJSONB(row.Engine, &job.Engine); err != nil {
		return nil, fmt.Errorf("failed to decode engine: %w", err)
	}
	return job, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
