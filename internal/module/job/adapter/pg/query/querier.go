package query

import (
	"context"
)

type Querier interface {
	InTx(ctx context.Context, fn func(Querier) error) error

	// novel_job_events
	InsertEvent(ctx context.Context, arg InsertEventParams) error
	ListEvents(ctx context.Context, arg ListEventsParams) ([]NovelJobEvent, error)

	// novel_jobs
	GetJob(ctx context.Context, jobID string) (NovelJob, error)
	InitializeJob(ctx context.Context, arg InitializeJobParams) (NovelJob, error)
	CompleteJob(ctx context.Context, arg CompleteJobParams) (NovelJob, error)
	FailJob(ctx context.Context, arg FailJobParams) (NovelJob, error)

	// novel_job_metrics
	GetMetrics(ctx context.Context, jobID string) (NovelJobMetric, error)
	IncrementCosts(ctx context.Context, arg IncrementCostsParams) error
	IncrementTokens(ctx context.Context, arg IncrementTokensParams) error
	IncrementLatency(ctx context.Context, arg IncrementLatencyParams) error
	ResetMetrics(ctx context.Context, jobID string) error

	// novel_job_metadata
	GetMetadata(ctx context.Context, jobID string) (NovelJobMetadatum, error)
	EnsureMetadata(ctx context.Context, jobID string) error
	GetMetadataForUpdate(ctx context.Context, jobID string) (NovelJobMetadatum, error)
	UpdateMetadata(ctx context.Context, arg UpdateMetadataParams) error
}

var _ Querier = (*Queries)(nil)
