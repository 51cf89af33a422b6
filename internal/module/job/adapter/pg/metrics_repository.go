package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jinford/novelforge/internal/module/job/adapter/pg/query"
	"github.com/jinford/novelforge/internal/module/job/domain"
)

// MetricsRepository は novel_job_metrics の永続化アダプターです
// 加算はすべて単一のUPSERTで行われ、同時実行でも値を失いません
type MetricsRepository struct {
	q query.Querier
}

// NewMetricsRepository は新しいメトリクスリポジトリを作成します
func NewMetricsRepository(q query.Querier) *MetricsRepository {
	return &MetricsRepository{q: q}
}

var _ domain.MetricsRepository = (*MetricsRepository)(nil)

// Get はメトリクスを返します（未記録の場合はゼロ値）
func (r *MetricsRepository) Get(ctx context.Context, jobID string) (*domain.Metrics, error) {
	row, err := r.q.GetMetrics(ctx, jobID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &domain.Metrics{JobID: jobID}, nil
		}
		return nil, fmt.Errorf("failed to get metrics: %w", err)
	}

	return &domain.Metrics{
		JobID: row.JobID,
		Cost: domain.CostBreakdown{
			TotalUSD:    row.CostTotalUsd,
			AnalysisUSD: row.CostAnalysisUsd,
			OutlineUSD:  row.CostOutlineUsd,
			ChaptersUSD: row.CostChaptersUsd,
		},
		Tokens: domain.TokenBreakdown{
			Total:    row.TokensTotal,
			Analysis: row.TokensAnalysis,
			Outline:  row.TokensOutline,
			Chapters: row.TokensChapters,
		},
		LatencyMs: domain.LatencyBreakdown{
			Total:    row.LatencyTotalMs,
			Analysis: row.LatencyAnalysisMs,
			Outline:  row.LatencyOutlineMs,
			Chapters: row.LatencyChaptersMs,
		},
		UpdatedAt: row.UpdatedAt.UTC(),
	}, nil
}

// IncrementCosts はコストを加算します
func (r *MetricsRepository) IncrementCosts(ctx context.Context, jobID string, delta domain.CostBreakdown) error {
	err := r.q.IncrementCosts(ctx, query.IncrementCostsParams{
		JobID:    jobID,
		Total:    delta.TotalUSD,
		Analysis: delta.AnalysisUSD,
		Outline:  delta.OutlineUSD,
		Chapters: delta.ChaptersUSD,
	})
	if err != nil {
		return fmt.Errorf("failed to increment costs: %w", err)
	}
	return nil
}

// IncrementTokens はトークン数を加算します
func (r *MetricsRepository) IncrementTokens(ctx context.Context, jobID string, delta domain.TokenBreakdown) error {
	err := r.q.IncrementTokens(ctx, query.IncrementTokensParams{
		JobID:    jobID,
		Total:    delta.Total,
		Analysis: delta.Analysis,
		Outline:  delta.Outline,
		Chapters: delta.Chapters,
	})
	if err != nil {
		return fmt.Errorf("failed to increment tokens: %w", err)
	}
	return nil
}

// UpdateLatency はレイテンシを加算します
func (r *MetricsRepository) UpdateLatency(ctx context.Context, jobID string, delta domain.LatencyBreakdown) error {
	err := r.q.IncrementLatency(ctx, query.IncrementLatencyParams{
		JobID:    jobID,
		Total:    delta.Total,
		Analysis: delta.Analysis,
		Outline:  delta.Outline,
		Chapters: delta.Chapters,
	})
	if err != nil {
		return fmt.Errorf("failed to update latency: %w", err)
	}
	return nil
}

// Reset はすべてのカウンタをゼロに戻します
func (r *MetricsRepository) Reset(ctx context.Context, jobID string) error {
	if err := r.q.ResetMetrics(ctx, jobID); err != nil {
		return fmt.Errorf("failed to reset metrics: %w", err)
	}
	return nil
}
