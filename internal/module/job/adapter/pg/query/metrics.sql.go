package query

import (
	"context"
)

const getMetrics = `
SELECT job_id,
       cost_total_usd, cost_analysis_usd, cost_outline_usd, cost_chapters_usd,
       tokens_total, tokens_analysis, tokens_outline, tokens_chapters,
       latency_total_ms, latency_analysis_ms, latency_outline_ms, latency_chapters_ms,
       updated_at
FROM novel_job_metrics
WHERE job_id = $1
`

func (q *Queries) GetMetrics(ctx context.Context, jobID string) (NovelJobMetric, error) {
	var i NovelJobMetric
	err := q.db.QueryRow(ctx, getMetrics, jobID).Scan(
		&i.JobID,
		&i.CostTotalUsd,
		&i.CostAnalysisUsd,
		&i.CostOutlineUsd,
		&i.CostChaptersUsd,
		&i.TokensTotal,
		&i.TokensAnalysis,
		&i.TokensOutline,
		&i.TokensChapters,
		&i.LatencyTotalMs,
		&i.LatencyAnalysisMs,
		&i.LatencyOutlineMs,
		&i.LatencyChaptersMs,
		&i.UpdatedAt,
	)
	return i, err
}

const incrementCosts = `
INSERT INTO novel_job_metrics (job_id, cost_total_usd, cost_analysis_usd, cost_outline_usd, cost_chapters_usd)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (job_id) DO UPDATE SET
    cost_total_usd    = novel_job_metrics.cost_total_usd + EXCLUDED.cost_total_usd,
    cost_analysis_usd = novel_job_metrics.cost_analysis_usd + EXCLUDED.cost_analysis_usd,
    cost_outline_usd  = novel_job_metrics.cost_outline_usd + EXCLUDED.cost_outline_usd,
    cost_chapters_usd = novel_job_metrics.cost_chapters_usd + EXCLUDED.cost_chapters_usd,
    updated_at        = now()
`

type IncrementCostsParams struct {
	JobID    string
	Total    float64
	Analysis float64
	Outline  float64
	Chapters float64
}

func (q *Queries) IncrementCosts(ctx context.Context, arg IncrementCostsParams) error {
	_, err := q.db.Exec(ctx, incrementCosts, arg.JobID, arg.Total, arg.Analysis, arg.Outline, arg.Chapters)
	return err
}

const incrementTokens = `
INSERT INTO novel_job_metrics (job_id, tokens_total, tokens_analysis, tokens_outline, tokens_chapters)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (job_id) DO UPDATE SET
    tokens_total    = novel_job_metrics.tokens_total + EXCLUDED.tokens_total,
    tokens_analysis = novel_job_metrics.tokens_analysis + EXCLUDED.tokens_analysis,
    tokens_outline  = novel_job_metrics.tokens_outline + EXCLUDED.tokens_outline,
    tokens_chapters = novel_job_metrics.tokens_chapters + EXCLUDED.tokens_chapters,
    updated_at      = now()
`

type IncrementTokensParams struct {
	JobID    string
	Total    int64
	Analysis int64
	Outline  int64
	Chapters int64
}

func (q *Queries) IncrementTokens(ctx context.Context, arg IncrementTokensParams) error {
	_, err := q.db.Exec(ctx, incrementTokens, arg.JobID, arg.Total, arg.Analysis, arg.Outline, arg.Chapters)
	return err
}

const incrementLatency = `
INSERT INTO novel_job_metrics (job_id, latency_total_ms, latency_analysis_ms, latency_outline_ms, latency_chapters_ms)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (job_id) DO UPDATE SET
    latency_total_ms    = novel_job_metrics.latency_total_ms + EXCLUDED.latency_total_ms,
    latency_analysis_ms = novel_job_metrics.latency_analysis_ms + EXCLUDED.latency_analysis_ms,
    latency_outline_ms  = novel_job_metrics.latency_outline_ms + EXCLUDED.latency_outline_ms,
    latency_chapters_ms = novel_job_metrics.latency_chapters_ms + EXCLUDED.latency_chapters_ms,
    updated_at          = now()
`

type IncrementLatencyParams struct {
	JobID    string
	Total    int64
	Analysis int64
	Outline  int64
	Chapters int64
}

func (q *Queries) IncrementLatency(ctx context.Context, arg IncrementLatencyParams) error {
	_, err := q.db.Exec(ctx, incrementLatency, arg.JobID, arg.Total, arg.Analysis, arg.Outline, arg.Chapters)
	return err
}

const resetMetrics = `
INSERT INTO novel_job_metrics (job_id) VALUES ($1)
ON CONFLICT (job_id) DO UPDATE SET
    cost_total_usd = 0, cost_analysis_usd = 0, cost_outline_usd = 0, cost_chapters_usd = 0,
    tokens_total = 0, tokens_analysis = 0, tokens_outline = 0, tokens_chapters = 0,
    latency_total_ms = 0, latency_analysis_ms = 0, latency_outline_ms = 0, latency_chapters_ms = 0,
    updated_at = now()
`

func (q *Queries) ResetMetrics(ctx context.Context, jobID string) error {
	_, err := q.db.Exec(ctx, resetMetrics, jobID)
	return err
}
