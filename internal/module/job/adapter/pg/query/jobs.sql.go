package query

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const jobColumns = `job_id, status, payload, outline, chapters, summary, engine, failures,
       queue_name, requested_at, received_at, completed_at, duration_ms, created_at, updated_at`

func scanJob(row interface{ Scan(dest ...any) error }) (NovelJob, error) {
	var i NovelJob
	err := row.Scan(
		&i.JobID,
		&i.Status,
		&i.Payload,
		&i.Outline,
		&i.Chapters,
		&i.Summary,
		&i.Engine,
		&i.Failures,
		&i.QueueName,
		&i.RequestedAt,
		&i.ReceivedAt,
		&i.CompletedAt,
		&i.DurationMs,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getJob = `SELECT ` + jobColumns + ` FROM novel_jobs WHERE job_id = $1`

func (q *Queries) GetJob(ctx context.Context, jobID string) (NovelJob, error) {
	return scanJob(q.db.QueryRow(ctx, getJob, jobID))
}

// 完了済みの行は更新されず、pgx.ErrNoRows になります
const initializeJob = `
INSERT INTO novel_jobs (job_id, status, payload, queue_name, requested_at, received_at, outline, chapters, failures)
VALUES ($1, 'running', $2, $3, $4, $5, '[]', '[]', '[]')
ON CONFLICT (job_id) DO UPDATE SET
    status       = 'running',
    payload      = EXCLUDED.payload,
    queue_name   = EXCLUDED.queue_name,
    requested_at = EXCLUDED.requested_at,
    received_at  = EXCLUDED.received_at,
    outline      = '[]',
    chapters     = '[]',
    summary      = NULL,
    engine       = NULL,
    completed_at = NULL,
    duration_ms  = NULL,
    updated_at   = now()
WHERE novel_jobs.status <> 'completed'
RETURNING ` + jobColumns

type InitializeJobParams struct {
	JobID       string
	Payload     []byte
	QueueName   pgtype.Text
	RequestedAt pgtype.Timestamptz
	ReceivedAt  pgtype.Timestamptz
}

func (q *Queries) InitializeJob(ctx context.Context, arg InitializeJobParams) (NovelJob, error) {
	return scanJob(q.db.QueryRow(ctx, initializeJob,
		arg.JobID, arg.Payload, arg.QueueName, arg.RequestedAt, arg.ReceivedAt))
}

const completeJob = `
UPDATE novel_jobs SET
    status       = 'completed',
    outline      = $2,
    chapters     = $3,
    summary      = $4,
    engine       = $5,
    completed_at = $6,
    duration_ms  = $7,
    updated_at   = now()
WHERE job_id = $1 AND status = 'running'
RETURNING ` + jobColumns

type CompleteJobParams struct {
	JobID       string
	Outline     []byte
	Chapters    []byte
	Summary     []byte
	Engine      []byte
	CompletedAt pgtype.Timestamptz
	DurationMs  pgtype.Int8
}

func (q *Queries) CompleteJob(ctx context.Context, arg CompleteJobParams) (NovelJob, error) {
	return scanJob(q.db.QueryRow(ctx, completeJob,
		arg.JobID, arg.Outline, arg.Chapters, arg.Summary, arg.Engine, arg.CompletedAt, arg.DurationMs))
}

const failJob = `
UPDATE novel_jobs SET
    status       = 'failed',
    failures     = failures || jsonb_build_array($2::jsonb),
    completed_at = COALESCE($3, completed_at),
    duration_ms  = COALESCE($4, duration_ms),
    updated_at   = now()
WHERE job_id = $1 AND status <> 'completed'
RETURNING ` + jobColumns

type FailJobParams struct {
	JobID       string
	Failure     []byte
	CompletedAt pgtype.Timestamptz
	DurationMs  pgtype.Int8
}

func (q *Queries) FailJob(ctx context.Context, arg FailJobParams) (NovelJob, error) {
	return scanJob(q.db.QueryRow(ctx, failJob, arg.JobID, arg.Failure, arg.CompletedAt, arg.DurationMs))
}
