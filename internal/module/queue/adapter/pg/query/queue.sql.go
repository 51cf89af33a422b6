package query

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

const queueColumns = `id, queue_name, payload, status, attempts, max_attempts, requested_at, available_at,
       locked_by, locked_until, progress, last_error, created_at, updated_at`

func scanQueued(row interface{ Scan(dest ...any) error }) (GenerationQueue, error) {
	var i GenerationQueue
	err := row.Scan(
		&i.ID,
		&i.QueueName,
		&i.Payload,
		&i.Status,
		&i.Attempts,
		&i.MaxAttempts,
		&i.RequestedAt,
		&i.AvailableAt,
		&i.LockedBy,
		&i.LockedUntil,
		&i.Progress,
		&i.LastError,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getQueued = `SELECT ` + queueColumns + ` FROM generation_queue WHERE id = $1`

func (q *Queries) GetQueued(ctx context.Context, id string) (GenerationQueue, error) {
	return scanQueued(q.db.QueryRow(ctx, getQueued, id))
}

const enqueue = `
INSERT INTO generation_queue (id, queue_name, payload, max_attempts, requested_at, available_at)
VALUES ($1, $2, $3, $4, $5, now())
ON CONFLICT (id) DO NOTHING
`

type EnqueueParams struct {
	ID          string
	QueueName   string
	Payload     []byte
	MaxAttempts int32
	RequestedAt time.Time
}

func (q *Queries) Enqueue(ctx context.Context, arg EnqueueParams) error {
	_, err := q.db.Exec(ctx, enqueue, arg.ID, arg.QueueName, arg.Payload, arg.MaxAttempts, arg.RequestedAt)
	return err
}

// 失効したリースの active 行も取得対象になります
const claim = `
WITH next_job AS (
    SELECT id
    FROM generation_queue
    WHERE queue_name = $1
      AND ((status = 'queued' AND available_at <= now())
        OR (status = 'active' AND locked_until < now()))
    ORDER BY available_at ASC, created_at ASC
    FOR UPDATE SKIP LOCKED
    LIMIT 1
)
UPDATE generation_queue AS q SET
    status       = 'active',
    attempts     = q.attempts + 1,
    locked_by    = $2,
    locked_until = now() + make_interval(secs => $3::double precision),
    updated_at   = now()
FROM next_job
WHERE q.id = next_job.id
RETURNING q.id, q.queue_name, q.payload, q.status, q.attempts, q.max_attempts, q.requested_at, q.available_at,
          q.locked_by, q.locked_until, q.progress, q.last_error, q.created_at, q.updated_at
`

type ClaimParams struct {
	QueueName    string
	WorkerID     string
	LeaseSeconds float64
}

func (q *Queries) Claim(ctx context.Context, arg ClaimParams) (GenerationQueue, error) {
	return scanQueued(q.db.QueryRow(ctx, claim, arg.QueueName, arg.WorkerID, arg.LeaseSeconds))
}

// 以降の更新はリースの保持者（locked_by と attempts）が一致する行だけを対象にします
const leaseCondition = `WHERE id = $1 AND status = 'active' AND locked_by = $2 AND attempts = $3`

type LeaseParams struct {
	ID       string
	WorkerID string
	Attempt  int32
}

const extendLease = `
UPDATE generation_queue SET locked_until = now() + make_interval(secs => $4::double precision), updated_at = now()
` + leaseCondition

func (q *Queries) ExtendLease(ctx context.Context, lease LeaseParams, leaseSeconds float64) (int64, error) {
	tag, err := q.db.Exec(ctx, extendLease, lease.ID, lease.WorkerID, lease.Attempt, leaseSeconds)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const reportProgress = `
UPDATE generation_queue SET progress = $4, updated_at = now()
` + leaseCondition

func (q *Queries) ReportProgress(ctx context.Context, lease LeaseParams, progress []byte) (int64, error) {
	tag, err := q.db.Exec(ctx, reportProgress, lease.ID, lease.WorkerID, lease.Attempt, progress)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const completeQueued = `
UPDATE generation_queue SET
    status = 'completed', locked_by = NULL, locked_until = NULL, last_error = NULL, updated_at = now()
` + leaseCondition

func (q *Queries) Complete(ctx context.Context, lease LeaseParams) (int64, error) {
	tag, err := q.db.Exec(ctx, completeQueued, lease.ID, lease.WorkerID, lease.Attempt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const retryQueued = `
UPDATE generation_queue SET
    status = 'queued', available_at = $5, last_error = $4,
    locked_by = NULL, locked_until = NULL, updated_at = now()
` + leaseCondition

type RetryParams struct {
	Lease       LeaseParams
	LastError   pgtype.Text
	AvailableAt time.Time
}

func (q *Queries) Retry(ctx context.Context, arg RetryParams) (int64, error) {
	tag, err := q.db.Exec(ctx, retryQueued, arg.Lease.ID, arg.Lease.WorkerID, arg.Lease.Attempt, arg.LastError, arg.AvailableAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const deadLetter = `
UPDATE generation_queue SET
    status = 'dead', last_error = $4, locked_by = NULL, locked_until = NULL, updated_at = now()
` + leaseCondition

func (q *Queries) DeadLetter(ctx context.Context, lease LeaseParams, lastError pgtype.Text) (int64, error) {
	tag, err := q.db.Exec(ctx, deadLetter, lease.ID, lease.WorkerID, lease.Attempt, lastError)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
