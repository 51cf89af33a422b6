package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jinford/novelforge/internal/infra/postgres"
	"github.com/jinford/novelforge/internal/module/queue/adapter/pg/query"
	"github.com/jinford/novelforge/internal/module/queue/domain"
)

// QueueRepository は generation_queue テーブルによる永続キューです
type QueueRepository struct {
	q *query.Queries
}

// NewQueueRepository は新しいキューリポジトリを作成します
func NewQueueRepository(db query.DBTX) *QueueRepository {
	return &QueueRepository{q: query.New(db)}
}

var _ domain.Queue = (*QueueRepository)(nil)

// Get はキュー上のジョブを取得します
func (r *QueueRepository) Get(ctx context.Context, id string) (*domain.QueuedJob, error) {
	row, err := r.q.GetQueued(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrQueuedJobNotFound
		}
		return nil, fmt.Errorf("failed to get queued job: %w", err)
	}
	return queuedFromRow(row), nil
}

// Enqueue はジョブを投入します
func (r *QueueRepository) Enqueue(ctx context.Context, input domain.EnqueueInput) (*domain.QueuedJob, error) {
	requestedAt := input.RequestedAt
	if requestedAt.IsZero() {
		requestedAt = time.Now()
	}
	err := r.q.Enqueue(ctx, query.EnqueueParams{
		ID:          input.ID,
		QueueName:   input.QueueName,
		Payload:     input.Payload,
		MaxAttempts: int32(input.MaxAttempts),
		RequestedAt: requestedAt.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}
	return r.Get(ctx, input.ID)
}

// Claim は取得可能な最も古いジョブをリース付きで取得します
func (r *QueueRepository) Claim(ctx context.Context, input domain.ClaimInput) (*domain.QueuedJob, error) {
	row, err := r.q.Claim(ctx, query.ClaimParams{
		QueueName:    input.QueueName,
		WorkerID:     input.WorkerID,
		LeaseSeconds: input.Lease.Seconds(),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrQueueEmpty
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return queuedFromRow(row), nil
}

// Extend はリースの期限を延長します
func (r *QueueRepository) Extend(ctx context.Context, lease domain.Lease, d time.Duration) error {
	n, err := r.q.ExtendLease(ctx, leaseParams(lease), d.Seconds())
	if err != nil {
		return fmt.Errorf("failed to extend lease: %w", err)
	}
	return r.checkActive(ctx, lease.JobID, n)
}

// ReportProgress は進捗を保存します
func (r *QueueRepository) ReportProgress(ctx context.Context, lease domain.Lease, progress json.RawMessage) error {
	n, err := r.q.ReportProgress(ctx, leaseParams(lease), progress)
	if err != nil {
		return fmt.Errorf("failed to report progress: %w", err)
	}
	return r.checkActive(ctx, lease.JobID, n)
}

// Complete はジョブを完了にします
func (r *QueueRepository) Complete(ctx context.Context, lease domain.Lease) error {
	n, err := r.q.Complete(ctx, leaseParams(lease))
	if err != nil {
		return fmt.Errorf("failed to complete queued job: %w", err)
	}
	return r.checkActive(ctx, lease.JobID, n)
}

// Retry はジョブを availableAt 以降に再取得可能な状態へ戻します
func (r *QueueRepository) Retry(ctx context.Context, lease domain.Lease, reason string, availableAt time.Time) error {
	n, err := r.q.Retry(ctx, query.RetryParams{
		Lease:       leaseParams(lease),
		LastError:   postgres.StringToNullableText(reason),
		AvailableAt: availableAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to retry queued job: %w", err)
	}
	return r.checkActive(ctx, lease.JobID, n)
}

// DeadLetter はジョブをデッドレターにします
func (r *QueueRepository) DeadLetter(ctx context.Context, lease domain.Lease, reason string) error {
	n, err := r.q.DeadLetter(ctx, leaseParams(lease), postgres.StringToNullableText(reason))
	if err != nil {
		return fmt.Errorf("failed to dead-letter queued job: %w", err)
	}
	return r.checkActive(ctx, lease.JobID, n)
}

func leaseParams(lease domain.Lease) query.LeaseParams {
	return query.LeaseParams{ID: lease.JobID, WorkerID: lease.WorkerID, Attempt: int32(lease.Attempt)}
}

// checkActive はリース条件付き更新が0行だった理由を判定します
func (r *QueueRepository) checkActive(ctx context.Context, id string, affected int64) error {
	if affected > 0 {
		return nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return domain.ErrLeaseLost
}

func queuedFromRow(row query.GenerationQueue) *domain.QueuedJob {
	return &domain.QueuedJob{
		ID:          row.ID,
		QueueName:   row.QueueName,
		Payload:     json.RawMessage(row.Payload),
		Status:      domain.Status(row.Status),
		Attempts:    int(row.Attempts),
		MaxAttempts: int(row.MaxAttempts),
		RequestedAt: row.RequestedAt.UTC(),
		AvailableAt: row.AvailableAt.UTC(),
		LockedBy:    postgres.PgtextToString(row.LockedBy),
		LockedUntil: postgres.PgtypeToTimePtr(row.LockedUntil),
		Progress:    json.RawMessage(row.Progress),
		LastError:   postgres.PgtextToString(row.LastError),
		CreatedAt:   row.CreatedAt.UTC(),
		UpdatedAt:   row.UpdatedAt.UTC(),
	}
}
