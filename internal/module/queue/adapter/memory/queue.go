package memory

import (
	"cmp"
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/jinford/novelforge/internal/module/queue/domain"
)

// Queue はプロセス内で完結するキューです（デモとテスト用）
type Queue struct {
	mu   sync.Mutex
	jobs map[string]*domain.QueuedJob
	seq  map[string]int
	next int
	now  func() time.Time
}

// NewQueue は空のキューを作成します
func NewQueue(now func() time.Time) *Queue {
	if now == nil {
		now = time.Now
	}
	return &Queue{jobs: map[string]*domain.QueuedJob{}, seq: map[string]int{}, now: now}
}

var _ domain.Queue = (*Queue)(nil)

// Get はキュー上のジョブを取得します
func (q *Queue) Get(ctx context.Context, id string) (*domain.QueuedJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return nil, domain.ErrQueuedJobNotFound
	}
	return cloneQueued(j), nil
}

// Enqueue はジョブを投入します
func (q *Queue) Enqueue(ctx context.Context, input domain.EnqueueInput) (*domain.QueuedJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if j, ok := q.jobs[input.ID]; ok {
		return cloneQueued(j), nil
	}
	now := q.now().UTC()
	requestedAt := input.RequestedAt
	if requestedAt.IsZero() {
		requestedAt = now
	}
	j := &domain.QueuedJob{
		ID:          input.ID,
		QueueName:   input.QueueName,
		Payload:     slices.Clone(input.Payload),
		Status:      domain.StatusQueued,
		MaxAttempts: input.MaxAttempts,
		RequestedAt: requestedAt.UTC(),
		AvailableAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	q.next++
	q.seq[input.ID] = q.next
	q.jobs[input.ID] = j
	return cloneQueued(j), nil
}

// Claim は取得可能な最も古いジョブをリース付きで取得します
func (q *Queue) Claim(ctx context.Context, input domain.ClaimInput) (*domain.QueuedJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now().UTC()
	var candidates []*domain.QueuedJob
	for _, j := range q.jobs {
		if j.QueueName != input.QueueName {
			continue
		}
		ready := j.Status == domain.StatusQueued && !j.AvailableAt.After(now)
		expired := j.Status == domain.StatusActive && j.LockedUntil != nil && j.LockedUntil.Before(now)
		if ready || expired {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return nil, domain.ErrQueueEmpty
	}
	slices.SortFunc(candidates, func(a, b *domain.QueuedJob) int {
		if c := a.AvailableAt.Compare(b.AvailableAt); c != 0 {
			return c
		}
		return cmp.Compare(q.seq[a.ID], q.seq[b.ID])
	})

	j := candidates[0]
	until := now.Add(input.Lease)
	j.Status = domain.StatusActive
	j.Attempts++
	j.LockedBy = input.WorkerID
	j.LockedUntil = &until
	j.UpdatedAt = now
	return cloneQueued(j), nil
}

// Extend はリースの期限を延長します
func (q *Queue) Extend(ctx context.Context, lease domain.Lease, d time.Duration) error {
	return q.updateLeased(lease, func(j *domain.QueuedJob) {
		until := q.now().UTC().Add(d)
		j.LockedUntil = &until
	})
}

// ReportProgress は進捗を保存します
func (q *Queue) ReportProgress(ctx context.Context, lease domain.Lease, progress json.RawMessage) error {
	return q.updateLeased(lease, func(j *domain.QueuedJob) {
		j.Progress = slices.Clone(progress)
	})
}

// Complete はジョブを完了にします
func (q *Queue) Complete(ctx context.Context, lease domain.Lease) error {
	return q.updateLeased(lease, func(j *domain.QueuedJob) {
		j.Status = domain.StatusCompleted
		j.LastError = ""
		release(j)
	})
}

// Retry はジョブを availableAt 以降に再取得可能な状態へ戻します
func (q *Queue) Retry(ctx context.Context, lease domain.Lease, reason string, availableAt time.Time) error {
	return q.updateLeased(lease, func(j *domain.QueuedJob) {
		j.Status = domain.StatusQueued
		j.AvailableAt = availableAt.UTC()
		j.LastError = reason
		release(j)
	})
}

// DeadLetter はジョブをデッドレターにします
func (q *Queue) DeadLetter(ctx context.Context, lease domain.Lease, reason string) error {
	return q.updateLeased(lease, func(j *domain.QueuedJob) {
		j.Status = domain.StatusDead
		j.LastError = reason
		release(j)
	})
}

func (q *Queue) updateLeased(lease domain.Lease, fn func(j *domain.QueuedJob)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[lease.JobID]
	if !ok {
		return domain.ErrQueuedJobNotFound
	}
	if j.Status != domain.StatusActive || j.LockedBy != lease.WorkerID || j.Attempts != lease.Attempt {
		return domain.ErrLeaseLost
	}
	fn(j)
	j.UpdatedAt = q.now().UTC()
	return nil
}

func release(j *domain.QueuedJob) {
	j.LockedBy = ""
	j.LockedUntil = nil
}

func cloneQueued(j *domain.QueuedJob) *domain.QueuedJob {
	c := *j
	c.Payload = slices.Clone(j.Payload)
	c.Progress = slices.Clone(j.Progress)
	if j.LockedUntil != nil {
		until := *j.LockedUntil
		c.LockedUntil = &until
	}
	return &c
}
