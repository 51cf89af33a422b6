package memory

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/novelforge/internal/module/queue/domain"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestQueue_ClaimOrderAndLease(t *testing.T) {
	ctx := context.Background()
	clock := &manualClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	q := NewQueue(clock.Now)

	for _, id := range []string{"a", "b"} {
		_, err := q.Enqueue(ctx, domain.EnqueueInput{ID: id, QueueName: "novel", Payload: json.RawMessage(`{}`), MaxAttempts: 3})
		require.NoError(t, err)
	}
	// 同じIDの再投入は既存のジョブを返す
	dup, err := q.Enqueue(ctx, domain.EnqueueInput{ID: "a", QueueName: "novel", Payload: json.RawMessage(`{"x":1}`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(dup.Payload))

	first, err := q.Claim(ctx, domain.ClaimInput{QueueName: "novel", WorkerID: "w1", Lease: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, "a", first.ID)
	assert.Equal(t, 1, first.Attempts)
	assert.Equal(t, domain.StatusActive, first.Status)

	second, err := q.Claim(ctx, domain.ClaimInput{QueueName: "novel", WorkerID: "w2", Lease: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, "b", second.ID)

	_, err = q.Claim(ctx, domain.ClaimInput{QueueName: "novel", WorkerID: "w3", Lease: time.Minute})
	assert.ErrorIs(t, err, domain.ErrQueueEmpty)

	// リース失効後は再取得できる
	clock.Advance(2 * time.Minute)
	again, err := q.Claim(ctx, domain.ClaimInput{QueueName: "novel", WorkerID: "w3", Lease: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, "a", again.ID)
	assert.Equal(t, 2, again.Attempts)
	assert.Equal(t, "w3", again.LockedBy)
}

func TestQueue_RetryCompleteDeadLetter(t *testing.T) {
	ctx := context.Background()
	clock := &manualClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	q := NewQueue(clock.Now)

	_, err := q.Enqueue(ctx, domain.EnqueueInput{ID: "a", QueueName: "novel", MaxAttempts: 2})
	require.NoError(t, err)
	first, err := q.Claim(ctx, domain.ClaimInput{QueueName: "novel", WorkerID: "w1", Lease: time.Minute})
	require.NoError(t, err)

	require.NoError(t, q.ReportProgress(ctx, first.Lease(), json.RawMessage(`{"stage":"outline"}`)))
	require.NoError(t, q.Retry(ctx, first.Lease(), "boom", clock.Now().Add(10*time.Second)))

	// 待機時間が過ぎるまでは取得できない
	_, err = q.Claim(ctx, domain.ClaimInput{QueueName: "novel", Lease: time.Minute})
	assert.ErrorIs(t, err, domain.ErrQueueEmpty)

	clock.Advance(10 * time.Second)
	second, err := q.Claim(ctx, domain.ClaimInput{QueueName: "novel", WorkerID: "w1", Lease: time.Minute})
	require.NoError(t, err)
	require.NoError(t, q.DeadLetter(ctx, second.Lease(), "boom again"))

	got, err := q.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDead, got.Status)
	assert.Equal(t, "boom again", got.LastError)
	assert.JSONEq(t, `{"stage":"outline"}`, string(got.Progress))
	assert.Nil(t, got.LockedUntil)

	// active でないジョブへの操作はリース喪失
	assert.ErrorIs(t, q.Complete(ctx, second.Lease()), domain.ErrLeaseLost)
	assert.ErrorIs(t, q.Complete(ctx, domain.Lease{JobID: "missing"}), domain.ErrQueuedJobNotFound)
}

func TestQueue_LeaseFencing(t *testing.T) {
	tests := []struct {
		name string
		// op は失効後に再取得された状態で、元のワーカーが行う操作です
		op func(ctx context.Context, q *Queue, stale domain.Lease) error
	}{
		{
			name: "失効後の完了は拒否",
			op: func(ctx context.Context, q *Queue, stale domain.Lease) error {
				return q.Complete(ctx, stale)
			},
		},
		{
			name: "失効後の再試行は拒否",
			op: func(ctx context.Context, q *Queue, stale domain.Lease) error {
				return q.Retry(ctx, stale, "boom", time.Time{})
			},
		},
		{
			name: "失効後のデッドレターは拒否",
			op: func(ctx context.Context, q *Queue, stale domain.Lease) error {
				return q.DeadLetter(ctx, stale, "boom")
			},
		},
		{
			name: "失効後の進捗報告は拒否",
			op: func(ctx context.Context, q *Queue, stale domain.Lease) error {
				return q.ReportProgress(ctx, stale, json.RawMessage(`{"stage":"stale"}`))
			},
		},
		{
			name: "失効後のリース延長は拒否",
			op: func(ctx context.Context, q *Queue, stale domain.Lease) error {
				return q.Extend(ctx, stale, time.Minute)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			clock := &manualClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
			q := NewQueue(clock.Now)
			_, err := q.Enqueue(ctx, domain.EnqueueInput{ID: "a", QueueName: "novel", MaxAttempts: 3})
			require.NoError(t, err)

			stale, err := q.Claim(ctx, domain.ClaimInput{QueueName: "novel", WorkerID: "worker-a", Lease: time.Minute})
			require.NoError(t, err)
			clock.Advance(2 * time.Minute)
			current, err := q.Claim(ctx, domain.ClaimInput{QueueName: "novel", WorkerID: "worker-b", Lease: time.Minute})
			require.NoError(t, err)
			require.Equal(t, 2, current.Attempts)

			assert.ErrorIs(t, tt.op(ctx, q, stale.Lease()), domain.ErrLeaseLost)

			// 再取得したワーカーの状態は変わらず、そのまま完了できる
			got, err := q.Get(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, domain.StatusActive, got.Status)
			assert.Equal(t, "worker-b", got.LockedBy)
			assert.Empty(t, got.Progress)
			require.NoError(t, q.Complete(ctx, current.Lease()))
		})
	}
}

func TestQueue_LeaseFencingSameWorker(t *testing.T) {
	ctx := context.Background()
	clock := &manualClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	q := NewQueue(clock.Now)
	_, err := q.Enqueue(ctx, domain.EnqueueInput{ID: "a", QueueName: "novel", MaxAttempts: 3})
	require.NoError(t, err)

	// 同じワーカーIDの別スロットが再取得しても、前の試行のリースは無効
	stale, err := q.Claim(ctx, domain.ClaimInput{QueueName: "novel", WorkerID: "w1", Lease: time.Minute})
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)
	current, err := q.Claim(ctx, domain.ClaimInput{QueueName: "novel", WorkerID: "w1", Lease: time.Minute})
	require.NoError(t, err)

	assert.ErrorIs(t, q.Complete(ctx, stale.Lease()), domain.ErrLeaseLost)
	require.NoError(t, q.Complete(ctx, current.Lease()))
}

func TestQueue_ExtendKeepsLease(t *testing.T) {
	ctx := context.Background()
	clock := &manualClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	q := NewQueue(clock.Now)
	_, err := q.Enqueue(ctx, domain.EnqueueInput{ID: "a", QueueName: "novel", MaxAttempts: 3})
	require.NoError(t, err)

	job, err := q.Claim(ctx, domain.ClaimInput{QueueName: "novel", WorkerID: "worker-a", Lease: time.Minute})
	require.NoError(t, err)

	// 期限内に延長し続ければ他のワーカーに取られない
	for range 3 {
		clock.Advance(40 * time.Second)
		require.NoError(t, q.Extend(ctx, job.Lease(), time.Minute))
	}
	_, err = q.Claim(ctx, domain.ClaimInput{QueueName: "novel", WorkerID: "worker-b", Lease: time.Minute})
	assert.ErrorIs(t, err, domain.ErrQueueEmpty)

	got, err := q.Get(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got.LockedUntil)
	assert.Equal(t, clock.Now().Add(time.Minute), *got.LockedUntil)

	require.NoError(t, q.Complete(ctx, job.Lease()))
}
