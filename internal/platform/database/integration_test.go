package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/novelforge/internal/module/job/domain"
	queuepg "github.com/jinford/novelforge/internal/module/queue/adapter/pg"
	queuedomain "github.com/jinford/novelforge/internal/module/queue/domain"
)

// startPostgres は PostgreSQL コンテナを起動し、マイグレーション済みの DB を返す
// Docker が使えない環境ではテストをスキップする
func startPostgres(t *testing.T) *DB {
	t.Helper()
	if testing.Short() {
		t.Skip("統合テストは -short ではスキップ")
	}

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("Docker に接続できません: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("Docker に接続できません: %v", err)
	}
	pool.MaxWait = 60 * time.Second

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "16-alpine",
		Env: []string{
			"POSTGRES_USER=novelforge",
			"POSTGRES_PASSWORD=secret",
			"POSTGRES_DB=novelforge",
		},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = pool.Purge(resource)
	})
	_ = resource.Expire(300)

	connString := fmt.Sprintf("postgres://novelforge:secret@%s/novelforge?sslmode=disable", resource.GetHostPort("5432/tcp"))

	opts := DefaultOptions()
	opts.AutoMigrate = true

	var db *DB
	err = pool.Retry(func() error {
		var err error
		db, err = New(context.Background(), connString, opts)
		return err
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func TestPostgresIntegration(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()
	provider := NewTransactionProvider(db.Pool)

	t.Run("マイグレーションは冪等", func(t *testing.T) {
		applied, err := Migrate(ctx, db.Pool)
		require.NoError(t, err)
		assert.Empty(t, applied)
	})

	t.Run("イベントログのページング", func(t *testing.T) {
		events := provider.Stores().Events
		base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

		var appended []domain.EventRecord
		for i, status := range []domain.JobStatus{domain.JobStatusQueued, domain.JobStatusRunning, domain.JobStatusCompleted} {
			rec, err := events.Append(ctx, domain.NewJobStatusRecord("paging-job", status, nil, base.Add(time.Duration(i)*time.Second)))
			require.NoError(t, err)
			appended = append(appended, rec)
		}

		page, err := events.List(ctx, "paging-job", domain.ListOptions{Limit: 2})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, appended[2].ID, page[0].ID)
		assert.Equal(t, appended[1].ID, page[1].ID)

		before := page[1].EmittedAt
		rest, err := events.List(ctx, "paging-job", domain.ListOptions{Limit: 2, Before: &before})
		require.NoError(t, err)
		require.Len(t, rest, 1)
		assert.Equal(t, appended[0].ID, rest[0].ID)
		body, ok := rest[0].Body.(domain.JobStatusBody)
		require.True(t, ok)
		assert.Equal(t, domain.JobStatusQueued, body.Status)
	})

	t.Run("エラー時は全ストアの書き込みがロールバックされる", func(t *testing.T) {
		errBoom := errors.New("boom")
		err := provider.Transact(ctx, func(s domain.Stores) error {
			require.NoError(t, s.Locks.AcquireJobLock(ctx, "rollback-job"))
			if _, err := s.Events.Append(ctx, domain.NewJobStatusRecord("rollback-job", domain.JobStatusRunning, nil, time.Now())); err != nil {
				return err
			}
			if err := s.Metrics.IncrementCosts(ctx, "rollback-job", domain.CostBreakdown{TotalUSD: 1}); err != nil {
				return err
			}
			if _, err := s.Jobs.InitializeJob(ctx, domain.InitializeJobInput{
				JobID:   "rollback-job",
				Payload: domain.GenerationRequest{Title: "t", Premise: "p", ChapterCount: 1},
			}); err != nil {
				return err
			}
			return errBoom
		})
		require.ErrorIs(t, err, errBoom)

		stores := provider.Stores()
		records, err := stores.Events.List(ctx, "rollback-job", domain.ListOptions{})
		require.NoError(t, err)
		assert.Empty(t, records)

		m, err := stores.Metrics.Get(ctx, "rollback-job")
		require.NoError(t, err)
		assert.Zero(t, m.Cost.TotalUSD)

		_, err = stores.Jobs.Get(ctx, "rollback-job")
		assert.ErrorIs(t, err, domain.ErrJobNotFound)
	})

	t.Run("キューの取得と完了", func(t *testing.T) {
		payload, err := json.Marshal(domain.GenerationRequest{Title: "t", Premise: "p", ChapterCount: 1})
		require.NoError(t, err)

		_, err = Transact(ctx, provider, func(a *Adapter) (*queuedomain.QueuedJob, error) {
			return a.Queue.Enqueue(ctx, queuedomain.EnqueueInput{
				ID: "queue-job", QueueName: "integration", Payload: payload, MaxAttempts: 2,
			})
		})
		require.NoError(t, err)

		_, err = Transact(ctx, provider, func(a *Adapter) (struct{}, error) {
			job, err := a.Queue.Claim(ctx, queuedomain.ClaimInput{QueueName: "integration", WorkerID: "w1", Lease: time.Minute})
			if err != nil {
				return struct{}{}, err
			}
			assert.Equal(t, "queue-job", job.ID)
			assert.Equal(t, 1, job.Attempts)
			return struct{}{}, a.Queue.Complete(ctx, job.Lease())
		})
		require.NoError(t, err)

		_, err = Transact(ctx, provider, func(a *Adapter) (*queuedomain.QueuedJob, error) {
			return a.Queue.Claim(ctx, queuedomain.ClaimInput{QueueName: "integration", WorkerID: "w1", Lease: time.Minute})
		})
		assert.ErrorIs(t, err, queuedomain.ErrQueueEmpty)
	})

	t.Run("失効したリースでの更新は拒否", func(t *testing.T) {
		queue := queuepg.NewQueueRepository(db.Pool)
		_, err := queue.Enqueue(ctx, queuedomain.EnqueueInput{
			ID: "fenced-job", QueueName: "fencing", Payload: json.RawMessage(`{}`), MaxAttempts: 3,
		})
		require.NoError(t, err)

		stale, err := queue.Claim(ctx, queuedomain.ClaimInput{QueueName: "fencing", WorkerID: "worker-a", Lease: 10 * time.Millisecond})
		require.NoError(t, err)
		time.Sleep(50 * time.Millisecond)
		current, err := queue.Claim(ctx, queuedomain.ClaimInput{QueueName: "fencing", WorkerID: "worker-b", Lease: time.Minute})
		require.NoError(t, err)
		assert.Equal(t, 2, current.Attempts)

		assert.ErrorIs(t, queue.Extend(ctx, stale.Lease(), time.Minute), queuedomain.ErrLeaseLost)
		assert.ErrorIs(t, queue.ReportProgress(ctx, stale.Lease(), json.RawMessage(`{}`)), queuedomain.ErrLeaseLost)
		assert.ErrorIs(t, queue.Complete(ctx, stale.Lease()), queuedomain.ErrLeaseLost)

		require.NoError(t, queue.Extend(ctx, current.Lease(), time.Hour))
		got, err := queue.Get(ctx, "fenced-job")
		require.NoError(t, err)
		require.NotNil(t, got.LockedUntil)
		assert.True(t, got.LockedUntil.After(time.Now().Add(50*time.Minute)))
		require.NoError(t, queue.Complete(ctx, current.Lease()))
	})
}
