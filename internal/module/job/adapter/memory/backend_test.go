package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/novelforge/internal/module/job/domain"
)

var base = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func initJob(t *testing.T, ctx context.Context, stores domain.Stores, jobID string) {
	t.Helper()
	_, err := stores.Jobs.InitializeJob(ctx, domain.InitializeJobInput{
		JobID:       jobID,
		Payload:     domain.GenerationRequest{Title: "t", Premise: "p", ChapterCount: 2},
		RequestedAt: base,
		ReceivedAt:  base,
	})
	require.NoError(t, err)
}

func TestEventLog_ListOrderingAndPaging(t *testing.T) {
	ctx := context.Background()
	stores := NewBackend().Stores()

	// 追記順と時刻順をずらして保存
	offsets := []int{3, 1, 4, 0, 2}
	for _, o := range offsets {
		rec := domain.NewJobStatusRecord("job-1", domain.JobStatusRunning, map[string]any{"o": o}, base.Add(time.Duration(o)*time.Second))
		_, err := stores.Events.Append(ctx, rec)
		require.NoError(t, err)
	}
	other := domain.NewJobStatusRecord("job-2", domain.JobStatusRunning, nil, base)
	_, err := stores.Events.Append(ctx, other)
	require.NoError(t, err)

	t.Run("newest-first の降順", func(t *testing.T) {
		got, err := stores.Events.List(ctx, "job-1", domain.ListOptions{})
		require.NoError(t, err)
		require.Len(t, got, 5)
		for i := 1; i < len(got); i++ {
			assert.True(t, got[i-1].EmittedAt.After(got[i].EmittedAt))
		}
	})

	t.Run("Limit で件数を制限", func(t *testing.T) {
		got, err := stores.Events.List(ctx, "job-1", domain.ListOptions{Limit: 2})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, base.Add(4*time.Second), got[0].EmittedAt)
	})

	t.Run("Before 以降は除外", func(t *testing.T) {
		before := base.Add(2 * time.Second)
		got, err := stores.Events.List(ctx, "job-1", domain.ListOptions{Before: &before})
		require.NoError(t, err)
		require.Len(t, got, 2)
		for _, r := range got {
			assert.True(t, r.EmittedAt.Before(before))
		}
	})

	t.Run("同時刻は追記順の逆", func(t *testing.T) {
		at := base.Add(time.Hour)
		first := domain.NewJobStatusRecord("job-3", domain.JobStatusRunning, nil, at)
		second := domain.NewJobStatusRecord("job-3", domain.JobStatusCompleted, nil, at)
		_, err := stores.Events.Append(ctx, first)
		require.NoError(t, err)
		_, err = stores.Events.Append(ctx, second)
		require.NoError(t, err)

		got, err := stores.Events.List(ctx, "job-3", domain.ListOptions{})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, second.ID, got[0].ID)
	})
}

func TestEventLog_AppendIdempotent(t *testing.T) {
	ctx := context.Background()
	stores := NewBackend(WithClock(func() time.Time { return base })).Stores()

	rec := domain.NewJobStatusRecord("job-1", domain.JobStatusRunning, nil, time.Time{})
	saved, err := stores.Events.Append(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, base, saved.EmittedAt)

	_, err = stores.Events.Append(ctx, rec)
	require.NoError(t, err)

	got, err := stores.Events.List(ctx, "job-1", domain.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestJobRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	stores := NewBackend().Stores()
	initJob(t, ctx, stores, "job-1")

	failedAt := base.Add(time.Minute)
	_, err := stores.Jobs.RecordFailure(ctx, "job-1", domain.FailureInput{
		Failure:     domain.FailureRecord{OccurredAt: failedAt, Reason: "boom", Stage: "worker-runtime"},
		CompletedAt: &failedAt,
	})
	require.NoError(t, err)

	t.Run("再初期化で失敗履歴を保持し生成結果をリセット", func(t *testing.T) {
		job, err := stores.Jobs.InitializeJob(ctx, domain.InitializeJobInput{JobID: "job-1", RequestedAt: base, ReceivedAt: base})
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusRunning, job.Status)
		assert.Empty(t, job.Outline)
		assert.Empty(t, job.Chapters)
		assert.Nil(t, job.CompletedAt)
		require.Len(t, job.Failures, 1)
		assert.Equal(t, "boom", job.Failures[0].Reason)
	})

	t.Run("完了後の再保存と再初期化は拒否", func(t *testing.T) {
		_, err := stores.Jobs.SaveGenerationResult(ctx, domain.GenerationResult{JobID: "job-1", CompletedAt: base})
		require.NoError(t, err)

		_, err = stores.Jobs.SaveGenerationResult(ctx, domain.GenerationResult{JobID: "job-1", CompletedAt: base})
		assert.ErrorIs(t, err, domain.ErrJobCompleted)

		_, err = stores.Jobs.InitializeJob(ctx, domain.InitializeJobInput{JobID: "job-1"})
		assert.ErrorIs(t, err, domain.ErrJobCompleted)

		_, err = stores.Jobs.RecordFailure(ctx, "job-1", domain.FailureInput{})
		assert.ErrorIs(t, err, domain.ErrJobCompleted)
	})

	t.Run("存在しないジョブ", func(t *testing.T) {
		_, err := stores.Jobs.Get(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrJobNotFound)
		_, err = stores.Jobs.SaveGenerationResult(ctx, domain.GenerationResult{JobID: "missing"})
		assert.ErrorIs(t, err, domain.ErrJobNotFound)
	})
}

func TestMetricsRepository_Additive(t *testing.T) {
	ctx := context.Background()
	stores := NewBackend().Stores()

	require.NoError(t, stores.Metrics.IncrementCosts(ctx, "job-1", domain.CostBreakdown{TotalUSD: 0.25}))
	require.NoError(t, stores.Metrics.IncrementCosts(ctx, "job-1", domain.CostBreakdown{TotalUSD: 0.5}))
	require.NoError(t, stores.Metrics.IncrementTokens(ctx, "job-1", domain.TokenBreakdown{Total: 10}))
	require.NoError(t, stores.Metrics.UpdateLatency(ctx, "job-1", domain.LatencyBreakdown{Total: 7}))

	m, err := stores.Metrics.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.75, m.Cost.TotalUSD, 1e-9)
	assert.Equal(t, int64(10), m.Tokens.Total)
	assert.Equal(t, int64(7), m.LatencyMs.Total)

	require.NoError(t, stores.Metrics.Reset(ctx, "job-1"))
	m, err = stores.Metrics.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CostBreakdown{}, m.Cost)
	assert.Equal(t, domain.TokenBreakdown{}, m.Tokens)
	assert.Equal(t, domain.LatencyBreakdown{}, m.LatencyMs)
}

func TestMetadataRepository(t *testing.T) {
	ctx := context.Background()
	stores := NewBackend().Stores()
	name := "ミラ"
	role := "探偵"

	_, err := stores.Metadata.UpsertStoryBible(ctx, "job-1", domain.StoryBiblePatch{
		Characters: map[string]domain.CharacterPatch{
			"mira": {Name: &name, Role: &role},
			"ken":  {Name: &name},
		},
	})
	require.NoError(t, err)

	newRole := "元探偵"
	bible, err := stores.Metadata.UpsertStoryBible(ctx, "job-1", domain.StoryBiblePatch{
		Characters: map[string]domain.CharacterPatch{"mira": {Role: &newRole}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ミラ", bible.Characters["mira"].Name)
	assert.Equal(t, "元探偵", bible.Characters["mira"].Role)
	assert.Contains(t, bible.Characters, "ken")

	require.NoError(t, stores.Metadata.AddContinuityAlert(ctx, "job-1", domain.ContinuityAlert{AlertID: "a1", Severity: domain.AlertSeverityWarning}))
	require.NoError(t, stores.Metadata.ResolveContinuityAlert(ctx, "job-1", "a1"))
	assert.ErrorIs(t, stores.Metadata.ResolveContinuityAlert(ctx, "job-1", "nope"), domain.ErrAlertNotFound)
	require.NoError(t, stores.Metadata.AppendAIDecision(ctx, "job-1", domain.AIDecision{DecisionID: "d1"}))

	md, err := stores.Metadata.Get(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, md.ContinuityAlerts, 1)
	assert.True(t, md.ContinuityAlerts[0].Resolved)
	assert.NotNil(t, md.ContinuityAlerts[0].ResolvedAt)
	require.Len(t, md.AIDecisions, 1)
	assert.False(t, md.AIDecisions[0].DecidedAt.IsZero())
}

func TestBackend_Transact(t *testing.T) {
	ctx := context.Background()

	t.Run("エラー時は何も反映しない", func(t *testing.T) {
		b := NewBackend()
		initJob(t, ctx, b.Stores(), "job-1")
		sentinel := errors.New("metrics down")

		err := b.Transact(ctx, func(s domain.Stores) error {
			_, err := s.Jobs.SaveGenerationResult(ctx, domain.GenerationResult{JobID: "job-1", CompletedAt: base})
			require.NoError(t, err)
			_, err = s.Events.Append(ctx, domain.NewJobStatusRecord("job-1", domain.JobStatusCompleted, nil, base))
			require.NoError(t, err)

			// トランザクション内では自分の書き込みが見える
			job, err := s.Jobs.Get(ctx, "job-1")
			require.NoError(t, err)
			assert.Equal(t, domain.JobStatusCompleted, job.Status)
			return sentinel
		})
		assert.ErrorIs(t, err, sentinel)

		job, err := b.Stores().Jobs.Get(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusRunning, job.Status)
		events, err := b.Stores().Events.List(ctx, "job-1", domain.ListOptions{})
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("成功時はまとめて反映", func(t *testing.T) {
		b := NewBackend()
		initJob(t, ctx, b.Stores(), "job-1")

		var appended domain.EventRecord
		err := b.Transact(ctx, func(s domain.Stores) error {
			if _, err := s.Jobs.SaveGenerationResult(ctx, domain.GenerationResult{JobID: "job-1", CompletedAt: base}); err != nil {
				return err
			}
			rec, err := s.Events.Append(ctx, domain.NewJobStatusRecord("job-1", domain.JobStatusCompleted, nil, time.Time{}))
			appended = rec
			if err != nil {
				return err
			}
			return s.Metrics.IncrementCosts(ctx, "job-1", domain.CostBreakdown{TotalUSD: 1})
		})
		require.NoError(t, err)

		job, err := b.Stores().Jobs.Get(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusCompleted, job.Status)

		events, err := b.Stores().Events.List(ctx, "job-1", domain.ListOptions{})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, appended.ID, events[0].ID)
		assert.Equal(t, appended.EmittedAt, events[0].EmittedAt)

		m, err := b.Stores().Metrics.Get(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, 1.0, m.Cost.TotalUSD)
	})
}

func TestWithoutTransactions(t *testing.T) {
	b := WithoutTransactions(NewBackend())
	_, ok := b.(domain.TransactionalBackend)
	assert.False(t, ok)
	assert.NotNil(t, b.Stores().Jobs)
}

func TestJobRepository_ChapterAttemptsAreCopied(t *testing.T) {
	ctx := context.Background()
	chapters := func() []domain.Chapter {
		return []domain.Chapter{{
			Number: 1, Title: "c1", Status: domain.ChapterStatusCompleted,
			Attempts: []domain.ChapterAttempt{{Attempt: 1, Status: "completed", CostUSD: 0.5, Tokens: 100}},
		}}
	}

	tests := []struct {
		name   string
		mutate func(t *testing.T, b *Backend, input []domain.Chapter)
	}{
		{
			name: "保存に渡したスライスを書き換えても影響しない",
			mutate: func(t *testing.T, b *Backend, input []domain.Chapter) {
				input[0].Attempts[0].CostUSD = 99
			},
		},
		{
			name: "取得したジョブを書き換えても影響しない",
			mutate: func(t *testing.T, b *Backend, input []domain.Chapter) {
				job, err := b.Stores().Jobs.Get(ctx, "job-1")
				require.NoError(t, err)
				job.Chapters[0].Attempts[0].CostUSD = 99
				job.Chapters[0].Attempts = append(job.Chapters[0].Attempts, domain.ChapterAttempt{Attempt: 2})
			},
		},
		{
			name: "ロールバックしたトランザクション内の書き換えは残らない",
			mutate: func(t *testing.T, b *Backend, input []domain.Chapter) {
				err := b.Transact(ctx, func(s domain.Stores) error {
					job, err := s.Jobs.Get(ctx, "job-1")
					require.NoError(t, err)
					job.Chapters[0].Attempts[0].CostUSD = 99
					return errors.New("rollback")
				})
				require.Error(t, err)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBackend()
			initJob(t, ctx, b.Stores(), "job-1")
			input := chapters()
			_, err := b.Stores().Jobs.SaveGenerationResult(ctx, domain.GenerationResult{JobID: "job-1", Chapters: input, CompletedAt: base})
			require.NoError(t, err)

			tt.mutate(t, b, input)

			job, err := b.Stores().Jobs.Get(ctx, "job-1")
			require.NoError(t, err)
			require.Len(t, job.Chapters, 1)
			assert.Equal(t, chapters()[0].Attempts, job.Chapters[0].Attempts)
			assert.Equal(t, 0.5, job.Chapters[0].EffectiveCost())
		})
	}
}
