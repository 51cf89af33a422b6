package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from JobStatus
		to   JobStatus
		want bool
	}{
		{name: "新規 → running", from: "", to: JobStatusRunning, want: true},
		{name: "queued → running", from: JobStatusQueued, to: JobStatusRunning, want: true},
		{name: "running → completed", from: JobStatusRunning, to: JobStatusCompleted, want: true},
		{name: "running → failed", from: JobStatusRunning, to: JobStatusFailed, want: true},
		{name: "running → queued（後退）", from: JobStatusRunning, to: JobStatusQueued, want: false},
		{name: "failed → running（再試行）", from: JobStatusFailed, to: JobStatusRunning, want: true},
		{name: "failed → completed", from: JobStatusFailed, to: JobStatusCompleted, want: false},
		{name: "completed → running", from: JobStatusCompleted, to: JobStatusRunning, want: false},
		{name: "completed → failed", from: JobStatusCompleted, to: JobStatusFailed, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestGenerationRequest_Validate(t *testing.T) {
	valid := GenerationRequest{Title: "霧の港", Premise: "港町で起きる失踪事件", ChapterCount: 3}

	tests := []struct {
		name    string
		mutate  func(r *GenerationRequest)
		wantErr bool
	}{
		{name: "正常", mutate: func(r *GenerationRequest) {}, wantErr: false},
		{name: "タイトルなし", mutate: func(r *GenerationRequest) { r.Title = "  " }, wantErr: true},
		{name: "前提なし", mutate: func(r *GenerationRequest) { r.Premise = "" }, wantErr: true},
		{name: "章数ゼロ", mutate: func(r *GenerationRequest) { r.ChapterCount = 0 }, wantErr: true},
		{name: "語数が負", mutate: func(r *GenerationRequest) { r.WordsPerChapter = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			err := req.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRequest)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	chapters := []Chapter{
		{Number: 1, Content: "本文", WordCount: 900, Status: ChapterStatusCompleted},
		{Number: 2, Content: "   ", WordCount: 0, Status: ChapterStatusFailed},
	}

	t.Run("アウトラインがあれば章数はアウトライン長", func(t *testing.T) {
		outline := []OutlineEntry{{Number: 1}, {Number: 2}}
		got := Summarize(outline, chapters, 5)
		assert.Equal(t, Summary{ChaptersGenerated: 1, TotalChaptersPlanned: 2, TotalWordCount: 900}, got)
	})

	t.Run("アウトラインがなければリクエストの章数", func(t *testing.T) {
		got := Summarize(nil, chapters, 5)
		assert.Equal(t, 5, got.TotalChaptersPlanned)
		assert.Equal(t, 1, got.ChaptersGenerated)
	})
}

func TestChapter_EffectiveCostAndTokens(t *testing.T) {
	attempts := []ChapterAttempt{
		{Attempt: 1, CostUSD: 0.01, Tokens: 100, LatencyMs: 20},
		{Attempt: 2, CostUSD: 0.02, Tokens: 200, LatencyMs: 30},
	}

	t.Run("章レベルの値を優先", func(t *testing.T) {
		ch := Chapter{CostUSD: 0.5, Tokens: 1000, Attempts: attempts}
		assert.Equal(t, 0.5, ch.EffectiveCost())
		assert.Equal(t, int64(1000), ch.EffectiveTokens())
	})

	t.Run("章レベルの値がなければ試行履歴を合計", func(t *testing.T) {
		ch := Chapter{Attempts: attempts}
		assert.InDelta(t, 0.03, ch.EffectiveCost(), 1e-9)
		assert.Equal(t, int64(300), ch.EffectiveTokens())
		assert.Equal(t, int64(50), ch.Latency())
	})
}

func TestDeltaFromGeneration(t *testing.T) {
	chapters := []Chapter{
		{CostUSD: 0.10, Tokens: 1000, Attempts: []ChapterAttempt{{LatencyMs: 40}}},
		{Attempts: []ChapterAttempt{{CostUSD: 0.05, Tokens: 500, LatencyMs: 60}}},
	}
	delta := DeltaFromGeneration(
		StageUsage{CostUSD: 0.01, Tokens: 100, LatencyMs: 10},
		StageUsage{CostUSD: 0.02, Tokens: 200, LatencyMs: 20},
		chapters,
	)

	assert.InDelta(t, 0.18, delta.Cost.TotalUSD, 1e-9)
	assert.InDelta(t, 0.15, delta.Cost.ChaptersUSD, 1e-9)
	assert.Equal(t, TokenBreakdown{Total: 1800, Analysis: 100, Outline: 200, Chapters: 1500}, delta.Tokens)
	assert.Equal(t, LatencyBreakdown{Total: 130, Analysis: 10, Outline: 20, Chapters: 100}, delta.Latency)
	assert.False(t, delta.IsZero())
	assert.True(t, MetricsDelta{}.IsZero())
}
