package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	jobmemory "github.com/jinford/novelforge/internal/module/job/adapter/memory"
	jobdomain "github.com/jinford/novelforge/internal/module/job/domain"
	queuememory "github.com/jinford/novelforge/internal/module/queue/adapter/memory"
	queuedomain "github.com/jinford/novelforge/internal/module/queue/domain"
	rtdomain "github.com/jinford/novelforge/internal/module/realtime/domain"
)

func TestSummarize(t *testing.T) {
	tests := []struct {
		name string
		msg  rtdomain.Message
		want string
	}{
		{
			name: "ステータスイベント",
			msg:  rtdomain.Message{Kind: jobdomain.EventKindJobStatus, Status: jobdomain.JobStatusRunning},
			want: "running",
		},
		{
			name: "ステージイベント",
			msg: rtdomain.Message{
				Kind:  jobdomain.EventKindGeneration,
				Event: json.RawMessage(`{"type":"stage-start","stage":"outline","message":"building outline"}`),
			},
			want: "stage-start / outline / building outline",
		},
		{
			name: "ビジネスイベント",
			msg: rtdomain.Message{
				Kind:  jobdomain.EventKindDomain,
				Event: json.RawMessage(`{"type":"outline-ready"}`),
			},
			want: "outline-ready",
		},
		{
			name: "切り詰められたイベント",
			msg:  rtdomain.Message{Kind: jobdomain.EventKindGeneration, Truncated: true},
			want: "(truncated)",
		},
		{
			name: "JSONでない本体",
			msg:  rtdomain.Message{Kind: jobdomain.EventKindDomain, Event: json.RawMessage(`oops`)},
			want: "oops",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, summarize(tt.msg))
		})
	}
}

func TestRenderEvents(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	renderEvents(&buf, []rtdomain.Message{
		{ID: "b", Kind: jobdomain.EventKindJobStatus, Status: jobdomain.JobStatusCompleted, EmittedAt: at.Add(time.Second)},
		{ID: "a", Kind: jobdomain.EventKindJobStatus, Status: jobdomain.JobStatusQueued, EmittedAt: at},
	})

	out := buf.String()
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "queued")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("completed")), bytes.Index(buf.Bytes(), []byte("queued")))
}

func TestRenderMetrics(t *testing.T) {
	var buf bytes.Buffer
	renderMetrics(&buf, &jobdomain.Metrics{
		JobID:  "job-1",
		Cost:   jobdomain.CostBreakdown{TotalUSD: 0.5, ChaptersUSD: 0.5},
		Tokens: jobdomain.TokenBreakdown{Total: 1200, Chapters: 1200},
	})

	out := buf.String()
	assert.Contains(t, out, "job-1")
	assert.Contains(t, out, "0.500000")
	assert.Contains(t, out, "1200")
}

func TestShowJob(t *testing.T) {
	ctx := context.Background()
	backend := jobmemory.NewBackend()
	queue := queuememory.NewQueue(nil)

	payload, err := json.Marshal(jobdomain.GenerationRequest{Title: "t", Premise: "p", ChapterCount: 1})
	require.NoError(t, err)
	_, err = queue.Enqueue(ctx, queuedomain.EnqueueInput{ID: "queued-job", QueueName: "q", Payload: payload, MaxAttempts: 3})
	require.NoError(t, err)

	_, err = backend.Stores().Jobs.InitializeJob(ctx, jobdomain.InitializeJobInput{
		JobID:   "running-job",
		Payload: jobdomain.GenerationRequest{Title: "Lanterns", Premise: "p", ChapterCount: 1},
	})
	require.NoError(t, err)

	tests := []struct {
		name    string
		jobID   string
		want    []string
		wantErr bool
	}{
		{
			name:  "ジョブストアにあるジョブ",
			jobID: "running-job",
			want:  []string{"running", "Lanterns"},
		},
		{
			name:  "キューにだけあるジョブ",
			jobID: "queued-job",
			want:  []string{"キュー: queued-job", "queued", "0/3"},
		},
		{
			name:    "存在しないジョブ",
			jobID:   "missing",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			cmd := &cli.Command{Writer: &buf}

			err := showJob(ctx, cmd, backend.Stores().Jobs, queue, tt.jobID)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			for _, s := range tt.want {
				assert.Contains(t, buf.String(), s)
			}
		})
	}
}

func TestResetMetrics(t *testing.T) {
	ctx := context.Background()
	backend := jobmemory.NewBackend()
	metrics := backend.Stores().Metrics

	require.NoError(t, metrics.IncrementCosts(ctx, "job-1", jobdomain.CostBreakdown{TotalUSD: 1}))
	require.NoError(t, resetMetrics(ctx, metrics, "job-1"))

	m, err := metrics.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Zero(t, m.Cost.TotalUSD)
}
