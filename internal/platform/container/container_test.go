package container

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobdomain "github.com/jinford/novelforge/internal/module/job/domain"
	jobtesting "github.com/jinford/novelforge/internal/module/job/testing"
	queueapp "github.com/jinford/novelforge/internal/module/queue/application"
	queuedomain "github.com/jinford/novelforge/internal/module/queue/domain"
	"github.com/jinford/novelforge/internal/platform/config"
)

func testConfig(realtime bool) *config.Config {
	return &config.Config{
		Worker: config.WorkerConfig{
			Queue:        "novels",
			Concurrency:  1,
			PollInterval: 10 * time.Millisecond,
			Lease:        time.Minute,
			MaxAttempts:  2,
			BaseBackoff:  time.Second,
			MaxBackoff:   time.Minute,
		},
		Realtime: config.RealtimeConfig{Enabled: realtime, Channel: "novel_job_events", CatchupLimit: 50},
		OpenAI:   config.OpenAIConfig{PricingFile: "../../../config/llm_pricing.yaml"},
	}
}

func TestNewInMemory_EndToEnd(t *testing.T) {
	ctx := context.Background()
	publisher := &jobtesting.MockPublisher{}

	c, err := NewInMemory(testConfig(false), zerolog.Nop(), WithPublisher(publisher))
	require.NoError(t, err)
	defer c.Close(ctx)

	res, err := c.Submitter.Submit(ctx, queueapp.SubmitInput{JobID: "J1", Request: jobtesting.TestRequest(2)})
	require.NoError(t, err)
	require.False(t, res.Duplicate)

	handled, err := c.NewWorker("w1").RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, handled)

	queued, err := c.Queue.Get(ctx, "J1")
	require.NoError(t, err)
	assert.Equal(t, queuedomain.StatusCompleted, queued.Status)

	job, err := c.Backend.Stores().Jobs.Get(ctx, "J1")
	require.NoError(t, err)
	assert.Equal(t, jobdomain.JobStatusCompleted, job.Status)
	assert.Len(t, job.Chapters, 2)

	metrics, err := c.Backend.Stores().Metrics.Get(ctx, "J1")
	require.NoError(t, err)
	assert.Greater(t, metrics.Cost.TotalUSD, 0.0)

	records, err := c.Backend.Stores().Events.List(ctx, "J1", jobdomain.ListOptions{Limit: jobdomain.MaxListLimit})
	require.NoError(t, err)
	assert.NotEmpty(t, records)
	assert.NotEmpty(t, publisher.Published())
}

func TestNewInMemory_Hub(t *testing.T) {
	c, err := NewInMemory(testConfig(true), zerolog.Nop())
	require.NoError(t, err)

	hub, err := c.NewHub()
	require.NoError(t, err)
	assert.NotNil(t, hub)
	assert.NotNil(t, c.NewGateway(hub).Router())

	c, err = NewInMemory(testConfig(false), zerolog.Nop())
	require.NoError(t, err)
	hub, err = c.NewHub()
	require.NoError(t, err)
	assert.Nil(t, hub)
}
