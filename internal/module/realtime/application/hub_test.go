package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobdomain "github.com/jinford/novelforge/internal/module/job/domain"
	"github.com/jinford/novelforge/internal/module/realtime/application"
	"github.com/jinford/novelforge/internal/module/realtime/domain"
)

type chanSource chan application.Notification

func (s chanSource) Notifications(context.Context) <-chan application.Notification { return s }

func notification(t *testing.T, jobID string) (application.Notification, string) {
	t.Helper()
	record := jobdomain.NewJobStatusRecord(jobID, jobdomain.JobStatusRunning, nil, time.Now())
	payload, err := domain.Encode(record)
	require.NoError(t, err)
	return application.Notification{Payload: payload}, record.ID.String()
}

func receive(t *testing.T, s application.Stream) (domain.Update, bool) {
	t.Helper()
	select {
	case u, ok := <-s.Updates():
		return u, ok
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for update")
		return domain.Update{}, false
	}
}

func TestHub_RoutesByJob(t *testing.T) {
	ctx := context.Background()
	src := make(chanSource)
	hub := application.NewHub(src)

	s1, err := hub.Subscribe(ctx, "J1")
	require.NoError(t, err)
	s2, err := hub.Subscribe(ctx, "J2")
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Subscribers("J1"))

	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	n, id := notification(t, "J1")
	src <- n
	src <- application.Notification{Payload: []byte("not json")}
	src <- application.Notification{Reconnected: true}

	u, ok := receive(t, s1)
	require.True(t, ok)
	require.NotNil(t, u.Message)
	assert.Equal(t, id, u.Message.ID)

	u, ok = receive(t, s1)
	require.True(t, ok)
	assert.True(t, u.Reconnected)

	// J2 には J1 のメッセージが届かない
	u, ok = receive(t, s2)
	require.True(t, ok)
	assert.True(t, u.Reconnected)

	close(src)
	require.NoError(t, <-done)

	_, ok = receive(t, s1)
	assert.False(t, ok)
	assert.Equal(t, 0, hub.Subscribers("J1"))
}

func TestHub_DropsWhenSubscriberIsFull(t *testing.T) {
	ctx := context.Background()
	src := make(chanSource)
	hub := application.NewHub(src, application.WithSubscriberBuffer(1))

	sub, err := hub.Subscribe(ctx, "J1")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	first, firstID := notification(t, "J1")
	second, _ := notification(t, "J1")
	src <- first
	src <- second
	close(src)
	require.NoError(t, <-done)

	u, ok := receive(t, sub)
	require.True(t, ok)
	assert.Equal(t, firstID, u.Message.ID)

	_, ok = receive(t, sub)
	assert.False(t, ok)
}

func TestHub_SubscriptionClose(t *testing.T) {
	hub := application.NewHub(make(chanSource))
	sub, err := hub.Subscribe(context.Background(), "J1")
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.Equal(t, 0, hub.Subscribers("J1"))

	_, ok := <-sub.Updates()
	assert.False(t, ok)
}
