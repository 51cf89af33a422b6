package application

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	jobdomain "github.com/jinford/novelforge/internal/module/job/domain"
	"github.com/jinford/novelforge/internal/module/queue/domain"
)

// SubmitScope はキューへの投入とイベントの記録を1つの単位で実行します
type SubmitScope func(ctx context.Context, fn func(queue domain.Queue, events jobdomain.EventLog) error) error

// DirectScope はトランザクションを使わずに実行する SubmitScope を返します
func DirectScope(queue domain.Queue, events jobdomain.EventLog) SubmitScope {
	return func(_ context.Context, fn func(domain.Queue, jobdomain.EventLog) error) error {
		return fn(queue, events)
	}
}

// SubmitInput は Submit の入力です
type SubmitInput struct {
	// JobID が空の場合は新しいIDを採番します
	JobID       string
	Request     jobdomain.GenerationRequest
	MaxAttempts int
}

// SubmitResult は Submit の結果です
type SubmitResult struct {
	Job *domain.QueuedJob

	// Duplicate は同じIDのジョブが既に投入済みだった場合に true です
	Duplicate bool
}

// SubmitterOption は Submitter のオプションです
type SubmitterOption func(*Submitter)

// WithSubmitPublisher は queued イベントの配信先を設定します
func WithSubmitPublisher(publisher jobdomain.Publisher) SubmitterOption {
	return func(s *Submitter) {
		s.publisher = publisher
	}
}

// WithSubmitClock は時刻の取得元を差し替えます
func WithSubmitClock(now func() time.Time) SubmitterOption {
	return func(s *Submitter) {
		s.now = now
	}
}

// Submitter は生成リクエストをキューへ投入します
type Submitter struct {
	scope     SubmitScope
	queueName string
	publisher jobdomain.Publisher
	now       func() time.Time
}

// NewSubmitter は Submitter を作成します
func NewSubmitter(scope SubmitScope, queueName string, opts ...SubmitterOption) *Submitter {
	s := &Submitter{scope: scope, queueName: queueName, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit はリクエストを検証してキューへ投入し、job-status(queued) イベントを記録します
// 同じIDのジョブが既にある場合は既存のジョブを返し、イベントは記録しません
func (s *Submitter) Submit(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	if err := in.Request.Validate(); err != nil {
		return nil, err
	}
	jobID := in.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}
	payload, err := json.Marshal(in.Request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	requestedAt := s.now().UTC().Truncate(time.Microsecond)

	var (
		result SubmitResult
		record jobdomain.EventRecord
	)
	err = s.scope(ctx, func(queue domain.Queue, events jobdomain.EventLog) error {
		job, err := queue.Enqueue(ctx, domain.EnqueueInput{
			ID:          jobID,
			QueueName:   s.queueName,
			Payload:     payload,
			MaxAttempts: in.MaxAttempts,
			RequestedAt: requestedAt,
		})
		if err != nil {
			return fmt.Errorf("failed to enqueue job: %w", err)
		}
		result.Job = job
		if !job.RequestedAt.Equal(requestedAt) {
			result.Duplicate = true
			return nil
		}

		record, err = events.Append(ctx, jobdomain.NewJobStatusRecord(jobID, jobdomain.JobStatusQueued, map[string]any{
			"queueName":   s.queueName,
			"maxAttempts": job.MaxAttempts,
		}, requestedAt))
		if err != nil {
			return fmt.Errorf("failed to append queued event: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Duplicate && s.publisher != nil {
		s.publisher.Publish(ctx, record)
	}
	return &result, nil
}
