package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrQueueEmpty は取得可能なジョブがない場合のエラー
	ErrQueueEmpty = errors.New("queue is empty")

	// ErrQueuedJobNotFound はキュー上のジョブが存在しない場合のエラー
	ErrQueuedJobNotFound = errors.New("queued job not found")

	// ErrLeaseLost はリースが失効した、または他のワーカーが再取得済みの場合のエラー
	ErrLeaseLost = errors.New("queue lease lost")
)

// Status はキュー上のジョブ状態です
type Status string

const (
	StatusQueued    Status = "queued"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusDead      Status = "dead"
)

// QueuedJob はキュー上の1件のジョブです
type QueuedJob struct {
	ID          string          `json:"id"`
	QueueName   string          `json:"queueName"`
	Payload     json.RawMessage `json:"payload"`
	Status      Status          `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	RequestedAt time.Time       `json:"requestedAt"`
	AvailableAt time.Time       `json:"availableAt"`
	LockedBy    string          `json:"lockedBy,omitempty"`
	LockedUntil *time.Time      `json:"lockedUntil,omitempty"`
	Progress    json.RawMessage `json:"progress,omitempty"`
	LastError   string          `json:"lastError,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Lease は Claim で得た占有の識別子です
// 同じワーカーでも試行回数が異なれば別のリースとして扱います
type Lease struct {
	JobID    string
	WorkerID string
	Attempt  int
}

// Lease はジョブを取得したワーカーのリースを返します
func (j *QueuedJob) Lease() Lease {
	return Lease{JobID: j.ID, WorkerID: j.LockedBy, Attempt: j.Attempts}
}

// EnqueueInput は Enqueue の入力です
type EnqueueInput struct {
	ID          string
	QueueName   string
	Payload     json.RawMessage
	MaxAttempts int
	RequestedAt time.Time
}

// ClaimInput は Claim の入力です
type ClaimInput struct {
	QueueName string
	WorkerID  string
	Lease     time.Duration
}

// QueueReader はキューの読み取り操作を定義します
type QueueReader interface {
	Get(ctx context.Context, id string) (*QueuedJob, error)
}

// Queue は永続キューのポートです
type Queue interface {
	QueueReader

	// Enqueue はジョブを投入します（同じIDが既にあれば既存のものを返します）
	Enqueue(ctx context.Context, input EnqueueInput) (*QueuedJob, error)

	// Claim は取得可能な最も古いジョブをリース付きで取得し、試行回数を1増やします
	// リースが失効した active のジョブも再取得の対象です
	// 取得可能なジョブがない場合は ErrQueueEmpty を返します
	Claim(ctx context.Context, input ClaimInput) (*QueuedJob, error)

	// 以降の更新はリースを保持している場合のみ成功し、失っていれば ErrLeaseLost を返します

	// Extend はリースの期限を現在時刻から d だけ延長します
	Extend(ctx context.Context, lease Lease, d time.Duration) error

	// ReportProgress は進捗（JSON）を保存します
	ReportProgress(ctx context.Context, lease Lease, progress json.RawMessage) error

	Complete(ctx context.Context, lease Lease) error
	Retry(ctx context.Context, lease Lease, reason string, availableAt time.Time) error
	DeadLetter(ctx context.Context, lease Lease, reason string) error
}
