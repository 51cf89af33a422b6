package domain

import (
	"context"
)

// === Event Log Port ===

// EventLogReader はイベントログの読み取り操作を定義します
type EventLogReader interface {
	// List は newest-first で最大 opts.Limit 件を返します
	// opts.Before を指定した場合は emittedAt がそれより前のものに限ります
	List(ctx context.Context, jobID string, opts ListOptions) ([]EventRecord, error)
}

// EventLog はイベントログの永続化ポートです（追記のみ）
type EventLog interface {
	EventLogReader

	// Append はレコードを追記し、確定した emittedAt を持つレコードを返します
	// 同じIDのレコードが既に存在する場合は何もしません
	Append(ctx context.Context, record EventRecord) (EventRecord, error)
}

// === Job Repository Port ===

// JobReader はジョブ集約の読み取り操作を定義します
type JobReader interface {
	Get(ctx context.Context, jobID string) (*Job, error)
}

// JobWriter はジョブ集約の書き込み操作を定義します
type JobWriter interface {
	// InitializeJob はステータスを running にし、生成結果をリセットします（失敗履歴は保持）
	// 完了済みジョブの場合は ErrJobCompleted を返します
	InitializeJob(ctx context.Context, input InitializeJobInput) (*Job, error)

	// SaveGenerationResult はステータスを completed にし、生成結果を保存します
	// 完了済みジョブの場合は ErrJobCompleted を返します
	SaveGenerationResult(ctx context.Context, result GenerationResult) (*Job, error)

	// RecordFailure はステータスを failed にし、失敗履歴を追記します
	RecordFailure(ctx context.Context, jobID string, input FailureInput) (*Job, error)
}

// JobRepository はジョブ集約の永続化ポートです
type JobRepository interface {
	JobReader
	JobWriter
}

// === Metrics Repository Port ===

// MetricsReader はメトリクスの読み取り操作を定義します
type MetricsReader interface {
	Get(ctx context.Context, jobID string) (*Metrics, error)
}

// MetricsWriter はメトリクスの加算・リセット操作を定義します
type MetricsWriter interface {
	IncrementCosts(ctx context.Context, jobID string, delta CostBreakdown) error
	IncrementTokens(ctx context.Context, jobID string, delta TokenBreakdown) error
	UpdateLatency(ctx context.Context, jobID string, delta LatencyBreakdown) error
	Reset(ctx context.Context, jobID string) error
}

// MetricsRepository はメトリクスの永続化ポートです
type MetricsRepository interface {
	MetricsReader
	MetricsWriter
}

// === Metadata Repository Port ===

// MetadataReader はメタデータの読み取り操作を定義します
type MetadataReader interface {
	Get(ctx context.Context, jobID string) (*Metadata, error)
}

// MetadataWriter はメタデータの書き込み操作を定義します
type MetadataWriter interface {
	UpsertStoryBible(ctx context.Context, jobID string, patch StoryBiblePatch) (*StoryBible, error)
	AddContinuityAlert(ctx context.Context, jobID string, alert ContinuityAlert) error
	ResolveContinuityAlert(ctx context.Context, jobID, alertID string) error
	AppendAIDecision(ctx context.Context, jobID string, decision AIDecision) error
}

// MetadataRepository はメタデータの永続化ポートです
type MetadataRepository interface {
	MetadataReader
	MetadataWriter
}

// === Lock Port ===

// LockManager はジョブ単位の排他ロックを取得します
// トランザクションスコープのロックで、コミットまたはロールバックで解放されます
type LockManager interface {
	AcquireJobLock(ctx context.Context, jobID string) error
}

// === Backend ===

// Stores は1つの接続（またはトランザクション）に束ねられたストア群です
// Locks はトランザクション内でのみ設定されます
type Stores struct {
	Events   EventLog
	Jobs     JobRepository
	Metrics  MetricsRepository
	Metadata MetadataRepository
	Locks    LockManager
}

// Backend はストア群を提供します
type Backend interface {
	Stores() Stores
}

// TransactionalBackend は複数ストアへの書き込みを1つのトランザクションにまとめられる Backend です
// fn がエラーを返した場合、fn 内の書き込みはすべてロールバックされます
type TransactionalBackend interface {
	Backend
	Transact(ctx context.Context, fn func(Stores) error) error
}

// === Realtime / Queue Ports ===

// Publisher はイベントをリアルタイムチャネルへ配信します
// 呼び出し元をブロックせず、失敗は内部でログに記録されます
type Publisher interface {
	Publish(ctx context.Context, record EventRecord)
}

// ProgressReporter はキューへ進捗を報告します
type ProgressReporter interface {
	ReportProgress(ctx context.Context, jobID string, progress any) error
}
