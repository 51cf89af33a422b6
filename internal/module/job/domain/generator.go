package domain

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// StageEventType は生成ステージが発行するイベントの種類です
type StageEventType string

const (
	StageEventLog       StageEventType = "stage-log"
	StageEventStarted   StageEventType = "stage-started"
	StageEventCompleted StageEventType = "stage-completed"
)

// StageEvent は生成ステージの進捗ログです
type StageEvent struct {
	Type       StageEventType `json:"type"`
	Stage      string         `json:"stage"`
	Level      string         `json:"level,omitempty"`
	Message    string         `json:"message,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// ProgressSnapshot はビジネスイベントに添付される進捗のスナップショットです
type ProgressSnapshot struct {
	Stage             string  `json:"stage"`
	ChaptersCompleted int     `json:"chaptersCompleted"`
	ChaptersPlanned   int     `json:"chaptersPlanned"`
	TotalWordCount    int     `json:"totalWordCount"`
	Percent           float64 `json:"percent"`
}

// BusinessEvent はビジネス上意味のあるイベントです（例: outline-ready）
type BusinessEvent struct {
	Type       string            `json:"type"`
	Progress   *ProgressSnapshot `json:"progress,omitempty"`
	Data       map[string]any    `json:"data,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
}

// GenerationContext は生成パイプラインの入出力です
// Run は初期コンテキストを受け取り、各ステージの成果を埋めたコンテキストを返します
type GenerationContext struct {
	JobID    string
	Request  GenerationRequest
	Outline  []OutlineEntry
	Chapters []Chapter

	AnalysisUsage StageUsage
	OutlineUsage  StageUsage

	StoryBible StoryBiblePatch
	Decisions  []AIDecision
	Alerts     []ContinuityAlert

	Engine map[string]any
}

// Hooks は生成パイプラインに渡されるコールバック群です
// Emit と PublishDomainEvent は0回以上、Run が戻る前に同期的に呼ばれます
type Hooks struct {
	Emit               func(ctx context.Context, event StageEvent)
	PublishDomainEvent func(ctx context.Context, event BusinessEvent)
	Logger             zerolog.Logger
	Now                func() time.Time
}

// Generator は外部の生成ケイパビリティのポートです
type Generator interface {
	Run(ctx context.Context, initial GenerationContext, hooks Hooks) (GenerationContext, error)
}

// GeneratorFunc は関数を Generator として扱うアダプタです
type GeneratorFunc func(ctx context.Context, initial GenerationContext, hooks Hooks) (GenerationContext, error)

// Run は f を呼び出します
func (f GeneratorFunc) Run(ctx context.Context, initial GenerationContext, hooks Hooks) (GenerationContext, error) {
	return f(ctx, initial, hooks)
}
