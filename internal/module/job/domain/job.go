package domain

import (
	"fmt"
	"strings"
	"time"
)

// JobStatus はジョブのライフサイクル状態を表します
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsValid は定義済みのステータスかどうかを返します
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// IsTerminal は完了または失敗の状態かどうかを返します
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransitionTo は from から to への遷移が許可されているかを判定します
// failed → running はキューによる再試行（再初期化）のみで発生します
func (s JobStatus) CanTransitionTo(to JobStatus) bool {
	switch s {
	case "", JobStatusQueued:
		return to == JobStatusRunning || to == JobStatusQueued
	case JobStatusRunning:
		return to == JobStatusRunning || to == JobStatusCompleted || to == JobStatusFailed
	case JobStatusFailed:
		return to == JobStatusRunning || to == JobStatusFailed
	case JobStatusCompleted:
		return false
	}
	return false
}

// ChapterStatus は章の生成状態を表します
type ChapterStatus string

const (
	ChapterStatusPending   ChapterStatus = "pending"
	ChapterStatusCompleted ChapterStatus = "completed"
	ChapterStatusFailed    ChapterStatus = "failed"
)

// GenerationRequest はジョブ投入時に指定される生成リクエストです（不変）
type GenerationRequest struct {
	Title           string `json:"title"`
	Premise         string `json:"premise"`
	Genre           string `json:"genre,omitempty"`
	Audience        string `json:"audience,omitempty"`
	Tone            string `json:"tone,omitempty"`
	Language        string `json:"language,omitempty"`
	ChapterCount    int    `json:"chapterCount"`
	WordsPerChapter int    `json:"wordsPerChapter,omitempty"`
	Model           string `json:"model,omitempty"`
}

// Validate はリクエストの必須項目を検証します
func (r GenerationRequest) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Premise) == "" {
		return fmt.Errorf("%w: premise is required", ErrInvalidRequest)
	}
	if r.ChapterCount <= 0 {
		return fmt.Errorf("%w: chapterCount must be positive", ErrInvalidRequest)
	}
	if r.WordsPerChapter < 0 {
		return fmt.Errorf("%w: wordsPerChapter must not be negative", ErrInvalidRequest)
	}
	return nil
}

// OutlineEntry はアウトライン上の1章分のエントリです
type OutlineEntry struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	Summary string `json:"summary,omitempty"`
}

// ChapterAttempt は章生成の1回分の試行記録です
type ChapterAttempt struct {
	Attempt     int       `json:"attempt"`
	Status      string    `json:"status"`
	CostUSD     float64   `json:"costUsd"`
	Tokens      int64     `json:"tokens"`
	LatencyMs   int64     `json:"latencyMs"`
	Error       string    `json:"error,omitempty"`
	AttemptedAt time.Time `json:"attemptedAt"`
}

// Chapter は生成された章のレコードです
type Chapter struct {
	Number    int              `json:"number"`
	Title     string           `json:"title"`
	Status    ChapterStatus    `json:"status"`
	Content   string           `json:"content,omitempty"`
	WordCount int              `json:"wordCount"`
	CostUSD   float64          `json:"costUsd"`
	Tokens    int64            `json:"tokens"`
	Attempts  []ChapterAttempt `json:"attempts,omitempty"`
}

// HasContent は本文が空でないかを返します
func (c Chapter) HasContent() bool {
	return strings.TrimSpace(c.Content) != ""
}

// EffectiveCost は章レベルのコストがあればそれを、なければ試行履歴の合計を返します
func (c Chapter) EffectiveCost() float64 {
	if c.CostUSD > 0 {
		return c.CostUSD
	}
	var total float64
	for _, a := range c.Attempts {
		total += a.CostUSD
	}
	return total
}

// EffectiveTokens は章レベルのトークン数があればそれを、なければ試行履歴の合計を返します
func (c Chapter) EffectiveTokens() int64 {
	if c.Tokens > 0 {
		return c.Tokens
	}
	var total int64
	for _, a := range c.Attempts {
		total += a.Tokens
	}
	return total
}

// Latency は試行履歴のレイテンシ合計を返します
func (c Chapter) Latency() int64 {
	var total int64
	for _, a := range c.Attempts {
		total += a.LatencyMs
	}
	return total
}

// Summary は生成完了時の集計です
type Summary struct {
	ChaptersGenerated    int `json:"chaptersGenerated"`
	TotalChaptersPlanned int `json:"totalChaptersPlanned"`
	TotalWordCount       int `json:"totalWordCount"`
}

// Summarize はアウトラインと章から Summary を算出します
func Summarize(outline []OutlineEntry, chapters []Chapter, requestedChapters int) Summary {
	s := Summary{TotalChaptersPlanned: requestedChapters}
	if len(outline) > 0 {
		s.TotalChaptersPlanned = len(outline)
	}
	for _, ch := range chapters {
		if ch.HasContent() {
			s.ChaptersGenerated++
		}
		s.TotalWordCount += ch.WordCount
	}
	return s
}

// FailureRecord はジョブの失敗履歴です（追記のみ）
type FailureRecord struct {
	OccurredAt time.Time      `json:"occurredAt"`
	Reason     string         `json:"reason"`
	Stage      string         `json:"stage,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Job はジョブ集約です
type Job struct {
	ID          string            `json:"jobId"`
	Status      JobStatus         `json:"status"`
	Payload     GenerationRequest `json:"payload"`
	Outline     []OutlineEntry    `json:"outline"`
	Chapters    []Chapter         `json:"chapters"`
	Summary     *Summary          `json:"summary,omitempty"`
	Engine      map[string]any    `json:"engine,omitempty"`
	Failures    []FailureRecord   `json:"failures"`
	QueueName   string            `json:"queueName,omitempty"`
	RequestedAt *time.Time        `json:"requestedAt,omitempty"`
	ReceivedAt  *time.Time        `json:"receivedAt,omitempty"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
	DurationMs  *int64            `json:"durationMs,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// InitializeJobInput は InitializeJob の入力です
type InitializeJobInput struct {
	JobID       string
	Payload     GenerationRequest
	QueueName   string
	RequestedAt time.Time
	ReceivedAt  time.Time
}

// GenerationResult は SaveGenerationResult の入力です
type GenerationResult struct {
	JobID       string
	Outline     []OutlineEntry
	Chapters    []Chapter
	Summary     Summary
	Engine      map[string]any
	CompletedAt time.Time
	DurationMs  int64
}

// FailureInput は RecordFailure の入力です
type FailureInput struct {
	Failure     FailureRecord
	CompletedAt *time.Time
	DurationMs  *int64
}
