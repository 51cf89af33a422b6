package domain

import (
	"context"
	"errors"
)

var (
	// ErrNoChaptersGenerated は本文を持つ章が1つも生成されなかった場合のエラー
	ErrNoChaptersGenerated = errors.New("no chapters generated")

	// ErrInvalidCompletion はLLMの応答を解釈できない場合のエラー
	ErrInvalidCompletion = errors.New("invalid completion")
)

// ResponseFormat はLLMに要求する応答形式です
type ResponseFormat string

const (
	ResponseFormatText ResponseFormat = "text"
	ResponseFormatJSON ResponseFormat = "json"
)

// CompletionRequest はLLMへの1回の生成リクエストです
type CompletionRequest struct {
	Stage          string
	System         string
	Prompt         string
	Model          string
	Temperature    float64
	MaxTokens      int
	ResponseFormat ResponseFormat

	// Params はプロンプトに埋め込んだ値の構造化コピーです（オフラインのクライアントが参照します）
	Params map[string]any
}

// CompletionResponse はLLMの応答です
type CompletionResponse struct {
	Content string
	Model   string

	// Usage がゼロの場合、呼び出し側でトークン数を数えます
	Usage TokenUsage
}

// TokenUsage はトークン使用量を表す
type TokenUsage struct {
	PromptTokens   int `json:"promptTokens"`
	ResponseTokens int `json:"responseTokens"`
	TotalTokens    int `json:"totalTokens"`
}

// IsZero は使用量が記録されていないかを返します
func (u TokenUsage) IsZero() bool {
	return u.TotalTokens == 0 && u.PromptTokens == 0 && u.ResponseTokens == 0
}

// LLMClient はテキスト生成のポートです
type LLMClient interface {
	GenerateCompletion(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
	ModelName() string
}

// TokenCounter はテキストのトークン数を数えます
type TokenCounter interface {
	CountTokens(text string) int
}
