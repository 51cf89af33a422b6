// Package synthetic は外部APIを呼ばずに決定的な応答を返すLLMクライアントです
// デモ実行とテストで使用します
package synthetic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jinford/novelforge/internal/module/engine/domain"
)

// ModelName は合成クライアントが報告するモデル名です
const ModelName = "synthetic"

// ErrInjectedFailure は FailChapters で注入された失敗です
var ErrInjectedFailure = errors.New("synthetic: injected failure")

var vocabulary = []string{
	"the", "wind", "carried", "a", "quiet", "promise", "over", "old", "harbor",
	"while", "lanterns", "flickered", "and", "someone", "remembered", "home",
}

// Client は domain.LLMClient の合成実装です
type Client struct {
	// Delay は1回の呼び出しごとの待機時間です
	Delay time.Duration

	// FailChapters は章番号ごとに、先頭から何回の試行を失敗させるかを指定します
	FailChapters map[int]int

	// FailStages に含まれるステージは常に失敗します
	FailStages map[string]bool

	mu    sync.Mutex
	calls map[int]int
}

var _ domain.LLMClient = (*Client)(nil)

// NewClient は Client を作成します
func NewClient() *Client {
	return &Client{}
}

// ModelName はモデル名を返します
func (c *Client) ModelName() string {
	return ModelName
}

// GenerateCompletion はステージに応じた決定的な応答を返します
func (c *Client) GenerateCompletion(ctx context.Context, req domain.CompletionRequest) (domain.CompletionResponse, error) {
	if c.Delay > 0 {
		timer := time.NewTimer(c.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return domain.CompletionResponse{}, ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return domain.CompletionResponse{}, err
	}
	if c.FailStages[req.Stage] {
		return domain.CompletionResponse{}, fmt.Errorf("%w: stage %s", ErrInjectedFailure, req.Stage)
	}

	var (
		content string
		err     error
	)
	switch req.Stage {
	case "analysis":
		content, err = analysis(req.Params)
	case "outline":
		content, err = outline(req.Params)
	case "chapters":
		content, err = c.chapter(req.Params)
	default:
		return domain.CompletionResponse{}, fmt.Errorf("synthetic: unknown stage %q", req.Stage)
	}
	if err != nil {
		return domain.CompletionResponse{}, err
	}

	prompt := approxTokens(req.System + req.Prompt)
	response := approxTokens(content)
	return domain.CompletionResponse{
		Content: content,
		Model:   ModelName,
		Usage: domain.TokenUsage{
			PromptTokens:   prompt,
			ResponseTokens: response,
			TotalTokens:    prompt + response,
		},
	}, nil
}

// Calls は章番号ごとの呼び出し回数を返します
func (c *Client) Calls(chapter int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[chapter]
}

func analysis(params map[string]any) (string, error) {
	title, _ := params["title"].(string)
	result := map[string]any{
		"themes":  []string{"memory", "belonging"},
		"setting": fmt.Sprintf("the coastal town where %s unfolds", title),
		"characters": []map[string]string{
			{"id": "mira", "name": "Mira", "role": "protagonist", "description": "a lighthouse keeper", "arc": "learns to leave"},
			{"id": "tobias", "name": "Tobias", "role": "mentor", "description": "a retired sailor", "arc": "lets go of the past"},
		},
		"locations": []map[string]string{
			{"name": "Lighthouse", "description": "the tower above the harbor"},
		},
		"rationale": "a small cast keeps the story focused",
	}
	b, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to marshal analysis: %w", err)
	}
	return string(b), nil
}

func outline(params map[string]any) (string, error) {
	n := intParam(params, "chapterCount", 1)
	chapters := make([]map[string]any, 0, n)
	for i := 1; i <= n; i++ {
		chapters = append(chapters, map[string]any{
			"number":  i,
			"title":   fmt.Sprintf("Chapter %d", i),
			"summary": fmt.Sprintf("events of part %d", i),
		})
	}
	b, err := json.Marshal(map[string]any{"chapters": chapters})
	if err != nil {
		return "", fmt.Errorf("failed to marshal outline: %w", err)
	}
	return string(b), nil
}

func (c *Client) chapter(params map[string]any) (string, error) {
	number := intParam(params, "chapterNumber", 0)
	words := intParam(params, "words", 100)

	c.mu.Lock()
	if c.calls == nil {
		c.calls = make(map[int]int)
	}
	c.calls[number]++
	call := c.calls[number]
	c.mu.Unlock()

	if call <= c.FailChapters[number] {
		return "", fmt.Errorf("%w: chapter %d attempt %d", ErrInjectedFailure, number, call)
	}

	var sb strings.Builder
	if names, ok := params["characters"].([]string); ok && len(names) > 0 {
		sb.WriteString(names[(number-1+len(names))%len(names)])
		words--
	}
	for i := 0; i < words; i++ {
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(vocabulary[(number+i)%len(vocabulary)])
	}
	sb.WriteByte('.')
	return sb.String(), nil
}

func intParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func approxTokens(s string) int {
	n := len(s) / 4
	if n == 0 && s != "" {
		n = 1
	}
	return n
}
