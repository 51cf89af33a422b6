package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/jinford/novelforge/internal/module/engine/domain"
)

const (
	// DefaultModel は既定のモデル
	DefaultModel = "gpt-4o-mini"

	// DefaultTimeout は1回の生成（再試行を含む）のタイムアウト
	DefaultTimeout = 120 * time.Second

	// invalidJSONRegenerations は JSON として解析できない応答を再生成する回数
	invalidJSONRegenerations = 1
)

var (
	// ErrAPIKeyNotSet はAPIキーが設定されていない場合のエラー
	ErrAPIKeyNotSet = errors.New("OpenAI API key not set: please set OPENAI_API_KEY environment variable")

	// ErrMaxRetriesExceeded は最大リトライ回数を超過した場合のエラー
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

// RetryPolicy はレート制限・サーバーエラー時の再試行方針です
type RetryPolicy struct {
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy は既定の再試行方針を返す
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseBackoff: 2 * time.Second, MaxBackoff: 32 * time.Second}
}

// Backoff は attempt 回目のリトライ前の待機時間を返す
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt-1))) * p.BaseBackoff
	if d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// ClientOption は Client のオプションです
type ClientOption func(*Client)

// WithModel は既定のモデルを設定する（空文字は無視）
func WithModel(model string) ClientOption {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithTimeout は1回の生成のタイムアウトを設定する
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithRetryPolicy は再試行方針を設定する
func WithRetryPolicy(policy RetryPolicy) ClientOption {
	return func(c *Client) {
		c.retry = policy
	}
}

// WithRequestOptions は openai-go のリクエストオプションを追加する
func WithRequestOptions(opts ...option.RequestOption) ClientOption {
	return func(c *Client) {
		c.requestOpts = append(c.requestOpts, opts...)
	}
}

// Client は Chat Completions API を使う domain.LLMClient の実装です
type Client struct {
	client      openai.Client
	model       string
	timeout     time.Duration
	retry       RetryPolicy
	requestOpts []option.RequestOption
	sleep       func(ctx context.Context, d time.Duration) error
}

var _ domain.LLMClient = (*Client)(nil)

// NewClient は Client を作成する
// SDK 側の自動リトライは無効にし、RetryPolicy に従って再試行する
func NewClient(apiKey string, opts ...ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	c := &Client{
		model:   DefaultModel,
		timeout: DefaultTimeout,
		retry:   DefaultRetryPolicy(),
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}

	reqOpts := append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, c.requestOpts...)
	c.client = openai.NewClient(reqOpts...)
	return c, nil
}

// ModelName はモデル名を返す
func (c *Client) ModelName() string {
	return c.model
}

// GenerateCompletion はテキストを生成する
// JSON形式を要求した場合、解析できない応答は1回だけ再生成する
func (c *Client) GenerateCompletion(ctx context.Context, req domain.CompletionRequest) (domain.CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	model := c.model
	if req.Model != "" {
		model = req.Model
	}

	// 再生成分のトークンも呼び出し元に計上させる
	var total domain.TokenUsage
	for regenerated := 0; ; regenerated++ {
		resp, err := c.complete(ctx, model, req)
		if err != nil {
			return domain.CompletionResponse{}, err
		}
		total.PromptTokens += resp.Usage.PromptTokens
		total.ResponseTokens += resp.Usage.ResponseTokens
		total.TotalTokens += resp.Usage.TotalTokens
		resp.Usage = total

		if req.ResponseFormat != domain.ResponseFormatJSON || json.Valid([]byte(resp.Content)) {
			return resp, nil
		}
		if regenerated >= invalidJSONRegenerations {
			return domain.CompletionResponse{}, fmt.Errorf("%w: response is not valid JSON after %d regenerations", domain.ErrInvalidCompletion, regenerated)
		}
	}
}

// complete は再試行方針に従って1回分の応答を取得する
func (c *Client) complete(ctx context.Context, model string, req domain.CompletionRequest) (domain.CompletionResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.retry.Backoff(attempt)); err != nil {
				return domain.CompletionResponse{}, err
			}
		}

		completion, err := c.client.Chat.Completions.New(ctx, buildParams(model, req))
		if err != nil {
			lastErr = err
			if isRetryable(err) {
				continue
			}
			return domain.CompletionResponse{}, fmt.Errorf("failed to call chat completions: %w", err)
		}

		if len(completion.Choices) == 0 {
			return domain.CompletionResponse{}, fmt.Errorf("%w: no completion choices returned", domain.ErrInvalidCompletion)
		}

		return domain.CompletionResponse{
			Content: completion.Choices[0].Message.Content,
			Model:   string(completion.Model),
			Usage: domain.TokenUsage{
				PromptTokens:   int(completion.Usage.PromptTokens),
				ResponseTokens: int(completion.Usage.CompletionTokens),
				TotalTokens:    int(completion.Usage.TotalTokens),
			},
		}, nil
	}

	return domain.CompletionResponse{}, fmt.Errorf("%w (%d retries): %v", ErrMaxRetriesExceeded, c.retry.MaxRetries, lastErr)
}

func buildParams(model string, req domain.CompletionRequest) openai.ChatCompletionNewParams {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.ResponseFormat == domain.ResponseFormatJSON {
		// Type は省略時に "json_object" としてシリアライズされる
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{OfJSONObject: &shared.ResponseFormatJSONObjectParam{}}
	}
	return params
}

// isRetryable はレート制限とサーバーエラーを再試行対象とする
func isRetryable(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
