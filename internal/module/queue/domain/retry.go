package domain

import "time"

// RetryPolicy は失敗時の再試行方針です
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy は既定の再試行方針を返します
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseBackoff: 5 * time.Second, MaxBackoff: 5 * time.Minute}
}

// Backoff は attempt 回目の失敗後の待機時間を返します（base * 2^(attempt-1)、上限 MaxBackoff）
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxBackoff > 0 && delay >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && delay > p.MaxBackoff {
		return p.MaxBackoff
	}
	return delay
}

// Exhausted は attempts 回試行した後に再試行の余地がないかを返します
func (p RetryPolicy) Exhausted(attempts, maxAttempts int) bool {
	limit := maxAttempts
	if limit <= 0 {
		limit = p.MaxAttempts
	}
	return attempts >= limit
}
