package testing

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jinford/novelforge/internal/module/job/domain"
)

// TestRequest はテスト用のGenerationRequestを生成します
func TestRequest(chapterCount int) domain.GenerationRequest {
	return domain.GenerationRequest{
		Title:           "霧の港",
		Premise:         "港町で起きる連続失踪事件を追う探偵の物語",
		Genre:           "mystery",
		Tone:            "noir",
		Language:        "ja",
		ChapterCount:    chapterCount,
		WordsPerChapter: 900,
	}
}

// TestOutline はテスト用のアウトラインを生成します
func TestOutline(n int) []domain.OutlineEntry {
	outline := make([]domain.OutlineEntry, n)
	for i := range n {
		outline[i] = domain.OutlineEntry{
			Number:  i + 1,
			Title:   fmt.Sprintf("第%d章", i+1),
			Summary: fmt.Sprintf("第%d章の要約", i+1),
		}
	}
	return outline
}

// TestChapter はテスト用の完了済みChapterを生成します
func TestChapter(number, words int, costUSD float64, tokens int64) domain.Chapter {
	return domain.Chapter{
		Number:    number,
		Title:     fmt.Sprintf("第%d章", number),
		Status:    domain.ChapterStatusCompleted,
		Content:   strings.TrimSpace(strings.Repeat("word ", words)),
		WordCount: words,
		CostUSD:   costUSD,
		Tokens:    tokens,
		Attempts: []domain.ChapterAttempt{
			{Attempt: 1, Status: "completed", CostUSD: costUSD, Tokens: tokens, LatencyMs: 1200, AttemptedAt: time.Now()},
		},
	}
}

// TestFailedChapter はテスト用の失敗したChapterを生成します
func TestFailedChapter(number int) domain.Chapter {
	return domain.Chapter{
		Number: number,
		Title:  fmt.Sprintf("第%d章", number),
		Status: domain.ChapterStatusFailed,
		Attempts: []domain.ChapterAttempt{
			{Attempt: 1, Status: "failed", Error: "timeout", AttemptedAt: time.Now()},
		},
	}
}

// SteppingClock は呼び出しごとに step だけ進む時計です
func SteppingClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	current := start.Add(-step)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(step)
		return current
	}
}
