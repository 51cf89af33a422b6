package domain

import "time"

// CostBreakdown はステージ別のコスト（USD）です
type CostBreakdown struct {
	TotalUSD    float64 `json:"totalUsd"`
	AnalysisUSD float64 `json:"analysisUsd"`
	OutlineUSD  float64 `json:"outlineUsd"`
	ChaptersUSD float64 `json:"chaptersUsd"`
}

// Add は加算結果を返します
func (c CostBreakdown) Add(d CostBreakdown) CostBreakdown {
	return CostBreakdown{
		TotalUSD:    c.TotalUSD + d.TotalUSD,
		AnalysisUSD: c.AnalysisUSD + d.AnalysisUSD,
		OutlineUSD:  c.OutlineUSD + d.OutlineUSD,
		ChaptersUSD: c.ChaptersUSD + d.ChaptersUSD,
	}
}

// TokenBreakdown はステージ別のトークン数です
type TokenBreakdown struct {
	Total    int64 `json:"total"`
	Analysis int64 `json:"analysis"`
	Outline  int64 `json:"outline"`
	Chapters int64 `json:"chapters"`
}

// Add は加算結果を返します
func (t TokenBreakdown) Add(d TokenBreakdown) TokenBreakdown {
	return TokenBreakdown{
		Total:    t.Total + d.Total,
		Analysis: t.Analysis + d.Analysis,
		Outline:  t.Outline + d.Outline,
		Chapters: t.Chapters + d.Chapters,
	}
}

// LatencyBreakdown はステージ別のレイテンシ（ミリ秒）です
type LatencyBreakdown struct {
	Total    int64 `json:"total"`
	Analysis int64 `json:"analysis"`
	Outline  int64 `json:"outline"`
	Chapters int64 `json:"chapters"`
}

// Add は加算結果を返します
func (l LatencyBreakdown) Add(d LatencyBreakdown) LatencyBreakdown {
	return LatencyBreakdown{
		Total:    l.Total + d.Total,
		Analysis: l.Analysis + d.Analysis,
		Outline:  l.Outline + d.Outline,
		Chapters: l.Chapters + d.Chapters,
	}
}

// Metrics はジョブ単位の累積メトリクスです
// 減算はなく、Reset のみがゼロに戻します
type Metrics struct {
	JobID     string           `json:"jobId"`
	Cost      CostBreakdown    `json:"cost"`
	Tokens    TokenBreakdown   `json:"tokens"`
	LatencyMs LatencyBreakdown `json:"latencyMs"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// MetricsDelta は1回の生成で加算される差分です
type MetricsDelta struct {
	Cost    CostBreakdown
	Tokens  TokenBreakdown
	Latency LatencyBreakdown
}

// StageUsage は1ステージ分の使用量です
type StageUsage struct {
	CostUSD   float64 `json:"costUsd"`
	Tokens    int64   `json:"tokens"`
	LatencyMs int64   `json:"latencyMs"`
}

// Add は加算結果を返します
func (u StageUsage) Add(d StageUsage) StageUsage {
	return StageUsage{
		CostUSD:   u.CostUSD + d.CostUSD,
		Tokens:    u.Tokens + d.Tokens,
		LatencyMs: u.LatencyMs + d.LatencyMs,
	}
}

// DeltaFromGeneration は生成結果からメトリクス差分を算出します
// 章のコストとトークンは章レベルの値を優先し、なければ試行履歴を合計します
func DeltaFromGeneration(analysis, outline StageUsage, chapters []Chapter) MetricsDelta {
	var chapterCost float64
	var chapterTokens, chapterLatency int64
	for _, ch := range chapters {
		chapterCost += ch.EffectiveCost()
		chapterTokens += ch.EffectiveTokens()
		chapterLatency += ch.Latency()
	}

	return MetricsDelta{
		Cost: CostBreakdown{
			TotalUSD:    analysis.CostUSD + outline.CostUSD + chapterCost,
			AnalysisUSD: analysis.CostUSD,
			OutlineUSD:  outline.CostUSD,
			ChaptersUSD: chapterCost,
		},
		Tokens: TokenBreakdown{
			Total:    analysis.Tokens + outline.Tokens + chapterTokens,
			Analysis: analysis.Tokens,
			Outline:  outline.Tokens,
			Chapters: chapterTokens,
		},
		Latency: LatencyBreakdown{
			Total:    analysis.LatencyMs + outline.LatencyMs + chapterLatency,
			Analysis: analysis.LatencyMs,
			Outline:  outline.LatencyMs,
			Chapters: chapterLatency,
		},
	}
}

// IsZero は加算すべき値がないかを返します
func (d MetricsDelta) IsZero() bool {
	return d == MetricsDelta{}
}
