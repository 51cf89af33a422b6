package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	jobdomain "github.com/jinford/novelforge/internal/module/job/domain"
	queuedomain "github.com/jinford/novelforge/internal/module/queue/domain"
	rtdomain "github.com/jinford/novelforge/internal/module/realtime/domain"
)

const timeLayout = "2006-01-02 15:04:05.000000"

// renderEvents はイベントを新しい順にテーブル表示する
func renderEvents(w io.Writer, messages []rtdomain.Message) {
	table := tablewriter.NewWriter(w)
	table.Header("Emitted At", "Kind", "Summary", "ID")
	for _, m := range messages {
		table.Append(m.EmittedAt.Format(timeLayout), string(m.Kind), summarize(m), m.ID)
	}
	table.Render()
}

// summarize はイベント1件を1行に要約する
func summarize(m rtdomain.Message) string {
	if m.Truncated {
		return "(truncated)"
	}
	if m.Kind == jobdomain.EventKindJobStatus {
		return string(m.Status)
	}

	var event struct {
		Type    string `json:"type"`
		Stage   string `json:"stage"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(m.Event, &event); err != nil {
		return string(m.Event)
	}
	parts := make([]string, 0, 3)
	for _, p := range []string{event.Type, event.Stage, event.Message} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " / ")
}

// renderMetrics はメトリクスをテーブル表示する
func renderMetrics(w io.Writer, m *jobdomain.Metrics) {
	fmt.Fprintf(w, "=== メトリクス: %s ===\n", m.JobID)
	table := tablewriter.NewWriter(w)
	table.Header("項目", "合計", "分析", "アウトライン", "章")
	table.Append("コスト (USD)",
		fmt.Sprintf("%.6f", m.Cost.TotalUSD), fmt.Sprintf("%.6f", m.Cost.AnalysisUSD),
		fmt.Sprintf("%.6f", m.Cost.OutlineUSD), fmt.Sprintf("%.6f", m.Cost.ChaptersUSD))
	table.Append("トークン",
		fmt.Sprint(m.Tokens.Total), fmt.Sprint(m.Tokens.Analysis),
		fmt.Sprint(m.Tokens.Outline), fmt.Sprint(m.Tokens.Chapters))
	table.Append("レイテンシ (ms)",
		fmt.Sprint(m.LatencyMs.Total), fmt.Sprint(m.LatencyMs.Analysis),
		fmt.Sprint(m.LatencyMs.Outline), fmt.Sprint(m.LatencyMs.Chapters))
	table.Render()
}

// renderJob はジョブの状態と章の一覧を表示する
func renderJob(w io.Writer, job *jobdomain.Job) {
	fmt.Fprintf(w, "=== ジョブ: %s ===\n", job.ID)
	fmt.Fprintf(w, "ステータス: %s\n", job.Status)
	fmt.Fprintf(w, "タイトル: %s\n", job.Payload.Title)
	if job.CompletedAt != nil {
		fmt.Fprintf(w, "完了日時: %s\n", job.CompletedAt.Format(time.RFC3339))
	}
	if job.Summary != nil {
		fmt.Fprintf(w, "章: %d/%d  語数: %d\n",
			job.Summary.ChaptersGenerated, job.Summary.TotalChaptersPlanned, job.Summary.TotalWordCount)
	}

	if len(job.Chapters) > 0 {
		table := tablewriter.NewWriter(w)
		table.Header("章", "タイトル", "状態", "語数", "試行", "コスト (USD)")
		for _, ch := range job.Chapters {
			table.Append(fmt.Sprint(ch.Number), ch.Title, string(ch.Status),
				fmt.Sprint(ch.WordCount), fmt.Sprint(len(ch.Attempts)), fmt.Sprintf("%.6f", ch.EffectiveCost()))
		}
		table.Render()
	}

	for _, f := range job.Failures {
		fmt.Fprintf(w, "失敗: %s [%s] %s\n", f.OccurredAt.Format(time.RFC3339), f.Stage, f.Reason)
	}
}

// renderQueued はキュー上のジョブを表示する
func renderQueued(w io.Writer, job *queuedomain.QueuedJob) {
	fmt.Fprintf(w, "=== キュー: %s ===\n", job.ID)
	fmt.Fprintf(w, "ステータス: %s (試行 %d/%d)\n", job.Status, job.Attempts, job.MaxAttempts)
	fmt.Fprintf(w, "投入日時: %s\n", job.RequestedAt.Format(time.RFC3339))
	if job.LastError != "" {
		fmt.Fprintf(w, "最後のエラー: %s\n", job.LastError)
	}
	if len(job.Progress) > 0 {
		fmt.Fprintf(w, "進捗: %s\n", string(job.Progress))
	}
}
