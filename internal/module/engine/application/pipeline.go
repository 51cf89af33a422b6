package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jinford/novelforge/internal/module/engine/domain"
	jobdomain "github.com/jinford/novelforge/internal/module/job/domain"
)

const (
	// DefaultMaxChapterAttempts は1章あたりの既定の最大試行回数
	DefaultMaxChapterAttempts = 2

	// DefaultWordsPerChapter はリクエストで指定がない場合の章の目標語数
	DefaultWordsPerChapter = 1200

	StageAnalysis = "analysis"
	StageOutline  = "outline"
	StageChapters = "chapters"

	EventOutlineReady       = "outline-ready"
	EventChapterProgress    = "chapter-progress"
	EventGenerationFinished = "generation-finished"
)

// PipelineOption は Pipeline のオプションです
type PipelineOption func(*Pipeline)

// WithMaxChapterAttempts は1章あたりの最大試行回数を設定します
func WithMaxChapterAttempts(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxChapterAttempts = n
		}
	}
}

// WithTokenCounter はAPIが使用量を返さない場合のトークン数カウンタを設定します
func WithTokenCounter(counter domain.TokenCounter) PipelineOption {
	return func(p *Pipeline) {
		p.counter = counter
	}
}

// WithTemperature は生成時の temperature を設定します
func WithTemperature(t float64) PipelineOption {
	return func(p *Pipeline) {
		p.temperature = t
	}
}

// Pipeline は分析 → アウトライン → 章執筆の順に小説を生成します
type Pipeline struct {
	client             domain.LLMClient
	pricing            domain.PricingTable
	counter            domain.TokenCounter
	maxChapterAttempts int
	temperature        float64
}

var _ jobdomain.Generator = (*Pipeline)(nil)

// NewPipeline は Pipeline を作成します
func NewPipeline(client domain.LLMClient, pricing domain.PricingTable, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		client:             client,
		pricing:            pricing,
		maxChapterAttempts: DefaultMaxChapterAttempts,
		temperature:        0.8,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run は生成パイプラインを実行します
// 章単位の失敗はジョブを中断せず、本文のある章が1つもない場合のみ ErrNoChaptersGenerated を返します
func (p *Pipeline) Run(ctx context.Context, initial jobdomain.GenerationContext, hooks jobdomain.Hooks) (jobdomain.GenerationContext, error) {
	s := &session{
		p:      p,
		hooks:  hooks,
		gc:     initial,
		now:    hooks.Now,
		logger: hooks.Logger.With().Str("component", "pipeline").Logger(),
	}
	if s.now == nil {
		s.now = time.Now
	}

	if err := s.analyze(ctx); err != nil {
		return s.gc, err
	}
	if err := s.outline(ctx); err != nil {
		return s.gc, err
	}
	if err := s.chapters(ctx); err != nil {
		return s.gc, err
	}
	return s.gc, nil
}

// session は1回の Run に閉じた状態です
type session struct {
	p      *Pipeline
	hooks  jobdomain.Hooks
	gc     jobdomain.GenerationContext
	now    func() time.Time
	logger zerolog.Logger

	analysis analysisResult
	attempts int
}

type analysisCharacter struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Role        string `json:"role"`
	Description string `json:"description"`
	Arc         string `json:"arc"`
}

type analysisResult struct {
	Themes     []string                  `json:"themes"`
	Setting    string                    `json:"setting"`
	Characters []analysisCharacter       `json:"characters"`
	Locations  []jobdomain.LocationEntry `json:"locations"`
	Rationale  string                    `json:"rationale"`
}

type outlineResult struct {
	Chapters []jobdomain.OutlineEntry `json:"chapters"`
}

func (s *session) emit(ctx context.Context, typ jobdomain.StageEventType, stage, level, message string, data map[string]any) {
	if s.hooks.Emit == nil {
		return
	}
	s.hooks.Emit(ctx, jobdomain.StageEvent{
		Type:       typ,
		Stage:      stage,
		Level:      level,
		Message:    message,
		Data:       data,
		OccurredAt: s.now(),
	})
}

func (s *session) publish(ctx context.Context, typ string, progress *jobdomain.ProgressSnapshot, data map[string]any) {
	if s.hooks.PublishDomainEvent == nil {
		return
	}
	s.hooks.PublishDomainEvent(ctx, jobdomain.BusinessEvent{
		Type:       typ,
		Progress:   progress,
		Data:       data,
		OccurredAt: s.now(),
	})
}

// call はLLMを1回呼び出し、使用量（コスト・トークン・レイテンシ）を算出します
func (s *session) call(ctx context.Context, req domain.CompletionRequest) (string, jobdomain.StageUsage, error) {
	req.System = systemPrompt
	req.Temperature = s.p.temperature
	if req.Model == "" {
		req.Model = s.gc.Request.Model
	}

	start := s.now()
	resp, err := s.p.client.GenerateCompletion(ctx, req)
	usage := jobdomain.StageUsage{LatencyMs: s.now().Sub(start).Milliseconds()}
	if err != nil {
		return "", usage, err
	}

	tokens := resp.Usage
	if tokens.IsZero() && s.p.counter != nil {
		tokens.PromptTokens = s.p.counter.CountTokens(req.System + req.Prompt)
		tokens.ResponseTokens = s.p.counter.CountTokens(resp.Content)
		tokens.TotalTokens = tokens.PromptTokens + tokens.ResponseTokens
	}
	usage.Tokens = int64(tokens.TotalTokens)

	model := firstNonEmpty(resp.Model, req.Model, s.p.client.ModelName())
	cost, err := s.p.pricing.Cost(model, tokens)
	if err != nil {
		s.logger.Debug().Err(err).Str("model", model).Msg("pipeline: cost unavailable")
	}
	usage.CostUSD = cost
	return resp.Content, usage, nil
}

func (s *session) analyze(ctx context.Context) error {
	req := s.gc.Request
	s.emit(ctx, jobdomain.StageEventStarted, StageAnalysis, "info", "analyzing premise", nil)

	content, usage, err := s.call(ctx, domain.CompletionRequest{
		Stage:          StageAnalysis,
		Prompt:         buildAnalysisPrompt(req),
		ResponseFormat: domain.ResponseFormatJSON,
		Params:         map[string]any{"title": req.Title, "premise": req.Premise, "genre": req.Genre},
	})
	s.gc.AnalysisUsage = usage
	if err != nil {
		return fmt.Errorf("analysis stage: %w", err)
	}
	if err := json.Unmarshal([]byte(content), &s.analysis); err != nil {
		return fmt.Errorf("analysis stage: %w: %v", domain.ErrInvalidCompletion, err)
	}

	patch := jobdomain.StoryBiblePatch{
		Characters: make(map[string]jobdomain.CharacterPatch, len(s.analysis.Characters)),
		Locations:  s.analysis.Locations,
		Themes:     s.analysis.Themes,
	}
	for i, ch := range s.analysis.Characters {
		id := ch.ID
		if id == "" {
			id = fmt.Sprintf("char-%d", i+1)
			s.analysis.Characters[i].ID = id
		}
		patch.Characters[id] = jobdomain.CharacterPatch{
			Name:        optional(ch.Name),
			Role:        optional(ch.Role),
			Description: optional(ch.Description),
			Arc:         optional(ch.Arc),
		}
	}
	if s.analysis.Setting != "" {
		patch.Metadata = map[string]any{"setting": s.analysis.Setting}
	}
	s.gc.StoryBible = patch

	s.gc.Decisions = append(s.gc.Decisions, jobdomain.AIDecision{
		DecisionID: uuid.NewString(),
		Stage:      StageAnalysis,
		Summary:    fmt.Sprintf("%d characters and %d themes established", len(s.analysis.Characters), len(s.analysis.Themes)),
		Rationale:  s.analysis.Rationale,
		Data:       map[string]any{"themes": s.analysis.Themes, "setting": s.analysis.Setting},
		DecidedAt:  s.now(),
	})

	s.emit(ctx, jobdomain.StageEventCompleted, StageAnalysis, "info", "analysis completed", usageData(usage))
	return nil
}

func (s *session) outline(ctx context.Context) error {
	req := s.gc.Request
	s.emit(ctx, jobdomain.StageEventStarted, StageOutline, "info", "planning outline", map[string]any{"chapterCount": req.ChapterCount})

	content, usage, err := s.call(ctx, domain.CompletionRequest{
		Stage:          StageOutline,
		Prompt:         buildOutlinePrompt(req, s.analysis),
		ResponseFormat: domain.ResponseFormatJSON,
		Params:         map[string]any{"chapterCount": req.ChapterCount, "title": req.Title},
	})
	s.gc.OutlineUsage = usage
	if err != nil {
		return fmt.Errorf("outline stage: %w", err)
	}

	var result outlineResult
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return fmt.Errorf("outline stage: %w: %v", domain.ErrInvalidCompletion, err)
	}
	outline := normalizeOutline(result.Chapters, req.ChapterCount)
	if len(outline) == 0 {
		return fmt.Errorf("outline stage: %w: no chapters in outline", domain.ErrInvalidCompletion)
	}
	s.gc.Outline = outline

	if len(outline) < req.ChapterCount {
		s.emit(ctx, jobdomain.StageEventLog, StageOutline, "warn", "outline shorter than requested",
			map[string]any{"requested": req.ChapterCount, "planned": len(outline)})
	}
	s.gc.Decisions = append(s.gc.Decisions, jobdomain.AIDecision{
		DecisionID: uuid.NewString(),
		Stage:      StageOutline,
		Summary:    fmt.Sprintf("%d chapters planned", len(outline)),
		Data:       map[string]any{"requested": req.ChapterCount, "planned": len(outline)},
		DecidedAt:  s.now(),
	})

	s.emit(ctx, jobdomain.StageEventCompleted, StageOutline, "info", "outline completed", usageData(usage))
	s.publish(ctx, EventOutlineReady, s.snapshot(StageOutline, 0), map[string]any{"outline": outline})
	return nil
}

func (s *session) chapters(ctx context.Context) error {
	req := s.gc.Request
	words := req.WordsPerChapter
	if words <= 0 {
		words = DefaultWordsPerChapter
	}
	s.emit(ctx, jobdomain.StageEventStarted, StageChapters, "info", "writing chapters", map[string]any{"planned": len(s.gc.Outline)})

	var previous string
	for i, entry := range s.gc.Outline {
		ch, err := s.writeChapter(ctx, entry, previous, words)
		if err != nil {
			return err
		}
		s.gc.Chapters = append(s.gc.Chapters, ch)
		if ch.HasContent() {
			previous = tail(ch.Content, 400)
			s.checkContinuity(ch, words)
		}
		s.publish(ctx, EventChapterProgress, s.snapshot(StageChapters, i+1), map[string]any{
			"chapter": ch.Number,
			"status":  ch.Status,
		})
	}

	completed := 0
	for _, ch := range s.gc.Chapters {
		if ch.HasContent() {
			completed++
		}
	}
	if completed == 0 {
		s.emit(ctx, jobdomain.StageEventLog, StageChapters, "error", "no chapter could be generated", nil)
		return domain.ErrNoChaptersGenerated
	}

	s.gc.Engine = map[string]any{
		"name":               "staged-pipeline",
		"model":              firstNonEmpty(req.Model, s.p.client.ModelName()),
		"maxChapterAttempts": s.p.maxChapterAttempts,
		"chapterAttempts":    s.attempts,
	}
	s.emit(ctx, jobdomain.StageEventCompleted, StageChapters, "info", "chapters completed",
		map[string]any{"completed": completed, "planned": len(s.gc.Outline)})
	s.publish(ctx, EventGenerationFinished, s.snapshot("finished", len(s.gc.Outline)), nil)
	return nil
}

func (s *session) writeChapter(ctx context.Context, entry jobdomain.OutlineEntry, previous string, words int) (jobdomain.Chapter, error) {
	ch := jobdomain.Chapter{Number: entry.Number, Title: entry.Title, Status: jobdomain.ChapterStatusPending}
	names := s.characterNames()

	var lastErr string
	for attempt := 1; attempt <= s.p.maxChapterAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return ch, err
		}
		s.attempts++
		attemptedAt := s.now()
		content, usage, err := s.call(ctx, domain.CompletionRequest{
			Stage:  StageChapters,
			Prompt: buildChapterPrompt(s.gc.Request, s.gc.Outline, entry, previous, words),
			Params: map[string]any{
				"chapterNumber": entry.Number,
				"chapterTitle":  entry.Title,
				"words":         words,
				"attempt":       attempt,
				"characters":    names,
			},
		})

		record := jobdomain.ChapterAttempt{
			Attempt:     attempt,
			CostUSD:     usage.CostUSD,
			Tokens:      usage.Tokens,
			LatencyMs:   usage.LatencyMs,
			AttemptedAt: attemptedAt,
		}
		ch.CostUSD += usage.CostUSD
		ch.Tokens += usage.Tokens

		switch {
		case err != nil:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ch, err
			}
			lastErr = err.Error()
		case strings.TrimSpace(content) == "":
			lastErr = "empty completion"
		default:
			record.Status = string(jobdomain.ChapterStatusCompleted)
			ch.Attempts = append(ch.Attempts, record)
			ch.Status = jobdomain.ChapterStatusCompleted
			ch.Content = strings.TrimSpace(content)
			ch.WordCount = CountWords(ch.Content)
			s.emit(ctx, jobdomain.StageEventLog, StageChapters, "info", fmt.Sprintf("chapter %d written", entry.Number),
				map[string]any{"chapter": entry.Number, "attempt": attempt, "wordCount": ch.WordCount})
			return ch, nil
		}

		record.Status = string(jobdomain.ChapterStatusFailed)
		record.Error = lastErr
		ch.Attempts = append(ch.Attempts, record)
		s.emit(ctx, jobdomain.StageEventLog, StageChapters, "warn", fmt.Sprintf("chapter %d attempt %d failed", entry.Number, attempt),
			map[string]any{"chapter": entry.Number, "attempt": attempt, "error": lastErr})
	}

	ch.Status = jobdomain.ChapterStatusFailed
	number := entry.Number
	s.gc.Alerts = append(s.gc.Alerts, jobdomain.ContinuityAlert{
		AlertID:   uuid.NewString(),
		Severity:  jobdomain.AlertSeverityWarning,
		Message:   fmt.Sprintf("chapter %d could not be generated", entry.Number),
		Chapter:   &number,
		Context:   map[string]any{"attempts": s.p.maxChapterAttempts, "error": lastErr},
		CreatedAt: s.now(),
	})
	return ch, nil
}

func (s *session) snapshot(stage string, processed int) *jobdomain.ProgressSnapshot {
	snap := &jobdomain.ProgressSnapshot{Stage: stage, ChaptersPlanned: len(s.gc.Outline)}
	for _, ch := range s.gc.Chapters {
		if ch.HasContent() {
			snap.ChaptersCompleted++
		}
		snap.TotalWordCount += ch.WordCount
	}
	if snap.ChaptersPlanned > 0 {
		snap.Percent = float64(processed) / float64(snap.ChaptersPlanned) * 100
	}
	return snap
}

func (s *session) characterNames() []string {
	names := make([]string, 0, len(s.analysis.Characters))
	for _, ch := range s.analysis.Characters {
		if ch.Name != "" {
			names = append(names, ch.Name)
		}
	}
	return names
}

func normalizeOutline(entries []jobdomain.OutlineEntry, requested int) []jobdomain.OutlineEntry {
	out := make([]jobdomain.OutlineEntry, 0, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e.Title) == "" {
			continue
		}
		if requested > 0 && len(out) == requested {
			break
		}
		e.Number = len(out) + 1
		out = append(out, e)
	}
	return out
}

func usageData(u jobdomain.StageUsage) map[string]any {
	return map[string]any{"costUsd": u.CostUSD, "tokens": u.Tokens, "latencyMs": u.LatencyMs}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func tail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
