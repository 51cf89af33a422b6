package domain

import (
	"maps"
	"slices"
	"time"

	"github.com/jinford/novelforge/pkg/ring"
)

const (
	// MaxAIDecisions は保持するAI判断履歴の上限
	MaxAIDecisions = 100

	// MaxContinuityAlerts は保持する継続性アラートの上限
	MaxContinuityAlerts = 100
)

// AlertSeverity は継続性アラートの深刻度です
type AlertSeverity string

const (
	AlertSeverityInfo     AlertSeverity = "info"
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityCritical AlertSeverity = "critical"
)

// CharacterEntry はストーリーバイブル上の登場人物です
type CharacterEntry struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Role        string         `json:"role,omitempty"`
	Description string         `json:"description,omitempty"`
	Arc         string         `json:"arc,omitempty"`
	Traits      []string       `json:"traits,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// LocationEntry は舞台となる場所です
type LocationEntry struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// StoryBible は物語設定の集合です
type StoryBible struct {
	Characters map[string]CharacterEntry `json:"characters"`
	Locations  []LocationEntry           `json:"locations"`
	Themes     []string                  `json:"themes"`
	Metadata   map[string]any            `json:"metadata"`
}

// CharacterPatch は登場人物1名分の部分更新です
// nil のフィールドは変更しません
type CharacterPatch struct {
	Name        *string        `json:"name,omitempty"`
	Role        *string        `json:"role,omitempty"`
	Description *string        `json:"description,omitempty"`
	Arc         *string        `json:"arc,omitempty"`
	Traits      []string       `json:"traits,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// StoryBiblePatch はストーリーバイブルの部分更新です
// Characters はID単位・フィールド単位でマージし、Locations と Themes は nil でなければ置き換えます
// Metadata はキー単位でマージします
type StoryBiblePatch struct {
	Characters       map[string]CharacterPatch `json:"characters,omitempty"`
	RemoveCharacters []string                  `json:"removeCharacters,omitempty"`
	Locations        []LocationEntry           `json:"locations,omitempty"`
	Themes           []string                  `json:"themes,omitempty"`
	Metadata         map[string]any            `json:"metadata,omitempty"`
}

// IsEmpty は適用すべき変更がないかを返します
func (p StoryBiblePatch) IsEmpty() bool {
	return len(p.Characters) == 0 && len(p.RemoveCharacters) == 0 &&
		p.Locations == nil && p.Themes == nil && len(p.Metadata) == 0
}

// Apply はパッチを適用した新しい StoryBible を返します（元の値は変更しません）
func (b StoryBible) Apply(p StoryBiblePatch) StoryBible {
	out := StoryBible{
		Characters: make(map[string]CharacterEntry, len(b.Characters)+len(p.Characters)),
		Locations:  slices.Clone(b.Locations),
		Themes:     slices.Clone(b.Themes),
		Metadata:   maps.Clone(b.Metadata),
	}
	for id, ch := range b.Characters {
		out.Characters[id] = ch
	}

	for id, cp := range p.Characters {
		ch, ok := out.Characters[id]
		if !ok {
			ch = CharacterEntry{ID: id}
		}
		out.Characters[id] = ch.merge(cp)
	}
	for _, id := range p.RemoveCharacters {
		delete(out.Characters, id)
	}

	if p.Locations != nil {
		out.Locations = slices.Clone(p.Locations)
	}
	if p.Themes != nil {
		out.Themes = slices.Clone(p.Themes)
	}
	if len(p.Metadata) > 0 {
		if out.Metadata == nil {
			out.Metadata = make(map[string]any, len(p.Metadata))
		}
		maps.Copy(out.Metadata, p.Metadata)
	}
	return out
}

func (c CharacterEntry) merge(p CharacterPatch) CharacterEntry {
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Role != nil {
		c.Role = *p.Role
	}
	if p.Description != nil {
		c.Description = *p.Description
	}
	if p.Arc != nil {
		c.Arc = *p.Arc
	}
	if p.Traits != nil {
		c.Traits = slices.Clone(p.Traits)
	}
	if len(p.Attributes) > 0 {
		attrs := maps.Clone(c.Attributes)
		if attrs == nil {
			attrs = make(map[string]any, len(p.Attributes))
		}
		maps.Copy(attrs, p.Attributes)
		c.Attributes = attrs
	}
	return c
}

// ContinuityAlert は物語の継続性に関するアラートです
type ContinuityAlert struct {
	AlertID    string         `json:"alertId"`
	Severity   AlertSeverity  `json:"severity"`
	Message    string         `json:"message"`
	Chapter    *int           `json:"chapter,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	Resolved   bool           `json:"resolved"`
	ResolvedAt *time.Time     `json:"resolvedAt,omitempty"`
}

// AIDecision はパイプラインが下した判断の記録です
type AIDecision struct {
	DecisionID string         `json:"decisionId"`
	Stage      string         `json:"stage"`
	Summary    string         `json:"summary"`
	Rationale  string         `json:"rationale,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	DecidedAt  time.Time      `json:"decidedAt"`
}

// Metadata はジョブ単位の物語メタデータです
// ContinuityAlerts と AIDecisions は newest-first です
type Metadata struct {
	JobID            string            `json:"jobId"`
	StoryBible       StoryBible        `json:"storyBible"`
	ContinuityAlerts []ContinuityAlert `json:"continuityAlerts"`
	AIDecisions      []AIDecision      `json:"aiDecisions"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// PushAlert はアラートを先頭に追加し、上限を超えた古いものを破棄します
func PushAlert(alerts []ContinuityAlert, alert ContinuityAlert) []ContinuityAlert {
	buf := ring.FromSlice(alerts, MaxContinuityAlerts)
	buf.Push(alert)
	return buf.Items()
}

// ResolveAlert は指定IDのアラートを解決済みにします
func ResolveAlert(alerts []ContinuityAlert, alertID string, at time.Time) ([]ContinuityAlert, error) {
	buf := ring.FromSlice(alerts, MaxContinuityAlerts)
	ok := buf.Update(
		func(a ContinuityAlert) bool { return a.AlertID == alertID },
		func(a *ContinuityAlert) {
			a.Resolved = true
			a.ResolvedAt = &at
		},
	)
	if !ok {
		return alerts, ErrAlertNotFound
	}
	return buf.Items(), nil
}

// PushDecision はAI判断を先頭に追加し、上限を超えた古いものを破棄します
func PushDecision(decisions []AIDecision, decision AIDecision) []AIDecision {
	buf := ring.FromSlice(decisions, MaxAIDecisions)
	buf.Push(decision)
	return buf.Items()
}
