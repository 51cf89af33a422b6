package domain

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestStoryBible_Apply(t *testing.T) {
	base := StoryBible{
		Characters: map[string]CharacterEntry{
			"mira": {ID: "mira", Name: "ミラ", Role: "探偵", Description: "港町の探偵"},
			"ken":  {ID: "ken", Name: "ケン", Role: "助手"},
		},
		Locations: []LocationEntry{{Name: "港"}},
		Themes:    []string{"喪失"},
		Metadata:  map[string]any{"era": "1920s"},
	}

	t.Run("1人の1フィールドだけ更新し他は保持", func(t *testing.T) {
		got := base.Apply(StoryBiblePatch{
			Characters: map[string]CharacterPatch{"mira": {Role: strPtr("元探偵")}},
		})

		assert.Equal(t, "元探偵", got.Characters["mira"].Role)
		assert.Equal(t, "ミラ", got.Characters["mira"].Name)
		assert.Equal(t, "港町の探偵", got.Characters["mira"].Description)
		assert.Equal(t, base.Characters["ken"], got.Characters["ken"])
		assert.Equal(t, base.Locations, got.Locations)
		assert.Equal(t, base.Themes, got.Themes)
		// 元の値は変更されない
		assert.Equal(t, "探偵", base.Characters["mira"].Role)
	})

	t.Run("新規キャラクターの追加と削除", func(t *testing.T) {
		got := base.Apply(StoryBiblePatch{
			Characters:       map[string]CharacterPatch{"sora": {Name: strPtr("ソラ")}},
			RemoveCharacters: []string{"ken"},
		})

		require.Contains(t, got.Characters, "sora")
		assert.Equal(t, "sora", got.Characters["sora"].ID)
		assert.NotContains(t, got.Characters, "ken")
		assert.Contains(t, got.Characters, "mira")
	})

	t.Run("Locations と Themes は置換、Metadata はキー単位でマージ", func(t *testing.T) {
		got := base.Apply(StoryBiblePatch{
			Themes:   []string{"再生"},
			Metadata: map[string]any{"tone": "noir"},
		})

		assert.Equal(t, []string{"再生"}, got.Themes)
		assert.Equal(t, base.Locations, got.Locations)
		assert.Equal(t, map[string]any{"era": "1920s", "tone": "noir"}, got.Metadata)
		assert.NotContains(t, base.Metadata, "tone")
	})

	t.Run("空のバイブルへの適用", func(t *testing.T) {
		got := StoryBible{}.Apply(StoryBiblePatch{Metadata: map[string]any{"k": "v"}})
		assert.Equal(t, "v", got.Metadata["k"])
		assert.NotNil(t, got.Characters)
	})
}

func TestStoryBiblePatch_IsEmpty(t *testing.T) {
	assert.True(t, StoryBiblePatch{}.IsEmpty())
	assert.False(t, StoryBiblePatch{Themes: []string{}}.IsEmpty())
	assert.False(t, StoryBiblePatch{RemoveCharacters: []string{"x"}}.IsEmpty())
}

func TestPushAlert_Cap(t *testing.T) {
	var alerts []ContinuityAlert
	for i := range MaxContinuityAlerts + 5 {
		alerts = PushAlert(alerts, ContinuityAlert{AlertID: fmt.Sprintf("a-%d", i)})
	}

	require.Len(t, alerts, MaxContinuityAlerts)
	assert.Equal(t, fmt.Sprintf("a-%d", MaxContinuityAlerts+4), alerts[0].AlertID)
	assert.Equal(t, "a-5", alerts[len(alerts)-1].AlertID)
}

func TestResolveAlert(t *testing.T) {
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	alerts := []ContinuityAlert{{AlertID: "b"}, {AlertID: "a"}}

	t.Run("IDで解決", func(t *testing.T) {
		got, err := ResolveAlert(alerts, "a", at)
		require.NoError(t, err)
		assert.True(t, got[1].Resolved)
		require.NotNil(t, got[1].ResolvedAt)
		assert.Equal(t, at, *got[1].ResolvedAt)
		assert.False(t, got[0].Resolved)
		assert.False(t, alerts[1].Resolved)
	})

	t.Run("存在しないID", func(t *testing.T) {
		_, err := ResolveAlert(alerts, "missing", at)
		assert.ErrorIs(t, err, ErrAlertNotFound)
	})
}

func TestPushDecision_NewestFirst(t *testing.T) {
	var decisions []AIDecision
	for i := range MaxAIDecisions + 1 {
		decisions = PushDecision(decisions, AIDecision{DecisionID: fmt.Sprintf("d-%d", i)})
	}

	require.Len(t, decisions, MaxAIDecisions)
	assert.Equal(t, fmt.Sprintf("d-%d", MaxAIDecisions), decisions[0].DecisionID)
	assert.Equal(t, "d-1", decisions[MaxAIDecisions-1].DecisionID)
}
