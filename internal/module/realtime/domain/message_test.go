package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobdomain "github.com/jinford/novelforge/internal/module/job/domain"
)

var at = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func TestEncodeDecode(t *testing.T) {
	tests := []struct {
		name   string
		record func(t *testing.T) jobdomain.EventRecord
		check  func(t *testing.T, m Message)
	}{
		{
			name: "ステータスイベント",
			record: func(t *testing.T) jobdomain.EventRecord {
				return jobdomain.NewJobStatusRecord("J1", jobdomain.JobStatusCompleted, map[string]any{"chaptersGenerated": 2}, at)
			},
			check: func(t *testing.T, m Message) {
				assert.Equal(t, jobdomain.EventKindJobStatus, m.Kind)
				assert.Equal(t, jobdomain.JobStatusCompleted, m.Status)
				assert.EqualValues(t, 2, m.Snapshot["chaptersGenerated"])
				assert.False(t, m.Truncated)
			},
		},
		{
			name: "生成イベント",
			record: func(t *testing.T) jobdomain.EventRecord {
				r, err := jobdomain.NewGenerationRecord("J1", map[string]string{"message": "hello"}, at)
				require.NoError(t, err)
				return r
			},
			check: func(t *testing.T, m Message) {
				assert.Equal(t, jobdomain.EventKindGeneration, m.Kind)
				assert.JSONEq(t, `{"message":"hello"}`, string(m.Event))
			},
		},
		{
			name: "上限を超える本体は省略",
			record: func(t *testing.T) jobdomain.EventRecord {
				r, err := jobdomain.NewDomainRecord("J1", map[string]string{"text": strings.Repeat("x", MaxPayloadBytes)}, at)
				require.NoError(t, err)
				return r
			},
			check: func(t *testing.T, m Message) {
				assert.True(t, m.Truncated)
				assert.Empty(t, m.Event)
				assert.Equal(t, jobdomain.EventKindDomain, m.Kind)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := tt.record(t)
			payload, err := Encode(record)
			require.NoError(t, err)
			assert.LessOrEqual(t, len(payload), MaxPayloadBytes)

			m, err := Decode(payload)
			require.NoError(t, err)
			assert.Equal(t, record.ID.String(), m.ID)
			assert.Equal(t, "J1", m.JobID)
			assert.True(t, m.EmittedAt.Equal(at))
			tt.check(t, m)
		})
	}
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode([]byte("{"))
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, err = Decode([]byte(`{"kind":"domain"}`))
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestDisabledPlaceholder(t *testing.T) {
	m := DisabledPlaceholder("J1", at)
	assert.Equal(t, "J1", m.JobID)

	var event map[string]any
	require.NoError(t, json.Unmarshal(m.Event, &event))
	assert.Equal(t, "realtime updates are disabled", event["message"])
}
