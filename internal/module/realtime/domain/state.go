package domain

import (
	"encoding/json"
	"time"

	jobdomain "github.com/jinford/novelforge/internal/module/job/domain"
)

// ConnectionStatus はクライアントの接続状態です
type ConnectionStatus string

const (
	StatusIdle       ConnectionStatus = "idle"
	StatusDisabled   ConnectionStatus = "disabled"
	StatusConnecting ConnectionStatus = "connecting"
	StatusConnected  ConnectionStatus = "connected"
	StatusError      ConnectionStatus = "error"
)

// ConnectionState は接続状態と、エラー時のメッセージです
type ConnectionState struct {
	Status  ConnectionStatus `json:"status"`
	Message string           `json:"message,omitempty"`
}

// Update はライブ購読から届く1件の通知です
// Reconnected が true の場合は途中の通知を取りこぼした可能性があります
type Update struct {
	Message     *Message
	Reconnected bool
	Err         error
}

// DisabledPlaceholder はリアルタイム配信が無効な場合に表示する合成イベントです
func DisabledPlaceholder(jobID string, at time.Time) Message {
	event, _ := json.Marshal(map[string]any{
		"type":    "stage-log",
		"stage":   "realtime",
		"level":   "info",
		"message": "realtime updates are disabled",
	})
	return Message{
		ID:        "realtime-disabled-" + jobID,
		Kind:      jobdomain.EventKindGeneration,
		JobID:     jobID,
		EmittedAt: at,
		Event:     event,
	}
}
