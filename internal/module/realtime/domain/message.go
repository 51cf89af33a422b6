package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	jobdomain "github.com/jinford/novelforge/internal/module/job/domain"
)

// MaxPayloadBytes はチャネルに載せるペイロードの上限です
// PostgreSQL NOTIFY の上限 8000 バイトに余裕を持たせています
const MaxPayloadBytes = 7900

// ErrInvalidMessage はワイヤメッセージを解釈できない場合のエラー
var ErrInvalidMessage = errors.New("invalid realtime message")

// Message はリアルタイムチャネルとゲートウェイで流れるメッセージです
type Message struct {
	ID        string              `json:"id"`
	Kind      jobdomain.EventKind `json:"kind"`
	JobID     string              `json:"jobId"`
	EmittedAt time.Time           `json:"emittedAt"`

	// job-status のみ
	Status   jobdomain.JobStatus `json:"status,omitempty"`
	Snapshot map[string]any      `json:"snapshot,omitempty"`

	// generation / domain のみ
	Event json.RawMessage `json:"event,omitempty"`

	// Truncated が true の場合、本体は省略されています（キャッチアップで取得します）
	Truncated bool `json:"truncated,omitempty"`
}

// FromRecord はイベントレコードからメッセージを作成します
func FromRecord(r jobdomain.EventRecord) Message {
	m := Message{
		ID:        r.ID.String(),
		Kind:      r.Kind(),
		JobID:     r.JobID,
		EmittedAt: r.EmittedAt,
	}
	switch b := r.Body.(type) {
	case jobdomain.JobStatusBody:
		m.Status = b.Status
		m.Snapshot = b.Snapshot
	case jobdomain.GenerationBody:
		m.Event = b.Event
	case jobdomain.DomainBody:
		m.Event = b.Event
	}
	return m
}

// FromRecords はレコード列を同じ順序のメッセージ列に変換します
func FromRecords(records []jobdomain.EventRecord) []Message {
	out := make([]Message, 0, len(records))
	for _, r := range records {
		out = append(out, FromRecord(r))
	}
	return out
}

// Thin は本体を取り除いたメッセージを返します
func (m Message) Thin() Message {
	return Message{
		ID:        m.ID,
		Kind:      m.Kind,
		JobID:     m.JobID,
		EmittedAt: m.EmittedAt,
		Status:    m.Status,
		Truncated: true,
	}
}

// Encode はレコードをチャネル用のペイロードに変換します
// MaxPayloadBytes を超える場合は Thin メッセージを返します
func Encode(r jobdomain.EventRecord) ([]byte, error) {
	m := FromRecord(r)
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal realtime message: %w", err)
	}
	if len(payload) <= MaxPayloadBytes {
		return payload, nil
	}

	payload, err = json.Marshal(m.Thin())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal thin realtime message: %w", err)
	}
	return payload, nil
}

// Decode はチャネルのペイロードを復元します
func Decode(payload []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if m.ID == "" || m.JobID == "" {
		return Message{}, fmt.Errorf("%w: id and jobId are required", ErrInvalidMessage)
	}
	return m, nil
}
