package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventKind はイベントレコードの種別です
type EventKind string

const (
	EventKindGeneration EventKind = "generation"
	EventKindDomain     EventKind = "domain"
	EventKindJobStatus  EventKind = "job-status"
)

const (
	// DefaultListLimit は List の既定件数
	DefaultListLimit = 50

	// MaxListLimit は List の上限件数
	MaxListLimit = 250
)

// EventBody はイベント種別ごとの本体です
// 実装はこのパッケージ内の3型に限定されます
type EventBody interface {
	Kind() EventKind
	sealed()
}

// GenerationBody は生成ステージが発行したイベントを包みます
type GenerationBody struct {
	Event json.RawMessage
}

// DomainBody はビジネスイベントを包みます
type DomainBody struct {
	Event json.RawMessage
}

// JobStatusBody はステータス遷移とスナップショットです
type JobStatusBody struct {
	Status   JobStatus
	Snapshot map[string]any
}

func (GenerationBody) Kind() EventKind { return EventKindGeneration }
func (DomainBody) Kind() EventKind     { return EventKindDomain }
func (JobStatusBody) Kind() EventKind  { return EventKindJobStatus }

func (GenerationBody) sealed() {}
func (DomainBody) sealed()     {}
func (JobStatusBody) sealed()  {}

// EventRecord はイベントログの1レコードです
type EventRecord struct {
	ID        uuid.UUID
	JobID     string
	EmittedAt time.Time
	Body      EventBody
}

// Kind はレコードの種別を返します
func (r EventRecord) Kind() EventKind {
	if r.Body == nil {
		return ""
	}
	return r.Body.Kind()
}

// NewGenerationRecord は生成イベントをシリアライズしてレコードを作成します
func NewGenerationRecord(jobID string, event any, emittedAt time.Time) (EventRecord, error) {
	raw, err := marshalEvent(event)
	if err != nil {
		return EventRecord{}, fmt.Errorf("failed to marshal generation event: %w", err)
	}
	return EventRecord{ID: uuid.New(), JobID: jobID, EmittedAt: emittedAt, Body: GenerationBody{Event: raw}}, nil
}

// NewDomainRecord はビジネスイベントをシリアライズしてレコードを作成します
func NewDomainRecord(jobID string, event any, emittedAt time.Time) (EventRecord, error) {
	raw, err := marshalEvent(event)
	if err != nil {
		return EventRecord{}, fmt.Errorf("failed to marshal domain event: %w", err)
	}
	return EventRecord{ID: uuid.New(), JobID: jobID, EmittedAt: emittedAt, Body: DomainBody{Event: raw}}, nil
}

// NewJobStatusRecord はステータス遷移レコードを作成します
func NewJobStatusRecord(jobID string, status JobStatus, snapshot map[string]any, emittedAt time.Time) EventRecord {
	return EventRecord{
		ID:        uuid.New(),
		JobID:     jobID,
		EmittedAt: emittedAt,
		Body:      JobStatusBody{Status: status, Snapshot: snapshot},
	}
}

func marshalEvent(event any) (json.RawMessage, error) {
	if raw, ok := event.(json.RawMessage); ok {
		if !json.Valid(raw) {
			return nil, fmt.Errorf("invalid raw json")
		}
		return raw, nil
	}
	return json.Marshal(event)
}

type storedBody struct {
	Event    json.RawMessage `json:"event,omitempty"`
	Status   JobStatus       `json:"status,omitempty"`
	Snapshot map[string]any  `json:"snapshot,omitempty"`
}

// EncodeBody は保存用に種別とJSONペイロードへ変換します
func EncodeBody(body EventBody) (EventKind, []byte, error) {
	var stored storedBody
	switch b := body.(type) {
	case GenerationBody:
		stored.Event = b.Event
	case DomainBody:
		stored.Event = b.Event
	case JobStatusBody:
		stored.Status = b.Status
		stored.Snapshot = b.Snapshot
	default:
		return "", nil, fmt.Errorf("%w: %T", ErrUnknownEventKind, body)
	}
	payload, err := json.Marshal(stored)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal event body: %w", err)
	}
	return body.Kind(), payload, nil
}

// DecodeBody は保存されたペイロードから本体を復元します
func DecodeBody(kind EventKind, payload []byte) (EventBody, error) {
	var stored storedBody
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &stored); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event body: %w", err)
		}
	}
	switch kind {
	case EventKindGeneration:
		return GenerationBody{Event: stored.Event}, nil
	case EventKindDomain:
		return DomainBody{Event: stored.Event}, nil
	case EventKindJobStatus:
		return JobStatusBody{Status: stored.Status, Snapshot: stored.Snapshot}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventKind, kind)
	}
}

// ListOptions は List のページング条件です
type ListOptions struct {
	Limit  int
	Before *time.Time
}

// Normalize は件数を既定値と上限に丸めます
func (o ListOptions) Normalize() ListOptions {
	switch {
	case o.Limit <= 0:
		o.Limit = DefaultListLimit
	case o.Limit > MaxListLimit:
		o.Limit = MaxListLimit
	}
	return o
}
