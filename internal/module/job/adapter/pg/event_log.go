package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/jinford/novelforge/internal/infra/postgres"
	"github.com/jinford/novelforge/internal/module/job/adapter/pg/query"
	"github.com/jinford/novelforge/internal/module/job/domain"
)

// EventLog は novel_job_events テーブルへの追記専用アダプターです
type EventLog struct {
	q query.Querier
}

// NewEventLog は新しいイベントログを作成します
func NewEventLog(q query.Querier) *EventLog {
	return &EventLog{q: q}
}

var _ domain.EventLog = (*EventLog)(nil)

// Append はレコードを追記します
// emittedAt はDBの精度（マイクロ秒）に丸めてから保存し、丸めた値を返します
func (r *EventLog) Append(ctx context.Context, record domain.EventRecord) (domain.EventRecord, error) {
	kind, body, err := domain.EncodeBody(record.Body)
	if err != nil {
		return domain.EventRecord{}, fmt.Errorf("failed to append event: %w", err)
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.EmittedAt.IsZero() {
		record.EmittedAt = time.Now()
	}
	record.EmittedAt = record.EmittedAt.UTC().Truncate(time.Microsecond)

	err = r.q.InsertEvent(ctx, query.InsertEventParams{
		ID:        pgtype.UUID{Bytes: record.ID, Valid: true},
		JobID:     record.JobID,
		Kind:      string(kind),
		Body:      body,
		EmittedAt: record.EmittedAt,
	})
	if err != nil {
		return domain.EventRecord{}, fmt.Errorf("failed to insert event: %w", err)
	}
	return record, nil
}

// List は newest-first でイベントを返します
func (r *EventLog) List(ctx context.Context, jobID string, opts domain.ListOptions) ([]domain.EventRecord, error) {
	opts = opts.Normalize()

	rows, err := r.q.ListEvents(ctx, query.ListEventsParams{
		JobID:  jobID,
		Before: postgres.TimePtrToPgtype(opts.Before),
		Limit:  int32(opts.Limit),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	records := make([]domain.EventRecord, 0, len(rows))
	for _, row := range rows {
		body, err := domain.DecodeBody(domain.EventKind(row.Kind), row.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to decode event %x: %w", row.ID.Bytes, err)
		}
		records = append(records, domain.EventRecord{
			ID:        uuid.UUID(row.ID.Bytes),
			JobID:     row.JobID,
			EmittedAt: row.EmittedAt.UTC(),
			Body:      body,
		})
	}
	return records, nil
}
