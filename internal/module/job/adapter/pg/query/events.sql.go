package query

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

const insertEvent = `
INSERT INTO novel_job_events (id, job_id, kind, body, emitted_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO NOTHING
`

type InsertEventParams struct {
	ID        pgtype.UUID
	JobID     string
	Kind      string
	Body      []byte
	EmittedAt time.Time
}

func (q *Queries) InsertEvent(ctx context.Context, arg InsertEventParams) error {
	_, err := q.db.Exec(ctx, insertEvent, arg.ID, arg.JobID, arg.Kind, arg.Body, arg.EmittedAt)
	return err
}

const listEvents = `
SELECT id, job_id, kind, body, emitted_at
FROM novel_job_events
WHERE job_id = $1
  AND ($2::timestamptz IS NULL OR emitted_at < $2::timestamptz)
ORDER BY emitted_at DESC, seq DESC
LIMIT $3
`

type ListEventsParams struct {
	JobID  string
	Before pgtype.Timestamptz
	Limit  int32
}

func (q *Queries) ListEvents(ctx context.Context, arg ListEventsParams) ([]NovelJobEvent, error) {
	rows, err := q.db.Query(ctx, listEvents, arg.JobID, arg.Before, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []NovelJobEvent
	for rows.Next() {
		var i NovelJobEvent
		if err := rows.Scan(&i.ID, &i.JobID, &i.Kind, &i.Body, &i.EmittedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
