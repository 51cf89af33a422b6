package query

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

type GenerationQueue struct {
	ID          string
	QueueName   string
	Payload     []byte
	Status      string
	Attempts    int32
	MaxAttempts int32
	RequestedAt time.Time
	AvailableAt time.Time
	LockedBy    pgtype.Text
	LockedUntil pgtype.Timestamptz
	Progress    []byte
	LastError   pgtype.Text
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
