package query

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX は *pgxpool.Pool と pgx.Tx の共通インターフェースです
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries は generation_queue へのクエリを束ねます
type Queries struct {
	db DBTX
}

// New は Queries を作成します
func New(db DBTX) *Queries {
	return &Queries{db: db}
}
