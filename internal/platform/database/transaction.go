package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	jobpg "github.com/jinford/novelforge/internal/module/job/adapter/pg"
	"github.com/jinford/novelforge/internal/module/job/domain"
	queuepg "github.com/jinford/novelforge/internal/module/queue/adapter/pg"
)

// TransactionProvider follows the pattern described in https://threedots.tech/post/database-transactions-in-go/
// It hides pgx transactions behind a callback that receives data-access adapters.
type TransactionProvider struct {
	pool *pgxpool.Pool
}

// NewTransactionProvider は新しいTransactionProviderを作成します
func NewTransactionProvider(pool *pgxpool.Pool) *TransactionProvider {
	return &TransactionProvider{pool: pool}
}

var _ domain.TransactionalBackend = (*TransactionProvider)(nil)

// Adapter bundles repository adapters that operate inside a single transaction.
type Adapter struct {
	Stores domain.Stores
	Queue  *queuepg.QueueRepository
	Locks  *LockManager
}

func newAdapter(tx pgx.Tx) *Adapter {
	locks := NewLockManager(tx)
	stores := jobpg.NewStores(tx)
	stores.Locks = locks
	return &Adapter{
		Stores: stores,
		Queue:  queuepg.NewQueueRepository(tx),
		Locks:  locks,
	}
}

// Transact opens a transaction, builds adapters, and passes them to fn.
func Transact[T any](ctx context.Context, p *TransactionProvider, fn func(*Adapter) (T, error)) (T, error) {
	var zero T
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return zero, fmt.Errorf("failed to begin transaction: %w", err)
	}

	adapters := newAdapter(tx)

	result, err := fn(adapters)
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return zero, fmt.Errorf("tx rollback failed: %v (original err: %w)", rbErr, err)
		}
		return zero, err
	}

	if err := tx.Commit(ctx); err != nil {
		return zero, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return result, nil
}

// Stores はプールに束ねられたストア群を返します（ロックなし）
func (p *TransactionProvider) Stores() domain.Stores {
	return jobpg.NewStores(p.pool)
}

// Transact は domain.TransactionalBackend の実装です
func (p *TransactionProvider) Transact(ctx context.Context, fn func(domain.Stores) error) error {
	_, err := Transact(ctx, p, func(a *Adapter) (struct{}, error) {
		return struct{}{}, fn(a.Stores)
	})
	return err
}
