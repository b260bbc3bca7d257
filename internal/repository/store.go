package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store pairs the pool-bound query set with transaction scoping. Both service
// databases use it; each only touches its own tables.
type Store struct {
	pool    *pgxpool.Pool
	queries *Queries
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, queries: New(pool)}
}

// Queries returns queries that run outside any transaction.
func (s *Store) Queries() Querier {
	return s.queries
}

// RunInTx runs fn in a read-committed transaction. The transaction commits
// only when fn returns nil. Row locks taken inside fn (SELECT ... FOR UPDATE)
// are what serialize concurrent writers.
func (s *Store) RunInTx(ctx context.Context, fn func(q Querier) error) error {
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(s.queries.WithTx(tx))
	})
	if err != nil {
		return fmt.Errorf("transaction: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
