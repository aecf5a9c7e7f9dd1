package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

const txKey contextKey = "db_tx"

// WithTx begins a transaction on the pool and returns a derived context that
// carries it. Repositories resolve the transaction via TxFromContext, so every
// query issued with the returned context joins the same transaction.
func WithTx(ctx context.Context, pool *pgxpool.Pool) (context.Context, pgx.Tx, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("begin transaction: %w", err)
	}
	return context.WithValue(ctx, txKey, tx), tx, nil
}

// TxFromContext returns the transaction carried by ctx, or nil.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey).(pgx.Tx)
	return tx
}

// TxFunc runs a unit of work inside one transaction. Services depend on this
// signature so tests can substitute a pass-through runner.
type TxFunc func(ctx context.Context, fn func(ctx context.Context) error) error

// Runner binds RunInTx to a pool.
func Runner(pool *pgxpool.Pool) TxFunc {
	return func(ctx context.Context, fn func(ctx context.Context) error) error {
		return RunInTx(ctx, pool, fn)
	}
}

// RunInTx executes fn inside a single transaction. The transaction is carried
// in the context handed to fn; it is committed when fn returns nil and rolled
// back otherwise. A rollback after a failed fn never masks fn's error.
func RunInTx(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context) error) error {
	txCtx, tx, err := WithTx(ctx, pool)
	if err != nil {
		return err
	}

	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
