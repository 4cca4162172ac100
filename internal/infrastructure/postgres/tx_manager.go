package postgres

import (
	"context"
	"fmt"

	"busticket/internal/txhook"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the part of a connection pool the repositories use. *pgxpool.Pool
// satisfies it.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	querier
}

type TxManager struct {
	pool DB
}

func NewTxManager(pool DB) *TxManager {
	return &TxManager{pool: pool}
}

type txKey struct{}

// WithinTransaction executes a function within a transaction.
// It injects the tx into the context. A nested call joins the outer tx.
// Callbacks registered with txhook.AfterCommit run after a successful commit.
func (tm *TxManager) WithinTransaction(ctx context.Context, tFunc func(ctx context.Context) error) (err error) {
	if GetTx(ctx) != nil {
		return tFunc(ctx)
	}

	tx, err := tm.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	txCtx, hooks := txhook.Collect(context.WithValue(ctx, txKey{}, tx))

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			_ = tx.Rollback(ctx)
		} else if cerr := tx.Commit(ctx); cerr != nil {
			err = fmt.Errorf("commit transaction: %w", cerr)
		} else {
			hooks.Run()
		}
	}()

	return tFunc(txCtx)
}

// GetTx retrieves the transaction from context, or nil if not present.
func GetTx(ctx context.Context) pgx.Tx {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return nil
}

type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// conn returns the tx carried by ctx, falling back to the pool.
func conn(ctx context.Context, pool DB) querier {
	if tx := GetTx(ctx); tx != nil {
		return tx
	}
	return pool
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfEmptyDefault(s string, def string) any {
	if s == "" {
		return def
	}
	return s
}
