package db

import (
	"context"
	"database/sql"
	"fmt"
)

// DBTX is satisfied by *sql.DB and *sql.Tx so repositories can run inside or
// outside a caller's transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// RunInTx runs fn inside a transaction on conn, committing when fn returns nil.
func RunInTx(ctx context.Context, conn *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// withTx runs fn in a transaction when q is a *sql.DB and directly when the
// caller already holds one.
func withTx(ctx context.Context, q DBTX, fn func(q DBTX) error) error {
	if conn, ok := q.(*sql.DB); ok {
		return RunInTx(ctx, conn, func(tx *sql.Tx) error { return fn(tx) })
	}
	return fn(q)
}
