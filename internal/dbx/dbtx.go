// Package dbx holds the database plumbing the PostgreSQL credential store
// is built on: DBTX lets a repository run against the pool or inside a
// transaction, and WithTx scopes the multi-step writes (the password reset
// lookup and update) to one transaction.
package dbx

import (
	"context"
	"database/sql"
	"errors"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx runs fn inside a transaction. It commits when fn returns nil and
// rolls back otherwise; a panic rolls back and is re-raised. Row locks taken
// by fn (SELECT ... FOR UPDATE) are held until WithTx returns.
//
// The error of fn is returned as is, so classified errors reach the caller.
// A failed rollback is joined to it.
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err == nil {
			err = tx.Commit()
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = errors.Join(err, rbErr)
		}
	}()

	return fn(ctx, tx)
}
