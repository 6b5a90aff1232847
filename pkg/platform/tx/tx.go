// Package tx carries SQL transactions through context and provides a Runner
// abstraction so services can demand atomicity without knowing the backing store.
package tx

import (
	"context"
	"database/sql"
	"fmt"
)

type ctxKey struct{}

var txKey = ctxKey{}

// WithTx stores a SQL transaction in context for downstream store usage.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From extracts a SQL transaction from context if present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok
}

// Runner wraps a function in a single atomic unit of work. The SQL
// implementation opens a transaction and places it in context; stores that find
// a transaction there must use it instead of their own connection.
type Runner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// SQLRunner runs functions inside a database transaction.
type SQLRunner struct {
	db *sql.DB
}

// NewSQLRunner constructs a Runner over a *sql.DB.
func NewSQLRunner(db *sql.DB) *SQLRunner {
	return &SQLRunner{db: db}
}

func (r *SQLRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := From(ctx); ok {
		// Already inside a transaction; join it.
		return fn(ctx)
	}
	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(WithTx(ctx, dbTx)); err != nil {
		if rbErr := dbTx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback after %w: %v", err, rbErr)
		}
		return err
	}
	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Passthrough is a Runner for in-memory stores whose operations are atomic on
// their own. It simply invokes the function.
type Passthrough struct{}

func (Passthrough) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
