package numbering

import (
	"context"
	"database/sql"

	"pandi/pkg/platform/tx"
)

// Postgres allocates numbers from the invoice_counters table. The upsert is a
// single atomic statement, so concurrent allocations for the same year
// serialize on the row and each caller sees a distinct number.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const nextNumberQuery = `
	INSERT INTO invoice_counters (year, last_number)
	VALUES ($1, 1)
	ON CONFLICT (year) DO UPDATE SET last_number = invoice_counters.last_number + 1
	RETURNING last_number`

func (p *Postgres) Next(ctx context.Context, year int) (int, error) {
	var number int
	var row *sql.Row
	if txn, ok := tx.From(ctx); ok {
		row = txn.QueryRowContext(ctx, nextNumberQuery, year)
	} else {
		row = p.db.QueryRowContext(ctx, nextNumberQuery, year)
	}
	if err := row.Scan(&number); err != nil {
		return 0, err
	}
	return number, nil
}
