package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	audit "pandi/pkg/platform/audit"
	txcontext "pandi/pkg/platform/tx"
)

// Store persists audit events in PostgreSQL. Append joins the transaction in
// context when one is open, so destructive operations and their audit rows
// share a commit.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL-backed audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	query := `
		INSERT INTO audit_events (id, occurred_at, action, record_id, actor, detail, request_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.New(),
		event.Timestamp,
		string(event.Action),
		event.RecordID,
		event.Actor,
		event.Detail,
		event.RequestID,
	)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT occurred_at, action, record_id, actor, detail, request_id
		FROM audit_events
		ORDER BY occurred_at DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var e audit.Event
		var action string
		if err := rows.Scan(&e.Timestamp, &action, &e.RecordID, &e.Actor, &e.Detail, &e.RequestID); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Action = audit.Action(action)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
