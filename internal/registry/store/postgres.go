package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"pandi/internal/registry/models"
	id "pandi/pkg/domain"
	"pandi/pkg/platform/sentinel"
	txcontext "pandi/pkg/platform/tx"
)

// PostgresStore persists reference entities in PostgreSQL. All statements use
// the transaction in context when one is open so the reassignment coordinator
// can make repoint-then-delete atomic.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) conn(ctx context.Context) dbConn {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Create(ctx context.Context, entity *models.Entity) error {
	query := `
		INSERT INTO entities (id, entity_type, name, details, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.conn(ctx).ExecContext(ctx, query,
		uuid.UUID(entity.ID), string(entity.Type), entity.Name, entity.Details,
		entity.CreatedAt, entity.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create entity: %w", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, entity *models.Entity) error {
	query := `
		UPDATE entities SET name = $2, details = $3, updated_at = $4
		WHERE id = $1
	`
	res, err := s.conn(ctx).ExecContext(ctx, query,
		uuid.UUID(entity.ID), entity.Name, entity.Details, entity.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update entity: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) FindByID(ctx context.Context, entityID id.EntityID) (*models.Entity, error) {
	query := `
		SELECT id, entity_type, name, details, created_at, updated_at
		FROM entities WHERE id = $1
	`
	row := s.conn(ctx).QueryRowContext(ctx, query, uuid.UUID(entityID))
	entity, err := scanEntity(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find entity by id: %w", err)
	}
	return entity, nil
}

func (s *PostgresStore) ListByType(ctx context.Context, entityType models.EntityType) ([]*models.Entity, error) {
	query := `
		SELECT id, entity_type, name, details, created_at, updated_at
		FROM entities WHERE entity_type = $1
		ORDER BY name
	`
	rows, err := s.conn(ctx).QueryContext(ctx, query, string(entityType))
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	var out []*models.Entity
	for rows.Next() {
		entity, err := scanEntity(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		out = append(out, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Delete(ctx context.Context, entityID id.EntityID) error {
	res, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM entities WHERE id = $1`, uuid.UUID(entityID))
	if err != nil {
		return fmt.Errorf("delete entity: %w", err)
	}
	return requireRow(res)
}

func scanEntity(scan func(dest ...any) error) (*models.Entity, error) {
	var entity models.Entity
	var rawID uuid.UUID
	var rawType string
	if err := scan(&rawID, &rawType, &entity.Name, &entity.Details, &entity.CreatedAt, &entity.UpdatedAt); err != nil {
		return nil, err
	}
	entity.ID = id.EntityID(rawID)
	entity.Type = models.EntityType(rawType)
	return &entity, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
