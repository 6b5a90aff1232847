package store

import (
	"context"

	"pandi/internal/registry/models"
	id "pandi/pkg/domain"
)

// EntityStore persists the reference entity catalog. Implementations return
// sentinel.ErrNotFound for missing IDs; services translate to domain errors.
type EntityStore interface {
	Create(ctx context.Context, entity *models.Entity) error
	Update(ctx context.Context, entity *models.Entity) error
	FindByID(ctx context.Context, entityID id.EntityID) (*models.Entity, error)
	ListByType(ctx context.Context, entityType models.EntityType) ([]*models.Entity, error)
	// Delete removes the entity row. The caller (reassignment coordinator) is
	// responsible for having verified and re-checked that no references remain.
	Delete(ctx context.Context, entityID id.EntityID) error
}
