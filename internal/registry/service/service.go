// Package service implements the reference entity lifecycle: catalog CRUD,
// usage lookup and the reassign-and-delete protocol that is the only way a
// referenced entity may be retired.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pandi/internal/platform/metrics"
	"pandi/internal/registry/models"
	"pandi/internal/registry/store"
	"pandi/internal/registry/usage"
	id "pandi/pkg/domain"
	dErrors "pandi/pkg/domain-errors"
	"pandi/pkg/platform/audit"
	"pandi/pkg/platform/sentinel"
	"pandi/pkg/platform/tx"
	"pandi/pkg/requestcontext"
)

// InUseError reports the complete set of references blocking a direct delete.
// The fact list is what the UI presents before offering the reassignment flow.
type InUseError struct {
	Facts []usage.Fact
}

func (e *InUseError) Error() string {
	return fmt.Sprintf("entity is referenced by %d record role(s)", len(e.Facts))
}

// PartialUpdateError reports a reassignment that stopped partway. Against a
// transactional store nothing persists; against the in-memory store the
// repoints already applied remain and the operation is safe to re-run because
// repointing is idempotent. The entity is never deleted on this path.
type PartialUpdateError struct {
	Repointed []usage.Fact
	Remaining []usage.Fact
	Cause     error
}

func (e *PartialUpdateError) Error() string {
	return fmt.Sprintf("reassignment stopped after %d of %d references: %v",
		len(e.Repointed), len(e.Repointed)+len(e.Remaining), e.Cause)
}

func (e *PartialUpdateError) Unwrap() error { return e.Cause }

// Coordinator owns entity retirement. All multi-step mutations run inside the
// Runner so repoint-then-delete is a single atomic unit where the store
// supports it.
type Coordinator struct {
	entities store.EntityStore
	index    *usage.Index
	tx       tx.Runner
	recorder *audit.Recorder
	metrics  *metrics.Metrics
}

func NewCoordinator(entities store.EntityStore, index *usage.Index, runner tx.Runner, recorder *audit.Recorder, m *metrics.Metrics) *Coordinator {
	if runner == nil {
		runner = tx.Passthrough{}
	}
	return &Coordinator{entities: entities, index: index, tx: runner, recorder: recorder, metrics: m}
}

// CreateEntity adds a catalog row.
func (c *Coordinator) CreateEntity(ctx context.Context, entityType models.EntityType, name, details string) (*models.Entity, error) {
	entity, err := models.NewEntity(id.EntityID(uuid.New()), entityType, name, details, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := c.entities.Create(ctx, entity); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create entity")
	}
	return entity, nil
}

// GetEntity fetches one entity, enforcing that it has the expected type.
func (c *Coordinator) GetEntity(ctx context.Context, entityType models.EntityType, entityID id.EntityID) (*models.Entity, error) {
	entity, err := c.entities.FindByID(ctx, entityID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "entity not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load entity")
	}
	if entity.Type != entityType {
		return nil, dErrors.New(dErrors.CodeNotFound, "entity not found")
	}
	return entity, nil
}

// ListEntities returns the catalog rows of one type.
func (c *Coordinator) ListEntities(ctx context.Context, entityType models.EntityType) ([]*models.Entity, error) {
	entities, err := c.entities.ListByType(ctx, entityType)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list entities")
	}
	return entities, nil
}

// UpdateEntity renames an entity or edits its details. References are by ID,
// so renames never touch dependent records.
func (c *Coordinator) UpdateEntity(ctx context.Context, entityType models.EntityType, entityID id.EntityID, name, details string) (*models.Entity, error) {
	entity, err := c.GetEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, err
	}
	updated, err := models.NewEntity(entity.ID, entity.Type, name, details, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	updated.CreatedAt = entity.CreatedAt
	if err := c.entities.Update(ctx, updated); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update entity")
	}
	return updated, nil
}

// Usage enumerates every record role referencing the entity. Empty is a valid
// answer and means the entity is safe to delete directly.
func (c *Coordinator) Usage(ctx context.Context, entityType models.EntityType, entityID id.EntityID) ([]usage.Fact, error) {
	if _, err := c.GetEntity(ctx, entityType, entityID); err != nil {
		return nil, err
	}
	start := time.Now()
	facts, err := c.index.Find(ctx, entityType, entityID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "usage query failed")
	}
	c.metrics.ObserveUsageQuery(time.Since(start))
	return facts, nil
}

// Delete removes an unused entity. When references exist it fails with a
// conflict carrying the complete fact list; the caller is expected to run the
// reassignment flow instead. The usage check and the delete share one
// transaction, and usage is re-checked inside it, so a reference added
// concurrently cannot be orphaned.
func (c *Coordinator) Delete(ctx context.Context, entityType models.EntityType, entityID id.EntityID) error {
	if _, err := c.GetEntity(ctx, entityType, entityID); err != nil {
		return err
	}
	err := c.tx.RunInTx(ctx, func(txCtx context.Context) error {
		facts, err := c.index.Find(txCtx, entityType, entityID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "usage query failed")
		}
		if len(facts) > 0 {
			return dErrors.Wrap(&InUseError{Facts: facts}, dErrors.CodeConflict, "entity is still in use")
		}
		if err := c.deleteAndRecord(txCtx, entityID); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.metrics.IncEntitiesDeleted()
	return nil
}

// ReassignAndDelete repoints every reference from one entity to a replacement
// of the same type, then deletes the original. Preconditions: the replacement
// differs from the original and resolves to an existing entity of the same
// type. Inside one transaction: enumerate facts, repoint each (record, role)
// pair individually, re-check that usage is empty, then delete. On a partial
// failure the transaction rolls back and the error identifies which references
// had been repointed; the entity is never deleted on a failure path.
func (c *Coordinator) ReassignAndDelete(ctx context.Context, entityType models.EntityType, fromID, toID id.EntityID) error {
	if fromID == toID {
		return dErrors.New(dErrors.CodeBadRequest, "replacement must differ from the entity being deleted")
	}
	if _, err := c.GetEntity(ctx, entityType, fromID); err != nil {
		return err
	}
	if _, err := c.GetEntity(ctx, entityType, toID); err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "replacement entity not found")
		}
		return err
	}

	err := c.tx.RunInTx(ctx, func(txCtx context.Context) error {
		facts, err := c.index.Find(txCtx, entityType, fromID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "usage query failed")
		}

		for i, fact := range facts {
			if err := c.index.Repoint(txCtx, fact, fromID, toID); err != nil {
				partial := &PartialUpdateError{
					Repointed: facts[:i],
					Remaining: facts[i:],
					Cause:     err,
				}
				return dErrors.Wrap(partial, dErrors.CodeIntegrity, "reassignment failed partway; entity not deleted, re-run to resume")
			}
		}

		// Re-check immediately before the delete: a reference created after
		// the enumeration above must block the retirement.
		remaining, err := c.index.Find(txCtx, entityType, fromID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "usage re-check failed")
		}
		if len(remaining) > 0 {
			return dErrors.Wrap(&InUseError{Facts: remaining}, dErrors.CodeConflict, "entity is still in use after reassignment")
		}

		if err := c.deleteAndRecord(txCtx, fromID); err != nil {
			return err
		}
		return c.recordEvent(txCtx, audit.ActionEntityReassigned, fromID.String(), "reassigned to "+toID.String())
	})
	if err != nil {
		return err
	}
	c.metrics.IncReassignments()
	c.metrics.IncEntitiesDeleted()
	return nil
}

func (c *Coordinator) deleteAndRecord(ctx context.Context, entityID id.EntityID) error {
	if err := c.entities.Delete(ctx, entityID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "entity not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete entity")
	}
	return c.recordEvent(ctx, audit.ActionEntityDeleted, entityID.String(), "")
}

func (c *Coordinator) recordEvent(ctx context.Context, action audit.Action, recordID, detail string) error {
	if c.recorder == nil {
		return nil
	}
	event := audit.Event{
		Timestamp: requestcontext.Now(ctx),
		Action:    action,
		RecordID:  recordID,
		Actor:     requestcontext.Actor(ctx),
		Detail:    detail,
		RequestID: requestcontext.RequestID(ctx),
	}
	if err := c.recorder.Record(ctx, event); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record audit event")
	}
	return nil
}
