package store

import (
	"context"
	"sort"
	"sync"

	"pandi/internal/registry/models"
	id "pandi/pkg/domain"
	"pandi/pkg/platform/sentinel"
)

// InMemory is the map-backed entity store for dev mode and unit tests.
type InMemory struct {
	mu       sync.RWMutex
	entities map[id.EntityID]*models.Entity
}

func NewInMemory() *InMemory {
	return &InMemory{entities: make(map[id.EntityID]*models.Entity)}
}

func (s *InMemory) Create(_ context.Context, entity *models.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entities[entity.ID]; exists {
		return sentinel.ErrConflict
	}
	clone := *entity
	s.entities[entity.ID] = &clone
	return nil
}

func (s *InMemory) Update(_ context.Context, entity *models.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entities[entity.ID]; !exists {
		return sentinel.ErrNotFound
	}
	clone := *entity
	s.entities[entity.ID] = &clone
	return nil
}

func (s *InMemory) FindByID(_ context.Context, entityID id.EntityID) (*models.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entity, ok := s.entities[entityID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *entity
	return &clone, nil
}

func (s *InMemory) ListByType(_ context.Context, entityType models.EntityType) ([]*models.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Entity
	for _, entity := range s.entities {
		if entity.Type == entityType {
			clone := *entity
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *InMemory) Delete(_ context.Context, entityID id.EntityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[entityID]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.entities, entityID)
	return nil
}
