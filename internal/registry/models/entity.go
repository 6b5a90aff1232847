// Package models defines the reference entity catalog.
package models

import (
	"strings"
	"time"

	id "pandi/pkg/domain"
	dErrors "pandi/pkg/domain-errors"
)

// EntityType enumerates the closed set of reference entity kinds. Records
// reference entities by foreign key, possibly in more than one role on the
// same record (a member can be both member and manager of one incident).
type EntityType string

const (
	TypeVessel          EntityType = "vessel"
	TypeMember          EntityType = "member"
	TypeLocalAgent      EntityType = "local_agent"
	TypeClaimHandler    EntityType = "claim_handler"
	TypeClub            EntityType = "club"
	TypeOffice          EntityType = "office"
	TypeContact         EntityType = "contact"
	TypeServiceProvider EntityType = "service_provider"
	TypeTrader          EntityType = "trader"
)

// AllTypes lists every entity type in stable order.
var AllTypes = []EntityType{
	TypeVessel,
	TypeMember,
	TypeLocalAgent,
	TypeClaimHandler,
	TypeClub,
	TypeOffice,
	TypeContact,
	TypeServiceProvider,
	TypeTrader,
}

// ParseEntityType validates a type string from the URL path.
func ParseEntityType(raw string) (EntityType, error) {
	t := EntityType(raw)
	for _, known := range AllTypes {
		if t == known {
			return t, nil
		}
	}
	return "", dErrors.Newf(dErrors.CodeNotFound, "unknown entity type %q", raw)
}

// Entity is a named catalog row referenced by case records and invoices.
//
// Invariants:
//   - Name is non-empty and at most 200 characters
//   - Type is one of AllTypes and immutable after creation
//   - Retirement happens only through the reassignment coordinator
type Entity struct {
	ID        id.EntityID `json:"id"`
	Type      EntityType  `json:"type"`
	Name      string      `json:"name"`
	Details   string      `json:"details,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// NewEntity validates and constructs an entity.
func NewEntity(entityID id.EntityID, entityType EntityType, name, details string, now time.Time) (*Entity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "entity name is required")
	}
	if len(name) > 200 {
		return nil, dErrors.New(dErrors.CodeValidation, "entity name must be at most 200 characters")
	}
	if _, err := ParseEntityType(string(entityType)); err != nil {
		return nil, err
	}
	return &Entity{
		ID:        entityID,
		Type:      entityType,
		Name:      name,
		Details:   details,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
