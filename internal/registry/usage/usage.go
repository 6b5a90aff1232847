// Package usage answers "is this entity referenced anywhere, and in which roles?".
//
// The index is driven by a static role table rather than per-type code paths:
// adding a reference entity type means adding rows to the table. Each record
// source (incidents, invoices, fee lines) exposes the closed set of roles it
// holds; the index fans queries out across sources and enumerates every role,
// so an entity referenced twice by one record yields two facts.
package usage

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"pandi/internal/registry/models"
	id "pandi/pkg/domain"
)

// RecordType names a kind of dependent record.
type RecordType string

const (
	RecordIncident RecordType = "incident"
	RecordInvoice  RecordType = "invoice"
	RecordFeeLine  RecordType = "fee_line"
)

// Role names the specific foreign key a reference occupies.
type Role string

const (
	RoleVessel        Role = "vessel"
	RoleMember        Role = "member"
	RoleManager       Role = "manager"
	RoleLocalAgent    Role = "local_agent"
	RoleClaimHandler  Role = "claim_handler"
	RoleClub          Role = "club"
	RoleOffice        Role = "office"
	RoleTrader        Role = "trader"
	RoleContact       Role = "contact"
	RoleCopyContact   Role = "copy_contact"
	RoleCorrespondent Role = "correspondent"
	RoleProvider      Role = "provider"
)

// Fact is a discovered reference: this record holds the entity in this role.
type Fact struct {
	RecordType RecordType `json:"record_type"`
	RecordID   string     `json:"record_id"`
	Role       Role       `json:"role"`
}

// RoleRef locates one foreign key an entity type may occupy.
type RoleRef struct {
	RecordType RecordType
	Role       Role
}

// roleTable is the single place that knows which foreign keys may point at
// each entity type. Member appears twice on incidents (member and manager),
// contact twice on invoices; those are independent usage facts.
var roleTable = map[models.EntityType][]RoleRef{
	models.TypeVessel:          {{RecordIncident, RoleVessel}},
	models.TypeMember:          {{RecordIncident, RoleMember}, {RecordIncident, RoleManager}},
	models.TypeLocalAgent:      {{RecordIncident, RoleLocalAgent}},
	models.TypeClaimHandler:    {{RecordIncident, RoleClaimHandler}, {RecordFeeLine, RoleCorrespondent}},
	models.TypeClub:            {{RecordIncident, RoleClub}},
	models.TypeOffice:          {{RecordIncident, RoleOffice}},
	models.TypeTrader:          {{RecordIncident, RoleTrader}},
	models.TypeContact:         {{RecordInvoice, RoleContact}, {RecordInvoice, RoleCopyContact}},
	models.TypeServiceProvider: {{RecordFeeLine, RoleProvider}},
}

// RolesFor returns the role refs an entity type may occupy.
func RolesFor(entityType models.EntityType) []RoleRef {
	return roleTable[entityType]
}

// Source is a record store able to enumerate and repoint references for the
// roles it owns. FindReferences must return one record ID per occupied role
// occurrence; Repoint must update exactly the given (record, role) pair and
// never touch another role on the same or a different record.
type Source interface {
	FindReferences(ctx context.Context, role Role, entityID id.EntityID) ([]string, error)
	Repoint(ctx context.Context, role Role, recordID string, from, to id.EntityID) error
}

// Index resolves usage facts for any entity type via registered sources.
type Index struct {
	sources map[RecordType]Source
}

// NewIndex builds an index over the given record sources.
func NewIndex(sources map[RecordType]Source) *Index {
	return &Index{sources: sources}
}

// Find enumerates every fact referencing the entity. An empty result is the
// deletion-safety signal, not an error. Queries fan out per role ref; results
// are returned in deterministic order.
func (ix *Index) Find(ctx context.Context, entityType models.EntityType, entityID id.EntityID) ([]Fact, error) {
	refs := roleTable[entityType]

	var mu sync.Mutex
	facts := make([]Fact, 0)

	g, ctx := errgroup.WithContext(ctx)
	for _, ref := range refs {
		source, ok := ix.sources[ref.RecordType]
		if !ok {
			continue
		}
		g.Go(func() error {
			recordIDs, err := source.FindReferences(ctx, ref.Role, entityID)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, recordID := range recordIDs {
				facts = append(facts, Fact{RecordType: ref.RecordType, RecordID: recordID, Role: ref.Role})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(facts, func(i, j int) bool {
		if facts[i].RecordType != facts[j].RecordType {
			return facts[i].RecordType < facts[j].RecordType
		}
		if facts[i].Role != facts[j].Role {
			return facts[i].Role < facts[j].Role
		}
		return facts[i].RecordID < facts[j].RecordID
	})
	return facts, nil
}

// Repoint moves a single fact from one entity to another.
func (ix *Index) Repoint(ctx context.Context, fact Fact, from, to id.EntityID) error {
	source, ok := ix.sources[fact.RecordType]
	if !ok {
		return errUnknownSource(fact.RecordType)
	}
	return source.Repoint(ctx, fact.Role, fact.RecordID, from, to)
}

type errUnknownSource RecordType

func (e errUnknownSource) Error() string {
	return "no source registered for record type " + string(e)
}
