package store

import (
	"context"
	"sort"
	"sync"

	"pandi/internal/invoice/models"
	"pandi/internal/registry/usage"
	id "pandi/pkg/domain"
	"pandi/pkg/platform/sentinel"
)

// InMemory is the map-backed invoice store for dev mode and unit tests.
// Execute holds the store mutex across validate and mutate, mirroring the
// FOR UPDATE semantics of the Postgres store.
type InMemory struct {
	mu       sync.Mutex
	invoices map[id.InvoiceID]*models.Invoice
}

func NewInMemory() *InMemory {
	return &InMemory{invoices: make(map[id.InvoiceID]*models.Invoice)}
}

func cloneInvoice(inv *models.Invoice) *models.Invoice {
	clone := *inv
	clone.FeeLines = append([]models.FeeLine(nil), inv.FeeLines...)
	clone.DisbursementLines = append([]models.DisbursementLine(nil), inv.DisbursementLines...)
	return &clone
}

func (s *InMemory) Create(_ context.Context, inv *models.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.invoices[inv.ID]; exists {
		return sentinel.ErrConflict
	}
	s.invoices[inv.ID] = cloneInvoice(inv)
	return nil
}

func (s *InMemory) FindByID(_ context.Context, invoiceID id.InvoiceID) (*models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[invoiceID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneInvoice(inv), nil
}

func (s *InMemory) ListByIncident(_ context.Context, incidentID id.IncidentID) ([]*models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Invoice
	for _, inv := range s.invoices {
		if inv.IncidentID == incidentID {
			out = append(out, cloneInvoice(inv))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemory) Update(_ context.Context, inv *models.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.invoices[inv.ID]; !exists {
		return sentinel.ErrNotFound
	}
	if err := s.requireUniqueNumber(inv); err != nil {
		return err
	}
	s.invoices[inv.ID] = cloneInvoice(inv)
	return nil
}

func (s *InMemory) Execute(_ context.Context, invoiceID id.InvoiceID,
	validate func(*models.Invoice) error,
	mutate func(*models.Invoice) error,
) (*models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.invoices[invoiceID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	working := cloneInvoice(stored)
	if err := validate(working); err != nil {
		return cloneInvoice(stored), err
	}
	if err := mutate(working); err != nil {
		return cloneInvoice(stored), err
	}
	if err := s.requireUniqueNumber(working); err != nil {
		return cloneInvoice(stored), err
	}
	s.invoices[invoiceID] = working
	return cloneInvoice(working), nil
}

// requireUniqueNumber backstops the (number, year) uniqueness the database
// enforces with an index. Caller holds the mutex.
func (s *InMemory) requireUniqueNumber(inv *models.Invoice) error {
	if inv.Number == nil || inv.Year == nil {
		return nil
	}
	for _, other := range s.invoices {
		if other.ID == inv.ID || other.Number == nil || other.Year == nil {
			continue
		}
		if *other.Number == *inv.Number && *other.Year == *inv.Year {
			return sentinel.ErrConflict
		}
	}
	return nil
}

func (s *InMemory) FindReferences(_ context.Context, role usage.Role, entityID id.EntityID) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var refs []string
	for _, inv := range s.invoices {
		switch role {
		case usage.RoleContact:
			if inv.ContactID != nil && *inv.ContactID == entityID {
				refs = append(refs, inv.ID.String())
			}
		case usage.RoleCopyContact:
			if inv.CopyContactID != nil && *inv.CopyContactID == entityID {
				refs = append(refs, inv.ID.String())
			}
		case usage.RoleCorrespondent:
			for _, line := range inv.FeeLines {
				if line.CorrespondentID != nil && *line.CorrespondentID == entityID {
					refs = append(refs, line.ID.String())
				}
			}
		case usage.RoleProvider:
			for _, line := range inv.FeeLines {
				if line.ProviderID != nil && *line.ProviderID == entityID {
					refs = append(refs, line.ID.String())
				}
			}
		}
	}
	sort.Strings(refs)
	return refs, nil
}

func (s *InMemory) Repoint(_ context.Context, role usage.Role, recordID string, from, to id.EntityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch role {
	case usage.RoleContact, usage.RoleCopyContact:
		invoiceID, err := id.ParseInvoiceID(recordID)
		if err != nil {
			return err
		}
		inv, ok := s.invoices[invoiceID]
		if !ok {
			return sentinel.ErrNotFound
		}
		target := &inv.ContactID
		if role == usage.RoleCopyContact {
			target = &inv.CopyContactID
		}
		if *target == nil || **target != from {
			return sentinel.ErrNotFound
		}
		moved := to
		*target = &moved
		return nil
	case usage.RoleCorrespondent, usage.RoleProvider:
		lineID, err := id.ParseLineID(recordID)
		if err != nil {
			return err
		}
		for _, inv := range s.invoices {
			for i := range inv.FeeLines {
				line := &inv.FeeLines[i]
				if line.ID != lineID {
					continue
				}
				target := &line.CorrespondentID
				if role == usage.RoleProvider {
					target = &line.ProviderID
				}
				if *target == nil || **target != from {
					return sentinel.ErrNotFound
				}
				moved := to
				*target = &moved
				return nil
			}
		}
		return sentinel.ErrNotFound
	}
	return sentinel.ErrNotFound
}
