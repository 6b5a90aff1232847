// Package store persists invoices and their lines.
package store

import (
	"context"

	"pandi/internal/invoice/models"
	"pandi/internal/registry/usage"
	id "pandi/pkg/domain"
)

// InvoiceStore is the persistence surface for invoices. Execute holds the
// invoice lock (mutex or FOR UPDATE) across validate and mutate so lifecycle
// transitions cannot race; mutate may fail (number allocation happens inside
// it) and a failing mutate leaves the invoice untouched.
//
// FindReferences and Repoint serve the entity usage index: contact roles
// resolve against invoice headers, correspondent and provider roles against
// individual fee lines.
type InvoiceStore interface {
	Create(ctx context.Context, inv *models.Invoice) error
	FindByID(ctx context.Context, invoiceID id.InvoiceID) (*models.Invoice, error)
	ListByIncident(ctx context.Context, incidentID id.IncidentID) ([]*models.Invoice, error)
	Update(ctx context.Context, inv *models.Invoice) error
	Execute(ctx context.Context, invoiceID id.InvoiceID,
		validate func(*models.Invoice) error,
		mutate func(*models.Invoice) error,
	) (*models.Invoice, error)

	FindReferences(ctx context.Context, role usage.Role, entityID id.EntityID) ([]string, error)
	Repoint(ctx context.Context, role usage.Role, recordID string, from, to id.EntityID) error
}
