// Package service drives the invoice lifecycle: draft editing, registration
// with atomic number allocation, settlement, and the chase reminder index.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	incidentmodels "pandi/internal/incident/models"
	"pandi/internal/invoice/chase"
	"pandi/internal/invoice/models"
	"pandi/internal/invoice/numbering"
	"pandi/internal/invoice/store"
	"pandi/internal/platform/metrics"
	regmodels "pandi/internal/registry/models"
	id "pandi/pkg/domain"
	dErrors "pandi/pkg/domain-errors"
	"pandi/pkg/platform/audit"
	"pandi/pkg/platform/sentinel"
	"pandi/pkg/platform/tx"
	"pandi/pkg/requestcontext"
)

// IncidentResolver confirms the owning incident exists before a draft opens.
type IncidentResolver interface {
	FindByID(ctx context.Context, incidentID id.IncidentID) (*incidentmodels.Incident, error)
}

// EntityResolver validates contact and performer references at write time.
type EntityResolver interface {
	FindByID(ctx context.Context, entityID id.EntityID) (*regmodels.Entity, error)
}

// Service owns invoice state transitions. All transitions run through the
// store's Execute so validation and mutation happen under the invoice lock.
type Service struct {
	invoices  store.InvoiceStore
	incidents IncidentResolver
	entities  EntityResolver
	allocator numbering.Allocator
	chase     chase.Index
	tx        tx.Runner
	recorder  *audit.Recorder
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func New(invoices store.InvoiceStore, incidents IncidentResolver, entities EntityResolver,
	allocator numbering.Allocator, chaseIndex chase.Index, runner tx.Runner,
	recorder *audit.Recorder, m *metrics.Metrics, logger *slog.Logger,
) *Service {
	if runner == nil {
		runner = tx.Passthrough{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		invoices:  invoices,
		incidents: incidents,
		entities:  entities,
		allocator: allocator,
		chase:     chaseIndex,
		tx:        runner,
		recorder:  recorder,
		metrics:   m,
		logger:    logger,
	}
}

// CreateInvoice opens a new draft against an incident.
func (s *Service) CreateInvoice(ctx context.Context, incidentID id.IncidentID) (*models.Invoice, error) {
	if _, err := s.incidents.FindByID(ctx, incidentID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) || dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "incident not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve incident")
	}
	inv := models.NewInvoice(id.InvoiceID(uuid.New()), incidentID, requestcontext.Now(ctx))
	if err := s.invoices.Create(ctx, inv); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create invoice")
	}
	return inv, nil
}

// GetInvoice fetches one invoice with its lines.
func (s *Service) GetInvoice(ctx context.Context, invoiceID id.InvoiceID) (*models.Invoice, error) {
	inv, err := s.invoices.FindByID(ctx, invoiceID)
	if err != nil {
		return nil, translate(err)
	}
	return inv, nil
}

// ListByIncident lists an incident's invoices, oldest first.
func (s *Service) ListByIncident(ctx context.Context, incidentID id.IncidentID) ([]*models.Invoice, error) {
	invoices, err := s.invoices.ListByIncident(ctx, incidentID)
	if err != nil {
		return nil, translate(err)
	}
	return invoices, nil
}

// HeaderPatch carries the editable header fields. A nil pointer leaves the
// field untouched; Clear* flags blank it explicitly.
type HeaderPatch struct {
	PeriodFrom    *time.Time   `json:"period_from,omitempty"`
	PeriodTo      *time.Time   `json:"period_to,omitempty"`
	ContactID     *id.EntityID `json:"contact_id,omitempty"`
	CopyContactID *id.EntityID `json:"copy_contact_id,omitempty"`
	FinalInvoice  *bool        `json:"final_invoice,omitempty"`
}

// UpdateHeader patches the invoice header. Allowed until settlement; the
// number and year never change here regardless of input.
func (s *Service) UpdateHeader(ctx context.Context, invoiceID id.InvoiceID, patch HeaderPatch) (*models.Invoice, error) {
	if err := s.requireContact(ctx, "contact_id", patch.ContactID); err != nil {
		return nil, err
	}
	if err := s.requireContact(ctx, "copy_contact_id", patch.CopyContactID); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	inv, err := s.invoices.Execute(ctx, invoiceID,
		func(inv *models.Invoice) error {
			return inv.CanEditLines()
		},
		func(inv *models.Invoice) error {
			if patch.PeriodFrom != nil {
				inv.PeriodFrom = patch.PeriodFrom
			}
			if patch.PeriodTo != nil {
				inv.PeriodTo = patch.PeriodTo
			}
			if patch.ContactID != nil {
				inv.ContactID = patch.ContactID
			}
			if patch.CopyContactID != nil {
				inv.CopyContactID = patch.CopyContactID
			}
			if patch.FinalInvoice != nil {
				inv.FinalInvoice = *patch.FinalInvoice
			}
			if inv.PeriodFrom != nil && inv.PeriodTo != nil && inv.PeriodTo.Before(*inv.PeriodFrom) {
				return dErrors.New(dErrors.CodeValidation, "period_to must not precede period_from")
			}
			inv.UpdatedAt = now
			return nil
		},
	)
	if err != nil {
		return nil, translate(err)
	}
	return inv, nil
}

// Register allocates the next number for the current year and moves the
// invoice to registered. Allocation and assignment share one transaction so
// a failed registration never leaves a numbered draft behind.
func (s *Service) Register(ctx context.Context, invoiceID id.InvoiceID) (*models.Invoice, error) {
	now := requestcontext.Now(ctx)
	year := now.Year()
	var registered *models.Invoice
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		inv, err := s.invoices.Execute(txCtx, invoiceID,
			func(inv *models.Invoice) error {
				return inv.CanRegister()
			},
			func(inv *models.Invoice) error {
				number, err := s.allocator.Next(txCtx, year)
				if err != nil {
					return dErrors.Wrap(err, dErrors.CodeInternal, "failed to allocate invoice number")
				}
				inv.ApplyRegistration(number, year, now)
				return nil
			},
		)
		if err != nil {
			return translate(err)
		}
		registered = inv
		return s.recordEvent(txCtx, audit.ActionInvoiceRegistered, inv.ID.String(),
			fmt.Sprintf("number %d/%d", *inv.Number, *inv.Year))
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncInvoicesRegistered()
	s.syncChase(ctx, registered)
	return registered, nil
}

// Settle records the settlement date; nil defaults to the request time. The
// invoice must already be registered. The chase entry is withdrawn while the
// settlement date stands.
func (s *Service) Settle(ctx context.Context, invoiceID id.InvoiceID, date *time.Time) (*models.Invoice, error) {
	now := requestcontext.Now(ctx)
	settlementDate := now
	if date != nil {
		settlementDate = *date
	}
	var settled *models.Invoice
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		inv, err := s.invoices.Execute(txCtx, invoiceID,
			func(inv *models.Invoice) error {
				return inv.CanSettle()
			},
			func(inv *models.Invoice) error {
				inv.ApplySettle(settlementDate, now)
				return nil
			},
		)
		if err != nil {
			return translate(err)
		}
		settled = inv
		return s.recordEvent(txCtx, audit.ActionInvoiceSettled, inv.ID.String(),
			"settled on "+settlementDate.Format(time.RFC3339))
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncInvoicesSettled()
	s.syncChase(ctx, settled)
	return settled, nil
}

// ClearSettlement reverts visible settlement. The number stays allocated:
// un-settling is supported, un-registering is not. A pending chasing date
// comes back into the chase index.
func (s *Service) ClearSettlement(ctx context.Context, invoiceID id.InvoiceID) (*models.Invoice, error) {
	now := requestcontext.Now(ctx)
	var cleared *models.Invoice
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		inv, err := s.invoices.Execute(txCtx, invoiceID,
			func(inv *models.Invoice) error {
				if inv.State != models.StateSettled {
					return dErrors.New(dErrors.CodeConflict, "invoice is not settled")
				}
				return nil
			},
			func(inv *models.Invoice) error {
				inv.ApplyClearSettlement(now)
				return nil
			},
		)
		if err != nil {
			return translate(err)
		}
		cleared = inv
		return s.recordEvent(txCtx, audit.ActionSettlementCleared, inv.ID.String(), "settlement date cleared")
	})
	if err != nil {
		return nil, err
	}
	s.syncChase(ctx, cleared)
	return cleared, nil
}

// SetChasingDate records when to next chase payment. Independent of
// lifecycle state; the index entry only materializes while the invoice is
// unsettled.
func (s *Service) SetChasingDate(ctx context.Context, invoiceID id.InvoiceID, date *time.Time) (*models.Invoice, error) {
	now := requestcontext.Now(ctx)
	inv, err := s.invoices.Execute(ctx, invoiceID,
		func(*models.Invoice) error { return nil },
		func(inv *models.Invoice) error {
			inv.ChasingDate = date
			inv.UpdatedAt = now
			return nil
		},
	)
	if err != nil {
		return nil, translate(err)
	}
	s.syncChase(ctx, inv)
	return inv, nil
}

// DueForChasing lists unsettled invoices whose chasing date falls before the
// cutoff, soonest first.
func (s *Service) DueForChasing(ctx context.Context, cutoff time.Time) ([]chase.Entry, error) {
	if s.chase == nil {
		return nil, nil
	}
	entries, err := s.chase.DueBefore(ctx, cutoff)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read chase index")
	}
	return entries, nil
}

// syncChase reconciles the chase index with the invoice: an unsettled invoice
// with a chasing date is scheduled, anything else is cleared.
func (s *Service) syncChase(ctx context.Context, inv *models.Invoice) {
	if s.chase == nil || inv == nil {
		return
	}
	var err error
	if inv.ChasingDate != nil && !inv.IsSettled() {
		err = s.chase.Schedule(ctx, inv.ID, *inv.ChasingDate)
	} else {
		err = s.chase.Clear(ctx, inv.ID)
	}
	if err != nil {
		// The index is a derived view; the invoice itself is already saved.
		s.logger.ErrorContext(ctx, "chase index update failed",
			"invoice_id", inv.ID.String(), "error", err.Error())
	}
}

func (s *Service) requireContact(ctx context.Context, field string, ref *id.EntityID) error {
	if ref == nil || ref.IsNil() {
		return nil
	}
	return s.requireEntityType(ctx, field, *ref, regmodels.TypeContact)
}

func (s *Service) requireEntityType(ctx context.Context, field string, entityID id.EntityID, want regmodels.EntityType) error {
	entity, err := s.entities.FindByID(ctx, entityID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Newf(dErrors.CodeValidation, "%s does not resolve to an entity", field)
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve "+field)
	}
	if entity.Type != want {
		return dErrors.Newf(dErrors.CodeValidation, "%s must reference a %s entity", field, want)
	}
	return nil
}

func (s *Service) recordEvent(ctx context.Context, action audit.Action, recordID, detail string) error {
	if s.recorder == nil {
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
	if err := s.recorder.Record(ctx, event); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record audit event")
	}
	return nil
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "invoice not found")
	}
	if errors.Is(err, sentinel.ErrConflict) {
		return dErrors.New(dErrors.CodeConflict, "invoice number already taken for that year")
	}
	var coded *dErrors.Error
	if errors.As(err, &coded) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "invoice store failure")
}
