package service

import (
	"context"

	"github.com/google/uuid"

	"pandi/internal/invoice/models"
	regmodels "pandi/internal/registry/models"
	id "pandi/pkg/domain"
	dErrors "pandi/pkg/domain-errors"
	"pandi/pkg/requestcontext"
)

// FeeLineParams carries a fee line write. Exactly one of CorrespondentID or
// ProviderID must be set.
type FeeLineParams struct {
	CorrespondentID *id.EntityID `json:"correspondent_id,omitempty"`
	ProviderID      *id.EntityID `json:"provider_id,omitempty"`
	UnitType        string       `json:"unit_type"`
	Quantity        float64      `json:"quantity"`
	CostCents       int64        `json:"cost_cents"`
	Description     string       `json:"description"`
}

func (s *Service) feeLineFromParams(ctx context.Context, lineID id.LineID, params FeeLineParams) (models.FeeLine, error) {
	line := models.FeeLine{
		ID:              lineID,
		CorrespondentID: params.CorrespondentID,
		ProviderID:      params.ProviderID,
		UnitType:        models.UnitType(params.UnitType),
		Quantity:        params.Quantity,
		CostCents:       params.CostCents,
		Description:     params.Description,
	}
	if err := line.Validate(); err != nil {
		return models.FeeLine{}, err
	}
	if line.CorrespondentID != nil && !line.CorrespondentID.IsNil() {
		if err := s.requireEntityType(ctx, "correspondent_id", *line.CorrespondentID, regmodels.TypeClaimHandler); err != nil {
			return models.FeeLine{}, err
		}
	}
	if line.ProviderID != nil && !line.ProviderID.IsNil() {
		if err := s.requireEntityType(ctx, "provider_id", *line.ProviderID, regmodels.TypeServiceProvider); err != nil {
			return models.FeeLine{}, err
		}
	}
	return line, nil
}

// AddFeeLine appends a fee line. Rejected once the invoice is settled.
func (s *Service) AddFeeLine(ctx context.Context, invoiceID id.InvoiceID, params FeeLineParams) (*models.Invoice, error) {
	line, err := s.feeLineFromParams(ctx, id.LineID(uuid.New()), params)
	if err != nil {
		return nil, err
	}
	return s.editLines(ctx, invoiceID, func(inv *models.Invoice) error {
		inv.FeeLines = append(inv.FeeLines, line)
		return nil
	})
}

// UpdateFeeLine replaces an existing fee line in place.
func (s *Service) UpdateFeeLine(ctx context.Context, invoiceID id.InvoiceID, lineID id.LineID, params FeeLineParams) (*models.Invoice, error) {
	line, err := s.feeLineFromParams(ctx, lineID, params)
	if err != nil {
		return nil, err
	}
	return s.editLines(ctx, invoiceID, func(inv *models.Invoice) error {
		for i := range inv.FeeLines {
			if inv.FeeLines[i].ID == lineID {
				inv.FeeLines[i] = line
				return nil
			}
		}
		return dErrors.New(dErrors.CodeNotFound, "fee line not found")
	})
}

// RemoveFeeLine deletes a fee line.
func (s *Service) RemoveFeeLine(ctx context.Context, invoiceID id.InvoiceID, lineID id.LineID) (*models.Invoice, error) {
	return s.editLines(ctx, invoiceID, func(inv *models.Invoice) error {
		for i := range inv.FeeLines {
			if inv.FeeLines[i].ID == lineID {
				inv.FeeLines = append(inv.FeeLines[:i], inv.FeeLines[i+1:]...)
				return nil
			}
		}
		return dErrors.New(dErrors.CodeNotFound, "fee line not found")
	})
}

// DisbursementParams carries a disbursement line write.
type DisbursementParams struct {
	Payee       string `json:"payee"`
	AmountCents int64  `json:"amount_cents"`
	Description string `json:"description"`
}

// AddDisbursement appends a disbursement line. Rejected once settled.
func (s *Service) AddDisbursement(ctx context.Context, invoiceID id.InvoiceID, params DisbursementParams) (*models.Invoice, error) {
	line := models.DisbursementLine{
		ID:          id.LineID(uuid.New()),
		Payee:       params.Payee,
		AmountCents: params.AmountCents,
		Description: params.Description,
	}
	if err := line.Validate(); err != nil {
		return nil, err
	}
	return s.editLines(ctx, invoiceID, func(inv *models.Invoice) error {
		inv.DisbursementLines = append(inv.DisbursementLines, line)
		return nil
	})
}

// UpdateDisbursement replaces an existing disbursement line in place.
func (s *Service) UpdateDisbursement(ctx context.Context, invoiceID id.InvoiceID, lineID id.LineID, params DisbursementParams) (*models.Invoice, error) {
	line := models.DisbursementLine{
		ID:          lineID,
		Payee:       params.Payee,
		AmountCents: params.AmountCents,
		Description: params.Description,
	}
	if err := line.Validate(); err != nil {
		return nil, err
	}
	return s.editLines(ctx, invoiceID, func(inv *models.Invoice) error {
		for i := range inv.DisbursementLines {
			if inv.DisbursementLines[i].ID == lineID {
				inv.DisbursementLines[i] = line
				return nil
			}
		}
		return dErrors.New(dErrors.CodeNotFound, "disbursement line not found")
	})
}

// RemoveDisbursement deletes a disbursement line.
func (s *Service) RemoveDisbursement(ctx context.Context, invoiceID id.InvoiceID, lineID id.LineID) (*models.Invoice, error) {
	return s.editLines(ctx, invoiceID, func(inv *models.Invoice) error {
		for i := range inv.DisbursementLines {
			if inv.DisbursementLines[i].ID == lineID {
				inv.DisbursementLines = append(inv.DisbursementLines[:i], inv.DisbursementLines[i+1:]...)
				return nil
			}
		}
		return dErrors.New(dErrors.CodeNotFound, "disbursement line not found")
	})
}

// editLines runs a line mutation under the invoice lock after the frozen
// check. Line writes are allowed in draft and registered states only.
func (s *Service) editLines(ctx context.Context, invoiceID id.InvoiceID, mutate func(*models.Invoice) error) (*models.Invoice, error) {
	now := requestcontext.Now(ctx)
	inv, err := s.invoices.Execute(ctx, invoiceID,
		func(inv *models.Invoice) error {
			return inv.CanEditLines()
		},
		func(inv *models.Invoice) error {
			if err := mutate(inv); err != nil {
				return err
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
