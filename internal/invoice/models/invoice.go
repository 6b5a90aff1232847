// Package models defines invoices, their fee and disbursement lines, and the
// registration/settlement state machine.
package models

import (
	"fmt"
	"strings"
	"time"

	id "pandi/pkg/domain"
	dErrors "pandi/pkg/domain-errors"
)

// State is the invoice lifecycle state. Transitions are strictly monotonic:
// draft → registered → settled. Clearing a settlement date makes the invoice
// visibly unsettled again but the state never regresses past registered and
// the allocated number is never given back.
type State string

const (
	StateDraft      State = "draft"
	StateRegistered State = "registered"
	StateSettled    State = "settled"
)

func (s State) CanTransitionTo(target State) bool {
	switch s {
	case StateDraft:
		return target == StateRegistered
	case StateRegistered:
		return target == StateSettled
	case StateSettled:
		return target == StateRegistered
	default:
		return false
	}
}

// UnitType prices a fee line. Fixed-price lines always carry quantity 1.
type UnitType string

const (
	UnitHour  UnitType = "hour"
	UnitDay   UnitType = "day"
	UnitFixed UnitType = "fixed"
)

func ParseUnitType(raw string) (UnitType, error) {
	switch UnitType(raw) {
	case UnitHour, UnitDay, UnitFixed:
		return UnitType(raw), nil
	}
	return "", dErrors.Newf(dErrors.CodeValidation, "unknown unit type %q", raw)
}

// FeeLine is one unit of professional work on an invoice. Exactly one of
// CorrespondentID (a claim handler) or ProviderID (a service provider) names
// who performed it.
type FeeLine struct {
	ID              id.LineID    `json:"id"`
	CorrespondentID *id.EntityID `json:"correspondent_id,omitempty"`
	ProviderID      *id.EntityID `json:"provider_id,omitempty"`
	UnitType        UnitType     `json:"unit_type"`
	Quantity        float64      `json:"quantity"`
	CostCents       int64        `json:"cost_cents"`
	Description     string       `json:"description,omitempty"`
}

// Validate enforces the exactly-one-of performer rule and normalizes the
// quantity of fixed-price lines to 1. Called on every write, not only create,
// so an update can never smuggle in a second performer.
func (l *FeeLine) Validate() error {
	hasCorrespondent := l.CorrespondentID != nil && !l.CorrespondentID.IsNil()
	hasProvider := l.ProviderID != nil && !l.ProviderID.IsNil()
	if hasCorrespondent == hasProvider {
		return dErrors.New(dErrors.CodeValidation, "fee line requires exactly one of correspondent_id or provider_id")
	}
	if _, err := ParseUnitType(string(l.UnitType)); err != nil {
		return err
	}
	if l.UnitType == UnitFixed {
		l.Quantity = 1
	}
	if l.Quantity <= 0 {
		return dErrors.New(dErrors.CodeValidation, "fee line quantity must be positive")
	}
	if l.CostCents < 0 {
		return dErrors.New(dErrors.CodeValidation, "fee line cost cannot be negative")
	}
	return nil
}

// AmountCents is cost times quantity, rounded to the nearest cent.
func (l FeeLine) AmountCents() int64 {
	return int64(float64(l.CostCents)*l.Quantity + 0.5)
}

// DisbursementLine is a pass-through expense paid on the member's behalf.
type DisbursementLine struct {
	ID          id.LineID `json:"id"`
	Payee       string    `json:"payee"`
	AmountCents int64     `json:"amount_cents"`
	Description string    `json:"description,omitempty"`
}

func (l *DisbursementLine) Validate() error {
	if strings.TrimSpace(l.Payee) == "" {
		return dErrors.New(dErrors.CodeValidation, "disbursement payee is required")
	}
	if l.AmountCents < 0 {
		return dErrors.New(dErrors.CodeValidation, "disbursement amount cannot be negative")
	}
	return nil
}

// Invoice is the billing aggregate for one incident.
//
// Invariants:
//   - Number and Year are nil until registration and immutable afterwards
//   - (Number, Year) is unique across all invoices
//   - State only moves forward; clearing the settlement date returns the
//     invoice to registered but never to draft
//   - Lines are editable in draft and registered states, frozen once settled
type Invoice struct {
	ID            id.InvoiceID  `json:"id"`
	IncidentID    id.IncidentID `json:"incident_id"`
	State         State         `json:"state"`
	Number        *int          `json:"number,omitempty"`
	Year          *int          `json:"year,omitempty"`
	PeriodFrom    *time.Time    `json:"period_from,omitempty"`
	PeriodTo      *time.Time    `json:"period_to,omitempty"`
	ContactID     *id.EntityID  `json:"contact_id,omitempty"`
	CopyContactID *id.EntityID  `json:"copy_contact_id,omitempty"`

	SettlementDate *time.Time `json:"settlement_date,omitempty"`
	ChasingDate    *time.Time `json:"chasing_date,omitempty"`
	FinalInvoice   bool       `json:"final_invoice"`

	FeeLines          []FeeLine          `json:"fee_lines"`
	DisbursementLines []DisbursementLine `json:"disbursement_lines"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewInvoice(invoiceID id.InvoiceID, incidentID id.IncidentID, now time.Time) *Invoice {
	return &Invoice{
		ID:         invoiceID,
		IncidentID: incidentID,
		State:      StateDraft,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// MissingFields lists every completeness requirement the invoice fails. The
// result is empty when the invoice could be registered as-is.
func (inv *Invoice) MissingFields() []string {
	var missing []string
	if inv.PeriodFrom == nil {
		missing = append(missing, "period_from")
	}
	if inv.PeriodTo == nil {
		missing = append(missing, "period_to")
	}
	if inv.PeriodFrom != nil && inv.PeriodTo != nil && inv.PeriodTo.Before(*inv.PeriodFrom) {
		missing = append(missing, "period_to must not precede period_from")
	}
	if inv.ContactID == nil || inv.ContactID.IsNil() {
		missing = append(missing, "contact_id")
	}
	if inv.CopyContactID == nil || inv.CopyContactID.IsNil() {
		missing = append(missing, "copy_contact_id")
	}
	return missing
}

// CanRegister checks the draft is complete and has never been numbered.
// Reports every missing field at once rather than the first one found.
func (inv *Invoice) CanRegister() error {
	if inv.State != StateDraft {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "invoice is %s, only drafts can be registered", inv.State)
	}
	if inv.Number != nil {
		return dErrors.New(dErrors.CodeInvariantViolation, "invoice already carries a number")
	}
	if missing := inv.MissingFields(); len(missing) > 0 {
		return dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("invoice is incomplete: %s", strings.Join(missing, ", ")))
	}
	return nil
}

// ApplyRegistration assigns the allocated number. Call CanRegister first.
func (inv *Invoice) ApplyRegistration(number, year int, now time.Time) {
	inv.State = StateRegistered
	inv.Number = &number
	inv.Year = &year
	inv.UpdatedAt = now
}

// CanSettle checks the invoice has been registered.
func (inv *Invoice) CanSettle() error {
	if inv.State == StateDraft {
		return dErrors.New(dErrors.CodeInvariantViolation, "invoice must be registered before settlement")
	}
	return nil
}

// ApplySettle records the settlement date. Call CanSettle first.
func (inv *Invoice) ApplySettle(date time.Time, now time.Time) {
	inv.State = StateSettled
	inv.SettlementDate = &date
	inv.UpdatedAt = now
}

// ApplyClearSettlement reverts visible settlement. The number and year stay:
// settlement is reversible, registration is not.
func (inv *Invoice) ApplyClearSettlement(now time.Time) {
	inv.State = StateRegistered
	inv.SettlementDate = nil
	inv.UpdatedAt = now
}

// CanEditLines reports whether line writes are allowed in the current state.
func (inv *Invoice) CanEditLines() error {
	if inv.State == StateSettled {
		return dErrors.New(dErrors.CodeInvariantViolation, "settled invoices are frozen")
	}
	return nil
}

// IsSettled reports whether a settlement date is currently visible.
func (inv *Invoice) IsSettled() bool {
	return inv.State == StateSettled && inv.SettlementDate != nil
}
