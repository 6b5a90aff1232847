package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	id "pandi/pkg/domain"
	dErrors "pandi/pkg/domain-errors"
)

type InvoiceModelSuite struct {
	suite.Suite
	now time.Time
}

func (s *InvoiceModelSuite) SetupTest() {
	s.now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
}

func TestInvoiceModelSuite(t *testing.T) {
	suite.Run(t, new(InvoiceModelSuite))
}

func (s *InvoiceModelSuite) complete() *Invoice {
	inv := NewInvoice(id.InvoiceID(uuid.New()), id.IncidentID(uuid.New()), s.now)
	from := s.now.AddDate(0, -1, 0)
	to := s.now
	contact := id.EntityID(uuid.New())
	copyContact := id.EntityID(uuid.New())
	inv.PeriodFrom = &from
	inv.PeriodTo = &to
	inv.ContactID = &contact
	inv.CopyContactID = &copyContact
	return inv
}

func (s *InvoiceModelSuite) TestFeeLineValidation() {
	correspondent := id.EntityID(uuid.New())
	provider := id.EntityID(uuid.New())

	s.Run("requires exactly one performer", func() {
		line := &FeeLine{UnitType: UnitHour, Quantity: 1, CostCents: 100}
		s.True(dErrors.HasCode(line.Validate(), dErrors.CodeValidation))

		line = &FeeLine{CorrespondentID: &correspondent, ProviderID: &provider, UnitType: UnitHour, Quantity: 1, CostCents: 100}
		s.True(dErrors.HasCode(line.Validate(), dErrors.CodeValidation))

		line = &FeeLine{CorrespondentID: &correspondent, UnitType: UnitHour, Quantity: 1, CostCents: 100}
		s.NoError(line.Validate())
	})

	s.Run("fixed unit forces quantity to one", func() {
		line := &FeeLine{ProviderID: &provider, UnitType: UnitFixed, Quantity: 7, CostCents: 50000}
		s.Require().NoError(line.Validate())
		s.Equal(1.0, line.Quantity)
		s.Equal(int64(50000), line.AmountCents())
	})

	s.Run("rejects unknown unit type", func() {
		line := &FeeLine{ProviderID: &provider, UnitType: "week", Quantity: 1, CostCents: 100}
		s.True(dErrors.HasCode(line.Validate(), dErrors.CodeValidation))
	})

	s.Run("amount is cost times quantity", func() {
		line := FeeLine{CorrespondentID: &correspondent, UnitType: UnitHour, Quantity: 2.5, CostCents: 10000}
		s.Equal(int64(25000), line.AmountCents())
	})
}

func (s *InvoiceModelSuite) TestRegistration() {
	s.Run("incomplete draft lists every missing field at once", func() {
		inv := NewInvoice(id.InvoiceID(uuid.New()), id.IncidentID(uuid.New()), s.now)
		err := inv.CanRegister()
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		msg := err.Error()
		s.Contains(msg, "period_from")
		s.Contains(msg, "period_to")
		s.Contains(msg, "contact_id")
		s.Contains(msg, "copy_contact_id")
	})

	s.Run("inverted period is incomplete", func() {
		inv := s.complete()
		from := s.now
		to := s.now.AddDate(0, -1, 0)
		inv.PeriodFrom = &from
		inv.PeriodTo = &to
		s.True(dErrors.HasCode(inv.CanRegister(), dErrors.CodeValidation))
	})

	s.Run("complete draft registers and carries its number", func() {
		inv := s.complete()
		s.Require().NoError(inv.CanRegister())
		inv.ApplyRegistration(7, 2026, s.now)
		s.Equal(StateRegistered, inv.State)
		s.Equal(7, *inv.Number)
		s.Equal(2026, *inv.Year)
	})

	s.Run("registered invoice cannot register again", func() {
		inv := s.complete()
		inv.ApplyRegistration(7, 2026, s.now)
		s.True(dErrors.HasCode(inv.CanRegister(), dErrors.CodeInvariantViolation))
	})
}

func (s *InvoiceModelSuite) TestSettlement() {
	s.Run("draft cannot settle", func() {
		inv := NewInvoice(id.InvoiceID(uuid.New()), id.IncidentID(uuid.New()), s.now)
		s.True(dErrors.HasCode(inv.CanSettle(), dErrors.CodeInvariantViolation))
	})

	s.Run("clearing settlement keeps the number", func() {
		inv := s.complete()
		inv.ApplyRegistration(12, 2026, s.now)
		inv.ApplySettle(s.now, s.now)
		s.Equal(StateSettled, inv.State)
		s.True(inv.IsSettled())

		inv.ApplyClearSettlement(s.now)
		s.Equal(StateRegistered, inv.State)
		s.Nil(inv.SettlementDate)
		s.Equal(12, *inv.Number)
		s.False(inv.IsSettled())
	})

	s.Run("settled invoice freezes line edits", func() {
		inv := s.complete()
		inv.ApplyRegistration(3, 2026, s.now)
		s.NoError(inv.CanEditLines())
		inv.ApplySettle(s.now, s.now)
		s.True(dErrors.HasCode(inv.CanEditLines(), dErrors.CodeInvariantViolation))
	})
}
