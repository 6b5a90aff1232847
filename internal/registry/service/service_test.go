package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	incidentmodels "pandi/internal/incident/models"
	incidentstore "pandi/internal/incident/store"
	invoicemodels "pandi/internal/invoice/models"
	invoicestore "pandi/internal/invoice/store"
	"pandi/internal/registry/models"
	registrystore "pandi/internal/registry/store"
	"pandi/internal/registry/usage"
	id "pandi/pkg/domain"
	dErrors "pandi/pkg/domain-errors"
	"pandi/pkg/platform/audit"
	auditmemory "pandi/pkg/platform/audit/store/memory"
)

type CoordinatorSuite struct {
	suite.Suite
	ctx       context.Context
	entities  *registrystore.InMemory
	incidents *incidentstore.InMemory
	invoices  *invoicestore.InMemory
	audit     *auditmemory.InMemoryStore
	coord     *Coordinator
}

func (s *CoordinatorSuite) SetupTest() {
	s.ctx = context.Background()
	s.entities = registrystore.NewInMemory()
	s.incidents = incidentstore.NewInMemory()
	s.invoices = invoicestore.NewInMemory()
	s.audit = auditmemory.NewInMemoryStore()
	index := usage.NewIndex(map[usage.RecordType]usage.Source{
		usage.RecordIncident: s.incidents,
		usage.RecordInvoice:  s.invoices,
		usage.RecordFeeLine:  s.invoices,
	})
	s.coord = NewCoordinator(s.entities, index, nil, audit.NewRecorder(s.audit, nil, nil), nil)
}

func TestCoordinatorSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorSuite))
}

func (s *CoordinatorSuite) mustCreate(entityType models.EntityType, name string) *models.Entity {
	entity, err := s.coord.CreateEntity(s.ctx, entityType, name, "")
	s.Require().NoError(err)
	return entity
}

func (s *CoordinatorSuite) newIncident(mutate func(*incidentmodels.Incident)) *incidentmodels.Incident {
	incident, err := incidentmodels.NewIncident(
		id.IncidentID(uuid.New()), "INC-2026-001", time.Now(), "", time.Now())
	s.Require().NoError(err)
	if mutate != nil {
		mutate(incident)
	}
	s.Require().NoError(s.incidents.Create(s.ctx, incident))
	return incident
}

func (s *CoordinatorSuite) TestCatalog() {
	s.Run("create and get round-trip", func() {
		vessel := s.mustCreate(models.TypeVessel, "MV Northern Star")
		found, err := s.coord.GetEntity(s.ctx, models.TypeVessel, vessel.ID)
		s.Require().NoError(err)
		s.Equal("MV Northern Star", found.Name)
	})

	s.Run("get with wrong type behaves as not found", func() {
		vessel := s.mustCreate(models.TypeVessel, "MV Aurora")
		_, err := s.coord.GetEntity(s.ctx, models.TypeMember, vessel.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("rename does not disturb dependent records", func() {
		vessel := s.mustCreate(models.TypeVessel, "MV Before")
		vid := vessel.ID
		s.newIncident(func(inc *incidentmodels.Incident) { inc.VesselID = &vid })

		_, err := s.coord.UpdateEntity(s.ctx, models.TypeVessel, vessel.ID, "MV After", "")
		s.Require().NoError(err)

		facts, err := s.coord.Usage(s.ctx, models.TypeVessel, vessel.ID)
		s.Require().NoError(err)
		s.Len(facts, 1)
	})
}

func (s *CoordinatorSuite) TestUsage() {
	s.Run("unused entity has empty usage", func() {
		club := s.mustCreate(models.TypeClub, "North Club")
		facts, err := s.coord.Usage(s.ctx, models.TypeClub, club.ID)
		s.Require().NoError(err)
		s.Empty(facts)
	})

	s.Run("one entity in two roles on the same record yields two facts", func() {
		member := s.mustCreate(models.TypeMember, "Baltic Shipping")
		mid := member.ID
		incident := s.newIncident(func(inc *incidentmodels.Incident) {
			inc.MemberID = &mid
			inc.ManagerID = &mid
		})

		facts, err := s.coord.Usage(s.ctx, models.TypeMember, member.ID)
		s.Require().NoError(err)
		s.Require().Len(facts, 2)
		for _, fact := range facts {
			s.Equal(incident.ID.String(), fact.RecordID)
		}
		s.Equal(usage.RoleManager, facts[0].Role)
		s.Equal(usage.RoleMember, facts[1].Role)
	})

	s.Run("claim handler usage spans incidents and fee lines", func() {
		handler := s.mustCreate(models.TypeClaimHandler, "Harbor Correspondents")
		hid := handler.ID
		s.newIncident(func(inc *incidentmodels.Incident) { inc.ClaimHandlerID = &hid })

		incident := s.newIncident(nil)
		inv := invoicemodels.NewInvoice(id.InvoiceID(uuid.New()), incident.ID, time.Now())
		inv.FeeLines = []invoicemodels.FeeLine{{
			ID:              id.LineID(uuid.New()),
			CorrespondentID: &hid,
			UnitType:        invoicemodels.UnitHour,
			Quantity:        2,
			CostCents:       15000,
		}}
		s.Require().NoError(s.invoices.Create(s.ctx, inv))

		facts, err := s.coord.Usage(s.ctx, models.TypeClaimHandler, handler.ID)
		s.Require().NoError(err)
		s.Len(facts, 2)
	})
}

func (s *CoordinatorSuite) TestDelete() {
	s.Run("unused entity deletes directly and is audited", func() {
		office := s.mustCreate(models.TypeOffice, "Rotterdam Office")
		s.Require().NoError(s.coord.Delete(s.ctx, models.TypeOffice, office.ID))

		_, err := s.coord.GetEntity(s.ctx, models.TypeOffice, office.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

		events, err := s.audit.ListRecent(s.ctx, 10)
		s.Require().NoError(err)
		s.Require().Len(events, 1)
		s.Equal(audit.ActionEntityDeleted, events[0].Action)
	})

	s.Run("referenced entity refuses deletion with the full fact list", func() {
		vessel := s.mustCreate(models.TypeVessel, "MV Blocked")
		vid := vessel.ID
		incident := s.newIncident(func(inc *incidentmodels.Incident) { inc.VesselID = &vid })

		err := s.coord.Delete(s.ctx, models.TypeVessel, vessel.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))

		var inUse *InUseError
		s.Require().ErrorAs(err, &inUse)
		s.Require().Len(inUse.Facts, 1)
		s.Equal(incident.ID.String(), inUse.Facts[0].RecordID)
		s.Equal(usage.RoleVessel, inUse.Facts[0].Role)

		// Still present, reference intact.
		_, err = s.coord.GetEntity(s.ctx, models.TypeVessel, vessel.ID)
		s.NoError(err)
	})

	s.Run("deleting an unknown entity is not found", func() {
		err := s.coord.Delete(s.ctx, models.TypeVessel, id.EntityID(uuid.New()))
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *CoordinatorSuite) TestReassignAndDelete() {
	s.Run("moves every reference then deletes the source", func() {
		old := s.mustCreate(models.TypeClaimHandler, "Retiring Handler")
		replacement := s.mustCreate(models.TypeClaimHandler, "New Handler")
		oldID := old.ID

		incident := s.newIncident(func(inc *incidentmodels.Incident) { inc.ClaimHandlerID = &oldID })

		caseIncident := s.newIncident(nil)
		inv := invoicemodels.NewInvoice(id.InvoiceID(uuid.New()), caseIncident.ID, time.Now())
		inv.FeeLines = []invoicemodels.FeeLine{{
			ID:              id.LineID(uuid.New()),
			CorrespondentID: &oldID,
			UnitType:        invoicemodels.UnitFixed,
			Quantity:        1,
			CostCents:       50000,
		}}
		s.Require().NoError(s.invoices.Create(s.ctx, inv))

		s.Require().NoError(s.coord.ReassignAndDelete(s.ctx, models.TypeClaimHandler, old.ID, replacement.ID))

		// Source gone.
		_, err := s.coord.GetEntity(s.ctx, models.TypeClaimHandler, old.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

		// Replacement now holds both references.
		facts, err := s.coord.Usage(s.ctx, models.TypeClaimHandler, replacement.ID)
		s.Require().NoError(err)
		s.Len(facts, 2)

		updated, err := s.incidents.FindByID(s.ctx, incident.ID)
		s.Require().NoError(err)
		s.Equal(replacement.ID, *updated.ClaimHandlerID)
	})

	s.Run("replacement must differ from the source", func() {
		handler := s.mustCreate(models.TypeClaimHandler, "Self")
		err := s.coord.ReassignAndDelete(s.ctx, models.TypeClaimHandler, handler.ID, handler.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))

		_, getErr := s.coord.GetEntity(s.ctx, models.TypeClaimHandler, handler.ID)
		s.NoError(getErr)
	})

	s.Run("replacement must exist", func() {
		handler := s.mustCreate(models.TypeClaimHandler, "Lonely")
		err := s.coord.ReassignAndDelete(s.ctx, models.TypeClaimHandler, handler.ID, id.EntityID(uuid.New()))
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("replacement must share the entity type", func() {
		handler := s.mustCreate(models.TypeClaimHandler, "Handler")
		vessel := s.mustCreate(models.TypeVessel, "MV Wrong Kind")
		err := s.coord.ReassignAndDelete(s.ctx, models.TypeClaimHandler, handler.ID, vessel.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("reassigning an unused entity still deletes it", func() {
		old := s.mustCreate(models.TypeContact, "Old Contact")
		replacement := s.mustCreate(models.TypeContact, "New Contact")
		s.Require().NoError(s.coord.ReassignAndDelete(s.ctx, models.TypeContact, old.ID, replacement.ID))
		_, err := s.coord.GetEntity(s.ctx, models.TypeContact, old.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

// flakySource fails Repoint after a set number of successes.
type flakySource struct {
	usage.Source
	successes int
	calls     int
}

func (f *flakySource) Repoint(ctx context.Context, role usage.Role, recordID string, from, to id.EntityID) error {
	f.calls++
	if f.calls > f.successes {
		return errors.New("storage failure")
	}
	return f.Source.Repoint(ctx, role, recordID, from, to)
}

func (s *CoordinatorSuite) TestReassignPartialFailure() {
	flaky := &flakySource{Source: s.incidents, successes: 1}
	index := usage.NewIndex(map[usage.RecordType]usage.Source{
		usage.RecordIncident: flaky,
		usage.RecordInvoice:  s.invoices,
		usage.RecordFeeLine:  s.invoices,
	})
	coord := NewCoordinator(s.entities, index, nil, nil, nil)

	member := s.mustCreate(models.TypeMember, "Failing Member")
	replacement := s.mustCreate(models.TypeMember, "Replacement Member")
	mid := member.ID
	s.newIncident(func(inc *incidentmodels.Incident) {
		inc.MemberID = &mid
		inc.ManagerID = &mid
	})

	err := coord.ReassignAndDelete(s.ctx, models.TypeMember, member.ID, replacement.ID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeIntegrity))

	var partial *PartialUpdateError
	s.Require().ErrorAs(err, &partial)
	s.Len(partial.Repointed, 1)
	s.Len(partial.Remaining, 1)

	// The entity is never deleted on a failure path.
	_, getErr := coord.GetEntity(s.ctx, models.TypeMember, member.ID)
	s.NoError(getErr)
}
