package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"pandi/internal/incident/models"
	id "pandi/pkg/domain"
	"pandi/pkg/platform/sentinel"
)

type IncidentStoreSuite struct {
	suite.Suite
	ctx   context.Context
	store *InMemory
}

func (s *IncidentStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewInMemory()
}

func TestIncidentStoreSuite(t *testing.T) {
	suite.Run(t, new(IncidentStoreSuite))
}

func (s *IncidentStoreSuite) newIncident() *models.Incident {
	incident, err := models.NewIncident(
		id.IncidentID(uuid.New()), "INC-2026-017", time.Now(), "grounding off Texel", time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(s.ctx, incident))
	return incident
}

func (s *IncidentStoreSuite) TestSections() {
	s.Run("new incident has no sections attached", func() {
		incident := s.newIncident()
		sections, err := s.store.Sections(s.ctx, incident.ID)
		s.Require().NoError(err)
		for _, attached := range sections {
			s.False(attached)
		}
	})

	s.Run("attach is idempotent and reports the prior state", func() {
		incident := s.newIncident()

		already, err := s.store.AttachSection(s.ctx, incident.ID, models.SectionCargo)
		s.Require().NoError(err)
		s.False(already)

		already, err = s.store.AttachSection(s.ctx, incident.ID, models.SectionCargo)
		s.Require().NoError(err)
		s.True(already)
	})

	s.Run("child writes require the section to be attached", func() {
		incident := s.newIncident()
		err := s.store.SetCargo(s.ctx, incident.ID, models.Cargo{CargoType: "grain", Quantity: 12000})
		s.Require().ErrorIs(err, sentinel.ErrInvalidState)
	})
}

func (s *IncidentStoreSuite) TestDetach() {
	s.Run("cascade removes every child row and reports the count", func() {
		incident := s.newIncident()
		_, err := s.store.AttachSection(s.ctx, incident.ID, models.SectionComments)
		s.Require().NoError(err)
		for i := 0; i < 3; i++ {
			s.Require().NoError(s.store.AddComment(s.ctx, incident.ID, models.Comment{
				ID: id.LineID(uuid.New()), Author: "surveyor", Body: "note", CreatedAt: time.Now(),
			}))
		}

		removed, err := s.store.DetachSection(s.ctx, incident.ID, models.SectionComments)
		s.Require().NoError(err)
		s.Equal(3, removed)

		sections, err := s.store.Sections(s.ctx, incident.ID)
		s.Require().NoError(err)
		s.False(sections[models.SectionComments])
	})

	s.Run("detaching an unattached section is invalid state", func() {
		incident := s.newIncident()
		_, err := s.store.DetachSection(s.ctx, incident.ID, models.SectionClaim)
		s.Require().ErrorIs(err, sentinel.ErrInvalidState)
	})

	s.Run("re-attach after detach starts empty", func() {
		incident := s.newIncident()
		_, err := s.store.AttachSection(s.ctx, incident.ID, models.SectionComments)
		s.Require().NoError(err)
		s.Require().NoError(s.store.AddComment(s.ctx, incident.ID, models.Comment{
			ID: id.LineID(uuid.New()), Author: "a", Body: "b", CreatedAt: time.Now(),
		}))
		_, err = s.store.DetachSection(s.ctx, incident.ID, models.SectionComments)
		s.Require().NoError(err)

		_, err = s.store.AttachSection(s.ctx, incident.ID, models.SectionComments)
		s.Require().NoError(err)
		comments, err := s.store.ListComments(s.ctx, incident.ID)
		s.Require().NoError(err)
		s.Empty(comments)
	})
}

// TestDetachAllOrNothing injects a failure mid-detach and verifies the
// cascade applied nothing: the section stays attached and every child row
// survives. A partial detach would orphan rows under a section marker that
// no longer exists.
func (s *IncidentStoreSuite) TestDetachAllOrNothing() {
	boom := errors.New("disk failure")
	store := NewInMemory(WithDetachFault(func(id.IncidentID, models.Section) error {
		return boom
	}))

	incident, err := models.NewIncident(
		id.IncidentID(uuid.New()), "INC-2026-018", time.Now(), "", time.Now())
	s.Require().NoError(err)
	s.Require().NoError(store.Create(s.ctx, incident))

	_, err = store.AttachSection(s.ctx, incident.ID, models.SectionAppointments)
	s.Require().NoError(err)
	for i := 0; i < 2; i++ {
		s.Require().NoError(store.AddAppointment(s.ctx, incident.ID, models.Appointment{
			ID: id.LineID(uuid.New()), Surveyor: "J. Vos", Date: time.Now(),
		}))
	}

	_, err = store.DetachSection(s.ctx, incident.ID, models.SectionAppointments)
	s.Require().ErrorIs(err, boom)

	sections, err := store.Sections(s.ctx, incident.ID)
	s.Require().NoError(err)
	s.True(sections[models.SectionAppointments])

	appointments, err := store.ListAppointments(s.ctx, incident.ID)
	s.Require().NoError(err)
	s.Len(appointments, 2)
}
