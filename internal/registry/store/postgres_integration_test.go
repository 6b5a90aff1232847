//go:build integration

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"pandi/internal/registry/models"
	id "pandi/pkg/domain"
	"pandi/pkg/platform/sentinel"
	"pandi/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	ctx   context.Context
	pg    *containers.PostgresContainer
	store *PostgresStore
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.ctx = context.Background()
	s.pg = containers.NewPostgresContainer(s.T())
	s.store = NewPostgres(s.pg.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.pg.Truncate(s.ctx, "entities"))
}

func TestPostgresStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) newEntity(entityType models.EntityType, name string) *models.Entity {
	entity, err := models.NewEntity(id.EntityID(uuid.New()), entityType, name, "", time.Now().UTC())
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(s.ctx, entity))
	return entity
}

func (s *PostgresStoreSuite) TestRoundTrip() {
	created := s.newEntity(models.TypeVessel, "MV Northern Star")

	found, err := s.store.FindByID(s.ctx, created.ID)
	s.Require().NoError(err)
	s.Equal(created.Name, found.Name)
	s.Equal(models.TypeVessel, found.Type)
}

func (s *PostgresStoreSuite) TestUpdate() {
	entity := s.newEntity(models.TypeMember, "Nordic Shipping AS")

	entity.Name = "Nordic Shipping ASA"
	entity.UpdatedAt = time.Now().UTC()
	s.Require().NoError(s.store.Update(s.ctx, entity))

	found, err := s.store.FindByID(s.ctx, entity.ID)
	s.Require().NoError(err)
	s.Equal("Nordic Shipping ASA", found.Name)
}

func (s *PostgresStoreSuite) TestListByType() {
	s.newEntity(models.TypeVessel, "MV Northern Star")
	s.newEntity(models.TypeVessel, "MV Southern Cross")
	s.newEntity(models.TypeMember, "Nordic Shipping AS")

	vessels, err := s.store.ListByType(s.ctx, models.TypeVessel)
	s.Require().NoError(err)
	s.Len(vessels, 2)
}

func (s *PostgresStoreSuite) TestDelete() {
	entity := s.newEntity(models.TypeClub, "North of England")

	s.Require().NoError(s.store.Delete(s.ctx, entity.ID))

	_, err := s.store.FindByID(s.ctx, entity.ID)
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *PostgresStoreSuite) TestNotFound() {
	_, err := s.store.FindByID(s.ctx, id.EntityID(uuid.New()))
	s.True(errors.Is(err, sentinel.ErrNotFound))
}
