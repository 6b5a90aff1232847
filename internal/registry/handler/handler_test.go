package handler

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	incidentmodels "pandi/internal/incident/models"
	incidentstore "pandi/internal/incident/store"
	invoicestore "pandi/internal/invoice/store"
	"pandi/internal/registry/service"
	"pandi/internal/registry/store"
	"pandi/internal/registry/usage"
	id "pandi/pkg/domain"
)

// HandlerSuite runs the entity endpoints against real in-memory stores so the
// deletion-safety responses carry genuine usage facts.
type HandlerSuite struct {
	suite.Suite
	router    http.Handler
	incidents *incidentstore.InMemory
}

func (s *HandlerSuite) SetupTest() {
	entities := store.NewInMemory()
	s.incidents = incidentstore.NewInMemory()
	invoices := invoicestore.NewInMemory()

	index := usage.NewIndex(map[usage.RecordType]usage.Source{
		usage.RecordIncident: s.incidents,
		usage.RecordInvoice:  invoices,
		usage.RecordFeeLine:  invoices,
	})
	svc := service.NewCoordinator(entities, index, nil, nil, nil)
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	r := chi.NewRouter()
	New(svc, logger).Register(r)
	s.router = r
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) do(method, path string, payload any) *httptest.ResponseRecorder {
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		s.Require().NoError(err)
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) createEntity(entityType, name string) uuid.UUID {
	rec := s.do(http.MethodPost, "/entities/"+entityType, map[string]string{"name": name})
	s.Require().Equal(http.StatusCreated, rec.Code)

	var resp struct {
		ID uuid.UUID `json:"id"`
	}
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&resp))
	s.Require().NotEqual(uuid.Nil, resp.ID)
	return resp.ID
}

func (s *HandlerSuite) TestCreateAndFetch() {
	vesselID := s.createEntity("vessel", "MV Northern Star")

	rec := s.do(http.MethodGet, "/entities/vessel/"+vesselID.String(), nil)
	s.Require().Equal(http.StatusOK, rec.Code)

	var entity struct {
		Name string `json:"name"`
		Type string `json:"type"`
	}
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&entity))
	s.Equal("MV Northern Star", entity.Name)
	s.Equal("vessel", entity.Type)
}

func (s *HandlerSuite) TestUnknownEntityType() {
	rec := s.do(http.MethodPost, "/entities/starship", map[string]string{"name": "x"})
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestTypeScopedLookup() {
	vesselID := s.createEntity("vessel", "MV Northern Star")

	rec := s.do(http.MethodGet, "/entities/member/"+vesselID.String(), nil)
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *HandlerSuite) TestDeleteUnusedEntity() {
	vesselID := s.createEntity("vessel", "MV Northern Star")

	rec := s.do(http.MethodDelete, "/entities/vessel/"+vesselID.String(), nil)
	s.Equal(http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodGet, "/entities/vessel/"+vesselID.String(), nil)
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *HandlerSuite) TestDeleteReferencedEntityReturnsUsage() {
	vesselID := s.createEntity("vessel", "MV Northern Star")
	s.linkIncident(vesselID)

	rec := s.do(http.MethodDelete, "/entities/vessel/"+vesselID.String(), nil)
	s.Require().Equal(http.StatusConflict, rec.Code)

	var resp struct {
		Error string `json:"error"`
		Usage []struct {
			RecordType string `json:"record_type"`
			Role       string `json:"role"`
		} `json:"usage"`
	}
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&resp))
	s.Equal("conflict", resp.Error)
	s.Require().Len(resp.Usage, 1)
	s.Equal("incident", resp.Usage[0].RecordType)
	s.Equal("vessel", resp.Usage[0].Role)

	// The refused delete must leave the entity intact.
	rec = s.do(http.MethodGet, "/entities/vessel/"+vesselID.String(), nil)
	s.Equal(http.StatusOK, rec.Code)
}

func (s *HandlerSuite) TestReassignThenDelete() {
	oldID := s.createEntity("vessel", "MV Northern Star")
	newID := s.createEntity("vessel", "MV Southern Cross")
	incidentID := s.linkIncident(oldID)

	rec := s.do(http.MethodPost, "/entities/vessel/"+oldID.String()+"/reassign",
		map[string]string{"to_id": newID.String()})
	s.Require().Equal(http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodGet, "/entities/vessel/"+oldID.String(), nil)
	s.Equal(http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/entities/vessel/"+newID.String()+"/usage", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), strings.ToLower(incidentID.String()))
}

func (s *HandlerSuite) TestUsageOfUnusedEntityIsEmpty() {
	vesselID := s.createEntity("vessel", "MV Northern Star")

	rec := s.do(http.MethodGet, "/entities/vessel/"+vesselID.String()+"/usage", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"usage": []}`, rec.Body.String())
}

// linkIncident stores an incident whose vessel reference points at the entity.
func (s *HandlerSuite) linkIncident(vesselID uuid.UUID) id.IncidentID {
	incident, err := incidentmodels.NewIncident(
		id.IncidentID(uuid.New()), "INC-2026-001", time.Now(), "", time.Now())
	s.Require().NoError(err)
	ref := id.EntityID(vesselID)
	incident.VesselID = &ref
	s.Require().NoError(s.incidents.Create(s.T().Context(), incident))
	return incident.ID
}
