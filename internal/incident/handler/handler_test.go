package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"pandi/internal/incident/service"
	"pandi/internal/incident/store"
	registrymodels "pandi/internal/registry/models"
	registrystore "pandi/internal/registry/store"
	id "pandi/pkg/domain"
)

// HandlerSuite runs the incident endpoints over real in-memory stores so
// section lifecycle rules come from the store, not from stubs.
type HandlerSuite struct {
	suite.Suite
	router   http.Handler
	vesselID id.EntityID
}

func (s *HandlerSuite) SetupTest() {
	ctx := s.T().Context()

	incidents := store.NewInMemory()
	entities := registrystore.NewInMemory()

	vessel, err := registrymodels.NewEntity(
		id.EntityID(uuid.New()), registrymodels.TypeVessel, "MV Northern Star", "", time.Now())
	s.Require().NoError(err)
	s.Require().NoError(entities.Create(ctx, vessel))
	s.vesselID = vessel.ID

	svc := service.New(incidents, entities, nil, nil, nil)
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	r := chi.NewRouter()
	New(svc, logger).Register(r)
	s.router = r
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) createIncident() uuid.UUID {
	rec := s.do(http.MethodPost, "/incidents", fmt.Sprintf(`{
		"reference": "INC-2026-001",
		"occurred_at": "2026-03-14T08:30:00Z",
		"references": {"vessel_id": %q}
	}`, s.vesselID))
	s.Require().Equal(http.StatusCreated, rec.Code)

	var resp struct {
		ID uuid.UUID `json:"id"`
	}
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&resp))
	return resp.ID
}

func (s *HandlerSuite) attachCargo(incidentID uuid.UUID) {
	rec := s.do(http.MethodPut, "/incidents/"+incidentID.String()+"/sections/cargo", "")
	s.Require().Equal(http.StatusCreated, rec.Code)
}

func (s *HandlerSuite) TestCreate() {
	s.Run("reference and occurrence date are required", func() {
		rec := s.do(http.MethodPost, "/incidents", `{"reference": ""}`)
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("unknown referenced entity is rejected", func() {
		rec := s.do(http.MethodPost, "/incidents", fmt.Sprintf(`{
			"reference": "INC-2026-002",
			"occurred_at": "2026-03-14T08:30:00Z",
			"references": {"vessel_id": %q}
		}`, uuid.New()))
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("created incident is fetchable", func() {
		incidentID := s.createIncident()
		rec := s.do(http.MethodGet, "/incidents/"+incidentID.String(), "")
		s.Require().Equal(http.StatusOK, rec.Code)
		s.Contains(rec.Body.String(), "INC-2026-001")
	})
}

func (s *HandlerSuite) TestSections() {
	s.Run("attach returns 201 first and 200 after", func() {
		incidentID := s.createIncident()
		path := "/incidents/" + incidentID.String() + "/sections/cargo"

		rec := s.do(http.MethodPut, path, "")
		s.Require().Equal(http.StatusCreated, rec.Code)
		s.Contains(rec.Body.String(), `"already_attached":false`)

		rec = s.do(http.MethodPut, path, "")
		s.Require().Equal(http.StatusOK, rec.Code)
		s.Contains(rec.Body.String(), `"already_attached":true`)
	})

	s.Run("unknown section name is a 400", func() {
		incidentID := s.createIncident()
		rec := s.do(http.MethodPut, "/incidents/"+incidentID.String()+"/sections/weather", "")
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("writes to a closed section are a 409", func() {
		incidentID := s.createIncident()
		rec := s.do(http.MethodPut, "/incidents/"+incidentID.String()+"/cargo",
			`{"cargo_type": "grain", "quantity": 1200}`)
		s.Equal(http.StatusConflict, rec.Code)
	})
}

func (s *HandlerSuite) TestDetach() {
	s.Run("detach without confirm is refused", func() {
		incidentID := s.createIncident()
		s.attachCargo(incidentID)

		rec := s.do(http.MethodDelete, "/incidents/"+incidentID.String()+"/sections/cargo", "")
		s.Require().Equal(http.StatusBadRequest, rec.Code)

		// The refusal must leave the section attached.
		rec = s.do(http.MethodPut, "/incidents/"+incidentID.String()+"/sections/cargo", "")
		s.Equal(http.StatusOK, rec.Code)
	})

	s.Run("confirmed detach drops the section and its data", func() {
		incidentID := s.createIncident()
		s.attachCargo(incidentID)
		rec := s.do(http.MethodPut, "/incidents/"+incidentID.String()+"/cargo",
			`{"cargo_type": "grain", "quantity": 1200}`)
		s.Require().Equal(http.StatusOK, rec.Code)

		rec = s.do(http.MethodDelete,
			"/incidents/"+incidentID.String()+"/sections/cargo?confirm=true", "")
		s.Require().Equal(http.StatusNoContent, rec.Code)

		rec = s.do(http.MethodGet, "/incidents/"+incidentID.String()+"/cargo", "")
		s.Equal(http.StatusNotFound, rec.Code)
	})

	s.Run("detaching an unattached section is a 409", func() {
		incidentID := s.createIncident()
		rec := s.do(http.MethodDelete,
			"/incidents/"+incidentID.String()+"/sections/claim?confirm=true", "")
		s.Equal(http.StatusConflict, rec.Code)
	})
}

func (s *HandlerSuite) TestComments() {
	incidentID := s.createIncident()
	path := "/incidents/" + incidentID.String() + "/sections/comments"
	rec := s.do(http.MethodPut, path, "")
	s.Require().Equal(http.StatusCreated, rec.Code)

	rec = s.do(http.MethodPost, "/incidents/"+incidentID.String()+"/comments",
		`{"body": "surveyor appointed"}`)
	s.Require().Equal(http.StatusCreated, rec.Code)

	rec = s.do(http.MethodPost, "/incidents/"+incidentID.String()+"/comments", `{"body": ""}`)
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/incidents/"+incidentID.String()+"/comments", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "surveyor appointed")
}
