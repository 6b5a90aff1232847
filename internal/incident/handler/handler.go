package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pandi/internal/incident/models"
	"pandi/internal/incident/service"
	id "pandi/pkg/domain"
	dErrors "pandi/pkg/domain-errors"
	"pandi/pkg/platform/httputil"
	"pandi/pkg/requestcontext"
)

// Service is the incident surface the handler consumes.
type Service interface {
	CreateIncident(ctx context.Context, params service.CreateParams) (*models.Incident, error)
	GetIncident(ctx context.Context, incidentID id.IncidentID) (*models.Incident, error)
	UpdateReferences(ctx context.Context, incidentID id.IncidentID, refs service.References) (*models.Incident, error)
	Sections(ctx context.Context, incidentID id.IncidentID) (map[models.Section]bool, error)
	AttachSection(ctx context.Context, incidentID id.IncidentID, section models.Section) (bool, error)
	DetachSection(ctx context.Context, incidentID id.IncidentID, section models.Section, confirmed bool) error
	SetCargo(ctx context.Context, incidentID id.IncidentID, cargo models.Cargo) error
	GetCargo(ctx context.Context, incidentID id.IncidentID) (*models.Cargo, error)
	SetClaim(ctx context.Context, incidentID id.IncidentID, claim models.Claim) error
	GetClaim(ctx context.Context, incidentID id.IncidentID) (*models.Claim, error)
	AddComment(ctx context.Context, incidentID id.IncidentID, author, body string) (*models.Comment, error)
	ListComments(ctx context.Context, incidentID id.IncidentID) ([]models.Comment, error)
	AddAppointment(ctx context.Context, incidentID id.IncidentID, params service.AppointmentParams) (*models.Appointment, error)
	ListAppointments(ctx context.Context, incidentID id.IncidentID) ([]models.Appointment, error)
}

// Handler exposes the incident and section endpoints.
type Handler struct {
	logger  *slog.Logger
	service Service
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, service: service}
}

// Register mounts the incident routes.
func (h *Handler) Register(r chi.Router) {
	r.Route("/incidents", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/{id}", h.handleGet)
		r.Put("/{id}/references", h.handleUpdateReferences)
		r.Get("/{id}/sections", h.handleSections)
		r.Put("/{id}/sections/{section}", h.handleAttach)
		r.Delete("/{id}/sections/{section}", h.handleDetach)
		r.Get("/{id}/cargo", h.handleGetCargo)
		r.Put("/{id}/cargo", h.handleSetCargo)
		r.Get("/{id}/claim", h.handleGetClaim)
		r.Put("/{id}/claim", h.handleSetClaim)
		r.Get("/{id}/comments", h.handleListComments)
		r.Post("/{id}/comments", h.handleAddComment)
		r.Get("/{id}/appointments", h.handleListAppointments)
		r.Post("/{id}/appointments", h.handleAddAppointment)
	})
}

func (h *Handler) incidentID(w http.ResponseWriter, r *http.Request) (id.IncidentID, bool) {
	incidentID, err := id.ParseIncidentID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.IncidentID{}, false
	}
	return incidentID, true
}

func (h *Handler) sectionParams(w http.ResponseWriter, r *http.Request) (id.IncidentID, models.Section, bool) {
	incidentID, ok := h.incidentID(w, r)
	if !ok {
		return id.IncidentID{}, "", false
	}
	section, err := models.ParseSection(chi.URLParam(r, "section"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.IncidentID{}, "", false
	}
	return incidentID, section, true
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req service.CreateParams
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	incident, err := h.service.CreateIncident(r.Context(), req)
	if err != nil {
		h.fail(w, r, "create incident", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, incident)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	incidentID, ok := h.incidentID(w, r)
	if !ok {
		return
	}
	incident, err := h.service.GetIncident(r.Context(), incidentID)
	if err != nil {
		h.fail(w, r, "get incident", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, incident)
}

func (h *Handler) handleUpdateReferences(w http.ResponseWriter, r *http.Request) {
	incidentID, ok := h.incidentID(w, r)
	if !ok {
		return
	}
	var refs service.References
	if err := json.NewDecoder(r.Body).Decode(&refs); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	incident, err := h.service.UpdateReferences(r.Context(), incidentID, refs)
	if err != nil {
		h.fail(w, r, "update incident references", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, incident)
}

func (h *Handler) handleSections(w http.ResponseWriter, r *http.Request) {
	incidentID, ok := h.incidentID(w, r)
	if !ok {
		return
	}
	sections, err := h.service.Sections(r.Context(), incidentID)
	if err != nil {
		h.fail(w, r, "list sections", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"sections": sections})
}

func (h *Handler) handleAttach(w http.ResponseWriter, r *http.Request) {
	incidentID, section, ok := h.sectionParams(w, r)
	if !ok {
		return
	}
	already, err := h.service.AttachSection(r.Context(), incidentID, section)
	if err != nil {
		h.fail(w, r, "attach section", err)
		return
	}
	status := http.StatusCreated
	if already {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, map[string]any{
		"section":          section,
		"attached":         true,
		"already_attached": already,
	})
}

// handleDetach requires confirm=true in the query string: detaching drops the
// section body and every child row with it.
func (h *Handler) handleDetach(w http.ResponseWriter, r *http.Request) {
	incidentID, section, ok := h.sectionParams(w, r)
	if !ok {
		return
	}
	confirmed := r.URL.Query().Get("confirm") == "true"
	if err := h.service.DetachSection(r.Context(), incidentID, section, confirmed); err != nil {
		h.fail(w, r, "detach section", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetCargo(w http.ResponseWriter, r *http.Request) {
	incidentID, ok := h.incidentID(w, r)
	if !ok {
		return
	}
	cargo, err := h.service.GetCargo(r.Context(), incidentID)
	if err != nil {
		h.fail(w, r, "get cargo", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cargo)
}

func (h *Handler) handleSetCargo(w http.ResponseWriter, r *http.Request) {
	incidentID, ok := h.incidentID(w, r)
	if !ok {
		return
	}
	var cargo models.Cargo
	if err := json.NewDecoder(r.Body).Decode(&cargo); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := h.service.SetCargo(r.Context(), incidentID, cargo); err != nil {
		h.fail(w, r, "set cargo", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cargo)
}

func (h *Handler) handleGetClaim(w http.ResponseWriter, r *http.Request) {
	incidentID, ok := h.incidentID(w, r)
	if !ok {
		return
	}
	claim, err := h.service.GetClaim(r.Context(), incidentID)
	if err != nil {
		h.fail(w, r, "get claim", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, claim)
}

func (h *Handler) handleSetClaim(w http.ResponseWriter, r *http.Request) {
	incidentID, ok := h.incidentID(w, r)
	if !ok {
		return
	}
	var claim models.Claim
	if err := json.NewDecoder(r.Body).Decode(&claim); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := h.service.SetClaim(r.Context(), incidentID, claim); err != nil {
		h.fail(w, r, "set claim", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, claim)
}

type commentRequest struct {
	Author string `json:"author"`
	Body   string `json:"body"`
}

func (h *Handler) handleAddComment(w http.ResponseWriter, r *http.Request) {
	incidentID, ok := h.incidentID(w, r)
	if !ok {
		return
	}
	var req commentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	comment, err := h.service.AddComment(r.Context(), incidentID, req.Author, req.Body)
	if err != nil {
		h.fail(w, r, "add comment", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, comment)
}

func (h *Handler) handleListComments(w http.ResponseWriter, r *http.Request) {
	incidentID, ok := h.incidentID(w, r)
	if !ok {
		return
	}
	comments, err := h.service.ListComments(r.Context(), incidentID)
	if err != nil {
		h.fail(w, r, "list comments", err)
		return
	}
	if comments == nil {
		comments = []models.Comment{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"comments": comments})
}

func (h *Handler) handleAddAppointment(w http.ResponseWriter, r *http.Request) {
	incidentID, ok := h.incidentID(w, r)
	if !ok {
		return
	}
	var req service.AppointmentParams
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	appointment, err := h.service.AddAppointment(r.Context(), incidentID, req)
	if err != nil {
		h.fail(w, r, "add appointment", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, appointment)
}

func (h *Handler) handleListAppointments(w http.ResponseWriter, r *http.Request) {
	incidentID, ok := h.incidentID(w, r)
	if !ok {
		return
	}
	appointments, err := h.service.ListAppointments(r.Context(), incidentID)
	if err != nil {
		h.fail(w, r, "list appointments", err)
		return
	}
	if appointments == nil {
		appointments = []models.Appointment{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"appointments": appointments})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	code := dErrors.CodeOf(err)
	if code == dErrors.CodeInternal || code == dErrors.CodeIntegrity {
		h.logger.ErrorContext(r.Context(), op+" failed",
			"error", err.Error(),
			"request_id", requestcontext.RequestID(r.Context()),
		)
	}
	httputil.WriteError(w, err)
}
