package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pandi/internal/registry/models"
	"pandi/internal/registry/service"
	"pandi/internal/registry/usage"
	id "pandi/pkg/domain"
	dErrors "pandi/pkg/domain-errors"
	"pandi/pkg/platform/httputil"
	"pandi/pkg/requestcontext"
)

// Service is the entity lifecycle surface the handler consumes.
type Service interface {
	CreateEntity(ctx context.Context, entityType models.EntityType, name, details string) (*models.Entity, error)
	GetEntity(ctx context.Context, entityType models.EntityType, entityID id.EntityID) (*models.Entity, error)
	ListEntities(ctx context.Context, entityType models.EntityType) ([]*models.Entity, error)
	UpdateEntity(ctx context.Context, entityType models.EntityType, entityID id.EntityID, name, details string) (*models.Entity, error)
	Usage(ctx context.Context, entityType models.EntityType, entityID id.EntityID) ([]usage.Fact, error)
	Delete(ctx context.Context, entityType models.EntityType, entityID id.EntityID) error
	ReassignAndDelete(ctx context.Context, entityType models.EntityType, fromID, toID id.EntityID) error
}

// Handler exposes the reference entity endpoints.
type Handler struct {
	logger  *slog.Logger
	service Service
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, service: service}
}

// Register mounts the entity routes.
func (h *Handler) Register(r chi.Router) {
	r.Route("/entities/{type}", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Get("/{id}", h.handleGet)
		r.Put("/{id}", h.handleUpdate)
		r.Delete("/{id}", h.handleDelete)
		r.Get("/{id}/usage", h.handleUsage)
		r.Post("/{id}/reassign", h.handleReassign)
	})
}

type entityRequest struct {
	Name    string `json:"name"`
	Details string `json:"details"`
}

type reassignRequest struct {
	ToID string `json:"to_id"`
}

func (h *Handler) params(w http.ResponseWriter, r *http.Request) (models.EntityType, id.EntityID, bool) {
	entityType, err := models.ParseEntityType(chi.URLParam(r, "type"))
	if err != nil {
		httputil.WriteError(w, err)
		return "", id.EntityID{}, false
	}
	entityID, err := id.ParseEntityID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return "", id.EntityID{}, false
	}
	return entityType, entityID, true
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	entityType, err := models.ParseEntityType(chi.URLParam(r, "type"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req entityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	entity, err := h.service.CreateEntity(r.Context(), entityType, req.Name, req.Details)
	if err != nil {
		h.fail(w, r, "create entity", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, entity)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	entityType, err := models.ParseEntityType(chi.URLParam(r, "type"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	entities, err := h.service.ListEntities(r.Context(), entityType)
	if err != nil {
		h.fail(w, r, "list entities", err)
		return
	}
	if entities == nil {
		entities = []*models.Entity{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"entities": entities})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	entityType, entityID, ok := h.params(w, r)
	if !ok {
		return
	}
	entity, err := h.service.GetEntity(r.Context(), entityType, entityID)
	if err != nil {
		h.fail(w, r, "get entity", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entity)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	entityType, entityID, ok := h.params(w, r)
	if !ok {
		return
	}
	var req entityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	entity, err := h.service.UpdateEntity(r.Context(), entityType, entityID, req.Name, req.Details)
	if err != nil {
		h.fail(w, r, "update entity", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entity)
}

func (h *Handler) handleUsage(w http.ResponseWriter, r *http.Request) {
	entityType, entityID, ok := h.params(w, r)
	if !ok {
		return
	}
	facts, err := h.service.Usage(r.Context(), entityType, entityID)
	if err != nil {
		h.fail(w, r, "entity usage", err)
		return
	}
	if facts == nil {
		facts = []usage.Fact{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"usage": facts})
}

// handleDelete deletes an unused entity directly. When the entity is still
// referenced the response carries the full usage list so the client can start
// the reassignment flow.
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	entityType, entityID, ok := h.params(w, r)
	if !ok {
		return
	}
	err := h.service.Delete(r.Context(), entityType, entityID)
	if err != nil {
		var inUse *service.InUseError
		if errors.As(err, &inUse) {
			httputil.WriteJSON(w, http.StatusConflict, map[string]any{
				"error":             string(dErrors.CodeConflict),
				"error_description": "entity is still in use",
				"usage":             inUse.Facts,
			})
			return
		}
		h.fail(w, r, "delete entity", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleReassign(w http.ResponseWriter, r *http.Request) {
	entityType, entityID, ok := h.params(w, r)
	if !ok {
		return
	}
	var req reassignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	toID, err := id.ParseEntityID(req.ToID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.service.ReassignAndDelete(r.Context(), entityType, entityID, toID); err != nil {
		h.fail(w, r, "reassign entity", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
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
