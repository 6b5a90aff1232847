package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"pandi/internal/invoice/aggregate"
	"pandi/internal/invoice/chase"
	"pandi/internal/invoice/models"
	"pandi/internal/invoice/service"
	id "pandi/pkg/domain"
	dErrors "pandi/pkg/domain-errors"
	"pandi/pkg/platform/httputil"
	"pandi/pkg/requestcontext"
)

// Service is the invoice surface the handler consumes.
type Service interface {
	CreateInvoice(ctx context.Context, incidentID id.IncidentID) (*models.Invoice, error)
	GetInvoice(ctx context.Context, invoiceID id.InvoiceID) (*models.Invoice, error)
	ListByIncident(ctx context.Context, incidentID id.IncidentID) ([]*models.Invoice, error)
	UpdateHeader(ctx context.Context, invoiceID id.InvoiceID, patch service.HeaderPatch) (*models.Invoice, error)
	Register(ctx context.Context, invoiceID id.InvoiceID) (*models.Invoice, error)
	Settle(ctx context.Context, invoiceID id.InvoiceID, date *time.Time) (*models.Invoice, error)
	ClearSettlement(ctx context.Context, invoiceID id.InvoiceID) (*models.Invoice, error)
	SetChasingDate(ctx context.Context, invoiceID id.InvoiceID, date *time.Time) (*models.Invoice, error)
	DueForChasing(ctx context.Context, cutoff time.Time) ([]chase.Entry, error)
	AddFeeLine(ctx context.Context, invoiceID id.InvoiceID, params service.FeeLineParams) (*models.Invoice, error)
	UpdateFeeLine(ctx context.Context, invoiceID id.InvoiceID, lineID id.LineID, params service.FeeLineParams) (*models.Invoice, error)
	RemoveFeeLine(ctx context.Context, invoiceID id.InvoiceID, lineID id.LineID) (*models.Invoice, error)
	AddDisbursement(ctx context.Context, invoiceID id.InvoiceID, params service.DisbursementParams) (*models.Invoice, error)
	UpdateDisbursement(ctx context.Context, invoiceID id.InvoiceID, lineID id.LineID, params service.DisbursementParams) (*models.Invoice, error)
	RemoveDisbursement(ctx context.Context, invoiceID id.InvoiceID, lineID id.LineID) (*models.Invoice, error)
}

// Handler exposes the invoice endpoints.
type Handler struct {
	logger  *slog.Logger
	service Service
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, service: service}
}

// Register mounts the invoice routes.
func (h *Handler) Register(r chi.Router) {
	r.Route("/invoices", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleListByIncident)
		r.Get("/chasing", h.handleChasing)
		r.Get("/{id}", h.handleGet)
		r.Patch("/{id}", h.handleUpdateHeader)
		r.Post("/{id}/register", h.handleRegister)
		r.Patch("/{id}/settle", h.handleSettle)
		r.Patch("/{id}/chasing-date", h.handleChasingDate)
		r.Post("/{id}/fee-lines", h.handleAddFeeLine)
		r.Put("/{id}/fee-lines/{lineID}", h.handleUpdateFeeLine)
		r.Delete("/{id}/fee-lines/{lineID}", h.handleRemoveFeeLine)
		r.Post("/{id}/disbursements", h.handleAddDisbursement)
		r.Put("/{id}/disbursements/{lineID}", h.handleUpdateDisbursement)
		r.Delete("/{id}/disbursements/{lineID}", h.handleRemoveDisbursement)
	})
}

// invoiceResponse attaches the computed totals; they are never stored.
type invoiceResponse struct {
	*models.Invoice
	Totals aggregate.Totals `json:"totals"`
}

func respond(inv *models.Invoice) invoiceResponse {
	if inv.FeeLines == nil {
		inv.FeeLines = []models.FeeLine{}
	}
	if inv.DisbursementLines == nil {
		inv.DisbursementLines = []models.DisbursementLine{}
	}
	return invoiceResponse{Invoice: inv, Totals: aggregate.Compute(inv)}
}

func (h *Handler) invoiceID(w http.ResponseWriter, r *http.Request) (id.InvoiceID, bool) {
	invoiceID, err := id.ParseInvoiceID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.InvoiceID{}, false
	}
	return invoiceID, true
}

func (h *Handler) lineParams(w http.ResponseWriter, r *http.Request) (id.InvoiceID, id.LineID, bool) {
	invoiceID, ok := h.invoiceID(w, r)
	if !ok {
		return id.InvoiceID{}, id.LineID{}, false
	}
	lineID, err := id.ParseLineID(chi.URLParam(r, "lineID"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.InvoiceID{}, id.LineID{}, false
	}
	return invoiceID, lineID, true
}

type createRequest struct {
	IncidentID string `json:"incident_id"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	incidentID, err := id.ParseIncidentID(req.IncidentID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	inv, err := h.service.CreateInvoice(r.Context(), incidentID)
	if err != nil {
		h.fail(w, r, "create invoice", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, respond(inv))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	invoiceID, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	inv, err := h.service.GetInvoice(r.Context(), invoiceID)
	if err != nil {
		h.fail(w, r, "get invoice", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, respond(inv))
}

func (h *Handler) handleListByIncident(w http.ResponseWriter, r *http.Request) {
	incidentID, err := id.ParseIncidentID(r.URL.Query().Get("incident_id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	invoices, err := h.service.ListByIncident(r.Context(), incidentID)
	if err != nil {
		h.fail(w, r, "list invoices", err)
		return
	}
	out := make([]invoiceResponse, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, respond(inv))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"invoices": out})
}

func (h *Handler) handleUpdateHeader(w http.ResponseWriter, r *http.Request) {
	invoiceID, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	var patch service.HeaderPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	inv, err := h.service.UpdateHeader(r.Context(), invoiceID, patch)
	if err != nil {
		h.fail(w, r, "update invoice", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, respond(inv))
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	invoiceID, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	inv, err := h.service.Register(r.Context(), invoiceID)
	if err != nil {
		h.fail(w, r, "register invoice", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, respond(inv))
}

// settleRequest keeps the raw settlement_date so an explicit null (clear the
// settlement) is distinguishable from an absent field (settle now).
type settleRequest struct {
	SettlementDate json.RawMessage `json:"settlement_date"`
}

func (h *Handler) handleSettle(w http.ResponseWriter, r *http.Request) {
	invoiceID, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	// An empty body settles at the request time.
	var req settleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	var (
		inv *models.Invoice
		err error
	)
	switch {
	case len(req.SettlementDate) == 0:
		inv, err = h.service.Settle(r.Context(), invoiceID, nil)
	case string(req.SettlementDate) == "null":
		inv, err = h.service.ClearSettlement(r.Context(), invoiceID)
	default:
		var date time.Time
		if jsonErr := json.Unmarshal(req.SettlementDate, &date); jsonErr != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "settlement_date must be RFC3339 or null"))
			return
		}
		inv, err = h.service.Settle(r.Context(), invoiceID, &date)
	}
	if err != nil {
		h.fail(w, r, "settle invoice", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, respond(inv))
}

type chasingDateRequest struct {
	Date *time.Time `json:"date"`
}

func (h *Handler) handleChasingDate(w http.ResponseWriter, r *http.Request) {
	invoiceID, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	var req chasingDateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	inv, err := h.service.SetChasingDate(r.Context(), invoiceID, req.Date)
	if err != nil {
		h.fail(w, r, "set chasing date", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, respond(inv))
}

func (h *Handler) handleChasing(w http.ResponseWriter, r *http.Request) {
	cutoff := requestcontext.Now(r.Context())
	if raw := r.URL.Query().Get("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "before must be RFC3339"))
			return
		}
		cutoff = parsed
	}
	entries, err := h.service.DueForChasing(r.Context(), cutoff)
	if err != nil {
		h.fail(w, r, "list chasing", err)
		return
	}
	if entries == nil {
		entries = []chase.Entry{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"due": entries})
}

func (h *Handler) handleAddFeeLine(w http.ResponseWriter, r *http.Request) {
	invoiceID, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	var params service.FeeLineParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	inv, err := h.service.AddFeeLine(r.Context(), invoiceID, params)
	if err != nil {
		h.fail(w, r, "add fee line", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, respond(inv))
}

func (h *Handler) handleUpdateFeeLine(w http.ResponseWriter, r *http.Request) {
	invoiceID, lineID, ok := h.lineParams(w, r)
	if !ok {
		return
	}
	var params service.FeeLineParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	inv, err := h.service.UpdateFeeLine(r.Context(), invoiceID, lineID, params)
	if err != nil {
		h.fail(w, r, "update fee line", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, respond(inv))
}

func (h *Handler) handleRemoveFeeLine(w http.ResponseWriter, r *http.Request) {
	invoiceID, lineID, ok := h.lineParams(w, r)
	if !ok {
		return
	}
	inv, err := h.service.RemoveFeeLine(r.Context(), invoiceID, lineID)
	if err != nil {
		h.fail(w, r, "remove fee line", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, respond(inv))
}

func (h *Handler) handleAddDisbursement(w http.ResponseWriter, r *http.Request) {
	invoiceID, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	var params service.DisbursementParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	inv, err := h.service.AddDisbursement(r.Context(), invoiceID, params)
	if err != nil {
		h.fail(w, r, "add disbursement", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, respond(inv))
}

func (h *Handler) handleUpdateDisbursement(w http.ResponseWriter, r *http.Request) {
	invoiceID, lineID, ok := h.lineParams(w, r)
	if !ok {
		return
	}
	var params service.DisbursementParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	inv, err := h.service.UpdateDisbursement(r.Context(), invoiceID, lineID, params)
	if err != nil {
		h.fail(w, r, "update disbursement", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, respond(inv))
}

func (h *Handler) handleRemoveDisbursement(w http.ResponseWriter, r *http.Request) {
	invoiceID, lineID, ok := h.lineParams(w, r)
	if !ok {
		return
	}
	inv, err := h.service.RemoveDisbursement(r.Context(), invoiceID, lineID)
	if err != nil {
		h.fail(w, r, "remove disbursement", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, respond(inv))
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
