// Package httptransport assembles the HTTP surface: middleware chain,
// feature routes, health and metrics endpoints.
package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pandi/internal/platform/config"
	"pandi/internal/platform/middleware"
	"pandi/pkg/platform/httputil"
)

// Feature is anything that can mount routes on the router. Each feature
// package exposes its handler through this.
type Feature interface {
	Register(r chi.Router)
}

// NewRouter builds the full router. The JWT validator may be nil, which
// disables authentication (dev mode).
func NewRouter(logger *slog.Logger, validator middleware.JWTValidator, features ...Feature) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Timeout(config.RequestTimeout))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)
		r.Use(middleware.RequireAuth(validator, logger))
		for _, feature := range features {
			feature.Register(r)
		}
	})

	return r
}
