// Package api serves the read-only HTTP surface used by clients polling
// job status.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/xraph/asyncjob/engine"
	"github.com/xraph/asyncjob/orchestrator"
)

// API wires the HTTP handlers to an engine's orchestrator.
type API struct {
	orch   *orchestrator.Orchestrator
	router chi.Router
}

// New creates an API from an Engine. A nil router gets a fresh chi router.
func New(eng *engine.Engine, router chi.Router) *API {
	return &API{orch: eng.Orchestrator(), router: router}
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	if a.router == nil {
		a.router = chi.NewRouter()
		a.router.Use(middleware.RequestID, middleware.Recoverer)
	}
	a.RegisterRoutes(a.router)
	return a.router
}

// RegisterRoutes registers the job routes into router.
//
//	GET /v1/jobs                  list jobs by status
//	GET /v1/jobs/counts           job counts by status
//	GET /v1/jobs/{jobId}          full job record
//	GET /v1/jobs/{jobId}/status   polling projection
func (a *API) RegisterRoutes(router chi.Router) {
	router.Route("/v1/jobs", func(r chi.Router) {
		r.Get("/", a.listJobs)
		r.Get("/counts", a.jobCounts)
		r.Get("/{jobId}", a.getJob)
		r.Get("/{jobId}/status", a.getJobStatus)
	})
}
