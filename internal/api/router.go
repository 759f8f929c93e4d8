package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/treesync/internal/store"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(runner Runner, db store.RunStore, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(runner, db)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Runs.
	r.Get("/runs", h.ListRuns)
	r.Post("/runs", h.StartRun)
	r.Route("/runs/{runID}", func(r chi.Router) {
		r.Get("/", h.GetRun)
		r.Get("/mappings", h.ListMappings)
		r.Get("/mappings/{sourceID}", h.GetMapping)
		r.Get("/unmatched", h.ListUnmatched)
		r.Get("/issues", h.ListIssues)
		r.Post("/revalidate", h.Revalidate)
		r.Get("/report", h.GetReport)
	})

	// Remembered decisions.
	r.Get("/decisions", h.ListDecisions)
	r.Put("/decisions/{sourceID}", h.PutDecision)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
