package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/turnforge/internal/middleware"
	"github.com/Strob0t/turnforge/internal/port/cache"
)

// RouteOptions configures optional route middleware.
type RouteOptions struct {
	// IdempotencyCache enables Idempotency-Key replay on turn submission when set.
	IdempotencyCache cache.Cache
	IdempotencyTTL   time.Duration
}

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, opts RouteOptions) {
	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		r.Get("/schema/events", h.EventSchemas)

		// Turns
		turns := r.With()
		if opts.IdempotencyCache != nil {
			turns = r.With(middleware.Idempotency(opts.IdempotencyCache, opts.IdempotencyTTL))
		}
		turns.Post("/sessions/{id}/turns", h.ExecuteTurn)

		// Event log
		r.Get("/sessions/{id}/events", h.ListEvents)
		r.Get("/sessions/{id}/events/unprocessed", h.ListUnprocessedEvents)
		r.Post("/events/{id}/processed", h.MarkEventProcessed)
	})
}
