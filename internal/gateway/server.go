package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Public, no auth required.
	r.Get("/health", g.handleHealth())
	r.Get("/status", g.handleStatus())
	if g.deps.Metrics != nil {
		r.Handle("/metrics", g.deps.Metrics.Handler())
	}

	// Queue administration. Not mounted if no auth configured.
	if g.config.Auth.IsConfigured() {
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware(g.config.Auth, g.logger))
			r.Route("/api/jobs", func(r chi.Router) {
				r.Get("/", g.handleListJobs())
				r.Get("/counts", g.handleJobCounts())
				r.Post("/clean", g.handleCleanQueue())
				r.Get("/{id}", g.handleGetJob())
				r.Post("/{id}/reschedule", g.handleRescheduleJob())
			})
			if g.deps.Events != nil {
				r.Get("/ws/events", g.deps.Events.ServeHTTP)
			}
		})
	}

	return r
}
