package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hyperengineering/tasksync/internal/auth"
)

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler, authn auth.Authenticator) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteProblem(w, r, http.StatusNotFound, "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteProblem(w, r, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Get("/health", h.Health)

		// Protected routes (owner identity required)
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(authn))
			r.Post("/sync/push", h.SyncPush)
			r.Get("/sync/pull", h.SyncPull)
			r.Get("/sync/conflicts", h.ListConflicts)
			r.Post("/sync/conflicts/{id}/resolve", h.ResolveConflict)
			if h.hub != nil {
				r.Get("/sync/stream", h.SyncStream)
			}
		})
	})

	return r
}
