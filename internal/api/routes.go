package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured.
// metrics may be nil, in which case /metrics is not mounted.
func NewRouter(h *Handler, metrics http.Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	// Manual triggers: burst of 10, then one every 6s
	triggerLimiter := NewRateLimiter(10, 6*time.Second)

	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Get("/health", h.Health)

		// Protected routes (auth required)
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.apiKey))

			r.Get("/sync", h.ListTargets)
			r.Route("/sync/{target}", func(r chi.Router) {
				r.Use(TargetMiddleware(h.svc.Targets()))
				r.Get("/", h.SyncStatus)
				r.With(triggerLimiter.Middleware).Post("/", h.TriggerSync)
			})

			r.Get("/applications", h.ListApplications)
			r.Get("/applications/{id}", h.GetApplication)
		})
	})

	return r
}
