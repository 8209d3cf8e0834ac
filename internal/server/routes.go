package server

import (
	"github.com/go-chi/chi/v5"

	"github.com/reelsync/reelsync/internal/server/handlers"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	// Health endpoints
	s.router.Get("/health", handlers.HealthHandler)
	s.router.Get("/health/live", handlers.LivenessHandler)
	s.router.Get("/health/ready", handlers.ReadinessHandler)

	// Version endpoint
	s.router.Get("/version", handlers.VersionHandler)

	// Metrics endpoint (in server package to access HandleError)
	s.router.Get("/metrics", MetricsHandler)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/data", s.api.SaveData)
		r.Get("/data", s.api.GetData)

		r.Post("/sync", s.api.TriggerSync)
		r.Get("/sync/status", s.api.SyncStatus)

		r.Get("/queue", s.api.ListQueue)
		r.Delete("/queue", s.api.ResetQueue)

		r.Get("/cache/stats", s.api.CacheStats)
		r.Post("/cache/sweep", s.api.SweepCache)
		r.Delete("/cache", s.api.ClearCache)

		r.Get("/ratelimits", s.api.ListRateLimits)
		r.Put("/ratelimits/{key}", s.api.UpdateRateLimit)
		r.Delete("/ratelimits", s.api.ResetRateLimits)

		r.Get("/events", s.api.StreamEvents)
	})
}
