package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/photo-dedup/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	imagesHandler := handlers.NewImagesHandler(s.repo, s.log)
	bucketsHandler := handlers.NewBucketsHandler(s.repo, s.config.Hash.Threshold, s.log)
	pendingHandler := handlers.NewPendingHandler(s.repo, s.log)
	statsHandler := handlers.NewStatsHandler(s.repo, s.log)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.HealthCheck)

		// Duplicate review
		r.Get("/buckets", bucketsHandler.List)

		// Images
		r.Get("/images", imagesHandler.Lookup)
		r.Get("/images/{id}", imagesHandler.Get)

		// Jobs
		r.Get("/pending", pendingHandler.List)
		r.Get("/stats", statsHandler.Get)
	})

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not found"}`))
	})
}
