package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/contractwatch/contract-indexer/internal/api/middleware"
	"github.com/contractwatch/contract-indexer/internal/auth"
)

// NewRouter assembles the admin API. All /admin routes require a valid
// bearer token; /health does not.
func NewRouter(handler *QueueHandler, jwtService auth.JWTService) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Trace)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	authMiddleware := middleware.NewAuthMiddleware(jwtService)

	r.Route("/admin", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)

		r.Post("/documents", handler.EnqueueDocuments)

		r.Route("/queue", func(r chi.Router) {
			r.Get("/status", handler.GetStatus)
			r.Post("/start", handler.StartProcessing)
			r.Post("/stop", handler.StopProcessing)
			r.Post("/pause", handler.PauseProcessing)
			r.Post("/resume", handler.ResumeProcessing)
			r.Post("/retry-failed", handler.RetryFailed)
			r.Delete("/", handler.Purge)

			r.Get("/stuck", handler.ListStuck)
			r.Post("/stuck/reset", handler.ResetAllStuck)

			r.Get("/records", handler.ListRecords)
			r.Get("/records/{id}", handler.GetRecord)
			r.Post("/records/{id}/reset", handler.ResetRecord)
		})
	})

	return r
}
