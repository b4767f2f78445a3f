package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"mediagate/internal/handlers"
	"mediagate/internal/metrics"
	"mediagate/internal/middleware"
)

func SetupRouter(
	r *chi.Mux,
	baseLogger *zap.Logger,
	generate *handlers.GenerateHandler,
	placeholders *handlers.PlaceholderHandler,
	admin *handlers.AdminHandler,
) {

	r.Use(metrics.Middleware)

	// base middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer())               // panic recovery
	r.Use(middleware.Timeout(90 * time.Second)) // request timeout; generation is slow
	r.Use(middleware.MaxBodySize(256 * 1024))   // 256 KB max body

	// routes
	r.Route("/v1", func(r chi.Router) {
		r.Post("/images/generations", generate.Generate)
		r.Get("/placeholders/{resolution}", placeholders.Get)
		r.Route("/admin", func(r chi.Router) {
			r.Get("/violators", admin.TopViolators)
			r.Get("/users/{user}", admin.UserStats)
		})
	})

	// health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", metrics.Handler())
}
