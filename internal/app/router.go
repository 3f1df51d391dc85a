package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/meridian-gl/meridian-gl/internal/gl/close"
	"github.com/meridian-gl/meridian-gl/internal/gl/journal"
	"github.com/meridian-gl/meridian-gl/internal/gl/reclass"
	"github.com/meridian-gl/meridian-gl/internal/observability"
	"github.com/meridian-gl/meridian-gl/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	JournalHandler *journal.Handler
	CloseHandler   *close.Handler
	ReclassHandler *reclass.Handler
	JobHandler     *jobs.Handler
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with Meridian defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/gl", func(r chi.Router) {
		if params.JournalHandler != nil {
			params.JournalHandler.MountRoutes(r)
		}
		if params.CloseHandler != nil {
			params.CloseHandler.MountRoutes(r)
		}
		if params.ReclassHandler != nil {
			params.ReclassHandler.MountRoutes(r)
		}
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
