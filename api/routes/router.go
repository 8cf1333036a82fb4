package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/dropline-backend/api/controllers"
	"github.com/angelmondragon/dropline-backend/api/middleware"
	"github.com/angelmondragon/dropline-backend/internal/uploads"
	"github.com/angelmondragon/dropline-backend/pkg/config"
	"github.com/angelmondragon/dropline-backend/pkg/enums"
	"github.com/angelmondragon/dropline-backend/pkg/logger"
	"github.com/angelmondragon/dropline-backend/pkg/metrics"
	"github.com/angelmondragon/dropline-backend/pkg/redis"
)

// Deps carries everything the router hands to controllers.
type Deps struct {
	Config   *config.Config
	Logger   *logger.Logger
	Ready    []controllers.Dependency
	Uploads  uploads.Service
	Jobs     controllers.JobStatusReader
	Sweepers controllers.SweeperService
	Metrics  http.Handler
	HTTP     *metrics.HTTPMetrics

	// Idempotency backs Idempotency-Key replay on finalize; nil disables it.
	Idempotency redis.IdempotencyStore
}

func NewRouter(deps Deps) http.Handler {
	cfg, logg := deps.Config, deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Instrument(logg, deps.HTTP),
		middleware.CORS(cfg.App.CORSAllowedOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Ready...))
	})
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	r.Route("/api/v1/media", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.With(middleware.Idempotency(deps.Idempotency, cfg.App, logg)).
			Post("/finalize", controllers.MediaFinalize(deps.Uploads, logg))
		r.Get("/jobs/{jobId}", controllers.MediaJobStatus(deps.Jobs, logg))
	})

	r.Route("/api/internal/v1/sweepers", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.ActorRoleScheduler, enums.ActorRoleAdmin))
		r.Post("/media-deletions", controllers.SweepMediaDeletions(deps.Sweepers, logg))
		r.Route("/drops", func(r chi.Router) {
			r.Post("/publish", controllers.SweepPublishDrops(deps.Sweepers, logg))
			r.Get("/health", controllers.DropsHealth(deps.Sweepers, logg))
		})
		r.Route("/media-jobs", func(r chi.Router) {
			r.Post("/link-orphans", controllers.SweepLinkOrphans(deps.Sweepers, logg))
			r.Post("/backfill-metadata", controllers.SweepBackfillMetadata(deps.Sweepers, logg))
			r.Post("/redispatch-stale", controllers.SweepRedispatchStale(deps.Sweepers, logg))
			r.Get("/health", controllers.MediaJobsHealth(deps.Sweepers, logg))
		})
	})

	return r
}
