package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/dropline-backend/api/responses"
	"github.com/angelmondragon/dropline-backend/internal/sweepers"
	pkgerrors "github.com/angelmondragon/dropline-backend/pkg/errors"
	"github.com/angelmondragon/dropline-backend/pkg/logger"
)

// SweeperService is the surface the internal sweeper endpoints trigger.
type SweeperService interface {
	LinkOrphans(ctx context.Context) (*sweepers.LinkResult, error)
	BackfillMetadata(ctx context.Context) (*sweepers.BackfillResult, error)
	SweepDeletions(ctx context.Context) (*sweepers.DeletionResult, error)
	PublishDue(ctx context.Context) (*sweepers.PublishResult, error)
	DropsHealth(ctx context.Context) (*sweepers.DropsHealth, error)
	RedispatchStale(ctx context.Context) (*sweepers.RedispatchResult, error)
	MediaJobsHealth(ctx context.Context) (*sweepers.MediaJobsHealth, error)
}

func SweepMediaDeletions(svc SweeperService, logg *logger.Logger) http.HandlerFunc {
	return sweepHandler(svc, logg, "media-deletions", func(ctx context.Context) (any, error) {
		return svc.SweepDeletions(ctx)
	})
}

func SweepPublishDrops(svc SweeperService, logg *logger.Logger) http.HandlerFunc {
	return sweepHandler(svc, logg, "publish-drops", func(ctx context.Context) (any, error) {
		return svc.PublishDue(ctx)
	})
}

func DropsHealth(svc SweeperService, logg *logger.Logger) http.HandlerFunc {
	return sweepHandler(svc, logg, "drops-health", func(ctx context.Context) (any, error) {
		return svc.DropsHealth(ctx)
	})
}

func SweepLinkOrphans(svc SweeperService, logg *logger.Logger) http.HandlerFunc {
	return sweepHandler(svc, logg, "link-orphans", func(ctx context.Context) (any, error) {
		return svc.LinkOrphans(ctx)
	})
}

func SweepBackfillMetadata(svc SweeperService, logg *logger.Logger) http.HandlerFunc {
	return sweepHandler(svc, logg, "backfill-metadata", func(ctx context.Context) (any, error) {
		return svc.BackfillMetadata(ctx)
	})
}

func SweepRedispatchStale(svc SweeperService, logg *logger.Logger) http.HandlerFunc {
	return sweepHandler(svc, logg, "redispatch-stale", func(ctx context.Context) (any, error) {
		return svc.RedispatchStale(ctx)
	})
}

func MediaJobsHealth(svc SweeperService, logg *logger.Logger) http.HandlerFunc {
	return sweepHandler(svc, logg, "media-jobs-health", func(ctx context.Context) (any, error) {
		return svc.MediaJobsHealth(ctx)
	})
}

func sweepHandler(svc SweeperService, logg *logger.Logger, name string, run func(ctx context.Context) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sweeper service unavailable"))
			return
		}
		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithField(ctx, "sweeper", name)
		}
		result, err := run(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
