package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/dropline-backend/internal/sweepers"
	"github.com/angelmondragon/dropline-backend/pkg/config"
)

const (
	JobLinkOrphans      = "link-orphans"
	JobBackfillMetadata = "backfill-metadata"
	JobMediaDeletions   = "media-deletions"
	JobPublishDrops     = "publish-drops"
	JobRedispatchStale  = "redispatch-stale"
	JobOutboxRetention  = "outbox-retention"
)

type sweeperRunner interface {
	LinkOrphans(ctx context.Context) (*sweepers.LinkResult, error)
	BackfillMetadata(ctx context.Context) (*sweepers.BackfillResult, error)
	SweepDeletions(ctx context.Context) (*sweepers.DeletionResult, error)
	PublishDue(ctx context.Context) (*sweepers.PublishResult, error)
	RedispatchStale(ctx context.Context) (*sweepers.RedispatchResult, error)
}

type funcJob struct {
	name string
	run  func(ctx context.Context) error
}

func (j funcJob) Name() string                  { return j.name }
func (j funcJob) Run(ctx context.Context) error { return j.run(ctx) }

// RegisterSweepers schedules every sweeper with the configured cron expressions.
// Item-level failures fail the run so they show up in the job failure metric;
// the sweep itself has already processed every other item.
func RegisterSweepers(registry *Registry, cfg config.SweepersConfig, sweeps sweeperRunner) error {
	if sweeps == nil {
		return fmt.Errorf("sweeper service required")
	}
	jobs := []struct {
		schedule string
		job      Job
	}{
		{cfg.LinkOrphansSchedule, funcJob{name: JobLinkOrphans, run: func(ctx context.Context) error {
			result, err := sweeps.LinkOrphans(ctx)
			if err != nil {
				return err
			}
			return itemFailures(len(result.Errors), "orphan links")
		}}},
		{cfg.BackfillSchedule, funcJob{name: JobBackfillMetadata, run: func(ctx context.Context) error {
			result, err := sweeps.BackfillMetadata(ctx)
			if err != nil {
				return err
			}
			return itemFailures(len(result.Errors), "metadata backfills")
		}}},
		{cfg.DeletionSchedule, funcJob{name: JobMediaDeletions, run: func(ctx context.Context) error {
			result, err := sweeps.SweepDeletions(ctx)
			if err != nil {
				return err
			}
			return itemFailures(len(result.Errors), "storage deletions")
		}}},
		{cfg.PublishSchedule, funcJob{name: JobPublishDrops, run: func(ctx context.Context) error {
			_, err := sweeps.PublishDue(ctx)
			return err
		}}},
		{cfg.StalePendingSchedule, funcJob{name: JobRedispatchStale, run: func(ctx context.Context) error {
			result, err := sweeps.RedispatchStale(ctx)
			if err != nil {
				return err
			}
			return itemFailures(len(result.Errors), "redispatches")
		}}},
	}
	for _, entry := range jobs {
		if err := registry.Register(entry.schedule, entry.job); err != nil {
			return err
		}
	}
	return nil
}

func itemFailures(count int, what string) error {
	if count == 0 {
		return nil
	}
	return fmt.Errorf("%d %s failed", count, what)
}
