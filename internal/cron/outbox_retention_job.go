package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/dropline-backend/pkg/logger"
	"github.com/angelmondragon/dropline-backend/pkg/metrics"
)

const (
	outboxRetentionDays   = 30
	outboxPruneBatchSize  = 1000
	outboxPruneMaxBatches = 500
	outboxPruneBatchPause = 50 * time.Millisecond
)

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	Repository outboxRetentionRepo
	Metrics    *metrics.OutboxMetrics
	Retention  int
	BatchSize  int
}

type outboxRetentionRepo interface {
	DeletePublishedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// NewOutboxRetentionJob prunes published outbox rows past the retention window in
// bounded batches. Unpublished and dead-lettered events stay.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Repository == nil {
		return nil, errors.New("outbox repository required")
	}
	job := &outboxRetentionJob{
		logg:      params.Logger,
		repo:      params.Repository,
		metrics:   params.Metrics,
		retention: params.Retention,
		batchSize: params.BatchSize,
		pause:     outboxPruneBatchPause,
		now:       time.Now,
	}
	if job.retention <= 0 {
		job.retention = outboxRetentionDays
	}
	if job.batchSize <= 0 {
		job.batchSize = outboxPruneBatchSize
	}
	return job, nil
}

type outboxRetentionJob struct {
	logg      *logger.Logger
	repo      outboxRetentionRepo
	metrics   *metrics.OutboxMetrics
	retention int
	batchSize int
	pause     time.Duration
	now       func() time.Time
}

func (j *outboxRetentionJob) Name() string { return JobOutboxRetention }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().AddDate(0, 0, -j.retention)

	var total int64
	batches := 0
	for batches < outboxPruneMaxBatches {
		deleted, err := j.repo.DeletePublishedBefore(ctx, cutoff, j.batchSize)
		if err != nil {
			return fmt.Errorf("prune outbox before %s after %d rows: %w", cutoff.Format(time.RFC3339), total, err)
		}
		batches++
		total += deleted
		j.metrics.AddPruned(deleted)
		if deleted < int64(j.batchSize) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(j.pause):
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"batches":      batches,
		"rows_deleted": total,
	}), "outbox pruned")
	return nil
}
