package sweepers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/dropline-backend/internal/mediajobs"
	"github.com/angelmondragon/dropline-backend/pkg/db/models"
	"github.com/angelmondragon/dropline-backend/pkg/queue"
)

// RedispatchResult summarizes one stale-pending run.
type RedispatchResult struct {
	RedispatchedCount int         `json:"redispatchedCount"`
	SkippedCount      int         `json:"skippedCount"`
	Errors            []ItemError `json:"errors"`
}

// RedispatchStale enqueues pending jobs older than the stale age whose queue task
// is gone: never recorded, unknown to the queue, or settled without moving the job.
// Jobs whose task is still waiting, active or delayed are left alone.
func (s *Service) RedispatchStale(ctx context.Context) (*RedispatchResult, error) {
	cutoff := s.now().Add(-s.staleAge)
	jobs, err := s.jobs.ListStalePending(ctx, cutoff, s.staleBatch)
	if err != nil {
		return nil, fmt.Errorf("list stale pending jobs: %w", err)
	}

	result := &RedispatchResult{Errors: []ItemError{}}
	for i := range jobs {
		job := &jobs[i]
		live, err := s.taskAlive(ctx, job)
		if err != nil {
			result.Errors = append(result.Errors, ItemError{ID: job.ID.String(), Error: err.Error()})
			continue
		}
		if live {
			result.SkippedCount++
			continue
		}
		taskID, err := s.dispatcher.Dispatch(ctx, job)
		if err != nil {
			result.Errors = append(result.Errors, ItemError{ID: job.ID.String(), Error: err.Error()})
			s.logg.Error(s.logg.WithMediaJobID(ctx, job.ID.String()), "media job dispatch failed", err)
			continue
		}
		result.RedispatchedCount++
		s.logg.Info(s.logg.WithFields(s.logg.WithMediaJobID(ctx, job.ID.String()), map[string]any{
			"task_id": taskID,
			"age":     s.now().Sub(job.CreatedAt).Round(time.Second).String(),
		}), "stale media job redispatched")
	}

	s.metrics.AddRedispatched(result.RedispatchedCount)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"candidates":   len(jobs),
		"redispatched": result.RedispatchedCount,
		"skipped":      result.SkippedCount,
		"errors":       len(result.Errors),
	}), "stale pending sweep complete")
	return result, nil
}

func (s *Service) taskAlive(ctx context.Context, job *models.MediaJob) (bool, error) {
	if job.QueueJobID == nil || *job.QueueJobID == "" {
		return false, nil
	}
	status, err := s.queue.GetStatus(ctx, *job.QueueJobID)
	if errors.Is(err, queue.ErrTaskNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("queue status: %w", err)
	}
	return !status.State.IsTerminal(), nil
}

// MediaJobsHealth is a read-only snapshot of job totals, including permanently
// failed and orphaned jobs that are kept as history.
type MediaJobsHealth struct {
	mediajobs.Counts
	CheckedAt time.Time `json:"checkedAt"`
}

func (s *Service) MediaJobsHealth(ctx context.Context) (*MediaJobsHealth, error) {
	counts, err := s.jobs.Counts(ctx)
	if err != nil {
		return nil, fmt.Errorf("count media jobs: %w", err)
	}
	return &MediaJobsHealth{Counts: counts, CheckedAt: s.now()}, nil
}
