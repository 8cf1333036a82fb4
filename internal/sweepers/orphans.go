package sweepers

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/dropline-backend/internal/posts"
	"github.com/angelmondragon/dropline-backend/pkg/db/models"
	"github.com/angelmondragon/dropline-backend/pkg/enums"
	"github.com/angelmondragon/dropline-backend/pkg/outbox"
	"github.com/angelmondragon/dropline-backend/pkg/outbox/payloads"
)

// LinkResult summarizes one orphan linking run. UpdatedCount counts posts whose
// media metadata was filled while linking.
type LinkResult struct {
	LinkedCount   int         `json:"linkedCount"`
	UpdatedCount  int         `json:"updatedCount"`
	NotFoundCount int         `json:"notFoundCount"`
	Errors        []ItemError `json:"errors,omitempty"`
}

// LinkOrphans matches completed, unlinked jobs to the post whose media URL equals
// the job's output URL. Jobs with no matching post stay orphaned.
func (s *Service) LinkOrphans(ctx context.Context) (*LinkResult, error) {
	result := &LinkResult{}
	after := uuid.Nil
	for {
		jobs, err := s.jobs.ListOrphans(ctx, after, s.scanBatch)
		if err != nil {
			return result, err
		}
		for i := range jobs {
			job := &jobs[i]
			after = job.ID
			if err := s.linkOne(ctx, job, result); err != nil {
				result.Errors = append(result.Errors, ItemError{ID: job.ID.String(), Error: err.Error()})
				s.logg.Warn(s.logg.WithFields(s.logg.WithMediaJobID(ctx, job.ID.String()), map[string]any{
					"error": err.Error(),
				}), "orphan link failed")
			}
		}
		if len(jobs) < s.scanBatch {
			break
		}
	}

	s.metrics.AddLinked(result.LinkedCount)
	s.metrics.AddBackfilled(result.UpdatedCount)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"linked":    result.LinkedCount,
		"updated":   result.UpdatedCount,
		"not_found": result.NotFoundCount,
		"errors":    len(result.Errors),
	}), "orphan link sweep complete")
	return result, nil
}

func (s *Service) linkOne(ctx context.Context, job *models.MediaJob, result *LinkResult) error {
	if job.OutputURL == nil {
		result.NotFoundCount++
		return nil
	}
	postID, found, err := s.posts.FindIDByMediaURL(ctx, *job.OutputURL)
	if err != nil {
		return err
	}
	if !found {
		result.NotFoundCount++
		return nil
	}

	var linked, updated bool
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		now := s.now()
		ok, err := s.jobs.LinkPost(ctx, tx, job.ID, postID, now)
		if err != nil || !ok {
			return err
		}
		linked = true
		if job.HasCompleteOutput() {
			if updated, err = s.posts.FillMissingMedia(ctx, tx, postID, mediaOf(job), now); err != nil {
				return err
			}
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventMediaJobLinked,
			AggregateType: enums.AggregateMediaJob,
			AggregateID:   job.ID,
			OccurredAt:    now,
			Data: payloads.MediaJobLinkedEvent{
				MediaJobID: job.ID,
				PostID:     postID,
				LinkedAt:   now,
			},
		})
	})
	if err != nil {
		return err
	}
	if linked {
		result.LinkedCount++
	}
	if updated {
		result.UpdatedCount++
	}
	return nil
}

// BackfillResult summarizes one metadata backfill run.
type BackfillResult struct {
	UpdatedCount int         `json:"updatedCount"`
	SkippedCount int         `json:"skippedCount"`
	Errors       []ItemError `json:"errors,omitempty"`
}

// BackfillMetadata copies job output onto linked posts that still miss media
// fields. Only null post fields are written.
func (s *Service) BackfillMetadata(ctx context.Context) (*BackfillResult, error) {
	result := &BackfillResult{}
	after := uuid.Nil
	for {
		jobs, err := s.jobs.ListBackfillCandidates(ctx, after, s.scanBatch)
		if err != nil {
			return result, err
		}
		for i := range jobs {
			job := &jobs[i]
			after = job.ID
			if job.PostID == nil || !job.HasCompleteOutput() {
				result.SkippedCount++
				continue
			}
			updated, err := s.posts.FillMissingMedia(ctx, nil, *job.PostID, mediaOf(job), s.now())
			switch {
			case err != nil:
				result.Errors = append(result.Errors, ItemError{ID: job.ID.String(), Error: err.Error()})
			case updated:
				result.UpdatedCount++
			default:
				result.SkippedCount++
			}
		}
		if len(jobs) < s.scanBatch {
			break
		}
	}

	s.metrics.AddBackfilled(result.UpdatedCount)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"updated": result.UpdatedCount,
		"skipped": result.SkippedCount,
		"errors":  len(result.Errors),
	}), "metadata backfill sweep complete")
	return result, nil
}

func mediaOf(job *models.MediaJob) posts.Media {
	return posts.Media{
		DurationSeconds: *job.DurationSeconds,
		Width:           *job.Width,
		Height:          *job.Height,
	}
}
