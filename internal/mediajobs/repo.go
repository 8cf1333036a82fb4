package mediajobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/dropline-backend/internal/repo"
	"github.com/angelmondragon/dropline-backend/pkg/db"
	"github.com/angelmondragon/dropline-backend/pkg/db/models"
	"github.com/angelmondragon/dropline-backend/pkg/enums"
)

// Repository persists media jobs. Every state write is a conditional update so
// that a stale writer changes nothing instead of breaking the row's invariants.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

func (r *Repository) Create(ctx context.Context, job *models.MediaJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	return r.DB(ctx).Create(job).Error
}

// FindByID loads a job, returning ErrJobNotFound when the row does not exist.
func (r *Repository) FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.MediaJob, error) {
	var job models.MediaJob
	err := r.Conn(ctx, tx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *Repository) SetQueueJobID(ctx context.Context, id uuid.UUID, queueJobID string) error {
	return r.DB(ctx).
		Model(&models.MediaJob{}).
		Where("id = ?", id).
		Update("queue_job_id", queueJobID).Error
}

// MarkProcessing moves a pending job to processing, or re-enters processing on a
// queue re-delivery, and counts the attempt.
func (r *Repository) MarkProcessing(ctx context.Context, tx *gorm.DB, id uuid.UUID, now time.Time) (bool, error) {
	res := r.Conn(ctx, tx).
		Model(&models.MediaJob{}).
		Where("id = ? AND state IN ?", id, []enums.MediaJobState{enums.MediaJobStatePending, enums.MediaJobStateProcessing}).
		Updates(map[string]any{
			"state":         enums.MediaJobStateProcessing,
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"started_at":    gorm.Expr("COALESCE(started_at, ?)", now),
			"updated_at":    now,
		})
	return res.RowsAffected == 1, res.Error
}

// UpdateProgress only ever raises progress, and only while processing.
func (r *Repository) UpdateProgress(ctx context.Context, id uuid.UUID, pct int, now time.Time) (bool, error) {
	res := r.DB(ctx).
		Model(&models.MediaJob{}).
		Where("id = ? AND state = ? AND progress <= ?", id, enums.MediaJobStateProcessing, pct).
		Updates(map[string]any{
			"progress":   pct,
			"updated_at": now,
		})
	return res.RowsAffected == 1, res.Error
}

// MarkCompleted writes the state and all four output columns in one statement.
// postID, when set, is recorded only if the job is not linked yet.
func (r *Repository) MarkCompleted(ctx context.Context, tx *gorm.DB, id uuid.UUID, out Output, postID *uuid.UUID, now time.Time) (bool, error) {
	updates := map[string]any{
		"state":            enums.MediaJobStateCompleted,
		"progress":         100,
		"output_url":       out.URL,
		"duration_seconds": out.DurationSeconds,
		"width":            out.Width,
		"height":           out.Height,
		"last_error":       nil,
		"completed_at":     now,
		"updated_at":       now,
	}
	if postID != nil && *postID != uuid.Nil {
		updates["post_id"] = gorm.Expr("COALESCE(post_id, ?)", *postID)
	}
	res := r.Conn(ctx, tx).
		Model(&models.MediaJob{}).
		Where("id = ? AND state = ?", id, enums.MediaJobStateProcessing).
		Updates(updates)
	if db.IsCheckViolation(res.Error) {
		return false, fmt.Errorf("%w: %v", ErrIncompleteOutput, res.Error)
	}
	return res.RowsAffected == 1, res.Error
}

func (r *Repository) MarkFailed(ctx context.Context, tx *gorm.DB, id uuid.UUID, reason string, now time.Time) (bool, error) {
	res := r.Conn(ctx, tx).
		Model(&models.MediaJob{}).
		Where("id = ? AND state = ?", id, enums.MediaJobStateProcessing).
		Updates(map[string]any{
			"state":        enums.MediaJobStateFailed,
			"last_error":   reason,
			"completed_at": now,
			"updated_at":   now,
		})
	return res.RowsAffected == 1, res.Error
}

// RecordError stores the latest attempt error without touching state.
func (r *Repository) RecordError(ctx context.Context, id uuid.UUID, reason string, now time.Time) (bool, error) {
	res := r.DB(ctx).
		Model(&models.MediaJob{}).
		Where("id = ? AND state = ?", id, enums.MediaJobStateProcessing).
		Updates(map[string]any{
			"last_error": reason,
			"updated_at": now,
		})
	return res.RowsAffected == 1, res.Error
}

// ListOrphans returns completed jobs without a post, in id order after the given cursor.
func (r *Repository) ListOrphans(ctx context.Context, after uuid.UUID, limit int) ([]models.MediaJob, error) {
	query := r.DB(ctx).
		Where("state = ? AND post_id IS NULL AND output_url IS NOT NULL", enums.MediaJobStateCompleted).
		Order("id ASC").
		Limit(limit)
	if after != uuid.Nil {
		query = query.Where("id > ?", after)
	}
	var jobs []models.MediaJob
	err := query.Find(&jobs).Error
	return jobs, err
}

// LinkPost sets the job's post only while it is still unlinked.
func (r *Repository) LinkPost(ctx context.Context, tx *gorm.DB, id, postID uuid.UUID, now time.Time) (bool, error) {
	res := r.Conn(ctx, tx).
		Model(&models.MediaJob{}).
		Where("id = ? AND post_id IS NULL", id).
		Updates(map[string]any{
			"post_id":    postID,
			"updated_at": now,
		})
	return res.RowsAffected == 1, res.Error
}

// ListBackfillCandidates returns completed, linked jobs whose post still lacks media metadata.
func (r *Repository) ListBackfillCandidates(ctx context.Context, after uuid.UUID, limit int) ([]models.MediaJob, error) {
	query := r.DB(ctx).
		Model(&models.MediaJob{}).
		Select("media_jobs.*").
		Joins("JOIN posts ON posts.id = media_jobs.post_id").
		Where("media_jobs.state = ?", enums.MediaJobStateCompleted).
		Where("(posts.media_duration_seconds IS NULL OR posts.media_width IS NULL OR posts.media_height IS NULL)").
		Order("media_jobs.id ASC").
		Limit(limit)
	if after != uuid.Nil {
		query = query.Where("media_jobs.id > ?", after)
	}
	var jobs []models.MediaJob
	err := query.Find(&jobs).Error
	return jobs, err
}

// ListStalePending returns pending jobs created before cutoff, oldest first.
func (r *Repository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.MediaJob, error) {
	var jobs []models.MediaJob
	err := r.DB(ctx).
		Where("state = ? AND created_at <= ?", enums.MediaJobStatePending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// Counts is a read-only snapshot of job totals used by the health endpoint.
type Counts struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Orphaned   int64 `json:"orphaned"`
}

func (r *Repository) Counts(ctx context.Context) (Counts, error) {
	type stateCount struct {
		State enums.MediaJobState
		Total int64
	}
	var rows []stateCount
	err := r.DB(ctx).
		Model(&models.MediaJob{}).
		Select("state, COUNT(*) AS total").
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return Counts{}, err
	}

	var counts Counts
	for _, row := range rows {
		switch row.State {
		case enums.MediaJobStatePending:
			counts.Pending = row.Total
		case enums.MediaJobStateProcessing:
			counts.Processing = row.Total
		case enums.MediaJobStateCompleted:
			counts.Completed = row.Total
		case enums.MediaJobStateFailed:
			counts.Failed = row.Total
		}
	}

	err = r.DB(ctx).
		Model(&models.MediaJob{}).
		Where("state = ? AND post_id IS NULL", enums.MediaJobStateCompleted).
		Count(&counts.Orphaned).Error
	return counts, err
}
