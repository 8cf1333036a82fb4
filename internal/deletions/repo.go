package deletions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/dropline-backend/internal/repo"
	"github.com/angelmondragon/dropline-backend/pkg/db"
	"github.com/angelmondragon/dropline-backend/pkg/db/models"
)

// Repository persists storage keys waiting to be removed from the object store.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// Schedule records key for deletion at scheduledFor. Scheduling a key twice keeps the first row.
func (r *Repository) Schedule(ctx context.Context, key string, scheduledFor time.Time) error {
	row := models.PendingMediaDeletion{
		ID:           uuid.New(),
		StorageKey:   key,
		ScheduledFor: scheduledFor,
	}
	err := r.DB(ctx).Create(&row).Error
	if db.IsUniqueViolation(err, "") {
		return nil
	}
	return err
}

// ListDue returns up to limit rows scheduled at or before now. Rows with fewer
// failed attempts come first, then the earliest scheduled, so keys that keep
// failing sink behind the rest of the backlog.
func (r *Repository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.PendingMediaDeletion, error) {
	var rows []models.PendingMediaDeletion
	err := r.DB(ctx).
		Where("scheduled_for <= ?", now).
		Order("attempt_count ASC").
		Order("scheduled_for ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// CountDue counts every row scheduled at or before now.
func (r *Repository) CountDue(ctx context.Context, now time.Time) (int64, error) {
	var total int64
	err := r.DB(ctx).
		Model(&models.PendingMediaDeletion{}).
		Where("scheduled_for <= ?", now).
		Count(&total).Error
	return total, err
}

// Delete removes the row once its object is gone. A missing row is not an error.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.DB(ctx).Delete(&models.PendingMediaDeletion{}, "id = ?", id).Error
}

// RecordFailure keeps the row for the next run and notes why this one failed.
func (r *Repository) RecordFailure(ctx context.Context, id uuid.UUID, reason string) error {
	return r.DB(ctx).
		Model(&models.PendingMediaDeletion{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"last_error":    reason,
		}).Error
}
