package models

import (
	"time"

	"github.com/google/uuid"
)

// PendingMediaDeletion marks an object-store key that is not yet guaranteed deleted.
type PendingMediaDeletion struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	StorageKey   string    `gorm:"column:storage_key;type:text;not null;uniqueIndex:ux_pending_media_deletions_storage_key"`
	ScheduledFor time.Time `gorm:"column:scheduled_for;not null;index"`
	AttemptCount int       `gorm:"column:attempt_count;not null;default:0"`
	LastError    *string   `gorm:"column:last_error;type:text"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (PendingMediaDeletion) TableName() string { return "pending_media_deletions" }
