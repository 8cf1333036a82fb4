package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/dropline-backend/pkg/enums"
)

// Post carries only the columns the media pipeline reads or writes.
type Post struct {
	ID                   uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	UserID               uuid.UUID        `gorm:"column:user_id;type:uuid;not null"`
	Status               enums.PostStatus `gorm:"column:status;type:text;not null"`
	ScheduledFor         *time.Time       `gorm:"column:scheduled_for"`
	DroppedAt            *time.Time       `gorm:"column:dropped_at"`
	MediaURL             *string          `gorm:"column:media_url;type:text;index"`
	MediaDurationSeconds *float64         `gorm:"column:media_duration_seconds"`
	MediaWidth           *int             `gorm:"column:media_width"`
	MediaHeight          *int             `gorm:"column:media_height"`
	CreatedAt            time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (Post) TableName() string { return "posts" }

// MissingMedia reports whether any denormalized media field is still null.
func (p Post) MissingMedia() bool {
	return p.MediaDurationSeconds == nil || p.MediaWidth == nil || p.MediaHeight == nil
}
