package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/dropline-backend/pkg/enums"
)

// MediaJob tracks one asynchronous transcoding request from creation to a terminal state.
// Output columns are all null unless State is completed.
type MediaJob struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	UserID          uuid.UUID           `gorm:"column:user_id;type:uuid;not null;index"`
	Tier            enums.UserTier      `gorm:"column:tier;type:text;not null"`
	Kind            enums.MediaKind     `gorm:"column:kind;type:text;not null"`
	RawKey          string              `gorm:"column:raw_key;type:text;not null"`
	RawURL          string              `gorm:"column:raw_url;type:text;not null"`
	RawSizeBytes    int64               `gorm:"column:raw_size_bytes;not null;default:0"`
	State           enums.MediaJobState `gorm:"column:state;type:text;not null;index"`
	Progress        int                 `gorm:"column:progress;not null;default:0"`
	AttemptCount    int                 `gorm:"column:attempt_count;not null;default:0"`
	LastError       *string             `gorm:"column:last_error;type:text"`
	QueueJobID      *string             `gorm:"column:queue_job_id;type:text"`
	OutputURL       *string             `gorm:"column:output_url;type:text"`
	DurationSeconds *float64            `gorm:"column:duration_seconds"`
	Width           *int                `gorm:"column:width"`
	Height          *int                `gorm:"column:height"`
	PostID          *uuid.UUID          `gorm:"column:post_id;type:uuid;index"`
	StartedAt       *time.Time          `gorm:"column:started_at"`
	CompletedAt     *time.Time          `gorm:"column:completed_at"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (MediaJob) TableName() string { return "media_jobs" }

// HasCompleteOutput reports whether all four output columns are populated.
func (m MediaJob) HasCompleteOutput() bool {
	return m.OutputURL != nil && m.DurationSeconds != nil && m.Width != nil && m.Height != nil
}

// HasAnyOutput reports whether any output column is populated.
func (m MediaJob) HasAnyOutput() bool {
	return m.OutputURL != nil || m.DurationSeconds != nil || m.Width != nil || m.Height != nil
}
