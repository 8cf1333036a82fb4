package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/dropline-backend/pkg/enums"
)

type Album struct {
	ID           uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	UserID       uuid.UUID        `gorm:"column:user_id;type:uuid;not null"`
	Title        string           `gorm:"column:title;type:text;not null;default:''"`
	Status       enums.PostStatus `gorm:"column:status;type:text;not null"`
	ScheduledFor *time.Time       `gorm:"column:scheduled_for"`
	DroppedAt    *time.Time       `gorm:"column:dropped_at"`
	CreatedAt    time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (Album) TableName() string { return "albums" }
