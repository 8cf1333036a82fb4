package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/dropline-backend/pkg/enums"
)

// MediaJobCompletedEvent announces that processed output is ready.
type MediaJobCompletedEvent struct {
	MediaJobID      uuid.UUID       `json:"media_job_id"`
	UserID          uuid.UUID       `json:"user_id"`
	Kind            enums.MediaKind `json:"kind"`
	OutputURL       string          `json:"output_url"`
	DurationSeconds float64         `json:"duration_seconds"`
	Width           int             `json:"width"`
	Height          int             `json:"height"`
	PostID          *uuid.UUID      `json:"post_id,omitempty"`
	AttemptCount    int             `json:"attempt_count"`
	CompletedAt     time.Time       `json:"completed_at"`
}

// MediaJobFailedEvent tells the owner their upload could not be processed.
type MediaJobFailedEvent struct {
	MediaJobID   uuid.UUID       `json:"media_job_id"`
	UserID       uuid.UUID       `json:"user_id"`
	Kind         enums.MediaKind `json:"kind"`
	Error        string          `json:"error"`
	AttemptCount int             `json:"attempt_count"`
	FailedAt     time.Time       `json:"failed_at"`
}

// MediaJobLinkedEvent is emitted when a sweeper attaches an orphan job to a post.
type MediaJobLinkedEvent struct {
	MediaJobID uuid.UUID `json:"media_job_id"`
	PostID     uuid.UUID `json:"post_id"`
	LinkedAt   time.Time `json:"linked_at"`
}
