// Package transcode defines the contract between the worker and whatever turns a raw
// upload into a playable asset.
package transcode

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/angelmondragon/dropline-backend/pkg/enums"
)

// ErrUnprocessable means the input itself is bad; retrying cannot help.
var ErrUnprocessable = errors.New("media cannot be processed")

type Request struct {
	MediaJobID uuid.UUID       `json:"mediaJobId"`
	RawURL     string          `json:"rawUrl"`
	Kind       enums.MediaKind `json:"kind"`
	Tier       enums.UserTier  `json:"tier"`
	SizeBytes  int64           `json:"sizeBytes"`
}

type Output struct {
	OutputURL       string  `json:"outputUrl"`
	DurationSeconds float64 `json:"durationSeconds"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
}

// Transcoder processes one request. progress receives 0..100 values in any order.
type Transcoder interface {
	Transcode(ctx context.Context, req Request, progress func(pct int)) (Output, error)
}
