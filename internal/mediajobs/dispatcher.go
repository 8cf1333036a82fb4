package mediajobs

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/dropline-backend/pkg/db/models"
	"github.com/angelmondragon/dropline-backend/pkg/enums"
	"github.com/angelmondragon/dropline-backend/pkg/queue"
)

// TaskTranscode is the queue task name consumed by the worker.
const TaskTranscode = "media.transcode"

// TranscodePayload is the task body placed on the queue.
type TranscodePayload struct {
	MediaJobID uuid.UUID       `json:"mediaJobId"`
	RawURL     string          `json:"rawUrl"`
	Kind       enums.MediaKind `json:"kind"`
	Tier       enums.UserTier  `json:"tier"`
	SizeBytes  int64           `json:"sizeBytes"`
}

type queueIDRecorder interface {
	SetQueueJobID(ctx context.Context, id uuid.UUID, queueJobID string) error
}

// Dispatcher hands persisted jobs to the queue.
type Dispatcher struct {
	queue queue.Producer
	repo  queueIDRecorder
}

func NewDispatcher(producer queue.Producer, repo queueIDRecorder) (*Dispatcher, error) {
	if producer == nil {
		return nil, fmt.Errorf("queue producer required")
	}
	if repo == nil {
		return nil, fmt.Errorf("media job repository required")
	}
	return &Dispatcher{queue: producer, repo: repo}, nil
}

// Dispatch enqueues the job and records the queue task id on the row. The row
// must already exist so a failed enqueue leaves something to recover.
func (d *Dispatcher) Dispatch(ctx context.Context, job *models.MediaJob) (string, error) {
	taskID, err := d.queue.Enqueue(ctx, TaskTranscode, TranscodePayload{
		MediaJobID: job.ID,
		RawURL:     job.RawURL,
		Kind:       job.Kind,
		Tier:       job.Tier,
		SizeBytes:  job.RawSizeBytes,
	})
	if err != nil {
		return "", fmt.Errorf("enqueue media job %s: %w", job.ID, err)
	}
	if err := d.repo.SetQueueJobID(ctx, job.ID, taskID); err != nil {
		return taskID, fmt.Errorf("record queue task for media job %s: %w", job.ID, err)
	}
	return taskID, nil
}
