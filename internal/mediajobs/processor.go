package mediajobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/dropline-backend/internal/transcode"
	"github.com/angelmondragon/dropline-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/dropline-backend/pkg/errors"
	"github.com/angelmondragon/dropline-backend/pkg/logger"
	"github.com/angelmondragon/dropline-backend/pkg/queue"
)

type lifecycle interface {
	Start(ctx context.Context, id uuid.UUID) (*models.MediaJob, error)
	ReportProgress(ctx context.Context, id uuid.UUID, pct int) error
	Complete(ctx context.Context, id uuid.UUID, out Output, postID *uuid.UUID) (*models.MediaJob, error)
	Fail(ctx context.Context, id uuid.UUID, reason string) (*models.MediaJob, error)
	RecordRetry(ctx context.Context, id uuid.UUID, reason string) error
}

// Processor is the queue handler for TaskTranscode. It drives the job through
// the state machine around one transcoder call per attempt.
type Processor struct {
	jobs       lifecycle
	transcoder transcode.Transcoder
	logg       *logger.Logger
}

var (
	_ queue.Handler         = (*Processor)(nil)
	_ queue.RetryObserver   = (*Processor)(nil)
	_ queue.FailureObserver = (*Processor)(nil)
)

func NewProcessor(jobs lifecycle, transcoder transcode.Transcoder, logg *logger.Logger) (*Processor, error) {
	if jobs == nil {
		return nil, fmt.Errorf("media job service required")
	}
	if transcoder == nil {
		return nil, fmt.Errorf("transcoder required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Processor{jobs: jobs, transcoder: transcoder, logg: logg}, nil
}

// CompletedResult is stored as the queue task result.
type CompletedResult struct {
	MediaJobID uuid.UUID `json:"mediaJobId"`
	OutputURL  string    `json:"outputUrl,omitempty"`
	Skipped    bool      `json:"skipped,omitempty"`
}

func (p *Processor) Handle(ctx context.Context, task *queue.Task, progress queue.ProgressFunc) (any, error) {
	if task.Name != TaskTranscode {
		return nil, fmt.Errorf("%w: unexpected task %q", queue.ErrUnrecoverable, task.Name)
	}
	var payload TranscodePayload
	if err := task.Decode(&payload); err != nil {
		return nil, err
	}
	if payload.MediaJobID == uuid.Nil {
		return nil, fmt.Errorf("%w: payload missing media job id", queue.ErrUnrecoverable)
	}
	ctx = p.logg.WithMediaJobID(ctx, payload.MediaJobID.String())

	job, err := p.jobs.Start(ctx, payload.MediaJobID)
	switch {
	case errors.Is(err, ErrInvalidTransition):
		p.logg.Info(ctx, "media job already terminal, acknowledging task")
		return CompletedResult{MediaJobID: payload.MediaJobID, Skipped: true}, nil
	case errors.Is(err, ErrJobNotFound):
		return nil, fmt.Errorf("%w: %v", queue.ErrUnrecoverable, err)
	case err != nil:
		return nil, err
	}

	report := func(pct int) {
		if err := p.jobs.ReportProgress(ctx, job.ID, pct); err != nil {
			p.logg.Warn(p.logg.WithField(ctx, "error", err.Error()), "media job progress update failed")
		}
		if progress != nil {
			progress(ctx, pct)
		}
	}

	out, err := p.transcoder.Transcode(ctx, transcode.Request{
		MediaJobID: job.ID,
		RawURL:     job.RawURL,
		Kind:       job.Kind,
		Tier:       job.Tier,
		SizeBytes:  job.RawSizeBytes,
	}, report)
	if err != nil {
		if errors.Is(err, transcode.ErrUnprocessable) {
			return nil, fmt.Errorf("%w: %v", queue.ErrUnrecoverable, err)
		}
		return nil, err
	}

	completed, err := p.jobs.Complete(ctx, job.ID, Output{
		URL:             out.OutputURL,
		DurationSeconds: out.DurationSeconds,
		Width:           out.Width,
		Height:          out.Height,
	}, nil)
	if err != nil {
		if !pkgerrors.Retryable(err) {
			return nil, fmt.Errorf("%w: %v", queue.ErrUnrecoverable, err)
		}
		return nil, err
	}

	p.logg.Info(p.logg.WithField(ctx, "attempt_count", completed.AttemptCount), "media job completed")
	return CompletedResult{MediaJobID: completed.ID, OutputURL: out.OutputURL}, nil
}

// OnRetry keeps the failed attempt's error on the job while it stays processing.
func (p *Processor) OnRetry(ctx context.Context, task *queue.Task, cause error) {
	id, ok := jobIDFromTask(task)
	if !ok {
		return
	}
	if err := p.jobs.RecordRetry(ctx, id, cause.Error()); err != nil {
		p.logg.Error(p.logg.WithMediaJobID(ctx, id.String()), "record media job retry failed", err)
	}
}

// OnFailed moves the job to failed once the queue gives up.
func (p *Processor) OnFailed(ctx context.Context, task *queue.Task, cause error) {
	id, ok := jobIDFromTask(task)
	if !ok {
		return
	}
	ctx = p.logg.WithMediaJobID(ctx, id.String())
	if _, err := p.jobs.Fail(ctx, id, cause.Error()); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			p.logg.Warn(ctx, "media job not processing, failure not recorded")
			return
		}
		p.logg.Error(ctx, "mark media job failed", err)
	}
}

func jobIDFromTask(task *queue.Task) (uuid.UUID, bool) {
	var payload TranscodePayload
	if err := task.Decode(&payload); err != nil || payload.MediaJobID == uuid.Nil {
		return uuid.Nil, false
	}
	return payload.MediaJobID, true
}
