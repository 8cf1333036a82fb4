package mediajobs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/dropline-backend/pkg/db/models"
	"github.com/angelmondragon/dropline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dropline-backend/pkg/errors"
	"github.com/angelmondragon/dropline-backend/pkg/logger"
	"github.com/angelmondragon/dropline-backend/pkg/metrics"
	"github.com/angelmondragon/dropline-backend/pkg/outbox"
	"github.com/angelmondragon/dropline-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/dropline-backend/pkg/queue"
)

const maxErrorLen = 2048

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type jobRepository interface {
	Create(ctx context.Context, job *models.MediaJob) error
	FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.MediaJob, error)
	MarkProcessing(ctx context.Context, tx *gorm.DB, id uuid.UUID, now time.Time) (bool, error)
	UpdateProgress(ctx context.Context, id uuid.UUID, pct int, now time.Time) (bool, error)
	MarkCompleted(ctx context.Context, tx *gorm.DB, id uuid.UUID, out Output, postID *uuid.UUID, now time.Time) (bool, error)
	MarkFailed(ctx context.Context, tx *gorm.DB, id uuid.UUID, reason string, now time.Time) (bool, error)
	RecordError(ctx context.Context, id uuid.UUID, reason string, now time.Time) (bool, error)
}

// Output is what a finished transcode produced.
type Output struct {
	URL             string
	DurationSeconds float64
	Width           int
	Height          int
}

// CreateInput describes a raw upload that needs asynchronous processing.
type CreateInput struct {
	UserID    uuid.UUID
	Tier      enums.UserTier
	Kind      enums.MediaKind
	RawKey    string
	RawURL    string
	SizeBytes int64
}

type ServiceParams struct {
	DB      txRunner
	Repo    jobRepository
	Outbox  eventEmitter
	Queue   queue.Producer
	Logger  *logger.Logger
	Metrics *metrics.PipelineMetrics
}

// Service owns every media job state transition.
type Service struct {
	db      txRunner
	repo    jobRepository
	outbox  eventEmitter
	queue   queue.Producer
	logg    *logger.Logger
	metrics *metrics.PipelineMetrics
	now     func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("media job repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{
		db:      params.DB,
		repo:    params.Repo,
		outbox:  params.Outbox,
		queue:   params.Queue,
		logg:    params.Logger,
		metrics: params.Metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// CreatePending persists a new pending job with zero progress.
func (s *Service) CreatePending(ctx context.Context, input CreateInput) (*models.MediaJob, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user identity missing")
	}
	if input.Kind.Processing() != enums.ProcessingAsync {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("media kind %q is not processed asynchronously", input.Kind))
	}
	if strings.TrimSpace(input.RawKey) == "" || strings.TrimSpace(input.RawURL) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "raw upload location missing")
	}
	tier := input.Tier
	if !tier.IsValid() {
		tier = enums.UserTierFree
	}

	now := s.now()
	job := &models.MediaJob{
		ID:           uuid.New(),
		UserID:       input.UserID,
		Tier:         tier,
		Kind:         input.Kind,
		RawKey:       input.RawKey,
		RawURL:       input.RawURL,
		RawSizeBytes: input.SizeBytes,
		State:        enums.MediaJobStatePending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create media job")
	}
	return job, nil
}

// Get loads a job by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.MediaJob, error) {
	return s.repo.FindByID(ctx, nil, id)
}

// Start marks the job as being worked on and counts the attempt. A terminal job
// yields ErrInvalidTransition so the caller can acknowledge the task without work.
func (s *Service) Start(ctx context.Context, id uuid.UUID) (*models.MediaJob, error) {
	var job *models.MediaJob
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.repo.MarkProcessing(ctx, tx, id, s.now())
		if err != nil {
			return err
		}
		current, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: start from %s", ErrInvalidTransition, current.State)
		}
		job = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ReportProgress records pct while the job is processing. Stale or out-of-order
// reports are dropped silently.
func (s *Service) ReportProgress(ctx context.Context, id uuid.UUID, pct int) error {
	if pct < 0 || pct > 100 {
		return pkgerrors.New(pkgerrors.CodeValidation, "progress must be between 0 and 100")
	}
	applied, err := s.repo.UpdateProgress(ctx, id, pct, s.now())
	if err != nil {
		return err
	}
	if !applied {
		s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
			"media_job_id": id.String(),
			"progress":     pct,
		}), "media job progress ignored")
	}
	return nil
}

// Complete validates out and moves the job to completed together with its output
// and a media_job_completed outbox event.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, out Output, postID *uuid.UUID) (*models.MediaJob, error) {
	var job *models.MediaJob
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		current, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.State != enums.MediaJobStateProcessing {
			return fmt.Errorf("%w: complete from %s", ErrInvalidTransition, current.State)
		}
		normalized, err := validateOutput(current.Kind, out)
		if err != nil {
			return err
		}

		now := s.now()
		ok, err := s.repo.MarkCompleted(ctx, tx, id, normalized, postID, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: job left processing concurrently", ErrInvalidTransition)
		}
		if job, err = s.repo.FindByID(ctx, tx, id); err != nil {
			return err
		}
		if !job.HasCompleteOutput() {
			return fmt.Errorf("%w: stored row is missing output", ErrIncompleteOutput)
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventMediaJobCompleted,
			AggregateType: enums.AggregateMediaJob,
			AggregateID:   job.ID,
			OccurredAt:    now,
			Data: payloads.MediaJobCompletedEvent{
				MediaJobID:      job.ID,
				UserID:          job.UserID,
				Kind:            job.Kind,
				OutputURL:       *job.OutputURL,
				DurationSeconds: *job.DurationSeconds,
				Width:           *job.Width,
				Height:          *job.Height,
				PostID:          job.PostID,
				AttemptCount:    job.AttemptCount,
				CompletedAt:     now,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncJobOutcome(job.Kind.String(), string(enums.MediaJobStateCompleted))
	return job, nil
}

// Fail moves the job to failed and emits media_job_failed. Failing a job that is
// already terminal returns ErrInvalidTransition.
func (s *Service) Fail(ctx context.Context, id uuid.UUID, reason string) (*models.MediaJob, error) {
	reason = truncate(reason)
	var job *models.MediaJob
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		now := s.now()
		ok, err := s.repo.MarkFailed(ctx, tx, id, reason, now)
		if err != nil {
			return err
		}
		current, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: fail from %s", ErrInvalidTransition, current.State)
		}
		job = current

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventMediaJobFailed,
			AggregateType: enums.AggregateMediaJob,
			AggregateID:   job.ID,
			OccurredAt:    now,
			Data: payloads.MediaJobFailedEvent{
				MediaJobID:   job.ID,
				UserID:       job.UserID,
				Kind:         job.Kind,
				Error:        reason,
				AttemptCount: job.AttemptCount,
				FailedAt:     now,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncJobOutcome(job.Kind.String(), string(enums.MediaJobStateFailed))
	return job, nil
}

// RecordRetry keeps the last attempt error visible while the queue backs off.
func (s *Service) RecordRetry(ctx context.Context, id uuid.UUID, reason string) error {
	if _, err := s.repo.RecordError(ctx, id, truncate(reason), s.now()); err != nil {
		return err
	}
	s.metrics.IncJobRetry()
	return nil
}

// StatusView is the pollable projection of a job.
type StatusView struct {
	ID              uuid.UUID           `json:"id"`
	Kind            enums.MediaKind     `json:"kind"`
	State           enums.MediaJobState `json:"state"`
	Progress        int                 `json:"progress"`
	AttemptCount    int                 `json:"attemptCount"`
	OutputURL       *string             `json:"outputUrl,omitempty"`
	DurationSeconds *float64            `json:"durationSeconds,omitempty"`
	Width           *int                `json:"width,omitempty"`
	Height          *int                `json:"height,omitempty"`
	PostID          *uuid.UUID          `json:"postId,omitempty"`
	Error           *string             `json:"error,omitempty"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
	Queue           *queue.Status       `json:"queue,omitempty"`
}

// Status returns the job view for its owner. Jobs owned by someone else look absent.
// When withQueue is set the queue's own status is attached on a best-effort basis.
func (s *Service) Status(ctx context.Context, id, ownerID uuid.UUID, withQueue bool) (*StatusView, error) {
	job, err := s.repo.FindByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if ownerID != uuid.Nil && job.UserID != ownerID {
		return nil, ErrJobNotFound
	}

	view := NewStatusView(job)
	if withQueue && s.queue != nil && job.QueueJobID != nil {
		status, err := s.queue.GetStatus(ctx, *job.QueueJobID)
		switch {
		case err == nil:
			view.Queue = status
		case errors.Is(err, queue.ErrTaskNotFound):
		default:
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"media_job_id": id.String(),
				"error":        err.Error(),
			}), "queue status lookup failed")
		}
	}
	return view, nil
}

func NewStatusView(job *models.MediaJob) *StatusView {
	return &StatusView{
		ID:              job.ID,
		Kind:            job.Kind,
		State:           job.State,
		Progress:        job.Progress,
		AttemptCount:    job.AttemptCount,
		OutputURL:       job.OutputURL,
		DurationSeconds: job.DurationSeconds,
		Width:           job.Width,
		Height:          job.Height,
		PostID:          job.PostID,
		Error:           job.LastError,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
	}
}

// validateOutput rejects output that would break the completed-row invariant.
// Audio has no frame, so its dimensions are stored as zero.
func validateOutput(kind enums.MediaKind, out Output) (Output, error) {
	out.URL = strings.TrimSpace(out.URL)
	if out.URL == "" {
		return out, fmt.Errorf("%w: output url is empty", ErrIncompleteOutput)
	}
	if math.IsNaN(out.DurationSeconds) || math.IsInf(out.DurationSeconds, 0) || out.DurationSeconds <= 0 {
		return out, fmt.Errorf("%w: duration must be positive", ErrIncompleteOutput)
	}
	if out.Width < 0 || out.Height < 0 {
		return out, fmt.Errorf("%w: dimensions must not be negative", ErrIncompleteOutput)
	}
	if kind.HasDimensions() {
		if out.Width == 0 || out.Height == 0 {
			return out, fmt.Errorf("%w: %s output needs width and height", ErrIncompleteOutput, kind)
		}
		return out, nil
	}
	out.Width, out.Height = 0, 0
	return out, nil
}

func truncate(reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "unknown error"
	}
	if len(reason) > maxErrorLen {
		return reason[:maxErrorLen]
	}
	return reason
}
