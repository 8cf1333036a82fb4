package uploads

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/angelmondragon/dropline-backend/internal/mediajobs"
	"github.com/angelmondragon/dropline-backend/pkg/config"
	"github.com/angelmondragon/dropline-backend/pkg/db/models"
	"github.com/angelmondragon/dropline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dropline-backend/pkg/errors"
	"github.com/angelmondragon/dropline-backend/pkg/logger"
	"github.com/angelmondragon/dropline-backend/pkg/metrics"
)

// StatusProcessing is returned for uploads handed to the worker.
const StatusProcessing = "processing"

const dispatchTimeout = 5 * time.Second

type jobCreator interface {
	CreatePending(ctx context.Context, input mediajobs.CreateInput) (*models.MediaJob, error)
}

type jobDispatcher interface {
	Dispatch(ctx context.Context, job *models.MediaJob) (string, error)
}

type urlIssuer interface {
	PublicURL(key string) string
}

// Service finalizes uploads that already landed in the object store.
type Service interface {
	Finalize(ctx context.Context, userID uuid.UUID, tier enums.UserTier, input FinalizeInput) (*FinalizeResult, error)
}

// FinalizeInput is the client's description of an uploaded object.
type FinalizeInput struct {
	Key       string
	Kind      enums.MediaKind
	SizeBytes int64
}

// FinalizeResult carries URL for synchronous kinds, JobID and Status otherwise.
type FinalizeResult struct {
	URL    string     `json:"url,omitempty"`
	JobID  *uuid.UUID `json:"jobId,omitempty"`
	Status string     `json:"status,omitempty"`
}

// Limits holds the maximum raw upload size per tier, in bytes.
type Limits map[enums.UserTier]uint64

// LimitsFromConfig converts the per-tier megabyte limits.
func LimitsFromConfig(cfg config.MediaConfig) Limits {
	return Limits{
		enums.UserTierFree: uint64(cfg.FreeMaxUploadMB) * humanize.MByte,
		enums.UserTierPlus: uint64(cfg.PlusMaxUploadMB) * humanize.MByte,
		enums.UserTierPro:  uint64(cfg.ProMaxUploadMB) * humanize.MByte,
	}
}

type ServiceParams struct {
	Jobs       jobCreator
	Dispatcher jobDispatcher
	Store      urlIssuer
	Limits     Limits
	Logger     *logger.Logger
	Metrics    *metrics.PipelineMetrics
}

type service struct {
	jobs       jobCreator
	dispatcher jobDispatcher
	store      urlIssuer
	limits     Limits
	logg       *logger.Logger
	metrics    *metrics.PipelineMetrics
}

func NewService(params ServiceParams) (Service, error) {
	if params.Jobs == nil {
		return nil, fmt.Errorf("media job service required")
	}
	if params.Dispatcher == nil {
		return nil, fmt.Errorf("media job dispatcher required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("object store required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		jobs:       params.Jobs,
		dispatcher: params.Dispatcher,
		store:      params.Store,
		limits:     params.Limits,
		logg:       params.Logger,
		metrics:    params.Metrics,
	}, nil
}

func (s *service) Finalize(ctx context.Context, userID uuid.UUID, tier enums.UserTier, input FinalizeInput) (*FinalizeResult, error) {
	key := strings.TrimLeft(strings.TrimSpace(input.Key), "/")
	if key == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "key is required")
	}
	if input.Kind == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "mediaKind is required")
	}
	if input.SizeBytes < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "fileSize must not be negative")
	}

	switch input.Kind.Processing() {
	case enums.ProcessingSync:
		s.metrics.IncFinalized(input.Kind.String())
		return &FinalizeResult{URL: s.store.PublicURL(key)}, nil
	case enums.ProcessingAsync:
		return s.finalizeAsync(ctx, userID, tier, key, input)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported media kind %q", input.Kind))
	}
}

func (s *service) finalizeAsync(ctx context.Context, userID uuid.UUID, tier enums.UserTier, key string, input FinalizeInput) (*FinalizeResult, error) {
	if !tier.IsValid() {
		tier = enums.UserTierFree
	}
	if limit, ok := s.limits[tier]; ok && limit > 0 && uint64(input.SizeBytes) > limit {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf(
			"file is %s, over the %s limit for the %s tier",
			humanize.Bytes(uint64(input.SizeBytes)), humanize.Bytes(limit), tier,
		))
	}

	job, err := s.jobs.CreatePending(ctx, mediajobs.CreateInput{
		UserID:    userID,
		Tier:      tier,
		Kind:      input.Kind,
		RawKey:    key,
		RawURL:    s.store.PublicURL(key),
		SizeBytes: input.SizeBytes,
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncFinalized(input.Kind.String())
	s.dispatch(ctx, job)

	return &FinalizeResult{JobID: &job.ID, Status: StatusProcessing}, nil
}

// dispatch hands the job to the queue. Failures are logged and counted only;
// the row stays pending and the stale-pending sweeper enqueues it again.
func (s *service) dispatch(ctx context.Context, job *models.MediaJob) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
	defer cancel()

	logCtx := s.logg.WithMediaJobID(ctx, job.ID.String())
	taskID, err := s.dispatcher.Dispatch(ctx, job)
	if err != nil {
		s.metrics.IncDispatchFailure()
		s.logg.Error(logCtx, "media job dispatch failed", err)
		return
	}
	s.logg.Info(s.logg.WithFields(logCtx, map[string]any{
		"task_id":    taskID,
		"kind":       job.Kind.String(),
		"size_human": humanize.Bytes(uint64(job.RawSizeBytes)),
	}), "media job dispatched")
}
