// Package pipeline assembles the media job services shared by the api, worker,
// cron-worker and sweep binaries.
package pipeline

import (
	"errors"

	"github.com/angelmondragon/dropline-backend/internal/deletions"
	"github.com/angelmondragon/dropline-backend/internal/mediajobs"
	"github.com/angelmondragon/dropline-backend/internal/posts"
	"github.com/angelmondragon/dropline-backend/internal/sweepers"
	"github.com/angelmondragon/dropline-backend/internal/uploads"
	"github.com/angelmondragon/dropline-backend/pkg/config"
	"github.com/angelmondragon/dropline-backend/pkg/db"
	"github.com/angelmondragon/dropline-backend/pkg/logger"
	"github.com/angelmondragon/dropline-backend/pkg/metrics"
	"github.com/angelmondragon/dropline-backend/pkg/outbox"
	"github.com/angelmondragon/dropline-backend/pkg/queue"
	"github.com/angelmondragon/dropline-backend/pkg/storage"
)

type Params struct {
	Config  *config.Config
	Logger  *logger.Logger
	DB      *db.Client
	Queue   queue.Producer
	Store   storage.ObjectStore
	Metrics *metrics.PipelineMetrics
}

// Pipeline holds the wired services.
type Pipeline struct {
	Jobs       *mediajobs.Service
	JobRepo    *mediajobs.Repository
	Dispatcher *mediajobs.Dispatcher
	Uploads    uploads.Service
	Sweepers   *sweepers.Service
	Outbox     *outbox.Repository
}

func New(params Params) (*Pipeline, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Queue == nil {
		return nil, errors.New("queue producer is required")
	}
	if params.Store == nil {
		return nil, errors.New("object store is required")
	}

	conn := params.DB.DB()
	outboxRepo := outbox.NewRepository(conn)
	events := outbox.NewService(outboxRepo, params.Logger, params.Config.Service.Kind)
	jobRepo := mediajobs.NewRepository(conn)

	jobs, err := mediajobs.NewService(mediajobs.ServiceParams{
		DB:      params.DB,
		Repo:    jobRepo,
		Outbox:  events,
		Queue:   params.Queue,
		Logger:  params.Logger,
		Metrics: params.Metrics,
	})
	if err != nil {
		return nil, err
	}

	dispatcher, err := mediajobs.NewDispatcher(params.Queue, jobRepo)
	if err != nil {
		return nil, err
	}

	finalizer, err := uploads.NewService(uploads.ServiceParams{
		Jobs:       jobs,
		Dispatcher: dispatcher,
		Store:      params.Store,
		Limits:     uploads.LimitsFromConfig(params.Config.Media),
		Logger:     params.Logger,
		Metrics:    params.Metrics,
	})
	if err != nil {
		return nil, err
	}

	sweeps, err := sweepers.New(sweepers.Params{
		DB:                params.DB,
		Outbox:            events,
		Jobs:              jobRepo,
		Posts:             posts.NewRepository(conn),
		Deletions:         deletions.NewRepository(conn),
		Store:             params.Store,
		Queue:             params.Queue,
		Dispatcher:        dispatcher,
		Logger:            params.Logger,
		Metrics:           params.Metrics,
		DeletionBatchSize: params.Config.Sweepers.DeletionBatchSize,
		StalePendingAge:   params.Config.Sweepers.StalePendingAge,
		StaleBatchSize:    params.Config.Sweepers.StalePendingBatchSize,
	})
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		Jobs:       jobs,
		JobRepo:    jobRepo,
		Dispatcher: dispatcher,
		Uploads:    finalizer,
		Sweepers:   sweeps,
		Outbox:     outboxRepo,
	}, nil
}
