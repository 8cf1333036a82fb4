// Package sweepers holds the idempotent batch procedures that repair or advance
// pipeline state outside of any user request. Every mutation is conditioned on a
// "not done yet" predicate, so overlapping runs are harmless.
package sweepers

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/dropline-backend/internal/mediajobs"
	"github.com/angelmondragon/dropline-backend/internal/posts"
	"github.com/angelmondragon/dropline-backend/pkg/db/models"
	"github.com/angelmondragon/dropline-backend/pkg/logger"
	"github.com/angelmondragon/dropline-backend/pkg/metrics"
	"github.com/angelmondragon/dropline-backend/pkg/outbox"
	"github.com/angelmondragon/dropline-backend/pkg/queue"
)

const (
	defaultScanBatch         = 200
	defaultDeletionBatchSize = 50
	defaultStalePendingAge   = 15 * time.Minute
	defaultStaleBatchSize    = 100
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type jobStore interface {
	ListOrphans(ctx context.Context, after uuid.UUID, limit int) ([]models.MediaJob, error)
	LinkPost(ctx context.Context, tx *gorm.DB, id, postID uuid.UUID, now time.Time) (bool, error)
	ListBackfillCandidates(ctx context.Context, after uuid.UUID, limit int) ([]models.MediaJob, error)
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.MediaJob, error)
	Counts(ctx context.Context) (mediajobs.Counts, error)
}

type postStore interface {
	FindIDByMediaURL(ctx context.Context, url string) (uuid.UUID, bool, error)
	FillMissingMedia(ctx context.Context, tx *gorm.DB, postID uuid.UUID, media posts.Media, now time.Time) (bool, error)
	PublishDuePosts(ctx context.Context, now time.Time) (int64, error)
	PublishDueAlbums(ctx context.Context, now time.Time) (int64, error)
	CountScheduledPosts(ctx context.Context, now time.Time) (posts.ScheduleCounts, error)
	CountScheduledAlbums(ctx context.Context, now time.Time) (posts.ScheduleCounts, error)
}

type deletionStore interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.PendingMediaDeletion, error)
	CountDue(ctx context.Context, now time.Time) (int64, error)
	Delete(ctx context.Context, id uuid.UUID) error
	RecordFailure(ctx context.Context, id uuid.UUID, reason string) error
}

type objectDeleter interface {
	DeleteObject(ctx context.Context, key string) error
}

type jobDispatcher interface {
	Dispatch(ctx context.Context, job *models.MediaJob) (string, error)
}

type Params struct {
	DB         txRunner
	Outbox     eventEmitter
	Jobs       jobStore
	Posts      postStore
	Deletions  deletionStore
	Store      objectDeleter
	Queue      queue.Producer
	Dispatcher jobDispatcher
	Logger     *logger.Logger
	Metrics    *metrics.PipelineMetrics

	DeletionBatchSize int
	StalePendingAge   time.Duration
	StaleBatchSize    int
}

// Service runs the sweepers. It is safe for concurrent use.
type Service struct {
	db         txRunner
	outbox     eventEmitter
	jobs       jobStore
	posts      postStore
	deletions  deletionStore
	store      objectDeleter
	queue      queue.Producer
	dispatcher jobDispatcher
	logg       *logger.Logger
	metrics    *metrics.PipelineMetrics

	deletionBatch int
	staleAge      time.Duration
	staleBatch    int
	scanBatch     int
	now           func() time.Time
}

func New(params Params) (*Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Jobs == nil {
		return nil, fmt.Errorf("media job repository required")
	}
	if params.Posts == nil {
		return nil, fmt.Errorf("post repository required")
	}
	if params.Deletions == nil {
		return nil, fmt.Errorf("pending deletion repository required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("object store required")
	}
	if params.Queue == nil {
		return nil, fmt.Errorf("queue producer required")
	}
	if params.Dispatcher == nil {
		return nil, fmt.Errorf("media job dispatcher required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}

	s := &Service{
		db:            params.DB,
		outbox:        params.Outbox,
		jobs:          params.Jobs,
		posts:         params.Posts,
		deletions:     params.Deletions,
		store:         params.Store,
		queue:         params.Queue,
		dispatcher:    params.Dispatcher,
		logg:          params.Logger,
		metrics:       params.Metrics,
		deletionBatch: params.DeletionBatchSize,
		staleAge:      params.StalePendingAge,
		staleBatch:    params.StaleBatchSize,
		scanBatch:     defaultScanBatch,
		now:           func() time.Time { return time.Now().UTC() },
	}
	if s.deletionBatch <= 0 {
		s.deletionBatch = defaultDeletionBatchSize
	}
	if s.staleAge <= 0 {
		s.staleAge = defaultStalePendingAge
	}
	if s.staleBatch <= 0 {
		s.staleBatch = defaultStaleBatchSize
	}
	return s, nil
}

// ItemError reports one item a sweep could not process; the sweep carries on.
type ItemError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}
