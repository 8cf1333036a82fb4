package sweepers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/dropline-backend/internal/deletions"
	"github.com/angelmondragon/dropline-backend/internal/mediajobs"
	"github.com/angelmondragon/dropline-backend/internal/posts"
	"github.com/angelmondragon/dropline-backend/pkg/db"
	"github.com/angelmondragon/dropline-backend/pkg/db/dbtest"
	"github.com/angelmondragon/dropline-backend/pkg/db/models"
	"github.com/angelmondragon/dropline-backend/pkg/enums"
	"github.com/angelmondragon/dropline-backend/pkg/logger"
	"github.com/angelmondragon/dropline-backend/pkg/outbox"
	"github.com/angelmondragon/dropline-backend/pkg/queue"
	"github.com/angelmondragon/dropline-backend/pkg/storage"
)

type fakeStore struct {
	mu      sync.Mutex
	missing map[string]bool
	failing map[string]error
	deleted []string
}

func (f *fakeStore) DeleteObject(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing[key]; err != nil {
		return err
	}
	if f.missing[key] {
		return fmt.Errorf("delete %s: %w", key, storage.ErrObjectNotFound)
	}
	f.deleted = append(f.deleted, key)
	return nil
}

type harness struct {
	conn      *gorm.DB
	svc       *Service
	jobs      *mediajobs.Repository
	deletions *deletions.Repository
	broker    *queue.MemoryBroker
	store     *fakeStore
	now       time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conn := dbtest.Open(t)
	jobs := mediajobs.NewRepository(conn)
	pending := deletions.NewRepository(conn)
	broker := queue.NewMemoryBroker(queue.DefaultOptions())
	dispatcher, err := mediajobs.NewDispatcher(broker, jobs)
	require.NoError(t, err)
	store := &fakeStore{missing: map[string]bool{}, failing: map[string]error{}}

	svc, err := New(Params{
		DB:         db.NewFromGorm(conn),
		Outbox:     outbox.NewService(outbox.NewRepository(conn), nil, "cron-worker"),
		Jobs:       jobs,
		Posts:      posts.NewRepository(conn),
		Deletions:  pending,
		Store:      store,
		Queue:      broker,
		Dispatcher: dispatcher,
		Logger:     logger.Nop(),
	})
	require.NoError(t, err)
	now := time.Now().UTC().Truncate(time.Second)
	svc.now = func() time.Time { return now }
	return &harness{conn: conn, svc: svc, jobs: jobs, deletions: pending, broker: broker, store: store, now: now}
}

func ptr[T any](v T) *T { return &v }

func (h *harness) completedJob(t *testing.T, kind enums.MediaKind, outputURL string, postID *uuid.UUID) models.MediaJob {
	t.Helper()
	width, height := 1080, 1920
	if !kind.HasDimensions() {
		width, height = 0, 0
	}
	job := models.MediaJob{
		ID:              uuid.New(),
		UserID:          uuid.New(),
		Tier:            enums.UserTierFree,
		Kind:            kind,
		RawKey:          "raw/" + uuid.NewString(),
		RawURL:          "https://storage.example.com/raw",
		State:           enums.MediaJobStateCompleted,
		Progress:        100,
		AttemptCount:    1,
		OutputURL:       ptr(outputURL),
		DurationSeconds: ptr(12.3),
		Width:           ptr(width),
		Height:          ptr(height),
		PostID:          postID,
	}
	require.NoError(t, h.conn.Create(&job).Error)
	return job
}

func (h *harness) pendingJob(t *testing.T, createdAt time.Time, queueJobID *string) models.MediaJob {
	t.Helper()
	job := models.MediaJob{
		ID:         uuid.New(),
		UserID:     uuid.New(),
		Tier:       enums.UserTierPro,
		Kind:       enums.MediaKindVideo,
		RawKey:     "raw/" + uuid.NewString(),
		RawURL:     "https://storage.example.com/raw",
		State:      enums.MediaJobStatePending,
		QueueJobID: queueJobID,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
	require.NoError(t, h.conn.Create(&job).Error)
	return job
}

func (h *harness) post(t *testing.T, post models.Post) models.Post {
	t.Helper()
	post.ID = uuid.New()
	post.UserID = uuid.New()
	if post.Status == "" {
		post.Status = enums.PostStatusPublished
	}
	require.NoError(t, h.conn.Create(&post).Error)
	return post
}

func (h *harness) reloadJob(t *testing.T, id uuid.UUID) models.MediaJob {
	t.Helper()
	var job models.MediaJob
	require.NoError(t, h.conn.First(&job, "id = ?", id).Error)
	return job
}

func (h *harness) reloadPost(t *testing.T, id uuid.UUID) models.Post {
	t.Helper()
	var post models.Post
	require.NoError(t, h.conn.First(&post, "id = ?", id).Error)
	return post
}

func TestLinkOrphansIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	post := h.post(t, models.Post{MediaURL: ptr("https://cdn.example.com/a.mp4")})
	matched := h.completedJob(t, enums.MediaKindVideo, "https://cdn.example.com/a.mp4", nil)
	unmatched := h.completedJob(t, enums.MediaKindVideo, "https://cdn.example.com/never-posted.mp4", nil)

	result, err := h.svc.LinkOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, LinkResult{LinkedCount: 1, UpdatedCount: 1, NotFoundCount: 1}, *result)

	linked := h.reloadJob(t, matched.ID)
	require.NotNil(t, linked.PostID)
	assert.Equal(t, post.ID, *linked.PostID)
	assert.Nil(t, h.reloadJob(t, unmatched.ID).PostID)
	stored := h.reloadPost(t, post.ID)
	assert.Equal(t, 12.3, *stored.MediaDurationSeconds)
	assert.Equal(t, 1920, *stored.MediaHeight)

	var events int64
	require.NoError(t, h.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventMediaJobLinked).Count(&events).Error)
	assert.EqualValues(t, 1, events)

	for i := 0; i < 2; i++ {
		again, err := h.svc.LinkOrphans(ctx)
		require.NoError(t, err)
		assert.Equal(t, LinkResult{NotFoundCount: 1}, *again)
	}
	assert.Nil(t, h.reloadJob(t, unmatched.ID).PostID)
	require.NoError(t, h.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventMediaJobLinked).Count(&events).Error)
	assert.EqualValues(t, 1, events)
}

func TestLinkOrphansPagesPastUnmatchedJobs(t *testing.T) {
	h := newHarness(t)
	h.svc.scanBatch = 2
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		h.completedJob(t, enums.MediaKindAudio, fmt.Sprintf("https://cdn.example.com/orphan-%d.m4a", i), nil)
	}
	post := h.post(t, models.Post{MediaURL: ptr("https://cdn.example.com/match.m4a")})
	job := h.completedJob(t, enums.MediaKindAudio, "https://cdn.example.com/match.m4a", nil)

	result, err := h.svc.LinkOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.LinkedCount)
	assert.Equal(t, 5, result.NotFoundCount)
	assert.Equal(t, post.ID, *h.reloadJob(t, job.ID).PostID)
	assert.Equal(t, 0, *h.reloadPost(t, post.ID).MediaWidth)
}

func TestBackfillNeverOverwrites(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	partial := h.post(t, models.Post{MediaWidth: ptr(640)})
	full := h.post(t, models.Post{MediaDurationSeconds: ptr(3.0), MediaWidth: ptr(1), MediaHeight: ptr(1)})
	h.completedJob(t, enums.MediaKindVideo, "https://cdn.example.com/p.mp4", &partial.ID)
	h.completedJob(t, enums.MediaKindVideo, "https://cdn.example.com/f.mp4", &full.ID)

	result, err := h.svc.BackfillMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, BackfillResult{UpdatedCount: 1}, *result)

	stored := h.reloadPost(t, partial.ID)
	assert.Equal(t, 640, *stored.MediaWidth)
	assert.Equal(t, 1920, *stored.MediaHeight)
	assert.Equal(t, 12.3, *stored.MediaDurationSeconds)
	untouched := h.reloadPost(t, full.ID)
	assert.Equal(t, 3.0, *untouched.MediaDurationSeconds)

	again, err := h.svc.BackfillMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, BackfillResult{}, *again)
}

func TestBackfillSkipsSecondJobForSamePost(t *testing.T) {
	h := newHarness(t)
	post := h.post(t, models.Post{})
	h.completedJob(t, enums.MediaKindVideo, "https://cdn.example.com/1.mp4", &post.ID)
	h.completedJob(t, enums.MediaKindVideo, "https://cdn.example.com/2.mp4", &post.ID)

	result, err := h.svc.BackfillMetadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.UpdatedCount)
	assert.Equal(t, 1, result.SkippedCount)
}

func TestSweepDeletionsDrainsInBatches(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 120; i++ {
		require.NoError(t, h.deletions.Schedule(ctx, fmt.Sprintf("media/%03d", i), h.now.Add(-time.Duration(120-i)*time.Minute)))
	}
	require.NoError(t, h.deletions.Schedule(ctx, "media/later", h.now.Add(time.Hour)))

	var remaining []int64
	for run := 0; run < 3; run++ {
		result, err := h.svc.SweepDeletions(ctx)
		require.NoError(t, err)
		assert.Empty(t, result.Errors)
		assert.LessOrEqual(t, result.DeletedCount, 50)
		remaining = append(remaining, result.RemainingCount)
	}
	assert.Equal(t, []int64{70, 20, 0}, remaining)
	assert.Len(t, h.store.deleted, 120)
	assert.Equal(t, "media/000", h.store.deleted[0])

	var left int64
	require.NoError(t, h.conn.Model(&models.PendingMediaDeletion{}).Count(&left).Error)
	assert.EqualValues(t, 1, left)
}

func TestSweepDeletionsTreatsMissingObjectAsDeleted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.deletions.Schedule(ctx, "media/gone", h.now.Add(-time.Hour)))
	require.NoError(t, h.deletions.Schedule(ctx, "media/locked", h.now.Add(-time.Minute)))
	require.NoError(t, h.deletions.Schedule(ctx, "media/ok", h.now))
	h.store.missing["media/gone"] = true
	h.store.failing["media/locked"] = errors.New("permission denied")

	result, err := h.svc.SweepDeletions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.DeletedCount)
	assert.Equal(t, []KeyError{{Key: "media/locked", Error: "permission denied"}}, result.Errors)
	assert.EqualValues(t, 1, result.RemainingCount)

	var row models.PendingMediaDeletion
	require.NoError(t, h.conn.First(&row, "storage_key = ?", "media/locked").Error)
	assert.Equal(t, 1, row.AttemptCount)
	assert.Equal(t, "permission denied", *row.LastError)
}

func TestSweepDeletionsIsNotStarvedByFailingKeys(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("media/denied-%02d", i)
		require.NoError(t, h.deletions.Schedule(ctx, key, h.now.Add(-2*time.Hour)))
		h.store.failing[key] = errors.New("permission denied")
	}
	require.NoError(t, h.deletions.Schedule(ctx, "media/good", h.now.Add(-time.Hour)))

	first, err := h.svc.SweepDeletions(ctx)
	require.NoError(t, err)
	assert.Zero(t, first.DeletedCount)
	assert.Len(t, first.Errors, 50)

	second, err := h.svc.SweepDeletions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, second.DeletedCount)
	assert.Equal(t, []string{"media/good"}, h.store.deleted)
	assert.EqualValues(t, 50, second.RemainingCount)
}

func TestPublishDueAndHealth(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	past := h.post(t, models.Post{Status: enums.PostStatusScheduled, ScheduledFor: ptr(h.now.Add(-time.Minute))})
	future := h.post(t, models.Post{Status: enums.PostStatusScheduled, ScheduledFor: ptr(h.now.Add(time.Hour))})
	require.NoError(t, h.conn.Create(&models.Album{ID: uuid.New(), UserID: uuid.New(), Status: enums.PostStatusScheduled, ScheduledFor: ptr(h.now.Add(-time.Hour))}).Error)

	health, err := h.svc.DropsHealth(ctx)
	require.NoError(t, err)
	assert.Equal(t, DropsHealth{PendingPosts: 1, DuePosts: 1, DueAlbums: 1, CheckedAt: h.now}, *health)

	result, err := h.svc.PublishDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, PublishResult{PublishedPosts: 1, PublishedAlbums: 1, Timestamp: h.now}, *result)

	dropped := h.reloadPost(t, past.ID)
	assert.Equal(t, enums.PostStatusPublished, dropped.Status)
	assert.True(t, dropped.DroppedAt.Equal(h.now))
	assert.Equal(t, enums.PostStatusScheduled, h.reloadPost(t, future.ID).Status)

	health, err = h.svc.DropsHealth(ctx)
	require.NoError(t, err)
	assert.Equal(t, DropsHealth{PendingPosts: 1, CheckedAt: h.now}, *health)
}

func TestRedispatchStaleRecoversLostTasks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	old := h.now.Add(-time.Hour)

	neverQueued := h.pendingJob(t, old, nil)
	evicted := h.pendingJob(t, old, ptr("evicted-task"))
	liveTaskID, err := h.broker.Enqueue(ctx, mediajobs.TaskTranscode, map[string]string{"mediaJobId": "x"})
	require.NoError(t, err)
	stillQueued := h.pendingJob(t, old, &liveTaskID)
	fresh := h.pendingJob(t, h.now.Add(-time.Minute), nil)

	result, err := h.svc.RedispatchStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.RedispatchedCount)
	assert.Equal(t, 1, result.SkippedCount)
	assert.Empty(t, result.Errors)

	for _, id := range []uuid.UUID{neverQueued.ID, evicted.ID} {
		job := h.reloadJob(t, id)
		require.NotNil(t, job.QueueJobID)
		status, err := h.broker.GetStatus(ctx, *job.QueueJobID)
		require.NoError(t, err)
		assert.Equal(t, queue.TaskStateWaiting, status.State)
	}
	assert.Equal(t, liveTaskID, *h.reloadJob(t, stillQueued.ID).QueueJobID)
	assert.Nil(t, h.reloadJob(t, fresh.ID).QueueJobID)

	again, err := h.svc.RedispatchStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, again.RedispatchedCount)
	assert.Equal(t, 3, again.SkippedCount)
}

func TestRedispatchStaleReportsEnqueueFailure(t *testing.T) {
	h := newHarness(t)
	h.pendingJob(t, h.now.Add(-time.Hour), nil)
	h.broker.FailEnqueue = errors.New("queue unavailable")

	result, err := h.svc.RedispatchStale(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.RedispatchedCount)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Error, "queue unavailable")
}

func TestMediaJobsHealthCountsHistory(t *testing.T) {
	h := newHarness(t)
	h.completedJob(t, enums.MediaKindVideo, "https://cdn.example.com/o.mp4", nil)
	h.pendingJob(t, h.now, nil)
	failed := h.pendingJob(t, h.now, nil)
	require.NoError(t, h.conn.Model(&models.MediaJob{}).Where("id = ?", failed.ID).Updates(map[string]any{
		"state":      enums.MediaJobStateFailed,
		"last_error": "boom",
	}).Error)

	health, err := h.svc.MediaJobsHealth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, mediajobs.Counts{Pending: 1, Completed: 1, Failed: 1, Orphaned: 1}, health.Counts)
	assert.Equal(t, h.now, health.CheckedAt)
}
