package mediajobs

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/dropline-backend/pkg/db"
	"github.com/angelmondragon/dropline-backend/pkg/db/dbtest"
	"github.com/angelmondragon/dropline-backend/pkg/db/models"
	"github.com/angelmondragon/dropline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dropline-backend/pkg/errors"
	"github.com/angelmondragon/dropline-backend/pkg/logger"
	"github.com/angelmondragon/dropline-backend/pkg/outbox"
	"github.com/angelmondragon/dropline-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/dropline-backend/pkg/queue"
)

type testEnv struct {
	conn   *gorm.DB
	repo   *Repository
	svc    *Service
	broker *queue.MemoryBroker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	broker := queue.NewMemoryBroker(queue.DefaultOptions())
	svc, err := NewService(ServiceParams{
		DB:     db.NewFromGorm(conn),
		Repo:   repo,
		Outbox: outbox.NewService(outbox.NewRepository(conn), nil, "worker"),
		Queue:  broker,
		Logger: logger.Nop(),
	})
	require.NoError(t, err)
	return &testEnv{conn: conn, repo: repo, svc: svc, broker: broker}
}

func (e *testEnv) createJob(t *testing.T, kind enums.MediaKind) *models.MediaJob {
	t.Helper()
	job, err := e.svc.CreatePending(context.Background(), CreateInput{
		UserID:    uuid.New(),
		Tier:      enums.UserTierFree,
		Kind:      kind,
		RawKey:    "raw/" + uuid.NewString(),
		RawURL:    "https://storage.example.com/raw/clip",
		SizeBytes: 2048,
	})
	require.NoError(t, err)
	return job
}

func (e *testEnv) reload(t *testing.T, id uuid.UUID) *models.MediaJob {
	t.Helper()
	job, err := e.repo.FindByID(context.Background(), nil, id)
	require.NoError(t, err)
	return job
}

func (e *testEnv) events(t *testing.T, eventType enums.OutboxEventType) []models.OutboxEvent {
	t.Helper()
	var rows []models.OutboxEvent
	require.NoError(t, e.conn.Where("event_type = ?", eventType).Find(&rows).Error)
	return rows
}

func videoOutput() Output {
	return Output{URL: "https://cdn.example.com/out.mp4", DurationSeconds: 12.3, Width: 1080, Height: 1920}
}

func assertOutputInvariant(t *testing.T, job *models.MediaJob) {
	t.Helper()
	if job.State == enums.MediaJobStateCompleted {
		assert.True(t, job.HasCompleteOutput(), "completed job %s missing output", job.ID)
		return
	}
	assert.False(t, job.HasAnyOutput(), "%s job %s carries output", job.State, job.ID)
}

func TestCreatePendingValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.CreatePending(ctx, CreateInput{UserID: uuid.New(), Kind: enums.MediaKindImage, RawKey: "k", RawURL: "u"})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	_, err = env.svc.CreatePending(ctx, CreateInput{UserID: uuid.New(), Kind: enums.MediaKindVideo})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	job := env.createJob(t, enums.MediaKindVideo)
	assert.Equal(t, enums.MediaJobStatePending, job.State)
	assert.Zero(t, job.Progress)
	assert.Zero(t, job.AttemptCount)
	assertOutputInvariant(t, env.reload(t, job.ID))
}

func TestStartCountsAttemptsAndAllowsRedelivery(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	job := env.createJob(t, enums.MediaKindVideo)

	started, err := env.svc.Start(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.MediaJobStateProcessing, started.State)
	assert.Equal(t, 1, started.AttemptCount)
	require.NotNil(t, started.StartedAt)
	firstStart := *started.StartedAt

	again, err := env.svc.Start(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, again.AttemptCount)
	assert.True(t, again.StartedAt.Equal(firstStart))
}

func TestStartRejectsTerminalAndMissingJobs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	job := env.createJob(t, enums.MediaKindVideo)

	_, err := env.svc.Start(ctx, job.ID)
	require.NoError(t, err)
	_, err = env.svc.Complete(ctx, job.ID, videoOutput(), nil)
	require.NoError(t, err)

	_, err = env.svc.Start(ctx, job.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, 1, env.reload(t, job.ID).AttemptCount)

	_, err = env.svc.Start(ctx, uuid.New())
	require.ErrorIs(t, err, ErrJobNotFound)
}

func TestReportProgressIsMonotonicAndOnlyWhileProcessing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	job := env.createJob(t, enums.MediaKindAudio)

	require.NoError(t, env.svc.ReportProgress(ctx, job.ID, 30))
	assert.Zero(t, env.reload(t, job.ID).Progress, "pending job must not take progress")

	_, err := env.svc.Start(ctx, job.ID)
	require.NoError(t, err)
	require.NoError(t, env.svc.ReportProgress(ctx, job.ID, 40))
	require.NoError(t, env.svc.ReportProgress(ctx, job.ID, 25))
	assert.Equal(t, 40, env.reload(t, job.ID).Progress)
	require.NoError(t, env.svc.ReportProgress(ctx, job.ID, 40))
	require.NoError(t, env.svc.ReportProgress(ctx, job.ID, 75))
	assert.Equal(t, 75, env.reload(t, job.ID).Progress)

	err = env.svc.ReportProgress(ctx, job.ID, 101)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestCompleteWritesOutputAndEmitsEvent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	job := env.createJob(t, enums.MediaKindVideo)
	_, err := env.svc.Start(ctx, job.ID)
	require.NoError(t, err)

	completed, err := env.svc.Complete(ctx, job.ID, videoOutput(), nil)
	require.NoError(t, err)
	assert.Equal(t, enums.MediaJobStateCompleted, completed.State)
	assert.Equal(t, 100, completed.Progress)
	assert.Equal(t, "https://cdn.example.com/out.mp4", *completed.OutputURL)
	assert.Equal(t, 12.3, *completed.DurationSeconds)
	assert.Equal(t, 1080, *completed.Width)
	assert.Equal(t, 1920, *completed.Height)
	assertOutputInvariant(t, env.reload(t, job.ID))

	rows := env.events(t, enums.EventMediaJobCompleted)
	require.Len(t, rows, 1)
	assert.Equal(t, job.ID, rows[0].AggregateID)
	var envelope outbox.PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	var data payloads.MediaJobCompletedEvent
	require.NoError(t, json.Unmarshal(envelope.Data, &data))
	assert.Equal(t, 1920, data.Height)
	assert.Equal(t, 1, data.AttemptCount)

	_, err = env.svc.Complete(ctx, job.ID, Output{URL: "https://cdn.example.com/other.mp4", DurationSeconds: 1, Width: 1, Height: 1}, nil)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, "https://cdn.example.com/out.mp4", *env.reload(t, job.ID).OutputURL)
}

func TestCompleteRejectsIncompleteOutput(t *testing.T) {
	cases := map[string]struct {
		kind enums.MediaKind
		out  Output
	}{
		"empty url":       {enums.MediaKindVideo, Output{URL: " ", DurationSeconds: 3, Width: 10, Height: 10}},
		"zero duration":   {enums.MediaKindVideo, Output{URL: "u", DurationSeconds: 0, Width: 10, Height: 10}},
		"video no height": {enums.MediaKindVideo, Output{URL: "u", DurationSeconds: 3, Width: 10}},
		"negative width":  {enums.MediaKindAudio, Output{URL: "u", DurationSeconds: 3, Width: -1}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			job := env.createJob(t, tc.kind)
			_, err := env.svc.Start(ctx, job.ID)
			require.NoError(t, err)

			_, err = env.svc.Complete(ctx, job.ID, tc.out, nil)
			require.ErrorIs(t, err, ErrIncompleteOutput)

			stored := env.reload(t, job.ID)
			assert.Equal(t, enums.MediaJobStateProcessing, stored.State)
			assertOutputInvariant(t, stored)
			assert.Empty(t, env.events(t, enums.EventMediaJobCompleted))
		})
	}
}

func TestCompleteAudioStoresZeroDimensions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	job := env.createJob(t, enums.MediaKindAudio)
	_, err := env.svc.Start(ctx, job.ID)
	require.NoError(t, err)

	completed, err := env.svc.Complete(ctx, job.ID, Output{URL: "https://cdn.example.com/a.m4a", DurationSeconds: 95.5, Width: 640, Height: 480}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, *completed.Width)
	assert.Equal(t, 0, *completed.Height)
	assertOutputInvariant(t, completed)
}

func TestCompleteRecordsPostOnlyWhenUnlinked(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	job := env.createJob(t, enums.MediaKindVideo)
	existing := uuid.New()
	require.NoError(t, env.conn.Model(&models.MediaJob{}).Where("id = ?", job.ID).Update("post_id", existing).Error)
	_, err := env.svc.Start(ctx, job.ID)
	require.NoError(t, err)

	other := uuid.New()
	completed, err := env.svc.Complete(ctx, job.ID, videoOutput(), &other)
	require.NoError(t, err)
	require.NotNil(t, completed.PostID)
	assert.Equal(t, existing, *completed.PostID)

	fresh := env.createJob(t, enums.MediaKindVideo)
	_, err = env.svc.Start(ctx, fresh.ID)
	require.NoError(t, err)
	completed, err = env.svc.Complete(ctx, fresh.ID, videoOutput(), &other)
	require.NoError(t, err)
	require.NotNil(t, completed.PostID)
	assert.Equal(t, other, *completed.PostID)
}

func TestFailIsTerminalAndEmitsEvent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	job := env.createJob(t, enums.MediaKindVideo)

	_, err := env.svc.Fail(ctx, job.ID, "never started")
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = env.svc.Start(ctx, job.ID)
	require.NoError(t, err)
	failed, err := env.svc.Fail(ctx, job.ID, "codec not supported")
	require.NoError(t, err)
	assert.Equal(t, enums.MediaJobStateFailed, failed.State)
	require.NotNil(t, failed.LastError)
	assert.Equal(t, "codec not supported", *failed.LastError)
	assertOutputInvariant(t, failed)
	assert.Len(t, env.events(t, enums.EventMediaJobFailed), 1)

	_, err = env.svc.Complete(ctx, job.ID, videoOutput(), nil)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.NoError(t, env.svc.ReportProgress(ctx, job.ID, 90))
	stored := env.reload(t, job.ID)
	assert.Equal(t, enums.MediaJobStateFailed, stored.State)
	assert.NotEqual(t, 90, stored.Progress)
}

func TestRecordRetryKeepsStateAndStoresError(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	job := env.createJob(t, enums.MediaKindVideo)
	_, err := env.svc.Start(ctx, job.ID)
	require.NoError(t, err)

	require.NoError(t, env.svc.RecordRetry(ctx, job.ID, "storage timeout"))
	stored := env.reload(t, job.ID)
	assert.Equal(t, enums.MediaJobStateProcessing, stored.State)
	require.NotNil(t, stored.LastError)
	assert.Equal(t, "storage timeout", *stored.LastError)

	_, err = env.svc.Complete(ctx, job.ID, videoOutput(), nil)
	require.NoError(t, err)
	assert.Nil(t, env.reload(t, job.ID).LastError)
}

func TestStatusViewAndOwnership(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	job := env.createJob(t, enums.MediaKindVideo)

	dispatcher, err := NewDispatcher(env.broker, env.repo)
	require.NoError(t, err)
	_, err = dispatcher.Dispatch(ctx, job)
	require.NoError(t, err)

	view, err := env.svc.Status(ctx, job.ID, job.UserID, true)
	require.NoError(t, err)
	assert.Equal(t, enums.MediaJobStatePending, view.State)
	assert.Nil(t, view.OutputURL)
	require.NotNil(t, view.Queue)
	assert.Equal(t, queue.TaskStateWaiting, view.Queue.State)

	_, err = env.svc.Status(ctx, job.ID, uuid.New(), false)
	require.ErrorIs(t, err, ErrJobNotFound)

	encoded, err := json.Marshal(view)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"attemptCount":0`)
	assert.NotContains(t, string(encoded), "outputUrl")
}

func TestDispatchRecordsQueueTaskAndPropagatesFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	job := env.createJob(t, enums.MediaKindAudio)
	dispatcher, err := NewDispatcher(env.broker, env.repo)
	require.NoError(t, err)

	taskID, err := dispatcher.Dispatch(ctx, job)
	require.NoError(t, err)
	stored := env.reload(t, job.ID)
	require.NotNil(t, stored.QueueJobID)
	assert.Equal(t, taskID, *stored.QueueJobID)

	status, err := env.broker.GetStatus(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, TaskTranscode, status.Name)

	env.broker.FailEnqueue = assert.AnError
	other := env.createJob(t, enums.MediaKindVideo)
	_, err = dispatcher.Dispatch(ctx, other)
	require.ErrorIs(t, err, assert.AnError)
	assert.Nil(t, env.reload(t, other.ID).QueueJobID)
}

func TestCountsReportsFailedAndOrphaned(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	orphan := env.createJob(t, enums.MediaKindVideo)
	_, err := env.svc.Start(ctx, orphan.ID)
	require.NoError(t, err)
	_, err = env.svc.Complete(ctx, orphan.ID, videoOutput(), nil)
	require.NoError(t, err)

	failed := env.createJob(t, enums.MediaKindVideo)
	_, err = env.svc.Start(ctx, failed.ID)
	require.NoError(t, err)
	_, err = env.svc.Fail(ctx, failed.ID, "boom")
	require.NoError(t, err)

	env.createJob(t, enums.MediaKindAudio)

	counts, err := env.repo.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Pending: 1, Completed: 1, Failed: 1, Orphaned: 1}, counts)
}
