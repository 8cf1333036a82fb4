package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/dropline-backend/pkg/config"
)

func TestBackoffDoublesFromBase(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, time.Second, opts.Backoff(0))
	assert.Equal(t, time.Second, opts.Backoff(1))
	assert.Equal(t, 2*time.Second, opts.Backoff(2))
	assert.Equal(t, 4*time.Second, opts.Backoff(3))
}

func TestOptionsFromConfigKeepsDefaults(t *testing.T) {
	opts := OptionsFromConfig(config.QueueConfig{BackoffBase: 2 * time.Second})
	assert.Equal(t, 3, opts.Attempts)
	assert.Equal(t, 2*time.Second, opts.BackoffBase)
	assert.Equal(t, 100, opts.KeepCompleted)
	assert.Equal(t, 100, opts.KeepFailed)
}

func TestMemoryBrokerEnqueueReserveComplete(t *testing.T) {
	ctx := context.Background()
	broker := NewMemoryBroker(DefaultOptions())

	id, err := broker.Enqueue(ctx, "media.transcode", map[string]string{"mediaJobId": "job-1"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	status, err := broker.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, TaskStateWaiting, status.State)

	task, err := broker.Reserve(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, id, task.ID)
	assert.Equal(t, 1, task.AttemptsMade)
	assert.Equal(t, 3, task.MaxAttempts)

	var payload map[string]string
	require.NoError(t, task.Decode(&payload))
	assert.Equal(t, "job-1", payload["mediaJobId"])

	require.NoError(t, broker.Progress(ctx, id, 40))
	status, err = broker.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 40, status.Progress)

	require.NoError(t, broker.Complete(ctx, id, map[string]string{"outputUrl": "https://cdn/out.mp4"}))
	status, err = broker.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, TaskStateCompleted, status.State)
	assert.Equal(t, 100, status.Progress)
	assert.JSONEq(t, `{"outputUrl":"https://cdn/out.mp4"}`, string(status.Result))
}

func TestMemoryBrokerReserveTimesOutEmpty(t *testing.T) {
	broker := NewMemoryBroker(DefaultOptions())
	task, err := broker.Reserve(context.Background(), 5*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestMemoryBrokerUnknownTask(t *testing.T) {
	broker := NewMemoryBroker(DefaultOptions())
	_, err := broker.GetStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.ErrorIs(t, broker.Complete(context.Background(), "missing", nil), ErrTaskNotFound)
}

func TestMemoryBrokerRetryPromotesAfterDelay(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	broker := NewMemoryBroker(DefaultOptions())
	broker.SetClock(func() time.Time { return now })

	id, err := broker.Enqueue(ctx, "media.transcode", nil)
	require.NoError(t, err)
	_, err = broker.Reserve(ctx, time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, broker.Retry(ctx, id, errors.New("ffmpeg crashed"), 2*time.Second))
	status, err := broker.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, TaskStateDelayed, status.State)
	assert.Equal(t, "ffmpeg crashed", status.Error)

	promoted, err := broker.PromoteDelayed(ctx, now.Add(time.Second))
	require.NoError(t, err)
	assert.Zero(t, promoted)

	promoted, err = broker.PromoteDelayed(ctx, now.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)

	task, err := broker.Reserve(ctx, time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, 2, task.AttemptsMade)
}

func TestMemoryBrokerRetentionEvictsOldest(t *testing.T) {
	ctx := context.Background()
	opts := DefaultOptions()
	opts.KeepCompleted = 2
	opts.KeepFailed = 1
	broker := NewMemoryBroker(opts)

	var completed []string
	for i := 0; i < 3; i++ {
		id, err := broker.Enqueue(ctx, "media.transcode", i)
		require.NoError(t, err)
		_, err = broker.Reserve(ctx, time.Millisecond)
		require.NoError(t, err)
		require.NoError(t, broker.Complete(ctx, id, nil))
		completed = append(completed, id)
	}
	_, err := broker.GetStatus(ctx, completed[0])
	assert.ErrorIs(t, err, ErrTaskNotFound, "oldest completed task should be evicted")
	for _, id := range completed[1:] {
		_, err := broker.GetStatus(ctx, id)
		assert.NoError(t, err)
	}

	var failed []string
	for i := 0; i < 2; i++ {
		id, err := broker.Enqueue(ctx, "media.transcode", i)
		require.NoError(t, err)
		_, err = broker.Reserve(ctx, time.Millisecond)
		require.NoError(t, err)
		require.NoError(t, broker.Fail(ctx, id, fmt.Errorf("attempt %d", i)))
		failed = append(failed, id)
	}
	_, err = broker.GetStatus(ctx, failed[0])
	assert.ErrorIs(t, err, ErrTaskNotFound)
	status, err := broker.GetStatus(ctx, failed[1])
	require.NoError(t, err)
	assert.Equal(t, TaskStateFailed, status.State)
	assert.Equal(t, 3, broker.Len())
}

func TestMemoryBrokerRequeuesStalled(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	broker := NewMemoryBroker(DefaultOptions())
	broker.SetClock(func() time.Time { return now })

	id, err := broker.Enqueue(ctx, "media.transcode", nil)
	require.NoError(t, err)
	_, err = broker.Reserve(ctx, time.Millisecond)
	require.NoError(t, err)

	report, err := broker.RequeueStalled(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, report.Requeued)

	report, err = broker.RequeueStalled(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Requeued)
	assert.Empty(t, report.Failed)

	status, err := broker.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, TaskStateWaiting, status.State)
}

// crashAttempts reserves the only queued task and abandons it, attempts times,
// moving the clock past the stall cutoff after each reservation.
func crashAttempts(t *testing.T, broker *MemoryBroker, now *time.Time, attempts int) *StallReport {
	t.Helper()
	ctx := context.Background()
	var report *StallReport
	for i := 0; i < attempts; i++ {
		task, err := broker.Reserve(ctx, time.Millisecond)
		require.NoError(t, err)
		require.NotNil(t, task, "reservation %d", i+1)
		*now = now.Add(time.Hour)
		report, err = broker.RequeueStalled(ctx, now.Add(-time.Minute))
		require.NoError(t, err)
	}
	return report
}

func TestMemoryBrokerFailsStalledTaskOutOfAttempts(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	broker := NewMemoryBroker(DefaultOptions())
	broker.SetClock(func() time.Time { return now })

	id, err := broker.Enqueue(ctx, "media.transcode", nil)
	require.NoError(t, err)

	report := crashAttempts(t, broker, &now, 2)
	assert.Equal(t, 1, report.Requeued)
	assert.Empty(t, report.Failed)

	report = crashAttempts(t, broker, &now, 1)
	assert.Zero(t, report.Requeued)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, id, report.Failed[0].ID)
	assert.Equal(t, 3, report.Failed[0].AttemptsMade)

	status, err := broker.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, TaskStateFailed, status.State)
	assert.Equal(t, 3, status.AttemptsMade)
	assert.Equal(t, ErrStalled.Error(), status.Error)

	task, err := broker.Reserve(ctx, time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestMemoryBrokerFailEnqueue(t *testing.T) {
	broker := NewMemoryBroker(DefaultOptions())
	broker.FailEnqueue = errors.New("redis down")
	_, err := broker.Enqueue(context.Background(), "media.transcode", nil)
	assert.EqualError(t, err, "redis down")
	assert.Zero(t, broker.Len())
}

func TestEnqueueRequiresName(t *testing.T) {
	broker := NewMemoryBroker(DefaultOptions())
	_, err := broker.Enqueue(context.Background(), "", nil)
	assert.Error(t, err)
}

func TestTaskDecodeMarksUnrecoverable(t *testing.T) {
	task := &Task{Name: "media.transcode", Payload: json.RawMessage(`{not json`)}
	var dst map[string]any
	err := task.Decode(&dst)
	assert.ErrorIs(t, err, ErrUnrecoverable)
}
