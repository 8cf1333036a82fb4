package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/dropline-backend/pkg/config"
)

var (
	// ErrTaskNotFound is returned when the queue has no record of a task id,
	// either because it never existed or because retention evicted it.
	ErrTaskNotFound = errors.New("queue task not found")
	// ErrUnrecoverable marks a handler error that must not be retried.
	ErrUnrecoverable = errors.New("unrecoverable task error")
	// ErrStalled is the failure recorded for a task whose last allowed attempt
	// was reserved and never settled.
	ErrStalled = errors.New("task stalled on its final attempt")
)

// TaskState is the queue's own view of a task.
type TaskState string

const (
	TaskStateWaiting   TaskState = "waiting"
	TaskStateActive    TaskState = "active"
	TaskStateDelayed   TaskState = "delayed"
	TaskStateCompleted TaskState = "completed"
	TaskStateFailed    TaskState = "failed"
)

// IsTerminal reports whether the queue will never hand the task out again.
func (s TaskState) IsTerminal() bool {
	return s == TaskStateCompleted || s == TaskStateFailed
}

// Task is a reserved unit of work.
type Task struct {
	ID           string
	Name         string
	Payload      json.RawMessage
	AttemptsMade int
	MaxAttempts  int
	Progress     int
	State        TaskState
	CreatedAt    time.Time
}

// Exhausted reports whether the current attempt is the last one allowed.
func (t *Task) Exhausted() bool {
	return t.AttemptsMade >= t.MaxAttempts
}

// Decode unmarshals the payload into dst.
func (t *Task) Decode(dst any) error {
	if err := json.Unmarshal(t.Payload, dst); err != nil {
		return fmt.Errorf("%w: decode %s payload: %v", ErrUnrecoverable, t.Name, err)
	}
	return nil
}

// StallReport is the outcome of one RequeueStalled sweep.
type StallReport struct {
	Requeued int
	// Failed holds stalled tasks that had no attempts left and were moved to failed.
	Failed []*Task
}

// Status is returned by GetStatus.
type Status struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	State        TaskState       `json:"state"`
	Progress     int             `json:"progress"`
	AttemptsMade int             `json:"attemptsMade"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// Producer is the surface used by callers that only submit and observe work.
type Producer interface {
	Enqueue(ctx context.Context, name string, payload any) (string, error)
	GetStatus(ctx context.Context, id string) (*Status, error)
}

// Broker is the full queue contract used by consumers.
type Broker interface {
	Producer
	// Reserve blocks for up to wait and returns nil when no task became available.
	Reserve(ctx context.Context, wait time.Duration) (*Task, error)
	Progress(ctx context.Context, id string, pct int) error
	Complete(ctx context.Context, id string, result any) error
	Retry(ctx context.Context, id string, cause error, delay time.Duration) error
	Fail(ctx context.Context, id string, cause error) error
	PromoteDelayed(ctx context.Context, now time.Time) (int, error)
	// RequeueStalled puts active tasks reserved before reservedBefore back in the
	// wait list, or fails them when their attempts are used up.
	RequeueStalled(ctx context.Context, reservedBefore time.Time) (*StallReport, error)
}

// Options carries the enqueue-time policy applied to every task.
type Options struct {
	Attempts      int
	BackoffBase   time.Duration
	KeepCompleted int
	KeepFailed    int
}

// DefaultOptions is three attempts, one second base backoff, and 100/100 retention.
func DefaultOptions() Options {
	return Options{
		Attempts:      3,
		BackoffBase:   time.Second,
		KeepCompleted: 100,
		KeepFailed:    100,
	}
}

// OptionsFromConfig maps queue config onto Options, keeping defaults for unset values.
// Attempts always stay at three.
func OptionsFromConfig(cfg config.QueueConfig) Options {
	opts := DefaultOptions()
	if cfg.BackoffBase > 0 {
		opts.BackoffBase = cfg.BackoffBase
	}
	if cfg.KeepCompleted > 0 {
		opts.KeepCompleted = cfg.KeepCompleted
	}
	if cfg.KeepFailed > 0 {
		opts.KeepFailed = cfg.KeepFailed
	}
	return opts
}

// Backoff returns the delay before the next attempt: base * 2^(attemptsMade-1).
func (o Options) Backoff(attemptsMade int) time.Duration {
	if attemptsMade < 1 {
		attemptsMade = 1
	}
	delay := o.BackoffBase
	for i := 1; i < attemptsMade; i++ {
		delay *= 2
	}
	return delay
}

func clampProgress(pct int) int {
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	default:
		return pct
	}
}

func marshalPayload(name string, payload any) (json.RawMessage, error) {
	if name == "" {
		return nil, errors.New("task name is required")
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	return data, nil
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
