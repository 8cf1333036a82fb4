package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryTask struct {
	task       Task
	result     json.RawMessage
	err        string
	readyAt    time.Time
	reservedAt time.Time
}

// MemoryBroker is an in-process Broker with the same retention and retry semantics as RedisBroker.
type MemoryBroker struct {
	mu        sync.Mutex
	opts      Options
	now       func() time.Time
	tasks     map[string]*memoryTask
	waiting   []string
	delayed   map[string]struct{}
	completed []string
	failed    []string
	signal    chan struct{}

	// FailEnqueue, when set, is returned by Enqueue.
	FailEnqueue error
}

// NewMemoryBroker builds an empty in-memory broker.
func NewMemoryBroker(opts Options) *MemoryBroker {
	return &MemoryBroker{
		opts:    opts,
		now:     time.Now,
		tasks:   make(map[string]*memoryTask),
		delayed: make(map[string]struct{}),
		signal:  make(chan struct{}, 1),
	}
}

func (b *MemoryBroker) Enqueue(ctx context.Context, name string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := marshalPayload(name, payload)
	if err != nil {
		return "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailEnqueue != nil {
		return "", b.FailEnqueue
	}

	id := uuid.NewString()
	b.tasks[id] = &memoryTask{task: Task{
		ID:          id,
		Name:        name,
		Payload:     data,
		MaxAttempts: b.opts.Attempts,
		State:       TaskStateWaiting,
		CreatedAt:   b.now().UTC(),
	}}
	b.waiting = append(b.waiting, id)
	b.notify()
	return id, nil
}

func (b *MemoryBroker) GetStatus(ctx context.Context, id string) (*Status, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return &Status{
		ID:           entry.task.ID,
		Name:         entry.task.Name,
		State:        entry.task.State,
		Progress:     entry.task.Progress,
		AttemptsMade: entry.task.AttemptsMade,
		Result:       entry.result,
		Error:        entry.err,
	}, nil
}

func (b *MemoryBroker) Reserve(ctx context.Context, wait time.Duration) (*Task, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		if task := b.popWaiting(); task != nil {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-b.signal:
		}
	}
}

func (b *MemoryBroker) popWaiting() *Task {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.waiting) == 0 {
		return nil
	}
	id := b.waiting[0]
	b.waiting = b.waiting[1:]
	entry := b.tasks[id]
	entry.task.State = TaskStateActive
	entry.task.AttemptsMade++
	entry.reservedAt = b.now()
	if len(b.waiting) > 0 {
		b.notify()
	}
	task := entry.task
	return &task
}

func (b *MemoryBroker) Progress(ctx context.Context, id string, pct int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, err := b.active(id)
	if err != nil {
		return err
	}
	entry.task.Progress = clampProgress(pct)
	entry.reservedAt = b.now()
	return nil
}

func (b *MemoryBroker) Complete(ctx context.Context, id string, result any) error {
	var data json.RawMessage
	if result != nil {
		encoded, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		data = encoded
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	entry, err := b.active(id)
	if err != nil {
		return err
	}
	entry.task.State = TaskStateCompleted
	entry.task.Progress = 100
	entry.result = data
	b.completed = b.retain(append([]string{id}, b.completed...), b.opts.KeepCompleted)
	return nil
}

func (b *MemoryBroker) Retry(ctx context.Context, id string, cause error, delay time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, err := b.active(id)
	if err != nil {
		return err
	}
	entry.task.State = TaskStateDelayed
	entry.err = errorText(cause)
	entry.readyAt = b.now().Add(delay)
	b.delayed[id] = struct{}{}
	return nil
}

func (b *MemoryBroker) Fail(ctx context.Context, id string, cause error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, err := b.active(id)
	if err != nil {
		return err
	}
	entry.task.State = TaskStateFailed
	entry.err = errorText(cause)
	b.failed = b.retain(append([]string{id}, b.failed...), b.opts.KeepFailed)
	return nil
}

func (b *MemoryBroker) PromoteDelayed(ctx context.Context, now time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	promoted := 0
	for id := range b.delayed {
		entry := b.tasks[id]
		if entry.readyAt.After(now) {
			continue
		}
		delete(b.delayed, id)
		entry.task.State = TaskStateWaiting
		b.waiting = append(b.waiting, id)
		promoted++
	}
	if promoted > 0 {
		b.notify()
	}
	return promoted, nil
}

func (b *MemoryBroker) RequeueStalled(ctx context.Context, reservedBefore time.Time) (*StallReport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	report := &StallReport{}
	for id, entry := range b.tasks {
		if entry.task.State != TaskStateActive || !entry.reservedAt.Before(reservedBefore) {
			continue
		}
		if entry.task.Exhausted() {
			entry.task.State = TaskStateFailed
			entry.err = ErrStalled.Error()
			task := entry.task
			report.Failed = append(report.Failed, &task)
			b.failed = b.retain(append([]string{id}, b.failed...), b.opts.KeepFailed)
			continue
		}
		entry.task.State = TaskStateWaiting
		b.waiting = append(b.waiting, id)
		report.Requeued++
	}
	if report.Requeued > 0 {
		b.notify()
	}
	return report, nil
}

// Len returns the number of tasks still tracked, for tests.
func (b *MemoryBroker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tasks)
}

// SetClock overrides the broker's time source.
func (b *MemoryBroker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

func (b *MemoryBroker) active(id string) (*memoryTask, error) {
	entry, ok := b.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	if entry.task.State != TaskStateActive {
		return nil, fmt.Errorf("task %s is %s, not active", id, entry.task.State)
	}
	return entry, nil
}

// retain keeps the newest keep ids and forgets the rest.
func (b *MemoryBroker) retain(ids []string, keep int) []string {
	if keep <= 0 || len(ids) <= keep {
		return ids
	}
	for _, evicted := range ids[keep:] {
		delete(b.tasks, evicted)
	}
	return ids[:keep]
}

func (b *MemoryBroker) notify() {
	select {
	case b.signal <- struct{}{}:
	default:
	}
}
