package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/dropline-backend/pkg/logger"
)

// ProgressFunc reports a 0..100 completion percentage for the running task.
type ProgressFunc func(ctx context.Context, pct int)

// Handler processes one task attempt. A returned error wrapping ErrUnrecoverable
// fails the task immediately; any other error is retried until attempts run out.
type Handler interface {
	Handle(ctx context.Context, task *Task, progress ProgressFunc) (any, error)
}

// RetryObserver is notified when an attempt failed and another one is scheduled.
type RetryObserver interface {
	OnRetry(ctx context.Context, task *Task, err error)
}

// FailureObserver is notified once a task has failed for good.
type FailureObserver interface {
	OnFailed(ctx context.Context, task *Task, err error)
}

// ConsumerOptions tunes the consumer loop.
type ConsumerOptions struct {
	Concurrency   int
	PollTimeout   time.Duration
	StalledAfter  time.Duration
	MaintainEvery time.Duration
}

// Consumer pulls tasks from a Broker and runs them through a Handler.
type Consumer struct {
	broker  Broker
	handler Handler
	policy  Options
	opts    ConsumerOptions
	logg    *logger.Logger
	now     func() time.Time
}

// NewConsumer wires a consumer; policy supplies the retry backoff.
func NewConsumer(broker Broker, handler Handler, policy Options, opts ConsumerOptions, logg *logger.Logger) (*Consumer, error) {
	if broker == nil {
		return nil, errors.New("queue broker is required")
	}
	if handler == nil {
		return nil, errors.New("queue handler is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 5 * time.Second
	}
	if opts.MaintainEvery <= 0 {
		opts.MaintainEvery = time.Second
	}
	return &Consumer{
		broker:  broker,
		handler: handler,
		policy:  policy,
		opts:    opts,
		logg:    logg,
		now:     time.Now,
	}, nil
}

// Run blocks until ctx is canceled or a broker call fails hard.
func (c *Consumer) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return c.maintain(ctx)
	})
	for i := 0; i < c.opts.Concurrency; i++ {
		group.Go(func() error {
			return c.loop(ctx)
		})
	}

	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Consumer) maintain(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.MaintainEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		now := c.now()
		if _, err := c.broker.PromoteDelayed(ctx, now); err != nil {
			c.logg.Error(ctx, "promote delayed tasks failed", err)
		}
		if c.opts.StalledAfter > 0 {
			report, err := c.broker.RequeueStalled(ctx, now.Add(-c.opts.StalledAfter))
			if err != nil {
				c.logg.Error(ctx, "requeue stalled tasks failed", err)
			}
			c.settleStalled(ctx, report)
		}
	}
}

// settleStalled reports stalled tasks that ran out of attempts as failed.
func (c *Consumer) settleStalled(ctx context.Context, report *StallReport) {
	if report == nil {
		return
	}
	if report.Requeued > 0 {
		c.logg.Warn(c.logg.WithField(ctx, "requeued", report.Requeued), "stalled tasks requeued")
	}
	for _, task := range report.Failed {
		c.failed(c.logg.WithTask(ctx, task.ID, task.Name, task.AttemptsMade), task, ErrStalled)
	}
}

func (c *Consumer) loop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		task, err := c.broker.Reserve(ctx, c.opts.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logg.Error(ctx, "reserve task failed", err)
			if !sleep(ctx, c.opts.PollTimeout) {
				return ctx.Err()
			}
			continue
		}
		if task == nil {
			continue
		}
		c.process(ctx, task)
	}
}

// process runs one reserved task to a settled queue state.
func (c *Consumer) process(ctx context.Context, task *Task) {
	taskCtx := c.logg.WithTask(ctx, task.ID, task.Name, task.AttemptsMade)

	if task.MaxAttempts > 0 && task.AttemptsMade > task.MaxAttempts {
		if err := c.broker.Fail(taskCtx, task.ID, ErrStalled); err != nil {
			c.logg.Error(taskCtx, "fail task failed", err)
		}
		c.failed(taskCtx, task, ErrStalled)
		return
	}

	report := func(ctx context.Context, pct int) {
		if err := c.broker.Progress(ctx, task.ID, pct); err != nil {
			c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "task progress update failed")
		}
	}

	result, err := c.safeHandle(taskCtx, task, report)
	if err == nil {
		if err := c.broker.Complete(taskCtx, task.ID, result); err != nil {
			c.logg.Error(taskCtx, "complete task failed", err)
		}
		return
	}

	if errors.Is(err, ErrUnrecoverable) || task.Exhausted() {
		if failErr := c.broker.Fail(taskCtx, task.ID, err); failErr != nil {
			c.logg.Error(taskCtx, "fail task failed", failErr)
		}
		c.failed(taskCtx, task, err)
		return
	}

	delay := c.policy.Backoff(task.AttemptsMade)
	if retryErr := c.broker.Retry(taskCtx, task.ID, err, delay); retryErr != nil {
		c.logg.Error(taskCtx, "schedule task retry failed", retryErr)
		return
	}
	c.logg.Warn(c.logg.WithFields(taskCtx, map[string]any{
		"retry_in": delay.String(),
		"error":    err.Error(),
	}), "task attempt failed, retry scheduled")
	if observer, ok := c.handler.(RetryObserver); ok {
		observer.OnRetry(taskCtx, task, err)
	}
}

func (c *Consumer) failed(ctx context.Context, task *Task, err error) {
	c.logg.Error(ctx, "task failed permanently", err)
	if observer, ok := c.handler.(FailureObserver); ok {
		observer.OnFailed(ctx, task, err)
	}
}

func (c *Consumer) safeHandle(ctx context.Context, task *Task, report ProgressFunc) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler.Handle(ctx, task, report)
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
