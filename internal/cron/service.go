package cron

import (
	"context"
	"fmt"
	"time"

	robfig "github.com/robfig/cron/v3"

	"github.com/angelmondragon/dropline-backend/pkg/logger"
	"github.com/angelmondragon/dropline-backend/pkg/metrics"
)

// LockFactory returns the distributed lock guarding one job.
type LockFactory func(job string) (Lock, error)

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Locks    LockFactory
	Metrics  *metrics.CronJobMetrics
	Location *time.Location
}

// Service runs each registered job on its own schedule. A job is skipped when
// another instance holds its lock or when its previous run is still going.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	locks    LockFactory
	metrics  *metrics.CronJobMetrics
	location *time.Location
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Locks == nil {
		return nil, fmt.Errorf("lock factory required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	location := params.Location
	if location == nil {
		location = time.UTC
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		locks:    params.Locks,
		metrics:  params.Metrics,
		location: location,
	}, nil
}

// Run schedules every job and blocks until ctx is canceled, then waits for
// running jobs to return.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	scheduler := robfig.New(
		robfig.WithLocation(s.location),
		robfig.WithParser(scheduleParser),
		robfig.WithChain(robfig.Recover(cronLogger{ctx: ctx, logg: s.logg}), robfig.SkipIfStillRunning(cronLogger{ctx: ctx, logg: s.logg})),
	)
	for _, entry := range s.registry.Entries() {
		job := entry.Job
		scheduler.Schedule(entry.spec, robfig.FuncJob(func() {
			s.RunJob(ctx, job)
		}))
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"job":      job.Name(),
			"schedule": entry.Schedule,
		}), "cron job scheduled")
	}

	scheduler.Start()
	<-ctx.Done()
	s.logg.Info(ctx, "cron service context canceled")
	<-scheduler.Stop().Done()
	return ctx.Err()
}

// RunJob executes job once under its lock.
func (s *Service) RunJob(ctx context.Context, job Job) {
	name := job.Name()
	jobCtx := s.logg.WithField(ctx, "job", name)

	lock, err := s.locks(name)
	if err == nil {
		var locked bool
		if locked, err = lock.Acquire(ctx); err == nil && !locked {
			s.logg.Debug(jobCtx, "cron job held by another instance")
			s.metrics.RecordRun(name, metrics.CronOutcomeSkipped, 0)
			return
		}
	}
	if err != nil {
		s.logg.Error(jobCtx, "cron job lock unavailable", err)
		s.metrics.RecordRun(name, metrics.CronOutcomeFailure, 0)
		return
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logg.Warn(s.logg.WithField(jobCtx, "error", err.Error()), "cron job lock release failed")
		}
	}()

	start := time.Now()
	err = job.Run(jobCtx)
	elapsed := time.Since(start)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", elapsed.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "cron job failed", err)
		s.metrics.RecordRun(name, metrics.CronOutcomeFailure, elapsed)
		return
	}
	s.logg.Info(jobCtx, "cron job completed")
	s.metrics.RecordRun(name, metrics.CronOutcomeSuccess, elapsed)
}

// cronLogger adapts the structured logger to the scheduler's logging interface.
type cronLogger struct {
	ctx  context.Context
	logg *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logg.Debug(l.logg.WithFields(l.ctx, pairs(keysAndValues)), msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logg.Error(l.logg.WithFields(l.ctx, pairs(keysAndValues)), msg, err)
}

func pairs(keysAndValues []any) map[string]any {
	fields := make(map[string]any, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
