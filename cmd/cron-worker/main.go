package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/dropline-backend/internal/cron"
	"github.com/angelmondragon/dropline-backend/internal/pipeline"
	"github.com/angelmondragon/dropline-backend/pkg/config"
	"github.com/angelmondragon/dropline-backend/pkg/db"
	"github.com/angelmondragon/dropline-backend/pkg/instance"
	"github.com/angelmondragon/dropline-backend/pkg/logger"
	"github.com/angelmondragon/dropline-backend/pkg/metrics"
	"github.com/angelmondragon/dropline-backend/pkg/migrate"
	"github.com/angelmondragon/dropline-backend/pkg/queue"
	"github.com/angelmondragon/dropline-backend/pkg/redis"
	"github.com/angelmondragon/dropline-backend/pkg/storage/provider"
)

const serviceKind = "cron-worker"

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceKind})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceKind

	logg = logger.New(logger.Options{
		ServiceName: serviceKind,
		Instance:    instance.GetID(),
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := dbClient.RegisterStats(prometheus.DefaultRegisterer, "dropline"); err != nil {
		logg.Warn(logg.WithField(ctx, "error", err.Error()), "db pool stats not exported")
	}

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	if err := redisClient.RegisterStats(prometheus.DefaultRegisterer); err != nil {
		logg.Warn(logg.WithField(ctx, "error", err.Error()), "redis pool stats not exported")
	}

	store, err := provider.New(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap object store", err)
		os.Exit(1)
	}

	broker, err := queue.NewRedisBroker(redisClient.Raw(), redisClient.QueueKey(cfg.Queue.Name), queue.OptionsFromConfig(cfg.Queue))
	if err != nil {
		logg.Error(ctx, "failed to create queue broker", err)
		os.Exit(1)
	}

	p, err := pipeline.New(pipeline.Params{
		Config:  cfg,
		Logger:  logg,
		DB:      dbClient,
		Queue:   broker,
		Store:   store,
		Metrics: metrics.NewPipelineMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(ctx, "failed to wire media pipeline", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry()
	if err := cron.RegisterSweepers(registry, cfg.Sweepers, p.Sweepers); err != nil {
		logg.Error(ctx, "failed to register sweepers", err)
		os.Exit(1)
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: p.Outbox,
		Metrics:    metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
		Retention:  cfg.Outbox.RetentionDays,
		BatchSize:  cfg.Outbox.PruneBatchSize,
	})
	if err != nil {
		logg.Error(ctx, "failed to create outbox retention job", err)
		os.Exit(1)
	}
	if err := registry.Register(cfg.Sweepers.OutboxRetentionSchedule, retention); err != nil {
		logg.Error(ctx, "failed to register outbox retention job", err)
		os.Exit(1)
	}

	env := cfg.App.Env
	if env == "" {
		env = "local"
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Locks: cron.RedisLocks(redisClient, func(job string) string {
			return redisClient.LockKey(serviceKind, env, job)
		}, cfg.Sweepers.LockTTL),
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Location: time.UTC,
	})
	if err != nil {
		logg.Error(ctx, "failed to create cron service", err)
		os.Exit(1)
	}

	go func() {
		if err := metrics.Serve(ctx, cfg.App.MetricsPort, prometheus.DefaultGatherer, logg); err != nil {
			logg.Error(ctx, "metrics listener stopped", err)
		}
	}()

	logg.Info(ctx, "starting cron worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
}
