package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/dropline-backend/internal/mediajobs"
	"github.com/angelmondragon/dropline-backend/internal/pipeline"
	"github.com/angelmondragon/dropline-backend/internal/transcode"
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

const serviceKind = "worker"

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

	policy := queue.OptionsFromConfig(cfg.Queue)
	broker, err := queue.NewRedisBroker(redisClient.Raw(), redisClient.QueueKey(cfg.Queue.Name), policy)
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

	transcoder, err := transcode.NewCommand(cfg.Transcode.Command, cfg.Transcode.Timeout)
	if err != nil {
		logg.Error(ctx, "failed to configure transcoder", err)
		os.Exit(1)
	}
	processor, err := mediajobs.NewProcessor(p.Jobs, transcoder, logg)
	if err != nil {
		logg.Error(ctx, "failed to create media processor", err)
		os.Exit(1)
	}

	consumer, err := queue.NewConsumer(broker, processor, policy, queue.ConsumerOptions{
		Concurrency:   cfg.Queue.Concurrency,
		PollTimeout:   cfg.Queue.PollTimeout,
		StalledAfter:  cfg.Queue.StalledAfter,
		MaintainEvery: time.Second,
	}, logg)
	if err != nil {
		logg.Error(ctx, "failed to create queue consumer", err)
		os.Exit(1)
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return consumer.Run(gctx)
	})
	group.Go(func() error {
		return metrics.Serve(gctx, cfg.App.MetricsPort, prometheus.DefaultGatherer, logg)
	})

	logg.Info(ctx, "starting worker")
	if err := group.Wait(); err != nil {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "worker shutting down gracefully")
}
