package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/dropline-backend/api/controllers"
	"github.com/angelmondragon/dropline-backend/api/routes"
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

const serviceKind = "api"

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
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Deps{
			Config: cfg,
			Logger: logg,
			Ready: []controllers.Dependency{
				{Name: "database", Pinger: dbClient},
				{Name: "redis", Pinger: redisClient},
			},
			Uploads:     p.Uploads,
			Jobs:        p.Jobs,
			Sweepers:    p.Sweepers,
			Metrics:     metrics.Handler(prometheus.DefaultGatherer),
			HTTP:        metrics.NewHTTPMetrics(prometheus.DefaultRegisterer),
			Idempotency: redisClient,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logg.Info(gctx, "starting api server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server shut down gracefully")
}
