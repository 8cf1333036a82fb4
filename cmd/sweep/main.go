package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/dropline-backend/internal/pipeline"
	"github.com/angelmondragon/dropline-backend/internal/sweepers"
	"github.com/angelmondragon/dropline-backend/pkg/config"
	"github.com/angelmondragon/dropline-backend/pkg/db"
	"github.com/angelmondragon/dropline-backend/pkg/logger"
	"github.com/angelmondragon/dropline-backend/pkg/queue"
	"github.com/angelmondragon/dropline-backend/pkg/redis"
	"github.com/angelmondragon/dropline-backend/pkg/storage/provider"
)

const serviceKind = "sweep"

var prettyFlag bool

var rootCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a media pipeline sweeper once and print its result",
	Long: `sweep runs a single sweeper pass against the configured database,
queue and object store, then prints the result as JSON.

Examples:
  sweep link-orphans
  sweep media-deletions --pretty
  sweep media-jobs-health`,
	SilenceUsage: true,
}

type sweepFunc func(ctx context.Context, svc *sweepers.Service) (any, error)

func init() {
	rootCmd.PersistentFlags().BoolVar(&prettyFlag, "pretty", false, "Indent the JSON output")

	rootCmd.AddCommand(
		sweepCommand("link-orphans", "Link completed media jobs to the posts that reference them",
			func(ctx context.Context, svc *sweepers.Service) (any, error) { return svc.LinkOrphans(ctx) }),
		sweepCommand("backfill-metadata", "Copy transcode output onto posts missing media metadata",
			func(ctx context.Context, svc *sweepers.Service) (any, error) { return svc.BackfillMetadata(ctx) }),
		sweepCommand("media-deletions", "Delete storage objects whose scheduled deletion is due",
			func(ctx context.Context, svc *sweepers.Service) (any, error) { return svc.SweepDeletions(ctx) }),
		sweepCommand("publish-drops", "Publish scheduled posts and albums that are due",
			func(ctx context.Context, svc *sweepers.Service) (any, error) { return svc.PublishDue(ctx) }),
		sweepCommand("drops-health", "Report pending and overdue scheduled drops",
			func(ctx context.Context, svc *sweepers.Service) (any, error) { return svc.DropsHealth(ctx) }),
		sweepCommand("redispatch-stale", "Enqueue pending media jobs whose queue task is gone",
			func(ctx context.Context, svc *sweepers.Service) (any, error) { return svc.RedispatchStale(ctx) }),
		sweepCommand("media-jobs-health", "Report media job counts by state",
			func(ctx context.Context, svc *sweepers.Service) (any, error) { return svc.MediaJobsHealth(ctx) }),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func sweepCommand(use, short string, run sweepFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSweep(ctx, use, run)
		},
	}
}

func runSweep(ctx context.Context, name string, run sweepFunc) error {
	logg := logger.New(logger.Options{ServiceName: serviceKind, Output: os.Stderr})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(ctx, "failed to load config", err)
		return err
	}
	cfg.Service.Kind = serviceKind

	logg = logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Output:      os.Stderr,
	})
	ctx = logg.WithFields(ctx, map[string]any{
		"env":   cfg.App.Env,
		"sweep": name,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		return err
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	store, err := provider.New(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap object store", err)
		return err
	}

	broker, err := queue.NewRedisBroker(redisClient.Raw(), redisClient.QueueKey(cfg.Queue.Name), queue.OptionsFromConfig(cfg.Queue))
	if err != nil {
		logg.Error(ctx, "failed to create queue broker", err)
		return err
	}

	p, err := pipeline.New(pipeline.Params{
		Config: cfg,
		Logger: logg,
		DB:     dbClient,
		Queue:  broker,
		Store:  store,
	})
	if err != nil {
		logg.Error(ctx, "failed to wire media pipeline", err)
		return err
	}

	result, err := run(ctx, p.Sweepers)
	if err != nil {
		logg.Error(ctx, "sweep failed", err)
		return err
	}
	if result == nil {
		return errors.New("sweep returned no result")
	}

	enc := json.NewEncoder(os.Stdout)
	if prettyFlag {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(result)
}
