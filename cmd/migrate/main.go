package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/dropline-backend/pkg/config"
	"github.com/angelmondragon/dropline-backend/pkg/db"
	"github.com/angelmondragon/dropline-backend/pkg/logger"
	"github.com/angelmondragon/dropline-backend/pkg/migrate"
)

const serviceKind = "migrate"

var dirFlag string

var rootCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the dropline database schema",
	Long: `migrate applies the SQL migrations embedded in this binary.

Examples:
  migrate up
  migrate status
  migrate to 20260301120200
  migrate create add_media_jobs_index --dir pkg/migrate/migrations`,
	SilenceUsage: true,
}

func init() {
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(ctx context.Context, m *migrate.Migrator, _ []string) error {
			applied, err := m.Up(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("applied %d migration(s)\n", applied)
			return nil
		}),
	}
	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(ctx context.Context, m *migrate.Migrator, _ []string) error {
			return m.Down(ctx)
		}),
	}
	toCmd := &cobra.Command{
		Use:   "to <version>",
		Short: "Migrate up or down to a specific version",
		Args:  cobra.ExactArgs(1),
		RunE: withMigrator(func(ctx context.Context, m *migrate.Migrator, args []string) error {
			return m.ToVersion(ctx, args[0])
		}),
	}
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "List migrations and when they were applied",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(ctx context.Context, m *migrate.Migrator, _ []string) error {
			rows, err := m.Status(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tAPPLIED\tFILE")
			for _, row := range rows {
				applied := "pending"
				if row.Applied {
					applied = humanize.Time(row.AppliedAt)
				}
				fmt.Fprintf(w, "%d\t%s\t%s\n", row.Version, applied, row.Path)
			}
			return w.Flush()
		}),
	}
	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Write an empty SQL migration into --dir",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := migrate.CreateSQLMigration(dirFlag, args[0])
			if err != nil {
				return err
			}
			fmt.Println("created migration:", path)
			return nil
		},
	}
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check migration filenames and goose annotations in --dir",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := migrate.ValidateDir(dirFlag); err != nil {
				return err
			}
			fmt.Println("migration validation passed")
			return nil
		},
	}

	for _, c := range []*cobra.Command{createCmd, validateCmd} {
		c.Flags().StringVar(&dirFlag, "dir", migrate.DefaultDir, "migrations directory on disk")
	}
	rootCmd.AddCommand(upCmd, downCmd, toCmd, statusCmd, createCmd, validateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type migratorFunc func(ctx context.Context, m *migrate.Migrator, args []string) error

// withMigrator loads config and opens the database before running fn.
func withMigrator(fn migratorFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logg := logger.New(logger.Options{ServiceName: serviceKind})
		_ = godotenv.Load()

		cfg, err := config.Load()
		if err != nil {
			logg.Error(ctx, "failed to load config", err)
			return err
		}
		logg = logger.New(logger.Options{
			ServiceName: serviceKind,
			Level:       logger.ParseLevel(cfg.App.LogLevel),
			WarnStack:   cfg.App.LogWarnStack,
		})
		ctx = logg.WithFields(ctx, map[string]any{
			"env": cfg.App.Env,
			"cmd": cmd.Name(),
		})

		dbClient, err := db.New(ctx, cfg.DB, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap database", err)
			return err
		}
		defer dbClient.Close()

		var sqlDB *sql.DB
		if sqlDB, err = dbClient.DB().DB(); err != nil {
			logg.Error(ctx, "failed to extract sql database", err)
			return err
		}

		migrator, err := migrate.New(sqlDB, nil, logg)
		if err != nil {
			logg.Error(ctx, "failed to create migrator", err)
			return err
		}
		return fn(ctx, migrator, args)
	}
}
