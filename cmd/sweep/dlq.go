package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/dropline-backend/pkg/config"
	"github.com/angelmondragon/dropline-backend/pkg/db"
	"github.com/angelmondragon/dropline-backend/pkg/db/models"
	"github.com/angelmondragon/dropline-backend/pkg/enums"
	"github.com/angelmondragon/dropline-backend/pkg/logger"
	"github.com/angelmondragon/dropline-backend/pkg/outbox"
)

var (
	dlqReason string
	dlqLimit  int
)

type dlqEntry struct {
	EventID      uuid.UUID                  `json:"eventId"`
	EventType    enums.OutboxEventType      `json:"eventType"`
	AggregateID  uuid.UUID                  `json:"aggregateId"`
	Reason       enums.OutboxDLQErrorReason `json:"reason"`
	Error        string                     `json:"error,omitempty"`
	AttemptCount int                        `json:"attemptCount"`
	FailedAt     time.Time                  `json:"failedAt"`
	FailedAgo    string                     `json:"failedAgo"`
}

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "List outbox events the publisher dead-lettered",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, err := enums.ParseOutboxDLQErrorReason(dlqReason)
		if err != nil {
			return err
		}
		_ = godotenv.Load()
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		logg := logger.New(logger.Options{ServiceName: serviceKind, Output: os.Stderr})
		dbClient, err := db.New(ctx, cfg.DB, logg)
		if err != nil {
			return err
		}
		defer func() {
			if err := dbClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing database", err)
			}
		}()

		rows, err := outbox.NewDLQRepository(dbClient.DB()).ListRecent(ctx, reason, dlqLimit)
		if err != nil {
			return err
		}
		return writeDLQ(cmd.OutOrStdout(), rows, time.Now())
	},
}

func writeDLQ(w io.Writer, rows []models.OutboxDLQ, now time.Time) error {
	entries := make([]dlqEntry, 0, len(rows))
	for _, row := range rows {
		entry := dlqEntry{
			EventID:      row.EventID,
			EventType:    row.EventType,
			AggregateID:  row.AggregateID,
			Reason:       row.ErrorReason,
			AttemptCount: row.AttemptCount,
			FailedAt:     row.FailedAt,
			FailedAgo:    humanize.RelTime(row.FailedAt, now, "ago", "from now"),
		}
		if row.ErrorMessage != nil {
			entry.Error = *row.ErrorMessage
		}
		entries = append(entries, entry)
	}

	enc := json.NewEncoder(w)
	if prettyFlag {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(entries)
}

func init() {
	dlqCmd.Flags().StringVar(&dlqReason, "reason", "", "Only show one reason: max_attempts, non_retryable or unroutable")
	dlqCmd.Flags().IntVar(&dlqLimit, "limit", 20, "Maximum entries to print, newest first")
	rootCmd.AddCommand(dlqCmd)
}
