package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/dropline-backend/pkg/logger"
)

// gormLogger forwards slow statements and unexpected query errors to the service logger.
// Record-not-found is an expected outcome for lookups and is never logged.
type gormLogger struct {
	logg *logger.Logger
	slow time.Duration
}

func newGormLogger(logg *logger.Logger, slow time.Duration) gormlogger.Interface {
	if logg == nil {
		return gormlogger.Discard
	}
	return &gormLogger{logg: logg, slow: slow}
}

func (l *gormLogger) LogMode(gormlogger.LogLevel) gormlogger.Interface { return l }

func (l *gormLogger) Info(ctx context.Context, msg string, _ ...any) {
	l.logg.Debug(ctx, msg)
}

func (l *gormLogger) Warn(ctx context.Context, msg string, _ ...any) {
	l.logg.Warn(ctx, msg)
}

func (l *gormLogger) Error(ctx context.Context, msg string, _ ...any) {
	l.logg.Error(ctx, msg, errors.New(msg))
}

func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound)
	slow := l.slow > 0 && elapsed > l.slow
	if !failed && !slow {
		return
	}

	sql, rows := fc()
	ctx = l.logg.WithFields(ctx, map[string]any{
		"sql":         sql,
		"rows":        rows,
		"duration_ms": elapsed.Milliseconds(),
	})
	if failed {
		l.logg.Warn(l.logg.WithField(ctx, "error", err.Error()), "db.query_failed")
		return
	}
	l.logg.Warn(ctx, "db.slow_query")
}
