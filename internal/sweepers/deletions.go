package sweepers

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/dropline-backend/pkg/storage"
)

// KeyError is a storage key the deletion sweep must retry on its next run.
type KeyError struct {
	Key   string `json:"key"`
	Error string `json:"error"`
}

// DeletionResult summarizes one deletion run. RemainingCount is the due backlog
// left after this batch, including rows that failed.
type DeletionResult struct {
	DeletedCount   int        `json:"deletedCount"`
	Errors         []KeyError `json:"errors"`
	RemainingCount int64      `json:"remainingCount"`
}

// SweepDeletions removes up to one batch of due objects from storage. A key the
// store no longer has counts as deleted; any other failure stays queued.
func (s *Service) SweepDeletions(ctx context.Context) (*DeletionResult, error) {
	now := s.now()
	rows, err := s.deletions.ListDue(ctx, now, s.deletionBatch)
	if err != nil {
		return nil, fmt.Errorf("list due deletions: %w", err)
	}

	result := &DeletionResult{Errors: []KeyError{}}
	for _, row := range rows {
		err := s.store.DeleteObject(ctx, row.StorageKey)
		if err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
			result.Errors = append(result.Errors, KeyError{Key: row.StorageKey, Error: err.Error()})
			if recErr := s.deletions.RecordFailure(ctx, row.ID, err.Error()); recErr != nil {
				s.logg.Error(s.logg.WithField(ctx, "storage_key", row.StorageKey), "record deletion failure", recErr)
			}
			continue
		}
		if err := s.deletions.Delete(ctx, row.ID); err != nil {
			result.Errors = append(result.Errors, KeyError{Key: row.StorageKey, Error: fmt.Sprintf("remove pending row: %v", err)})
			continue
		}
		result.DeletedCount++
	}

	remaining, err := s.deletions.CountDue(ctx, now)
	if err != nil {
		return result, fmt.Errorf("count remaining deletions: %w", err)
	}
	result.RemainingCount = remaining

	s.metrics.ObserveDeletionSweep(result.DeletedCount, len(result.Errors), remaining)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"batch":     len(rows),
		"deleted":   result.DeletedCount,
		"errors":    len(result.Errors),
		"remaining": remaining,
	}), "deletion sweep complete")
	return result, nil
}
