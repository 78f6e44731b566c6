package store

import (
	"context"
	"fmt"
	"os"
	"time"
)

// retentionTables lists every mutable table carrying deleted_at/updated_at,
// in FK-safe order (messages cascade off conversations automatically and
// are excluded here).
var retentionTables = []string{
	"actions", "events", "activities", "knowledge", "combined_knowledge",
	"todos", "combined_todos", "diaries",
}

// CleanupResult reports what a single Cleanup pass removed.
type CleanupResult struct {
	HardDeletedByTable map[string]int64
	OrphanedThumbnails int64
}

// Cleanup hard-deletes rows soft-deleted more than retentionDays ago across
// every retentionTables entry, then garbage-collects thumbnails no longer
// referenced by any surviving action (spec.md §4.13 / §9 open question #1).
// It is meant to run once per day from the coordinator's cron scheduler.
func Cleanup(ctx context.Context, s *Store, thumbnails ThumbnailRepository, retentionDays int) (CleanupResult, error) {
	cutoff := isoTime(time.Now().UTC().AddDate(0, 0, -retentionDays))
	result := CleanupResult{HardDeletedByTable: make(map[string]int64)}

	for _, table := range retentionTables {
		var n int64
		err := RetryWithBackoff(ctx, func() error {
			res, err := s.DB().ExecContext(ctx,
				fmt.Sprintf(`DELETE FROM %s WHERE deleted_at IS NOT NULL AND updated_at < ?`, table), cutoff)
			if err != nil {
				return fmt.Errorf("hard delete from %s: %w", table, err)
			}
			n, _ = res.RowsAffected()
			return nil
		})
		if err != nil {
			return result, err
		}
		result.HardDeletedByTable[table] = n
	}

	orphaned, err := thumbnails.ListOrphaned(ctx)
	if err != nil {
		return result, fmt.Errorf("list orphaned thumbnails: %w", err)
	}
	for _, t := range orphaned {
		if err := os.Remove(t.Path); err != nil && !os.IsNotExist(err) {
			return result, fmt.Errorf("remove thumbnail file %s: %w", t.Path, err)
		}
		if err := thumbnails.Delete(ctx, t.Hash); err != nil {
			return result, fmt.Errorf("delete thumbnail row %s: %w", t.Hash, err)
		}
		result.OrphanedThumbnails++
	}

	return result, nil
}
