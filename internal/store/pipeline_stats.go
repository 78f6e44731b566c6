package store

import (
	"context"
	"database/sql"
	"fmt"
)

// PipelineStatsRepository persists the named counters each agent stage
// exposes through coordinator.App.PipelineStats() (SPEC_FULL.md §5). Counters
// are additive; Increment is safe to call concurrently from multiple agent
// goroutines since each call is its own transaction.
type PipelineStatsRepository interface {
	Increment(ctx context.Context, stage, counterName string, delta int64) error
	Snapshot(ctx context.Context, stage string) (map[string]int64, error)
	All(ctx context.Context) (map[string]map[string]int64, error)
}

type sqlitePipelineStatsRepository struct{ store *Store }

// NewPipelineStatsRepository builds the SQLite-backed PipelineStatsRepository.
func NewPipelineStatsRepository(s *Store) PipelineStatsRepository {
	return &sqlitePipelineStatsRepository{store: s}
}

func (r *sqlitePipelineStatsRepository) Increment(ctx context.Context, stage, counterName string, delta int64) error {
	return Transact(ctx, r.store.DB(), func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO pipeline_stats (stage, counter_name, value) VALUES (?, ?, ?)
			ON CONFLICT(stage, counter_name) DO UPDATE SET value = value + excluded.value
		`, stage, counterName, delta)
		if err != nil {
			return fmt.Errorf("increment pipeline stat %s.%s: %w", stage, counterName, err)
		}
		return nil
	})
}

func (r *sqlitePipelineStatsRepository) Snapshot(ctx context.Context, stage string) (map[string]int64, error) {
	rows, err := r.store.DB().QueryContext(ctx, `SELECT counter_name, value FROM pipeline_stats WHERE stage = ?`, stage)
	if err != nil {
		return nil, fmt.Errorf("query pipeline stats for %s: %w", stage, err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var name string
		var value int64
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scan pipeline stat: %w", err)
		}
		out[name] = value
	}
	return out, rows.Err()
}

func (r *sqlitePipelineStatsRepository) All(ctx context.Context) (map[string]map[string]int64, error) {
	rows, err := r.store.DB().QueryContext(ctx, `SELECT stage, counter_name, value FROM pipeline_stats`)
	if err != nil {
		return nil, fmt.Errorf("query all pipeline stats: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[string]int64)
	for rows.Next() {
		var stage, name string
		var value int64
		if err := rows.Scan(&stage, &name, &value); err != nil {
			return nil, fmt.Errorf("scan pipeline stat: %w", err)
		}
		if out[stage] == nil {
			out[stage] = make(map[string]int64)
		}
		out[stage][name] = value
	}
	return out, rows.Err()
}
