package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// TokenUsageRecord is one append-only billing entry; request_type lets cost
// be attributed per call site (scene, action, event, activity, knowledge,
// todo, chat, supervisor).
type TokenUsageRecord struct {
	ID               int64
	Timestamp        time.Time
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Cost             float64
	RequestType      string
}

// TokenUsageRepository stores and queries token-usage records. The
// coordinator constructs one, but no agent or LLM call site calls Record,
// so a pipeline run writes nothing to llm_token_usage.
type TokenUsageRepository interface {
	Record(ctx context.Context, rec TokenUsageRecord) error
	SumCostSince(ctx context.Context, since time.Time) (float64, error)
	ListSince(ctx context.Context, since time.Time) ([]TokenUsageRecord, error)
}

type sqliteTokenUsageRepository struct{ store *Store }

// NewTokenUsageRepository builds the SQLite-backed TokenUsageRepository.
func NewTokenUsageRepository(s *Store) TokenUsageRepository {
	return &sqliteTokenUsageRepository{store: s}
}

func (r *sqliteTokenUsageRepository) Record(ctx context.Context, rec TokenUsageRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	return Transact(ctx, r.store.DB(), func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO llm_token_usage (timestamp, model, prompt_tokens, completion_tokens, total_tokens, cost, request_type)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, isoTime(rec.Timestamp), rec.Model, rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens, rec.Cost, rec.RequestType)
		if err != nil {
			return fmt.Errorf("insert token usage: %w", err)
		}
		return nil
	})
}

func (r *sqliteTokenUsageRepository) SumCostSince(ctx context.Context, since time.Time) (float64, error) {
	var total sql.NullFloat64
	err := r.store.DB().QueryRowContext(ctx, `SELECT SUM(cost) FROM llm_token_usage WHERE timestamp >= ?`, isoTime(since)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum token usage cost: %w", err)
	}
	return total.Float64, nil
}

func (r *sqliteTokenUsageRepository) ListSince(ctx context.Context, since time.Time) ([]TokenUsageRecord, error) {
	rows, err := r.store.DB().QueryContext(ctx, `
		SELECT id, timestamp, model, prompt_tokens, completion_tokens, total_tokens, cost, request_type
		FROM llm_token_usage WHERE timestamp >= ? ORDER BY timestamp ASC
	`, isoTime(since))
	if err != nil {
		return nil, fmt.Errorf("query token usage: %w", err)
	}
	defer rows.Close()

	var out []TokenUsageRecord
	for rows.Next() {
		var rec TokenUsageRecord
		var ts string
		if err := rows.Scan(&rec.ID, &ts, &rec.Model, &rec.PromptTokens, &rec.CompletionTokens, &rec.TotalTokens, &rec.Cost, &rec.RequestType); err != nil {
			return nil, fmt.Errorf("scan token usage: %w", err)
		}
		rec.Timestamp = parseISOTime(ts)
		out = append(out, rec)
	}
	return out, rows.Err()
}
