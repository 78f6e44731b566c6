package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rewind/internal/ids"
)

// LLMModelConfig is a configured LLM endpoint (spec.md §3). api_url makes
// each row target an arbitrary OpenAI-compatible endpoint, which is why
// internal/llm/openaicompat is the sole provider implementation rather than
// per-vendor SDKs.
type LLMModelConfig struct {
	ID                string
	Name              string
	Provider          string
	APIURL            string
	ModelName         string
	InputTokenPrice   float64
	OutputTokenPrice  float64
	Currency          string
	APIKey            string
	IsActive          bool
	LastTestStatus    *string
	LastTestedAt      *time.Time
	LastTestError     *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewLLMModelConfig constructs an LLMModelConfig with a fresh id, inactive
// by default.
func NewLLMModelConfig(name, provider, apiURL, modelName, apiKey string) LLMModelConfig {
	now := time.Now().UTC()
	return LLMModelConfig{
		ID:        ids.New(),
		Name:      name,
		Provider:  provider,
		APIURL:    apiURL,
		ModelName: modelName,
		Currency:  "USD",
		APIKey:    apiKey,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ErrModelNotFound is returned when no active model is configured.
var ErrModelNotFound = errors.New("llm model config not found")

// LLMModelRepository is the narrow interface agents use to resolve the
// currently active model. The partial unique index on is_active enforces
// "at most one active row" at the database layer; SetActive additionally
// deactivates every other row in the same transaction so the invariant
// holds even across retried writes.
type LLMModelRepository interface {
	Create(ctx context.Context, m LLMModelConfig) error
	Get(ctx context.Context, id string) (LLMModelConfig, error)
	List(ctx context.Context) ([]LLMModelConfig, error)
	Active(ctx context.Context) (LLMModelConfig, error)
	SetActive(ctx context.Context, id string) error
	RecordTestResult(ctx context.Context, id string, status string, testErr *string) error
	Delete(ctx context.Context, id string) error
}

type sqliteLLMModelRepository struct{ store *Store }

// NewLLMModelRepository builds the SQLite-backed LLMModelRepository.
func NewLLMModelRepository(s *Store) LLMModelRepository { return &sqliteLLMModelRepository{store: s} }

func (r *sqliteLLMModelRepository) Create(ctx context.Context, m LLMModelConfig) error {
	return Transact(ctx, r.store.DB(), func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO llm_models (id, name, provider, api_url, model_name, input_token_price, output_token_price,
				currency, api_key, is_active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, m.ID, m.Name, m.Provider, m.APIURL, m.ModelName, m.InputTokenPrice, m.OutputTokenPrice,
			m.Currency, m.APIKey, boolToInt(m.IsActive), isoTime(m.CreatedAt), isoTime(m.UpdatedAt))
		if err != nil {
			return fmt.Errorf("insert llm model config: %w", err)
		}
		return nil
	})
}

func (r *sqliteLLMModelRepository) Get(ctx context.Context, id string) (LLMModelConfig, error) {
	row := r.store.DB().QueryRowContext(ctx, modelSelectColumns+` FROM llm_models WHERE id = ?`, id)
	return scanModel(row)
}

func (r *sqliteLLMModelRepository) List(ctx context.Context) ([]LLMModelConfig, error) {
	rows, err := r.store.DB().QueryContext(ctx, modelSelectColumns+` FROM llm_models ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("query llm models: %w", err)
	}
	defer rows.Close()

	var out []LLMModelConfig
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *sqliteLLMModelRepository) Active(ctx context.Context) (LLMModelConfig, error) {
	row := r.store.DB().QueryRowContext(ctx, modelSelectColumns+` FROM llm_models WHERE is_active = 1 LIMIT 1`)
	m, err := scanModel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return LLMModelConfig{}, ErrModelNotFound
	}
	return m, err
}

// SetActive atomically deactivates every other row and activates id,
// preserving the "at most one active model" invariant.
func (r *sqliteLLMModelRepository) SetActive(ctx context.Context, id string) error {
	return Transact(ctx, r.store.DB(), func(tx *sql.Tx) error {
		now := isoTime(time.Now().UTC())
		if _, err := tx.ExecContext(ctx, `UPDATE llm_models SET is_active = 0, updated_at = ? WHERE is_active = 1`, now); err != nil {
			return fmt.Errorf("deactivate current model: %w", err)
		}
		res, err := tx.ExecContext(ctx, `UPDATE llm_models SET is_active = 1, updated_at = ? WHERE id = ?`, now, id)
		if err != nil {
			return fmt.Errorf("activate model %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrModelNotFound
		}
		return nil
	})
}

func (r *sqliteLLMModelRepository) RecordTestResult(ctx context.Context, id string, status string, testErr *string) error {
	return Transact(ctx, r.store.DB(), func(tx *sql.Tx) error {
		now := isoTime(time.Now().UTC())
		_, err := tx.ExecContext(ctx, `
			UPDATE llm_models SET last_test_status = ?, last_tested_at = ?, last_test_error = ?, updated_at = ? WHERE id = ?
		`, status, now, testErr, now, id)
		return err
	})
}

func (r *sqliteLLMModelRepository) Delete(ctx context.Context, id string) error {
	return Transact(ctx, r.store.DB(), func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM llm_models WHERE id = ?`, id)
		return err
	})
}

const modelSelectColumns = `
	SELECT id, name, provider, api_url, model_name, input_token_price, output_token_price,
		currency, api_key, is_active, last_test_status, last_tested_at, last_test_error, created_at, updated_at`

func scanModel(row rowScanner) (LLMModelConfig, error) {
	var m LLMModelConfig
	var isActive int
	var lastTestStatus, lastTestError, lastTestedAt sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&m.ID, &m.Name, &m.Provider, &m.APIURL, &m.ModelName, &m.InputTokenPrice, &m.OutputTokenPrice,
		&m.Currency, &m.APIKey, &isActive, &lastTestStatus, &lastTestedAt, &lastTestError, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LLMModelConfig{}, err
		}
		return LLMModelConfig{}, fmt.Errorf("scan llm model config: %w", err)
	}
	m.IsActive = isActive != 0
	m.CreatedAt = parseISOTime(createdAt)
	m.UpdatedAt = parseISOTime(updatedAt)
	if lastTestStatus.Valid {
		v := lastTestStatus.String
		m.LastTestStatus = &v
	}
	if lastTestError.Valid {
		v := lastTestError.String
		m.LastTestError = &v
	}
	if lastTestedAt.Valid {
		t := parseISOTime(lastTestedAt.String)
		m.LastTestedAt = &t
	}
	return m, nil
}
