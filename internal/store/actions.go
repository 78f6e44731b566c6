package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rewind/internal/ids"
)

// Action is the persisted form of spec.md §3's Action entity.
type Action struct {
	ID                 string
	Title              string
	Description        string
	Keywords           StringSlice
	Timestamp          time.Time
	Screenshots        StringSlice
	CreatedAt          time.Time
	KnowledgeExtracted bool
	ExtractKnowledge   bool
	DeletedAt          *time.Time
	UpdatedAt          time.Time
}

// NewAction constructs an Action with a fresh id and timestamps set to now,
// ready for ActionRepository.Create.
func NewAction(title, description string, keywords, screenshots []string, timestamp time.Time, extractKnowledge bool) Action {
	now := time.Now().UTC()
	return Action{
		ID:               ids.New(),
		Title:            title,
		Description:      description,
		Keywords:         keywords,
		Timestamp:        timestamp,
		Screenshots:      screenshots,
		CreatedAt:        now,
		ExtractKnowledge: extractKnowledge,
		UpdatedAt:        now,
	}
}

// ActionRepository is the narrow interface C4/C5/C7/C8 depend on, mirroring
// the teacher's persistence.ChatStore / pgChatStore split so the pipeline
// depends on an interface rather than a concrete store.
type ActionRepository interface {
	Create(ctx context.Context, a Action) error
	Get(ctx context.Context, id string) (Action, error)
	ListSince(ctx context.Context, since time.Time) ([]Action, error)
	ListUnaggregated(ctx context.Context, since time.Time) ([]Action, error)
	ListForKnowledgeCatchup(ctx context.Context, limit int) ([]Action, error)
	MarkKnowledgeExtracted(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

type sqliteActionRepository struct {
	store *Store
}

// NewActionRepository builds the SQLite-backed ActionRepository.
func NewActionRepository(s *Store) ActionRepository {
	return &sqliteActionRepository{store: s}
}

func (r *sqliteActionRepository) Create(ctx context.Context, a Action) error {
	return Transact(ctx, r.store.DB(), func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO actions (id, title, description, keywords, timestamp, screenshots, created_at, knowledge_extracted, extract_knowledge, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, a.ID, a.Title, a.Description, a.Keywords, isoTime(a.Timestamp), a.Screenshots, isoTime(a.CreatedAt),
			boolToInt(a.KnowledgeExtracted), boolToInt(a.ExtractKnowledge), isoTime(a.UpdatedAt))
		if err != nil {
			return fmt.Errorf("insert action: %w", err)
		}
		return nil
	})
}

func (r *sqliteActionRepository) Get(ctx context.Context, id string) (Action, error) {
	row := r.store.DB().QueryRowContext(ctx, `
		SELECT id, title, description, keywords, timestamp, screenshots, created_at, knowledge_extracted, extract_knowledge, deleted_at, updated_at
		FROM actions WHERE id = ?
	`, id)
	return scanAction(row)
}

func (r *sqliteActionRepository) ListSince(ctx context.Context, since time.Time) ([]Action, error) {
	rows, err := r.store.DB().QueryContext(ctx, `
		SELECT id, title, description, keywords, timestamp, screenshots, created_at, knowledge_extracted, extract_knowledge, deleted_at, updated_at
		FROM actions WHERE timestamp >= ? AND deleted_at IS NULL ORDER BY timestamp ASC
	`, isoTime(since))
	if err != nil {
		return nil, fmt.Errorf("query actions since %s: %w", since, err)
	}
	defer rows.Close()
	return scanActions(rows)
}

// ListUnaggregated returns non-deleted actions since `since` whose id is not
// referenced by any non-deleted event's source_action_ids - the candidate
// set for C5's event clustering (spec.md §4.5 step 1).
func (r *sqliteActionRepository) ListUnaggregated(ctx context.Context, since time.Time) ([]Action, error) {
	rows, err := r.store.DB().QueryContext(ctx, `
		SELECT a.id, a.title, a.description, a.keywords, a.timestamp, a.screenshots, a.created_at, a.knowledge_extracted, a.extract_knowledge, a.deleted_at, a.updated_at
		FROM actions a
		WHERE a.timestamp >= ? AND a.deleted_at IS NULL
		  AND NOT EXISTS (
		    SELECT 1 FROM events e, json_each(e.source_action_ids) je
		    WHERE e.deleted_at IS NULL AND je.value = a.id
		  )
		ORDER BY a.timestamp ASC
	`, isoTime(since))
	if err != nil {
		return nil, fmt.Errorf("query unaggregated actions: %w", err)
	}
	defer rows.Close()
	return scanActions(rows)
}

func (r *sqliteActionRepository) ListForKnowledgeCatchup(ctx context.Context, limit int) ([]Action, error) {
	rows, err := r.store.DB().QueryContext(ctx, `
		SELECT id, title, description, keywords, timestamp, screenshots, created_at, knowledge_extracted, extract_knowledge, deleted_at, updated_at
		FROM actions
		WHERE extract_knowledge = 1 AND knowledge_extracted = 0 AND deleted_at IS NULL
		ORDER BY created_at ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query knowledge catchup actions: %w", err)
	}
	defer rows.Close()
	return scanActions(rows)
}

func (r *sqliteActionRepository) MarkKnowledgeExtracted(ctx context.Context, id string) error {
	return Transact(ctx, r.store.DB(), func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE actions SET knowledge_extracted = 1, updated_at = ? WHERE id = ?`, isoTime(time.Now().UTC()), id)
		return err
	})
}

// Delete is a soft delete and is idempotent: deleting an already-deleted
// row is a no-op that still returns success (spec.md §8).
func (r *sqliteActionRepository) Delete(ctx context.Context, id string) error {
	return Transact(ctx, r.store.DB(), func(tx *sql.Tx) error {
		now := isoTime(time.Now().UTC())
		_, err := tx.ExecContext(ctx, `UPDATE actions SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`, now, now, id)
		return err
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAction(row rowScanner) (Action, error) {
	var a Action
	var timestamp, createdAt, updatedAt string
	var deletedAt sql.NullString
	var knowledgeExtracted, extractKnowledge int
	err := row.Scan(&a.ID, &a.Title, &a.Description, &a.Keywords, &timestamp, &a.Screenshots, &createdAt,
		&knowledgeExtracted, &extractKnowledge, &deletedAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Action{}, err
		}
		return Action{}, fmt.Errorf("scan action: %w", err)
	}
	a.Timestamp = parseISOTime(timestamp)
	a.CreatedAt = parseISOTime(createdAt)
	a.UpdatedAt = parseISOTime(updatedAt)
	a.KnowledgeExtracted = knowledgeExtracted != 0
	a.ExtractKnowledge = extractKnowledge != 0
	if deletedAt.Valid {
		t := parseISOTime(deletedAt.String)
		a.DeletedAt = &t
	}
	return a, nil
}

func scanActions(rows *sql.Rows) ([]Action, error) {
	var out []Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func isoTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseISOTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		if t2, err2 := time.Parse(time.RFC3339, s); err2 == nil {
			return t2
		}
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
