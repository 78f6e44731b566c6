package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"rewind/internal/ids"
)

// Knowledge is the persisted form of spec.md §3's Knowledge entity.
type Knowledge struct {
	ID             string
	Title          string
	Description    string
	Keywords       StringSlice
	CreatedAt      time.Time
	SourceActionID *string
	MergedFromIDs  StringSlice // set only when read from combined_knowledge
	DeletedAt      *time.Time
	UpdatedAt      time.Time
}

// NewKnowledge constructs a Knowledge item with a fresh id.
func NewKnowledge(title, description string, keywords []string, sourceActionID *string) Knowledge {
	now := time.Now().UTC()
	return Knowledge{
		ID:             ids.New(),
		Title:          title,
		Description:    description,
		Keywords:       keywords,
		CreatedAt:      now,
		SourceActionID: sourceActionID,
		UpdatedAt:      now,
	}
}

// KnowledgeRepository is the narrow interface C7/C9/C11 depend on.
//
// Read precedence (spec.md §4.7.4): List always returns the merged variant
// when present, falling back to the primary table for items no merge row
// covers.
type KnowledgeRepository interface {
	Create(ctx context.Context, k Knowledge) error
	List(ctx context.Context) ([]Knowledge, error)
	ListUnmerged(ctx context.Context) ([]Knowledge, error)
	CreateMerged(ctx context.Context, merged Knowledge, sourceIDs []string) error
	Delete(ctx context.Context, id string) error
}

type sqliteKnowledgeRepository struct{ store *Store }

// NewKnowledgeRepository builds the SQLite-backed KnowledgeRepository.
func NewKnowledgeRepository(s *Store) KnowledgeRepository { return &sqliteKnowledgeRepository{store: s} }

func (r *sqliteKnowledgeRepository) Create(ctx context.Context, k Knowledge) error {
	return Transact(ctx, r.store.DB(), func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO knowledge (id, title, description, keywords, created_at, source_action_id, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, k.ID, k.Title, k.Description, k.Keywords, isoTime(k.CreatedAt), k.SourceActionID, isoTime(k.UpdatedAt))
		if err != nil {
			return fmt.Errorf("insert knowledge: %w", err)
		}
		return nil
	})
}

// List returns the merged precedence view: every non-deleted
// combined_knowledge row, plus primary knowledge rows not covered by any
// non-deleted merge row's merged_from_ids (spec.md §8 "Merged precedence").
func (r *sqliteKnowledgeRepository) List(ctx context.Context) ([]Knowledge, error) {
	rows, err := r.store.DB().QueryContext(ctx, `
		SELECT id, title, description, keywords, created_at, NULL AS source_action_id, merged_from_ids, deleted_at, updated_at
		FROM combined_knowledge WHERE deleted_at IS NULL
		UNION ALL
		SELECT id, title, description, keywords, created_at, source_action_id, '[]' AS merged_from_ids, deleted_at, updated_at
		FROM knowledge k WHERE k.deleted_at IS NULL
		  AND NOT EXISTS (
		    SELECT 1 FROM combined_knowledge c, json_each(c.merged_from_ids) je
		    WHERE c.deleted_at IS NULL AND je.value = k.id
		  )
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query knowledge list: %w", err)
	}
	defer rows.Close()
	return scanKnowledge(rows)
}

func (r *sqliteKnowledgeRepository) ListUnmerged(ctx context.Context) ([]Knowledge, error) {
	rows, err := r.store.DB().QueryContext(ctx, `
		SELECT id, title, description, keywords, created_at, source_action_id, '[]' AS merged_from_ids, deleted_at, updated_at
		FROM knowledge k WHERE k.deleted_at IS NULL
		  AND NOT EXISTS (
		    SELECT 1 FROM combined_knowledge c, json_each(c.merged_from_ids) je
		    WHERE c.deleted_at IS NULL AND je.value = k.id
		  )
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query unmerged knowledge: %w", err)
	}
	defer rows.Close()
	return scanKnowledge(rows)
}

// CreateMerged writes merged into combined_knowledge and soft-deletes every
// row in sourceIDs (spec.md §4.7.2).
func (r *sqliteKnowledgeRepository) CreateMerged(ctx context.Context, merged Knowledge, sourceIDs []string) error {
	if merged.ID == "" {
		merged.ID = ids.New()
	}
	if merged.CreatedAt.IsZero() {
		merged.CreatedAt = time.Now().UTC()
	}
	now := isoTime(time.Now().UTC())
	return Transact(ctx, r.store.DB(), func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO combined_knowledge (id, title, description, keywords, created_at, merged_from_ids, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, merged.ID, merged.Title, merged.Description, merged.Keywords, isoTime(merged.CreatedAt), StringSlice(sourceIDs), now)
		if err != nil {
			return fmt.Errorf("insert combined knowledge: %w", err)
		}
		for _, id := range sourceIDs {
			if _, err := tx.ExecContext(ctx, `UPDATE knowledge SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`, now, now, id); err != nil {
				return fmt.Errorf("soft delete merged source %s: %w", id, err)
			}
		}
		return nil
	})
}

// Delete soft-deletes by id, whichever table it lives in. Idempotent.
func (r *sqliteKnowledgeRepository) Delete(ctx context.Context, id string) error {
	now := isoTime(time.Now().UTC())
	return Transact(ctx, r.store.DB(), func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE knowledge SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`, now, now, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE combined_knowledge SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`, now, now, id)
		return err
	})
}

func scanKnowledge(rows *sql.Rows) ([]Knowledge, error) {
	var out []Knowledge
	for rows.Next() {
		var k Knowledge
		var createdAt, updatedAt string
		var sourceActionID, deletedAt sql.NullString
		if err := rows.Scan(&k.ID, &k.Title, &k.Description, &k.Keywords, &createdAt, &sourceActionID, &k.MergedFromIDs, &deletedAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan knowledge: %w", err)
		}
		k.CreatedAt = parseISOTime(createdAt)
		k.UpdatedAt = parseISOTime(updatedAt)
		if sourceActionID.Valid {
			v := sourceActionID.String
			k.SourceActionID = &v
		}
		if deletedAt.Valid {
			t := parseISOTime(deletedAt.String)
			k.DeletedAt = &t
		}
		out = append(out, k)
	}
	return out, rows.Err()
}
