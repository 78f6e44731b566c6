package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"rewind/internal/ids"
)

// Diary is one calendar day's narrative summary, derived from that day's
// activities (spec.md §3).
type Diary struct {
	ID                string
	Date              string // YYYY-MM-DD
	SourceActivityIDs StringSlice
	Content           string
	DeletedAt         *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewDiary constructs a Diary with a fresh id.
func NewDiary(date string, sourceActivityIDs []string, content string) Diary {
	now := time.Now().UTC()
	return Diary{
		ID:                ids.New(),
		Date:              date,
		SourceActivityIDs: sourceActivityIDs,
		Content:           content,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// DiaryRepository is the narrow interface the diary-summarizer depends on.
type DiaryRepository interface {
	Upsert(ctx context.Context, d Diary) error
	GetByDate(ctx context.Context, date string) (Diary, error)
	Delete(ctx context.Context, id string) error
}

type sqliteDiaryRepository struct{ store *Store }

// NewDiaryRepository builds the SQLite-backed DiaryRepository.
func NewDiaryRepository(s *Store) DiaryRepository { return &sqliteDiaryRepository{store: s} }

// Upsert replaces the diary for d.Date, since a date has exactly one diary
// row (UNIQUE constraint on date).
func (r *sqliteDiaryRepository) Upsert(ctx context.Context, d Diary) error {
	if d.ID == "" {
		d.ID = ids.New()
	}
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	return Transact(ctx, r.store.DB(), func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO diaries (id, date, source_activity_ids, content, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(date) DO UPDATE SET
				source_activity_ids = excluded.source_activity_ids,
				content = excluded.content,
				updated_at = excluded.updated_at,
				deleted_at = NULL
		`, d.ID, d.Date, d.SourceActivityIDs, d.Content, isoTime(d.CreatedAt), isoTime(d.UpdatedAt))
		if err != nil {
			return fmt.Errorf("upsert diary: %w", err)
		}
		return nil
	})
}

func (r *sqliteDiaryRepository) GetByDate(ctx context.Context, date string) (Diary, error) {
	row := r.store.DB().QueryRowContext(ctx, `
		SELECT id, date, source_activity_ids, content, deleted_at, created_at, updated_at
		FROM diaries WHERE date = ?
	`, date)
	return scanDiary(row)
}

func (r *sqliteDiaryRepository) Delete(ctx context.Context, id string) error {
	return Transact(ctx, r.store.DB(), func(tx *sql.Tx) error {
		now := isoTime(time.Now().UTC())
		_, err := tx.ExecContext(ctx, `UPDATE diaries SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`, now, now, id)
		return err
	})
}

func scanDiary(row rowScanner) (Diary, error) {
	var d Diary
	var createdAt, updatedAt string
	var deletedAt sql.NullString
	if err := row.Scan(&d.ID, &d.Date, &d.SourceActivityIDs, &d.Content, &deletedAt, &createdAt, &updatedAt); err != nil {
		return Diary{}, fmt.Errorf("scan diary: %w", err)
	}
	d.CreatedAt = parseISOTime(createdAt)
	d.UpdatedAt = parseISOTime(updatedAt)
	if deletedAt.Valid {
		t := parseISOTime(deletedAt.String)
		d.DeletedAt = &t
	}
	return d, nil
}
