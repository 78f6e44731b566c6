package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Thumbnail records the on-disk location of a persisted, downsized
// screenshot. Originals are never stored (spec.md §4.13); hash is the
// perceptual hash C2 computed, so repeated near-identical screenshots
// resolve to the same row.
type Thumbnail struct {
	Hash      string
	Path      string
	Width     int
	Height    int
	Bytes     int
	CreatedAt time.Time
}

// ErrThumbnailNotFound is returned when a hash has no persisted thumbnail.
var ErrThumbnailNotFound = errors.New("thumbnail not found")

// ThumbnailRepository is the narrow interface the knowledge agent (loading
// an action's screenshots by hash) and the retention cleanup pass depend on.
type ThumbnailRepository interface {
	Put(ctx context.Context, t Thumbnail) error
	Get(ctx context.Context, hash string) (Thumbnail, error)
	ListOrphaned(ctx context.Context) ([]Thumbnail, error)
	Delete(ctx context.Context, hash string) error
}

type sqliteThumbnailRepository struct{ store *Store }

// NewThumbnailRepository builds the SQLite-backed ThumbnailRepository.
func NewThumbnailRepository(s *Store) ThumbnailRepository { return &sqliteThumbnailRepository{store: s} }

func (r *sqliteThumbnailRepository) Put(ctx context.Context, t Thumbnail) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	return Transact(ctx, r.store.DB(), func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO thumbnails (hash, path, width, height, bytes, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(hash) DO NOTHING
		`, t.Hash, t.Path, t.Width, t.Height, t.Bytes, isoTime(t.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert thumbnail: %w", err)
		}
		return nil
	})
}

func (r *sqliteThumbnailRepository) Get(ctx context.Context, hash string) (Thumbnail, error) {
	var t Thumbnail
	var createdAt string
	err := r.store.DB().QueryRowContext(ctx, `
		SELECT hash, path, width, height, bytes, created_at FROM thumbnails WHERE hash = ?
	`, hash).Scan(&t.Hash, &t.Path, &t.Width, &t.Height, &t.Bytes, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Thumbnail{}, ErrThumbnailNotFound
	}
	if err != nil {
		return Thumbnail{}, fmt.Errorf("scan thumbnail: %w", err)
	}
	t.CreatedAt = parseISOTime(createdAt)
	return t, nil
}

// ListOrphaned returns thumbnails no longer referenced by any non-deleted
// action's screenshots column, the candidate set for the retention
// cleanup's thumbnail garbage collection (spec.md §9 Open Question #1).
func (r *sqliteThumbnailRepository) ListOrphaned(ctx context.Context) ([]Thumbnail, error) {
	rows, err := r.store.DB().QueryContext(ctx, `
		SELECT hash, path, width, height, bytes, created_at FROM thumbnails th
		WHERE NOT EXISTS (
			SELECT 1 FROM actions a, json_each(a.screenshots) je
			WHERE a.deleted_at IS NULL AND je.value = th.hash
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("query orphaned thumbnails: %w", err)
	}
	defer rows.Close()

	var out []Thumbnail
	for rows.Next() {
		var t Thumbnail
		var createdAt string
		if err := rows.Scan(&t.Hash, &t.Path, &t.Width, &t.Height, &t.Bytes, &createdAt); err != nil {
			return nil, fmt.Errorf("scan thumbnail: %w", err)
		}
		t.CreatedAt = parseISOTime(createdAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *sqliteThumbnailRepository) Delete(ctx context.Context, hash string) error {
	return Transact(ctx, r.store.DB(), func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM thumbnails WHERE hash = ?`, hash)
		return err
	})
}
