package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"rewind/internal/ids"
)

// Activity is the persisted form of spec.md §3's Activity entity.
type Activity struct {
	ID                      string
	Title                   string
	Description             string
	StartTime               time.Time
	EndTime                 time.Time
	SourceEventIDs          StringSlice
	SessionDurationMinutes  *float64
	TopicTags               StringSlice
	DeletedAt               *time.Time
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// NewActivity constructs an Activity with a fresh id, ready for
// ActivityRepository.Create.
func NewActivity(title, description string, sourceEventIDs, topicTags []string, start, end time.Time) Activity {
	now := time.Now().UTC()
	minutes := end.Sub(start).Minutes()
	return Activity{
		ID:                     ids.New(),
		Title:                  title,
		Description:            description,
		StartTime:              start,
		EndTime:                end,
		SourceEventIDs:         sourceEventIDs,
		TopicTags:              topicTags,
		SessionDurationMinutes: &minutes,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}

// SessionPreference is a learned merge/split pattern (spec.md §4.6
// "Learning from user edits").
type SessionPreference struct {
	ID         string
	Pattern    string
	Kind       string // "merge" | "split"
	Confidence float64
	CreatedAt  time.Time
}

// ActivityRepository is the narrow interface C6/C11 depend on.
type ActivityRepository interface {
	Create(ctx context.Context, a Activity) error
	Get(ctx context.Context, id string) (Activity, error)
	ListOverlapping(ctx context.Context, start, end time.Time) ([]Activity, error)
	ListAll(ctx context.Context) ([]Activity, error)
	Update(ctx context.Context, a Activity) error
	Delete(ctx context.Context, id string) error

	RecordPreference(ctx context.Context, p SessionPreference) error
	RecentPreferences(ctx context.Context, kind string, limit int) ([]SessionPreference, error)
}

type sqliteActivityRepository struct{ store *Store }

// NewActivityRepository builds the SQLite-backed ActivityRepository.
func NewActivityRepository(s *Store) ActivityRepository { return &sqliteActivityRepository{store: s} }

func (r *sqliteActivityRepository) Create(ctx context.Context, a Activity) error {
	return Transact(ctx, r.store.DB(), func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO activities (id, title, description, start_time, end_time, source_event_ids, session_duration_minutes, topic_tags, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, a.ID, a.Title, a.Description, isoTime(a.StartTime), isoTime(a.EndTime), a.SourceEventIDs,
			a.SessionDurationMinutes, a.TopicTags, isoTime(a.CreatedAt), isoTime(a.UpdatedAt))
		if err != nil {
			return fmt.Errorf("insert activity: %w", err)
		}
		return nil
	})
}

func (r *sqliteActivityRepository) Get(ctx context.Context, id string) (Activity, error) {
	row := r.store.DB().QueryRowContext(ctx, `
		SELECT id, title, description, start_time, end_time, source_event_ids, session_duration_minutes, topic_tags, deleted_at, created_at, updated_at
		FROM activities WHERE id = ?
	`, id)
	return scanActivity(row)
}

// ListOverlapping returns non-deleted activities whose interval intersects
// [start, end), used by C6's overlap-merge pass to enforce the
// never-overlap invariant.
func (r *sqliteActivityRepository) ListOverlapping(ctx context.Context, start, end time.Time) ([]Activity, error) {
	rows, err := r.store.DB().QueryContext(ctx, `
		SELECT id, title, description, start_time, end_time, source_event_ids, session_duration_minutes, topic_tags, deleted_at, created_at, updated_at
		FROM activities
		WHERE deleted_at IS NULL AND start_time < ? AND end_time > ?
		ORDER BY start_time ASC
	`, isoTime(end), isoTime(start))
	if err != nil {
		return nil, fmt.Errorf("query overlapping activities: %w", err)
	}
	defer rows.Close()
	return scanActivities(rows)
}

func (r *sqliteActivityRepository) ListAll(ctx context.Context) ([]Activity, error) {
	rows, err := r.store.DB().QueryContext(ctx, `
		SELECT id, title, description, start_time, end_time, source_event_ids, session_duration_minutes, topic_tags, deleted_at, created_at, updated_at
		FROM activities WHERE deleted_at IS NULL ORDER BY start_time ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query activities: %w", err)
	}
	defer rows.Close()
	return scanActivities(rows)
}

func (r *sqliteActivityRepository) Update(ctx context.Context, a Activity) error {
	return Transact(ctx, r.store.DB(), func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE activities SET title = ?, description = ?, start_time = ?, end_time = ?, source_event_ids = ?,
				session_duration_minutes = ?, topic_tags = ?, updated_at = ?
			WHERE id = ?
		`, a.Title, a.Description, isoTime(a.StartTime), isoTime(a.EndTime), a.SourceEventIDs,
			a.SessionDurationMinutes, a.TopicTags, isoTime(time.Now().UTC()), a.ID)
		return err
	})
}

func (r *sqliteActivityRepository) Delete(ctx context.Context, id string) error {
	return Transact(ctx, r.store.DB(), func(tx *sql.Tx) error {
		now := isoTime(time.Now().UTC())
		_, err := tx.ExecContext(ctx, `UPDATE activities SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`, now, now, id)
		return err
	})
}

func (r *sqliteActivityRepository) RecordPreference(ctx context.Context, p SessionPreference) error {
	if p.ID == "" {
		p.ID = ids.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	return Transact(ctx, r.store.DB(), func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO session_preferences (id, pattern, kind, confidence, created_at) VALUES (?, ?, ?, ?, ?)
		`, p.ID, p.Pattern, p.Kind, p.Confidence, isoTime(p.CreatedAt))
		return err
	})
}

func (r *sqliteActivityRepository) RecentPreferences(ctx context.Context, kind string, limit int) ([]SessionPreference, error) {
	rows, err := r.store.DB().QueryContext(ctx, `
		SELECT id, pattern, kind, confidence, created_at FROM session_preferences
		WHERE kind = ? ORDER BY created_at DESC LIMIT ?
	`, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("query session preferences: %w", err)
	}
	defer rows.Close()

	var out []SessionPreference
	for rows.Next() {
		var p SessionPreference
		var createdAt string
		if err := rows.Scan(&p.ID, &p.Pattern, &p.Kind, &p.Confidence, &createdAt); err != nil {
			return nil, fmt.Errorf("scan session preference: %w", err)
		}
		p.CreatedAt = parseISOTime(createdAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanActivity(row rowScanner) (Activity, error) {
	var a Activity
	var start, end, createdAt, updatedAt string
	var deletedAt sql.NullString
	var durationMinutes sql.NullFloat64
	if err := row.Scan(&a.ID, &a.Title, &a.Description, &start, &end, &a.SourceEventIDs, &durationMinutes,
		&a.TopicTags, &deletedAt, &createdAt, &updatedAt); err != nil {
		return Activity{}, fmt.Errorf("scan activity: %w", err)
	}
	a.StartTime = parseISOTime(start)
	a.EndTime = parseISOTime(end)
	a.CreatedAt = parseISOTime(createdAt)
	a.UpdatedAt = parseISOTime(updatedAt)
	if durationMinutes.Valid {
		a.SessionDurationMinutes = &durationMinutes.Float64
	}
	if deletedAt.Valid {
		t := parseISOTime(deletedAt.String)
		a.DeletedAt = &t
	}
	return a, nil
}

func scanActivities(rows *sql.Rows) ([]Activity, error) {
	var out []Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
