package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"rewind/internal/ids"
)

// Event is the persisted form of spec.md §3's Event entity.
type Event struct {
	ID                       string
	Title                    string
	Description              string
	Keywords                 StringSlice
	StartTime                time.Time
	EndTime                  time.Time
	SourceActionIDs          StringSlice
	AggregatedIntoActivityID *string
	DeletedAt                *time.Time
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// NewEvent constructs an Event with a fresh id, ready for EventRepository.Create.
func NewEvent(title, description string, keywords, sourceActionIDs []string, start, end time.Time) Event {
	now := time.Now().UTC()
	return Event{
		ID:              ids.New(),
		Title:           title,
		Description:     description,
		Keywords:        keywords,
		StartTime:       start,
		EndTime:         end,
		SourceActionIDs: sourceActionIDs,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// EventRepository is the narrow interface C5/C6 depend on.
type EventRepository interface {
	Create(ctx context.Context, e Event) error
	ListCandidatesForSession(ctx context.Context, minActions int, minDurationSeconds int) ([]Event, error)
	MarkAggregated(ctx context.Context, id, activityID string) error
	Delete(ctx context.Context, id string) error
}

type sqliteEventRepository struct{ store *Store }

// NewEventRepository builds the SQLite-backed EventRepository.
func NewEventRepository(s *Store) EventRepository { return &sqliteEventRepository{store: s} }

func (r *sqliteEventRepository) Create(ctx context.Context, e Event) error {
	return Transact(ctx, r.store.DB(), func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO events (id, title, description, keywords, start_time, end_time, source_action_ids, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, e.ID, e.Title, e.Description, e.Keywords, isoTime(e.StartTime), isoTime(e.EndTime), e.SourceActionIDs, isoTime(e.CreatedAt), isoTime(e.UpdatedAt))
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		return nil
	})
}

// ListCandidatesForSession returns events eligible for C6 clustering: not
// already aggregated, with at least minActions source actions, and lasting
// at least minDurationSeconds (spec.md §4.6 pre-filter).
func (r *sqliteEventRepository) ListCandidatesForSession(ctx context.Context, minActions int, minDurationSeconds int) ([]Event, error) {
	rows, err := r.store.DB().QueryContext(ctx, `
		SELECT id, title, description, keywords, start_time, end_time, source_action_ids, aggregated_into_activity_id, deleted_at, created_at, updated_at
		FROM events
		WHERE deleted_at IS NULL AND aggregated_into_activity_id IS NULL
		  AND json_array_length(source_action_ids) >= ?
		  AND (CAST(strftime('%s', end_time) AS INTEGER) - CAST(strftime('%s', start_time) AS INTEGER)) >= ?
		ORDER BY start_time ASC
	`, minActions, minDurationSeconds)
	if err != nil {
		return nil, fmt.Errorf("query session candidates: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (r *sqliteEventRepository) MarkAggregated(ctx context.Context, id, activityID string) error {
	return Transact(ctx, r.store.DB(), func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE events SET aggregated_into_activity_id = ?, updated_at = ? WHERE id = ?`,
			activityID, isoTime(time.Now().UTC()), id)
		return err
	})
}

func (r *sqliteEventRepository) Delete(ctx context.Context, id string) error {
	return Transact(ctx, r.store.DB(), func(tx *sql.Tx) error {
		now := isoTime(time.Now().UTC())
		_, err := tx.ExecContext(ctx, `UPDATE events SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`, now, now, id)
		return err
	})
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		var e Event
		var start, end, createdAt, updatedAt string
		var aggregatedInto, deletedAt sql.NullString
		if err := rows.Scan(&e.ID, &e.Title, &e.Description, &e.Keywords, &start, &end, &e.SourceActionIDs,
			&aggregatedInto, &deletedAt, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.StartTime = parseISOTime(start)
		e.EndTime = parseISOTime(end)
		e.CreatedAt = parseISOTime(createdAt)
		e.UpdatedAt = parseISOTime(updatedAt)
		if aggregatedInto.Valid {
			v := aggregatedInto.String
			e.AggregatedIntoActivityID = &v
		}
		if deletedAt.Valid {
			t := parseISOTime(deletedAt.String)
			e.DeletedAt = &t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
