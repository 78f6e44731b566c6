package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"rewind/internal/ids"
)

// Todo is the persisted form of spec.md §3's Todo entity.
type Todo struct {
	ID             string
	Title          string
	Description    string
	Completed      bool
	ScheduledDate  *string // YYYY-MM-DD, optional
	ScheduledTime  *string // HH:MM, optional
	CreatedAt      time.Time
	SourceActionID *string
	MergedFromIDs  StringSlice // set only when read from combined_todos
	DeletedAt      *time.Time
	UpdatedAt      time.Time
}

// NewTodo constructs a Todo with a fresh id.
func NewTodo(title, description string, scheduledDate, scheduledTime *string, sourceActionID *string) Todo {
	now := time.Now().UTC()
	return Todo{
		ID:             ids.New(),
		Title:          title,
		Description:    description,
		ScheduledDate:  scheduledDate,
		ScheduledTime:  scheduledTime,
		CreatedAt:      now,
		SourceActionID: sourceActionID,
		UpdatedAt:      now,
	}
}

// TodoRepository is the narrow interface C8/C9/C11 depend on. Read
// precedence mirrors KnowledgeRepository: merged rows hide their sources.
type TodoRepository interface {
	Create(ctx context.Context, t Todo) error
	List(ctx context.Context) ([]Todo, error)
	ListUnmerged(ctx context.Context) ([]Todo, error)
	CreateMerged(ctx context.Context, merged Todo, sourceIDs []string) error
	SetCompleted(ctx context.Context, id string, completed bool) error
	Delete(ctx context.Context, id string) error
}

type sqliteTodoRepository struct{ store *Store }

// NewTodoRepository builds the SQLite-backed TodoRepository.
func NewTodoRepository(s *Store) TodoRepository { return &sqliteTodoRepository{store: s} }

func (r *sqliteTodoRepository) Create(ctx context.Context, t Todo) error {
	return Transact(ctx, r.store.DB(), func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO todos (id, title, description, completed, scheduled_date, scheduled_time, created_at, source_action_id, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, t.ID, t.Title, t.Description, boolToInt(t.Completed), t.ScheduledDate, t.ScheduledTime,
			isoTime(t.CreatedAt), t.SourceActionID, isoTime(t.UpdatedAt))
		if err != nil {
			return fmt.Errorf("insert todo: %w", err)
		}
		return nil
	})
}

// List returns the merged precedence view, analogous to
// KnowledgeRepository.List (spec.md §8 "Merged precedence").
func (r *sqliteTodoRepository) List(ctx context.Context) ([]Todo, error) {
	rows, err := r.store.DB().QueryContext(ctx, `
		SELECT id, title, description, completed, scheduled_date, scheduled_time, created_at, NULL AS source_action_id, merged_from_ids, deleted_at, updated_at
		FROM combined_todos WHERE deleted_at IS NULL
		UNION ALL
		SELECT id, title, description, completed, scheduled_date, scheduled_time, created_at, source_action_id, '[]' AS merged_from_ids, deleted_at, updated_at
		FROM todos t WHERE t.deleted_at IS NULL
		  AND NOT EXISTS (
		    SELECT 1 FROM combined_todos c, json_each(c.merged_from_ids) je
		    WHERE c.deleted_at IS NULL AND je.value = t.id
		  )
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query todo list: %w", err)
	}
	defer rows.Close()
	return scanTodos(rows)
}

func (r *sqliteTodoRepository) ListUnmerged(ctx context.Context) ([]Todo, error) {
	rows, err := r.store.DB().QueryContext(ctx, `
		SELECT id, title, description, completed, scheduled_date, scheduled_time, created_at, source_action_id, '[]' AS merged_from_ids, deleted_at, updated_at
		FROM todos t WHERE t.deleted_at IS NULL
		  AND NOT EXISTS (
		    SELECT 1 FROM combined_todos c, json_each(c.merged_from_ids) je
		    WHERE c.deleted_at IS NULL AND je.value = t.id
		  )
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query unmerged todos: %w", err)
	}
	defer rows.Close()
	return scanTodos(rows)
}

// CreateMerged writes merged into combined_todos and soft-deletes every row
// in sourceIDs (spec.md §4.8.2).
func (r *sqliteTodoRepository) CreateMerged(ctx context.Context, merged Todo, sourceIDs []string) error {
	if merged.ID == "" {
		merged.ID = ids.New()
	}
	if merged.CreatedAt.IsZero() {
		merged.CreatedAt = time.Now().UTC()
	}
	now := isoTime(time.Now().UTC())
	return Transact(ctx, r.store.DB(), func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO combined_todos (id, title, description, completed, scheduled_date, scheduled_time, created_at, merged_from_ids, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, merged.ID, merged.Title, merged.Description, boolToInt(merged.Completed), merged.ScheduledDate,
			merged.ScheduledTime, isoTime(merged.CreatedAt), StringSlice(sourceIDs), now)
		if err != nil {
			return fmt.Errorf("insert combined todo: %w", err)
		}
		for _, id := range sourceIDs {
			if _, err := tx.ExecContext(ctx, `UPDATE todos SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`, now, now, id); err != nil {
				return fmt.Errorf("soft delete merged source %s: %w", id, err)
			}
		}
		return nil
	})
}

// SetCompleted updates completion state, whichever table the todo lives in.
func (r *sqliteTodoRepository) SetCompleted(ctx context.Context, id string, completed bool) error {
	now := isoTime(time.Now().UTC())
	return Transact(ctx, r.store.DB(), func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE todos SET completed = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`, boolToInt(completed), now, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx, `UPDATE combined_todos SET completed = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`, boolToInt(completed), now, id)
		return err
	})
}

// Delete soft-deletes by id, whichever table it lives in. Idempotent.
func (r *sqliteTodoRepository) Delete(ctx context.Context, id string) error {
	now := isoTime(time.Now().UTC())
	return Transact(ctx, r.store.DB(), func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE todos SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`, now, now, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE combined_todos SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`, now, now, id)
		return err
	})
}

func scanTodos(rows *sql.Rows) ([]Todo, error) {
	var out []Todo
	for rows.Next() {
		var t Todo
		var createdAt, updatedAt string
		var sourceActionID, deletedAt, scheduledDate, scheduledTime sql.NullString
		var completed int
		if err := rows.Scan(&t.ID, &t.Title, &t.Description, &completed, &scheduledDate, &scheduledTime,
			&createdAt, &sourceActionID, &t.MergedFromIDs, &deletedAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan todo: %w", err)
		}
		t.Completed = completed != 0
		t.CreatedAt = parseISOTime(createdAt)
		t.UpdatedAt = parseISOTime(updatedAt)
		if scheduledDate.Valid {
			v := scheduledDate.String
			t.ScheduledDate = &v
		}
		if scheduledTime.Valid {
			v := scheduledTime.String
			t.ScheduledTime = &v
		}
		if sourceActionID.Valid {
			v := sourceActionID.String
			t.SourceActionID = &v
		}
		if deletedAt.Valid {
			dt := parseISOTime(deletedAt.String)
			t.DeletedAt = &dt
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
