package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"rewind/internal/ids"
)

// Conversation is a chat thread (spec.md §4.10 chat service).
type Conversation struct {
	ID                  string
	Title               string
	TitleIsPlaceholder  bool
	RelatedActivityIDs  StringSlice
	Metadata            JSONMap
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// NewConversation constructs a Conversation with a fresh id and a
// placeholder title, auto-titled after the first exchange (spec.md §4.10).
func NewConversation() Conversation {
	now := time.Now().UTC()
	return Conversation{
		ID:                 ids.New(),
		Title:              "New Conversation",
		TitleIsPlaceholder: true,
		Metadata:           JSONMap{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// Message is one turn in a Conversation.
type Message struct {
	ID             string
	ConversationID string
	Role           string // "system" | "user" | "assistant"
	Content        string
	Timestamp      time.Time
	Metadata       JSONMap
}

// NewMessage constructs a Message with a fresh id.
func NewMessage(conversationID, role, content string) Message {
	return Message{
		ID:             ids.New(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Timestamp:      time.Now().UTC(),
		Metadata:       JSONMap{},
	}
}

// ConversationRepository is the narrow interface C11's chat service depends on.
type ConversationRepository interface {
	Create(ctx context.Context, c Conversation) error
	Get(ctx context.Context, id string) (Conversation, error)
	List(ctx context.Context) ([]Conversation, error)
	SetTitle(ctx context.Context, id, title string, isPlaceholder bool) error
	Delete(ctx context.Context, id string) error

	AppendMessage(ctx context.Context, m Message) error
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
}

type sqliteConversationRepository struct{ store *Store }

// NewConversationRepository builds the SQLite-backed ConversationRepository.
func NewConversationRepository(s *Store) ConversationRepository {
	return &sqliteConversationRepository{store: s}
}

func (r *sqliteConversationRepository) Create(ctx context.Context, c Conversation) error {
	return Transact(ctx, r.store.DB(), func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO conversations (id, title, title_is_placeholder, related_activity_ids, metadata, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, c.ID, c.Title, boolToInt(c.TitleIsPlaceholder), c.RelatedActivityIDs, c.Metadata, isoTime(c.CreatedAt), isoTime(c.UpdatedAt))
		if err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}
		return nil
	})
}

func (r *sqliteConversationRepository) Get(ctx context.Context, id string) (Conversation, error) {
	row := r.store.DB().QueryRowContext(ctx, `
		SELECT id, title, title_is_placeholder, related_activity_ids, metadata, created_at, updated_at
		FROM conversations WHERE id = ?
	`, id)
	return scanConversation(row)
}

func (r *sqliteConversationRepository) List(ctx context.Context) ([]Conversation, error) {
	rows, err := r.store.DB().QueryContext(ctx, `
		SELECT id, title, title_is_placeholder, related_activity_ids, metadata, created_at, updated_at
		FROM conversations ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *sqliteConversationRepository) SetTitle(ctx context.Context, id, title string, isPlaceholder bool) error {
	return Transact(ctx, r.store.DB(), func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE conversations SET title = ?, title_is_placeholder = ?, updated_at = ? WHERE id = ?`,
			title, boolToInt(isPlaceholder), isoTime(time.Now().UTC()), id)
		return err
	})
}

// Delete hard-deletes the conversation; FK ON DELETE CASCADE removes its
// messages in the same statement (spec.md §8 "Chat isolation").
func (r *sqliteConversationRepository) Delete(ctx context.Context, id string) error {
	return Transact(ctx, r.store.DB(), func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
		return err
	})
}

func (r *sqliteConversationRepository) AppendMessage(ctx context.Context, m Message) error {
	return Transact(ctx, r.store.DB(), func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, role, content, timestamp, metadata)
			VALUES (?, ?, ?, ?, ?, ?)
		`, m.ID, m.ConversationID, m.Role, m.Content, isoTime(m.Timestamp), m.Metadata); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		_, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, isoTime(time.Now().UTC()), m.ConversationID)
		return err
	})
}

func (r *sqliteConversationRepository) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := r.store.DB().QueryContext(ctx, `
		SELECT id, conversation_id, role, content, timestamp, metadata
		FROM messages WHERE conversation_id = ? ORDER BY timestamp ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var ts string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &ts, &m.Metadata); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Timestamp = parseISOTime(ts)
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanConversation(row rowScanner) (Conversation, error) {
	var c Conversation
	var createdAt, updatedAt string
	var titleIsPlaceholder int
	if err := row.Scan(&c.ID, &c.Title, &titleIsPlaceholder, &c.RelatedActivityIDs, &c.Metadata, &createdAt, &updatedAt); err != nil {
		return Conversation{}, fmt.Errorf("scan conversation: %w", err)
	}
	c.TitleIsPlaceholder = titleIsPlaceholder != 0
	c.CreatedAt = parseISOTime(createdAt)
	c.UpdatedAt = parseISOTime(updatedAt)
	return c, nil
}
