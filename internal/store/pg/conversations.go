package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/aide/internal/store"
)

// ConversationStore implements store.ConversationStore backed by Postgres.
type ConversationStore struct {
	db *sql.DB
}

func NewConversationStore(db *sql.DB) *ConversationStore {
	return &ConversationStore{db: db}
}

const convoCols = `id, user_id, platform, platform_channel_id, platform_thread_id,
	title, last_active_at, is_summarized, created_at`

func (s *ConversationStore) FindActive(ctx context.Context, userID uuid.UUID, platform, channelID string, threadID *string, window time.Duration) (*store.Conversation, error) {
	cutoff := time.Now().UTC().Add(-window)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+convoCols+` FROM conversations
		 WHERE user_id = $1 AND platform = $2 AND platform_channel_id = $3
		   AND platform_thread_id IS NOT DISTINCT FROM $4
		   AND is_summarized = false AND last_active_at >= $5
		 ORDER BY last_active_at DESC LIMIT 1`,
		userID, platform, channelID, nilOrStr(threadID), cutoff,
	)
	return scanConversation(row)
}

func (s *ConversationStore) Create(ctx context.Context, c *store.Conversation) error {
	if c.ID == uuid.Nil {
		c.ID = store.NewID()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.LastActiveAt.IsZero() {
		c.LastActiveAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (`+convoCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.UserID, c.Platform, c.PlatformChannelID, nilOrStr(c.PlatformThreadID),
		nilStr(c.Title), c.LastActiveAt, c.IsSummarized, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (s *ConversationStore) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET last_active_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

func (s *ConversationStore) MarkSummarized(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET is_summarized = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark summarized: %w", err)
	}
	return nil
}

func (s *ConversationStore) ListInactive(ctx context.Context, cutoff time.Time, limit int) ([]*store.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+convoCols+` FROM conversations
		 WHERE is_summarized = false AND last_active_at < $1
		 ORDER BY last_active_at ASC LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list inactive conversations: %w", err)
	}
	defer rows.Close()

	var out []*store.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*store.Conversation, error) {
	c := &store.Conversation{}
	var title *string
	err := row.Scan(&c.ID, &c.UserID, &c.Platform, &c.PlatformChannelID, &c.PlatformThreadID,
		&title, &c.LastActiveAt, &c.IsSummarized, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	c.Title = derefStr(title)
	return c, nil
}

func nilOrStr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// MessageStore implements store.MessageStore backed by Postgres.
type MessageStore struct {
	db *sql.DB
}

func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

func (s *MessageStore) Append(ctx context.Context, m *store.Message) error {
	if m.ID == uuid.Nil {
		m.ID = store.NewID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, tool_use_id, token_count, model, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.ConversationID, m.Role, m.Content, nilStr(m.ToolUseID),
		m.TokenCount, nilStr(m.Model), m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *MessageStore) List(ctx context.Context, conversationID uuid.UUID) ([]*store.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, tool_use_id, token_count, model, created_at
		 FROM messages WHERE conversation_id = $1 ORDER BY created_at ASC, id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*store.Message
	for rows.Next() {
		m := &store.Message{}
		var toolUseID, model *string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content,
			&toolUseID, &m.TokenCount, &model, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.ToolUseID = derefStr(toolUseID)
		m.Model = derefStr(model)
		out = append(out, m)
	}
	return out, rows.Err()
}
