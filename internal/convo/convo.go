// Package convo owns conversation lifecycle: locate-or-create keyed by
// (user, platform, channel, thread), ordered message append, and the
// token-budgeted window handed to the LLM.
package convo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/aide/internal/llm"
	"github.com/nextlevelbuilder/aide/internal/store"
)

// DefaultInactivityWindow is how long a conversation stays joinable after
// its last message.
const DefaultInactivityWindow = 30 * time.Minute

// Service wraps conversation and message stores.
type Service struct {
	conversations store.ConversationStore
	messages      store.MessageStore
	inactivity    time.Duration
}

func New(conversations store.ConversationStore, messages store.MessageStore, inactivity time.Duration) *Service {
	if inactivity <= 0 {
		inactivity = DefaultInactivityWindow
	}
	return &Service{conversations: conversations, messages: messages, inactivity: inactivity}
}

// LocateOrCreate returns the active unsummarized conversation for the
// tuple, touching last_active_at, or creates a fresh one.
func (s *Service) LocateOrCreate(ctx context.Context, userID uuid.UUID, platform, channelID string, threadID *string) (*store.Conversation, error) {
	c, err := s.conversations.FindActive(ctx, userID, platform, channelID, threadID, s.inactivity)
	if err == nil {
		now := time.Now().UTC()
		if err := s.conversations.Touch(ctx, c.ID, now); err != nil {
			return nil, fmt.Errorf("touch conversation: %w", err)
		}
		c.LastActiveAt = now
		return c, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("find conversation: %w", err)
	}

	c = &store.Conversation{
		UserID:            userID,
		Platform:          platform,
		PlatformChannelID: channelID,
		PlatformThreadID:  threadID,
	}
	if err := s.conversations.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return c, nil
}

// AppendParams carries the optional fields of a message append.
type AppendParams struct {
	Role       string
	Content    string
	ToolUseID  string
	Model      string
	TokenCount *int
}

// Append inserts a message and advances the conversation's
// last_active_at.
func (s *Service) Append(ctx context.Context, conversationID uuid.UUID, p AppendParams) (*store.Message, error) {
	m := &store.Message{
		ConversationID: conversationID,
		Role:           p.Role,
		Content:        p.Content,
		ToolUseID:      p.ToolUseID,
		Model:          p.Model,
		TokenCount:     p.TokenCount,
	}
	if err := s.messages.Append(ctx, m); err != nil {
		return nil, err
	}
	if err := s.conversations.Touch(ctx, conversationID, m.CreatedAt); err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}
	return m, nil
}

// History returns all messages of a conversation in insertion order.
func (s *Service) History(ctx context.Context, conversationID uuid.UUID) ([]*store.Message, error) {
	return s.messages.List(ctx, conversationID)
}

// EstimateTokens approximates token count from length. Four characters
// per token tracks English prose closely enough for windowing.
func EstimateTokens(s string) int {
	n := len(s)/4 + 1
	return n
}

// Window returns the tail of messages whose cumulative estimated tokens
// fit within budget, in original order. A tool_result whose tool_call
// fell outside the window is dropped with it so the pair never splits.
func Window(messages []*store.Message, tokenBudget int) []*store.Message {
	if len(messages) == 0 {
		return nil
	}
	start := len(messages)
	total := 0
	for i := len(messages) - 1; i >= 0; i-- {
		cost := EstimateTokens(messages[i].Content)
		if messages[i].TokenCount != nil {
			cost = *messages[i].TokenCount
		}
		if total+cost > tokenBudget && start < len(messages) {
			break
		}
		total += cost
		start = i
	}
	// Orphaned tool_results at the head mean their tool_call was trimmed.
	for start < len(messages) && messages[start].Role == llm.RoleToolResult {
		start++
	}
	return messages[start:]
}
