// Package memory closes idle conversations into summaries and answers
// semantic recall over them.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/aide/internal/llm"
	"github.com/nextlevelbuilder/aide/internal/store"
)

const (
	// transcriptCap bounds the prompt fed to the summarizer.
	transcriptCap = 8000

	// batchSize bounds conversations summarized per tick.
	batchSize = 10

	summaryPrompt = `You summarize a conversation between a user and an assistant.
Write a concise third-person summary capturing facts about the user, decisions
made, and any follow-ups promised. Output only the summary text.`
)

// chatClient is the slice of the LLM router the summarizer needs.
type chatClient interface {
	Chat(ctx context.Context, req llm.ChatRequest) (*llm.Response, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Service runs the summarization tick and recall queries.
type Service struct {
	conversations store.ConversationStore
	messages      store.MessageStore
	memories      store.MemoryStore
	tokenLogs     store.TokenLogStore
	llm           chatClient
	inactivity    time.Duration
}

func New(conversations store.ConversationStore, messages store.MessageStore, memories store.MemoryStore, tokenLogs store.TokenLogStore, client chatClient, inactivity time.Duration) *Service {
	if inactivity <= 0 {
		inactivity = 30 * time.Minute
	}
	return &Service{
		conversations: conversations,
		messages:      messages,
		memories:      memories,
		tokenLogs:     tokenLogs,
		llm:           client,
		inactivity:    inactivity,
	}
}

// RunSummarizer ticks until ctx is done.
func (s *Service) RunSummarizer(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SummarizeInactive(ctx); err != nil {
				slog.Error("memory.summarize_tick_failed", "error", err)
			}
		}
	}
}

// SummarizeInactive closes up to batchSize conversations past the
// inactivity timeout. Each produces exactly one summary; empty
// conversations are just marked.
func (s *Service) SummarizeInactive(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.inactivity)
	convos, err := s.conversations.ListInactive(ctx, cutoff, batchSize)
	if err != nil {
		return fmt.Errorf("list inactive: %w", err)
	}
	for _, c := range convos {
		if err := s.summarizeOne(ctx, c); err != nil {
			slog.Error("memory.summarize_failed", "conversation_id", c.ID, "error", err)
		}
	}
	return nil
}

func (s *Service) summarizeOne(ctx context.Context, c *store.Conversation) error {
	msgs, err := s.messages.List(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	if len(msgs) == 0 {
		return s.conversations.MarkSummarized(ctx, c.ID)
	}

	transcript := renderTranscript(msgs)
	resp, err := s.llm.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: summaryPrompt},
			{Role: llm.RoleUser, Content: transcript},
		},
		MaxTokens: 512,
	})
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}
	s.logTokens(ctx, c, resp)

	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return s.conversations.MarkSummarized(ctx, c.ID)
	}

	// Embedding is best-effort; a summary without a vector still recalls
	// through the recency fallback.
	embedding, err := s.llm.Embed(ctx, summary)
	if err != nil {
		slog.Warn("memory.embed_failed", "conversation_id", c.ID, "error", err)
		embedding = nil
	}

	convID := c.ID
	if err := s.memories.Insert(ctx, &store.MemorySummary{
		UserID:         c.UserID,
		ConversationID: &convID,
		Summary:        summary,
		Embedding:      embedding,
	}); err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}
	if err := s.conversations.MarkSummarized(ctx, c.ID); err != nil {
		return fmt.Errorf("mark summarized: %w", err)
	}
	slog.Info("memory.summarized", "conversation_id", c.ID, "user_id", c.UserID)
	return nil
}

func (s *Service) logTokens(ctx context.Context, c *store.Conversation, resp *llm.Response) {
	userID := c.UserID
	convID := c.ID
	if err := s.tokenLogs.Append(ctx, &store.TokenLog{
		UserID:         &userID,
		ConversationID: &convID,
		Model:          resp.Model,
		InputTokens:    resp.InputTokens,
		OutputTokens:   resp.OutputTokens,
		CostUSD:        llm.EstimateCostUSD(resp.Model, resp.InputTokens, resp.OutputTokens),
	}); err != nil {
		slog.Warn("memory.token_log_failed", "conversation_id", c.ID, "error", err)
	}
}

// renderTranscript flattens messages into "role: content" lines, truncated
// to the transcript cap from the front so the tail survives.
func renderTranscript(msgs []*store.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		if m.Role == llm.RoleToolCall || m.Role == llm.RoleToolResult {
			continue
		}
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	t := b.String()
	if len(t) > transcriptCap {
		t = t[len(t)-transcriptCap:]
	}
	return t
}

// Recall returns up to k summaries for the user, nearest first by cosine
// distance to the query. When embedding is unavailable it falls back to
// the most recent summaries.
func (s *Service) Recall(ctx context.Context, userID uuid.UUID, query string, k int) ([]*store.MemorySummary, error) {
	embedding, err := s.llm.Embed(ctx, query)
	if err != nil {
		slog.Debug("memory.recall_embed_unavailable", "error", err)
		return s.memories.Recent(ctx, userID, k)
	}
	return s.memories.Nearest(ctx, userID, embedding, k)
}
