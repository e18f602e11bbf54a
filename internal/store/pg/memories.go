package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/aide/internal/store"
)

// MemoryStore implements store.MemoryStore with a pgvector embedding column.
type MemoryStore struct {
	db *sql.DB
}

func NewMemoryStore(db *sql.DB) *MemoryStore {
	return &MemoryStore{db: db}
}

func (s *MemoryStore) Insert(ctx context.Context, m *store.MemorySummary) error {
	if m.ID == uuid.Nil {
		m.ID = store.NewID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	var emb any
	if m.Embedding != nil {
		emb = encodeVector(m.Embedding)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_summaries (id, user_id, conversation_id, summary, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.UserID, nilUUID(m.ConversationID), m.Summary, emb, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert memory summary: %w", err)
	}
	return nil
}

func (s *MemoryStore) Nearest(ctx context.Context, userID uuid.UUID, embedding []float32, k int) ([]*store.MemorySummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, conversation_id, summary, embedding::text, created_at
		 FROM memory_summaries
		 WHERE user_id = $1 AND embedding IS NOT NULL
		 ORDER BY embedding <=> $2::vector ASC
		 LIMIT $3`,
		userID, encodeVector(embedding), k,
	)
	if err != nil {
		return nil, fmt.Errorf("nearest summaries: %w", err)
	}
	defer rows.Close()
	return scanSummaries(rows)
}

func (s *MemoryStore) Recent(ctx context.Context, userID uuid.UUID, k int) ([]*store.MemorySummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, conversation_id, summary, embedding::text, created_at
		 FROM memory_summaries
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, k,
	)
	if err != nil {
		return nil, fmt.Errorf("recent summaries: %w", err)
	}
	defer rows.Close()
	return scanSummaries(rows)
}

func scanSummaries(rows *sql.Rows) ([]*store.MemorySummary, error) {
	var out []*store.MemorySummary
	for rows.Next() {
		m := &store.MemorySummary{}
		var emb *string
		if err := rows.Scan(&m.ID, &m.UserID, &m.ConversationID, &m.Summary, &emb, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		if emb != nil {
			m.Embedding = decodeVector(*emb)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// TokenLogStore implements store.TokenLogStore backed by Postgres.
type TokenLogStore struct {
	db *sql.DB
}

func NewTokenLogStore(db *sql.DB) *TokenLogStore {
	return &TokenLogStore{db: db}
}

func (s *TokenLogStore) Append(ctx context.Context, l *store.TokenLog) error {
	if l.ID == uuid.Nil {
		l.ID = store.NewID()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO token_logs (id, user_id, conversation_id, model, input_tokens, output_tokens, cost_usd, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		l.ID, l.UserID, nilUUID(l.ConversationID), l.Model,
		l.InputTokens, l.OutputTokens, l.CostUSD, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append token log: %w", err)
	}
	return nil
}
