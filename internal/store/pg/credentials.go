package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/aide/internal/secrets"
	"github.com/nextlevelbuilder/aide/internal/store"
)

// CredentialStore implements store.CredentialStore with AES-GCM at rest.
type CredentialStore struct {
	db     *sql.DB
	cipher *secrets.Cipher
}

func NewCredentialStore(db *sql.DB, key []byte) (*CredentialStore, error) {
	c, err := secrets.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &CredentialStore{db: db, cipher: c}, nil
}

func (s *CredentialStore) Set(ctx context.Context, userID uuid.UUID, service, key, plaintext string) error {
	enc, err := s.cipher.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("encrypt credential: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_credentials (id, user_id, service, key, value_enc, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, service, key) DO UPDATE SET value_enc = EXCLUDED.value_enc`,
		store.NewID(), userID, service, key, enc, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

func (s *CredentialStore) Get(ctx context.Context, userID uuid.UUID, service, key string) (string, error) {
	var enc string
	err := s.db.QueryRowContext(ctx,
		`SELECT value_enc FROM user_credentials WHERE user_id = $1 AND service = $2 AND key = $3`,
		userID, service, key,
	).Scan(&enc)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get credential: %w", err)
	}
	return s.cipher.Decrypt(enc)
}

func (s *CredentialStore) Delete(ctx context.Context, userID uuid.UUID, service, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM user_credentials WHERE user_id = $1 AND service = $2 AND key = $3`,
		userID, service, key,
	)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

// ErrorLogStore implements store.ErrorLogStore backed by Postgres.
type ErrorLogStore struct {
	db *sql.DB
}

func NewErrorLogStore(db *sql.DB) *ErrorLogStore {
	return &ErrorLogStore{db: db}
}

func (s *ErrorLogStore) Append(ctx context.Context, e *store.ErrorLog) error {
	if e.ID == uuid.Nil {
		e.ID = store.NewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Status == "" {
		e.Status = store.ErrorOpen
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO error_logs (id, service, error_type, tool_name, tool_args, message, stack, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.Service, e.ErrorType, nilStr(e.ToolName), nilStr(e.ToolArgs),
		e.Message, nilStr(e.Stack), e.Status, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append error log: %w", err)
	}
	return nil
}
