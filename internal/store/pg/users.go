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

// UserStore implements store.UserStore backed by Postgres.
type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) ResolveOrCreate(ctx context.Context, platform, platformUserID, displayName string) (*store.User, error) {
	var userID uuid.UUID
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id FROM platform_links WHERE platform = $1 AND platform_user_id = $2`,
		platform, platformUserID,
	).Scan(&userID)
	if err == nil {
		return s.Get(ctx, userID)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lookup platform link: %w", err)
	}

	// First sight: create user + link in one transaction.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	u := &store.User{
		ID:          store.NewID(),
		DisplayName: displayName,
		Permission:  store.PermUser,
		CreatedAt:   now,
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO users (id, display_name, permission, tokens_used_this_month, created_at)
		 VALUES ($1, $2, $3, 0, $4)`,
		u.ID, u.DisplayName, string(u.Permission), now,
	); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO platform_links (id, user_id, platform, platform_user_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (platform, platform_user_id) DO NOTHING`,
		store.NewID(), u.ID, platform, platformUserID, now,
	); err != nil {
		return nil, fmt.Errorf("insert platform link: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return u, nil
}

func (s *UserStore) Get(ctx context.Context, id uuid.UUID) (*store.User, error) {
	u := &store.User{}
	var perm string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, permission, token_budget_monthly,
		        tokens_used_this_month, budget_reset_at, created_at
		 FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.DisplayName, &perm, &u.TokenBudgetMonthly,
		&u.TokensUsedThisMonth, &u.BudgetResetAt, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Permission = store.PermissionLevel(perm)
	return u, nil
}

func (s *UserStore) PlatformUserID(ctx context.Context, id uuid.UUID, platform string) (string, error) {
	var platformUserID string
	err := s.db.QueryRowContext(ctx,
		`SELECT platform_user_id FROM platform_links WHERE user_id = $1 AND platform = $2`,
		id, platform,
	).Scan(&platformUserID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reverse platform link: %w", err)
	}
	return platformUserID, nil
}

func (s *UserStore) AddTokenUsage(ctx context.Context, id uuid.UUID, tokens int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET tokens_used_this_month = tokens_used_this_month + $1 WHERE id = $2`,
		tokens, id,
	)
	if err != nil {
		return fmt.Errorf("add token usage: %w", err)
	}
	return nil
}

func (s *UserStore) ResetBudget(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET tokens_used_this_month = 0, budget_reset_at = $1 WHERE id = $2`,
		at, id,
	)
	if err != nil {
		return fmt.Errorf("reset budget: %w", err)
	}
	return nil
}

// PersonaStore implements store.PersonaStore backed by Postgres.
type PersonaStore struct {
	db *sql.DB
}

func NewPersonaStore(db *sql.DB) *PersonaStore {
	return &PersonaStore{db: db}
}

func (s *PersonaStore) DefaultFor(ctx context.Context, platform, serverID string) (*store.Persona, error) {
	// Scoped default first, then global default.
	p, err := s.scanOne(ctx,
		`SELECT id, name, system_prompt, allowed_modules, default_model, max_tokens,
		        platform, platform_server_id, is_default
		 FROM personas
		 WHERE is_default = true AND platform = $1 AND platform_server_id = $2
		 LIMIT 1`, platform, serverID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return s.scanOne(ctx,
		`SELECT id, name, system_prompt, allowed_modules, default_model, max_tokens,
		        platform, platform_server_id, is_default
		 FROM personas
		 WHERE is_default = true AND platform IS NULL
		 LIMIT 1`)
}

func (s *PersonaStore) scanOne(ctx context.Context, query string, args ...any) (*store.Persona, error) {
	p := &store.Persona{}
	var platform, serverID *string
	var modules []byte
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&p.ID, &p.Name, &p.SystemPrompt, &modules, &p.DefaultModel, &p.MaxTokens,
		&platform, &serverID, &p.IsDefault,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get persona: %w", err)
	}
	p.Platform = derefStr(platform)
	p.PlatformServerID = derefStr(serverID)
	p.AllowedModules = splitModules(modules)
	return p, nil
}

// allowed_modules is stored as a comma-separated text column.
func splitModules(raw []byte) []string {
	s := string(raw)
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
