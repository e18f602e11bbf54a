package pg

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nextlevelbuilder/aide/internal/store"
)

// OpenDB opens a Postgres pool via the pgx stdlib driver.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewStores creates all Postgres-backed stores over one pool.
func NewStores(db *sql.DB, encryptionKey []byte) (*store.Stores, error) {
	creds, err := NewCredentialStore(db, encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("credential store: %w", err)
	}
	return &store.Stores{
		Users:         NewUserStore(db),
		Personas:      NewPersonaStore(db),
		Conversations: NewConversationStore(db),
		Messages:      NewMessageStore(db),
		Memories:      NewMemoryStore(db),
		TokenLogs:     NewTokenLogStore(db),
		Jobs:          NewJobStore(db),
		Workflows:     NewWorkflowStore(db),
		Reminders:     NewReminderStore(db),
		Locations:     NewLocationStore(db),
		Places:        NewPlaceStore(db),
		Credentials:   creds,
		ErrorLogs:     NewErrorLogStore(db),
	}, nil
}
