package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by stores when no row matches.
var ErrNotFound = errors.New("store: not found")

// UserStore resolves and mutates users and their platform links.
type UserStore interface {
	// ResolveOrCreate returns the user behind (platform, platformUserID),
	// creating a new default-permission user and link on first sight.
	ResolveOrCreate(ctx context.Context, platform, platformUserID, displayName string) (*User, error)
	Get(ctx context.Context, id uuid.UUID) (*User, error)
	// PlatformUserID reverse-resolves the external identity a user has on
	// one platform.
	PlatformUserID(ctx context.Context, id uuid.UUID, platform string) (string, error)
	// AddTokenUsage increments tokens_used_this_month.
	AddTokenUsage(ctx context.Context, id uuid.UUID, tokens int64) error
	// ResetBudget zeroes the monthly counter and stamps budget_reset_at.
	ResetBudget(ctx context.Context, id uuid.UUID, at time.Time) error
}

// PersonaStore selects personas per (platform, server) scope.
type PersonaStore interface {
	// DefaultFor returns the default persona scoped to (platform, serverID),
	// falling back to the global default when no scoped one exists.
	DefaultFor(ctx context.Context, platform, serverID string) (*Persona, error)
}

// ConversationStore owns conversation rows; only the orchestrator writes them.
type ConversationStore interface {
	// FindActive returns the most recent unsummarized conversation for the
	// tuple with last_active_at within the inactivity window.
	FindActive(ctx context.Context, userID uuid.UUID, platform, channelID string, threadID *string, window time.Duration) (*Conversation, error)
	Create(ctx context.Context, c *Conversation) error
	Touch(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkSummarized(ctx context.Context, id uuid.UUID) error
	// ListInactive returns up to limit unsummarized conversations whose
	// last_active_at is older than cutoff.
	ListInactive(ctx context.Context, cutoff time.Time, limit int) ([]*Conversation, error)
}

// MessageStore appends and reads ordered conversation messages.
type MessageStore interface {
	Append(ctx context.Context, m *Message) error
	// List returns all messages of a conversation ordered by created_at.
	List(ctx context.Context, conversationID uuid.UUID) ([]*Message, error)
}

// MemoryStore persists conversation summaries with optional embeddings.
type MemoryStore interface {
	Insert(ctx context.Context, m *MemorySummary) error
	// Nearest returns up to k summaries for the user ordered by ascending
	// cosine distance to the query embedding.
	Nearest(ctx context.Context, userID uuid.UUID, embedding []float32, k int) ([]*MemorySummary, error)
	// Recent returns the k most recent summaries for the user.
	Recent(ctx context.Context, userID uuid.UUID, k int) ([]*MemorySummary, error)
}

// TokenLogStore is append-only.
type TokenLogStore interface {
	Append(ctx context.Context, l *TokenLog) error
}

// JobStore owns scheduled job lifecycle fields; workers mutate them.
type JobStore interface {
	Create(ctx context.Context, j *ScheduledJob) error
	Get(ctx context.Context, id uuid.UUID) (*ScheduledJob, error)
	// ClaimDue atomically claims up to limit due active jobs in next_run_at
	// order: each claim increments attempts and advances next_run_at, and a
	// job is returned only when its conditional update hit, so concurrent
	// workers never claim the same job for the same due tick.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*ScheduledJob, error)
	Update(ctx context.Context, j *ScheduledJob) error
	// ExpireDue moves active jobs with expires_at <= now to expired and
	// returns them so the worker can emit failure notifications.
	ExpireDue(ctx context.Context, now time.Time) ([]*ScheduledJob, error)
}

// WorkflowStore owns scheduled workflow rows.
type WorkflowStore interface {
	Create(ctx context.Context, w *ScheduledWorkflow) error
	Get(ctx context.Context, id uuid.UUID) (*ScheduledWorkflow, error)
	SetStatus(ctx context.Context, id uuid.UUID, status string, completedAt *time.Time) error
	// CountOpenJobs returns the number of non-terminal jobs in a workflow.
	CountOpenJobs(ctx context.Context, id uuid.UUID) (int, error)
}

// ReminderStore owns location reminder rows.
type ReminderStore interface {
	Create(ctx context.Context, r *LocationReminder) error
	// ListActive returns all active reminders ordered by user_id.
	ListActive(ctx context.Context) ([]*LocationReminder, error)
	Update(ctx context.Context, r *LocationReminder) error
}

// LocationStore keeps the latest known position per user.
type LocationStore interface {
	Upsert(ctx context.Context, l *UserLocation) error
	Get(ctx context.Context, userID uuid.UUID) (*UserLocation, error)
}

// PlaceStore resolves user-defined named places.
type PlaceStore interface {
	Upsert(ctx context.Context, p *UserNamedPlace) error
	Get(ctx context.Context, userID uuid.UUID, name string) (*UserNamedPlace, error)
}

// CredentialStore stores encrypted secrets; plaintext never leaves Get.
type CredentialStore interface {
	Set(ctx context.Context, userID uuid.UUID, service, key, plaintext string) error
	Get(ctx context.Context, userID uuid.UUID, service, key string) (string, error)
	Delete(ctx context.Context, userID uuid.UUID, service, key string) error
}

// ErrorLogStore is append-only error capture.
type ErrorLogStore interface {
	Append(ctx context.Context, e *ErrorLog) error
}

// Stores bundles every store implementation for wiring.
type Stores struct {
	Users         UserStore
	Personas      PersonaStore
	Conversations ConversationStore
	Messages      MessageStore
	Memories      MemoryStore
	TokenLogs     TokenLogStore
	Jobs          JobStore
	Workflows     WorkflowStore
	Reminders     ReminderStore
	Locations     LocationStore
	Places        PlaceStore
	Credentials   CredentialStore
	ErrorLogs     ErrorLogStore
}
