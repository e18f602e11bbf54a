// Package store defines the persistent entity types and the per-entity
// store interfaces. Implementations live in subpackages (pg).
package store

import (
	"time"

	"github.com/google/uuid"
)

// PermissionLevel is a totally ordered user permission.
type PermissionLevel string

const (
	PermGuest PermissionLevel = "guest"
	PermUser  PermissionLevel = "user"
	PermAdmin PermissionLevel = "admin"
	PermOwner PermissionLevel = "owner"
)

// Rank returns the position of the level in the total order. Unknown
// levels rank below guest so a corrupted row never gains access.
func (p PermissionLevel) Rank() int {
	switch p {
	case PermGuest:
		return 0
	case PermUser:
		return 1
	case PermAdmin:
		return 2
	case PermOwner:
		return 3
	default:
		return -1
	}
}

// Allows reports whether p dominates the required level.
func (p PermissionLevel) Allows(required PermissionLevel) bool {
	return p.Rank() >= required.Rank()
}

// Scheduled job types.
const (
	JobPollModule = "poll_module"
	JobPollURL    = "poll_url"
	JobDelay      = "delay"
)

// Lifecycle statuses shared by jobs, workflows and reminders. Triggered
// applies to reminders only.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusExpired   = "expired"
	StatusTriggered = "triggered"
)

// On-complete behaviors for scheduled jobs.
const (
	OnCompleteNotify = "notify"
	OnCompleteResume = "resume_conversation"
)

// Reminder trigger conditions and modes.
const (
	TriggerEnter = "enter"
	TriggerExit  = "exit"

	ModeOnce       = "once"
	ModePersistent = "persistent"
)

// Error log statuses.
const (
	ErrorOpen      = "open"
	ErrorDismissed = "dismissed"
	ErrorResolved  = "resolved"
)

// NewID returns a time-ordered UUID for primary keys.
func NewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// User is an internal identity resolved from platform links. Created on
// first message, never deleted while referenced.
type User struct {
	ID                  uuid.UUID
	DisplayName         string
	Permission          PermissionLevel
	TokenBudgetMonthly  *int64 // nil = unlimited
	TokensUsedThisMonth int64
	BudgetResetAt       *time.Time
	CreatedAt           time.Time
}

// BudgetExceeded reports whether the user's monthly token budget is spent.
func (u *User) BudgetExceeded() bool {
	return u.TokenBudgetMonthly != nil && u.TokensUsedThisMonth > *u.TokenBudgetMonthly
}

// PlatformLink maps an external (platform, platform_user_id) identity to a
// user. Unique on the pair.
type PlatformLink struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	Platform       string
	PlatformUserID string
	CreatedAt      time.Time
}

// Persona is a system prompt plus a module allow-list and model settings,
// scoped to (platform, platform_server_id). Empty scope fields mean the
// global default.
type Persona struct {
	ID               uuid.UUID
	Name             string
	SystemPrompt     string
	AllowedModules   []string
	DefaultModel     string
	MaxTokens        int
	Platform         string
	PlatformServerID string
	IsDefault        bool
}

// Conversation groups messages for one (user, platform, channel, thread)
// tuple. IsSummarized is terminal: the row is frozen once set.
type Conversation struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	Platform          string
	PlatformChannelID string
	PlatformThreadID  *string
	Title             string
	LastActiveAt      time.Time
	IsSummarized      bool
	CreatedAt         time.Time
}

// Message is one ordered entry in a conversation. tool_call and
// tool_result rows carry a JSON payload in Content bound by ToolUseID.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Role           string
	Content        string
	ToolUseID      string
	TokenCount     *int
	Model          string
	CreatedAt      time.Time
}

// MemorySummary is a digest of a closed conversation, with an optional
// 1536-dim embedding for semantic recall. Embedding is read-only after
// insert.
type MemorySummary struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	ConversationID *uuid.UUID
	Summary        string
	Embedding      []float32 // nil = stored as NULL
	CreatedAt      time.Time
}

// TokenLog records one LLM call. Append-only; UserID and ConversationID
// may be absent for system calls.
type TokenLog struct {
	ID             uuid.UUID
	UserID         *uuid.UUID
	ConversationID *uuid.UUID
	Model          string
	InputTokens    int
	OutputTokens   int
	CostUSD        float64
	CreatedAt      time.Time
}

// ScheduledJob is a durable background check with retry, expiry and
// notification routing. An active job always has NextRunAt set.
type ScheduledJob struct {
	ID                  uuid.UUID
	UserID              uuid.UUID
	WorkflowID          *uuid.UUID
	JobType             string
	Description         string
	CheckConfig         map[string]any
	IntervalSeconds     int
	CronExpr            string // overrides IntervalSeconds when set
	MaxAttempts         int
	MaxRuns             int // 0 = one-shot
	Attempts            int
	RunsCompleted       int
	ConsecutiveFailures int
	Status              string
	NextRunAt           *time.Time
	ExpiresAt           *time.Time
	OnSuccessMessage    string
	OnFailureMessage    string
	OnComplete          string
	Platform            string
	PlatformChannelID   string
	PlatformThreadID    *string
	CompletedAt         *time.Time
	CreatedAt           time.Time
}

// ScheduledWorkflow groups multi-step jobs as one logical unit.
type ScheduledWorkflow struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Name        string
	Status      string
	CompletedAt *time.Time
	CreatedAt   time.Time
}

// LocationReminder triggers on physical proximity to a place. Routing
// fields must be persisted at creation or the notification path has
// nowhere to deliver.
type LocationReminder struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	PlaceName         string
	Lat               float64
	Lng               float64
	RadiusM           float64
	Message           string
	TriggerOn         string
	Mode              string
	CooldownSeconds   int
	CooldownUntil     *time.Time
	ExpiresAt         *time.Time
	TriggerCount      int
	WasInside         bool
	Status            string
	Platform          string
	PlatformChannelID string
	PlatformThreadID  *string
	TriggeredAt       *time.Time
	CreatedAt         time.Time
}

// UserLocation is the latest known position per user, unique on user_id.
type UserLocation struct {
	UserID    uuid.UUID
	Lat       float64
	Lng       float64
	AccuracyM *float64
	SpeedMPS  *float64
	Heading   *float64
	UpdatedAt time.Time
}

// UserNamedPlace is a user-defined named coordinate, unique on
// (user_id, name).
type UserNamedPlace struct {
	ID      uuid.UUID
	UserID  uuid.UUID
	Name    string
	Lat     float64
	Lng     float64
	Address string
}

// ErrorLog is centralized append-only error capture. ToolArgs is stored
// pre-sanitized; writers redact secret-looking keys before appending.
type ErrorLog struct {
	ID        uuid.UUID
	Service   string
	ErrorType string
	ToolName  string
	ToolArgs  string
	Message   string
	Stack     string
	Status    string
	CreatedAt time.Time
}
