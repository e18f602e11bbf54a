package agent

// IncomingMessage is the normalized ingress payload submitted by a
// platform adapter.
type IncomingMessage struct {
	Platform          string       `json:"platform"`
	PlatformUserID    string       `json:"platform_user_id"`
	PlatformUsername  string       `json:"platform_username,omitempty"`
	PlatformChannelID string       `json:"platform_channel_id"`
	PlatformThreadID  *string      `json:"platform_thread_id,omitempty"`
	PlatformServerID  string       `json:"platform_server_id,omitempty"`
	Content           string       `json:"content"`
	Attachments       []Attachment `json:"attachments,omitempty"`
}

// Attachment references an uploaded file; content is folded into the user
// message as a metadata block.
type Attachment struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
}

// Response is what the adapter delivers back to the user.
type Response struct {
	Content           string         `json:"content"`
	Files             []string       `json:"files"`
	Error             string         `json:"error,omitempty"`
	ToolCallsMetadata []ToolCallMeta `json:"tool_calls_metadata,omitempty"`
}

// ToolCallMeta is per-tool-call visibility attached to a response.
type ToolCallMeta struct {
	ToolName   string `json:"tool_name"`
	Success    bool   `json:"success"`
	DurationMS int64  `json:"duration_ms"`
}

// Short error codes carried on Response.Error.
const (
	ErrBudgetExceeded = "budget_exceeded"
	ErrValidation     = "validation"
	ErrLLMCall        = "llm_call"
	ErrIterationLimit = "iteration_limit"
	ErrInternal       = "internal"
)
