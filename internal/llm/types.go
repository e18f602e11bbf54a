// Package llm routes chat and embedding calls across providers behind a
// canonical message / tool-call schema.
package llm

import "context"

// Stop reasons normalized across providers.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// Canonical message roles.
const (
	RoleSystem     = "system"
	RoleUser       = "user"
	RoleAssistant  = "assistant"
	RoleToolCall   = "tool_call"
	RoleToolResult = "tool_result"
)

// Message is one role-qualified entry in a request sequence. tool_call and
// tool_result entries are bound by ToolUseID.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"` // role=tool_call
	ToolUseID string     `json:"tool_use_id,omitempty"` // role=tool_result
	IsError   bool       `json:"is_error,omitempty"`    // role=tool_result
}

// ToolParameter describes one parameter of a tool.
type ToolParameter struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Enum        []string `json:"enum,omitempty"`
}

// ToolDefinition is the canonical tool schema, provider-independent.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
}

// ToolCall is the canonical tool invocation returned by a provider.
type ToolCall struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
	ToolUseID string         `json:"tool_use_id"`
}

// ChatRequest is the input to Router.Chat.
type ChatRequest struct {
	Messages    []Message
	Tools       []ToolDefinition
	Model       string
	MaxTokens   int
	Temperature float64
}

// Response is the normalized result of one LLM call.
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	InputTokens  int
	OutputTokens int
	Model        string
	StopReason   string
}

// Provider is a chat-capable LLM backend.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*Response, error)
	DefaultModel() string
	Name() string
}

// Embedder produces embedding vectors. Not every provider implements it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
