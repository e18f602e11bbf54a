// Package modules discovers capability-module manifests and dispatches
// tool calls to their /execute endpoints over HTTP.
package modules

import (
	"github.com/nextlevelbuilder/aide/internal/llm"
	"github.com/nextlevelbuilder/aide/internal/store"
)

// Tool is one manifest entry: a canonical tool definition plus the
// permission it requires. Tool names are qualified as "module.tool".
type Tool struct {
	llm.ToolDefinition
	RequiredPermission store.PermissionLevel `json:"required_permission"`
}

// Manifest is a module's self-description served at GET /manifest.
type Manifest struct {
	ModuleName  string `json:"module_name"`
	Description string `json:"description"`
	Tools       []Tool `json:"tools"`
}

// ToolResult is the structured return of a tool execution. Success is
// always present; Error is set when Success is false.
type ToolResult struct {
	ToolName string `json:"tool_name"`
	Success  bool   `json:"success"`
	Result   any    `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ErrorResult builds a failed ToolResult. Dispatch failures are values,
// not errors, so the agent loop stays in control of failure surfaces.
func ErrorResult(toolName, msg string) *ToolResult {
	return &ToolResult{ToolName: toolName, Success: false, Error: msg}
}
