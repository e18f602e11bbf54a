package modules

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/aide/internal/llm"
)

const dispatchTimeout = 30 * time.Second

// Dispatcher executes canonical tool calls against module /execute
// endpoints. Failures of any kind come back as error ToolResults, never as
// Go errors, so the agent loop can hand them to the LLM.
type Dispatcher struct {
	registry *Registry
	token    string
	client   *http.Client
}

func NewDispatcher(registry *Registry, token string) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		token:    token,
		client:   &http.Client{Timeout: dispatchTimeout},
	}
}

// executeRequest is the wire body POSTed to a module's /execute.
type executeRequest struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
	UserID    *uuid.UUID     `json:"user_id,omitempty"`
}

// Execute routes one tool call. The qualified name splits on the first dot
// into (module, tool); the module part selects the target service.
func (d *Dispatcher) Execute(ctx context.Context, call llm.ToolCall, userID *uuid.UUID) *ToolResult {
	module, tool, ok := strings.Cut(call.ToolName, ".")
	if !ok || module == "" || tool == "" {
		return ErrorResult(call.ToolName, fmt.Sprintf("invalid tool name %q: expected module.tool", call.ToolName))
	}

	base, registered := d.registry.Module(module)
	if !registered {
		return ErrorResult(call.ToolName, fmt.Sprintf("module %q is not registered", module))
	}

	payload, err := json.Marshal(executeRequest{
		ToolName:  tool,
		Arguments: call.Arguments,
		UserID:    userID,
	})
	if err != nil {
		return ErrorResult(call.ToolName, fmt.Sprintf("encode arguments: %v", err))
	}

	ctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(base, "/")+"/execute", bytes.NewReader(payload))
	if err != nil {
		return ErrorResult(call.ToolName, fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return ErrorResult(call.ToolName, fmt.Sprintf("module %q timed out after %s", module, dispatchTimeout))
		}
		return ErrorResult(call.ToolName, fmt.Sprintf("module %q unreachable: %v", module, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return ErrorResult(call.ToolName, fmt.Sprintf("read module response: %v", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Warn("modules.execute_failed", "module", module, "tool", tool, "status", resp.StatusCode)
		return ErrorResult(call.ToolName, fmt.Sprintf("module %q returned status %d", module, resp.StatusCode))
	}

	var result ToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return ErrorResult(call.ToolName, fmt.Sprintf("decode module response: %v", err))
	}
	if result.ToolName == "" {
		result.ToolName = call.ToolName
	}
	return &result
}
