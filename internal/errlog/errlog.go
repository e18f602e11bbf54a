// Package errlog is fire-and-forget centralized error capture. Reporting
// never blocks or faults the caller, and tool arguments are redacted
// before they reach the store.
package errlog

import (
	"context"
	"encoding/json"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/nextlevelbuilder/aide/internal/store"
)

// Error types recorded in the log.
const (
	TypeToolExecution     = "tool_execution"
	TypeLLMCall           = "llm_call"
	TypeAgentLoop         = "agent_loop"
	TypeModuleUnreachable = "module_unreachable"
	TypeInvalidTool       = "invalid_tool"
	TypeBudgetExceeded    = "budget_exceeded"
	TypeAuth              = "auth"
	TypeValidation        = "validation"
	TypeNotFound          = "not_found"
	TypeInternal          = "internal"
)

// secretKeyFragments flags argument keys whose values must never be stored.
var secretKeyFragments = []string{"token", "secret", "password", "api_key", "apikey", "credential", "authorization"}

// Reporter writes error logs asynchronously.
type Reporter struct {
	service string
	logs    store.ErrorLogStore
}

func NewReporter(service string, logs store.ErrorLogStore) *Reporter {
	return &Reporter{service: service, logs: logs}
}

// Report captures one failure. It returns immediately; the write happens
// on its own goroutine with its own deadline.
func (r *Reporter) Report(errorType, toolName string, args map[string]any, err error) {
	if r == nil || r.logs == nil || err == nil {
		return
	}
	entry := &store.ErrorLog{
		Service:   r.service,
		ErrorType: errorType,
		ToolName:  toolName,
		ToolArgs:  encodeArgs(Redact(args)),
		Message:   err.Error(),
		Stack:     string(debug.Stack()),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if werr := r.logs.Append(ctx, entry); werr != nil {
			slog.Warn("errlog.append_failed", "error_type", errorType, "error", werr)
		}
	}()
}

// Redact replaces values of secret-looking keys. The input map is not
// modified.
func Redact(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		if isSecretKey(k) {
			out[k] = "[redacted]"
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = Redact(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func isSecretKey(key string) bool {
	lower := strings.ToLower(key)
	for _, frag := range secretKeyFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

func encodeArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	return string(raw)
}
