// Package agent drives one user turn: resolve identity, assemble context,
// and iterate LLM calls against tool executions until the model stops
// asking for tools or the iteration cap is hit.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/aide/internal/convo"
	"github.com/nextlevelbuilder/aide/internal/errlog"
	"github.com/nextlevelbuilder/aide/internal/llm"
	"github.com/nextlevelbuilder/aide/internal/modules"
	"github.com/nextlevelbuilder/aide/internal/store"
)

// notifyModulePrefixes lists tool-name prefixes whose modules persist rows
// later read by a worker for proactive delivery. Calls to these tools get
// the conversation's routing fields injected so the eventual notification
// has somewhere to go.
var notifyModulePrefixes = []string{"scheduler.", "location."}

// Config tunes the loop.
type Config struct {
	MaxIterations int  // hard cap on LLM<->tool cycles per turn
	RecallK       int  // memory summaries folded into the system prompt
	WindowTokens  int  // token budget for the history window
	RecallEnabled bool
}

func DefaultConfig() Config {
	return Config{MaxIterations: 10, RecallK: 3, WindowTokens: 8000, RecallEnabled: true}
}

type llmClient interface {
	Chat(ctx context.Context, req llm.ChatRequest) (*llm.Response, error)
	DefaultModel() string
}

type toolSource interface {
	ToolsFor(perm store.PermissionLevel, allowedModules []string) []llm.ToolDefinition
}

type toolExecutor interface {
	Execute(ctx context.Context, call llm.ToolCall, userID *uuid.UUID) *modules.ToolResult
}

type recaller interface {
	Recall(ctx context.Context, userID uuid.UUID, query string, k int) ([]*store.MemorySummary, error)
}

type errorReporter interface {
	Report(errorType, toolName string, args map[string]any, err error)
}

// Agent wires the loop's collaborators.
type Agent struct {
	users     store.UserStore
	personas  store.PersonaStore
	convos    *convo.Service
	memory    recaller
	tools     toolSource
	exec      toolExecutor
	llm       llmClient
	tokenLogs store.TokenLogStore
	errors    errorReporter
	cfg       Config
}

func New(users store.UserStore, personas store.PersonaStore, convos *convo.Service, memory recaller, tools toolSource, exec toolExecutor, client llmClient, tokenLogs store.TokenLogStore, reporter errorReporter, cfg Config) *Agent {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 10
	}
	if cfg.RecallK <= 0 {
		cfg.RecallK = 3
	}
	if cfg.WindowTokens <= 0 {
		cfg.WindowTokens = 8000
	}
	return &Agent{
		users:     users,
		personas:  personas,
		convos:    convos,
		memory:    memory,
		tools:     tools,
		exec:      exec,
		llm:       client,
		tokenLogs: tokenLogs,
		errors:    reporter,
		cfg:       cfg,
	}
}

// Handle runs one turn. Errors the user can act on come back on
// Response.Error; the returned Go error is reserved for transport-level
// failures the adapter should 500 on.
func (a *Agent) Handle(ctx context.Context, msg IncomingMessage) (*Response, error) {
	if msg.Platform == "" || msg.PlatformUserID == "" || msg.PlatformChannelID == "" || strings.TrimSpace(msg.Content) == "" {
		return &Response{
			Content: "Your message is missing required fields.",
			Error:   ErrValidation,
		}, nil
	}

	user, err := a.users.ResolveOrCreate(ctx, msg.Platform, msg.PlatformUserID, msg.PlatformUsername)
	if err != nil {
		a.errors.Report(errlog.TypeInternal, "", nil, err)
		return nil, fmt.Errorf("resolve user: %w", err)
	}

	persona, err := a.personas.DefaultFor(ctx, msg.Platform, msg.PlatformServerID)
	if errors.Is(err, store.ErrNotFound) {
		persona = &store.Persona{
			Name:         "default",
			SystemPrompt: "You are a helpful assistant.",
			MaxTokens:    1024,
		}
	} else if err != nil {
		a.errors.Report(errlog.TypeInternal, "", nil, err)
		return nil, fmt.Errorf("resolve persona: %w", err)
	}

	conversation, err := a.convos.LocateOrCreate(ctx, user.ID, msg.Platform, msg.PlatformChannelID, msg.PlatformThreadID)
	if err != nil {
		a.errors.Report(errlog.TypeInternal, "", nil, err)
		return nil, fmt.Errorf("locate conversation: %w", err)
	}

	if _, err := a.convos.Append(ctx, conversation.ID, convo.AppendParams{
		Role:    llm.RoleUser,
		Content: foldAttachments(msg.Content, msg.Attachments),
	}); err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}

	// Budget refusal happens after the user message lands but before any
	// LLM spend.
	if user.BudgetExceeded() {
		return &Response{
			Content: "Sorry, you've used up your monthly token budget. It resets at the start of next month.",
			Error:   ErrBudgetExceeded,
		}, nil
	}

	system := a.systemPrompt(ctx, user.ID, persona, msg.Content)
	tools := a.tools.ToolsFor(user.Permission, persona.AllowedModules)
	wantsUserID := toolsNamingUserID(tools)

	history, err := a.convos.History(ctx, conversation.ID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	messages := toLLMMessages(convo.Window(history, a.cfg.WindowTokens))

	model := persona.DefaultModel
	if model == "" {
		model = a.llm.DefaultModel()
	}
	maxTokens := persona.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	var meta []ToolCallMeta
	lastContent := ""
	for iteration := 0; iteration < a.cfg.MaxIterations; iteration++ {
		req := llm.ChatRequest{
			Messages:  append([]llm.Message{{Role: llm.RoleSystem, Content: system}}, messages...),
			Tools:     tools,
			Model:     model,
			MaxTokens: maxTokens,
		}
		resp, err := a.llm.Chat(ctx, req)
		if err != nil {
			a.errors.Report(errlog.TypeLLMCall, "", nil, err)
			return &Response{
				Content: "Sorry, I couldn't reach the language model. Please try again.",
				Error:   ErrLLMCall,
			}, nil
		}
		a.accountTokens(ctx, user.ID, conversation.ID, resp)

		if resp.Content != "" {
			lastContent = resp.Content
		}

		if len(resp.ToolCalls) == 0 {
			if _, err := a.convos.Append(ctx, conversation.ID, convo.AppendParams{
				Role:    llm.RoleAssistant,
				Content: resp.Content,
				Model:   resp.Model,
			}); err != nil {
				slog.Warn("agent.append_assistant_failed", "conversation_id", conversation.ID, "error", err)
			}
			return &Response{Content: resp.Content, ToolCallsMetadata: meta}, nil
		}

		results, batchMeta := a.runToolCalls(ctx, resp.ToolCalls, user, msg, wantsUserID)
		meta = append(meta, batchMeta...)

		callMsg := llm.Message{Role: llm.RoleToolCall, Content: resp.Content, ToolCalls: resp.ToolCalls}
		messages = append(messages, callMsg)
		a.persistToolCalls(ctx, conversation.ID, resp)

		for i, call := range resp.ToolCalls {
			resultMsg := toolResultMessage(call, results[i])
			messages = append(messages, resultMsg)
			a.persistToolResult(ctx, conversation.ID, call, results[i])
		}
	}

	a.errors.Report(errlog.TypeAgentLoop, "", nil, fmt.Errorf("iteration cap %d exceeded", a.cfg.MaxIterations))
	if lastContent == "" {
		lastContent = "I couldn't finish working on that request."
	}
	return &Response{Content: lastContent, Error: ErrIterationLimit, ToolCallsMetadata: meta}, nil
}

// systemPrompt is the persona prompt plus a recall block of memory
// summaries relevant to the new message.
func (a *Agent) systemPrompt(ctx context.Context, userID uuid.UUID, persona *store.Persona, query string) string {
	prompt := persona.SystemPrompt
	if !a.cfg.RecallEnabled || a.memory == nil {
		return prompt
	}
	summaries, err := a.memory.Recall(ctx, userID, query, a.cfg.RecallK)
	if err != nil {
		slog.Debug("agent.recall_failed", "user_id", userID, "error", err)
		return prompt
	}
	if len(summaries) == 0 {
		return prompt
	}
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\nWhat you remember about this user from past conversations:\n")
	for _, s := range summaries {
		b.WriteString("- ")
		b.WriteString(s.Summary)
		b.WriteByte('\n')
	}
	return b.String()
}

// runToolCalls executes every call of one turn in parallel and returns
// results in call order.
func (a *Agent) runToolCalls(ctx context.Context, calls []llm.ToolCall, user *store.User, msg IncomingMessage, wantsUserID map[string]bool) ([]*modules.ToolResult, []ToolCallMeta) {
	results := make([]*modules.ToolResult, len(calls))
	meta := make([]ToolCallMeta, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			injected := injectContext(call, user.ID, msg, wantsUserID)
			started := time.Now()
			res := a.exec.Execute(gctx, injected, &user.ID)
			results[i] = res
			meta[i] = ToolCallMeta{
				ToolName:   call.ToolName,
				Success:    res.Success,
				DurationMS: time.Since(started).Milliseconds(),
			}
			if !res.Success {
				a.errors.Report(errlog.TypeToolExecution, call.ToolName, call.Arguments, errors.New(res.Error))
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, meta
}

// injectContext copies conversation routing into the arguments of tools
// that persist rows a worker later routes notifications from, and fills
// user_id wherever the tool's schema names it.
func injectContext(call llm.ToolCall, userID uuid.UUID, msg IncomingMessage, wantsUserID map[string]bool) llm.ToolCall {
	args := make(map[string]any, len(call.Arguments)+4)
	for k, v := range call.Arguments {
		args[k] = v
	}
	if isNotifyCapable(call.ToolName) {
		args["platform"] = msg.Platform
		args["platform_channel_id"] = msg.PlatformChannelID
		if msg.PlatformThreadID != nil {
			args["platform_thread_id"] = *msg.PlatformThreadID
		}
	}
	if wantsUserID[call.ToolName] {
		args["user_id"] = userID.String()
	}
	call.Arguments = args
	return call
}

func isNotifyCapable(toolName string) bool {
	for _, prefix := range notifyModulePrefixes {
		if strings.HasPrefix(toolName, prefix) {
			return true
		}
	}
	return false
}

// toolsNamingUserID indexes which visible tools declare a user_id
// parameter in their schema.
func toolsNamingUserID(tools []llm.ToolDefinition) map[string]bool {
	out := make(map[string]bool, len(tools))
	for _, def := range tools {
		for _, p := range def.Parameters {
			if p.Name == "user_id" {
				out[def.Name] = true
				break
			}
		}
	}
	return out
}

func (a *Agent) accountTokens(ctx context.Context, userID, conversationID uuid.UUID, resp *llm.Response) {
	if err := a.tokenLogs.Append(ctx, &store.TokenLog{
		UserID:         &userID,
		ConversationID: &conversationID,
		Model:          resp.Model,
		InputTokens:    resp.InputTokens,
		OutputTokens:   resp.OutputTokens,
		CostUSD:        llm.EstimateCostUSD(resp.Model, resp.InputTokens, resp.OutputTokens),
	}); err != nil {
		slog.Warn("agent.token_log_failed", "conversation_id", conversationID, "error", err)
	}
	if err := a.users.AddTokenUsage(ctx, userID, int64(resp.InputTokens+resp.OutputTokens)); err != nil {
		slog.Warn("agent.token_usage_failed", "user_id", userID, "error", err)
	}
}

func (a *Agent) persistToolCalls(ctx context.Context, conversationID uuid.UUID, resp *llm.Response) {
	for _, call := range resp.ToolCalls {
		payload, err := json.Marshal(call)
		if err != nil {
			slog.Warn("agent.marshal_tool_call_failed", "tool", call.ToolName, "error", err)
			continue
		}
		if _, err := a.convos.Append(ctx, conversationID, convo.AppendParams{
			Role:      llm.RoleToolCall,
			Content:   string(payload),
			ToolUseID: call.ToolUseID,
			Model:     resp.Model,
		}); err != nil {
			slog.Warn("agent.append_tool_call_failed", "tool", call.ToolName, "error", err)
		}
	}
}

func (a *Agent) persistToolResult(ctx context.Context, conversationID uuid.UUID, call llm.ToolCall, result *modules.ToolResult) {
	payload, err := json.Marshal(result)
	if err != nil {
		slog.Warn("agent.marshal_tool_result_failed", "tool", call.ToolName, "error", err)
		return
	}
	if _, err := a.convos.Append(ctx, conversationID, convo.AppendParams{
		Role:      llm.RoleToolResult,
		Content:   string(payload),
		ToolUseID: call.ToolUseID,
	}); err != nil {
		slog.Warn("agent.append_tool_result_failed", "tool", call.ToolName, "error", err)
	}
}

// toolResultMessage renders an executed result as the provider-facing
// tool_result entry.
func toolResultMessage(call llm.ToolCall, result *modules.ToolResult) llm.Message {
	content := ""
	if result.Success {
		if raw, err := json.Marshal(result.Result); err == nil {
			content = string(raw)
		}
	} else {
		content = result.Error
	}
	return llm.Message{
		Role:      llm.RoleToolResult,
		Content:   content,
		ToolUseID: call.ToolUseID,
		IsError:   !result.Success,
	}
}

// toLLMMessages converts stored history into the canonical request
// sequence. Consecutive tool_call rows of one turn are grouped back into
// a single tool_call message.
func toLLMMessages(msgs []*store.Message) []llm.Message {
	var out []llm.Message
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleToolCall:
			var call llm.ToolCall
			if err := json.Unmarshal([]byte(m.Content), &call); err != nil {
				continue
			}
			if n := len(out); n > 0 && out[n-1].Role == llm.RoleToolCall {
				out[n-1].ToolCalls = append(out[n-1].ToolCalls, call)
				continue
			}
			out = append(out, llm.Message{Role: llm.RoleToolCall, ToolCalls: []llm.ToolCall{call}})

		case llm.RoleToolResult:
			var result modules.ToolResult
			if err := json.Unmarshal([]byte(m.Content), &result); err != nil {
				continue
			}
			out = append(out, toolResultMessage(llm.ToolCall{ToolUseID: m.ToolUseID}, &result))

		default:
			out = append(out, llm.Message{Role: m.Role, Content: m.Content})
		}
	}
	return out
}

// foldAttachments appends an attachment metadata block to the message
// content.
func foldAttachments(content string, attachments []Attachment) string {
	if len(attachments) == 0 {
		return content
	}
	var b strings.Builder
	b.WriteString(content)
	b.WriteString("\n\n[attachments]\n")
	for _, att := range attachments {
		b.WriteString("- ")
		b.WriteString(att.Name)
		if att.ContentType != "" {
			b.WriteString(" (")
			b.WriteString(att.ContentType)
			b.WriteByte(')')
		}
		b.WriteString(": ")
		b.WriteString(att.URL)
		b.WriteByte('\n')
	}
	return b.String()
}
