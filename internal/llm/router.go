package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNoEmbedder is returned by Embed when no embedding-capable provider is
// configured. Callers treat it as "no embedding" and degrade.
var ErrNoEmbedder = errors.New("llm: no embedding provider configured")

// Router selects a provider per call, rewrites tool names into the
// provider's allowed character set, and maps returned tool calls back to
// canonical names.
type Router struct {
	providers map[string]Provider
	order     []string // preference order for model-less calls
	embedder  Embedder
}

// NewRouter builds a router over the given providers, preferring them in
// the order supplied. Providers implementing Embedder are candidates for
// Embed; the first one wins.
func NewRouter(providers ...Provider) (*Router, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("llm: at least one provider required")
	}
	r := &Router{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
		r.order = append(r.order, p.Name())
		if e, ok := p.(Embedder); ok && r.embedder == nil {
			r.embedder = e
		}
	}
	return r, nil
}

// Chat routes one call. Tool names are sanitized per request and returned
// tool calls carry canonical names again, so the round trip is identity.
func (r *Router) Chat(ctx context.Context, req ChatRequest) (*Response, error) {
	provider, err := r.providerFor(req.Model)
	if err != nil {
		return nil, err
	}

	mapper := newNameMapper(req.Tools)

	wire := req
	if len(req.Tools) > 0 {
		wire.Tools = make([]ToolDefinition, len(req.Tools))
		for i, t := range req.Tools {
			t.Name = mapper.provider(t.Name)
			wire.Tools[i] = t
		}
	}
	if needsNameRewrite(req.Messages) {
		wire.Messages = make([]Message, len(req.Messages))
		for i, m := range req.Messages {
			if m.Role == RoleToolCall && len(m.ToolCalls) > 0 {
				calls := make([]ToolCall, len(m.ToolCalls))
				for j, tc := range m.ToolCalls {
					tc.ToolName = mapper.provider(tc.ToolName)
					calls[j] = tc
				}
				m.ToolCalls = calls
			}
			wire.Messages[i] = m
		}
	}

	resp, err := provider.Chat(ctx, wire)
	if err != nil {
		return nil, fmt.Errorf("llm %s: %w", provider.Name(), err)
	}
	for i := range resp.ToolCalls {
		resp.ToolCalls[i].ToolName = mapper.canonical(resp.ToolCalls[i].ToolName)
	}
	if resp.Model == "" {
		resp.Model = req.Model
	}
	return resp, nil
}

// Embed returns the embedding vector for text, or ErrNoEmbedder when no
// configured provider can embed.
func (r *Router) Embed(ctx context.Context, text string) ([]float32, error) {
	if r.embedder == nil {
		return nil, ErrNoEmbedder
	}
	return r.embedder.Embed(ctx, text)
}

// DefaultModel returns the preferred provider's default model.
func (r *Router) DefaultModel() string {
	return r.providers[r.order[0]].DefaultModel()
}

// providerFor picks a provider by model-name family, falling back to the
// preference order for unknown or empty models.
func (r *Router) providerFor(model string) (Provider, error) {
	name := ""
	switch {
	case strings.HasPrefix(model, "claude"):
		name = "anthropic"
	case strings.HasPrefix(model, "gpt"), strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		name = "openai"
	}
	if name != "" {
		if p, ok := r.providers[name]; ok {
			return p, nil
		}
		// Preferred family is absent; degrade to whatever is configured.
	}
	for _, n := range r.order {
		return r.providers[n], nil
	}
	return nil, fmt.Errorf("llm: no provider for model %q", model)
}

func needsNameRewrite(messages []Message) bool {
	for _, m := range messages {
		if m.Role == RoleToolCall && len(m.ToolCalls) > 0 {
			return true
		}
	}
	return false
}
