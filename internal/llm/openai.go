package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOpenAIModel    = "gpt-4o"
	defaultEmbeddingModel = "text-embedding-3-small"
	openAIAPIBase         = "https://api.openai.com/v1"
)

// OpenAIProvider implements Provider and Embedder using the OpenAI API
// via net/http.
type OpenAIProvider struct {
	apiKey         string
	baseURL        string
	defaultModel   string
	embeddingModel string
	client         *http.Client
	retryConfig    RetryConfig
}

type OpenAIOption func(*OpenAIProvider)

func WithOpenAIModel(model string) OpenAIOption {
	return func(p *OpenAIProvider) {
		if model != "" {
			p.defaultModel = model
		}
	}
}

func WithOpenAIBaseURL(baseURL string) OpenAIOption {
	return func(p *OpenAIProvider) {
		if baseURL != "" {
			p.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

func WithEmbeddingModel(model string) OpenAIOption {
	return func(p *OpenAIProvider) {
		if model != "" {
			p.embeddingModel = model
		}
	}
}

func NewOpenAIProvider(apiKey string, opts ...OpenAIOption) *OpenAIProvider {
	p := &OpenAIProvider{
		apiKey:         apiKey,
		baseURL:        openAIAPIBase,
		defaultModel:   defaultOpenAIModel,
		embeddingModel: defaultEmbeddingModel,
		client:         &http.Client{Timeout: 120 * time.Second},
		retryConfig:    DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *OpenAIProvider) Name() string         { return "openai" }
func (p *OpenAIProvider) DefaultModel() string { return p.defaultModel }

func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	body := p.buildRequestBody(model, req)

	return RetryDo(ctx, p.retryConfig, func() (*Response, error) {
		raw, err := p.post(ctx, "/chat/completions", body)
		if err != nil {
			return nil, err
		}
		var resp openAIResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("openai: decode response: %w", err)
		}
		return parseOpenAIResponse(&resp)
	})
}

// Embed returns the embedding vector for text.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	body := map[string]any{
		"model": p.embeddingModel,
		"input": text,
	}
	return RetryDo(ctx, p.retryConfig, func() ([]float32, error) {
		raw, err := p.post(ctx, "/embeddings", body)
		if err != nil {
			return nil, err
		}
		var resp struct {
			Data []struct {
				Embedding []float32 `json:"embedding"`
			} `json:"data"`
		}
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("openai: decode embedding: %w", err)
		}
		if len(resp.Data) == 0 {
			return nil, fmt.Errorf("openai: empty embedding response")
		}
		return resp.Data[0].Embedding, nil
	})
}

func (p *OpenAIProvider) buildRequestBody(model string, req ChatRequest) map[string]any {
	var messages []map[string]any
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			messages = append(messages, map[string]any{"role": "system", "content": msg.Content})

		case RoleUser:
			messages = append(messages, map[string]any{"role": "user", "content": msg.Content})

		case RoleAssistant:
			messages = append(messages, map[string]any{"role": "assistant", "content": msg.Content})

		case RoleToolCall:
			var calls []map[string]any
			for _, tc := range msg.ToolCalls {
				args, _ := json.Marshal(tc.Arguments)
				calls = append(calls, map[string]any{
					"id":   tc.ToolUseID,
					"type": "function",
					"function": map[string]any{
						"name":      tc.ToolName,
						"arguments": string(args),
					},
				})
			}
			m := map[string]any{"role": "assistant", "tool_calls": calls}
			if msg.Content != "" {
				m["content"] = msg.Content
			}
			messages = append(messages, m)

		case RoleToolResult:
			messages = append(messages, map[string]any{
				"role":         "tool",
				"tool_call_id": msg.ToolUseID,
				"content":      msg.Content,
			})
		}
	}

	body := map[string]any{
		"model":    model,
		"messages": messages,
	}
	if req.MaxTokens > 0 {
		body["max_completion_tokens"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}
	if len(req.Tools) > 0 {
		var tools []map[string]any
		for _, t := range req.Tools {
			tools = append(tools, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  jsonSchemaFor(t.Parameters),
				},
			})
		}
		body["tools"] = tools
	}
	return body
}

func (p *OpenAIProvider) post(ctx context.Context, path string, body map[string]any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai: request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		FinishReason string `json:"finish_reason"`
		Message      struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func parseOpenAIResponse(resp *openAIResponse) (*Response, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices")
	}
	choice := resp.Choices[0]
	out := &Response{
		Content:      choice.Message.Content,
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	switch choice.FinishReason {
	case "tool_calls":
		out.StopReason = StopToolUse
	case "length":
		out.StopReason = StopMaxTokens
	default:
		out.StopReason = StopEndTurn
	}
	for _, tc := range choice.Message.ToolCalls {
		args := make(map[string]any)
		if tc.Function.Arguments != "" {
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ToolName:  tc.Function.Name,
			Arguments: args,
			ToolUseID: tc.ID,
		})
	}
	return out, nil
}
