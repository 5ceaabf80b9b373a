// Package llm provides the client for the reasoning/classification
// service. The rest of the codebase depends on the interfaces here, not
// on a concrete provider, so the moderator and the orchestration loop
// stay decoupled from each other and from the wire format.
package llm

import (
	"context"
	"time"
)

// Message represents a chat message for the model.
type Message struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
}

// ToolCall represents a tool call from the model.
type ToolCall struct {
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

// ChatResponse is the provider-neutral response for one chat call.
type ChatResponse struct {
	Model     string
	CreatedAt time.Time
	Message   Message
	Done      bool

	// Token usage reported by the provider (0 when unavailable; the
	// usage meter falls back to its own approximation).
	InputTokens  int
	OutputTokens int

	TotalDuration time.Duration
}

// StreamCallback receives incremental content tokens during ChatStream.
type StreamCallback func(token string)

// GenerateOptions tune a single-shot completion. Zero values are
// omitted from the wire request.
type GenerateOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p,omitempty"`
	TopK        int     `json:"top_k,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
	NumCtx      int     `json:"num_ctx,omitempty"`
}

// Client is the interface the orchestration loop consumes.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// ChatStream sends a streaming chat request. If callback is non-nil,
	// content tokens are streamed to it as they arrive.
	ChatStream(ctx context.Context, model string, messages []Message, tools []map[string]any, callback StreamCallback) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}

// Generator is the narrow single-shot interface the moderator consumes
// for classification. OllamaClient satisfies both Client and Generator.
type Generator interface {
	Generate(ctx context.Context, model, system, prompt string, opts *GenerateOptions) (string, error)
}
