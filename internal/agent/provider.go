package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/parley/internal/structured"
	"github.com/haasonsaas/parley/internal/tools"
	"github.com/haasonsaas/parley/pkg/models"
)

// Provider is a model backend. Implementations stream completions and
// must be safe for concurrent use; different sessions call Complete
// simultaneously.
type Provider interface {
	// Complete sends a request and returns a streaming response. The
	// channel is closed when the stream ends; a chunk with Error set
	// terminates it.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name ("openai", "anthropic").
	Name() string

	// Caps reports what the provider's structured-output support can do.
	Caps() structured.ProviderCaps
}

// ToolDef is a tool advertised to the model.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

// ToolDefs converts a tool view into provider tool definitions.
func ToolDefs(view []tools.Tool) []ToolDef {
	defs := make([]ToolDef, 0, len(view))
	for _, t := range view {
		defs = append(defs, ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			Schema:      t.Schema(),
		})
	}
	return defs
}

// CompletionRequest carries one model call: conversation, tool view,
// generation parameters, and the optional response schema.
type CompletionRequest struct {
	Model    string           `json:"model"`
	System   string           `json:"system,omitempty"`
	Messages []models.Message `json:"messages"`
	Tools    []ToolDef        `json:"tools,omitempty"`

	Temperature float32 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`

	// ResponseSchema constrains the reply shape when non-nil. SchemaName
	// labels it for providers that require a named schema.
	ResponseSchema json.RawMessage `json:"response_schema,omitempty"`
	SchemaName     string          `json:"schema_name,omitempty"`
}

// CompletionChunk is one element of a streaming response.
type CompletionChunk struct {
	// Text is a partial response delta.
	Text string `json:"text,omitempty"`

	// ToolCall is a complete tool invocation request.
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`

	// Done marks successful stream completion. Token counts are only
	// populated on the done chunk.
	Done         bool `json:"done,omitempty"`
	InputTokens  int  `json:"input_tokens,omitempty"`
	OutputTokens int  `json:"output_tokens,omitempty"`

	// Error terminates the stream.
	Error error `json:"-"`
}
