// Package models defines the core data types shared across the parley
// runtime: context messages, tool calls, mail, channel messages, and the
// wire-level status enums. These types are transport-agnostic; JSON tags
// match the client protocol.
package models

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a context message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in an agent's conversation context. The first
// message of a context is the system prompt when one is set; a tool
// message's ToolCallID always references a tool call from an earlier
// assistant message.
type Message struct {
	// ID uniquely identifies the message.
	ID string `json:"id"`

	// Role is the message author: system, user, assistant, or tool.
	Role Role `json:"role"`

	// Content is the message text. For tool messages this is the tool
	// result payload (or an error description).
	Content string `json:"content"`

	// ToolCalls holds the tool invocations requested by an assistant
	// message. Empty for other roles.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool message back to the assistant tool call
	// it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// AgentID is the agent this message belongs to.
	AgentID string `json:"agent_id,omitempty"`

	// CreatedAt is the message creation timestamp.
	CreatedAt time.Time `json:"created_at"`

	// Metadata carries auxiliary message data (error flags, file-ref
	// provenance, continuation round).
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	// ID is the provider-assigned call identifier.
	ID string `json:"id"`

	// Name is the tool to invoke.
	Name string `json:"name"`

	// Input is the raw JSON arguments for the tool.
	Input json.RawMessage `json:"input"`
}

// ToolResult is the outcome of executing a single tool call.
type ToolResult struct {
	// ToolCallID matches the ToolCall this result answers.
	ToolCallID string `json:"tool_call_id"`

	// Content is the result payload, or the error text when IsError.
	Content string `json:"content"`

	// IsError marks a failed execution. Failed calls still produce a
	// result; they never abort the turn.
	IsError bool `json:"is_error,omitempty"`

	// Metadata carries backend-only hints such as the agent-switch
	// request. It is never sent to the model.
	Metadata map[string]any `json:"metadata,omitempty"`
}
