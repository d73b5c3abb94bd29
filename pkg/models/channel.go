package models

import "time"

// Channel classifies routed model output. Analysis is the model's
// reasoning (hidden from the user by default), commentary narrates tool
// use, and final is the user-visible answer.
type Channel string

const (
	ChannelAnalysis   Channel = "analysis"
	ChannelCommentary Channel = "commentary"
	ChannelFinal      Channel = "final"
)

// ChannelMeta is the metadata attached to every channel message.
type ChannelMeta struct {
	Timestamp         time.Time      `json:"timestamp"`
	AgentID           string         `json:"agent_id"`
	SessionID         string         `json:"session_id"`
	ToolCalls         []ToolCall     `json:"tool_calls,omitempty"`
	ContinuationDepth int            `json:"continuation_depth,omitempty"`
	IsPartial         bool           `json:"is_partial,omitempty"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// ChannelMessage is one routed emission. Sequence numbers are assigned
// on emission and strictly increase per session across all channels;
// a partial emission and the final message it resolves to carry
// different sequences.
type ChannelMessage struct {
	Sequence int64       `json:"sequence"`
	Channel  Channel     `json:"channel"`
	Content  string      `json:"content"`
	Metadata ChannelMeta `json:"metadata"`
}

// Visibility controls which channels a session delivers to its client.
// Final is always delivered regardless of these flags.
type Visibility struct {
	ShowCommentary bool `json:"showCommentary"`
	ShowAnalysis   bool `json:"showAnalysis"`
}

// Delivers reports whether a message on the given channel should reach
// the client under this preference.
func (v Visibility) Delivers(c Channel) bool {
	switch c {
	case ChannelAnalysis:
		return v.ShowAnalysis
	case ChannelCommentary:
		return v.ShowCommentary
	default:
		return true
	}
}
