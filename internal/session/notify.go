package session

import (
	"time"

	"github.com/haasonsaas/parley/pkg/models"
)

// Notification method names on the wire.
const (
	NotifyStreaming            = "StreamingUpdate"
	NotifyChannelMessage       = "ChannelMessageNotification"
	NotifyAgentCreated         = "agent.created"
	NotifyAgentSwitched        = "agent.switched"
	NotifyAgentMessage         = "agent.message"
	NotifyContextUpdated       = "context.updated"
	NotifyContextRefreshed     = "context.refreshed"
	NotifyContextCleared       = "context.cleared"
	NotifyContinuationProgress = "continuation.progress"
	NotifySessionSaved         = "session.saved"
	NotifySessionLoaded        = "session.loaded"
	NotifySessionStatus        = "SessionStatusNotification"
)

// Notifier delivers server-to-client notifications. The gateway backs
// it with a JSON-RPC notification writer; tests record calls.
type Notifier interface {
	Notify(method string, params any)
}

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) Notify(string, any) {}

// StreamingUpdate is the payload of a partial text frame.
type StreamingUpdate struct {
	Type         string         `json:"type"`
	Content      string         `json:"content"`
	SessionID    string         `json:"sessionId"`
	AgentID      string         `json:"agentId"`
	IsPartial    bool           `json:"isPartial"`
	Format       string         `json:"format"`
	IsStructured bool           `json:"isStructured,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// ChannelNotification is the payload of a routed channel message.
type ChannelNotification struct {
	Channel  models.Channel    `json:"channel"`
	Content  string            `json:"content"`
	Metadata ChannelNotifyMeta `json:"metadata"`
}

// ChannelNotifyMeta flattens the sequence into the metadata object the
// wire contract expects.
type ChannelNotifyMeta struct {
	Sequence          int64             `json:"sequence"`
	Timestamp         time.Time         `json:"timestamp"`
	AgentID           string            `json:"agentId"`
	SessionID         string            `json:"sessionId"`
	ToolCalls         []models.ToolCall `json:"toolCalls,omitempty"`
	ContinuationDepth int               `json:"continuationDepth,omitempty"`
	IsPartial         bool              `json:"isPartial,omitempty"`
	Extra             map[string]any    `json:"extra,omitempty"`
}

// ContinuationProgress reports one continuation re-entry.
type ContinuationProgress struct {
	AgentID       string   `json:"agent_id"`
	Iteration     int      `json:"iteration"`
	MaxIterations int      `json:"max_iterations"`
	Progress      string   `json:"progress"`
	CurrentTools  []string `json:"current_tools,omitempty"`
}

// AgentSwitched reports an active-agent change.
type AgentSwitched struct {
	SessionID string `json:"sessionId"`
	FromAgent string `json:"from_agent,omitempty"`
	ToAgent   string `json:"to_agent"`
}

// SessionStatusUpdate reports a lifecycle transition.
type SessionStatusUpdate struct {
	SessionID string               `json:"sessionId"`
	Status    models.SessionStatus `json:"status"`
	Reason    string               `json:"reason,omitempty"`
}

func channelNotification(msg models.ChannelMessage) ChannelNotification {
	return ChannelNotification{
		Channel: msg.Channel,
		Content: msg.Content,
		Metadata: ChannelNotifyMeta{
			Sequence:          msg.Sequence,
			Timestamp:         msg.Metadata.Timestamp,
			AgentID:           msg.Metadata.AgentID,
			SessionID:         msg.Metadata.SessionID,
			ToolCalls:         msg.Metadata.ToolCalls,
			ContinuationDepth: msg.Metadata.ContinuationDepth,
			IsPartial:         msg.Metadata.IsPartial,
			Extra:             msg.Metadata.Extra,
		},
	}
}
