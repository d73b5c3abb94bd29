package models

// SessionStatus is the integer session state reported on the wire.
type SessionStatus int

const (
	SessionStarting SessionStatus = 0
	SessionActive   SessionStatus = 1
	SessionStopped  SessionStatus = 2
	SessionError    SessionStatus = 3
)

// MessageStatus reports the outcome of sendUserMessage.
type MessageStatus int

const (
	MessageOK    MessageStatus = 0
	MessageError MessageStatus = 1
)

// ToolResultStatus reports the outcome of provideToolResult.
type ToolResultStatus int

const (
	ToolResultOK    ToolResultStatus = 0
	ToolResultError ToolResultStatus = 1
)

// WorkerState is the lifecycle state of a background agent worker.
type WorkerState string

const (
	WorkerIdle     WorkerState = "IDLE"
	WorkerBusy     WorkerState = "BUSY"
	WorkerSleeping WorkerState = "SLEEPING"
	WorkerStopped  WorkerState = "STOPPED"
)

// SwitchFrame records one level of a synchronous agent switch: the agent
// that initiated the switch and its continuation depth at that moment.
type SwitchFrame struct {
	AgentID string `json:"agent_id"`
	Depth   int    `json:"depth"`
}
