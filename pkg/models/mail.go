package models

import "time"

// MailPriority orders mail delivery. Check returns higher priorities
// first; within one priority, insertion order is preserved.
type MailPriority string

const (
	MailPriorityLow    MailPriority = "low"
	MailPriorityNormal MailPriority = "normal"
	MailPriorityHigh   MailPriority = "high"
	MailPriorityUrgent MailPriority = "urgent"
)

// Rank maps a priority to its delivery precedence. Unknown values rank
// as normal.
func (p MailPriority) Rank() int {
	switch p {
	case MailPriorityUrgent:
		return 3
	case MailPriorityHigh:
		return 2
	case MailPriorityLow:
		return 0
	default:
		return 1
	}
}

// Valid reports whether p is one of the four defined priorities.
func (p MailPriority) Valid() bool {
	switch p {
	case MailPriorityLow, MailPriorityNormal, MailPriorityHigh, MailPriorityUrgent:
		return true
	}
	return false
}

// Mail is a message between agents (or from the user) delivered through
// the shared mailbox. Mail is pulled by explicit check, never pushed.
type Mail struct {
	ID        string         `json:"id"`
	FromAgent string         `json:"from_agent"`
	ToAgent   string         `json:"to_agent"`
	Subject   string         `json:"subject"`
	Body      string         `json:"body"`
	Priority  MailPriority   `json:"priority"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Read      bool           `json:"read"`
}
