// Package mailbox implements the process-wide mail store agents use to
// exchange messages. Delivery is pull-based: recipients call Check,
// which atomically returns unread mail ordered by priority then arrival.
package mailbox

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/parley/pkg/models"
)

// ErrNoRecipient is returned when mail names no recipient.
var ErrNoRecipient = errors.New("mailbox: mail has no recipient")

// Mailbox is a thread-safe store of per-agent mail queues. Reads mark
// mail as read without removing it; mail lives until the owning session
// tears the mailbox down.
type Mailbox struct {
	mu     sync.Mutex
	queues map[string][]*models.Mail
	unread map[string]int
}

// New returns an empty mailbox.
func New() *Mailbox {
	return &Mailbox{
		queues: make(map[string][]*models.Mail),
		unread: make(map[string]int),
	}
}

// Send appends mail to the recipient's queue and returns the generated
// id. Missing priority defaults to normal; id and created_at are always
// assigned here.
func (m *Mailbox) Send(mail *models.Mail) (string, error) {
	if mail == nil || mail.ToAgent == "" {
		return "", ErrNoRecipient
	}
	if !mail.Priority.Valid() {
		mail.Priority = models.MailPriorityNormal
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	mail.ID = uuid.NewString()
	mail.CreatedAt = time.Now().UTC()
	mail.Read = false
	m.queues[mail.ToAgent] = append(m.queues[mail.ToAgent], mail)
	m.unread[mail.ToAgent]++
	return mail.ID, nil
}

// Check atomically returns all unread mail for the agent, ordered by
// descending priority and then arrival order, and marks it read. A given
// mail is returned to its recipient at most once.
func (m *Mailbox) Check(agentID string) []*models.Mail {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Mail
	for _, mail := range m.queues[agentID] {
		if !mail.Read {
			mail.Read = true
			out = append(out, mail)
		}
	}
	m.unread[agentID] = 0

	// Stable sort keeps arrival order inside each priority class.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority.Rank() > out[j].Priority.Rank()
	})

	// Return copies so callers cannot mutate stored mail.
	copies := make([]*models.Mail, len(out))
	for i, mail := range out {
		c := *mail
		copies[i] = &c
	}
	return copies
}

// HasUnread reports whether the agent has unread mail.
func (m *Mailbox) HasUnread(agentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unread[agentID] > 0
}

// UnreadCount returns the number of unread mails for the agent.
func (m *Mailbox) UnreadCount(agentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unread[agentID]
}

// Clear drops the agent's queue entirely.
func (m *Mailbox) Clear(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.queues, agentID)
	delete(m.unread, agentID)
}

// Annotate appends an unread-mail notice to an agent-bound response so
// the model learns about waiting mail without being interrupted.
func (m *Mailbox) Annotate(response, agentID string) string {
	n := m.UnreadCount(agentID)
	if n == 0 {
		return response
	}
	return response + fmt.Sprintf("\n\n[You have %d unread mail. Use the check-mail tool to read it.]", n)
}
