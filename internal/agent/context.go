package agent

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/parley/pkg/models"
)

// Context is one agent's conversation history. The system prompt, when
// set, is always the first message; trimming never removes it. Safe
// for concurrent use, though turns are serialized per session anyway.
type Context struct {
	mu          sync.Mutex
	messages    []models.Message
	maxMessages int
}

// NewContext creates a context seeded with a system prompt. An empty
// prompt means no system message. maxMessages caps retained non-system
// messages; zero means unbounded.
func NewContext(systemPrompt string, maxMessages int) *Context {
	c := &Context{maxMessages: maxMessages}
	if systemPrompt != "" {
		c.messages = append(c.messages, models.Message{
			ID:        uuid.NewString(),
			Role:      models.RoleSystem,
			Content:   systemPrompt,
			CreatedAt: time.Now().UTC(),
		})
	}
	return c
}

// Append adds a message and trims to the retention limit.
func (c *Context) Append(msg models.Message) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	c.mu.Lock()
	c.messages = append(c.messages, msg)
	c.trimLocked()
	c.mu.Unlock()
}

// Messages returns a copy of the current context.
func (c *Context) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of messages including the system prompt.
func (c *Context) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// SystemPrompt returns the current system prompt, empty if unset.
func (c *Context) SystemPrompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) > 0 && c.messages[0].Role == models.RoleSystem {
		return c.messages[0].Content
	}
	return ""
}

// SetSystemPrompt replaces (or installs) the system message in place.
// Used when debug options rebuild the prompt mid-session.
func (c *Context) SetSystemPrompt(prompt string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) > 0 && c.messages[0].Role == models.RoleSystem {
		c.messages[0].Content = prompt
		return
	}
	msg := models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleSystem,
		Content:   prompt,
		CreatedAt: time.Now().UTC(),
	}
	c.messages = append([]models.Message{msg}, c.messages...)
}

// Clear drops everything except the system prompt.
func (c *Context) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) > 0 && c.messages[0].Role == models.RoleSystem {
		c.messages = c.messages[:1]
		return
	}
	c.messages = nil
}

// Snapshot returns a deep-enough copy for save/restore.
func (c *Context) Snapshot() []models.Message {
	return c.Messages()
}

// Restore replaces the context wholesale, for session loading.
func (c *Context) Restore(msgs []models.Message) {
	c.mu.Lock()
	c.messages = make([]models.Message, len(msgs))
	copy(c.messages, msgs)
	c.mu.Unlock()
}

// trimLocked enforces maxMessages. The system message never counts
// against the limit and is never dropped. A trim boundary never leaves
// an orphaned tool message at the front of the window.
func (c *Context) trimLocked() {
	if c.maxMessages <= 0 {
		return
	}
	var system *models.Message
	rest := c.messages
	if len(rest) > 0 && rest[0].Role == models.RoleSystem {
		system = &rest[0]
		rest = rest[1:]
	}
	if len(rest) <= c.maxMessages {
		return
	}

	rest = rest[len(rest)-c.maxMessages:]
	for len(rest) > 0 && rest[0].Role == models.RoleTool {
		rest = rest[1:]
	}

	trimmed := make([]models.Message, 0, len(rest)+1)
	if system != nil {
		trimmed = append(trimmed, *system)
	}
	trimmed = append(trimmed, rest...)
	c.messages = trimmed
}
