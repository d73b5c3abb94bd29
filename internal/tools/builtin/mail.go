// Package builtin provides the runtime's built-in tools: inter-agent
// mail, workspace file access, and utilities. Tools are registered
// through the manifest returned by Specs.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/parley/internal/mailbox"
	"github.com/haasonsaas/parley/internal/tools"
	"github.com/haasonsaas/parley/pkg/models"
)

// SwitchHintKey is the metadata key a send_mail_with_switch result
// carries; the switch handler reads it to activate the target agent.
const SwitchHintKey = "_switch_to_agent"

type mailInput struct {
	ToAgent  string `json:"to_agent"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	Priority string `json:"priority"`
}

var mailSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"to_agent": {"type": "string", "description": "Recipient agent id or name"},
		"subject": {"type": "string", "description": "Short mail subject"},
		"body": {"type": "string", "description": "Mail body"},
		"priority": {"type": "string", "enum": ["low", "normal", "high", "urgent"], "description": "Delivery priority, default normal"}
	},
	"required": ["to_agent", "body"]
}`)

// SendMailTool delivers mail to another agent's mailbox without
// transferring control.
type SendMailTool struct {
	mailbox *mailbox.Mailbox
	// withSwitch makes the result carry the switch hint so the switch
	// handler synchronously activates the recipient.
	withSwitch bool
}

// NewSendMailTool creates the send_mail tool.
func NewSendMailTool(mb *mailbox.Mailbox) *SendMailTool {
	return &SendMailTool{mailbox: mb}
}

// NewSendMailWithSwitchTool creates the send_mail_with_switch variant.
func NewSendMailWithSwitchTool(mb *mailbox.Mailbox) *SendMailTool {
	return &SendMailTool{mailbox: mb, withSwitch: true}
}

func (t *SendMailTool) Name() string {
	if t.withSwitch {
		return "send_mail_with_switch"
	}
	return "send_mail"
}

func (t *SendMailTool) Description() string {
	if t.withSwitch {
		return "Send mail to another agent and immediately transfer control to it. " +
			"The recipient is activated, reads its mailbox, responds, and control returns to you. " +
			"Use when you need the other agent's answer before you can proceed."
	}
	return "Send mail to another agent's mailbox. The recipient sees it the next time it checks mail; " +
		"control stays with you. Use for notifications that do not need an immediate answer."
}

func (t *SendMailTool) Schema() json.RawMessage { return mailSchema }

func (t *SendMailTool) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	var in mailInput
	if err := json.Unmarshal(params, &in); err != nil {
		return &tools.Result{Content: fmt.Sprintf("invalid mail parameters: %v", err), IsError: true}, nil
	}
	ref := strings.ToLower(strings.TrimSpace(in.ToAgent))
	if ref == "" {
		return &tools.Result{Content: "to_agent is required", IsError: true}, nil
	}

	// The mailbox queues by canonical id; the reference may be a name
	// or prefix.
	to := ref
	if resolve := tools.AgentResolverFromContext(ctx); resolve != nil {
		canonical, ok := resolve(ref)
		if !ok {
			return &tools.Result{Content: fmt.Sprintf("unknown agent %q", in.ToAgent), IsError: true}, nil
		}
		to = canonical
	}

	mail := &models.Mail{
		FromAgent: tools.CallerFromContext(ctx),
		ToAgent:   to,
		Subject:   in.Subject,
		Body:      in.Body,
		Priority:  models.MailPriority(in.Priority),
	}
	id, err := t.mailbox.Send(mail)
	if err != nil {
		return &tools.Result{Content: fmt.Sprintf("failed to send mail: %v", err), IsError: true}, nil
	}

	payload := map[string]any{"status": "sent", "mail_id": id, "to_agent": to}
	res := &tools.Result{}
	if t.withSwitch {
		// The hint carries the reference as the model addressed it;
		// the switch handler resolves and echoes it.
		res.Metadata = map[string]any{SwitchHintKey: ref}
		payload[SwitchHintKey] = ref
	}
	data, _ := json.Marshal(payload)
	res.Content = string(data)
	return res, nil
}

// CheckMailTool returns and marks read all unread mail for the caller.
type CheckMailTool struct {
	mailbox *mailbox.Mailbox
}

// NewCheckMailTool creates the check_mail tool.
func NewCheckMailTool(mb *mailbox.Mailbox) *CheckMailTool {
	return &CheckMailTool{mailbox: mb}
}

func (t *CheckMailTool) Name() string { return "check_mail" }

func (t *CheckMailTool) Description() string {
	return "Read all unread mail in your mailbox. Mail is ordered by priority (urgent first) " +
		"and then arrival. Reading marks mail as read."
}

func (t *CheckMailTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *CheckMailTool) Execute(ctx context.Context, _ json.RawMessage) (*tools.Result, error) {
	caller := tools.CallerFromContext(ctx)
	mails := t.mailbox.Check(caller)
	if len(mails) == 0 {
		return &tools.Result{Content: "No unread mail."}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You have %d mail(s):\n", len(mails))
	for i, m := range mails {
		fmt.Fprintf(&b, "\n--- Mail %d ---\nFrom: %s\nPriority: %s\nSubject: %s\n\n%s\n",
			i+1, m.FromAgent, m.Priority, m.Subject, m.Body)
	}
	return &tools.Result{Content: b.String()}, nil
}
