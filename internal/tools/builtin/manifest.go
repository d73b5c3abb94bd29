package builtin

import (
	"context"
	"encoding/json"
	"time"

	"github.com/haasonsaas/parley/internal/mailbox"
	"github.com/haasonsaas/parley/internal/tools"
)

// Specs returns the built-in tool manifest. Registration is cheap: the
// registry defers construction until a tool is first requested.
func Specs(mb *mailbox.Mailbox, workspaceRoot string) []tools.Spec {
	return []tools.Spec{
		{
			Name:     "send_mail",
			Category: "mail",
			Tags:     []string{"communication"},
			Sets:     []string{"mail"},
			New:      func() (tools.Tool, error) { return NewSendMailTool(mb), nil },
		},
		{
			Name:     "send_mail_with_switch",
			Category: "mail",
			Tags:     []string{"communication"},
			Sets:     []string{"mail"},
			New:      func() (tools.Tool, error) { return NewSendMailWithSwitchTool(mb), nil },
		},
		{
			Name:     "check_mail",
			Category: "mail",
			Tags:     []string{"communication"},
			Sets:     []string{"mail"},
			New:      func() (tools.Tool, error) { return NewCheckMailTool(mb), nil },
		},
		{
			Name:     "read_file",
			Category: "filesystem",
			Tags:     []string{"files"},
			Sets:     []string{"files"},
			New:      func() (tools.Tool, error) { return NewReadFileTool(workspaceRoot), nil },
		},
		{
			Name:     "list_files",
			Category: "filesystem",
			Tags:     []string{"files"},
			Sets:     []string{"files"},
			New:      func() (tools.Tool, error) { return NewListFilesTool(workspaceRoot), nil },
		},
		{
			Name:     "current_time",
			Category: "utility",
			Tags:     []string{"utility"},
			Sets:     []string{"utility"},
			New:      func() (tools.Tool, error) { return &CurrentTimeTool{}, nil },
		},
	}
}

// CurrentTimeTool reports the current UTC time.
type CurrentTimeTool struct{}

func (t *CurrentTimeTool) Name() string { return "current_time" }

func (t *CurrentTimeTool) Description() string {
	return "Get the current date and time in UTC (RFC 3339)."
}

func (t *CurrentTimeTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *CurrentTimeTool) Execute(context.Context, json.RawMessage) (*tools.Result, error) {
	return &tools.Result{Content: time.Now().UTC().Format(time.RFC3339)}, nil
}
