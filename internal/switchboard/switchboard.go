// Package switchboard implements synchronous agent switching: when a
// tool result carries a switch hint, the current agent is suspended,
// the target agent processes the mail in a nested turn, and the reply
// is spliced back into the suspended agent's tool result.
package switchboard

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/parley/internal/config"
	"github.com/haasonsaas/parley/internal/observability"
	"github.com/haasonsaas/parley/internal/tools/builtin"
	"github.com/haasonsaas/parley/pkg/models"
)

// DefaultMaxDepth bounds nested switches when config gives none.
const DefaultMaxDepth = 5

// SwitchToolName is the tool whose successful results trigger a switch.
const SwitchToolName = "send_mail_with_switch"

// Session is the slice of session behavior the handler drives. The
// session package implements it; the interface lives here to keep the
// dependency one-way.
type Session interface {
	// ID returns the session id.
	ID() string

	// ActiveAgentID returns the currently active agent.
	ActiveAgentID() string

	// ResolveAgentID maps a short id, exact name, or first-name prefix
	// to a canonical agent id.
	ResolveAgentID(ref string) (string, bool)

	// SwitchAgent makes the agent active, creating it on first
	// reference, and emits the agent.switched notification.
	SwitchAgent(ctx context.Context, agentID string) error

	// ProcessMessage runs a turn on the active agent and returns its
	// reply text. The continuation flag preserves the outer depth.
	ProcessMessage(ctx context.Context, content string, continuation bool) (string, error)

	// ContinuationDepth and RestoreContinuationDepth snapshot and
	// restore the session's depth around a nested turn.
	ContinuationDepth() int
	RestoreContinuationDepth(depth int)
}

// Handler consults executed tool batches and performs switches. One
// handler exists per session; turns are serialized per session, so the
// switch stack needs no locking.
type Handler struct {
	session  Session
	maxDepth int
	logger   *observability.Logger
	metrics  *observability.Metrics

	stack    []models.SwitchFrame
	appended []string
}

// NewHandler creates the switch handler for one session.
func NewHandler(sess Session, cfg config.SwitchConfig, logger *observability.Logger, metrics *observability.Metrics) *Handler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	maxDepth := cfg.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Handler{
		session:  sess,
		maxDepth: maxDepth,
		logger:   logger.Named("switchboard"),
		metrics:  metrics,
	}
}

// Depth returns the current switch nesting depth.
func (h *Handler) Depth() int { return len(h.stack) }

// AfterTools scans an executed batch for successful switch-tool results
// and runs the switch for each. All failures become bracketed inline
// text appended to the triggering result; nothing escapes as an error.
func (h *Handler) AfterTools(ctx context.Context, calls []models.ToolCall, results []models.ToolResult) []models.ToolResult {
	for i, call := range calls {
		if call.Name != SwitchToolName || i >= len(results) || results[i].IsError {
			continue
		}
		target, ok := switchHint(results[i])
		if !ok {
			continue
		}
		text := h.performSwitch(ctx, target)
		results[i].Content += text
		h.appended = append(h.appended, text)
	}
	return results
}

// TakeAppended drains the switch-reply blocks produced since the last
// call. The session appends them to the turn's response text.
func (h *Handler) TakeAppended() string {
	if len(h.appended) == 0 {
		return ""
	}
	text := strings.Join(h.appended, "")
	h.appended = nil
	return text
}

// switchHint extracts the target agent reference from a switch-tool
// result. The executor carries the hint in result metadata; the content
// payload is the fallback for results that crossed a wire.
func switchHint(res models.ToolResult) (string, bool) {
	if target, ok := res.Metadata[builtin.SwitchHintKey].(string); ok && target != "" {
		return target, true
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(res.Content), &payload); err != nil {
		return "", false
	}
	target, _ := payload[builtin.SwitchHintKey].(string)
	return target, target != ""
}

// performSwitch runs the full suspend/activate/resume cycle and returns
// the text to append to the tool result.
func (h *Handler) performSwitch(ctx context.Context, ref string) string {
	target, ok := h.session.ResolveAgentID(ref)
	if !ok {
		h.recordSwitch("unknown_agent")
		return fmt.Sprintf("\n\n[Agent switch failed: unknown agent %q]", ref)
	}

	current := h.session.ActiveAgentID()
	if target == current {
		h.recordSwitch("self")
		return fmt.Sprintf("\n\n[Agent switch skipped: %s is already active]", target)
	}
	for _, frame := range h.stack {
		if frame.AgentID == target {
			h.recordSwitch("circular")
			return fmt.Sprintf("\n\n[Circular mail detected: %s is already in the switch chain]", target)
		}
	}
	if len(h.stack) >= h.maxDepth {
		h.recordSwitch("depth_limit")
		return fmt.Sprintf("\n\n[Agent switch depth limit (%d) reached]", h.maxDepth)
	}

	depth := h.session.ContinuationDepth()
	h.stack = append(h.stack, models.SwitchFrame{AgentID: current, Depth: depth})
	defer func() {
		h.stack = h.stack[:len(h.stack)-1]
		h.session.RestoreContinuationDepth(depth)
	}()

	if err := h.session.SwitchAgent(ctx, target); err != nil {
		h.recordSwitch("error")
		return fmt.Sprintf("\n\n[Agent switch to %s failed: %v]", target, err)
	}

	h.logger.Info(ctx, "agent switch", "from", current, "to", target, "depth", len(h.stack))

	notification := fmt.Sprintf(
		"You have been activated via agent switch from %s. Use the check-mail tool to read your mailbox.",
		current)
	reply, err := h.session.ProcessMessage(ctx, notification, true)

	if switchErr := h.session.SwitchAgent(ctx, current); switchErr != nil {
		h.logger.Error(ctx, "switch back failed", "agent_id", current, "error", switchErr)
	}

	if err != nil {
		h.recordSwitch("error")
		return fmt.Sprintf("\n\n[Agent switch to %s failed: %v]", target, err)
	}

	h.recordSwitch("ok")
	return fmt.Sprintf("\n\n[%s processed the mail and responded: %s]", ref, strings.TrimSpace(reply))
}

func (h *Handler) recordSwitch(status string) {
	if h.metrics != nil {
		h.metrics.RecordSwitch(status)
	}
}
