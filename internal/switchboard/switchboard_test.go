package switchboard

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/haasonsaas/parley/internal/config"
	"github.com/haasonsaas/parley/internal/observability"
	"github.com/haasonsaas/parley/internal/tools/builtin"
	"github.com/haasonsaas/parley/pkg/models"
)

// fakeSession records switch traffic and replies with canned text.
type fakeSession struct {
	active   string
	agents   map[string]string // ref -> id
	depth    int
	switches []string
	messages []string
	reply    string
	replyFn  func(fs *fakeSession, content string) (string, error)
}

func (s *fakeSession) ID() string            { return "s1" }
func (s *fakeSession) ActiveAgentID() string { return s.active }

func (s *fakeSession) ResolveAgentID(ref string) (string, bool) {
	id, ok := s.agents[strings.ToLower(ref)]
	return id, ok
}

func (s *fakeSession) SwitchAgent(ctx context.Context, agentID string) error {
	s.switches = append(s.switches, agentID)
	s.active = agentID
	return nil
}

func (s *fakeSession) ProcessMessage(ctx context.Context, content string, continuation bool) (string, error) {
	s.messages = append(s.messages, content)
	if s.replyFn != nil {
		return s.replyFn(s, content)
	}
	return s.reply, nil
}

func (s *fakeSession) ContinuationDepth() int         { return s.depth }
func (s *fakeSession) RestoreContinuationDepth(d int) { s.depth = d }

func switchResult(target string) models.ToolResult {
	return models.ToolResult{
		ToolCallID: "c1",
		Content:    fmt.Sprintf(`{"status": "sent", "mail_id": "m1", "to_agent": %q, "_switch_to_agent": %q}`, target, target),
	}
}

func newTestHandler(sess Session) *Handler {
	return NewHandler(sess, config.SwitchConfig{}, observability.NewNopLogger(), nil)
}

func TestAfterToolsPerformsSwitch(t *testing.T) {
	sess := &fakeSession{
		active: "a",
		agents: map[string]string{"p": "p", "planner": "p"},
		reply:  "mail handled",
	}
	h := newTestHandler(sess)

	calls := []models.ToolCall{{ID: "c1", Name: SwitchToolName}}
	results := h.AfterTools(context.Background(), calls, []models.ToolResult{switchResult("p")})

	if !strings.Contains(results[0].Content, "[p processed the mail and responded: mail handled]") {
		t.Errorf("result = %q", results[0].Content)
	}
	// Switch to target, then back.
	if len(sess.switches) != 2 || sess.switches[0] != "p" || sess.switches[1] != "a" {
		t.Errorf("switches = %v", sess.switches)
	}
	if len(sess.messages) != 1 || !strings.Contains(sess.messages[0], "activated via agent switch from a") {
		t.Errorf("messages = %v", sess.messages)
	}
	if !strings.Contains(sess.messages[0], "check-mail") {
		t.Errorf("notification missing mailbox hint: %q", sess.messages[0])
	}
}

func TestAfterToolsEchoesMailReference(t *testing.T) {
	sess := &fakeSession{
		active: "a",
		agents: map[string]string{"p": "p", "planner": "p"},
		reply:  "mail handled",
	}
	h := newTestHandler(sess)

	calls := []models.ToolCall{{ID: "c1", Name: SwitchToolName}}
	results := h.AfterTools(context.Background(), calls, []models.ToolResult{switchResult("planner")})

	// The appended block names the agent as the mail addressed it,
	// even when the reference is an alias for the canonical id.
	if !strings.Contains(results[0].Content, "[planner processed the mail and responded: mail handled]") {
		t.Errorf("result = %q", results[0].Content)
	}
	if len(sess.switches) != 2 || sess.switches[0] != "p" {
		t.Errorf("switches = %v", sess.switches)
	}
}

func TestSwitchHintReadFromMetadata(t *testing.T) {
	sess := &fakeSession{
		active: "a",
		agents: map[string]string{"p": "p"},
		reply:  "ok",
	}
	h := newTestHandler(sess)

	// No hint in the content payload; only metadata carries it.
	res := models.ToolResult{
		ToolCallID: "c1",
		Content:    `{"status": "sent", "mail_id": "m1"}`,
		Metadata:   map[string]any{builtin.SwitchHintKey: "p"},
	}
	results := h.AfterTools(context.Background(), []models.ToolCall{{ID: "c1", Name: SwitchToolName}}, []models.ToolResult{res})

	if !strings.Contains(results[0].Content, "[p processed the mail and responded: ok]") {
		t.Errorf("result = %q", results[0].Content)
	}
}

func TestAfterToolsIgnoresOtherTools(t *testing.T) {
	sess := &fakeSession{active: "a", agents: map[string]string{"p": "p"}}
	h := newTestHandler(sess)

	calls := []models.ToolCall{{ID: "c1", Name: "send_mail"}}
	results := h.AfterTools(context.Background(), calls, []models.ToolResult{switchResult("p")})

	if len(sess.switches) != 0 {
		t.Errorf("switches = %v", sess.switches)
	}
	if strings.Contains(results[0].Content, "processed the mail") {
		t.Errorf("result amended: %q", results[0].Content)
	}
}

func TestAfterToolsIgnoresErrorResults(t *testing.T) {
	sess := &fakeSession{active: "a", agents: map[string]string{"p": "p"}}
	h := newTestHandler(sess)

	res := switchResult("p")
	res.IsError = true
	h.AfterTools(context.Background(), []models.ToolCall{{ID: "c1", Name: SwitchToolName}}, []models.ToolResult{res})

	if len(sess.switches) != 0 {
		t.Errorf("switched on an error result: %v", sess.switches)
	}
}

func TestSwitchToUnknownAgent(t *testing.T) {
	sess := &fakeSession{active: "a", agents: map[string]string{}}
	h := newTestHandler(sess)

	results := h.AfterTools(context.Background(),
		[]models.ToolCall{{ID: "c1", Name: SwitchToolName}},
		[]models.ToolResult{switchResult("ghost")})

	if !strings.Contains(results[0].Content, "unknown agent") {
		t.Errorf("result = %q", results[0].Content)
	}
}

func TestSwitchToSelfSkipped(t *testing.T) {
	sess := &fakeSession{active: "a", agents: map[string]string{"a": "a"}}
	h := newTestHandler(sess)

	results := h.AfterTools(context.Background(),
		[]models.ToolCall{{ID: "c1", Name: SwitchToolName}},
		[]models.ToolResult{switchResult("a")})

	if !strings.Contains(results[0].Content, "already active") {
		t.Errorf("result = %q", results[0].Content)
	}
	if len(sess.switches) != 0 {
		t.Errorf("switches = %v", sess.switches)
	}
}

func TestCircularSwitchDetected(t *testing.T) {
	sess := &fakeSession{
		active: "a",
		agents: map[string]string{"a": "a", "b": "b"},
	}
	h := newTestHandler(sess)

	// While b handles the mail it tries to switch back to a, which is
	// suspended on the stack.
	sess.replyFn = func(fs *fakeSession, content string) (string, error) {
		results := h.AfterTools(context.Background(),
			[]models.ToolCall{{ID: "c2", Name: SwitchToolName}},
			[]models.ToolResult{switchResult("a")})
		return results[0].Content, nil
	}

	results := h.AfterTools(context.Background(),
		[]models.ToolCall{{ID: "c1", Name: SwitchToolName}},
		[]models.ToolResult{switchResult("b")})

	if !strings.Contains(results[0].Content, "Circular mail detected") {
		t.Errorf("result = %q", results[0].Content)
	}
	if h.Depth() != 0 {
		t.Errorf("Depth = %d after unwind", h.Depth())
	}
}

func TestSwitchDepthLimit(t *testing.T) {
	agents := map[string]string{}
	for r := 'a'; r <= 'z'; r++ {
		agents[string(r)] = string(r)
	}
	sess := &fakeSession{active: "a", agents: agents}
	h := NewHandler(sess, config.SwitchConfig{MaxDepth: 2}, observability.NewNopLogger(), nil)

	// Each activated agent immediately chains to the next one.
	next := 'b'
	sess.replyFn = func(fs *fakeSession, content string) (string, error) {
		next++
		results := h.AfterTools(context.Background(),
			[]models.ToolCall{{ID: "cn", Name: SwitchToolName}},
			[]models.ToolResult{switchResult(string(next))})
		return results[0].Content, nil
	}

	results := h.AfterTools(context.Background(),
		[]models.ToolCall{{ID: "c1", Name: SwitchToolName}},
		[]models.ToolResult{switchResult("b")})

	if !strings.Contains(results[0].Content, "depth limit (2)") {
		t.Errorf("result = %q", results[0].Content)
	}
}

func TestSwitchRestoresContinuationDepth(t *testing.T) {
	sess := &fakeSession{
		active: "a",
		agents: map[string]string{"b": "b"},
		depth:  2,
	}
	h := newTestHandler(sess)

	sess.replyFn = func(fs *fakeSession, content string) (string, error) {
		fs.depth = 0 // nested turn completed and reset depth
		return "ok", nil
	}

	h.AfterTools(context.Background(),
		[]models.ToolCall{{ID: "c1", Name: SwitchToolName}},
		[]models.ToolResult{switchResult("b")})

	if sess.depth != 2 {
		t.Errorf("depth = %d after switch, want restored 2", sess.depth)
	}
}
