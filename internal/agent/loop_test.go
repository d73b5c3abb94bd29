package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/haasonsaas/parley/internal/observability"
	"github.com/haasonsaas/parley/internal/structured"
	"github.com/haasonsaas/parley/internal/tools"
	"github.com/haasonsaas/parley/pkg/models"
)

// fakeProvider replays scripted chunk rounds and records requests.
type fakeProvider struct {
	mu       sync.Mutex
	rounds   [][]*CompletionChunk
	requests []*CompletionRequest
}

func (p *fakeProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	if len(p.rounds) == 0 {
		p.mu.Unlock()
		return nil, errors.New("no scripted rounds left")
	}
	round := p.rounds[0]
	p.rounds = p.rounds[1:]
	p.mu.Unlock()

	out := make(chan *CompletionChunk, len(round))
	for _, c := range round {
		out <- c
	}
	close(out)
	return out, nil
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Caps() structured.ProviderCaps {
	return structured.ProviderCaps{StructuredOutput: true, ToolsWithStructured: true}
}

// echoTool returns its input verbatim.
type echoTool struct{}

func (echoTool) Name() string            { return "echo" }
func (echoTool) Description() string     { return "echoes input" }
func (echoTool) Schema() json.RawMessage { return nil }
func (echoTool) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	return &tools.Result{Content: "echo: " + string(params)}, nil
}

func newTestAgent(t *testing.T, p *fakeProvider) *Agent {
	t.Helper()
	reg := tools.NewRegistry(observability.NewNopLogger())
	reg.Register(tools.Spec{Name: "echo", New: func() (tools.Tool, error) { return echoTool{}, nil }})
	exec := tools.NewExecutor(reg, nil, observability.NewNopLogger(), nil, nil)
	cfg := models.AgentConfig{ID: "a", Name: "Alpha", Model: "test-model",
		Tools: models.ToolFilters{Allow: []string{"echo"}}}
	return New(cfg, "you are alpha", p, reg, exec, observability.NewNopLogger(), nil, nil)
}

func textChunks(parts ...string) []*CompletionChunk {
	out := make([]*CompletionChunk, 0, len(parts)+1)
	for _, p := range parts {
		out = append(out, &CompletionChunk{Text: p})
	}
	return append(out, &CompletionChunk{Done: true})
}

func TestProcessPlainTurn(t *testing.T) {
	p := &fakeProvider{rounds: [][]*CompletionChunk{textChunks("Hello", " there")}}
	a := newTestAgent(t, p)

	var streamed strings.Builder
	res, err := a.Process(context.Background(), "hi", ProcessOptions{
		OnDelta: func(s string) { streamed.WriteString(s) },
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Response != "Hello there" || res.FinishReason != FinishStop {
		t.Errorf("result = %+v", res)
	}
	if streamed.String() != "Hello there" {
		t.Errorf("streamed = %q", streamed.String())
	}

	// System prompt travels separately from messages.
	req := p.requests[0]
	if req.System != "you are alpha" {
		t.Errorf("System = %q", req.System)
	}
	for _, m := range req.Messages {
		if m.Role == models.RoleSystem {
			t.Error("system message leaked into Messages")
		}
	}

	// user + assistant committed after the system prompt.
	msgs := a.Context().Messages()
	if len(msgs) != 3 || msgs[2].Role != models.RoleAssistant || msgs[2].Content != "Hello there" {
		t.Errorf("context = %+v", msgs)
	}
}

func TestProcessToolRound(t *testing.T) {
	call := &models.ToolCall{ID: "c1", Name: "echo", Input: json.RawMessage(`{"x":1}`)}
	p := &fakeProvider{rounds: [][]*CompletionChunk{
		{{ToolCall: call}, {Done: true}},
		textChunks("used the tool"),
	}}
	a := newTestAgent(t, p)

	var sawCall, sawResult bool
	res, err := a.Process(context.Background(), "go", ProcessOptions{
		OnToolCall:   func(c models.ToolCall) { sawCall = c.ID == "c1" },
		OnToolResult: func(c models.ToolCall, r models.ToolResult) { sawResult = r.ToolCallID == "c1" },
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Response != "used the tool" {
		t.Errorf("Response = %q", res.Response)
	}
	if len(res.ToolCalls) != 1 || len(res.ToolResults) != 1 {
		t.Fatalf("tool calls/results = %d/%d", len(res.ToolCalls), len(res.ToolResults))
	}
	if res.ToolResults[0].IsError || !strings.Contains(res.ToolResults[0].Content, "echo:") {
		t.Errorf("tool result = %+v", res.ToolResults[0])
	}
	if !sawCall || !sawResult {
		t.Error("tool hooks not invoked")
	}

	// Second request carries the tool message with a matching id.
	if len(p.requests) != 2 {
		t.Fatalf("requests = %d, want 2", len(p.requests))
	}
	second := p.requests[1]
	var foundTool bool
	for _, m := range second.Messages {
		if m.Role == models.RoleTool && m.ToolCallID == "c1" {
			foundTool = true
		}
	}
	if !foundTool {
		t.Error("tool-result round missing tool message")
	}
}

func TestProcessSecondRoundToolCallsDropped(t *testing.T) {
	p := &fakeProvider{rounds: [][]*CompletionChunk{
		{{ToolCall: &models.ToolCall{ID: "c1", Name: "echo"}}, {Done: true}},
		{{ToolCall: &models.ToolCall{ID: "c2", Name: "echo"}}, {Text: "done anyway"}, {Done: true}},
	}}
	a := newTestAgent(t, p)

	res, err := a.Process(context.Background(), "go", ProcessOptions{})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(p.requests) != 2 {
		t.Fatalf("requests = %d, want exactly one tool-result round", len(p.requests))
	}
	if res.Response != "done anyway" {
		t.Errorf("Response = %q", res.Response)
	}
	if len(res.ToolResults) != 1 {
		t.Errorf("second-round tool call was executed: %+v", res.ToolResults)
	}
}

func TestProcessModelErrorNotCommitted(t *testing.T) {
	p := &fakeProvider{rounds: [][]*CompletionChunk{
		{{Text: "I'll keep go"}, {Error: errors.New("stream reset")}},
	}}
	a := newTestAgent(t, p)

	before := a.Context().Len()
	res, err := a.Process(context.Background(), "hi", ProcessOptions{})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.FinishReason != FinishError || res.Err == nil {
		t.Errorf("result = %+v", res)
	}
	// Partial text surfaces for the continuation heuristic.
	if res.Response != "I'll keep go" {
		t.Errorf("Response = %q", res.Response)
	}
	// Only the user message was committed.
	if got := a.Context().Len(); got != before+1 {
		t.Errorf("context grew by %d, want 1", got-before)
	}
}

func TestProcessCancellation(t *testing.T) {
	p := &fakeProvider{rounds: [][]*CompletionChunk{
		{{Text: "partial"}, {Error: context.Canceled}},
	}}
	a := newTestAgent(t, p)

	res, err := a.Process(context.Background(), "hi", ProcessOptions{})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.FinishReason != FinishCancelled {
		t.Errorf("FinishReason = %q", res.FinishReason)
	}
}

func TestProcessStructuredReply(t *testing.T) {
	p := &fakeProvider{rounds: [][]*CompletionChunk{
		textChunks(`{"response": "step one done", "continuation": {"status": "CONTINUE", "reason": "step two"}}`),
	}}
	a := newTestAgent(t, p)

	res, err := a.Process(context.Background(), "work", ProcessOptions{Schema: structured.KindContinuation})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Response != "step one done" {
		t.Errorf("Response = %q", res.Response)
	}
	if !res.Continuation.ShouldContinue() || res.Continuation.Reason != "step two" {
		t.Errorf("Continuation = %+v", res.Continuation)
	}

	if p.requests[0].ResponseSchema == nil || p.requests[0].SchemaName != "continuation" {
		t.Error("response schema not passed to provider")
	}
}

func TestProcessDisableStore(t *testing.T) {
	p := &fakeProvider{rounds: [][]*CompletionChunk{textChunks("ok")}}
	a := newTestAgent(t, p)

	before := a.Context().Len()
	if _, err := a.Process(context.Background(), "probe", ProcessOptions{DisableStore: true}); err != nil {
		t.Fatal(err)
	}
	// The probe user message is not retained; the assistant reply is.
	msgs := a.Context().Messages()
	if a.Context().Len() != before+1 {
		t.Errorf("context = %+v", msgs)
	}
	for _, m := range msgs {
		if m.Role == models.RoleUser && m.Content == "probe" {
			t.Error("probe message was stored")
		}
	}
}

// appendConsultant simulates the switch handler amending a result.
type appendConsultant struct{ suffix string }

func (c appendConsultant) AfterTools(ctx context.Context, calls []models.ToolCall, results []models.ToolResult) []models.ToolResult {
	for i := range results {
		results[i].Content += c.suffix
	}
	return results
}

func TestProcessSwitchConsultantAmendsResults(t *testing.T) {
	p := &fakeProvider{rounds: [][]*CompletionChunk{
		{{ToolCall: &models.ToolCall{ID: "c1", Name: "echo", Input: json.RawMessage(`{}`)}}, {Done: true}},
		textChunks("done"),
	}}
	a := newTestAgent(t, p)

	res, err := a.Process(context.Background(), "go", ProcessOptions{
		Switch: appendConsultant{suffix: "\n[b processed the mail and responded: hi]"},
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if !strings.Contains(res.ToolResults[0].Content, "processed the mail") {
		t.Errorf("result not amended: %q", res.ToolResults[0].Content)
	}

	// The amended content is what lands in context for the next round.
	var toolMsg string
	for _, m := range p.requests[1].Messages {
		if m.Role == models.RoleTool {
			toolMsg = m.Content
		}
	}
	if !strings.Contains(toolMsg, "processed the mail") {
		t.Errorf("tool message = %q", toolMsg)
	}
}
