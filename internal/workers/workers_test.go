package workers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/parley/internal/agent"
	"github.com/haasonsaas/parley/internal/config"
	"github.com/haasonsaas/parley/internal/structured"
	"github.com/haasonsaas/parley/pkg/models"
)

type echoProvider struct {
	mu      sync.Mutex
	prompts []string
}

func (p *echoProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	p.mu.Lock()
	if len(req.Messages) > 0 {
		p.prompts = append(p.prompts, req.Messages[len(req.Messages)-1].Content)
	}
	p.mu.Unlock()

	ch := make(chan *agent.CompletionChunk, 2)
	ch <- &agent.CompletionChunk{Text: "done"}
	ch <- &agent.CompletionChunk{Done: true}
	close(ch)
	return ch, nil
}

func (p *echoProvider) Name() string { return "echo" }

func (p *echoProvider) Caps() structured.ProviderCaps { return structured.ProviderCaps{} }

func (p *echoProvider) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.prompts))
	copy(out, p.prompts)
	return out
}

func newTestManager(t *testing.T, cfg config.WorkersConfig) (*Manager, *echoProvider) {
	t.Helper()
	provider := &echoProvider{}
	factory := func(ctx context.Context, ac models.AgentConfig) (*agent.Agent, error) {
		return agent.New(ac, "You are a background worker.", provider, nil, nil, nil, nil, nil), nil
	}
	m := NewManager(cfg, factory, nil, nil)
	t.Cleanup(m.StopAll)
	return m, provider
}

func startWorker(t *testing.T, m *Manager, id string) {
	t.Helper()
	ctx := context.Background()
	if err := m.Create(ctx, models.AgentConfig{ID: id, Name: id}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Start(ctx, id); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func stateOf(m *Manager, id string) (State, bool) {
	for _, s := range m.States() {
		if s.AgentID == id {
			return s, true
		}
	}
	return State{}, false
}

func TestSendTaskProcessed(t *testing.T) {
	m, provider := newTestManager(t, config.WorkersConfig{QueueSize: 4})
	startWorker(t, m, "w1")

	if err := m.SendTask("w1", "summarize the logs"); err != nil {
		t.Fatalf("SendTask: %v", err)
	}
	if !waitFor(t, 2*time.Second, func() bool { return len(provider.seen()) == 1 }) {
		t.Fatalf("task was not processed, prompts: %v", provider.seen())
	}
	if got := provider.seen()[0]; got != "summarize the logs" {
		t.Fatalf("prompt = %q", got)
	}
	idle := func() bool {
		st, _ := stateOf(m, "w1")
		return st.State == models.WorkerIdle
	}
	if !waitFor(t, 2*time.Second, idle) {
		t.Fatal("worker did not return to IDLE")
	}
}

func TestUnknownWorker(t *testing.T) {
	m, _ := newTestManager(t, config.WorkersConfig{})
	if err := m.SendTask("nope", "x"); err == nil {
		t.Fatal("expected error for unknown worker")
	}
	if err := m.Start(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for unknown worker")
	}
}

func TestCreateDuplicate(t *testing.T) {
	m, _ := newTestManager(t, config.WorkersConfig{})
	ctx := context.Background()
	if err := m.Create(ctx, models.AgentConfig{ID: "w1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Create(ctx, models.AgentConfig{ID: "w1"}); err == nil {
		t.Fatal("expected duplicate error")
	}
}

func TestSleepingWorkerIgnoresTasksUntilTimer(t *testing.T) {
	m, provider := newTestManager(t, config.WorkersConfig{QueueSize: 4})
	startWorker(t, m, "w1")

	if err := m.Sleep("w1", SleepOptions{Duration: 150 * time.Millisecond}); err != nil {
		t.Fatalf("Sleep: %v", err)
	}
	if err := m.SendTask("w1", "while sleeping"); err != nil {
		t.Fatalf("SendTask: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if got := provider.seen(); len(got) != 0 {
		t.Fatalf("task ran while sleeping: %v", got)
	}
	if st, _ := stateOf(m, "w1"); st.State != models.WorkerSleeping {
		t.Fatalf("state = %s, want SLEEPING", st.State)
	}

	if !waitFor(t, 2*time.Second, func() bool { return len(provider.seen()) == 1 }) {
		t.Fatalf("queued task was not processed after wake")
	}
}

func TestWakeCutsSleepShort(t *testing.T) {
	m, provider := newTestManager(t, config.WorkersConfig{QueueSize: 4})
	startWorker(t, m, "w1")

	if err := m.Sleep("w1", SleepOptions{Duration: time.Hour}); err != nil {
		t.Fatalf("Sleep: %v", err)
	}
	if err := m.SendTask("w1", "after wake"); err != nil {
		t.Fatalf("SendTask: %v", err)
	}
	if err := m.Wake("w1", "operator request"); err != nil {
		t.Fatalf("Wake: %v", err)
	}
	if !waitFor(t, 2*time.Second, func() bool { return len(provider.seen()) == 1 }) {
		t.Fatalf("task was not processed after wake")
	}
}

func TestSleepRejectsEmptyOptions(t *testing.T) {
	m, _ := newTestManager(t, config.WorkersConfig{})
	startWorker(t, m, "w1")
	if err := m.Sleep("w1", SleepOptions{}); err == nil {
		t.Fatal("expected error with no duration, events, or cron")
	}
}

func TestSleepUsesDefaultDuration(t *testing.T) {
	m, _ := newTestManager(t, config.WorkersConfig{DefaultSleep: time.Hour})
	startWorker(t, m, "w1")
	if err := m.Sleep("w1", SleepOptions{}); err != nil {
		t.Fatalf("Sleep with default: %v", err)
	}
	st, _ := stateOf(m, "w1")
	if st.State != models.WorkerSleeping || st.WakeAt == nil {
		t.Fatalf("snapshot = %+v, want sleeping with wake time", st)
	}
}

func TestSleepRejectsBadCron(t *testing.T) {
	m, _ := newTestManager(t, config.WorkersConfig{})
	startWorker(t, m, "w1")
	if err := m.Sleep("w1", SleepOptions{Cron: "not a cron"}); err == nil {
		t.Fatal("expected cron parse error")
	}
}

func TestCronSleepArmsNextActivation(t *testing.T) {
	m, _ := newTestManager(t, config.WorkersConfig{})
	startWorker(t, m, "w1")

	if err := m.Sleep("w1", SleepOptions{Cron: "@hourly"}); err != nil {
		t.Fatalf("Sleep: %v", err)
	}
	st, _ := stateOf(m, "w1")
	if st.WakeAt == nil {
		t.Fatal("cron sleep did not set a wake time")
	}
	if until := time.Until(*st.WakeAt); until <= 0 || until > time.Hour {
		t.Fatalf("wake time %v out of range", until)
	}
}

func TestBroadcastEventWakesMatchingSleeper(t *testing.T) {
	m, provider := newTestManager(t, config.WorkersConfig{QueueSize: 4})
	startWorker(t, m, "sleeper")
	startWorker(t, m, "bystander")

	if err := m.Sleep("sleeper", SleepOptions{Duration: time.Hour, WakeEvents: []string{"deploy.finished"}}); err != nil {
		t.Fatalf("Sleep sleeper: %v", err)
	}
	if err := m.Sleep("bystander", SleepOptions{Duration: time.Hour, WakeEvents: []string{"other.event"}}); err != nil {
		t.Fatalf("Sleep bystander: %v", err)
	}

	m.BroadcastEvent("deploy.finished", map[string]any{"version": "1.2.3"})

	if !waitFor(t, 2*time.Second, func() bool { return len(provider.seen()) >= 1 }) {
		t.Fatal("sleeper did not process the event task")
	}
	st, _ := stateOf(m, "bystander")
	if st.State != models.WorkerSleeping {
		t.Fatalf("bystander state = %s, want SLEEPING", st.State)
	}
	if st.QueueDepth != 1 {
		t.Fatalf("bystander queue depth = %d, want 1 queued event", st.QueueDepth)
	}
}

func TestStopWorker(t *testing.T) {
	m, _ := newTestManager(t, config.WorkersConfig{})
	startWorker(t, m, "w1")

	if err := m.Stop(context.Background(), "w1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	st, _ := stateOf(m, "w1")
	if st.State != models.WorkerStopped {
		t.Fatalf("state = %s, want STOPPED", st.State)
	}
	if err := m.Start(context.Background(), "w1"); err != nil {
		t.Fatalf("restart after stop: %v", err)
	}
}

func TestQueueFull(t *testing.T) {
	m, _ := newTestManager(t, config.WorkersConfig{QueueSize: 1})
	ctx := context.Background()
	if err := m.Create(ctx, models.AgentConfig{ID: "w1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	// Not started, so the queue never drains.
	if err := m.SendTask("w1", "one"); err != nil {
		t.Fatalf("first task: %v", err)
	}
	if err := m.SendTask("w1", "two"); err == nil {
		t.Fatal("expected queue-full error")
	}
}

func TestEventPrompt(t *testing.T) {
	if got := eventPrompt("tick", nil); got != "Event received: tick" {
		t.Fatalf("eventPrompt = %q", got)
	}
	got := eventPrompt("tick", map[string]any{"n": 1})
	if got != "Event received: tick\n{\"n\":1}" {
		t.Fatalf("eventPrompt with data = %q", got)
	}
}
