// Package workers runs agents as background workers: each worker owns
// a private task queue and drives the agent loop without an
// interactive streaming surface. Workers can sleep on a timer, a cron
// schedule, or a set of wake events.
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/parley/internal/agent"
	"github.com/haasonsaas/parley/internal/config"
	"github.com/haasonsaas/parley/internal/observability"
	"github.com/haasonsaas/parley/internal/tools"
	"github.com/haasonsaas/parley/pkg/models"
)

const defaultQueueSize = 16

// AgentFactory builds the agent behind a worker. The session package
// and the gateway supply one bound to their shared dependencies.
type AgentFactory func(ctx context.Context, cfg models.AgentConfig) (*agent.Agent, error)

// SleepOptions describe how a worker sleeps. Zero values are ignored;
// at least one of Duration, WakeEvents, or Cron must be set.
type SleepOptions struct {
	Duration   time.Duration
	WakeEvents []string
	Cron       string
}

// State is a worker-state snapshot for async.getAgentStates.
type State struct {
	AgentID    string             `json:"agent_id"`
	State      models.WorkerState `json:"state"`
	QueueDepth int                `json:"queue_depth"`
	WakeAt     *time.Time         `json:"wake_at,omitempty"`
	WakeEvents []string           `json:"wake_events,omitempty"`
}

type task struct {
	prompt string
}

// Worker is one background agent.
type Worker struct {
	id      string
	agent   *agent.Agent
	queue   chan task
	logger  *observability.Logger
	metrics *observability.Metrics

	mu         sync.Mutex
	state      models.WorkerState
	wakeAt     *time.Time
	wakeEvents map[string]bool
	schedule   cron.Schedule
	wakeCh     chan string

	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns the background workers.
type Manager struct {
	cfg     config.WorkersConfig
	factory AgentFactory
	logger  *observability.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	workers map[string]*Worker
}

// NewManager creates the worker registry.
func NewManager(cfg config.WorkersConfig, factory AgentFactory, logger *observability.Logger, metrics *observability.Metrics) *Manager {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Manager{
		cfg:     cfg,
		factory: factory,
		logger:  logger.Named("workers"),
		metrics: metrics,
		workers: make(map[string]*Worker),
	}
}

// Create registers a stopped worker for the agent config.
func (m *Manager) Create(ctx context.Context, cfg models.AgentConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workers[cfg.ID]; ok {
		return fmt.Errorf("worker %q already exists", cfg.ID)
	}

	ag, err := m.factory(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build worker agent: %w", err)
	}

	queueSize := m.cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	m.workers[cfg.ID] = &Worker{
		id:      cfg.ID,
		agent:   ag,
		queue:   make(chan task, queueSize),
		logger:  m.logger.WithFields("worker_id", cfg.ID),
		metrics: m.metrics,
		state:   models.WorkerStopped,
		wakeCh:  make(chan string, 1),
	}
	m.logger.Info(ctx, "worker created", "worker_id", cfg.ID)
	return nil
}

// Start launches the worker's run loop.
func (m *Manager) Start(ctx context.Context, id string) error {
	w, err := m.get(id)
	if err != nil {
		return err
	}
	return w.start(ctx)
}

// Stop halts the worker's run loop and drops queued tasks.
func (m *Manager) Stop(ctx context.Context, id string) error {
	w, err := m.get(id)
	if err != nil {
		return err
	}
	w.stop()
	return nil
}

// StopAll halts every worker, used on shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	workers := make([]*Worker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.mu.Unlock()
	for _, w := range workers {
		w.stop()
	}
}

// Sleep puts the worker to sleep until the timer fires, a wake event
// arrives, or the cron schedule's next activation passes.
func (m *Manager) Sleep(id string, opts SleepOptions) error {
	w, err := m.get(id)
	if err != nil {
		return err
	}
	if opts.Duration <= 0 && len(opts.WakeEvents) == 0 && opts.Cron == "" {
		opts.Duration = m.cfg.DefaultSleep
		if opts.Duration <= 0 {
			return fmt.Errorf("sleep needs a duration, wake events, or a cron expression")
		}
	}
	return w.sleep(opts)
}

// Wake wakes a sleeping worker immediately.
func (m *Manager) Wake(id, reason string) error {
	w, err := m.get(id)
	if err != nil {
		return err
	}
	w.wake(reason)
	return nil
}

// SendTask enqueues a prompt on the worker's private queue.
func (m *Manager) SendTask(id, prompt string) error {
	w, err := m.get(id)
	if err != nil {
		return err
	}
	return w.enqueue(prompt)
}

// States snapshots every worker for async.getAgentStates.
func (m *Manager) States() []State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]State, 0, len(m.workers))
	for _, w := range m.workers {
		out = append(out, w.snapshot())
	}
	return out
}

// BroadcastEvent delivers an event to every worker and wakes sleepers
// whose wake-event set matches.
func (m *Manager) BroadcastEvent(event string, data map[string]any) {
	m.mu.Lock()
	workers := make([]*Worker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.mu.Unlock()

	prompt := eventPrompt(event, data)
	for _, w := range workers {
		w.mu.Lock()
		sleeping := w.state == models.WorkerSleeping
		matches := w.wakeEvents[event]
		w.mu.Unlock()
		if sleeping && matches {
			w.wake("event: " + event)
		}
		if err := w.enqueue(prompt); err != nil {
			w.logger.Warn(context.Background(), "event dropped", "event", event, "error", err)
		}
	}
}

func eventPrompt(event string, data map[string]any) string {
	if len(data) == 0 {
		return fmt.Sprintf("Event received: %s", event)
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Sprintf("Event received: %s", event)
	}
	return fmt.Sprintf("Event received: %s\n%s", event, encoded)
}

func (m *Manager) get(id string) (*Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[id]
	if !ok {
		return nil, fmt.Errorf("unknown worker %q", id)
	}
	return w, nil
}

func (w *Worker) start(ctx context.Context) error {
	w.mu.Lock()
	if w.state != models.WorkerStopped {
		w.mu.Unlock()
		return fmt.Errorf("worker %q already running", w.id)
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.cancel = cancel
	w.done = make(chan struct{})
	w.state = models.WorkerIdle
	w.mu.Unlock()

	go w.run(runCtx)
	return nil
}

func (w *Worker) stop() {
	w.mu.Lock()
	cancel := w.cancel
	done := w.done
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (w *Worker) sleep(opts SleepOptions) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == models.WorkerStopped {
		return fmt.Errorf("worker %q is stopped", w.id)
	}

	var wakeAt *time.Time
	if opts.Duration > 0 {
		t := time.Now().Add(opts.Duration)
		wakeAt = &t
	}
	if opts.Cron != "" {
		schedule, err := cron.ParseStandard(opts.Cron)
		if err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", opts.Cron, err)
		}
		w.schedule = schedule
		next := schedule.Next(time.Now())
		if wakeAt == nil || next.Before(*wakeAt) {
			wakeAt = &next
		}
	}

	// Drop any wake signal left over from a previous sleep.
	select {
	case <-w.wakeCh:
	default:
	}

	w.state = models.WorkerSleeping
	w.wakeAt = wakeAt
	w.wakeEvents = make(map[string]bool, len(opts.WakeEvents))
	for _, ev := range opts.WakeEvents {
		w.wakeEvents[ev] = true
	}
	return nil
}

func (w *Worker) wake(reason string) {
	w.mu.Lock()
	if w.state != models.WorkerSleeping {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()
	select {
	case w.wakeCh <- reason:
	default:
	}
}

func (w *Worker) enqueue(prompt string) error {
	select {
	case w.queue <- task{prompt: prompt}:
		return nil
	default:
		return fmt.Errorf("worker %q queue is full", w.id)
	}
}

func (w *Worker) snapshot() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	events := make([]string, 0, len(w.wakeEvents))
	for ev := range w.wakeEvents {
		events = append(events, ev)
	}
	return State{
		AgentID:    w.id,
		State:      w.state,
		QueueDepth: len(w.queue),
		WakeAt:     w.wakeAt,
		WakeEvents: events,
	}
}

// run is the worker loop. While SLEEPING, tasks stay queued and only
// the timer, a wake event, or cancellation makes progress.
func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	defer w.setState(models.WorkerStopped)

	for {
		if w.sleeping() {
			if !w.awaitWake(ctx) {
				return
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case t := <-w.queue:
			if w.sleeping() {
				// Sleep was requested after the receive fired; put the
				// task back and wait.
				if err := w.enqueue(t.prompt); err != nil {
					w.logger.Warn(ctx, "task dropped during sleep", "error", err)
				}
				continue
			}
			w.process(ctx, t)
		case <-time.After(200 * time.Millisecond):
			// Re-check the sleep state set by Manager.Sleep.
		}
	}
}

func (w *Worker) sleeping() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != models.WorkerSleeping {
		return false
	}
	if w.wakeAt != nil && time.Now().After(*w.wakeAt) {
		w.advanceSchedule()
		return false
	}
	return true
}

// advanceSchedule wakes the worker and arms the next cron activation.
// Caller holds the lock.
func (w *Worker) advanceSchedule() {
	w.state = models.WorkerIdle
	if w.schedule != nil {
		next := w.schedule.Next(time.Now())
		w.wakeAt = &next
	} else {
		w.wakeAt = nil
	}
}

// awaitWake blocks until the sleep ends. Returns false on shutdown.
func (w *Worker) awaitWake(ctx context.Context) bool {
	w.mu.Lock()
	var timer <-chan time.Time
	if w.wakeAt != nil {
		timer = time.After(time.Until(*w.wakeAt))
	}
	w.mu.Unlock()

	select {
	case <-ctx.Done():
		return false
	case <-timer:
		w.mu.Lock()
		w.advanceSchedule()
		w.mu.Unlock()
	case reason := <-w.wakeCh:
		w.mu.Lock()
		w.state = models.WorkerIdle
		w.wakeAt = nil
		w.mu.Unlock()
		w.logger.Info(ctx, "worker woken", "reason", reason)
	}
	return true
}

func (w *Worker) process(ctx context.Context, t task) {
	w.setState(models.WorkerBusy)
	defer w.setState(models.WorkerIdle)

	start := time.Now()
	ctx = tools.WithCaller(ctx, w.id)
	result, err := w.agent.Process(ctx, t.prompt, agent.ProcessOptions{})
	status := "success"
	switch {
	case err != nil:
		status = "error"
	case result.FinishReason == agent.FinishError:
		status = "error"
	}
	if w.metrics != nil {
		w.metrics.RecordTurn(w.id, status, time.Since(start).Seconds())
	}

	if err != nil {
		w.logger.Error(ctx, "worker task failed", "error", err)
		return
	}
	if result.FinishReason == agent.FinishError {
		w.logger.Warn(ctx, "worker task finished with model error", "error", result.Err)
		return
	}
	w.logger.Debug(ctx, "worker task done",
		"tool_calls", len(result.ToolCalls), "response_len", len(result.Response))
}

func (w *Worker) setState(state models.WorkerState) {
	w.mu.Lock()
	w.state = state
	w.mu.Unlock()
}
