// Package session binds a client connection to its agents: it drives
// turns, resolves slash commands and file references, and emits the
// notifications the gateway forwards to the client.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/haasonsaas/parley/internal/agent"
	"github.com/haasonsaas/parley/internal/channels"
	"github.com/haasonsaas/parley/internal/config"
	"github.com/haasonsaas/parley/internal/continuation"
	"github.com/haasonsaas/parley/internal/mailbox"
	"github.com/haasonsaas/parley/internal/observability"
	"github.com/haasonsaas/parley/internal/prompts"
	"github.com/haasonsaas/parley/internal/structured"
	"github.com/haasonsaas/parley/internal/switchboard"
	"github.com/haasonsaas/parley/internal/tools"
	"github.com/haasonsaas/parley/pkg/models"
)

// DefaultAgentID is the agent activated on session start when the
// config defines it.
const DefaultAgentID = "a"

// Introduction turns on first activation are wired but disabled.
const introduceOnActivation = false

// Deps are the process-wide collaborators shared by every session.
type Deps struct {
	Config    *config.Config
	Registry  *tools.Registry
	Executor  *tools.Executor
	Mailbox   *mailbox.Mailbox
	Prompts   *prompts.Assembler
	Providers map[string]agent.Provider
	Archive   channels.Archive
	Logger    *observability.Logger
	Metrics   *observability.Metrics
	Tracer    *observability.Tracer
}

// TurnOutcome is what sendUserMessage reports back to the caller.
type TurnOutcome struct {
	MessageID string
	Response  string
	ToolCalls []models.ToolCall
	Status    models.MessageStatus
}

// Session holds the agents of one client connection. Turns are
// serialized by a per-session lock held across tool rounds,
// continuations, and nested switches.
type Session struct {
	id       string
	userID   string
	deps     Deps
	notifier Notifier
	logger   *observability.Logger

	router   *channels.Router
	cont     *continuation.Controller
	switcher *switchboard.Handler

	turnMu sync.Mutex

	mu         sync.Mutex
	agents     map[string]*agent.Agent
	active     string
	introduced map[string]bool
	started    bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a session. Start must be called before the first turn.
func New(id, userID string, deps Deps, notifier Notifier) *Session {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	logger = logger.Named("session").WithFields("session_id", id)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:         id,
		userID:     userID,
		deps:       deps,
		notifier:   notifier,
		logger:     logger,
		router:     channels.NewRouter(id, deps.Config.Channels, logger, deps.Metrics, deps.Archive),
		cont:       continuation.NewController(deps.Config.Continuation, logger),
		agents:     make(map[string]*agent.Agent),
		introduced: make(map[string]bool),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.switcher = switchboard.NewHandler(s, deps.Config.Switch, logger, deps.Metrics)
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// UserID returns the owning user.
func (s *Session) UserID() string { return s.userID }

// Context returns the session-scoped context, cancelled on Stop.
func (s *Session) Context() context.Context { return s.ctx }

// Router exposes channel history and visibility for the gateway.
func (s *Session) Router() *channels.Router { return s.router }

// Start activates the default agent and marks the session started.
func (s *Session) Start(ctx context.Context) (models.SessionStatus, error) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return models.SessionActive, nil
	}
	s.mu.Unlock()

	if err := s.SwitchAgent(ctx, DefaultAgentID); err != nil {
		return models.SessionError, err
	}

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	s.logger.Info(ctx, "session started", "user_id", s.userID)
	return models.SessionActive, nil
}

// Started reports whether Start completed.
func (s *Session) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// ActiveAgentID returns the active agent id, empty before Start.
func (s *Session) ActiveAgentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Agent returns a live agent by id.
func (s *Session) Agent(id string) (*agent.Agent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ag, ok := s.agents[strings.ToLower(id)]
	return ag, ok
}

// AgentIDs lists the ids of the agents created so far.
func (s *Session) AgentIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.agents))
	for id := range s.agents {
		ids = append(ids, id)
	}
	return ids
}

// ResolveAgentID maps a reference to a canonical agent id. Accepted
// forms, in order: the short id, the exact agent name, and a prefix of
// the agent's first name. All comparisons are case-insensitive.
func (s *Session) ResolveAgentID(ref string) (string, bool) {
	ref = strings.ToLower(strings.TrimSpace(ref))
	if ref == "" {
		return "", false
	}
	for _, cfg := range s.deps.Config.Agents {
		if strings.ToLower(cfg.ID) == ref {
			return strings.ToLower(cfg.ID), true
		}
	}
	for _, cfg := range s.deps.Config.Agents {
		if strings.ToLower(cfg.Name) == ref {
			return strings.ToLower(cfg.ID), true
		}
	}
	for _, cfg := range s.deps.Config.Agents {
		if first := firstName(cfg.Name); first != "" && strings.HasPrefix(first, ref) {
			return strings.ToLower(cfg.ID), true
		}
	}
	// The synthesized default agent is resolvable even without config.
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[ref]; ok {
		return ref, true
	}
	return "", false
}

// SwitchAgent makes the agent active, creating it on first reference,
// and emits agent.switched.
func (s *Session) SwitchAgent(ctx context.Context, agentID string) error {
	agentID = strings.ToLower(agentID)
	ag, created, err := s.ensureAgent(ctx, agentID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	from := s.active
	s.active = agentID
	first := !s.introduced[agentID]
	s.introduced[agentID] = true
	s.mu.Unlock()

	if created {
		s.notifier.Notify(NotifyAgentCreated, ag.Config().Info())
	}
	s.notifier.Notify(NotifyAgentSwitched, AgentSwitched{
		SessionID: s.id,
		FromAgent: from,
		ToAgent:   agentID,
	})
	s.logger.Info(ctx, "agent switched", "from", from, "to", agentID)

	if first && introduceOnActivation {
		s.runIntroduction(ctx, ag)
	}
	return nil
}

// runIntroduction is the disabled first-activation hook.
func (s *Session) runIntroduction(ctx context.Context, ag *agent.Agent) {
	if _, err := s.runTurn(ctx, "Introduce yourself in one short sentence.", true); err != nil {
		s.logger.Warn(ctx, "introduction turn failed", "agent_id", ag.ID(), "error", err)
	}
}

// ensureAgent returns the live agent, creating it from config on first
// reference. The boolean reports creation.
func (s *Session) ensureAgent(ctx context.Context, agentID string) (*agent.Agent, bool, error) {
	s.mu.Lock()
	if ag, ok := s.agents[agentID]; ok {
		s.mu.Unlock()
		return ag, false, nil
	}
	s.mu.Unlock()

	cfg, ok := s.agentConfig(agentID)
	if !ok {
		if agentID != DefaultAgentID {
			return nil, false, fmt.Errorf("unknown agent %q", agentID)
		}
		cfg = models.AgentConfig{
			ID:       DefaultAgentID,
			Name:     "Assistant",
			Role:     "general assistant",
			Provider: s.deps.Config.Providers.Default,
		}
	}

	ag := s.buildAgent(ctx, cfg)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.agents[agentID]; ok {
		return existing, false, nil
	}
	s.agents[agentID] = ag
	return ag, true, nil
}

// buildAgent constructs an agent from config, resolving its system
// prompt through the assembler with a generic-persona fallback.
func (s *Session) buildAgent(ctx context.Context, cfg models.AgentConfig) *agent.Agent {
	systemPrompt := s.resolvePrompt(ctx, cfg)
	provider := s.deps.Providers[cfg.Provider]
	if provider == nil {
		s.logger.Warn(ctx, "no provider configured for agent",
			"agent_id", cfg.ID, "provider", cfg.Provider)
	}
	return agent.New(cfg, systemPrompt, provider, s.deps.Registry,
		s.deps.Executor, s.logger, s.deps.Metrics, s.deps.Tracer)
}

func (s *Session) resolvePrompt(ctx context.Context, cfg models.AgentConfig) string {
	if cfg.SystemPrompt != "" {
		return cfg.SystemPrompt
	}
	instructions := tools.DescribeForModel(s.deps.Registry.Filter(cfg.Tools))
	prompt, err := s.deps.Prompts.Assemble(cfg.PromptCategory, cfg.PromptName, prompts.AssembleOptions{
		ToolInstructions: instructions,
		Vars: map[string]string{
			"agent_name": cfg.Name,
			"agent_role": cfg.Role,
		},
	})
	if err != nil {
		s.logger.Warn(ctx, "prompt not found, using generic persona",
			"agent_id", cfg.ID, "category", cfg.PromptCategory, "name", cfg.PromptName, "error", err)
		return prompts.GenericPrompt(cfg.Name, cfg.Role)
	}
	return prompt
}

func (s *Session) agentConfig(agentID string) (models.AgentConfig, bool) {
	for _, cfg := range s.deps.Config.Agents {
		if strings.EqualFold(cfg.ID, agentID) {
			c := cfg.Clone()
			c.ID = strings.ToLower(c.ID)
			return c, true
		}
	}
	return models.AgentConfig{}, false
}

// SendUserMessage is the turn driver for client messages. Slash
// commands resolve without a model call; file references are spliced
// in before the turn runs under the session lock.
func (s *Session) SendUserMessage(ctx context.Context, message string) (*TurnOutcome, error) {
	if !s.Started() {
		return nil, fmt.Errorf("session %s not started", s.id)
	}
	outcome := &TurnOutcome{MessageID: uuid.NewString()}

	if cmd, ok := parseCommand(message); ok {
		reply, err := s.runCommand(ctx, cmd)
		if err != nil {
			outcome.Status = models.MessageError
			outcome.Response = err.Error()
			return outcome, nil
		}
		outcome.Response = reply
		return outcome, nil
	}

	expanded, changed := s.spliceFileRefs(message)
	if changed {
		s.notifier.Notify(NotifyContextUpdated, map[string]any{
			"sessionId": s.id,
			"reason":    "file_reference",
		})
	}

	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	// A fresh user turn resets the continuation depth.
	s.cont.Reset(s.id)

	result, err := s.runTurn(ctx, expanded, false)
	if err != nil {
		return nil, err
	}
	outcome.Response = result.Response
	outcome.ToolCalls = result.ToolCalls
	if result.FinishReason == agent.FinishError {
		outcome.Status = models.MessageError
	}
	return outcome, nil
}

// ProcessMessage runs a turn for the switch handler. The caller is
// already inside the session turn lock, so it must not be re-acquired.
func (s *Session) ProcessMessage(ctx context.Context, content string, isContinuation bool) (string, error) {
	if !isContinuation {
		s.cont.Reset(s.id)
	}
	s.notifier.Notify(NotifyAgentMessage, map[string]any{
		"sessionId": s.id,
		"agentId":   s.ActiveAgentID(),
		"content":   content,
	})
	result, err := s.runTurn(ctx, content, isContinuation)
	if err != nil {
		return "", err
	}
	return result.Response, nil
}

// ContinuationDepth snapshots the session's depth for switch frames.
func (s *Session) ContinuationDepth() int { return s.cont.Depth(s.id) }

// RestoreContinuationDepth restores a snapshot taken before a switch.
func (s *Session) RestoreContinuationDepth(depth int) { s.cont.SetDepth(s.id, depth) }

// mergedResult accumulates the outer turn plus continuation rounds.
type mergedResult struct {
	Response     string
	ToolCalls    []models.ToolCall
	FinishReason agent.FinishReason
}

// runTurn drives the agent loop on the active agent, including the
// continuation chain. Caller holds the turn lock.
func (s *Session) runTurn(ctx context.Context, content string, isContinuation bool) (*mergedResult, error) {
	// Stop cancels s.ctx; the turn must observe it even though the
	// caller's ctx is connection-scoped.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	release := context.AfterFunc(s.ctx, cancel)
	defer release()

	merged := &mergedResult{FinishReason: agent.FinishStop}

	for {
		s.mu.Lock()
		ag := s.agents[s.active]
		s.mu.Unlock()
		if ag == nil {
			return nil, fmt.Errorf("session %s has no active agent", s.id)
		}

		res := s.runRound(ctx, ag, content)

		if merged.Response != "" && res.Response != "" {
			merged.Response += "\n\n"
		}
		merged.Response += res.Response
		merged.ToolCalls = append(merged.ToolCalls, res.ToolCalls...)
		merged.FinishReason = res.FinishReason

		if res.FinishReason == agent.FinishCancelled {
			s.notifier.Notify(NotifySessionStatus, SessionStatusUpdate{
				SessionID: s.id,
				Status:    models.SessionActive,
				Reason:    "turn cancelled",
			})
			break
		}

		decision := s.cont.Decide(ctx, s.id, res.Continuation,
			res.FinishReason == agent.FinishError, res.Response)
		if !decision.Continue {
			break
		}

		s.notifier.Notify(NotifyContinuationProgress, ContinuationProgress{
			AgentID:       ag.ID(),
			Iteration:     decision.Iteration,
			MaxIterations: decision.Max,
			Progress:      reasonOf(res.Continuation),
			CurrentTools:  toolNames(res.ToolCalls),
		})
		content = decision.Prompt
	}

	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	merged.Response = s.deps.Mailbox.Annotate(merged.Response, active)
	return merged, nil
}

// runRound executes one agent loop turn and routes its terminal output
// through the channel router.
func (s *Session) runRound(ctx context.Context, ag *agent.Agent, content string) *agent.TurnResult {
	ctx = observability.WithSession(ctx, s.id, ag.ID())
	ctx = tools.WithCaller(ctx, ag.ID())
	ctx = tools.WithAgentResolver(ctx, s.ResolveAgentID)
	depth := s.cont.Depth(s.id)
	acc := channels.NewAccumulator()

	var caps structured.ProviderCaps
	if p := ag.Provider(); p != nil {
		caps = p.Caps()
	}
	agentCfg := ag.Config()
	kind := structured.Select(structured.SelectInput{
		Agent:           &agentCfg,
		Message:         content,
		ChannelsEnabled: s.deps.Config.Channels.Enabled,
		Caps:            caps,
		HasTools:        ag.HasTools(),
	})

	opts := agent.ProcessOptions{
		Schema:            kind,
		Switch:            s.switcher,
		ContinuationDepth: depth,
		OnDelta: func(chunk string) {
			s.streamDelta(ag, acc, chunk, depth)
		},
		OnToolCall: func(call models.ToolCall) {
			s.emitToolNarrative(ctx, ag, fmt.Sprintf("Using tool: %s", call.Name), depth)
		},
		OnToolResult: func(_ models.ToolCall, res models.ToolResult) {
			if res.IsError {
				s.emitToolNarrative(ctx, ag, fmt.Sprintf("Tool failed: %s", res.Content), depth)
			}
		},
	}

	result, err := ag.Process(ctx, content, opts)
	if err != nil {
		result = &agent.TurnResult{FinishReason: agent.FinishError, Err: err}
	}
	if appended := s.switcher.TakeAppended(); appended != "" {
		result.Response += appended
	}

	s.emitTerminal(ctx, ag, result, depth)
	return result
}

// streamDelta feeds the accumulator and forwards deliverable partial
// text. Structured and tool-call chunks never reach the client raw.
func (s *Session) streamDelta(ag *agent.Agent, acc *channels.Accumulator, chunk string, depth int) {
	out := acc.Add(chunk)
	if acc.Suppressed() {
		s.router.RecordSuppressed()
		return
	}
	if out == "" {
		return
	}
	msg := s.router.EmitPartial(out, models.ChannelMeta{
		AgentID:           ag.ID(),
		ContinuationDepth: depth,
	})
	s.notifier.Notify(NotifyStreaming, StreamingUpdate{
		Type:      "streaming_chunk",
		Content:   out,
		SessionID: s.id,
		AgentID:   ag.ID(),
		IsPartial: true,
		Format:    "text",
		Metadata:  map[string]any{"sequence": msg.Sequence},
	})
}

// emitToolNarrative reports tool activity on the commentary channel.
func (s *Session) emitToolNarrative(ctx context.Context, ag *agent.Agent, text string, depth int) {
	payload, err := json.Marshal(map[string]string{"commentary": text})
	if err != nil {
		return
	}
	msgs := s.router.Route(ctx, string(payload), models.ChannelMeta{
		AgentID:           ag.ID(),
		ContinuationDepth: depth,
	})
	for _, msg := range msgs {
		if s.router.Delivers(msg) {
			s.notifier.Notify(NotifyChannelMessage, channelNotification(msg))
		}
	}
}

// emitTerminal routes the terminal model output. Model errors surface
// as a final channel message so the client sees something every turn.
func (s *Session) emitTerminal(ctx context.Context, ag *agent.Agent, result *agent.TurnResult, depth int) {
	content := result.RawResponse
	if result.Plan != nil {
		// Plans render as markdown; the raw JSON stays backend-only.
		content = result.Response
	}
	if result.FinishReason == agent.FinishError {
		content = result.Response
		if content == "" && result.Err != nil {
			content = fmt.Sprintf("The model request failed: %v", result.Err)
		}
	}
	if content == "" {
		return
	}

	msgs := s.router.Route(ctx, content, models.ChannelMeta{
		AgentID:           ag.ID(),
		ToolCalls:         result.ToolCalls,
		ContinuationDepth: depth,
	})
	for _, msg := range msgs {
		if s.router.Delivers(msg) {
			s.notifier.Notify(NotifyChannelMessage, channelNotification(msg))
		}
	}
}

// Stop cancels in-flight work and tears down agents and buffers.
func (s *Session) Stop(ctx context.Context) {
	s.cancel()

	s.mu.Lock()
	agents := make([]string, 0, len(s.agents))
	for id := range s.agents {
		agents = append(agents, id)
	}
	s.agents = make(map[string]*agent.Agent)
	s.active = ""
	s.started = false
	s.mu.Unlock()

	for _, id := range agents {
		s.deps.Mailbox.Clear(id)
	}
	s.cont.Reset(s.id)

	s.notifier.Notify(NotifySessionStatus, SessionStatusUpdate{
		SessionID: s.id,
		Status:    models.SessionStopped,
	})
	s.logger.Info(ctx, "session stopped")
}

func firstName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}

func reasonOf(cont *models.Continuation) string {
	if cont == nil {
		return ""
	}
	return cont.Reason
}

func toolNames(calls []models.ToolCall) []string {
	if len(calls) == 0 {
		return nil
	}
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Name
	}
	return names
}
