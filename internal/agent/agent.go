// Package agent implements agent instances and the per-message turn
// loop: prompt context, model streaming, sequential tool execution with
// a single tool-result round, and structured-reply parsing.
package agent

import (
	"github.com/haasonsaas/parley/internal/observability"
	"github.com/haasonsaas/parley/internal/tools"
	"github.com/haasonsaas/parley/pkg/models"
)

// Agent is one live persona inside a session: immutable config, a tool
// view resolved once at construction, and a conversation context.
type Agent struct {
	cfg      models.AgentConfig
	provider Provider
	context  *Context
	view     []tools.Tool
	toolDefs []ToolDef
	executor *tools.Executor

	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// New creates an agent. The tool view is filtered from the registry
// here and never changes for the agent's life.
func New(cfg models.AgentConfig, systemPrompt string, provider Provider, registry *tools.Registry, executor *tools.Executor, logger *observability.Logger, metrics *observability.Metrics, tracer *observability.Tracer) *Agent {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if tracer == nil {
		tracer = observability.NewNopTracer()
	}
	var view []tools.Tool
	if registry != nil {
		view = registry.Filter(cfg.Tools)
	}
	return &Agent{
		cfg:      cfg,
		provider: provider,
		context:  NewContext(systemPrompt, cfg.MaxContextMessages),
		view:     view,
		toolDefs: ToolDefs(view),
		executor: executor,
		logger:   logger.Named("agent").WithFields("agent_id", cfg.ID),
		metrics:  metrics,
		tracer:   tracer,
	}
}

// ID returns the agent's canonical short id.
func (a *Agent) ID() string { return a.cfg.ID }

// Name returns the display name.
func (a *Agent) Name() string { return a.cfg.Name }

// Config returns a copy of the agent's configuration.
func (a *Agent) Config() models.AgentConfig { return a.cfg.Clone() }

// Context exposes the conversation context for session commands
// (/clear, snapshots, prompt rebuilds).
func (a *Agent) Context() *Context { return a.context }

// Tools returns the immutable tool view.
func (a *Agent) Tools() []tools.Tool { return a.view }

// HasTools reports whether the view is non-empty; the schema policy
// needs this for the tool-quirk guard.
func (a *Agent) HasTools() bool { return len(a.view) > 0 }

// Provider returns the agent's model backend.
func (a *Agent) Provider() Provider { return a.provider }
