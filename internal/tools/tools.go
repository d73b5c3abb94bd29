// Package tools implements the process-wide tool catalog: a lazy
// registry of tool specs, per-agent filtered views, and a guarded
// executor with validation, timeouts, retries, and panic recovery.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/haasonsaas/parley/internal/observability"
	"github.com/haasonsaas/parley/pkg/models"
)

// Tool is the capability interface every tool implements. Tools are
// shared singletons; Execute must be safe for concurrent use and
// stateless per call.
type Tool interface {
	// Name returns the unique tool name used for model function calling.
	Name() string

	// Description returns the natural-language description the model
	// uses to decide when to invoke the tool.
	Description() string

	// Schema returns the JSON Schema for the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool with validated JSON parameters.
	Execute(ctx context.Context, params json.RawMessage) (*Result, error)
}

// Result is the outcome of one tool execution. Errors are results too:
// a failed call sets IsError and the turn proceeds.
type Result struct {
	// Content is the tool output, or the error text when IsError.
	Content string `json:"content"`

	// IsError marks a failed execution.
	IsError bool `json:"is_error,omitempty"`

	// Metadata carries backend-only hints, e.g. the _switch_to_agent
	// key the switch handler interprets.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Spec declares a tool in the compile-time manifest. The constructor is
// not invoked until the tool is first requested.
type Spec struct {
	// Name is the unique tool name.
	Name string

	// Category groups tools for prompt instructions.
	Category string

	// Tags are free-form labels matched by per-agent tag filters.
	Tags []string

	// Sets are the named tool-sets the tool belongs to.
	Sets []string

	// ClientSide marks tools whose results arrive via provideToolResult
	// instead of server-side execution.
	ClientSide bool

	// New constructs the singleton. Construction errors are logged and
	// the tool is omitted from every view.
	New func() (Tool, error)
}

type entry struct {
	spec Spec
	once sync.Once
	tool Tool
	err  error
}

// Registry is the process-wide lazy tool catalog. Registration is
// manifest-driven; instantiation happens on first Get under a per-name
// once. All methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	logger  *observability.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *observability.Logger) *Registry {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger.Named("tools"),
	}
}

// Register adds a spec to the catalog. Duplicate names are rejected
// silently and logged; the first registration wins.
func (r *Registry) Register(spec Spec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if spec.Name == "" || spec.New == nil {
		r.logger.Warn(context.Background(), "ignoring invalid tool spec", "name", spec.Name)
		return
	}
	if _, exists := r.entries[spec.Name]; exists {
		r.logger.Warn(context.Background(), "duplicate tool registration ignored", "name", spec.Name)
		return
	}
	r.entries[spec.Name] = &entry{spec: spec}
}

// RegisterAll registers a manifest of specs.
func (r *Registry) RegisterAll(specs []Spec) {
	for _, s := range specs {
		r.Register(s)
	}
}

// Get returns the named tool singleton, instantiating it on first use.
// Missing or broken tools yield nil; callers must tolerate absence.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	e.once.Do(func() {
		e.tool, e.err = e.spec.New()
		if e.err != nil {
			r.logger.Error(context.Background(), "tool construction failed", "name", name, "error", e.err)
		}
	})
	if e.err != nil {
		return nil
	}
	return e.tool
}

// Spec returns the registered spec for a tool name.
func (r *Registry) Spec(name string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Spec{}, false
	}
	return e.spec, true
}

// IsClientSide reports whether the named tool executes on the client.
func (r *Registry) IsClientSide(name string) bool {
	s, ok := r.Spec(name)
	return ok && s.ClientSide
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Filter computes a tool view: (sets ∪ tagged(tags) ∪ allow) \ deny.
// The result is sorted by name so the model sees a stable catalog, and
// omits tools whose construction failed.
func (r *Registry) Filter(f models.ToolFilters) []Tool {
	r.mu.RLock()
	selected := make(map[string]bool)
	for name, e := range r.entries {
		if anyIntersects(e.spec.Sets, f.ToolSets) || anyIntersects(e.spec.Tags, f.Tags) {
			selected[name] = true
		}
	}
	r.mu.RUnlock()

	for _, name := range f.Allow {
		selected[name] = true
	}
	for _, name := range f.Deny {
		delete(selected, name)
	}

	names := make([]string, 0, len(selected))
	for name := range selected {
		names = append(names, name)
	}
	sort.Strings(names)

	tools := make([]Tool, 0, len(names))
	for _, name := range names {
		if t := r.Get(name); t != nil {
			tools = append(tools, t)
		}
	}
	return tools
}

// DescribeForModel renders the tool-instructions prompt fragment the
// assembler appends to system prompts.
func DescribeForModel(tools []Tool) string {
	if len(tools) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Available Tools\n\n")
	b.WriteString("You may invoke the following tools. Call a tool only when it is needed to answer.\n")
	for _, t := range tools {
		fmt.Fprintf(&b, "\n### %s\n%s\n", t.Name(), t.Description())
	}
	return b.String()
}

func anyIntersects(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}

type callerKey struct{}

// WithCaller tags the context with the invoking agent id so tools like
// send_mail know their sender.
func WithCaller(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, callerKey{}, agentID)
}

// CallerFromContext returns the invoking agent id, or "user" when the
// call did not originate from an agent.
func CallerFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(callerKey{}).(string); ok && v != "" {
		return v
	}
	return "user"
}

type resolverKey struct{}

// AgentResolver maps an agent reference (id, name, or first-name
// prefix) to its canonical agent id.
type AgentResolver func(ref string) (string, bool)

// WithAgentResolver tags the context with the session's reference
// resolver so mail tools can canonicalize recipients.
func WithAgentResolver(ctx context.Context, r AgentResolver) context.Context {
	return context.WithValue(ctx, resolverKey{}, r)
}

// AgentResolverFromContext returns the resolver, or nil when none is
// installed.
func AgentResolverFromContext(ctx context.Context) AgentResolver {
	if r, ok := ctx.Value(resolverKey{}).(AgentResolver); ok {
		return r
	}
	return nil
}
