package models

import "time"

// ToolFilters selects an agent's tool view from the global catalog:
// (sets ∪ tagged(tags) ∪ allow) \ deny, resolved once at agent creation.
type ToolFilters struct {
	ToolSets []string `json:"tool_sets,omitempty" yaml:"tool_sets"`
	Tags     []string `json:"tags,omitempty" yaml:"tags"`
	Allow    []string `json:"allow,omitempty" yaml:"allow"`
	Deny     []string `json:"deny,omitempty" yaml:"deny"`
}

// ContinuationConfig bounds automatic re-entry for an agent.
type ContinuationConfig struct {
	// MaxDepth is the maximum number of continuation rounds per user
	// turn. Zero means the runtime default (3).
	MaxDepth int `json:"max_depth,omitempty" yaml:"max_depth"`

	// Timeout bounds a single model call. Zero means no per-agent
	// timeout beyond the session context.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout"`
}

// AgentConfig describes a persona hosted by the runtime. IDs are one or
// two letters, case-insensitive externally and canonical lowercase
// internally.
type AgentConfig struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Role        string `json:"role,omitempty" yaml:"role"`
	Description string `json:"description,omitempty" yaml:"description"`
	Color       string `json:"color,omitempty" yaml:"color"`
	Shortcut    string `json:"shortcut,omitempty" yaml:"shortcut"`
	Icon        string `json:"icon,omitempty" yaml:"icon"`

	// SystemPrompt is the inline persona prompt. When empty, the prompt
	// is resolved from PromptCategory/PromptName through the assembler.
	SystemPrompt   string `json:"system_prompt,omitempty" yaml:"system_prompt"`
	PromptCategory string `json:"prompt_category,omitempty" yaml:"prompt_category"`
	PromptName     string `json:"prompt_name,omitempty" yaml:"prompt_name"`

	Provider    string  `json:"provider,omitempty" yaml:"provider"`
	Model       string  `json:"model,omitempty" yaml:"model"`
	Temperature float32 `json:"temperature,omitempty" yaml:"temperature"`
	MaxTokens   int     `json:"max_tokens,omitempty" yaml:"max_tokens"`

	Tools ToolFilters `json:"tools,omitempty" yaml:"tools"`

	// MaxContextMessages caps retained context. Trimming never removes
	// the system message. Zero means the runtime default.
	MaxContextMessages int `json:"max_context_messages,omitempty" yaml:"max_context_messages"`

	Continuation ContinuationConfig `json:"continuation,omitempty" yaml:"continuation"`

	// Planner marks the agent whose matching turns use the plan schema.
	Planner bool `json:"planner,omitempty" yaml:"planner"`
}

// Clone returns a deep copy so callers can mutate configs without
// aliasing the registry's copy.
func (c AgentConfig) Clone() AgentConfig {
	out := c
	out.Tools.ToolSets = append([]string(nil), c.Tools.ToolSets...)
	out.Tools.Tags = append([]string(nil), c.Tools.Tags...)
	out.Tools.Allow = append([]string(nil), c.Tools.Allow...)
	out.Tools.Deny = append([]string(nil), c.Tools.Deny...)
	return out
}

// AgentInfo is the catalog entry returned by agent.list.
type AgentInfo struct {
	AgentID     string `json:"agent_id"`
	Name        string `json:"name"`
	Role        string `json:"role,omitempty"`
	Description string `json:"description,omitempty"`
	Color       string `json:"color,omitempty"`
	Shortcut    string `json:"shortcut,omitempty"`
	Icon        string `json:"icon,omitempty"`
}

// Info projects the config into its catalog entry.
func (c AgentConfig) Info() AgentInfo {
	return AgentInfo{
		AgentID:     c.ID,
		Name:        c.Name,
		Role:        c.Role,
		Description: c.Description,
		Color:       c.Color,
		Shortcut:    c.Shortcut,
		Icon:        c.Icon,
	}
}
