// Package config loads and validates the parley runtime configuration.
// Configuration is YAML with environment expansion: ${VAR} references in
// the file are substituted from the process environment before decoding,
// and unknown fields are rejected.
package config

import (
	"fmt"
	"time"

	"github.com/haasonsaas/parley/pkg/models"
)

// Config is the root configuration for the parley server.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Logging      LoggingConfig      `yaml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Tracing      TracingConfig      `yaml:"tracing"`
	Providers    ProvidersConfig    `yaml:"providers"`
	Agents       []models.AgentConfig `yaml:"agents"`
	Prompts      PromptsConfig      `yaml:"prompts"`
	Channels     ChannelsConfig     `yaml:"channels"`
	Continuation ContinuationConfig `yaml:"continuation"`
	Switch       SwitchConfig       `yaml:"switch"`
	Workers      WorkersConfig      `yaml:"workers"`
	Workspace    WorkspaceConfig    `yaml:"workspace"`
}

// ServerConfig configures the WebSocket gateway.
type ServerConfig struct {
	// Listen is the host:port the gateway binds.
	Listen string `yaml:"listen"`

	// Path is the WebSocket endpoint path.
	Path string `yaml:"path"`

	// AuthToken, when set, requires a matching bearer token on upgrade.
	AuthToken string `yaml:"auth_token"`

	// JWTSecret, when set, accepts HS256 tokens signed with it instead
	// of (or in addition to) the static token.
	JWTSecret string `yaml:"jwt_secret"`

	// AllowedOrigins restricts browser origins; empty allows all.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// WriteTimeout bounds a single outbound frame write.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`

	// Redact disables secret redaction when explicitly set to false.
	Redact *bool `yaml:"redact"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig configures the OTLP trace exporter. Tracing is disabled
// when Endpoint is empty.
type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
	Environment  string  `yaml:"environment"`
}

// ProvidersConfig holds model provider credentials and defaults.
type ProvidersConfig struct {
	Default   string          `yaml:"default"`
	OpenAI    ProviderConfig  `yaml:"openai"`
	Anthropic ProviderConfig  `yaml:"anthropic"`
}

// ProviderConfig is one provider's connection settings.
type ProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
}

// PromptsConfig configures prompt asset resolution.
type PromptsConfig struct {
	// ProjectOverrideDir is checked first, then ProjectDir, then AppDir.
	ProjectOverrideDir string `yaml:"project_override_dir"`
	ProjectDir         string `yaml:"project_dir"`
	AppDir             string `yaml:"app_dir"`

	// Components lists the shared prompt components appended to every
	// assembled prompt, e.g. channel_protocol, continuation_protocol.
	Components []string `yaml:"components"`

	// Watch enables hot reload of prompt assets.
	Watch bool `yaml:"watch"`
}

// ChannelsConfig configures the channel router.
type ChannelsConfig struct {
	// Enabled turns the structured channel protocol on.
	Enabled bool `yaml:"enabled"`

	ShowCommentary bool `yaml:"show_commentary"`
	ShowAnalysis   bool `yaml:"show_analysis"`

	// HistoryLimit caps retained channel messages per session.
	HistoryLimit int `yaml:"history_limit"`

	// ArchivePath, when set, mirrors every channel message into a
	// SQLite file for offline inspection.
	ArchivePath string `yaml:"archive_path"`
}

// ContinuationConfig bounds automatic continuation rounds.
type ContinuationConfig struct {
	MaxDepth int           `yaml:"max_depth"`
	Timeout  time.Duration `yaml:"timeout"`
}

// SwitchConfig bounds synchronous agent switches.
type SwitchConfig struct {
	MaxDepth int `yaml:"max_depth"`
}

// WorkersConfig configures background agent workers.
type WorkersConfig struct {
	// QueueSize is each worker's task queue capacity.
	QueueSize int `yaml:"queue_size"`

	// DefaultSleep is the sleep duration when async.sleepAgent gives none.
	DefaultSleep time.Duration `yaml:"default_sleep"`
}

// WorkspaceConfig roots file references and file tools.
type WorkspaceConfig struct {
	Root string `yaml:"root"`
}

// applyDefaults fills every zero-valued field that has a runtime default.
func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = "127.0.0.1:8765"
	}
	if c.Server.Path == "" {
		c.Server.Path = "/ws"
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Tracing.SamplingRate <= 0 {
		c.Tracing.SamplingRate = 1.0
	}
	if c.Providers.Default == "" {
		c.Providers.Default = "openai"
	}
	if c.Providers.OpenAI.DefaultModel == "" {
		c.Providers.OpenAI.DefaultModel = "gpt-4o"
	}
	if c.Providers.Anthropic.DefaultModel == "" {
		c.Providers.Anthropic.DefaultModel = "claude-sonnet-4-20250514"
	}
	if c.Prompts.AppDir == "" {
		c.Prompts.AppDir = "prompts"
	}
	if len(c.Prompts.Components) == 0 {
		c.Prompts.Components = []string{"channel_protocol", "continuation_protocol"}
	}
	if c.Channels.HistoryLimit <= 0 {
		c.Channels.HistoryLimit = 1000
	}
	if c.Continuation.MaxDepth <= 0 {
		c.Continuation.MaxDepth = 3
	}
	if c.Continuation.Timeout <= 0 {
		c.Continuation.Timeout = 2 * time.Minute
	}
	if c.Switch.MaxDepth <= 0 {
		c.Switch.MaxDepth = 5
	}
	if c.Workers.QueueSize <= 0 {
		c.Workers.QueueSize = 16
	}
	if c.Workers.DefaultSleep <= 0 {
		c.Workers.DefaultSleep = time.Minute
	}
	if c.Workspace.Root == "" {
		c.Workspace.Root = "."
	}
	for i := range c.Agents {
		a := &c.Agents[i]
		if a.Provider == "" {
			a.Provider = c.Providers.Default
		}
		if a.MaxTokens <= 0 {
			a.MaxTokens = 4096
		}
		if a.MaxContextMessages <= 0 {
			a.MaxContextMessages = 200
		}
		if a.Continuation.MaxDepth <= 0 {
			a.Continuation.MaxDepth = c.Continuation.MaxDepth
		}
		if a.Continuation.Timeout <= 0 {
			a.Continuation.Timeout = c.Continuation.Timeout
		}
	}
}

// Validate checks structural constraints and returns the first problem.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format: must be text or json, got %q", c.Logging.Format)
	}
	seen := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("agents: agent %q has no id", a.Name)
		}
		if len(a.ID) > 2 {
			return fmt.Errorf("agents: id %q must be one or two letters", a.ID)
		}
		if seen[a.ID] {
			return fmt.Errorf("agents: duplicate id %q", a.ID)
		}
		seen[a.ID] = true
		if a.Provider != "openai" && a.Provider != "anthropic" {
			return fmt.Errorf("agents: agent %q has unknown provider %q", a.ID, a.Provider)
		}
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("tracing.sampling_rate: must be in [0,1], got %v", c.Tracing.SamplingRate)
	}
	return nil
}

// Agent returns the configured agent with the given id, if any.
func (c *Config) Agent(id string) (models.AgentConfig, bool) {
	for _, a := range c.Agents {
		if a.ID == id {
			return a.Clone(), true
		}
	}
	return models.AgentConfig{}, false
}
