// Package providers implements the model backends behind the agent
// runtime. Each provider streams completion chunks over a channel and
// reports its structured-output capabilities so the schema selector
// can pick an appropriate response format.
package providers

import (
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/parley/internal/agent"
	"github.com/haasonsaas/parley/internal/config"
	"github.com/haasonsaas/parley/internal/observability"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
)

// New builds a provider by name from its connection settings.
func New(name string, cfg config.ProviderConfig, logger *observability.Logger) (agent.Provider, error) {
	switch name {
	case "openai":
		return NewOpenAIProvider(cfg, logger)
	case "anthropic":
		return NewAnthropicProvider(cfg, logger)
	default:
		return nil, fmt.Errorf("providers: unknown provider %q", name)
	}
}

// NewAll builds every configured provider keyed by name. Providers
// without an API key are skipped so a partial config still serves the
// agents that can run.
func NewAll(cfg config.ProvidersConfig, logger *observability.Logger) (map[string]agent.Provider, error) {
	out := make(map[string]agent.Provider, 2)
	if cfg.OpenAI.APIKey != "" {
		p, err := NewOpenAIProvider(cfg.OpenAI, logger)
		if err != nil {
			return nil, err
		}
		out["openai"] = p
	}
	if cfg.Anthropic.APIKey != "" {
		p, err := NewAnthropicProvider(cfg.Anthropic, logger)
		if err != nil {
			return nil, err
		}
		out["anthropic"] = p
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("providers: no provider has an API key configured")
	}
	return out, nil
}

// isRetryableError reports whether a request failure is transient.
// Rate limits, server errors, and timeouts are worth retrying;
// everything else fails the request immediately.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"rate limit", "429",
		"500", "502", "503", "504",
		"overloaded",
		"timeout", "deadline exceeded",
		"connection reset", "connection refused",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
