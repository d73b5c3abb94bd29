package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/parley/pkg/models"
)

// Load reads, expands, decodes, defaults, and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes raw YAML into a validated Config. Environment variables
// referenced as ${VAR} or $VAR are expanded first; unknown YAML fields
// are rejected so typos fail loudly.
func Parse(data []byte) (*Config, error) {
	expanded := os.Expand(string(data), func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		// Leave unknown references intact so secrets shaped like
		// $something survive verbatim.
		return "${" + key + "}"
	})

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	for i := range cfg.Agents {
		cfg.Agents[i].ID = strings.ToLower(strings.TrimSpace(cfg.Agents[i].ID))
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration used when no file is given:
// one generalist agent on the default provider, channels enabled.
func Default() *Config {
	cfg := &Config{
		Channels: ChannelsConfig{Enabled: true},
		Agents: []models.AgentConfig{
			{
				ID:           "a",
				Name:         "Assistant",
				Role:         "generalist",
				Description:  "General-purpose assistant",
				SystemPrompt: "You are a helpful assistant.",
				Tools:        models.ToolFilters{ToolSets: []string{"mail", "files"}},
			},
		},
	}
	cfg.applyDefaults()
	return cfg
}
