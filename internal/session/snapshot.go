package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/haasonsaas/parley/internal/agent"
	"github.com/haasonsaas/parley/pkg/models"
)

// snapshotVersion is the persisted layout version.
const snapshotVersion = "1.0"

type snapshot struct {
	SessionID        string                   `json:"session_id"`
	IsStarted        bool                     `json:"is_started"`
	ActiveAgent      string                   `json:"active_agent"`
	IntroducedAgents []string                 `json:"introduced_agents"`
	Agents           map[string]agentSnapshot `json:"agents"`
	SavedAt          time.Time                `json:"saved_at"`
	Version          string                   `json:"version"`
}

type agentSnapshot struct {
	Config  models.AgentConfig `json:"config"`
	Context contextSnapshot    `json:"context"`
}

type contextSnapshot struct {
	Messages []models.Message `json:"messages"`
	Metadata map[string]any   `json:"metadata,omitempty"`
}

func (s *Session) cmdSave(ctx context.Context, args []string) (string, error) {
	path := s.defaultSnapshotPath()
	if len(args) > 0 {
		path = args[0]
	}
	if err := s.Save(ctx, path); err != nil {
		return "", err
	}
	return fmt.Sprintf("Session saved to %s.", path), nil
}

func (s *Session) cmdLoad(ctx context.Context, args []string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("/load requires a path")
	}
	if err := s.Load(ctx, args[0]); err != nil {
		return "", err
	}
	return fmt.Sprintf("Session loaded from %s.", args[0]), nil
}

func (s *Session) defaultSnapshotPath() string {
	root := s.deps.Config.Workspace.Root
	if root == "" {
		root = "."
	}
	return filepath.Join(root, fmt.Sprintf("parley-session-%s.json", s.id))
}

// Save writes a JSON snapshot of every agent's config and context.
// Both assistant messages of a tool round are retained.
func (s *Session) Save(ctx context.Context, path string) error {
	s.mu.Lock()
	snap := snapshot{
		SessionID:   s.id,
		IsStarted:   s.started,
		ActiveAgent: s.active,
		Agents:      make(map[string]agentSnapshot, len(s.agents)),
		SavedAt:     time.Now().UTC(),
		Version:     snapshotVersion,
	}
	for id := range s.introduced {
		snap.IntroducedAgents = append(snap.IntroducedAgents, id)
	}
	for id, ag := range s.agents {
		snap.Agents[id] = agentSnapshot{
			Config: ag.Config(),
			Context: contextSnapshot{
				Messages: ag.Context().Snapshot(),
			},
		}
	}
	s.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	s.notifier.Notify(NotifySessionSaved, map[string]any{
		"sessionId": s.id,
		"path":      path,
	})
	s.logger.Info(ctx, "session saved", "path", path, "agents", len(snap.Agents))
	return nil
}

// Load restores agents, contexts, and the active agent from a
// snapshot. Existing agents are replaced wholesale.
func (s *Session) Load(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %q", snap.Version)
	}

	restored := make(map[string]*agent.Agent, len(snap.Agents))
	for id, as := range snap.Agents {
		id = strings.ToLower(id)
		cfg := as.Config
		cfg.ID = id
		ag := s.buildAgent(ctx, cfg)
		ag.Context().Restore(as.Context.Messages)
		restored[id] = ag
	}

	active := strings.ToLower(snap.ActiveAgent)
	if active != "" {
		if _, ok := restored[active]; !ok {
			return fmt.Errorf("snapshot active agent %q has no entry", active)
		}
	}

	introduced := make(map[string]bool, len(snap.IntroducedAgents))
	for _, id := range snap.IntroducedAgents {
		introduced[strings.ToLower(id)] = true
	}

	s.mu.Lock()
	s.agents = restored
	s.active = active
	s.introduced = introduced
	s.started = snap.IsStarted
	s.mu.Unlock()

	s.notifier.Notify(NotifySessionLoaded, map[string]any{
		"sessionId": s.id,
		"path":      path,
		"agents":    len(restored),
	})
	s.logger.Info(ctx, "session loaded", "path", path, "agents", len(restored))
	return nil
}
