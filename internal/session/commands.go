package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

const helpText = `Available commands:
  /clear [agent|all]   clear context for the active agent, a named agent, or all agents
  /save [path]         save a session snapshot to disk
  /load <path>         restore a session snapshot from disk
  /debug [on|off] [option ...]  toggle debug prompt sections
  /help                show this help`

type command struct {
	name string
	args []string
}

// parseCommand recognizes slash commands at the start of a message.
func parseCommand(message string) (command, bool) {
	trimmed := strings.TrimSpace(message)
	if !strings.HasPrefix(trimmed, "/") {
		return command{}, false
	}
	fields := strings.Fields(trimmed)
	return command{
		name: strings.ToLower(fields[0]),
		args: fields[1:],
	}, true
}

func (s *Session) runCommand(ctx context.Context, cmd command) (string, error) {
	switch cmd.name {
	case "/clear":
		return s.cmdClear(ctx, cmd.args)
	case "/save":
		return s.cmdSave(ctx, cmd.args)
	case "/load":
		return s.cmdLoad(ctx, cmd.args)
	case "/debug":
		return s.cmdDebug(ctx, cmd.args)
	case "/help":
		return helpText, nil
	default:
		return "", fmt.Errorf("unknown command %s (try /help)", cmd.name)
	}
}

func (s *Session) cmdClear(ctx context.Context, args []string) (string, error) {
	target := ""
	if len(args) > 0 {
		target = strings.ToLower(args[0])
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case target == "all":
		for _, ag := range s.agents {
			ag.Context().Clear()
		}
		s.notifier.Notify(NotifyContextCleared, map[string]any{"sessionId": s.id, "scope": "all"})
		return "Cleared context for all agents.", nil
	case target == "":
		ag := s.agents[s.active]
		if ag == nil {
			return "", fmt.Errorf("no active agent")
		}
		ag.Context().Clear()
		s.notifier.Notify(NotifyContextCleared, map[string]any{"sessionId": s.id, "agentId": s.active})
		return fmt.Sprintf("Cleared context for %s.", s.active), nil
	default:
		ag := s.agents[target]
		if ag == nil {
			return "", fmt.Errorf("unknown agent %q", target)
		}
		ag.Context().Clear()
		s.notifier.Notify(NotifyContextCleared, map[string]any{"sessionId": s.id, "agentId": target})
		return fmt.Sprintf("Cleared context for %s.", target), nil
	}
}

// cmdDebug toggles debug prompt sections and rebuilds the active
// agent's system prompt in place so the change lands immediately.
func (s *Session) cmdDebug(ctx context.Context, args []string) (string, error) {
	if len(args) == 0 {
		active := s.deps.Prompts.ActiveDebugOptions()
		if len(active) == 0 {
			return "No debug options active.", nil
		}
		return "Active debug options: " + strings.Join(active, ", "), nil
	}

	on := true
	switch strings.ToLower(args[0]) {
	case "on":
		args = args[1:]
	case "off":
		on = false
		args = args[1:]
	}

	if len(args) == 0 {
		s.deps.Prompts.SetAllDebugOptions(on)
	} else {
		for _, name := range args {
			if err := s.deps.Prompts.SetDebugOption(name, on); err != nil {
				return "", err
			}
		}
	}
	s.rebuildActivePrompt(ctx)

	active := s.deps.Prompts.ActiveDebugOptions()
	sort.Strings(active)
	if len(active) == 0 {
		return "Debug options cleared.", nil
	}
	return "Active debug options: " + strings.Join(active, ", "), nil
}

// rebuildActivePrompt re-resolves the active agent's system prompt so
// toggled debug sections take effect without recreating the agent.
func (s *Session) rebuildActivePrompt(ctx context.Context) {
	s.mu.Lock()
	ag := s.agents[s.active]
	s.mu.Unlock()
	if ag == nil {
		return
	}
	cfg := ag.Config()
	if cfg.SystemPrompt != "" {
		return
	}
	ag.Context().SetSystemPrompt(s.resolvePrompt(ctx, cfg))
	s.notifier.Notify(NotifyContextRefreshed, map[string]any{
		"sessionId": s.id,
		"agentId":   cfg.ID,
	})
}
