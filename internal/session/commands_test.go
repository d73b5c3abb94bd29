package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/parley/internal/agent"
	"github.com/haasonsaas/parley/pkg/models"
)

func TestParseCommand(t *testing.T) {
	cmd, ok := parseCommand("  /clear all ")
	if !ok || cmd.name != "/clear" || len(cmd.args) != 1 || cmd.args[0] != "all" {
		t.Fatalf("unexpected parse: %+v ok=%v", cmd, ok)
	}
	if _, ok := parseCommand("hello /clear"); ok {
		t.Fatal("mid-message slash should not parse as a command")
	}
}

func TestHelpCommand(t *testing.T) {
	provider := &scriptProvider{}
	sess, _ := newTestSession(t, provider, false)

	outcome, err := sess.SendUserMessage(context.Background(), "/help")
	if err != nil {
		t.Fatalf("SendUserMessage: %v", err)
	}
	if !strings.Contains(outcome.Response, "/clear") || !strings.Contains(outcome.Response, "/debug") {
		t.Fatalf("help text incomplete: %q", outcome.Response)
	}
	if len(provider.requests) != 0 {
		t.Fatal("slash command must not hit the model")
	}
}

func TestClearCommand(t *testing.T) {
	provider := &scriptProvider{rounds: [][]*agent.CompletionChunk{
		textRound("hello"),
	}}
	sess, rec := newTestSession(t, provider, false)

	if _, err := sess.SendUserMessage(context.Background(), "hi"); err != nil {
		t.Fatalf("turn: %v", err)
	}
	ag, _ := sess.Agent("a")
	if ag.Context().Len() < 3 {
		t.Fatalf("expected populated context, got %d messages", ag.Context().Len())
	}

	outcome, err := sess.SendUserMessage(context.Background(), "/clear")
	if err != nil {
		t.Fatalf("/clear: %v", err)
	}
	if !strings.Contains(outcome.Response, "Cleared") {
		t.Fatalf("unexpected reply: %q", outcome.Response)
	}
	if ag.Context().Len() != 1 {
		t.Fatalf("clear should keep only the system message, got %d", ag.Context().Len())
	}
	if len(rec.byMethod(NotifyContextCleared)) != 1 {
		t.Fatal("expected context.cleared notification")
	}
}

func TestDebugCommandRebuildsPrompt(t *testing.T) {
	provider := &scriptProvider{}
	sess, _ := newTestSession(t, provider, false)

	outcome, err := sess.SendUserMessage(context.Background(), "/debug on verbose_progress")
	if err != nil {
		t.Fatalf("/debug: %v", err)
	}
	if !strings.Contains(outcome.Response, "verbose_progress") {
		t.Fatalf("unexpected reply: %q", outcome.Response)
	}

	outcome, err = sess.SendUserMessage(context.Background(), "/debug off verbose_progress")
	if err != nil {
		t.Fatalf("/debug off: %v", err)
	}
	if !strings.Contains(outcome.Response, "cleared") {
		t.Fatalf("unexpected reply: %q", outcome.Response)
	}
}

func TestDebugUnknownOption(t *testing.T) {
	provider := &scriptProvider{}
	sess, _ := newTestSession(t, provider, false)

	outcome, err := sess.SendUserMessage(context.Background(), "/debug on bogus")
	if err != nil {
		t.Fatalf("SendUserMessage: %v", err)
	}
	if outcome.Status != models.MessageError {
		t.Fatalf("unknown option should report an error, got %+v", outcome)
	}
}

func TestSpliceFileRefs(t *testing.T) {
	provider := &scriptProvider{}
	sess, _ := newTestSession(t, provider, false)
	root := sess.deps.Config.Workspace.Root

	content := "one\ntwo\nthree\nfour\n"
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	out, changed := sess.spliceFileRefs("see @notes.txt please")
	if !changed {
		t.Fatal("expected splice")
	}
	if !strings.Contains(out, "one\ntwo\nthree\nfour") || !strings.Contains(out, "```notes.txt") {
		t.Fatalf("content not spliced: %q", out)
	}

	out, changed = sess.spliceFileRefs("see @notes.txt:2-3 please")
	if !changed || !strings.Contains(out, "two\nthree") || strings.Contains(out, "four") {
		t.Fatalf("range not spliced: %q", out)
	}

	out, changed = sess.spliceFileRefs("see @missing.txt please")
	if changed || !strings.Contains(out, "@missing.txt") {
		t.Fatalf("missing file must stay literal: %q", out)
	}

	_, changed = sess.spliceFileRefs("see @../escape.txt")
	if changed {
		t.Fatal("path traversal must not resolve")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	provider := &scriptProvider{rounds: [][]*agent.CompletionChunk{
		textRound("remembered"),
	}}
	sess, rec := newTestSession(t, provider, false)

	if _, err := sess.SendUserMessage(context.Background(), "remember this"); err != nil {
		t.Fatalf("turn: %v", err)
	}

	path := filepath.Join(t.TempDir(), "snap.json")
	if _, err := sess.SendUserMessage(context.Background(), "/save "+path); err != nil {
		t.Fatalf("/save: %v", err)
	}
	if len(rec.byMethod(NotifySessionSaved)) != 1 {
		t.Fatal("expected session.saved notification")
	}

	ag, _ := sess.Agent("a")
	wantLen := ag.Context().Len()
	wantMsgs := ag.Context().Snapshot()

	// Load into a fresh session.
	other, rec2 := newTestSession(t, &scriptProvider{}, false)
	if _, err := other.SendUserMessage(context.Background(), "/load "+path); err != nil {
		t.Fatalf("/load: %v", err)
	}
	if len(rec2.byMethod(NotifySessionLoaded)) != 1 {
		t.Fatal("expected session.loaded notification")
	}

	restored, ok := other.Agent("a")
	if !ok {
		t.Fatal("agent a not restored")
	}
	if restored.Context().Len() != wantLen {
		t.Fatalf("restored context has %d messages, want %d", restored.Context().Len(), wantLen)
	}
	gotMsgs := restored.Context().Snapshot()
	for i := range wantMsgs {
		if gotMsgs[i].Role != wantMsgs[i].Role || gotMsgs[i].Content != wantMsgs[i].Content {
			t.Fatalf("message %d mismatch: %+v vs %+v", i, gotMsgs[i], wantMsgs[i])
		}
	}
	if other.ActiveAgentID() != "a" {
		t.Fatalf("active agent = %q, want a", other.ActiveAgentID())
	}
}
