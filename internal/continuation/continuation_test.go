package continuation

import (
	"context"
	"testing"

	"github.com/haasonsaas/parley/internal/config"
	"github.com/haasonsaas/parley/internal/observability"
	"github.com/haasonsaas/parley/pkg/models"
)

func newTestController(maxDepth int) *Controller {
	return NewController(config.ContinuationConfig{MaxDepth: maxDepth}, observability.NewNopLogger())
}

func TestDecideContinueWithReason(t *testing.T) {
	c := newTestController(3)
	cont := &models.Continuation{Status: models.ContinuationContinue, Reason: "two files left"}

	d := c.Decide(context.Background(), "s1", cont, false, "")
	if !d.Continue {
		t.Fatal("Decide() did not continue")
	}
	if d.Prompt != "Continue: two files left" {
		t.Errorf("Prompt = %q", d.Prompt)
	}
	if d.Iteration != 1 || d.Max != 3 {
		t.Errorf("Iteration/Max = %d/%d", d.Iteration, d.Max)
	}
}

func TestDecideGenericPrompt(t *testing.T) {
	c := newTestController(3)
	d := c.Decide(context.Background(), "s1", &models.Continuation{Status: models.ContinuationContinue}, false, "")
	if d.Prompt != "Please continue" {
		t.Errorf("Prompt = %q", d.Prompt)
	}
}

func TestDecideDepthLimit(t *testing.T) {
	c := newTestController(2)
	cont := &models.Continuation{Status: models.ContinuationContinue}

	for i := 1; i <= 2; i++ {
		d := c.Decide(context.Background(), "s1", cont, false, "")
		if !d.Continue || d.Iteration != i {
			t.Fatalf("round %d: %+v", i, d)
		}
	}
	if d := c.Decide(context.Background(), "s1", cont, false, ""); d.Continue {
		t.Fatal("Decide() continued past max depth")
	}
	// Hitting the limit resets depth.
	if got := c.Depth("s1"); got != 0 {
		t.Errorf("Depth = %d after limit, want 0", got)
	}
}

func TestDecideTerminateResets(t *testing.T) {
	c := newTestController(3)
	c.Decide(context.Background(), "s1", &models.Continuation{Status: models.ContinuationContinue}, false, "")
	if c.Depth("s1") != 1 {
		t.Fatal("depth not incremented")
	}

	d := c.Decide(context.Background(), "s1", &models.Continuation{Status: models.ContinuationTerminate}, false, "")
	if d.Continue {
		t.Error("Decide() continued on TERMINATE")
	}
	if c.Depth("s1") != 0 {
		t.Errorf("Depth = %d, want 0", c.Depth("s1"))
	}
}

func TestDecideErrorFinishHeuristic(t *testing.T) {
	c := newTestController(3)

	d := c.Decide(context.Background(), "s1", nil, true, "I'll finish the remaining files next")
	if !d.Continue {
		t.Error("error finish with ongoing intent did not continue")
	}

	if d := c.Decide(context.Background(), "s2", nil, true, "All done."); d.Continue {
		t.Error("error finish without intent continued")
	}

	// Clean finishes never trigger the heuristic.
	if d := c.Decide(context.Background(), "s3", nil, false, "I will check"); d.Continue {
		t.Error("clean finish triggered heuristic")
	}
}

func TestDepthIsPerSession(t *testing.T) {
	c := newTestController(1)
	cont := &models.Continuation{Status: models.ContinuationContinue}

	if d := c.Decide(context.Background(), "s1", cont, false, ""); !d.Continue {
		t.Fatal("s1 round 1 denied")
	}
	if d := c.Decide(context.Background(), "s2", cont, false, ""); !d.Continue {
		t.Fatal("s2 not independent of s1")
	}
}

func TestShowsOngoingIntent(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"I will now update the config", true},
		{"Next I'll review the tests", true},
		{"We need to verify the output", true},
		{"Everything is complete.", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ShowsOngoingIntent(tt.text); got != tt.want {
			t.Errorf("ShowsOngoingIntent(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
