package channels

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/haasonsaas/parley/internal/config"
	"github.com/haasonsaas/parley/internal/observability"
	"github.com/haasonsaas/parley/pkg/models"
)

func newTestRouter(cfg config.ChannelsConfig) *Router {
	return NewRouter("s1", cfg, observability.NewNopLogger(), nil, nil)
}

func TestRoutePlainText(t *testing.T) {
	r := newTestRouter(config.ChannelsConfig{})
	msgs := r.Route(context.Background(), "hello there", models.ChannelMeta{AgentID: "a"})

	if len(msgs) != 1 {
		t.Fatalf("Route() returned %d messages, want 1", len(msgs))
	}
	if msgs[0].Channel != models.ChannelFinal || msgs[0].Content != "hello there" {
		t.Errorf("Route() = %+v", msgs[0])
	}
	if msgs[0].Sequence != 1 {
		t.Errorf("first sequence = %d, want 1", msgs[0].Sequence)
	}
	if msgs[0].Metadata.SessionID != "s1" {
		t.Errorf("session id = %q", msgs[0].Metadata.SessionID)
	}
}

func TestRouteChannelJSON(t *testing.T) {
	r := newTestRouter(config.ChannelsConfig{})
	content := `{"analysis": "thinking", "commentary": "", "final": "answer"}`
	msgs := r.Route(context.Background(), content, models.ChannelMeta{})

	if len(msgs) != 2 {
		t.Fatalf("Route() returned %d messages, want 2 (empty commentary skipped)", len(msgs))
	}
	if msgs[0].Channel != models.ChannelAnalysis || msgs[0].Content != "thinking" {
		t.Errorf("msgs[0] = %+v", msgs[0])
	}
	if msgs[1].Channel != models.ChannelFinal || msgs[1].Content != "answer" {
		t.Errorf("msgs[1] = %+v", msgs[1])
	}
	if msgs[1].Sequence != msgs[0].Sequence+1 {
		t.Errorf("sequences not consecutive: %d, %d", msgs[0].Sequence, msgs[1].Sequence)
	}
}

func TestRouteResponseWrapper(t *testing.T) {
	r := newTestRouter(config.ChannelsConfig{})
	content := `{"response": "{\"analysis\": \"deep\", \"final\": \"done\"}"}`
	msgs := r.Route(context.Background(), content, models.ChannelMeta{})

	if len(msgs) != 2 {
		t.Fatalf("Route() returned %d messages, want 2", len(msgs))
	}
	if msgs[0].Channel != models.ChannelAnalysis || msgs[0].Content != "deep" {
		t.Errorf("msgs[0] = %+v", msgs[0])
	}
	if msgs[1].Channel != models.ChannelFinal || msgs[1].Content != "done" {
		t.Errorf("msgs[1] = %+v", msgs[1])
	}
}

func TestRouteInvalidJSONFallsBackToFinal(t *testing.T) {
	r := newTestRouter(config.ChannelsConfig{})
	content := `{"analysis": truncated`
	msgs := r.Route(context.Background(), content, models.ChannelMeta{})

	if len(msgs) != 1 || msgs[0].Channel != models.ChannelFinal {
		t.Fatalf("Route() = %+v, want single final", msgs)
	}
}

func TestHistoryVisibilityAtRequestTime(t *testing.T) {
	r := newTestRouter(config.ChannelsConfig{})
	r.Route(context.Background(), `{"analysis": "a", "commentary": "c", "final": "f"}`, models.ChannelMeta{})

	if got := r.History(HistoryFilter{}); len(got) != 1 {
		t.Fatalf("History() with default visibility = %d messages, want 1 (final only)", len(got))
	}

	r.SetVisibility(models.Visibility{ShowCommentary: true, ShowAnalysis: true})
	if got := r.History(HistoryFilter{}); len(got) != 3 {
		t.Fatalf("History() after enabling visibility = %d messages, want 3", len(got))
	}

	if got := r.History(HistoryFilter{Channel: models.ChannelCommentary}); len(got) != 1 || got[0].Content != "c" {
		t.Errorf("History(commentary) = %+v", got)
	}
}

func TestHistoryRingLimit(t *testing.T) {
	r := newTestRouter(config.ChannelsConfig{HistoryLimit: 3})
	for i := 0; i < 5; i++ {
		r.Route(context.Background(), "msg", models.ChannelMeta{})
	}
	got := r.History(HistoryFilter{})
	if len(got) != 3 {
		t.Fatalf("History() = %d messages, want ring limit 3", len(got))
	}
	if got[0].Sequence != 3 || got[2].Sequence != 5 {
		t.Errorf("ring kept sequences %d..%d, want 3..5", got[0].Sequence, got[2].Sequence)
	}
}

func TestStats(t *testing.T) {
	r := newTestRouter(config.ChannelsConfig{})
	r.Route(context.Background(), `{"analysis": "a", "final": "f"}`, models.ChannelMeta{})
	r.RecordSuppressed()
	r.EmitPartial("par", models.ChannelMeta{})

	s := r.Stats()
	if s.Counts[models.ChannelAnalysis] != 1 || s.Counts[models.ChannelFinal] != 1 {
		t.Errorf("Stats counts = %v", s.Counts)
	}
	if s.LastSequence != 3 {
		t.Errorf("LastSequence = %d, want 3 (partial consumed one)", s.LastSequence)
	}
	if s.SuppressedPartials != 1 {
		t.Errorf("SuppressedPartials = %d", s.SuppressedPartials)
	}
}

// Sequences strictly increase per session no matter how output is
// shaped or interleaved with partial emissions.
func TestSequenceMonotonicProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	outputs := gen.OneConstOf(
		"plain text",
		`{"analysis": "a", "final": "f"}`,
		`{"commentary": "c", "final": "f"}`,
		`{"response": "wrapped"}`,
		"",
	)

	properties := gopter.NewProperties(parameters)
	properties.Property("sequences strictly increase", prop.ForAll(
		func(contents []string, partials []bool) bool {
			r := newTestRouter(config.ChannelsConfig{})
			last := int64(0)
			for i, c := range contents {
				var msgs []models.ChannelMessage
				if i < len(partials) && partials[i] {
					msgs = []models.ChannelMessage{r.EmitPartial(c, models.ChannelMeta{})}
				} else {
					msgs = r.Route(context.Background(), c, models.ChannelMeta{})
				}
				for _, m := range msgs {
					if m.Sequence <= last {
						return false
					}
					last = m.Sequence
				}
			}
			return true
		},
		gen.SliceOf(outputs),
		gen.SliceOf(gen.Bool()),
	))
	properties.TestingRun(t)
}
