package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/haasonsaas/parley/pkg/models"
)

func TestArchiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	a, err := Open(ctx, filepath.Join(t.TempDir(), "channels.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer a.Close()

	now := time.Now().UTC().Truncate(time.Millisecond)
	for i := int64(1); i <= 3; i++ {
		err := a.Store(ctx, "s1", models.ChannelMessage{
			Sequence: i,
			Channel:  models.ChannelFinal,
			Content:  "msg",
			Metadata: models.ChannelMeta{Timestamp: now, AgentID: "a", SessionID: "s1"},
		})
		if err != nil {
			t.Fatalf("Store() error = %v", err)
		}
	}

	got, err := a.Recent(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent() = %d messages, want 2", len(got))
	}
	if got[0].Sequence != 2 || got[1].Sequence != 3 {
		t.Errorf("Recent() sequences = %d, %d, want 2, 3", got[0].Sequence, got[1].Sequence)
	}
	if got[0].Metadata.AgentID != "a" {
		t.Errorf("metadata agent = %q", got[0].Metadata.AgentID)
	}

	if other, _ := a.Recent(ctx, "s2", 10); len(other) != 0 {
		t.Errorf("Recent(s2) = %d messages, want 0", len(other))
	}
}
