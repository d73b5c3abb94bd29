package agent

import (
	"testing"

	"github.com/haasonsaas/parley/pkg/models"
)

func TestContextSystemPromptFirst(t *testing.T) {
	c := NewContext("be helpful", 0)
	c.Append(models.Message{Role: models.RoleUser, Content: "hi"})

	msgs := c.Messages()
	if len(msgs) != 2 {
		t.Fatalf("len = %d", len(msgs))
	}
	if msgs[0].Role != models.RoleSystem || msgs[0].Content != "be helpful" {
		t.Errorf("first message = %+v", msgs[0])
	}
}

func TestContextTrimKeepsSystem(t *testing.T) {
	c := NewContext("sys", 3)
	for i := 0; i < 10; i++ {
		c.Append(models.Message{Role: models.RoleUser, Content: "m"})
	}

	msgs := c.Messages()
	if len(msgs) != 4 {
		t.Fatalf("len = %d, want system + 3", len(msgs))
	}
	if msgs[0].Role != models.RoleSystem {
		t.Error("trim removed the system message")
	}
}

func TestContextTrimDropsOrphanToolMessages(t *testing.T) {
	c := NewContext("sys", 2)
	c.Append(models.Message{Role: models.RoleUser, Content: "q"})
	c.Append(models.Message{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "t1", Name: "x"}}})
	c.Append(models.Message{Role: models.RoleTool, ToolCallID: "t1", Content: "res"})
	c.Append(models.Message{Role: models.RoleAssistant, Content: "done"})

	msgs := c.Messages()
	// Window of 2 would start at the tool message; it must be dropped.
	for _, m := range msgs[1:] {
		if m.Role == models.RoleTool {
			t.Fatalf("orphan tool message survived trim: %+v", msgs)
		}
	}
}

func TestContextClearKeepsSystem(t *testing.T) {
	c := NewContext("sys", 0)
	c.Append(models.Message{Role: models.RoleUser, Content: "hi"})
	c.Clear()

	msgs := c.Messages()
	if len(msgs) != 1 || msgs[0].Role != models.RoleSystem {
		t.Errorf("Clear() left %+v", msgs)
	}
}

func TestContextSnapshotRestore(t *testing.T) {
	c := NewContext("sys", 0)
	c.Append(models.Message{Role: models.RoleUser, Content: "one"})
	snap := c.Snapshot()

	c.Append(models.Message{Role: models.RoleUser, Content: "two"})
	c.Restore(snap)

	if c.Len() != 2 {
		t.Errorf("Len = %d after restore, want 2", c.Len())
	}
}

func TestContextSetSystemPromptInPlace(t *testing.T) {
	c := NewContext("old", 0)
	c.Append(models.Message{Role: models.RoleUser, Content: "hi"})
	c.SetSystemPrompt("new")

	if got := c.SystemPrompt(); got != "new" {
		t.Errorf("SystemPrompt() = %q", got)
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want prompt replaced not added", c.Len())
	}

	// Installing onto a promptless context prepends.
	c2 := NewContext("", 0)
	c2.Append(models.Message{Role: models.RoleUser, Content: "hi"})
	c2.SetSystemPrompt("sys")
	if msgs := c2.Messages(); msgs[0].Role != models.RoleSystem {
		t.Errorf("messages = %+v", msgs)
	}
}
