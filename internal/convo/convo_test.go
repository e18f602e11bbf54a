package convo

import (
	"strings"
	"testing"

	"github.com/nextlevelbuilder/aide/internal/llm"
	"github.com/nextlevelbuilder/aide/internal/store"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 1},
		{"abcd", 2},
		{strings.Repeat("a", 400), 101},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.in); got != tt.want {
			t.Errorf("EstimateTokens(%d chars) = %d, want %d", len(tt.in), got, tt.want)
		}
	}
}

func msg(role, content string) *store.Message {
	return &store.Message{Role: role, Content: content}
}

func msgCounted(role string, tokens int) *store.Message {
	return &store.Message{Role: role, TokenCount: &tokens}
}

func TestWindow(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		if got := Window(nil, 100); got != nil {
			t.Errorf("Window(nil) = %v, want nil", got)
		}
	})

	t.Run("all fit", func(t *testing.T) {
		in := []*store.Message{
			msg(llm.RoleUser, "hello"),
			msg(llm.RoleAssistant, "hi there"),
		}
		if got := Window(in, 1000); len(got) != 2 {
			t.Errorf("len = %d, want 2", len(got))
		}
	})

	t.Run("budget trims from the head", func(t *testing.T) {
		in := []*store.Message{
			msgCounted(llm.RoleUser, 500),
			msgCounted(llm.RoleAssistant, 10),
			msgCounted(llm.RoleUser, 10),
		}
		got := Window(in, 100)
		if len(got) != 2 {
			t.Fatalf("len = %d, want 2", len(got))
		}
		if got[0].Role != llm.RoleAssistant {
			t.Errorf("window starts at %s, want assistant", got[0].Role)
		}
	})

	t.Run("always includes last message", func(t *testing.T) {
		in := []*store.Message{msgCounted(llm.RoleUser, 9999)}
		if got := Window(in, 10); len(got) != 1 {
			t.Errorf("len = %d, want 1 even over budget", len(got))
		}
	})

	t.Run("stored token counts override estimate", func(t *testing.T) {
		// Short content with a large stored count must be trimmed.
		heavy := msgCounted(llm.RoleUser, 500)
		heavy.Content = "short"
		in := []*store.Message{
			heavy,
			msgCounted(llm.RoleUser, 10),
		}
		if got := Window(in, 100); len(got) != 1 {
			t.Errorf("len = %d, want 1", len(got))
		}
	})

	t.Run("orphaned tool results dropped", func(t *testing.T) {
		in := []*store.Message{
			msgCounted(llm.RoleUser, 500),
			msgCounted(llm.RoleToolCall, 500),
			msgCounted(llm.RoleToolResult, 5),
			msgCounted(llm.RoleToolResult, 5),
			msgCounted(llm.RoleAssistant, 5),
			msgCounted(llm.RoleUser, 5),
		}
		got := Window(in, 50)
		if len(got) != 2 {
			t.Fatalf("len = %d, want 2", len(got))
		}
		if got[0].Role != llm.RoleAssistant {
			t.Errorf("window starts at %s, want assistant", got[0].Role)
		}
		for _, m := range got {
			if m.Role == llm.RoleToolResult {
				t.Error("orphaned tool_result survived the window")
			}
		}
	})

	t.Run("paired tool result kept with its call", func(t *testing.T) {
		in := []*store.Message{
			msgCounted(llm.RoleUser, 500),
			msgCounted(llm.RoleToolCall, 5),
			msgCounted(llm.RoleToolResult, 5),
			msgCounted(llm.RoleAssistant, 5),
		}
		got := Window(in, 50)
		if len(got) != 3 {
			t.Fatalf("len = %d, want 3", len(got))
		}
		if got[0].Role != llm.RoleToolCall {
			t.Errorf("window starts at %s, want tool_call", got[0].Role)
		}
	})
}
