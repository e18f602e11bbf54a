package llm

import (
	"strings"
	"testing"
)

func TestSanitizeToolName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "web_search", "web_search"},
		{"dotted", "research.web_search", "research_web_search"},
		{"hyphen kept", "file-manager.read", "file-manager_read"},
		{"spaces", "my tool", "my_tool"},
		{"unicode", "météo.now", "m_t_o_now"},
		{"empty", "", "tool"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeToolName(tt.in); got != tt.want {
				t.Errorf("sanitizeToolName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeToolName_Length(t *testing.T) {
	long := strings.Repeat("a", 100)
	if got := sanitizeToolName(long); len(got) != maxToolNameLen {
		t.Errorf("len = %d, want %d", len(got), maxToolNameLen)
	}
}

// TestNameMapper_RoundTrip verifies canonical -> provider -> canonical is
// the identity within one request, including colliding names.
func TestNameMapper_RoundTrip(t *testing.T) {
	tools := []ToolDefinition{
		{Name: "scheduler.create_job"},
		{Name: "scheduler_create.job"},  // collides after sanitization
		{Name: "scheduler.create.job"},  // collides again
		{Name: "location.create_reminder"},
	}
	m := newNameMapper(tools)

	seen := make(map[string]bool)
	for _, tool := range tools {
		p := m.provider(tool.Name)
		if seen[p] {
			t.Fatalf("provider name %q assigned twice", p)
		}
		seen[p] = true
		if got := m.canonical(p); got != tool.Name {
			t.Errorf("round trip %q -> %q -> %q", tool.Name, p, got)
		}
	}
}

func TestNameMapper_UnknownPassThrough(t *testing.T) {
	m := newNameMapper(nil)
	if got := m.canonical("made_up_tool"); got != "made_up_tool" {
		t.Errorf("canonical(unknown) = %q, want pass-through", got)
	}
}
