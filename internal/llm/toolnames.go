package llm

import "strings"

// Provider tool-name constraints: alphanumerics, underscore, hyphen, max 64
// chars. Canonical names like "scheduler.create_job" carry a dot, so they
// are rewritten per request and mapped back on the way out.

const maxToolNameLen = 64

// nameMapper holds the per-request sanitized→canonical mapping. It must not
// outlive the request: two requests may sanitize different canonical names
// to the same provider name.
type nameMapper struct {
	toProvider map[string]string
	toCanon    map[string]string
}

func newNameMapper(tools []ToolDefinition) *nameMapper {
	m := &nameMapper{
		toProvider: make(map[string]string, len(tools)),
		toCanon:    make(map[string]string, len(tools)),
	}
	for _, t := range tools {
		s := sanitizeToolName(t.Name)
		// Disambiguate collisions deterministically.
		base := s
		for i := 2; ; i++ {
			if _, taken := m.toCanon[s]; !taken {
				break
			}
			suffix := "_" + itoa(i)
			if len(base)+len(suffix) > maxToolNameLen {
				s = base[:maxToolNameLen-len(suffix)] + suffix
			} else {
				s = base + suffix
			}
		}
		m.toProvider[t.Name] = s
		m.toCanon[s] = t.Name
	}
	return m
}

// provider returns the sanitized name for a canonical tool name.
func (m *nameMapper) provider(canonical string) string {
	if s, ok := m.toProvider[canonical]; ok {
		return s
	}
	return sanitizeToolName(canonical)
}

// canonical maps a provider-returned name back; unknown names pass through
// so the dispatcher can produce a structured invalid-tool error.
func (m *nameMapper) canonical(providerName string) string {
	if c, ok := m.toCanon[providerName]; ok {
		return c
	}
	return providerName
}

func sanitizeToolName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	s := b.String()
	if s == "" {
		s = "tool"
	}
	if len(s) > maxToolNameLen {
		s = s[:maxToolNameLen]
	}
	return s
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
