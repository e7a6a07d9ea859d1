package llm

import "strings"

// chooseModel resolves the model for a request, falling back when the
// request does not pin one.
func chooseModel(requested, fallback string) string {
	if strings.TrimSpace(requested) == "" {
		return fallback
	}
	return requested
}

// truncate shortens s for log output. Rune-safe so a multibyte frame is
// never cut mid-character.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
