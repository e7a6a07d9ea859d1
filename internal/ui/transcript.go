package ui

import "strings"

// RenderContent renders a message body for terminal display, syntax
// highlighting any fenced code blocks. Text outside fences passes through
// untouched; the model's markdown is readable as-is.
func RenderContent(content string, s *Styles) string {
	lines := strings.Split(content, "\n")

	var (
		b           strings.Builder
		highlighter *Highlighter
		inFence     bool
	)
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			if inFence {
				inFence = false
				highlighter = nil
			} else {
				inFence = true
				highlighter = NewHighlighter(strings.TrimPrefix(trimmed, "```"))
			}
			b.WriteString(s.Muted.Render(line))
		} else if inFence {
			b.WriteString(highlighter.HighlightLine(line))
		} else {
			b.WriteString(line)
		}
		if i < len(lines)-1 {
			b.WriteString("\n")
		}
	}

	// An unterminated fence streams until the end; that is the model's
	// output, not ours to fix.
	return b.String()
}
