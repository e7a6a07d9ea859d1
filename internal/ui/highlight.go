package ui

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// highlighterCache caches highlighters by language name; lexer lookup is
// expensive enough to avoid repeating per code block.
var (
	highlighterCache   = make(map[string]*Highlighter)
	highlighterCacheMu sync.RWMutex
)

// Highlighter applies syntax highlighting to fenced code blocks.
type Highlighter struct {
	lexer chroma.Lexer
	style *chroma.Style
}

// NewHighlighter creates a highlighter for a fence language tag like "go"
// or "python". Returns nil if the language is not recognized; callers then
// print the block unstyled.
func NewHighlighter(language string) *Highlighter {
	language = strings.ToLower(strings.TrimSpace(language))
	if language == "" {
		return nil
	}

	highlighterCacheMu.RLock()
	if h, ok := highlighterCache[language]; ok {
		highlighterCacheMu.RUnlock()
		return h
	}
	highlighterCacheMu.RUnlock()

	var h *Highlighter
	if lexer := lexers.Get(language); lexer != nil {
		style := styles.Get("monokai")
		if style == nil {
			style = styles.Fallback
		}
		h = &Highlighter{lexer: chroma.Coalesce(lexer), style: style}
	}

	// Unrecognized languages are cached as nil too.
	highlighterCacheMu.Lock()
	highlighterCache[language] = h
	highlighterCacheMu.Unlock()
	return h
}

// HighlightLine applies foreground-only highlighting to one line of code.
func (h *Highlighter) HighlightLine(line string) string {
	if h == nil {
		return line
	}

	iterator, err := h.lexer.Tokenise(nil, line)
	if err != nil {
		return line
	}

	var buf strings.Builder
	if err := (&fgFormatter{style: h.style}).Format(&buf, iterator); err != nil {
		return line
	}
	return buf.String()
}

// fgFormatter is a chroma formatter that emits true-color foreground codes
// only, leaving the terminal background alone.
type fgFormatter struct {
	style *chroma.Style
}

func (f *fgFormatter) Format(w io.Writer, iterator chroma.Iterator) error {
	for token := iterator(); token != chroma.EOF; token = iterator() {
		value := strings.TrimRight(token.Value, "\n")
		if value == "" {
			continue
		}

		entry := f.style.Get(token.Type)

		var codes []string
		if entry.Colour.IsSet() {
			codes = append(codes, fmt.Sprintf("38;2;%d;%d;%d", entry.Colour.Red(), entry.Colour.Green(), entry.Colour.Blue()))
		}
		if entry.Bold == chroma.Yes {
			codes = append(codes, "1")
		}
		if entry.Italic == chroma.Yes {
			codes = append(codes, "3")
		}
		if entry.Underline == chroma.Yes {
			codes = append(codes, "4")
		}

		if len(codes) > 0 {
			fmt.Fprintf(w, "\x1b[%sm%s\x1b[0m", strings.Join(codes, ";"), value)
		} else {
			fmt.Fprint(w, value)
		}
	}
	return nil
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// StripANSI removes ANSI style codes from a string.
func StripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}
