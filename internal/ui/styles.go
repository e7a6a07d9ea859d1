package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

// Color palette - consistent across all output
var (
	Green = lipgloss.Color("10") // success, running
	Red   = lipgloss.Color("9")  // error, stopped
	Grey  = lipgloss.Color("8")  // muted text
	Blue  = lipgloss.Color("4")  // user prompt
	White = lipgloss.Color("15") // header text
)

// Status indicators
const (
	RunningIcon = "●"
	StoppedIcon = "○"
	SuccessIcon = "✓"
	FailIcon    = "✗"
)

// Styles returns styled text helpers bound to a renderer
type Styles struct {
	renderer *lipgloss.Renderer

	Title     lipgloss.Style
	User      lipgloss.Style
	Assistant lipgloss.Style
	Success   lipgloss.Style
	Error     lipgloss.Style
	Muted     lipgloss.Style
	Bold      lipgloss.Style
}

// NewStyles creates a new Styles instance for the given output
func NewStyles(output *os.File) *Styles {
	r := lipgloss.NewRenderer(output)

	return &Styles{
		renderer: r,

		Title: r.NewStyle().
			Bold(true).
			Foreground(White),

		User: r.NewStyle().
			Bold(true).
			Foreground(Blue),

		Assistant: r.NewStyle().
			Foreground(White),

		Success: r.NewStyle().
			Foreground(Green),

		Error: r.NewStyle().
			Foreground(Red),

		Muted: r.NewStyle().
			Foreground(Grey),

		Bold: r.NewStyle().
			Bold(true),
	}
}

// FormatRunning returns a styled running/stopped indicator
func (s *Styles) FormatRunning(running bool) string {
	if running {
		return s.Success.Render(RunningIcon + " running")
	}
	return s.Error.Render(StoppedIcon + " stopped")
}

// Truncate shortens a string to maxLen display cells with ellipsis.
// Width-aware so wide characters do not overflow table columns.
func Truncate(s string, maxLen int) string {
	if runewidth.StringWidth(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return runewidth.Truncate(s, maxLen, "")
	}
	return runewidth.Truncate(s, maxLen, "...")
}
