package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner renders an inline waiting indicator on one terminal line. Used
// between sending a prompt and the first streamed byte; the caller stops it
// before printing content.
type Spinner struct {
	w     io.Writer
	label string

	mu      sync.Mutex
	stop    chan struct{}
	stopped bool
}

// NewSpinner creates a spinner writing to w. It does not start ticking
// until Start.
func NewSpinner(w io.Writer, label string) *Spinner {
	return &Spinner{w: w, label: label, stop: make(chan struct{})}
}

func (s *Spinner) Start() {
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()

		start := time.Now()
		frame := 0
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.mu.Lock()
				if s.stopped {
					s.mu.Unlock()
					return
				}
				fmt.Fprintf(s.w, "\r%s %s %.1fs", spinnerFrames[frame%len(spinnerFrames)], s.label, time.Since(start).Seconds())
				s.mu.Unlock()
				frame++
			}
		}
	}()
}

// Stop halts the spinner and clears its line. Safe to call more than once.
func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.stop)
	fmt.Fprintf(s.w, "\r%s\r", strings.Repeat(" ", len(s.label)+12))
}
