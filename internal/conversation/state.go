package conversation

import (
	"fmt"
	"time"

	"github.com/biswajeet0192/locallm/internal/llm"
)

// Status describes the lifecycle of one message.
type Status string

const (
	StatusPending   Status = "pending"
	StatusStreaming Status = "streaming"
	StatusComplete  Status = "complete"
	StatusStopped   Status = "stopped"
	StatusError     Status = "error"
)

// StopMarker is appended to a partially streamed message when generation
// is cancelled with content already on screen.
const StopMarker = "[Generation stopped by user]"

// Message is one conversation turn held in memory.
type Message struct {
	Role      llm.Role
	Content   string
	Timestamp time.Time
	Status    Status
}

// Phase is the generation state of a conversation.
type Phase int

const (
	// PhaseIdle: no generation in flight, ready to send.
	PhaseIdle Phase = iota
	// PhaseAwaitingFirstByte: request issued, no content received yet.
	PhaseAwaitingFirstByte
	// PhaseStreaming: content deltas are arriving.
	PhaseStreaming
	// PhaseSettled: the last generation reached a terminal state; the
	// next send is accepted as from idle.
	PhaseSettled
)

// State is the ordered message list for one session plus the streaming
// placeholder, driven as an explicit state machine by protocol and control
// events. It is independent of any rendering layer; callers serialize
// access.
//
// Invariant: at most one message has StatusStreaming, and while active it
// is always the last element.
type State struct {
	phase    Phase
	messages []Message
}

func NewState() *State {
	return &State{}
}

func (s *State) Phase() Phase {
	return s.phase
}

// Messages returns a copy of the message list.
func (s *State) Messages() []Message {
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *State) Len() int {
	return len(s.messages)
}

// Replace swaps in a fully loaded history, as on session switch. Any
// in-flight generation must have been cancelled by the caller first.
func (s *State) Replace(messages []Message) {
	s.messages = make([]Message, len(messages))
	copy(s.messages, messages)
	s.phase = PhaseIdle
}

// Reset clears the conversation entirely.
func (s *State) Reset() {
	s.messages = nil
	s.phase = PhaseIdle
}

// History returns the settled messages as generation context, excluding
// any active placeholder. This is the input to the context window policy
// and is taken before the new user message is appended.
func (s *State) History() []llm.Message {
	out := make([]llm.Message, 0, len(s.messages))
	for _, msg := range s.messages {
		if msg.Status == StatusStreaming {
			continue
		}
		out = append(out, llm.Message{Role: msg.Role, Content: msg.Content})
	}
	return out
}

// BeginSend appends the user message (complete at submission time) and the
// empty streaming placeholder for the assistant's reply. It fails if a
// generation is already active; the caller must cancel first, never send
// concurrently.
func (s *State) BeginSend(prompt string, now time.Time) error {
	if s.phase == PhaseAwaitingFirstByte || s.phase == PhaseStreaming {
		return fmt.Errorf("generation already in flight")
	}
	s.messages = append(s.messages,
		Message{Role: llm.RoleUser, Content: prompt, Timestamp: now, Status: StatusComplete},
		Message{Role: llm.RoleAssistant, Timestamp: now, Status: StatusStreaming},
	)
	s.phase = PhaseAwaitingFirstByte
	return nil
}

// Apply routes one protocol event into the state machine.
func (s *State) Apply(event llm.Event) {
	switch event.Type {
	case llm.EventContent:
		s.ApplyContent(event.Text)
	case llm.EventDone:
		s.ApplyDone()
	case llm.EventError:
		message := "unknown error"
		if event.Err != nil {
			message = event.Err.Error()
		}
		s.ApplyError(message)
	}
}

// ApplyContent appends a delta to the trailing placeholder in place. Events
// arriving after a terminal transition are no-ops.
func (s *State) ApplyContent(text string) {
	placeholder := s.streamingPlaceholder()
	if placeholder == nil {
		return
	}
	placeholder.Content += text
	s.phase = PhaseStreaming
}

// ApplyDone marks the placeholder complete.
func (s *State) ApplyDone() {
	placeholder := s.streamingPlaceholder()
	if placeholder == nil {
		return
	}
	placeholder.Status = StatusComplete
	s.phase = PhaseSettled
}

// ApplyError replaces the placeholder's content with the error annotation
// and marks it failed.
func (s *State) ApplyError(message string) {
	placeholder := s.streamingPlaceholder()
	if placeholder == nil {
		return
	}
	placeholder.Content = "Error: " + message
	placeholder.Status = StatusError
	s.phase = PhaseSettled
}

// Reconcile applies the post-cancellation edit: an untouched placeholder is
// removed so the conversation has no empty turn, a partially streamed one
// gets the stop marker and StatusStopped. Returns true if the placeholder
// was removed. Runs at most once per cancellation; without an active
// placeholder it is a no-op.
func (s *State) Reconcile() bool {
	placeholder := s.streamingPlaceholder()
	if placeholder == nil {
		return false
	}
	s.phase = PhaseSettled
	if placeholder.Content == "" {
		s.messages = s.messages[:len(s.messages)-1]
		return true
	}
	placeholder.Content += "\n\n" + StopMarker
	placeholder.Status = StatusStopped
	return false
}

// streamingPlaceholder returns the active trailing placeholder, or nil if
// no generation is in flight.
func (s *State) streamingPlaceholder() *Message {
	if len(s.messages) == 0 {
		return nil
	}
	last := &s.messages[len(s.messages)-1]
	if last.Status != StatusStreaming {
		return nil
	}
	return last
}
