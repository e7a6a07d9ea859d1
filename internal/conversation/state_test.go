package conversation

import (
	"strings"
	"testing"
	"time"

	"github.com/biswajeet0192/locallm/internal/llm"
)

var testNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func beginSend(t *testing.T, s *State, prompt string) {
	t.Helper()
	if err := s.BeginSend(prompt, testNow); err != nil {
		t.Fatalf("BeginSend(%q): %v", prompt, err)
	}
}

func TestBeginSendAppendsPair(t *testing.T) {
	s := NewState()
	beginSend(t, s, "hello")

	msgs := s.Messages()
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
	if msgs[0].Role != llm.RoleUser || msgs[0].Content != "hello" || msgs[0].Status != StatusComplete {
		t.Errorf("user message = %+v", msgs[0])
	}
	if msgs[1].Role != llm.RoleAssistant || msgs[1].Content != "" || msgs[1].Status != StatusStreaming {
		t.Errorf("placeholder = %+v", msgs[1])
	}
	if s.Phase() != PhaseAwaitingFirstByte {
		t.Errorf("phase = %v, want PhaseAwaitingFirstByte", s.Phase())
	}
}

func TestBeginSendRejectsConcurrent(t *testing.T) {
	s := NewState()
	beginSend(t, s, "first")
	if err := s.BeginSend("second", testNow); err == nil {
		t.Error("BeginSend succeeded with a generation in flight")
	}
	s.ApplyContent("x")
	if err := s.BeginSend("third", testNow); err == nil {
		t.Error("BeginSend succeeded while streaming")
	}
}

func TestApplyContentAppendsInPlace(t *testing.T) {
	s := NewState()
	beginSend(t, s, "hi")

	s.ApplyContent("Hel")
	s.ApplyContent("lo")

	msgs := s.Messages()
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2 (deltas must not add messages)", len(msgs))
	}
	if msgs[1].Content != "Hello" {
		t.Errorf("placeholder content = %q, want %q", msgs[1].Content, "Hello")
	}
	if s.Phase() != PhaseStreaming {
		t.Errorf("phase = %v, want PhaseStreaming", s.Phase())
	}
}

func TestApplyDoneSettles(t *testing.T) {
	s := NewState()
	beginSend(t, s, "hi")
	s.ApplyContent("answer")
	s.ApplyDone()

	msgs := s.Messages()
	if msgs[1].Status != StatusComplete {
		t.Errorf("status = %q, want complete", msgs[1].Status)
	}
	if s.Phase() != PhaseSettled {
		t.Errorf("phase = %v, want PhaseSettled", s.Phase())
	}
	if err := s.BeginSend("next", testNow); err != nil {
		t.Errorf("BeginSend after settle: %v", err)
	}
}

func TestApplyErrorAnnotates(t *testing.T) {
	s := NewState()
	beginSend(t, s, "hi")
	s.ApplyContent("par")
	s.ApplyError("model crashed")

	msgs := s.Messages()
	if msgs[1].Status != StatusError {
		t.Errorf("status = %q, want error", msgs[1].Status)
	}
	if msgs[1].Content != "Error: model crashed" {
		t.Errorf("content = %q, want %q", msgs[1].Content, "Error: model crashed")
	}
}

func TestEventsAfterTerminalAreNoOps(t *testing.T) {
	s := NewState()
	beginSend(t, s, "hi")
	s.ApplyContent("done text")
	s.ApplyDone()

	before := s.Messages()
	s.ApplyContent("late delta")
	s.ApplyDone()
	s.ApplyError("late error")
	after := s.Messages()

	if len(after) != len(before) || after[1].Content != before[1].Content || after[1].Status != before[1].Status {
		t.Errorf("terminal message mutated by late events: %+v", after[1])
	}
}

func TestReconcileEmptyPlaceholderRemoved(t *testing.T) {
	s := NewState()
	beginSend(t, s, "hi")

	removed := s.Reconcile()
	if !removed {
		t.Error("Reconcile = false, want true for empty placeholder")
	}
	msgs := s.Messages()
	if len(msgs) != 1 {
		t.Fatalf("len = %d, want 1 (placeholder removed, user message kept)", len(msgs))
	}
	if msgs[0].Role != llm.RoleUser {
		t.Errorf("surviving message = %+v", msgs[0])
	}
	if s.Phase() != PhaseSettled {
		t.Errorf("phase = %v, want PhaseSettled", s.Phase())
	}
}

func TestReconcilePartialContentGetsStopMarker(t *testing.T) {
	s := NewState()
	beginSend(t, s, "hi")
	s.ApplyContent("partial answer")

	removed := s.Reconcile()
	if removed {
		t.Error("Reconcile = true, want false for partial content")
	}
	msg := s.Messages()[1]
	if msg.Status != StatusStopped {
		t.Errorf("status = %q, want stopped", msg.Status)
	}
	want := "partial answer\n\n" + StopMarker
	if msg.Content != want {
		t.Errorf("content = %q, want %q", msg.Content, want)
	}
}

func TestReconcileRunsAtMostOnce(t *testing.T) {
	s := NewState()
	beginSend(t, s, "hi")
	s.ApplyContent("partial")

	s.Reconcile()
	s.Reconcile()

	content := s.Messages()[1].Content
	if n := strings.Count(content, StopMarker); n != 1 {
		t.Errorf("stop marker appears %d times, want 1: %q", n, content)
	}
}

func TestReconcileWithoutPlaceholderIsNoOp(t *testing.T) {
	s := NewState()
	if s.Reconcile() {
		t.Error("Reconcile on empty state = true")
	}
	beginSend(t, s, "hi")
	s.ApplyDone()
	before := s.Messages()
	if s.Reconcile() {
		t.Error("Reconcile after done = true")
	}
	if after := s.Messages(); after[1].Content != before[1].Content {
		t.Error("Reconcile after done mutated the message")
	}
}

func TestHistoryExcludesPlaceholder(t *testing.T) {
	s := NewState()
	beginSend(t, s, "one")
	s.ApplyContent("reply one")
	s.ApplyDone()
	beginSend(t, s, "two")

	history := s.History()
	if len(history) != 3 {
		t.Fatalf("len = %d, want 3 (streaming placeholder excluded)", len(history))
	}
	want := []llm.Message{
		{Role: llm.RoleUser, Content: "one"},
		{Role: llm.RoleAssistant, Content: "reply one"},
		{Role: llm.RoleUser, Content: "two"},
	}
	for i := range want {
		if history[i] != want[i] {
			t.Errorf("history[%d] = %+v, want %+v", i, history[i], want[i])
		}
	}
}

func TestReplaceAndReset(t *testing.T) {
	s := NewState()
	s.Replace([]Message{
		{Role: llm.RoleUser, Content: "restored", Status: StatusComplete},
	})
	if s.Len() != 1 || s.Phase() != PhaseIdle {
		t.Errorf("after Replace: len=%d phase=%v", s.Len(), s.Phase())
	}
	s.Reset()
	if s.Len() != 0 {
		t.Errorf("after Reset: len=%d, want 0", s.Len())
	}
}

func TestMessagesReturnsCopy(t *testing.T) {
	s := NewState()
	beginSend(t, s, "hi")
	msgs := s.Messages()
	msgs[0].Content = "mutated"
	if s.Messages()[0].Content != "hi" {
		t.Error("Messages exposed internal slice")
	}
}
