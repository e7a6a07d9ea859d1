package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/biswajeet0192/locallm/internal/llm"
	"github.com/biswajeet0192/locallm/internal/session"
)

// fakeStore is an in-memory session.Store with injectable failures.
type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]session.Session
	messages map[string][]session.Message
	nextID   int

	createErr error
	deleteErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[string]session.Session),
		messages: make(map[string][]session.Message),
	}
}

func (s *fakeStore) Create(ctx context.Context, model, title string) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.nextID++
	sess := session.Session{
		ID:        fmt.Sprintf("sess-%d", s.nextID),
		Title:     title,
		Model:     model,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	s.sessions[sess.ID] = sess
	return &sess, nil
}

func (s *fakeStore) Get(ctx context.Context, id string) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return &sess, nil
}

func (s *fakeStore) List(ctx context.Context) ([]session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out, nil
}

func (s *fakeStore) Messages(ctx context.Context, id string) ([]session.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return nil, session.ErrNotFound
	}
	return s.messages[id], nil
}

func (s *fakeStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	if _, ok := s.sessions[id]; !ok {
		return session.ErrNotFound
	}
	delete(s.sessions, id)
	return nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) removeDirectly(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// scriptedStream delivers preloaded events, then EOF. When left open it
// blocks until fed or until its request context is cancelled.
type scriptedStream struct {
	ctx    context.Context
	events chan llm.Event
}

func (s *scriptedStream) Recv() (llm.Event, error) {
	select {
	case ev, ok := <-s.events:
		if !ok {
			return llm.Event{}, io.EOF
		}
		return ev, nil
	default:
	}
	select {
	case <-s.ctx.Done():
		return llm.Event{}, llm.ErrAborted
	case ev, ok := <-s.events:
		if !ok {
			return llm.Event{}, io.EOF
		}
		return ev, nil
	}
}

func (s *scriptedStream) Close() error { return nil }

// fakeGenerator hands out scripted streams and records requests.
type fakeGenerator struct {
	mu       sync.Mutex
	requests []llm.Request
	streams  []*scriptedStream
	err      error

	// script preloads events into each new stream; nil leaves it open for
	// the test to feed.
	script func(chan llm.Event)
}

func (g *fakeGenerator) Generate(ctx context.Context, req llm.Request) (llm.Stream, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	g.requests = append(g.requests, req)
	s := &scriptedStream{ctx: ctx, events: make(chan llm.Event, 16)}
	if g.script != nil {
		g.script(s.events)
	}
	g.streams = append(g.streams, s)
	return s, nil
}

func (g *fakeGenerator) lastRequest(t *testing.T) llm.Request {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.requests) == 0 {
		t.Fatal("no generation request issued")
	}
	return g.requests[len(g.requests)-1]
}

func completeWith(text string) func(chan llm.Event) {
	return func(ch chan llm.Event) {
		ch <- llm.Event{Type: llm.EventContent, Text: text}
		ch <- llm.Event{Type: llm.EventDone}
		close(ch)
	}
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestSendAutoCreatesSession(t *testing.T) {
	store := newFakeStore()
	gen := &fakeGenerator{script: completeWith("Hello")}
	m := NewManager(gen, store, Options{Model: "llama3.1"})

	var deltas []string
	err := m.Send(t.Context(), "hi", SendOptions{OnDelta: func(s string) { deltas = append(deltas, s) }})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	sess, ok := m.Current()
	if !ok {
		t.Fatal("no current session after first send")
	}
	if _, err := store.Get(t.Context(), sess.ID); err != nil {
		t.Errorf("session %q not persisted: %v", sess.ID, err)
	}

	req := gen.lastRequest(t)
	if req.SessionID != sess.ID {
		t.Errorf("request session = %q, want %q", req.SessionID, sess.ID)
	}
	if req.Prompt != "hi" || req.Model != "llama3.1" {
		t.Errorf("request = %+v", req)
	}
	if len(req.Context) != 0 {
		t.Errorf("first send carried context: %v", req.Context)
	}

	msgs := m.Messages()
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
	if msgs[1].Content != "Hello" || msgs[1].Status != StatusComplete {
		t.Errorf("assistant message = %+v", msgs[1])
	}
	if len(deltas) != 1 || deltas[0] != "Hello" {
		t.Errorf("deltas = %v", deltas)
	}
}

func TestSendCarriesTrimmedContext(t *testing.T) {
	store := newFakeStore()
	gen := &fakeGenerator{script: completeWith("ok")}
	m := NewManager(gen, store, Options{Model: "llama3.1", MaxContextMessages: 2})

	for i := 0; i < 3; i++ {
		if err := m.Send(t.Context(), fmt.Sprintf("prompt %d", i), SendOptions{}); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}

	req := gen.lastRequest(t)
	if len(req.Context) != 2 {
		t.Fatalf("context len = %d, want 2", len(req.Context))
	}
	// Most recent suffix of the prior history, in order.
	if req.Context[0].Content != "prompt 1" || req.Context[1].Content != "ok" {
		t.Errorf("context = %v", req.Context)
	}
	if req.MaxContextMessages != 2 {
		t.Errorf("MaxContextMessages = %d, want 2", req.MaxContextMessages)
	}
}

// lastOnlyPolicy keeps just the most recent message, standing in for a
// token budget far tighter than the configured count bound.
type lastOnlyPolicy struct{}

func (lastOnlyPolicy) Select(history []llm.Message) []llm.Message {
	return llm.SelectContext(history, 1)
}

func TestSendTightPolicyLowersWireBound(t *testing.T) {
	store := newFakeStore()
	gen := &fakeGenerator{script: completeWith("ok")}
	m := NewManager(gen, store, Options{Model: "llama3.1", MaxContextMessages: 10, Policy: lastOnlyPolicy{}})

	for i := 0; i < 2; i++ {
		if err := m.Send(t.Context(), fmt.Sprintf("prompt %d", i), SendOptions{}); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}

	// First send had no history to trim, so the configured bound stands.
	gen.mu.Lock()
	first := gen.requests[0]
	gen.mu.Unlock()
	if first.MaxContextMessages != 10 {
		t.Errorf("untrimmed MaxContextMessages = %d, want 10", first.MaxContextMessages)
	}

	// Second send: the policy picked one of two prior messages, and the
	// wire bound must shrink to match or the backend would still send
	// the full count-trimmed history.
	req := gen.lastRequest(t)
	if len(req.Context) != 1 || req.Context[0].Content != "ok" {
		t.Fatalf("context = %v, want the single most recent message", req.Context)
	}
	if req.MaxContextMessages != 1 {
		t.Errorf("MaxContextMessages = %d, want 1 to match the selected window", req.MaxContextMessages)
	}
}

func TestSendGenerateFailure(t *testing.T) {
	store := newFakeStore()
	gen := &fakeGenerator{err: errors.New("connection refused")}
	m := NewManager(gen, store, Options{Model: "llama3.1"})

	err := m.Send(t.Context(), "hi", SendOptions{})
	if err == nil {
		t.Fatal("Send succeeded with failing generator")
	}

	msgs := m.Messages()
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
	if msgs[1].Status != StatusError {
		t.Errorf("assistant status = %q, want error", msgs[1].Status)
	}
	if !strings.Contains(msgs[1].Content, "connection refused") {
		t.Errorf("assistant content = %q", msgs[1].Content)
	}
}

func TestSendBackendErrorEvent(t *testing.T) {
	store := newFakeStore()
	gen := &fakeGenerator{script: func(ch chan llm.Event) {
		ch <- llm.Event{Type: llm.EventContent, Text: "par"}
		ch <- llm.Event{Type: llm.EventError, Err: &llm.BackendError{Message: "oom"}}
		close(ch)
	}}
	m := NewManager(gen, store, Options{Model: "llama3.1"})

	err := m.Send(t.Context(), "hi", SendOptions{})
	var berr *llm.BackendError
	if !errors.As(err, &berr) {
		t.Fatalf("Send error = %T %v, want *BackendError", err, err)
	}

	msg := m.Messages()[1]
	if msg.Status != StatusError || msg.Content != "Error: oom" {
		t.Errorf("assistant message = %+v", msg)
	}
}

func TestCreateSessionFailureLeavesNoSession(t *testing.T) {
	store := newFakeStore()
	store.createErr = errors.New("backend down")
	m := NewManager(&fakeGenerator{}, store, Options{Model: "llama3.1"})

	if _, err := m.CreateSession(t.Context(), "My chat"); err == nil {
		t.Fatal("CreateSession succeeded with failing store")
	}
	if _, ok := m.Current(); ok {
		t.Error("current session set despite create failure")
	}
}

func TestSwitchSessionLoadsHistory(t *testing.T) {
	store := newFakeStore()
	sess, _ := store.Create(t.Context(), "llama3.1", "Old chat")
	store.messages[sess.ID] = []session.Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi there"},
	}
	m := NewManager(&fakeGenerator{}, store, Options{Model: "llama3.1"})

	if err := m.SwitchSession(t.Context(), sess.ID); err != nil {
		t.Fatalf("SwitchSession: %v", err)
	}

	msgs := m.Messages()
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
	if msgs[0].Role != llm.RoleUser || msgs[0].Content != "hello" || msgs[0].Status != StatusComplete {
		t.Errorf("msgs[0] = %+v", msgs[0])
	}
	if msgs[1].Role != llm.RoleAssistant || msgs[1].Content != "hi there" {
		t.Errorf("msgs[1] = %+v", msgs[1])
	}
	if cur, _ := m.Current(); cur.ID != sess.ID {
		t.Errorf("current = %q, want %q", cur.ID, sess.ID)
	}
}

func TestSwitchSessionNotFoundLeavesStateUntouched(t *testing.T) {
	store := newFakeStore()
	gen := &fakeGenerator{script: completeWith("reply")}
	m := NewManager(gen, store, Options{Model: "llama3.1"})
	if err := m.Send(t.Context(), "hi", SendOptions{}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	before, _ := m.Current()

	err := m.SwitchSession(t.Context(), "ghost")
	if !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("SwitchSession = %v, want ErrNotFound", err)
	}

	after, ok := m.Current()
	if !ok || after.ID != before.ID {
		t.Errorf("current changed on failed switch: %+v", after)
	}
	if len(m.Messages()) != 2 {
		t.Errorf("conversation changed on failed switch")
	}
}

func TestDeleteCurrentSessionResets(t *testing.T) {
	store := newFakeStore()
	gen := &fakeGenerator{script: completeWith("reply")}
	m := NewManager(gen, store, Options{Model: "llama3.1"})
	if err := m.Send(t.Context(), "hi", SendOptions{}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	cur, _ := m.Current()

	if err := m.DeleteSession(t.Context(), cur.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, ok := m.Current(); ok {
		t.Error("current session survives its own deletion")
	}
	if len(m.Messages()) != 0 {
		t.Error("conversation survives deletion of its session")
	}
	if _, err := store.Get(t.Context(), cur.ID); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("store.Get after delete = %v, want ErrNotFound", err)
	}
}

func TestListSessionsReconcilesOutOfBandDeletion(t *testing.T) {
	store := newFakeStore()
	gen := &fakeGenerator{script: completeWith("reply")}
	m := NewManager(gen, store, Options{Model: "llama3.1"})
	if err := m.Send(t.Context(), "hi", SendOptions{}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	cur, _ := m.Current()

	// Deleted behind the manager's back, e.g. by another client.
	store.removeDirectly(cur.ID)

	sessions, err := m.ListSessions(t.Context())
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	for _, s := range sessions {
		if s.ID == cur.ID {
			t.Errorf("deleted session still listed: %q", s.ID)
		}
	}
	if _, ok := m.Current(); ok {
		t.Error("current still points at an out-of-band deleted session")
	}
	if len(m.Messages()) != 0 {
		t.Error("conversation not cleared after out-of-band deletion")
	}
}

func TestCancelBeforeFirstByteRemovesPlaceholder(t *testing.T) {
	store := newFakeStore()
	gen := &fakeGenerator{} // stream stays open, no events
	m := NewManager(gen, store, Options{Model: "llama3.1"})

	done := make(chan error, 1)
	go func() { done <- m.Send(context.Background(), "hi", SendOptions{}) }()

	waitFor(t, func() bool {
		gen.mu.Lock()
		defer gen.mu.Unlock()
		return len(gen.streams) == 1
	})

	if !m.CancelActive() {
		t.Fatal("CancelActive = false with generation in flight")
	}
	if err := <-done; err != nil {
		t.Fatalf("Send after cancel = %v, want nil", err)
	}

	msgs := m.Messages()
	if len(msgs) != 1 {
		t.Fatalf("len = %d, want 1 (empty placeholder removed)", len(msgs))
	}
	if msgs[0].Role != llm.RoleUser {
		t.Errorf("surviving message = %+v", msgs[0])
	}
}

func TestCancelMidStreamAppendsStopMarker(t *testing.T) {
	store := newFakeStore()
	gen := &fakeGenerator{}
	m := NewManager(gen, store, Options{Model: "llama3.1"})

	done := make(chan error, 1)
	go func() { done <- m.Send(context.Background(), "hi", SendOptions{}) }()

	waitFor(t, func() bool {
		gen.mu.Lock()
		defer gen.mu.Unlock()
		return len(gen.streams) == 1
	})
	gen.streams[0].events <- llm.Event{Type: llm.EventContent, Text: "partial"}
	waitFor(t, func() bool {
		msgs := m.Messages()
		return len(msgs) == 2 && msgs[1].Content == "partial"
	})

	m.CancelActive()
	if err := <-done; err != nil {
		t.Fatalf("Send after cancel = %v, want nil", err)
	}

	msg := m.Messages()[1]
	if msg.Status != StatusStopped {
		t.Errorf("status = %q, want stopped", msg.Status)
	}
	if want := "partial\n\n" + StopMarker; msg.Content != want {
		t.Errorf("content = %q, want %q", msg.Content, want)
	}
}

func TestCancelThenDoneYieldsSingleTerminal(t *testing.T) {
	store := newFakeStore()
	gen := &fakeGenerator{}
	m := NewManager(gen, store, Options{Model: "llama3.1"})

	done := make(chan error, 1)
	go func() { done <- m.Send(context.Background(), "hi", SendOptions{}) }()

	waitFor(t, func() bool {
		gen.mu.Lock()
		defer gen.mu.Unlock()
		return len(gen.streams) == 1
	})
	stream := gen.streams[0]
	stream.events <- llm.Event{Type: llm.EventContent, Text: "partial"}
	waitFor(t, func() bool {
		msgs := m.Messages()
		return len(msgs) == 2 && msgs[1].Content == "partial"
	})

	// Cancellation wins the terminal transition; the done that was already
	// in flight must then be a no-op.
	m.CancelActive()
	stream.events <- llm.Event{Type: llm.EventDone}
	close(stream.events)

	if err := <-done; err != nil {
		t.Fatalf("Send = %v, want nil", err)
	}

	msg := m.Messages()[1]
	if msg.Status != StatusStopped {
		t.Errorf("status = %q, want stopped (done after cancel must not win)", msg.Status)
	}
	if n := strings.Count(msg.Content, StopMarker); n != 1 {
		t.Errorf("stop marker appears %d times, want 1: %q", n, msg.Content)
	}
}

func TestSwitchDuringSendDoesNotMirrorLoadedHistory(t *testing.T) {
	store := newFakeStore()
	target, _ := store.Create(t.Context(), "llama3.1", "Earlier chat")
	store.messages[target.ID] = []session.Message{
		{Role: "user", Content: "old question"},
		{Role: "assistant", Content: "old answer"},
	}

	mirror, err := session.NewSQLiteStore(filepath.Join(t.TempDir(), "mirror.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer mirror.Close()

	gen := &fakeGenerator{} // stream stays open
	m := NewManager(gen, store, Options{Model: "llama3.1", Mirror: mirror})

	done := make(chan error, 1)
	go func() { done <- m.Send(context.Background(), "hi", SendOptions{}) }()
	waitFor(t, func() bool {
		gen.mu.Lock()
		defer gen.mu.Unlock()
		return len(gen.streams) == 1
	})
	gen.streams[0].events <- llm.Event{Type: llm.EventContent, Text: "partial"}
	waitFor(t, func() bool {
		msgs := m.Messages()
		return len(msgs) == 2 && msgs[1].Content == "partial"
	})

	// Switching away cancels the in-flight generation and replaces the
	// conversation with the target's persisted history.
	if err := m.SwitchSession(t.Context(), target.ID); err != nil {
		t.Fatalf("SwitchSession: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Send = %v, want nil after cancellation", err)
	}

	// The settling send must not re-record the loaded history as if it
	// were a freshly generated exchange.
	if msgs, err := mirror.Messages(t.Context(), target.ID); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("mirror holds session %q with %d messages, want no mirror rows (err=%v)",
			target.ID, len(msgs), err)
	}
}

func TestCancelActiveIdleReturnsFalse(t *testing.T) {
	m := NewManager(&fakeGenerator{}, newFakeStore(), Options{Model: "llama3.1"})
	if m.CancelActive() {
		t.Error("CancelActive = true with nothing in flight")
	}
}

func TestSendCancelsPreviousGeneration(t *testing.T) {
	store := newFakeStore()
	gen := &fakeGenerator{}
	m := NewManager(gen, store, Options{Model: "llama3.1"})

	first := make(chan error, 1)
	go func() { first <- m.Send(context.Background(), "one", SendOptions{}) }()
	waitFor(t, func() bool {
		gen.mu.Lock()
		defer gen.mu.Unlock()
		return len(gen.streams) == 1
	})

	// The second send must cancel the stalled first one rather than error.
	gen.script = completeWith("second reply")
	if err := m.Send(context.Background(), "two", SendOptions{}); err != nil {
		t.Fatalf("second Send: %v", err)
	}
	if err := <-first; err != nil {
		t.Fatalf("first Send = %v, want nil after cancellation", err)
	}

	msgs := m.Messages()
	last := msgs[len(msgs)-1]
	if last.Content != "second reply" || last.Status != StatusComplete {
		t.Errorf("final message = %+v", last)
	}
	// The first exchange's empty placeholder must be gone.
	for _, msg := range msgs {
		if msg.Status == StatusStreaming {
			t.Errorf("streaming placeholder left behind: %+v", msg)
		}
	}
}
