package conversation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/biswajeet0192/locallm/internal/llm"
	"github.com/biswajeet0192/locallm/internal/session"
)

// Generator issues generation requests. *llm.Client implements it.
type Generator interface {
	Generate(ctx context.Context, req llm.Request) (llm.Stream, error)
}

// Options configures a Manager.
type Options struct {
	// Model used for new sessions.
	Model string

	// MaxContextMessages bounds the context window sent with each
	// request and is forwarded to the backend.
	MaxContextMessages int

	// Policy selects the context messages. Defaults to count-based
	// trimming at MaxContextMessages.
	Policy llm.ContextPolicy

	// Mirror, when set, records completed exchanges into the local
	// database so sessions stay browsable offline.
	Mirror *session.SQLiteStore
}

// SendOptions carries per-send extras.
type SendOptions struct {
	// Images are raw attachment blobs forwarded with the request.
	Images [][]byte

	WebSearch bool

	// OnDelta is invoked for every content delta, in arrival order.
	OnDelta func(text string)
}

// Manager owns the session collection, the current-session pointer, and
// the conversation state of the current session. Sessions are kept in a
// map keyed by id with a separate current-id reference; ConversationState
// is replaced wholesale on switch. All mutation goes through the manager's
// lock, so CancelActive may be called from another goroutine (e.g. a
// signal handler) while Send is in flight.
type Manager struct {
	gen   Generator
	store session.Store
	opts  Options

	mu        sync.Mutex
	sessions  map[string]session.Session
	currentID string
	state     *State
	active    *llm.CancelController
}

func NewManager(gen Generator, store session.Store, opts Options) *Manager {
	if opts.MaxContextMessages <= 0 {
		opts.MaxContextMessages = 10
	}
	if opts.Policy == nil {
		opts.Policy = llm.CountPolicy{Max: opts.MaxContextMessages}
	}
	return &Manager{
		gen:      gen,
		store:    store,
		opts:     opts,
		sessions: make(map[string]session.Session),
		state:    NewState(),
	}
}

// Current returns the current session, if any.
func (m *Manager) Current() (session.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.currentID == "" {
		return session.Session{}, false
	}
	sess, ok := m.sessions[m.currentID]
	return sess, ok
}

// Messages returns a snapshot of the current conversation.
func (m *Manager) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Messages()
}

// Model returns the model generation requests will use: the current
// session's pinned model, or the configured default.
func (m *Manager) Model() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.modelLocked()
}

func (m *Manager) modelLocked() string {
	if sess, ok := m.sessions[m.currentID]; ok && sess.Model != "" {
		return sess.Model
	}
	return m.opts.Model
}

// CreateSession allocates a new session via the persistence collaborator
// and installs it as current with an empty conversation. On failure no
// local session is created.
func (m *Manager) CreateSession(ctx context.Context, title string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelActiveLocked()

	sess, err := m.store.Create(ctx, m.opts.Model, title)
	if err != nil {
		return nil, err
	}
	m.sessions[sess.ID] = *sess
	m.currentID = sess.ID
	m.state = NewState()
	m.recordMirrorLocked(*sess)
	return sess, nil
}

// SwitchSession loads a session and its messages and replaces the
// conversation state wholesale. On any fetch failure the previously
// current session and state are left untouched.
func (m *Manager) SwitchSession(ctx context.Context, id string) error {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	persisted, err := m.store.Messages(ctx, id)
	if err != nil {
		return err
	}

	messages := make([]Message, 0, len(persisted))
	for _, msg := range persisted {
		role := llm.RoleAssistant
		if msg.Role == string(llm.RoleUser) {
			role = llm.RoleUser
		}
		messages = append(messages, Message{
			Role:      role,
			Content:   msg.Content,
			Timestamp: msg.Timestamp,
			Status:    StatusComplete,
		})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelActiveLocked()
	m.sessions[sess.ID] = *sess
	m.currentID = sess.ID
	m.state.Replace(messages)
	return nil
}

// DeleteSession removes a session from the collaborator and refreshes the
// session list. Deleting the current session first cancels any in-flight
// generation, then resets to the no-session state with no model pinned.
func (m *Manager) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	if id == m.currentID {
		m.cancelActiveLocked()
	}
	m.mu.Unlock()

	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.sessions, id)
	if id == m.currentID {
		m.currentID = ""
		m.state = NewState()
	}
	m.mu.Unlock()

	_, err := m.ListSessions(ctx)
	return err
}

// ListSessions fetches the authoritative session list. If the current
// session is absent from the refreshed list (deleted out-of-band), the
// current session and conversation state are cleared as well; operating on
// a session that no longer exists server-side is never allowed.
func (m *Manager) ListSessions(ctx context.Context) ([]session.Session, error) {
	sessions, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions = make(map[string]session.Session, len(sessions))
	for _, sess := range sessions {
		m.sessions[sess.ID] = sess
	}
	if m.currentID != "" {
		if _, ok := m.sessions[m.currentID]; !ok {
			m.cancelActiveLocked()
			m.currentID = ""
			m.state = NewState()
		}
	}
	return sessions, nil
}

// Send issues one generation for the current session, creating a session
// on first send in a fresh conversation. If a generation is already
// active it is cancelled synchronously first; there are never two
// concurrent writers to the trailing placeholder. Send blocks until the
// stream settles. Cancellation is not an error.
func (m *Manager) Send(ctx context.Context, prompt string, opts SendOptions) error {
	m.mu.Lock()
	m.cancelActiveLocked()

	if m.currentID == "" {
		sess, err := m.store.Create(ctx, m.opts.Model, "")
		if err != nil {
			m.mu.Unlock()
			return err
		}
		m.sessions[sess.ID] = *sess
		m.currentID = sess.ID
		m.state = NewState()
		m.recordMirrorLocked(*sess)
	}

	history := m.state.History()
	selected := m.opts.Policy.Select(history)
	maxContext := m.opts.MaxContextMessages
	// The backend assembles history itself and only honors the count
	// bound. When the policy trims tighter than that bound, lower it to
	// the selected length so the server-side trim lands on the same
	// suffix.
	if len(selected) < len(history) && len(selected) < maxContext {
		maxContext = len(selected)
	}

	req := llm.Request{
		Prompt:             prompt,
		Model:              m.modelLocked(),
		SessionID:          m.currentID,
		Context:            selected,
		MaxContextMessages: maxContext,
		Images:             opts.Images,
		WebSearch:          opts.WebSearch,
	}

	if err := m.state.BeginSend(prompt, time.Now()); err != nil {
		m.mu.Unlock()
		return err
	}

	genCtx, cancel := context.WithCancel(ctx)
	controller := llm.NewCancelController(cancel)
	m.active = controller
	sendID := m.currentID
	m.mu.Unlock()

	stream, err := m.gen.Generate(genCtx, req)
	if err != nil {
		cancel()
		m.mu.Lock()
		if controller.Consume() {
			m.state.ApplyError(err.Error())
		}
		// A newer send may already own m.active; only clear our own.
		if m.active == controller {
			m.active = nil
		}
		m.mu.Unlock()
		return err
	}

	streamErr := m.consume(stream, controller, opts.OnDelta)
	stream.Close()

	m.mu.Lock()
	if m.active == controller {
		m.active = nil
	}
	m.refreshCurrentLocked(ctx)
	// Mirror only if this send's session is still current and no newer
	// send took over: after a mid-flight switch the state holds loaded
	// history, not a fresh exchange.
	if m.active == nil && m.currentID == sendID {
		m.mirrorExchangeLocked(ctx)
	}
	m.mu.Unlock()

	return streamErr
}

// consume applies stream events to the conversation in arrival order.
// Whichever of natural completion and cancellation consumes the controller
// first owns the terminal transition; the loser's edit is a no-op.
func (m *Manager) consume(stream llm.Stream, controller *llm.CancelController, onDelta func(string)) error {
	for {
		event, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, llm.ErrAborted) {
			// Cancellation already reconciled the conversation.
			return nil
		}
		if err != nil {
			if controller.Consume() {
				m.mu.Lock()
				m.state.ApplyError(err.Error())
				m.mu.Unlock()
			}
			return err
		}

		switch event.Type {
		case llm.EventContent:
			m.mu.Lock()
			m.state.ApplyContent(event.Text)
			m.mu.Unlock()
			if onDelta != nil {
				onDelta(event.Text)
			}
		case llm.EventDone:
			if controller.Consume() {
				m.mu.Lock()
				m.state.ApplyDone()
				m.mu.Unlock()
			}
		case llm.EventError:
			err := event.Err
			if controller.Consume() {
				m.mu.Lock()
				m.state.Apply(event)
				m.mu.Unlock()
			}
			return err
		}
	}
}

// CancelActive cancels the in-flight generation, if any. Safe to call from
// another goroutine. Returns true if a generation was active.
func (m *Manager) CancelActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelActiveLocked()
}

func (m *Manager) cancelActiveLocked() bool {
	if m.active == nil {
		return false
	}
	controller := m.active
	m.active = nil
	controller.Cancel()
	if controller.Consume() {
		m.state.Reconcile()
	}
	return true
}

// refreshCurrentLocked pulls the current session's metadata (title,
// timestamps, message count) after an exchange. Failures here are logged
// only; the conversation itself is already settled.
func (m *Manager) refreshCurrentLocked(ctx context.Context) {
	if m.currentID == "" {
		return
	}
	sess, err := m.store.Get(ctx, m.currentID)
	if err != nil {
		slog.Debug("session refresh failed", "session", m.currentID, "error", err)
		return
	}
	m.sessions[sess.ID] = *sess
}

// mirrorExchangeLocked records the just-settled exchange into the local
// mirror: the user turn always, the assistant turn only when it completed
// naturally, matching what the backend persists.
func (m *Manager) mirrorExchangeLocked(ctx context.Context) {
	if m.opts.Mirror == nil || m.currentID == "" {
		return
	}
	if sess, ok := m.sessions[m.currentID]; ok {
		m.recordMirrorLocked(sess)
	}

	msgs := m.state.messages
	if len(msgs) == 0 {
		return
	}
	last := msgs[len(msgs)-1]
	var user, assistant *Message
	if last.Role == llm.RoleUser {
		user = &last
	} else if len(msgs) >= 2 {
		assistant = &last
		user = &msgs[len(msgs)-2]
	}

	if user != nil && user.Status == StatusComplete {
		if err := m.opts.Mirror.AddMessage(ctx, m.currentID, string(llm.RoleUser), user.Content); err != nil {
			slog.Debug("mirror user message failed", "error", err)
		}
	}
	if assistant != nil && assistant.Status == StatusComplete {
		if err := m.opts.Mirror.AddMessage(ctx, m.currentID, string(llm.RoleAssistant), assistant.Content); err != nil {
			slog.Debug("mirror assistant message failed", "error", err)
		}
	}
}

func (m *Manager) recordMirrorLocked(sess session.Session) {
	if m.opts.Mirror == nil {
		return
	}
	if err := m.opts.Mirror.Record(context.Background(), sess); err != nil {
		slog.Debug("mirror session record failed", "error", err)
	}
}
