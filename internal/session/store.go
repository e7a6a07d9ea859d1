package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound reports that a session id no longer exists in the store.
var ErrNotFound = errors.New("session not found")

// PersistenceError wraps a failed store call. The operation that triggered
// it is abandoned and prior local state is left untouched.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("session store: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Session is the persisted record of one conversation.
type Session struct {
	ID           string
	Title        string
	Model        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	MessageCount int
}

// Message is one persisted conversation turn.
type Message struct {
	Role      string
	Content   string
	Timestamp time.Time
}

// Store is the capability interface over the session persistence
// collaborator. Retries and backoff are the collaborator's concern, not
// the caller's.
type Store interface {
	// Create allocates a new session for model. An empty title lets the
	// store pick its default.
	Create(ctx context.Context, model, title string) (*Session, error)

	// Get fetches one session. Returns ErrNotFound if id does not exist.
	Get(ctx context.Context, id string) (*Session, error)

	// List returns all sessions, most recently updated first.
	List(ctx context.Context) ([]Session, error)

	// Messages returns the ordered message history of a session.
	Messages(ctx context.Context, id string) ([]Message, error)

	// Delete removes a session. Returns ErrNotFound if id does not exist.
	Delete(ctx context.Context, id string) error

	Close() error
}
