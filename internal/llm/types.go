package llm

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single conversation turn as sent to the generation endpoint.
type Message struct {
	Role    Role
	Content string
}

// Request describes one generation call. It is immutable once issued.
type Request struct {
	Prompt    string
	Model     string
	SessionID string

	// Context holds the prior messages selected by the context window
	// policy, in original order. The new user prompt is not part of it.
	Context []Message

	// MaxContextMessages is the trim bound forwarded to the backend,
	// which assembles history server-side. When the policy selected
	// fewer messages than the configured bound, the caller lowers this
	// to len(Context) so both trims produce the same suffix.
	MaxContextMessages int

	// Images are optional raw attachment blobs, base64-encoded on the wire.
	Images [][]byte

	WebSearch bool
}

// EventType identifies a decoded protocol event.
type EventType int

const (
	// EventContent carries a text delta for the streaming message.
	EventContent EventType = iota
	// EventDone marks successful completion of the stream.
	EventDone
	// EventError carries a fatal backend error; no further events follow.
	EventError
)

// Event is one decoded protocol event.
type Event struct {
	Type EventType
	Text string
	Err  error
}

// Stream is a lazy, non-restartable sequence of protocol events.
// Recv returns io.EOF after the final event. Close releases the
// underlying transport; it is safe to call more than once.
type Stream interface {
	Recv() (Event, error)
	Close() error
}
