package llm

import (
	"errors"
	"fmt"
)

// ErrAborted marks a generation terminated by cancellation rather than
// failure. It must never be rendered as an error message.
var ErrAborted = errors.New("generation aborted")

// TransportError reports a failure of the generation request at the HTTP
// layer, before any decoding was attempted.
type TransportError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generation request failed: %v", e.Err)
	}
	return fmt.Sprintf("generation request failed (status %d): %s", e.StatusCode, e.Body)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// BackendError is an error frame received from the backend. It is fatal for
// the current request and its message is surfaced to the user verbatim.
type BackendError struct {
	Message string
}

func (e *BackendError) Error() string {
	return e.Message
}
