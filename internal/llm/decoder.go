package llm

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// framePrefix marks a significant line in the streamed response body.
const framePrefix = "data: "

// frame is the JSON record carried by one significant line. Content is a
// pointer so an explicit empty string is distinguishable from absence.
type frame struct {
	Content *string `json:"content"`
	Error   *string `json:"error"`
	Done    bool    `json:"done"`
}

// Decoder turns raw byte chunks into protocol events. Chunks may split
// frames at arbitrary byte positions; the unterminated tail of each chunk
// is carried over and completed by the next one, so no event is ever
// emitted from a line that was truncated mid-delivery.
//
// A Decoder is single-use: once it has emitted EventDone or EventError it
// ignores all further input.
type Decoder struct {
	carry      string
	terminated bool
}

// NewDecoder returns a decoder ready to consume the first chunk.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Terminated reports whether the decoder has emitted a terminal event.
func (d *Decoder) Terminated() bool {
	return d.terminated
}

// Feed consumes one chunk and returns the events decoded from every
// complete line it finished. An empty chunk is a valid no-op.
func (d *Decoder) Feed(chunk []byte) []Event {
	if d.terminated || len(chunk) == 0 {
		return nil
	}

	d.carry += string(chunk)
	lines := strings.Split(d.carry, "\n")
	// The last fragment may be incomplete; retain it for the next chunk.
	d.carry = lines[len(lines)-1]

	var events []Event
	for _, line := range lines[:len(lines)-1] {
		events = append(events, d.decodeLine(strings.TrimSuffix(line, "\r"))...)
		if d.terminated {
			break
		}
	}
	return events
}

// Flush performs the final parse of the carry-over buffer once the producer
// is exhausted. If the remainder yields a content field it is emitted; the
// caller then treats the stream as implicitly done. Recovery here is
// best-effort: an undecodable tail is dropped, never an error.
func (d *Decoder) Flush() []Event {
	if d.terminated || strings.TrimSpace(d.carry) == "" {
		return nil
	}
	line := strings.TrimSuffix(d.carry, "\r")
	d.carry = ""

	data := strings.TrimPrefix(line, framePrefix)
	var f frame
	if err := json.Unmarshal([]byte(data), &f); err != nil {
		slog.Debug("dropping undecodable stream tail", "error", err, "tail", truncate(line, 120))
		return nil
	}
	if f.Content == nil {
		return nil
	}
	return []Event{{Type: EventContent, Text: *f.Content}}
}

// decodeLine parses one complete line. Insignificant lines (no "data: "
// prefix, including blank keep-alives) yield nothing. A significant line
// that fails to parse is skipped; garbled frames must not kill the stream.
func (d *Decoder) decodeLine(line string) []Event {
	if !strings.HasPrefix(line, framePrefix) {
		return nil
	}
	data := strings.TrimPrefix(line, framePrefix)

	var f frame
	if err := json.Unmarshal([]byte(data), &f); err != nil {
		slog.Debug("skipping unparsable frame", "error", err, "frame", truncate(data, 120))
		return nil
	}

	// Field precedence: a fatal error wins over anything else on the line;
	// content and done may co-occur and emit in that order.
	if f.Error != nil {
		d.terminated = true
		return []Event{{Type: EventError, Err: &BackendError{Message: *f.Error}}}
	}

	var events []Event
	if f.Content != nil {
		events = append(events, Event{Type: EventContent, Text: *f.Content})
	}
	if f.Done {
		d.terminated = true
		events = append(events, Event{Type: EventDone})
	}
	return events
}
