package llm

import (
	"context"
	"io"
)

type channelStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	events <-chan Event
}

// newChannelStream runs the producer in its own goroutine and exposes its
// events as a Stream. Closing the stream cancels the producer's context,
// which tears down the underlying read rather than merely discarding
// future events.
func newChannelStream(ctx context.Context, cancel context.CancelFunc, run func(context.Context, chan<- Event) error) Stream {
	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		if err := run(ctx, ch); err != nil {
			ch <- Event{Type: EventError, Err: err}
		}
	}()
	return &channelStream{ctx: ctx, cancel: cancel, events: ch}
}

func (s *channelStream) Recv() (Event, error) {
	// Non-blocking drain: consume any buffered event before checking
	// ctx.Done(). This prevents dropping a final EventDone when ctx and
	// events are both ready.
	select {
	case event, ok := <-s.events:
		if !ok {
			return Event{}, io.EOF
		}
		return event, nil
	default:
	}

	select {
	case <-s.ctx.Done():
		return Event{}, ErrAborted
	case event, ok := <-s.events:
		if !ok {
			return Event{}, io.EOF
		}
		return event, nil
	}
}

func (s *channelStream) Close() error {
	s.cancel()
	return nil
}
