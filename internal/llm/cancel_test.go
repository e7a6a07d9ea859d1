package llm

import (
	"context"
	"sync"
	"testing"
)

func TestCancelControllerIdempotent(t *testing.T) {
	calls := 0
	c := NewCancelController(func() { calls++ })

	if c.Cancelled() {
		t.Fatal("fresh controller reports cancelled")
	}
	if !c.Cancel() {
		t.Error("first Cancel = false, want true")
	}
	if c.Cancel() {
		t.Error("second Cancel = true, want false")
	}
	if !c.Cancelled() {
		t.Error("Cancelled = false after Cancel")
	}
	if calls != 1 {
		t.Errorf("cancel func invoked %d times, want 1", calls)
	}
}

func TestCancelControllerCancelsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := NewCancelController(cancel)

	c.Cancel()
	select {
	case <-ctx.Done():
	default:
		t.Error("context not cancelled after Cancel")
	}
}

func TestCancelControllerConsumeSingleWinner(t *testing.T) {
	c := NewCancelController(func() {})

	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Consume() {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	var n int
	for range wins {
		n++
	}
	if n != 1 {
		t.Errorf("%d goroutines won Consume, want exactly 1", n)
	}
}
