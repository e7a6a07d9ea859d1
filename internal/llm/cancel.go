package llm

import (
	"context"
	"sync/atomic"
)

// CancelController is a single-use token created for one outbound
// generation. Cancel is idempotent: the first call cancels the request's
// context, which aborts the in-flight read; later calls are no-ops.
//
// The controller also arbitrates the terminal-transition race between
// cancellation and natural completion. Both paths must call Consume before
// touching conversation state; exactly one of them wins, regardless of
// scheduling order.
type CancelController struct {
	cancel    context.CancelFunc
	cancelled atomic.Bool
	consumed  atomic.Bool
}

// NewCancelController wraps the cancel function of the request's context.
func NewCancelController(cancel context.CancelFunc) *CancelController {
	return &CancelController{cancel: cancel}
}

// Cancel signals the producer to stop yielding chunks and flags the request
// as aborted. Returns true only for the call that took effect.
func (c *CancelController) Cancel() bool {
	if !c.cancelled.CompareAndSwap(false, true) {
		return false
	}
	c.cancel()
	return true
}

// Cancelled reports whether Cancel has been invoked.
func (c *CancelController) Cancelled() bool {
	return c.cancelled.Load()
}

// Consume claims the terminal transition for the calling path. The first
// caller gets true and may apply its transition; the loser must treat its
// transition as a no-op.
func (c *CancelController) Consume() bool {
	return c.consumed.CompareAndSwap(false, true)
}
