package request

import (
	"sync"
	"time"
)

// OperationWaiter is the handle returned by every asynchronous method in
// the core, wrapping a shared Request. It is a thin, user-facing
// decoration over Request that adds Timeout arming (see spec.md §4.1).
type OperationWaiter struct {
	req *Request

	mu    sync.Mutex
	timer *time.Timer
}

// NewOperationWaiter wraps req.
func NewOperationWaiter(req *Request) *OperationWaiter {
	return &OperationWaiter{req: req}
}

// Request exposes the underlying Request for processors that need to
// install additional handlers before returning the waiter to the caller.
func (w *OperationWaiter) Request() *Request { return w.req }

// Wait blocks until the Request is done or timeout elapses (<=0 waits
// indefinitely), returning true iff it became done within the deadline.
// Matches Wait([timeout]); the process_ctx drain parameter from the
// source is not meaningful in this goroutine-based port (there is no
// single "caller thread" completion context to drain), so it is omitted.
func (w *OperationWaiter) Wait(timeout time.Duration) bool {
	return w.req.WaitDone(timeout)
}

// IsDone reports whether the operation has completed.
func (w *OperationWaiter) IsDone() bool { return w.req.IsDone() }

// State returns the underlying Request's current lifecycle state.
func (w *OperationWaiter) State() State { return w.req.State() }

// Cancel requests cooperative cancellation; completion may still be
// delivered (with a CANCELED status, typically).
func (w *OperationWaiter) Cancel() { w.req.Cancel() }

// Abort requests non-cooperative termination; the completion handler
// will not be invoked for this request.
func (w *OperationWaiter) Abort() { w.req.Abort() }

// Timeout arms (or re-arms - the last call wins) a timer that, upon
// expiry, marks the request TimedOut and invokes handler (defaulting to
// Cancel) if the request is not yet done. cancelOnTimeout controls the
// fallback when handler is nil.
func (w *OperationWaiter) Timeout(d time.Duration, handler func(), cancelOnTimeout bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	req := w.req
	w.timer = time.AfterFunc(d, func() {
		if req.IsDone() {
			return
		}
		req.setTimedOut()
		switch {
		case handler != nil:
			handler()
		case cancelOnTimeout:
			req.Cancel()
		}
	})
}
