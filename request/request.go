package request

import (
	"sync"
	"time"

	"github.com/ugcs/vsm-go/internal/vsmerr"
)

// Handler is the universal handler signature: processing, completion,
// cancellation, and done handlers are all of this shape, receiving the
// Request so they can inspect its state/result.
type Handler func(r *Request)

// Request is the universal unit of asynchronous work, moving between a
// processing Container and a completion Container per spec.md §3/§4.2.
type Request struct {
	mu sync.Mutex

	state     State
	timedOut  bool
	queuedIn  *Container
	completed bool // completionHandler delivery has started/finished

	processingHandler   Handler
	completionHandler   Handler
	cancellationHandler Handler
	doneHandler         Handler

	completionCtx *Container

	doneCh        chan struct{}
	doneDelivered bool
}

// New creates a pending Request with no handlers attached.
func New() *Request {
	return &Request{state: StatePending, doneCh: make(chan struct{})}
}

// State returns the current lifecycle state.
func (r *Request) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// TimedOut reports whether a Timeout handler marked this request as
// having expired before completion.
func (r *Request) TimedOut() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timedOut
}

func (r *Request) setTimedOut() {
	r.mu.Lock()
	r.timedOut = true
	r.mu.Unlock()
}

func (r *Request) attachQueue(c *Container) {
	r.mu.Lock()
	r.queuedIn = c
	r.mu.Unlock()
}

// SetProcessingHandler installs the handler invoked when a processor pops
// this request while PENDING. Must be called while the request is still
// StatePending.
func (r *Request) SetProcessingHandler(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StatePending {
		return vsmerr.New(vsmerr.InvalidOpState, "request not pending")
	}
	r.processingHandler = h
	return nil
}

// SetCompletionHandler installs both the completion context the request
// will be submitted to on Complete, and the handler that context invokes.
func (r *Request) SetCompletionHandler(ctx *Container, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StatePending {
		return vsmerr.New(vsmerr.InvalidOpState, "request not pending")
	}
	r.completionCtx = ctx
	r.completionHandler = h
	return nil
}

// SetCancellationHandler installs the handler invoked when Cancel/pop
// transitions CANCELLATION_PENDING -> CANCELING.
func (r *Request) SetCancellationHandler(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StatePending {
		return vsmerr.New(vsmerr.InvalidOpState, "request not pending")
	}
	r.cancellationHandler = h
	return nil
}

// SetDoneHandler installs the handler invoked exactly once when the
// request reaches done (any terminal state, after completion/abort
// cleanup has run). If the request is already done, h runs immediately,
// synchronously, on the calling goroutine.
func (r *Request) SetDoneHandler(h Handler) {
	r.mu.Lock()
	if r.doneDelivered {
		r.mu.Unlock()
		if h != nil {
			h(r)
		}
		return
	}
	r.doneHandler = h
	r.mu.Unlock()
}

// CompletionContext returns the container completion will be delivered
// through, or nil.
func (r *Request) CompletionContext() *Container {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completionCtx
}

// Process dispatches the request: when processRequest is true, a
// processor popped it (PENDING->PROCESSING or CANCELLATION_PENDING->
// CANCELING); when false, a completion context popped it for completion
// (or abort-cleanup) delivery.
func (r *Request) Process(processRequest bool) {
	if processRequest {
		r.processOnProcessor()
		return
	}
	r.processOnCompletionContext()
}

func (r *Request) processOnProcessor() {
	r.mu.Lock()
	switch r.state {
	case StatePending:
		r.state = StateProcessing
		h := r.processingHandler
		r.mu.Unlock()
		if h != nil {
			h(r)
		}
	case StateCancellationPending:
		r.state = StateCanceling
		h := r.cancellationHandler
		r.mu.Unlock()
		if h != nil {
			h(r)
		} else {
			r.Complete(StateCanceled)
		}
	case StateAbortPending:
		r.mu.Unlock()
		r.finishAbort()
	default:
		r.mu.Unlock()
	}
}

func (r *Request) processOnCompletionContext() {
	r.mu.Lock()
	if r.state == StateAbortPending {
		r.mu.Unlock()
		r.finishAbort()
		return
	}
	h := r.completionHandler
	r.completed = true
	r.mu.Unlock()
	if h != nil {
		h(r)
	}
	r.releaseHandlers()
	r.finishDone()
}

// Complete transitions the request to a terminal result status (OK or
// CANCELED) and submits it to its completion context, if any, for
// completion-handler delivery. A Complete on an already-terminal request
// is a no-op, matching the "terminal states are sticky" invariant.
func (r *Request) Complete(status State) {
	r.mu.Lock()
	if r.state.Terminal() {
		r.mu.Unlock()
		return
	}
	r.state = status
	ctx := r.completionCtx
	r.mu.Unlock()

	if ctx != nil {
		ctx.SubmitRequest(r)
	} else {
		r.processOnCompletionContext()
	}
}

// Cancel is cooperative: PENDING moves to CANCELLATION_PENDING (the
// processor will invoke the cancellation handler, or default to
// Complete(CANCELED), when it is eventually popped); PROCESSING invokes
// the cancellation handler immediately, on the calling goroutine. A
// request that already completed is unaffected.
func (r *Request) Cancel() {
	r.mu.Lock()
	switch r.state {
	case StatePending:
		r.state = StateCancellationPending
		r.mu.Unlock()
	case StateProcessing:
		r.state = StateCanceling
		h := r.cancellationHandler
		r.mu.Unlock()
		if h != nil {
			h(r)
		} else {
			r.Complete(StateCanceled)
		}
	default:
		r.mu.Unlock()
	}
}

// Abort is non-cooperative: the completion handler will never run for
// this request. A still-queued request is pulled off its queue and
// aborted immediately; a mid-flight request (PROCESSING/CANCELING) is
// marked ABORT_PENDING so its completion context gets a cleanup-only pass.
func (r *Request) Abort() {
	r.mu.Lock()
	switch r.state {
	case StatePending, StateCancellationPending:
		q := r.queuedIn
		r.state = StateAbortPending
		r.mu.Unlock()
		if q != nil {
			q.removeQueued(r)
		}
		r.finishAbort()
	case StateProcessing, StateCanceling:
		r.state = StateAbortPending
		ctx := r.completionCtx
		r.mu.Unlock()
		if ctx != nil {
			ctx.SubmitRequest(r)
		} else {
			r.finishAbort()
		}
	default:
		r.mu.Unlock()
	}
}

func (r *Request) finishAbort() {
	r.mu.Lock()
	r.state = StateAborted
	r.mu.Unlock()
	r.releaseHandlers()
	r.finishDone()
}

// releaseHandlers drops handler references once they can no longer fire,
// to break processor<->request reference cycles.
func (r *Request) releaseHandlers() {
	r.mu.Lock()
	r.processingHandler = nil
	r.completionHandler = nil
	r.cancellationHandler = nil
	r.mu.Unlock()
}

func (r *Request) finishDone() {
	r.mu.Lock()
	if r.doneDelivered {
		r.mu.Unlock()
		return
	}
	r.doneDelivered = true
	h := r.doneHandler
	r.doneHandler = nil
	r.mu.Unlock()
	if h != nil {
		h(r)
	}
	close(r.doneCh)
}

// IsDone reports whether the request has reached a terminal state and
// finished delivering completion/done notifications.
func (r *Request) IsDone() bool {
	select {
	case <-r.doneCh:
		return true
	default:
		return false
	}
}

// WaitDone blocks until the request is done or timeout elapses (a
// non-positive timeout blocks indefinitely), returning true iff it
// became done within the deadline.
func (r *Request) WaitDone(timeout time.Duration) bool {
	if timeout <= 0 {
		<-r.doneCh
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-r.doneCh:
		return true
	case <-timer.C:
		return false
	}
}

func (r *Request) dispatch(kind Kind) {
	switch kind {
	case KindProcessor:
		r.Process(true)
	case KindCompletionContext:
		r.Process(false)
	case KindAny:
		// A container serving double duty dispatches based on the
		// request's current position: if it hasn't started processing
		// yet, this is a processing pop; otherwise it is a completion
		// pop bound back to the same container.
		r.mu.Lock()
		state := r.state
		r.mu.Unlock()
		if state == StatePending || state == StateCancellationPending {
			r.Process(true)
		} else {
			r.Process(false)
		}
	}
}
