package request

import "github.com/ugcs/vsm-go/internal/vsmerr"

// Kind distinguishes the role a Container plays, which in turn decides
// whether a popped Request is dispatched for processing or for completion
// delivery.
type Kind int

const (
	// KindProcessor containers run a Request's processing/cancellation
	// handler.
	KindProcessor Kind = iota
	// KindCompletionContext containers run a Request's completion
	// handler (or, for aborted requests, only cleanup).
	KindCompletionContext
	// KindAny accepts both processing and completion deliveries; used
	// for containers that serve double duty (e.g. a single-threaded
	// reactor that is both its own processor and completion context).
	KindAny
	// KindTemporal containers exist only for the duration of one
	// synchronous call (e.g. a throwaway context for a blocking Wait).
	KindTemporal
)

// Container is a Request_container: a named FIFO of pending requests
// drained by a Waiter shared with zero or more sibling containers. Every
// processor and every completion context in the core is a Container.
type Container struct {
	name    string
	kind    Kind
	waiter  *Waiter
	enabled bool
	queue   []*Request
}

// NewContainer builds a Container of the given kind, sharing waiter's
// mutex/notification with any other container constructed on the same
// waiter.
func NewContainer(name string, kind Kind, waiter *Waiter) *Container {
	return &Container{name: name, kind: kind, waiter: waiter, enabled: true}
}

// Name returns the container's diagnostic name.
func (c *Container) Name() string { return c.name }

// Kind returns the container's role.
func (c *Container) Kind() Kind { return c.kind }

// popLocked removes and returns the head request, assuming the caller
// already holds the waiter's mutex (via WaitAndProcess). Returns nil if
// disabled or empty.
func (c *Container) popLocked() *Request {
	if !c.enabled || len(c.queue) == 0 {
		return nil
	}
	req := c.queue[0]
	c.queue = c.queue[1:]
	return req
}

// removeQueued drops req from the pending queue if still present,
// returning true if it was found (and therefore never dispatched).
func (c *Container) removeQueued(req *Request) bool {
	l := c.waiter.Lock()
	defer l.Unlock()
	for i, q := range c.queue {
		if q == req {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return true
		}
	}
	return false
}

// SubmitRequestLocked enqueues req assuming the waiter's mutex is already
// held via the supplied Locker (obtained from c.Waiter().Lock() or
// LockNotify()). Returns an error if the container is disabled.
func (c *Container) SubmitRequestLocked(req *Request, _ *Locker) error {
	if !c.enabled {
		return vsmerr.New(vsmerr.InvalidOpState, "container "+c.name+" is disabled")
	}
	req.attachQueue(c)
	c.queue = append(c.queue, req)
	return nil
}

// SubmitRequest enqueues req, taking the waiter's notifying lock itself.
// Submitting to a disabled container aborts req instead of enqueueing it.
func (c *Container) SubmitRequest(req *Request) {
	l := c.waiter.LockNotify()
	err := c.SubmitRequestLocked(req, l)
	l.Unlock()
	if err != nil {
		req.Abort()
	}
}

// Waiter returns the waiter this container shares its mutex with.
func (c *Container) Waiter() *Waiter { return c.waiter }

// Enable marks the container open for submissions again. Must be called
// from the same thread/goroutine that will call Disable.
func (c *Container) Enable() {
	l := c.waiter.LockNotify()
	c.enabled = true
	l.Unlock()
}

// Disable atomically closes the container to new submissions and aborts
// every request still queued. Derived processors should call this from
// their On_disable hook.
func (c *Container) Disable() {
	l := c.waiter.Lock()
	c.enabled = false
	pending := c.queue
	c.queue = nil
	l.Unlock()
	for _, req := range pending {
		req.Abort()
	}
}

// Enabled reports whether the container currently accepts submissions.
func (c *Container) Enabled() bool {
	l := c.waiter.Lock()
	defer l.Unlock()
	return c.enabled
}
