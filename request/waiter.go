package request

import (
	"sync"
	"time"
)

// Waiter owns the synchronization for one or more Containers: a mutex
// guarding their queues and a channel-based notification analogous to the
// teacher eventloop's fastWakeupCh, used instead of a raw sync.Cond so
// that WaitAndProcess can select on a stop channel and a deadline at the
// same time.
type Waiter struct {
	mu     sync.Mutex
	notify chan struct{}
}

// NewWaiter constructs a ready-to-use Waiter.
func NewWaiter() *Waiter {
	return &Waiter{notify: make(chan struct{}, 1)}
}

func (w *Waiter) wake() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// Locker is the RAII-style guard returned by Lock/LockNotify.
type Locker struct {
	w      *Waiter
	notify bool
	done   bool
}

// Unlock releases the waiter's mutex, notifying waiters first if this
// Locker was obtained via LockNotify.
func (l *Locker) Unlock() {
	if l == nil || l.done {
		return
	}
	l.done = true
	if l.notify {
		l.w.wake()
	}
	l.w.mu.Unlock()
}

// Lock acquires the waiter's mutex without notifying on release.
func (w *Waiter) Lock() *Locker {
	w.mu.Lock()
	return &Locker{w: w}
}

// LockNotify acquires the waiter's mutex; releasing the returned Locker
// also wakes any goroutine blocked in WaitAndProcess.
func (w *Waiter) LockNotify() *Locker {
	w.mu.Lock()
	return &Locker{w: w, notify: true}
}

// WaitAndProcess pops and dispatches at most one ready request from
// containers, blocking until one is available, the timeout elapses (a
// non-positive timeout waits indefinitely), or stop is closed. It returns
// true iff a request was dispatched.
func (w *Waiter) WaitAndProcess(containers []*Container, timeout time.Duration, stop <-chan struct{}) bool {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	for {
		w.mu.Lock()
		for _, c := range containers {
			if req := c.popLocked(); req != nil {
				w.mu.Unlock()
				req.dispatch(c.kind)
				return true
			}
		}
		w.mu.Unlock()

		select {
		case <-w.notify:
			continue
		case <-stop:
			return false
		case <-deadline:
			return false
		}
	}
}
