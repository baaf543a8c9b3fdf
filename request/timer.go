package request

import (
	"sync"
	"time"
)

// TimerCallback is a periodic/one-shot scheduled callback. Returning true
// re-arms the timer at now+interval, measured from completion (not from
// the original dispatch), matching spec.md §4.3's storm-avoidance rule.
type TimerCallback func() bool

type timerEntry struct {
	deadline time.Time
	interval time.Duration
	cb       TimerCallback
	target   *Container
}

// TimerProcessor maintains an ordered set of pending timers, each bound
// to a target Container whose Worker eventually executes the callback,
// so a timer never runs concurrently with other work on that container.
// A single dedicated goroutine sleeps to the next deadline.
type TimerProcessor struct {
	mu      sync.Mutex
	entries map[*Timer]*timerEntry
	wake    chan struct{}
	stop    chan struct{}
	stopped chan struct{}
}

// Timer is a handle to a single scheduled callback, returned by Schedule.
type Timer struct {
	proc *TimerProcessor
}

// NewTimerProcessor starts the dedicated timer goroutine.
func NewTimerProcessor() *TimerProcessor {
	p := &TimerProcessor{
		entries: make(map[*Timer]*timerEntry),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go p.run()
	return p
}

// Schedule arms a timer that first fires after interval, running cb on
// target's worker. If target is nil, cb runs directly on the timer
// goroutine (suitable only for fast, non-blocking callbacks).
func (p *TimerProcessor) Schedule(interval time.Duration, target *Container, cb TimerCallback) *Timer {
	t := &Timer{proc: p}
	p.mu.Lock()
	p.entries[t] = &timerEntry{
		deadline: time.Now().Add(interval),
		interval: interval,
		cb:       cb,
		target:   target,
	}
	p.mu.Unlock()
	p.signal()
	return t
}

// Cancel disarms the timer; safe to call from any goroutine, and safe to
// call more than once.
func (t *Timer) Cancel() {
	t.proc.mu.Lock()
	delete(t.proc.entries, t)
	t.proc.mu.Unlock()
}

// Stop terminates the timer goroutine. Pending entries are discarded
// without running.
func (p *TimerProcessor) Stop() {
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
	p.signal()
	<-p.stopped
}

func (p *TimerProcessor) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *TimerProcessor) nextDeadline() (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var best time.Time
	found := false
	for _, e := range p.entries {
		if !found || e.deadline.Before(best) {
			best, found = e.deadline, true
		}
	}
	return best, found
}

func (p *TimerProcessor) run() {
	defer close(p.stopped)
	for {
		select {
		case <-p.stop:
			return
		default:
		}

		var wait <-chan time.Time
		if deadline, ok := p.nextDeadline(); ok {
			d := time.Until(deadline)
			if d < 0 {
				d = 0
			}
			timer := time.NewTimer(d)
			wait = timer.C
			select {
			case <-p.stop:
				timer.Stop()
				return
			case <-p.wake:
				timer.Stop()
				continue
			case <-wait:
				p.fireDue()
			}
			continue
		}

		select {
		case <-p.stop:
			return
		case <-p.wake:
		}
	}
}

func (p *TimerProcessor) fireDue() {
	now := time.Now()
	var due []*Timer
	p.mu.Lock()
	for t, e := range p.entries {
		if !e.deadline.After(now) {
			due = append(due, t)
		}
	}
	p.mu.Unlock()

	for _, t := range due {
		p.mu.Lock()
		e, ok := p.entries[t]
		p.mu.Unlock()
		if !ok {
			continue
		}
		p.dispatch(t, e)
	}
}

func (p *TimerProcessor) dispatch(t *Timer, e *timerEntry) {
	// Park the entry until its callback has run and re-armed or removed
	// it, so the run loop does not dispatch it again while it waits for
	// target's worker.
	p.mu.Lock()
	e.deadline = time.Now().Add(100 * 365 * 24 * time.Hour)
	p.mu.Unlock()

	run := func() {
		p.mu.Lock()
		_, live := p.entries[t]
		p.mu.Unlock()
		if !live {
			return // canceled while waiting for target's worker
		}
		again := e.cb()
		if again {
			p.mu.Lock()
			if cur, ok := p.entries[t]; ok {
				cur.deadline = time.Now().Add(cur.interval)
			}
			p.mu.Unlock()
		} else {
			p.mu.Lock()
			delete(p.entries, t)
			p.mu.Unlock()
		}
	}

	if e.target == nil {
		run()
		return
	}

	req := New()
	_ = req.SetProcessingHandler(func(r *Request) {
		run()
		r.Complete(StateOK)
	})
	e.target.SubmitRequest(req)
}
