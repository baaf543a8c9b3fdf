package request

import "sync"

// Worker owns a goroutine that drains one or more Containers sharing a
// Waiter, the way every dedicated thread in the VSM core (reactor,
// timer, per-vehicle serialization thread) is built. A single Worker can
// serve multiple containers; pinning a vehicle's handlers to one Worker
// is how the core guarantees all callbacks touching that vehicle's state
// run serialized on a single goroutine.
type Worker struct {
	name       string
	waiter     *Waiter
	containers []*Container

	startOnce sync.Once
	stop      chan struct{}
	stopped   chan struct{}
}

// NewWorker builds a Worker over containers, all of which must share the
// same Waiter (passed separately so a Worker over zero containers can
// still be constructed). The container set is fixed at construction.
func NewWorker(name string, waiter *Waiter, containers ...*Container) *Worker {
	return &Worker{
		name:       name,
		waiter:     waiter,
		containers: containers,
		stop:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// Start launches the worker's goroutine; later calls do nothing.
func (w *Worker) Start() {
	w.startOnce.Do(func() {
		go w.run()
	})
}

func (w *Worker) run() {
	defer close(w.stopped)
	for {
		select {
		case <-w.stop:
			return
		default:
		}
		// Blocks until a request is ready, Stop closes w.stop, or an
		// explicit wake (e.g. a new Submit) fires the notify channel -
		// the channel-based analogue of the reactor's self-pipe wakeup.
		w.waiter.WaitAndProcess(w.containers, 0, w.stop)
	}
}

// Stop signals the worker to exit and blocks until its goroutine has
// returned. Safe to call multiple times.
func (w *Worker) Stop() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
	w.waiter.wake()
	<-w.stopped
}
