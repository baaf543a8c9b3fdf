package request

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimerProcessorOneShot(t *testing.T) {
	w := NewWaiter()
	target := NewContainer("timer-target", KindProcessor, w)
	worker := NewWorker("timer-worker", w, target)
	worker.Start()
	defer worker.Stop()

	p := NewTimerProcessor()
	defer p.Stop()

	var fired int32
	done := make(chan struct{})
	p.Schedule(20*time.Millisecond, target, func() bool {
		atomic.AddInt32(&fired, 1)
		close(done)
		return false
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 1, atomic.LoadInt32(&fired))
}

func TestTimerProcessorPeriodicCancel(t *testing.T) {
	w := NewWaiter()
	target := NewContainer("timer-target", KindProcessor, w)
	worker := NewWorker("timer-worker", w, target)
	worker.Start()
	defer worker.Stop()

	p := NewTimerProcessor()
	defer p.Stop()

	var count int32
	timer := p.Schedule(10*time.Millisecond, target, func() bool {
		atomic.AddInt32(&count, 1)
		return true
	})

	time.Sleep(60 * time.Millisecond)
	timer.Cancel()
	n := atomic.LoadInt32(&count)
	require.GreaterOrEqual(t, n, int32(2))

	time.Sleep(60 * time.Millisecond)
	require.Equal(t, n, atomic.LoadInt32(&count))
}
