package request

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newProcessorAndCompletion() (*Container, *Container, *Worker, *Worker) {
	pw := NewWaiter()
	cw := NewWaiter()
	proc := NewContainer("proc", KindProcessor, pw)
	comp := NewContainer("comp", KindCompletionContext, cw)
	procWorker := NewWorker("proc-worker", pw, proc)
	compWorker := NewWorker("comp-worker", cw, comp)
	procWorker.Start()
	compWorker.Start()
	return proc, comp, procWorker, compWorker
}

func TestRequestBasicCompletion(t *testing.T) {
	proc, comp, pw, cw := newProcessorAndCompletion()
	defer pw.Stop()
	defer cw.Stop()

	var processed, completed, done bool

	req := New()
	require.NoError(t, req.SetProcessingHandler(func(r *Request) {
		processed = true
		r.Complete(StateOK)
	}))
	require.NoError(t, req.SetCompletionHandler(comp, func(r *Request) {
		completed = true
		require.Equal(t, StateOK, r.State())
	}))
	req.SetDoneHandler(func(r *Request) { done = true })

	proc.SubmitRequest(req)

	require.True(t, req.WaitDone(time.Second))
	require.True(t, processed)
	require.True(t, completed)
	require.True(t, done)
	require.True(t, req.IsDone())
}

func TestRequestDoneHandlerFiresImmediatelyIfAlreadyDone(t *testing.T) {
	req := New()
	require.NoError(t, req.SetProcessingHandler(func(r *Request) { r.Complete(StateOK) }))
	req.Process(true)
	require.True(t, req.IsDone())

	fired := false
	req.SetDoneHandler(func(r *Request) { fired = true })
	require.True(t, fired)
}

func TestRequestAbortSuppressesCompletion(t *testing.T) {
	_, comp, pw, cw := newProcessorAndCompletion()
	defer pw.Stop()
	defer cw.Stop()

	req := New()
	completionCalled := false
	require.NoError(t, req.SetCompletionHandler(comp, func(r *Request) { completionCalled = true }))

	req.Abort()
	require.True(t, req.WaitDone(time.Second))
	require.False(t, completionCalled)
	require.Equal(t, StateAborted, req.State())
}

func TestRequestCancelWhilePending(t *testing.T) {
	proc, comp, pw, cw := newProcessorAndCompletion()
	defer pw.Stop()
	defer cw.Stop()

	req := New()
	require.NoError(t, req.SetProcessingHandler(func(r *Request) {
		t.Fatal("processing handler must not run for a cancelled-while-pending request")
	}))
	require.NoError(t, req.SetCompletionHandler(comp, func(r *Request) {
		require.Equal(t, StateCanceled, r.State())
	}))

	req.Cancel()
	proc.SubmitRequest(req)

	require.True(t, req.WaitDone(time.Second))
	require.Equal(t, StateCanceled, req.State())
}

func TestRequestTerminalStateIsSticky(t *testing.T) {
	req := New()
	require.NoError(t, req.SetProcessingHandler(func(r *Request) {
		r.Complete(StateOK)
		r.Complete(StateCanceled) // must be ignored: terminal states are sticky
	}))
	req.Process(true)
	require.Equal(t, StateOK, req.State())
}

func TestOperationWaiterTimeout(t *testing.T) {
	proc, comp, pw, cw := newProcessorAndCompletion()
	defer pw.Stop()
	defer cw.Stop()

	var completionState State
	req := New()
	require.NoError(t, req.SetProcessingHandler(func(r *Request) {
		time.Sleep(300 * time.Millisecond)
		r.Complete(StateOK)
	}))
	require.NoError(t, req.SetCompletionHandler(comp, func(r *Request) {
		completionState = r.State()
	}))

	ow := NewOperationWaiter(req)
	ow.Timeout(80*time.Millisecond, nil, true)
	proc.SubmitRequest(req)

	done := ow.Wait(2 * time.Second)
	require.True(t, done)
	require.True(t, req.TimedOut())
	require.Equal(t, StateCanceled, completionState)
}
