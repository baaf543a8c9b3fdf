package fileproc

import (
	"io"
	"os"
	"sync"

	"github.com/ugcs/vsm-go/iostream"
	"github.com/ugcs/vsm-go/request"
)

type opKind int

const (
	opRead opKind = iota
	opWrite
)

type fileOp struct {
	kind         opKind
	buf          []byte
	offset       iostream.Offset
	maxTo, minTo int
	req          *request.Request
	readHandler  iostream.ReadHandler
	writeHandler iostream.WriteHandler
}

// Stream is an opened file/serial/pipe, implementing iostream.Stream.
// Every op is pushed onto a FIFO drained by one worker goroutine, so
// operations on one Stream never run concurrently - matching the
// original's "asynchronous but not concurrent" guarantee.
type Stream struct {
	proc *Processor
	name string
	mode Mode
	f    *os.File

	maintainPos bool

	mu      sync.Mutex
	curPos  int64
	closed  bool
	refs    int32
	queue   []fileOp
	working bool

	lockMu      sync.Mutex
	lockHeld    bool
	lockPending bool
	lockCancel  chan struct{}
}

func newStream(proc *Processor, name string, mode Mode, maintainPos bool, f *os.File) *Stream {
	return &Stream{proc: proc, name: name, mode: mode, maintainPos: maintainPos, f: f}
}

func (s *Stream) Name() string       { return s.name }
func (s *Stream) Type() iostream.Type { return iostream.TypeFile }

func (s *Stream) State() iostream.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return iostream.StateClosed
	}
	return iostream.StateOpened
}

func (s *Stream) AddRef()  { s.mu.Lock(); s.refs++; s.mu.Unlock() }
func (s *Stream) Release() { s.mu.Lock(); s.refs--; s.mu.Unlock() }

// CurrentPos returns the stream-maintained position (meaningful only
// when the stream was opened with maintainPos).
func (s *Stream) CurrentPos() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.curPos
}

// Seek repositions a position-maintaining stream, per
// File_processor::Stream::Seek.
func (s *Stream) Seek(pos int64, relative bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.maintainPos {
		return 0, nil
	}
	newPos := pos
	if relative {
		newPos = s.curPos + pos
	}
	if newPos < 0 {
		return 0, errInvalidSeek
	}
	s.curPos = newPos
	return newPos, nil
}

func (s *Stream) Write(buf []byte, offset iostream.Offset, handler iostream.WriteHandler) *request.OperationWaiter {
	req := request.New()
	req.Process(true)
	s.enqueue(fileOp{kind: opWrite, buf: buf, offset: offset, req: req, writeHandler: handler})
	return request.NewOperationWaiter(req)
}

func (s *Stream) Read(maxToRead, minToRead int, offset iostream.Offset, handler iostream.ReadHandler) *request.OperationWaiter {
	req := request.New()
	req.Process(true)
	s.enqueue(fileOp{kind: opRead, offset: offset, maxTo: maxToRead, minTo: minToRead, req: req, readHandler: handler})
	return request.NewOperationWaiter(req)
}

func (s *Stream) enqueue(op fileOp) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		op.req.Complete(request.StateCanceled)
		s.deliver(op, nil, iostream.ResultClosed)
		return
	}
	s.queue = append(s.queue, op)
	working := s.working
	s.working = true
	s.mu.Unlock()
	if !working {
		go s.drain()
	}
}

// drain runs queued operations one at a time, serializing all I/O on
// this stream onto a single goroutine.
func (s *Stream) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.working = false
			s.mu.Unlock()
			return
		}
		op := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		data, result := s.execute(op)
		op.req.Complete(completionState(result))
		s.deliver(op, data, result)
	}
}

func (s *Stream) deliver(op fileOp, data []byte, result iostream.Result) {
	switch op.kind {
	case opRead:
		if op.readHandler != nil {
			op.readHandler(data, result)
		}
	case opWrite:
		if op.writeHandler != nil {
			op.writeHandler(result)
		}
	}
}

func (s *Stream) execute(op fileOp) ([]byte, iostream.Result) {
	pos := s.resolveOffset(op.offset)
	switch op.kind {
	case opWrite:
		if pos >= 0 {
			if _, err := s.f.Seek(pos, io.SeekStart); err != nil {
				return nil, iostream.ResultOtherFailure
			}
		}
		n, err := s.f.Write(op.buf)
		if err != nil {
			return nil, iostream.ResultOtherFailure
		}
		s.advance(int64(n))
		return nil, iostream.ResultOK
	default: // opRead
		if pos >= 0 {
			if _, err := s.f.Seek(pos, io.SeekStart); err != nil {
				return nil, iostream.ResultOtherFailure
			}
		}
		buf := make([]byte, op.maxTo)
		total := 0
		for total < op.minTo {
			n, err := s.f.Read(buf[total:])
			total += n
			if err != nil {
				if err == io.EOF {
					if total > 0 {
						s.advance(int64(total))
						return buf[:total], iostream.ResultOK
					}
					return nil, iostream.ResultEndOfFile
				}
				return buf[:total], iostream.ResultOtherFailure
			}
		}
		s.advance(int64(total))
		return buf[:total], iostream.ResultOK
	}
}

func (s *Stream) resolveOffset(offset iostream.Offset) int64 {
	switch offset {
	case iostream.OffsetNone:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.maintainPos {
			return s.curPos
		}
		return 0
	case iostream.OffsetEnd:
		info, err := s.f.Stat()
		if err != nil {
			return -1
		}
		return info.Size()
	default:
		return int64(offset)
	}
}

func (s *Stream) advance(n int64) {
	s.mu.Lock()
	if s.maintainPos {
		s.curPos += n
	}
	s.mu.Unlock()
}

func (s *Stream) Close(onClosed iostream.CloseHandler) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if onClosed != nil {
			onClosed()
		}
		return
	}
	s.closed = true
	queued := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, op := range queued {
		op.req.Complete(request.StateCanceled)
		s.deliver(op, nil, iostream.ResultClosed)
	}
	s.unlockLocked()
	_ = s.f.Close()
	if onClosed != nil {
		onClosed()
	}
}

func completionState(r iostream.Result) request.State {
	if r == iostream.ResultOK {
		return request.StateOK
	}
	return request.StateCanceled
}
