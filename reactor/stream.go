package reactor

import (
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/ugcs/vsm-go/iostream"
	"github.com/ugcs/vsm-go/request"
)

// writeOp is one queued Write/WriteTo.
type writeOp struct {
	buf     []byte
	addr    string // non-empty for WriteTo: unresolved destination
	isAddr  bool
	req     *request.Request
	handler iostream.WriteHandler
}

// readOp is one queued Read.
type readOp struct {
	maxTo, minTo int
	req          *request.Request
	handler      iostream.ReadHandler
}

// Stream is a socket-backed iostream.Stream: a TCP connection/listener,
// or a UDP endpoint possibly multiplexing several peers behind one
// local socket, per Socket_processor::Stream.
//
// Writes and reads each have their own FIFO, drained by their own
// worker goroutine: a write never passes another write, a read never
// passes another read, per spec's per-stream concurrency invariant.
// The two queues are independent of each other (matching net.Conn's
// own concurrent-read/concurrent-write contract) so a Read blocked
// waiting for bytes from an idle peer never stalls a pending Write,
// and vice versa.
type Stream struct {
	proc *Processor

	mu    sync.Mutex
	name  string
	typ   iostream.Type
	state iostream.State
	refs  int32

	conn   net.Conn       // TCP connections, and the "connected" UDP case
	pconn  net.PacketConn // UDP master sockets (Bind_udp/Listen of type UDP)
	lst    net.Listener   // TCP listeners
	local  net.Addr
	peer   net.Addr
	closed bool

	// UDP multi-peer demux (master stream only).
	substreams map[string]*Stream
	parent     *Stream
	cache      datagramCache
	acceptFn   []func(*Stream, iostream.Result)

	notify  chan struct{} // buffered(1): signalled whenever cache gains a datagram
	closeCh chan struct{} // closed once, when Close runs

	writeQueue   []writeOp
	writeWorking bool

	readQueue   []readOp
	readWorking bool
}

func newStream(proc *Processor, typ iostream.Type, name string) *Stream {
	return &Stream{
		proc:    proc,
		typ:     typ,
		name:    name,
		state:   iostream.StateOpening,
		notify:  make(chan struct{}, 1),
		closeCh: make(chan struct{}),
	}
}

func (s *Stream) wakeReaders() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Stream) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

func (s *Stream) Type() iostream.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typ
}

func (s *Stream) State() iostream.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Stream) AddRef()  { atomic.AddInt32(&s.refs, 1) }
func (s *Stream) Release() { atomic.AddInt32(&s.refs, -1) }

// PeerAddress returns the remote address, if any (nil for listeners).
func (s *Stream) PeerAddress() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

// LocalAddress returns the local bound address.
func (s *Stream) LocalAddress() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local
}

func (s *Stream) setOpened(local, peer net.Addr) {
	s.mu.Lock()
	s.state = iostream.StateOpened
	s.local, s.peer = local, peer
	s.mu.Unlock()
}

// Write queues a write. UDP substreams write through the parent's
// socket, addressed to their own peer. Submission order is preserved
// against any other Write/WriteTo queued on this same Stream,
// regardless of which goroutine calls it.
func (s *Stream) Write(buf []byte, offset iostream.Offset, handler iostream.WriteHandler) *request.OperationWaiter {
	req, ow := s.proc.newAsync()
	s.enqueueWrite(writeOp{buf: buf, req: req, handler: handler})
	return ow
}

func (s *Stream) doWrite(buf []byte) iostream.Result {
	s.mu.Lock()
	conn, pconn, peer, closed, parent := s.conn, s.pconn, s.peer, s.closed, s.parent
	s.mu.Unlock()
	if closed {
		return iostream.ResultClosed
	}
	switch {
	case conn != nil:
		if _, err := conn.Write(buf); err != nil {
			return iostream.ResultOtherFailure
		}
		return iostream.ResultOK
	case parent != nil:
		return parent.writeTo(buf, peer)
	case pconn != nil && peer != nil:
		if _, err := pconn.WriteTo(buf, peer); err != nil {
			return iostream.ResultOtherFailure
		}
		return iostream.ResultOK
	default:
		return iostream.ResultBadAddress
	}
}

func (s *Stream) writeTo(buf []byte, addr net.Addr) iostream.Result {
	s.mu.Lock()
	pconn := s.pconn
	s.mu.Unlock()
	if pconn == nil || addr == nil {
		return iostream.ResultBadAddress
	}
	if _, err := pconn.WriteTo(buf, addr); err != nil {
		return iostream.ResultOtherFailure
	}
	return iostream.ResultOK
}

// WriteTo sends buf as a single UDP datagram to addr, without requiring
// an established peer substream. Only valid on a master UDP stream (the
// one returned by BindUDP), per Socket_processor::Stream::Write_to.
func (s *Stream) WriteTo(buf []byte, addr string, handler iostream.WriteHandler) *request.OperationWaiter {
	req, ow := s.proc.newAsync()
	s.enqueueWrite(writeOp{buf: buf, addr: addr, isAddr: true, req: req, handler: handler})
	return ow
}

// Read queues a read. For TCP, it blocks until minToRead bytes have
// arrived (or EOF/error); for UDP substreams, it pulls whole datagrams
// from the per-peer cache (or blocks until one arrives). Submission
// order is preserved against any other Read queued on this same
// Stream.
func (s *Stream) Read(maxToRead, minToRead int, offset iostream.Offset, handler iostream.ReadHandler) *request.OperationWaiter {
	req, ow := s.proc.newAsync()
	s.enqueueRead(readOp{maxTo: maxToRead, minTo: minToRead, req: req, handler: handler})
	return ow
}

// enqueueWrite appends op to the Stream's write FIFO, starting the
// drain goroutine if it is not already running. A Stream already
// closed completes the op with ResultClosed immediately instead of
// queueing it, matching fileproc.Stream.enqueue.
func (s *Stream) enqueueWrite(op writeOp) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		op.req.Complete(request.StateCanceled)
		if op.handler != nil {
			op.handler(iostream.ResultClosed)
		}
		return
	}
	s.writeQueue = append(s.writeQueue, op)
	working := s.writeWorking
	s.writeWorking = true
	s.mu.Unlock()
	if !working {
		go s.drainWrites()
	}
}

// drainWrites runs queued writes one at a time, so every Write/WriteTo
// submitted against this Stream executes in submission order rather
// than racing the underlying net.Conn/net.PacketConn.
func (s *Stream) drainWrites() {
	for {
		s.mu.Lock()
		if len(s.writeQueue) == 0 {
			s.writeWorking = false
			s.mu.Unlock()
			return
		}
		op := s.writeQueue[0]
		s.writeQueue = s.writeQueue[1:]
		s.mu.Unlock()

		var result iostream.Result
		if op.isAddr {
			result = s.doWriteTo(op.buf, op.addr)
		} else {
			result = s.doWrite(op.buf)
		}
		op.req.Complete(completionState(result))
		if op.handler != nil {
			op.handler(result)
		}
	}
}

// enqueueRead appends op to the Stream's read FIFO, starting the drain
// goroutine if it is not already running.
func (s *Stream) enqueueRead(op readOp) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		op.req.Complete(request.StateCanceled)
		if op.handler != nil {
			op.handler(nil, iostream.ResultClosed)
		}
		return
	}
	s.readQueue = append(s.readQueue, op)
	working := s.readWorking
	s.readWorking = true
	s.mu.Unlock()
	if !working {
		go s.drainReads()
	}
}

// drainReads runs queued reads one at a time, so every Read submitted
// against this Stream executes in submission order.
func (s *Stream) drainReads() {
	for {
		s.mu.Lock()
		if len(s.readQueue) == 0 {
			s.readWorking = false
			s.mu.Unlock()
			return
		}
		op := s.readQueue[0]
		s.readQueue = s.readQueue[1:]
		s.mu.Unlock()

		data, result := s.doRead(op.maxTo, op.minTo)
		op.req.Complete(completionState(result))
		if op.handler != nil {
			op.handler(data, result)
		}
	}
}

func (s *Stream) doWriteTo(buf []byte, addr string) iostream.Result {
	s.mu.Lock()
	pconn, closed := s.pconn, s.closed
	s.mu.Unlock()
	switch {
	case closed:
		return iostream.ResultClosed
	case pconn == nil:
		return iostream.ResultBadAddress
	}
	dst, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return iostream.ResultBadAddress
	}
	if _, err := pconn.WriteTo(buf, dst); err != nil {
		return iostream.ResultOtherFailure
	}
	return iostream.ResultOK
}

func (s *Stream) doRead(maxToRead, minToRead int) ([]byte, iostream.Result) {
	s.mu.Lock()
	conn, closed, isUDP := s.conn, s.closed, s.pconn != nil || s.parent != nil
	s.mu.Unlock()
	if closed {
		return nil, iostream.ResultClosed
	}
	if isUDP {
		return s.readDatagram()
	}
	if conn == nil {
		return nil, iostream.ResultBadAddress
	}
	buf := make([]byte, maxToRead)
	n := 0
	for n < minToRead {
		m, err := conn.Read(buf[n:])
		n += m
		if err != nil {
			if err == io.EOF {
				if n > 0 {
					return buf[:n], iostream.ResultOK
				}
				return nil, iostream.ResultEndOfFile
			}
			return buf[:n], iostream.ResultOtherFailure
		}
	}
	return buf[:n], iostream.ResultOK
}

func (s *Stream) readDatagram() ([]byte, iostream.Result) {
	for {
		s.mu.Lock()
		d, ok := s.cache.pull()
		s.mu.Unlock()
		if ok {
			return d.data, iostream.ResultOK
		}
		select {
		case <-s.notify:
			continue
		case <-s.closeCh:
			s.mu.Lock()
			d, ok := s.cache.pull()
			s.mu.Unlock()
			if ok {
				return d.data, iostream.ResultOK
			}
			return nil, iostream.ResultClosed
		}
	}
}

// pushDatagram delivers a received datagram into this stream's cache,
// waking any blocked readDatagram call. Used by the master stream's
// readLoop for both itself and its demuxed substreams.
func (s *Stream) pushDatagram(data []byte, from net.Addr) {
	s.mu.Lock()
	s.cache.push(datagram{data: data, from: from.String()})
	s.mu.Unlock()
	s.wakeReaders()
}

// EnableBroadcast turns SO_BROADCAST on or off for a UDP stream.
func (s *Stream) EnableBroadcast(enable bool) bool {
	s.mu.Lock()
	pconn := s.pconn
	s.mu.Unlock()
	if pconn == nil {
		return false
	}
	return enableBroadcast(pconn, enable)
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
	s.state = iostream.StateClosed
	conn, pconn, lst, subs := s.conn, s.pconn, s.lst, s.substreams
	queuedWrites := s.writeQueue
	s.writeQueue = nil
	queuedReads := s.readQueue
	s.readQueue = nil
	s.mu.Unlock()
	close(s.closeCh)

	if conn != nil {
		_ = conn.Close()
	}
	if lst != nil {
		_ = lst.Close()
	}
	if pconn != nil && s.parent == nil {
		_ = pconn.Close()
	}
	for _, sub := range subs {
		sub.Close(nil)
	}
	for _, op := range queuedWrites {
		op.req.Complete(request.StateCanceled)
		if op.handler != nil {
			op.handler(iostream.ResultClosed)
		}
	}
	for _, op := range queuedReads {
		op.req.Complete(request.StateCanceled)
		if op.handler != nil {
			op.handler(nil, iostream.ResultClosed)
		}
	}
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
