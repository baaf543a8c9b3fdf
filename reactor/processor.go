package reactor

import (
	"net"

	"github.com/ugcs/vsm-go/internal/vsmlog"
	"github.com/ugcs/vsm-go/iostream"
	"github.com/ugcs/vsm-go/request"
)

// ConnectHandler receives the connected Stream (nil on failure) and a
// Result, as Socket_processor::Connect_handler.
type ConnectHandler func(s *Stream, result iostream.Result)

// ListenHandler receives the listening Stream (nil on failure) and a
// Result, as Socket_processor::Listen_handler.
type ListenHandler func(s *Stream, result iostream.Result)

// AcceptHandler receives a newly accepted (or demuxed UDP peer) Stream
// and a Result, fired once per incoming connection/peer.
type AcceptHandler func(s *Stream, result iostream.Result)

// Processor is the socket processor (C6): it creates and owns every
// socket-backed Stream. One Processor is normally shared process-wide.
type Processor struct {
	log *vsmlog.Logger
}

// NewProcessor creates a Processor. log may be nil (defaults to
// discarding).
func NewProcessor(log *vsmlog.Logger) *Processor {
	if log == nil {
		log = vsmlog.Discard()
	}
	return &Processor{log: log}
}

// newAsync creates a bookkeeping Request+OperationWaiter pair for an
// operation that completes on an arbitrary goroutine (no processing
// container involved - the goroutine IS the processing).
func (p *Processor) newAsync() (*request.Request, *request.OperationWaiter) {
	req := request.New()
	req.Process(true) // Pending -> Processing, no handler attached.
	return req, request.NewOperationWaiter(req)
}

// Connect dials host:service over TCP or UDP, returning a Stream once
// connected.
func (p *Processor) Connect(network iostream.Type, host, service string, handler ConnectHandler) *request.OperationWaiter {
	req, ow := p.newAsync()
	goNet := netNetwork(network)
	addr := net.JoinHostPort(host, service)
	go func() {
		conn, err := net.Dial(goNet, addr)
		if err != nil {
			req.Complete(request.StateCanceled)
			if handler != nil {
				handler(nil, iostream.ResultConnectionRefused)
			}
			return
		}
		s := newStream(p, network, goNet+"://"+addr)
		s.conn = conn
		s.setOpened(conn.LocalAddr(), conn.RemoteAddr())
		req.Complete(request.StateOK)
		if handler != nil {
			handler(s, iostream.ResultOK)
		}
	}()
	return ow
}

// Listen opens a TCP listening socket at addr. UDP endpoints are opened
// with BindUDP instead.
func (p *Processor) Listen(addr string, handler ListenHandler) *request.OperationWaiter {
	req, ow := p.newAsync()
	go func() {
		lst, err := net.Listen("tcp", addr)
		if err != nil {
			req.Complete(request.StateCanceled)
			if handler != nil {
				handler(nil, iostream.ResultBadAddress)
			}
			return
		}
		s := newStream(p, iostream.TypeTCP, "tcp-listen://"+addr)
		s.lst = lst
		s.setOpened(lst.Addr(), nil)
		s.state = iostream.StateOpeningPassive
		req.Complete(request.StateOK)
		if handler != nil {
			handler(s, iostream.ResultOK)
		}
	}()
	return ow
}

// Accept waits for the next inbound TCP connection on listener.
func (p *Processor) Accept(listener *Stream, handler AcceptHandler) *request.OperationWaiter {
	req, ow := p.newAsync()
	listener.mu.Lock()
	lst := listener.lst
	listener.mu.Unlock()
	go func() {
		if lst == nil {
			req.Complete(request.StateCanceled)
			if handler != nil {
				handler(nil, iostream.ResultBadAddress)
			}
			return
		}
		conn, err := lst.Accept()
		if err != nil {
			req.Complete(request.StateCanceled)
			if handler != nil {
				handler(nil, iostream.ResultClosed)
			}
			return
		}
		s := newStream(p, iostream.TypeTCP, "tcp://"+conn.RemoteAddr().String())
		s.conn = conn
		s.setOpened(conn.LocalAddr(), conn.RemoteAddr())
		req.Complete(request.StateOK)
		if handler != nil {
			handler(s, iostream.ResultOK)
		}
	}()
	return ow
}

// BindUDP opens a local UDP endpoint at addr. If multicast is true, the
// socket joins the given multicast group on every usable interface.
// The returned master Stream demultiplexes inbound traffic: call AcceptUDP
// on it to be notified of new peer addresses, or Read to consume
// datagrams that arrive while no AcceptUDP handler is registered.
func (p *Processor) BindUDP(addr string, multicast bool, group string, handler ListenHandler) *request.OperationWaiter {
	req, ow := p.newAsync()
	go func() {
		pconn, err := net.ListenPacket("udp", addr)
		if err != nil {
			req.Complete(request.StateCanceled)
			if handler != nil {
				handler(nil, iostream.ResultBadAddress)
			}
			return
		}
		if multicast && group != "" {
			joinMulticast(pconn, group)
		}
		s := newStream(p, iostream.TypeUDP, "udp://"+addr)
		s.pconn = pconn
		s.substreams = make(map[string]*Stream)
		s.setOpened(pconn.LocalAddr(), nil)
		go s.readLoop()
		req.Complete(request.StateOK)
		if handler != nil {
			handler(s, iostream.ResultOK)
		}
	}()
	return ow
}

// ConnectUDP opens a local UDP endpoint at localAddr (may be empty for
// an ephemeral port) and targets it at a single peer, remoteAddr - an
// outgoing UDP flow over a specific local/remote address pair, per the
// UDP_OUT case of Socket_processor::Connect. Unlike BindUDP's master
// Stream, the returned Stream only ever delivers datagrams from
// remoteAddr; others are discarded.
func (p *Processor) ConnectUDP(localAddr, remoteAddr string, handler ConnectHandler) *request.OperationWaiter {
	req, ow := p.newAsync()
	go func() {
		peer, err := net.ResolveUDPAddr("udp", remoteAddr)
		if err != nil {
			req.Complete(request.StateCanceled)
			if handler != nil {
				handler(nil, iostream.ResultBadAddress)
			}
			return
		}
		if localAddr == "" {
			localAddr = ":0"
		}
		pconn, err := net.ListenPacket("udp", localAddr)
		if err != nil {
			req.Complete(request.StateCanceled)
			if handler != nil {
				handler(nil, iostream.ResultBadAddress)
			}
			return
		}
		s := newStream(p, iostream.TypeUDP, "udp://"+remoteAddr)
		s.pconn = pconn
		s.setOpened(pconn.LocalAddr(), peer)
		go s.peerReadLoop(peer)
		req.Complete(request.StateOK)
		if handler != nil {
			handler(s, iostream.ResultOK)
		}
	}()
	return ow
}

// peerReadLoop pumps a point-to-point UDP Stream's socket, discarding
// any datagram not from peer.
func (s *Stream) peerReadLoop(peer net.Addr) {
	buf := make([]byte, 65536)
	for {
		s.mu.Lock()
		pconn := s.pconn
		s.mu.Unlock()
		if pconn == nil {
			return
		}
		n, from, err := pconn.ReadFrom(buf)
		if err != nil {
			return
		}
		if from.String() != peer.String() {
			continue
		}
		s.pushDatagram(append([]byte(nil), buf[:n]...), from)
	}
}

// AcceptUDP, on a UDP master Stream, registers fn to be invoked with a new
// Stream the first time a datagram from an unseen peer arrives.
func (s *Stream) AcceptUDP(fn AcceptHandler) {
	s.mu.Lock()
	s.acceptFn = append(s.acceptFn, fn)
	s.mu.Unlock()
}

// readLoop pumps a UDP master socket, demultiplexing datagrams to
// per-peer substreams (creating them and firing any registered
// AcceptUDP handlers on first sight of a peer), matching
// Socket_processor::Stream::Process_udp_read_requests.
func (s *Stream) readLoop() {
	buf := make([]byte, 65536)
	for {
		s.mu.Lock()
		pconn := s.pconn
		s.mu.Unlock()
		if pconn == nil {
			return
		}
		n, from, err := pconn.ReadFrom(buf)
		if err != nil {
			return
		}
		data := append([]byte(nil), buf[:n]...)
		key := from.String()

		s.mu.Lock()
		sub, known := s.substreams[key]
		fns := s.acceptFn
		s.mu.Unlock()

		if known {
			sub.pushDatagram(data, from)
			continue
		}
		if len(fns) > 0 {
			sub = newStream(s.proc, iostream.TypeUDP, "udp://"+key)
			sub.pconn = s.pconn
			sub.parent = s
			sub.peer = from
			sub.setOpened(s.local, from)
			s.mu.Lock()
			s.substreams[key] = sub
			s.mu.Unlock()
			sub.pushDatagram(data, from)
			for _, fn := range fns {
				fn(sub, iostream.ResultOK)
			}
			continue
		}
		s.pushDatagram(data, from)
	}
}

func netNetwork(t iostream.Type) string {
	switch t {
	case iostream.TypeUDP, iostream.TypeUDPMulticast:
		return "udp"
	default:
		return "tcp"
	}
}
