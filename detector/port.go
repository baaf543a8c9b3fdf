package detector

import (
	"regexp"
	"sync"
	"time"

	"github.com/joeycumines/go-catrate"

	"github.com/ugcs/vsm-go/iostream"
	"github.com/ugcs/vsm-go/reactor"
)

// portState mirrors Transport_detector::Port::State.
type portState int

const (
	portNone portState = iota
	portConnecting
	portConnected
)

// ConnectHandler is invoked once per rotation step, per
// Transport_detector::Connect_handler: name identifies the port
// (regexp-resolved port name, or the remote peer address string for IP
// transports), baud is the serial baud rate tried (0 for non-serial),
// and stream is the freshly opened transport. On serial, outgoing IP,
// CAN and pipe ports the next configured handler is tried only after
// the caller reports ProtocolNotDetected(stream), which closes that
// stream; listening and proxy ports hand each new connection to the
// next handler in turn. A stream the caller keeps gets no further
// handler calls.
type ConnectHandler func(name string, baud int, stream iostream.Stream)

type detectorEntry struct {
	baud    int
	handler ConnectHandler
}

const (
	tcpConnectTimeout = 10 * time.Second
	proxyTimeout      = 4 * time.Second
)

var proxySignature = []byte{0x56, 0x53, 0x4d, 0x50}

const (
	proxyCommandHello    = 0
	proxyCommandWait     = 1
	proxyCommandReady    = 2
	proxyCommandNotReady = 3
	proxyResponseLen     = 5
)

// Port is one watched transport slot: a serial port name pattern, or a
// resolved IP/CAN/pipe endpoint, rotating through its configured
// detectors until one reports success, per Transport_detector::Port.
type Port struct {
	mu sync.Mutex

	name string
	typ  Type
	re   *regexp.Regexp // serial only: name is a pattern, matched against enumerated ports
	matched string      // serial only: the real enumerated port name once the pattern has matched one

	localAddr  string
	remoteAddr string
	canOrPipe  string

	detectors []detectorEntry
	current   int // index into detectors; len(detectors) means "rotation complete, wrap on next reopen"

	state   portState
	stream  iostream.Stream
	subs    []iostream.Stream
	listener *reactor.Stream

	retryTimeout time.Duration
	limiter      *catrate.Limiter

	det *Detector
}

func newSerialPort(pattern string, det *Detector) *Port {
	return &Port{
		name: pattern,
		typ:  Serial,
		re:   regexp.MustCompile(pattern),
		det:  det,
	}
}

func newIPPort(name string, rule ipRule, det *Detector) *Port {
	p := &Port{
		name:       name,
		typ:        rule.typ,
		localAddr:  rule.localAddr,
		remoteAddr: rule.remoteAddr,
		canOrPipe:  rule.canOrPipe,
		det:        det,
	}
	timeout := rule.retryTimeout
	if timeout <= 0 {
		timeout = defaultRetryTimeoutSeconds
	}
	p.retryTimeout = time.Duration(timeout) * time.Second
	p.limiter = catrate.NewLimiter(map[time.Duration]int{p.retryTimeout: 1})
	return p
}

// addDetector appends handler/baud, per Transport_detector::Port::
// Add_detector. Go funcs aren't comparable, so (unlike the original)
// this doesn't attempt to de-duplicate identical registrations -
// callers are expected to call AddDetector once per config load.
func (p *Port) addDetector(baud int, handler ConnectHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.detectors = append(p.detectors, detectorEntry{baud: baud, handler: handler})
}

func (p *Port) matchName(name string) bool {
	return p.re != nil && p.re.MatchString(name)
}

// claimIfMatches resolves this pattern Port against a real enumerated
// serial port name, if it hasn't already claimed one and the name
// matches. Returns true if name is now claimed by this Port.
func (p *Port) claimIfMatches(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.matched != "" || p.re == nil || !p.re.MatchString(name) {
		return false
	}
	p.matched = name
	return true
}

// matchedName returns the real device name this pattern Port has
// claimed, or "" if none yet.
func (p *Port) matchedName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.matched
}

// releaseIfGone clears the claimed device name if it no longer appears
// in the detected set, resetting the Port back to waiting-for-device,
// per Transport_detector::On_timer pruning vanished serial ports.
func (p *Port) releaseIfGone(stillPresent bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.typ != Serial || p.matched == "" || stillPresent {
		return
	}
	if p.stream != nil {
		if p.stream.State() != iostream.StateClosed {
			p.stream.Close(nil)
		}
		p.stream = nil
	}
	p.matched = ""
	p.state = portNone
	p.current = 0
}

// onTimer is the per-second watchdog tick for one Port, per
// Transport_detector::Port::On_timer.
func (p *Port) onTimer() {
	p.mu.Lock()
	if p.stream != nil && p.stream.State() == iostream.StateClosed {
		p.det.log.Info().Log("port closed by user")
		p.stream = nil
		p.state = portNone
	}

	kept := p.subs[:0]
	for _, s := range p.subs {
		if s.State() != iostream.StateClosed {
			kept = append(kept, s)
		}
	}
	p.subs = kept

	if (p.typ == TCPIn || p.typ == UDPIn) && p.listener != nil && p.listener.State() == iostream.StateClosed {
		p.listener = nil
	}

	state := p.state
	limiter := p.limiter
	waitingForDevice := p.typ == Serial && p.matched == ""
	p.mu.Unlock()

	if waitingForDevice {
		return
	}

	if state == portNone {
		if limiter == nil {
			p.reopen()
			return
		}
		if _, ok := limiter.Allow(p.name); ok {
			p.reopen()
		}
	}
}

// reopen closes any existing stream and dispatches the next configured
// detector, per Transport_detector::Port::Reopen_and_call_next_handler.
func (p *Port) reopen() {
	p.mu.Lock()
	if p.stream != nil {
		if p.stream.State() != iostream.StateClosed {
			p.stream.Close(nil)
		}
		p.stream = nil
	}
	if p.current >= len(p.detectors) {
		p.current = 0
		if p.typ != UDPIn && p.typ != TCPIn {
			p.state = portNone
			p.mu.Unlock()
			return
		}
	}
	p.state = portConnecting
	p.mu.Unlock()

	switch p.typ {
	case Serial:
		p.openSerial()
	case TCPOut:
		p.det.sockets.Connect(iostream.TypeTCP, hostOf(p.remoteAddr), portOf(p.remoteAddr), func(s *reactor.Stream, res iostream.Result) {
			p.ipConnected(s, res)
		}).Timeout(tcpConnectTimeout, nil, true)
	case Proxy:
		p.det.sockets.Connect(iostream.TypeTCP, hostOf(p.remoteAddr), portOf(p.remoteAddr), func(s *reactor.Stream, res iostream.Result) {
			p.proxyConnected(s, res)
		}).Timeout(tcpConnectTimeout, nil, true)
	case TCPIn:
		p.mu.Lock()
		listener := p.listener
		p.mu.Unlock()
		if listener != nil {
			p.det.sockets.Accept(listener, func(s *reactor.Stream, res iostream.Result) { p.ipConnected(s, res) })
		} else {
			p.det.sockets.Listen(p.localAddr, func(s *reactor.Stream, res iostream.Result) { p.listenerReady(s, res) }).Timeout(tcpConnectTimeout, nil, true)
		}
	case UDPIn:
		p.mu.Lock()
		listener := p.listener
		p.mu.Unlock()
		if listener != nil {
			listener.AcceptUDP(func(s *reactor.Stream, res iostream.Result) { p.ipConnected(s, res) })
		} else {
			p.det.sockets.BindUDP(p.localAddr, false, "", func(s *reactor.Stream, res iostream.Result) { p.listenerReady(s, res) }).Timeout(tcpConnectTimeout, nil, true)
		}
	case UDPInAny:
		p.det.sockets.BindUDP(p.localAddr, false, "", func(s *reactor.Stream, res iostream.Result) { p.ipConnected(s, res) })
	case UDPOut:
		p.det.sockets.ConnectUDP(p.localAddr, p.remoteAddr, func(s *reactor.Stream, res iostream.Result) { p.ipConnected(s, res) })
	case CAN:
		p.ipConnectedStream(openCANChecked(p.canOrPipe))
	case Pipe:
		p.openPipe()
	}
}

func openCANChecked(iface string) (iostream.Stream, iostream.Result) {
	s, err := openCAN(iface)
	if err != nil {
		return nil, iostream.ResultOtherFailure
	}
	return s, iostream.ResultOK
}

func (p *Port) openSerial() {
	p.mu.Lock()
	if p.current >= len(p.detectors) {
		p.state = portNone
		p.mu.Unlock()
		return
	}
	entry := p.detectors[p.current]
	name := p.matched
	p.mu.Unlock()

	opener := p.det.serialOpener
	s, err := opener(name, entry.baud)
	if err != nil {
		p.det.log.Info().Log("serial open failed")
		p.mu.Lock()
		p.state = portNone
		p.mu.Unlock()
		return
	}
	p.det.log.Info().Log("opened serial port")

	p.mu.Lock()
	p.stream = s
	p.state = portConnected
	p.current++
	p.mu.Unlock()

	entry.handler(name, entry.baud, s)
}

func (p *Port) openPipe() {
	p.mu.Lock()
	if p.current >= len(p.detectors) {
		p.mu.Unlock()
		return
	}
	entry := p.detectors[p.current]
	name := p.canOrPipe
	p.mu.Unlock()

	s, err := p.det.files.Open(name, "r+", false)
	if err != nil {
		p.det.log.Info().Log("pipe open failed")
		p.mu.Lock()
		p.state = portNone
		p.mu.Unlock()
		return
	}

	p.mu.Lock()
	p.stream = s
	p.state = portConnected
	p.current++
	p.mu.Unlock()

	entry.handler(name, 0, s)
}

func (p *Port) ipConnectedStream(s iostream.Stream, res iostream.Result) {
	if s == nil || res != iostream.ResultOK {
		p.mu.Lock()
		p.state = portNone
		p.mu.Unlock()
		return
	}
	p.mu.Lock()
	switch p.typ {
	case TCPIn, Proxy:
		p.subs = append(p.subs, s)
		if p.typ == Proxy {
			p.stream = nil
		}
	case UDPIn:
		p.subs = append(p.subs, s)
	default:
		p.state = portConnected
		p.stream = s
	}
	if p.current >= len(p.detectors) {
		p.mu.Unlock()
		return
	}
	entry := p.detectors[p.current]
	p.current++
	typ := p.typ
	name := s.Name()
	p.mu.Unlock()

	entry.handler(name, 0, s)

	if typ == Proxy || typ == TCPIn || typ == UDPIn {
		p.reopen()
	}
}

func (p *Port) ipConnected(s *reactor.Stream, res iostream.Result) {
	if s == nil {
		p.ipConnectedStream(nil, res)
		return
	}
	p.ipConnectedStream(s, res)
}

func (p *Port) listenerReady(s *reactor.Stream, res iostream.Result) {
	if res != iostream.ResultOK || s == nil {
		p.mu.Lock()
		p.state = portNone
		p.mu.Unlock()
		return
	}
	p.mu.Lock()
	p.listener = s
	p.mu.Unlock()
	if p.typ == UDPIn {
		s.AcceptUDP(func(sub *reactor.Stream, res iostream.Result) { p.ipConnected(sub, res) })
	} else {
		p.det.sockets.Accept(s, func(sub *reactor.Stream, res iostream.Result) { p.ipConnected(sub, res) })
	}
}

func (p *Port) proxyConnected(s *reactor.Stream, res iostream.Result) {
	if res != iostream.ResultOK || s == nil {
		p.mu.Lock()
		p.state = portNone
		p.mu.Unlock()
		return
	}
	p.mu.Lock()
	p.stream = s
	p.mu.Unlock()

	s.Read(proxyResponseLen, proxyResponseLen, iostream.OffsetNone, func(data []byte, res iostream.Result) {
		p.onProxyData(data, res, s)
	}).Timeout(proxyTimeout, nil, true)

	id := applicationInstanceID()
	hello := append(append([]byte(nil), proxySignature...), proxyCommandHello,
		byte(id), byte(id>>8), byte(id>>16), byte(id>>24))
	s.Write(hello, iostream.OffsetNone, nil)
}

func (p *Port) onProxyData(data []byte, res iostream.Result, s *reactor.Stream) {
	if res != iostream.ResultOK || len(data) != proxyResponseLen || string(data[:len(proxySignature)]) != string(proxySignature) {
		p.mu.Lock()
		p.state = portNone
		p.mu.Unlock()
		return
	}
	switch data[len(proxySignature)] {
	case proxyCommandWait:
		s.Read(proxyResponseLen, proxyResponseLen, iostream.OffsetNone, func(d []byte, r iostream.Result) {
			p.onProxyData(d, r, s)
		}).Timeout(proxyTimeout, nil, true)
	case proxyCommandReady:
		p.ipConnectedStream(s, iostream.ResultOK)
	default:
		p.mu.Lock()
		p.state = portNone
		p.mu.Unlock()
	}
}

// protocolNotDetected handles a caller's report that stream did not
// speak the expected protocol, per Transport_detector::Port::
// Protocol_not_detected: closes it and, for persistent transports,
// restarts rotation from the next detector.
func (p *Port) protocolNotDetected(stream iostream.Stream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.typ == Proxy || p.typ == TCPIn || p.typ == UDPIn {
		stream.Close(nil)
		kept := p.subs[:0]
		for _, s := range p.subs {
			if s != stream {
				kept = append(kept, s)
			}
		}
		p.subs = kept
		return
	}
	if p.stream == stream {
		p.mu.Unlock()
		p.reopen()
		p.mu.Lock()
	}
}

func hostOf(hostport string) string { h, _ := parseHostPort(hostport); return h }
func portOf(hostport string) string { _, p := parseHostPort(hostport); return p }

var applicationInstanceID = func() uint32 { return uint32(time.Now().UnixNano()) }
