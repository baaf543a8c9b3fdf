package discovery

import (
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ugcs/vsm-go/internal/vsmlog"
	"github.com/ugcs/vsm-go/iostream"
	"github.com/ugcs/vsm-go/reactor"
	"github.com/ugcs/vsm-go/request"
)

const (
	defaultMulticastGroup = "239.198.46.46"
	defaultMulticastPort  = "1991"
	loopbackBroadcastIP   = "127.255.255.255"
	rescanInterval        = 5 * time.Second
	readMaxDatagram       = 2048
)

// DetectionHandler is invoked for every NOTIFY alive/byebye or
// M-SEARCH response matching a subscription, per
// Service_discovery_processor::Detection_handler. instanceID
// distinguishes services with the same name advertised from multiple
// locations/processes.
type DetectionHandler func(serviceType, name, location, instanceID string, alive bool)

type serviceKey struct {
	typ, name, location string
}

type subscription struct {
	handler DetectionHandler
	ctx     *request.Container
}

// Discovery is the service discovery processor (C10).
type Discovery struct {
	sockets *reactor.Processor
	log     *vsmlog.Logger

	multicastGroup string
	multicastPort  string
	instanceID     string
	enumerate      interfaceEnumerator

	worker    *request.Worker
	waiter    *request.Waiter
	container *request.Container
	timers    *request.TimerProcessor
	timer     *request.Timer

	mu             sync.Mutex
	services       map[serviceKey]struct{}
	subscriptions  map[string]subscription
	receiver       *reactor.Stream
	senders        map[string]*reactor.Stream
	senderLoopback *reactor.Stream
}

// New creates a Discovery using the default multicast group/port
// (239.198.46.46:1991). log may be nil (defaults to discarding).
func New(sockets *reactor.Processor, log *vsmlog.Logger) *Discovery {
	if log == nil {
		log = vsmlog.Discard()
	}
	return &Discovery{
		sockets:        sockets,
		log:            log,
		multicastGroup: defaultMulticastGroup,
		multicastPort:  defaultMulticastPort,
		instanceID:     uuid.NewString(),
		enumerate:      enumerateMulticastAddresses,
		services:       make(map[serviceKey]struct{}),
		subscriptions:  make(map[string]subscription),
		senders:        make(map[string]*reactor.Stream),
	}
}

func (d *Discovery) multicastHost() string { return net.JoinHostPort(d.multicastGroup, d.multicastPort) }
func (d *Discovery) loopbackHost() string  { return net.JoinHostPort(loopbackBroadcastIP, d.multicastPort) }

// Enable starts the rescan timer, per Service_discovery_processor::On_enable.
func (d *Discovery) Enable() {
	d.waiter = request.NewWaiter()
	d.container = request.NewContainer("service discovery", request.KindProcessor, d.waiter)
	d.container.Enable()
	d.worker = request.NewWorker("service discovery worker", d.waiter, d.container)
	d.worker.Start()
	d.timers = request.NewTimerProcessor()
	d.timer = d.timers.Schedule(rescanInterval, d.container, func() bool {
		d.onTimer()
		return true
	})
}

// Disable tears everything down, per Service_discovery_processor::On_disable.
func (d *Discovery) Disable() {
	if d.timer != nil {
		d.timer.Cancel()
	}
	if d.timers != nil {
		d.timers.Stop()
	}

	d.mu.Lock()
	d.services = make(map[serviceKey]struct{})
	d.subscriptions = make(map[string]subscription)
	d.mu.Unlock()
	d.deactivateIfIdle()

	if d.container != nil {
		d.container.Disable()
	}
	if d.worker != nil {
		d.worker.Stop()
	}
}

// Advertise emits a NOTIFY ssdp:alive on every sender, per
// Service_discovery_processor::Advertise_service. location may contain
// "{local_address}", substituted per outgoing interface.
func (d *Discovery) Advertise(serviceType, name, location string) {
	d.mu.Lock()
	d.services[serviceKey{serviceType, name, location}] = struct{}{}
	wasActive := d.activateLocked()
	senders := d.snapshotSendersLocked()
	loopback := d.senderLoopback
	d.mu.Unlock()

	if wasActive {
		for localIP, s := range senders {
			notify := buildNotify(d.multicastHost(), serviceType, name, location, d.instanceID, localIP, true)
			s.WriteTo([]byte(notify), d.multicastHost(), nil)
		}
	}
	if loopback != nil {
		notify := buildNotify(d.loopbackHost(), serviceType, name, location, d.instanceID, loopbackLocalAddr(loopback), true)
		loopback.WriteTo([]byte(notify), d.loopbackHost(), nil)
	}
}

// Unadvertise emits a NOTIFY ssdp:byebye, per
// Service_discovery_processor::Unadvertise_service.
func (d *Discovery) Unadvertise(serviceType, name, location string) {
	key := serviceKey{serviceType, name, location}
	d.mu.Lock()
	_, existed := d.services[key]
	delete(d.services, key)
	senders := d.snapshotSendersLocked()
	loopback := d.senderLoopback
	d.mu.Unlock()

	if !existed {
		return
	}
	for localIP, s := range senders {
		notify := buildNotify(d.multicastHost(), serviceType, name, location, d.instanceID, localIP, false)
		s.WriteTo([]byte(notify), d.multicastHost(), nil)
	}
	if loopback != nil {
		notify := buildNotify(d.loopbackHost(), serviceType, name, location, d.instanceID, loopbackLocalAddr(loopback), false)
		loopback.WriteTo([]byte(notify), d.loopbackHost(), nil)
	}
	d.deactivateIfIdle()
}

// Subscribe emits M-SEARCH on every sender and arranges for handler to
// be invoked - via ctx - on every subsequent NOTIFY/response matching
// serviceType, per Service_discovery_processor::Subscribe_for_service.
func (d *Discovery) Subscribe(serviceType string, handler DetectionHandler, ctx *request.Container) {
	d.mu.Lock()
	d.subscriptions[serviceType] = subscription{handler: handler, ctx: ctx}
	wasActive := d.activateLocked()
	senders := d.snapshotSendersLocked()
	loopback := d.senderLoopback
	d.mu.Unlock()

	if wasActive {
		for _, s := range senders {
			s.WriteTo([]byte(buildMSearch(d.multicastHost(), serviceType)), d.multicastHost(), nil)
		}
	}
	if loopback != nil {
		loopback.WriteTo([]byte(buildMSearch(d.loopbackHost(), serviceType)), d.loopbackHost(), nil)
	}
}

// Search re-emits M-SEARCH for serviceType, per
// Service_discovery_processor::Search_for_service. A no-op unless
// Subscribe was already called.
func (d *Discovery) Search(serviceType string) {
	d.mu.Lock()
	_, subscribed := d.subscriptions[serviceType]
	senders := d.snapshotSendersLocked()
	loopback := d.senderLoopback
	d.mu.Unlock()
	if !subscribed {
		return
	}
	if loopback != nil {
		loopback.WriteTo([]byte(buildMSearch(d.loopbackHost(), serviceType)), d.loopbackHost(), nil)
	}
	for _, s := range senders {
		s.WriteTo([]byte(buildMSearch(d.multicastHost(), serviceType)), d.multicastHost(), nil)
	}
}

// Unsubscribe stops delivering to serviceType's handler, per
// Service_discovery_processor::Unsubscribe_from_service.
func (d *Discovery) Unsubscribe(serviceType string) {
	d.mu.Lock()
	_, existed := d.subscriptions[serviceType]
	delete(d.subscriptions, serviceType)
	d.mu.Unlock()
	if existed {
		d.deactivateIfIdle()
	}
}

func (d *Discovery) snapshotSendersLocked() map[string]*reactor.Stream {
	out := make(map[string]*reactor.Stream, len(d.senders))
	for k, v := range d.senders {
		out[k] = v
	}
	return out
}

// activateLocked binds the receiver and loopback sender the first time
// any service/subscription is registered, per
// Service_discovery_processor::Activate. Returns true if it was already
// active (so the caller should also notify over existing per-interface
// senders, which activateLocked does not wait for).
func (d *Discovery) activateLocked() bool {
	if len(d.services)+len(d.subscriptions) != 1 {
		return true
	}
	d.mu.Unlock()
	d.bindReceiver()
	d.bindLoopbackSender()
	d.onTimer()
	d.mu.Lock()
	return false
}

func (d *Discovery) deactivateIfIdle() {
	d.mu.Lock()
	if len(d.services)+len(d.subscriptions) != 0 {
		d.mu.Unlock()
		return
	}
	receiver := d.receiver
	loopback := d.senderLoopback
	senders := d.senders
	d.receiver = nil
	d.senderLoopback = nil
	d.senders = make(map[string]*reactor.Stream)
	d.mu.Unlock()

	if receiver != nil {
		receiver.Close(nil)
	}
	if loopback != nil {
		loopback.Close(nil)
	}
	for _, s := range senders {
		s.Close(nil)
	}
}

// bindReceiver binds the multicast listener and waits for the bind to
// complete, so activateLocked's caller can rely on d.receiver being set
// (or not) by the time it returns.
func (d *Discovery) bindReceiver() {
	addr := net.JoinHostPort("0.0.0.0", d.multicastPort)
	ow := d.sockets.BindUDP(addr, true, d.multicastGroup, func(s *reactor.Stream, res iostream.Result) {
		if res != iostream.ResultOK || s == nil {
			d.log.Warning().Log("failed to bind multicast listener")
			return
		}
		d.mu.Lock()
		d.receiver = s
		d.mu.Unlock()
		s.AcceptUDP(func(peer *reactor.Stream, res iostream.Result) {
			if res == iostream.ResultOK && peer != nil {
				d.scheduleRead(peer)
			}
		})
	})
	ow.Wait(time.Second)
}

func (d *Discovery) bindLoopbackSender() {
	ow := d.sockets.BindUDP("127.0.0.1:0", false, "", func(s *reactor.Stream, res iostream.Result) {
		if res != iostream.ResultOK || s == nil {
			d.log.Warning().Log("failed to bind loopback sender")
			return
		}
		s.EnableBroadcast(true)
		d.mu.Lock()
		d.senderLoopback = s
		d.mu.Unlock()
		s.AcceptUDP(func(peer *reactor.Stream, res iostream.Result) {
			if res == iostream.ResultOK && peer != nil {
				d.scheduleRead(peer)
			}
		})
	})
	ow.Wait(time.Second)
}

func (d *Discovery) bindSender(localIP string) {
	addr := net.JoinHostPort(localIP, "0")
	d.sockets.BindUDP(addr, false, "", func(s *reactor.Stream, res iostream.Result) {
		if res != iostream.ResultOK || s == nil {
			return
		}
		d.mu.Lock()
		d.senders[localIP] = s
		d.mu.Unlock()
		s.AcceptUDP(func(peer *reactor.Stream, res iostream.Result) {
			if res == iostream.ResultOK && peer != nil {
				d.scheduleRead(peer)
			}
		})
		d.sendInitialStateOver(s)
	})
}

// sendInitialStateOver announces every currently-advertised service and
// re-issues every active subscription's M-SEARCH over a newly bound
// sender, per On_sender_bound.
func (d *Discovery) sendInitialStateOver(s *reactor.Stream) {
	d.mu.Lock()
	services := make([]serviceKey, 0, len(d.services))
	for k := range d.services {
		services = append(services, k)
	}
	subs := make([]string, 0, len(d.subscriptions))
	for t := range d.subscriptions {
		subs = append(subs, t)
	}
	d.mu.Unlock()

	localIP, _, _ := net.SplitHostPort(s.LocalAddress().String())
	for _, k := range services {
		notify := buildNotify(d.multicastHost(), k.typ, k.name, k.location, d.instanceID, localIP, true)
		s.WriteTo([]byte(notify), d.multicastHost(), nil)
	}
	for _, t := range subs {
		s.WriteTo([]byte(buildMSearch(d.multicastHost(), t)), d.multicastHost(), nil)
	}
}

// scheduleRead keeps re-issuing Read on a demuxed peer Stream for as
// long as it stays open, dispatching each datagram, per
// Service_discovery_processor::Schedule_read.
func (d *Discovery) scheduleRead(s *reactor.Stream) {
	s.Read(readMaxDatagram, 1, iostream.OffsetNone, func(data []byte, res iostream.Result) {
		if res != iostream.ResultOK {
			return
		}
		d.handleDatagram(s, data)
		d.scheduleRead(s)
	})
}

// handleDatagram parses one inbound SSDP datagram and either answers an
// M-SEARCH for one of our advertised services, or posts a NOTIFY/search
// response to the matching subscription, per
// Service_discovery_processor::On_read. Unlike the original (which
// cannot learn the exact incoming interface address for a UDP peer and
// so resends every interface's guess when a response needs
// "{local_address}" substitution), each demuxed peer Stream here
// reports LocalAddress() precisely, so exactly one reply is ever sent.
func (d *Discovery) handleDatagram(s *reactor.Stream, data []byte) {
	msg, ok := parseSSDP(data)
	if !ok {
		return
	}

	if msg.method == methodSearch {
		d.respondToSearch(s, msg.header("st"))
		return
	}

	var serviceType string
	var active bool
	if msg.method == methodNotify {
		serviceType = msg.header("nt")
		nts := msg.header("nts")
		active = strings.Contains(nts, "ssdp:alive")
		if !active && !strings.Contains(nts, "ssdp:byebye") {
			return
		}
	} else {
		// Bare response to our own M-SEARCH.
		serviceType = msg.header("st")
		active = true
	}

	d.mu.Lock()
	sub, found := d.subscriptions[serviceType]
	d.mu.Unlock()
	if !found {
		return
	}

	name := msg.header("usn")
	location := msg.header("location")
	id := msg.header("id")
	handler := sub.handler
	ctx := sub.ctx
	if ctx == nil {
		handler(serviceType, name, location, id, active)
		return
	}
	req := request.New()
	_ = req.SetProcessingHandler(func(r *request.Request) {
		handler(serviceType, name, location, id, active)
		r.Complete(request.StateOK)
	})
	ctx.SubmitRequest(req)
}

func (d *Discovery) respondToSearch(s *reactor.Stream, serviceType string) {
	if serviceType == "" {
		return
	}
	d.mu.Lock()
	var matches []serviceKey
	for k := range d.services {
		if k.typ == serviceType {
			matches = append(matches, k)
		}
	}
	d.mu.Unlock()
	if len(matches) == 0 {
		return
	}
	localIP, _, _ := net.SplitHostPort(s.LocalAddress().String())
	for _, k := range matches {
		location := k.location
		if hasLocationToken(location) {
			location = buildLocation(location, localIP)
		}
		resp := buildResponse(k.typ, k.name, location, d.instanceID)
		s.Write([]byte(resp), iostream.OffsetNone, nil)
	}
}

// onTimer re-enumerates local interfaces, drops senders on interfaces
// that vanished, and binds new senders for newly present ones, per
// Service_discovery_processor::On_timer.
func (d *Discovery) onTimer() {
	d.mu.Lock()
	idle := len(d.services)+len(d.subscriptions) == 0
	existing := d.snapshotSendersLocked()
	d.mu.Unlock()
	if idle {
		return
	}

	addrs, err := d.enumerate()
	if err != nil {
		return
	}
	present := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		present[a] = true
	}

	for ip, s := range existing {
		if !present[ip] {
			d.log.Info().Log("lost local address")
			d.mu.Lock()
			delete(d.senders, ip)
			d.mu.Unlock()
			s.Close(nil)
		}
	}

	for _, ip := range addrs {
		if _, ok := existing[ip]; ok {
			continue
		}
		d.log.Info().Log("discovered new local address")
		d.bindSender(ip)
	}
}

func loopbackLocalAddr(s *reactor.Stream) string {
	ip, _, _ := net.SplitHostPort(s.LocalAddress().String())
	if ip == "" {
		return "127.0.0.1"
	}
	return ip
}
