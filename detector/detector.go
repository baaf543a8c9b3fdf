package detector

import (
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/ugcs/vsm-go/fileproc"
	"github.com/ugcs/vsm-go/internal/vsmlog"
	"github.com/ugcs/vsm-go/iostream"
	"github.com/ugcs/vsm-go/reactor"
	"github.com/ugcs/vsm-go/request"
)

// watchdogInterval is the rotation tick period, per Transport_detector::
// WATCHDOG_INTERVAL.
const watchdogInterval = 1 * time.Second

// Arbiter is the shape of a cross-process serial port arbiter (the
// shareddata-backed mutual-exclusion arbiter, per Transport_detector::
// Port::Create_arbiter): granted is called once access is decided, and
// release, when non-nil, gives the port up. The Detector stores an
// Arbiter installed with SetArbiter but does not call it: serial ports
// are opened without arbitration whether or not one is set, and the
// serial.use_arbiter setting has no effect.
type Arbiter func(name string, granted func(ok bool)) (release func())

// Detector is the transport detector (C9): it rotates a configured set
// of protocol detectors over every watched transport, invoking each in
// turn until a caller reports success, per Transport_detector.
type Detector struct {
	sockets *reactor.Processor
	files   *fileproc.Processor
	log     *vsmlog.Logger

	worker  *request.Worker
	waiter  *request.Waiter
	container *request.Container
	timers  *request.TimerProcessor
	watchdog *request.Timer

	serialEnumerator SerialEnumerator
	serialOpener     SerialOpener
	arbiter          Arbiter

	mu         sync.Mutex
	active     bool
	excludes   []string
	useArbiter bool
	ports      map[string]*Port // keyed by pattern (serial) or endpoint (IP/CAN/pipe)
}

// New creates a Detector. log may be nil (defaults to discarding).
func New(sockets *reactor.Processor, files *fileproc.Processor, log *vsmlog.Logger) *Detector {
	if log == nil {
		log = vsmlog.Discard()
	}
	return &Detector{
		sockets:          sockets,
		files:            files,
		log:              log,
		serialEnumerator: platformEnumerateSerialPorts,
		serialOpener:     platformSerialOpener,
		useArbiter:       true,
		ports:            make(map[string]*Port),
		active:           true,
	}
}

// SetSerialOpener overrides the serial I/O backend (see SerialOpener).
func (d *Detector) SetSerialOpener(fn SerialOpener) { d.serialOpener = fn }

// SetSerialEnumerator overrides serial port enumeration (see SerialEnumerator).
func (d *Detector) SetSerialEnumerator(fn SerialEnumerator) { d.serialEnumerator = fn }

// SetArbiter stores a cross-process serial port arbiter (see Arbiter:
// serial opening does not consult it).
func (d *Detector) SetArbiter(a Arbiter) { d.arbiter = a }

// Activate enables/disables port polling, per Transport_detector::Activate.
func (d *Detector) Activate(activate bool) {
	d.mu.Lock()
	d.active = activate
	d.mu.Unlock()
}

// Enable starts the watchdog loop, per Transport_detector::On_enable.
func (d *Detector) Enable() {
	d.waiter = request.NewWaiter()
	d.container = request.NewContainer("transport detector", request.KindProcessor, d.waiter)
	d.container.Enable()
	d.worker = request.NewWorker("transport detector worker", d.waiter, d.container)
	d.worker.Start()
	d.timers = request.NewTimerProcessor()
	d.watchdog = d.timers.Schedule(watchdogInterval, d.container, func() bool {
		d.onTimer()
		return true
	})
}

// Disable stops the watchdog loop, per Transport_detector::On_disable.
func (d *Detector) Disable() {
	if d.watchdog != nil {
		d.watchdog.Cancel()
	}
	if d.timers != nil {
		d.timers.Stop()
	}
	if d.container != nil {
		d.container.Disable()
	}
	if d.worker != nil {
		d.worker.Stop()
	}
	d.mu.Lock()
	d.ports = make(map[string]*Port)
	d.excludes = nil
	d.mu.Unlock()
}

// AddDetector parses every "<prefix>.*" key in src and registers
// handler against each matching transport rule, per Transport_detector::
// Add_detector. Serial rules wait for a matching port to actually
// appear (detected by the watchdog); IP/CAN/pipe rules are registered
// immediately.
func (d *Detector) AddDetector(handler ConnectHandler, prefix string, src PropertySource) error {
	serials, excludes, useArbiter, ips, err := loadConfig(src, prefix)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.excludes = append(d.excludes, excludes...)
	d.useArbiter = useArbiter
	d.mu.Unlock()

	for _, rule := range ips {
		key := ipPortKey(rule)
		d.mu.Lock()
		p, ok := d.ports[key]
		if !ok {
			p = newIPPort(key, rule, d)
			d.ports[key] = p
		}
		d.mu.Unlock()
		p.addDetector(0, handler)
	}

	for _, rule := range serials {
		key := "serial:" + rule.pattern
		d.mu.Lock()
		p, ok := d.ports[key]
		if !ok {
			p = newSerialPort(rule.pattern, d)
			d.ports[key] = p
		}
		d.mu.Unlock()
		for _, baud := range rule.bauds {
			p.addDetector(baud, handler)
		}
	}

	return nil
}

func ipPortKey(rule ipRule) string {
	switch {
	case rule.canOrPipe != "":
		return rule.typ.String() + ":" + rule.canOrPipe
	default:
		return rule.typ.String() + ":" + rule.localAddr + "-" + rule.remoteAddr
	}
}

// ProtocolNotDetected reports that stream did not speak the expected
// protocol, per Transport_detector::Protocol_not_detected: the next
// configured detector gets a chance, once the watchdog allows.
func (d *Detector) ProtocolNotDetected(stream iostream.Stream) {
	d.mu.Lock()
	ports := make([]*Port, 0, len(d.ports))
	for _, p := range d.ports {
		ports = append(ports, p)
	}
	d.mu.Unlock()
	for _, p := range ports {
		p.protocolNotDetected(stream)
	}
}

func (d *Detector) blacklisted(name string) bool {
	d.mu.Lock()
	excludes := d.excludes
	d.mu.Unlock()
	for _, pattern := range excludes {
		if re, err := regexp.Compile(pattern); err == nil && re.MatchString(name) {
			return true
		}
	}
	return false
}

// onTimer is the watchdog tick: re-enumerate serial ports, claim newly
// discovered device names for the pattern Port they match (skipping
// blacklisted names), release claims for devices that vanished, and
// rotate every active Port, per Transport_detector::On_timer.
func (d *Detector) onTimer() {
	detected, err := d.serialEnumerator()
	if err != nil {
		detected = nil
	}
	sort.Strings(detected)
	detectedSet := make(map[string]bool, len(detected))
	for _, name := range detected {
		detectedSet[name] = true
	}

	d.mu.Lock()
	active := d.active
	ports := make([]*Port, 0, len(d.ports))
	for _, p := range d.ports {
		ports = append(ports, p)
	}
	d.mu.Unlock()

	claimed := make(map[string]bool, len(detected))
	for _, p := range ports {
		if p.typ != Serial {
			continue
		}
		if m := p.matchedName(); m != "" {
			claimed[m] = true
		}
		p.releaseIfGone(detectedSet[p.matchedName()])
	}

	for _, name := range detected {
		if claimed[name] || d.blacklisted(name) {
			continue
		}
		for _, p := range ports {
			if p.typ == Serial && p.claimIfMatches(name) {
				d.log.Info().Log("serial port detected")
				claimed[name] = true
				break
			}
		}
	}

	if !active {
		return
	}
	for _, p := range ports {
		p.onTimer()
	}
}
