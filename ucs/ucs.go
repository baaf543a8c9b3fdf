// Package ucs implements the UCS multiplexer (Cucs): the TCP endpoint
// a VSM process exposes to a Universal Ground Control Station, and the
// peer registration, device registration/resync and message routing
// state that sits behind it. It is grounded on Cucs_processor, the only
// UCS-side source file retrieved for this module (there is no header or
// .proto alongside it - see DESIGN.md for how the wire schema in
// message.go/wire.go was reconstructed).
package ucs

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ugcs/vsm-go/detector"
	"github.com/ugcs/vsm-go/internal/vsmerr"
	"github.com/ugcs/vsm-go/internal/vsmlog"
	"github.com/ugcs/vsm-go/iostream"
	"github.com/ugcs/vsm-go/reactor"
)

const (
	// defaultMaxMessageSize bounds the length-prefixed frame size Cucs
	// will accept before closing the connection, per PROTO_MAX_MESSAGE_LEN.
	// Config.MaxMessageSize defaults to this when unset (see DESIGN.md's
	// Open Question decision).
	defaultMaxMessageSize = 1 << 20

	registerPeerTimeout = 10 * time.Second
	writeTimeout        = 5 * time.Second
)

// Config tunes Cucs behaviour. The zero Config is valid; every field
// defaults as documented.
type Config struct {
	// MaxMessageSize caps a single inbound frame's payload length.
	// Zero means defaultMaxMessageSize.
	MaxMessageSize int

	// KeepDetectorActiveWhenDisconnected mirrors
	// ucs.transport_detector_on_when_diconnected: when true, the
	// transport detector keeps scanning for new UCS connections even
	// while one is already established; when false (the original's
	// default), detection is paused once a connection exists and
	// resumes once the last one closes.
	KeepDetectorActiveWhenDisconnected bool
}

// Device is implemented by whatever owns a registered vehicle/payload;
// Cucs only knows devices through this interface, keeping the vehicle
// object model out of this package per spec.md's non-goals.
type Device interface {
	// ID returns this device's stable session identifier.
	ID() uint32
	// FillRegisterMessage populates msg with this device's
	// register_device payload, per Vsm::Device::Fill_register_msg.
	FillRegisterMessage(msg *VsmMessage)
	// OnUCSMessage handles an inbound message addressed to this device.
	// respond is nil unless the message requires a response, in which
	// case it must be invoked exactly once (synchronously or later)
	// with the final outcome.
	OnUCSMessage(msg *VsmMessage, respond func(*DeviceResponse))
}

type deviceContext struct {
	device            Device
	registration      *VsmMessage
	telemetryCache    map[uint32]TelemetryField
	availabilityCache map[uint32]CommandAvailability
}

// Cucs is the UCS connection multiplexer (C11). One instance serves
// every UCS connection a VSM process accepts.
type Cucs struct {
	log      *vsmlog.Logger
	cfg      Config
	detector *detector.Detector
	instance uint32 // this process's peer_id, per Get_application_instance_id

	nextID uint32 // shared stream-id/message-id counter, per ucs_id_counter

	mu          sync.Mutex
	connections map[uint32]*connection
	devices     map[uint32]*deviceContext
}

// New creates a Cucs bound to det for incoming connection detection.
// log may be nil (defaults to discarding).
func New(det *detector.Detector, cfg Config, log *vsmlog.Logger) *Cucs {
	if log == nil {
		log = vsmlog.Discard()
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	id := uuid.New()
	return &Cucs{
		log:         log,
		cfg:         cfg,
		detector:    det,
		instance:    binary.BigEndian.Uint32(id[:4]),
		connections: make(map[uint32]*connection),
		devices:     make(map[uint32]*deviceContext),
	}
}

// Enable registers the incoming-connection handler with the transport
// detector under prefix (e.g. "ucs"), per Cucs_processor::On_enable.
func (c *Cucs) Enable(prefix string, src detector.PropertySource) error {
	return c.detector.AddDetector(c.onIncomingConnection, prefix, src)
}

// Disable closes every open connection, per Cucs_processor::On_disable.
// Devices must already be unregistered; Disable does not forcibly evict
// them.
func (c *Cucs) Disable() {
	c.mu.Lock()
	ids := make([]uint32, 0, len(c.connections))
	for id := range c.connections {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	for _, id := range ids {
		c.closeConnection(id)
	}
}

// RegisterDevice adds device and broadcasts its registration to every
// primary UCS connection, per Cucs_processor::On_register_vehicle.
func (c *Cucs) RegisterDevice(device Device) error {
	id := device.ID()

	c.mu.Lock()
	if _, exists := c.devices[id]; exists {
		c.mu.Unlock()
		return vsmerr.New(vsmerr.InvalidParam, "device already registered")
	}
	reg := &VsmMessage{DeviceID: id}
	device.FillRegisterMessage(reg)
	c.devices[id] = &deviceContext{
		device:            device,
		registration:      reg,
		telemetryCache:    make(map[uint32]TelemetryField),
		availabilityCache: make(map[uint32]CommandAvailability),
	}
	c.mu.Unlock()

	c.broadcast(reg)
	return nil
}

// UnregisterDevice removes device and tells every primary connection to
// drop it, per Cucs_processor::On_unregister_vehicle.
func (c *Cucs) UnregisterDevice(deviceID uint32) error {
	c.mu.Lock()
	if _, exists := c.devices[deviceID]; !exists {
		c.mu.Unlock()
		return vsmerr.New(vsmerr.InvalidID, "unknown device id")
	}
	delete(c.devices, deviceID)
	c.mu.Unlock()

	c.broadcast(&VsmMessage{DeviceID: deviceID, UnregisterDevice: &UnregisterDevice{}})
	return nil
}

// SendDeviceMessage updates the device's telemetry/availability cache
// (if msg carries a device_status) then broadcasts msg to every primary
// connection, per Cucs_processor::On_send_ucs_message.
func (c *Cucs) SendDeviceMessage(deviceID uint32, msg *VsmMessage) {
	c.mu.Lock()
	ctx, ok := c.devices[deviceID]
	if ok && msg.DeviceStatus != nil {
		for _, f := range msg.DeviceStatus.TelemetryFields {
			ctx.telemetryCache[f.FieldID] = f
		}
		for _, a := range msg.DeviceStatus.CommandAvailability {
			ctx.availabilityCache[a.ID] = a
		}
	}
	c.mu.Unlock()
	if !ok {
		c.log.Err().Log("message for unknown device dropped")
		return
	}
	msg.DeviceID = deviceID
	c.broadcast(msg)
}

// broadcast sends msg to every primary connection, per
// Cucs_processor::Broadcast_message_to_ucs. The same *msg is reused and
// mutated across connections (message id, response_required) exactly
// as the original does, since each call happens sequentially here.
func (c *Cucs) broadcast(msg *VsmMessage) {
	c.mu.Lock()
	conns := make([]*connection, 0, len(c.connections))
	for _, conn := range c.connections {
		if conn.isPrimary() {
			conns = append(conns, conn)
		}
	}
	c.mu.Unlock()
	for _, conn := range conns {
		c.sendToConnection(conn, msg)
	}
}

// onIncomingConnection is the detector.ConnectHandler Enable registers.
// Only TCP transports make sense for a UCS connection; anything else is
// rejected, per On_incoming_connection's dynamic_pointer_cast check.
func (c *Cucs) onIncomingConnection(name string, baud int, stream iostream.Stream) {
	rs, ok := stream.(*reactor.Stream)
	if !ok || rs.Type() != iostream.TypeTCP {
		stream.Close(nil)
		return
	}

	id := atomic.AddUint32(&c.nextID, 1)
	conn := newConnection(id, stream, rs.PeerAddress())

	c.mu.Lock()
	c.connections[id] = conn
	wasEmpty := len(c.connections) == 1
	c.mu.Unlock()

	if wasEmpty && !c.cfg.KeepDetectorActiveWhenDisconnected {
		c.detector.Activate(false)
	}

	c.scheduleHeaderRead(conn)

	hello := &VsmMessage{RegisterPeer: &RegisterPeer{
		PeerID:   c.instance,
		PeerType: PeerTypeVSM,
	}}
	c.sendToConnection(conn, hello)
}

func (c *Cucs) closeConnection(id uint32) {
	c.mu.Lock()
	conn, ok := c.connections[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.connections, id)
	empty := len(c.connections) == 0
	remaining := make([]*connection, 0, len(c.connections))
	for _, other := range c.connections {
		remaining = append(remaining, other)
	}
	c.mu.Unlock()

	conn.stream.Close(nil)

	// Primary reassignment, per Cucs_processor::Close_ucs_stream:
	// prefer another loopback connection sharing the same ucs id, else
	// whichever is found first.
	if conn.isPrimary() {
		if ucsID, hadID := conn.getUCSID(); hadID {
			reassigned := false
			for _, other := range remaining {
				if otherID, ok := other.getUCSID(); ok && otherID == ucsID && other.isLoopback() {
					other.setPrimary(true)
					reassigned = true
					break
				}
			}
			if !reassigned {
				for _, other := range remaining {
					if otherID, ok := other.getUCSID(); ok && otherID == ucsID {
						other.setPrimary(true)
						break
					}
				}
			}
		}
	}

	if empty && !c.cfg.KeepDetectorActiveWhenDisconnected {
		c.detector.Activate(true)
	}
}
