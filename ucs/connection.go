package ucs

import (
	"net"
	"sync"

	"github.com/ugcs/vsm-go/iostream"
)

// connection is one UCS TCP socket, per Cucs_processor::Server_context.
// The registration/framing state it tracks (ucs id, primary flag,
// registered devices, pending register_device responses) lives here
// instead of in a map keyed by stream id, since every field is only
// ever touched while handling that connection's own reads/writes.
type connection struct {
	id     uint32
	stream iostream.Stream
	addr   net.Addr // peer address, nil if unavailable; used for loopback/primary election

	// Read-side varint length header accumulator. Owned by the single
	// goroutine driving this connection's read chain, so it needs no
	// lock of its own.
	messageSize uint64
	shift       uint

	mu                   sync.Mutex
	ucsID                *uint32
	primary              bool
	registeredDevices    map[uint32]struct{}
	pendingRegistrations map[uint32]uint32 // message_id -> device_id
}

func newConnection(id uint32, stream iostream.Stream, addr net.Addr) *connection {
	return &connection{
		id:                   id,
		stream:               stream,
		addr:                 addr,
		registeredDevices:    make(map[uint32]struct{}),
		pendingRegistrations: make(map[uint32]uint32),
	}
}

func (c *connection) getUCSID() (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ucsID == nil {
		return 0, false
	}
	return *c.ucsID, true
}

func (c *connection) setUCSID(id uint32) {
	c.mu.Lock()
	c.ucsID = &id
	c.mu.Unlock()
}

func (c *connection) isPrimary() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.primary
}

func (c *connection) setPrimary(v bool) {
	c.mu.Lock()
	c.primary = v
	c.mu.Unlock()
}

// isLoopback reports whether the peer connected over loopback, per the
// original's connection.address->Is_loopback_address().
func (c *connection) isLoopback() bool {
	if c.addr == nil {
		return false
	}
	host := c.addr.String()
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (c *connection) isDeviceRegistered(deviceID uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.registeredDevices[deviceID]
	return ok
}

func (c *connection) markDeviceRegistered(deviceID uint32) {
	c.mu.Lock()
	c.registeredDevices[deviceID] = struct{}{}
	c.mu.Unlock()
}

func (c *connection) forgetDevice(deviceID uint32) {
	c.mu.Lock()
	delete(c.registeredDevices, deviceID)
	for msgID, did := range c.pendingRegistrations {
		if did == deviceID {
			delete(c.pendingRegistrations, msgID)
			break
		}
	}
	c.mu.Unlock()
}

func (c *connection) trackPendingRegistration(msgID, deviceID uint32) {
	c.mu.Lock()
	c.pendingRegistrations[msgID] = deviceID
	c.mu.Unlock()
}

// takePendingRegistration looks up and removes a pending register_device
// response by message id, per the original's pending_registrations map.
func (c *connection) takePendingRegistration(msgID uint32) (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	deviceID, ok := c.pendingRegistrations[msgID]
	if ok {
		delete(c.pendingRegistrations, msgID)
	}
	return deviceID, ok
}
