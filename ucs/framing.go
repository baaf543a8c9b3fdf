package ucs

import (
	"sync/atomic"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ugcs/vsm-go/iostream"
)

// scheduleHeaderRead arms a single-byte read for the next varint length
// prefix byte, per Cucs_processor::Schedule_next_read's reading_header
// branch.
func (c *Cucs) scheduleHeaderRead(conn *connection) {
	timeout := time.Duration(0)
	if _, known := conn.getUCSID(); !known {
		timeout = registerPeerTimeout
	}
	ow := conn.stream.Read(1, 1, iostream.OffsetNone, func(data []byte, result iostream.Result) {
		if result != iostream.ResultOK {
			c.closeConnection(conn.id)
			return
		}
		c.onHeaderByte(conn, data[0])
	})
	if timeout > 0 {
		ow.Timeout(timeout, func() { c.closeConnection(conn.id) }, true)
	}
}

// onHeaderByte accumulates one 7-bit group of the LEB128 message length,
// per Read_completed's shift/message_size bookkeeping, and enforces
// Config.MaxMessageSize in place of PROTO_MAX_MESSAGE_LEN.
func (c *Cucs) onHeaderByte(conn *connection, b byte) {
	conn.messageSize |= uint64(b&0x7f) << conn.shift

	if conn.messageSize > uint64(c.cfg.MaxMessageSize) {
		c.log.Err().Log("inbound message exceeds the configured size limit")
		c.closeConnection(conn.id)
		return
	}

	if b&0x80 != 0 {
		conn.shift += 7
		c.scheduleHeaderRead(conn)
		return
	}

	size := conn.messageSize
	conn.messageSize = 0
	conn.shift = 0

	if size == 0 {
		c.scheduleHeaderRead(conn)
		return
	}

	conn.stream.Read(int(size), int(size), iostream.OffsetNone, func(data []byte, result iostream.Result) {
		if result != iostream.ResultOK {
			c.closeConnection(conn.id)
			return
		}
		c.onPayload(conn, data)
		c.scheduleHeaderRead(conn)
	})
}

// onPayload parses one frame and dispatches it, per
// Cucs_processor::Read_completed's message-type branches.
func (c *Cucs) onPayload(conn *connection, data []byte) {
	msg, err := Unmarshal(data)
	if err != nil {
		c.log.Err().Log("failed to parse inbound ucs message")
		c.closeConnection(conn.id)
		return
	}

	_, known := conn.getUCSID()
	if !known {
		if msg.RegisterPeer == nil {
			c.log.Warning().Log("first message on a ucs connection was not register_peer")
			c.closeConnection(conn.id)
			return
		}
		reg := msg.RegisterPeer
		if reg.PeerType != PeerTypeServer {
			c.log.Warning().Log("rejecting ucs connection with unexpected peer type")
			c.closeConnection(conn.id)
			return
		}
		c.onPeerRegistered(conn, reg.PeerID)
		return
	}

	if msg.DeviceResponse != nil {
		if deviceID, pending := conn.takePendingRegistration(msg.GetMessageID()); pending {
			c.onRegistrationResponse(conn, deviceID, msg.DeviceResponse)
			return
		}
	}

	c.dispatchToDevice(conn, msg)
}

// onPeerRegistered runs the primary-connection election, per
// Read_completed's register_peer branch: scan every other connection
// for the same ucs id (conn's own id is still unset at this point, so
// the scan never matches itself), and - if the current primary exists -
// hand primary status to whichever of the two is on loopback.
func (c *Cucs) onPeerRegistered(conn *connection, peerID uint32) {
	c.mu.Lock()
	dupe := false
	for _, other := range c.connections {
		otherID, ok := other.getUCSID()
		if !ok || otherID != peerID {
			continue
		}
		dupe = true
		if other.isPrimary() {
			if !other.isLoopback() || conn.isLoopback() {
				other.setPrimary(false)
				conn.setPrimary(true)
			}
			break
		}
	}
	c.mu.Unlock()

	conn.setUCSID(peerID)
	if !dupe {
		conn.setPrimary(true)
	}

	c.sendKnownDeviceRegistrations(conn)
}

// sendKnownDeviceRegistrations replays every registered device's
// register_device message to a freshly-registered peer, per
// Cucs_processor::Send_vehicle_registrations.
func (c *Cucs) sendKnownDeviceRegistrations(conn *connection) {
	c.mu.Lock()
	msgs := make([]*VsmMessage, 0, len(c.devices))
	for _, ctx := range c.devices {
		msgs = append(msgs, ctx.registration)
	}
	c.mu.Unlock()
	for _, m := range msgs {
		c.sendToConnection(conn, m)
	}
}

// onRegistrationResponse handles a device_response to a pending
// register_device, per Read_completed's device_response branch.
func (c *Cucs) onRegistrationResponse(conn *connection, deviceID uint32, resp *DeviceResponse) {
	switch resp.Code {
	case StatusOK:
		conn.markDeviceRegistered(deviceID)
		c.resyncDevice(conn, deviceID)
	case StatusInProgress:
		c.log.Info().Log("device registration in progress")
	default:
		c.log.Warning().Log("device registration rejected by ucs")
	}
}

// resyncDevice sends the device's full cached telemetry/availability
// state as a fresh device_status, per Read_completed's post-registration
// resync burst. META_VALUE_NA fields are excluded, matching the
// original's has_meta_value()/META_VALUE_NA filter. Nothing is sent when
// the device has no cached fields or availability records.
func (c *Cucs) resyncDevice(conn *connection, deviceID uint32) {
	c.mu.Lock()
	ctx, ok := c.devices[deviceID]
	var status DeviceStatus
	if ok {
		for _, f := range ctx.telemetryCache {
			if f.Value.Meta != MetaValueNA {
				status.TelemetryFields = append(status.TelemetryFields, f)
			}
		}
		for _, a := range ctx.availabilityCache {
			status.CommandAvailability = append(status.CommandAvailability, a)
		}
	}
	c.mu.Unlock()
	if !ok || (len(status.TelemetryFields) == 0 && len(status.CommandAvailability) == 0) {
		return
	}
	c.sendToConnection(conn, &VsmMessage{DeviceID: deviceID, DeviceStatus: &status})
}

// dispatchToDevice routes an inbound message to its target device, per
// Cucs_processor::On_ucs_message.
func (c *Cucs) dispatchToDevice(conn *connection, msg *VsmMessage) {
	c.mu.Lock()
	ctx, ok := c.devices[msg.DeviceID]
	c.mu.Unlock()

	if !msg.IsResponseRequired() {
		if !ok {
			c.log.Err().Log("message for unregistered device dropped")
			return
		}
		ctx.device.OnUCSMessage(msg, nil)
		return
	}

	msgID := msg.GetMessageID()
	respond := func(resp *DeviceResponse) {
		reply := &VsmMessage{DeviceID: msg.DeviceID, DeviceResponse: resp}
		reply.SetMessageID(msgID)
		c.sendToConnection(conn, reply)
	}

	if !ok {
		respond(&DeviceResponse{Code: StatusInvalidSessionID})
		return
	}
	ctx.device.OnUCSMessage(msg, respond)
}

// sendToConnection applies the per-connection send-side gating and
// framing, per the original's private Send_ucs_message(stream_id,
// message) overload.
func (c *Cucs) sendToConnection(conn *connection, message *VsmMessage) {
	_, known := conn.getUCSID()
	if !known {
		if message.RegisterPeer == nil {
			c.log.Err().Log("refusing to send a non-register_peer message before peer registration")
			return
		}
	} else if message.RegisterDevice != nil {
		id := atomic.AddUint32(&c.nextID, 1)
		message.SetMessageID(id)
		message.SetResponseRequired(true)
		conn.trackPendingRegistration(id, message.DeviceID)
	} else if message.RegisterPeer == nil && message.DeviceResponse == nil {
		// Responses are not gated, so a request for an unknown device
		// can still be answered with StatusInvalidSessionID.
		if !conn.isDeviceRegistered(message.DeviceID) {
			return
		}
		if message.UnregisterDevice != nil {
			conn.forgetDevice(message.DeviceID)
		}
	}

	if message.MessageID == nil && message.IsResponseRequired() {
		message.SetMessageID(atomic.AddUint32(&c.nextID, 1))
	}

	c.writeMessage(conn, message)
}

// writeMessage serializes message and prefixes it with its LEB128
// varint length, per Send_ucs_message's manual length-prefix loop
// followed by SerializeToArray.
func (c *Cucs) writeMessage(conn *connection, message *VsmMessage) {
	payload := Marshal(message)
	buf := protowire.AppendVarint(nil, uint64(len(payload)))
	buf = append(buf, payload...)

	ow := conn.stream.Write(buf, iostream.OffsetNone, func(result iostream.Result) {
		if result != iostream.ResultOK {
			c.closeConnection(conn.id)
		}
	})
	ow.Timeout(writeTimeout, func() { c.closeConnection(conn.id) }, true)
}
