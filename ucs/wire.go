package ucs

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers, per vsm_message.proto.
const (
	fieldPeerID            protowire.Number = 1
	fieldPeerType          protowire.Number = 2
	fieldVersionMajor      protowire.Number = 3
	fieldVersionMinor      protowire.Number = 4
	fieldVersionBuild      protowire.Number = 5
	fieldDeviceName        protowire.Number = 1
	fieldDeviceType        protowire.Number = 2
	fieldDevicePortName    protowire.Number = 3
	fieldDeviceSerial      protowire.Number = 4
	fieldValueDouble       protowire.Number = 1
	fieldValueInt          protowire.Number = 2
	fieldValueString       protowire.Number = 3
	fieldValueBool         protowire.Number = 4
	fieldValueMeta         protowire.Number = 5
	fieldTelemetryID       protowire.Number = 1
	fieldTelemetryValue    protowire.Number = 2
	fieldAvailabilityID    protowire.Number = 1
	fieldAvailabilityOK    protowire.Number = 2
	fieldStatusTelemetry   protowire.Number = 1
	fieldStatusAvailable   protowire.Number = 2
	fieldResponseCode      protowire.Number = 1
	fieldResponseStatus    protowire.Number = 2
	fieldResponseProgress  protowire.Number = 3
	fieldMsgDeviceID       protowire.Number = 1
	fieldMsgMessageID      protowire.Number = 2
	fieldMsgResponseReq    protowire.Number = 3
	fieldMsgRegisterPeer   protowire.Number = 4
	fieldMsgRegisterDevice protowire.Number = 5
	fieldMsgUnregisterDev  protowire.Number = 6
	fieldMsgDeviceStatus   protowire.Number = 7
	fieldMsgDeviceResponse protowire.Number = 8
	fieldMsgDeviceCommands protowire.Number = 9
	fieldCommandID         protowire.Number = 1
	fieldCommandArgs       protowire.Number = 2
)

var errMalformed = fmt.Errorf("ucs: malformed protobuf field")

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBoolField(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

func appendStringField(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, []byte(v))
}

func appendMessageField(b []byte, num protowire.Number, sub []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, sub)
}

func appendFixed32Field(b []byte, num protowire.Number, v float32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(v))
}

// consumeFieldValue advances past one field value of typ, returning an
// error if the wire data is truncated/malformed. Unknown fields are
// simply discarded, since this package owns both ends of the
// connection and never needs to round-trip them.
func consumeFieldValue(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return 0, errMalformed
	}
	return n, nil
}

// --- Register_peer ---

func marshalRegisterPeer(m *RegisterPeer) []byte {
	if m == nil {
		return nil
	}
	var b []byte
	b = appendVarintField(b, fieldPeerID, uint64(m.PeerID))
	b = appendVarintField(b, fieldPeerType, uint64(m.PeerType))
	b = appendVarintField(b, fieldVersionMajor, uint64(m.VersionMajor))
	b = appendVarintField(b, fieldVersionMinor, uint64(m.VersionMinor))
	b = appendStringField(b, fieldVersionBuild, m.VersionBuild)
	return b
}

func unmarshalRegisterPeer(data []byte) (*RegisterPeer, error) {
	m := &RegisterPeer{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, errMalformed
		}
		data = data[n:]
		switch num {
		case fieldPeerID:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, errMalformed
			}
			m.PeerID = uint32(v)
			data = data[n:]
		case fieldPeerType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, errMalformed
			}
			m.PeerType = PeerType(v)
			data = data[n:]
		case fieldVersionMajor:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, errMalformed
			}
			m.VersionMajor = uint32(v)
			data = data[n:]
		case fieldVersionMinor:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, errMalformed
			}
			m.VersionMinor = uint32(v)
			data = data[n:]
		case fieldVersionBuild:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errMalformed
			}
			m.VersionBuild = string(v)
			data = data[n:]
		default:
			n, err := consumeFieldValue(num, typ, data)
			if err != nil {
				return nil, err
			}
			data = data[n:]
		}
	}
	return m, nil
}

// --- Register_device ---

func marshalRegisterDevice(m *RegisterDevice) []byte {
	if m == nil {
		return nil
	}
	var b []byte
	b = appendStringField(b, fieldDeviceName, m.Name)
	b = appendStringField(b, fieldDeviceType, m.Type)
	b = appendStringField(b, fieldDevicePortName, m.PortName)
	b = appendStringField(b, fieldDeviceSerial, m.SerialNumber)
	return b
}

func unmarshalRegisterDevice(data []byte) (*RegisterDevice, error) {
	m := &RegisterDevice{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, errMalformed
		}
		data = data[n:]
		switch num {
		case fieldDeviceName:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errMalformed
			}
			m.Name = string(v)
			data = data[n:]
		case fieldDeviceType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errMalformed
			}
			m.Type = string(v)
			data = data[n:]
		case fieldDevicePortName:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errMalformed
			}
			m.PortName = string(v)
			data = data[n:]
		case fieldDeviceSerial:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errMalformed
			}
			m.SerialNumber = string(v)
			data = data[n:]
		default:
			n, err := consumeFieldValue(num, typ, data)
			if err != nil {
				return nil, err
			}
			data = data[n:]
		}
	}
	return m, nil
}

// --- Value ---

func marshalValue(v Value) []byte {
	var b []byte
	switch v.Kind {
	case ValueKindDouble:
		b = protowire.AppendTag(b, fieldValueDouble, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(v.Double))
	case ValueKindInt:
		b = protowire.AppendTag(b, fieldValueInt, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(v.Int))
	case ValueKindString:
		b = appendStringField(b, fieldValueString, v.String)
	case ValueKindBool:
		b = protowire.AppendTag(b, fieldValueBool, protowire.VarintType)
		bv := uint64(0)
		if v.Bool {
			bv = 1
		}
		b = protowire.AppendVarint(b, bv)
	}
	b = appendVarintField(b, fieldValueMeta, uint64(v.Meta))
	return b
}

func unmarshalValue(data []byte) (Value, error) {
	var v Value
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return v, errMalformed
		}
		data = data[n:]
		switch num {
		case fieldValueDouble:
			raw, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return v, errMalformed
			}
			v.Kind = ValueKindDouble
			v.Double = math.Float64frombits(raw)
			data = data[n:]
		case fieldValueInt:
			raw, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return v, errMalformed
			}
			v.Kind = ValueKindInt
			v.Int = protowire.DecodeZigZag(raw)
			data = data[n:]
		case fieldValueString:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return v, errMalformed
			}
			v.Kind = ValueKindString
			v.String = string(raw)
			data = data[n:]
		case fieldValueBool:
			raw, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return v, errMalformed
			}
			v.Kind = ValueKindBool
			v.Bool = raw != 0
			data = data[n:]
		case fieldValueMeta:
			raw, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return v, errMalformed
			}
			v.Meta = MetaValue(raw)
			data = data[n:]
		default:
			n, err := consumeFieldValue(num, typ, data)
			if err != nil {
				return v, err
			}
			data = data[n:]
		}
	}
	return v, nil
}

// --- Telemetry_field / Command_availability / Device_status ---

func marshalTelemetryField(f TelemetryField) []byte {
	var b []byte
	b = appendVarintField(b, fieldTelemetryID, uint64(f.FieldID))
	b = appendMessageField(b, fieldTelemetryValue, marshalValue(f.Value))
	return b
}

func unmarshalTelemetryField(data []byte) (TelemetryField, error) {
	var f TelemetryField
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return f, errMalformed
		}
		data = data[n:]
		switch num {
		case fieldTelemetryID:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return f, errMalformed
			}
			f.FieldID = uint32(v)
			data = data[n:]
		case fieldTelemetryValue:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return f, errMalformed
			}
			val, err := unmarshalValue(raw)
			if err != nil {
				return f, err
			}
			f.Value = val
			data = data[n:]
		default:
			n, err := consumeFieldValue(num, typ, data)
			if err != nil {
				return f, err
			}
			data = data[n:]
		}
	}
	return f, nil
}

func marshalCommandAvailability(a CommandAvailability) []byte {
	var b []byte
	b = appendVarintField(b, fieldAvailabilityID, uint64(a.ID))
	b = appendBoolField(b, fieldAvailabilityOK, a.Available)
	return b
}

func unmarshalCommandAvailability(data []byte) (CommandAvailability, error) {
	var a CommandAvailability
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return a, errMalformed
		}
		data = data[n:]
		switch num {
		case fieldAvailabilityID:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return a, errMalformed
			}
			a.ID = uint32(v)
			data = data[n:]
		case fieldAvailabilityOK:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return a, errMalformed
			}
			a.Available = v != 0
			data = data[n:]
		default:
			n, err := consumeFieldValue(num, typ, data)
			if err != nil {
				return a, err
			}
			data = data[n:]
		}
	}
	return a, nil
}

func marshalDeviceStatus(m *DeviceStatus) []byte {
	if m == nil {
		return nil
	}
	var b []byte
	for _, f := range m.TelemetryFields {
		b = appendMessageField(b, fieldStatusTelemetry, marshalTelemetryField(f))
	}
	for _, a := range m.CommandAvailability {
		b = appendMessageField(b, fieldStatusAvailable, marshalCommandAvailability(a))
	}
	return b
}

func unmarshalDeviceStatus(data []byte) (*DeviceStatus, error) {
	m := &DeviceStatus{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, errMalformed
		}
		data = data[n:]
		switch num {
		case fieldStatusTelemetry:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errMalformed
			}
			f, err := unmarshalTelemetryField(raw)
			if err != nil {
				return nil, err
			}
			m.TelemetryFields = append(m.TelemetryFields, f)
			data = data[n:]
		case fieldStatusAvailable:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errMalformed
			}
			a, err := unmarshalCommandAvailability(raw)
			if err != nil {
				return nil, err
			}
			m.CommandAvailability = append(m.CommandAvailability, a)
			data = data[n:]
		default:
			n, err := consumeFieldValue(num, typ, data)
			if err != nil {
				return nil, err
			}
			data = data[n:]
		}
	}
	return m, nil
}

// --- Device_command ---

func marshalDeviceCommand(c DeviceCommand) []byte {
	var b []byte
	b = appendVarintField(b, fieldCommandID, uint64(c.ID))
	for _, arg := range c.Arguments {
		b = appendMessageField(b, fieldCommandArgs, marshalValue(arg))
	}
	return b
}

func unmarshalDeviceCommand(data []byte) (DeviceCommand, error) {
	var c DeviceCommand
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return c, errMalformed
		}
		data = data[n:]
		switch num {
		case fieldCommandID:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return c, errMalformed
			}
			c.ID = uint32(v)
			data = data[n:]
		case fieldCommandArgs:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return c, errMalformed
			}
			v, err := unmarshalValue(raw)
			if err != nil {
				return c, err
			}
			c.Arguments = append(c.Arguments, v)
			data = data[n:]
		default:
			n, err := consumeFieldValue(num, typ, data)
			if err != nil {
				return c, err
			}
			data = data[n:]
		}
	}
	return c, nil
}

// --- Device_response ---

func marshalDeviceResponse(m *DeviceResponse) []byte {
	if m == nil {
		return nil
	}
	var b []byte
	b = appendVarintField(b, fieldResponseCode, uint64(m.Code))
	b = appendStringField(b, fieldResponseStatus, m.Status)
	b = appendFixed32Field(b, fieldResponseProgress, m.Progress)
	return b
}

func unmarshalDeviceResponse(data []byte) (*DeviceResponse, error) {
	m := &DeviceResponse{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, errMalformed
		}
		data = data[n:]
		switch num {
		case fieldResponseCode:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, errMalformed
			}
			m.Code = StatusCode(v)
			data = data[n:]
		case fieldResponseStatus:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errMalformed
			}
			m.Status = string(v)
			data = data[n:]
		case fieldResponseProgress:
			raw, n := protowire.ConsumeFixed32(data)
			if n < 0 {
				return nil, errMalformed
			}
			m.Progress = math.Float32frombits(raw)
			data = data[n:]
		default:
			n, err := consumeFieldValue(num, typ, data)
			if err != nil {
				return nil, err
			}
			data = data[n:]
		}
	}
	return m, nil
}

// --- Vsm_message ---

// Marshal renders m in the Vsm_message wire format, per
// Cucs_processor::Send_ucs_message's SerializeToArray call (minus the
// varint length prefix, which framing.go's writeMessage prepends).
func Marshal(m *VsmMessage) []byte {
	var b []byte
	b = appendVarintField(b, fieldMsgDeviceID, uint64(m.DeviceID))
	if m.MessageID != nil {
		b = protowire.AppendTag(b, fieldMsgMessageID, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(*m.MessageID))
	}
	if m.ResponseRequired != nil {
		b = protowire.AppendTag(b, fieldMsgResponseReq, protowire.VarintType)
		v := uint64(0)
		if *m.ResponseRequired {
			v = 1
		}
		b = protowire.AppendVarint(b, v)
	}
	if m.RegisterPeer != nil {
		b = appendMessageField(b, fieldMsgRegisterPeer, marshalRegisterPeer(m.RegisterPeer))
	}
	if m.RegisterDevice != nil {
		b = appendMessageField(b, fieldMsgRegisterDevice, marshalRegisterDevice(m.RegisterDevice))
	}
	if m.UnregisterDevice != nil {
		b = appendMessageField(b, fieldMsgUnregisterDev, nil)
	}
	if m.DeviceStatus != nil {
		b = appendMessageField(b, fieldMsgDeviceStatus, marshalDeviceStatus(m.DeviceStatus))
	}
	if m.DeviceResponse != nil {
		b = appendMessageField(b, fieldMsgDeviceResponse, marshalDeviceResponse(m.DeviceResponse))
	}
	for _, cmd := range m.DeviceCommands {
		b = appendMessageField(b, fieldMsgDeviceCommands, marshalDeviceCommand(cmd))
	}
	return b
}

// Unmarshal parses a Vsm_message payload, per
// Cucs_processor::Read_completed's ParseFromArray call.
func Unmarshal(data []byte) (*VsmMessage, error) {
	m := &VsmMessage{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, errMalformed
		}
		data = data[n:]
		switch num {
		case fieldMsgDeviceID:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, errMalformed
			}
			m.DeviceID = uint32(v)
			data = data[n:]
		case fieldMsgMessageID:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, errMalformed
			}
			id := uint32(v)
			m.MessageID = &id
			data = data[n:]
		case fieldMsgResponseReq:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, errMalformed
			}
			b := v != 0
			m.ResponseRequired = &b
			data = data[n:]
		case fieldMsgRegisterPeer:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errMalformed
			}
			sub, err := unmarshalRegisterPeer(raw)
			if err != nil {
				return nil, err
			}
			m.RegisterPeer = sub
			data = data[n:]
		case fieldMsgRegisterDevice:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errMalformed
			}
			sub, err := unmarshalRegisterDevice(raw)
			if err != nil {
				return nil, err
			}
			m.RegisterDevice = sub
			data = data[n:]
		case fieldMsgUnregisterDev:
			_, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errMalformed
			}
			m.UnregisterDevice = &UnregisterDevice{}
			data = data[n:]
		case fieldMsgDeviceStatus:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errMalformed
			}
			sub, err := unmarshalDeviceStatus(raw)
			if err != nil {
				return nil, err
			}
			m.DeviceStatus = sub
			data = data[n:]
		case fieldMsgDeviceResponse:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errMalformed
			}
			sub, err := unmarshalDeviceResponse(raw)
			if err != nil {
				return nil, err
			}
			m.DeviceResponse = sub
			data = data[n:]
		case fieldMsgDeviceCommands:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errMalformed
			}
			cmd, err := unmarshalDeviceCommand(raw)
			if err != nil {
				return nil, err
			}
			m.DeviceCommands = append(m.DeviceCommands, cmd)
			data = data[n:]
		default:
			n, err := consumeFieldValue(num, typ, data)
			if err != nil {
				return nil, err
			}
			data = data[n:]
		}
	}
	return m, nil
}
