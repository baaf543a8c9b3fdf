package ucs

// Message types mirror Vsm_message and its nested payloads, per
// cucs_processor.cpp. Field numbers are documented in
// vsm_message.proto and implemented directly in wire.go against
// google.golang.org/protobuf/encoding/protowire (see DESIGN.md for why
// this isn't protoc-generated code).
//
// Optional scalar fields that the original distinguishes from their
// zero value via has_xxx() accessors (message_id, response_required)
// are *pointer* fields here, matching protoc-gen-go's own convention
// for proto2/proto3-optional scalars. Every other optional field is a
// nested message pointer, which is already nil-checkable.

type PeerType int32

const (
	PeerTypeServer PeerType = 0
	PeerTypeVSM    PeerType = 1
)

type StatusCode int32

const (
	StatusOK               StatusCode = 0
	StatusInProgress       StatusCode = 1
	StatusFailed           StatusCode = 2
	StatusInvalidSessionID StatusCode = 3
	StatusInvalidParam     StatusCode = 4
)

type MetaValue int32

const (
	MetaValueNone MetaValue = 0
	MetaValueNA   MetaValue = 1
)

// RegisterPeer is the handshake payload each side sends first.
type RegisterPeer struct {
	PeerID       uint32
	PeerType     PeerType
	VersionMajor uint32
	VersionMinor uint32
	VersionBuild string
}

// RegisterDevice announces a new device/vehicle to the UCS.
type RegisterDevice struct {
	Name         string
	Type         string
	PortName     string
	SerialNumber string
}

// UnregisterDevice removes a previously registered device.
type UnregisterDevice struct{}

// ValueKind discriminates Value's oneof.
type ValueKind int

const (
	ValueKindNone ValueKind = iota
	ValueKindDouble
	ValueKindInt
	ValueKindString
	ValueKindBool
)

// Value is a telemetry field's payload: exactly one of Double/Int/
// String/Bool is meaningful per Kind, matching the original's oneof.
type Value struct {
	Kind   ValueKind
	Double float64
	Int    int64
	String string
	Bool   bool
	Meta   MetaValue
}

func DoubleValue(v float64) Value { return Value{Kind: ValueKindDouble, Double: v} }
func IntValue(v int64) Value      { return Value{Kind: ValueKindInt, Int: v} }
func StringValue(v string) Value  { return Value{Kind: ValueKindString, String: v} }
func BoolValue(v bool) Value      { return Value{Kind: ValueKindBool, Bool: v} }
func NAValue() Value              { return Value{Meta: MetaValueNA} }

type TelemetryField struct {
	FieldID uint32
	Value   Value
}

type CommandAvailability struct {
	ID        uint32
	Available bool
}

// DeviceStatus is the telemetry/availability burst sent on resync and
// on every subsequent update, per Cucs_processor::On_send_ucs_message.
type DeviceStatus struct {
	TelemetryFields     []TelemetryField
	CommandAvailability []CommandAvailability
}

// DeviceResponse answers a request that set response_required=true.
type DeviceResponse struct {
	Code     StatusCode
	Status   string
	Progress float32
}

// DeviceCommand is an outgoing command addressed to a device. Cucs
// forwards these opaquely to the target Device; it never inspects ID
// or Arguments itself.
type DeviceCommand struct {
	ID        uint32
	Arguments []Value
}

// VsmMessage is the single envelope type exchanged over a UCS
// connection, per ugcs::vsm::proto::Vsm_message.
type VsmMessage struct {
	DeviceID         uint32
	MessageID        *uint32
	ResponseRequired *bool
	RegisterPeer     *RegisterPeer
	RegisterDevice   *RegisterDevice
	UnregisterDevice *UnregisterDevice
	DeviceStatus     *DeviceStatus
	DeviceResponse   *DeviceResponse
	DeviceCommands   []DeviceCommand
}

func (m *VsmMessage) HasMessageID() bool { return m.MessageID != nil }

func (m *VsmMessage) GetMessageID() uint32 {
	if m.MessageID == nil {
		return 0
	}
	return *m.MessageID
}

func (m *VsmMessage) SetMessageID(id uint32) { m.MessageID = &id }

func (m *VsmMessage) IsResponseRequired() bool {
	return m.ResponseRequired != nil && *m.ResponseRequired
}

func (m *VsmMessage) SetResponseRequired(v bool) { m.ResponseRequired = &v }
