package ucs

import (
	"testing"
)

func u32(v uint32) *uint32 { return &v }
func boolPtr(v bool) *bool { return &v }

func TestMarshalUnmarshalRegisterPeer(t *testing.T) {
	msg := &VsmMessage{
		DeviceID:         0,
		MessageID:        u32(7),
		ResponseRequired: boolPtr(false),
		RegisterPeer: &RegisterPeer{
			PeerID:       42,
			PeerType:     PeerTypeVSM,
			VersionMajor: 1,
			VersionMinor: 2,
			VersionBuild: "abc123",
		},
	}

	data := Marshal(msg)
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.GetMessageID() != 7 {
		t.Fatalf("message id = %d", got.GetMessageID())
	}
	if got.RegisterPeer == nil || got.RegisterPeer.PeerID != 42 || got.RegisterPeer.PeerType != PeerTypeVSM {
		t.Fatalf("register_peer = %+v", got.RegisterPeer)
	}
	if got.RegisterPeer.VersionBuild != "abc123" {
		t.Fatalf("version_build = %q", got.RegisterPeer.VersionBuild)
	}
}

func TestMarshalUnmarshalRegisterDevice(t *testing.T) {
	msg := &VsmMessage{
		DeviceID: 3,
		RegisterDevice: &RegisterDevice{
			Name:         "autopilot",
			Type:         "mavlink",
			PortName:     "/dev/ttyUSB0",
			SerialNumber: "SN-1",
		},
	}
	got, err := Unmarshal(Marshal(msg))
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.DeviceID != 3 {
		t.Fatalf("device id = %d", got.DeviceID)
	}
	if got.RegisterDevice == nil || got.RegisterDevice.Name != "autopilot" || got.RegisterDevice.SerialNumber != "SN-1" {
		t.Fatalf("register_device = %+v", got.RegisterDevice)
	}
}

func TestMarshalUnmarshalUnregisterDevice(t *testing.T) {
	msg := &VsmMessage{DeviceID: 9, UnregisterDevice: &UnregisterDevice{}}
	got, err := Unmarshal(Marshal(msg))
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.UnregisterDevice == nil {
		t.Fatal("expected unregister_device to round-trip")
	}
}

func TestValueOneofRoundTrip(t *testing.T) {
	cases := []Value{
		DoubleValue(3.25),
		IntValue(-17),
		StringValue("hello"),
		BoolValue(true),
		NAValue(),
	}
	for _, v := range cases {
		data := marshalValue(v)
		got, err := unmarshalValue(data)
		if err != nil {
			t.Fatalf("unmarshalValue(%+v): %v", v, err)
		}
		if got.Kind != v.Kind || got.Meta != v.Meta {
			t.Fatalf("kind/meta mismatch: got %+v want %+v", got, v)
		}
		switch v.Kind {
		case ValueKindDouble:
			if got.Double != v.Double {
				t.Fatalf("double mismatch: got %v want %v", got.Double, v.Double)
			}
		case ValueKindInt:
			if got.Int != v.Int {
				t.Fatalf("int mismatch: got %v want %v", got.Int, v.Int)
			}
		case ValueKindString:
			if got.String != v.String {
				t.Fatalf("string mismatch: got %v want %v", got.String, v.String)
			}
		case ValueKindBool:
			if got.Bool != v.Bool {
				t.Fatalf("bool mismatch: got %v want %v", got.Bool, v.Bool)
			}
		}
	}
}

func TestDeviceStatusRoundTrip(t *testing.T) {
	msg := &VsmMessage{
		DeviceID: 5,
		DeviceStatus: &DeviceStatus{
			TelemetryFields: []TelemetryField{
				{FieldID: 1, Value: DoubleValue(12.5)},
				{FieldID: 2, Value: NAValue()},
			},
			CommandAvailability: []CommandAvailability{
				{ID: 10, Available: true},
				{ID: 11, Available: false},
			},
		},
	}
	got, err := Unmarshal(Marshal(msg))
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.DeviceStatus == nil {
		t.Fatal("expected device_status")
	}
	if len(got.DeviceStatus.TelemetryFields) != 2 {
		t.Fatalf("telemetry fields = %d", len(got.DeviceStatus.TelemetryFields))
	}
	if got.DeviceStatus.TelemetryFields[0].FieldID != 1 || got.DeviceStatus.TelemetryFields[0].Value.Double != 12.5 {
		t.Fatalf("telemetry field 0 = %+v", got.DeviceStatus.TelemetryFields[0])
	}
	if got.DeviceStatus.TelemetryFields[1].Value.Meta != MetaValueNA {
		t.Fatalf("telemetry field 1 meta = %v", got.DeviceStatus.TelemetryFields[1].Value.Meta)
	}
	if len(got.DeviceStatus.CommandAvailability) != 2 || got.DeviceStatus.CommandAvailability[0].ID != 10 {
		t.Fatalf("command availability = %+v", got.DeviceStatus.CommandAvailability)
	}
}

func TestDeviceResponseRoundTrip(t *testing.T) {
	msg := &VsmMessage{
		DeviceID: 2,
		MessageID: u32(99),
		DeviceResponse: &DeviceResponse{
			Code:     StatusInvalidSessionID,
			Status:   "no such session",
			Progress: 0.5,
		},
	}
	got, err := Unmarshal(Marshal(msg))
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.GetMessageID() != 99 {
		t.Fatalf("message id = %d", got.GetMessageID())
	}
	if got.DeviceResponse == nil || got.DeviceResponse.Code != StatusInvalidSessionID {
		t.Fatalf("device_response = %+v", got.DeviceResponse)
	}
	if got.DeviceResponse.Progress != 0.5 {
		t.Fatalf("progress = %v", got.DeviceResponse.Progress)
	}
}

func TestDeviceCommandsRoundTrip(t *testing.T) {
	msg := &VsmMessage{
		DeviceID: 4,
		DeviceCommands: []DeviceCommand{
			{ID: 1, Arguments: []Value{IntValue(5), StringValue("go")}},
			{ID: 2},
		},
	}
	got, err := Unmarshal(Marshal(msg))
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(got.DeviceCommands) != 2 {
		t.Fatalf("device commands = %d", len(got.DeviceCommands))
	}
	if got.DeviceCommands[0].ID != 1 || len(got.DeviceCommands[0].Arguments) != 2 {
		t.Fatalf("command 0 = %+v", got.DeviceCommands[0])
	}
	if got.DeviceCommands[0].Arguments[1].String != "go" {
		t.Fatalf("command 0 arg 1 = %+v", got.DeviceCommands[0].Arguments[1])
	}
}

func TestMessageIDAndResponseRequiredPresence(t *testing.T) {
	msg := &VsmMessage{DeviceID: 1}
	if msg.HasMessageID() {
		t.Fatal("fresh message should not have a message id")
	}
	if msg.IsResponseRequired() {
		t.Fatal("fresh message should not require a response")
	}
	msg.SetMessageID(5)
	msg.SetResponseRequired(true)

	got, err := Unmarshal(Marshal(msg))
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !got.HasMessageID() || got.GetMessageID() != 5 {
		t.Fatalf("message id round trip failed: %+v", got)
	}
	if !got.IsResponseRequired() {
		t.Fatal("response_required should round trip as true")
	}
}

func TestUnmarshalMalformedData(t *testing.T) {
	if _, err := Unmarshal([]byte{0xff}); err == nil {
		t.Fatal("expected an error for truncated varint tag")
	}
}
