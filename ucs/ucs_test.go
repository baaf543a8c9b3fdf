package ucs

import (
	"bufio"
	"net"
	"testing"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ugcs/vsm-go/detector"
	"github.com/ugcs/vsm-go/internal/vsmlog"
	"github.com/ugcs/vsm-go/reactor"
)

// fakeProps is a minimal in-memory detector.PropertySource, mirroring
// the one detector's own tests use.
type fakeProps map[string]string

func (f fakeProps) Exists(key string) bool { _, ok := f[key]; return ok }
func (f fakeProps) Get(key string) (string, error) {
	v, ok := f[key]
	if !ok {
		return "", errMalformed
	}
	return v, nil
}
func (f fakeProps) GetInt(key string) (int, error) { return 0, errMalformed }
func (f fakeProps) Keys(prefix string) []string    { return nil }

func writeFrame(t *testing.T, w *bufio.Writer, msg *VsmMessage) {
	t.Helper()
	payload := Marshal(msg)
	buf := protowire.AppendVarint(nil, uint64(len(payload)))
	buf = append(buf, payload...)
	if _, err := w.Write(buf); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func readFrame(t *testing.T, r *bufio.Reader) *VsmMessage {
	t.Helper()
	var size uint64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			t.Fatalf("read header byte: %v", err)
		}
		size |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
	}
	data := make([]byte, size)
	if size > 0 {
		if _, err := readFull(r, data); err != nil {
			t.Fatalf("read payload: %v", err)
		}
	}
	msg, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	return msg
}

// dialWithRetry dials addr, retrying briefly since the detector's
// watchdog binds the listening socket on its own schedule (up to
// watchdogInterval after AddDetector registers the rule) rather than
// synchronously.
func dialWithRetry(t *testing.T, addr string) net.Conn {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			return conn
		}
		if time.Now().After(deadline) {
			t.Fatalf("dial %s: %v", addr, err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

type fakeDevice struct {
	id       uint32
	name     string
	messages chan *VsmMessage
}

func (d *fakeDevice) ID() uint32 { return d.id }

func (d *fakeDevice) FillRegisterMessage(msg *VsmMessage) {
	msg.RegisterDevice = &RegisterDevice{Name: d.name, Type: "test"}
}

func (d *fakeDevice) OnUCSMessage(msg *VsmMessage, respond func(*DeviceResponse)) {
	if d.messages != nil {
		d.messages <- msg
	}
	if respond != nil {
		respond(&DeviceResponse{Code: StatusOK})
	}
}

func newTestCucs(t *testing.T, port string) (*Cucs, *detector.Detector) {
	t.Helper()
	sockets := reactor.NewProcessor(vsmlog.Discard())
	det := detector.New(sockets, nil, vsmlog.Discard())
	det.Enable()
	t.Cleanup(det.Disable)

	cucs := New(det, Config{}, vsmlog.Discard())
	props := fakeProps{
		"ucs.local_listening_address": "127.0.0.1",
		"ucs.local_listening_port":    port,
	}
	if err := cucs.Enable("ucs", props); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	t.Cleanup(cucs.Disable)
	return cucs, det
}

// TestRegisterPeerAndDeviceRegistration exercises the full handshake: a
// raw TCP client dials in, completes register_peer, and receives the
// already-registered device's register_device replay plus the resync
// burst once it acknowledges with device_response{OK}.
func TestRegisterPeerAndDeviceRegistration(t *testing.T) {
	const port = "19810"
	cucs, _ := newTestCucs(t, port)

	dev := &fakeDevice{id: 1, name: "autopilot-1"}
	if err := cucs.RegisterDevice(dev); err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}
	cucs.SendDeviceMessage(dev.ID(), &VsmMessage{
		DeviceStatus: &DeviceStatus{
			TelemetryFields: []TelemetryField{{FieldID: 1, Value: DoubleValue(5)}},
		},
	})

	conn := dialWithRetry(t, "127.0.0.1:"+port)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	hello := readFrame(t, r)
	if hello.RegisterPeer == nil || hello.RegisterPeer.PeerType != PeerTypeVSM {
		t.Fatalf("expected a register_peer hello from the server, got %+v", hello)
	}

	writeFrame(t, w, &VsmMessage{RegisterPeer: &RegisterPeer{PeerID: 99, PeerType: PeerTypeServer}})

	regDevice := readFrame(t, r)
	if regDevice.RegisterDevice == nil || regDevice.RegisterDevice.Name != "autopilot-1" {
		t.Fatalf("expected register_device replay, got %+v", regDevice)
	}
	if !regDevice.IsResponseRequired() || !regDevice.HasMessageID() {
		t.Fatalf("register_device must require a response: %+v", regDevice)
	}

	writeFrame(t, w, &VsmMessage{
		DeviceID:       regDevice.DeviceID,
		MessageID:      regDevice.MessageID,
		DeviceResponse: &DeviceResponse{Code: StatusOK},
	})

	resync := readFrame(t, r)
	if resync.DeviceStatus == nil || len(resync.DeviceStatus.TelemetryFields) != 1 {
		t.Fatalf("expected a resync device_status burst, got %+v", resync)
	}
	if resync.DeviceStatus.TelemetryFields[0].Value.Double != 5 {
		t.Fatalf("resync field value = %+v", resync.DeviceStatus.TelemetryFields[0])
	}
}

// TestInboundMessageRoutedToDevice checks that a message addressed to a
// registered device reaches it and that its response is written back
// with the same message id.
func TestInboundMessageRoutedToDevice(t *testing.T) {
	const port = "19811"
	cucs, _ := newTestCucs(t, port)

	msgs := make(chan *VsmMessage, 1)
	dev := &fakeDevice{id: 7, name: "camera", messages: msgs}
	if err := cucs.RegisterDevice(dev); err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}

	conn := dialWithRetry(t, "127.0.0.1:"+port)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	_ = readFrame(t, r) // server's register_peer hello
	writeFrame(t, w, &VsmMessage{RegisterPeer: &RegisterPeer{PeerID: 55, PeerType: PeerTypeServer}})

	regDevice := readFrame(t, r)
	writeFrame(t, w, &VsmMessage{
		DeviceID:       regDevice.DeviceID,
		MessageID:      regDevice.MessageID,
		DeviceResponse: &DeviceResponse{Code: StatusOK},
	})

	cmdID := uint32(42)
	respRequired := true
	writeFrame(t, w, &VsmMessage{
		DeviceID:         dev.ID(),
		MessageID:        &cmdID,
		ResponseRequired: &respRequired,
		DeviceCommands:   []DeviceCommand{{ID: 1, Arguments: []Value{IntValue(10)}}},
	})

	select {
	case got := <-msgs:
		if len(got.DeviceCommands) != 1 || got.DeviceCommands[0].ID != 1 {
			t.Fatalf("device received unexpected commands: %+v", got.DeviceCommands)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("device never received the inbound command")
	}

	resp := readFrame(t, r)
	if resp.DeviceResponse == nil || resp.DeviceResponse.Code != StatusOK {
		t.Fatalf("expected a StatusOK device_response, got %+v", resp)
	}
	if resp.GetMessageID() != cmdID {
		t.Fatalf("response message id = %d, want %d", resp.GetMessageID(), cmdID)
	}
}

// TestMessageForUnregisteredDeviceGetsInvalidSessionID checks the
// fallback response path when a device id is unknown.
func TestMessageForUnregisteredDeviceGetsInvalidSessionID(t *testing.T) {
	const port = "19812"
	newTestCucs(t, port)

	conn := dialWithRetry(t, "127.0.0.1:"+port)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	_ = readFrame(t, r)
	writeFrame(t, w, &VsmMessage{RegisterPeer: &RegisterPeer{PeerID: 1, PeerType: PeerTypeServer}})

	msgID := uint32(3)
	respRequired := true
	writeFrame(t, w, &VsmMessage{DeviceID: 404, MessageID: &msgID, ResponseRequired: &respRequired})

	resp := readFrame(t, r)
	if resp.DeviceResponse == nil || resp.DeviceResponse.Code != StatusInvalidSessionID {
		t.Fatalf("expected StatusInvalidSessionID, got %+v", resp)
	}
}
