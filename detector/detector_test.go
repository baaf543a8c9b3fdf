package detector

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ugcs/vsm-go/iostream"
	"github.com/ugcs/vsm-go/reactor"
	"github.com/ugcs/vsm-go/request"
)

// fakeProps is a minimal in-memory PropertySource for testing loadConfig
// and Detector.AddDetector without a dependency on the properties package.
type fakeProps map[string]string

func (f fakeProps) Exists(key string) bool { _, ok := f[key]; return ok }

func (f fakeProps) Get(key string) (string, error) {
	v, ok := f[key]
	if !ok {
		return "", fmt.Errorf("no such key: %s", key)
	}
	return v, nil
}

func (f fakeProps) GetInt(key string) (int, error) {
	v, err := f.Get(key)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(v)
}

func (f fakeProps) Keys(prefix string) []string {
	var keys []string
	for k := range f {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys
}

func TestLoadConfigSerialAndIP(t *testing.T) {
	props := fakeProps{
		"connection.serial.use_arbiter":  "no",
		"connection.serial.exclude.1":    "^/dev/ttyS.*",
		"connection.serial.a.name":       "/dev/ttyUSB[0-9]+",
		"connection.serial.a.baud.1":     "115200",
		"connection.serial.a.baud.2":     "57600",
		"connection.tcp_out.1.port":      "5760",
		"connection.tcp_out.1.address":   "127.0.0.1",
		"connection.tcp_in.1.local_port": "5761",
		"connection.udp_out.1.address":   "127.0.0.1",
		"connection.udp_out.1.port":      "14550",
		"connection.can.1.name":          "can0",
	}

	serials, excludes, useArbiter, ips, err := loadConfig(props, "connection")
	require.NoError(t, err)
	assert.False(t, useArbiter)
	require.Len(t, excludes, 1)
	assert.Equal(t, "^/dev/ttyS.*", excludes[0])

	require.Len(t, serials, 1)
	assert.Equal(t, "/dev/ttyUSB[0-9]+", serials[0].pattern)
	assert.Equal(t, []int{57600, 115200}, serials[0].bauds)

	var sawTCPOut, sawTCPIn, sawUDPOut, sawCAN bool
	for _, r := range ips {
		switch r.typ {
		case TCPOut:
			sawTCPOut = true
			assert.Equal(t, "127.0.0.1:5760", r.remoteAddr)
		case TCPIn:
			sawTCPIn = true
			assert.Equal(t, "0.0.0.0:5761", r.localAddr)
		case UDPOut:
			sawUDPOut = true
			assert.Equal(t, "127.0.0.1:14550", r.remoteAddr)
		case CAN:
			sawCAN = true
			assert.Equal(t, "can0", r.canOrPipe)
		}
	}
	assert.True(t, sawTCPOut)
	assert.True(t, sawTCPIn)
	assert.True(t, sawUDPOut)
	assert.True(t, sawCAN)
}

func TestLoadConfigBarePortShortcut(t *testing.T) {
	props := fakeProps{
		"connection.port":          "5760",
		"connection.address":       "192.168.1.1",
		"connection.retry_timeout": "3",
	}
	_, _, _, ips, err := loadConfig(props, "connection")
	require.NoError(t, err)
	require.Len(t, ips, 1)
	assert.Equal(t, TCPOut, ips[0].typ)
	assert.Equal(t, "192.168.1.1:5760", ips[0].remoteAddr)
	assert.Equal(t, 3, ips[0].retryTimeout)
}

// fakeStreamStub is a minimal iostream.Stream double for exercising
// Port rotation logic without real I/O.
type fakeStreamStub struct {
	mu     sync.Mutex
	name   string
	closed bool
}

func (s *fakeStreamStub) Name() string        { return s.name }
func (s *fakeStreamStub) Type() iostream.Type { return iostream.TypeSerial }
func (s *fakeStreamStub) AddRef()             {}
func (s *fakeStreamStub) Release()            {}
func (s *fakeStreamStub) State() iostream.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return iostream.StateClosed
	}
	return iostream.StateOpened
}

func (s *fakeStreamStub) Write([]byte, iostream.Offset, iostream.WriteHandler) *request.OperationWaiter {
	return nil
}

func (s *fakeStreamStub) Read(int, int, iostream.Offset, iostream.ReadHandler) *request.OperationWaiter {
	return nil
}

func (s *fakeStreamStub) Close(onClosed iostream.CloseHandler) {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	if onClosed != nil {
		onClosed()
	}
}

func (s *fakeStreamStub) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func TestPortSerialRotation(t *testing.T) {
	det := New(reactor.NewProcessor(nil), nil, nil)

	var calls []string
	var mu sync.Mutex
	handler := func(name string, baud int, s iostream.Stream) {
		mu.Lock()
		calls = append(calls, fmt.Sprintf("%s@%d", name, baud))
		mu.Unlock()
	}

	opened := make(chan struct{}, 10)
	det.SetSerialOpener(func(name string, baud int) (iostream.Stream, error) {
		opened <- struct{}{}
		return &fakeStreamStub{name: name}, nil
	})
	det.SetSerialEnumerator(func() ([]string, error) {
		return []string{"/dev/ttyUSB0"}, nil
	})

	props := fakeProps{
		"connection.serial.a.name":   `/dev/ttyUSB\d+`,
		"connection.serial.a.baud.1": "115200",
	}
	require.NoError(t, det.AddDetector(handler, "connection", props))

	det.onTimer()
	select {
	case <-opened:
	case <-time.After(time.Second):
		t.Fatal("serial port was never opened")
	}

	mu.Lock()
	got := append([]string(nil), calls...)
	mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "/dev/ttyUSB0@115200", got[0])
}

func TestPortReleaseIfGone(t *testing.T) {
	det := New(reactor.NewProcessor(nil), nil, nil)
	p := newSerialPort(`/dev/ttyUSB\d+`, det)
	require.True(t, p.claimIfMatches("/dev/ttyUSB0"))
	assert.Equal(t, "/dev/ttyUSB0", p.matchedName())

	p.releaseIfGone(true)
	assert.Equal(t, "/dev/ttyUSB0", p.matchedName(), "still present, must not release")

	p.releaseIfGone(false)
	assert.Equal(t, "", p.matchedName(), "vanished, must release")
}

func TestDetectorProtocolNotDetectedClosesTCPInSubstream(t *testing.T) {
	det := New(reactor.NewProcessor(nil), nil, nil)
	rule := ipRule{typ: TCPIn, localAddr: "127.0.0.1:0"}
	p := newIPPort("tcp_in:test", rule, det)
	det.mu.Lock()
	det.ports["tcp_in:test"] = p
	det.mu.Unlock()

	s := &fakeStreamStub{name: "peer"}
	p.subs = append(p.subs, s)

	det.ProtocolNotDetected(s)
	assert.True(t, s.isClosed())
	assert.Empty(t, p.subs)
}
