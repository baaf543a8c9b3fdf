//go:build linux

package detector

import (
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ugcs/vsm-go/internal/vsmerr"
	"github.com/ugcs/vsm-go/iostream"
	"github.com/ugcs/vsm-go/request"
)

// baudConstants maps a numeric baud rate to the termios speed_t
// constant x/sys/unix exposes, mirroring Serial_processor::Stream's
// Linux baud table.
var baudConstants = map[int]uint32{
	1200:   unix.B1200,
	2400:   unix.B2400,
	4800:   unix.B4800,
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
}

func platformEnumerateSerialPorts() ([]string, error) {
	var names []string
	for _, glob := range []string{"/dev/ttyUSB*", "/dev/ttyACM*", "/dev/ttyS*"} {
		matches, err := filepath.Glob(glob)
		if err != nil {
			continue
		}
		names = append(names, matches...)
	}
	sort.Strings(names)
	return names, nil
}

func platformSerialOpener(name string, baud int) (iostream.Stream, error) {
	speed, ok := baudConstants[baud]
	if !ok {
		return nil, vsmerr.Newf(vsmerr.InvalidParam, "unsupported baud rate %d", baud)
	}

	fd, err := unix.Open(name, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, vsmerr.Wrap(vsmerr.System, "open serial port", err)
	}

	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		_ = unix.Close(fd)
		return nil, vsmerr.Wrap(vsmerr.System, "get termios", err)
	}

	// Raw mode, 8N1, matching Serial_processor's configuration of
	// cfmakeraw plus the requested speed.
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 1
	unix.SetIspeed(t, speed)
	unix.SetOspeed(t, speed)

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		_ = unix.Close(fd)
		return nil, vsmerr.Wrap(vsmerr.System, "set termios", err)
	}

	return newSerialStream(fd, name), nil
}

// serialStream is a minimal iostream.Stream over a raw termios fd, used
// because no serial I/O library is available in this workspace's
// dependency set; golang.org/x/sys/unix (already wired for flock and
// socket options elsewhere) supplies the ioctl primitives directly.
type serialStream struct {
	mu     sync.Mutex
	fd     int
	name   string
	closed bool
	refs   int32
}

func newSerialStream(fd int, name string) *serialStream {
	return &serialStream{fd: fd, name: name}
}

func (s *serialStream) Name() string        { return s.name }
func (s *serialStream) Type() iostream.Type  { return iostream.TypeSerial }
func (s *serialStream) AddRef()              { s.mu.Lock(); s.refs++; s.mu.Unlock() }
func (s *serialStream) Release()             { s.mu.Lock(); s.refs--; s.mu.Unlock() }
func (s *serialStream) State() iostream.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return iostream.StateClosed
	}
	return iostream.StateOpened
}

func (s *serialStream) Write(buf []byte, _ iostream.Offset, handler iostream.WriteHandler) *request.OperationWaiter {
	req := request.New()
	req.Process(true)
	ow := request.NewOperationWaiter(req)
	go func() {
		s.mu.Lock()
		fd, closed := s.fd, s.closed
		s.mu.Unlock()
		result := iostream.ResultClosed
		if !closed {
			if _, err := unix.Write(fd, buf); err != nil {
				result = iostream.ResultOtherFailure
			} else {
				result = iostream.ResultOK
			}
		}
		req.Complete(serialCompletionState(result))
		if handler != nil {
			handler(result)
		}
	}()
	return ow
}

func (s *serialStream) Read(maxToRead, minToRead int, _ iostream.Offset, handler iostream.ReadHandler) *request.OperationWaiter {
	req := request.New()
	req.Process(true)
	ow := request.NewOperationWaiter(req)
	go func() {
		buf := make([]byte, maxToRead)
		n := 0
		var result iostream.Result
		for n < minToRead {
			s.mu.Lock()
			fd, closed := s.fd, s.closed
			s.mu.Unlock()
			if closed {
				result = iostream.ResultClosed
				break
			}
			m, err := unix.Read(fd, buf[n:])
			if err != nil {
				if err == unix.EAGAIN || err == unix.EINTR {
					time.Sleep(10 * time.Millisecond)
					continue
				}
				result = iostream.ResultOtherFailure
				break
			}
			n += m
			if m == 0 {
				time.Sleep(10 * time.Millisecond)
			}
			result = iostream.ResultOK
		}
		data := buf[:n]
		req.Complete(serialCompletionState(result))
		if handler != nil {
			handler(data, result)
		}
	}()
	return ow
}

func (s *serialStream) Close(onClosed iostream.CloseHandler) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if onClosed != nil {
			onClosed()
		}
		return
	}
	s.closed = true
	fd := s.fd
	s.mu.Unlock()
	_ = unix.Close(fd)
	if onClosed != nil {
		onClosed()
	}
}

func serialCompletionState(r iostream.Result) request.State {
	if r == iostream.ResultOK {
		return request.StateOK
	}
	return request.StateCanceled
}
