//go:build linux

package detector

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ugcs/vsm-go/internal/vsmerr"
	"github.com/ugcs/vsm-go/iostream"
	"github.com/ugcs/vsm-go/request"
)

// canFrameSize is sizeof(struct can_frame): 4-byte id, 1-byte length,
// 3 bytes padding, 8 bytes data.
const canFrameSize = 16

// openCAN opens a raw SocketCAN socket bound to iface, per
// Socket_processor::Bind_can. No filters are installed (the default
// single {id:0, mask:0} filter applied by the kernel accepts every
// frame), matching the original's empty filter-id list.
func openCAN(iface string) (iostream.Stream, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, vsmerr.Wrap(vsmerr.System, "open CAN socket", err)
	}

	var ifr struct {
		name  [unix.IFNAMSIZ]byte
		index int32
		_     [20]byte // remainder of struct ifreq, unused
	}
	copy(ifr.name[:], iface)
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), unix.SIOCGIFINDEX, uintptr(unsafe.Pointer(&ifr))); errno != 0 {
		_ = unix.Close(fd)
		return nil, vsmerr.Wrap(vsmerr.System, "resolve CAN interface index", errno)
	}

	addr := unix.SockaddrCAN{Ifindex: int(ifr.index)}
	if err := unix.Bind(fd, &addr); err != nil {
		_ = unix.Close(fd)
		return nil, vsmerr.Wrap(vsmerr.System, "bind CAN socket", err)
	}

	return newCANStream(fd, iface), nil
}

type canStream struct {
	mu     sync.Mutex
	fd     int
	name   string
	closed bool
	refs   int32
}

func newCANStream(fd int, name string) *canStream {
	return &canStream{fd: fd, name: name}
}

func (s *canStream) Name() string       { return s.name }
func (s *canStream) Type() iostream.Type { return iostream.TypeCAN }
func (s *canStream) AddRef()            { s.mu.Lock(); s.refs++; s.mu.Unlock() }
func (s *canStream) Release()           { s.mu.Lock(); s.refs--; s.mu.Unlock() }
func (s *canStream) State() iostream.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return iostream.StateClosed
	}
	return iostream.StateOpened
}

// Write sends buf as a single raw CAN frame (must be canFrameSize
// bytes: callers build frames, this stream just moves them).
func (s *canStream) Write(buf []byte, _ iostream.Offset, handler iostream.WriteHandler) *request.OperationWaiter {
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

// Read returns the next raw CAN frame received (always canFrameSize
// bytes on success); minToRead/maxToRead are ignored since frames are
// fixed-size datagrams.
func (s *canStream) Read(_, _ int, _ iostream.Offset, handler iostream.ReadHandler) *request.OperationWaiter {
	req := request.New()
	req.Process(true)
	ow := request.NewOperationWaiter(req)
	go func() {
		s.mu.Lock()
		fd, closed := s.fd, s.closed
		s.mu.Unlock()
		if closed {
			req.Complete(request.StateCanceled)
			if handler != nil {
				handler(nil, iostream.ResultClosed)
			}
			return
		}
		buf := make([]byte, canFrameSize)
		n, err := unix.Read(fd, buf)
		var result iostream.Result
		if err != nil {
			result = iostream.ResultOtherFailure
		} else {
			result = iostream.ResultOK
		}
		req.Complete(serialCompletionState(result))
		if handler != nil {
			handler(buf[:n], result)
		}
	}()
	return ow
}

func (s *canStream) Close(onClosed iostream.CloseHandler) {
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
