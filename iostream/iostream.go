// Package iostream defines the uniform stream contract (spec.md §3/§4
// C5) shared by every transport the core drives: TCP/UDP sockets, serial
// ports, files, and named pipes. Concrete transports (package reactor,
// package fileproc) implement Stream; callers only ever see this
// interface plus the *request.OperationWaiter handles it returns.
package iostream

import (
	"time"

	"github.com/ugcs/vsm-go/request"
)

// Offset is a signed byte offset for Read/Write. Negative sentinel
// values carry special meaning; any other value is an absolute offset.
type Offset int64

const (
	// OffsetNone means "use the stream-maintained position" (the normal
	// case for sockets and sequential files).
	OffsetNone Offset = -1
	// OffsetEnd means "append" (seek to end-of-file before the op).
	OffsetEnd Offset = -2
)

// Result is the outcome of a completed asynchronous I/O operation.
// Synchronous construction failures instead use vsmerr; Result is only
// ever delivered through a completion handler.
type Result int

const (
	ResultOK Result = iota
	ResultTimedOut
	ResultCanceled
	ResultBadAddress
	ResultConnectionRefused
	ResultClosed
	ResultPermissionDenied
	ResultEndOfFile
	ResultLockError
	ResultOtherFailure
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultTimedOut:
		return "timed_out"
	case ResultCanceled:
		return "canceled"
	case ResultBadAddress:
		return "bad_address"
	case ResultConnectionRefused:
		return "connection_refused"
	case ResultClosed:
		return "closed"
	case ResultPermissionDenied:
		return "permission_denied"
	case ResultEndOfFile:
		return "end_of_file"
	case ResultLockError:
		return "lock_error"
	case ResultOtherFailure:
		return "other_failure"
	default:
		return "unknown"
	}
}

// Type identifies the concrete transport kind behind a Stream, letting
// generic code (e.g. the detector) introspect without a type switch.
type Type int

const (
	TypeUndefined Type = iota
	TypeFile
	TypeSerial
	TypeAndroidSerial
	TypeTCP
	TypeUDP
	TypeUDPMulticast
	TypeCAN
)

func (t Type) String() string {
	switch t {
	case TypeFile:
		return "file"
	case TypeSerial:
		return "serial"
	case TypeAndroidSerial:
		return "android_serial"
	case TypeTCP:
		return "tcp"
	case TypeUDP:
		return "udp"
	case TypeUDPMulticast:
		return "udp_multicast"
	case TypeCAN:
		return "can"
	default:
		return "undefined"
	}
}

// State is a stream's lifecycle position.
type State int

const (
	StateClosed State = iota
	StateOpening
	StateOpeningPassive
	StateOpened
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateOpeningPassive:
		return "opening_passive"
	case StateOpened:
		return "opened"
	default:
		return "closed"
	}
}

// ReadHandler receives the bytes read (sliced exactly to what was
// received) and the operation's Result.
type ReadHandler func(data []byte, result Result)

// WriteHandler receives the Result of a write.
type WriteHandler func(result Result)

// CloseHandler is invoked once Close has fully torn down the stream.
type CloseHandler func()

// Stream is the abstract contract every transport in the core
// implements: TCP/UDP sockets (package reactor), files/serial/pipes
// (package fileproc).
type Stream interface {
	// Name is a diagnostic identifier (e.g. "tcp://1.2.3.4:1234" or
	// "/dev/ttyUSB0").
	Name() string
	// Type reports the concrete transport kind.
	Type() Type
	// State reports the current lifecycle position.
	State() State

	// Write queues an asynchronous write of buf at offset (OffsetNone to
	// use the stream's maintained position). The returned waiter's
	// completion handler receives handler's Result; handler may be nil.
	Write(buf []byte, offset Offset, handler WriteHandler) *request.OperationWaiter

	// Read queues an asynchronous read of at most maxToRead bytes,
	// waiting until at least minToRead bytes are available or the
	// stream signals EOF/error. handler receives the bytes actually
	// read (truncated if the operation was canceled mid-flight) and the
	// Result.
	Read(maxToRead, minToRead int, offset Offset, handler ReadHandler) *request.OperationWaiter

	// Close tears the stream down, completing every queued operation
	// with ResultClosed before onClosed runs (and before Close
	// returns, for synchronous backends). Close is idempotent.
	Close(onClosed CloseHandler)

	// AddRef/Release increment and decrement a reference count. Release
	// does not close the stream when the count reaches zero; a Stream is
	// torn down only by Close.
	AddRef()
	Release()
}

// Buffer is an immutable, reference-counted byte sequence, the Go
// analogue of the original SDK's Io_buffer. Go slices already behave
// like reference types, so Buffer is a thin value wrapper adding the
// Slice/Concatenate vocabulary the decoders (package mavlink, package
// adsb) are written against — see SPEC_FULL.md §E.1.
type Buffer struct {
	data []byte
}

// NewBuffer wraps data without copying; callers must not mutate data
// after handing it to NewBuffer.
func NewBuffer(data []byte) Buffer { return Buffer{data: data} }

// Len returns the number of bytes in the buffer.
func (b Buffer) Len() int { return len(b.data) }

// Bytes exposes the underlying slice read-only.
func (b Buffer) Bytes() []byte { return b.data }

// Slice returns the sub-buffer [from:], analogous to Io_buffer::Slice.
func (b Buffer) Slice(from int) Buffer {
	if from >= len(b.data) {
		return Buffer{}
	}
	return Buffer{data: b.data[from:]}
}

// Concatenate appends other's bytes, copying into a fresh backing array
// so neither operand's storage is shared afterward (matching the
// original's copy-on-concatenate semantics).
func (b Buffer) Concatenate(other Buffer) Buffer {
	out := make([]byte, 0, len(b.data)+len(other.data))
	out = append(out, b.data...)
	out = append(out, other.data...)
	return Buffer{data: out}
}

// defaultTimeout is used by convenience helpers that don't take an
// explicit deadline (e.g. test fixtures); production call sites arm
// their own request.OperationWaiter.Timeout.
const defaultTimeout = 30 * time.Second
