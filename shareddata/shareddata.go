// Package shareddata implements the cross-process mutex described by
// Shared_data: a metadata header (version, next/current client id,
// data state, a heartbeating waiter list) living in a named
// shared-memory-backed region, optionally followed by a caller data
// area. NewArbiterFunc adapts it to the detector.Arbiter shape, for a
// serial device shared by several VSM processes on one host; the
// detector stores such an arbiter but does not call it.
//
// The original combines two named semaphores - one guarding the
// metadata, one used as a "data gate" signalling handoff - plus a
// background thread driving a callback-based state machine, and a
// whole recovery path for when the metadata semaphore itself is found
// stale (Master_lock's "wait timed out, recreate master_locker"
// loop). This port collapses both semaphores into a single OS file
// lock (flock) guarding the metadata region directly: flock is
// released automatically when the holding process dies, which removes
// the need for that recreation path entirely, and Go's context
// cancellation covers what the original's Request/Completion_context
// gave a waiting Acquire. See DESIGN.md.
package shareddata

import (
	"context"
	"encoding/binary"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ugcs/vsm-go/internal/vsmerr"
)

const (
	metadataVersion = uint32(1)

	// MaxSimClients bounds the waiter list, per Shared_data::MAX_SIM_CLIENTS.
	MaxSimClients = 32

	// HeartbeatInterval is how often a lock holder refreshes its
	// heartbeat, per Shared_data::METADATA_TIMEOUT.
	HeartbeatInterval = time.Second

	// HeartbeatTimeout is how long a missing heartbeat is tolerated
	// before a waiter is presumed dead, per Shared_data::HEARTBEAT_TIMEOUT.
	// Same-machine steady-clock assumption; see DESIGN.md.
	HeartbeatTimeout = 3 * time.Second

	pollInterval = time.Second
)

const (
	dataStateOK = uint32(iota)
	dataStateCreated
	dataStateRecovered
)

// AcquireResult reports how an Acquire call resolved, per
// Shared_data::Acquire_result.
type AcquireResult int

const (
	AcquireResultOK AcquireResult = iota
	AcquireResultOKCreated
	AcquireResultOKRecovered
	AcquireResultAlreadyAcquired
	AcquireResultTooManyClients
	AcquireResultCanceled
)

func (r AcquireResult) String() string {
	switch r {
	case AcquireResultOK:
		return "ok"
	case AcquireResultOKCreated:
		return "ok_created"
	case AcquireResultOKRecovered:
		return "ok_recovered"
	case AcquireResultAlreadyAcquired:
		return "already_acquired"
	case AcquireResultTooManyClients:
		return "too_many_clients"
	case AcquireResultCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Metadata header layout, little endian:
//
//	magic           [4]byte  "VSMD"
//	version         uint32
//	nextClientID    uint32
//	currentClientID uint32   (diagnostic only; flock enforces exclusion)
//	dataState       uint32
//	clientCount     uint32
//	clients         [MaxSimClients]{clientID uint32, heartbeatNanos int64}
const (
	offMagic           = 0
	offVersion         = 4
	offNextClientID    = 8
	offCurrentClientID = 12
	offDataState       = 16
	offClientCount     = 20
	offClients         = 24
	clientRecordSize   = 12
	headerSize         = offClients + MaxSimClients*clientRecordSize
)

var magic = [4]byte{'V', 'S', 'M', 'D'}

// SharedData is a single process's handle onto one named arbiter
// region, per the Shared_data class.
type SharedData struct {
	b        *backing
	dataSize int

	mu       sync.Mutex
	clientID uint32
	acquired bool
	stopHB   chan struct{}
	lost     atomic.Bool
}

// Open opens or creates the named shared region, sized to hold
// dataSize bytes of caller data in addition to the metadata header,
// per Shared_data::Initialize_metadata.
func Open(path string, dataSize int) (*SharedData, error) {
	if dataSize < 0 {
		return nil, vsmerr.New(vsmerr.InvalidParam, "dataSize must not be negative")
	}
	b, created, err := openBacking(path, headerSize+dataSize)
	if err != nil {
		return nil, err
	}
	sd := &SharedData{b: b, dataSize: dataSize}

	if err := sd.initMetadata(created); err != nil {
		_ = b.close()
		return nil, err
	}
	return sd, nil
}

func (sd *SharedData) initMetadata(created bool) error {
	if err := sd.b.lock(); err != nil {
		return vsmerr.Wrap(vsmerr.System, "lock shared metadata", err)
	}
	defer sd.b.unlock()

	mem := sd.b.data
	if created {
		copy(mem[offMagic:offMagic+4], magic[:])
		binary.LittleEndian.PutUint32(mem[offVersion:], metadataVersion)
		binary.LittleEndian.PutUint32(mem[offNextClientID:], 1)
		binary.LittleEndian.PutUint32(mem[offCurrentClientID:], 0)
		binary.LittleEndian.PutUint32(mem[offDataState:], dataStateCreated)
		binary.LittleEndian.PutUint32(mem[offClientCount:], 0)
		return nil
	}

	// Somebody else just created this region; wait for them to finish
	// initializing, per the original's "waiting for shared memory
	// metadata to initialize" retry loop.
	for i := 0; i < 1000 && binary.LittleEndian.Uint32(mem[offVersion:]) == 0; i++ {
		_ = sd.b.unlock()
		time.Sleep(time.Millisecond)
		if err := sd.b.lock(); err != nil {
			return vsmerr.Wrap(vsmerr.System, "lock shared metadata", err)
		}
	}
	if v := binary.LittleEndian.Uint32(mem[offVersion:]); v != metadataVersion {
		return vsmerr.Newf(vsmerr.Parse, "shared data present but invalid version: %d", v)
	}
	if string(mem[offMagic:offMagic+4]) != string(magic[:]) {
		return vsmerr.New(vsmerr.Parse, "shared data present but invalid magic")
	}
	return nil
}

// Region returns the data area following the metadata header. Its
// contents are only meaningful to the caller between a successful
// Acquire and the matching Release, mirroring the my_data pointer
// handed to Shared_data's completion handler.
func (sd *SharedData) Region() []byte {
	return sd.b.data[headerSize : headerSize+sd.dataSize]
}

// Acquire blocks until the caller holds the lock, or ctx is done.
// Waiters queue in arrival order, per Insert_client_in_list; a waiter
// whose heartbeat goes unrefreshed past HeartbeatTimeout is presumed
// dead and dropped, and the next waiter in line takes over reporting
// AcquireResultOKRecovered, per Main_loop's dead-client detection.
func (sd *SharedData) Acquire(ctx context.Context) (AcquireResult, error) {
	sd.mu.Lock()
	if sd.acquired {
		sd.mu.Unlock()
		return AcquireResultAlreadyAcquired, nil
	}
	sd.acquired = true
	sd.lost.Store(false)
	sd.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			sd.forfeit()
			return AcquireResultCanceled, ctx.Err()
		default:
		}

		res, outcome, err := sd.tryAdvance()
		if err != nil {
			sd.forfeit()
			return 0, err
		}

		switch outcome {
		case advanceAcquired:
			sd.mu.Lock()
			sd.stopHB = make(chan struct{})
			stop := sd.stopHB
			sd.mu.Unlock()
			go sd.heartbeatLoop(stop)
			return res, nil
		case advanceTooMany:
			sd.mu.Lock()
			sd.acquired = false
			sd.mu.Unlock()
			return AcquireResultTooManyClients, nil
		}

		select {
		case <-ctx.Done():
			sd.forfeit()
			return AcquireResultCanceled, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

type advanceOutcome int

const (
	advanceContinue advanceOutcome = iota
	advanceAcquired
	advanceTooMany
)

// tryAdvance runs one metadata-locked step: evict dead waiters, make
// sure the caller is registered, and report whether it has reached
// the head of the list, per one iteration of Main_loop's acquire loop.
func (sd *SharedData) tryAdvance() (AcquireResult, advanceOutcome, error) {
	if err := sd.b.lock(); err != nil {
		return 0, advanceContinue, vsmerr.Wrap(vsmerr.System, "lock shared metadata", err)
	}
	defer sd.b.unlock()

	now := time.Now()
	headDied := sd.evictDeadLocked(now)
	if headDied {
		binary.LittleEndian.PutUint32(sd.b.data[offDataState:], dataStateRecovered)
	}

	idx, found := sd.findClientLocked()
	if !found {
		count := binary.LittleEndian.Uint32(sd.b.data[offClientCount:])
		if count >= MaxSimClients {
			return 0, advanceTooMany, nil
		}
		if sd.clientID == 0 {
			sd.clientID = binary.LittleEndian.Uint32(sd.b.data[offNextClientID:])
			binary.LittleEndian.PutUint32(sd.b.data[offNextClientID:], sd.clientID+1)
		}
		sd.setClientLocked(count, sd.clientID, now)
		binary.LittleEndian.PutUint32(sd.b.data[offClientCount:], count+1)
		idx = count
	} else {
		sd.setHeartbeatLocked(idx, now)
	}

	if idx != 0 {
		return 0, advanceContinue, nil
	}

	state := binary.LittleEndian.Uint32(sd.b.data[offDataState:])
	binary.LittleEndian.PutUint32(sd.b.data[offCurrentClientID:], sd.clientID)

	switch {
	case headDied:
		return AcquireResultOKRecovered, advanceAcquired, nil
	case state == dataStateCreated:
		return AcquireResultOKCreated, advanceAcquired, nil
	case state == dataStateRecovered:
		return AcquireResultOKRecovered, advanceAcquired, nil
	default:
		return AcquireResultOK, advanceAcquired, nil
	}
}

// forfeit withdraws the caller from the waiter list, for a canceled
// or failed Acquire, per "Release while waiting" in Main_loop.
func (sd *SharedData) forfeit() {
	if err := sd.b.lock(); err == nil {
		sd.removeClientLocked(sd.clientID)
		_ = sd.b.unlock()
	}
	sd.mu.Lock()
	sd.acquired = false
	sd.mu.Unlock()
}

// heartbeatLoop keeps the lock holder's list entry fresh for as long
// as it remains at the head of the list, per the "Acquired! Starting
// heartbeat" loop in Main_loop.
func (sd *SharedData) heartbeatLoop(stop chan struct{}) {
	t := time.NewTicker(HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if err := sd.refreshHeartbeat(); err != nil {
				return
			}
		}
	}
}

func (sd *SharedData) refreshHeartbeat() error {
	if err := sd.b.lock(); err != nil {
		return err
	}
	defer sd.b.unlock()
	idx, found := sd.findClientLocked()
	if !found || idx != 0 {
		// Somebody else decided I'm dead while active.
		sd.lost.Store(true)
		return nil
	}
	sd.setHeartbeatLocked(0, time.Now())
	return nil
}

// Release relinquishes the lock. dataValid reports whether the data
// region was left consistent; only then does the next acquirer see
// AcquireResultOK instead of a recovered/created state carried over,
// per Release/event_release_valid.
func (sd *SharedData) Release(dataValid bool) error {
	sd.mu.Lock()
	if !sd.acquired {
		sd.mu.Unlock()
		return vsmerr.New(vsmerr.InvalidOpState, "release called without a held lock")
	}
	sd.acquired = false
	stop := sd.stopHB
	sd.stopHB = nil
	sd.mu.Unlock()

	if stop != nil {
		close(stop)
	}

	if err := sd.b.lock(); err != nil {
		return vsmerr.Wrap(vsmerr.System, "lock shared metadata", err)
	}
	defer sd.b.unlock()

	if !sd.lost.Load() {
		sd.removeClientLocked(sd.clientID)
		binary.LittleEndian.PutUint32(sd.b.data[offCurrentClientID:], 0)
		if dataValid {
			binary.LittleEndian.PutUint32(sd.b.data[offDataState:], dataStateOK)
		}
	}
	return nil
}

// Close releases any held lock (without asserting the data is valid)
// and unmaps the region, per ~Shared_data.
func (sd *SharedData) Close() error {
	sd.mu.Lock()
	acquired := sd.acquired
	sd.mu.Unlock()
	if acquired {
		_ = sd.Release(false)
	}
	return sd.b.close()
}

func (sd *SharedData) clientAtLocked(i uint32) (uint32, time.Time) {
	off := offClients + int(i)*clientRecordSize
	id := binary.LittleEndian.Uint32(sd.b.data[off:])
	nanos := int64(binary.LittleEndian.Uint64(sd.b.data[off+4:]))
	return id, time.Unix(0, nanos)
}

func (sd *SharedData) setClientLocked(i uint32, id uint32, t time.Time) {
	off := offClients + int(i)*clientRecordSize
	binary.LittleEndian.PutUint32(sd.b.data[off:], id)
	binary.LittleEndian.PutUint64(sd.b.data[off+4:], uint64(t.UnixNano()))
}

func (sd *SharedData) setHeartbeatLocked(i uint32, t time.Time) {
	off := offClients + int(i)*clientRecordSize + 4
	binary.LittleEndian.PutUint64(sd.b.data[off:], uint64(t.UnixNano()))
}

// removeAtLocked drops the waiter at index i, shifting everyone after
// it down by one, per Remove_client_from_list.
func (sd *SharedData) removeAtLocked(i uint32) {
	count := binary.LittleEndian.Uint32(sd.b.data[offClientCount:])
	for j := i + 1; j < count; j++ {
		id, hb := sd.clientAtLocked(j)
		sd.setClientLocked(j-1, id, hb)
	}
	binary.LittleEndian.PutUint32(sd.b.data[offClientCount:], count-1)
}

func (sd *SharedData) findClientLocked() (uint32, bool) {
	if sd.clientID == 0 {
		return 0, false
	}
	count := binary.LittleEndian.Uint32(sd.b.data[offClientCount:])
	for i := uint32(0); i < count; i++ {
		if id, _ := sd.clientAtLocked(i); id == sd.clientID {
			return i, true
		}
	}
	return 0, false
}

func (sd *SharedData) removeClientLocked(id uint32) {
	if id == 0 {
		return
	}
	count := binary.LittleEndian.Uint32(sd.b.data[offClientCount:])
	for i := uint32(0); i < count; i++ {
		if cid, _ := sd.clientAtLocked(i); cid == id {
			sd.removeAtLocked(i)
			return
		}
	}
}

// evictDeadLocked drops every waiter whose heartbeat is older than
// HeartbeatTimeout, per the dead-client scans in Main_loop. headDied
// reports whether the waiter at index 0 was among them.
func (sd *SharedData) evictDeadLocked(now time.Time) (headDied bool) {
	i := uint32(0)
	count := binary.LittleEndian.Uint32(sd.b.data[offClientCount:])
	for i < count {
		_, hb := sd.clientAtLocked(i)
		if now.Sub(hb) > HeartbeatTimeout {
			if i == 0 {
				headDied = true
			}
			sd.removeAtLocked(i)
			count--
			continue
		}
		i++
	}
	return headDied
}

// ArbiterName derives the shared-memory/lock name for a serial port,
// per the environment note: vsm-serial-port-arbiter-<sanitized>,
// truncated to 100 characters.
func ArbiterName(portName string) string {
	var b strings.Builder
	b.WriteString("vsm-serial-port-arbiter-")
	for _, r := range portName {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := b.String()
	if len(name) > 100 {
		name = name[:100]
	}
	return name
}

// NewArbiterFunc returns a constructor matching detector.Arbiter's
// signature structurally, so it can be assigned directly to
// Detector.SetArbiter without this package importing detector. Each
// call opens the named region under dir and acquires it in the
// background, reporting the outcome through granted; the returned
// release func cancels the wait (if still pending) and releases/closes
// the region.
func NewArbiterFunc(dir string) func(name string, granted func(ok bool)) (release func()) {
	return func(name string, granted func(ok bool)) (release func()) {
		sd, err := Open(filepath.Join(dir, ArbiterName(name)), 0)
		if err != nil {
			granted(false)
			return func() {}
		}

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			res, err := sd.Acquire(ctx)
			granted(err == nil && res != AcquireResultTooManyClients && res != AcquireResultCanceled)
		}()

		var once sync.Once
		return func() {
			once.Do(func() {
				cancel()
				_ = sd.Close()
			})
		}
	}
}
