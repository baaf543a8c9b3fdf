package mavlink

import "sync"

// MessageInfo is the per-message-id metadata the decoder needs to
// validate a frame: the CRC_EXTRA byte folded into the checksum after
// the payload, and (for v1 frames) the expected payload length.
type MessageInfo struct {
	CRCExtra byte
	Length   int
}

// registry holds the known message set. The real protocol defines
// hundreds of dialect-specific messages generated from XML; rather
// than hand-transcribe that generated table (out of scope for a
// hand-grounded port), a small set of the common, dialect-independent
// messages is seeded here and RegisterMessage lets any component
// (ucs, detector, or a future dialect package) extend it at init time.
// See DESIGN.md's mavlink entry for the Open Question this resolves.
var registry = struct {
	mu sync.RWMutex
	m  map[uint32]MessageInfo
}{m: map[uint32]MessageInfo{
	0:  {CRCExtra: 50, Length: 9},   // HEARTBEAT
	1:  {CRCExtra: 124, Length: 31}, // SYS_STATUS
	30: {CRCExtra: 39, Length: 28},  // ATTITUDE
	33: {CRCExtra: 104, Length: 28}, // GLOBAL_POSITION_INT
	76: {CRCExtra: 152, Length: 33}, // COMMAND_LONG
	77: {CRCExtra: 143, Length: 3},  // COMMAND_ACK
}}

// RegisterMessage adds or overrides message id's CRC/length metadata.
// Safe to call concurrently and from any package's init.
func RegisterMessage(id uint32, info MessageInfo) {
	registry.mu.Lock()
	registry.m[id] = info
	registry.mu.Unlock()
}

// LookupMessage returns the registered metadata for id, if known.
func LookupMessage(id uint32) (MessageInfo, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	info, ok := registry.m[id]
	return info, ok
}
