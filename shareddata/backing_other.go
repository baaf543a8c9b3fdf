//go:build !linux

package shareddata

import "github.com/ugcs/vsm-go/internal/vsmerr"

// backing stubs out the shared-memory arbiter on platforms without a
// ported flock/mmap backing, matching detector's serial_other.go/
// can_other.go fallback pattern.
type backing struct{}

func openBacking(path string, size int) (*backing, bool, error) {
	return nil, false, vsmerr.New(vsmerr.Internal, "shared memory arbiter not implemented on this platform")
}

func (b *backing) lock() error   { return nil }
func (b *backing) unlock() error { return nil }
func (b *backing) close() error  { return nil }
