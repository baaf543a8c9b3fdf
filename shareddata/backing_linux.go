//go:build linux

package shareddata

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/ugcs/vsm-go/internal/vsmerr"
)

// backing is the memory-mapped, flock-guarded file standing in for
// the original's named shared memory segment plus master_locker
// semaphore.
type backing struct {
	file *os.File
	data []byte
}

func openBacking(path string, size int) (*backing, bool, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, false, vsmerr.Wrap(vsmerr.System, "open shared memory file", err)
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, false, vsmerr.Wrap(vsmerr.System, "stat shared memory file", err)
	}

	created := fi.Size() == 0
	if created {
		if err := f.Truncate(int64(size)); err != nil {
			_ = f.Close()
			return nil, false, vsmerr.Wrap(vsmerr.System, "truncate shared memory file", err)
		}
	} else if fi.Size() != int64(size) {
		_ = f.Close()
		return nil, false, vsmerr.Newf(vsmerr.Parse, "shared memory file %s has size %d, want %d", path, fi.Size(), size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, false, vsmerr.Wrap(vsmerr.System, "mmap shared memory file", err)
	}

	return &backing{file: f, data: data}, created, nil
}

func (b *backing) lock() error {
	return unix.Flock(int(b.file.Fd()), unix.LOCK_EX)
}

func (b *backing) unlock() error {
	return unix.Flock(int(b.file.Fd()), unix.LOCK_UN)
}

func (b *backing) close() error {
	err := unix.Munmap(b.data)
	if cerr := b.file.Close(); err == nil {
		err = cerr
	}
	return err
}
