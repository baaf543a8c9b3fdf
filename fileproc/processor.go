package fileproc

import (
	"os"

	"github.com/ugcs/vsm-go/internal/vsmerr"
)

// Processor is the file processor (C7): it opens files/serial-ports/
// pipes as Streams. Unlike reactor.Processor it needs no shared
// state - each Stream owns its own worker goroutine - but is kept as a
// named type for symmetry with the rest of the core and as a natural
// place to hang future platform-specific native controllers.
type Processor struct{}

// NewProcessor creates a Processor.
func NewProcessor() *Processor { return &Processor{} }

// Open opens name with the given fopen()-style mode, returning a
// Stream. maintainPos indicates whether the stream should track and
// advance a current position across successive Read/Write calls
// (false for devices that don't support seeking), per
// File_processor::Open.
func (p *Processor) Open(name, mode string, maintainPos bool) (*Stream, error) {
	m, err := ParseMode(mode)
	if err != nil {
		return nil, err
	}
	flags := m.osFlags()
	f, err := os.OpenFile(name, flags, 0o644)
	if err != nil {
		return nil, translateOpenError(err)
	}
	return newStream(p, name, m, maintainPos, f), nil
}

func translateOpenError(err error) error {
	switch {
	case os.IsNotExist(err):
		return vsmerr.Wrap(vsmerr.NotFound, "file not found", err)
	case os.IsPermission(err):
		return vsmerr.Wrap(vsmerr.PermissionDenied, "permission denied", err)
	case os.IsExist(err):
		return vsmerr.Wrap(vsmerr.AlreadyExists, "file already exists", err)
	default:
		return vsmerr.Wrap(vsmerr.System, "open failed", err)
	}
}
