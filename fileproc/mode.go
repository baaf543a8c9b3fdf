package fileproc

import (
	"os"

	"github.com/ugcs/vsm-go/internal/vsmerr"
)

// Mode is a parsed fopen-style mode string, per
// File_processor::Stream::Mode. It additionally accepts the "rx"
// combination (not valid for standard fopen): create the file if
// missing while still opening it read-only.
type Mode struct {
	Read           bool
	Write          bool
	Extended       bool // '+': don't truncate on write, allow the other direction too
	ShouldNotExist bool // 'x': fail if present (write mode) or create-if-missing (read mode)
}

// ParseMode parses an fopen()-style mode string ("r", "w", "r+", "w+",
// "wx", "rx", ...); every mode must contain 'r' or 'w'. "a"/"b" are
// rejected: appends aren't supported and every file is binary.
func ParseMode(s string) (Mode, error) {
	if s == "" {
		return Mode{}, vsmerr.New(vsmerr.InvalidParam, "empty file mode")
	}
	var m Mode
	for _, c := range s {
		switch c {
		case 'r':
			m.Read = true
		case 'w':
			m.Write = true
		case '+':
			m.Extended = true
		case 'x':
			m.ShouldNotExist = true
		case 'a', 'b':
			return Mode{}, vsmerr.Newf(vsmerr.InvalidParam, "mode %q: 'a'/'b' not supported", s)
		default:
			return Mode{}, vsmerr.Newf(vsmerr.InvalidParam, "mode %q: unknown specifier %q", s, string(c))
		}
	}
	if !m.Read && !m.Write {
		return Mode{}, vsmerr.Newf(vsmerr.InvalidParam, "mode %q: must specify 'r' or 'w'", s)
	}
	return m, nil
}

// osFlags translates Mode into os.OpenFile flags, per
// File_processor::Open's documented fopen()-alike semantics.
func (m Mode) osFlags() int {
	var flags int
	switch {
	case m.Write && m.Extended:
		flags = os.O_RDWR | os.O_CREATE
		if !m.ShouldNotExist {
			flags |= os.O_TRUNC
		}
	case m.Write:
		flags = os.O_WRONLY | os.O_CREATE
		if !m.ShouldNotExist {
			flags |= os.O_TRUNC
		}
	case m.Read && m.Extended:
		flags = os.O_RDWR
	default:
		flags = os.O_RDONLY
	}
	if m.ShouldNotExist {
		if m.Write {
			flags |= os.O_EXCL
		} else {
			// "rx": create if missing, but never truncate/exclusive-fail.
			flags |= os.O_CREATE
		}
	}
	return flags
}
