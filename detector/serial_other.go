//go:build !linux

package detector

import (
	"github.com/ugcs/vsm-go/internal/vsmerr"
	"github.com/ugcs/vsm-go/iostream"
)

func platformEnumerateSerialPorts() ([]string, error) {
	return nil, nil
}

func platformSerialOpener(name string, baud int) (iostream.Stream, error) {
	return nil, vsmerr.Newf(vsmerr.Internal, "serial port support not implemented on this platform")
}
