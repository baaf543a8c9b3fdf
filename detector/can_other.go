//go:build !linux

package detector

import (
	"github.com/ugcs/vsm-go/internal/vsmerr"
	"github.com/ugcs/vsm-go/iostream"
)

func openCAN(iface string) (iostream.Stream, error) {
	return nil, vsmerr.Newf(vsmerr.Internal, "CAN bus support not implemented on this platform")
}
