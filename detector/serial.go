package detector

import "github.com/ugcs/vsm-go/iostream"

// SerialOpener opens name at the given baud rate, analogous to
// Serial_processor::Open. The default is platformSerialOpener (Linux:
// raw termios via golang.org/x/sys/unix; other platforms: unsupported),
// but callers may inject their own (e.g. over a USB-serial bridge
// library) via Detector.SetSerialOpener.
type SerialOpener func(name string, baud int) (iostream.Stream, error)

// SerialEnumerator lists the serial ports currently present on the
// system, analogous to Serial_processor::Enumerate_port_names. The
// default is platformEnumerateSerialPorts.
type SerialEnumerator func() ([]string, error)
