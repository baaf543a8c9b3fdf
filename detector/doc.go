// Package detector implements the transport detector (C9): it watches
// for connectable transports - serial ports, TCP/UDP sockets, CAN
// interfaces - and rotates a configured list of protocol detectors
// over each one until a caller reports a protocol match, per
// Transport_detector.
//
// Ported from a design the original header itself calls broken and in
// need of rework; this package keeps the same externally observable
// behavior (one-second watchdog rotation through detector lists) while
// replacing the original's raw OS-thread socket/serial plumbing with
// the reactor and fileproc packages.
package detector
