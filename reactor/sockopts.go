package reactor

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// joinMulticast adds pconn's underlying socket to the given multicast
// group, via IP_ADD_MEMBERSHIP, matching
// Socket_processor::Stream::Add_multicast_group. Go's net package has
// no portable multicast-join knob for an already-bound PacketConn, so
// this reaches for golang.org/x/sys/unix (the corpus's own replacement
// for raw cgo socket-option calls) rather than hand-rolling a syscall
// wrapper.
func joinMulticast(pconn net.PacketConn, group string) {
	udp, ok := pconn.(*net.UDPConn)
	if !ok {
		return
	}
	groupIP := net.ParseIP(group)
	if groupIP == nil {
		return
	}
	groupIP = groupIP.To4()
	if groupIP == nil {
		return // IPv6 multicast join uses a different sockopt; not needed by this SDK.
	}
	raw, err := udp.SyscallConn()
	if err != nil {
		return
	}
	_ = raw.Control(func(fd uintptr) {
		mreq := &unix.IPMreq{
			Multiaddr: [4]byte{groupIP[0], groupIP[1], groupIP[2], groupIP[3]},
		}
		_ = unix.SetsockoptIPMreq(int(fd), syscall.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq)
	})
}

// enableBroadcast turns SO_BROADCAST on or off for pconn, matching
// Socket_processor::Stream::Enable_broadcast.
func enableBroadcast(pconn net.PacketConn, enable bool) bool {
	udp, ok := pconn.(*net.UDPConn)
	if !ok {
		return false
	}
	raw, err := udp.SyscallConn()
	if err != nil {
		return false
	}
	v := 0
	if enable {
		v = 1
	}
	var setErr error
	_ = raw.Control(func(fd uintptr) {
		setErr = unix.SetsockoptInt(int(fd), syscall.SOL_SOCKET, unix.SO_BROADCAST, v)
	})
	return setErr == nil
}
