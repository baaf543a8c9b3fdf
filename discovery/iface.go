package discovery

import "net"

// interfaceEnumerator lists the usable local interfaces; overridable in
// tests. Matches Socket_processor::Enumerate_local_interfaces, reduced
// to the one property the timer loop needs: the set of non-loopback,
// multicast-capable addresses to bind a sender socket on.
type interfaceEnumerator func() ([]string, error)

// enumerateMulticastAddresses returns the IPv4 addresses of every "up",
// multicast-capable, non-loopback interface, per the original's
// Is_multicast/Is_loopback filter in On_timer.
func enumerateMulticastAddresses() ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var addrs []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		ifaceAddrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range ifaceAddrs {
			ip, _, err := net.ParseCIDR(a.String())
			if err != nil || ip.To4() == nil {
				continue
			}
			addrs = append(addrs, ip.String())
		}
	}
	return addrs, nil
}
