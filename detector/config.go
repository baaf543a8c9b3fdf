package detector

import (
	"sort"
	"strings"
)

// PropertySource is the minimal property-file read surface detector
// needs, satisfied by the future properties.Store (C12a). Declared
// locally rather than imported so detector has no dependency on the
// properties package's parsing internals, mirroring how the original
// keeps Properties a separate, independently testable component from
// Transport_detector.
type PropertySource interface {
	// Exists reports whether key is present.
	Exists(key string) bool
	// Get returns key's string value.
	Get(key string) (string, error)
	// GetInt returns key's integer value (decimal or 0x-prefixed hex).
	GetInt(key string) (int, error)
	// Keys returns every configured key with the given prefix, sorted.
	// An empty prefix returns every key.
	Keys(prefix string) []string
}

// Type identifies the kind of transport a Port watches for, per
// Transport_detector::Port::Type.
type Type int

const (
	Serial Type = iota
	TCPIn
	TCPOut
	UDPIn
	UDPInAny
	UDPOut
	Proxy
	CAN
	Pipe
)

func (t Type) String() string {
	switch t {
	case Serial:
		return "serial"
	case TCPIn:
		return "tcp_in"
	case TCPOut:
		return "tcp_out"
	case UDPIn:
		return "udp_in"
	case UDPInAny:
		return "udp_any"
	case UDPOut:
		return "udp_out"
	case Proxy:
		return "proxy"
	case CAN:
		return "can"
	case Pipe:
		return "pipe"
	default:
		return "unknown"
	}
}

const defaultRetryTimeoutSeconds = 10

// serialRule is a configured (pre-detection) serial port rule: a name
// pattern (regular expression), one or more baud rates to try, per
// Transport_detector::serial_detector_config entries.
type serialRule struct {
	pattern string
	bauds   []int
}

// ipRule describes one configured IP/pipe/CAN detector registration,
// resolved eagerly (unlike serial, which waits for a port to appear).
type ipRule struct {
	typ          Type
	localAddr    string
	remoteAddr   string
	retryTimeout int
	canOrPipe    string // interface/file name, for CAN and Pipe
}

// loadConfig parses every "<prefix>.*" property under src, per the key
// grammar documented on Transport_detector::Add_detector. Serial
// exclusion regexps and the use_arbiter flag are returned separately
// since they apply process-wide, not per-rule.
func loadConfig(src PropertySource, prefix string) (serials []serialRule, excludes []string, useArbiter bool, ips []ipRule, err error) {
	useArbiter = true
	root := prefix + "."

	if src.Exists(root + "serial.use_arbiter") {
		v, e := src.Get(root + "serial.use_arbiter")
		if e == nil {
			useArbiter = v == "yes"
		}
	}

	serialNames := map[string]string{} // conn_id -> regexp
	serialBauds := map[string][]int{}  // conn_id -> bauds

	for _, key := range src.Keys(root + "serial.") {
		rest := strings.TrimPrefix(key, root+"serial.")
		parts := strings.SplitN(rest, ".", 2)
		connID := parts[0]
		switch connID {
		case "use_arbiter":
			continue
		case "exclude":
			v, e := src.Get(key)
			if e == nil && v != "" {
				excludes = append(excludes, v)
			}
			continue
		}
		if len(parts) < 2 {
			continue
		}
		field := parts[1]
		switch {
		case field == "name":
			v, e := src.Get(key)
			if e == nil {
				serialNames[connID] = v
			}
		case field == "baud" || strings.HasPrefix(field, "baud."):
			v, e := src.GetInt(key)
			if e == nil {
				serialBauds[connID] = append(serialBauds[connID], v)
			}
		}
	}

	var connIDs []string
	for id := range serialNames {
		connIDs = append(connIDs, id)
	}
	sort.Strings(connIDs)
	for _, id := range connIDs {
		bauds := serialBauds[id]
		sort.Ints(bauds)
		if len(bauds) == 0 {
			continue
		}
		serials = append(serials, serialRule{pattern: serialNames[id], bauds: bauds})
	}

	localListenAddr := "0.0.0.0"
	if src.Exists(root + "local_listening_address") {
		if v, e := src.Get(root + "local_listening_address"); e == nil {
			localListenAddr = v
		}
	}
	if src.Exists(root + "local_listening_port") {
		if port, e := src.Get(root + "local_listening_port"); e == nil {
			ips = append(ips, ipRule{typ: TCPIn, localAddr: localListenAddr + ":" + port})
		}
	}
	if src.Exists(root + "port") {
		port, _ := src.Get(root + "port")
		addr, _ := src.Get(root + "address")
		timeout := retryTimeoutOf(src, root)
		ips = append(ips, ipRule{typ: TCPOut, remoteAddr: addr + ":" + port, retryTimeout: timeout})
	}

	for _, typ := range []Type{TCPOut, Proxy, TCPIn, UDPIn, UDPInAny, UDPOut, CAN, Pipe} {
		for _, connID := range connIDIndex(src, root, typ) {
			base := root + typ.String() + "." + connID + "."
			switch typ {
			case TCPOut, Proxy:
				port, e1 := src.Get(base + "port")
				addr, e2 := src.Get(base + "address")
				if e1 != nil || e2 != nil {
					continue
				}
				timeout := defaultRetryTimeoutSeconds
				if src.Exists(root + "retry_timeout") {
					if v, e := src.GetInt(root + "retry_timeout"); e == nil {
						timeout = v
					}
				}
				ips = append(ips, ipRule{typ: typ, remoteAddr: addr + ":" + port, retryTimeout: timeout})
			case TCPIn, UDPIn, UDPInAny:
				port, e := src.Get(base + "local_port")
				if e != nil {
					continue
				}
				addr := "0.0.0.0"
				if src.Exists(base + "local_address") {
					addr, _ = src.Get(base + "local_address")
				}
				ips = append(ips, ipRule{typ: typ, localAddr: addr + ":" + port})
			case UDPOut:
				addr, e1 := src.Get(base + "address")
				port, e2 := src.Get(base + "port")
				if e1 != nil || e2 != nil {
					continue
				}
				localAddr := "0.0.0.0"
				localPort := "0"
				if src.Exists(base + "local_address") {
					localAddr, _ = src.Get(base + "local_address")
				}
				if src.Exists(base + "local_port") {
					localPort, _ = src.Get(base + "local_port")
				}
				ips = append(ips, ipRule{typ: UDPOut, remoteAddr: addr + ":" + port, localAddr: localAddr + ":" + localPort})
			case CAN, Pipe:
				name, e := src.Get(base + "name")
				if e != nil {
					continue
				}
				ips = append(ips, ipRule{typ: typ, canOrPipe: name})
			}
		}
	}

	return serials, excludes, useArbiter, ips, nil
}

func retryTimeoutOf(src PropertySource, root string) int {
	if src.Exists(root + "retry_timeout") {
		if v, e := src.GetInt(root + "retry_timeout"); e == nil {
			return v
		}
	}
	return defaultRetryTimeoutSeconds
}

// connIDIndex returns the sorted set of "<conn_id>" segments configured
// under root+typ.String()+".".
func connIDIndex(src PropertySource, root string, typ Type) []string {
	seen := map[string]struct{}{}
	sub := root + typ.String() + "."
	for _, key := range src.Keys(sub) {
		rest := strings.TrimPrefix(key, sub)
		parts := strings.SplitN(rest, ".", 2)
		if len(parts) != 2 {
			continue
		}
		seen[parts[0]] = struct{}{}
	}
	var ids []string
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// parseHostPort is a small convenience the rest of the package uses to
// avoid net.SplitHostPort's error fussiness over already-joined strings.
func parseHostPort(s string) (host, port string) {
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i+1:]
}
