package discovery

import (
	"bufio"
	"strings"
)

const (
	methodSearch = "M-SEARCH"
	methodNotify = "NOTIFY"

	localAddressToken = "{local_address}"
)

// buildNotify renders a NOTIFY ssdp:alive/byebye datagram, per
// Service_discovery_processor::Send_notify. host is the HOST header
// value (the destination address); location has localAddressToken
// substituted with localAddr.
func buildNotify(host, serviceType, name, location, instanceID, localAddr string, alive bool) string {
	nts := "ssdp:byebye"
	if alive {
		nts = "ssdp:alive"
	}
	var b strings.Builder
	b.WriteString(methodNotify)
	b.WriteString(" * HTTP/1.1\r\nHOST:")
	b.WriteString(host)
	b.WriteString("\r\nNTS:")
	b.WriteString(nts)
	b.WriteString("\r\nNT:")
	b.WriteString(serviceType)
	b.WriteString("\r\nUSN:")
	b.WriteString(name)
	b.WriteString("\r\nID:")
	b.WriteString(instanceID)
	b.WriteString("\r\nLocation:")
	b.WriteString(buildLocation(location, localAddr))
	b.WriteString("\r\n\r\n")
	return b.String()
}

// buildMSearch renders an M-SEARCH query, per
// Service_discovery_processor::Send_msearch.
func buildMSearch(host, serviceType string) string {
	var b strings.Builder
	b.WriteString(methodSearch)
	b.WriteString(" * HTTP/1.1\r\nHOST:")
	b.WriteString(host)
	b.WriteString("\r\nMAN: \"ssdp:discover\"\r\nMX: 3\r\nST:")
	b.WriteString(serviceType)
	b.WriteString("\r\n\r\n")
	return b.String()
}

// buildResponse renders an M-SEARCH 200 OK response, per
// Service_discovery_processor::Send_response.
func buildResponse(serviceType, name, location, instanceID string) string {
	var b strings.Builder
	b.WriteString("HTTP/1.1 200 OK\r\nST:")
	b.WriteString(serviceType)
	b.WriteString("\r\nUSN:")
	b.WriteString(name)
	b.WriteString("\r\nLocation:")
	b.WriteString(location)
	b.WriteString("\r\nID:")
	b.WriteString(instanceID)
	b.WriteString("\r\n\r\n")
	return b.String()
}

// hasLocationToken reports whether loc needs per-interface substitution.
func hasLocationToken(loc string) bool {
	return strings.Contains(loc, localAddressToken)
}

// buildLocation substitutes localAddressToken with localAddr.
func buildLocation(loc, localAddr string) string {
	return strings.ReplaceAll(loc, localAddressToken, localAddr)
}

// ssdpMessage is a parsed NOTIFY/M-SEARCH/response datagram. method is
// "" for a bare "HTTP/1.1 200 OK" response, matching
// Http_parser::Get_method's convention used in On_read.
type ssdpMessage struct {
	method  string
	headers map[string]string
}

func (m ssdpMessage) header(name string) string {
	return m.headers[strings.ToLower(name)]
}

// parseSSDP parses a minimal HTTP-like request/response line plus
// "Key:Value" headers terminated by CRLFCRLF - deliberately not a full
// HTTP parser, since SSDP datagrams never carry a body, matching the
// original's own bespoke Http_parser rather than pulling in a general
// HTTP implementation for a body-less, line-oriented format.
func parseSSDP(data []byte) (ssdpMessage, bool) {
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	sc.Split(bufio.ScanLines)
	if !sc.Scan() {
		return ssdpMessage{}, false
	}
	startLine := strings.TrimSpace(sc.Text())
	msg := ssdpMessage{headers: make(map[string]string)}
	fields := strings.Fields(startLine)
	if len(fields) == 0 {
		return ssdpMessage{}, false
	}
	if fields[0] == methodSearch || fields[0] == methodNotify {
		msg.method = fields[0]
	}
	// else: a response start-line ("HTTP/1.1 200 OK"); method stays "".

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:idx]))
		msg.headers[key] = strings.TrimSpace(line[idx+1:])
	}
	return msg, true
}
