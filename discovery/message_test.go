package discovery

import "testing"

func TestBuildNotifyAlive(t *testing.T) {
	msg := buildNotify("239.198.46.46:1991", "my-type", "svc-1", "tcp://{local_address}:5000", "inst-1", "10.0.0.5", true)
	parsed, ok := parseSSDP([]byte(msg))
	if !ok {
		t.Fatalf("parseSSDP failed on: %q", msg)
	}
	if parsed.method != methodNotify {
		t.Fatalf("method = %q, want %q", parsed.method, methodNotify)
	}
	if parsed.header("nts") != "ssdp:alive" {
		t.Fatalf("nts = %q", parsed.header("nts"))
	}
	if parsed.header("nt") != "my-type" {
		t.Fatalf("nt = %q", parsed.header("nt"))
	}
	if parsed.header("usn") != "svc-1" {
		t.Fatalf("usn = %q", parsed.header("usn"))
	}
	if parsed.header("id") != "inst-1" {
		t.Fatalf("id = %q", parsed.header("id"))
	}
	if parsed.header("location") != "tcp://10.0.0.5:5000" {
		t.Fatalf("location = %q, want substituted address", parsed.header("location"))
	}
}

func TestBuildNotifyByebye(t *testing.T) {
	msg := buildNotify("127.255.255.255:1991", "my-type", "svc-1", "tcp://1.2.3.4:5000", "inst-1", "127.0.0.1", false)
	parsed, ok := parseSSDP([]byte(msg))
	if !ok {
		t.Fatal("parseSSDP failed")
	}
	if parsed.header("nts") != "ssdp:byebye" {
		t.Fatalf("nts = %q", parsed.header("nts"))
	}
}

func TestBuildMSearchRoundTrip(t *testing.T) {
	msg := buildMSearch("239.198.46.46:1991", "wanted-type")
	parsed, ok := parseSSDP([]byte(msg))
	if !ok {
		t.Fatal("parseSSDP failed")
	}
	if parsed.method != methodSearch {
		t.Fatalf("method = %q, want %q", parsed.method, methodSearch)
	}
	if parsed.header("st") != "wanted-type" {
		t.Fatalf("st = %q", parsed.header("st"))
	}
}

func TestBuildResponseRoundTrip(t *testing.T) {
	msg := buildResponse("wanted-type", "svc-9", "tcp://10.0.0.2:9", "inst-9")
	parsed, ok := parseSSDP([]byte(msg))
	if !ok {
		t.Fatal("parseSSDP failed")
	}
	if parsed.method != "" {
		t.Fatalf("method = %q, want empty (bare response)", parsed.method)
	}
	if parsed.header("st") != "wanted-type" {
		t.Fatalf("st = %q", parsed.header("st"))
	}
	if parsed.header("usn") != "svc-9" {
		t.Fatalf("usn = %q", parsed.header("usn"))
	}
	if parsed.header("location") != "tcp://10.0.0.2:9" {
		t.Fatalf("location = %q", parsed.header("location"))
	}
}

func TestHasLocationToken(t *testing.T) {
	if !hasLocationToken("tcp://{local_address}:10") {
		t.Fatal("expected token detected")
	}
	if hasLocationToken("tcp://10.0.0.1:10") {
		t.Fatal("expected no token detected")
	}
}

func TestParseSSDPRejectsGarbage(t *testing.T) {
	if _, ok := parseSSDP(nil); ok {
		t.Fatal("expected parseSSDP to reject empty input")
	}
}
