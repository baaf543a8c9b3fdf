package properties

import (
	"strings"
	"testing"

	"github.com/ugcs/vsm-go/internal/vsmerr"
)

func TestLoadBasicKeyValue(t *testing.T) {
	s := New()
	src := "foo = bar\nbaz: 42\n"
	if err := s.Load(strings.NewReader(src)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	v, err := s.Get("foo")
	if err != nil || v != "bar" {
		t.Fatalf("Get(foo) = %q, %v", v, err)
	}
	n, err := s.GetInt("baz")
	if err != nil || n != 42 {
		t.Fatalf("GetInt(baz) = %d, %v", n, err)
	}
}

func TestLoadCommentsAndDescription(t *testing.T) {
	s := New()
	src := "# a setting\n# second line\nport = 5760\n"
	if err := s.Load(strings.NewReader(src)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !s.Exists("port") {
		t.Fatal("expected port to exist")
	}
	p := s.table["port"]
	if !strings.Contains(p.Description, "# a setting") || !strings.Contains(p.Description, "# second line") {
		t.Fatalf("description = %q", p.Description)
	}
}

func TestLoadBlankLinesAndDuplicateKeyError(t *testing.T) {
	s := New()
	src := "a = 1\n\na = 2\n"
	err := s.Load(strings.NewReader(src))
	if err == nil {
		t.Fatal("expected a duplicate key error")
	}
	if !vsmerr.Is(err, vsmerr.AlreadyExists) {
		t.Fatalf("expected AlreadyExists, got %v", err)
	}
}

func TestEscapeSequences(t *testing.T) {
	s := New()
	src := `name = hello\tworld\nsecond\\line` + "\n"
	if err := s.Load(strings.NewReader(src)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	v, err := s.Get("name")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := "hello\tworld\nsecond\\line"
	if v != want {
		t.Fatalf("value = %q, want %q", v, want)
	}
}

func TestUTF8Passthrough(t *testing.T) {
	s := New()
	src := `greeting = café` + "\n"
	if err := s.Load(strings.NewReader(src)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	v, err := s.Get("greeting")
	if err != nil || v != "café" {
		t.Fatalf("value = %q, %v", v, err)
	}
}

func TestUnicodeEscapeSequence(t *testing.T) {
	s := New()
	src := "greeting = caf\\u00e9\n"
	if err := s.Load(strings.NewReader(src)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	v, err := s.Get("greeting")
	if err != nil || v != "café" {
		t.Fatalf("value = %q, %v", v, err)
	}
}

func TestEscapedKeySeparator(t *testing.T) {
	s := New()
	src := `a\:b = value` + "\n"
	if err := s.Load(strings.NewReader(src)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !s.Exists("a:b") {
		t.Fatalf("expected key 'a:b' to exist, keys = %v", s.Keys(""))
	}
}

func TestLineContinuation(t *testing.T) {
	s := New()
	src := "message = one \\\n    two\n"
	if err := s.Load(strings.NewReader(src)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	v, err := s.Get("message")
	if err != nil || v != "one two" {
		t.Fatalf("value = %q, %v", v, err)
	}
}

func TestKeyWithoutValue(t *testing.T) {
	s := New()
	if err := s.Load(strings.NewReader("standalone\n")); err != nil {
		t.Fatalf("Load: %v", err)
	}
	v, err := s.Get("standalone")
	if err != nil || v != "" {
		t.Fatalf("value = %q, %v", v, err)
	}
}

func TestIntAndFloatConversion(t *testing.T) {
	s := New()
	src := "hexval = 0x1F\ndoubleonly = 3.5\ntextonly = not-a-number\n"
	if err := s.Load(strings.NewReader(src)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n, err := s.GetInt("hexval"); err != nil || n != 31 {
		t.Fatalf("hexval = %d, %v", n, err)
	}
	// 3.5 isn't a valid integer literal but is a valid float; the
	// rounded float becomes the integer representation too.
	if n, err := s.GetInt("doubleonly"); err != nil || n != 4 {
		t.Fatalf("doubleonly as int = %d, %v", n, err)
	}
	if f, err := s.GetFloat("doubleonly"); err != nil || f != 3.5 {
		t.Fatalf("doubleonly as float = %v, %v", f, err)
	}
	if _, err := s.GetInt("textonly"); err == nil {
		t.Fatal("expected textonly to not convert to int")
	}
	if _, err := s.GetFloat("textonly"); err == nil {
		t.Fatal("expected textonly to not convert to float")
	}
}

func TestGetMissingKey(t *testing.T) {
	s := New()
	if _, err := s.Get("missing"); !vsmerr.Is(err, vsmerr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if s.Exists("missing") {
		t.Fatal("missing should not exist")
	}
}

func TestSetAndDelete(t *testing.T) {
	s := New()
	s.Set("a", "1")
	s.SetInt("b", 7)
	s.SetFloat("c", 1.5)

	if v, _ := s.Get("a"); v != "1" {
		t.Fatalf("a = %q", v)
	}
	if n, err := s.GetInt("b"); err != nil || n != 7 {
		t.Fatalf("b = %d, %v", n, err)
	}
	if f, err := s.GetFloat("c"); err != nil || f != 1.5 {
		t.Fatalf("c = %v, %v", f, err)
	}

	if err := s.Delete("a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if s.Exists("a") {
		t.Fatal("a should no longer exist")
	}
	if err := s.Delete("a"); !vsmerr.Is(err, vsmerr.NotFound) {
		t.Fatalf("expected NotFound deleting twice, got %v", err)
	}
}

func TestKeysPrefix(t *testing.T) {
	s := New()
	s.Set("ucs.local_listening_address", "0.0.0.0")
	s.Set("ucs.local_listening_port", "5558")
	s.Set("serial.exclude", "/dev/ttyS0")

	got := s.Keys("ucs.")
	if len(got) != 2 || got[0] != "ucs.local_listening_address" || got[1] != "ucs.local_listening_port" {
		t.Fatalf("Keys(ucs.) = %v", got)
	}
	if len(s.Keys("")) != 3 {
		t.Fatalf("Keys(\"\") = %v", s.Keys(""))
	}
}

func TestLoadWriteRoundTrip(t *testing.T) {
	s := New()
	src := "# header comment\nfirst = one\n\n# second entry\nsecond = two\n"
	if err := s.Load(strings.NewReader(src)); err != nil {
		t.Fatalf("Load: %v", err)
	}

	var buf strings.Builder
	if err := s.Write(&buf); err != nil {
		t.Fatalf("Write: %v", err)
	}

	reloaded := New()
	if err := reloaded.Load(strings.NewReader(buf.String())); err != nil {
		t.Fatalf("reload: %v\noutput was:\n%s", err, buf.String())
	}
	if v, _ := reloaded.Get("first"); v != "one" {
		t.Fatalf("first = %q", v)
	}
	if v, _ := reloaded.Get("second"); v != "two" {
		t.Fatalf("second = %q", v)
	}
	if !strings.Contains(buf.String(), "header comment") {
		t.Fatalf("expected header comment to survive round trip, got:\n%s", buf.String())
	}
}

func TestSetDescription(t *testing.T) {
	s := New()
	s.Set("port", "5760")
	s.SetDescription("port", "tcp listening port")

	var buf strings.Builder
	if err := s.Write(&buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !strings.Contains(buf.String(), "# tcp listening port") {
		t.Fatalf("expected description in output, got:\n%s", buf.String())
	}
}

func TestIterator(t *testing.T) {
	s := New()
	s.Set("serial.0.name", "/dev/ttyUSB0")
	s.Set("serial.0.baud", "115200")
	s.Set("serial.1.name", "/dev/ttyUSB1")

	it := NewIterator(s, "serial.", '.')
	count := 0
	for !it.Done() {
		if it.Count() != 3 {
			t.Fatalf("Count() = %d for key %q", it.Count(), it.Key())
		}
		comp, err := it.Component(1)
		if err != nil {
			t.Fatalf("Component(1): %v", err)
		}
		if comp != "0" && comp != "1" {
			t.Fatalf("unexpected component id %q", comp)
		}
		count++
		it.Next()
	}
	if count != 3 {
		t.Fatalf("iterated %d keys, want 3", count)
	}
}

func TestUnmatchedEscapeAtEOF(t *testing.T) {
	s := New()
	if err := s.Load(strings.NewReader(`key = value\`)); err == nil {
		t.Fatal("expected an error for an unclosed trailing escape")
	}
}

func TestEmptyKeyNameError(t *testing.T) {
	s := New()
	if err := s.Load(strings.NewReader("= value\n")); !vsmerr.Is(err, vsmerr.Parse) {
		t.Fatalf("expected a Parse error for an empty key name, got %v", err)
	}
}
