// Package properties implements the Java .properties file grammar used
// for every VSM configuration file, grounded on Properties/
// Properties::Property. There is no suitable third-party .properties
// parser among the retrieved examples or their dependency trees, so
// this is a hand-rolled scanner; see DESIGN.md.
package properties

import (
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ugcs/vsm-go/internal/vsmerr"
)

// Property is one parsed entry: its raw string form plus the integer
// and floating point interpretations, when valid, per
// Properties::Property's three-way representation.
type Property struct {
	Str string

	IntVal   int64
	IntValid bool

	FloatVal   float64
	FloatValid bool

	// Description is the raw text (comment lines and blank lines,
	// including their terminators) that immediately preceded this
	// property in the source, reproduced verbatim by Write.
	Description string

	seq int
}

// newProperty derives Int/Float validity from value, per
// Properties::Property's string constructor: an integer parse (base 0,
// so "0x..." and "0..." prefixes are honoured) takes priority; if it
// fails but the value is a valid float within int64 range, the rounded
// float becomes the integer representation too.
func newProperty(value string) Property {
	p := Property{Str: value, Description: "\n"}
	trimmed := strings.TrimSpace(value)

	if trimmed != "" {
		if v, err := strconv.ParseInt(trimmed, 0, 64); err == nil {
			p.IntVal = v
			p.IntValid = true
		}
		if v, err := strconv.ParseFloat(trimmed, 64); err == nil {
			p.FloatVal = v
			p.FloatValid = true
		}
	}

	if !p.IntValid && p.FloatValid && p.FloatVal >= math.MinInt64 && p.FloatVal <= math.MaxInt64 {
		p.IntVal = int64(math.Round(p.FloatVal))
		p.IntValid = true
	}

	return p
}

// Store holds a parsed set of key/value properties, preserving
// insertion order (via sequence numbers) and each entry's preceding
// comment block for round-tripping through Write, per the Properties
// class.
type Store struct {
	mu      sync.RWMutex
	table   map[string]*Property
	trailer string
	nextSeq int
}

// New returns an empty Store.
func New() *Store {
	return &Store{table: make(map[string]*Property)}
}

// LoadFile reads and parses path, per the command line's -c <config
// file> handling.
func LoadFile(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	s := New()
	if err := s.Load(f); err != nil {
		return nil, vsmerr.Wrap(vsmerr.Parse, "failed to parse "+path, err)
	}
	return s, nil
}

// WriteFile serialises the store to path, truncating any existing
// file, per Properties::Store's stream-based counterpart.
func (s *Store) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return s.Write(f)
}

// Exists reports whether key is present.
func (s *Store) Exists(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.table[key]
	return ok
}

// Get returns key's string value, per Properties::Get.
func (s *Store) Get(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.table[key]
	if !ok {
		return "", vsmerr.Newf(vsmerr.NotFound, "specified key not found: %s", key)
	}
	return p.Str, nil
}

// GetInt returns key's integer value, per Properties::Get_int.
func (s *Store) GetInt(key string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.table[key]
	if !ok {
		return 0, vsmerr.Newf(vsmerr.NotFound, "specified key not found: %s", key)
	}
	if !p.IntValid {
		return 0, vsmerr.Newf(vsmerr.Parse, "property value %q cannot be represented as an integer", p.Str)
	}
	return int(p.IntVal), nil
}

// GetFloat returns key's floating point value, per Properties::Get_float.
func (s *Store) GetFloat(key string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.table[key]
	if !ok {
		return 0, vsmerr.Newf(vsmerr.NotFound, "specified key not found: %s", key)
	}
	if !p.FloatValid {
		return 0, vsmerr.Newf(vsmerr.Parse, "property value %q cannot be represented as a float", p.Str)
	}
	return p.FloatVal, nil
}

// Keys returns every key with the given prefix, sorted, satisfying
// detector.PropertySource. An empty prefix returns every key.
func (s *Store) Keys(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.table {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Set stores a string value, per Properties::Set(string).
func (s *Store) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(key, newProperty(value))
}

// SetInt stores an integer value, per Properties::Set(int32_t).
func (s *Store) SetInt(key string, value int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(key, Property{
		Str:        strconv.FormatInt(int64(value), 10),
		IntVal:     int64(value),
		IntValid:   true,
		FloatVal:   float64(value),
		FloatValid: true,
	})
}

// SetFloat stores a floating point value, per Properties::Set(double).
func (s *Store) SetFloat(key string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := Property{Str: strconv.FormatFloat(value, 'f', -1, 64), FloatVal: value, FloatValid: true}
	if value >= math.MinInt64 && value <= math.MaxInt64 {
		p.IntVal = int64(math.Round(value))
		p.IntValid = true
	}
	s.setLocked(key, p)
}

func (s *Store) setLocked(key string, p Property) {
	if existing, ok := s.table[key]; ok {
		p.seq = existing.seq
		p.Description = existing.Description
	} else {
		p.seq = s.nextSeq
		s.nextSeq++
	}
	s.table[key] = &p
}

// Delete removes key, per Properties::Delete.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.table[key]; !ok {
		return vsmerr.Newf(vsmerr.NotFound, "specified key not found: %s", key)
	}
	delete(s.table, key)
	return nil
}

// SetDescription attaches a comment block to key, creating an empty
// property for it if one doesn't already exist, per
// Properties::Set_description.
func (s *Store) SetDescription(key, desc string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.table[key]
	if !ok {
		np := newProperty("")
		np.seq = s.nextSeq
		s.nextSeq++
		s.table[key] = &np
		p = s.table[key]
	}
	var b strings.Builder
	b.WriteByte('\n')
	for _, line := range strings.Split(desc, "\n") {
		b.WriteString("# ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	p.Description = b.String()
}

// Load resets the store and parses Java .properties syntax from r, per
// Properties::Load. Duplicate keys are rejected.
func (s *Store) Load(r io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.table = make(map[string]*Property)
	s.nextSeq = 0

	sc, err := newScanner(r)
	if err != nil {
		return err
	}

	for {
		key, value, desc, ok, err := sc.nextProperty()
		if err != nil {
			return err
		}
		if !ok {
			s.trailer = desc
			return nil
		}
		if _, exists := s.table[key]; exists {
			return vsmerr.Newf(vsmerr.AlreadyExists, "duplicated entry: %s", key)
		}
		p := newProperty(value)
		p.Description = desc
		p.seq = s.nextSeq
		s.nextSeq++
		s.table[key] = &p
	}
}

// Write serialises the store back to Java .properties syntax, sorted
// by original insertion order, per Properties::Store.
func (s *Store) Write(w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type entry struct {
		key string
		p   *Property
	}
	entries := make([]entry, 0, len(s.table))
	for k, p := range s.table {
		entries = append(entries, entry{k, p})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].p.seq < entries[j].p.seq })

	for _, e := range entries {
		if _, err := io.WriteString(w, e.p.Description); err != nil {
			return err
		}
		if _, err := io.WriteString(w, Escape(e.key, true)); err != nil {
			return err
		}
		if e.p.Str != "" {
			if _, err := fmt.Fprintf(w, " = %s", Escape(e.p.Str, false)); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, s.trailer)
	return err
}

// Escape renders str safe for re-parsing, per Properties::Escape. When
// isKey is true, characters that would otherwise terminate a key token
// (space, tab, form feed, '=', ':') are also escaped.
func Escape(str string, isKey bool) string {
	var b strings.Builder
	for _, c := range str {
		switch c {
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\\':
			b.WriteString(`\\`)
		default:
			if isKey {
				switch c {
				case ' ':
					b.WriteString(`\ `)
					continue
				case '\t':
					b.WriteString(`\t`)
					continue
				case '\f':
					b.WriteString(`\f`)
					continue
				case '=', ':':
					b.WriteByte('\\')
					b.WriteRune(c)
					continue
				}
			}
			b.WriteRune(c)
		}
	}
	return b.String()
}
