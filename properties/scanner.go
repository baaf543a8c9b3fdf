package properties

import (
	"io"
	"strings"

	"github.com/ugcs/vsm-go/internal/vsmerr"
)

// scanner walks a fully-buffered .properties source, reproducing the
// grammar Properties::Load's character-by-character state machine
// recognises (comments, continuation lines, the escape set, key/value
// separators), but as a plain line/token scanner rather than a
// translation of the original's nested polymorphic State hierarchy -
// that structure is idiomatic C++, not idiomatic Go; see DESIGN.md.
type scanner struct {
	data        []byte
	pos         int
	description strings.Builder
}

func newScanner(r io.Reader) (*scanner, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return &scanner{data: data}, nil
}

func (s *scanner) eof() bool { return s.pos >= len(s.data) }

func isInlineSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\f' }

func (s *scanner) skipInlineWhitespace() {
	for !s.eof() && isInlineSpace(s.data[s.pos]) {
		s.pos++
	}
}

// consumeLineTerminatorFrom returns the position just past the line
// terminator starting at idx (CR, CRLF, or LF).
func (s *scanner) consumeLineTerminatorFrom(idx int) int {
	if s.data[idx] == '\r' {
		if idx+1 < len(s.data) && s.data[idx+1] == '\n' {
			return idx + 2
		}
		return idx + 1
	}
	return idx + 1
}

// nextProperty returns the next key/value pair along with the raw
// comment/blank-line text that preceded it. ok is false once the
// source is exhausted, at which point the caller should treat
// s.description as the file's trailing text.
func (s *scanner) nextProperty() (key, value, desc string, ok bool, err error) {
	for {
		if s.eof() {
			return "", "", s.description.String(), false, nil
		}

		lineStart := s.pos
		i := s.pos
		for i < len(s.data) && isInlineSpace(s.data[i]) {
			i++
		}
		if i >= len(s.data) {
			s.description.Write(s.data[lineStart:])
			s.pos = len(s.data)
			return "", "", s.description.String(), false, nil
		}

		c := s.data[i]
		switch {
		case c == '\n' || c == '\r':
			end := s.consumeLineTerminatorFrom(i)
			s.description.Write(s.data[lineStart:end])
			s.pos = end
			continue

		case c == '#' || c == '!':
			j := i
			for j < len(s.data) && s.data[j] != '\n' && s.data[j] != '\r' {
				j++
			}
			end := j
			if j < len(s.data) {
				end = s.consumeLineTerminatorFrom(j)
			}
			s.description.Write(s.data[lineStart:end])
			s.pos = end
			continue
		}

		s.pos = i
		key, value, err = s.readKeyValue()
		if err != nil {
			return "", "", "", false, err
		}
		desc = s.description.String()
		s.description.Reset()
		return key, value, desc, true, nil
	}
}

// readKeyValue reads one logical key/value entry, following trailing
// backslash continuations across physical lines, per Key_value_state/
// Read_string_state.
func (s *scanner) readKeyValue() (string, string, error) {
	key, keyHitNL, err := s.readToken(true)
	if err != nil {
		return "", "", err
	}
	if key == "" {
		return "", "", vsmerr.New(vsmerr.Parse, "empty key name")
	}
	if keyHitNL || s.eof() {
		return key, "", nil
	}

	s.skipInlineWhitespace()
	if !s.eof() {
		if c := s.data[s.pos]; c == '=' || c == ':' {
			s.pos++
			s.skipInlineWhitespace()
		}
	}

	value, _, err := s.readToken(false)
	if err != nil {
		return "", "", err
	}
	return key, value, nil
}

// readToken reads one escape-aware token: a key (terminated by
// whitespace, '=', ':', a line terminator, or EOF) or a value
// (terminated only by a line terminator or EOF), per Read_string_state.
// hitNewline reports whether an (already-consumed) line terminator
// ended the token, as opposed to a key-only stop character or EOF.
func (s *scanner) readToken(isKey bool) (text string, hitNewline bool, err error) {
	var b strings.Builder
	for {
		if s.eof() {
			return b.String(), false, nil
		}
		c := s.data[s.pos]

		if c == '\\' {
			s.pos++
			r, continuation, err := s.readEscape(isKey)
			if err != nil {
				return "", false, err
			}
			if continuation {
				continue
			}
			b.WriteRune(r)
			continue
		}

		if c == '\n' || c == '\r' {
			s.pos = s.consumeLineTerminatorFrom(s.pos)
			return b.String(), true, nil
		}

		if isKey && (isInlineSpace(c) || c == '=' || c == ':') {
			return b.String(), false, nil
		}

		b.WriteByte(c)
		s.pos++
	}
}

// readEscape consumes the character(s) following a backslash already
// advanced past, per Escape_state. continuation is true for a
// backslash-newline (value wraps to the next physical line, with its
// leading whitespace skipped), in which case r is meaningless.
func (s *scanner) readEscape(isKey bool) (r rune, continuation bool, err error) {
	if s.eof() {
		return 0, false, vsmerr.New(vsmerr.Parse, "unexpected end of stream: unclosed escape")
	}
	c := s.data[s.pos]
	switch c {
	case ' ':
		s.pos++
		return ' ', false, nil
	case 't', '\t':
		s.pos++
		return '\t', false, nil
	case 'f', '\f':
		s.pos++
		return '\f', false, nil
	case 'r':
		s.pos++
		return '\r', false, nil
	case 'n':
		s.pos++
		return '\n', false, nil
	case '\\':
		s.pos++
		return '\\', false, nil
	case '\r', '\n':
		s.pos = s.consumeLineTerminatorFrom(s.pos)
		s.skipInlineWhitespace()
		return 0, true, nil
	case 'u':
		s.pos++
		if s.pos+4 > len(s.data) {
			return 0, false, vsmerr.New(vsmerr.Parse, "invalid digit in unicode escape")
		}
		var v rune
		for i := 0; i < 4; i++ {
			d := s.data[s.pos]
			var digit rune
			switch {
			case d >= '0' && d <= '9':
				digit = rune(d - '0')
			case d >= 'a' && d <= 'f':
				digit = rune(d-'a') + 10
			case d >= 'A' && d <= 'F':
				digit = rune(d-'A') + 10
			default:
				return 0, false, vsmerr.New(vsmerr.Parse, "invalid digit in unicode escape")
			}
			v = v<<4 | digit
			s.pos++
		}
		return v, false, nil
	case '=', ':':
		if isKey {
			s.pos++
			return rune(c), false, nil
		}
		return 0, false, vsmerr.Newf(vsmerr.Parse, "invalid escape character: %c", c)
	default:
		return 0, false, vsmerr.Newf(vsmerr.Parse, "invalid escape character: %c", c)
	}
}
