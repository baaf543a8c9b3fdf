package properties

import (
	"strings"

	"github.com/ugcs/vsm-go/internal/vsmerr"
)

// Iterator walks every key sharing a prefix, splitting each into
// separator-delimited components, per Properties::Iterator - used to
// enumerate dynamically-numbered configuration groups such as
// "serial.<id>.name"/"serial.<id>.baud" without the caller having to
// reimplement prefix scanning and splitting itself.
type Iterator struct {
	separator byte
	keys      []string
	idx       int
}

// NewIterator returns an Iterator over every key in s with the given
// prefix, sorted, split on separator.
func NewIterator(s *Store, prefix string, separator byte) *Iterator {
	return &Iterator{separator: separator, keys: s.Keys(prefix)}
}

// Done reports whether the iterator has been advanced past the last
// matching key.
func (it *Iterator) Done() bool { return it.idx >= len(it.keys) }

// Next advances to the next matching key.
func (it *Iterator) Next() { it.idx++ }

// Key returns the current full key.
func (it *Iterator) Key() string {
	if it.Done() {
		return ""
	}
	return it.keys[it.idx]
}

// Count returns the number of separator-delimited components in the
// current key, per Properties::Iterator::Get_count.
func (it *Iterator) Count() int {
	if it.Done() {
		return 0
	}
	return strings.Count(it.keys[it.idx], string(it.separator)) + 1
}

// Component returns the i-th separator-delimited component of the
// current key, per Properties::Iterator::operator[].
func (it *Iterator) Component(i int) (string, error) {
	if it.Done() {
		return "", vsmerr.New(vsmerr.Internal, "accessing end iterator")
	}
	parts := strings.Split(it.keys[it.idx], string(it.separator))
	if i < 0 || i >= len(parts) {
		return "", vsmerr.New(vsmerr.InvalidParam, "component index out of range")
	}
	return parts[i], nil
}
