// Package dictionary holds the code-to-string tables that NBFX dictionary
// records refer to.
//
// Two kinds of table exist: the fixed WCF well-known strings table (WellKnown)
// and custom tables built from user supplied (code, value) rows. Codes are the
// dictionary indexes the binary reader looks up, i.e. the on-wire string id
// shifted right by one.
package dictionary

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownCode is returned by Resolve when no string exists for a code.
var ErrUnknownCode = errors.New("unknown dictionary code")

// Entry is a single (code, value) pair.
type Entry struct {
	Code  int
	Value string
}

// Dictionary resolves integer codes to strings.
type Dictionary interface {
	Resolve(code int) (string, error)
	Entries() []Entry
	Len() int
}

// Static is a dense, read-only table where the code is the slice index.
type Static struct {
	name    string
	strings []string
}

// WellKnown is the ServiceModelStringsVersion1 table. It is initialised once
// and never mutated, so it is safe for concurrent use without locking.
var WellKnown = &Static{name: "Version1", strings: wellKnownStrings[:]}

func (s *Static) Resolve(code int) (string, error) {
	if code < 0 || code >= len(s.strings) {
		return "", fmt.Errorf("%w %d (%s table has %d entries)", ErrUnknownCode, code, s.name, len(s.strings))
	}
	return s.strings[code], nil
}

func (s *Static) Entries() []Entry {
	out := make([]Entry, len(s.strings))
	for i, v := range s.strings {
		out[i] = Entry{Code: i, Value: v}
	}
	return out
}

func (s *Static) Len() int { return len(s.strings) }

// Name returns the table version name.
func (s *Static) Name() string { return s.name }

// Custom is a sparse user-defined table. Codes need not be contiguous.
type Custom struct {
	values map[int]string
}

// NewCustom builds a Custom dictionary from entries. Negative codes are
// skipped; a repeated code keeps the last value.
func NewCustom(entries []Entry) *Custom {
	c := &Custom{values: make(map[int]string, len(entries))}
	for _, e := range entries {
		if e.Code < 0 {
			continue
		}
		c.values[e.Code] = e.Value
	}
	return c
}

func (c *Custom) Resolve(code int) (string, error) {
	if v, ok := c.values[code]; ok {
		return v, nil
	}
	return "", fmt.Errorf("%w %d", ErrUnknownCode, code)
}

// Entries returns the entries sorted by code.
func (c *Custom) Entries() []Entry {
	out := make([]Entry, 0, len(c.values))
	for k, v := range c.values {
		out = append(out, Entry{Code: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (c *Custom) Len() int { return len(c.values) }
