package dictionary

import (
	"strconv"
	"strings"
)

// Row is one editable (key, value) line as typed by a user. Key is free text
// until it parses as a code.
type Row struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ParseRow turns a row into an Entry. ok is false when the key is not a
// non-negative integer; such rows are still being edited and carry no entry.
func ParseRow(r Row) (e Entry, ok bool) {
	code, err := strconv.Atoi(strings.TrimSpace(r.Key))
	if err != nil || code < 0 {
		return Entry{}, false
	}
	return Entry{Code: code, Value: r.Value}, true
}

// FromRows builds a Custom dictionary from the rows that parse.
func FromRows(rows []Row) *Custom {
	entries := make([]Entry, 0, len(rows))
	for _, r := range rows {
		if e, ok := ParseRow(r); ok {
			entries = append(entries, e)
		}
	}
	return NewCustom(entries)
}

// Rows renders entries back into editable rows.
func Rows(entries []Entry) []Row {
	out := make([]Row, len(entries))
	for i, e := range entries {
		out[i] = Row{Key: strconv.Itoa(e.Code), Value: e.Value}
	}
	return out
}
