package dictionary

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// jsonPair is the export layout: a serialized (int, string) tuple, which is
// what dictionaries saved by the desktop viewer contain.
type jsonPair struct {
	Item1 int    `json:"Item1"`
	Item2 string `json:"Item2"`
}

// Export writes every entry of d as a JSON array of pairs.
func Export(w io.Writer, d Dictionary) error {
	entries := d.Entries()
	pairs := make([]jsonPair, len(entries))
	for i, e := range entries {
		pairs[i] = jsonPair{Item1: e.Code, Item2: e.Value}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(pairs); err != nil {
		return fmt.Errorf("failed to encode dictionary: %w", err)
	}
	return nil
}

// Import reads a JSON array of pairs and returns them as editable rows.
//
// Both {"Item1":1,"Item2":"x"} (also accepted as {"code":1,"value":"x"}) and
// [1,"x"] elements are understood. Elements without an integer code, or
// with a non-string value, are dropped.
func Import(r io.Reader) ([]Row, error) {
	var items []json.RawMessage
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		return nil, fmt.Errorf("failed to decode dictionary: %w", err)
	}

	rows := make([]Row, 0, len(items))
	for _, item := range items {
		code, value, ok := decodePair(item)
		if !ok {
			continue
		}
		rows = append(rows, Row{Key: strconv.Itoa(code), Value: value})
	}
	return rows, nil
}

func decodePair(item json.RawMessage) (int, string, bool) {
	item = bytes.TrimSpace(item)
	if len(item) == 0 {
		return 0, "", false
	}

	var codeRaw, valueRaw json.RawMessage
	switch item[0] {
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(item, &obj); err != nil {
			return 0, "", false
		}
		codeRaw, valueRaw = obj["Item1"], obj["Item2"]
		if codeRaw == nil {
			codeRaw, valueRaw = obj["code"], obj["value"]
		}
	case '[':
		var arr []json.RawMessage
		if err := json.Unmarshal(item, &arr); err != nil || len(arr) == 0 || len(arr) > 2 {
			return 0, "", false
		}
		codeRaw = arr[0]
		if len(arr) == 2 {
			valueRaw = arr[1]
		}
	default:
		return 0, "", false
	}

	if codeRaw == nil || bytes.Equal(bytes.TrimSpace(codeRaw), []byte("null")) {
		return 0, "", false
	}
	var code int
	if err := json.Unmarshal(codeRaw, &code); err != nil {
		return 0, "", false
	}
	var value string
	if valueRaw != nil && !bytes.Equal(bytes.TrimSpace(valueRaw), []byte("null")) {
		if err := json.Unmarshal(valueRaw, &value); err != nil {
			return 0, "", false
		}
	}
	return code, value, true
}
