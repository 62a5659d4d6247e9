package nbfx

import (
	"fmt"
	"strings"

	"github.com/Macmod/go-nbfx/dictionary"
	"github.com/Macmod/go-nbfx/nmf"
)

// Framing describes what surrounds the NBFX records in a payload.
type Framing uint8

const (
	// FramingNone is a bare NBFX record stream.
	FramingNone Framing = iota
	// FramingNBFSE prefixes the records with an [MC-NBFSE] StringTable.
	FramingNBFSE
	// FramingNMF is a captured [MC-NMF] record stream carrying envelopes.
	FramingNMF
)

func (f Framing) String() string {
	switch f {
	case FramingNone:
		return "none"
	case FramingNBFSE:
		return "nbfse"
	case FramingNMF:
		return "nmf"
	default:
		return fmt.Sprintf("framing(%d)", uint8(f))
	}
}

// ParseFraming parses the textual form of a Framing. An empty string
// selects FramingNone.
func ParseFraming(s string) (Framing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "nbfx", "nbfs":
		return FramingNone, nil
	case "nbfse":
		return FramingNBFSE, nil
	case "nmf":
		return FramingNMF, nil
	default:
		return FramingNone, fmt.Errorf("invalid framing %q (expected none, nbfse or nmf)", s)
	}
}

func (f Framing) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Framing) UnmarshalText(b []byte) error {
	v, err := ParseFraming(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// DecodeFramed unwraps data according to framing and decodes the first
// document it carries.
func DecodeFramed(data []byte, dict dictionary.Dictionary, framing Framing) (string, error) {
	switch framing {
	case FramingNone:
		return Decode(data, dict)
	case FramingNBFSE:
		return NewSession(dict).Decode(data)
	case FramingNMF:
		stream, err := nmf.ReadStream(data)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		if len(stream.Envelopes) == 0 {
			return "", fmt.Errorf("%w: NMF stream carries no envelope", ErrMalformed)
		}
		switch enc := stream.Encoding; {
		case enc == nmf.EncodingSOAP12Binary:
			return Decode(stream.Envelopes[0], dict)
		case enc == nmf.EncodingSOAP12BinaryDict:
			return NewSession(dict).Decode(stream.Envelopes[0])
		case enc <= nmf.EncodingSOAP12MTOM:
			return "", fmt.Errorf("%w: NMF stream uses text encoding 0x%02x", ErrMalformed, enc)
		default:
			return "", fmt.Errorf("%w: NMF stream uses unknown encoding 0x%02x", ErrMalformed, enc)
		}
	default:
		return "", fmt.Errorf("unsupported framing %s", framing)
	}
}

// Session decodes a sequence of [MC-NBFSE] documents.
//
// [MC-NBFSE] 2.1: the first StringTable entry has ID 1, and each subsequent
// String is assigned the next-higher odd number. A consumer MUST maintain
// this mapping until there are no further documents to process.
type Session struct {
	dict    dictionary.Dictionary
	strings []string
}

func NewSession(dict dictionary.Dictionary) *Session {
	return &Session{dict: dict, strings: []string{}}
}

// Decode reads the StringTable prefix of input, adds its strings to the
// session, and decodes the records that follow.
func (s *Session) Decode(input []byte) (string, error) {
	if len(input) == 0 {
		return "", fmt.Errorf("%w: empty NBFSE payload", ErrMalformed)
	}

	r := reader{data: input}
	size, err := r.readMBI()
	if err != nil {
		return "", fmt.Errorf("failed to decode StringTable size: %w", err)
	}
	table, err := r.readN(int(size))
	if err != nil {
		return "", fmt.Errorf("invalid StringTable size: %w", err)
	}

	entries, err := parseStringTableEntries(table)
	if err != nil {
		return "", err
	}
	s.strings = append(s.strings, entries...)

	return decodeRecords(input[r.off:], s.dict, s.strings)
}

// Strings returns the session StringTable in id order (ids 1, 3, 5, ...).
func (s *Session) Strings() []string {
	return append([]string(nil), s.strings...)
}

func parseStringTableEntries(data []byte) ([]string, error) {
	r := reader{data: data}
	var entries []string
	for !r.eof() {
		start := r.off
		str, err := r.readString()
		if err != nil {
			return nil, fmt.Errorf("failed to decode StringTable entry at %d: %w", start, err)
		}
		entries = append(entries, str)
	}
	return entries, nil
}
