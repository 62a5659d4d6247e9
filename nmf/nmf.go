// Package nmf reads captured .NET Message Framing ([MC-NMF]) record streams
// and extracts the SOAP envelopes they carry.
//
// Only the unprotected part of a stream can be read: once an Upgrade
// Request/Response pair switches the connection to an NNS or TLS upgrade,
// the remaining bytes are opaque and reading stops.
package nmf

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrFraming is returned for record streams that violate [MC-NMF].
var ErrFraming = errors.New("invalid NMF record stream")

// NMF Record Types (from [MC-NMF] 2.2.1 Record Types table)
const (
	RecordTypeVersion     uint8 = 0x00 // Version Record
	RecordTypeMode        uint8 = 0x01 // Mode Record
	RecordTypeVia         uint8 = 0x02 // Via Record
	RecordTypeEncoding    uint8 = 0x03 // Known Encoding Record
	RecordTypeExtEncoding uint8 = 0x04 // Extensible Encoding Record
	RecordTypeUnsizedEnv  uint8 = 0x05 // Unsized Envelope Record
	RecordTypeSizedEnv    uint8 = 0x06 // Sized Envelope Record
	RecordTypeEnd         uint8 = 0x07 // End Record
	RecordTypeFault       uint8 = 0x08 // Fault Record
	RecordTypeUpgradeReq  uint8 = 0x09 // Upgrade Request Record
	RecordTypeUpgradeRes  uint8 = 0x0A // Upgrade Response Record
	RecordTypePreambleAck uint8 = 0x0B // Preamble Ack Record
	RecordTypePreambleEnd uint8 = 0x0C // Preamble End Record
)

// Known encodings (from [MC-NMF] 2.2.3.4.1)
const (
	EncodingSOAP11UTF8       uint8 = 0x00
	EncodingSOAP11UTF16      uint8 = 0x01
	EncodingSOAP11UTF16LE    uint8 = 0x02
	EncodingSOAP12UTF8       uint8 = 0x03
	EncodingSOAP12UTF16      uint8 = 0x04
	EncodingSOAP12UTF16LE    uint8 = 0x05
	EncodingSOAP12MTOM       uint8 = 0x06
	EncodingSOAP12Binary     uint8 = 0x07 // Binary XML (NBFS)
	EncodingSOAP12BinaryDict uint8 = 0x08 // Binary XML with StringTable (NBFSE)
)

// Stream is the decoded content of a captured record stream.
type Stream struct {
	Version   [2]uint8
	Mode      uint8
	Via       string
	Encoding  uint8 // EncodingSOAP12BinaryDict unless a Known Encoding record says otherwise
	Envelopes [][]byte
	Faults    []string
	Ended     bool // an End record was seen
	Upgraded  bool // reading stopped at an upgrade
}

// ReadStream walks the records in data. A stream that starts directly with
// envelope records (no preamble) is accepted.
func ReadStream(data []byte) (*Stream, error) {
	s := &Stream{Encoding: EncodingSOAP12BinaryDict}
	off := 0
	for off < len(data) && !s.Ended && !s.Upgraded {
		t := data[off]
		off++

		var err error
		switch t {
		case RecordTypeVersion:
			if off+2 > len(data) {
				return nil, fmt.Errorf("%w: truncated version record", ErrFraming)
			}
			s.Version = [2]uint8{data[off], data[off+1]}
			off += 2
		case RecordTypeMode, RecordTypeEncoding:
			if off >= len(data) {
				return nil, fmt.Errorf("%w: truncated record 0x%02x", ErrFraming, t)
			}
			if t == RecordTypeMode {
				s.Mode = data[off]
			} else {
				s.Encoding = data[off]
			}
			off++
		case RecordTypeVia, RecordTypeExtEncoding, RecordTypeFault:
			var b []byte
			if b, off, err = readSized(data, off); err != nil {
				return nil, err
			}
			if !utf8.Valid(b) {
				return nil, fmt.Errorf("%w: record 0x%02x holds invalid UTF-8", ErrFraming, t)
			}
			switch t {
			case RecordTypeVia:
				s.Via = string(b)
			case RecordTypeFault:
				s.Faults = append(s.Faults, string(b))
			}
		case RecordTypeSizedEnv:
			var b []byte
			if b, off, err = readSized(data, off); err != nil {
				return nil, err
			}
			s.Envelopes = append(s.Envelopes, b)
		case RecordTypeUnsizedEnv:
			var b []byte
			if b, off, err = readChunks(data, off); err != nil {
				return nil, err
			}
			s.Envelopes = append(s.Envelopes, b)
		case RecordTypeEnd:
			s.Ended = true
		case RecordTypeUpgradeReq:
			if _, off, err = readSized(data, off); err != nil {
				return nil, err
			}
			s.Upgraded = true
		case RecordTypeUpgradeRes:
			s.Upgraded = true
		case RecordTypePreambleAck, RecordTypePreambleEnd:
		default:
			return nil, fmt.Errorf("%w: unexpected record type 0x%02x at offset %d", ErrFraming, t, off-1)
		}
	}

	if len(s.Envelopes) == 0 && len(s.Faults) > 0 {
		return nil, fmt.Errorf("%w: fault record: %s", ErrFraming, s.Faults[0])
	}
	return s, nil
}

// readSized reads a record-size prefixed byte string starting at off.
func readSized(data []byte, off int) ([]byte, int, error) {
	size, n, err := decodeRecordSize(data[off:])
	if err != nil {
		return nil, off, fmt.Errorf("%w: %w", ErrFraming, err)
	}
	off += n
	if int(size) > len(data)-off {
		return nil, off, fmt.Errorf("%w: record of %d bytes truncated at %d", ErrFraming, size, len(data)-off)
	}
	return data[off : off+int(size)], off + int(size), nil
}

// readChunks reads the data chunks of an Unsized Envelope record, which end
// with a zero byte terminator.
func readChunks(data []byte, off int) ([]byte, int, error) {
	var out []byte
	for {
		if off >= len(data) {
			return nil, off, fmt.Errorf("%w: unterminated unsized envelope", ErrFraming)
		}
		if data[off] == 0x00 {
			return out, off + 1, nil
		}
		var chunk []byte
		var err error
		if chunk, off, err = readSized(data, off); err != nil {
			return nil, off, err
		}
		out = append(out, chunk...)
	}
}

// decodeRecordSize reads a record size, a MultiByteInt31 ([MC-NMF] 2.2.2):
// at most five bytes, the fifth carrying only the top three bits.
func decodeRecordSize(data []byte) (uint32, int, error) {
	var size uint32
	for i := 0; i < 5; i++ {
		if i == len(data) {
			return 0, 0, errors.New("incomplete encoded size")
		}
		b := data[i]
		if i == 4 && b > 0x07 {
			return 0, 0, fmt.Errorf("encoded size does not fit in 31 bits (fifth byte 0x%02x)", b)
		}
		size |= uint32(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			if size == 0 {
				return 0, 0, errors.New("invalid zero size")
			}
			return size, i + 1, nil
		}
	}
	return 0, 0, errors.New("invalid encoded size")
}
