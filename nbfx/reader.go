package nbfx

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// reader is a bounds-checked cursor over a record stream. Every failure is
// reported as ErrMalformed with the offset it occurred at.
type reader struct {
	data []byte
	off  int
}

func (r *reader) eof() bool { return r.off >= len(r.data) }

func (r *reader) errorf(format string, args ...any) error {
	return fmt.Errorf("%w at offset %d: %s", ErrMalformed, r.off, fmt.Sprintf(format, args...))
}

func (r *reader) peek() (byte, bool) {
	if r.eof() {
		return 0, false
	}
	return r.data[r.off], true
}

func (r *reader) readByte() (byte, error) {
	if r.eof() {
		return 0, r.errorf("unexpected end of stream")
	}
	b := r.data[r.off]
	r.off++
	return b, nil
}

// readN returns the next n bytes without copying.
func (r *reader) readN(n int) ([]byte, error) {
	if n < 0 || n > len(r.data)-r.off {
		return nil, r.errorf("need %d bytes, %d remaining", n, len(r.data)-r.off)
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) readUint16() (uint16, error) {
	b, err := r.readN(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *reader) readUint32() (uint32, error) {
	b, err := r.readN(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) readUint64() (uint64, error) {
	b, err := r.readN(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// readMBI reads a MultiByteInt31 ([MC-NBFX] 2.1.2): up to five 7-bit groups,
// least significant first, with the fifth group limited to 3 bits.
func (r *reader) readMBI() (uint32, error) {
	var v uint32
	for i := 0; i < 5; i++ {
		if r.eof() {
			return 0, r.errorf("truncated MultiByteInt31")
		}
		b := r.data[r.off]
		r.off++
		if i == 4 && b > 0x07 {
			return 0, r.errorf("MultiByteInt31 exceeds 31 bits")
		}
		v |= uint32(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			return v, nil
		}
	}
	return 0, r.errorf("invalid MultiByteInt31")
}

// readString reads a MultiByteInt31 length followed by that many UTF-8 bytes.
func (r *reader) readString() (string, error) {
	ln, err := r.readMBI()
	if err != nil {
		return "", err
	}
	return r.readUTF8(int(ln))
}

func (r *reader) readUTF8(n int) (string, error) {
	start := r.off
	b, err := r.readN(n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		r.off = start
		return "", r.errorf("invalid UTF-8 in %d-byte string", n)
	}
	return string(b), nil
}
