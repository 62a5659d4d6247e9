// Package compression undoes the optional GZip or raw Deflate wrapping applied
// to captured binary XML payloads.
package compression

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
)

// ErrFormat is returned when a buffer is not a valid stream for the chosen codec.
var ErrFormat = errors.New("invalid compressed stream")

// Mode selects how a payload is decompressed.
type Mode uint8

const (
	None Mode = iota
	GZip
	Deflate
	Auto
)

func (m Mode) String() string {
	switch m {
	case None:
		return "none"
	case GZip:
		return "gzip"
	case Deflate:
		return "deflate"
	case Auto:
		return "auto"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ParseMode parses the textual form of a Mode (case-insensitive).
// An empty string selects Auto.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return Auto, nil
	case "none":
		return None, nil
	case "gzip":
		return GZip, nil
	case "deflate":
		return Deflate, nil
	default:
		return None, fmt.Errorf("invalid compression mode %q (expected none, gzip, deflate or auto)", s)
	}
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// gzipMagic is the two-byte GZip member header (RFC 1952 2.3.1).
var gzipMagic = []byte{0x1f, 0x8b}

// Decompress returns data decoded according to mode.
//
// Auto checks the GZip signature first (buffers shorter than two bytes skip
// the check), then tries a raw Deflate decode of the whole buffer; if that
// probe fails the buffer is returned unchanged.
func Decompress(data []byte, mode Mode) ([]byte, error) {
	switch mode {
	case None:
		return data, nil
	case GZip:
		return gunzip(data)
	case Deflate:
		return inflate(data)
	case Auto:
		if len(data) >= 2 && bytes.HasPrefix(data, gzipMagic) {
			return gunzip(data)
		}
		if out, res := probeDeflate(data); res == probeOK {
			return out, nil
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported compression mode %s", mode)
	}
}

type probeResult int

const (
	probeOK probeResult = iota
	probeFailed
)

// probeDeflate attempts a raw Deflate decode. Deflate has no header, so a
// failure only means the buffer is probably not compressed.
func probeDeflate(data []byte) ([]byte, probeResult) {
	out, err := inflate(data)
	if err != nil {
		return nil, probeFailed
	}
	return out, probeOK
}

func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: gzip: %w", ErrFormat, err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: gzip: %w", ErrFormat, err)
	}
	return out, nil
}

func inflate(data []byte) ([]byte, error) {
	zr := flate.NewReader(bytes.NewReader(data))
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: deflate: %w", ErrFormat, err)
	}
	return out, nil
}
