package nbfx

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	uuid "github.com/satori/go.uuid"
	"golang.org/x/text/encoding/unicode"
)

// readText decodes the payload of text record t (the type byte has already
// been consumed) into its XML lexical form.
func (d *decoder) readText(t byte) (string, error) {
	r := &d.r
	switch t &^ 1 {
	case recZeroText:
		return "0", nil
	case recOneText:
		return "1", nil
	case recFalseText:
		return "false", nil
	case recTrueText:
		return "true", nil
	case recEmptyText:
		return "", nil
	case recInt8Text:
		b, err := r.readByte()
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(int64(int8(b)), 10), nil
	case recInt16Text:
		v, err := r.readUint16()
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(int64(int16(v)), 10), nil
	case recInt32Text:
		v, err := r.readUint32()
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(int64(int32(v)), 10), nil
	case recInt64Text:
		v, err := r.readUint64()
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(int64(v), 10), nil
	case recUInt64Text:
		v, err := r.readUint64()
		if err != nil {
			return "", err
		}
		return strconv.FormatUint(v, 10), nil
	case recFloatText:
		v, err := r.readUint32()
		if err != nil {
			return "", err
		}
		return formatFloat(float64(math.Float32frombits(v)), 32), nil
	case recDoubleText:
		v, err := r.readUint64()
		if err != nil {
			return "", err
		}
		return formatFloat(math.Float64frombits(v), 64), nil
	case recDecimalText:
		b, err := r.readN(16)
		if err != nil {
			return "", err
		}
		s, ok := formatDecimal(b)
		if !ok {
			return "", r.errorf("invalid Decimal scale %d", b[2])
		}
		return s, nil
	case recDateTimeText:
		v, err := r.readUint64()
		if err != nil {
			return "", err
		}
		s, ok := formatDateTime(v)
		if !ok {
			return "", r.errorf("DateTime ticks out of range")
		}
		return s, nil
	case recTimeSpanText:
		v, err := r.readUint64()
		if err != nil {
			return "", err
		}
		return formatDuration(int64(v)), nil
	case recChars8Text, recChars16Text, recChars32Text:
		n, err := d.readLength(t &^ 1)
		if err != nil {
			return "", err
		}
		return r.readUTF8(n)
	case recBytes8Text, recBytes16Text, recBytes32Text:
		n, err := d.readLength(t &^ 1)
		if err != nil {
			return "", err
		}
		b, err := r.readN(n)
		if err != nil {
			return "", err
		}
		return base64.StdEncoding.EncodeToString(b), nil
	case recUnicodeChars8Text, recUnicodeChars16Text, recUnicodeChars32Text:
		n, err := d.readLength(t &^ 1)
		if err != nil {
			return "", err
		}
		if n%2 != 0 {
			return "", r.errorf("odd UTF-16 byte count %d", n)
		}
		b, err := r.readN(n)
		if err != nil {
			return "", err
		}
		s, err := utf16LE.NewDecoder().Bytes(b)
		if err != nil {
			return "", r.errorf("invalid UTF-16: %v", err)
		}
		return string(s), nil
	case recDictionaryText:
		id, err := r.readMBI()
		if err != nil {
			return "", err
		}
		return d.dictString(id)
	case recQNameDictionaryText:
		p, err := r.readByte()
		if err != nil {
			return "", err
		}
		if p > 25 {
			return "", r.errorf("invalid QName prefix index %d", p)
		}
		id, err := r.readMBI()
		if err != nil {
			return "", err
		}
		name, err := d.dictString(id)
		if err != nil {
			return "", err
		}
		return string(rune('a'+p)) + ":" + name, nil
	case recUniqueIdText:
		b, err := r.readN(16)
		if err != nil {
			return "", err
		}
		return "urn:uuid:" + formatGUID(b), nil
	case recUuidText:
		b, err := r.readN(16)
		if err != nil {
			return "", err
		}
		return formatGUID(b), nil
	case recBoolText:
		b, err := r.readByte()
		if err != nil {
			return "", err
		}
		switch b {
		case 0:
			return "false", nil
		case 1:
			return "true", nil
		}
		return "", r.errorf("invalid Bool value 0x%02x", b)
	case recStartListText:
		return d.readList()
	default:
		return "", r.errorf("unexpected text record type 0x%02x", t)
	}
}

// readLength reads the size field of a Chars, Bytes or UnicodeChars record.
// The 8 and 16 bit forms are unsigned, the 32 bit form is a signed int32.
func (d *decoder) readLength(base byte) (int, error) {
	switch base {
	case recChars8Text, recBytes8Text, recUnicodeChars8Text:
		b, err := d.r.readByte()
		return int(b), err
	case recChars16Text, recBytes16Text, recUnicodeChars16Text:
		v, err := d.r.readUint16()
		return int(v), err
	default:
		v, err := d.r.readUint32()
		if err != nil {
			return 0, err
		}
		if int32(v) < 0 {
			return 0, d.r.errorf("negative length %d", int32(v))
		}
		return int(v), nil
	}
}

// readList reads text records up to EndListText and joins them with spaces.
func (d *decoder) readList() (string, error) {
	var items []string
	for {
		t, err := d.r.readByte()
		if err != nil {
			return "", err
		}
		if t == recEndListText {
			return strings.Join(items, " "), nil
		}
		if !isTextRecord(t) || t&1 == 1 || t == recStartListText {
			return "", d.r.errorf("unexpected record type 0x%02x in list", t)
		}
		s, err := d.readText(t)
		if err != nil {
			return "", err
		}
		items = append(items, s)
	}
}

var utf16LE = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// formatGUID renders a .NET Guid, whose first three fields are little-endian.
func formatGUID(b []byte) string {
	var be [16]byte
	binary.BigEndian.PutUint32(be[0:4], binary.LittleEndian.Uint32(b[0:4]))
	binary.BigEndian.PutUint16(be[4:6], binary.LittleEndian.Uint16(b[4:6]))
	binary.BigEndian.PutUint16(be[6:8], binary.LittleEndian.Uint16(b[6:8]))
	copy(be[8:], b[8:16])
	u, err := uuid.FromBytes(be[:])
	if err != nil {
		return ""
	}
	return u.String()
}

// formatFloat follows XmlConvert: INF/-INF/NaN, shortest round-trip digits,
// and exponent notation only for very large or very small magnitudes.
func formatFloat(v float64, bitSize int) string {
	switch {
	case math.IsInf(v, 1):
		return "INF"
	case math.IsInf(v, -1):
		return "-INF"
	case math.IsNaN(v):
		return "NaN"
	}
	limit := 1e15
	if bitSize == 32 {
		limit = 1e7
	}
	if abs := math.Abs(v); abs != 0 && (abs >= limit || abs < 1e-5) {
		return strconv.FormatFloat(v, 'E', -1, bitSize)
	}
	return strconv.FormatFloat(v, 'f', -1, bitSize)
}

// formatDecimal renders a 16-byte System.Decimal: flags (scale in byte 2,
// sign in bit 7 of byte 3), a 32-bit high word and a 64-bit low word.
func formatDecimal(b []byte) (string, bool) {
	scale := int(b[2])
	if scale > 28 {
		return "", false
	}
	neg := b[3]&0x80 != 0

	v := new(big.Int).SetUint64(uint64(binary.LittleEndian.Uint32(b[4:8])))
	v.Lsh(v, 64)
	v.Or(v, new(big.Int).SetUint64(binary.LittleEndian.Uint64(b[8:16])))

	digits := v.String()
	if scale > 0 {
		if len(digits) <= scale {
			digits = strings.Repeat("0", scale-len(digits)+1) + digits
		}
		digits = digits[:len(digits)-scale] + "." + digits[len(digits)-scale:]
	}
	if neg && v.Sign() != 0 {
		digits = "-" + digits
	}
	return digits, true
}

const (
	ticksPerSecond = 10_000_000
	ticksPerDay    = 24 * 60 * 60 * ticksPerSecond
	// ticks between 0001-01-01 and the Unix epoch
	unixEpochTicks = 621_355_968_000_000_000
	maxDateTicks   = 3_155_378_975_999_999_999
)

// formatDateTime renders a .NET DateTime (62-bit ticks plus a 2-bit kind)
// in round-trip form: fractional seconds without trailing zeros, "Z" for UTC
// and the local offset for local times.
func formatDateTime(v uint64) (string, bool) {
	ticks := int64(v & 0x3FFFFFFFFFFFFFFF)
	kind := v >> 62
	if ticks > maxDateTicks || kind == 3 {
		return "", false
	}

	rel := ticks - unixEpochTicks
	sec := rel / ticksPerSecond
	frac := rel % ticksPerSecond
	if frac < 0 {
		sec--
		frac += ticksPerSecond
	}
	t := time.Unix(sec, frac*100).UTC()

	var sb strings.Builder
	sb.WriteString(t.Format("2006-01-02T15:04:05"))
	if frac != 0 {
		sb.WriteByte('.')
		sb.WriteString(strings.TrimRight(fmt.Sprintf("%07d", frac), "0"))
	}
	switch kind {
	case 1:
		sb.WriteByte('Z')
	case 2:
		local := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.Local)
		sb.WriteString(local.Format("-07:00"))
	}
	return sb.String(), true
}

// formatDuration renders TimeSpan ticks as an xs:duration, e.g. P1DT2H3M4.5S.
func formatDuration(ticks int64) string {
	if ticks == 0 {
		return "PT0S"
	}
	var sb strings.Builder
	u := uint64(ticks)
	if ticks < 0 {
		sb.WriteByte('-')
		u = ^u + 1
	}
	days := u / ticksPerDay
	u %= ticksPerDay
	hours := u / (3600 * ticksPerSecond)
	u %= 3600 * ticksPerSecond
	minutes := u / (60 * ticksPerSecond)
	u %= 60 * ticksPerSecond
	seconds := u / ticksPerSecond
	frac := u % ticksPerSecond

	sb.WriteByte('P')
	if days > 0 {
		fmt.Fprintf(&sb, "%dD", days)
	}
	if hours > 0 || minutes > 0 || seconds > 0 || frac > 0 {
		sb.WriteByte('T')
		if hours > 0 {
			fmt.Fprintf(&sb, "%dH", hours)
		}
		if minutes > 0 {
			fmt.Fprintf(&sb, "%dM", minutes)
		}
		if seconds > 0 || frac > 0 {
			fmt.Fprintf(&sb, "%d", seconds)
			if frac > 0 {
				sb.WriteByte('.')
				sb.WriteString(strings.TrimRight(fmt.Sprintf("%07d", frac), "0"))
			}
			sb.WriteByte('S')
		}
	}
	return sb.String()
}
