package nbfx_test

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/Macmod/go-nbfx/dictionary"
	"github.com/Macmod/go-nbfx/nbfx"
	"github.com/Macmod/go-nbfx/nmf"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

// soapVector is an [MC-NBFS] SOAP envelope using the well-known dictionary.
const soapVector = "56020b0161060b0173045608440a1e00829806616374696f6e0101560e4009496e76656e746f727980010101"

const soapXML = `<s:Envelope xmlns:a="http://www.w3.org/2005/08/addressing" xmlns:s="http://www.w3.org/2003/05/soap-envelope">` +
	`<s:Header><a:Action s:mustUnderstand="1">action</a:Action></s:Header>` +
	`<s:Body><Inventory>0</Inventory></s:Body></s:Envelope>`

func TestDecodeDictionaryFreeDocument(t *testing.T) {
	got, err := nbfx.Decode(mustHex(t, "40 01 61 40 01 62 99 02 68 69 01"), dictionary.NewCustom(nil))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got != "<a><b>hi</b></a>" {
		t.Fatalf("unexpected XML: %s", got)
	}
}

func TestDecodeSOAPVector(t *testing.T) {
	got, err := nbfx.Decode(mustHex(t, soapVector), dictionary.WellKnown)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got != soapXML {
		t.Fatalf("unexpected XML:\n got %s\nwant %s", got, soapXML)
	}
}

func TestDecodeIgnoresTrailingBytes(t *testing.T) {
	data := mustHex(t, soapVector+"4001630101ff")
	got, err := nbfx.Decode(data, dictionary.WellKnown)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got != soapXML {
		t.Fatalf("unexpected XML: %s", got)
	}
}

func TestDecodeCustomDictionary(t *testing.T) {
	dict := dictionary.NewCustom([]dictionary.Entry{{Code: 1, Value: "Order"}, {Code: 5, Value: "id"}, {Code: 6, Value: "urn:shop"}})
	// <Order xmlns="urn:shop" id="7">urn:shop</Order>, names and values by dictionary id.
	data := mustHex(t, "42 02 0a 0c 06 0a 88 07 ab 0c")
	got, err := nbfx.Decode(data, dict)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	want := `<Order xmlns="urn:shop" id="7">urn:shop</Order>`
	if got != want {
		t.Fatalf("unexpected XML: %s", got)
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown record", "00"},
		{"reserved text type", "40 01 61 a5 01"},
		{"truncated name", "40 05 61"},
		{"truncated MBI", "42 80"},
		{"oversized MBI", "42 ff ff ff ff 7f 01"},
		{"unclosed element", "40 01 61 40 01 62 01"},
		{"stray end element", "01"},
		{"attribute outside element", "40 01 61 98 01 78 04 01 78 98 00 01"},
		{"attribute value with end element", "40 01 61 04 01 78 99 00 01"},
		{"truncated int32", "40 01 61 8c 01 02"},
		{"invalid bool", "40 01 61 b4 02 01"},
		{"odd utf16 length", "40 01 61 b6 03 68 00 69 01"},
		{"invalid utf8", "40 02 c3 28 01"},
		{"negative chars32 length", "40 01 61 9c ff ff ff ff 01"},
		{"session id without table", "42 01 01"},
		{"text closing top level", "99 01 61"},
		{"invalid decimal scale", "40 01 61 94 0000 1d00 00000000 0000000000000000 01"},
		{"array without element", "03 98 00"},
		{"array with bad value type", "03 40 01 76 01 99 01 00"},
		{"list with end element item", "40 01 61 a4 83 a6 01"},
	}
	for _, tc := range tests {
		_, err := nbfx.Decode(mustHex(t, tc.data), dictionary.WellKnown)
		if !errors.Is(err, nbfx.ErrMalformed) {
			t.Fatalf("%s: expected ErrMalformed, got %v", tc.name, err)
		}
	}
}

func TestDecodeEmptyStream(t *testing.T) {
	got, err := nbfx.Decode(nil, dictionary.WellKnown)
	if err != nil || got != "" {
		t.Fatalf("expected empty result, got %q, %v", got, err)
	}

	// A StringTable with nothing after it.
	got, err = nbfx.DecodeFramed(mustHex(t, "02 01 78"), dictionary.WellKnown, nbfx.FramingNBFSE)
	if err != nil || got != "" {
		t.Fatalf("expected empty result after StringTable, got %q, %v", got, err)
	}
}

func TestDecodeRejectsDuplicateAttributes(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"plain", "40 01 61 04 01 78 82 04 01 78 82 01"},
		{"dictionary and inline name", "40 01 65 06 f8 06 98 01 73 04 04 74 79 70 65 80 01"},
		{"prefixed", "40 01 61 09 01 70 01 75 05 01 70 01 78 80 05 01 70 01 78 82 01"},
		{"default namespace", "40 01 61 08 01 75 0a 04 01"},
		{"prefix declaration", "40 01 61 09 01 70 01 75 0b 01 70 04 01"},
		{"array template", "03 40 01 76 04 01 6b 80 04 01 6b 80 01 8d 01 01000000"},
	}
	for _, tc := range tests {
		_, err := nbfx.Decode(mustHex(t, tc.data), dictionary.WellKnown)
		if !errors.Is(err, nbfx.ErrMalformed) || !strings.Contains(err.Error(), "duplicate attribute") {
			t.Fatalf("%s: expected duplicate attribute error, got %v", tc.name, err)
		}
	}

	// Same local name under different prefixes is allowed.
	got, err := nbfx.Decode(mustHex(t, "40 01 61 09 01 70 01 75 05 01 70 01 78 80 04 01 78 82 01"), nil)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got != `<a xmlns:p="u" p:x="0" x="1"></a>` {
		t.Fatalf("unexpected XML: %s", got)
	}
}

func TestDecodeRejectsUndeclaredPrefixes(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"element", "56 02 01"},
		{"attribute", "40 01 61 05 01 70 01 78 80 01"},
		{"dictionary attribute", "40 01 65 1e 00 86 01"},
		{"declaration out of scope", "40 01 61 40 01 62 09 01 70 01 75 01 6d 01 63 01 01"},
		{"nested element", "40 01 61 41 01 70 01 62 01 01"},
		{"array template", "03 5e 01 76 01 8d 01 01000000"},
	}
	for _, tc := range tests {
		_, err := nbfx.Decode(mustHex(t, tc.data), dictionary.WellKnown)
		if !errors.Is(err, nbfx.ErrMalformed) || !strings.Contains(err.Error(), "not declared") {
			t.Fatalf("%s: expected undeclared prefix error, got %v", tc.name, err)
		}
	}

	tests = []struct {
		name string
		data string
	}{
		{"declared on the element itself", "5e 01 62 09 01 61 01 75 01"},
		{"declared on an ancestor", "40 01 61 09 01 70 01 75 41 01 70 01 62 05 01 70 01 78 80 01 01"},
		{"xml prefix", "40 01 61 05 03 78 6d 6c 04 6c 61 6e 67 98 02 65 6e 01"},
		{"redeclared after sibling scope", "40 01 61 09 01 70 01 75 40 01 62 09 01 70 01 76 01 41 01 70 01 63 01 01"},
	}
	for _, tc := range tests {
		if _, err := nbfx.Decode(mustHex(t, tc.data), dictionary.WellKnown); err != nil {
			t.Fatalf("%s: decode failed: %v", tc.name, err)
		}
	}
}

func TestDecodeUnknownDictionaryCode(t *testing.T) {
	_, err := nbfx.Decode(mustHex(t, "42 02 01"), dictionary.NewCustom(nil))
	if !errors.Is(err, nbfx.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	if !errors.Is(err, dictionary.ErrUnknownCode) {
		t.Fatalf("expected ErrUnknownCode in chain, got %v", err)
	}

	// Id 0x3D0 is past the end of the well-known table.
	_, err = nbfx.Decode(mustHex(t, "42 d0 07 01"), dictionary.WellKnown)
	if !errors.Is(err, dictionary.ErrUnknownCode) {
		t.Fatalf("expected ErrUnknownCode, got %v", err)
	}
}

func TestDecodeTextRecords(t *testing.T) {
	tests := []struct {
		name string
		rec  string
		want string
	}{
		{"zero", "80", "0"},
		{"one", "82", "1"},
		{"false", "84", "false"},
		{"true", "86", "true"},
		{"int8", "88 ff", "-1"},
		{"int16", "8a 00 80", "-32768"},
		{"int32", "8c 2a 00 00 00", "42"},
		{"int64", "8e fe ff ff ff ff ff ff ff", "-2"},
		{"float", "90 00 00 c0 3f", "1.5"},
		{"double", "92 9a 99 99 99 99 99 b9 3f", "0.1"},
		{"double inf", "92 00 00 00 00 00 00 f0 7f", "INF"},
		{"decimal", "94 0000 0280 00000000 3930000000000000", "-123.45"},
		{"decimal fraction", "94 0000 0300 00000000 0700000000000000", "0.007"},
		{"datetime utc", "96 c0 0b 0c 7b 3f 0b dc 48", "2024-01-02T03:04:05.5Z"},
		{"datetime unspecified", "96 c0 0b 0c 7b 3f 0b dc 08", "2024-01-02T03:04:05.5"},
		{"timespan", "ae 40 07 eb 5b da 00 00 00", "P1DT2H3M4.5S"},
		{"negative timespan", "ae c0 f8 14 a4 25 ff ff ff", "-P1DT2H3M4.5S"},
		{"zero timespan", "ae 00 00 00 00 00 00 00 00", "PT0S"},
		{"chars8", "98 02 68 69", "hi"},
		{"chars16", "9a 02 00 68 69", "hi"},
		{"chars32", "9c 02 00 00 00 68 69", "hi"},
		{"escaped chars", "98 05 61 3c 62 26 63", "a&lt;b&amp;c"},
		{"bytes8", "9e 03 01 02 03", "AQID"},
		{"bytes16", "a0 03 00 01 02 03", "AQID"},
		{"empty", "a8", ""},
		{"dictionary", "aa 02", "Envelope"},
		{"unique id", "ac 33 22 11 00 55 44 77 66 88 99 aa bb cc dd ee ff", "urn:uuid:00112233-4455-6677-8899-aabbccddeeff"},
		{"uuid", "b0 33 22 11 00 55 44 77 66 88 99 aa bb cc dd ee ff", "00112233-4455-6677-8899-aabbccddeeff"},
		{"uint64", "b2 ff ff ff ff ff ff ff ff", "18446744073709551615"},
		{"bool", "b4 01", "true"},
		{"unicode chars8", "b6 04 68 00 69 00", "hi"},
		{"unicode chars16", "b8 04 00 68 00 69 00", "hi"},
		{"qname", "bc 01 02", "b:Envelope"},
		{"list", "a4 82 84 98 01 78 a6", "1 false x"},
	}
	for _, tc := range tests {
		data := mustHex(t, "40 01 76 "+tc.rec+" 01")
		got, err := nbfx.Decode(data, dictionary.WellKnown)
		if err != nil {
			t.Fatalf("%s: decode failed: %v", tc.name, err)
		}
		want := "<v>" + tc.want + "</v>"
		if got != want {
			t.Fatalf("%s: got %s want %s", tc.name, got, want)
		}
	}
}

func TestDecodeTextWithEndElement(t *testing.T) {
	got, err := nbfx.Decode(mustHex(t, "40 01 61 40 01 62 8d 2a 00 00 00 81 01"), nil)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got != "<a><b>42</b>0</a>" {
		t.Fatalf("unexpected XML: %s", got)
	}
}

func TestDecodeAttributes(t *testing.T) {
	tests := []struct {
		name string
		rec  string
		want string
	}{
		{"short", "04 01 78 98 01 22", `<e x="&quot;"></e>`},
		{"prefixed", "09 01 70 01 75 05 01 70 01 78 80", `<e xmlns:p="u" p:x="0"></e>`},
		{"short dictionary", "06 f8 06 98 01 73", `<e type="s"></e>`},
		{"dictionary", "09 03 78 73 69 01 75 07 03 78 73 69 f8 06 98 01 73", `<e xmlns:xsi="u" xsi:type="s"></e>`},
		{"short xmlns", "08 03 75 72 6e", `<e xmlns="urn"></e>`},
		{"xmlns", "09 01 70 03 75 72 6e", `<e xmlns:p="urn"></e>`},
		{"short dictionary xmlns", "0a 04", `<e xmlns="http://www.w3.org/2003/05/soap-envelope"></e>`},
		{"dictionary xmlns", "0b 01 73 04", `<e xmlns:s="http://www.w3.org/2003/05/soap-envelope"></e>`},
		{"prefix dictionary", "0b 01 73 04 1e 00 86", `<e xmlns:s="http://www.w3.org/2003/05/soap-envelope" s:mustUnderstand="true"></e>`},
		{"prefix", "09 01 7a 01 75 3f 01 78 a8", `<e xmlns:z="u" z:x=""></e>`},
		{"list value", "04 01 6c a4 80 82 a6", `<e l="0 1"></e>`},
		{"newline value", "04 01 6e 98 03 61 0a 62", `<e n="a&#xA;b"></e>`},
	}
	for _, tc := range tests {
		data := mustHex(t, "40 01 65 "+tc.rec+" 01")
		got, err := nbfx.Decode(data, dictionary.WellKnown)
		if err != nil {
			t.Fatalf("%s: decode failed: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %s want %s", tc.name, got, tc.want)
		}
	}
}

func TestDecodeElementForms(t *testing.T) {
	tests := []struct {
		name string
		rec  string
		want string
	}{
		{"element", "41 01 70 01 65 09 01 70 01 75", `<p:e xmlns:p="u"></p:e>`},
		{"short dictionary", "42 0e", "<Body></Body>"},
		{"dictionary", "43 02 65 76 0e 0b 02 65 76 04", `<ev:Body xmlns:ev="http://www.w3.org/2003/05/soap-envelope"></ev:Body>`},
		{"prefix dictionary a", "44 0e 09 01 61 01 75", `<a:Body xmlns:a="u"></a:Body>`},
		{"prefix dictionary z", "5d 0e 09 01 7a 01 75", `<z:Body xmlns:z="u"></z:Body>`},
		{"prefix a", "5e 01 65 09 01 61 01 75", `<a:e xmlns:a="u"></a:e>`},
		{"prefix z", "77 01 65 09 01 7a 01 75", `<z:e xmlns:z="u"></z:e>`},
	}
	for _, tc := range tests {
		got, err := nbfx.Decode(mustHex(t, tc.rec+" 01"), dictionary.WellKnown)
		if err != nil {
			t.Fatalf("%s: decode failed: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %s want %s", tc.name, got, tc.want)
		}
	}
}

func TestDecodeMixedContentAndComments(t *testing.T) {
	data := mustHex(t, "40 01 61 98 01 78 40 01 62 01 02 02 68 69 98 01 79 01")
	got, err := nbfx.Decode(data, nil)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got != "<a>x<b></b><!--hi-->y</a>" {
		t.Fatalf("unexpected XML: %s", got)
	}

	got, err = nbfx.Decode(mustHex(t, "02 03 61 62 63 40 01 61 01"), nil)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got != "<!--abc-->" {
		t.Fatalf("expected only the leading comment, got %s", got)
	}
}

func TestDecodeArray(t *testing.T) {
	data := mustHex(t, "40 01 61 03 40 01 76 04 01 6b 98 01 6e 01 8d 03 01000000 02000000 ffffffff 01")
	got, err := nbfx.Decode(data, nil)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	want := `<a><v k="n">1</v><v k="n">2</v><v k="n">-1</v></a>`
	if got != want {
		t.Fatalf("unexpected XML: %s", got)
	}
}

func TestDecodeDeepNesting(t *testing.T) {
	const depth = 100000
	var buf bytes.Buffer
	for i := 0; i < depth; i++ {
		buf.Write([]byte{0x40, 0x01, 'a'})
	}
	buf.Write(bytes.Repeat([]byte{0x01}, depth))

	got, err := nbfx.Decode(buf.Bytes(), nil)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(got) != depth*len("<a></a>") {
		t.Fatalf("unexpected output length %d", len(got))
	}
}

func TestDecodeLongText(t *testing.T) {
	text := strings.Repeat("x", 1<<20)
	var buf bytes.Buffer
	buf.Write([]byte{0x40, 0x01, 'a', 0x9d, 0x00, 0x00, 0x10, 0x00})
	buf.WriteString(text)

	got, err := nbfx.Decode(buf.Bytes(), nil)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got != "<a>"+text+"</a>" {
		t.Fatalf("long text was not preserved (len %d)", len(got))
	}
}

func TestSessionStringTable(t *testing.T) {
	s := nbfx.NewSession(dictionary.WellKnown)

	// StringTable ["Foo"], then <Foo xmlns:s="..." s:mustUnderstand="1"></Foo> using session id 1.
	got, err := s.Decode(mustHex(t, "04 03 46 6f 6f 42 01 0b 01 73 04 1e 00 82 01"))
	if err != nil {
		t.Fatalf("first document failed: %v", err)
	}
	if got != `<Foo xmlns:s="http://www.w3.org/2003/05/soap-envelope" s:mustUnderstand="1"></Foo>` {
		t.Fatalf("unexpected XML: %s", got)
	}

	// The second document adds "Bar" (id 3) and still sees "Foo" (id 1).
	got, err = s.Decode(mustHex(t, "04 03 42 61 72 42 03 42 01 01 01"))
	if err != nil {
		t.Fatalf("second document failed: %v", err)
	}
	if got != "<Bar><Foo></Foo></Bar>" {
		t.Fatalf("unexpected XML: %s", got)
	}
	if strs := s.Strings(); len(strs) != 2 || strs[1] != "Bar" {
		t.Fatalf("unexpected session strings: %v", strs)
	}

	if _, err := s.Decode(mustHex(t, "00 42 05 01")); !errors.Is(err, nbfx.ErrMalformed) {
		t.Fatalf("expected ErrMalformed for undefined session id, got %v", err)
	}
}

func TestDecodeFramedNBFSE(t *testing.T) {
	got, err := nbfx.DecodeFramed(mustHex(t, "00"+soapVector), dictionary.WellKnown, nbfx.FramingNBFSE)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got != soapXML {
		t.Fatalf("unexpected XML: %s", got)
	}
}

func nmfStream(t *testing.T, encoding byte, payload []byte) []byte {
	t.Helper()
	via := "net.tcp://dc.example.com:9389/ActiveDirectoryWebServices/Windows/Enumeration"
	var buf bytes.Buffer
	buf.Write([]byte{nmf.RecordTypeVersion, 0x01, 0x00, nmf.RecordTypeMode, 0x02, nmf.RecordTypeVia})
	buf.Write(binary.AppendUvarint(nil, uint64(len(via))))
	buf.WriteString(via)
	buf.Write([]byte{nmf.RecordTypeEncoding, encoding, nmf.RecordTypePreambleEnd, nmf.RecordTypeSizedEnv})
	buf.Write(binary.AppendUvarint(nil, uint64(len(payload))))
	buf.Write(payload)
	buf.WriteByte(nmf.RecordTypeEnd)
	return buf.Bytes()
}

func TestDecodeFramedNMF(t *testing.T) {
	for _, tc := range []struct {
		encoding byte
		payload  string
	}{
		{nmf.EncodingSOAP12BinaryDict, "00" + soapVector},
		{nmf.EncodingSOAP12Binary, soapVector},
	} {
		data := nmfStream(t, tc.encoding, mustHex(t, tc.payload))
		got, err := nbfx.DecodeFramed(data, dictionary.WellKnown, nbfx.FramingNMF)
		if err != nil {
			t.Fatalf("encoding 0x%02x: decode failed: %v", tc.encoding, err)
		}
		if got != soapXML {
			t.Fatalf("encoding 0x%02x: unexpected XML: %s", tc.encoding, got)
		}
	}

	_, err := nbfx.DecodeFramed([]byte{nmf.RecordTypeVersion, 0x01, 0x00, nmf.RecordTypeEnd}, dictionary.WellKnown, nbfx.FramingNMF)
	if !errors.Is(err, nbfx.ErrMalformed) {
		t.Fatalf("expected ErrMalformed for stream without envelope, got %v", err)
	}

	for _, enc := range []byte{nmf.EncodingSOAP11UTF8, nmf.EncodingSOAP12UTF8, nmf.EncodingSOAP12MTOM, 0x09} {
		data := nmfStream(t, enc, mustHex(t, soapVector))
		if _, err := nbfx.DecodeFramed(data, dictionary.WellKnown, nbfx.FramingNMF); !errors.Is(err, nbfx.ErrMalformed) {
			t.Fatalf("encoding 0x%02x: expected ErrMalformed, got %v", enc, err)
		}
	}
}

func TestParseFraming(t *testing.T) {
	for in, want := range map[string]nbfx.Framing{"": nbfx.FramingNone, "NBFS": nbfx.FramingNone, "nbfse": nbfx.FramingNBFSE, "NMF": nbfx.FramingNMF} {
		got, err := nbfx.ParseFraming(in)
		if err != nil || got != want {
			t.Fatalf("ParseFraming(%q)=%v,%v want %v", in, got, err, want)
		}
	}
	if _, err := nbfx.ParseFraming("soap"); err == nil {
		t.Fatal("expected error for unknown framing")
	}
}
