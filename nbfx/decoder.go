// Package nbfx decodes .NET Binary Format: XML ([MC-NBFX]) record streams
// into XML text.
//
// Dictionary string ids are resolved the way the WCF binary reader does it:
// an even id 2n is entry n of the caller's dictionary (for example
// dictionary.WellKnown for [MC-NBFS] payloads), an odd id 2n+1 is entry n of
// the session StringTable carried by [MC-NBFSE] payloads.
package nbfx

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Macmod/go-nbfx/dictionary"
)

// ErrMalformed is returned when a byte stream violates the NBFX grammar.
var ErrMalformed = errors.New("malformed binary XML")

// Decode reads exactly one top-level node from data and returns its outer
// XML. Bytes after the first complete node are ignored. An empty stream
// decodes to the empty string. A nil dict behaves as an empty dictionary.
func Decode(data []byte, dict dictionary.Dictionary) (string, error) {
	return decodeRecords(data, dict, nil)
}

func decodeRecords(data []byte, dict dictionary.Dictionary, session []string) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	if dict == nil {
		dict = dictionary.NewCustom(nil)
	}
	d := &decoder{r: reader{data: data}, dict: dict, session: session, scope: map[string]int{}}
	root, err := d.readRoot()
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	renderNode(&sb, root)
	return sb.String(), nil
}

type decoder struct {
	r       reader
	dict    dictionary.Dictionary
	session []string
	scope   map[string]int // prefix -> number of open declarations
}

// readRoot builds the tree of the first top-level node. Nesting is tracked
// with an explicit stack, so depth is limited only by memory.
func (d *decoder) readRoot() (*nbfxNode, error) {
	var root *nbfxNode
	var stack []*nbfxNode

	attach := func(n *nbfxNode) {
		if len(stack) == 0 {
			if root == nil {
				root = n
			}
			return
		}
		parent := stack[len(stack)-1]
		parent.Children = append(parent.Children, n)
	}

	for root == nil || len(stack) > 0 {
		if d.r.eof() {
			if len(stack) > 0 {
				return nil, d.r.errorf("unexpected end of stream with %d unclosed element(s), innermost <%s>",
					len(stack), stack[len(stack)-1].qualifiedName())
			}
			return nil, d.r.errorf("no top-level node")
		}

		t, _ := d.r.readByte()
		switch {
		case t == recEndElement:
			if len(stack) == 0 {
				return nil, d.r.errorf("end element without open element")
			}
			d.leave(stack[len(stack)-1])
			stack = stack[:len(stack)-1]

		case t == recComment:
			s, err := d.r.readString()
			if err != nil {
				return nil, err
			}
			attach(&nbfxNode{Kind: commentNode, Text: s})

		case t == recArray:
			items, err := d.readArray()
			if err != nil {
				return nil, err
			}
			for _, n := range items {
				attach(n)
			}

		case isElementRecord(t):
			n, err := d.readElement(t)
			if err != nil {
				return nil, err
			}
			if err := d.enter(n); err != nil {
				return nil, err
			}
			attach(n)
			stack = append(stack, n)

		case isAttributeRecord(t):
			return nil, d.r.errorf("attribute record 0x%02x outside an element start", t)

		case isTextRecord(t):
			s, err := d.readText(t)
			if err != nil {
				return nil, err
			}
			if len(stack) == 0 {
				if t&1 == 1 {
					return nil, d.r.errorf("text record 0x%02x closes an element that is not open", t)
				}
				attach(&nbfxNode{Kind: textNode, Text: s})
				continue
			}
			stack[len(stack)-1].appendText(s)
			if t&1 == 1 {
				d.leave(stack[len(stack)-1])
				stack = stack[:len(stack)-1]
			}

		default:
			return nil, d.r.errorf("unexpected record type 0x%02x", t)
		}
	}
	return root, nil
}

// readElement reads an element record of type t together with the
// attribute records that immediately follow it.
func (d *decoder) readElement(t byte) (*nbfxNode, error) {
	n := &nbfxNode{Kind: elementNode}
	var err error
	switch {
	case t == recShortElement:
		n.Name, err = d.r.readString()
	case t == recElement:
		if n.Prefix, err = d.r.readString(); err == nil {
			n.Name, err = d.r.readString()
		}
	case t == recShortDictionaryElement:
		n.Name, err = d.readDictString()
	case t == recDictionaryElement:
		if n.Prefix, err = d.r.readString(); err == nil {
			n.Name, err = d.readDictString()
		}
	case t >= recPrefixDictionaryElementA && t <= recPrefixDictionaryElementZ:
		n.Prefix = prefixLetter(t - recPrefixDictionaryElementA)
		n.Name, err = d.readDictString()
	case t >= recPrefixElementA && t <= recPrefixElementZ:
		n.Prefix = prefixLetter(t - recPrefixElementA)
		n.Name, err = d.r.readString()
	default:
		return nil, d.r.errorf("invalid element record type 0x%02x", t)
	}
	if err != nil {
		return nil, err
	}

	var seen map[string]bool
	for {
		next, ok := d.r.peek()
		if !ok || !isAttributeRecord(next) {
			return n, nil
		}
		d.r.off++
		a, err := d.readAttr(next)
		if err != nil {
			return nil, err
		}
		if seen == nil {
			seen = make(map[string]bool)
		}
		name := a.qualifiedName()
		if seen[name] {
			return nil, d.r.errorf("duplicate attribute %s on <%s>", name, n.qualifiedName())
		}
		seen[name] = true
		n.Attrs = append(n.Attrs, a)
	}
}

// enter opens the namespace declarations of n and checks that every prefix
// n uses is bound. Declarations on n apply to n itself.
func (d *decoder) enter(n *nbfxNode) error {
	for _, a := range n.Attrs {
		if a.IsXMLNS && a.Prefix != "" {
			d.scope[a.Prefix]++
		}
	}
	if !d.bound(n.Prefix) {
		d.leave(n)
		return d.r.errorf("prefix %q of <%s> is not declared", n.Prefix, n.qualifiedName())
	}
	for _, a := range n.Attrs {
		if !a.IsXMLNS && !d.bound(a.Prefix) {
			d.leave(n)
			return d.r.errorf("prefix %q of attribute %s is not declared", a.Prefix, a.qualifiedName())
		}
	}
	return nil
}

func (d *decoder) leave(n *nbfxNode) {
	for _, a := range n.Attrs {
		if a.IsXMLNS && a.Prefix != "" {
			d.scope[a.Prefix]--
		}
	}
}

func (d *decoder) bound(prefix string) bool {
	switch prefix {
	case "", "xml", "xmlns":
		return true
	}
	return d.scope[prefix] > 0
}

func (d *decoder) readAttr(t byte) (nbfxAttr, error) {
	a := nbfxAttr{}
	var err error
	switch {
	case t == recShortXmlnsAttribute:
		a.IsXMLNS = true
		a.Value, err = d.r.readString()
		return a, err
	case t == recXmlnsAttribute:
		a.IsXMLNS = true
		if a.Prefix, err = d.r.readString(); err != nil {
			return a, err
		}
		a.Value, err = d.r.readString()
		return a, err
	case t == recShortDictionaryXmlnsAttribute:
		a.IsXMLNS = true
		a.Value, err = d.readDictString()
		return a, err
	case t == recDictionaryXmlnsAttribute:
		a.IsXMLNS = true
		if a.Prefix, err = d.r.readString(); err != nil {
			return a, err
		}
		a.Value, err = d.readDictString()
		return a, err
	case t == recShortAttribute:
		a.Name, err = d.r.readString()
	case t == recAttribute:
		if a.Prefix, err = d.r.readString(); err == nil {
			a.Name, err = d.r.readString()
		}
	case t == recShortDictionaryAttribute:
		a.Name, err = d.readDictString()
	case t == recDictionaryAttribute:
		if a.Prefix, err = d.r.readString(); err == nil {
			a.Name, err = d.readDictString()
		}
	case t >= recPrefixDictionaryAttributeA && t <= recPrefixDictionaryAttributeZ:
		a.Prefix = prefixLetter(t - recPrefixDictionaryAttributeA)
		a.Name, err = d.readDictString()
	case t >= recPrefixAttributeA && t <= recPrefixAttributeZ:
		a.Prefix = prefixLetter(t - recPrefixAttributeA)
		a.Name, err = d.r.readString()
	default:
		return a, d.r.errorf("invalid attribute record type 0x%02x", t)
	}
	if err != nil {
		return a, err
	}
	a.Value, err = d.readAttrValue()
	return a, err
}

// readAttrValue reads the text record holding an attribute value. Only the
// plain (non WithEndElement) text forms are valid here.
func (d *decoder) readAttrValue() (string, error) {
	t, err := d.r.readByte()
	if err != nil {
		return "", err
	}
	if !isTextRecord(t) || t&1 == 1 {
		return "", d.r.errorf("unexpected record type 0x%02x for attribute value", t)
	}
	return d.readText(t)
}

// readArray expands an Array record ([MC-NBFX] 2.2.3.31) into one element
// per value, each a copy of the template element.
func (d *decoder) readArray() ([]*nbfxNode, error) {
	t, err := d.r.readByte()
	if err != nil {
		return nil, err
	}
	if !isElementRecord(t) {
		return nil, d.r.errorf("array must start with an element record, got 0x%02x", t)
	}
	tmpl, err := d.readElement(t)
	if err != nil {
		return nil, err
	}
	if err := d.enter(tmpl); err != nil {
		return nil, err
	}
	d.leave(tmpl)
	if end, err := d.r.readByte(); err != nil {
		return nil, err
	} else if end != recEndElement {
		return nil, d.r.errorf("array element must be empty, got record 0x%02x", end)
	}

	vt, err := d.r.readByte()
	if err != nil {
		return nil, err
	}
	if !arrayValueTypes[vt] {
		return nil, d.r.errorf("invalid array value type 0x%02x", vt)
	}
	count, err := d.r.readMBI()
	if err != nil {
		return nil, err
	}

	items := make([]*nbfxNode, 0, min(int(count), 1024))
	for i := uint32(0); i < count; i++ {
		s, err := d.readText(vt)
		if err != nil {
			return nil, err
		}
		items = append(items, &nbfxNode{
			Kind:     elementNode,
			Prefix:   tmpl.Prefix,
			Name:     tmpl.Name,
			Attrs:    tmpl.Attrs,
			Children: []*nbfxNode{{Kind: textNode, Text: s}},
		})
	}
	return items, nil
}

func (d *decoder) readDictString() (string, error) {
	id, err := d.r.readMBI()
	if err != nil {
		return "", err
	}
	return d.dictString(id)
}

// dictString resolves a dictionary string id ([MC-NBFX] 2.1.3).
func (d *decoder) dictString(id uint32) (string, error) {
	if id&1 == 1 {
		idx := int(id >> 1)
		if idx < len(d.session) {
			return d.session[idx], nil
		}
		if d.session == nil {
			return "", d.r.errorf("session string id %d used without a StringTable", id)
		}
		return "", d.r.errorf("session string id %d is not in the StringTable (%d entries)", id, len(d.session))
	}
	s, err := d.dict.Resolve(int(id >> 1))
	if err != nil {
		return "", fmt.Errorf("%w at offset %d: string id %d: %w", ErrMalformed, d.r.off, id, err)
	}
	return s, nil
}

func prefixLetter(i byte) string {
	return string(rune('a' + i))
}
