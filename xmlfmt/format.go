// Package xmlfmt re-indents XML text.
//
// Prefixes are kept exactly as written and namespaces are never resolved,
// so the output carries the same names and attributes as the input.
package xmlfmt

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrParse is returned when the input is not well-formed XML.
var ErrParse = errors.New("xml parse error")

const indentUnit = "  "

type kind uint8

const (
	elementNode kind = iota
	textNode
	commentNode
	procInstNode
	directiveNode
)

type node struct {
	kind        kind
	name        string
	attrs       []xml.Attr
	selfClosing bool
	children    []*node
	text        string
}

// Format parses input and writes it back with two-space indentation.
// Elements holding only elements go one per line. Elements holding any
// non-whitespace text are written inline exactly as parsed. Whitespace-only
// text between elements is dropped. Formatting formatted output returns it
// unchanged.
func Format(input string) (string, error) {
	top, err := parse(input)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for i, n := range top {
		if i > 0 {
			sb.WriteByte('\n')
		}
		writeIndented(&sb, n, 0)
	}
	return sb.String(), nil
}

func parse(input string) ([]*node, error) {
	dec := xml.NewDecoder(strings.NewReader(input))
	dec.Strict = true
	// input is already decoded text whatever its declaration says.
	dec.CharsetReader = func(_ string, r io.Reader) (io.Reader, error) { return r, nil }

	var (
		top     []*node
		stack   []*node
		hasRoot bool
		scope   = map[string]int{} // prefix -> number of open declarations
	)
	add := func(n *node) {
		if len(stack) == 0 {
			top = append(top, n)
			return
		}
		parent := stack[len(stack)-1]
		parent.children = append(parent.children, n)
	}

	for {
		before := dec.InputOffset()
		tok, err := dec.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrParse, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if len(stack) == 0 {
				if hasRoot {
					return nil, fmt.Errorf("%w: second root element <%s>", ErrParse, qualified(t.Name))
				}
				hasRoot = true
			}
			n := &node{kind: elementNode, name: qualified(t.Name), attrs: append([]xml.Attr(nil), t.Attr...)}
			if err := checkAttrs(n); err != nil {
				return nil, err
			}
			declare(scope, n, 1)
			if err := checkPrefixes(scope, n, t); err != nil {
				return nil, err
			}
			add(n)
			stack = append(stack, n)

		case xml.EndElement:
			name := qualified(t.Name)
			if len(stack) == 0 {
				return nil, fmt.Errorf("%w: unexpected end element </%s>", ErrParse, name)
			}
			open := stack[len(stack)-1]
			if open.name != name {
				return nil, fmt.Errorf("%w: element <%s> closed by </%s>", ErrParse, open.name, name)
			}
			// <a/> yields its end element without consuming input.
			open.selfClosing = dec.InputOffset() == before
			declare(scope, open, -1)
			stack = stack[:len(stack)-1]

		case xml.CharData:
			s := string(t)
			if len(stack) == 0 {
				if !isSpace(s) {
					return nil, fmt.Errorf("%w: text outside the root element", ErrParse)
				}
				continue
			}
			add(&node{kind: textNode, text: s})

		case xml.Comment:
			add(&node{kind: commentNode, text: string(t)})

		case xml.ProcInst:
			add(&node{kind: procInstNode, name: t.Target, text: string(t.Inst)})

		case xml.Directive:
			add(&node{kind: directiveNode, text: string(t)})
		}
	}

	if len(stack) > 0 {
		return nil, fmt.Errorf("%w: element <%s> is not closed", ErrParse, stack[len(stack)-1].name)
	}
	if !hasRoot {
		return nil, fmt.Errorf("%w: no root element", ErrParse)
	}
	return top, nil
}

func checkAttrs(n *node) error {
	if len(n.attrs) < 2 {
		return nil
	}
	seen := make(map[string]bool, len(n.attrs))
	for _, a := range n.attrs {
		name := qualified(a.Name)
		if seen[name] {
			return fmt.Errorf("%w: duplicate attribute %s on <%s>", ErrParse, name, n.name)
		}
		seen[name] = true
	}
	return nil
}

// declare adds delta to the count of every prefix n declares.
func declare(scope map[string]int, n *node, delta int) {
	for _, a := range n.attrs {
		if a.Name.Space == "xmlns" {
			scope[a.Name.Local] += delta
		}
	}
}

func checkPrefixes(scope map[string]int, n *node, t xml.StartElement) error {
	bound := func(prefix string) bool {
		return prefix == "" || prefix == "xml" || prefix == "xmlns" || scope[prefix] > 0
	}
	if !bound(t.Name.Space) {
		return fmt.Errorf("%w: prefix %q of <%s> is not declared", ErrParse, t.Name.Space, n.name)
	}
	for _, a := range t.Attr {
		if !bound(a.Name.Space) {
			return fmt.Errorf("%w: prefix %q of attribute %s is not declared", ErrParse, a.Name.Space, qualified(a.Name))
		}
	}
	return nil
}

func writeIndented(sb *strings.Builder, n *node, depth int) {
	indent := strings.Repeat(indentUnit, depth)
	sb.WriteString(indent)
	if n.kind != elementNode {
		writeInline(sb, n)
		return
	}

	if hasText(n) {
		writeInline(sb, n)
		return
	}

	var children []*node
	for _, c := range n.children {
		if c.kind != textNode {
			children = append(children, c)
		}
	}
	if len(children) == 0 {
		writeEmpty(sb, n)
		return
	}

	writeStart(sb, n)
	for _, c := range children {
		sb.WriteByte('\n')
		writeIndented(sb, c, depth+1)
	}
	sb.WriteByte('\n')
	sb.WriteString(indent)
	writeEnd(sb, n)
}

// writeInline writes n and everything below it without adding or removing
// whitespace.
func writeInline(sb *strings.Builder, n *node) {
	switch n.kind {
	case textNode:
		sb.WriteString(textEscaper.Replace(n.text))
	case commentNode:
		sb.WriteString("<!--")
		sb.WriteString(n.text)
		sb.WriteString("-->")
	case procInstNode:
		sb.WriteString("<?")
		sb.WriteString(n.name)
		if n.text != "" {
			sb.WriteByte(' ')
			sb.WriteString(n.text)
		}
		sb.WriteString("?>")
	case directiveNode:
		sb.WriteString("<!")
		sb.WriteString(n.text)
		sb.WriteByte('>')
	case elementNode:
		if len(n.children) == 0 {
			writeEmpty(sb, n)
			return
		}
		writeStart(sb, n)
		for _, c := range n.children {
			writeInline(sb, c)
		}
		writeEnd(sb, n)
	}
}

func writeEmpty(sb *strings.Builder, n *node) {
	if n.selfClosing {
		sb.WriteByte('<')
		sb.WriteString(n.name)
		writeAttrs(sb, n.attrs)
		sb.WriteString(" />")
		return
	}
	writeStart(sb, n)
	writeEnd(sb, n)
}

func writeStart(sb *strings.Builder, n *node) {
	sb.WriteByte('<')
	sb.WriteString(n.name)
	writeAttrs(sb, n.attrs)
	sb.WriteByte('>')
}

func writeEnd(sb *strings.Builder, n *node) {
	sb.WriteString("</")
	sb.WriteString(n.name)
	sb.WriteByte('>')
}

func writeAttrs(sb *strings.Builder, attrs []xml.Attr) {
	for _, a := range attrs {
		sb.WriteByte(' ')
		sb.WriteString(qualified(a.Name))
		sb.WriteString("=\"")
		sb.WriteString(attrEscaper.Replace(a.Value))
		sb.WriteByte('"')
	}
}

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "\r", "&#xD;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "\"", "&quot;",
		"\t", "&#x9;", "\n", "&#xA;", "\r", "&#xD;")
)

// RawToken leaves the prefix in Name.Space.
func qualified(name xml.Name) string {
	if name.Space == "" {
		return name.Local
	}
	return name.Space + ":" + name.Local
}

func hasText(n *node) bool {
	for _, c := range n.children {
		if c.kind == textNode && !isSpace(c.text) {
			return true
		}
	}
	return false
}

// isSpace reports whether s holds only XML whitespace.
func isSpace(s string) bool {
	return strings.Trim(s, " \t\r\n") == ""
}
