package nbfx

import "strings"

type nodeKind uint8

const (
	elementNode nodeKind = iota
	textNode
	commentNode
)

type nbfxNode struct {
	Kind     nodeKind
	Prefix   string
	Name     string
	Attrs    []nbfxAttr
	Children []*nbfxNode
	Text     string
}

type nbfxAttr struct {
	Prefix  string
	Name    string
	Value   string
	IsXMLNS bool
}

// appendText adds text content to n, merging with a preceding text child so
// consecutive text records render as one run.
func (n *nbfxNode) appendText(s string) {
	if k := len(n.Children); k > 0 && n.Children[k-1].Kind == textNode {
		n.Children[k-1].Text += s
		return
	}
	n.Children = append(n.Children, &nbfxNode{Kind: textNode, Text: s})
}

func (n *nbfxNode) qualifiedName() string {
	if n.Prefix == "" {
		return n.Name
	}
	return n.Prefix + ":" + n.Name
}

func (a nbfxAttr) qualifiedName() string {
	switch {
	case a.IsXMLNS && a.Prefix == "":
		return "xmlns"
	case a.IsXMLNS:
		return "xmlns:" + a.Prefix
	case a.Prefix == "":
		return a.Name
	}
	return a.Prefix + ":" + a.Name
}

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "\r", "&#xD;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "\"", "&quot;",
		"\t", "&#x9;", "\n", "&#xA;", "\r", "&#xD;")
)

func renderNode(sb *strings.Builder, n *nbfxNode) {
	switch n.Kind {
	case textNode:
		sb.WriteString(textEscaper.Replace(n.Text))
		return
	case commentNode:
		sb.WriteString("<!--")
		sb.WriteString(n.Text)
		sb.WriteString("-->")
		return
	}

	sb.WriteByte('<')
	sb.WriteString(n.qualifiedName())
	for _, a := range n.Attrs {
		sb.WriteByte(' ')
		sb.WriteString(a.qualifiedName())
		sb.WriteString("=\"")
		sb.WriteString(attrEscaper.Replace(a.Value))
		sb.WriteByte('"')
	}
	sb.WriteByte('>')

	for _, c := range n.Children {
		renderNode(sb, c)
	}
	sb.WriteString("</")
	sb.WriteString(n.qualifiedName())
	sb.WriteByte('>')
}
