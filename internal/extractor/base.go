package extractor

import sitter "github.com/smacker/go-tree-sitter"

// ParsedNode is a typed view over a syntax tree node bound to its source bytes.
// A zero ParsedNode is "absent"; every accessor is safe to call on it.
type ParsedNode struct {
	n   *sitter.Node
	src []byte
}

func newParsedNode(n *sitter.Node, src []byte) ParsedNode {
	if n == nil || n.IsNull() {
		return ParsedNode{}
	}
	return ParsedNode{n: n, src: src}
}

// Valid reports whether the node exists.
func (p ParsedNode) Valid() bool { return p.n != nil }

// Type returns the grammar node type, or "" for an absent node.
func (p ParsedNode) Type() string {
	if p.n == nil {
		return ""
	}
	return p.n.Type()
}

// Field returns the child stored under a grammar field name.
func (p ParsedNode) Field(name string) (ParsedNode, bool) {
	if p.n == nil {
		return ParsedNode{}, false
	}
	c := newParsedNode(p.n.ChildByFieldName(name), p.src)
	return c, c.Valid()
}

// Text returns the exact source slice covered by the node.
func (p ParsedNode) Text() string {
	if p.n == nil {
		return ""
	}
	start, end := p.n.StartByte(), p.n.EndByte()
	if int(end) > len(p.src) || start > end {
		return ""
	}
	return string(p.src[start:end])
}

// Children returns all children, named and anonymous, in source order.
func (p ParsedNode) Children() []ParsedNode {
	if p.n == nil {
		return nil
	}
	count := int(p.n.ChildCount())
	out := make([]ParsedNode, 0, count)
	for i := 0; i < count; i++ {
		if c := newParsedNode(p.n.Child(i), p.src); c.Valid() {
			out = append(out, c)
		}
	}
	return out
}

// NamedChildren returns only the named children in source order.
func (p ParsedNode) NamedChildren() []ParsedNode {
	if p.n == nil {
		return nil
	}
	count := int(p.n.NamedChildCount())
	out := make([]ParsedNode, 0, count)
	for i := 0; i < count; i++ {
		if c := newParsedNode(p.n.NamedChild(i), p.src); c.Valid() {
			out = append(out, c)
		}
	}
	return out
}

// StartLine is the 0-indexed first line of the node.
func (p ParsedNode) StartLine() int {
	if p.n == nil {
		return 0
	}
	return int(p.n.StartPoint().Row)
}

// EndLine is the 0-indexed last line of the node.
func (p ParsedNode) EndLine() int {
	if p.n == nil {
		return 0
	}
	return int(p.n.EndPoint().Row)
}
