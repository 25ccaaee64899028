// Package vdom models immutable UI tree snapshots and the patch lists that transform one
// snapshot into another.
//
// A Node is a value: renders produce fresh trees and nothing in this package mutates a
// tree passed in by a caller. Diff turns two snapshots into an ordered patch list; Apply is
// the reference interpreter of that list and defines what every Patch means.
//
// Null children are conditional-rendering placeholders. The differ pairs them
// positionally, but they never exist in a live tree, so every index in an emitted path
// counts only non-null siblings. Normalize strips them.
package vdom

// Kind discriminates the Node variants.
type Kind uint8

const (
	KindNull Kind = iota
	KindElement
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindElement:
		return "Element"
	case KindText:
		return "Text"
	default:
		return "Null"
	}
}

// Attr is one attribute of an Element. Attribute lists keep render order.
type Attr struct {
	Name  string
	Value string
}

// Node is one UI tree node. Only the fields of its Kind are meaningful.
type Node struct {
	Kind     Kind
	Tag      string // Element
	Key      string // Element, optional; empty means unkeyed
	Attrs    []Attr // Element
	Children []Node // Element
	Text     string // Text
}

// Element builds an unkeyed element node.
func Element(tag string, attrs []Attr, children ...Node) Node {
	return Node{Kind: KindElement, Tag: tag, Attrs: attrs, Children: children}
}

// Keyed builds an element node carrying a reconciliation key.
func Keyed(key, tag string, attrs []Attr, children ...Node) Node {
	return Node{Kind: KindElement, Tag: tag, Key: key, Attrs: attrs, Children: children}
}

// Text builds a text node.
func Text(content string) Node {
	return Node{Kind: KindText, Text: content}
}

// Null builds a null node.
func Null() Node {
	return Node{}
}

// Attrs builds an attribute list from name/value pairs. A trailing odd name is ignored.
func Attrs(pairs ...string) []Attr {
	out := make([]Attr, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, Attr{Name: pairs[i], Value: pairs[i+1]})
	}
	return out
}

// IsNull reports whether n is the Null variant.
func (n Node) IsNull() bool {
	return n.Kind == KindNull
}

// Attr returns the value of the named attribute.
func (n Node) Attr(name string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// Clone returns a deep copy of n.
func (n Node) Clone() Node {
	out := n
	if n.Attrs != nil {
		out.Attrs = make([]Attr, len(n.Attrs))
		copy(out.Attrs, n.Attrs)
	}
	if n.Children != nil {
		out.Children = make([]Node, len(n.Children))
		for i, c := range n.Children {
			out.Children[i] = c.Clone()
		}
	}
	return out
}

// Normalize returns a deep copy of n without null children, the shape a live tree has.
func Normalize(n Node) Node {
	out := n
	if n.Attrs != nil {
		out.Attrs = make([]Attr, len(n.Attrs))
		copy(out.Attrs, n.Attrs)
	}
	if n.Children != nil {
		out.Children = make([]Node, 0, len(n.Children))
		for _, c := range n.Children {
			if c.Kind == KindNull {
				continue
			}
			out.Children = append(out.Children, Normalize(c))
		}
	}
	return out
}

// Equal reports whether a and b render the same live tree.
// Null children are ignored and attribute order is insignificant.
func Equal(a, b Node) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNull:
		return true
	case KindText:
		return a.Text == b.Text
	}
	if a.Tag != b.Tag || a.Key != b.Key || len(a.Attrs) != len(b.Attrs) {
		return false
	}
	for _, attr := range a.Attrs {
		if v, ok := b.Attr(attr.Name); !ok || v != attr.Value {
			return false
		}
	}
	ac, bc := liveChildren(a.Children), liveChildren(b.Children)
	if len(ac) != len(bc) {
		return false
	}
	for i := range ac {
		if !Equal(ac[i], bc[i]) {
			return false
		}
	}
	return true
}

func liveChildren(children []Node) []Node {
	out := make([]Node, 0, len(children))
	for _, c := range children {
		if c.Kind != KindNull {
			out = append(out, c)
		}
	}
	return out
}

// Count returns the number of non-null nodes in n.
func Count(n Node) int {
	if n.Kind == KindNull {
		return 0
	}
	total := 1
	for _, c := range n.Children {
		total += Count(c)
	}
	return total
}
