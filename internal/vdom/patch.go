package vdom

import "fmt"

// Op names a patch operation. The string value is the wire discriminator.
type Op string

const (
	OpInsert          Op = "Insert"
	OpRemove          Op = "Remove"
	OpReplaceText     Op = "ReplaceText"
	OpSetAttribute    Op = "SetAttribute"
	OpRemoveAttribute Op = "RemoveAttribute"
	OpMove            Op = "Move"
)

// Patch is one atomic tree edit. Paths are evaluated against the tree as it stands
// after every earlier patch in the same list has been applied.
//
//	Insert          Path (final position), Index (== last Path segment, 0 at root), Node
//	Remove          Path
//	ReplaceText     Path, Content
//	SetAttribute    Path, Name, Value
//	RemoveAttribute Path, Name
//	Move            FromPath, ToIndex (final index within the same parent)
type Patch struct {
	Op       Op     `json:"type"`
	Path     Path   `json:"path,omitempty"`
	Index    int    `json:"index,omitempty"`
	Node     *Node  `json:"node,omitempty"`
	Content  string `json:"content,omitempty"`
	Name     string `json:"name,omitempty"`
	Value    string `json:"value,omitempty"`
	FromPath Path   `json:"fromPath,omitempty"`
	ToIndex  int    `json:"toIndex,omitempty"`
}

// InsertPatch builds an Insert placing n at path.
func InsertPatch(path Path, n Node) Patch {
	idx := 0
	if len(path) > 0 {
		idx = path[len(path)-1]
	}
	norm := Normalize(n)
	return Patch{Op: OpInsert, Path: path.Clone(), Index: idx, Node: &norm}
}

// RemovePatch builds a Remove of the node at path.
func RemovePatch(path Path) Patch {
	return Patch{Op: OpRemove, Path: path.Clone()}
}

// ReplaceTextPatch builds a ReplaceText for the text node at path.
func ReplaceTextPatch(path Path, content string) Patch {
	return Patch{Op: OpReplaceText, Path: path.Clone(), Content: content}
}

// SetAttributePatch builds a SetAttribute on the element at path.
func SetAttributePatch(path Path, name, value string) Patch {
	return Patch{Op: OpSetAttribute, Path: path.Clone(), Name: name, Value: value}
}

// RemoveAttributePatch builds a RemoveAttribute on the element at path.
func RemoveAttributePatch(path Path, name string) Patch {
	return Patch{Op: OpRemoveAttribute, Path: path.Clone(), Name: name}
}

// MovePatch builds a Move of the node at from to index to within the same parent.
func MovePatch(from Path, to int) Patch {
	return Patch{Op: OpMove, FromPath: from.Clone(), ToIndex: to}
}

// Equal reports whether p and q describe the same edit.
func (p Patch) Equal(q Patch) bool {
	if p.Op != q.Op || !p.Path.Equal(q.Path) {
		return false
	}
	switch p.Op {
	case OpInsert:
		if p.Index != q.Index || (p.Node == nil) != (q.Node == nil) {
			return false
		}
		return p.Node == nil || Equal(*p.Node, *q.Node)
	case OpReplaceText:
		return p.Content == q.Content
	case OpSetAttribute:
		return p.Name == q.Name && p.Value == q.Value
	case OpRemoveAttribute:
		return p.Name == q.Name
	case OpMove:
		return p.FromPath.Equal(q.FromPath) && p.ToIndex == q.ToIndex
	}
	return true
}

func (p Patch) String() string {
	switch p.Op {
	case OpInsert:
		kind := "nil"
		if p.Node != nil {
			kind = p.Node.Kind.String()
		}
		return fmt.Sprintf("Insert %s %s", p.Path, kind)
	case OpReplaceText:
		return fmt.Sprintf("ReplaceText %s %q", p.Path, p.Content)
	case OpSetAttribute:
		return fmt.Sprintf("SetAttribute %s %s=%q", p.Path, p.Name, p.Value)
	case OpRemoveAttribute:
		return fmt.Sprintf("RemoveAttribute %s %s", p.Path, p.Name)
	case OpMove:
		return fmt.Sprintf("Move %s -> %d", p.FromPath, p.ToIndex)
	}
	return fmt.Sprintf("%s %s", p.Op, p.Path)
}

// PatchesEqual reports whether two patch lists are the same edits in the same order.
func PatchesEqual(a, b []Patch) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
