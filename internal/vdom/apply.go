package vdom

import (
	"fmt"

	"github.com/solatis/patchwire/internal/types"
)

// Apply returns the tree produced by applying ops to tree in order.
// tree is not modified. Application is all-or-nothing: the first patch that does not fit
// the tree aborts with an error wrapping ErrInvalidPath or ErrPatchMismatch, and no
// partial result is returned.
//
// Apply works on the live shape, so null children of tree are dropped first.
func Apply(tree Node, ops []Patch) (Node, error) {
	root := Normalize(tree)
	for i, op := range ops {
		if err := applyOne(&root, op); err != nil {
			return Node{}, fmt.Errorf("patch %d (%s): %w", i, op, err)
		}
	}
	return root, nil
}

func applyOne(root *Node, op Patch) error {
	switch op.Op {
	case OpInsert:
		return applyInsert(root, op)
	case OpRemove:
		return applyRemove(root, op.Path)
	case OpReplaceText:
		n, err := resolve(root, op.Path)
		if err != nil {
			return err
		}
		if n.Kind != KindText {
			return fmt.Errorf("%w: ReplaceText on %s", types.ErrPatchMismatch, n.Kind)
		}
		n.Text = op.Content
		return nil
	case OpSetAttribute:
		n, err := resolveElement(root, op.Path)
		if err != nil {
			return err
		}
		for i := range n.Attrs {
			if n.Attrs[i].Name == op.Name {
				n.Attrs[i].Value = op.Value
				return nil
			}
		}
		n.Attrs = append(n.Attrs, Attr{Name: op.Name, Value: op.Value})
		return nil
	case OpRemoveAttribute:
		n, err := resolveElement(root, op.Path)
		if err != nil {
			return err
		}
		for i := range n.Attrs {
			if n.Attrs[i].Name == op.Name {
				n.Attrs = append(n.Attrs[:i], n.Attrs[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("%w: no attribute %q", types.ErrPatchMismatch, op.Name)
	case OpMove:
		return applyMove(root, op)
	}
	return fmt.Errorf("%w: unknown op %q", types.ErrPatchMismatch, op.Op)
}

func applyInsert(root *Node, op Patch) error {
	if op.Node == nil || op.Node.Kind == KindNull {
		return fmt.Errorf("%w: insert without node", types.ErrPatchMismatch)
	}
	node := Normalize(*op.Node)
	parentPath, idx, ok := op.Path.Parent()
	if !ok {
		if op.Index != 0 {
			return fmt.Errorf("%w: root insert index %d", types.ErrInvalidPath, op.Index)
		}
		if root.Kind != KindNull {
			return fmt.Errorf("%w: root is occupied", types.ErrPatchMismatch)
		}
		*root = node
		return nil
	}
	if idx != op.Index {
		return fmt.Errorf("%w: index %d disagrees with path %s", types.ErrInvalidPath, op.Index, op.Path)
	}
	parent, err := resolveElement(root, parentPath)
	if err != nil {
		return err
	}
	if idx < 0 || idx > len(parent.Children) {
		return fmt.Errorf("%w: insert at %s", types.ErrInvalidPath, op.Path)
	}
	parent.Children = append(parent.Children, Node{})
	copy(parent.Children[idx+1:], parent.Children[idx:])
	parent.Children[idx] = node
	return nil
}

func applyRemove(root *Node, path Path) error {
	parentPath, idx, ok := path.Parent()
	if !ok {
		if root.Kind == KindNull {
			return fmt.Errorf("%w: root already empty", types.ErrPatchMismatch)
		}
		*root = Null()
		return nil
	}
	parent, err := resolveElement(root, parentPath)
	if err != nil {
		return err
	}
	if idx < 0 || idx >= len(parent.Children) {
		return fmt.Errorf("%w: remove at %s", types.ErrInvalidPath, path)
	}
	parent.Children = append(parent.Children[:idx], parent.Children[idx+1:]...)
	return nil
}

func applyMove(root *Node, op Patch) error {
	parentPath, from, ok := op.FromPath.Parent()
	if !ok {
		return fmt.Errorf("%w: cannot move the root", types.ErrInvalidPath)
	}
	parent, err := resolveElement(root, parentPath)
	if err != nil {
		return err
	}
	n := len(parent.Children)
	if from < 0 || from >= n || op.ToIndex < 0 || op.ToIndex >= n {
		return fmt.Errorf("%w: move %s -> %d", types.ErrInvalidPath, op.FromPath, op.ToIndex)
	}
	moved := parent.Children[from]
	if from < op.ToIndex {
		copy(parent.Children[from:op.ToIndex], parent.Children[from+1:op.ToIndex+1])
	} else {
		copy(parent.Children[op.ToIndex+1:from+1], parent.Children[op.ToIndex:from])
	}
	parent.Children[op.ToIndex] = moved
	return nil
}

// resolve walks path from root and returns the addressed node.
func resolve(root *Node, path Path) (*Node, error) {
	if root.Kind == KindNull {
		return nil, fmt.Errorf("%w: %s in empty tree", types.ErrInvalidPath, path)
	}
	cur := root
	for depth, idx := range path {
		if cur.Kind != KindElement || idx < 0 || idx >= len(cur.Children) {
			return nil, fmt.Errorf("%w: %s fails at depth %d", types.ErrInvalidPath, path, depth)
		}
		cur = &cur.Children[idx]
	}
	return cur, nil
}

func resolveElement(root *Node, path Path) (*Node, error) {
	n, err := resolve(root, path)
	if err != nil {
		return nil, err
	}
	if n.Kind != KindElement {
		return nil, fmt.Errorf("%w: %s is %s, not Element", types.ErrPatchMismatch, path, n.Kind)
	}
	return n, nil
}

// At returns the node addressed by path in tree.
func At(tree Node, path Path) (Node, bool) {
	root := Normalize(tree)
	n, err := resolve(&root, path)
	if err != nil {
		return Node{}, false
	}
	return *n, true
}
