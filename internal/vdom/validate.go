package vdom

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"sort"

	"github.com/solatis/patchwire/internal/types"
)

// Validate checks n against the tree resource limits. Renders are validated before
// diffing so a runaway component cannot stall the hub.
func Validate(n Node) error {
	count := 0
	return validateNode(n, 1, &count)
}

func validateNode(n Node, depth int, count *int) error {
	if depth > types.MaxTreeDepth {
		return fmt.Errorf("%w: depth %d", types.ErrTreeTooDeep, depth)
	}
	switch n.Kind {
	case KindNull:
		return nil
	case KindText:
		*count++
		if len(n.Text) > types.MaxTextLength {
			return fmt.Errorf("%w: %d bytes", types.ErrTextTooLong, len(n.Text))
		}
	case KindElement:
		*count++
		if err := validateAttrs(n.Attrs); err != nil {
			return fmt.Errorf("<%s>: %w", n.Tag, err)
		}
		if len(n.Children) > types.MaxChildrenPerNode {
			return fmt.Errorf("%w: <%s> has %d", types.ErrTooManyChildren, n.Tag, len(n.Children))
		}
	}
	if *count > types.MaxNodeCount {
		return fmt.Errorf("%w: more than %d nodes", types.ErrTreeTooLarge, types.MaxNodeCount)
	}
	for _, c := range n.Children {
		if err := validateNode(c, depth+1, count); err != nil {
			return err
		}
	}
	return nil
}

func validateAttrs(attrs []Attr) error {
	seen := make(map[string]struct{}, len(attrs))
	for _, a := range attrs {
		if len(a.Name) == 0 || len(a.Name) > types.MaxAttrNameLength {
			return fmt.Errorf("%w: name of %d bytes", types.ErrAttributeTooLong, len(a.Name))
		}
		if len(a.Value) > types.MaxAttrValueLength {
			return fmt.Errorf("%w: %s value of %d bytes", types.ErrAttributeTooLong, a.Name, len(a.Value))
		}
		if _, dup := seen[a.Name]; dup {
			return fmt.Errorf("%w: %s", types.ErrDuplicateAttribute, a.Name)
		}
		seen[a.Name] = struct{}{}
	}
	return nil
}

// ValidatePatches checks every node carried by an Insert and every path length.
func ValidatePatches(ops []Patch) error {
	for i, op := range ops {
		if len(op.Path) > types.MaxTreeDepth || len(op.FromPath) > types.MaxTreeDepth {
			return fmt.Errorf("patch %d: %w", i, types.ErrTreeTooDeep)
		}
		if op.Op == OpInsert && op.Node != nil {
			if err := Validate(*op.Node); err != nil {
				return fmt.Errorf("patch %d: %w", i, err)
			}
		}
		if op.Op == OpSetAttribute || op.Op == OpRemoveAttribute {
			if err := validateAttrs([]Attr{{Name: op.Name, Value: op.Value}}); err != nil {
				return fmt.Errorf("patch %d: %w", i, err)
			}
		}
	}
	return nil
}

// Hash returns a hex content hash of the live shape of n. Attribute order does not
// affect the result, so a tree rebuilt by patches hashes like the render it mirrors.
func Hash(n Node) string {
	h := sha256.New()
	hashNode(h, n)
	return hex.EncodeToString(h.Sum(nil))
}

func hashNode(h hash.Hash, n Node) {
	h.Write([]byte{byte(n.Kind)})
	switch n.Kind {
	case KindText:
		hashString(h, n.Text)
	case KindElement:
		hashString(h, n.Tag)
		hashString(h, n.Key)
		attrs := make([]Attr, len(n.Attrs))
		copy(attrs, n.Attrs)
		sort.Slice(attrs, func(i, j int) bool { return attrs[i].Name < attrs[j].Name })
		hashUint(h, uint64(len(attrs)))
		for _, a := range attrs {
			hashString(h, a.Name)
			hashString(h, a.Value)
		}
		live := liveChildren(n.Children)
		hashUint(h, uint64(len(live)))
		for _, c := range live {
			hashNode(h, c)
		}
	}
}

func hashString(h hash.Hash, s string) {
	hashUint(h, uint64(len(s)))
	h.Write([]byte(s))
}

func hashUint(h hash.Hash, v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	h.Write(buf[:])
}
