// internal/vdom/path.go
package vdom

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/solatis/patchwire/internal/types"
)

/*
 * Child-index paths.
 *
 * A Path is the ordered list of child indices from the tree root; the root is the
 * empty path. Indices count live (non-null) siblings only.
 *
 * Two string encodings are supported:
 *   - slash form "/0/2/1" (root "/"), used in logs and error messages
 *   - hex form "10000000.30000000", each segment (index+1)*0x10000000 as at least 8 hex digits,
 *     which keeps paths readable by clients built around gap-numbered addressing
 *
 * Ordering: Compare is lexicographic with a prefix sorting before its extensions, so a
 * parent always precedes its descendants.
 */

// Path addresses a node by child indices from the root.
type Path []int

// hexGap is the spacing between sibling segments in the hex encoding.
const hexGap = 0x10000000

// Child returns a new path addressing child i of p.
func (p Path) Child(i int) Path {
	out := make(Path, len(p)+1)
	copy(out, p)
	out[len(p)] = i
	return out
}

// Parent splits p into its parent path and last index.
// ok is false for the root.
func (p Path) Parent() (parent Path, index int, ok bool) {
	if len(p) == 0 {
		return nil, 0, false
	}
	return p[:len(p)-1], p[len(p)-1], true
}

// Clone returns a copy of p that shares no storage with it.
func (p Path) Clone() Path {
	if p == nil {
		return nil
	}
	out := make(Path, len(p))
	copy(out, p)
	return out
}

// Equal reports whether p and q address the same node.
func (p Path) Equal(q Path) bool {
	if len(p) != len(q) {
		return false
	}
	for i := range p {
		if p[i] != q[i] {
			return false
		}
	}
	return true
}

// Compare orders paths lexicographically; a prefix sorts first.
func (p Path) Compare(q Path) int {
	for i := 0; i < len(p) && i < len(q); i++ {
		if p[i] != q[i] {
			if p[i] < q[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(p) < len(q):
		return -1
	case len(p) > len(q):
		return 1
	}
	return 0
}

func (p Path) String() string {
	if len(p) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, i := range p {
		b.WriteByte('/')
		b.WriteString(strconv.Itoa(i))
	}
	return b.String()
}

// Hex renders p in the gap-numbered hex encoding.
func (p Path) Hex() string {
	segs := make([]string, len(p))
	for i, idx := range p {
		segs[i] = fmt.Sprintf("%08x", uint64(idx+1)*hexGap)
	}
	return strings.Join(segs, ".")
}

// ParsePath parses the slash form produced by String.
func ParsePath(s string) (Path, error) {
	if s == "" || s == "/" {
		return Path{}, nil
	}
	if !strings.HasPrefix(s, "/") {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidPath, s)
	}
	parts := strings.Split(s[1:], "/")
	if len(parts) > types.MaxTreeDepth {
		return nil, types.ErrTreeTooDeep
	}
	out := make(Path, len(parts))
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: %q", types.ErrInvalidPath, s)
		}
		out[i] = n
	}
	return out, nil
}

// ParseHexPath parses the hex form produced by Hex.
// Segments must be exact multiples of the gap; in-between values are rejected.
func ParseHexPath(s string) (Path, error) {
	if s == "" {
		return Path{}, nil
	}
	parts := strings.Split(s, ".")
	if len(parts) > types.MaxTreeDepth {
		return nil, types.ErrTreeTooDeep
	}
	out := make(Path, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseUint(part, 16, 64)
		if err != nil || v == 0 || v%hexGap != 0 {
			return nil, fmt.Errorf("%w: %q", types.ErrInvalidPath, s)
		}
		out[i] = int(v/hexGap) - 1
	}
	return out, nil
}
