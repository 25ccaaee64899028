// internal/vdom/diff.go
package vdom

/*
 * Tree differ.
 *
 * Diff(old, new) emits the minimal-intent patch list that Apply turns old into new.
 *
 * Node pairs:
 *   - Null/Null: nothing
 *   - Null -> X: Insert X
 *   - X -> Null: Remove
 *   - Text/Text: ReplaceText when the content differs
 *   - Element/Element with equal tag and key: attribute ops, then child ops
 *   - anything else: Remove then Insert at the same path
 *
 * Attributes: SetAttribute for every new or changed name in new-render order, then
 * RemoveAttribute for every dropped name in old-render order.
 *
 * Children:
 *   1. Match. A keyed new child takes the first unused old child with the same key. An
 *      unkeyed new child at raw index i takes the old child at raw index i when that
 *      child is also unkeyed and non-null. Null entries participate in raw indexing but
 *      never match and never occupy a live slot.
 *   2. Remove every unmatched old child, highest live index first, so earlier removes
 *      never shift later ones.
 *   3. Walk the new non-null children with target index t. A matched child sitting at
 *      live position p != t gets Move(p -> t), then its own diff at t. An unmatched child
 *      gets Insert at t.
 *
 * Every Remove and Move touching a parent is emitted before the Inserts that would
 * collide with its indices, and every path is valid against the tree produced by the
 * preceding patches.
 */

// Diff returns the patches that transform old into new.
// Diff(t, t) is empty.
func Diff(old, new Node) []Patch {
	d := &differ{}
	d.node(Path{}, old, new)
	return d.ops
}

type differ struct {
	ops []Patch
}

func (d *differ) emit(p Patch) {
	d.ops = append(d.ops, p)
}

func (d *differ) node(path Path, old, new Node) {
	switch {
	case old.Kind == KindNull && new.Kind == KindNull:
		return
	case old.Kind == KindNull:
		d.emit(InsertPatch(path, new))
	case new.Kind == KindNull:
		d.emit(RemovePatch(path))
	case old.Kind == KindText && new.Kind == KindText:
		if old.Text != new.Text {
			d.emit(ReplaceTextPatch(path, new.Text))
		}
	case old.Kind == KindElement && new.Kind == KindElement && old.Tag == new.Tag && old.Key == new.Key:
		d.attrs(path, old.Attrs, new.Attrs)
		d.children(path, old.Children, new.Children)
	default:
		d.emit(RemovePatch(path))
		d.emit(InsertPatch(path, new))
	}
}

func (d *differ) attrs(path Path, old, new []Attr) {
	for _, a := range new {
		v, ok := lookupAttr(old, a.Name)
		if !ok || v != a.Value {
			d.emit(SetAttributePatch(path, a.Name, a.Value))
		}
	}
	for _, a := range old {
		if _, ok := lookupAttr(new, a.Name); !ok {
			d.emit(RemoveAttributePatch(path, a.Name))
		}
	}
}

func lookupAttr(attrs []Attr, name string) (string, bool) {
	for _, a := range attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// liveEntry is one old child occupying a live slot during child reconciliation.
type liveEntry struct {
	node    *Node
	matched bool
}

func (d *differ) children(path Path, old, new []Node) {
	live := make([]*liveEntry, 0, len(old))
	byRaw := make([]*liveEntry, len(old))
	byKey := make(map[string][]*liveEntry)
	for i := range old {
		if old[i].Kind == KindNull {
			continue
		}
		e := &liveEntry{node: &old[i]}
		live = append(live, e)
		byRaw[i] = e
		if old[i].Key != "" {
			byKey[old[i].Key] = append(byKey[old[i].Key], e)
		}
	}

	matches := make([]*liveEntry, len(new))
	for j := range new {
		n := &new[j]
		if n.Kind == KindNull {
			continue
		}
		if n.Key != "" {
			if cands := byKey[n.Key]; len(cands) > 0 {
				cands[0].matched = true
				matches[j] = cands[0]
				byKey[n.Key] = cands[1:]
			}
			continue
		}
		if j < len(byRaw) {
			if e := byRaw[j]; e != nil && e.node.Key == "" {
				e.matched = true
				matches[j] = e
			}
		}
	}

	for i := len(live) - 1; i >= 0; i-- {
		if !live[i].matched {
			d.emit(RemovePatch(path.Child(i)))
			live = append(live[:i], live[i+1:]...)
		}
	}

	t := 0
	for j := range new {
		if new[j].Kind == KindNull {
			continue
		}
		e := matches[j]
		if e == nil {
			d.emit(InsertPatch(path.Child(t), new[j]))
			live = insertEntry(live, t, &liveEntry{node: &new[j], matched: true})
			t++
			continue
		}
		// Slots before t are settled, so the entry is at t or later.
		p := t
		for live[p] != e {
			p++
		}
		if p != t {
			d.emit(MovePatch(path.Child(p), t))
			copy(live[t+1:p+1], live[t:p])
			live[t] = e
		}
		d.node(path.Child(t), *e.node, new[j])
		t++
	}
}

func insertEntry(live []*liveEntry, at int, e *liveEntry) []*liveEntry {
	live = append(live, nil)
	copy(live[at+1:], live[at:])
	live[at] = e
	return live
}
