package vdom

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func counter(n int) Node {
	return Element("div", Attrs("class", "counter"),
		Element("span", nil, Text(fmt.Sprintf("Count: %d", n))),
		Element("button", Attrs("data-event", "increment"), Text("+")),
	)
}

func list(keys ...string) Node {
	children := make([]Node, len(keys))
	for i, k := range keys {
		children[i] = Keyed(k, "li", nil, Text(k))
	}
	return Element("ul", nil, children...)
}

func TestDiff_Scenarios(t *testing.T) {
	tests := []struct {
		name string
		old  Node
		new  Node
		want []Patch
	}{
		{
			name: "counter text change",
			old:  counter(0),
			new:  counter(1),
			want: []Patch{ReplaceTextPatch(Path{0, 0}, "Count: 1")},
		},
		{
			name: "keyed swap is one move",
			old:  list("k1", "k2"),
			new:  list("k2", "k1"),
			want: []Patch{MovePatch(Path{1}, 0)},
		},
		{
			name: "keyed append",
			old:  list("a"),
			new:  list("a", "b"),
			want: []Patch{InsertPatch(Path{1}, Keyed("b", "li", nil, Text("b")))},
		},
		{
			name: "keyed removal from the middle",
			old:  list("a", "b", "c"),
			new:  list("a", "c"),
			want: []Patch{RemovePatch(Path{1})},
		},
		{
			name: "attribute set then remove",
			old:  Element("div", Attrs("class", "a", "id", "x")),
			new:  Element("div", Attrs("title", "t", "class", "b")),
			want: []Patch{
				SetAttributePatch(Path{}, "title", "t"),
				SetAttributePatch(Path{}, "class", "b"),
				RemoveAttributePatch(Path{}, "id"),
			},
		},
		{
			name: "tag change replaces in place",
			old:  Element("div", nil, Element("span", nil)),
			new:  Element("div", nil, Element("p", nil)),
			want: []Patch{
				RemovePatch(Path{0}),
				InsertPatch(Path{0}, Element("p", nil)),
			},
		},
		{
			name: "null to element at root",
			old:  Null(),
			new:  Element("div", nil),
			want: []Patch{InsertPatch(Path{}, Element("div", nil))},
		},
		{
			name: "element to null at root",
			old:  Element("div", nil),
			new:  Null(),
			want: []Patch{RemovePatch(Path{})},
		},
		{
			name: "conditional child appears behind a null placeholder",
			old:  Element("div", nil, Null(), Text("tail")),
			new:  Element("div", nil, Element("b", nil), Text("tail")),
			want: []Patch{InsertPatch(Path{0}, Element("b", nil))},
		},
		{
			name: "conditional child disappears",
			old:  Element("div", nil, Element("b", nil), Text("tail")),
			new:  Element("div", nil, Null(), Text("tail")),
			want: []Patch{RemovePatch(Path{0})},
		},
		{
			name: "trailing children removed highest first",
			old:  Element("div", nil, Text("a"), Text("b"), Text("c")),
			new:  Element("div", nil, Text("a")),
			want: []Patch{RemovePatch(Path{2}), RemovePatch(Path{1})},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Diff(tt.old, tt.new)
			if !PatchesEqual(got, tt.want) {
				t.Fatalf("Diff() = %v, want %v", got, tt.want)
			}
			applied, err := Apply(tt.old, got)
			if err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
			if !Equal(applied, tt.new) {
				t.Errorf("Apply(old, Diff(old, new)) != new")
			}
		})
	}
}

func TestDiff_InsertIndexMatchesPath(t *testing.T) {
	ops := Diff(list("a"), list("z", "a", "b"))
	for _, op := range ops {
		if op.Op != OpInsert {
			continue
		}
		if op.Index != op.Path[len(op.Path)-1] {
			t.Errorf("Insert %s carries index %d", op.Path, op.Index)
		}
	}
}

func TestDiff_InsertedNodesCarryNoNulls(t *testing.T) {
	ops := Diff(Null(), Element("div", nil, Null(), Text("x"), Null()))
	if len(ops) != 1 || ops[0].Node == nil {
		t.Fatalf("Diff() = %v, want one insert", ops)
	}
	if got := len(ops[0].Node.Children); got != 1 {
		t.Errorf("inserted node has %d children, want 1", got)
	}
}

// randomTree builds a small tree; keys come from a tiny pool so lists overlap.
func randomTree(r *rand.Rand, depth int) Node {
	switch r.Intn(8) {
	case 0:
		return Null()
	case 1, 2:
		return Text([]string{"x", "y", "z"}[r.Intn(3)])
	}
	tag := []string{"div", "span", "li"}[r.Intn(3)]
	var attrs []Attr
	for _, name := range []string{"class", "id", "title"} {
		if r.Intn(2) == 0 {
			attrs = append(attrs, Attr{Name: name, Value: []string{"a", "b"}[r.Intn(2)]})
		}
	}
	r.Shuffle(len(attrs), func(i, j int) { attrs[i], attrs[j] = attrs[j], attrs[i] })
	n := Element(tag, attrs)
	if r.Intn(3) == 0 {
		n.Key = []string{"k1", "k2", "k3", "k4"}[r.Intn(4)]
	}
	if depth > 0 {
		for i := r.Intn(5); i > 0; i-- {
			n.Children = append(n.Children, randomTree(r, depth-1))
		}
	}
	return n
}

// Property-based test: applying a diff reproduces the target tree
func TestDiff_PropertyRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("Apply(a, Diff(a, b)) equals b", prop.ForAll(
		func(seedA, seedB int64) bool {
			a := randomTree(rand.New(rand.NewSource(seedA)), 3)
			b := randomTree(rand.New(rand.NewSource(seedB)), 3)
			got, err := Apply(a, Diff(a, b))
			if err != nil {
				t.Logf("Apply() error = %v", err)
				return false
			}
			return Equal(got, b) && Hash(got) == Hash(b)
		},
		gen.Int64(),
		gen.Int64(),
	))

	properties.TestingRun(t)
}

// Property-based test: diffing a tree against itself is empty
func TestDiff_PropertyIdentity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("Diff(t, t) is empty", prop.ForAll(
		func(seed int64) bool {
			tree := randomTree(rand.New(rand.NewSource(seed)), 4)
			return len(Diff(tree, tree)) == 0
		},
		gen.Int64(),
	))

	properties.TestingRun(t)
}

// Property-based test: diff output survives the wire
func TestDiff_PropertyWireStable(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("decoded patches apply like the originals", prop.ForAll(
		func(seedA, seedB int64) bool {
			a := randomTree(rand.New(rand.NewSource(seedA)), 3)
			b := randomTree(rand.New(rand.NewSource(seedB)), 3)
			data, err := MarshalPatches(Diff(a, b))
			if err != nil {
				return false
			}
			ops, err := UnmarshalPatches(data)
			if err != nil {
				return false
			}
			got, err := Apply(a, ops)
			return err == nil && Equal(got, b)
		},
		gen.Int64(),
		gen.Int64(),
	))

	properties.TestingRun(t)
}
