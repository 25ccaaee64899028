package vdom

import (
	"errors"
	"testing"

	"github.com/solatis/patchwire/internal/types"
)

func TestApply_Errors(t *testing.T) {
	tree := Element("div", Attrs("class", "a"), Text("hello"), Element("span", nil))
	tests := []struct {
		name    string
		ops     []Patch
		wantErr error
	}{
		{
			name:    "path past the last child",
			ops:     []Patch{RemovePatch(Path{5})},
			wantErr: types.ErrInvalidPath,
		},
		{
			name:    "path through a text node",
			ops:     []Patch{SetAttributePatch(Path{0, 0}, "x", "y")},
			wantErr: types.ErrInvalidPath,
		},
		{
			name:    "replace text on an element",
			ops:     []Patch{ReplaceTextPatch(Path{1}, "nope")},
			wantErr: types.ErrPatchMismatch,
		},
		{
			name:    "set attribute on text",
			ops:     []Patch{SetAttributePatch(Path{0}, "x", "y")},
			wantErr: types.ErrPatchMismatch,
		},
		{
			name:    "remove missing attribute",
			ops:     []Patch{RemoveAttributePatch(Path{}, "id")},
			wantErr: types.ErrPatchMismatch,
		},
		{
			name:    "insert into occupied root",
			ops:     []Patch{InsertPatch(Path{}, Text("x"))},
			wantErr: types.ErrPatchMismatch,
		},
		{
			name:    "insert index disagrees with path",
			ops:     []Patch{{Op: OpInsert, Path: Path{1}, Index: 0, Node: &Node{Kind: KindText, Text: "x"}}},
			wantErr: types.ErrInvalidPath,
		},
		{
			name:    "move the root",
			ops:     []Patch{MovePatch(Path{}, 0)},
			wantErr: types.ErrInvalidPath,
		},
		{
			name:    "move beyond the sibling list",
			ops:     []Patch{MovePatch(Path{0}, 2)},
			wantErr: types.ErrInvalidPath,
		},
		{
			name:    "unknown op",
			ops:     []Patch{{Op: "Teleport"}},
			wantErr: types.ErrPatchMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Apply(tree, tt.ops)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Apply() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestApply_AllOrNothing(t *testing.T) {
	tree := Element("div", nil, Text("a"))
	ops := []Patch{
		ReplaceTextPatch(Path{0}, "b"),
		RemovePatch(Path{3}),
	}
	if _, err := Apply(tree, ops); err == nil {
		t.Fatal("Apply() error = nil, want failure on second patch")
	}
	if tree.Children[0].Text != "a" {
		t.Errorf("input tree modified: %q", tree.Children[0].Text)
	}
}

func TestApply_Move(t *testing.T) {
	tree := Element("ul", nil, Text("a"), Text("b"), Text("c"), Text("d"))
	tests := []struct {
		name string
		op   Patch
		want []string
	}{
		{name: "forward", op: MovePatch(Path{0}, 2), want: []string{"b", "c", "a", "d"}},
		{name: "backward", op: MovePatch(Path{3}, 1), want: []string{"a", "d", "b", "c"}},
		{name: "in place", op: MovePatch(Path{1}, 1), want: []string{"a", "b", "c", "d"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Apply(tree, []Patch{tt.op})
			if err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
			for i, want := range tt.want {
				if got.Children[i].Text != want {
					t.Errorf("child %d = %q, want %q", i, got.Children[i].Text, want)
				}
			}
		})
	}
}

func TestApply_SetAttributeKeepsPosition(t *testing.T) {
	tree := Element("div", Attrs("a", "1", "b", "2"))
	got, err := Apply(tree, []Patch{SetAttributePatch(Path{}, "a", "9"), SetAttributePatch(Path{}, "c", "3")})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	want := []Attr{{"a", "9"}, {"b", "2"}, {"c", "3"}}
	for i, a := range want {
		if got.Attrs[i] != a {
			t.Errorf("attr %d = %v, want %v", i, got.Attrs[i], a)
		}
	}
}

func TestAt(t *testing.T) {
	tree := Element("div", nil, Null(), Element("p", nil, Text("x")))
	n, ok := At(tree, Path{0, 0})
	if !ok || n.Text != "x" {
		t.Fatalf("At(/0/0) = %v, %v", n, ok)
	}
	if _, ok := At(tree, Path{1}); ok {
		t.Error("At(/1) found a node behind a null placeholder")
	}
}
