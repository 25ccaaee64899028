package vdom

import (
	"errors"
	"strings"
	"testing"

	"github.com/solatis/patchwire/internal/types"
)

func deepTree(depth int) Node {
	n := Text("leaf")
	for i := 0; i < depth; i++ {
		n = Element("div", nil, n)
	}
	return n
}

func TestValidate(t *testing.T) {
	wide := make([]Node, types.MaxChildrenPerNode+1)
	for i := range wide {
		wide[i] = Text("x")
	}

	tests := []struct {
		name    string
		node    Node
		wantErr error
	}{
		{name: "small tree", node: counter(3), wantErr: nil},
		{name: "at depth limit", node: deepTree(types.MaxTreeDepth - 1), wantErr: nil},
		{name: "too deep", node: deepTree(types.MaxTreeDepth + 1), wantErr: types.ErrTreeTooDeep},
		{name: "too many children", node: Element("ul", nil, wide...), wantErr: types.ErrTooManyChildren},
		{
			name:    "attribute name too long",
			node:    Element("a", []Attr{{Name: strings.Repeat("n", types.MaxAttrNameLength+1), Value: "v"}}),
			wantErr: types.ErrAttributeTooLong,
		},
		{
			name:    "attribute value too long",
			node:    Element("a", Attrs("href", strings.Repeat("v", types.MaxAttrValueLength+1))),
			wantErr: types.ErrAttributeTooLong,
		},
		{
			name:    "duplicate attribute",
			node:    Element("a", Attrs("href", "x", "href", "y")),
			wantErr: types.ErrDuplicateAttribute,
		},
		{
			name:    "text too long",
			node:    Text(strings.Repeat("t", types.MaxTextLength+1)),
			wantErr: types.ErrTextTooLong,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.node)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_NodeCount(t *testing.T) {
	rows := make([]Node, 0, 600)
	for i := 0; i < 600; i++ {
		cells := make([]Node, 20)
		for j := range cells {
			cells[j] = Text("c")
		}
		rows = append(rows, Element("tr", nil, cells...))
	}
	err := Validate(Element("table", nil, rows...))
	if !errors.Is(err, types.ErrTreeTooLarge) {
		t.Errorf("Validate() error = %v, want ErrTreeTooLarge", err)
	}
}

func TestHash_IgnoresAttributeOrderAndNulls(t *testing.T) {
	a := Element("div", Attrs("a", "1", "b", "2"), Null(), Text("x"))
	b := Element("div", Attrs("b", "2", "a", "1"), Text("x"))
	if Hash(a) != Hash(b) {
		t.Error("Hash() differs for equal live trees")
	}
	if Hash(a) == Hash(Element("div", Attrs("a", "1", "b", "3"), Text("x"))) {
		t.Error("Hash() equal for different attribute values")
	}
	if Hash(Text("ab")) == Hash(Element("ab", nil)) {
		t.Error("Hash() collides across node kinds")
	}
}
