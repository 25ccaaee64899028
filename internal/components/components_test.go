package components

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/patchwire/internal/component"
	"github.com/solatis/patchwire/internal/types"
	"github.com/solatis/patchwire/internal/vdom"
)

func TestCatalog(t *testing.T) {
	c := Catalog()
	assert.Equal(t, []string{"counter", "todo"}, c.Types())

	_, err := c.Lookup("chart")
	assert.ErrorIs(t, err, types.ErrUnknownComponentType)
}

func TestCounterIncrement(t *testing.T) {
	before := Counter.Render(Counter.Initial)
	after := Counter.Render(Counter.Initial.With("count", float64(1)))

	ops := vdom.Diff(before, after)
	want := []vdom.Patch{
		vdom.ReplaceTextPatch(vdom.Path{0, 0}, "Count: 1"),
		vdom.SetAttributePatch(vdom.Path{1}, "data-value", "2"),
	}
	assert.True(t, vdom.PatchesEqual(want, ops), "got %v", ops)
}

func TestCounterNegative(t *testing.T) {
	tree := Counter.Render(component.State{"count": float64(-2)})
	class, _ := tree.Attr("class")
	assert.Equal(t, "counter negative", class)
}

func TestTodoReorderIsOneMove(t *testing.T) {
	before := Todo.Render(component.State{"items": []any{"milk", "eggs"}})
	after := Todo.Render(component.State{"items": []any{"eggs", "milk"}})

	ops := vdom.Diff(before, after)
	require.Len(t, ops, 1)
	assert.Equal(t, vdom.OpMove, ops[0].Op)

	got, err := vdom.Apply(before, ops)
	require.NoError(t, err)
	assert.True(t, vdom.Equal(after, got))
}

func TestTodoFooter(t *testing.T) {
	tests := []struct {
		name  string
		items []any
		want  string
	}{
		{name: "empty", items: []any{}},
		{name: "one", items: []any{"milk"}, want: "1 item"},
		{name: "many", items: []any{"milk", "eggs", "bread"}, want: "3 items"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := vdom.Normalize(Todo.Render(component.State{"items": tt.items}))
			footer, ok := vdom.At(tree, vdom.Path{2, 0})
			if tt.want == "" {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.want, footer.Text)
		})
	}
}

func TestRendersValidate(t *testing.T) {
	for _, def := range []component.Definition{Counter, Todo} {
		assert.NoError(t, vdom.Validate(def.Render(def.Initial)), def.Type)
	}
}
