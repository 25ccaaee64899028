package component

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/solatis/patchwire/internal/types"
	"github.com/solatis/patchwire/internal/vdom"
)

func TestState_WithCopies(t *testing.T) {
	base := State{"count": float64(1)}
	next := base.With("count", json.RawMessage("2"))

	if base.Int("count", -1) != 1 {
		t.Errorf("With() modified the receiver: %v", base)
	}
	if next.Int("count", -1) != 2 {
		t.Errorf("With() count = %v, want 2", next["count"])
	}
}

func TestState_Accessors(t *testing.T) {
	s := State{}.
		With("title", "todo").
		With("done", true).
		With("items", json.RawMessage(`["a", 1, "b"]`)).
		With("broken", json.RawMessage(`{`))

	tests := []struct {
		name string
		got  any
		want any
	}{
		{name: "string", got: s.String("title", ""), want: "todo"},
		{name: "string default", got: s.String("missing", "x"), want: "x"},
		{name: "bool", got: s.Bool("done"), want: true},
		{name: "int default on wrong type", got: s.Int("title", 7), want: 7},
		{name: "strings skip non-strings", got: len(s.Strings("items")), want: 2},
		{name: "malformed raw becomes nil", got: s["broken"], want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestDecodeState(t *testing.T) {
	s, err := DecodeState(json.RawMessage(`{"count": 3}`))
	if err != nil || s.Int("count", 0) != 3 {
		t.Fatalf("DecodeState() = %v, %v", s, err)
	}
	empty, err := DecodeState(json.RawMessage("null"))
	if err != nil || len(empty) != 0 {
		t.Errorf("DecodeState(null) = %v, %v", empty, err)
	}
	if _, err := DecodeState(json.RawMessage(`[1]`)); err == nil {
		t.Error("DecodeState([1]) error = nil")
	}
}

func TestCatalog(t *testing.T) {
	render := func(State) vdom.Node { return vdom.Text("x") }
	c, err := NewCatalog(Definition{Type: "label", Render: render})
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}

	if _, err := c.Lookup("label"); err != nil {
		t.Errorf("Lookup(label) error = %v", err)
	}
	if _, err := c.Lookup("chart"); !errors.Is(err, types.ErrUnknownComponentType) {
		t.Errorf("Lookup(chart) error = %v, want ErrUnknownComponentType", err)
	}
	if err := c.Register(Definition{Type: "label", Render: render}); err == nil {
		t.Error("duplicate Register() error = nil")
	}
	if err := c.Register(Definition{Type: "nil-render"}); err == nil {
		t.Error("Register() without render error = nil")
	}
	if got := c.Types(); len(got) != 1 || got[0] != "label" {
		t.Errorf("Types() = %v", got)
	}
}
