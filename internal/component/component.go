// Package component defines the narrow collaborator types the hub needs from a UI
// component model: a render function from state to tree, the state itself, and a catalog
// the server resolves component types through.
package component

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/solatis/patchwire/internal/types"
	"github.com/solatis/patchwire/internal/vdom"
)

// RenderFunc renders a tree snapshot from state. It must be pure.
type RenderFunc func(State) vdom.Node

// State is a component's state keyed by state name. Values are JSON-shaped
// (float64, string, bool, nil, []any, map[string]any).
type State map[string]any

// With returns a copy of s with key set to value. A json.RawMessage value is decoded
// first so state built from wire payloads matches state built in Go.
func (s State) With(key string, value any) State {
	out := make(State, len(s)+1)
	for k, v := range s {
		out[k] = v
	}
	if raw, ok := value.(json.RawMessage); ok {
		var decoded any
		if len(raw) == 0 || json.Unmarshal(raw, &decoded) != nil {
			decoded = nil
		}
		value = decoded
	}
	out[key] = value
	return out
}

// Int returns key as an int, or def when missing or not a number.
func (s State) Int(key string, def int) int {
	switch v := s[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return def
}

// String returns key as a string, or def when missing or not a string.
func (s State) String(key, def string) string {
	if v, ok := s[key].(string); ok {
		return v
	}
	return def
}

// Bool returns key as a bool; false when missing.
func (s State) Bool(key string) bool {
	v, _ := s[key].(bool)
	return v
}

// Strings returns key as a string slice, skipping non-string elements.
func (s State) Strings(key string) []string {
	switch v := s[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

// DecodeState decodes a JSON object into State; null or empty input yields an empty State.
func DecodeState(raw json.RawMessage) (State, error) {
	s := State{}
	if len(raw) == 0 || string(raw) == "null" {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return s, nil
}

// Definition describes one component type.
type Definition struct {
	Type    string
	Render  RenderFunc
	Initial State
}

// Catalog resolves component types by name. Safe for concurrent use.
type Catalog struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewCatalog creates a catalog holding defs.
func NewCatalog(defs ...Definition) (*Catalog, error) {
	c := &Catalog{defs: make(map[string]Definition)}
	for _, d := range defs {
		if err := c.Register(d); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Register adds d; type names must be unique.
func (c *Catalog) Register(d Definition) error {
	if d.Type == "" {
		return fmt.Errorf("component type cannot be empty")
	}
	if d.Render == nil {
		return fmt.Errorf("component %s: render cannot be nil", d.Type)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.defs[d.Type]; exists {
		return fmt.Errorf("component %s: already registered", d.Type)
	}
	c.defs[d.Type] = d
	return nil
}

// Lookup returns the definition for typ or types.ErrUnknownComponentType.
func (c *Catalog) Lookup(typ string) (Definition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.defs[typ]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", types.ErrUnknownComponentType, typ)
	}
	return d, nil
}

// Types lists registered type names in sorted order.
func (c *Catalog) Types() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.defs))
	for t := range c.defs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
