package vdom

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// nodeJSON is the wire shape of a Node. Attributes stay raw so their order survives.
type nodeJSON struct {
	Type       string          `json:"type"`
	Tag        string          `json:"tag,omitempty"`
	Key        string          `json:"key,omitempty"`
	Attributes json.RawMessage `json:"attributes,omitempty"`
	Children   []Node          `json:"children,omitempty"`
	Content    *string         `json:"content,omitempty"`
}

// MarshalJSON encodes n as {"type":"Element"|"Text"|"Null",...} with attributes as an
// object in render order.
func (n Node) MarshalJSON() ([]byte, error) {
	out := nodeJSON{Type: n.Kind.String()}
	switch n.Kind {
	case KindText:
		content := n.Text
		out.Content = &content
	case KindElement:
		out.Tag = n.Tag
		out.Key = n.Key
		out.Children = n.Children
		if len(n.Attrs) > 0 {
			attrs, err := encodeAttrs(n.Attrs)
			if err != nil {
				return nil, err
			}
			out.Attributes = attrs
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the shape produced by MarshalJSON.
func (n *Node) UnmarshalJSON(data []byte) error {
	var in nodeJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch in.Type {
	case "Null":
		*n = Null()
	case "Text":
		*n = Node{Kind: KindText}
		if in.Content != nil {
			n.Text = *in.Content
		}
	case "Element":
		if in.Tag == "" {
			return fmt.Errorf("element node missing tag")
		}
		attrs, err := decodeAttrs(in.Attributes)
		if err != nil {
			return err
		}
		*n = Node{Kind: KindElement, Tag: in.Tag, Key: in.Key, Attrs: attrs, Children: in.Children}
	default:
		return fmt.Errorf("unknown node type %q", in.Type)
	}
	return nil
}

func encodeAttrs(attrs []Attr) (json.RawMessage, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, a := range attrs {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(a.Name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(a.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func decodeAttrs(raw json.RawMessage) ([]Attr, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("attributes must be an object")
	}
	var out []Attr
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("attribute name must be a string")
		}
		var value string
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("attribute %q: %w", name, err)
		}
		out = append(out, Attr{Name: name, Value: value})
	}
	return out, nil
}

// MarshalPatches encodes a patch list; an empty list encodes as [] rather than null.
func MarshalPatches(ops []Patch) ([]byte, error) {
	if ops == nil {
		ops = []Patch{}
	}
	return json.Marshal(ops)
}

// UnmarshalPatches decodes a patch list, treating null as empty.
func UnmarshalPatches(data []byte) ([]Patch, error) {
	var ops []Patch
	if err := json.Unmarshal(data, &ops); err != nil {
		return nil, err
	}
	return ops, nil
}
