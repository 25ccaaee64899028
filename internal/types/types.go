// Package types provides identifiers, limits, and errors shared across patchwire components.
//
// Zero-dependency design: types.go and errors.go use only the standard library so the
// wire-level packages (protocol, vdom) can import them without pulling in the rest of the
// stack. ID utilities in ids.go import uuid and are isolated for the same reason.
package types

import "encoding/json"

// ComponentID identifies one mounted component instance.
// Chosen by the client; unique per connection.
type ComponentID string

// PredictionID identifies one PredictionRecord.
// UUIDv7 so records sort by creation time in logs and stats.
type PredictionID string

// SessionID identifies one server-side hub session (one websocket).
type SessionID string

// Payload represents an arbitrary JSON event payload.
// json.RawMessage wrapper preserves original bytes; the hub never interprets it beyond
// classifying its shape for trigger keys.
type Payload json.RawMessage

// MarshalJSON implements json.Marshaler.
// Delegates to json.RawMessage to preserve original payload bytes unchanged.
func (p Payload) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("null"), nil
	}
	return json.RawMessage(p).MarshalJSON()
}

// UnmarshalJSON implements json.Unmarshaler.
// Delegates to json.RawMessage to capture raw bytes without parsing.
func (p *Payload) UnmarshalJSON(data []byte) error {
	return (*json.RawMessage)(p).UnmarshalJSON(data)
}

// Resource limits enforced on trees, patches, and frames.
const (
	// MaxTreeDepth bounds recursion in the differ and applier.
	MaxTreeDepth = 100

	// MaxNodeCount bounds the size of a single rendered tree.
	MaxNodeCount = 10_000

	// MaxChildrenPerNode bounds a single child list.
	MaxChildrenPerNode = 1_000

	// MaxAttrNameLength bounds attribute names.
	MaxAttrNameLength = 256

	// MaxAttrValueLength bounds attribute values.
	MaxAttrValueLength = 4_096

	// MaxTextLength bounds text node content (1MB).
	MaxTextLength = 1024 * 1024

	// MaxFrameSize bounds one encoded hub frame (1MB).
	MaxFrameSize = 1024 * 1024
)
