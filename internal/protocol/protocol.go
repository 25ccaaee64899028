// Package protocol implements the hub wire format: JSON frames terminated by the ASCII
// record separator, preceded by a one-shot handshake.
//
// A single websocket text message may carry several frames; Split cuts them apart and
// Decode parses one. Codec functions are pure so both the client connection and the
// server session share them.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/solatis/patchwire/internal/types"
)

// RecordSeparator terminates every frame.
const RecordSeparator byte = 0x1E

// Handshake constants.
const (
	ProtocolName    = "json"
	ProtocolVersion = 1
)

// MessageType discriminates hub frames.
type MessageType int

const (
	TypeInvocation MessageType = 1
	TypeCompletion MessageType = 3
	TypePing       MessageType = 6
	TypeClose      MessageType = 7
)

func (t MessageType) String() string {
	switch t {
	case TypeInvocation:
		return "Invocation"
	case TypeCompletion:
		return "Completion"
	case TypePing:
		return "Ping"
	case TypeClose:
		return "Close"
	}
	return fmt.Sprintf("MessageType(%d)", int(t))
}

// Message is one decoded hub frame. Only the fields of its Type are meaningful.
//
// An Invocation without InvocationID is fire-and-forget: no Completion is expected.
// A Completion carries either Result or a non-empty Error.
type Message struct {
	Type           MessageType       `json:"type"`
	InvocationID   string            `json:"invocationId,omitempty"`
	Target         string            `json:"target,omitempty"`
	Arguments      []json.RawMessage `json:"arguments,omitempty"`
	Result         json.RawMessage   `json:"result,omitempty"`
	Error          string            `json:"error,omitempty"`
	AllowReconnect bool              `json:"allowReconnect,omitempty"`
}

// NewInvocation builds an Invocation, encoding each argument as JSON.
// An empty id makes it fire-and-forget.
func NewInvocation(id, target string, args ...any) (Message, error) {
	raw, err := EncodeArguments(args...)
	if err != nil {
		return Message{}, fmt.Errorf("invocation %s: %w", target, err)
	}
	return Message{Type: TypeInvocation, InvocationID: id, Target: target, Arguments: raw}, nil
}

// NewCompletion builds a successful Completion.
func NewCompletion(id string, result any) (Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Message{}, fmt.Errorf("completion %s: %w", id, err)
	}
	return Message{Type: TypeCompletion, InvocationID: id, Result: raw}, nil
}

// NewCompletionError builds a failed Completion.
func NewCompletionError(id, errMsg string) Message {
	if errMsg == "" {
		errMsg = "unknown error"
	}
	return Message{Type: TypeCompletion, InvocationID: id, Error: errMsg}
}

// EncodeArguments encodes each argument as a separate JSON value.
func EncodeArguments(args ...any) ([]json.RawMessage, error) {
	raw := make([]json.RawMessage, len(args))
	for i, arg := range args {
		data, err := json.Marshal(arg)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		raw[i] = data
	}
	return raw, nil
}

// Encode serializes m and appends the record separator.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	if len(data)+1 > types.MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", types.ErrFrameTooLarge, len(data)+1)
	}
	return append(data, RecordSeparator), nil
}

// Split cuts a transport message into frames without their separators. Empty frames are
// skipped; a trailing fragment without a separator is returned as the last frame.
func Split(data []byte) [][]byte {
	var frames [][]byte
	for len(data) > 0 {
		i := bytes.IndexByte(data, RecordSeparator)
		if i < 0 {
			frames = append(frames, data)
			break
		}
		if i > 0 {
			frames = append(frames, data[:i])
		}
		data = data[i+1:]
	}
	return frames
}

// Decode parses one frame (without separator) and checks its required fields.
func Decode(frame []byte) (Message, error) {
	if len(frame) > types.MaxFrameSize {
		return Message{}, fmt.Errorf("%w: %d bytes", types.ErrFrameTooLarge, len(frame))
	}
	var m Message
	if err := json.Unmarshal(frame, &m); err != nil {
		return Message{}, fmt.Errorf("decode frame: %w", err)
	}
	switch m.Type {
	case TypeInvocation:
		if m.Target == "" {
			return Message{}, fmt.Errorf("invocation without target")
		}
	case TypeCompletion:
		if m.InvocationID == "" {
			return Message{}, fmt.Errorf("completion without invocationId")
		}
	case TypePing, TypeClose:
	default:
		return Message{}, fmt.Errorf("%w: %d", types.ErrUnknownMessageType, int(m.Type))
	}
	return m, nil
}

// DecodeAll splits data and decodes every frame, collecting per-frame errors so one bad
// frame does not drop its neighbours.
func DecodeAll(data []byte) ([]Message, []error) {
	var (
		msgs []Message
		errs []error
	)
	for _, frame := range Split(data) {
		m, err := Decode(frame)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, errs
}

// HandshakeRequest is the first frame a client sends.
type HandshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

// HandshakeResponse is the server's answer; an empty Error accepts the connection.
type HandshakeResponse struct {
	Error string `json:"error,omitempty"`
}

// EncodeHandshakeRequest returns the client handshake frame.
func EncodeHandshakeRequest() []byte {
	data, _ := json.Marshal(HandshakeRequest{Protocol: ProtocolName, Version: ProtocolVersion})
	return append(data, RecordSeparator)
}

// ParseHandshakeRequest decodes and checks a client handshake frame.
func ParseHandshakeRequest(frame []byte) (HandshakeRequest, error) {
	var req HandshakeRequest
	if err := json.Unmarshal(bytes.TrimSuffix(frame, []byte{RecordSeparator}), &req); err != nil {
		return req, fmt.Errorf("%w: %v", types.ErrHandshakeFailed, err)
	}
	if req.Protocol != ProtocolName {
		return req, fmt.Errorf("%w: protocol %q not supported", types.ErrHandshakeFailed, req.Protocol)
	}
	if req.Version != ProtocolVersion {
		return req, fmt.Errorf("%w: version %d not supported", types.ErrHandshakeFailed, req.Version)
	}
	return req, nil
}

// EncodeHandshakeResponse returns the server handshake frame; errMsg empty accepts.
func EncodeHandshakeResponse(errMsg string) []byte {
	data, _ := json.Marshal(HandshakeResponse{Error: errMsg})
	return append(data, RecordSeparator)
}

// ParseHandshakeResponse decodes a server handshake frame, returning an error wrapping
// ErrHandshakeFailed when the server refused.
func ParseHandshakeResponse(frame []byte) error {
	var resp HandshakeResponse
	if err := json.Unmarshal(bytes.TrimSuffix(frame, []byte{RecordSeparator}), &resp); err != nil {
		return fmt.Errorf("%w: %v", types.ErrHandshakeFailed, err)
	}
	if resp.Error != "" {
		return fmt.Errorf("%w: %s", types.ErrHandshakeFailed, resp.Error)
	}
	return nil
}
