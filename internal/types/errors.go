package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for patchwire operations.
var (
	// ErrNotConnected indicates a send was attempted while the connection was not Connected.
	ErrNotConnected = errors.New("connection is not connected")

	// ErrConnectionClosed rejects invocations still pending when the socket closed.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrTimeout rejects an invocation whose deadline elapsed before a completion arrived.
	ErrTimeout = errors.New("invocation timed out")

	// ErrInvalidState indicates an operation illegal in the current connection state.
	ErrInvalidState = errors.New("invalid connection state")

	// ErrHandshakeFailed indicates the hub rejected or never answered the handshake.
	ErrHandshakeFailed = errors.New("hub handshake failed")

	// ErrUnknownMessageType indicates a frame with a type outside {1,3,6,7}.
	ErrUnknownMessageType = errors.New("unknown message type")

	// ErrFrameTooLarge indicates a frame exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")

	// ErrUnknownComponent indicates a component id with no mounted instance.
	ErrUnknownComponent = errors.New("unknown component")

	// ErrComponentExists indicates a second mount under the same component id.
	ErrComponentExists = errors.New("component already mounted")

	// ErrUnknownComponentType indicates a component type missing from the catalog.
	ErrUnknownComponentType = errors.New("unknown component type")

	// ErrInvalidPath indicates a patch path that does not address a node.
	ErrInvalidPath = errors.New("invalid patch path")

	// ErrPatchMismatch indicates a patch that does not fit the node it addresses.
	ErrPatchMismatch = errors.New("patch does not match target node")

	// ErrTreeTooDeep indicates a tree exceeds MaxTreeDepth.
	ErrTreeTooDeep = errors.New("tree exceeds maximum depth")

	// ErrTreeTooLarge indicates a tree exceeds MaxNodeCount.
	ErrTreeTooLarge = errors.New("tree exceeds maximum node count")

	// ErrTooManyChildren indicates a child list exceeds MaxChildrenPerNode.
	ErrTooManyChildren = errors.New("node has too many children")

	// ErrAttributeTooLong indicates an attribute name or value exceeds its limit.
	ErrAttributeTooLong = errors.New("attribute too long")

	// ErrDuplicateAttribute indicates an element lists the same attribute name twice.
	ErrDuplicateAttribute = errors.New("duplicate attribute name")

	// ErrTextTooLong indicates text content exceeds MaxTextLength.
	ErrTextTooLong = errors.New("text content too long")

	// ErrStateUnknown indicates the client's copy of a component's state no longer matches
	// the server's.
	ErrStateUnknown = errors.New("component state unknown")

	// ErrDisposed indicates the component was unmounted while work was queued.
	ErrDisposed = errors.New("component disposed")
)

// InvocationError carries the error string of a Completion frame.
type InvocationError struct {
	Target  string
	Message string
}

func (e *InvocationError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("invocation failed: %s", e.Message)
	}
	return fmt.Sprintf("invocation %s failed: %s", e.Target, e.Message)
}
