package api

import "errors"

// Method errors reach the client as the error string of a Completion frame. The session
// logs them and keeps serving.
var (
	ErrUnknownMethod    = errors.New("unknown hub method")
	ErrInvalidArguments = errors.New("invalid arguments")
	ErrInvalidTree      = errors.New("render produced an invalid tree")
	ErrSessionNotFound  = errors.New("session not found")
	ErrShuttingDown     = errors.New("hub is shutting down")
)
