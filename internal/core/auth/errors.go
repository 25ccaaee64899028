package auth

import "errors"

// Authentication errors. Missing, malformed, unknown, and invalid keys all answer 401
// so a response never confirms a key exists; revoked keys answer 403.
var (
	ErrMissingKey       = errors.New("API key required as bearer token or access_token parameter")
	ErrInvalidKeyFormat = errors.New("invalid API key format")
	ErrUnknownKey       = errors.New("unknown secret ID")
	ErrInvalidKey       = errors.New("invalid API key")
	ErrKeyRevoked       = errors.New("API key has been revoked")
	ErrUnavailable      = errors.New("key store unavailable")
)
