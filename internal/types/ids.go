package types

import (
	"time"

	"github.com/google/uuid"
)

// NewPredictionID generates a UUIDv7 prediction identifier.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewPredictionID() PredictionID {
	return PredictionID(uuid.Must(uuid.NewV7()).String())
}

// NewSessionID generates a UUIDv7 session identifier.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewSessionID() SessionID {
	return SessionID(uuid.Must(uuid.NewV7()).String())
}

// ParsePredictionID validates and converts a string to PredictionID.
// Rejects malformed UUIDs so clients cannot smuggle arbitrary keys into stats.
func ParsePredictionID(s string) (PredictionID, error) {
	_, err := uuid.Parse(s)
	if err != nil {
		return "", err
	}
	return PredictionID(s), nil
}

// PredictionIDTime extracts the timestamp embedded in a UUIDv7 ID.
// Returns zero time for invalid UUIDs; caller should check IsZero().
func PredictionIDTime(id PredictionID) time.Time {
	u, err := uuid.Parse(string(id))
	if err != nil {
		return time.Time{}
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec)
}
