// Package auth provides HMAC-based API key authentication for the hub endpoint.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// contextKey is a typed key for context values to avoid collisions.
type contextKey string

// identityKey is the context key for the authenticated key's identity.
const identityKey = contextKey("identity")

// Queries defines the database operations authentication needs.
// Implemented by *db.Queries.
type Queries interface {
	GetContext(ctx context.Context, name string, dest any, args ...any) error
	ExecContext(ctx context.Context, name string, args ...any) (sql.Result, error)
}

// Identity names the API key a request authenticated with.
type Identity struct {
	KeyID string
	Name  string
}

// Authenticator validates API keys using HMAC-SHA256 signatures.
// Holds in-memory secret map for O(1) lookup and queries for key verification.
type Authenticator struct {
	secrets map[string][]byte
	queries Queries
	logger  *slog.Logger
	now     func() time.Time
}

// NewAuthenticator creates an authenticator with HMAC secrets and query interface.
func NewAuthenticator(secrets map[string][]byte, queries Queries, logger *slog.Logger) (*Authenticator, error) {
	if len(secrets) == 0 {
		return nil, fmt.Errorf("at least one HMAC secret is required")
	}
	if queries == nil {
		return nil, fmt.Errorf("queries cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		secrets: secrets,
		queries: queries,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Authenticate validates an API key and returns its identity.
func (a *Authenticator) Authenticate(ctx context.Context, apiKey string) (Identity, error) {
	secretID, _, err := ParseAPIKey(apiKey)
	if err != nil {
		return Identity{}, err
	}

	secret, ok := a.secrets[secretID]
	if !ok {
		return Identity{}, ErrUnknownKey
	}

	// key_hash is unique so at most one row matches
	var row struct {
		APIKeyID   string       `db:"api_key_id"`
		Name       string       `db:"name"`
		RevokedAt  sql.NullTime `db:"revoked_at"`
		LastUsedAt sql.NullTime `db:"last_used_at"`
	}
	err = a.queries.GetContext(ctx, "get-api-key-by-hash", &row, KeyHash(secret, apiKey))
	if errors.Is(err, sql.ErrNoRows) {
		return Identity{}, ErrInvalidKey
	}
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if row.RevokedAt.Valid {
		return Identity{}, ErrKeyRevoked
	}

	// 1-minute throttle keeps reconnecting clients from writing on every upgrade.
	if a.shouldUpdateLastUsed(row.LastUsedAt) {
		if _, err := a.queries.ExecContext(ctx, "update-last-used", a.now(), row.APIKeyID); err != nil {
			a.logger.Warn("failed to update last_used_at", "api_key_id", row.APIKeyID, "error", err)
		}
	}

	return Identity{KeyID: row.APIKeyID, Name: row.Name}, nil
}

func (a *Authenticator) shouldUpdateLastUsed(lastUsed sql.NullTime) bool {
	if !lastUsed.Valid {
		return true
	}
	return a.now().Sub(lastUsed.Time) > time.Minute
}

// CreateKey generates and stores a key under secretID and returns the key and its id.
// The key itself is not stored and cannot be recovered.
func (a *Authenticator) CreateKey(ctx context.Context, name, secretID string) (key, keyID string, err error) {
	secret, ok := a.secrets[secretID]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownKey, secretID)
	}
	key, err = GenerateAPIKey(secretID)
	if err != nil {
		return "", "", err
	}
	keyID = uuid.Must(uuid.NewV7()).String()
	if _, err := a.queries.ExecContext(ctx, "insert-api-key", keyID, name, secretID, KeyHash(secret, key), a.now()); err != nil {
		return "", "", fmt.Errorf("store key: %w", err)
	}
	return key, keyID, nil
}

// RevokeKey marks a key revoked. Revoking twice is not an error.
func (a *Authenticator) RevokeKey(ctx context.Context, keyID string) error {
	if _, err := a.queries.ExecContext(ctx, "revoke-api-key", a.now(), keyID); err != nil {
		return fmt.Errorf("revoke key: %w", err)
	}
	return nil
}

// TokenFromRequest returns the bearer token of r, falling back to the access_token query
// parameter since browsers cannot set headers on a websocket upgrade.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

// Middleware rejects requests without a valid key and stores the identity in the request
// context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := TokenFromRequest(r)
		if token == "" {
			http.Error(w, ErrMissingKey.Error(), http.StatusUnauthorized)
			return
		}

		id, err := a.Authenticate(r.Context(), token)
		switch {
		case err == nil:
		case errors.Is(err, ErrKeyRevoked):
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		case errors.Is(err, ErrUnavailable):
			a.logger.Error("authentication unavailable", "error", err)
			http.Error(w, ErrUnavailable.Error(), http.StatusServiceUnavailable)
			return
		default:
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
	})
}

// IdentityFromContext returns the identity stored by Middleware.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}
