package auth

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/patchwire/internal/core/db"
)

const testSecretID = "0123456789abcdef0123456789abcdef"

func newTestAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	ctx := context.Background()
	database, err := db.Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.MigrateUp(ctx, database))

	queries, err := db.LoadQueries(database)
	require.NoError(t, err)

	a, err := NewAuthenticator(map[string][]byte{testSecretID: []byte(strings.Repeat("k", 32))}, queries, nil)
	require.NoError(t, err)
	return a
}

func TestParseAPIKey(t *testing.T) {
	random := strings.Repeat("ab", 32)
	tests := []struct {
		name string
		key  string
		ok   bool
	}{
		{name: "valid", key: "pw-v1-" + testSecretID + "-" + random, ok: true},
		{name: "wrong prefix", key: "tk-v1-" + testSecretID + "-" + random},
		{name: "wrong version", key: "pw-v2-" + testSecretID + "-" + random},
		{name: "short random", key: "pw-v1-" + testSecretID + "-abc"},
		{name: "uppercase", key: "pw-v1-" + strings.ToUpper(testSecretID) + "-" + random},
		{name: "extra segment", key: "pw-v1-" + testSecretID + "-" + random + "-x"},
		{name: "empty", key: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			secretID, data, err := ParseAPIKey(tt.key)
			if !tt.ok {
				assert.ErrorIs(t, err, ErrInvalidKeyFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, testSecretID, secretID)
			assert.Equal(t, random, data)
		})
	}
}

func TestGenerateAPIKey(t *testing.T) {
	k1, err := GenerateAPIKey(testSecretID)
	require.NoError(t, err)
	k2, err := GenerateAPIKey(testSecretID)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
	assert.Len(t, k1, 102)

	_, err = GenerateAPIKey("not-hex")
	assert.Error(t, err)
}

func TestNewAuthenticator(t *testing.T) {
	_, err := NewAuthenticator(nil, nil, nil)
	assert.Error(t, err)
	_, err = NewAuthenticator(map[string][]byte{testSecretID: nil}, nil, nil)
	assert.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	a := newTestAuthenticator(t)

	key, keyID, err := a.CreateKey(ctx, "dashboard", testSecretID)
	require.NoError(t, err)

	id, err := a.Authenticate(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, Identity{KeyID: keyID, Name: "dashboard"}, id)

	unknown := FormatAPIKey("fedcba9876543210fedcba9876543210", strings.Repeat("0", 64))
	_, err = a.Authenticate(ctx, unknown)
	assert.ErrorIs(t, err, ErrUnknownKey)

	forged := FormatAPIKey(testSecretID, strings.Repeat("0", 64))
	_, err = a.Authenticate(ctx, forged)
	assert.ErrorIs(t, err, ErrInvalidKey)

	require.NoError(t, a.RevokeKey(ctx, keyID))
	require.NoError(t, a.RevokeKey(ctx, keyID))
	_, err = a.Authenticate(ctx, key)
	assert.ErrorIs(t, err, ErrKeyRevoked)

	_, _, err = a.CreateKey(ctx, "other", "fedcba9876543210fedcba9876543210")
	assert.ErrorIs(t, err, ErrUnknownKey)
}

type failingQueries struct{}

func (failingQueries) GetContext(context.Context, string, any, ...any) error {
	return errors.New("connection refused")
}

func (failingQueries) ExecContext(context.Context, string, ...any) (sql.Result, error) {
	return nil, errors.New("connection refused")
}

func TestMiddleware(t *testing.T) {
	ctx := context.Background()
	a := newTestAuthenticator(t)
	key, keyID, err := a.CreateKey(ctx, "hub", testSecretID)
	require.NoError(t, err)
	revoked, revokedID, err := a.CreateKey(ctx, "old", testSecretID)
	require.NoError(t, err)
	require.NoError(t, a.RevokeKey(ctx, revokedID))

	var seen Identity
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{name: "bearer", header: "Bearer " + key, want: http.StatusNoContent},
		{name: "query parameter", query: "?access_token=" + key, want: http.StatusNoContent},
		{name: "missing", want: http.StatusUnauthorized},
		{name: "basic scheme", header: "Basic " + key, want: http.StatusUnauthorized},
		{name: "malformed", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "revoked", header: "Bearer " + revoked, want: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/hub"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusNoContent {
				assert.Equal(t, keyID, seen.KeyID)
			}
		})
	}

	down, err := NewAuthenticator(map[string][]byte{testSecretID: []byte(strings.Repeat("k", 32))}, failingQueries{}, nil)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/hub", nil)
	req.Header.Set("Authorization", "Bearer "+key)
	rec := httptest.NewRecorder()
	down.Middleware(handler).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
