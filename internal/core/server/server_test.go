package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/solatis/patchwire/internal/components"
	"github.com/solatis/patchwire/internal/core/api"
	"github.com/solatis/patchwire/internal/core/auth"
	"github.com/solatis/patchwire/internal/core/config"
	"github.com/solatis/patchwire/internal/core/db"
	"github.com/solatis/patchwire/internal/core/metrics"
	"github.com/solatis/patchwire/internal/core/stats"
)

const testSecretID = "0123456789abcdef0123456789abcdef"

func newHub(t *testing.T, cfg *config.HubServerConfig) *api.HubService {
	t.Helper()
	svc, err := api.NewHubService(api.Options{Config: cfg, Catalog: components.Catalog(), Stats: stats.NewMemoryStore()})
	require.NoError(t, err)
	return svc
}

func newAuthenticator(t *testing.T) *auth.Authenticator {
	t.Helper()
	ctx := context.Background()
	database, err := db.Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.MigrateUp(ctx, database))
	queries, err := db.LoadQueries(database)
	require.NoError(t, err)

	a, err := auth.NewAuthenticator(map[string][]byte{testSecretID: []byte(strings.Repeat("s", 32))}, queries, nil)
	require.NoError(t, err)
	return a
}

func TestNew_Validation(t *testing.T) {
	cfg := config.DefaultHubServerConfig()
	hub := newHub(t, cfg)

	_, err := New(Options{Hub: hub})
	assert.Error(t, err)
	_, err = New(Options{Config: cfg})
	assert.Error(t, err)
	_, err = New(Options{Config: cfg, Hub: hub})
	assert.ErrorContains(t, err, "require_auth")

	cfg.RequireAuth = false
	_, err = New(Options{Config: cfg, Hub: hub})
	assert.NoError(t, err)
}

func get(t *testing.T, url, token string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestRoutes(t *testing.T) {
	cfg := config.DefaultHubServerConfig()
	a := newAuthenticator(t)
	key, _, err := a.CreateKey(context.Background(), "admin", testSecretID)
	require.NoError(t, err)

	s, err := New(Options{Config: cfg, Hub: newHub(t, cfg), Authenticator: a, Metrics: metrics.New()})
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	tests := []struct {
		name     string
		path     string
		token    string
		want     int
		contains string
	}{
		{name: "health is public", path: "/healthz", want: http.StatusOK, contains: `"ok"`},
		{name: "metrics are public", path: "/metrics", want: http.StatusOK, contains: "patchwire_hub_active_connections"},
		{name: "hub requires a key", path: "/hub", want: http.StatusUnauthorized},
		{name: "admin requires a key", path: "/api/v1/stats", want: http.StatusUnauthorized},
		{name: "admin with key", path: "/api/v1/stats", token: key, want: http.StatusOK, contains: "[]"},
		{name: "sessions with key", path: "/api/v1/sessions", token: key, want: http.StatusOK},
		{name: "hub with key but no upgrade", path: "/hub", token: key, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := get(t, srv.URL+tt.path, tt.token)
			assert.Equal(t, tt.want, code, body)
			if tt.contains != "" {
				assert.Contains(t, body, tt.contains)
			}
		})
	}
}

func TestServeAndShutdown(t *testing.T) {
	cfg := config.DefaultHubServerConfig()
	cfg.RequireAuth = false
	s, err := New(Options{Config: cfg, Hub: newHub(t, cfg)})
	require.NoError(t, err)

	httpLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	grpcLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- s.Serve(httpLn, grpcLn) }()

	code, _ := get(t, "http://"+httpLn.Addr().String()+"/healthz", "")
	assert.Equal(t, http.StatusOK, code)

	conn, err := grpc.NewClient(grpcLn.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: HealthService})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.Status)

	require.NoError(t, s.Shutdown(ctx))
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
	assert.NoError(t, s.Shutdown(ctx), "second Shutdown is a no-op")
}
