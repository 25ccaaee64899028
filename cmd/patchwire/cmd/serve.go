package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/solatis/patchwire/internal/components"
	"github.com/solatis/patchwire/internal/core/api"
	"github.com/solatis/patchwire/internal/core/auth"
	"github.com/solatis/patchwire/internal/core/config"
	"github.com/solatis/patchwire/internal/core/db"
	"github.com/solatis/patchwire/internal/core/metrics"
	"github.com/solatis/patchwire/internal/core/server"
	"github.com/solatis/patchwire/internal/core/stats"
)

const shutdownTimeout = 30 * time.Second

var (
	serveHost     string
	servePort     int
	serveGRPCPort int
	serveNoAuth   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the hub server",
	Long: `Run the hub server: the websocket hub, the /api/v1 admin endpoints, /healthz and
/metrics on the HTTP port, and the gRPC health service on the gRPC port.

Prediction stats are kept in the database when one is configured and in memory otherwise.
API key authentication (the default) requires a database and PW_HMAC_SECRET.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (overrides hub_server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "HTTP port (overrides hub_server.port)")
	serveCmd.Flags().IntVar(&serveGRPCPort, "grpc-port", -1, "gRPC health port, 0 disables (overrides hub_server.grpc_port)")
	serveCmd.Flags().BoolVar(&serveNoAuth, "no-auth", false, "accept connections without an API key")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	srvCfg := cfg.Server
	if serveHost != "" {
		srvCfg.Host = serveHost
	}
	if servePort != 0 {
		srvCfg.Port = servePort
	}
	if serveGRPCPort >= 0 {
		srvCfg.GRPCPort = serveGRPCPort
	}
	if serveNoAuth {
		srvCfg.RequireAuth = false
	}

	var database *sqlx.DB
	if cfg.DatabaseURL != "" {
		database, err = openDatabase(ctx, cfg)
		if err != nil {
			return err
		}
		defer database.Close()
		if err := db.RequireMigrated(ctx, database); err != nil {
			return fmt.Errorf("%w (run `patchwire migrate`)", err)
		}
	}

	store, authenticator, err := newBackends(database, srvCfg)
	if err != nil {
		return err
	}

	m := metrics.New()
	hub, err := api.NewHubService(api.Options{
		Config:  srvCfg,
		Catalog: components.Catalog(),
		Stats:   store,
		Metrics: m,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	srv, err := server.New(server.Options{
		Config:        srvCfg,
		Hub:           hub,
		Authenticator: authenticator,
		Metrics:       m,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	logger.Info("starting patchwire",
		"version", Version,
		"addr", srvCfg.Addr(),
		"path", srvCfg.Path,
		"grpc_port", srvCfg.GRPCPort,
		"require_auth", srvCfg.RequireAuth,
		"persistent_stats", database != nil,
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	logger.Info("stopped")
	return nil
}

// newBackends picks the stats store and, when authentication is required, the API key
// authenticator. database may be nil.
func newBackends(database *sqlx.DB, cfg *config.HubServerConfig) (stats.Store, *auth.Authenticator, error) {
	if database == nil {
		if cfg.RequireAuth {
			return nil, nil, errors.New("require_auth needs a database for API keys (set --db-url or pass --no-auth)")
		}
		return stats.NewMemoryStore(), nil, nil
	}

	queries, err := db.LoadQueries(database)
	if err != nil {
		return nil, nil, err
	}
	store, err := stats.NewSQLStore(queries)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.RequireAuth {
		return store, nil, nil
	}

	secrets, err := config.HMACSecrets()
	if err != nil {
		return nil, nil, err
	}
	if len(secrets) == 0 {
		return nil, nil, errors.New("HMAC secrets not configured (set PW_HMAC_SECRET or pass --no-auth)")
	}
	authenticator, err := auth.NewAuthenticator(secrets, queries, logger)
	if err != nil {
		return nil, nil, err
	}
	return store, authenticator, nil
}
