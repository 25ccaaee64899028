// Package server provides the hub's listener lifecycle: an HTTP router carrying the hub
// endpoint, the admin API, metrics and health, plus a gRPC health service on its own port.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/solatis/patchwire/internal/core/api"
	"github.com/solatis/patchwire/internal/core/auth"
	"github.com/solatis/patchwire/internal/core/config"
	"github.com/solatis/patchwire/internal/core/metrics"
)

// HealthService is the gRPC health service name the hub reports under, beside "".
const HealthService = "patchwire.Hub"

// Options configures a Server.
type Options struct {
	Config        *config.HubServerConfig
	Hub           *api.HubService
	Authenticator *auth.Authenticator
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

// Server manages the HTTP and gRPC listeners.
type Server struct {
	cfg      *config.HubServerConfig
	hub      *api.HubService
	logger   *slog.Logger
	router   chi.Router
	http     *http.Server
	grpc     *grpc.Server
	health   *health.Server
	stopping atomic.Bool
}

// New builds the router and the gRPC health server. An authenticator is required when
// require_auth is enabled; it guards the hub endpoint and the admin API.
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("cfg cannot be nil")
	}
	if opts.Hub == nil {
		return nil, fmt.Errorf("hub cannot be nil")
	}
	if opts.Config.RequireAuth && opts.Authenticator == nil {
		return nil, fmt.Errorf("authenticator cannot be nil when require_auth is enabled")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    opts.Config,
		hub:    opts.Hub,
		logger: logger,
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", opts.Metrics.Handler())
	r.Group(func(r chi.Router) {
		if opts.Config.RequireAuth {
			r.Use(opts.Authenticator.Middleware)
		}
		r.Handle(opts.Config.Path, opts.Hub)
		r.Route("/api/v1", opts.Hub.RegisterHTTP)
	})
	s.router = r
	s.http = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpc_health_v1.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(HealthService, grpc_health_v1.HealthCheckResponse_SERVING)
	return s, nil
}

// Handler returns the HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.stopping.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"stopping"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// Start binds the configured addresses and serves until Shutdown. A grpc_port of 0
// disables the gRPC listener.
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	httpLn, err := lc.Listen(ctx, "tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.cfg.Addr(), err)
	}

	var grpcLn net.Listener
	if s.cfg.GRPCPort > 0 {
		grpcLn, err = lc.Listen(ctx, "tcp", s.cfg.GRPCAddr())
		if err != nil {
			httpLn.Close()
			return fmt.Errorf("failed to bind %s: %w", s.cfg.GRPCAddr(), err)
		}
	}
	return s.Serve(httpLn, grpcLn)
}

// Serve serves on already bound listeners; grpcLn may be nil. It returns nil after
// Shutdown, or the first listener error.
func (s *Server) Serve(httpLn, grpcLn net.Listener) error {
	errs := make(chan error, 2)
	n := 1
	go func() {
		s.logger.Info("hub listening", "addr", httpLn.Addr().String(), "path", s.cfg.Path)
		err := s.http.Serve(httpLn)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errs <- err
	}()
	if grpcLn != nil {
		n++
		go func() {
			s.logger.Info("grpc health listening", "addr", grpcLn.Addr().String())
			errs <- s.grpc.Serve(grpcLn)
		}()
	}

	var first error
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil && first == nil {
			first = err
			if !s.stopping.Load() {
				// One listener failed; bring the other down with it.
				go func() { _ = s.Shutdown(context.Background()) }()
			}
		}
	}
	return first
}

// Shutdown reports NOT_SERVING, closes hub sessions, and stops both listeners, forcing
// them closed if ctx ends first.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.stopping.CompareAndSwap(false, true) {
		return nil
	}
	s.health.Shutdown()

	var errs []error
	if err := s.hub.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		_ = s.http.Close()
	}

	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpc.Stop()
		errs = append(errs, fmt.Errorf("grpc shutdown cancelled by context: %w", ctx.Err()))
	}
	return errors.Join(errs...)
}
