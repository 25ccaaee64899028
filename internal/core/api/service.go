// Package api implements the server side of the hub: one Session per websocket holding the
// component instances its client registered, and the hub methods the client invokes on
// them.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/solatis/patchwire/internal/component"
	"github.com/solatis/patchwire/internal/core/auth"
	"github.com/solatis/patchwire/internal/core/config"
	"github.com/solatis/patchwire/internal/core/metrics"
	"github.com/solatis/patchwire/internal/core/stats"
	"github.com/solatis/patchwire/internal/protocol"
	"github.com/solatis/patchwire/internal/types"
)

// Options configures a HubService.
type Options struct {
	Config  *config.HubServerConfig
	Catalog *component.Catalog
	Stats   stats.Store
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// HubService accepts hub websockets and owns their sessions.
type HubService struct {
	cfg      *config.HubServerConfig
	catalog  *component.Catalog
	stats    stats.Store
	metrics  *metrics.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader
	methods  map[string]method

	mu       sync.Mutex
	sessions map[types.SessionID]*Session
	closing  bool
	wg       sync.WaitGroup
}

// NewHubService creates a service with dependencies.
func NewHubService(opts Options) (*HubService, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("cfg cannot be nil")
	}
	if opts.Catalog == nil {
		return nil, fmt.Errorf("catalog cannot be nil")
	}
	if opts.Stats == nil {
		return nil, fmt.Errorf("stats cannot be nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &HubService{
		cfg:     opts.Config,
		catalog: opts.Catalog,
		stats:   opts.Stats,
		metrics: opts.Metrics,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Clients authenticate with API keys, not cookies, so any origin may connect.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sessions: make(map[types.SessionID]*Session),
	}
	s.methods = map[string]method{
		protocol.MethodRegisterComponent:    s.registerComponent,
		protocol.MethodUpdateComponentState: s.updateComponentState,
		protocol.MethodRequestPrediction:    s.requestPrediction,
		protocol.MethodDisposeComponent:     s.disposeComponent,
	}
	return s, nil
}

// ServeHTTP upgrades the request and serves one session until the socket closes.
func (s *HubService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		http.Error(w, ErrShuttingDown.Error(), http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered with an HTTP error.
		s.logger.Debug("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(s.cfg.MaxMessageSize)

	identity, _ := auth.IdentityFromContext(r.Context())
	sess := newSession(s, conn, identity)
	leftover, err := sess.handshake()
	if err != nil {
		sess.logger.Warn("handshake failed", "remote_addr", r.RemoteAddr, "error", err)
		sess.close("")
		return
	}

	if !s.add(sess) {
		sess.close(ErrShuttingDown.Error())
		return
	}
	defer s.remove(sess)

	sess.logger.Info("session opened", "remote_addr", r.RemoteAddr)
	sess.serve(leftover)
	sess.logger.Info("session closed", "duration", time.Since(sess.connectedAt).Round(time.Millisecond))
}

func (s *HubService) add(sess *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.sessions[sess.id] = sess
	s.metrics.ConnectionOpened()
	return true
}

func (s *HubService) remove(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
	s.metrics.ConnectionClosed()
}

func (s *HubService) session(id types.SessionID) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

// SessionInfo describes one open session.
type SessionInfo struct {
	ID          types.SessionID `json:"id"`
	KeyName     string          `json:"keyName,omitempty"`
	ConnectedAt time.Time       `json:"connectedAt"`
	Components  []ComponentInfo `json:"components"`
}

// ComponentInfo describes one component instance of a session.
type ComponentInfo struct {
	ID   types.ComponentID `json:"id"`
	Type string            `json:"type"`
	Hash string            `json:"hash"`
}

// Sessions lists open sessions, oldest first.
func (s *HubService) Sessions() []SessionInfo {
	s.mu.Lock()
	snapshot := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		snapshot = append(snapshot, sess)
	}
	s.mu.Unlock()

	out := make([]SessionInfo, 0, len(snapshot))
	for _, sess := range snapshot {
		out = append(out, sess.info())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ConnectedAt.Before(out[j].ConnectedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Shutdown refuses new sessions, tells every open session to go away, and waits for their
// handlers to return.
func (s *HubService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	snapshot := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		snapshot = append(snapshot, sess)
	}
	s.mu.Unlock()

	for _, sess := range snapshot {
		sess.close(ErrShuttingDown.Error())
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("hub shutdown: %w", ctx.Err())
	}
}
