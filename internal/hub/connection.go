// Package hub is the client side of the hub transport: one websocket Connection driving
// the connection state machine, a Tracker correlating invocations with completions, and a
// Dispatcher routing server pushes to handlers.
//
// A single read goroutine per socket decodes frames and hands them, in receipt order, to
// the Tracker (Completions) and the Dispatcher (Invocations). Handlers therefore must not
// block on Invoke; the reconciliation coordinator only enqueues work from them.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/solatis/patchwire/internal/protocol"
	"github.com/solatis/patchwire/internal/retry"
	"github.com/solatis/patchwire/internal/types"
)

// State is the connection lifecycle state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Reconnecting:
		return "Reconnecting"
	}
	return "Disconnected"
}

// EventKind names a lifecycle event.
type EventKind string

const (
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
	EventReconnecting EventKind = "reconnecting"
	EventReconnected  EventKind = "reconnected"
	EventError        EventKind = "error"
)

// Event is delivered to lifecycle listeners. Err carries the cause for disconnected,
// reconnecting and error events when one is known.
type Event struct {
	Kind EventKind
	Err  error
}

// Defaults applied by NewConnection to zero Options fields.
const (
	DefaultConnectionTimeout = 15 * time.Second
	DefaultInvocationTimeout = 30 * time.Second

	writeWait = 10 * time.Second
)

// Options configures a Connection. A zero KeepAliveInterval or ServerTimeout disables
// keep-alive pings or the server silence check.
type Options struct {
	URL               string
	Token             string
	ReconnectPolicy   retry.Policy
	ConnectionTimeout time.Duration
	InvocationTimeout time.Duration
	KeepAliveInterval time.Duration
	ServerTimeout     time.Duration
	DebugLogging      bool
	Logger            *slog.Logger
	Dialer            *websocket.Dialer
}

// Connection owns one hub websocket and its reconnect loop.
type Connection struct {
	opts       Options
	logger     *slog.Logger
	dialer     *websocket.Dialer
	tracker    *Tracker
	dispatcher *Dispatcher

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	attempt int
	cancel  context.CancelFunc
	done    chan struct{}

	writeMu sync.Mutex

	eventsMu  sync.RWMutex
	listeners map[EventKind][]func(Event)
}

// NewConnection creates a Disconnected connection.
func NewConnection(opts Options) (*Connection, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("url cannot be empty")
	}
	if opts.ReconnectPolicy == nil {
		opts.ReconnectPolicy = retry.Exponential()
	}
	if opts.ConnectionTimeout <= 0 {
		opts.ConnectionTimeout = DefaultConnectionTimeout
	}
	if opts.InvocationTimeout <= 0 {
		opts.InvocationTimeout = DefaultInvocationTimeout
	}
	if opts.KeepAliveInterval < 0 {
		opts.KeepAliveInterval = 0
	}
	if opts.ServerTimeout < 0 {
		opts.ServerTimeout = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("hub_url", opts.URL)

	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.ConnectionTimeout,
		}
	}

	c := &Connection{
		opts:      opts,
		logger:    logger,
		dialer:    dialer,
		listeners: make(map[EventKind][]func(Event)),
	}
	c.tracker = NewTracker(c, opts.InvocationTimeout, logger)
	c.dispatcher = NewDispatcher(logger, func(target string, err error) {
		c.emit(Event{Kind: EventError, Err: fmt.Errorf("handler %s: %w", target, err)})
	})
	return c, nil
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnEvent registers fn for events of kind. Listeners run synchronously on the goroutine
// performing the transition.
func (c *Connection) OnEvent(kind EventKind, fn func(Event)) {
	c.eventsMu.Lock()
	defer c.eventsMu.Unlock()
	c.listeners[kind] = append(c.listeners[kind], fn)
}

func (c *Connection) emit(ev Event) {
	c.eventsMu.RLock()
	list := append([]func(Event){}, c.listeners[ev.Kind]...)
	c.eventsMu.RUnlock()
	for _, fn := range list {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("event listener panic", "event", ev.Kind, "panic", r)
				}
			}()
			fn(ev)
		}()
	}
}

// Handle registers a handler for server pushes of target.
func (c *Connection) Handle(target string, fn Handler) func() {
	return c.dispatcher.Handle(target, fn)
}

// HandleOnce registers a handler for the next server push of target.
func (c *Connection) HandleOnce(target string, fn Handler) func() {
	return c.dispatcher.HandleOnce(target, fn)
}

// Invoke calls target on the server and waits for its result.
func (c *Connection) Invoke(ctx context.Context, target string, args ...any) (json.RawMessage, error) {
	return c.tracker.Invoke(ctx, target, args...)
}

// SendFireAndForget sends an Invocation without an id; no Completion is expected.
func (c *Connection) SendFireAndForget(target string, args ...any) error {
	m, err := protocol.NewInvocation("", target, args...)
	if err != nil {
		return err
	}
	return c.Send(m)
}

// Start dials the hub and performs the handshake. It fails with types.ErrInvalidState
// unless the connection is Disconnected; a failed first connect returns to Disconnected.
func (c *Connection) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Disconnected {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: start while %s", types.ErrInvalidState, state)
	}
	c.state = Connecting
	c.mu.Unlock()

	conn, leftover, err := c.dial(ctx)
	if err != nil {
		c.setState(Disconnected)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if c.state != Connecting {
		// Stop won the race.
		c.mu.Unlock()
		cancel()
		conn.Close()
		return types.ErrConnectionClosed
	}
	c.state = Connected
	c.conn = conn
	c.attempt = 0
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	c.logger.Info("hub connected")
	c.emit(Event{Kind: EventConnected})
	go c.run(runCtx, conn, leftover, done)
	return nil
}

// Stop closes the socket with a normal close, rejects pending invocations and returns to
// Disconnected. It waits for the read loop to exit or ctx to end.
func (c *Connection) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state == Disconnected {
		c.mu.Unlock()
		return nil
	}
	cancel, conn, done := c.cancel, c.conn, c.done
	c.state = Disconnected
	c.conn = nil
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.writeMu.Unlock()
		conn.Close()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	if n := c.tracker.RejectAll(types.ErrConnectionClosed); n > 0 {
		c.logger.Debug("rejected pending invocations on stop", "count", n)
	}
	c.logger.Info("hub stopped")
	c.emit(Event{Kind: EventDisconnected})
	return nil
}

// Send writes one message. It fails with types.ErrNotConnected unless Connected.
func (c *Connection) Send(m protocol.Message) error {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()
	if state != Connected || conn == nil {
		return types.ErrNotConnected
	}

	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	if c.opts.DebugLogging {
		c.logger.Info("frame out", "type", m.Type, "invocation_id", m.InvocationID, "target", m.Target, "bytes", len(data))
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", m.Type, err)
	}
	return nil
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// dial opens the socket and completes the handshake within ConnectionTimeout. Frames that
// arrived in the same message as the handshake response are returned as leftover.
func (c *Connection) dial(ctx context.Context) (*websocket.Conn, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.ConnectionTimeout)
	defer cancel()

	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.opts.URL, header)
	if err != nil {
		if resp != nil {
			return nil, nil, fmt.Errorf("dial %s: %w (status %d)", c.opts.URL, err, resp.StatusCode)
		}
		return nil, nil, fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}
	conn.SetReadLimit(types.MaxFrameSize)

	deadline, _ := ctx.Deadline()
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.SetReadDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, protocol.EncodeHandshakeRequest()); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("%w: %v", types.ErrHandshakeFailed, err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("%w: %v", types.ErrHandshakeFailed, err)
	}
	frames := protocol.Split(data)
	if len(frames) == 0 {
		conn.Close()
		return nil, nil, fmt.Errorf("%w: empty response", types.ErrHandshakeFailed)
	}
	if err := protocol.ParseHandshakeResponse(frames[0]); err != nil {
		conn.Close()
		return nil, nil, err
	}
	_ = conn.SetWriteDeadline(time.Time{})
	_ = conn.SetReadDeadline(time.Time{})

	var leftover []byte
	for _, f := range frames[1:] {
		leftover = append(leftover, f...)
		leftover = append(leftover, protocol.RecordSeparator)
	}
	return conn, leftover, nil
}

// run owns the socket until Stop or a terminal close.
func (c *Connection) run(ctx context.Context, conn *websocket.Conn, leftover []byte, done chan struct{}) {
	defer close(done)
	for {
		cause := c.serve(ctx, conn, leftover)
		leftover = nil
		conn.Close()

		// Pending invocations fail before any reconnect attempt starts.
		c.mu.Lock()
		stopped := ctx.Err() != nil
		if !stopped {
			c.conn = nil
		}
		c.mu.Unlock()
		if stopped {
			return
		}
		if n := c.tracker.RejectAll(types.ErrConnectionClosed); n > 0 {
			c.logger.Debug("rejected pending invocations", "count", n)
		}

		if isNormalClose(cause) {
			c.logger.Info("hub closed normally")
			c.finish(ctx, nil)
			return
		}
		var sc *ServerCloseError
		if errors.As(cause, &sc) && !sc.AllowReconnect {
			c.logger.Warn("hub closed the connection, reconnect not allowed", "error", cause)
			c.finish(ctx, cause)
			return
		}

		c.logger.Warn("hub connection lost", "error", cause)
		if !c.transition(ctx, Reconnecting) {
			return
		}
		c.emit(Event{Kind: EventReconnecting, Err: cause})

		next, nextLeftover := c.reconnect(ctx)
		if next == nil {
			if ctx.Err() == nil {
				c.logger.Warn("reconnect attempts exhausted", "error", cause)
				c.finish(ctx, cause)
			}
			return
		}

		c.mu.Lock()
		if ctx.Err() != nil {
			c.mu.Unlock()
			next.Close()
			return
		}
		c.state = Connected
		c.conn = next
		c.attempt = 0
		c.mu.Unlock()

		c.logger.Info("hub reconnected")
		c.emit(Event{Kind: EventReconnected})
		conn, leftover = next, nextLeftover
	}
}

// transition moves to s unless Stop has already taken over.
func (c *Connection) transition(ctx context.Context, s State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	c.state = s
	return true
}

// finish ends the run loop in Disconnected and emits disconnected.
func (c *Connection) finish(ctx context.Context, cause error) {
	if !c.transition(ctx, Disconnected) {
		return
	}
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()
	c.emit(Event{Kind: EventDisconnected, Err: cause})
}

// reconnect dials according to the retry policy. It returns nil when the policy stops or
// ctx ends.
func (c *Connection) reconnect(ctx context.Context) (*websocket.Conn, []byte) {
	for {
		c.mu.Lock()
		attempt := c.attempt
		c.mu.Unlock()

		delay, ok := c.opts.ReconnectPolicy.NextDelay(attempt)
		if !ok {
			return nil, nil
		}
		c.logger.Info("reconnecting", "attempt", attempt, "delay", delay)
		if err := retry.Wait(ctx, delay); err != nil {
			return nil, nil
		}

		c.mu.Lock()
		c.attempt++
		c.mu.Unlock()

		conn, leftover, err := c.dial(ctx)
		if err == nil {
			return conn, leftover
		}
		if ctx.Err() != nil {
			return nil, nil
		}
		c.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
	}
}

// serve reads until the socket fails or the server closes. The keep-alive writer runs
// alongside it.
func (c *Connection) serve(ctx context.Context, conn *websocket.Conn, leftover []byte) error {
	kaCtx, stopKeepAlive := context.WithCancel(ctx)
	defer stopKeepAlive()
	if c.opts.KeepAliveInterval > 0 {
		go c.keepAlive(kaCtx, conn)
	}

	if len(leftover) > 0 {
		if closed := c.handle(conn, leftover); closed != nil {
			return closed
		}
	}
	for {
		if c.opts.ServerTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(c.opts.ServerTimeout))
		}
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if mt != websocket.TextMessage {
			c.logger.Warn("dropping non-text message", "message_type", mt)
			continue
		}
		if closed := c.handle(conn, data); closed != nil {
			return closed
		}
	}
}

// handle decodes one transport message and routes its frames. It returns a non-nil
// error when a Close frame ends the connection.
func (c *Connection) handle(conn *websocket.Conn, data []byte) error {
	msgs, errs := protocol.DecodeAll(data)
	for _, err := range errs {
		c.logger.Warn("dropping malformed frame", "error", err)
	}
	for _, m := range msgs {
		if c.opts.DebugLogging {
			c.logger.Info("frame in", "type", m.Type, "invocation_id", m.InvocationID, "target", m.Target)
		}
		switch m.Type {
		case protocol.TypeCompletion:
			c.tracker.Complete(m)
		case protocol.TypeInvocation:
			c.dispatcher.Dispatch(m)
		case protocol.TypePing:
			c.writePing(conn)
		case protocol.TypeClose:
			return &ServerCloseError{Message: m.Error, AllowReconnect: m.AllowReconnect}
		}
	}
	return nil
}

func (c *Connection) keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.opts.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.writePing(conn); err != nil {
				c.logger.Debug("keep-alive ping failed", "error", err)
				return
			}
		}
	}
}

func (c *Connection) writePing(conn *websocket.Conn) error {
	data, _ := protocol.Encode(protocol.Message{Type: protocol.TypePing})
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// ServerCloseError reports a Close frame sent by the hub. A Close with an error reconnects
// only when AllowReconnect is set.
type ServerCloseError struct {
	Message        string
	AllowReconnect bool
}

func (e *ServerCloseError) Error() string {
	if e.Message == "" {
		return "server closed the connection"
	}
	return fmt.Sprintf("server closed the connection: %s", e.Message)
}

// isNormalClose reports whether err ends the connection without reconnecting: websocket
// close codes 1000 and 1001, or a hub Close frame without an error.
func isNormalClose(err error) bool {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway
	}
	var sc *ServerCloseError
	if errors.As(err, &sc) {
		return sc.Message == ""
	}
	return false
}
