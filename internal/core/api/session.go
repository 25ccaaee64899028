package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/solatis/patchwire/internal/component"
	"github.com/solatis/patchwire/internal/core/auth"
	"github.com/solatis/patchwire/internal/protocol"
	"github.com/solatis/patchwire/internal/types"
	"github.com/solatis/patchwire/internal/vdom"
)

const (
	handshakeTimeout = 15 * time.Second
	writeWait        = 10 * time.Second
)

// Session is one client websocket and the component instances registered over it.
//
// Frames are read on a single goroutine and invocations run on it in receipt order. mu is
// held from the moment a method touches component state until its output is written, so
// the patches a client receives for a component always follow the server's tree history.
type Session struct {
	id          types.SessionID
	svc         *HubService
	conn        *websocket.Conn
	identity    auth.Identity
	logger      *slog.Logger
	connectedAt time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	writeMu sync.Mutex

	mu         sync.Mutex
	components map[types.ComponentID]*instance
}

// instance is the server's authoritative copy of one component.
type instance struct {
	typ    string
	render component.RenderFunc
	state  component.State
	tree   vdom.Node
}

func newSession(svc *HubService, conn *websocket.Conn, identity auth.Identity) *Session {
	id := types.NewSessionID()
	ctx, cancel := context.WithCancel(context.Background())
	logger := svc.logger.With("session_id", id)
	if identity.Name != "" {
		logger = logger.With("api_key", identity.Name)
	}
	return &Session{
		id:          id,
		svc:         svc,
		conn:        conn,
		identity:    identity,
		logger:      logger,
		connectedAt: time.Now().UTC(),
		ctx:         ctx,
		cancel:      cancel,
		components:  make(map[types.ComponentID]*instance),
	}
}

// ID returns the session id.
func (s *Session) ID() types.SessionID {
	return s.id
}

// handshake reads the client handshake and answers it. Frames that arrived in the same
// message are returned as leftover.
func (s *Session) handshake() ([]byte, error) {
	_ = s.conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrHandshakeFailed, err)
	}

	frames := protocol.Split(data)
	if len(frames) == 0 {
		_ = s.writeRaw(protocol.EncodeHandshakeResponse("empty handshake"))
		return nil, fmt.Errorf("%w: empty handshake", types.ErrHandshakeFailed)
	}
	if _, err := protocol.ParseHandshakeRequest(frames[0]); err != nil {
		_ = s.writeRaw(protocol.EncodeHandshakeResponse(err.Error()))
		return nil, err
	}
	if err := s.writeRaw(protocol.EncodeHandshakeResponse("")); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrHandshakeFailed, err)
	}
	_ = s.conn.SetReadDeadline(time.Time{})

	var leftover []byte
	for _, f := range frames[1:] {
		leftover = append(leftover, f...)
		leftover = append(leftover, protocol.RecordSeparator)
	}
	return leftover, nil
}

// serve reads frames until the socket fails or the client closes, then releases the
// session's components.
func (s *Session) serve(leftover []byte) {
	defer s.close("")

	if s.svc.cfg.KeepAliveInterval > 0 {
		go s.keepAlive()
	}
	if len(leftover) > 0 && s.handle(leftover) {
		return
	}
	for {
		if s.svc.cfg.ClientTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.svc.cfg.ClientTimeout))
		}
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("session read failed", "error", err)
			}
			return
		}
		if mt != websocket.TextMessage {
			s.logger.Warn("dropping non-text message", "message_type", mt)
			continue
		}
		if s.handle(data) {
			return
		}
	}
}

// handle routes the frames of one transport message. It reports true when the client
// sent a Close frame.
func (s *Session) handle(data []byte) bool {
	msgs, errs := protocol.DecodeAll(data)
	for _, err := range errs {
		s.logger.Warn("dropping malformed frame", "error", err)
	}
	for _, m := range msgs {
		switch m.Type {
		case protocol.TypeInvocation:
			s.invoke(m)
		case protocol.TypePing:
			// Not echoed: the client answers server pings, so echoing here would loop.
			// Arrival alone refreshes the read deadline.
		case protocol.TypeCompletion:
			s.logger.Debug("ignoring unsolicited completion", "invocation_id", m.InvocationID)
		case protocol.TypeClose:
			s.logger.Debug("client sent close", "error", m.Error)
			return true
		}
	}
	return false
}

// invoke runs one hub method and answers with a Completion unless the invocation is
// fire-and-forget.
func (s *Session) invoke(m protocol.Message) {
	start := time.Now()
	fn, known := s.svc.methods[m.Target]
	label := m.Target
	if !known {
		label = "unknown"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		result any
		err    error
	)
	if known {
		ctx, cancel := context.WithTimeout(s.ctx, s.svc.cfg.InvocationTimeout)
		result, err = call(ctx, fn, s, m.Arguments)
		cancel()
	} else {
		err = fmt.Errorf("%w: %s", ErrUnknownMethod, m.Target)
	}
	s.svc.metrics.ObserveInvocation(label, time.Since(start), err)

	log := s.logger.With("target", m.Target, "invocation_id", m.InvocationID)
	if err != nil {
		log.Warn("invocation failed", "error", err)
	} else {
		log.Debug("invocation handled", "elapsed", time.Since(start))
	}
	if m.InvocationID == "" {
		return
	}

	var reply protocol.Message
	if err != nil {
		reply = protocol.NewCompletionError(m.InvocationID, err.Error())
	} else if reply, err = protocol.NewCompletion(m.InvocationID, result); err != nil {
		reply = protocol.NewCompletionError(m.InvocationID, err.Error())
	}
	err = s.send(reply)
	if errors.Is(err, types.ErrFrameTooLarge) {
		err = s.send(protocol.NewCompletionError(m.InvocationID, err.Error()))
	}
	if err != nil {
		log.Debug("completion not delivered", "error", err)
	}
}

func call(ctx context.Context, fn method, s *Session, args []json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("method panic: %v", r)
		}
	}()
	return fn(ctx, s, args)
}

// setState changes one state key outside any client interaction and pushes the resulting
// patches. State is committed only once the push is written.
func (s *Session) setState(id types.ComponentID, key string, value json.RawMessage) ([]vdom.Patch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.components[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownComponent, id)
	}
	start := time.Now()
	next := inst.state.With(key, value)
	after, err := renderTree(inst.render, next)
	if err != nil {
		return nil, err
	}
	ops := vdom.Diff(inst.tree, after)
	if len(ops) > 0 {
		changed := map[string]json.RawMessage{key: value}
		msg, err := protocol.NewInvocation("", protocol.MethodApplyPatches, id, ops, changed)
		if err != nil {
			return nil, err
		}
		if err := s.send(msg); err != nil {
			return nil, fmt.Errorf("push %s: %w", id, err)
		}
	}
	inst.state, inst.tree = next, after
	s.svc.metrics.ObserveReconcile(time.Since(start), len(ops), sourcePush)
	s.logger.Debug("pushed patches", "component_id", id, "key", key, "patches", len(ops))
	return ops, nil
}

func (s *Session) info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	comps := make([]ComponentInfo, 0, len(s.components))
	for id, inst := range s.components {
		comps = append(comps, ComponentInfo{ID: id, Type: inst.typ, Hash: vdom.Hash(inst.tree)})
	}
	sort.Slice(comps, func(i, j int) bool { return comps[i].ID < comps[j].ID })
	return SessionInfo{
		ID:          s.id,
		KeyName:     s.identity.Name,
		ConnectedAt: s.connectedAt,
		Components:  comps,
	}
}

func (s *Session) keepAlive() {
	ticker := time.NewTicker(s.svc.cfg.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.send(protocol.Message{Type: protocol.TypePing}); err != nil {
				s.logger.Debug("keep-alive ping failed", "error", err)
				return
			}
		}
	}
}

// send encodes m and writes it as one text message.
func (s *Session) send(m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	return s.writeRaw(data)
}

func (s *Session) writeRaw(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// close ends the session once. A non-empty reason is sent to the client in a Close frame
// that allows reconnecting. Component instances are released after the socket closes.
func (s *Session) close(reason string) {
	s.closeOnce.Do(func() {
		s.cancel()
		if reason != "" {
			_ = s.send(protocol.Message{Type: protocol.TypeClose, Error: reason, AllowReconnect: true})
		}
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()

		s.mu.Lock()
		n := len(s.components)
		s.components = make(map[types.ComponentID]*instance)
		s.mu.Unlock()
		s.svc.metrics.ComponentDisposed(n)
	})
}
