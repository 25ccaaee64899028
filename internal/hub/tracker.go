package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/solatis/patchwire/internal/protocol"
	"github.com/solatis/patchwire/internal/types"
)

// Sender transmits one encoded hub message.
type Sender interface {
	Send(m protocol.Message) error
}

// pending is one invocation awaiting its Completion.
type pending struct {
	target string
	result chan outcome
	timer  *time.Timer
}

type outcome struct {
	result json.RawMessage
	err    error
}

// Tracker correlates Invocations with Completions.
//
// Every pending entry leaves the map exactly once, through whichever of completion,
// timeout, cancellation, or RejectAll happens first; later arrivals for the same id find
// nothing and are ignored.
type Tracker struct {
	sender  Sender
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	nextID  uint64
	pending map[string]*pending
}

// NewTracker creates a tracker sending through sender. timeout <= 0 disables deadlines.
func NewTracker(sender Sender, timeout time.Duration, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		sender:  sender,
		timeout: timeout,
		logger:  logger,
		pending: make(map[string]*pending),
	}
}

// Invoke sends target(args...) and blocks until its Completion arrives, the invocation
// timeout elapses (types.ErrTimeout), ctx is done, or the connection drops
// (types.ErrConnectionClosed). A Completion carrying an error yields *types.InvocationError.
func (t *Tracker) Invoke(ctx context.Context, target string, args ...any) (json.RawMessage, error) {
	raw, err := protocol.EncodeArguments(args...)
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", target, err)
	}

	t.mu.Lock()
	t.nextID++
	id := strconv.FormatUint(t.nextID, 10)
	p := &pending{target: target, result: make(chan outcome, 1)}
	t.pending[id] = p
	if t.timeout > 0 {
		p.timer = time.AfterFunc(t.timeout, func() {
			if t.resolve(id, func(*pending) outcome {
				return outcome{err: fmt.Errorf("invoke %s: %w", target, types.ErrTimeout)}
			}) {
				t.logger.Warn("invocation timed out", "invocation_id", id, "target", target, "timeout", t.timeout)
			}
		})
	}
	t.mu.Unlock()

	msg := protocol.Message{Type: protocol.TypeInvocation, InvocationID: id, Target: target, Arguments: raw}
	if err := t.sender.Send(msg); err != nil {
		t.drop(id)
		return nil, fmt.Errorf("invoke %s: %w", target, err)
	}

	select {
	case out := <-p.result:
		return out.result, out.err
	case <-ctx.Done():
		t.drop(id)
		return nil, ctx.Err()
	}
}

// Complete resolves the pending invocation named by a Completion frame. It reports false
// for ids that are unknown or already resolved.
func (t *Tracker) Complete(m protocol.Message) bool {
	ok := t.resolve(m.InvocationID, func(p *pending) outcome {
		if m.Error != "" {
			return outcome{err: &types.InvocationError{Target: p.target, Message: m.Error}}
		}
		return outcome{result: m.Result}
	})
	if !ok {
		t.logger.Debug("ignoring completion for unknown invocation", "invocation_id", m.InvocationID)
	}
	return ok
}

// RejectAll fails every pending invocation with err and returns how many there were.
func (t *Tracker) RejectAll(err error) int {
	t.mu.Lock()
	drained := t.pending
	t.pending = make(map[string]*pending)
	t.mu.Unlock()

	for _, p := range drained {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.result <- outcome{err: fmt.Errorf("invoke %s: %w", p.target, err)}
	}
	return len(drained)
}

// Pending returns the number of outstanding invocations.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// resolve removes id and delivers the outcome built by fn. Only the first caller for an
// id wins; the result channel has room for exactly that one delivery.
func (t *Tracker) resolve(id string, fn func(*pending) outcome) bool {
	t.mu.Lock()
	p, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.result <- fn(p)
	return true
}

func (t *Tracker) drop(id string) {
	t.mu.Lock()
	p, ok := t.pending[id]
	delete(t.pending, id)
	t.mu.Unlock()
	if ok && p.timer != nil {
		p.timer.Stop()
	}
}
