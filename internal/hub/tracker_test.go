package hub

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/patchwire/internal/protocol"
	"github.com/solatis/patchwire/internal/types"
)

// recordingSender captures sent messages and optionally reacts to them.
type recordingSender struct {
	mu     sync.Mutex
	sent   []protocol.Message
	err    error
	onSend func(m protocol.Message)
}

func (s *recordingSender) Send(m protocol.Message) error {
	s.mu.Lock()
	s.sent = append(s.sent, m)
	err, fn := s.err, s.onSend
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if fn != nil {
		go fn(m)
	}
	return nil
}

func (s *recordingSender) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	for i, m := range s.sent {
		out[i] = m.InvocationID
	}
	return out
}

func TestTracker_Completion(t *testing.T) {
	sender := &recordingSender{}
	tracker := NewTracker(sender, time.Second, nil)
	sender.onSend = func(m protocol.Message) {
		tracker.Complete(protocol.Message{Type: protocol.TypeCompletion, InvocationID: m.InvocationID, Result: json.RawMessage(`{"ok":true}`)})
	}

	result, err := tracker.Invoke(context.Background(), "Echo", "a", 1)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(result))
	assert.Equal(t, 0, tracker.Pending())

	sent := sender.sent[0]
	assert.Equal(t, "Echo", sent.Target)
	require.Len(t, sent.Arguments, 2)
	assert.JSONEq(t, `"a"`, string(sent.Arguments[0]))
}

func TestTracker_CompletionError(t *testing.T) {
	sender := &recordingSender{}
	tracker := NewTracker(sender, time.Second, nil)
	sender.onSend = func(m protocol.Message) {
		tracker.Complete(protocol.NewCompletionError(m.InvocationID, "component not found"))
	}

	_, err := tracker.Invoke(context.Background(), "UpdateComponentState")
	var invErr *types.InvocationError
	require.True(t, errors.As(err, &invErr))
	assert.Equal(t, "UpdateComponentState", invErr.Target)
	assert.Equal(t, "component not found", invErr.Message)
}

func TestTracker_TimeoutRejectsExactlyOnce(t *testing.T) {
	sender := &recordingSender{}
	tracker := NewTracker(sender, 20*time.Millisecond, nil)

	_, err := tracker.Invoke(context.Background(), "Slow")
	assert.ErrorIs(t, err, types.ErrTimeout)
	assert.Equal(t, 0, tracker.Pending())

	// A completion arriving after the deadline finds nothing.
	late := tracker.Complete(protocol.Message{Type: protocol.TypeCompletion, InvocationID: sender.ids()[0]})
	assert.False(t, late)
	assert.Equal(t, 0, tracker.RejectAll(types.ErrConnectionClosed))
}

func TestTracker_RejectAll(t *testing.T) {
	sender := &recordingSender{}
	tracker := NewTracker(sender, time.Minute, nil)

	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, err := tracker.Invoke(context.Background(), "Wait")
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return tracker.Pending() == 3 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, 3, tracker.RejectAll(types.ErrConnectionClosed))
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, <-errs, types.ErrConnectionClosed)
	}
}

func TestTracker_ContextCancel(t *testing.T) {
	tracker := NewTracker(&recordingSender{}, time.Minute, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := tracker.Invoke(ctx, "Wait")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, tracker.Pending())
}

func TestTracker_SendFailure(t *testing.T) {
	tracker := NewTracker(&recordingSender{err: types.ErrNotConnected}, time.Minute, nil)
	_, err := tracker.Invoke(context.Background(), "X")
	assert.ErrorIs(t, err, types.ErrNotConnected)
	assert.Equal(t, 0, tracker.Pending())
}

// Property-based test: invocation ids strictly increase and are never reused
func TestTracker_PropertyIDsIncrease(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25
	properties := gopter.NewProperties(parameters)

	properties.Property("ids are strictly increasing", prop.ForAll(
		func(n int, rejectAt int) bool {
			sender := &recordingSender{}
			tracker := NewTracker(sender, time.Second, nil)
			sender.onSend = func(m protocol.Message) {
				tracker.Complete(protocol.Message{Type: protocol.TypeCompletion, InvocationID: m.InvocationID})
			}
			for i := 0; i < n; i++ {
				if i == rejectAt {
					// A connection loss in between must not reset numbering.
					tracker.RejectAll(types.ErrConnectionClosed)
				}
				if _, err := tracker.Invoke(context.Background(), "Tick"); err != nil {
					return false
				}
			}
			prev := uint64(0)
			for _, id := range sender.ids() {
				cur, err := strconv.ParseUint(id, 10, 64)
				if err != nil || cur <= prev {
					return false
				}
				prev = cur
			}
			return true
		},
		gen.IntRange(1, 40),
		gen.IntRange(0, 40),
	))

	properties.TestingRun(t)
}
