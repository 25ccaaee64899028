package hub

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/solatis/patchwire/internal/protocol"
)

func push(target string, args ...string) protocol.Message {
	raw := make([]json.RawMessage, len(args))
	for i, a := range args {
		raw[i] = json.RawMessage(a)
	}
	return protocol.Message{Type: protocol.TypeInvocation, Target: target, Arguments: raw}
}

func TestDispatcher_OrderAndIsolation(t *testing.T) {
	var reported []error
	d := NewDispatcher(nil, func(_ string, err error) { reported = append(reported, err) })

	var calls []string
	d.Handle("ApplyPatches", func(args []json.RawMessage) error {
		calls = append(calls, "first:"+string(args[0]))
		return errors.New("first failed")
	})
	d.Handle("ApplyPatches", func([]json.RawMessage) error {
		calls = append(calls, "second")
		panic("boom")
	})
	d.Handle("applypatches", func([]json.RawMessage) error {
		calls = append(calls, "third")
		return nil
	})

	n := d.Dispatch(push("ApplyPatches", `"c1"`))
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{`first:"c1"`, "second", "third"}, calls)
	assert.Len(t, reported, 2)
}

func TestDispatcher_HandleOnce(t *testing.T) {
	d := NewDispatcher(nil, nil)
	count := 0
	d.HandleOnce("Notify", func([]json.RawMessage) error {
		count++
		return nil
	})

	assert.Equal(t, 1, d.Dispatch(push("Notify")))
	assert.Equal(t, 0, d.Dispatch(push("Notify")))
	assert.Equal(t, 1, count)
}

func TestDispatcher_Unsubscribe(t *testing.T) {
	d := NewDispatcher(nil, nil)
	count := 0
	off := d.Handle("Notify", func([]json.RawMessage) error {
		count++
		return nil
	})
	d.Dispatch(push("Notify"))
	off()
	d.Dispatch(push("Notify"))
	assert.Equal(t, 1, count)
}

func TestDispatcher_UnknownTarget(t *testing.T) {
	d := NewDispatcher(nil, nil)
	assert.Equal(t, 0, d.Dispatch(push("Nobody")))
}
