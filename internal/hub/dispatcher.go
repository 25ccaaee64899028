package hub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/solatis/patchwire/internal/protocol"
)

// Handler receives the raw arguments of a server push.
type Handler func(args []json.RawMessage) error

type handlerEntry struct {
	fn   Handler
	once bool
}

// Dispatcher routes inbound Invocations to handlers registered per method name.
// Method names match case-insensitively.
type Dispatcher struct {
	logger  *slog.Logger
	onError func(target string, err error)

	mu       sync.Mutex
	handlers map[string][]*handlerEntry
}

// NewDispatcher creates a dispatcher. onError, when set, receives handler failures.
func NewDispatcher(logger *slog.Logger, onError func(target string, err error)) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		logger:   logger,
		onError:  onError,
		handlers: make(map[string][]*handlerEntry),
	}
}

// Handle registers fn for target and returns a function that unregisters it.
func (d *Dispatcher) Handle(target string, fn Handler) func() {
	return d.add(target, &handlerEntry{fn: fn})
}

// HandleOnce registers fn for the next push of target only.
func (d *Dispatcher) HandleOnce(target string, fn Handler) func() {
	return d.add(target, &handlerEntry{fn: fn, once: true})
}

func (d *Dispatcher) add(target string, e *handlerEntry) func() {
	key := strings.ToLower(target)
	d.mu.Lock()
	d.handlers[key] = append(d.handlers[key], e)
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		list := d.handlers[key]
		for i, cur := range list {
			if cur == e {
				d.handlers[key] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(d.handlers[key]) == 0 {
			delete(d.handlers, key)
		}
	}
}

// Dispatch runs every handler for m.Target in registration order. A failing or panicking
// handler is reported and does not stop the rest. Returns the number of handlers run.
func (d *Dispatcher) Dispatch(m protocol.Message) int {
	key := strings.ToLower(m.Target)

	d.mu.Lock()
	list := d.handlers[key]
	snapshot := make([]*handlerEntry, len(list))
	copy(snapshot, list)
	if len(list) > 0 {
		kept := list[:0:0]
		for _, e := range list {
			if !e.once {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(d.handlers, key)
		} else {
			d.handlers[key] = kept
		}
	}
	d.mu.Unlock()

	if len(snapshot) == 0 {
		d.logger.Warn("no handler for server invocation", "target", m.Target)
		return 0
	}
	for _, e := range snapshot {
		if err := d.call(e.fn, m.Arguments); err != nil {
			d.logger.Error("handler failed", "target", m.Target, "error", err)
			if d.onError != nil {
				d.onError(m.Target, err)
			}
		}
	}
	return len(snapshot)
}

func (d *Dispatcher) call(fn Handler, args []json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return fn(args)
}
