package reconcile

import (
	"fmt"
	"sync"

	"github.com/solatis/patchwire/internal/vdom"
)

// Sink is the host's live DOM. ApplyMutations receives each accepted patch list in order
// and must accept an empty list. It must apply a list whole or not at all: when it
// returns an error the Applier assumes the live DOM is unchanged.
type Sink interface {
	ApplyMutations(ops []vdom.Patch) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ops []vdom.Patch) error

// ApplyMutations calls f(ops).
func (f SinkFunc) ApplyMutations(ops []vdom.Patch) error { return f(ops) }

// Applier is the only writer of a component's live tree. It keeps a shadow copy of the
// tree, checks every list against it first, and forwards a list to the sink only when the
// whole list applies, so the sink never sees a partial list.
type Applier struct {
	mu   sync.Mutex
	tree vdom.Node
	sink Sink
}

// NewApplier creates an applier whose live tree starts as tree. A nil sink only tracks
// the shadow tree.
func NewApplier(tree vdom.Node, sink Sink) *Applier {
	return &Applier{tree: vdom.Normalize(tree), sink: sink}
}

// Apply applies ops in order. On error the shadow tree is unchanged, and a list that does
// not apply to it never reaches the sink.
func (a *Applier) Apply(ops []vdom.Patch) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	next, err := vdom.Apply(a.tree, ops)
	if err != nil {
		return err
	}
	if a.sink != nil {
		if err := a.sink.ApplyMutations(ops); err != nil {
			return fmt.Errorf("sink: %w", err)
		}
	}
	a.tree = next
	return nil
}

// Tree returns the current live tree.
func (a *Applier) Tree() vdom.Node {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tree
}

// Hash returns vdom.Hash of the current live tree.
func (a *Applier) Hash() string {
	return vdom.Hash(a.Tree())
}
