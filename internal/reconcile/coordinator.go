// Package reconcile ties prediction, verification, and correction together per mounted
// component.
package reconcile

/*
 * Each mounted component owns a mailbox goroutine. Interactions and server pushes for one
 * component run on it strictly in posting order, so patch lists for a component are never
 * interleaved and each one is evaluated against the tree left by the previous one.
 *
 * One interaction cycle:
 *
 *   Idle -> PredictionApplied   cached patches applied optimistically (cache hit)
 *        -> Verifying           UpdateComponentState sent with the prediction, if any
 *        -> Idle                matched, or miss (authoritative patches applied)
 *        -> Correcting -> Idle  mismatch, correction applied once
 *
 * A failed invocation (timeout, connection lost) returns to Idle and keeps whatever the
 * optimistic apply left in place.
 *
 * Server pushes keep wire order relative to completions: the server computed a push that
 * arrived before a completion against the older tree, so once Invoke returns the cycle
 * first applies every push received so far, then the result.
 *
 * A push carries the state keys it changed. A push without them leaves the local state
 * unknown, and Precompute refuses to render from it until the component is remounted.
 */

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/solatis/patchwire/internal/component"
	"github.com/solatis/patchwire/internal/core/metrics"
	"github.com/solatis/patchwire/internal/hub"
	"github.com/solatis/patchwire/internal/predict"
	"github.com/solatis/patchwire/internal/protocol"
	"github.com/solatis/patchwire/internal/types"
	"github.com/solatis/patchwire/internal/vdom"
)

// Phase is a component's position in the interaction cycle.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhasePredictionApplied
	PhaseVerifying
	PhaseCorrecting
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhasePredictionApplied:
		return "PredictionApplied"
	case PhaseVerifying:
		return "Verifying"
	case PhaseCorrecting:
		return "Correcting"
	}
	return fmt.Sprintf("Phase(%d)", int32(p))
}

// Patch sources reported to metrics.
const (
	sourcePrediction = "prediction"
	sourceCorrection = "correction"
	sourceServer     = "server"
	sourcePush       = "push"
)

// Invoker calls hub methods. *hub.Connection satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, target string, args ...any) (json.RawMessage, error)
	SendFireAndForget(target string, args ...any) error
}

// Registrar registers push handlers. *hub.Connection satisfies it.
type Registrar interface {
	Handle(target string, fn hub.Handler) func()
}

// Options configures a Coordinator.
type Options struct {
	Invoker Invoker
	Cache   *predict.Cache
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// MountOptions describes one component instance.
type MountOptions struct {
	ID    types.ComponentID
	Type  string
	State component.State
	// Render enables local Precompute; optional.
	Render component.RenderFunc
	Sink   Sink
}

// Interaction is one user event against a mounted component. Event names the state key the
// payload replaces.
type Interaction struct {
	ComponentID types.ComponentID
	Event       string
	Payload     json.RawMessage
}

// Coordinator owns the mounted component instances of one client.
type Coordinator struct {
	invoker Invoker
	cache   *predict.Cache
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu        sync.Mutex
	instances map[types.ComponentID]*instance
}

type instance struct {
	id       types.ComponentID
	typ      string
	render   component.RenderFunc
	applier  *Applier
	box      *mailbox
	phase    atomic.Int32
	disposed atomic.Bool
	logger   *slog.Logger

	pushMu sync.Mutex
	pushes []serverPush

	// owned by the mailbox goroutine
	state        component.State
	stateUnknown bool
}

type serverPush struct {
	ops   []vdom.Patch
	state map[string]json.RawMessage
}

// New creates a Coordinator. A nil Cache gets predict.DefaultConfig.
func New(opts Options) (*Coordinator, error) {
	if opts.Invoker == nil {
		return nil, fmt.Errorf("invoker cannot be nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cache := opts.Cache
	if cache == nil {
		cache = predict.New(predict.DefaultConfig(), logger)
	}
	return &Coordinator{
		invoker:   opts.Invoker,
		cache:     cache,
		metrics:   opts.Metrics,
		logger:    logger,
		instances: make(map[types.ComponentID]*instance),
	}, nil
}

// Cache returns the prediction cache.
func (c *Coordinator) Cache() *predict.Cache {
	return c.cache
}

// Bind routes ApplyPatches pushes from r to ApplyServerPatches. The returned func removes
// the handler.
func (c *Coordinator) Bind(r Registrar) func() {
	return r.Handle(protocol.MethodApplyPatches, func(args []json.RawMessage) error {
		if len(args) < 2 {
			return fmt.Errorf("%s: expected 2 arguments, got %d", protocol.MethodApplyPatches, len(args))
		}
		var id types.ComponentID
		if err := json.Unmarshal(args[0], &id); err != nil {
			return fmt.Errorf("%s: component id: %w", protocol.MethodApplyPatches, err)
		}
		ops, err := vdom.UnmarshalPatches(args[1])
		if err != nil {
			return fmt.Errorf("%s: %w", protocol.MethodApplyPatches, err)
		}
		var state map[string]json.RawMessage
		if len(args) > 2 {
			if err := json.Unmarshal(args[2], &state); err != nil {
				return fmt.Errorf("%s: state: %w", protocol.MethodApplyPatches, err)
			}
		}
		return c.ApplyServerPatches(id, ops, state)
	})
}

// Mount registers a component with the server and renders its initial tree into the sink.
func (c *Coordinator) Mount(ctx context.Context, opts MountOptions) error {
	if opts.ID == "" {
		return fmt.Errorf("component id cannot be empty")
	}
	if opts.Type == "" {
		return fmt.Errorf("component type cannot be empty")
	}
	state := opts.State
	if state == nil {
		state = component.State{}
	}

	inst := &instance{
		id:      opts.ID,
		typ:     opts.Type,
		render:  opts.Render,
		applier: NewApplier(vdom.Null(), opts.Sink),
		state:   state,
		logger:  c.logger.With("component_id", opts.ID),
	}

	c.mu.Lock()
	if _, exists := c.instances[opts.ID]; exists {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrComponentExists, opts.ID)
	}
	inst.box = newMailbox()
	c.instances[opts.ID] = inst
	c.mu.Unlock()

	err := c.do(ctx, inst, func() error { return c.mount(ctx, inst) })
	if err != nil {
		c.drop(inst)
		return err
	}
	c.metrics.ComponentMounted()
	return nil
}

func (c *Coordinator) mount(ctx context.Context, inst *instance) error {
	start := time.Now()
	raw, err := c.invoker.Invoke(ctx, protocol.MethodRegisterComponent, inst.id, inst.typ, inst.state)
	c.metrics.ObserveInvocation(protocol.MethodRegisterComponent, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("register %s: %w", inst.id, err)
	}

	var res protocol.RegisterResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("register %s: decode result: %w", inst.id, err)
	}
	if err := vdom.Validate(res.Tree); err != nil {
		return fmt.Errorf("register %s: %w", inst.id, err)
	}

	ops := vdom.Diff(vdom.Null(), res.Tree)
	if err := inst.applier.Apply(ops); err != nil {
		return fmt.Errorf("register %s: %w", inst.id, err)
	}
	if res.Hash != "" && res.Hash != inst.applier.Hash() {
		inst.logger.Warn("initial tree hash differs from server", "server_hash", res.Hash)
	}
	inst.logger.Debug("component mounted", "component_type", inst.typ, "patches", len(ops))
	return nil
}

// Unmount disposes a component. Queued work for it fails with types.ErrDisposed.
func (c *Coordinator) Unmount(id types.ComponentID) error {
	inst, err := c.lookup(id)
	if err != nil {
		return err
	}
	c.drop(inst)
	c.metrics.ComponentDisposed(1)
	if err := c.invoker.SendFireAndForget(protocol.MethodDisposeComponent, id); err != nil {
		return fmt.Errorf("dispose %s: %w", id, err)
	}
	return nil
}

// Close disposes every mounted component without telling the server.
func (c *Coordinator) Close() {
	c.mu.Lock()
	insts := make([]*instance, 0, len(c.instances))
	for _, inst := range c.instances {
		insts = append(insts, inst)
	}
	c.mu.Unlock()

	for _, inst := range insts {
		c.drop(inst)
	}
	c.metrics.ComponentDisposed(len(insts))
}

// Interact runs one interaction cycle and returns the server's reconciliation result. It
// waits for interactions queued earlier for the same component.
func (c *Coordinator) Interact(ctx context.Context, in Interaction) (protocol.ReconciliationResult, error) {
	inst, err := c.lookup(in.ComponentID)
	if err != nil {
		return protocol.ReconciliationResult{}, err
	}
	if in.Event == "" {
		return protocol.ReconciliationResult{}, fmt.Errorf("event cannot be empty")
	}
	if len(in.Payload) == 0 {
		in.Payload = json.RawMessage("null")
	}

	var res protocol.ReconciliationResult
	err = c.do(ctx, inst, func() error {
		var err error
		res, err = c.interact(ctx, inst, in)
		return err
	})
	return res, err
}

func (c *Coordinator) interact(ctx context.Context, inst *instance, in Interaction) (protocol.ReconciliationResult, error) {
	log := inst.logger.With("event", in.Event)

	// Optimistic apply.
	var (
		predictionID any
		predicted    any
		hit          bool
	)
	baseline := inst.applier.Tree()
	key := predict.Key(inst.id, in.Event, in.Payload)
	if rec, ok := c.cache.Consume(key); ok {
		switch {
		case rec.BaseHash != "" && rec.BaseHash != inst.applier.Hash():
			log.Debug("prediction baseline moved, discarding", "prediction_id", rec.ID)
			c.metrics.ObservePrediction(metrics.PredictionStale)
		default:
			start := time.Now()
			if err := inst.applier.Apply(rec.Patches); err != nil {
				log.Warn("prediction does not apply, discarding", "prediction_id", rec.ID, "error", err)
				c.metrics.ObservePrediction(metrics.PredictionStale)
				break
			}
			c.metrics.ObserveReconcile(time.Since(start), len(rec.Patches), sourcePrediction)
			c.metrics.ObservePrediction(metrics.PredictionHit)
			inst.setPhase(PhasePredictionApplied)
			hit = true
			predictionID = rec.ID
			// An empty prediction still goes out as a list; null means none.
			predicted = append([]vdom.Patch{}, rec.Patches...)
		}
	} else {
		c.metrics.ObservePrediction(metrics.PredictionMiss)
	}

	// Verify.
	inst.setPhase(PhaseVerifying)
	start := time.Now()
	raw, err := c.invoker.Invoke(ctx, protocol.MethodUpdateComponentState,
		inst.id, in.Event, in.Payload, predictionID, predicted)
	c.metrics.ObserveInvocation(protocol.MethodUpdateComponentState, time.Since(start), err)
	if err != nil {
		inst.setPhase(PhaseIdle)
		return protocol.ReconciliationResult{}, fmt.Errorf("update %s: %w", inst.id, err)
	}

	pushed := c.drainPushes(inst)

	var res protocol.ReconciliationResult
	if err := json.Unmarshal(raw, &res); err != nil {
		inst.setPhase(PhaseIdle)
		return protocol.ReconciliationResult{}, fmt.Errorf("update %s: decode result: %w", inst.id, err)
	}
	inst.state = inst.state.With(in.Event, in.Payload)

	switch {
	case hit && res.Matched:
		c.metrics.ObservePrediction(metrics.PredictionMatched)
		log.Debug("prediction matched", "prediction_id", predictionID)

	case hit && res.PredictionID == "":
		// Not verified: res.Patches are relative to the tree before the optimistic apply.
		inst.setPhase(PhaseCorrecting)
		if err := c.restore(inst, baseline, pushed, res.Patches); err != nil {
			log.Error("server patches do not apply", "error", err)
		}
		c.cache.Invalidate(inst.id)
		log.Warn("server did not verify prediction", "prediction_id", predictionID)

	case hit:
		inst.setPhase(PhaseCorrecting)
		start := time.Now()
		if err := inst.applier.Apply(res.CorrectionPatches); err != nil {
			log.Error("correction does not apply", "prediction_id", predictionID, "error", err)
		} else {
			c.metrics.ObserveReconcile(time.Since(start), len(res.CorrectionPatches), sourceCorrection)
		}
		c.metrics.ObservePrediction(metrics.PredictionCorrected)
		c.cache.Invalidate(inst.id)
		log.Debug("prediction corrected", "prediction_id", predictionID, "patches", len(res.CorrectionPatches))

	default:
		start := time.Now()
		if err := inst.applier.Apply(res.Patches); err != nil {
			log.Error("server patches do not apply", "error", err)
		} else {
			c.metrics.ObserveReconcile(time.Since(start), len(res.Patches), sourceServer)
		}
		c.cache.Invalidate(inst.id)
	}

	if res.Hash != "" && res.Hash != inst.applier.Hash() {
		log.Warn("live tree drifted from server", "server_hash", res.Hash)
	}
	inst.setPhase(PhaseIdle)
	return res, nil
}

// ApplyServerPatches queues a server-initiated patch list for id together with the state
// keys the server changed to produce it. It does not wait for the list to be applied.
func (c *Coordinator) ApplyServerPatches(id types.ComponentID, ops []vdom.Patch, state map[string]json.RawMessage) error {
	inst, err := c.lookup(id)
	if err != nil {
		return err
	}
	inst.pushMu.Lock()
	inst.pushes = append(inst.pushes, serverPush{ops: ops, state: state})
	inst.pushMu.Unlock()

	if !inst.box.post(func() {
		if !inst.disposed.Load() {
			c.drainPushes(inst)
		}
	}) {
		return fmt.Errorf("%w: %s", types.ErrDisposed, id)
	}
	return nil
}

// restore brings the live tree to baseline with pushed and ops applied, by diffing.
func (c *Coordinator) restore(inst *instance, baseline vdom.Node, pushed [][]vdom.Patch, ops []vdom.Patch) error {
	target := baseline
	for _, p := range append(pushed, ops) {
		next, err := vdom.Apply(target, p)
		if err != nil {
			return err
		}
		target = next
	}
	start := time.Now()
	fix := vdom.Diff(inst.applier.Tree(), target)
	if err := inst.applier.Apply(fix); err != nil {
		return err
	}
	c.metrics.ObserveReconcile(time.Since(start), len(fix), sourceServer)
	return nil
}

// drainPushes applies queued pushes in arrival order and returns the lists that applied.
// Runs on the mailbox goroutine.
func (c *Coordinator) drainPushes(inst *instance) [][]vdom.Patch {
	inst.pushMu.Lock()
	pending := inst.pushes
	inst.pushes = nil
	inst.pushMu.Unlock()

	var applied [][]vdom.Patch

	for _, p := range pending {
		for key, value := range p.state {
			inst.state = inst.state.With(key, value)
		}
		if p.state == nil && len(p.ops) > 0 && !inst.stateUnknown {
			inst.logger.Debug("push without state, local state unknown")
			inst.stateUnknown = true
		}

		start := time.Now()
		if err := inst.applier.Apply(p.ops); err != nil {
			inst.logger.Error("pushed patches do not apply", "patches", len(p.ops), "error", err)
			continue
		}
		c.metrics.ObserveReconcile(time.Since(start), len(p.ops), sourcePush)
		applied = append(applied, p.ops)
	}
	if len(pending) > 0 {
		c.cache.Invalidate(inst.id)
	}
	return applied
}

// RequestPrediction asks the server for a prediction of the given interaction and caches
// it. It reports false when the server has none or its confidence is below the cache
// threshold.
func (c *Coordinator) RequestPrediction(ctx context.Context, in Interaction) (predict.Record, bool, error) {
	if _, err := c.lookup(in.ComponentID); err != nil {
		return predict.Record{}, false, err
	}
	if len(in.Payload) == 0 {
		in.Payload = json.RawMessage("null")
	}

	start := time.Now()
	raw, err := c.invoker.Invoke(ctx, protocol.MethodRequestPrediction, in.ComponentID, in.Event, in.Payload)
	c.metrics.ObserveInvocation(protocol.MethodRequestPrediction, time.Since(start), err)
	if err != nil {
		return predict.Record{}, false, fmt.Errorf("request prediction %s: %w", in.ComponentID, err)
	}

	var res *protocol.PredictionResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return predict.Record{}, false, fmt.Errorf("request prediction %s: decode result: %w", in.ComponentID, err)
	}
	if res == nil {
		return predict.Record{}, false, nil
	}

	rec := predict.Record{
		ID:          res.PredictionID,
		ComponentID: in.ComponentID,
		Key:         predict.Key(in.ComponentID, in.Event, in.Payload),
		Patches:     res.Patches,
		Confidence:  res.Confidence,
		BaseHash:    res.BaseHash,
	}
	return rec, c.cache.Store(rec), nil
}

// Precompute renders the component locally with the interaction applied to its current
// state and caches the resulting patches. The component must have been mounted with a
// render function. It fails with types.ErrStateUnknown after a push that did not carry
// its state.
func (c *Coordinator) Precompute(ctx context.Context, in Interaction, confidence float64) (predict.Record, bool, error) {
	inst, err := c.lookup(in.ComponentID)
	if err != nil {
		return predict.Record{}, false, err
	}
	if inst.render == nil {
		return predict.Record{}, false, fmt.Errorf("component %s has no render function", in.ComponentID)
	}

	var (
		rec    predict.Record
		stored bool
	)
	err = c.do(ctx, inst, func() error {
		if inst.stateUnknown {
			return fmt.Errorf("%w: %s", types.ErrStateUnknown, in.ComponentID)
		}
		var err error
		key := predict.Key(inst.id, in.Event, in.Payload)
		rec, stored, err = c.cache.Precompute(key, inst.state.With(in.Event, in.Payload), inst.render,
			inst.applier.Tree(), confidence)
		return err
	})
	return rec, stored, err
}

// Phase returns the current phase of id.
func (c *Coordinator) Phase(id types.ComponentID) (Phase, error) {
	inst, err := c.lookup(id)
	if err != nil {
		return PhaseIdle, err
	}
	return Phase(inst.phase.Load()), nil
}

// Tree returns the live tree of id.
func (c *Coordinator) Tree(id types.ComponentID) (vdom.Node, error) {
	inst, err := c.lookup(id)
	if err != nil {
		return vdom.Node{}, err
	}
	return inst.applier.Tree(), nil
}

func (c *Coordinator) lookup(id types.ComponentID) (*instance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	inst, ok := c.instances[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownComponent, id)
	}
	return inst, nil
}

// drop removes inst and stops its mailbox.
func (c *Coordinator) drop(inst *instance) {
	c.mu.Lock()
	if c.instances[inst.id] == inst {
		delete(c.instances, inst.id)
	}
	c.mu.Unlock()

	inst.disposed.Store(true)
	inst.box.close()
	c.cache.Invalidate(inst.id)
}

// do runs fn on inst's mailbox and waits for it.
func (c *Coordinator) do(ctx context.Context, inst *instance, fn func() error) error {
	done := make(chan error, 1)
	posted := inst.box.post(func() {
		if inst.disposed.Load() {
			done <- fmt.Errorf("%w: %s", types.ErrDisposed, inst.id)
			return
		}
		done <- fn()
	})
	if !posted {
		return fmt.Errorf("%w: %s", types.ErrDisposed, inst.id)
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (i *instance) setPhase(p Phase) {
	i.phase.Store(int32(p))
}
