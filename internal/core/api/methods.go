package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/solatis/patchwire/internal/component"
	"github.com/solatis/patchwire/internal/core/metrics"
	"github.com/solatis/patchwire/internal/core/stats"
	"github.com/solatis/patchwire/internal/predict"
	"github.com/solatis/patchwire/internal/protocol"
	"github.com/solatis/patchwire/internal/types"
	"github.com/solatis/patchwire/internal/vdom"
)

// Patch sources reported to the reconcile metrics.
const (
	sourceRender = "render"
	sourcePush   = "push"
)

// method handles one hub invocation. It runs with the session's mu held.
type method func(ctx context.Context, s *Session, args []json.RawMessage) (any, error)

// registerComponent: RegisterComponent(componentId, componentType, initialState?).
// The initial state overlays the catalog defaults.
func (h *HubService) registerComponent(_ context.Context, s *Session, args []json.RawMessage) (any, error) {
	var (
		id      types.ComponentID
		typ     string
		initial json.RawMessage
	)
	if err := decodeArgs(args, 2, &id, &typ, &initial); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("%w: componentId cannot be empty", ErrInvalidArguments)
	}
	if _, exists := s.components[id]; exists {
		return nil, fmt.Errorf("%w: %s", types.ErrComponentExists, id)
	}

	def, err := h.catalog.Lookup(typ)
	if err != nil {
		return nil, err
	}
	provided, err := component.DecodeState(initial)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	state := component.State{}
	for k, v := range def.Initial {
		state = state.With(k, v)
	}
	for k, v := range provided {
		state = state.With(k, v)
	}

	tree, err := renderTree(def.Render, state)
	if err != nil {
		return nil, err
	}
	s.components[id] = &instance{typ: def.Type, render: def.Render, state: state, tree: tree}
	h.metrics.ComponentMounted()
	s.logger.Debug("component registered", "component_id", id, "component_type", typ, "nodes", vdom.Count(tree))
	return protocol.RegisterResult{Tree: tree, Hash: vdom.Hash(tree)}, nil
}

// updateComponentState: UpdateComponentState(componentId, event, payload, predictionId,
// predictedPatches).
//
// The event names the state key the payload is written to. With a prediction the result
// reports whether it matched and, if not, carries the patches that turn the client's
// predicted tree into the authoritative one; the outcome feeds the prediction stats.
func (h *HubService) updateComponentState(ctx context.Context, s *Session, args []json.RawMessage) (any, error) {
	var (
		id           types.ComponentID
		event        string
		payload      json.RawMessage
		predictionID types.PredictionID
		predicted    json.RawMessage
	)
	if err := decodeArgs(args, 2, &id, &event, &payload, &predictionID, &predicted); err != nil {
		return nil, err
	}
	if event == "" {
		return nil, fmt.Errorf("%w: event cannot be empty", ErrInvalidArguments)
	}
	inst, err := s.component(id)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	next := inst.state.With(event, payload)
	after, err := renderTree(inst.render, next)
	if err != nil {
		return nil, err
	}
	authoritative := vdom.Diff(inst.tree, after)
	res := protocol.ReconciliationResult{Hash: vdom.Hash(after)}

	if isNull(predicted) {
		res.Patches = authoritative
	} else {
		ops, err := vdom.UnmarshalPatches(predicted)
		if err != nil {
			return nil, fmt.Errorf("%w: predictedPatches: %v", ErrInvalidArguments, err)
		}
		res.PredictionID = predictionID
		res.CorrectionPatches, res.Matched = correction(inst.tree, ops, authoritative, after)
		h.recordOutcome(ctx, s, predict.StatsKey(inst.typ, event, payload), res.Matched)
	}

	inst.state, inst.tree = next, after
	h.metrics.ObserveReconcile(time.Since(start), len(authoritative), sourceRender)
	return res, nil
}

// correction compares a client's predicted patches with the authoritative ones. A
// prediction matches when it produces the authoritative tree, even through a different
// patch list. Otherwise it returns patches from the predicted tree to after, replacing the
// root when the prediction does not apply to before at all.
func correction(before vdom.Node, predicted, authoritative []vdom.Patch, after vdom.Node) ([]vdom.Patch, bool) {
	if vdom.PatchesEqual(predicted, authoritative) {
		return nil, true
	}
	guessed, err := vdom.Apply(before, predicted)
	if err != nil {
		ops := []vdom.Patch{vdom.RemovePatch(vdom.Path{})}
		if !after.IsNull() {
			ops = append(ops, vdom.InsertPatch(vdom.Path{}, after))
		}
		return ops, false
	}
	if vdom.Equal(guessed, after) {
		return nil, true
	}
	return vdom.Diff(guessed, after), false
}

func (h *HubService) recordOutcome(ctx context.Context, s *Session, key string, matched bool) {
	outcome := metrics.PredictionCorrected
	if matched {
		outcome = metrics.PredictionMatched
	}
	h.metrics.ObservePrediction(outcome)
	if err := h.stats.Record(ctx, key, matched); err != nil {
		s.logger.Warn("failed to record prediction outcome", "stats_key", key, "error", err)
	}
}

// requestPrediction: RequestPrediction(componentId, event, payload). It renders the
// component as the interaction would leave it and returns the patches with the stats
// confidence of the interaction's stats key, or null when the interaction changes nothing.
func (h *HubService) requestPrediction(ctx context.Context, s *Session, args []json.RawMessage) (any, error) {
	var (
		id      types.ComponentID
		event   string
		payload json.RawMessage
	)
	if err := decodeArgs(args, 2, &id, &event, &payload); err != nil {
		return nil, err
	}
	inst, err := s.component(id)
	if err != nil {
		return nil, err
	}

	anticipated, err := renderTree(inst.render, inst.state.With(event, payload))
	if err != nil {
		return nil, err
	}
	ops := vdom.Diff(inst.tree, anticipated)
	if len(ops) == 0 {
		return nil, nil
	}

	key := predict.StatsKey(inst.typ, event, payload)
	st, err := h.stats.Get(ctx, key)
	if err != nil {
		s.logger.Warn("prediction stats unavailable", "stats_key", key, "error", err)
		st = stats.Stat{TriggerKey: key}
	}
	return &protocol.PredictionResult{
		PredictionID: types.NewPredictionID(),
		Patches:      ops,
		Confidence:   st.Confidence(),
		BaseHash:     vdom.Hash(inst.tree),
	}, nil
}

// disposeComponent: DisposeComponent(componentId).
func (h *HubService) disposeComponent(_ context.Context, s *Session, args []json.RawMessage) (any, error) {
	var id types.ComponentID
	if err := decodeArgs(args, 1, &id); err != nil {
		return nil, err
	}
	if _, err := s.component(id); err != nil {
		return nil, err
	}
	delete(s.components, id)
	h.metrics.ComponentDisposed(1)
	return nil, nil
}

// SetState changes one state key of a component and pushes the resulting patches to its
// client as ApplyPatches.
func (h *HubService) SetState(sessionID types.SessionID, componentID types.ComponentID, key string, value json.RawMessage) ([]vdom.Patch, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: key cannot be empty", ErrInvalidArguments)
	}
	sess, err := h.session(sessionID)
	if err != nil {
		return nil, err
	}
	return sess.setState(componentID, key, value)
}

// component looks up id. Callers hold s.mu.
func (s *Session) component(id types.ComponentID) (*instance, error) {
	inst, ok := s.components[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownComponent, id)
	}
	return inst, nil
}

// renderTree renders state and checks the result against the tree limits.
func renderTree(render component.RenderFunc, state component.State) (vdom.Node, error) {
	tree := vdom.Normalize(render(state))
	if err := vdom.Validate(tree); err != nil {
		return vdom.Node{}, fmt.Errorf("%w: %v", ErrInvalidTree, err)
	}
	return tree, nil
}

// decodeArgs decodes positional arguments into dst. Arguments past required may be
// omitted and leave their destination untouched.
func decodeArgs(args []json.RawMessage, required int, dst ...any) error {
	if len(args) < required {
		return fmt.Errorf("%w: want at least %d arguments, got %d", ErrInvalidArguments, required, len(args))
	}
	if len(args) > len(dst) {
		return fmt.Errorf("%w: want at most %d arguments, got %d", ErrInvalidArguments, len(dst), len(args))
	}
	for i, raw := range args {
		if err := json.Unmarshal(raw, dst[i]); err != nil {
			return fmt.Errorf("%w: argument %d: %v", ErrInvalidArguments, i, err)
		}
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
