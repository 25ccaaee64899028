package protocol

import (
	"github.com/solatis/patchwire/internal/types"
	"github.com/solatis/patchwire/internal/vdom"
)

// Hub method names.
const (
	MethodRegisterComponent    = "RegisterComponent"
	MethodUpdateComponentState = "UpdateComponentState"
	MethodRequestPrediction    = "RequestPrediction"
	MethodDisposeComponent     = "DisposeComponent"

	// ApplyPatches(componentId, patches, state) is pushed by the server. state maps the
	// state keys it changed to their new values and may be absent.
	MethodApplyPatches = "ApplyPatches"
)

// RegisterResult answers RegisterComponent.
type RegisterResult struct {
	Tree vdom.Node `json:"tree"`
	Hash string    `json:"hash"`
}

// ReconciliationResult answers UpdateComponentState.
//
// When the client sent a prediction, Matched reports whether it equals the authoritative
// patch list and CorrectionPatches, on a mismatch, transforms the predicted tree into the
// authoritative one. Without a prediction Patches carries the authoritative list. Hash is
// vdom.Hash of the server's tree after the update.
type ReconciliationResult struct {
	PredictionID      types.PredictionID `json:"predictionId,omitempty"`
	Matched           bool               `json:"matched"`
	CorrectionPatches []vdom.Patch       `json:"correctionPatches,omitempty"`
	Patches           []vdom.Patch       `json:"patches,omitempty"`
	Hash              string             `json:"hash,omitempty"`
}

// PredictionResult answers RequestPrediction; the server returns null when it has no
// prediction for the trigger.
type PredictionResult struct {
	PredictionID types.PredictionID `json:"predictionId"`
	Patches      []vdom.Patch       `json:"patches"`
	Confidence   float64            `json:"confidence"`
	BaseHash     string             `json:"baseHash"`
}
