// Package predictor scores crash candidates with the trained rebound model.
// The engine consumes it as a pure function: feature vector in, probability
// out. Two backends exist, a local ONNX session and a remote scoring
// service, selected by configuration.
package predictor

import (
	"context"
	"errors"

	"rebound-trader/internal/model"
)

// ErrUnavailable means the model backend cannot be reached. The scan cycle
// fails safe to zero new entries; it never trades unscored.
var ErrUnavailable = errors.New("rebound predictor unavailable")

// Predictor returns a rebound probability in [0,1] for a candidate's
// feature vector.
type Predictor interface {
	Predict(ctx context.Context, fv model.FeatureVector) (float64, error)
}

// clamp keeps backend outputs inside [0,1]; a model that drifts outside the
// range must not produce phantom confidence.
func clamp(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
