// Package scorer defines the optional metric backends the engine can consult
// per candidate, and a gRPC adapter for remote implementations.
package scorer

import (
	"context"

	"github.com/danielpatrickdp/persona-engine/internal/feature"
)

// #region metrics
// Metrics maps metric names to utilities, nominally in [0,1].
type Metrics map[string]float64

// Prediction is a predictor's metric output plus its self-reported confidence.
type Prediction struct {
	Metrics    Metrics
	Confidence float64
}

// #endregion metrics

// #region interfaces
// Scorer is an opaque metric producer, e.g. a constrained optimizer.
type Scorer interface {
	Score(ctx context.Context, v feature.Vector) (Metrics, error)
}

// Predictor is a statistical model. modelID is the persona's model binding
// and may be empty.
type Predictor interface {
	Predict(ctx context.Context, modelID string, v feature.Vector) (Prediction, error)
}

// #endregion interfaces

// #region funcs
// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, v feature.Vector) (Metrics, error)

func (f ScorerFunc) Score(ctx context.Context, v feature.Vector) (Metrics, error) { return f(ctx, v) }

// PredictorFunc adapts a function to Predictor.
type PredictorFunc func(ctx context.Context, modelID string, v feature.Vector) (Prediction, error)

func (f PredictorFunc) Predict(ctx context.Context, modelID string, v feature.Vector) (Prediction, error) {
	return f(ctx, modelID, v)
}

// #endregion funcs
