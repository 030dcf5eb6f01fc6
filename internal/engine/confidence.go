package engine

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/persona-engine/internal/feature"
)

const (
	qualityPenalty          = 0.1
	failedPredictConfidence = 0.5
)

// #region confidence
// DataQuality decays by 0.1 per flag, floored at 0.
func DataQuality(flags int) float64 {
	return math.Max(0, 1-qualityPenalty*float64(flags))
}

// ContextStability penalizes long horizons read from time_horizon_days.
func ContextStability(input map[string]any) float64 {
	days, ok := feature.Vector(input).Number("time_horizon_days")
	switch {
	case !ok:
		return 0.95
	case days <= 7:
		return 1.0
	case days <= 30:
		return 0.95
	default:
		return 0.9
	}
}

// Confidence composes the three factors and clamps to [0, 1].
func Confidence(dataQuality, modelConfidence, stability float64) float64 {
	return clamp(dataQuality*modelConfidence*stability, 0, 1)
}

// ConfidenceLabel buckets a confidence value.
func ConfidenceLabel(conf float64) string {
	switch {
	case conf > 0.8:
		return "High"
	case conf > 0.5:
		return "Moderate"
	default:
		return "Low"
	}
}

// #endregion confidence

// #region explanation
func explain(d Decision, ranked []ScoredCandidate, c *Context, conf float64) Explanation {
	exp := Explanation{
		Weights:         c.WeightEntries(),
		ConfidenceLabel: ConfidenceLabel(conf),
	}
	persona := "engine defaults"
	if c.PersonaLoaded() {
		persona = fmt.Sprintf("persona %q", c.PersonaName())
	}

	switch {
	case len(ranked) == 0:
		exp.Summary = "Escalated: no candidate actions were supplied."
		return exp
	case d.Type == DecisionRecommend:
		best := ranked[0]
		exp.Summary = fmt.Sprintf("Recommended %s with score %.1f and %s risk under %s.",
			label(best.Action), best.Score, best.Risk, persona)
	default:
		best := ranked[0]
		exp.Summary = fmt.Sprintf("Escalated: best candidate %s scored %.1f (min %.1f) with %s risk (max %s) under %s.",
			label(best.Action), best.Score, c.MinScore(), best.Risk, c.MaxRisk(), persona)
	}
	exp.TriggeredRules = ranked[0].Evidence.TriggeredRules
	return exp
}

func label(a Candidate) string {
	if a.Name != "" {
		return fmt.Sprintf("%q", a.Name)
	}
	return fmt.Sprintf("%q", a.ID)
}

// #endregion explanation
