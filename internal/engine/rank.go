package engine

import (
	"sort"

	"github.com/danielpatrickdp/persona-engine/internal/feature"
)

// #region rank
// Rank sorts in place: score desc, risk asc, latency asc, then input order.
// Unknown risk sorts after every known level.
func Rank(cands []ScoredCandidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if ra, rb := riskOrder(a), riskOrder(b); ra != rb {
			return ra < rb
		}
		if a.EstimatedLatencyMs != b.EstimatedLatencyMs {
			return a.EstimatedLatencyMs < b.EstimatedLatencyMs
		}
		return a.order < b.order
	})
}

func riskOrder(c ScoredCandidate) int {
	if !c.Risk.Valid() {
		return 1 << 30
	}
	return int(c.Risk)
}

// EstimateLatency reads estimated_latency_ms, else duration_minutes in ms, else 0.
func EstimateLatency(v feature.Vector) float64 {
	if ms, ok := v.Number("estimated_latency_ms"); ok {
		return ms
	}
	if mins, ok := v.Number("duration_minutes"); ok {
		return mins * 60000
	}
	return 0
}

// #endregion rank

// #region gate
// Gate decides on the already ranked list.
func Gate(ranked []ScoredCandidate, c *Context) Decision {
	if len(ranked) == 0 {
		return Decision{Type: DecisionEscalate, Reason: ReasonNoCandidates}
	}
	best := ranked[0]
	action := best.Action
	if best.Score >= c.MinScore() && best.Risk.AtMost(c.MaxRisk()) {
		return Decision{Type: DecisionRecommend, Action: &action}
	}
	return Decision{Type: DecisionEscalate, Action: &action, Reason: ReasonBelowThresholds}
}

// TopK returns at most k leading candidates; never nil.
func TopK(ranked []ScoredCandidate, k int) []ScoredCandidate {
	if k <= 0 || k > len(ranked) {
		k = len(ranked)
	}
	out := make([]ScoredCandidate, k)
	copy(out, ranked[:k])
	return out
}

// #endregion gate
