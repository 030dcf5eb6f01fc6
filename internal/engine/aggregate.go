package engine

// MissingMetricUtility stands in for any weighted objective no stage computed.
const MissingMetricUtility = 0.5

// #region aggregate
// MergeMetrics layers metric sources in order; later sources win per key.
func MergeMetrics(layers ...map[string]float64) map[string]float64 {
	out := map[string]float64{}
	for _, layer := range layers {
		for k, v := range layer {
			out[k] = v
		}
	}
	return out
}

// Aggregate returns the weighted utility on a 0-100 scale before rule
// adjustment, and the objective names that found a computed metric.
func Aggregate(weights, metrics map[string]float64) (float64, []string) {
	var sum, total float64
	used := []string{}
	for _, name := range sortedKeys(weights) {
		w := weights[name]
		m, ok := metrics[name]
		if ok {
			used = append(used, name)
		} else {
			m = MissingMetricUtility
		}
		sum += m * w
		total += w
	}
	if total == 0 {
		return 50, used
	}
	return sum / total * 100, used
}

// FinalScore applies the rule adjustment and clamps to [0, 100].
func FinalScore(base float64, adjustment int) float64 {
	return clamp(base+float64(adjustment), 0, 100)
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// #endregion aggregate
