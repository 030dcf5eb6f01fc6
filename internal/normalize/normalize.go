// Package normalize turns raw candidate features into bounded utility metrics.
package normalize

import (
	"fmt"

	"github.com/danielpatrickdp/persona-engine/internal/feature"
)

// #region curve
// Curve names a utility transform.
type Curve string

const (
	// CurveDecay maps x to 1/(1+x/scale): lower raw values are better.
	CurveDecay Curve = "decay"
	// CurveIdentity passes the raw value through unchanged.
	CurveIdentity Curve = "identity"
)

// #endregion curve

// #region spec
// Spec maps one raw feature onto one named metric.
type Spec struct {
	Feature string  `yaml:"feature" json:"feature"`
	Metric  string  `yaml:"metric" json:"metric"`
	Curve   Curve   `yaml:"curve" json:"curve"`
	Scale   float64 `yaml:"scale,omitempty" json:"scale,omitempty"`
}

// Table is an ordered list of normalizer specs.
type Table []Spec

// DefaultTable keeps the reference curve shapes for price, duration,
// convenience and quality.
func DefaultTable() Table {
	return Table{
		{Feature: "price", Metric: "cost", Curve: CurveDecay, Scale: 50},
		{Feature: "duration_minutes", Metric: "speed", Curve: CurveDecay, Scale: 30},
		{Feature: "convenience", Metric: "convenience", Curve: CurveIdentity},
		{Feature: "quality", Metric: "quality", Curve: CurveIdentity},
	}
}

// Validate rejects specs with unknown curves or a non-positive decay scale.
func (t Table) Validate() error {
	for i, s := range t {
		if s.Feature == "" || s.Metric == "" {
			return fmt.Errorf("normalizer %d: feature and metric are required", i)
		}
		switch s.Curve {
		case CurveIdentity:
		case CurveDecay:
			if s.Scale <= 0 {
				return fmt.Errorf("normalizer %d (%s): decay scale must be > 0", i, s.Feature)
			}
		default:
			return fmt.Errorf("normalizer %d (%s): unknown curve %q", i, s.Feature, s.Curve)
		}
	}
	return nil
}

// #endregion spec

// #region apply
// Apply computes every metric whose source feature is present and numeric.
func (t Table) Apply(v feature.Vector) map[string]float64 {
	out := make(map[string]float64, len(t))
	for _, s := range t {
		x, ok := v.Number(s.Feature)
		if !ok {
			continue
		}
		out[s.Metric] = s.transform(x)
	}
	return out
}

func (s Spec) transform(x float64) float64 {
	switch s.Curve {
	case CurveDecay:
		if x < 0 {
			x = 0
		}
		return 1 / (1 + x/s.Scale)
	default:
		return x
	}
}

// #endregion apply
