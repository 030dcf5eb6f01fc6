package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/persona-engine/internal/feature"
)

func TestDefaultTable_Curves(t *testing.T) {
	m := DefaultTable().Apply(feature.Vector{
		"price":            20,
		"duration_minutes": 5,
		"convenience":      0.7,
		"quality":          0.4,
	})

	assert.InDelta(t, 1/(1+20.0/50), m["cost"], 1e-12)
	assert.InDelta(t, 0.857, m["speed"], 0.001)
	assert.Equal(t, 0.7, m["convenience"])
	assert.Equal(t, 0.4, m["quality"])
}

func TestDefaultTable_LongDuration(t *testing.T) {
	m := DefaultTable().Apply(feature.Vector{"duration_minutes": 12000, "price": 0})
	assert.InDelta(t, 0.0025, m["speed"], 0.0001)
	assert.Equal(t, 1.0, m["cost"])
}

func TestApply_SkipsAbsentAndNonNumeric(t *testing.T) {
	m := DefaultTable().Apply(feature.Vector{"price": "cheap", "quality": true})
	assert.Empty(t, m)
}

func TestApply_NegativeFlooredForDecay(t *testing.T) {
	m := DefaultTable().Apply(feature.Vector{"price": -80})
	assert.Equal(t, 1.0, m["cost"])
}

func TestValidate(t *testing.T) {
	require.NoError(t, DefaultTable().Validate())
	assert.Error(t, Table{{Feature: "x", Metric: "y", Curve: CurveDecay}}.Validate())
	assert.Error(t, Table{{Feature: "x", Metric: "y", Curve: "log"}}.Validate())
	assert.Error(t, Table{{Metric: "y", Curve: CurveIdentity}}.Validate())
}
