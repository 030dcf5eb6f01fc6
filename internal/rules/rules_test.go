package rules

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/persona-engine/internal/feature"
)

// #region parse-tests
func TestParse_Operators(t *testing.T) {
	cases := map[string]Op{
		"price > 100":      OpGT,
		"price < 100":      OpLT,
		"price >= 100":     OpGE,
		"price <= 100":     OpLE,
		"tier == 'gold'":   OpEQ,
		"vip != true":      OpNE,
		"  price >= 1.5  ": OpGE,
	}
	for in, want := range cases {
		c, err := Parse(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, c.Op, in)
	}
}

func TestParse_Literals(t *testing.T) {
	c, err := Parse("price > 100")
	require.NoError(t, err)
	assert.Equal(t, "price", c.Feature)
	assert.Equal(t, Literal{Kind: LiteralNumber, Num: 100}, c.Literal)

	c, err = Parse(`tier == "gold"`)
	require.NoError(t, err)
	assert.Equal(t, Literal{Kind: LiteralString, Str: "gold"}, c.Literal)

	c, err = Parse("tier == 'silver'")
	require.NoError(t, err)
	assert.Equal(t, Literal{Kind: LiteralString, Str: "silver"}, c.Literal)

	c, err = Parse("vip == false")
	require.NoError(t, err)
	assert.Equal(t, Literal{Kind: LiteralBool, Bool: false}, c.Literal)

	c, err = Parse("tier == bronze")
	require.NoError(t, err)
	assert.Equal(t, Literal{Kind: LiteralString, Str: "bronze"}, c.Literal)
}

func TestParse_Unparsable(t *testing.T) {
	for _, in := range []string{
		"",
		"price>100",
		"price > 100 > 50",
		"price >= 1 and x == 2",
		" > 100",
		"price  ~ 100",
	} {
		_, err := Parse(in)
		assert.True(t, errors.Is(err, ErrUnparsable), "%q: %v", in, err)
	}
}

// #endregion parse-tests

// #region eval-tests
func TestEval_Numeric(t *testing.T) {
	v := feature.Vector{"price": 150, "depth": "12", "vip": true}
	assert.True(t, mustParse(t, "price > 100").Eval(v))
	assert.False(t, mustParse(t, "price < 100").Eval(v))
	assert.True(t, mustParse(t, "price >= 150").Eval(v))
	assert.True(t, mustParse(t, "price <= 150").Eval(v))
	assert.True(t, mustParse(t, "price == 150").Eval(v))
	assert.True(t, mustParse(t, "depth > 10").Eval(v), "numeric strings compare numerically")
	assert.False(t, mustParse(t, "vip > 0").Eval(v), "bools are not numbers")
}

func TestEval_MissingFeatureIsFalse(t *testing.T) {
	v := feature.Vector{"price": 10}
	for _, cond := range []string{"quality > 0", "quality != 1", "quality == 'x'"} {
		assert.False(t, mustParse(t, cond).Eval(v), cond)
	}
	assert.False(t, mustParse(t, "price > 1").Eval(feature.Vector{"price": nil}))
}

func TestEval_BoolAndString(t *testing.T) {
	v := feature.Vector{"vip": true, "tier": "gold"}
	assert.True(t, mustParse(t, "vip == true").Eval(v))
	assert.True(t, mustParse(t, "vip != false").Eval(v))
	assert.False(t, mustParse(t, "vip > false").Eval(v))
	assert.True(t, mustParse(t, "tier == 'gold'").Eval(v))
	assert.True(t, mustParse(t, "tier > 'bronze'").Eval(v))
	assert.True(t, mustParse(t, "tier != 10").Eval(v), "type mismatch only satisfies !=")
	assert.False(t, mustParse(t, "tier == 10").Eval(v))
}

// #endregion eval-tests

// #region evaluate-tests
func TestEvaluate_AllMatchingRulesFire(t *testing.T) {
	rs := []Rule{
		{Condition: "price > 100", ScoreAdjustment: -20, Reason: "expensive"},
		{Condition: "vip == true", ScoreAdjustment: 5, Reason: "vip customer"},
		{Condition: "price > 1000", ScoreAdjustment: -50, Reason: "never fires"},
		{Condition: "quality >= 0.9", SetMetric: &MetricInjection{Name: "quality_bonus", Value: 1}},
	}
	out := Evaluate(rs, feature.Vector{"price": 150, "vip": true, "quality": 0.95}, nil)

	assert.Equal(t, -15, out.Adjustment)
	assert.Equal(t, 3, out.Fired)
	assert.Equal(t, []string{"expensive", "vip customer"}, out.Reasons)
	assert.Equal(t, map[string]float64{"quality_bonus": 1}, out.Metrics)
	assert.Empty(t, out.Skipped)
}

func TestEvaluate_LaterInjectionOverwrites(t *testing.T) {
	rs := []Rule{
		{Condition: "price > 0", SetMetric: &MetricInjection{Name: "cost", Value: 0.1}},
		{Condition: "price > 1", SetMetric: &MetricInjection{Name: "cost", Value: 0.9}},
	}
	out := Evaluate(rs, feature.Vector{"price": 5}, nil)
	assert.Equal(t, 0.9, out.Metrics["cost"])
}

func TestCompile_SkipsAndLogsUnparsable(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	set := Compile([]Rule{
		{Condition: "price>>100", ScoreAdjustment: -99},
		{Condition: "price > 100", ScoreAdjustment: -20},
	}, logger)

	assert.Equal(t, 1, set.Len())
	assert.Equal(t, []string{"price>>100"}, set.Skipped())
	assert.Contains(t, buf.String(), "skipping rule")

	out := set.Evaluate(feature.Vector{"price": 150})
	assert.Equal(t, -20, out.Adjustment)
	assert.Equal(t, []string{"price>>100"}, out.Skipped)
}

// #endregion evaluate-tests

func mustParse(t *testing.T, s string) Condition {
	t.Helper()
	c, err := Parse(s)
	require.NoError(t, err, s)
	return c
}
