package rules

import (
	"log/slog"

	"github.com/danielpatrickdp/persona-engine/internal/feature"
)

// #region set
type compiled struct {
	rule Rule
	cond Condition
}

// Set is an ordered list of parsed rules. Unparsable rules are dropped at
// compile time and remembered in Skipped.
type Set struct {
	rules   []compiled
	skipped []string
}

// Compile parses every rule condition once. A rule that fails to parse is
// logged at warn level and skipped; it never aborts compilation.
func Compile(rules []Rule, logger *slog.Logger) *Set {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Set{rules: make([]compiled, 0, len(rules))}
	for i, r := range rules {
		cond, err := Parse(r.Condition)
		if err != nil {
			logger.Warn("skipping rule",
				slog.String("component", "rules"),
				slog.Int("index", i),
				slog.String("condition", r.Condition),
				slog.Any("error", err))
			s.skipped = append(s.skipped, r.Condition)
			continue
		}
		s.rules = append(s.rules, compiled{rule: r, cond: cond})
	}
	return s
}

// Len returns the number of usable rules.
func (s *Set) Len() int { return len(s.rules) }

// Skipped returns the conditions dropped at compile time.
func (s *Set) Skipped() []string {
	return append([]string(nil), s.skipped...)
}

// #endregion set

// #region evaluate
// Evaluate fires every matching rule in order. Adjustments sum, injections
// overwrite by name, and reasons are collected in rule order.
func (s *Set) Evaluate(v feature.Vector) Outcome {
	out := Outcome{
		Metrics: map[string]float64{},
		Skipped: s.Skipped(),
	}
	for _, c := range s.rules {
		if !c.cond.Eval(v) {
			continue
		}
		out.Fired++
		out.Adjustment += c.rule.ScoreAdjustment
		if c.rule.SetMetric != nil && c.rule.SetMetric.Name != "" {
			out.Metrics[c.rule.SetMetric.Name] = c.rule.SetMetric.Value
		}
		if c.rule.Reason != "" {
			out.Reasons = append(out.Reasons, c.rule.Reason)
		}
	}
	return out
}

// Evaluate is a convenience for one-off evaluation of an uncompiled rule list.
func Evaluate(rules []Rule, v feature.Vector, logger *slog.Logger) Outcome {
	return Compile(rules, logger).Evaluate(v)
}

// #endregion evaluate
