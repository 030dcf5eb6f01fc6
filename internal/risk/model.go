package risk

import (
	"fmt"
	"regexp"

	"github.com/danielpatrickdp/persona-engine/internal/feature"
)

// KeyExplicitLevel lets a candidate declare its own risk level.
const KeyExplicitLevel = "risk_level"

// #region classifier
// Classifier maps a feature vector to a risk level. Implementations must be
// pure functions of the vector.
type Classifier interface {
	Classify(v feature.Vector) Level
}

// #endregion classifier

// #region rule
// Rule assigns Level when ActionPattern matches the action id and, if Feature
// is set, the feature is numeric and >= Min. Empty ActionPattern matches any action.
type Rule struct {
	ActionPattern string  `yaml:"action_pattern" json:"action_pattern,omitempty"`
	Feature       string  `yaml:"feature" json:"feature,omitempty"`
	Min           float64 `yaml:"min" json:"min,omitempty"`
	Level         Level   `yaml:"level" json:"level"`
}

// DefaultRules flags candidates carrying a "danger" score.
func DefaultRules() []Rule {
	return []Rule{
		{Feature: "danger", Min: 0.8, Level: Critical},
		{Feature: "danger", Min: 0.5, Level: High},
		{Feature: "danger", Min: 0.2, Level: Medium},
		{Feature: "danger", Min: 0, Level: Low},
	}
}

// #endregion rule

// #region rule-model
type compiledRule struct {
	Rule
	pattern *regexp.Regexp
}

// RuleModel is the default risk model: an explicit risk_level feature wins,
// then the first matching rule, then Medium.
type RuleModel struct {
	rules []compiledRule
}

// NewRuleModel compiles the rule patterns. Rules with an invalid level are rejected.
func NewRuleModel(rules []Rule) (*RuleModel, error) {
	m := &RuleModel{rules: make([]compiledRule, 0, len(rules))}
	for i, r := range rules {
		if !r.Level.Valid() {
			return nil, fmt.Errorf("risk rule %d: invalid level", i)
		}
		cr := compiledRule{Rule: r}
		if r.ActionPattern != "" {
			re, err := regexp.Compile(r.ActionPattern)
			if err != nil {
				return nil, fmt.Errorf("risk rule %d: pattern %q: %w", i, r.ActionPattern, err)
			}
			cr.pattern = re
		}
		m.rules = append(m.rules, cr)
	}
	return m, nil
}

// Classify implements Classifier.
func (m *RuleModel) Classify(v feature.Vector) Level {
	if s, ok := v.String(KeyExplicitLevel); ok {
		if lvl, ok := Parse(s); ok {
			return lvl
		}
	}
	actionID, _ := v.String(feature.KeyActionID)
	for _, r := range m.rules {
		if r.pattern != nil && !r.pattern.MatchString(actionID) {
			continue
		}
		if r.Feature != "" {
			n, ok := v.Number(r.Feature)
			if !ok || n < r.Min {
				continue
			}
		}
		return r.Level
	}
	return Medium
}

// #endregion rule-model
