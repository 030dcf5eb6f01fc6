// Package rules parses and evaluates persona-declared conditions of the form
// "<feature> <op> <value>" without any dynamic evaluation.
package rules

import "errors"

// ErrUnparsable is returned by Parse when a condition has no single operator.
var ErrUnparsable = errors.New("unparsable condition")

// #region op
// Op enumerates the supported comparison operators.
type Op string

const (
	OpGT Op = ">"
	OpLT Op = "<"
	OpGE Op = ">="
	OpLE Op = "<="
	OpEQ Op = "=="
	OpNE Op = "!="
)

// operatorTokens lists every operator with its required surrounding spaces.
var operatorTokens = []Op{OpGE, OpLE, OpEQ, OpNE, OpGT, OpLT}

// #endregion op

// #region literal
// LiteralKind tags the parsed right-hand side.
type LiteralKind int

const (
	LiteralNumber LiteralKind = iota
	LiteralBool
	LiteralString
)

// Literal is the typed right-hand side of a condition.
type Literal struct {
	Kind LiteralKind
	Num  float64
	Bool bool
	Str  string
}

// #endregion literal

// #region condition
// Condition is a parsed "<feature> <op> <literal>" expression.
type Condition struct {
	Feature string
	Op      Op
	Literal Literal
}

// #endregion condition

// #region rule
// MetricInjection directly sets a named metric when its rule fires.
type MetricInjection struct {
	Name  string  `yaml:"name" json:"name"`
	Value float64 `yaml:"value" json:"value"`
}

// Rule is a declarative persona rule.
type Rule struct {
	Condition       string           `yaml:"condition" json:"condition"`
	ScoreAdjustment int              `yaml:"score_adjustment,omitempty" json:"score_adjustment,omitempty"`
	Reason          string           `yaml:"reason,omitempty" json:"reason,omitempty"`
	SetMetric       *MetricInjection `yaml:"set_metric,omitempty" json:"set_metric,omitempty"`
}

// Outcome is the combined effect of every matching rule on one feature vector.
type Outcome struct {
	Adjustment int                // summed score adjustments
	Metrics    map[string]float64 // injected metrics, later rules overwrite earlier
	Reasons    []string           // reasons of fired rules, in rule order
	Fired      int
	Skipped    []string // conditions that could not be parsed
}

// #endregion rule
