package engine

import (
	"errors"
	"time"

	"github.com/danielpatrickdp/persona-engine/internal/normalize"
	"github.com/danielpatrickdp/persona-engine/internal/risk"
)

// ErrEngineFailure marks a decision that could not be computed at all, as
// opposed to a computed ESCALATE.
var ErrEngineFailure = errors.New("decision engine failure")

// #region decision-type
// DecisionType is the outcome of the threshold gate.
type DecisionType string

const (
	DecisionRecommend DecisionType = "RECOMMEND"
	DecisionEscalate  DecisionType = "ESCALATE"
)

// Escalation reasons.
const (
	ReasonBelowThresholds = "Below thresholds"
	ReasonNoCandidates    = "No valid candidates"
)

// #endregion decision-type

// #region request
// Objective is a request-level weight override for one named metric.
type Objective struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// Constraints override the persona thresholds for one request.
type Constraints struct {
	MinScore *float64 `json:"min_score,omitempty"`
	MaxRisk  string   `json:"max_risk,omitempty"`
}

// Options toggles optional stages.
type Options struct {
	MLEnabled           bool `json:"ml_enabled"`
	OptimizationEnabled bool `json:"optimization_enabled"`
	TopK                int  `json:"top_k,omitempty"`
	// TimeoutMs bounds the persona lookup and each scorer call. Zero uses the engine defaults.
	TimeoutMs int `json:"timeout_ms,omitempty"`
}

// Candidate is one action in the decision space.
type Candidate struct {
	ID         string         `json:"id"`
	Name       string         `json:"name,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Request is one decide call.
type Request struct {
	RequestID    string         `json:"request_id,omitempty"`
	Persona      string         `json:"persona,omitempty"` // id or name
	InputData    map[string]any `json:"input_data,omitempty"`
	Objectives   []Objective    `json:"objectives,omitempty"`
	Constraints  Constraints    `json:"constraints,omitempty"`
	RiskAppetite string         `json:"risk_appetite,omitempty"`
	Options      Options        `json:"options,omitempty"`
	ActionSpace  []Candidate    `json:"action_space"`
}

// SecurityContext identifies the caller; authentication happens upstream.
type SecurityContext struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
}

// #endregion request

// #region response
// Evidence explains one candidate's score.
type Evidence struct {
	TriggeredRules []string `json:"triggered_rules"`
	MetricsUsed    []string `json:"metrics_used"`
	RuleAdjustment int      `json:"rule_adjustment"`
}

// ScoredCandidate is a candidate after aggregation and risk classification.
type ScoredCandidate struct {
	Action             Candidate  `json:"action"`
	Score              float64    `json:"score"`
	Risk               risk.Level `json:"risk"`
	EstimatedLatencyMs float64    `json:"estimated_latency_ms"`
	Evidence           Evidence   `json:"evidence"`

	order int // input position, last tie-break
}

// Decision is the gate outcome.
type Decision struct {
	Type   DecisionType `json:"type"`
	Action *Candidate   `json:"action"`
	Reason string       `json:"reason,omitempty"`
}

// WeightEntry is one objective weight used for the decision.
type WeightEntry struct {
	Objective string  `json:"objective"`
	Weight    float64 `json:"weight"`
}

// Explanation is the structured rationale.
type Explanation struct {
	Summary         string        `json:"summary"`
	Weights         []WeightEntry `json:"weights"`
	ConfidenceLabel string        `json:"confidence_label"`
	TriggeredRules  []string      `json:"triggered_rules,omitempty"`
}

// Telemetry carries input quality and timing.
type Telemetry struct {
	DataQuality      float64  `json:"data_quality"`
	QualityFlags     []string `json:"quality_flags,omitempty"`
	ProcessingTimeMs float64  `json:"processing_time_ms"`
	PersonaLoaded    bool     `json:"persona_loaded"`
}

// Response is the full decide result.
type Response struct {
	RequestID     string            `json:"request_id"`
	DecisionID    string            `json:"decision_id"`
	Decision      Decision          `json:"decision"`
	Confidence    float64           `json:"confidence"`
	TopCandidates []ScoredCandidate `json:"top_candidates"`
	Explanation   Explanation       `json:"explanation"`
	Telemetry     Telemetry         `json:"telemetry"`
}

// #endregion response

// #region validate-feedback
// ValidationResult is the standalone ingest+normalize output.
type ValidationResult struct {
	Valid          bool           `json:"valid"`
	QualityFlags   []string       `json:"quality_flags"`
	NormalizedData map[string]any `json:"normalized_data"`
}

// FeedbackPayload reports the real-world outcome of a decision.
type FeedbackPayload struct {
	RequestID  string         `json:"request_id"`
	DecisionID string         `json:"decision_id,omitempty"`
	ActionID   string         `json:"action_id,omitempty"`
	Outcome    string         `json:"outcome,omitempty"`
	Rating     *float64       `json:"rating,omitempty"`
	Comment    string         `json:"comment,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// FeedbackAck acknowledges receipt.
type FeedbackAck struct {
	Status     string    `json:"status"`
	RequestID  string    `json:"request_id,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// #endregion validate-feedback

// #region config
// Config holds engine defaults and stage tuning.
type Config struct {
	LookupTimeout       time.Duration
	ScorerTimeout       time.Duration
	MaxParallel         int
	DefaultTopK         int
	DefaultMinScore     float64
	DefaultMaxRisk      risk.Level
	DefaultRiskAppetite risk.Level
	Normalizers         normalize.Table
	RiskRules           []risk.Rule
}

// DefaultConfig returns the reference defaults.
func DefaultConfig() Config {
	return Config{
		LookupTimeout:       500 * time.Millisecond,
		ScorerTimeout:       2 * time.Second,
		MaxParallel:         8,
		DefaultTopK:         3,
		DefaultMinScore:     50,
		DefaultMaxRisk:      risk.High,
		DefaultRiskAppetite: risk.Medium,
		Normalizers:         normalize.DefaultTable(),
		RiskRules:           risk.DefaultRules(),
	}
}

// #endregion config
