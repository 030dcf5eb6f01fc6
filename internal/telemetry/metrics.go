// Package telemetry exposes Prometheus instruments for the decision engine.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// #region metrics
// Metrics bundles the engine's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Decisions       *prometheus.CounterVec
	Escalations     *prometheus.CounterVec
	RulesSkipped    prometheus.Counter
	ScorerFailures  *prometheus.CounterVec
	PersonaFallback prometheus.Counter
	AuditDropped    prometheus.Counter
	AuditFailures   prometheus.Counter
	Feedback        prometheus.Counter
	DecisionLatency prometheus.Histogram
	Candidates      prometheus.Histogram
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "persona_engine",
			Name:      "decisions_total",
			Help:      "Decisions produced, by type.",
		}, []string{"type"}),
		Escalations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "persona_engine",
			Name:      "escalations_total",
			Help:      "Escalations, by reason.",
		}, []string{"reason"}),
		RulesSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "persona_engine",
			Name:      "rules_skipped_total",
			Help:      "Persona rules skipped because their condition could not be parsed.",
		}),
		ScorerFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "persona_engine",
			Name:      "scorer_failures_total",
			Help:      "Pluggable scorer calls that failed or timed out.",
		}, []string{"scorer"}),
		PersonaFallback: f.NewCounter(prometheus.CounterOpts{
			Namespace: "persona_engine",
			Name:      "persona_fallback_total",
			Help:      "Decisions that ran on defaults because the persona could not be loaded.",
		}),
		AuditDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "persona_engine",
			Name:      "audit_dropped_total",
			Help:      "Audit entries dropped by the dispatcher.",
		}),
		AuditFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "persona_engine",
			Name:      "audit_failures_total",
			Help:      "Audit sink write failures.",
		}),
		Feedback: f.NewCounter(prometheus.CounterOpts{
			Namespace: "persona_engine",
			Name:      "feedback_total",
			Help:      "Feedback payloads acknowledged.",
		}),
		DecisionLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "persona_engine",
			Name:      "decision_duration_seconds",
			Help:      "End-to-end Decide latency.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		Candidates: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "persona_engine",
			Name:      "candidates_per_decision",
			Help:      "Size of the action space per decision.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),
	}
}

// #endregion metrics

// #region helpers
func (m *Metrics) ObserveDecision(kind, escalationReason string, seconds float64, candidates int) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(kind).Inc()
	if escalationReason != "" {
		m.Escalations.WithLabelValues(escalationReason).Inc()
	}
	m.DecisionLatency.Observe(seconds)
	m.Candidates.Observe(float64(candidates))
}

func (m *Metrics) RuleSkipped(n int) {
	if m == nil || n == 0 {
		return
	}
	m.RulesSkipped.Add(float64(n))
}

func (m *Metrics) ScorerFailed(name string) {
	if m == nil {
		return
	}
	m.ScorerFailures.WithLabelValues(name).Inc()
}

func (m *Metrics) PersonaFellBack() {
	if m == nil {
		return
	}
	m.PersonaFallback.Inc()
}

func (m *Metrics) FeedbackReceived() {
	if m == nil {
		return
	}
	m.Feedback.Inc()
}

// AuditDropHook and AuditFailureHook plug into audit.Dispatcher options.
func (m *Metrics) AuditDropHook() func() {
	return func() {
		if m != nil {
			m.AuditDropped.Inc()
		}
	}
}

func (m *Metrics) AuditFailureHook() func() {
	return func() {
		if m != nil {
			m.AuditFailures.Inc()
		}
	}
}

// #endregion helpers
