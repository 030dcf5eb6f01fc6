package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveDecision(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveDecision("RECOMMEND", "", 0.01, 3)
	m.ObserveDecision("ESCALATE", "Below thresholds", 0.02, 2)
	m.ObserveDecision("ESCALATE", "No valid candidates", 0.001, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decisions.WithLabelValues("RECOMMEND")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Decisions.WithLabelValues("ESCALATE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Escalations.WithLabelValues("Below thresholds")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.DecisionLatency))
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.RuleSkipped(0)
	m.RuleSkipped(2)
	m.ScorerFailed("ml")
	m.PersonaFellBack()
	m.FeedbackReceived()
	m.AuditDropHook()()
	m.AuditFailureHook()()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RulesSkipped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScorerFailures.WithLabelValues("ml")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PersonaFallback))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Feedback))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditFailures))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveDecision("RECOMMEND", "", 0, 0)
		m.RuleSkipped(1)
		m.ScorerFailed("ml")
		m.PersonaFellBack()
		m.FeedbackReceived()
		m.AuditDropHook()()
		m.AuditFailureHook()()
	})
}
