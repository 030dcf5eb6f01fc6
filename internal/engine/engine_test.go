package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/persona-engine/internal/audit"
	"github.com/danielpatrickdp/persona-engine/internal/feature"
	"github.com/danielpatrickdp/persona-engine/internal/persona"
	"github.com/danielpatrickdp/persona-engine/internal/risk"
	"github.com/danielpatrickdp/persona-engine/internal/rules"
	"github.com/danielpatrickdp/persona-engine/internal/scorer"
	"github.com/danielpatrickdp/persona-engine/internal/telemetry"
)

// #region helpers
var sec = SecurityContext{TenantID: "acme", UserID: "u-1"}

func newEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := New(DefaultConfig(), opts...)
	require.NoError(t, err)
	return e
}

func decide(t *testing.T, e *Engine, req Request) *Response {
	t.Helper()
	resp, err := e.Decide(context.Background(), req, sec)
	require.NoError(t, err)
	require.NotNil(t, resp)
	return resp
}

func ptr(f float64) *float64 { return &f }

type recordingAuditor struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingAuditor) Submit(e audit.Entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return true
}

type failingStore struct{ err error }

func (f failingStore) Lookup(context.Context, string, string) (*persona.Profile, error) {
	return nil, f.err
}

type blockingStore struct{}

func (blockingStore) Lookup(ctx context.Context, _, _ string) (*persona.Profile, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type panicClassifier struct{}

func (panicClassifier) Classify(feature.Vector) risk.Level { panic("model exploded") }

// #endregion helpers

// #region scenario-tests
func TestDecide_SpeedScenario(t *testing.T) {
	e := newEngine(t)
	resp := decide(t, e, Request{
		Objectives: []Objective{{Name: "speed", Weight: 1.0}},
		ActionSpace: []Candidate{
			{ID: "b", Properties: map[string]any{"price": 0, "duration_minutes": 12000}},
			{ID: "a", Properties: map[string]any{"price": 20, "duration_minutes": 5}},
		},
	})

	require.Len(t, resp.TopCandidates, 2)
	assert.Equal(t, "a", resp.TopCandidates[0].Action.ID)
	assert.InDelta(t, 100/(1+5.0/30), resp.TopCandidates[0].Score, 1e-9)
	assert.InDelta(t, 100/(1+12000.0/30), resp.TopCandidates[1].Score, 1e-9)
	assert.Equal(t, []string{"speed"}, resp.TopCandidates[0].Evidence.MetricsUsed)
	assert.Equal(t, 300000.0, resp.TopCandidates[0].EstimatedLatencyMs)
	assert.Equal(t, DecisionRecommend, resp.Decision.Type)
	require.NotNil(t, resp.Decision.Action)
	assert.Equal(t, "a", resp.Decision.Action.ID)
}

func TestDecide_EmptyActionSpace(t *testing.T) {
	e := newEngine(t)
	resp := decide(t, e, Request{RequestID: "r-empty"})

	assert.Equal(t, "r-empty", resp.RequestID)
	assert.Equal(t, DecisionEscalate, resp.Decision.Type)
	assert.Nil(t, resp.Decision.Action)
	assert.Equal(t, ReasonNoCandidates, resp.Decision.Reason)
	assert.NotNil(t, resp.TopCandidates)
	assert.Empty(t, resp.TopCandidates)

	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, []any{}, decoded["top_candidates"])
	assert.Nil(t, decoded["decision"].(map[string]any)["action"])
}

func TestDecide_RuleAdjustmentIsExact(t *testing.T) {
	profile := func(withRule bool) *persona.Profile {
		p := &persona.Profile{
			ID: "p-1", Name: "saver", TenantID: "acme",
			Attributes: persona.Attributes{Priorities: map[string]float64{"cost": 1}},
		}
		if withRule {
			p.Attributes.Rules = []rules.Rule{{Condition: "price > 100", ScoreAdjustment: -20, Reason: "too expensive"}}
		}
		return p
	}
	req := Request{Persona: "saver", ActionSpace: []Candidate{{ID: "x", Properties: map[string]any{"price": 150}}}}

	without := decide(t, newEngine(t, WithStore(persona.NewMemoryStore(profile(false)))), req)
	with := decide(t, newEngine(t, WithStore(persona.NewMemoryStore(profile(true)))), req)

	assert.InDelta(t, 25.0, without.TopCandidates[0].Score, 1e-9)
	assert.InDelta(t, without.TopCandidates[0].Score-20, with.TopCandidates[0].Score, 1e-9)
	assert.Equal(t, []string{"too expensive"}, with.TopCandidates[0].Evidence.TriggeredRules)
	assert.Equal(t, -20, with.TopCandidates[0].Evidence.RuleAdjustment)
	assert.Equal(t, []string{"too expensive"}, with.Explanation.TriggeredRules)
}

func TestDecide_HighMinScoreEscalates(t *testing.T) {
	store := persona.NewMemoryStore(&persona.Profile{
		ID: "p-strict", Name: "strict", TenantID: "acme",
		Attributes: persona.Attributes{
			Priorities: map[string]float64{"quality": 1},
			Thresholds: persona.Thresholds{MinScore: ptr(90)},
		},
	})
	e := newEngine(t, WithStore(store))
	resp := decide(t, e, Request{
		Persona: "strict",
		ActionSpace: []Candidate{
			{ID: "good", Properties: map[string]any{"quality": 0.7}},
			{ID: "worse", Properties: map[string]any{"quality": 0.4}},
		},
	})

	assert.InDelta(t, 70.0, resp.TopCandidates[0].Score, 1e-9)
	assert.Equal(t, DecisionEscalate, resp.Decision.Type)
	assert.Equal(t, ReasonBelowThresholds, resp.Decision.Reason)
	require.NotNil(t, resp.Decision.Action)
	assert.Equal(t, "good", resp.Decision.Action.ID)
	assert.Contains(t, resp.Explanation.Summary, "Escalated")
}

func TestDecide_ValidateRoundTrip(t *testing.T) {
	e := newEngine(t)
	raw := map[string]any{"budget": 100, "note": "", "origin": nil, "legs": []any{1, 2}, "city": "Oslo"}
	v := e.Validate(raw)
	require.NotEmpty(t, v.QualityFlags)

	resp := decide(t, e, Request{
		InputData:   v.NormalizedData,
		ActionSpace: []Candidate{{ID: "a", Properties: map[string]any{"quality": 0.9}}},
	})
	assert.Empty(t, resp.Telemetry.QualityFlags)
	assert.Equal(t, 1.0, resp.Telemetry.DataQuality)
}

// #endregion scenario-tests

// #region degrade-tests
func TestDecide_PersonaStoreFailureFallsBack(t *testing.T) {
	m := telemetry.New(prometheus.NewRegistry())
	for name, store := range map[string]persona.Store{
		"error":   failingStore{err: errors.New("connection refused")},
		"missing": persona.NewMemoryStore(),
	} {
		t.Run(name, func(t *testing.T) {
			e := newEngine(t, WithStore(store), WithMetrics(m))
			resp := decide(t, e, Request{
				Persona:     "ghost",
				ActionSpace: []Candidate{{ID: "a", Properties: map[string]any{"quality": 0.9}}},
			})
			assert.False(t, resp.Telemetry.PersonaLoaded)
			assert.Equal(t, DecisionRecommend, resp.Decision.Type)
			assert.Equal(t, 50.0, resp.TopCandidates[0].Score, "no weights")
		})
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PersonaFallback))
}

func TestDecide_PersonaLookupHonorsTimeout(t *testing.T) {
	e := newEngine(t, WithStore(blockingStore{}))
	start := time.Now()
	resp := decide(t, e, Request{
		Persona:     "slow",
		Options:     Options{TimeoutMs: 20},
		ActionSpace: []Candidate{{ID: "a"}},
	})
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, resp.Telemetry.PersonaLoaded)
}

func TestDecide_UnparsableRuleIsSkipped(t *testing.T) {
	m := telemetry.New(prometheus.NewRegistry())
	store := persona.NewMemoryStore(&persona.Profile{
		ID: "p", Name: "p", TenantID: "acme",
		Attributes: persona.Attributes{Rules: []rules.Rule{
			{Condition: "price>100", ScoreAdjustment: -50},
			{Condition: "price > 10", ScoreAdjustment: 5, Reason: "boost"},
		}},
	})
	e := newEngine(t, WithStore(store), WithMetrics(m))
	resp := decide(t, e, Request{Persona: "p", ActionSpace: []Candidate{{ID: "a", Properties: map[string]any{"price": 150}}}})

	assert.Equal(t, 55.0, resp.TopCandidates[0].Score)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RulesSkipped))
}

func TestDecide_InvalidMaxRiskAlwaysEscalates(t *testing.T) {
	e := newEngine(t)
	resp := decide(t, e, Request{
		Constraints: Constraints{MaxRisk: "whatever"},
		ActionSpace: []Candidate{{ID: "a", Properties: map[string]any{"danger": 0}}},
	})
	assert.Equal(t, risk.Low, resp.TopCandidates[0].Risk)
	assert.Equal(t, DecisionEscalate, resp.Decision.Type)
}

func TestDecide_PanicBecomesEngineFailure(t *testing.T) {
	e := newEngine(t, WithRiskModel(panicClassifier{}))
	resp, err := e.Decide(context.Background(), Request{ActionSpace: []Candidate{{ID: "a"}}}, sec)
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, ErrEngineFailure)
	assert.ErrorContains(t, err, "model exploded")
}

// #endregion degrade-tests

// #region scorer-tests
func TestDecide_ScorersMergeMetrics(t *testing.T) {
	var gotModel string
	var mu sync.Mutex
	predictor := scorer.PredictorFunc(func(_ context.Context, modelID string, v feature.Vector) (scorer.Prediction, error) {
		mu.Lock()
		gotModel = modelID
		mu.Unlock()
		if v[feature.KeyActionID] == "a" {
			return scorer.Prediction{Metrics: scorer.Metrics{"satisfaction": 1}, Confidence: 0.9}, nil
		}
		return scorer.Prediction{Metrics: scorer.Metrics{"satisfaction": 0}, Confidence: 0.2}, nil
	})
	optimizer := scorer.ScorerFunc(func(context.Context, feature.Vector) (scorer.Metrics, error) {
		return scorer.Metrics{"cost_optimization": 0.5, "speed": 0}, nil
	})
	store := persona.NewMemoryStore(&persona.Profile{ID: "p", Name: "p", TenantID: "acme", ModelID: "m-1"})
	e := newEngine(t, WithStore(store), WithPredictor(predictor), WithOptimizer(optimizer))

	resp := decide(t, e, Request{
		Persona:    "p",
		Objectives: []Objective{{Name: "satisfaction", Weight: 1}, {Name: "cost_optimization", Weight: 1}, {Name: "speed", Weight: 1}},
		Options:    Options{MLEnabled: true, OptimizationEnabled: true},
		ActionSpace: []Candidate{
			{ID: "b", Properties: map[string]any{"duration_minutes": 0}},
			{ID: "a", Properties: map[string]any{"duration_minutes": 0}},
		},
	})

	assert.Equal(t, "m-1", gotModel)
	assert.Equal(t, "a", resp.TopCandidates[0].Action.ID)
	// optimizer speed=0 overrides the normalizer's speed=1
	assert.InDelta(t, 50.0, resp.TopCandidates[0].Score, 1e-9)
	assert.InDelta(t, 0.9*0.95, resp.Confidence, 1e-9)
}

func TestDecide_DisabledScorersAreNotCalled(t *testing.T) {
	called := false
	predictor := scorer.PredictorFunc(func(context.Context, string, feature.Vector) (scorer.Prediction, error) {
		called = true
		return scorer.Prediction{}, nil
	})
	e := newEngine(t, WithPredictor(predictor))
	resp := decide(t, e, Request{ActionSpace: []Candidate{{ID: "a"}}})
	assert.False(t, called)
	assert.InDelta(t, 0.95, resp.Confidence, 1e-9)
}

func TestDecide_ScorerFailureDegrades(t *testing.T) {
	m := telemetry.New(prometheus.NewRegistry())
	predictor := scorer.PredictorFunc(func(context.Context, string, feature.Vector) (scorer.Prediction, error) {
		return scorer.Prediction{}, errors.New("backend unavailable")
	})
	optimizer := scorer.ScorerFunc(func(ctx context.Context, _ feature.Vector) (scorer.Metrics, error) {
		time.Sleep(time.Second)
		return scorer.Metrics{"speed": 1}, nil
	})
	cfg := DefaultConfig()
	cfg.ScorerTimeout = 20 * time.Millisecond
	e, err := New(cfg, WithPredictor(predictor), WithOptimizer(optimizer), WithMetrics(m))
	require.NoError(t, err)

	start := time.Now()
	resp := decide(t, e, Request{
		Objectives:  []Objective{{Name: "speed", Weight: 1}},
		Options:     Options{MLEnabled: true, OptimizationEnabled: true},
		ActionSpace: []Candidate{{ID: "a", Properties: map[string]any{"duration_minutes": 30}}},
	})
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.InDelta(t, 50.0, resp.TopCandidates[0].Score, 1e-9, "normalizer speed only")
	assert.ElementsMatch(t, []string{"degraded:ml:a", "degraded:optimizer:a"}, resp.Telemetry.QualityFlags)
	assert.Equal(t, 1.0, resp.Telemetry.DataQuality, "scorer failures are not input defects")
	assert.InDelta(t, failedPredictConfidence*0.95, resp.Confidence, 1e-9)
	assert.Equal(t, "Low", resp.Explanation.ConfidenceLabel)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScorerFailures.WithLabelValues("ml")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScorerFailures.WithLabelValues("optimizer")))
}

func TestDecide_OptimizerOutageKeepsConfidence(t *testing.T) {
	optimizer := scorer.ScorerFunc(func(context.Context, feature.Vector) (scorer.Metrics, error) {
		return nil, errors.New("optimizer down")
	})
	e := newEngine(t, WithOptimizer(optimizer))

	var cands []Candidate
	for i := 0; i < 10; i++ {
		cands = append(cands, Candidate{ID: string(rune('a' + i)), Properties: map[string]any{"quality": 0.9}})
	}
	resp := decide(t, e, Request{
		InputData:   map[string]any{"time_horizon_days": 1},
		Objectives:  []Objective{{Name: "quality", Weight: 1}},
		Options:     Options{OptimizationEnabled: true},
		ActionSpace: cands,
	})
	assert.Len(t, resp.Telemetry.QualityFlags, 10)
	assert.Equal(t, 1.0, resp.Telemetry.DataQuality)
	assert.Equal(t, 1.0, resp.Confidence)
	assert.Equal(t, "High", resp.Explanation.ConfidenceLabel)
}

func TestDecide_ScorerPanicDegrades(t *testing.T) {
	optimizer := scorer.ScorerFunc(func(context.Context, feature.Vector) (scorer.Metrics, error) {
		panic("nil map")
	})
	e := newEngine(t, WithOptimizer(optimizer))
	resp := decide(t, e, Request{Options: Options{OptimizationEnabled: true}, ActionSpace: []Candidate{{ID: "a"}}})
	assert.Equal(t, []string{"degraded:optimizer:a"}, resp.Telemetry.QualityFlags)
}

func TestDecide_ParallelScoringKeepsEveryCandidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxParallel = 3
	e, err := New(cfg)
	require.NoError(t, err)

	var cands []Candidate
	for i := 0; i < 40; i++ {
		cands = append(cands, Candidate{ID: string(rune('A' + i)), Properties: map[string]any{"quality": float64(i) / 40}})
	}
	resp := decide(t, e, Request{
		Objectives:  []Objective{{Name: "quality", Weight: 1}},
		Options:     Options{TopK: 50},
		ActionSpace: cands,
	})
	require.Len(t, resp.TopCandidates, 40)
	for i := 1; i < len(resp.TopCandidates); i++ {
		assert.GreaterOrEqual(t, resp.TopCandidates[i-1].Score, resp.TopCandidates[i].Score)
	}
}

// #endregion scorer-tests

// #region output-tests
func TestDecide_TopKAndExplanation(t *testing.T) {
	store := persona.NewMemoryStore(&persona.Profile{
		ID: "p-9", Name: "traveller", TenantID: "acme",
		Attributes: persona.Attributes{Priorities: map[string]float64{"quality": 0.6, "speed": 0.4}},
	})
	e := newEngine(t, WithStore(store))
	resp := decide(t, e, Request{
		Persona:   "p-9",
		InputData: map[string]any{"time_horizon_days": 2},
		ActionSpace: []Candidate{
			{ID: "a", Name: "Train", Properties: map[string]any{"quality": 0.9, "duration_minutes": 60}},
			{ID: "b", Name: "Bus", Properties: map[string]any{"quality": 0.5, "duration_minutes": 90}},
			{ID: "c", Name: "Walk", Properties: map[string]any{"quality": 0.6, "duration_minutes": 600}},
			{ID: "d", Name: "Taxi", Properties: map[string]any{"quality": 0.8, "duration_minutes": 20}},
		},
	})

	assert.Len(t, resp.TopCandidates, 3)
	assert.NotEmpty(t, resp.DecisionID)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, 1.0, resp.Confidence)
	assert.Equal(t, "High", resp.Explanation.ConfidenceLabel)
	assert.Equal(t, []WeightEntry{{Objective: "quality", Weight: 0.6}, {Objective: "speed", Weight: 0.4}}, resp.Explanation.Weights)
	assert.Contains(t, resp.Explanation.Summary, `"Taxi"`)
	assert.Contains(t, resp.Explanation.Summary, `persona "traveller"`)
	assert.True(t, resp.Telemetry.PersonaLoaded)
}

func TestDecide_RecordsAudit(t *testing.T) {
	aud := &recordingAuditor{}
	m := telemetry.New(prometheus.NewRegistry())
	e := newEngine(t, WithAuditor(aud), WithMetrics(m))
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return fixed }

	resp := decide(t, e, Request{RequestID: "r-1", ActionSpace: []Candidate{{ID: "a", Properties: map[string]any{"danger": 0.9}}}})
	require.Len(t, aud.entries, 1)
	got := aud.entries[0]
	assert.Equal(t, resp.DecisionID, got.DecisionID)
	assert.Equal(t, "r-1", got.RequestID)
	assert.Equal(t, "acme", got.TenantID)
	assert.Equal(t, "u-1", got.UserID)
	assert.Equal(t, "ESCALATE", got.DecisionType)
	assert.Equal(t, ReasonBelowThresholds, got.Reason)
	assert.Equal(t, "a", got.ActionID)
	assert.Equal(t, "CRITICAL", got.Risk)
	assert.Equal(t, fixed, got.CreatedAt)

	var payload Response
	require.NoError(t, json.Unmarshal([]byte(got.PayloadJSON), &payload))
	assert.Equal(t, resp.DecisionID, payload.DecisionID)
	assert.Equal(t, risk.Critical, payload.TopCandidates[0].Risk)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decisions.WithLabelValues("ESCALATE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Escalations.WithLabelValues(ReasonBelowThresholds)))
}

func TestDecide_RequestConstraintsOverridePersona(t *testing.T) {
	store := persona.NewMemoryStore(&persona.Profile{
		ID: "p", Name: "p", TenantID: "acme",
		Attributes: persona.Attributes{Thresholds: persona.Thresholds{MinScore: ptr(95), MaxRisk: "LOW"}},
	})
	e := newEngine(t, WithStore(store))
	resp := decide(t, e, Request{
		Persona:     "p",
		Constraints: Constraints{MinScore: ptr(10), MaxRisk: "HIGH"},
		ActionSpace: []Candidate{{ID: "a", Properties: map[string]any{"danger": 0.6}}},
	})
	assert.Equal(t, risk.High, resp.TopCandidates[0].Risk)
	assert.Equal(t, DecisionRecommend, resp.Decision.Type)
}

func TestFeedback(t *testing.T) {
	m := telemetry.New(prometheus.NewRegistry())
	e := newEngine(t, WithMetrics(m))
	ack := e.Feedback(context.Background(), FeedbackPayload{RequestID: "r-1", Outcome: "accepted", Rating: ptr(4)})
	assert.Equal(t, "acknowledged", ack.Status)
	assert.Equal(t, "r-1", ack.RequestID)
	assert.False(t, ack.ReceivedAt.IsZero())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Feedback))
}

func TestNew_RejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RiskRules = []risk.Rule{{ActionPattern: "(", Level: risk.High}}
	_, err := New(cfg)
	assert.Error(t, err)
}

// #endregion output-tests
