// Package engine turns a persona, a set of weighted objectives and a candidate
// action space into a ranked, risk-gated recommendation with a bounded
// confidence and a structured explanation.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/persona-engine/internal/audit"
	"github.com/danielpatrickdp/persona-engine/internal/feature"
	"github.com/danielpatrickdp/persona-engine/internal/persona"
	"github.com/danielpatrickdp/persona-engine/internal/risk"
	"github.com/danielpatrickdp/persona-engine/internal/scorer"
	"github.com/danielpatrickdp/persona-engine/internal/telemetry"
)

// Auditor accepts audit entries without blocking. *audit.Dispatcher implements it.
type Auditor interface {
	Submit(e audit.Entry) bool
}

// #region engine
// Engine is safe for concurrent use. It holds no per-request state.
type Engine struct {
	cfg       Config
	store     persona.Store
	predictor scorer.Predictor
	optimizer scorer.Scorer
	risk      risk.Classifier
	auditor   Auditor
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore sets the persona store. Without one every decision runs on defaults.
func WithStore(s persona.Store) Option { return func(e *Engine) { e.store = s } }

// WithPredictor enables the ML stage for requests with ml_enabled.
func WithPredictor(p scorer.Predictor) Option { return func(e *Engine) { e.predictor = p } }

// WithOptimizer enables the optimizer stage for requests with optimization_enabled.
func WithOptimizer(s scorer.Scorer) Option { return func(e *Engine) { e.optimizer = s } }

// WithRiskModel replaces the rule model built from Config.RiskRules.
func WithRiskModel(c risk.Classifier) Option { return func(e *Engine) { e.risk = c } }

func WithAuditor(a Auditor) Option { return func(e *Engine) { e.auditor = a } }

func WithMetrics(m *telemetry.Metrics) Option { return func(e *Engine) { e.metrics = m } }

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// New validates cfg and wires the dependencies.
func New(cfg Config, opts ...Option) (*Engine, error) {
	def := DefaultConfig()
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = def.MaxParallel
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = def.DefaultTopK
	}
	if !cfg.DefaultMaxRisk.Valid() {
		cfg.DefaultMaxRisk = def.DefaultMaxRisk
	}
	if !cfg.DefaultRiskAppetite.Valid() || cfg.DefaultRiskAppetite == risk.Critical {
		cfg.DefaultRiskAppetite = def.DefaultRiskAppetite
	}
	if cfg.Normalizers == nil {
		cfg.Normalizers = def.Normalizers
	}
	if err := cfg.Normalizers.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	e := &Engine{cfg: cfg, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	if e.risk == nil {
		riskRules := cfg.RiskRules
		if riskRules == nil {
			riskRules = def.RiskRules
		}
		model, err := risk.NewRuleModel(riskRules)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		e.risk = model
	}
	e.logger = e.logger.With(slog.String("component", "engine"))
	return e, nil
}

// #endregion engine

// #region decide
// Decide runs the full pipeline. A returned error always wraps ErrEngineFailure
// and means no decision was computed; ESCALATE is a normal response.
func (e *Engine) Decide(ctx context.Context, req Request, sec SecurityContext) (resp *Response, err error) {
	start := e.now()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("decision aborted",
				slog.String("request_id", req.RequestID),
				slog.Any("panic", r))
			resp = nil
			err = fmt.Errorf("%w: %v", ErrEngineFailure, r)
		}
	}()

	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	dc := BuildContext(ctx, e.store, req, sec, e.cfg, e.logger)
	if req.Persona != "" && !dc.PersonaLoaded() {
		e.metrics.PersonaFellBack()
	}
	e.metrics.RuleSkipped(len(dc.Rules().Skipped()))

	results, err := e.scoreAll(ctx, dc, req)
	if err != nil {
		e.logger.Error("scoring failed", slog.String("request_id", req.RequestID), slog.Any("error", err))
		return nil, fmt.Errorf("%w: %w", ErrEngineFailure, err)
	}

	flags := requestFlags(req)
	inputFlags := len(flags)
	ranked := make([]ScoredCandidate, len(results))
	for i, r := range results {
		ranked[i] = r.scored
		flags = append(flags, r.flags...)
	}
	Rank(ranked)
	decision := Gate(ranked, dc)

	modelConfidence := 1.0
	if len(ranked) > 0 {
		modelConfidence = results[ranked[0].order].modelConfidence
	}
	// Scorer degradation is reported in flags but priced only through model confidence.
	dataQuality := DataQuality(inputFlags)
	conf := Confidence(dataQuality, modelConfidence, ContextStability(req.InputData))

	resp = &Response{
		RequestID:     req.RequestID,
		DecisionID:    uuid.NewString(),
		Decision:      decision,
		Confidence:    conf,
		TopCandidates: TopK(ranked, dc.Options().TopK),
		Explanation:   explain(decision, ranked, dc, conf),
	}
	elapsed := e.now().Sub(start)
	resp.Telemetry = Telemetry{
		DataQuality:      dataQuality,
		QualityFlags:     flags,
		ProcessingTimeMs: float64(elapsed.Microseconds()) / 1000,
		PersonaLoaded:    dc.PersonaLoaded(),
	}

	e.record(dc, req, ranked, resp)
	e.metrics.ObserveDecision(string(decision.Type), decision.Reason, elapsed.Seconds(), len(req.ActionSpace))
	e.logger.Info("decision",
		slog.String("request_id", resp.RequestID),
		slog.String("decision_id", resp.DecisionID),
		slog.String("tenant_id", sec.TenantID),
		slog.String("type", string(decision.Type)),
		slog.Int("candidates", len(ranked)),
		slog.Float64("confidence", conf),
		slog.Duration("elapsed", elapsed))
	return resp, nil
}

// #endregion decide

// #region scoring
type candidateResult struct {
	scored          ScoredCandidate
	modelConfidence float64
	flags           []string
}

// scoreAll scores candidates concurrently; ranking waits on every result.
func (e *Engine) scoreAll(ctx context.Context, dc *Context, req Request) ([]candidateResult, error) {
	results := make([]candidateResult, len(req.ActionSpace))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxParallel)
	for i, cand := range req.ActionSpace {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("candidate %q: panic: %v", cand.ID, r)
				}
			}()
			results[i] = e.scoreCandidate(gctx, dc, req.InputData, cand, i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Engine) scoreCandidate(ctx context.Context, dc *Context, input map[string]any, cand Candidate, order int) candidateResult {
	v := feature.Extract(input, cand.Properties, cand.ID, cand.Name, dc.RiskAppetite())
	outcome := dc.Rules().Evaluate(v)
	stats := e.cfg.Normalizers.Apply(v)
	res := candidateResult{modelConfidence: 1.0}

	opts := dc.Options()
	timeout := scorerTimeout(e.cfg, opts)
	var ml, opt scorer.Metrics
	if opts.MLEnabled && e.predictor != nil {
		pred, err := callWithTimeout(ctx, timeout, func(c context.Context) (scorer.Prediction, error) {
			return e.predictor.Predict(c, dc.ModelID(), v)
		})
		if err != nil {
			e.scorerFailed("ml", dc, cand, err)
			res.modelConfidence = failedPredictConfidence
			res.flags = append(res.flags, FlagDegraded+"ml:"+cand.ID)
		} else {
			ml = pred.Metrics
			res.modelConfidence = clamp(pred.Confidence, 0, 1)
		}
	}
	if opts.OptimizationEnabled && e.optimizer != nil {
		m, err := callWithTimeout(ctx, timeout, func(c context.Context) (scorer.Metrics, error) {
			return e.optimizer.Score(c, v)
		})
		if err != nil {
			e.scorerFailed("optimizer", dc, cand, err)
			res.flags = append(res.flags, FlagDegraded+"optimizer:"+cand.ID)
		} else {
			opt = m
		}
	}

	metrics := MergeMetrics(dc.additional, stats, ml, opt, outcome.Metrics)
	base, used := Aggregate(dc.weights, metrics)
	reasons := outcome.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	res.scored = ScoredCandidate{
		Action:             cand,
		Score:              FinalScore(base, outcome.Adjustment),
		Risk:               e.risk.Classify(v),
		EstimatedLatencyMs: EstimateLatency(v),
		Evidence: Evidence{
			TriggeredRules: reasons,
			MetricsUsed:    used,
			RuleAdjustment: outcome.Adjustment,
		},
		order: order,
	}
	return res
}

// callWithTimeout bounds fn even when it ignores its context. A panic in fn is
// reported as an error so a broken scorer degrades the candidate only.
func callWithTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		val T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				ch <- result{zero, fmt.Errorf("scorer panic: %v", r)}
			}
		}()
		val, err := fn(tctx)
		ch <- result{val, err}
	}()

	select {
	case r := <-ch:
		return r.val, r.err
	case <-tctx.Done():
		var zero T
		return zero, tctx.Err()
	}
}

func (e *Engine) scorerFailed(name string, dc *Context, cand Candidate, err error) {
	e.metrics.ScorerFailed(name)
	e.logger.Warn("scorer failed, continuing without its metrics",
		slog.String("scorer", name),
		slog.String("request_id", dc.RequestID()),
		slog.String("action_id", cand.ID),
		slog.Any("error", err))
}

// #endregion scoring

// #region audit
func (e *Engine) record(dc *Context, req Request, ranked []ScoredCandidate, resp *Response) {
	if e.auditor == nil {
		return
	}
	entry := audit.Entry{
		DecisionID:   resp.DecisionID,
		RequestID:    resp.RequestID,
		TenantID:     dc.TenantID(),
		UserID:       dc.UserID(),
		PersonaID:    dc.PersonaID(),
		DecisionType: string(resp.Decision.Type),
		Reason:       resp.Decision.Reason,
		Confidence:   resp.Confidence,
		CreatedAt:    e.now().UTC(),
	}
	if len(ranked) > 0 {
		entry.ActionID = ranked[0].Action.ID
		entry.Score = ranked[0].Score
		entry.Risk = ranked[0].Risk.String()
	}
	if raw, err := json.Marshal(req); err == nil {
		entry.RequestJSON = string(raw)
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		e.logger.Warn("audit payload not encodable", slog.String("decision_id", resp.DecisionID), slog.Any("error", err))
	} else {
		entry.PayloadJSON = string(payload)
	}
	e.auditor.Submit(entry)
}

// #endregion audit

// #region validate-feedback
// Validate exposes the ingest stage for pre-flight checks.
func (e *Engine) Validate(raw map[string]any) ValidationResult {
	return Validate(raw)
}

// Feedback acknowledges an outcome report. Nothing is persisted.
func (e *Engine) Feedback(ctx context.Context, p FeedbackPayload) FeedbackAck {
	e.logger.InfoContext(ctx, "feedback received",
		slog.String("request_id", p.RequestID),
		slog.String("decision_id", p.DecisionID),
		slog.String("action_id", p.ActionID),
		slog.String("outcome", p.Outcome),
		slog.Any("rating", p.Rating))
	e.metrics.FeedbackReceived()
	return FeedbackAck{Status: "acknowledged", RequestID: p.RequestID, ReceivedAt: e.now().UTC()}
}

// #endregion validate-feedback
