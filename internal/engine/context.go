package engine

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/danielpatrickdp/persona-engine/internal/persona"
	"github.com/danielpatrickdp/persona-engine/internal/risk"
	"github.com/danielpatrickdp/persona-engine/internal/rules"
)

// #region context
// Context is the per-request decision context. It is built once before any
// candidate is scored and never mutated afterwards; readers get copies.
type Context struct {
	requestID string
	tenantID  string
	userID    string

	personaID     string
	personaName   string
	modelID       string
	personaLoaded bool

	weights      map[string]float64
	minScore     float64
	maxRisk      risk.Level
	riskAppetite risk.Level
	additional   map[string]float64
	rules        *rules.Set
	options      Options
}

func (c *Context) RequestID() string    { return c.requestID }
func (c *Context) TenantID() string     { return c.tenantID }
func (c *Context) UserID() string       { return c.userID }
func (c *Context) PersonaID() string    { return c.personaID }
func (c *Context) PersonaName() string  { return c.personaName }
func (c *Context) ModelID() string      { return c.modelID }
func (c *Context) PersonaLoaded() bool  { return c.personaLoaded }
func (c *Context) MinScore() float64    { return c.minScore }
func (c *Context) MaxRisk() risk.Level  { return c.maxRisk }
func (c *Context) Options() Options     { return c.options }
func (c *Context) Rules() *rules.Set    { return c.rules }
func (c *Context) RiskAppetite() string { return c.riskAppetite.String() }

// Weights returns a copy of the merged objective weights.
func (c *Context) Weights() map[string]float64 {
	return copyFloats(c.weights)
}

// AdditionalMetrics returns a copy of the persona baseline metrics.
func (c *Context) AdditionalMetrics() map[string]float64 {
	return copyFloats(c.additional)
}

// WeightEntries returns the weights, heaviest first, ties by name.
func (c *Context) WeightEntries() []WeightEntry {
	out := make([]WeightEntry, 0, len(c.weights))
	for _, name := range sortedKeys(c.weights) {
		out = append(out, WeightEntry{Objective: name, Weight: c.weights[name]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Weight > out[j].Weight })
	return out
}

// #endregion context

// #region build
// BuildContext resolves the persona and merges request overrides over it.
// Persona lookup failure of any kind is logged and the engine defaults apply.
func BuildContext(ctx context.Context, store persona.Store, req Request, sec SecurityContext, cfg Config, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Context{
		requestID:    req.RequestID,
		tenantID:     sec.TenantID,
		userID:       sec.UserID,
		weights:      map[string]float64{},
		minScore:     cfg.DefaultMinScore,
		maxRisk:      cfg.DefaultMaxRisk,
		riskAppetite: cfg.DefaultRiskAppetite,
		additional:   map[string]float64{},
		options:      req.Options,
	}
	if c.options.TopK <= 0 {
		c.options.TopK = cfg.DefaultTopK
	}

	var ruleList []rules.Rule
	if p := lookupPersona(ctx, store, req, sec, lookupTimeout(cfg, req.Options), logger); p != nil {
		c.personaLoaded = true
		c.personaID = p.ID
		c.personaName = p.Name
		c.modelID = p.ModelID
		for name, w := range p.Attributes.Priorities {
			c.setWeight(name, w)
		}
		for name, v := range p.Attributes.AdditionalMetrics {
			c.additional[name] = v
		}
		if p.Attributes.Thresholds.MinScore != nil {
			c.minScore = *p.Attributes.Thresholds.MinScore
		}
		if p.Attributes.Thresholds.MaxRisk != "" {
			c.maxRisk = parseCeiling(p.Attributes.Thresholds.MaxRisk, "persona", logger)
		}
		if lvl, ok := ParseAppetite(p.Attributes.RiskTolerance); ok {
			c.riskAppetite = lvl
		}
		ruleList = p.Attributes.Rules
	}

	for _, obj := range req.Objectives {
		if obj.Name == "" {
			continue
		}
		c.setWeight(obj.Name, obj.Weight)
	}
	if req.Constraints.MinScore != nil {
		c.minScore = *req.Constraints.MinScore
	}
	if req.Constraints.MaxRisk != "" {
		c.maxRisk = parseCeiling(req.Constraints.MaxRisk, "request", logger)
	}
	if lvl, ok := ParseAppetite(req.RiskAppetite); ok {
		c.riskAppetite = lvl
	} else if req.RiskAppetite != "" {
		logger.Warn("ignoring unknown risk appetite",
			slog.String("component", "context"),
			slog.String("request_id", req.RequestID),
			slog.String("value", req.RiskAppetite))
	}

	c.rules = rules.Compile(ruleList, logger.With(slog.String("request_id", req.RequestID)))
	return c
}

func lookupPersona(ctx context.Context, store persona.Store, req Request, sec SecurityContext, timeout time.Duration, logger *slog.Logger) *persona.Profile {
	if store == nil || req.Persona == "" {
		return nil
	}
	lctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p, err := store.Lookup(lctx, sec.TenantID, req.Persona)
	if err != nil {
		logger.Warn("persona lookup failed, using defaults",
			slog.String("component", "context"),
			slog.String("request_id", req.RequestID),
			slog.String("tenant_id", sec.TenantID),
			slog.String("persona", req.Persona),
			slog.Any("error", err))
		return nil
	}
	return p
}

// #endregion build

// #region helpers
func (c *Context) setWeight(name string, w float64) {
	if w < 0 {
		w = 0
	}
	c.weights[name] = w
}

func lookupTimeout(cfg Config, opts Options) time.Duration {
	if opts.TimeoutMs > 0 {
		return time.Duration(opts.TimeoutMs) * time.Millisecond
	}
	if cfg.LookupTimeout > 0 {
		return cfg.LookupTimeout
	}
	return DefaultConfig().LookupTimeout
}

func scorerTimeout(cfg Config, opts Options) time.Duration {
	if opts.TimeoutMs > 0 {
		return time.Duration(opts.TimeoutMs) * time.Millisecond
	}
	if cfg.ScorerTimeout > 0 {
		return cfg.ScorerTimeout
	}
	return DefaultConfig().ScorerTimeout
}

// parseCeiling keeps an unrecognized ceiling as risk.Unknown, which no
// candidate can satisfy.
func parseCeiling(s, source string, logger *slog.Logger) risk.Level {
	lvl, ok := risk.Parse(s)
	if !ok {
		logger.Warn("invalid max_risk, every candidate will escalate",
			slog.String("component", "context"),
			slog.String("source", source),
			slog.String("value", s))
		return risk.Unknown
	}
	return lvl
}

// ParseAppetite accepts LOW, MEDIUM or HIGH.
func ParseAppetite(s string) (risk.Level, bool) {
	lvl, ok := risk.Parse(s)
	if !ok || lvl == risk.Critical {
		return risk.Unknown, false
	}
	return lvl, true
}

func copyFloats(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// #endregion helpers
