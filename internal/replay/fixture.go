package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/danielpatrickdp/persona-engine/internal/audit"
	"github.com/danielpatrickdp/persona-engine/internal/engine"
	"github.com/danielpatrickdp/persona-engine/internal/normalize"
	"github.com/danielpatrickdp/persona-engine/internal/persona"
	"github.com/danielpatrickdp/persona-engine/internal/risk"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description string             `json:"description"`
	Config      FixtureConfig      `json:"config"`
	Personas    []*persona.Profile `json:"personas"`
	Cases       []FixtureCase      `json:"cases"`
}

// FixtureConfig overrides engine defaults. Zero fields keep engine.DefaultConfig.
type FixtureConfig struct {
	MaxParallel         int             `json:"max_parallel,omitempty"`
	DefaultTopK         int             `json:"default_top_k,omitempty"`
	DefaultMinScore     *float64        `json:"default_min_score,omitempty"`
	DefaultMaxRisk      string          `json:"default_max_risk,omitempty"`
	DefaultRiskAppetite string          `json:"default_risk_appetite,omitempty"`
	LookupTimeoutMs     int             `json:"lookup_timeout_ms,omitempty"`
	ScorerTimeoutMs     int             `json:"scorer_timeout_ms,omitempty"`
	Normalizers         normalize.Table `json:"normalizers,omitempty"`
	RiskRules           []risk.Rule     `json:"risk_rules,omitempty"`
}

// FixtureCase is one recorded decide call and its expected outcome.
type FixtureCase struct {
	CaseID   string          `json:"case_id"`
	TenantID string          `json:"tenant_id"`
	UserID   string          `json:"user_id,omitempty"`
	Request  engine.Request  `json:"request"`
	Expected FixtureExpected `json:"expected"`
}

// FixtureExpected captures what the case must decide. Empty fields are not checked.
type FixtureExpected struct {
	Type     engine.DecisionType `json:"type"`
	ActionID string              `json:"action_id,omitempty"`
	Reason   string              `json:"reason,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	for i, c := range f.Cases {
		if c.CaseID == "" {
			return nil, fmt.Errorf("fixture %s: case %d has no case_id", path, i)
		}
	}
	return &f, nil
}

// ToEngineConfig layers the fixture overrides over engine.DefaultConfig.
func (fc *FixtureConfig) ToEngineConfig() engine.Config {
	cfg := engine.DefaultConfig()
	if fc.MaxParallel > 0 {
		cfg.MaxParallel = fc.MaxParallel
	}
	if fc.DefaultTopK > 0 {
		cfg.DefaultTopK = fc.DefaultTopK
	}
	if fc.DefaultMinScore != nil {
		cfg.DefaultMinScore = *fc.DefaultMinScore
	}
	if lvl, ok := risk.Parse(fc.DefaultMaxRisk); ok {
		cfg.DefaultMaxRisk = lvl
	}
	if fc.LookupTimeoutMs > 0 {
		cfg.LookupTimeout = time.Duration(fc.LookupTimeoutMs) * time.Millisecond
	}
	if fc.ScorerTimeoutMs > 0 {
		cfg.ScorerTimeout = time.Duration(fc.ScorerTimeoutMs) * time.Millisecond
	}
	if lvl, ok := engine.ParseAppetite(fc.DefaultRiskAppetite); ok {
		cfg.DefaultRiskAppetite = lvl
	}
	if fc.Normalizers != nil {
		cfg.Normalizers = fc.Normalizers
	}
	if fc.RiskRules != nil {
		cfg.RiskRules = fc.RiskRules
	}
	return cfg
}

// Store seeds an in-memory persona store with the fixture personas.
func (f *Fixture) Store() *persona.MemoryStore {
	return persona.NewMemoryStore(f.Personas...)
}

// #endregion fixture-loader

// #region audit-cases

// FromAudit rebuilds cases from recorded decisions, oldest first, expecting the
// recorded outcome. Entries without a stored request are counted and skipped.
func FromAudit(entries []audit.Entry) ([]FixtureCase, int, error) {
	cases := make([]FixtureCase, 0, len(entries))
	skipped := 0
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.RequestJSON == "" {
			skipped++
			continue
		}
		var req engine.Request
		if err := json.Unmarshal([]byte(e.RequestJSON), &req); err != nil {
			return nil, skipped, fmt.Errorf("decision %s: parse request: %w", e.DecisionID, err)
		}
		cases = append(cases, FixtureCase{
			CaseID:   e.DecisionID,
			TenantID: e.TenantID,
			UserID:   e.UserID,
			Request:  req,
			Expected: FixtureExpected{
				Type:     engine.DecisionType(e.DecisionType),
				ActionID: e.ActionID,
				Reason:   e.Reason,
			},
		})
	}
	return cases, skipped, nil
}

// #endregion audit-cases
