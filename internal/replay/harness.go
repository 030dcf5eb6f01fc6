package replay

import (
	"context"
	"fmt"

	"github.com/danielpatrickdp/persona-engine/internal/engine"
)

// #region types
// CaseResult captures the outcome of replaying one case through the engine.
type CaseResult struct {
	CaseID     string              `json:"case_id"`
	Type       engine.DecisionType `json:"type,omitempty"` // empty when the engine failed
	ActionID   string              `json:"action_id,omitempty"`
	Reason     string              `json:"reason,omitempty"`
	Score      float64             `json:"score"`
	Confidence float64             `json:"confidence"`
	Err        error               `json:"-"`

	Expected FixtureExpected `json:"expected"`
	Matched  bool            `json:"matched"`
	Mismatch string          `json:"mismatch,omitempty"` // first differing field, when !Matched
}

// Summary provides aggregate stats from a replay run.
type Summary struct {
	TotalCases int `json:"total_cases"`
	Recommends int `json:"recommends"`
	Escalates  int `json:"escalates"`
	Failures   int `json:"failures"`
	Mismatches int `json:"mismatches"`
}

// #endregion types

// #region replay
// Replay runs every case through eng in order and compares against expectations.
func Replay(ctx context.Context, eng *engine.Engine, cases []FixtureCase) []CaseResult {
	results := make([]CaseResult, 0, len(cases))
	for _, c := range cases {
		res := CaseResult{CaseID: c.CaseID, Expected: c.Expected}
		resp, err := eng.Decide(ctx, c.Request, engine.SecurityContext{TenantID: c.TenantID, UserID: c.UserID})
		if err != nil {
			res.Err = err
			res.Mismatch = "engine failure: " + err.Error()
			results = append(results, res)
			continue
		}

		res.Type = resp.Decision.Type
		res.Reason = resp.Decision.Reason
		res.Confidence = resp.Confidence
		if resp.Decision.Action != nil {
			res.ActionID = resp.Decision.Action.ID
		}
		if len(resp.TopCandidates) > 0 {
			res.Score = resp.TopCandidates[0].Score
		}
		res.Mismatch = compare(res, c.Expected)
		res.Matched = res.Mismatch == ""
		results = append(results, res)
	}
	return results
}

// Run builds an engine over the fixture's personas and config, then replays its cases.
func Run(ctx context.Context, f *Fixture, opts ...engine.Option) ([]CaseResult, error) {
	opts = append([]engine.Option{engine.WithStore(f.Store())}, opts...)
	eng, err := engine.New(f.Config.ToEngineConfig(), opts...)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	return Replay(ctx, eng, f.Cases), nil
}

func compare(res CaseResult, want FixtureExpected) string {
	switch {
	case want.Type != "" && res.Type != want.Type:
		return fmt.Sprintf("type: want %s, got %s", want.Type, res.Type)
	case want.ActionID != "" && res.ActionID != want.ActionID:
		return fmt.Sprintf("action: want %s, got %s", want.ActionID, res.ActionID)
	case want.Reason != "" && res.Reason != want.Reason:
		return fmt.Sprintf("reason: want %q, got %q", want.Reason, res.Reason)
	}
	return ""
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []CaseResult) Summary {
	s := Summary{TotalCases: len(results)}
	for _, r := range results {
		switch {
		case r.Err != nil:
			s.Failures++
		case r.Type == engine.DecisionRecommend:
			s.Recommends++
		case r.Type == engine.DecisionEscalate:
			s.Escalates++
		}
		if !r.Matched {
			s.Mismatches++
		}
	}
	return s
}

// #endregion replay
