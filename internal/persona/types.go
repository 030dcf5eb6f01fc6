// Package persona holds the read-only persona records the engine resolves
// per decision, plus reference store implementations.
package persona

import (
	"context"
	"errors"
	"time"

	"github.com/danielpatrickdp/persona-engine/internal/rules"
)

// ErrNotFound is returned by a Store when no persona matches the reference.
var ErrNotFound = errors.New("persona not found")

// #region profile
// Profile is a persona record as stored externally.
type Profile struct {
	ID         string     `yaml:"id" json:"id"`
	Name       string     `yaml:"name" json:"name"`
	TenantID   string     `yaml:"tenant_id" json:"tenant_id"`
	ModelID    string     `yaml:"model_id,omitempty" json:"model_id,omitempty"`
	Attributes Attributes `yaml:"attributes" json:"attributes"`
	CreatedAt  time.Time  `yaml:"-" json:"created_at,omitempty"`
	UpdatedAt  time.Time  `yaml:"-" json:"updated_at,omitempty"`
}

// Attributes is the typed view of the persona attribute bag. Every field is
// optional; AdditionalMetrics carries domain-specific baseline metrics.
type Attributes struct {
	Priorities        map[string]float64 `yaml:"priorities,omitempty" json:"priorities,omitempty"`
	RiskTolerance     string             `yaml:"risk_tolerance,omitempty" json:"risk_tolerance,omitempty"`
	Thresholds        Thresholds         `yaml:"thresholds,omitempty" json:"thresholds,omitempty"`
	Rules             []rules.Rule       `yaml:"rules,omitempty" json:"rules,omitempty"`
	AdditionalMetrics map[string]float64 `yaml:"additional_metrics,omitempty" json:"additional_metrics,omitempty"`
}

// Thresholds gate auto-recommendation. Nil/empty means "not set here".
type Thresholds struct {
	MinScore *float64 `yaml:"min_score,omitempty" json:"min_score,omitempty"`
	MaxRisk  string   `yaml:"max_risk,omitempty" json:"max_risk,omitempty"`
}

// #endregion profile

// #region store
// Store is the tenant-scoped persona lookup. ref is an identifier or a name.
type Store interface {
	Lookup(ctx context.Context, tenantID, ref string) (*Profile, error)
}

// #endregion store
