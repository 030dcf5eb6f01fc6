package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/persona-engine/internal/normalize"
	"github.com/danielpatrickdp/persona-engine/internal/risk"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	ec := cfg.EngineConfig()
	assert.Equal(t, 500*time.Millisecond, ec.LookupTimeout)
	assert.Equal(t, 2*time.Second, ec.ScorerTimeout)
	assert.Equal(t, 3, ec.DefaultTopK)
	assert.Equal(t, 50.0, ec.DefaultMinScore)
	assert.Equal(t, risk.High, ec.DefaultMaxRisk)
	assert.Equal(t, risk.Medium, ec.DefaultRiskAppetite)
	assert.Len(t, ec.Normalizers, 4)
	assert.Equal(t, SinkSQLite, cfg.Audit.Sink)
	assert.False(t, cfg.Cache.Enabled)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "persona_engine.db", cfg.Storage.DBPath)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
storage:
  db_path: /var/lib/persona.db
cache:
  enabled: true
  addr: redis:6379
  ttl_seconds: 60
audit:
  sink: none
engine:
  lookup_timeout_ms: 100
  max_parallel: 2
  default_min_score: 65
  default_max_risk: medium
  normalizers:
    - feature: price
      metric: cost
      curve: decay
      scale: 100
  risk_rules:
    - action_pattern: "^wire-"
      level: CRITICAL
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, "/var/lib/persona.db", cfg.Storage.DBPath)
	assert.Equal(t, time.Minute, cfg.PersonaCache().TTL)
	assert.Equal(t, "persona:", cfg.PersonaCache().KeyPrefix, "unset keys keep defaults")

	ec := cfg.EngineConfig()
	assert.Equal(t, 100*time.Millisecond, ec.LookupTimeout)
	assert.Equal(t, 2, ec.MaxParallel)
	assert.Equal(t, 65.0, ec.DefaultMinScore)
	assert.Equal(t, risk.Medium, ec.DefaultMaxRisk)
	assert.Equal(t, normalize.Table{{Feature: "price", Metric: "cost", Curve: normalize.CurveDecay, Scale: 100}}, ec.Normalizers)
	require.Len(t, ec.RiskRules, 1)
	assert.Equal(t, risk.Critical, ec.RiskRules[0].Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PERSONA_DB", "/tmp/env.db")
	t.Setenv("PERSONA_REDIS_ADDR", "cache:6380")
	t.Setenv("PERSONA_KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("PERSONA_LOG_LEVEL", "warn")

	cfg, err := Load(writeConfig(t, "storage:\n  db_path: file.db\n"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env.db", cfg.Storage.DBPath)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, "cache:6380", cfg.Cache.Addr)
	assert.Equal(t, SinkKafka, cfg.Audit.Sink)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka().Brokers)
	assert.Equal(t, slog.LevelWarn, cfg.SlogLevel())
}

func TestLoad_Invalid(t *testing.T) {
	for name, body := range map[string]string{
		"log level":      "log_level: loud\n",
		"sink":           "audit:\n  sink: s3\n",
		"kafka brokers":  "audit:\n  sink: kafka\n",
		"max risk":       "engine:\n  default_max_risk: SEVERE\n",
		"appetite":       "engine:\n  default_risk_appetite: CRITICAL\n",
		"curve":          "engine:\n  normalizers:\n    - {feature: a, metric: b, curve: cubic}\n",
		"risk rule":      "engine:\n  risk_rules:\n    - {feature: danger, min: 1, level: EXTREME}\n",
		"malformed yaml": "engine: [\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}
