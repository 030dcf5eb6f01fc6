// Package config loads the service configuration from YAML with environment
// overrides applied on top.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/persona-engine/internal/audit"
	"github.com/danielpatrickdp/persona-engine/internal/engine"
	"github.com/danielpatrickdp/persona-engine/internal/normalize"
	"github.com/danielpatrickdp/persona-engine/internal/persona"
	"github.com/danielpatrickdp/persona-engine/internal/risk"
)

// Audit sink kinds.
const (
	SinkSQLite = "sqlite"
	SinkKafka  = "kafka"
	SinkNone   = "none"
)

// #region types
// Config is the root of the YAML document.
type Config struct {
	LogLevel string        `yaml:"log_level"` // debug, info, warn, error
	Storage  StorageConfig `yaml:"storage"`
	Cache    CacheConfig   `yaml:"cache"`
	Audit    AuditConfig   `yaml:"audit"`
	Engine   EngineConfig  `yaml:"engine"`
	Scorer   ScorerConfig  `yaml:"scorer"`
}

type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

// CacheConfig enables the Redis read-through cache in front of the persona store.
type CacheConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	KeyPrefix  string `yaml:"key_prefix"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

type AuditConfig struct {
	Sink         string   `yaml:"sink"`   // sqlite, kafka, none
	Buffer       int      `yaml:"buffer"` // dispatcher queue size
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
}

type EngineConfig struct {
	LookupTimeoutMs     int             `yaml:"lookup_timeout_ms"`
	ScorerTimeoutMs     int             `yaml:"scorer_timeout_ms"`
	MaxParallel         int             `yaml:"max_parallel"`
	DefaultTopK         int             `yaml:"default_top_k"`
	DefaultMinScore     float64         `yaml:"default_min_score"`
	DefaultMaxRisk      string          `yaml:"default_max_risk"`
	DefaultRiskAppetite string          `yaml:"default_risk_appetite"`
	Normalizers         normalize.Table `yaml:"normalizers"`
	RiskRules           []risk.Rule     `yaml:"risk_rules"`
}

// ScorerConfig points at the remote ML/optimizer backend. Empty Addr disables it.
type ScorerConfig struct {
	Addr string `yaml:"addr"`
}

// #endregion types

// #region defaults
// DefaultConfig mirrors engine.DefaultConfig and a local SQLite setup.
func DefaultConfig() *Config {
	def := engine.DefaultConfig()
	return &Config{
		LogLevel: "info",
		Storage:  StorageConfig{DBPath: "persona_engine.db"},
		Cache: CacheConfig{
			Addr:       "localhost:6379",
			KeyPrefix:  "persona:",
			TTLSeconds: 300,
		},
		Audit: AuditConfig{
			Sink:       SinkSQLite,
			Buffer:     256,
			KafkaTopic: "persona-decisions",
		},
		Engine: EngineConfig{
			LookupTimeoutMs:     int(def.LookupTimeout / time.Millisecond),
			ScorerTimeoutMs:     int(def.ScorerTimeout / time.Millisecond),
			MaxParallel:         def.MaxParallel,
			DefaultTopK:         def.DefaultTopK,
			DefaultMinScore:     def.DefaultMinScore,
			DefaultMaxRisk:      def.DefaultMaxRisk.String(),
			DefaultRiskAppetite: def.DefaultRiskAppetite.String(),
			Normalizers:         def.Normalizers,
			RiskRules:           def.RiskRules,
		},
	}
}

// #endregion defaults

// #region load
// Load reads path. A missing file yields the defaults; env overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides applies PERSONA_* variables over file values.
func (c *Config) ApplyEnvOverrides() {
	c.Storage.DBPath = envOr("PERSONA_DB", c.Storage.DBPath)
	c.LogLevel = envOr("PERSONA_LOG_LEVEL", c.LogLevel)
	c.Scorer.Addr = envOr("PERSONA_SCORER_ADDR", c.Scorer.Addr)
	if v := os.Getenv("PERSONA_REDIS_ADDR"); v != "" {
		c.Cache.Addr = v
		c.Cache.Enabled = true
	}
	if v := os.Getenv("PERSONA_KAFKA_BROKERS"); v != "" {
		c.Audit.KafkaBrokers = splitList(v)
		c.Audit.Sink = SinkKafka
	}
}

// Validate checks enumerations and delegates table checks.
func (c *Config) Validate() error {
	if _, ok := parseLevel(c.LogLevel); !ok {
		return fmt.Errorf("log_level %q: must be debug, info, warn or error", c.LogLevel)
	}
	switch c.Audit.Sink {
	case SinkSQLite, SinkNone:
	case SinkKafka:
		if len(c.Audit.KafkaBrokers) == 0 {
			return fmt.Errorf("audit.sink kafka requires kafka_brokers")
		}
	default:
		return fmt.Errorf("audit.sink %q: must be sqlite, kafka or none", c.Audit.Sink)
	}
	if c.Engine.MaxParallel < 0 || c.Engine.DefaultTopK < 0 {
		return fmt.Errorf("engine: max_parallel and default_top_k must be >= 0")
	}
	if _, ok := risk.Parse(c.Engine.DefaultMaxRisk); !ok {
		return fmt.Errorf("engine.default_max_risk %q: unknown level", c.Engine.DefaultMaxRisk)
	}
	if _, ok := engine.ParseAppetite(c.Engine.DefaultRiskAppetite); !ok {
		return fmt.Errorf("engine.default_risk_appetite %q: must be LOW, MEDIUM or HIGH", c.Engine.DefaultRiskAppetite)
	}
	if err := c.Engine.Normalizers.Validate(); err != nil {
		return err
	}
	for i, r := range c.Engine.RiskRules {
		if !r.Level.Valid() {
			return fmt.Errorf("engine.risk_rules[%d]: unknown level", i)
		}
	}
	return nil
}

// #endregion load

// #region conversions
// EngineConfig converts the YAML view into engine.Config.
func (c *Config) EngineConfig() engine.Config {
	maxRisk, _ := risk.Parse(c.Engine.DefaultMaxRisk)
	appetite, _ := engine.ParseAppetite(c.Engine.DefaultRiskAppetite)
	return engine.Config{
		LookupTimeout:       time.Duration(c.Engine.LookupTimeoutMs) * time.Millisecond,
		ScorerTimeout:       time.Duration(c.Engine.ScorerTimeoutMs) * time.Millisecond,
		MaxParallel:         c.Engine.MaxParallel,
		DefaultTopK:         c.Engine.DefaultTopK,
		DefaultMinScore:     c.Engine.DefaultMinScore,
		DefaultMaxRisk:      maxRisk,
		DefaultRiskAppetite: appetite,
		Normalizers:         c.Engine.Normalizers,
		RiskRules:           c.Engine.RiskRules,
	}
}

func (c *Config) PersonaCache() persona.CacheConfig {
	return persona.CacheConfig{
		Addr:      c.Cache.Addr,
		Password:  c.Cache.Password,
		DB:        c.Cache.DB,
		KeyPrefix: c.Cache.KeyPrefix,
		TTL:       time.Duration(c.Cache.TTLSeconds) * time.Second,
	}
}

func (c *Config) Kafka() audit.KafkaConfig {
	return audit.KafkaConfig{Brokers: c.Audit.KafkaBrokers, Topic: c.Audit.KafkaTopic}
}

// SlogLevel maps LogLevel; unknown values map to info.
func (c *Config) SlogLevel() slog.Level {
	lvl, _ := parseLevel(c.LogLevel)
	return lvl
}

// #endregion conversions

// #region helpers
func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// #endregion helpers
