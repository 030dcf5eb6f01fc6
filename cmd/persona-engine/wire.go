package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/danielpatrickdp/persona-engine/internal/audit"
	"github.com/danielpatrickdp/persona-engine/internal/config"
	"github.com/danielpatrickdp/persona-engine/internal/engine"
	"github.com/danielpatrickdp/persona-engine/internal/persona"
	"github.com/danielpatrickdp/persona-engine/internal/scorer"
	"github.com/danielpatrickdp/persona-engine/internal/telemetry"
)

// app owns every long-lived dependency of one process.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	personas   *persona.SQLiteStore
	cache      *persona.CachedStore
	sqliteLog  *audit.SQLiteSink
	kafka      *audit.KafkaSink
	dispatcher *audit.Dispatcher
	remote     *scorer.GRPCClient

	registry *prometheus.Registry
	metrics  *telemetry.Metrics
	engine   *engine.Engine
}

// #region wire
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = telemetry.New(a.registry)

	var err error
	a.personas, err = persona.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open persona store: %w", err)
	}
	var store persona.Store = a.personas
	if cfg.Cache.Enabled {
		a.cache, err = persona.NewCachedStore(ctx, a.personas, cfg.PersonaCache(), logger)
		if err != nil {
			// Cache is optional; fall back to direct lookups.
			logger.Warn("persona cache disabled", slog.Any("error", err))
		} else {
			store = a.cache
		}
	}

	var sink audit.Sink
	switch cfg.Audit.Sink {
	case config.SinkKafka:
		a.kafka, err = audit.NewKafkaSink(cfg.Kafka())
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("kafka audit sink: %w", err)
		}
		sink = a.kafka
	case config.SinkSQLite:
		a.sqliteLog, err = audit.NewSQLiteSink(a.personas.DB())
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("sqlite audit sink: %w", err)
		}
		sink = a.sqliteLog
	default:
		sink = audit.Discard
	}
	a.dispatcher = audit.NewDispatcher(sink, cfg.Audit.Buffer, logger,
		audit.WithDropHook(a.metrics.AuditDropHook()),
		audit.WithFailureHook(a.metrics.AuditFailureHook()))

	opts := []engine.Option{
		engine.WithStore(store),
		engine.WithAuditor(a.dispatcher),
		engine.WithMetrics(a.metrics),
		engine.WithLogger(logger),
	}
	if cfg.Scorer.Addr != "" {
		a.remote, err = scorer.NewGRPCClient(cfg.Scorer.Addr)
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("connect scorer at %s: %w", cfg.Scorer.Addr, err)
		}
		opts = append(opts, engine.WithPredictor(a.remote), engine.WithOptimizer(a.remote))
	}

	a.engine, err = engine.New(cfg.EngineConfig(), opts...)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}

// Close drains the audit queue and releases connections.
func (a *app) Close(ctx context.Context) {
	if a.dispatcher != nil {
		drainCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := a.dispatcher.Close(drainCtx); err != nil {
			a.logger.Warn("audit drain incomplete", slog.Any("error", err))
		}
		cancel()
	}
	if a.kafka != nil {
		_ = a.kafka.Close()
	}
	if a.remote != nil {
		_ = a.remote.Close()
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.personas != nil {
		_ = a.personas.Close()
	}
}

// #endregion wire

// withApp loads config, wires the app and tears it down after fn.
func withApp(ctx context.Context, fn func(*app) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	return fn(a)
}
