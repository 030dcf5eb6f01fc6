package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/persona-engine/internal/audit"
	"github.com/danielpatrickdp/persona-engine/internal/config"
	"github.com/danielpatrickdp/persona-engine/internal/persona"
	"github.com/danielpatrickdp/persona-engine/internal/replay"
)

var (
	dbPath     string
	configPath string
	outPath    string
	last       int
)

var rootCmd = &cobra.Command{
	Use:   "fixture-export",
	Short: "Freeze recent audited decisions into a replay fixture",
	Long: `Export the most recent audited decisions, the personas of their tenants
and the engine config into a fixture JSON usable by replay --fixture.

  fixture-export --db persona_engine.db --out testdata/session.json --last 20`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context(), cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.Flags().StringVar(&dbPath, "db", "", "SQLite database with personas and audit log")
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "persona-engine.yaml", "Engine config embedded in the fixture")
	rootCmd.Flags().StringVar(&outPath, "out", "", "Output fixture JSON path")
	rootCmd.Flags().IntVar(&last, "last", 4, "Number of most recent decisions to export")
	_ = rootCmd.MarkFlagRequired("db")
	_ = rootCmd.MarkFlagRequired("out")
}

// #region main

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region extract

func run(ctx context.Context, w io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	store, err := persona.NewSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	log, err := audit.NewSQLiteSink(store.DB())
	if err != nil {
		return err
	}
	entries, err := log.Recent(ctx, last)
	if err != nil {
		return err
	}
	cases, skipped, err := replay.FromAudit(entries)
	if err != nil {
		return err
	}
	if len(cases) == 0 {
		return fmt.Errorf("no replayable decisions in last %d entries", last)
	}
	fmt.Fprintf(w, "Found %d decisions (%d skipped without request)\n", len(cases), skipped)

	personas, err := tenantPersonas(ctx, store, cases)
	if err != nil {
		return err
	}
	return writeFixture(w, buildFixture(cfg, personas, cases), outPath)
}

// tenantPersonas collects every persona of the tenants that appear in cases.
func tenantPersonas(ctx context.Context, store *persona.SQLiteStore, cases []replay.FixtureCase) ([]*persona.Profile, error) {
	tenants := map[string]bool{}
	for _, c := range cases {
		tenants[c.TenantID] = true
	}
	ids := make([]string, 0, len(tenants))
	for t := range tenants {
		ids = append(ids, t)
	}
	sort.Strings(ids)

	var out []*persona.Profile
	for _, t := range ids {
		ps, err := store.List(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, ps...)
	}
	return out, nil
}

// #endregion extract

// #region output

func buildFixture(cfg *config.Config, personas []*persona.Profile, cases []replay.FixtureCase) replay.Fixture {
	minScore := cfg.Engine.DefaultMinScore
	return replay.Fixture{
		Description: fmt.Sprintf("Audit export: %d decisions from %s", len(cases), dbPath),
		Config: replay.FixtureConfig{
			MaxParallel:         cfg.Engine.MaxParallel,
			DefaultTopK:         cfg.Engine.DefaultTopK,
			DefaultMinScore:     &minScore,
			DefaultMaxRisk:      cfg.Engine.DefaultMaxRisk,
			DefaultRiskAppetite: cfg.Engine.DefaultRiskAppetite,
			LookupTimeoutMs:     cfg.Engine.LookupTimeoutMs,
			ScorerTimeoutMs:     cfg.Engine.ScorerTimeoutMs,
			Normalizers:         cfg.Engine.Normalizers,
			RiskRules:           cfg.Engine.RiskRules,
		},
		Personas: personas,
		Cases:    cases,
	}
}

func writeFixture(w io.Writer, fixture replay.Fixture, path string) error {
	data, err := json.MarshalIndent(fixture, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(w, "Wrote fixture to %s (%d bytes, %d cases)\n", path, len(data), len(fixture.Cases))
	return nil
}

// #endregion output
