package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/persona-engine/internal/audit"
	"github.com/danielpatrickdp/persona-engine/internal/config"
	"github.com/danielpatrickdp/persona-engine/internal/engine"
	"github.com/danielpatrickdp/persona-engine/internal/persona"
	"github.com/danielpatrickdp/persona-engine/internal/replay"
)

// errDrift signals that at least one case diverged; exit code 1.
var errDrift = errors.New("replayed decisions diverge")

var (
	dbPath      string
	fixturePath string
	configPath  string
	limit       int
	jsonOut     bool
)

var rootCmd = &cobra.Command{
	Use:   "replay",
	Short: "Re-run recorded decisions and report drift",
	Long: `Re-run decisions against the current engine and compare outcomes.

  replay --fixture internal/replay/testdata/commute.json
  replay --db persona_engine.db --limit 200

Fixture mode uses the personas and config embedded in the fixture.
DB mode reads the audit log and personas from the SQLite database and
builds the engine from --config (defaults when the file is missing).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVar(&dbPath, "db", "", "SQLite database with personas and audit log (DB mode)")
	rootCmd.Flags().StringVar(&fixturePath, "fixture", "", "Fixture JSON (fixture mode)")
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "persona-engine.yaml", "Engine config for DB mode")
	rootCmd.Flags().IntVar(&limit, "limit", 100, "Most recent decisions to replay in DB mode")
	rootCmd.Flags().BoolVar(&jsonOut, "json", false, "Output results as JSON")
	rootCmd.MarkFlagsMutuallyExclusive("db", "fixture")
	rootCmd.MarkFlagsOneRequired("db", "fixture")
}

// #region main

func main() {
	err := rootCmd.Execute()
	switch {
	case err == nil:
	case errors.Is(err, errDrift):
		os.Exit(1)
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	var (
		results []replay.CaseResult
		err     error
	)
	if fixturePath != "" {
		results, err = runFixtureMode(cmd.Context(), fixturePath)
	} else {
		results, err = runDBMode(cmd.Context(), dbPath)
	}
	if err != nil {
		return err
	}
	return report(cmd.OutOrStdout(), results)
}

// #endregion main

// #region modes

func runFixtureMode(ctx context.Context, path string) ([]replay.CaseResult, error) {
	f, err := replay.LoadFixture(path)
	if err != nil {
		return nil, err
	}
	return replay.Run(ctx, f)
}

func runDBMode(ctx context.Context, path string) ([]replay.CaseResult, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	store, err := persona.NewSQLiteStore(path)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	log, err := audit.NewSQLiteSink(store.DB())
	if err != nil {
		return nil, err
	}
	entries, err := log.Recent(ctx, limit)
	if err != nil {
		return nil, err
	}
	cases, skipped, err := replay.FromAudit(entries)
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		fmt.Fprintf(os.Stderr, "skipped %d decisions without a recorded request\n", skipped)
	}
	if len(cases) == 0 {
		return nil, fmt.Errorf("no replayable decisions in %s", path)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	eng, err := engine.New(cfg.EngineConfig(), engine.WithStore(store), engine.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return replay.Replay(ctx, eng, cases), nil
}

// #endregion modes

// #region output

func report(w io.Writer, results []replay.CaseResult) error {
	s := replay.Summarize(results)
	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(struct {
			Results []replay.CaseResult `json:"results"`
			Summary replay.Summary      `json:"summary"`
		}{results, s}); err != nil {
			return err
		}
	} else {
		printComparison(w, results, s)
	}
	if s.Mismatches > 0 || s.Failures > 0 {
		return errDrift
	}
	return nil
}

func printComparison(w io.Writer, results []replay.CaseResult, s replay.Summary) {
	fmt.Fprintf(w, "%-24s| %-20s| %-20s| %7s | %s\n", "Case", "Expected", "Replayed", "Score", "Match")
	fmt.Fprintf(w, "%-24s+%-21s+%-21s+%9s+%s\n",
		"------------------------", "---------------------", "---------------------", "---------", "------")

	for _, r := range results {
		match := "OK"
		if !r.Matched {
			match = "DIFF " + r.Mismatch
		}
		fmt.Fprintf(w, "%-24s| %-20s| %-20s| %7.2f | %s\n",
			shortID(r.CaseID), outcome(string(r.Expected.Type), r.Expected.ActionID),
			outcome(string(r.Type), r.ActionID), r.Score, match)
	}

	fmt.Fprintf(w, "\nSummary: %d total, %d recommend, %d escalate, %d diverge, %d failed\n",
		s.TotalCases, s.Recommends, s.Escalates, s.Mismatches, s.Failures)
}

func outcome(typ, actionID string) string {
	if typ == "" {
		return "-"
	}
	if actionID == "" {
		return typ
	}
	return typ + ":" + actionID
}

func shortID(id string) string {
	if len(id) > 24 {
		return id[:24]
	}
	return id
}

// #endregion output
