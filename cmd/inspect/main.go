package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/persona-engine/internal/audit"
	"github.com/danielpatrickdp/persona-engine/internal/engine"
	"github.com/danielpatrickdp/persona-engine/internal/persona"
)

var (
	dbPath     string
	last       int
	decisionID string
	jsonOut    bool
)

var rootCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Browse the decision audit log",
	Long: `Browse recorded decisions.

  inspect --db persona_engine.db --last 20
  inspect --db persona_engine.db --decision 5f0c...`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&dbPath, "db", "", "SQLite database holding the audit log")
	rootCmd.Flags().IntVar(&last, "last", 20, "Show N most recent decisions")
	rootCmd.Flags().StringVar(&decisionID, "decision", "", "Show a single decision in detail")
	rootCmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON instead of table")
	_ = rootCmd.MarkFlagRequired("db")
}

// #region main

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	store, err := persona.NewSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	log, err := audit.NewSQLiteSink(store.DB())
	if err != nil {
		return err
	}
	if decisionID != "" {
		return runDetailMode(cmd.Context(), cmd.OutOrStdout(), log, decisionID)
	}
	return runListMode(cmd.Context(), cmd.OutOrStdout(), log, last)
}

// #endregion main

// #region list-mode

func runListMode(ctx context.Context, w io.Writer, log *audit.SQLiteSink, n int) error {
	entries, err := log.Recent(ctx, n)
	if err != nil {
		return err
	}
	if jsonOut {
		if entries == nil {
			entries = []audit.Entry{}
		}
		return printJSON(w, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(os.Stderr, "no decisions found")
		return nil
	}
	printListTable(w, entries)
	return nil
}

// printListTable prints entries oldest first; Recent returns them newest first.
func printListTable(w io.Writer, entries []audit.Entry) {
	fmt.Fprintf(w, "%-10s  %-10s  %-9s  %-16s  %6s  %-8s  %5s  %s\n",
		"Decision", "Tenant", "Type", "Action", "Score", "Risk", "Conf", "Time")
	fmt.Fprintf(w, "%-10s+-%-10s+-%-9s+-%-16s+-%6s+-%-8s+-%5s+-%s\n",
		"----------", "----------", "---------", "----------------", "------", "--------", "-----", "--------------------")

	counts := map[string]int{}
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		counts[e.DecisionType]++
		fmt.Fprintf(w, "%-10s  %-10s  %-9s  %-16s  %6.2f  %-8s  %5.2f  %s\n",
			shortID(e.DecisionID), e.TenantID, e.DecisionType, orDash(e.ActionID),
			e.Score, orDash(e.Risk), e.Confidence, e.CreatedAt.Format("2006-01-02T15:04:05Z"))
	}
	fmt.Fprintf(w, "\n%d decisions: %d recommend, %d escalate\n",
		len(entries), counts[string(engine.DecisionRecommend)], counts[string(engine.DecisionEscalate)])
}

// #endregion list-mode

// #region detail-mode

type detailOutput struct {
	audit.Entry
	Request  json.RawMessage `json:"request,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
}

func runDetailMode(ctx context.Context, w io.Writer, log *audit.SQLiteSink, id string) error {
	e, err := log.Get(ctx, id)
	if err != nil {
		return err
	}
	if jsonOut {
		out := detailOutput{Entry: e}
		if e.RequestJSON != "" {
			out.Request = json.RawMessage(e.RequestJSON)
		}
		if e.PayloadJSON != "" {
			out.Response = json.RawMessage(e.PayloadJSON)
		}
		out.Entry.RequestJSON, out.Entry.PayloadJSON = "", ""
		return printJSON(w, out)
	}

	fmt.Fprintf(w, "Decision:   %s\n", e.DecisionID)
	fmt.Fprintf(w, "Request:    %s\n", e.RequestID)
	fmt.Fprintf(w, "Tenant:     %s\n", e.TenantID)
	fmt.Fprintf(w, "User:       %s\n", orDash(e.UserID))
	fmt.Fprintf(w, "Persona:    %s\n", orDash(e.PersonaID))
	fmt.Fprintf(w, "Created:    %s\n", e.CreatedAt.Format("2006-01-02T15:04:05Z"))
	fmt.Fprintf(w, "Type:       %s\n", e.DecisionType)
	fmt.Fprintf(w, "Action:     %s\n", orDash(e.ActionID))
	fmt.Fprintf(w, "Reason:     %s\n", orDash(e.Reason))
	fmt.Fprintf(w, "Score:      %.2f\n", e.Score)
	fmt.Fprintf(w, "Risk:       %s\n", orDash(e.Risk))
	fmt.Fprintf(w, "Confidence: %.3f\n", e.Confidence)

	if e.PayloadJSON == "" {
		return nil
	}
	var resp engine.Response
	if err := json.Unmarshal([]byte(e.PayloadJSON), &resp); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	fmt.Fprintf(w, "\nSummary: %s\n", resp.Explanation.Summary)
	fmt.Fprintf(w, "\nTop candidates:\n")
	for i, c := range resp.TopCandidates {
		fmt.Fprintf(w, "  %d. %-16s %6.2f  %-8s  %6.0fms\n", i+1, c.Action.ID, c.Score, c.Risk, c.EstimatedLatencyMs)
		for _, r := range c.Evidence.TriggeredRules {
			fmt.Fprintf(w, "       rule: %s\n", r)
		}
	}
	if len(resp.Telemetry.QualityFlags) > 0 {
		fmt.Fprintf(w, "\nQuality flags:\n")
		for _, f := range resp.Telemetry.QualityFlags {
			fmt.Fprintf(w, "  %s\n", f)
		}
	}
	if e.RequestJSON != "" {
		var buf bytes.Buffer
		if err := json.Indent(&buf, []byte(e.RequestJSON), "  ", "  "); err == nil {
			fmt.Fprintf(w, "\nRequest body:\n  %s\n", buf.String())
		}
	}
	return nil
}

// #endregion detail-mode

// #region output

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// #endregion output
