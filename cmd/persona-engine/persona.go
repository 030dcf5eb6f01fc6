package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/persona-engine/internal/persona"
)

var (
	importFile  string
	listTenant  string
	listJSONOut bool
)

var personaCmd = &cobra.Command{
	Use:   "persona",
	Short: "Manage stored personas",
}

var personaImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Upsert personas from a YAML seed file",
	Long: `Upsert personas from a YAML seed file into the SQLite store.

Example file:
  personas:
    - name: budget-commuter
      tenant_id: acme
      attributes:
        priorities: {cost: 0.7, speed: 0.3}
        thresholds: {min_score: 55, max_risk: MEDIUM}
        rules:
          - condition: "price > 40"
            score_adjustment: -15
            reason: over budget`,
	RunE: runPersonaImport,
}

var personaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List personas of a tenant",
	RunE:  runPersonaList,
}

func init() {
	personaImportCmd.Flags().StringVarP(&importFile, "file", "f", "", "YAML seed file")
	_ = personaImportCmd.MarkFlagRequired("file")
	personaListCmd.Flags().StringVar(&listTenant, "tenant", "", "Tenant id")
	personaListCmd.Flags().BoolVar(&listJSONOut, "json", false, "Output as JSON")
	_ = personaListCmd.MarkFlagRequired("tenant")

	personaCmd.AddCommand(personaImportCmd, personaListCmd)
	rootCmd.AddCommand(personaCmd)
}

// #region commands
func runPersonaImport(cmd *cobra.Command, _ []string) error {
	profiles, err := persona.LoadYAML(importFile)
	if err != nil {
		return err
	}
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := persona.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	for _, p := range profiles {
		if err := store.Save(cmd.Context(), p); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "saved %s/%s (%s)\n", p.TenantID, p.Name, p.ID)
	}
	return nil
}

func runPersonaList(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := persona.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	profiles, err := store.List(cmd.Context(), listTenant)
	if err != nil {
		return err
	}
	if listJSONOut {
		if profiles == nil {
			profiles = []*persona.Profile{}
		}
		return writeJSON(cmd.OutOrStdout(), profiles)
	}
	if len(profiles) == 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "no personas for tenant %s\n", listTenant)
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tRISK\tMIN SCORE\tMAX RISK\tRULES\tUPDATED")
	for _, p := range profiles {
		minScore := "-"
		if p.Attributes.Thresholds.MinScore != nil {
			minScore = fmt.Sprintf("%.1f", *p.Attributes.Thresholds.MinScore)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			p.ID, p.Name, orDash(p.Attributes.RiskTolerance), minScore,
			orDash(p.Attributes.Thresholds.MaxRisk), len(p.Attributes.Rules),
			p.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

// #endregion commands

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
