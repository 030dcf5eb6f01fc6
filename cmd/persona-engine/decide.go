package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/persona-engine/internal/engine"
)

var (
	decideRequest string
	decideTenant  string
	decideUser    string
	validateInput string
	feedbackFile  string
)

var decideCmd = &cobra.Command{
	Use:   "decide",
	Short: "Run one decision request",
	Long: `Read a decision request as JSON and print the decision response.

Examples:
  persona-engine decide --request request.json --tenant acme --user u-1
  cat request.json | persona-engine decide --tenant acme`,
	RunE: runDecide,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Pre-flight check raw input data",
	RunE:  runValidate,
}

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Acknowledge outcome feedback for a decision",
	RunE:  runFeedback,
}

func init() {
	decideCmd.Flags().StringVarP(&decideRequest, "request", "r", "-", "Request JSON file, - for stdin")
	decideCmd.Flags().StringVar(&decideTenant, "tenant", "", "Tenant id")
	decideCmd.Flags().StringVar(&decideUser, "user", "", "User id")
	_ = decideCmd.MarkFlagRequired("tenant")

	validateCmd.Flags().StringVarP(&validateInput, "input", "i", "-", "Input data JSON file, - for stdin")
	feedbackCmd.Flags().StringVarP(&feedbackFile, "payload", "p", "-", "Feedback JSON file, - for stdin")

	rootCmd.AddCommand(decideCmd, validateCmd, feedbackCmd)
}

// #region commands
func runDecide(cmd *cobra.Command, _ []string) error {
	var req engine.Request
	if err := readJSON(cmd.InOrStdin(), decideRequest, &req); err != nil {
		return err
	}
	return withApp(cmd.Context(), func(a *app) error {
		resp, err := a.engine.Decide(cmd.Context(), req, engine.SecurityContext{TenantID: decideTenant, UserID: decideUser})
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), resp)
	})
}

// runValidate needs no dependencies, only the pure ingest stage.
func runValidate(cmd *cobra.Command, _ []string) error {
	var raw map[string]any
	if err := readJSON(cmd.InOrStdin(), validateInput, &raw); err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), engine.Validate(raw))
}

func runFeedback(cmd *cobra.Command, _ []string) error {
	var p engine.FeedbackPayload
	if err := readJSON(cmd.InOrStdin(), feedbackFile, &p); err != nil {
		return err
	}
	if p.RequestID == "" {
		return fmt.Errorf("feedback: request_id is required")
	}
	return withApp(cmd.Context(), func(a *app) error {
		return writeJSON(cmd.OutOrStdout(), a.engine.Feedback(cmd.Context(), p))
	})
}

// #endregion commands

// #region helpers
func readJSON(stdin io.Reader, path string, v any) error {
	var r io.Reader = stdin
	if path != "-" && path != "" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// #endregion helpers
