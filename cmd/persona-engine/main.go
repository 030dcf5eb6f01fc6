package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/persona-engine/internal/config"
)

var (
	configPath string
	logJSON    bool
)

var rootCmd = &cobra.Command{
	Use:   "persona-engine",
	Short: "Persona-driven decision engine",
	Long: `Rank candidate actions for a persona and decide whether to recommend
the best one or escalate.

Examples:
  persona-engine persona import --file personas.yaml
  persona-engine decide --request request.json --tenant acme --user u-1
  persona-engine validate --input input.json
  persona-engine serve --metrics-addr :9090 < requests.ndjson`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", envOr("PERSONA_CONFIG", "persona-engine.yaml"), "Config file path")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Emit logs as JSON")
}

// #region main
func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region helpers
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if logJSON {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
