package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/incidentstack/sleuth-rca/internal/config"
	"github.com/incidentstack/sleuth-rca/internal/utils"
)

var (
	version = "dev"

	cfgPath string
)

func main() {
	root := &cobra.Command{
		Use:     "sleuth-rca",
		Short:   "Root cause analysis engine for infrastructure incidents",
		Long:    "sleuth-rca correlates logs, metrics, and deployment history from an incident snapshot into a ranked root-cause report.",
		Version: version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config (default: $SLEUTH_RCA_CONFIG)")

	root.AddCommand(newInvestigateCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newPatternsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	slog.SetDefault(logger)
	return cfg, logger, nil
}
