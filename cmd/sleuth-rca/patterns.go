package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/incidentstack/sleuth-rca/internal/patterns"
)

func newPatternsCmd() *cobra.Command {
	var (
		reportDir      string
		minOccurrences int
		jsonOut        bool
	)

	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Mine recurring failure patterns from stored reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if reportDir == "" {
				reportDir = cfg.Report.Dir
			}

			miner := patterns.NewMiner(reportDir, minOccurrences, logger)
			found, err := miner.Mine(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(found)
			}

			if len(found) == 0 {
				fmt.Println("No recurring patterns found.")
				return nil
			}
			for _, p := range found {
				fmt.Printf("%s  %s\n", p.ID, p.Name)
				fmt.Printf("    %s\n", p.Description)
				fmt.Printf("    services: %v  prevalence: %.0f%%  last seen: %s\n",
					p.Services, p.Prevalence*100, p.LastSeen.Format("2006-01-02"))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&reportDir, "reports", "", "report directory (default from config)")
	cmd.Flags().IntVar(&minOccurrences, "min-occurrences", 2, "minimum recurrences to report a pattern")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print patterns as JSON")
	return cmd
}
