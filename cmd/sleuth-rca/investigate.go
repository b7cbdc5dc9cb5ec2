package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/incidentstack/sleuth-rca/internal/engine"
	"github.com/incidentstack/sleuth-rca/internal/models"
	"github.com/incidentstack/sleuth-rca/internal/report"
	"github.com/incidentstack/sleuth-rca/internal/snapshot"
	"github.com/incidentstack/sleuth-rca/internal/utils"
)

func newInvestigateCmd() *cobra.Command {
	var (
		snapshotDir string
		alertFile   string
		alertID     string
		service     string
		severity    string
		fromStr     string
		toStr       string
		jsonOut     bool
	)

	cmd := &cobra.Command{
		Use:   "investigate",
		Short: "Run a one-shot investigation over a snapshot directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if snapshotDir == "" {
				snapshotDir = cfg.Snapshot.Dir
			}

			var task models.InvestigationTask
			if alertFile != "" {
				data, err := os.ReadFile(alertFile)
				if err != nil {
					return fmt.Errorf("read alert file: %w", err)
				}
				if err := json.Unmarshal(data, &task); err != nil {
					return fmt.Errorf("parse alert file: %w", err)
				}
			}
			// Flags override the alert file.
			if alertID != "" {
				task.AlertID = alertID
			}
			if service != "" {
				task.AffectedService = service
			}
			if severity != "" {
				task.Severity = models.Severity(severity)
			}
			if fromStr != "" {
				t, err := utils.ParseRFC3339(fromStr)
				if err != nil {
					return fmt.Errorf("--from: %w", err)
				}
				task.Window.Start = t
			}
			if toStr != "" {
				t, err := utils.ParseRFC3339(toStr)
				if err != nil {
					return fmt.Errorf("--to: %w", err)
				}
				task.Window.End = t
			}

			snap, err := snapshot.Load(snapshotDir)
			if err != nil {
				return err
			}
			logger.Info("snapshot loaded",
				"dir", snapshotDir,
				"logs", len(snap.Logs),
				"services", len(snap.Metrics.Services),
				"deployments", len(snap.Deployments),
				"skipped_records", snap.SkippedRecords,
			)

			sink, err := report.NewFileSink(cfg.Report.Dir)
			if err != nil {
				return err
			}

			pipeline := engine.NewPipeline(cfg, nil, sink, engine.LogObserver{Logger: logger}, logger)
			rep, err := pipeline.Investigate(cmd.Context(), task, snap)
			if err != nil {
				return err
			}

			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}
			printReportSummary(rep)
			return nil
		},
	}

	cmd.Flags().StringVar(&snapshotDir, "snapshot", "", "snapshot directory (default from config)")
	cmd.Flags().StringVar(&alertFile, "alert", "", "path to a JSON alert/task file")
	cmd.Flags().StringVar(&alertID, "alert-id", "", "alert identifier driving the investigation")
	cmd.Flags().StringVar(&service, "service", "", "affected service")
	cmd.Flags().StringVar(&severity, "severity", "", "declared severity (P1_CRITICAL..P4_LOW)")
	cmd.Flags().StringVar(&fromStr, "from", "", "window start (RFC3339)")
	cmd.Flags().StringVar(&toStr, "to", "", "window end (RFC3339)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the full report as JSON")
	return cmd
}

func printReportSummary(rep *models.Report) {
	fmt.Printf("Investigation %s (%s)\n", rep.InvestigationID, rep.Severity)
	fmt.Printf("  %s\n", rep.Summary)
	if rep.Coverage.Partial {
		fmt.Printf("  WARNING: partial coverage, missing sources: %v\n", rep.Coverage.MissingSources)
	}
	fmt.Println()

	for _, cause := range rep.RootCauses {
		fmt.Printf("#%d %s (confidence %.2f)\n", cause.Rank, cause.Title, cause.Confidence)
		fmt.Printf("    %s\n", cause.Description)
	}
	if len(rep.ContributingFactors) > 0 {
		fmt.Println("\nContributing factors:")
		for _, f := range rep.ContributingFactors {
			fmt.Printf("  - %s (%s)\n", f.Title, f.Severity)
		}
	}
	if len(rep.Remediation) > 0 {
		fmt.Println("\nRemediation:")
		for _, r := range rep.Remediation {
			fmt.Printf("  [%s] %s -> %s\n", r.Category, r.TargetRootCause, r.Action)
			if r.Command != "" {
				fmt.Printf("      $ %s\n", r.Command)
			}
		}
	}
	fmt.Printf("\nBlast radius: %v\n", rep.BlastRadius)
	fmt.Printf("Generated at %s\n", rep.CreatedAt.Format(time.RFC3339))
}
