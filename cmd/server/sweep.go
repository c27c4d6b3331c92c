package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newSweepCmd(configPath *string) *cobra.Command {
	var asOfFlag string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run due automations and report overdue steps",
		Long: "Executes pending automations whose next attempt is due, reclaims " +
			"automations whose lease expired and sends overdue steps to the notifier. " +
			"Intended to be run by a scheduler.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var asOf time.Time
			if asOfFlag != "" {
				t, err := time.Parse(time.RFC3339, asOfFlag)
				if err != nil {
					return fmt.Errorf("invalid --as-of: %w", err)
				}
				asOf = t
			}
			return sweep(ctx, *configPath, asOf)
		},
	}
	cmd.Flags().StringVar(&asOfFlag, "as-of", "", "Evaluate due times at this RFC 3339 time instead of now")
	return cmd
}

func sweep(ctx context.Context, configPath string, asOf time.Time) error {
	a, err := newApp(ctx, configPath, true)
	if err != nil {
		return err
	}
	defer a.Close()
	if asOf.IsZero() {
		asOf = a.engine.Now()
	}

	report, err := a.executor.Sweep(ctx, asOf)
	if err != nil {
		return fmt.Errorf("automation sweep: %w", err)
	}
	a.logger.Info("Automation sweep finished",
		"due", report.Due, "completed", report.Completed, "retrying", report.Retrying,
		"failed", report.Failed, "skipped", report.Skipped)

	overdue, err := a.engine.ReportOverdue(ctx, asOf)
	if err != nil {
		return fmt.Errorf("overdue report: %w", err)
	}
	a.logger.Info("Overdue steps reported", "count", len(overdue))
	return nil
}
