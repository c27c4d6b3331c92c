package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath, false)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.repo.Migrate(ctx); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			a.logger.Info("Schema applied")
			return nil
		},
	}
}
