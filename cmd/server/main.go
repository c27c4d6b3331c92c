package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "megicode-workflow",
		Short:         "Workflow engine for the Megicode delivery pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: ./config.yaml)")

	root.AddCommand(
		newServeCmd(&configPath),
		newSweepCmd(&configPath),
		newMigrateCmd(&configPath),
	)
	return root
}
