package main

import (
	"context"
	"fmt"
	"os"

	"megicode/backend/internal/config"
	"megicode/backend/internal/engine"
	"megicode/backend/internal/logging"
	"megicode/backend/internal/repository"
	"megicode/backend/internal/workflow"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

type seedOptions struct {
	configPath string
	dir        string
	migrate    bool
	force      bool
}

func main() {
	var opts seedOptions
	cmd := &cobra.Command{
		Use:           "seed",
		Short:         "Publish and activate the workflow definition catalog",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", "", "Path to config file (default: ./config.yaml)")
	cmd.Flags().StringVar(&opts.dir, "dir", "", "Catalog directory (default: definitions.dir from config)")
	cmd.Flags().BoolVar(&opts.migrate, "migrate", true, "Apply the schema before seeding")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Publish a new version even when the key already exists")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts seedOptions) error {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.NewLogger(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return fmt.Errorf("failed to connect to DB: %w", err)
	}
	defer pool.Close()

	repo := repository.NewPostgresRepository(pool)
	if opts.migrate {
		if err := repo.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	eng, err := engine.New(repo, engine.WithLogger(logger))
	if err != nil {
		return err
	}

	dir := opts.dir
	if dir == "" {
		dir = cfg.Definitions.Dir
	}
	return seed(ctx, eng, dir, opts.force, logger)
}

// seed publishes every catalog file as the active version of its key. Keys
// that already have a stored version are skipped unless force is set.
func seed(ctx context.Context, eng *engine.Engine, dir string, force bool, logger *logging.Logger) error {
	files, err := workflow.LoadCatalogDir(dir)
	if err != nil {
		return err
	}

	existing, err := eng.ListDefinitions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list existing definitions: %w", err)
	}
	stored := make(map[string]bool, len(existing))
	for _, d := range existing {
		stored[d.Key] = true
	}

	for _, f := range files {
		key := f.Definition.Key
		if stored[key] && !force {
			logger.Info("Skipping existing definition", "key", key, "file", f.Path)
			continue
		}
		rec, err := eng.PublishDefinition(ctx, f.Raw, true, "seed")
		if err != nil {
			return fmt.Errorf("failed to publish %s: %w", f.Path, err)
		}
		logger.Info("Seeded definition", "key", rec.Key, "version", rec.Version, "file", f.Path)
	}
	logger.Info("Seeding complete!", "files", len(files))
	return nil
}
