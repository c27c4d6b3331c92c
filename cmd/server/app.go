package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"megicode/backend/internal/automation"
	"megicode/backend/internal/config"
	"megicode/backend/internal/engine"
	"megicode/backend/internal/logging"
	"megicode/backend/internal/repository"
	"megicode/backend/internal/services"
)

// app is the wired dependency graph shared by the commands.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	pool     *pgxpool.Pool
	repo     *repository.PostgresRepository
	engine   *engine.Engine
	executor *automation.Executor
}

// newApp loads configuration and connects to the database. The engine is
// built only when withEngine is set.
func newApp(ctx context.Context, configPath string, withEngine bool) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("configuration loading failed: %w", err)
	}
	logger, err := logging.NewLogger(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, fmt.Errorf("logger initialization failed: %w", err)
	}

	pool, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("database initialization failed: %w", err)
	}
	logger.Info("Database connected", "host", cfg.DB.Host, "name", cfg.DB.Name)

	a := &app{cfg: cfg, logger: logger, pool: pool, repo: repository.NewPostgresRepository(pool)}
	if withEngine {
		if err := a.wireEngine(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) wireEngine(ctx context.Context) error {
	cfg := a.cfg
	hooks := services.NewHTTPHookClient(ctx, services.HookClientConfig{
		TokenURL:     cfg.Hooks.TokenURL,
		ClientID:     cfg.Hooks.ClientID,
		ClientSecret: cfg.Hooks.ClientSecret,
		Timeout:      cfg.Automation.Timeout,
	})

	registry := newRegistry(cfg.Automation, hooks, a.logger)

	var notifier engine.Notifier = services.NewLogNotifier(a.logger)
	if cfg.Hooks.NotifierURL != "" {
		notifier = services.NewWebhookNotifier(hooks, cfg.Hooks.NotifierURL)
	}
	opts := []engine.Option{
		engine.WithLogger(a.logger),
		engine.WithNotifier(notifier),
		engine.WithMaxStepVisits(cfg.Engine.MaxStepVisits),
		engine.WithDefinitionCacheSize(cfg.Engine.DefinitionCacheSize),
		engine.WithMaxRetries(registry.MaxRetries),
	}
	if cfg.Hooks.TaskProjectorURL != "" {
		opts = append(opts, engine.WithTaskProjector(services.NewWebhookTaskProjector(hooks, cfg.Hooks.TaskProjectorURL)))
	}

	eng, err := engine.New(a.repo, opts...)
	if err != nil {
		return fmt.Errorf("engine initialization failed: %w", err)
	}
	a.engine = eng
	a.executor = automation.NewExecutor(a.repo, eng, registry,
		automation.WithLogger(a.logger),
		automation.WithInline(cfg.Automation.Inline),
		automation.WithSweep(cfg.Automation.SweepBatch, cfg.Automation.SweepConcurrency),
	)
	a.logger.Info("Engine initialized", "actions", registry.Names(), "inline", cfg.Automation.Inline)
	return nil
}

// newRegistry binds every configured action to its webhook. Actions without
// a URL are logged and completed; with no actions configured every name is.
func newRegistry(cfg config.AutomationConfig, hooks services.HookClient, logger *logging.Logger) *automation.Registry {
	base := automation.RetryPolicy{
		MaxRetries:      cfg.MaxRetries,
		InitialInterval: cfg.InitialInterval,
		BackoffFactor:   cfg.BackoffFactor,
		MaxInterval:     cfg.MaxInterval,
	}
	registry := automation.NewRegistry(base, cfg.Timeout)
	fallback := services.NewLoggingAction(logger)
	for name, ac := range cfg.Actions {
		var opts []automation.RegisterOption
		if ac.MaxRetries > 0 {
			p := base
			p.MaxRetries = ac.MaxRetries
			opts = append(opts, automation.WithPolicy(p))
		}
		if ac.Timeout > 0 {
			opts = append(opts, automation.WithTimeout(ac.Timeout))
		}
		if ac.URL == "" {
			registry.Register(name, fallback, opts...)
			continue
		}
		registry.Register(name, services.NewWebhookAction(hooks, ac.URL), opts...)
	}
	if len(cfg.Actions) == 0 {
		registry.SetFallback(fallback)
	}
	return registry
}

// Close waits for background automations and releases the pool.
func (a *app) Close() {
	if a.executor != nil {
		a.executor.Wait()
	}
	a.pool.Close()
	_ = a.logger.Sync()
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection")

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if cfg.DB.MaxConns > 0 {
		poolConfig.MaxConns = cfg.DB.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}
