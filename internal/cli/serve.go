package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/runnerr0/webchronicle/internal/config"
	"github.com/runnerr0/webchronicle/internal/logging"
	"github.com/runnerr0/webchronicle/internal/server"
)

// Execute implements the go-flags Commander interface for ServeCommand.
func (c *ServeCommand) Execute(args []string) error {
	cfg, err := loadConfig(c.globals)
	if err != nil {
		return err
	}
	if err := c.applyOverrides(cfg); err != nil {
		return err
	}

	logger, closer, err := logging.Open(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	if err != nil {
		return err
	}
	defer closer.Close()
	if c.globals != nil && c.globals.Verbose {
		logger = logger.Level(zerolog.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return c.run(ctx, cfg, logger)
}

// run opens the store and serves until ctx is cancelled. The database is
// closed only after every connection has flushed.
func (c *ServeCommand) run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	dbPath, err := resolveDBPath(cfg, c.DB)
	if err != nil {
		return fmt.Errorf("resolve db path: %w", err)
	}

	store, db, err := openStore(ctx, cfg, dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	defer store.Close()

	logger.Info().
		Str("version", c.version).
		Str("database", dbPath).
		Int("flush_threshold", cfg.Ingest.FlushThreshold).
		Msg("starting webchronicle")

	srv := server.New(store, server.OptionsFromConfig(cfg), logger)
	if err := srv.ListenAndServe(ctx, cfg.Server.Addr()); err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info().Msg("stopped")
	return nil
}

// applyOverrides folds command-line flags into cfg and revalidates it.
func (c *ServeCommand) applyOverrides(cfg *config.Config) error {
	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}
	if c.LogLevel != "" {
		cfg.Logging.Level = c.LogLevel
	}
	if c.LogFormat != "" {
		cfg.Logging.Format = c.LogFormat
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}
