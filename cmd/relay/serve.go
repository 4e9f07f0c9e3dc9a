package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/relay/internal/api"
	"github.com/mattjoyce/relay/internal/auth"
	"github.com/mattjoyce/relay/internal/client"
	"github.com/mattjoyce/relay/internal/config"
	"github.com/mattjoyce/relay/internal/events"
	"github.com/mattjoyce/relay/internal/journal"
	"github.com/mattjoyce/relay/internal/lock"
	"github.com/mattjoyce/relay/internal/log"
	"github.com/mattjoyce/relay/internal/storage"
)

// pruneInterval is how often expired journal entries are removed.
const pruneInterval = time.Hour

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the worker pool, the dispatch client and the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to configuration file (YAML or TOML)")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath, true)
	if err != nil {
		return err
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("relay starting", "version", version, "config", cfg.SourcePath)

	pidLock, err := lock.AcquirePIDLock(cfg.Lock.Path)
	if err != nil {
		return fmt.Errorf("acquire PID lock: %w", err)
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLock.Path())

	var (
		rec     client.Recorder
		history api.History
	)
	if cfg.Journal.Path != "" {
		db, err := storage.OpenSQLite(ctx, cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer db.Close()
		j := journal.New(db)
		rec, history = j, j
		logger.Info("journal opened", "path", cfg.Journal.Path, "retention", cfg.Journal.Retention)

		if cfg.Journal.Retention > 0 {
			pruneJournal(ctx, j, cfg.Journal.Retention, logger)
			go runPruner(ctx, j, cfg.Journal.Retention, logger)
		}
	}

	hub := events.NewHub(256)

	p, err := startPool(ctx, cfg, false, log.WithComponent("transport"))
	if err != nil {
		return err
	}
	defer p.Close()

	c := newClient(cfg, p, hub, rec, log.Get())
	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("start client: %w", err)
	}
	defer c.Close()
	logger.Info("client running", "session", c.Session(), "workers", len(p.Workers()))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 2)

	if cfg.API.Enabled {
		tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
		for _, t := range cfg.API.Auth.Tokens {
			tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
		}
		srv := api.New(api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.Auth.APIKey,
			Tokens: tokens,
		}, c, history, hub, log.Get())
		go func() {
			if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	if cfg.SourcePath != "" {
		level := cfg.Service.LogLevel
		go func() {
			err := config.Watch(ctx, cfg.SourcePath, func(next *config.Config) {
				if next.Service.LogLevel == level {
					return
				}
				if err := c.SetLogLevel(ctx, next.Service.LogLevel); err != nil {
					logger.Warn("failed to apply log level from config", "level", next.Service.LogLevel, "error", err)
					return
				}
				level = next.Service.LogLevel
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("config watch: %w", err)
			}
		}()
	}

	logger.Info("relay running (press Ctrl+C to stop)")

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		return err
	}

	logger.Info("relay stopped")
	return nil
}

func pruneJournal(ctx context.Context, j *journal.Journal, retention time.Duration, logger *slog.Logger) {
	n, err := j.Prune(ctx, time.Now().Add(-retention))
	if err != nil {
		logger.Warn("journal prune failed", "error", err)
		return
	}
	if n > 0 {
		logger.Info("journal pruned", "removed", n)
	}
}

func runPruner(ctx context.Context, j *journal.Journal, retention time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruneJournal(ctx, j, retention, logger)
		}
	}
}
