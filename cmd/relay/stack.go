package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/mattjoyce/relay/internal/client"
	"github.com/mattjoyce/relay/internal/config"
	"github.com/mattjoyce/relay/internal/events"
	"github.com/mattjoyce/relay/internal/monitor"
	"github.com/mattjoyce/relay/internal/transport"
)

// configCandidates are tried in the working directory when --config and
// RELAY_CONFIG are both empty.
var configCandidates = []string{"relay.yaml", "relay.yml", "relay.toml"}

// resolveConfigPath returns the explicit path, RELAY_CONFIG, or the first
// candidate present in the working directory. Empty means none was found.
func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("RELAY_CONFIG"); env != "" {
		return env
	}
	for _, c := range configCandidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// loadConfig loads the resolved config. With required unset a missing
// config yields the defaults.
func loadConfig(path string, required bool) (*config.Config, error) {
	resolved := resolveConfigPath(path)
	if resolved == "" {
		if required {
			return nil, errors.New("no config file: pass --config, set RELAY_CONFIG or create ./relay.yaml")
		}
		return config.Defaults(), nil
	}
	cfg, err := config.Load(resolved)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// pool is a started set of workers behind one communicator.
type pool interface {
	client.Communicator
	monitor.Pinger
	Workers() []int
	Close() error
}

// startPool starts cfg.Workers.Count workers, in-process when local is set
// and as child processes otherwise.
func startPool(ctx context.Context, cfg *config.Config, local bool, logger *slog.Logger) (pool, error) {
	if local {
		p, err := transport.NewLocal(ctx, cfg.Workers.Count, nil, logger)
		if err != nil {
			return nil, fmt.Errorf("start local workers: %w", err)
		}
		return p, nil
	}

	env := append([]string{"RELAY_LOG_LEVEL=" + cfg.Service.LogLevel}, cfg.Workers.Env...)
	p, err := transport.StartProcesses(ctx, transport.ProcessConfig{
		Count:      cfg.Workers.Count,
		Entrypoint: cfg.Workers.Entrypoint,
		Args:       cfg.Workers.Args,
		Env:        env,
		StopGrace:  cfg.Workers.StopGrace,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("start worker processes: %w", err)
	}
	return p, nil
}

// newClient builds the monitor and client over p. The client is not
// started.
func newClient(cfg *config.Config, p pool, pub events.Publisher, rec client.Recorder, logger *slog.Logger) *client.Client {
	mon := monitor.New(p.Workers(), p, monitor.Config{
		HeartbeatInterval: cfg.Monitor.HeartbeatInterval,
		HeartbeatTimeout:  cfg.Monitor.HeartbeatTimeout,
	}, pub, logger)

	return client.New(p, mon, client.Options{
		Config: client.Config{
			DispatchInterval:   cfg.Client.DispatchInterval,
			CollectInterval:    cfg.Client.CollectInterval,
			BlockPollInterval:  cfg.Client.BlockPollInterval,
			StartCheckInterval: cfg.Client.StartCheckInterval,
			HandshakeTimeout:   cfg.Client.HandshakeTimeout,
		},
		Events:   pub,
		Recorder: rec,
		Logger:   logger,
	})
}

// exitError carries a process exit code other than 1.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}
