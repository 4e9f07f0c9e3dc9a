package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/relay/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate and lock configuration files",
	}
	cmd.AddCommand(newConfigCheckCmd(), newConfigLockCmd())
	return cmd
}

func newConfigCheckCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Load the config, validate it and verify its checksums",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := resolveConfigPath(configPath)
			if path == "" {
				return errors.New("no config file: pass --config, set RELAY_CONFIG or create ./relay.yaml")
			}
			out := cmd.OutOrStdout()

			cfg, err := config.Load(path)
			if err != nil {
				fmt.Fprintf(out, "FAIL %s\n  %v\n", path, err)
				return errors.New("config check failed")
			}
			result, err := config.VerifyIntegrity(path, cfg)
			if err != nil {
				return err
			}

			for _, w := range result.Warnings {
				fmt.Fprintf(out, "WARN %s\n", w)
			}
			for _, e := range result.Errors {
				fmt.Fprintf(out, "ERROR %s\n", e)
			}
			if !result.Passed {
				return errors.New("config check failed")
			}
			fmt.Fprintf(out, "OK %s (workers=%d, api=%t, journal=%q)\n",
				cfg.SourcePath, cfg.Workers.Count, cfg.API.Enabled, cfg.Journal.Path)
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to configuration file")
	return cmd
}

func newConfigLockCmd() *cobra.Command {
	var (
		configPath string
		dryRun     bool
	)
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Write the BLAKE3 checksum manifest for a config file",
		Long: `lock validates the config and records its BLAKE3 hash in .checksums next
to it. Once a manifest exists, serve refuses a config whose hash differs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := resolveConfigPath(configPath)
			if path == "" {
				return errors.New("no config file: pass --config, set RELAY_CONFIG or create ./relay.yaml")
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read config: %w", err)
			}
			cfg, err := config.Parse(data, config.FormatFor(path))
			if err != nil {
				return fmt.Errorf("parse config: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("refusing to lock invalid config: %w", err)
			}

			report, err := config.LockFile(path, dryRun)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, f := range report.Files {
				fmt.Fprintf(out, "%s  %s\n", f.Hash, f.Filename)
			}
			if report.Written {
				fmt.Fprintf(out, "wrote %s\n", report.ChecksumPath)
			} else {
				fmt.Fprintf(out, "dry run, %s not written\n", report.ChecksumPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to configuration file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print hashes without writing the manifest")
	return cmd
}
