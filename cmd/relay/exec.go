package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/relay/internal/client"
	"github.com/mattjoyce/relay/internal/events"
	"github.com/mattjoyce/relay/internal/log"
	"github.com/mattjoyce/relay/internal/registry"
)

type execOptions struct {
	configPath string
	local      bool
	workers    int
	targets    []int
	params     []string
	mode       string
	timeout    time.Duration
}

func newExecCmd() *cobra.Command {
	var opts execOptions
	cmd := &cobra.Command{
		Use:   "exec COMMAND",
		Short: "Start a worker pool, run one command and print the responses as JSON",
		Long: `exec starts a fresh pool, submits COMMAND blocking and prints one JSON
response per request. Without --target a single request goes to the first
idle worker; each --target queues one request for that worker. The exit
status is 2 when any response is unsuccessful.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			responses, err := runExec(cmd.Context(), opts, args[0])
			if err != nil {
				return err
			}
			return printResponses(cmd, responses)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "Path to configuration file (defaults apply when none is found)")
	f.BoolVar(&opts.local, "local", false, "Run workers in-process instead of as child processes")
	f.IntVar(&opts.workers, "workers", 0, "Number of workers (overrides workers.count)")
	f.IntSliceVar(&opts.targets, "target", nil, "Worker id to run the command on (repeatable)")
	f.StringArrayVar(&opts.params, "param", nil, "Parameter as key=value; JSON values are decoded (repeatable)")
	f.StringVar(&opts.mode, "mode", "auto", "Execution mode: auto, eval or exec")
	f.DurationVar(&opts.timeout, "timeout", 0, "Give up after this long (0 waits for every response)")
	return cmd
}

func runExec(ctx context.Context, opts execOptions, command string) ([]registry.Response, error) {
	cfg, err := loadConfig(opts.configPath, false)
	if err != nil {
		return nil, err
	}
	if opts.workers > 0 {
		cfg.Workers.Count = opts.workers
	}
	mode, err := client.ParseMode(opts.mode)
	if err != nil {
		return nil, err
	}
	params, err := parseParams(opts.params)
	if err != nil {
		return nil, err
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.Get()

	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	p, err := startPool(ctx, cfg, opts.local, log.WithComponent("transport"))
	if err != nil {
		return nil, err
	}
	defer p.Close()

	c := newClient(cfg, p, events.Nop{}, nil, logger)
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("start client: %w", err)
	}
	defer c.Close()

	res, err := c.Submit(ctx, client.SubmitRequest{
		Command:    command,
		Mode:       mode,
		Targets:    opts.targets,
		Parameters: params,
		Block:      true,
	})
	if err != nil {
		return nil, err
	}
	return res.Responses, nil
}

// parseParams turns key=value pairs into command parameters. Values that
// parse as JSON keep their JSON type; anything else is a string.
func parseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q: want key=value", pair)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		params[key] = v
	}
	return params, nil
}

func printResponses(cmd *cobra.Command, responses []registry.Response) error {
	if err := writeJSON(cmd.OutOrStdout(), responses); err != nil {
		return fmt.Errorf("render responses: %w", err)
	}
	return failedResponses(responses)
}
