// relay drives a pool of command workers: it dispatches Go expressions and
// statements to them, tracks every request to exactly one response and
// serves the pool over HTTP.
//
// Usage:
//
//	relay serve   --config relay.yaml
//	relay exec    [--local] [--workers N] [--target ID]... [--param k=v]... COMMAND
//	relay submit  [--block] [--target ID]... COMMAND
//	relay poll    [--block] ID...
//	relay workers
//	relay watch
//	relay history --config relay.yaml
//	relay inspect --config relay.yaml ID
//	relay config  check|lock --config relay.yaml
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "relay",
		Short: "Dispatch commands to a pool of workers and collect their responses",
		Long: `relay runs a pool of worker processes and a dispatch client in front of
them. Commands are Go expressions or statements; each one is queued, sent
to an idle worker and resolved by exactly one response, synthesized on
worker timeout when needed.`,
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
	}

	root.AddCommand(
		newServeCmd(),
		newExecCmd(),
		newWorkerCmd(),
		newSubmitCmd(),
		newPollCmd(),
		newWorkersCmd(),
		newWatchCmd(),
		newHistoryCmd(),
		newInspectCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
	root.Version = currentVersionInfo().Version
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}
