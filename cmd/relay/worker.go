package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/relay/internal/log"
	"github.com/mattjoyce/relay/internal/worker"
)

func newWorkerCmd() *cobra.Command {
	var id int
	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Run one worker on stdin/stdout (started by serve and exec)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if id <= 0 {
				return errors.New("--id must be positive")
			}
			level := os.Getenv("RELAY_LOG_LEVEL")
			if level == "" {
				level = "info"
			}
			// stdout carries the protocol; logs go to stderr as JSON.
			log.Setup(level, "json")

			in, err := worker.NewInterpreter()
			if err != nil {
				return fmt.Errorf("create interpreter: %w", err)
			}
			srv := worker.NewServer(id, in, log.Get())
			return srv.Serve(cmd.Context(), os.Stdin, os.Stdout)
		},
	}
	cmd.Flags().IntVar(&id, "id", 0, "Worker id assigned by the controller")
	return cmd
}
