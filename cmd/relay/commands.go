package main

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/mattjoyce/relay/internal/api"
	"github.com/mattjoyce/relay/internal/monitor"
	"github.com/mattjoyce/relay/internal/registry"
	"github.com/mattjoyce/relay/internal/tui/watch"
)

func newSubmitCmd() *cobra.Command {
	var (
		remote  remoteFlags
		block   bool
		targets []int
		params  []string
		mode    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "submit COMMAND",
		Short: "Submit a command to a running relay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := remote.client()
			if err != nil {
				return err
			}
			p, err := parseParams(params)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd.Context(), timeout)
			defer cancel()

			var resp api.SubmitResponse
			status, err := c.do(ctx, http.MethodPost, "/commands", api.SubmitRequest{
				Command:    args[0],
				Mode:       mode,
				Targets:    targets,
				Parameters: p,
				Block:      block,
			}, &resp)
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), resp); err != nil {
				return err
			}
			if block && status == http.StatusOK {
				return failedResponses(resp.Responses)
			}
			return nil
		},
	}
	remote.register(cmd.Flags())
	f := cmd.Flags()
	f.BoolVar(&block, "block", false, "Wait for every response")
	f.IntSliceVar(&targets, "target", nil, "Worker id to run the command on (repeatable)")
	f.StringArrayVar(&params, "param", nil, "Parameter as key=value; JSON values are decoded (repeatable)")
	f.StringVar(&mode, "mode", "auto", "Execution mode: auto, eval or exec")
	f.DurationVar(&timeout, "timeout", 0, "Give up after this long")
	return cmd
}

func newPollCmd() *cobra.Command {
	var (
		remote  remoteFlags
		block   bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "poll ID...",
		Short: "Fetch responses for command ids from a running relay",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, a := range args {
				id, err := strconv.ParseInt(a, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid command id %q", a)
				}
				ids = append(ids, id)
			}
			c, err := remote.client()
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd.Context(), timeout)
			defer cancel()

			var resp api.PollResponse
			if _, err := c.do(ctx, http.MethodPost, "/commands/poll", api.PollRequest{IDs: ids, Block: block}, &resp); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), resp)
		},
	}
	remote.register(cmd.Flags())
	cmd.Flags().BoolVar(&block, "block", false, "Wait until every known id has a response")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up after this long")
	return cmd
}

func newWorkersCmd() *cobra.Command {
	var (
		remote  remoteFlags
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "workers [ID]",
		Short: "Show worker status of a running relay",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := remote.client()
			if err != nil {
				return err
			}
			var workers []monitor.WorkerStatus
			if len(args) == 1 {
				var w monitor.WorkerStatus
				if _, err := c.do(cmd.Context(), http.MethodGet, "/workers/"+args[0], nil, &w); err != nil {
					return err
				}
				workers = append(workers, w)
			} else {
				var resp api.WorkersResponse
				if _, err := c.do(cmd.Context(), http.MethodGet, "/workers", nil, &resp); err != nil {
					return err
				}
				workers = resp.Workers
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), workers)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderWorkersTable(workers))
			return nil
		},
	}
	remote.register(cmd.Flags())
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output JSON")
	return cmd
}

func renderWorkersTable(workers []monitor.WorkerStatus) string {
	sort.Slice(workers, func(i, j int) bool { return workers[i].Worker < workers[j].Worker })
	rows := make([][]string, 0, len(workers))
	for _, w := range workers {
		pid := ""
		if w.PID > 0 {
			pid = strconv.Itoa(w.PID)
		}
		lastSeen := ""
		if !w.LastSeen.IsZero() {
			lastSeen = w.LastSeen.Local().Format(time.TimeOnly)
		}
		rows = append(rows, []string{
			strconv.Itoa(w.Worker), w.State(), w.Processor, pid, lastSeen, oneLine(w.Command, 48),
		})
	}
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "STATE", "PROCESSOR", "PID", "LAST SEEN", "COMMAND").
		Rows(rows...).
		Render()
}

func newWatchCmd() *cobra.Command {
	var remote remoteFlags
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live view of workers and events of a running relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if remote.key == "" {
				return fmt.Errorf("API key required: use --api-key or RELAY_API_KEY")
			}
			m := watch.New(strings.TrimRight(remote.url, "/"), remote.key)
			if _, err := tea.NewProgram(m, tea.WithContext(cmd.Context())).Run(); err != nil {
				return fmt.Errorf("TUI error: %w", err)
			}
			return nil
		},
	}
	remote.register(cmd.Flags())
	return cmd
}

func failedResponses(responses []registry.Response) error {
	failed := 0
	for _, r := range responses {
		if !r.Successful {
			failed++
		}
	}
	if failed > 0 {
		return &exitError{code: 2, err: fmt.Errorf("%d of %d commands failed", failed, len(responses))}
	}
	return nil
}

// oneLine collapses whitespace and cuts s to n runes.
func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
