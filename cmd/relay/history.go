package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/mattjoyce/relay/internal/inspect"
	"github.com/mattjoyce/relay/internal/journal"
	"github.com/mattjoyce/relay/internal/storage"
)

func newHistoryCmd() *cobra.Command {
	var (
		configPath string
		session    string
		limit      int
		jsonOut    bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List journalled commands, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath, true)
			if err != nil {
				return err
			}
			if cfg.Journal.Path == "" {
				return errors.New("journal is disabled (journal.path is empty)")
			}
			db, err := storage.OpenSQLite(cmd.Context(), cfg.Journal.Path)
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer db.Close()

			entries, err := journal.New(db).List(cmd.Context(), session, limit)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderHistoryTable(entries))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&configPath, "config", "", "Path to configuration file")
	f.StringVar(&session, "session", "", "Only list this client session")
	f.IntVar(&limit, "limit", 50, "Maximum number of entries")
	f.BoolVar(&jsonOut, "json", false, "Output JSON")
	return cmd
}

func renderHistoryTable(entries []journal.Entry) string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		worker := ""
		if e.Worker != nil {
			worker = strconv.Itoa(*e.Worker)
		}
		outcome := ""
		switch {
		case e.Successful == nil:
		case *e.Successful:
			outcome = oneLine(string(e.ReturnValue), 32)
		default:
			outcome = oneLine(e.FailureDetail, 32)
		}
		session := e.Session
		if len(session) > 8 {
			session = session[:8]
		}
		rows = append(rows, []string{
			session,
			strconv.FormatInt(e.ID, 10),
			e.CreatedAt.Local().Format(time.DateTime),
			string(e.Status),
			worker,
			oneLine(e.Command, 40),
			outcome,
		})
	}
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("SESSION", "ID", "CREATED", "STATUS", "WORKER", "COMMAND", "OUTCOME").
		Rows(rows...).
		Render()
}

func newInspectCmd() *cobra.Command {
	var (
		configPath string
		session    string
		jsonOut    bool
	)
	cmd := &cobra.Command{
		Use:   "inspect ID",
		Short: "Show the journalled request and outcome of one command",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid command id %q", args[0])
			}
			cfg, err := loadConfig(configPath, true)
			if err != nil {
				return err
			}
			if cfg.Journal.Path == "" {
				return errors.New("journal is disabled (journal.path is empty)")
			}
			db, err := storage.OpenSQLite(cmd.Context(), cfg.Journal.Path)
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer db.Close()

			build := inspect.BuildReport
			if jsonOut {
				build = inspect.BuildJSONReport
			}
			out, err := build(cmd.Context(), journal.New(db), session, id)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(out, "\n"))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&configPath, "config", "", "Path to configuration file")
	f.StringVar(&session, "session", "", "Client session (default: most recent with this id)")
	f.BoolVar(&jsonOut, "json", false, "Output JSON")
	return cmd
}
