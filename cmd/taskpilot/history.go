package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/taskpilot-ai/taskpilot/history"
)

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded runs",
	}
	cmd.AddCommand(newHistoryListCmd(opts), newHistoryShowCmd(opts))
	return cmd
}

func openHistory(opts *rootOptions) (*history.Store, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.History.Path == "" {
		return nil, fmt.Errorf("history is disabled (history.path is empty)")
	}
	return history.Open(cfg.History.Path)
}

func newHistoryListCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(opts)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("No runs recorded yet.")
				return nil
			}
			for _, r := range runs {
				input := r.Input
				if len(input) > 60 {
					input = input[:57] + "..."
				}
				fmt.Printf("%s  %s  %-9s  %2d steps  %s\n",
					r.ID[:8], r.StartedAt.Format("2006-01-02 15:04"), r.Status, r.Steps, input)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to list")
	return cmd
}

func newHistoryShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print the full transcript of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(opts)
			if err != nil {
				return err
			}
			defer store.Close()

			id, err := resolveRunID(cmd, store, args[0])
			if err != nil {
				return err
			}
			run, msgs, err := store.GetRun(cmd.Context(), id)
			if err != nil {
				return err
			}

			fmt.Printf("Run %s (%s, %d steps, %s)\n\n",
				run.ID, run.Status, run.Steps, run.StartedAt.Format("2006-01-02 15:04:05"))
			for _, m := range msgs {
				label := strings.ToUpper(string(m.Role))
				if m.ToolCallID != "" {
					label += " " + m.ToolCallID
				}
				fmt.Printf("--- %s ---\n%s\n\n", label, m.Content)
			}
			return nil
		},
	}
}

// resolveRunID accepts a full run id or the unique 8-char prefix shown
// by the list command.
func resolveRunID(cmd *cobra.Command, store *history.Store, arg string) (string, error) {
	if len(arg) >= 36 {
		return arg, nil
	}
	runs, err := store.ListRuns(cmd.Context(), 1000)
	if err != nil {
		return "", err
	}
	var match string
	for _, r := range runs {
		if strings.HasPrefix(r.ID, arg) {
			if match != "" {
				return "", fmt.Errorf("run id prefix %q is ambiguous", arg)
			}
			match = r.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("no run with id %q", arg)
	}
	return match, nil
}
