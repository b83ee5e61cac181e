package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/taskpilot-ai/taskpilot/agent"
	"github.com/taskpilot-ai/taskpilot/history"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var maxSteps int
	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run the agent on a prompt",
		Long: `Run the agent on a prompt given as arguments, or read from stdin
when no arguments are given. Model output streams to stdout; the run is
recorded in the history database when it completes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Log.Level)

			input := strings.TrimSpace(strings.Join(args, " "))
			if input == "" {
				input, err = readPrompt()
				if err != nil {
					return err
				}
			}
			if input == "" {
				return fmt.Errorf("empty prompt")
			}
			if maxSteps > 0 {
				cfg.Agent.MaxSteps = maxSteps
			}

			ctx := cmd.Context()
			rt, err := buildRuntime(ctx, cfg, logger, true)
			if err != nil {
				return err
			}
			defer rt.shutdown()

			return runAgent(ctx, rt, input)
		},
	}
	cmd.Flags().IntVar(&maxSteps, "max-steps", 0, "override the step budget for this run")
	return cmd
}

func readPrompt() (string, error) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var sb strings.Builder
	for scanner.Scan() {
		sb.WriteString(scanner.Text())
		sb.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read prompt from stdin: %w", err)
	}
	return strings.TrimSpace(sb.String()), nil
}

func runAgent(ctx context.Context, rt *runtime, input string) error {
	a, err := agent.New(agent.Config{
		Provider:     rt.provider,
		Registry:     rt.registry,
		SystemPrompt: rt.cfg.Agent.SystemPrompt,
		MaxSteps:     rt.cfg.Agent.MaxSteps,
		Temperature:  rt.cfg.Provider.Temperature,
		MaxTokens:    rt.cfg.Provider.MaxTokens,
		Logger:       rt.logger,
	})
	if err != nil {
		return err
	}

	started := time.Now()
	var (
		steps    int
		output   string
		runErr   error
		thinking bool
	)
	for ev := range a.Run(ctx, input) {
		switch ev.Kind {
		case agent.EventStepStart:
			steps = ev.Step
		case agent.EventThinking:
			if !thinking {
				fmt.Fprint(os.Stderr, "\n[thinking] ")
				thinking = true
			}
			fmt.Fprint(os.Stderr, ev.Content)
		case agent.EventContent:
			if thinking {
				fmt.Fprintln(os.Stderr)
				thinking = false
			}
			fmt.Print(ev.Content)
		case agent.EventToolCalls:
			if thinking {
				fmt.Fprintln(os.Stderr)
				thinking = false
			}
		case agent.EventToolStart:
			fmt.Fprintf(os.Stderr, "\n→ %s\n", ev.ToolCall.Name)
		case agent.EventToolResult:
			if !ev.Result.Success {
				fmt.Fprintf(os.Stderr, "  %s failed: %s\n", ev.ToolCall.Name, ev.Result.Error)
			}
		case agent.EventDone:
			output = ev.Content
			fmt.Println()
		case agent.EventError:
			runErr = ev.Err
		}
	}

	status := history.StatusCompleted
	switch {
	case runErr != nil:
		status = history.StatusError
		a.RollbackLastUser()
	case strings.HasPrefix(output, "Maximum steps ("):
		status = history.StatusExhausted
	}

	saveRun(rt, history.Run{
		ID:         uuid.New().String(),
		StartedAt:  started,
		FinishedAt: time.Now(),
		Input:      input,
		Output:     output,
		Steps:      steps,
		Status:     status,
	}, a)

	return runErr
}

// saveRun is best effort: a broken history database must not fail the run.
func saveRun(rt *runtime, run history.Run, a *agent.Agent) {
	if rt.cfg.History.Path == "" {
		return
	}
	store, err := history.Open(rt.cfg.History.Path)
	if err != nil {
		rt.logger.Warn("history unavailable", "error", err)
		return
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.SaveRun(ctx, run, a.Messages()); err != nil {
		rt.logger.Warn("failed to record run", "run_id", run.ID, "error", err)
	}
}
