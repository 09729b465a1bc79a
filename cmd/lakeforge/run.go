package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/lakeforge/internal/capability"
	"github.com/ShayCichocki/lakeforge/internal/loop"
	"github.com/ShayCichocki/lakeforge/internal/oracle"
)

var (
	runFraming      string
	runTaskText     string
	runBudget       int
	runCapabilities string
	runStage        string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single agent loop",
	Long: `Run one turn-taking loop with the given framing and task.

The framing is the system prompt. Pass it inline or as @path to read it
from a file. --capabilities restricts the agent to a subset of the
lakehouse capabilities; by default it gets all of them.

Examples:
  lakeforge run --framing @prompts/dq.md --task "Profile SAP KNA1"
  lakeforge run --framing "You are a data engineer." \
      --task "Count customers per country in Oracle CRM" \
      --capabilities query_database,profile_data_source --budget 10`,
	Args: cobra.NoArgs,
	RunE: runSingle,
}

func init() {
	runCmd.Flags().StringVar(&runFraming, "framing", "", "System framing, or @file to read it from a file")
	runCmd.Flags().StringVar(&runTaskText, "task", "", "The task handed to the agent")
	runCmd.Flags().IntVar(&runBudget, "budget", 0, "Iteration budget (default loop.iteration_budget)")
	runCmd.Flags().StringVar(&runCapabilities, "capabilities", "", "Comma separated capability subset")
	runCmd.Flags().StringVar(&runStage, "stage", "run", "Stage name recorded with written artifacts")
	runCmd.MarkFlagRequired("framing")
	runCmd.MarkFlagRequired("task")
}

func runSingle(cmd *cobra.Command, args []string) error {
	framing, err := readFraming(runFraming)
	if err != nil {
		return err
	}
	if strings.TrimSpace(runTaskText) == "" {
		return errors.New("--task must not be empty")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	table := a.table
	if caps := splitList(runCapabilities); len(caps) > 0 {
		if table, err = a.table.Subset(caps...); err != nil {
			return err
		}
	}

	budget := a.cfg.Loop.IterationBudget
	if cmd.Flags().Changed("budget") {
		budget = runBudget
	}

	client, err := newOracle(a.cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	defer func() { printSpend(out, client.Usage()) }()
	l := loop.New(loop.Config{
		Oracle:       client,
		PreviewChars: a.cfg.Loop.PreviewChars,
		Logger:       a.logger,
		OnEvent:      loopPrinter(out),
	})

	stageLog := a.logger.With().Str("stage", runStage).Logger()
	ctx = stageLog.WithContext(capability.ContextWithStage(ctx, runStage))

	res, err := l.Run(ctx, framing, runTaskText, table, budget)
	if err != nil {
		if errors.Is(err, loop.ErrInterrupted) {
			printStatus(out, "!", "interrupted", color.FgYellow)
		}
		return err
	}

	printLoopResult(out, res)
	if res.Exhausted() {
		return fmt.Errorf("agent used all %d iterations without completing", budget)
	}
	return nil
}

// readFraming returns v, or the contents of the file when v is @path.
func readFraming(v string) (string, error) {
	if path, ok := strings.CutPrefix(v, "@"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read framing: %w", err)
		}
		v = string(data)
	}
	if strings.TrimSpace(v) == "" {
		return "", errors.New("framing must not be empty")
	}
	return v, nil
}

// loopPrinter renders loop events as status lines.
func loopPrinter(w io.Writer) func(loop.Event) {
	return func(e loop.Event) {
		switch e.Type {
		case loop.EventActionCall:
			fmt.Fprintf(w, "  %s %s\n", color.CyanString("→"), e.Action)
		case loop.EventActionResult:
			if e.Failed {
				printStatus(w, "  ✗", e.Action+" failed", color.FgRed)
			}
		case loop.EventText:
			if rootVerbose && e.Content != "" {
				fmt.Fprintf(w, "  %s\n", color.HiBlackString(firstLine(e.Content)))
			}
		}
	}
}

func printLoopResult(w io.Writer, res *loop.Result) {
	if res.Completed() {
		printStatus(w, "✓", fmt.Sprintf("completed in %d iterations (%d actions)", res.Iterations, res.Dispatches), color.FgGreen)
	} else {
		printStatus(w, "✗", fmt.Sprintf("exhausted after %d iterations (%d actions)", res.Iterations, res.Dispatches), color.FgRed)
	}
	fmt.Fprintf(w, "Tokens: %d in / %d out\n\n", res.TokensIn, res.TokensOut)
	fmt.Fprintln(w, res.Output)
}

// printSpend reports the oracle calls a command made and their estimated cost.
func printSpend(w io.Writer, u oracle.Usage) {
	if u.Calls == 0 {
		return
	}
	fmt.Fprintf(w, "Oracle: %d calls, %d in / %d out tokens, est. $%.2f\n",
		u.Calls, u.InputTokens, u.OutputTokens, u.EstimatedCost())
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
