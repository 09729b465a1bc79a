package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/lakeforge/internal/config"
	"github.com/ShayCichocki/lakeforge/internal/lakehouse"
	"github.com/ShayCichocki/lakeforge/internal/loop"
	"github.com/ShayCichocki/lakeforge/internal/orchestrator"
	"github.com/ShayCichocki/lakeforge/internal/tui"
	"github.com/ShayCichocki/lakeforge/pkg/models"
)

// defaultPipelineName names the built-in MDM pipeline in the run ledger.
const defaultPipelineName = "mdm-lakehouse"

var (
	pipelineFile              string
	pipelineContinueOnFailure bool
	pipelineBudget            int
	pipelineTUI               bool
	pipelineDryRun            bool
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run the multi-stage lakehouse pipeline",
	Long: `Run every pipeline stage in ordinal order.

Without --file (or pipeline.file) the built-in MDM pipeline runs: one ETL
generator per enterprise source, then data quality, MDM matching, dbt
modeling, DAG building and documentation.

By default the run halts at the first stage that fails or exhausts its
budget; --continue-on-failure runs the remaining stages anyway. Running
'lakeforge stop' from another terminal cancels the run.

Examples:
  lakeforge pipeline
  lakeforge pipeline --file pipelines/customers.yaml --tui
  lakeforge pipeline --dry-run`,
	Args: cobra.NoArgs,
	RunE: runPipeline,
}

func init() {
	pipelineCmd.Flags().StringVarP(&pipelineFile, "file", "f", "", "Pipeline definition (YAML); overrides pipeline.file")
	pipelineCmd.Flags().BoolVar(&pipelineContinueOnFailure, "continue-on-failure", false, "Keep running stages after one fails")
	pipelineCmd.Flags().IntVar(&pipelineBudget, "budget", 0, "Default iteration budget per stage (default loop.iteration_budget)")
	pipelineCmd.Flags().BoolVar(&pipelineTUI, "tui", false, "Show live progress in a terminal UI")
	pipelineCmd.Flags().BoolVar(&pipelineDryRun, "dry-run", false, "Validate and print the plan without calling the model")
}

// loadTasks returns the pipeline name and stages to run.
func loadTasks(path string) (string, []models.PipelineTask, error) {
	if path == "" {
		return defaultPipelineName, lakehouse.DefaultPipeline(), nil
	}
	pf, err := orchestrator.LoadPipelineFile(path)
	if err != nil {
		return "", nil, err
	}
	return pf.Name, pf.Stages, nil
}

// pipelineSettings resolves flags against configuration.
func pipelineSettings(cmd *cobra.Command, cfg *config.Config) (path string, policy orchestrator.Policy, budget int) {
	path = cfg.Pipeline.File
	if cmd.Flags().Changed("file") {
		path = pipelineFile
	}
	policy = orchestrator.PolicyFor(cfg.Pipeline.HaltOnFailure && !pipelineContinueOnFailure)
	budget = cfg.Loop.IterationBudget
	if cmd.Flags().Changed("budget") {
		budget = pipelineBudget
	}
	return path, policy, budget
}

func runPipeline(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	path, policy, budget := pipelineSettings(cmd, a.cfg)
	name, tasks, err := loadTasks(path)
	if err != nil {
		return err
	}
	if name == "" {
		name = defaultPipelineName
	}

	out := cmd.OutOrStdout()
	opts := []orchestrator.Option{
		orchestrator.WithName(name),
		orchestrator.WithPolicy(policy),
		orchestrator.WithDefaultBudget(budget),
		orchestrator.WithLogger(a.logger),
		orchestrator.WithRecorder(a.db),
	}
	if a.cfg.Pipeline.Timeout > 0 {
		opts = append(opts, orchestrator.WithTimeout(a.cfg.Pipeline.Timeout))
	}

	if pipelineDryRun {
		planned, err := orchestrator.New(nil, a.table, opts...).Plan(tasks)
		if err != nil {
			return err
		}
		printPlan(out, name, policy, planned)
		return nil
	}

	client, err := newOracle(a.cfg)
	if err != nil {
		return err
	}
	runner := loop.New(loop.Config{
		Oracle:       client,
		PreviewChars: a.cfg.Loop.PreviewChars,
		Logger:       a.logger,
	})

	ctx, watcher, err := orchestrator.WatchStop(ctx, a.cfg.SignalsDir(), a.logger)
	if err != nil {
		return err
	}
	defer watcher.Close()

	var report *orchestrator.Report
	if pipelineTUI {
		report, err = runPipelineTUI(ctx, a, name, tasks, runner, opts)
	} else {
		opts = append(opts, orchestrator.WithEvents(stagePrinter(out)))
		report, err = orchestrator.New(runner, a.table, opts...).Run(ctx, tasks)
	}

	if report != nil {
		printReport(out, report)
	}
	printSpend(out, client.Usage())
	if err != nil && errors.Is(context.Cause(ctx), orchestrator.ErrStopRequested) {
		printStatus(out, "!", "stopped by operator", color.FgYellow)
	}
	return err
}

// runPipelineTUI runs the orchestrator in the background and renders its
// events. Quitting the view cancels the run.
func runPipelineTUI(ctx context.Context, a *app, name string, tasks []models.PipelineTask, runner *loop.Loop, opts []orchestrator.Option) (*orchestrator.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	emitter := orchestrator.NewEventEmitter(256, a.logger)
	opts = append(opts, orchestrator.WithEvents(emitter.Emit))
	orch := orchestrator.New(runner, a.table, opts...)

	planned, err := orch.Plan(tasks)
	if err != nil {
		return nil, err
	}

	program, _ := tui.NewPipelineProgram(name, planned, emitter.Events(), cancel)

	type outcome struct {
		report *orchestrator.Report
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		report, err := orch.Run(ctx, tasks)
		emitter.Close()
		program.Send(tui.DoneMsg{Report: report, Err: err})
		done <- outcome{report, err}
	}()

	if _, err := program.Run(); err != nil {
		cancel()
		<-done
		return nil, fmt.Errorf("tui: %w", err)
	}
	res := <-done
	return res.report, res.err
}

// stagePrinter renders orchestrator events as status lines.
func stagePrinter(w io.Writer) func(orchestrator.Event) {
	actions := loopPrinter(w)
	return func(e orchestrator.Event) {
		switch e.Type {
		case orchestrator.EventRunStarted:
			fmt.Fprintf(w, "Pipeline run %s: %d stages\n", e.RunID, e.Total)
		case orchestrator.EventStageStarted:
			printStatus(w, "▶", fmt.Sprintf("[%d/%d] %s", e.Index, e.Total, e.Stage), color.FgCyan)
		case orchestrator.EventStageFinished:
			msg := fmt.Sprintf("%s %s in %s", e.Stage, e.Outcome, e.Duration.Round(time.Second))
			if e.Outcome.Succeeded() {
				printStatus(w, "✓", msg, color.FgGreen)
			} else {
				if e.Error != nil {
					msg += ": " + e.Error.Error()
				}
				printStatus(w, "✗", msg, color.FgRed)
			}
		case orchestrator.EventStageSkipped:
			printStatus(w, "-", e.Stage+" skipped", color.FgYellow)
		case orchestrator.EventLoop:
			if e.Loop != nil {
				actions(*e.Loop)
			}
		}
	}
}

func printPlan(w io.Writer, name string, policy orchestrator.Policy, planned []orchestrator.PlannedStage) {
	fmt.Fprintf(w, "Pipeline %s (%d stages, policy %s)\n\n", name, len(planned), policy)
	for _, p := range planned {
		caps := "all capabilities"
		if len(p.Capabilities) > 0 {
			caps = fmt.Sprintf("%v", p.Capabilities)
		}
		fmt.Fprintf(w, "  %3d  %-28s budget %-3d %s\n", p.Task.Ordinal, p.Task.Name, p.Budget, caps)
	}
}

func printReport(w io.Writer, r *orchestrator.Report) {
	in, out := r.Tokens()
	fmt.Fprintf(w, "\nRun %s finished in %s\n", r.RunID, r.FinishedAt.Sub(r.StartedAt).Round(time.Second))
	for _, s := range r.Stages {
		line := fmt.Sprintf("%-28s %-10s %2d iterations %3d actions", s.Name, s.Outcome, s.Iterations, s.Dispatches)
		switch s.Outcome {
		case models.OutcomeCompleted:
			fmt.Fprintln(w, color.GreenString(line))
		case models.OutcomeExhausted:
			fmt.Fprintln(w, color.YellowString(line))
		default:
			fmt.Fprintln(w, color.RedString(line))
		}
	}
	for _, name := range r.Skipped {
		fmt.Fprintf(w, "%-28s %s\n", name, color.HiBlackString("skipped"))
	}
	fmt.Fprintf(w, "Tokens: %d in / %d out\n", in, out)
	if r.Succeeded() {
		printStatus(w, "✓", "pipeline succeeded", color.FgGreen)
	} else {
		printStatus(w, "✗", fmt.Sprintf("pipeline did not succeed (%d failed, %d skipped)", len(r.Failed()), len(r.Skipped)), color.FgRed)
	}
}
