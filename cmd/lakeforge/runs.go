package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/lakeforge/internal/state"
	"github.com/ShayCichocki/lakeforge/pkg/models"
)

var (
	runsLimit int
	runsPurge time.Duration
	runsJobs  bool
	runsTests bool
)

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "List recent pipeline runs",
	Long: `List recent pipeline runs from the workspace ledger, newest first.

With a run ID, print the outcome of each of its stages. --jobs and --tests
list the Glue jobs and test runs recorded by pipeline stages instead.

Examples:
  lakeforge runs --limit 5
  lakeforge runs 6f1c2a9e-...
  lakeforge runs --purge 720h   # delete runs older than 30 days
  lakeforge runs --jobs --tests -n 20`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := state.OpenWorkspace(cfg.Workspace.Dir)
		if err != nil {
			return fmt.Errorf("open workspace: %w", err)
		}
		defer db.Close()

		out := cmd.OutOrStdout()
		if runsPurge > 0 {
			n, err := db.PurgeOldRuns(runsPurge)
			if err != nil {
				return err
			}
			printStatus(out, "✓", fmt.Sprintf("purged %d runs", n), color.FgGreen)
			return nil
		}

		if runsJobs || runsTests {
			return listActivity(out, db, runsJobs, runsTests, runsLimit)
		}

		if len(args) == 1 {
			run, err := db.GetRun(args[0])
			if err != nil {
				return err
			}
			if run == nil {
				return fmt.Errorf("run %s not found", args[0])
			}
			stages, err := db.ListStages(run.ID)
			if err != nil {
				return err
			}
			printRunDetail(out, run, stages)
			return nil
		}

		runs, err := db.ListRuns(runsLimit)
		if err != nil {
			return err
		}
		printRuns(out, runs)
		return nil
	},
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 10, "Number of runs to list")
	runsCmd.Flags().DurationVar(&runsPurge, "purge", 0, "Delete runs started longer ago than this")
	runsCmd.Flags().BoolVar(&runsJobs, "jobs", false, "List Glue jobs created by pipeline stages")
	runsCmd.Flags().BoolVar(&runsTests, "tests", false, "List recent test runs")
}

// listActivity prints the Glue job registry and the most recent test runs.
func listActivity(w io.Writer, db state.LakehouseLog, jobs, tests bool, limit int) error {
	if jobs {
		list, err := db.ListGlueJobs()
		if err != nil {
			return err
		}
		printGlueJobs(w, list)
	}
	if tests {
		if jobs {
			fmt.Fprintln(w)
		}
		list, err := db.ListTestRuns(limit)
		if err != nil {
			return err
		}
		printTestRuns(w, list)
	}
	return nil
}

func printGlueJobs(w io.Writer, jobs []state.GlueJob) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No Glue jobs recorded.")
		return
	}
	for _, j := range jobs {
		status := color.CyanString("%s", j.Status)
		if j.Status == "started" {
			status = color.GreenString("%s", j.Status)
		}
		fmt.Fprintf(w, "%-28s %-9s %s", j.Name, status, j.ScriptLocation)
		if j.JobRunID != "" {
			fmt.Fprintf(w, "  run %s", j.JobRunID)
		}
		fmt.Fprintln(w)
	}
}

func printTestRuns(w io.Writer, runs []state.TestRun) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No test runs recorded.")
		return
	}
	for _, r := range runs {
		result := color.GreenString("passed")
		if !r.Passed {
			result = color.RedString("failed (exit %d)", r.ExitCode)
		}
		fmt.Fprintf(w, "%s  %-18s %-32s %s\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04"), r.TestType, r.Target, result)
	}
}

func statusColor(s state.RunStatus) func(format string, a ...interface{}) string {
	switch s {
	case state.RunCompleted:
		return color.GreenString
	case state.RunFailed:
		return color.RedString
	case state.RunInterrupted:
		return color.YellowString
	default:
		return color.CyanString
	}
}

func printRuns(w io.Writer, runs []state.PipelineRun) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No pipeline runs recorded.")
		return
	}
	for _, r := range runs {
		elapsed := "running"
		if r.FinishedAt != nil {
			elapsed = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s  %-16s %-12s %2d stages  %s  %s\n",
			shortRunID(r.ID), r.Name, statusColor(r.Status)("%s", r.Status),
			r.StageCount, r.StartedAt.Local().Format("2006-01-02 15:04"), elapsed)
	}
}

func printRunDetail(w io.Writer, r *state.PipelineRun, stages []models.StageReport) {
	fmt.Fprintf(w, "Run %s (%s)\n", r.ID, r.Name)
	fmt.Fprintf(w, "Status: %s  Policy: %s\n", statusColor(r.Status)("%s", r.Status), r.Policy)
	if r.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", r.Error)
	}
	fmt.Fprintln(w)
	for _, s := range stages {
		fmt.Fprintf(w, "  %3d  %-28s %-10s %2d iterations %3d actions  %d/%d tokens\n",
			s.Ordinal, s.Name, s.Outcome, s.Iterations, s.Dispatches, s.TokensIn, s.TokensOut)
		if s.Error != "" {
			fmt.Fprintf(w, "       %s\n", color.RedString(s.Error))
		}
	}
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
