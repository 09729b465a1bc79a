package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/lakeforge/internal/orchestrator"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running pipeline",
	Long: `Ask a pipeline running in this workspace to stop.

The running stage is interrupted and recorded as failed; the remaining
stages are skipped.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := orchestrator.SendStop(cfg.SignalsDir()); err != nil {
			return fmt.Errorf("send stop: %w", err)
		}
		printStatus(cmd.OutOrStdout(), "✓", "stop requested", color.FgGreen)
		return nil
	},
}
