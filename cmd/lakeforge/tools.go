package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/lakeforge/internal/capability"
)

var toolsCapabilities string

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Print the capability declarations as JSON",
	Long: `Print the name, description and input schema of every capability the
agents can call, exactly as they are sent to the model.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(context.Background())
		if err != nil {
			return err
		}
		defer a.Close()

		table := a.table
		if caps := splitList(toolsCapabilities); len(caps) > 0 {
			if table, err = a.table.Subset(caps...); err != nil {
				return err
			}
		}
		return writeDeclarations(cmd.OutOrStdout(), table)
	},
}

func init() {
	toolsCmd.Flags().StringVar(&toolsCapabilities, "capabilities", "", "Comma separated capability subset")
}

func writeDeclarations(w io.Writer, table *capability.Table) error {
	data, err := json.MarshalIndent(table.Declarations(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode declarations: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
