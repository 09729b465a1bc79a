package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/lakeforge/internal/config"
	"github.com/ShayCichocki/lakeforge/internal/logging"
)

var (
	rootConfigPath string
	rootLogLevel   string
	rootVerbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "lakeforge",
	Short: "Tool-using agents for MDM lakehouse pipelines",
	Long: `lakeforge runs tool-augmented LLM agents against enterprise data sources
and sequences them into a lakehouse build pipeline.

Each agent runs a turn-taking loop: the model asks for actions (query a
warehouse, profile a table, write PySpark or dbt code, run tests, create a
Glue job), lakeforge dispatches them and feeds the results back until the
model is done or its iteration budget runs out.

Stages share one artifact store, so the dbt modeler can read what the ETL
generators wrote.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootConfigPath, "config", "", "Config file (default: user config plus .lakeforge.yaml)")
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "", "Override log.level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&rootVerbose, "verbose", "v", false, "Also write logs to stderr")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(pipelineCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig honours --config and --log-level.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if rootConfigPath != "" {
		cfg, err = config.LoadFromPath(rootConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if rootLogLevel != "" {
		cfg.Log.Level = rootLogLevel
	}
	return cfg, nil
}

// newLogger builds the command logger. The caller closes the returned closer.
func newLogger(cfg *config.Config) (zerolog.Logger, io.Closer, error) {
	logger, closer, err := logging.New(logging.Options{
		Level:   cfg.Log.Level,
		File:    cfg.LogFile(),
		Console: rootVerbose,
	})
	if err != nil {
		return logger, closer, fmt.Errorf("set up logging: %w", err)
	}
	return logger, closer, nil
}

// printStatus prints a colored status line.
func printStatus(w io.Writer, symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Fprintf(w, "%s %s\n", c.Sprint(symbol), message)
}
