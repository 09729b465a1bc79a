package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/lakeforge/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify lakeforge configuration.

Without arguments, displays the effective configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the value in the user config file.

Configuration is stored at ~/.config/lakeforge/config.yaml
Project-specific overrides can be placed in .lakeforge.yaml
Secrets are always masked.`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if len(args) == 2 {
			if err := config.SetValue(args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(out, "Set %s = %s\n", args[0], displayValue(args[0], args[1]))
			return nil
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		settings := config.Settings(cfg)

		if len(args) == 1 {
			value, ok := settings[args[0]]
			if !ok {
				return fmt.Errorf("unknown configuration key: %s", args[0])
			}
			fmt.Fprintln(out, displayValue(args[0], value))
			return nil
		}

		displayAllConfig(out, cfg, settings)
		return nil
	},
}

// displayValue masks secrets.
func displayValue(key string, value any) string {
	if config.IsSecretKey(key) {
		s, _ := value.(string)
		return config.MaskAPIKey(s)
	}
	return fmt.Sprint(value)
}

func displayAllConfig(w io.Writer, cfg *config.Config, settings map[string]any) {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s: %s\n", k, displayValue(k, settings[k]))
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "API key source: %s\n", config.GetAPIKeySource(cfg))
	fmt.Fprintf(w, "User config: %s\n", config.GetUserConfigPath())
	if p := config.GetProjectConfigPath(); p != "" {
		fmt.Fprintf(w, "Project config: %s\n", p)
	}
}
