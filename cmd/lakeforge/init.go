package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/lakeforge/internal/config"
	"github.com/ShayCichocki/lakeforge/internal/exec"
	"github.com/ShayCichocki/lakeforge/internal/git"
	"github.com/ShayCichocki/lakeforge/internal/lakehouse"
	"github.com/ShayCichocki/lakeforge/internal/orchestrator"
	"github.com/ShayCichocki/lakeforge/internal/state"
)

// initOptions are the init command flags.
type initOptions struct {
	Force        bool
	NoGit        bool
	WithConfig   bool
	WithPipeline bool
}

var initOpts initOptions

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a lakeforge workspace",
	Long: `Initialize a directory for use with lakeforge.

This command sets up everything a pipeline run needs:
  - Initializes a git repository for generated code if needed
  - Creates the .lakeforge workspace (state database, logs, signals, warehouse)
  - Adds the workspace to .gitignore
  - Optionally writes a .lakeforge.yaml template and the default pipeline.yaml

The directory argument is optional and defaults to the current directory.

Examples:
  lakeforge init
  lakeforge init ./mdm-lakehouse --with-config --with-pipeline
  lakeforge init --no-git`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) > 0 {
			dir = args[0]
		}
		return initWorkspace(cmd.Context(), cmd.OutOrStdout(), dir, initOpts)
	},
}

func init() {
	initCmd.Flags().BoolVar(&initOpts.Force, "force", false, "Reinitialize even if already set up")
	initCmd.Flags().BoolVar(&initOpts.NoGit, "no-git", false, "Skip git initialization")
	initCmd.Flags().BoolVar(&initOpts.WithConfig, "with-config", false, "Write a .lakeforge.yaml template")
	initCmd.Flags().BoolVar(&initOpts.WithPipeline, "with-pipeline", false, "Write the default pipeline as pipeline.yaml")
}

func initWorkspace(ctx context.Context, w io.Writer, dir string, opts initOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolving absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", absPath, err)
	}

	fmt.Fprintf(w, "Initializing lakeforge in %s...\n\n", absPath)

	workspace := filepath.Join(absPath, config.DefaultWorkspaceDir)
	if _, err := os.Stat(workspace); err == nil && !opts.Force {
		fmt.Fprintln(w, "Directory already initialized. Use --force to reinitialize.")
		return nil
	}

	if !opts.NoGit {
		if err := initGitRepo(ctx, w, exec.NewRunner(), absPath); err != nil {
			return err
		}
	}

	for _, sub := range []string{"logs", "signals", "warehouse"} {
		if err := os.MkdirAll(filepath.Join(workspace, sub), 0755); err != nil {
			return fmt.Errorf("creating workspace directory: %w", err)
		}
	}
	db, err := state.OpenWorkspace(workspace)
	if err != nil {
		return fmt.Errorf("creating state database: %w", err)
	}
	db.Close()
	printStatus(w, "✓", "Created "+config.DefaultWorkspaceDir+" workspace", color.FgGreen)

	if !opts.NoGit {
		if err := updateGitignore(absPath); err != nil {
			return fmt.Errorf("updating .gitignore: %w", err)
		}
		printStatus(w, "✓", "Updated .gitignore", color.FgGreen)
	}

	if opts.WithConfig {
		created, err := writeIfMissing(filepath.Join(absPath, config.ProjectConfigName), []byte(projectConfigTemplate))
		if err != nil {
			return fmt.Errorf("creating project config: %w", err)
		}
		if created {
			printStatus(w, "✓", "Created "+config.ProjectConfigName+" template", color.FgGreen)
		}
	}

	if opts.WithPipeline {
		data, err := defaultPipelineYAML()
		if err != nil {
			return err
		}
		created, err := writeIfMissing(filepath.Join(absPath, "pipeline.yaml"), data)
		if err != nil {
			return fmt.Errorf("creating pipeline.yaml: %w", err)
		}
		if created {
			printStatus(w, "✓", "Created pipeline.yaml", color.FgGreen)
		}
	}

	apiKeySet := os.Getenv("ANTHROPIC_API_KEY") != ""
	if apiKeySet {
		printStatus(w, "✓", "ANTHROPIC_API_KEY is set", color.FgGreen)
	} else {
		printStatus(w, "⚠", "ANTHROPIC_API_KEY not set (you can set it later)", color.FgYellow)
	}

	fmt.Fprintf(w, "\n%s lakeforge initialization complete!\n\n", color.GreenString("✓"))
	fmt.Fprintln(w, "Next steps:")
	if !apiKeySet {
		fmt.Fprintln(w, "  export ANTHROPIC_API_KEY=your-key-here")
	}
	fmt.Fprintln(w, "  Put warehouse extracts in "+filepath.Join(config.DefaultWorkspaceDir, "warehouse")+" (sap_hana.db, oracle.db, ...)")
	fmt.Fprintln(w, "  lakeforge pipeline --dry-run")
	fmt.Fprintln(w, "  lakeforge pipeline --tui")
	return nil
}

// initGitRepo runs git init unless repoPath is already a work tree.
func initGitRepo(ctx context.Context, w io.Writer, runner exec.CommandRunner, repoPath string) error {
	if _, err := runner.LookPath("git"); err != nil {
		printStatus(w, "✗", "Git not found", color.FgRed)
		return fmt.Errorf("git not found in PATH\n\n" +
			"lakeforge commits generated pipeline code with git.\n" +
			"Install git or rerun with --no-git.")
	}
	if git.NewRunner(repoPath).IsRepo(ctx) {
		printStatus(w, "✓", "Git repository exists", color.FgGreen)
		return nil
	}
	if output, err := runner.Run(ctx, repoPath, "git", "init"); err != nil {
		return fmt.Errorf("git init failed: %s\n%s", err, string(output))
	}
	printStatus(w, "✓", "Initialized git repository", color.FgGreen)
	return nil
}

// updateGitignore adds the workspace to .gitignore if not present.
func updateGitignore(repoPath string) error {
	gitignorePath := filepath.Join(repoPath, ".gitignore")

	var existingContent string
	if data, err := os.ReadFile(gitignorePath); err == nil {
		existingContent = string(data)
	}

	entry := config.DefaultWorkspaceDir + "/"
	for _, line := range strings.Split(existingContent, "\n") {
		if strings.TrimSpace(line) == entry {
			return nil
		}
	}

	var newContent strings.Builder
	newContent.WriteString(existingContent)
	if len(existingContent) > 0 && !strings.HasSuffix(existingContent, "\n") {
		newContent.WriteString("\n")
	}
	newContent.WriteString("\n# lakeforge\n" + entry + "\n")

	return os.WriteFile(gitignorePath, []byte(newContent.String()), 0644)
}

// writeIfMissing never overwrites an existing file.
func writeIfMissing(path string, data []byte) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return false, err
	}
	return true, nil
}

func defaultPipelineYAML() ([]byte, error) {
	data, err := yaml.Marshal(orchestrator.PipelineFile{
		Name:   defaultPipelineName,
		Stages: lakehouse.DefaultPipeline(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode default pipeline: %w", err)
	}
	return data, nil
}

const projectConfigTemplate = `# lakeforge project configuration
# Overrides ~/.config/lakeforge/config.yaml

# anthropic:
#   model: claude-sonnet-4-20250514
#   use_bedrock: false

# loop:
#   iteration_budget: 25

# pipeline:
#   halt_on_failure: true
#   timeout: 2h
#   file: pipeline.yaml

# lakehouse:
#   test_timeout: 10m
#   git_commit: true
#   protected_paths:
#     - "infra/**"

# salesforce:
#   instance_url: https://example.my.salesforce.com
#   access_token: ${SALESFORCE_ACCESS_TOKEN}

# aws:
#   region: us-east-1
#   glue_role: AWSGlueServiceRole
`
