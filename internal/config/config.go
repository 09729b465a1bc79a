// Package config handles configuration loading and management for lakeforge.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for lakeforge.
type Config struct {
	Anthropic  AnthropicConfig  `mapstructure:"anthropic"`
	Loop       LoopConfig       `mapstructure:"loop"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Workspace  WorkspaceConfig  `mapstructure:"workspace"`
	Lakehouse  LakehouseConfig  `mapstructure:"lakehouse"`
	Salesforce SalesforceConfig `mapstructure:"salesforce"`
	AWS        AWSConfig        `mapstructure:"aws"`
	Log        LogConfig        `mapstructure:"log"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	MaxTokens  int64  `mapstructure:"max_tokens"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// LoopConfig holds turn-taking loop settings.
type LoopConfig struct {
	// IterationBudget is the maximum number of oracle calls per run.
	IterationBudget int `mapstructure:"iteration_budget"`
	// PreviewChars bounds the logged argument preview of each action call.
	PreviewChars int `mapstructure:"preview_chars"`
}

// PipelineConfig holds orchestrator settings.
type PipelineConfig struct {
	HaltOnFailure bool `mapstructure:"halt_on_failure"`
	// Timeout caps the wall-clock time of a whole pipeline run (0 = none).
	Timeout time.Duration `mapstructure:"timeout"`
	// File replaces the built-in pipeline with a YAML definition.
	File string `mapstructure:"file"`
}

// WorkspaceConfig locates lakeforge's working files.
type WorkspaceConfig struct {
	// Dir holds the state database, logs and signal files.
	Dir string `mapstructure:"dir"`
	// RepoDir is where generated pipeline code is written.
	RepoDir string `mapstructure:"repo_dir"`
}

// LakehouseConfig holds settings for the lakehouse capabilities.
type LakehouseConfig struct {
	// WarehouseDir holds one SQLite file per query_database connection
	// (empty = <workspace>/warehouse).
	WarehouseDir string `mapstructure:"warehouse_dir"`
	// TestTimeout bounds each run_tests subprocess.
	TestTimeout time.Duration `mapstructure:"test_timeout"`
	// GitCommit commits every file written by write_pipeline_code.
	GitCommit bool `mapstructure:"git_commit"`
	// ProtectedPaths are extra glob patterns write_pipeline_code refuses.
	ProtectedPaths []string `mapstructure:"protected_paths"`
}

// SalesforceConfig holds Salesforce REST API settings.
type SalesforceConfig struct {
	InstanceURL string `mapstructure:"instance_url"`
	AccessToken string `mapstructure:"access_token"`
	APIVersion  string `mapstructure:"api_version"`
}

// AWSConfig holds AWS settings for Glue.
type AWSConfig struct {
	Region   string `mapstructure:"region"`
	Profile  string `mapstructure:"profile"`
	GlueRole string `mapstructure:"glue_role"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
	// File is the JSON log file; empty means <workspace>/logs/lakeforge.log.
	File string `mapstructure:"file"`
}

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Validate checks values that would make a run impossible.
func (c *Config) Validate() error {
	if c.Loop.IterationBudget < 1 {
		return fmt.Errorf("%w: loop.iteration_budget must be at least 1, got %d", ErrInvalidConfig, c.Loop.IterationBudget)
	}
	if c.Anthropic.MaxTokens < 1 {
		return fmt.Errorf("%w: anthropic.max_tokens must be positive, got %d", ErrInvalidConfig, c.Anthropic.MaxTokens)
	}
	if c.Pipeline.Timeout < 0 {
		return fmt.Errorf("%w: pipeline.timeout must not be negative", ErrInvalidConfig)
	}
	if c.Lakehouse.TestTimeout <= 0 {
		return fmt.Errorf("%w: lakehouse.test_timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// LogFile returns the configured log file path.
func (c *Config) LogFile() string {
	if c.Log.File != "" {
		return c.Log.File
	}
	return filepath.Join(c.Workspace.Dir, "logs", "lakeforge.log")
}

// WarehouseDir returns the directory of the local warehouse files.
func (c *Config) WarehouseDir() string {
	if c.Lakehouse.WarehouseDir != "" {
		return c.Lakehouse.WarehouseDir
	}
	return filepath.Join(c.Workspace.Dir, "warehouse")
}

// SignalsDir returns the directory watched for operator signals.
func (c *Config) SignalsDir() string {
	return filepath.Join(c.Workspace.Dir, "signals")
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, SALESFORCE_ACCESS_TOKEN, LAKEFORGE_*)
// 2. Project config (.lakeforge.yaml in current directory or parent)
// 3. User config (~/.config/lakeforge/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	bindEnv(v)
	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	return unmarshal(v)
}

var envKeyReplacer = strings.NewReplacer(".", "_")

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("LAKEFORGE")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("salesforce.access_token", "SALESFORCE_ACCESS_TOKEN")
	v.BindEnv("salesforce.instance_url", "SALESFORCE_INSTANCE_URL")
	v.BindEnv("aws.region", "AWS_REGION")
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	cfg.Salesforce.AccessToken = os.ExpandEnv(cfg.Salesforce.AccessToken)

	if cfg.Workspace.RepoDir == "" {
		cfg.Workspace.RepoDir = cwd()
	}
	if !filepath.IsAbs(cfg.Workspace.Dir) {
		cfg.Workspace.Dir = filepath.Join(cfg.Workspace.RepoDir, cfg.Workspace.Dir)
	}
	if cfg.Lakehouse.WarehouseDir != "" && !filepath.IsAbs(cfg.Lakehouse.WarehouseDir) {
		cfg.Lakehouse.WarehouseDir = filepath.Join(cfg.Workspace.RepoDir, cfg.Lakehouse.WarehouseDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to the user config file.
func Save(cfg *Config) error {
	v := viper.New()
	for key, value := range flatten(cfg) {
		v.Set(key, value)
	}
	return writeUserConfig(v)
}

// SetValue sets a single key in the user config file, keeping other keys.
func SetValue(key, value string) error {
	if !IsKnownKey(key) {
		return fmt.Errorf("unknown config key %q", key)
	}

	v := viper.New()
	path := GetUserConfigPath()
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading user config: %w", err)
		}
	}
	v.Set(key, value)
	return writeUserConfig(v)
}

func writeUserConfig(v *viper.Viper) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	v.SetConfigFile(GetUserConfigPath())
	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// Keys returns every known configuration key, sorted.
func Keys() []string {
	v := viper.New()
	setDefaults(v)
	keys := v.AllKeys()
	sort.Strings(keys)
	return keys
}

// IsKnownKey reports whether key is a known configuration key.
func IsKnownKey(key string) bool {
	for _, k := range Keys() {
		if k == key {
			return true
		}
	}
	return false
}

// Settings returns the effective configuration as dotted key/value pairs.
func Settings(cfg *Config) map[string]any {
	return flatten(cfg)
}

func flatten(cfg *Config) map[string]any {
	return map[string]any{
		"anthropic.api_key":         cfg.Anthropic.APIKey,
		"anthropic.model":           cfg.Anthropic.Model,
		"anthropic.max_tokens":      cfg.Anthropic.MaxTokens,
		"anthropic.use_bedrock":     cfg.Anthropic.UseBedrock,
		"anthropic.aws_region":      cfg.Anthropic.AWSRegion,
		"anthropic.aws_profile":     cfg.Anthropic.AWSProfile,
		"loop.iteration_budget":     cfg.Loop.IterationBudget,
		"loop.preview_chars":        cfg.Loop.PreviewChars,
		"pipeline.halt_on_failure":  cfg.Pipeline.HaltOnFailure,
		"pipeline.timeout":          cfg.Pipeline.Timeout.String(),
		"pipeline.file":             cfg.Pipeline.File,
		"workspace.dir":             cfg.Workspace.Dir,
		"workspace.repo_dir":        cfg.Workspace.RepoDir,
		"lakehouse.warehouse_dir":   cfg.Lakehouse.WarehouseDir,
		"lakehouse.test_timeout":    cfg.Lakehouse.TestTimeout.String(),
		"lakehouse.git_commit":      cfg.Lakehouse.GitCommit,
		"lakehouse.protected_paths": cfg.Lakehouse.ProtectedPaths,
		"salesforce.instance_url":   cfg.Salesforce.InstanceURL,
		"salesforce.access_token":   cfg.Salesforce.AccessToken,
		"salesforce.api_version":    cfg.Salesforce.APIVersion,
		"aws.region":                cfg.AWS.Region,
		"aws.profile":               cfg.AWS.Profile,
		"aws.glue_role":             cfg.AWS.GlueRole,
		"log.level":                 cfg.Log.Level,
		"log.file":                  cfg.Log.File,
	}
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()
	for key, value := range flatten(d) {
		v.SetDefault(key, value)
	}
	// Resolved at load time relative to the working directory.
	v.SetDefault("workspace.repo_dir", "")
	v.SetDefault("workspace.dir", DefaultWorkspaceDir)
}

// getUserConfigDir returns the XDG config directory for lakeforge.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "lakeforge")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "lakeforge")
	}
	return filepath.Join(home, ".config", "lakeforge")
}

// findProjectConfig searches for .lakeforge.yaml in the current directory and parents.
func findProjectConfig() string {
	dir := cwd()
	for {
		configPath := filepath.Join(dir, ProjectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

func cwd() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	return dir
}

// ProjectConfigName is the file name of the project-level config.
const ProjectConfigName = ".lakeforge.yaml"

// DefaultWorkspaceDir is the workspace directory, relative to the repo dir.
const DefaultWorkspaceDir = ".lakeforge"

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Anthropic: AnthropicConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 8192,
		},
		Loop: LoopConfig{
			IterationBudget: 25,
			PreviewChars:    100,
		},
		Pipeline: PipelineConfig{
			HaltOnFailure: true,
		},
		Workspace: WorkspaceConfig{
			Dir: DefaultWorkspaceDir,
		},
		Lakehouse: LakehouseConfig{
			TestTimeout:    10 * time.Minute,
			ProtectedPaths: []string{},
		},
		Salesforce: SalesforceConfig{
			APIVersion: "v59.0",
		},
		AWS: AWSConfig{
			GlueRole: "AWSGlueServiceRole",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
