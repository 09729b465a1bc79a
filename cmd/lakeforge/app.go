package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/rs/zerolog"

	"github.com/ShayCichocki/lakeforge/internal/capability"
	"github.com/ShayCichocki/lakeforge/internal/config"
	"github.com/ShayCichocki/lakeforge/internal/git"
	"github.com/ShayCichocki/lakeforge/internal/lakehouse"
	"github.com/ShayCichocki/lakeforge/internal/oracle"
	"github.com/ShayCichocki/lakeforge/internal/protect"
	"github.com/ShayCichocki/lakeforge/internal/state"
)

// app holds what every agent-running command needs.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	db      *state.DB
	toolkit *lakehouse.Toolkit
	table   *capability.Table

	logCloser io.Closer
}

// newApp loads configuration, opens the workspace and builds the
// capability table. Close releases everything it opened.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, closer, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	db, err := state.OpenWorkspace(cfg.Workspace.Dir)
	if err != nil {
		closer.Close()
		return nil, fmt.Errorf("open workspace: %w", err)
	}
	if recovered, err := db.RecoverInterrupted(); err != nil {
		logger.Warn().Err(err).Msg("recovering interrupted runs")
	} else {
		for _, r := range recovered {
			logger.Info().Str("run_id", r.ID).Str("name", r.Name).Msg("marked stale run interrupted")
		}
	}

	env, err := lakehouseEnv(ctx, cfg, db, logger)
	if err != nil {
		db.Close()
		closer.Close()
		return nil, err
	}
	toolkit, err := lakehouse.NewToolkit(env)
	if err != nil {
		db.Close()
		closer.Close()
		return nil, err
	}
	table, err := toolkit.Table()
	if err != nil {
		db.Close()
		closer.Close()
		return nil, fmt.Errorf("build capability table: %w", err)
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		toolkit:   toolkit,
		table:     table,
		logCloser: closer,
	}, nil
}

func (a *app) Close() error {
	err := a.db.Close()
	a.logCloser.Close()
	return err
}

// lakehouseEnv wires the optional integrations that are configured.
func lakehouseEnv(ctx context.Context, cfg *config.Config, store lakehouse.Store, logger zerolog.Logger) (lakehouse.Env, error) {
	env := lakehouse.Env{
		RepoDir:      cfg.Workspace.RepoDir,
		WarehouseDir: cfg.WarehouseDir(),
		Store:        store,
		Protected:    newDetector(cfg),
		GlueRole:     cfg.AWS.GlueRole,
		TestTimeout:  cfg.Lakehouse.TestTimeout,
		Logger:       logger,
	}

	if cfg.Lakehouse.GitCommit {
		runner := git.NewRunner(cfg.Workspace.RepoDir)
		if !runner.IsRepo(ctx) {
			return env, fmt.Errorf("lakehouse.git_commit is set but %s is not a git repository", cfg.Workspace.RepoDir)
		}
		env.Git = runner
	}

	if cfg.AWS.Region != "" {
		client, err := lakehouse.NewGlueClient(ctx, cfg.AWS.Region, cfg.AWS.Profile)
		if err != nil {
			return env, err
		}
		env.Glue = client
	}

	if token, err := config.GetSalesforceToken(cfg); err == nil {
		env.Salesforce = lakehouse.NewSalesforceClient(cfg.Salesforce.InstanceURL, token, cfg.Salesforce.APIVersion)
	}
	if env.Salesforce == nil {
		logger.Debug().Msg("salesforce_query disabled: no instance URL or token")
	}

	return env, nil
}

// newDetector protects the default secret paths, the workspace directory
// when it lives inside the repo, and any configured extra patterns.
func newDetector(cfg *config.Config) *protect.Detector {
	var extra []string
	if rel, err := filepath.Rel(cfg.Workspace.RepoDir, cfg.Workspace.Dir); err == nil {
		rel = filepath.ToSlash(rel)
		if rel != "." && rel != ".." && !strings.HasPrefix(rel, "../") {
			extra = append(extra, rel+"/**")
		}
	}
	extra = append(extra, cfg.Lakehouse.ProtectedPaths...)
	return protect.New(extra...)
}

// newOracle builds the Anthropic-backed oracle from configuration.
func newOracle(cfg *config.Config) (*oracle.Client, error) {
	cc := oracle.ClientConfig{
		Model:         anthropic.Model(cfg.Anthropic.Model),
		MaxTokens:     cfg.Anthropic.MaxTokens,
		UseAWSBedrock: cfg.Anthropic.UseBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	}
	if !cfg.Anthropic.UseBedrock {
		key, err := config.GetAPIKey(cfg)
		if err != nil {
			return nil, fmt.Errorf("%w (set ANTHROPIC_API_KEY or anthropic.api_key)", err)
		}
		cc.APIKey = key
	}
	client, err := oracle.NewClient(cc)
	if err != nil {
		return nil, fmt.Errorf("create oracle client: %w", err)
	}
	return client, nil
}

// splitList parses a comma separated flag value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
