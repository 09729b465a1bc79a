package lakehouse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ShayCichocki/lakeforge/internal/capability"
	"github.com/ShayCichocki/lakeforge/internal/state"
)

// MaxArtifactRead bounds how much of an artifact read_artifact returns.
const MaxArtifactRead = 64 * 1024

var (
	// ErrPathEscapes is returned for filenames outside the repo dir.
	ErrPathEscapes = errors.New("path escapes the repository")
	// ErrProtectedPath is returned for filenames in a protected area.
	ErrProtectedPath = errors.New("path is protected")
)

type writeArgs struct {
	Filename string `json:"filename" jsonschema_description:"Path relative to the repository root"`
	Content  string `json:"content" jsonschema_description:"File content to write"`
	Language string `json:"language,omitempty" jsonschema:"enum=pyspark,enum=dbt_sql,enum=airflow,enum=python,default=python"`
}

type writeResult struct {
	Status      string `json:"status"`
	Filename    string `json:"filename"`
	SizeBytes   int    `json:"size_bytes"`
	Artifact    string `json:"artifact"`
	Committed   bool   `json:"committed,omitempty"`
	CommitError string `json:"commit_error,omitempty"`
}

func (k *Toolkit) writePipelineCode(ctx context.Context, in writeArgs) (any, error) {
	rel, err := localPath(in.Filename)
	if err != nil {
		return nil, err
	}
	if protected, reason := k.env.Protected.IsProtectedWithReason(rel); protected {
		return nil, fmt.Errorf("%w: %s: %s", ErrProtectedPath, in.Filename, reason)
	}
	language := in.Language
	if language == "" {
		language = "python"
	}

	k.writeMu.Lock()
	defer k.writeMu.Unlock()

	full := filepath.Join(k.env.RepoDir, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(full, []byte(in.Content), 0644); err != nil {
		return nil, fmt.Errorf("write %s: %w", rel, err)
	}

	stage := capability.StageFromContext(ctx)
	a := &state.Artifact{
		Name:      state.ArtifactName(filepath.ToSlash(rel)),
		Path:      filepath.ToSlash(rel),
		Language:  language,
		SizeBytes: int64(len(in.Content)),
		Stage:     stage,
	}
	if err := k.env.Store.PutArtifact(a); err != nil {
		return nil, err
	}

	res := &writeResult{Status: "written", Filename: a.Path, SizeBytes: len(in.Content), Artifact: a.Name}
	if k.env.Git != nil {
		if err := k.commit(ctx, rel, stage); err != nil {
			res.CommitError = err.Error()
			k.env.Logger.Warn().Err(err).Str("file", rel).Msg("commit generated file failed")
		} else {
			res.Committed = true
		}
	}
	return res, nil
}

func (k *Toolkit) commit(ctx context.Context, rel, stage string) error {
	if err := k.env.Git.Add(ctx, rel); err != nil {
		return err
	}
	msg := "lakeforge: write " + filepath.ToSlash(rel)
	if stage != "" {
		msg = fmt.Sprintf("lakeforge(%s): write %s", stage, filepath.ToSlash(rel))
	}
	return k.env.Git.Commit(ctx, msg)
}

// localPath cleans a repo-relative filename and rejects anything that
// would land outside the repo.
func localPath(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("filename is required")
	}
	if filepath.IsAbs(name) || !filepath.IsLocal(name) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, name)
	}
	return filepath.Clean(name), nil
}

type listArtifactsArgs struct {
	Prefix string `json:"prefix,omitempty" jsonschema_description:"Only list artifacts whose name starts with this prefix"`
}

type artifactSummary struct {
	Name      string    `json:"name"`
	Language  string    `json:"language"`
	SizeBytes int64     `json:"size_bytes"`
	Stage     string    `json:"stage,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (k *Toolkit) listArtifacts(ctx context.Context, in listArtifactsArgs) (any, error) {
	artifacts, err := k.env.Store.ListArtifacts(in.Prefix)
	if err != nil {
		return nil, err
	}
	out := make([]artifactSummary, 0, len(artifacts))
	for _, a := range artifacts {
		out = append(out, artifactSummary{
			Name:      a.Name,
			Language:  a.Language,
			SizeBytes: a.SizeBytes,
			Stage:     a.Stage,
			UpdatedAt: a.UpdatedAt,
		})
	}
	return map[string]any{"count": len(out), "artifacts": out}, nil
}

type readArtifactArgs struct {
	Name string `json:"name" jsonschema_description:"Artifact name as returned by list_artifacts"`
}

type readResult struct {
	Name      string `json:"name"`
	Language  string `json:"language"`
	Stage     string `json:"stage,omitempty"`
	Content   string `json:"content"`
	SizeBytes int64  `json:"size_bytes"`
	Truncated bool   `json:"truncated"`
}

func (k *Toolkit) readArtifact(ctx context.Context, in readArtifactArgs) (any, error) {
	a, err := k.env.Store.GetArtifact(in.Name)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("artifact %q not found", in.Name)
	}
	rel, err := localPath(filepath.FromSlash(a.Path))
	if err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(k.env.RepoDir, rel))
	if err != nil {
		return nil, fmt.Errorf("open artifact %s: %w", a.Name, err)
	}
	defer f.Close()

	buf, err := io.ReadAll(io.LimitReader(f, MaxArtifactRead+1))
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", a.Name, err)
	}
	res := &readResult{Name: a.Name, Language: a.Language, Stage: a.Stage, SizeBytes: a.SizeBytes}
	if len(buf) > MaxArtifactRead {
		buf = buf[:MaxArtifactRead]
		res.Truncated = true
	}
	res.Content = string(buf)
	return res, nil
}
