package state

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Artifact is a file produced by a stage and registered for later stages.
type Artifact struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Language  string    `json:"language"`
	SizeBytes int64     `json:"size_bytes"`
	Stage     string    `json:"stage"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PutArtifact registers an artifact, replacing any previous artifact with
// the same name. ID and timestamps are filled in when empty.
func (db *DB) PutArtifact(a *Artifact) error {
	now := time.Now()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	_, err := db.Exec(`
		INSERT INTO artifacts (id, name, path, language, size_bytes, stage, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			path = excluded.path,
			language = excluded.language,
			size_bytes = excluded.size_bytes,
			stage = excluded.stage,
			updated_at = excluded.updated_at
	`, a.ID, a.Name, a.Path, a.Language, a.SizeBytes, a.Stage, formatTime(a.CreatedAt), formatTime(a.UpdatedAt))
	if err != nil {
		return fmt.Errorf("put artifact: %w", err)
	}
	return nil
}

// GetArtifact retrieves an artifact by name. Returns nil if not found.
func (db *DB) GetArtifact(name string) (*Artifact, error) {
	row := db.QueryRow(`
		SELECT id, name, path, language, size_bytes, stage, created_at, updated_at
		FROM artifacts WHERE name = ?
	`, name)

	a, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return a, nil
}

// ListArtifacts lists artifacts whose name starts with prefix, ordered by name.
func (db *DB) ListArtifacts(prefix string) ([]Artifact, error) {
	rows, err := db.Query(`
		SELECT id, name, path, language, size_bytes, stage, created_at, updated_at
		FROM artifacts WHERE substr(name, 1, ?) = ? ORDER BY name
	`, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		artifacts = append(artifacts, *a)
	}
	return artifacts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanArtifact(s scanner) (*Artifact, error) {
	var a Artifact
	var createdAt, updatedAt string
	if err := s.Scan(&a.ID, &a.Name, &a.Path, &a.Language, &a.SizeBytes, &a.Stage, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	a.CreatedAt, _ = parseTime(createdAt)
	a.UpdatedAt, _ = parseTime(updatedAt)
	return &a, nil
}

// ArtifactName returns the registry name for a path relative to the repo.
func ArtifactName(relPath string) string {
	return strings.TrimPrefix(strings.ReplaceAll(relPath, "\\", "/"), "./")
}
