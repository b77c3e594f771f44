package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"batiplan/internal/config"
	"batiplan/internal/domain"
	"batiplan/internal/repo"
)

// ResolveProjectAndConfig picks the active chantier and loads the
// workspace config, seeding defaults where missing. It prefers the
// explicit override, then the workspace config, then the lone project
// in the database. An unknown project ID is created on the fly so a
// fresh workspace is usable without a separate init step.
func ResolveProjectAndConfig(ctx context.Context, workspace, projectOverride, actorID string, r repo.Repo) (string, *config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return "", nil, err
	}

	projectID := projectOverride
	if projectID == "" && cfg != nil {
		projectID = cfg.Project.ID
	}
	if projectID == "" {
		if p, err := r.SingleProject(ctx); err == nil {
			projectID = p.ID
		} else {
			return "", nil, fmt.Errorf("project not specified; use --project or batiplan.yml")
		}
	}
	if cfg == nil {
		cfg = config.Default(projectID)
	}

	if _, err := r.GetProject(ctx, projectID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createProject(ctx, r, projectID); err != nil {
			return "", nil, err
		}
	}
	cfg.Project.ID = projectID
	return projectID, cfg, nil
}

// createProject inserts a minimal chantier in the devis phase.
func createProject(ctx context.Context, r repo.Repo, projectID string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	p := domain.Project{
		ID:        projectID,
		Name:      projectID,
		Phase:     domain.PhaseDevis,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := r.InsertProject(ctx, tx, p); err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return tx.Commit()
}
