// Package engine orchestrates every mutation: one transaction per
// operation, rollup snapshots recomputed in the same transaction as
// the write that invalidates them, and an event appended before
// commit.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"batiplan/internal/config"
	"batiplan/internal/domain"
	"batiplan/internal/events"
	"batiplan/internal/planning"
	"batiplan/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) today() string {
	return e.now().UTC().Format("2006-01-02")
}

func newID() string { return uuid.NewString() }

// window returns the configured business-hours window, falling back to
// the 08:00-18:00 default when no config is loaded.
func (e Engine) window() planning.Window {
	if e.Config != nil && e.Config.Planning.Window.Start != "" {
		return e.Config.Planning.Window
	}
	return planning.DefaultWindow()
}

// ProjectCreateOptions are parameters for creating a chantier.
type ProjectCreateOptions struct {
	ID        string
	Name      string
	ClientID  string
	Address   string
	Latitude  *float64
	Longitude *float64
	ActorID   string
}

func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	if opts.Name == "" {
		return domain.Project{}, errors.New("name is required")
	}
	if opts.ClientID != "" {
		if _, err := e.Repo.GetClient(ctx, opts.ClientID); err != nil {
			return domain.Project{}, fmt.Errorf("client %s: %w", opts.ClientID, err)
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p := domain.Project{
		ID:        opts.ID,
		Name:      opts.Name,
		Address:   opts.Address,
		Latitude:  opts.Latitude,
		Longitude: opts.Longitude,
		Phase:     domain.PhaseDevis,
		CreatedAt: e.timestamp(),
	}
	if p.ID == "" {
		p.ID = newID()
	}
	if opts.ClientID != "" {
		p.ClientID = &opts.ClientID
	}
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "project.create", p.ID, "project", p.ID, opts.ActorID, events.EventPayload{"nom_projet": p.Name}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func (e Engine) UpdateProject(ctx context.Context, id string, name, address *string) (domain.Project, error) {
	if err := e.Repo.UpdateProject(ctx, id, name, address); err != nil {
		return domain.Project{}, err
	}
	return e.Repo.GetProject(ctx, id)
}

func (e Engine) DeleteProject(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repo.ErrNotFound
	}
	if err := e.Events.Append(ctx, tx, "project.delete", id, "project", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// Project phase order. Quote validation walks it forward, reverting
// walks it back.
var phases = []string{domain.PhaseDevis, domain.PhasePreparation, domain.PhaseRealisation}

func phaseIndex(phase string) int {
	for i, p := range phases {
		if p == phase {
			return i
		}
	}
	return -1
}

// ErrPhaseBoundary rejects advancing past realisation or retreating
// before devis.
var ErrPhaseBoundary = errors.New("project phase cannot move further")

func (e Engine) AdvanceProjectPhase(ctx context.Context, projectID, actorID string) (domain.Project, error) {
	return e.shiftPhase(ctx, projectID, actorID, +1)
}

func (e Engine) RetreatProjectPhase(ctx context.Context, projectID, actorID string) (domain.Project, error) {
	return e.shiftPhase(ctx, projectID, actorID, -1)
}

func (e Engine) shiftPhase(ctx context.Context, projectID, actorID string, delta int) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	i := phaseIndex(p.Phase)
	if i < 0 {
		return domain.Project{}, fmt.Errorf("unknown project phase %q", p.Phase)
	}
	next := i + delta
	if next < 0 || next >= len(phases) {
		return domain.Project{}, ErrPhaseBoundary
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateProjectPhase(ctx, tx, projectID, phases[next]); err != nil {
		return domain.Project{}, err
	}
	if err := e.Events.Append(ctx, tx, "project.phase", projectID, "project", projectID, actorID,
		events.EventPayload{"from": p.Phase, "to": phases[next]}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	p.Phase = phases[next]
	return p, nil
}

// setPhaseTx moves the project phase inside an existing transaction,
// used by the quote lifecycle cascade.
func (e Engine) setPhaseTx(ctx context.Context, tx *sql.Tx, projectID, from, to, actorID string) error {
	if from == to {
		return nil
	}
	if err := e.Repo.UpdateProjectPhase(ctx, tx, projectID, to); err != nil {
		return err
	}
	return e.Events.Append(ctx, tx, "project.phase", projectID, "project", projectID, actorID,
		events.EventPayload{"from": from, "to": to})
}

// --- clients ---

type ClientCreateOptions struct {
	ID      string
	Name    string
	Email   string
	Contact string
}

func (e Engine) CreateClient(ctx context.Context, opts ClientCreateOptions) (domain.Client, error) {
	if opts.Name == "" {
		return domain.Client{}, errors.New("name is required")
	}
	c := domain.Client{
		ID:        opts.ID,
		Name:      opts.Name,
		Email:     opts.Email,
		Contact:   opts.Contact,
		CreatedAt: e.timestamp(),
	}
	if c.ID == "" {
		c.ID = newID()
	}
	if err := e.Repo.InsertClient(ctx, c); err != nil {
		return domain.Client{}, fmt.Errorf("insert client: %w", err)
	}
	return c, nil
}
