// Package repo is the persistence collaborator: hand-written SQL over
// SQLite. It owns no business rules beyond uniqueness constraints; the
// engine layers validation and rollups on top.
package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"batiplan/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ErrDuplicateAssignment reports a worker already scheduled on a date.
// The assignment guard treats it as a soft failure and skips the pair.
var ErrDuplicateAssignment = errors.New("worker already assigned for this date")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func strPtr(v sql.NullString) *string {
	if !v.Valid || v.String == "" {
		return nil
	}
	s := v.String
	return &s
}

// --- projects ---

const projectCols = `id,nom_projet,client_id,COALESCE(adresse_chantier,''),latitude,longitude,phase_projet,created_at`

func scanProject(scan func(...any) error) (domain.Project, error) {
	var p domain.Project
	var clientID sql.NullString
	var lat, lng sql.NullFloat64
	err := scan(&p.ID, &p.Name, &clientID, &p.Address, &lat, &lng, &p.Phase, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.ClientID = strPtr(clientID)
	if lat.Valid {
		p.Latitude = &lat.Float64
	}
	if lng.Valid {
		p.Longitude = &lng.Float64
	}
	return p, nil
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	var lat, lng any
	if p.Latitude != nil {
		lat = *p.Latitude
	}
	if p.Longitude != nil {
		lng = *p.Longitude
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(id,nom_projet,client_id,adresse_chantier,latitude,longitude,phase_projet,created_at)
VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, p.Name, nullableStr(p.ClientID), nullable(p.Address), lat, lng, p.Phase, p.CreatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+projectCols+` FROM projects WHERE id=?`, id)
	return scanProject(row.Scan)
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+projectCols+` FROM projects ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// SingleProject returns the lone project of a workspace, used by the
// CLI when --project is omitted.
func (r Repo) SingleProject(ctx context.Context) (domain.Project, error) {
	projects, err := r.ListProjects(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	if len(projects) == 0 {
		return domain.Project{}, ErrNotFound
	}
	if len(projects) > 1 {
		return domain.Project{}, fmt.Errorf("multiple projects exist; specify --project")
	}
	return projects[0], nil
}

// FetchProject returns the project with its full quote tree: quotes,
// ouvrages, tasks and their budget snapshots. This is the nested read
// the board and rollup views are derived from.
func (r Repo) FetchProject(ctx context.Context, id string) (domain.Project, error) {
	p, err := r.GetProject(ctx, id)
	if err != nil {
		return domain.Project{}, err
	}
	quotes, err := r.ListQuotes(ctx, id)
	if err != nil {
		return domain.Project{}, err
	}
	for i := range quotes {
		works, err := r.ListWorks(ctx, quotes[i].ID)
		if err != nil {
			return domain.Project{}, err
		}
		for j := range works {
			tasks, err := r.ListTasks(ctx, works[j].ID)
			if err != nil {
				return domain.Project{}, err
			}
			works[j].Tasks = tasks
		}
		quotes[i].Works = works
	}
	p.Quotes = quotes
	return p, nil
}

func (r Repo) UpdateProject(ctx context.Context, id string, name, address *string) error {
	var (
		fields []string
		args   []any
	)
	if name != nil {
		fields = append(fields, "nom_projet=?")
		args = append(args, *name)
	}
	if address != nil {
		fields = append(fields, "adresse_chantier=?")
		args = append(args, nullable(*address))
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE projects SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateProjectPhase(ctx context.Context, tx *sql.Tx, id, phase string) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET phase_projet=? WHERE id=?`, phase, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteProject(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- clients ---

func (r Repo) InsertClient(ctx context.Context, c domain.Client) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO clients(id,nom_client,email,contact_client,created_at) VALUES (?,?,?,?,?)`,
		c.ID, c.Name, nullable(c.Email), nullable(c.Contact), c.CreatedAt)
	return err
}

func (r Repo) GetClient(ctx context.Context, id string) (domain.Client, error) {
	var c domain.Client
	err := r.DB.QueryRowContext(ctx, `SELECT id,nom_client,COALESCE(email,''),COALESCE(contact_client,''),created_at FROM clients WHERE id=?`, id).
		Scan(&c.ID, &c.Name, &c.Email, &c.Contact, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) ListClients(ctx context.Context) ([]domain.Client, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,nom_client,COALESCE(email,''),COALESCE(contact_client,''),created_at FROM clients ORDER BY nom_client ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Client
	for rows.Next() {
		var c domain.Client
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.Contact, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) DeleteClient(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM clients WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
