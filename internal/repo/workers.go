package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"batiplan/internal/domain"
)

// --- workers (ouvriers) ---

func (r Repo) InsertWorker(ctx context.Context, w domain.Worker) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO ouvriers(id,name,firstname,job_id,photo,created_at) VALUES (?,?,?,?,?,?)`,
		w.ID, w.Name, w.Firstname, nullableStr(w.JobID), nullable(w.Photo), w.CreatedAt)
	return err
}

const workerCols = `id,name,firstname,job_id,COALESCE(photo,''),created_at`

func scanWorker(scan func(...any) error) (domain.Worker, error) {
	var w domain.Worker
	var jobID sql.NullString
	err := scan(&w.ID, &w.Name, &w.Firstname, &jobID, &w.Photo, &w.CreatedAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	if err != nil {
		return w, err
	}
	w.JobID = strPtr(jobID)
	return w, nil
}

func (r Repo) GetWorker(ctx context.Context, id string) (domain.Worker, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+workerCols+` FROM ouvriers WHERE id=?`, id)
	return scanWorker(row.Scan)
}

func (r Repo) ListWorkers(ctx context.Context) ([]domain.Worker, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+workerCols+` FROM ouvriers ORDER BY name ASC, firstname ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Worker
	for rows.Next() {
		w, err := scanWorker(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

func (r Repo) UpdateWorker(ctx context.Context, id string, name, firstname, jobID *string) error {
	var (
		fields []string
		args   []any
	)
	if name != nil {
		fields = append(fields, "name=?")
		args = append(args, *name)
	}
	if firstname != nil {
		fields = append(fields, "firstname=?")
		args = append(args, *firstname)
	}
	if jobID != nil {
		fields = append(fields, "job_id=?")
		args = append(args, nullable(*jobID))
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE ouvriers SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteWorker(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM ouvriers WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- jobs (metiers) ---

func (r Repo) InsertJob(ctx context.Context, j domain.Job) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO metiers(id,nom_metier,created_at) VALUES (?,?,?)`,
		j.ID, j.Name, j.CreatedAt)
	return err
}

func (r Repo) GetJob(ctx context.Context, id string) (domain.Job, error) {
	var j domain.Job
	err := r.DB.QueryRowContext(ctx, `SELECT id,nom_metier,created_at FROM metiers WHERE id=?`, id).
		Scan(&j.ID, &j.Name, &j.CreatedAt)
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	return j, err
}

func (r Repo) ListJobs(ctx context.Context) ([]domain.Job, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,nom_metier,created_at FROM metiers ORDER BY nom_metier ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Job
	for rows.Next() {
		var j domain.Job
		if err := rows.Scan(&j.ID, &j.Name, &j.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}

func (r Repo) DeleteJob(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM metiers WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
