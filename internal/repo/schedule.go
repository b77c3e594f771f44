package repo

import (
	"context"
	"database/sql"
	"strings"

	"batiplan/internal/domain"
)

// InsertScheduleEntry adds one worker/date assignment. A live entry
// (any status but cancelled) already holding the worker on that date
// makes this return ErrDuplicateAssignment.
func (r Repo) InsertScheduleEntry(ctx context.Context, tx *sql.Tx, e domain.ScheduleEntry) error {
	var existing int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM edt WHERE ouvrier_id=? AND date_edt=? AND status!=?`,
		e.WorkerID, e.Date, domain.EntryCancelled).Scan(&existing)
	if err != nil {
		return err
	}
	if existing > 0 {
		return ErrDuplicateAssignment
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO edt(id,tache_id,ouvrier_id,date_edt,heure_debut,heure_fin,status,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		e.ID, e.TaskID, e.WorkerID, e.Date, e.StartTime, e.EndTime, e.Status, e.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		// Partial unique index backs the pre-check under concurrency.
		return ErrDuplicateAssignment
	}
	return err
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

const entryCols = `id,tache_id,ouvrier_id,date_edt,heure_debut,heure_fin,status,created_at`

func scanEntry(scan func(...any) error) (domain.ScheduleEntry, error) {
	var e domain.ScheduleEntry
	err := scan(&e.ID, &e.TaskID, &e.WorkerID, &e.Date, &e.StartTime, &e.EndTime, &e.Status, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	return e, err
}

func (r Repo) GetScheduleEntry(ctx context.Context, id string) (domain.ScheduleEntry, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+entryCols+` FROM edt WHERE id=?`, id)
	return scanEntry(row.Scan)
}

type ScheduleFilter struct {
	TaskID   string
	WorkerID string
	From     string
	To       string
	Status   string
}

func (r Repo) ListScheduleEntries(ctx context.Context, f ScheduleFilter) ([]domain.ScheduleEntry, error) {
	q := `SELECT ` + entryCols + ` FROM edt WHERE 1=1`
	var args []any
	if f.TaskID != "" {
		q += ` AND tache_id=?`
		args = append(args, f.TaskID)
	}
	if f.WorkerID != "" {
		q += ` AND ouvrier_id=?`
		args = append(args, f.WorkerID)
	}
	if f.From != "" {
		q += ` AND date_edt>=?`
		args = append(args, f.From)
	}
	if f.To != "" {
		q += ` AND date_edt<=?`
		args = append(args, f.To)
	}
	if f.Status != "" {
		q += ` AND status=?`
		args = append(args, f.Status)
	}
	q += ` ORDER BY date_edt ASC, heure_debut ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ScheduleEntry
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) UpdateScheduleStatus(ctx context.Context, tx *sql.Tx, id, status string) error {
	res, err := tx.ExecContext(ctx, `UPDATE edt SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CancelTaskEntries cancels every live entry of a task and reports how
// many were touched. Cancelled entries free their worker/date slots.
func (r Repo) CancelTaskEntries(ctx context.Context, tx *sql.Tx, taskID string) (int64, error) {
	res, err := tx.ExecContext(ctx, `UPDATE edt SET status=? WHERE tache_id=? AND status!=?`,
		domain.EntryCancelled, taskID, domain.EntryCancelled)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
