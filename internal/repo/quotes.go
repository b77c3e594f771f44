package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"batiplan/internal/domain"
)

// --- quotes ---

func (r Repo) InsertQuote(ctx context.Context, tx *sql.Tx, q domain.Quote) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO devis(id,projet_id,reference,etat_devis,montant_total,date_creation) VALUES (?,?,?,?,?,?)`,
		q.ID, q.ProjectID, nullable(q.Reference), q.State, q.MontantTotal, q.CreatedAt)
	return err
}

const quoteCols = `id,projet_id,COALESCE(reference,''),etat_devis,montant_total,date_creation`

func scanQuote(scan func(...any) error) (domain.Quote, error) {
	var q domain.Quote
	err := scan(&q.ID, &q.ProjectID, &q.Reference, &q.State, &q.MontantTotal, &q.CreatedAt)
	if err == sql.ErrNoRows {
		return q, ErrNotFound
	}
	return q, err
}

func (r Repo) GetQuote(ctx context.Context, id string) (domain.Quote, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+quoteCols+` FROM devis WHERE id=?`, id)
	return scanQuote(row.Scan)
}

func (r Repo) GetQuoteTx(ctx context.Context, tx *sql.Tx, id string) (domain.Quote, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+quoteCols+` FROM devis WHERE id=?`, id)
	return scanQuote(row.Scan)
}

func (r Repo) ListQuotes(ctx context.Context, projectID string) ([]domain.Quote, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+quoteCols+` FROM devis WHERE projet_id=? ORDER BY date_creation ASC, id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Quote
	for rows.Next() {
		q, err := scanQuote(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, q)
	}
	return res, rows.Err()
}

// ValidatedQuoteID returns the id of the project's validated quote, or
// ErrNotFound when none is.
func (r Repo) ValidatedQuoteID(ctx context.Context, tx *sql.Tx, projectID string) (string, error) {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM devis WHERE projet_id=? AND etat_devis=?`, projectID, domain.QuoteValidated).Scan(&id)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return id, err
}

func (r Repo) UpdateQuote(ctx context.Context, id string, reference *string) error {
	if reference == nil {
		return nil
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE devis SET reference=? WHERE id=?`, nullable(*reference), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateQuoteState(ctx context.Context, tx *sql.Tx, id, state string) error {
	res, err := tx.ExecContext(ctx, `UPDATE devis SET etat_devis=? WHERE id=?`, state, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateQuoteTotalTx recomputes montant_total from the quote's
// previsionnel budget lines. Run in the same transaction as any line
// mutation so the stored total never drifts.
func (r Repo) UpdateQuoteTotalTx(ctx context.Context, tx *sql.Tx, quoteID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE devis SET montant_total=(
SELECT COALESCE(SUM(l.prix_unitaire*l.quantite),0)
FROM budget_lignes l
JOIN taches t ON t.id=l.tache_id
JOIN ouvrages o ON o.id=t.ouvrage_id
WHERE o.devis_id=devis.id AND l.type=?
) WHERE id=?`, domain.BudgetPrevisionnel, quoteID)
	return err
}

func (r Repo) DeleteQuote(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM devis WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- works (ouvrages) ---

func (r Repo) InsertWork(ctx context.Context, tx *sql.Tx, w domain.Work) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO ouvrages(id,devis_id,nom_ouvrage,description_ouvrage,position) VALUES (?,?,?,?,?)`,
		w.ID, w.QuoteID, w.Name, nullable(w.Description), w.Position)
	return err
}

const workCols = `id,devis_id,nom_ouvrage,COALESCE(description_ouvrage,''),position`

func scanWork(scan func(...any) error) (domain.Work, error) {
	var w domain.Work
	err := scan(&w.ID, &w.QuoteID, &w.Name, &w.Description, &w.Position)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	return w, err
}

func (r Repo) GetWork(ctx context.Context, id string) (domain.Work, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+workCols+` FROM ouvrages WHERE id=?`, id)
	return scanWork(row.Scan)
}

func (r Repo) ListWorks(ctx context.Context, quoteID string) ([]domain.Work, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+workCols+` FROM ouvrages WHERE devis_id=? ORDER BY position ASC, id ASC`, quoteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Work
	for rows.Next() {
		w, err := scanWork(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

func (r Repo) UpdateWork(ctx context.Context, id string, name, description *string, position *int) error {
	var (
		fields []string
		args   []any
	)
	if name != nil {
		fields = append(fields, "nom_ouvrage=?")
		args = append(args, *name)
	}
	if description != nil {
		fields = append(fields, "description_ouvrage=?")
		args = append(args, nullable(*description))
	}
	if position != nil {
		fields = append(fields, "position=?")
		args = append(args, *position)
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE ouvrages SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteWork(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM ouvrages WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceWorksTx deletes the quote's existing ouvrage tree and inserts
// the given one. Tasks and budget lines below removed ouvrages go with
// them through the cascade.
func (r Repo) ReplaceWorksTx(ctx context.Context, tx *sql.Tx, quoteID string, works []domain.Work) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM ouvrages WHERE devis_id=?`, quoteID); err != nil {
		return err
	}
	for _, w := range works {
		if err := r.InsertWork(ctx, tx, w); err != nil {
			return err
		}
		for _, t := range w.Tasks {
			if err := r.InsertTask(ctx, tx, t); err != nil {
				return err
			}
		}
	}
	return nil
}

// --- tasks (taches) ---

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO taches(id,ouvrage_id,nom_tache,description_tache,etat_tache,
date_debut_prevue,date_fin_prevue,date_debut_reelle,date_fin_reelle,
budget_prev_mo,budget_prev_materiaux,budget_prev_materiels,budget_prev_sous_traitance,
budget_reel_mo,budget_reel_materiaux,budget_reel_materiels,budget_reel_sous_traitance)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.WorkID, t.Name, nullable(t.Description), t.State,
		nullableStr(t.PlannedStart), nullableStr(t.PlannedEnd), nullableStr(t.ActualStart), nullableStr(t.ActualEnd),
		t.BudgetPrevisionnel.MO, t.BudgetPrevisionnel.Materiaux, t.BudgetPrevisionnel.Materiels, t.BudgetPrevisionnel.SousTraitance,
		t.BudgetReel.MO, t.BudgetReel.Materiaux, t.BudgetReel.Materiels, t.BudgetReel.SousTraitance)
	return err
}

const taskCols = `id,ouvrage_id,nom_tache,COALESCE(description_tache,''),etat_tache,
date_debut_prevue,date_fin_prevue,date_debut_reelle,date_fin_reelle,
budget_prev_mo,budget_prev_materiaux,budget_prev_materiels,budget_prev_sous_traitance,
budget_reel_mo,budget_reel_materiaux,budget_reel_materiels,budget_reel_sous_traitance`

func scanTask(scan func(...any) error) (domain.Task, error) {
	var t domain.Task
	var ps, pe, as, ae sql.NullString
	err := scan(&t.ID, &t.WorkID, &t.Name, &t.Description, &t.State,
		&ps, &pe, &as, &ae,
		&t.BudgetPrevisionnel.MO, &t.BudgetPrevisionnel.Materiaux, &t.BudgetPrevisionnel.Materiels, &t.BudgetPrevisionnel.SousTraitance,
		&t.BudgetReel.MO, &t.BudgetReel.Materiaux, &t.BudgetReel.Materiels, &t.BudgetReel.SousTraitance)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.PlannedStart = strPtr(ps)
	t.PlannedEnd = strPtr(pe)
	t.ActualStart = strPtr(as)
	t.ActualEnd = strPtr(ae)
	return t, nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskCols+` FROM taches WHERE id=?`, id)
	return scanTask(row.Scan)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+taskCols+` FROM taches WHERE id=?`, id)
	return scanTask(row.Scan)
}

func (r Repo) ListTasks(ctx context.Context, workID string) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskCols+` FROM taches WHERE ouvrage_id=? ORDER BY id ASC`, workID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) UpdateTask(ctx context.Context, id string, name, description *string) error {
	var (
		fields []string
		args   []any
	)
	if name != nil {
		fields = append(fields, "nom_tache=?")
		args = append(args, *name)
	}
	if description != nil {
		fields = append(fields, "description_tache=?")
		args = append(args, nullable(*description))
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE taches SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateTaskState(ctx context.Context, tx *sql.Tx, id, state string) error {
	res, err := tx.ExecContext(ctx, `UPDATE taches SET etat_tache=? WHERE id=?`, state, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTaskDates writes the planning and execution date columns. Nil
// pointers mean "leave as is"; to clear a column pass a pointer to "".
func (r Repo) UpdateTaskDates(ctx context.Context, tx *sql.Tx, id string, plannedStart, plannedEnd, actualStart, actualEnd *string) error {
	var (
		fields []string
		args   []any
	)
	set := func(col string, v *string) {
		if v == nil {
			return
		}
		fields = append(fields, col+"=?")
		args = append(args, nullable(*v))
	}
	set("date_debut_prevue", plannedStart)
	set("date_fin_prevue", plannedEnd)
	set("date_debut_reelle", actualStart)
	set("date_fin_reelle", actualEnd)
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE taches SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTaskBudgetsTx recomputes the task's cached category subtotals
// from its budget lines.
func (r Repo) UpdateTaskBudgetsTx(ctx context.Context, tx *sql.Tx, taskID string, prev, reel domain.BudgetTotals) error {
	res, err := tx.ExecContext(ctx, `UPDATE taches SET
budget_prev_mo=?,budget_prev_materiaux=?,budget_prev_materiels=?,budget_prev_sous_traitance=?,
budget_reel_mo=?,budget_reel_materiaux=?,budget_reel_materiels=?,budget_reel_sous_traitance=?
WHERE id=?`,
		prev.MO, prev.Materiaux, prev.Materiels, prev.SousTraitance,
		reel.MO, reel.Materiaux, reel.Materiels, reel.SousTraitance,
		taskID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM taches WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TaskProject resolves the owning project and quote of a task.
func (r Repo) TaskProject(ctx context.Context, taskID string) (projectID, quoteID string, err error) {
	err = r.DB.QueryRowContext(ctx, `SELECT d.projet_id, d.id FROM taches t
JOIN ouvrages o ON o.id=t.ouvrage_id
JOIN devis d ON d.id=o.devis_id
WHERE t.id=?`, taskID).Scan(&projectID, &quoteID)
	if err == sql.ErrNoRows {
		return "", "", ErrNotFound
	}
	return projectID, quoteID, err
}

// WorkProject resolves the owning project and quote of an ouvrage.
func (r Repo) WorkProject(ctx context.Context, workID string) (projectID, quoteID string, err error) {
	err = r.DB.QueryRowContext(ctx, `SELECT d.projet_id, d.id FROM ouvrages o
JOIN devis d ON d.id=o.devis_id
WHERE o.id=?`, workID).Scan(&projectID, &quoteID)
	if err == sql.ErrNoRows {
		return "", "", ErrNotFound
	}
	return projectID, quoteID, err
}
