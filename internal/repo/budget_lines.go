package repo

import (
	"context"
	"database/sql"

	"batiplan/internal/domain"
)

func (r Repo) InsertBudgetLine(ctx context.Context, tx *sql.Tx, l domain.BudgetLine) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO budget_lignes(id,tache_id,type,categorie,prix_unitaire,quantite,created_at) VALUES (?,?,?,?,?,?,?)`,
		l.ID, l.TaskID, l.Kind, l.Category, l.UnitPrice, l.Quantity, l.CreatedAt)
	return err
}

const lineCols = `id,tache_id,type,categorie,prix_unitaire,quantite,created_at`

func scanLine(scan func(...any) error) (domain.BudgetLine, error) {
	var l domain.BudgetLine
	err := scan(&l.ID, &l.TaskID, &l.Kind, &l.Category, &l.UnitPrice, &l.Quantity, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	return l, err
}

func (r Repo) GetBudgetLine(ctx context.Context, id string) (domain.BudgetLine, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+lineCols+` FROM budget_lignes WHERE id=?`, id)
	return scanLine(row.Scan)
}

func (r Repo) ListBudgetLines(ctx context.Context, taskID string) ([]domain.BudgetLine, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+lineCols+` FROM budget_lignes WHERE tache_id=? ORDER BY created_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.BudgetLine
	for rows.Next() {
		l, err := scanLine(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

// ListBudgetLinesTx reads a task's lines inside a transaction, used
// when recomputing rollups after a mutation.
func (r Repo) ListBudgetLinesTx(ctx context.Context, tx *sql.Tx, taskID string) ([]domain.BudgetLine, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+lineCols+` FROM budget_lignes WHERE tache_id=? ORDER BY created_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.BudgetLine
	for rows.Next() {
		l, err := scanLine(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

func (r Repo) UpdateBudgetLine(ctx context.Context, tx *sql.Tx, id string, unitPrice, quantity *float64) error {
	l, err := scanLine(tx.QueryRowContext(ctx, `SELECT `+lineCols+` FROM budget_lignes WHERE id=?`, id).Scan)
	if err != nil {
		return err
	}
	if unitPrice != nil {
		l.UnitPrice = *unitPrice
	}
	if quantity != nil {
		l.Quantity = *quantity
	}
	_, err = tx.ExecContext(ctx, `UPDATE budget_lignes SET prix_unitaire=?,quantite=? WHERE id=?`, l.UnitPrice, l.Quantity, id)
	return err
}

func (r Repo) DeleteBudgetLine(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM budget_lignes WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
