package repo

import (
	"context"
	"database/sql"

	"batiplan/internal/domain"
)

func scanInvoice(scan func(...any) error) (domain.Invoice, error) {
	var inv domain.Invoice
	var quoteID sql.NullString
	err := scan(&inv.ID, &inv.ProjectID, &quoteID, &inv.Reference, &inv.MontantTotal, &inv.CreatedAt)
	if err == sql.ErrNoRows {
		return domain.Invoice{}, ErrNotFound
	}
	if err != nil {
		return domain.Invoice{}, err
	}
	if quoteID.Valid {
		inv.QuoteID = &quoteID.String
	}
	return inv, nil
}

func (r Repo) InsertInvoice(ctx context.Context, tx *sql.Tx, inv domain.Invoice) error {
	var quoteID any
	if inv.QuoteID != nil {
		quoteID = *inv.QuoteID
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO factures(id, projet_id, devis_id, reference, montant_total, created_at) VALUES (?,?,?,?,?,?)`,
		inv.ID, inv.ProjectID, quoteID, inv.Reference, inv.MontantTotal, inv.CreatedAt)
	return err
}

func (r Repo) GetInvoice(ctx context.Context, id string) (domain.Invoice, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id, projet_id, devis_id, reference, montant_total, created_at FROM factures WHERE id=?`, id)
	return scanInvoice(row.Scan)
}

func (r Repo) ListInvoices(ctx context.Context, projectID string) ([]domain.Invoice, error) {
	query := `SELECT id, projet_id, devis_id, reference, montant_total, created_at FROM factures`
	var args []any
	if projectID != "" {
		query += ` WHERE projet_id=?`
		args = append(args, projectID)
	}
	query += ` ORDER BY created_at, id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var invoices []domain.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows.Scan)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

func (r Repo) DeleteInvoice(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM factures WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
