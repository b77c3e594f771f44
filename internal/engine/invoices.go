package engine

import (
	"context"
	"errors"
	"fmt"

	"batiplan/internal/domain"
	"batiplan/internal/events"
)

// ErrQuoteNotValidated rejects billing a quote the client has not
// approved.
var ErrQuoteNotValidated = errors.New("quote is not validated")

// CreateInvoice bills a validated quote: the facture snapshots the
// quote's montant_total at creation time.
func (e Engine) CreateInvoice(ctx context.Context, quoteID, actorID string) (domain.Invoice, error) {
	q, err := e.Repo.GetQuote(ctx, quoteID)
	if err != nil {
		return domain.Invoice{}, err
	}
	if q.State != domain.QuoteValidated {
		return domain.Invoice{}, ErrQuoteNotValidated
	}
	ref, err := e.nextInvoiceReference(ctx, q.ProjectID)
	if err != nil {
		return domain.Invoice{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Invoice{}, err
	}
	defer tx.Rollback()

	inv := domain.Invoice{
		ID:           newID(),
		ProjectID:    q.ProjectID,
		QuoteID:      &q.ID,
		Reference:    ref,
		MontantTotal: q.MontantTotal,
		CreatedAt:    e.timestamp(),
	}
	if err := e.Repo.InsertInvoice(ctx, tx, inv); err != nil {
		return domain.Invoice{}, fmt.Errorf("insert invoice: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "invoice.create", q.ProjectID, "facture", inv.ID, actorID,
		events.EventPayload{"reference": inv.Reference, "devis_id": q.ID, "montant_total": inv.MontantTotal}); err != nil {
		return domain.Invoice{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Invoice{}, err
	}
	return inv, nil
}

// nextInvoiceReference continues from the highest existing suffix,
// like quote references.
func (e Engine) nextInvoiceReference(ctx context.Context, projectID string) (string, error) {
	invoices, err := e.Repo.ListInvoices(ctx, projectID)
	if err != nil {
		return "", err
	}
	max := 0
	for _, inv := range invoices {
		var n int
		if _, err := fmt.Sscanf(inv.Reference, "F-%d", &n); err == nil && n > max {
			max = n
		}
	}
	return fmt.Sprintf("F-%04d", max+1), nil
}

func (e Engine) ListInvoices(ctx context.Context, projectID string) ([]domain.Invoice, error) {
	return e.Repo.ListInvoices(ctx, projectID)
}

func (e Engine) DeleteInvoice(ctx context.Context, invoiceID, actorID string) error {
	inv, err := e.Repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteInvoice(ctx, tx, invoiceID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "invoice.delete", inv.ProjectID, "facture", invoiceID, actorID,
		events.EventPayload{"reference": inv.Reference}); err != nil {
		return err
	}
	return tx.Commit()
}
