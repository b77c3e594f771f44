package engine

import (
	"context"
	"database/sql"
	"fmt"

	"batiplan/internal/budget"
	"batiplan/internal/domain"
	"batiplan/internal/events"
)

func (e Engine) insertLineTx(ctx context.Context, tx *sql.Tx, taskID string, in LineInput) (domain.BudgetLine, error) {
	category, err := budget.ParseCategory(in.Category)
	if err != nil {
		return domain.BudgetLine{}, budget.InvalidLineError{Reason: err.Error()}
	}
	l := domain.BudgetLine{
		ID:        newID(),
		TaskID:    taskID,
		Kind:      in.Kind,
		Category:  category,
		UnitPrice: in.UnitPrice,
		Quantity:  in.Quantity,
		CreatedAt: e.timestamp(),
	}
	if err := budget.Validate(l); err != nil {
		return domain.BudgetLine{}, err
	}
	if err := e.Repo.InsertBudgetLine(ctx, tx, l); err != nil {
		return domain.BudgetLine{}, fmt.Errorf("insert budget line: %w", err)
	}
	return l, nil
}

// recomputeTaskTx refreshes the task's cached category subtotals from
// its lines, inside the caller's transaction.
func (e Engine) recomputeTaskTx(ctx context.Context, tx *sql.Tx, taskID string) error {
	lines, err := e.Repo.ListBudgetLinesTx(ctx, tx, taskID)
	if err != nil {
		return err
	}
	prev, reel, err := budget.TaskTotals(lines)
	if err != nil {
		return err
	}
	return e.Repo.UpdateTaskBudgetsTx(ctx, tx, taskID, prev, reel)
}

// ensureLineMutable gates budget line writes: previsionnel lines are
// part of the signed quote and freeze with it, réel lines track actual
// spend and stay open.
func (e Engine) ensureLineMutable(ctx context.Context, quoteID, kind string) error {
	if kind == domain.BudgetReel {
		return nil
	}
	_, err := e.ensureQuoteMutable(ctx, quoteID)
	return err
}

func (e Engine) AddBudgetLine(ctx context.Context, taskID string, in LineInput, actorID string) (domain.BudgetLine, error) {
	projectID, quoteID, err := e.Repo.TaskProject(ctx, taskID)
	if err != nil {
		return domain.BudgetLine{}, err
	}
	if err := e.ensureLineMutable(ctx, quoteID, in.Kind); err != nil {
		return domain.BudgetLine{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.BudgetLine{}, err
	}
	defer tx.Rollback()
	l, err := e.insertLineTx(ctx, tx, taskID, in)
	if err != nil {
		return domain.BudgetLine{}, err
	}
	if err := e.recomputeTaskTx(ctx, tx, taskID); err != nil {
		return domain.BudgetLine{}, err
	}
	if err := e.Repo.UpdateQuoteTotalTx(ctx, tx, quoteID); err != nil {
		return domain.BudgetLine{}, err
	}
	if err := e.Events.Append(ctx, tx, "budget.line.add", projectID, "budget_ligne", l.ID, actorID,
		events.EventPayload{"type": l.Kind, "categorie": l.Category, "montant": l.Amount()}); err != nil {
		return domain.BudgetLine{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.BudgetLine{}, err
	}
	return l, nil
}

func (e Engine) UpdateBudgetLine(ctx context.Context, lineID string, unitPrice, quantity *float64, actorID string) (domain.BudgetLine, error) {
	l, err := e.Repo.GetBudgetLine(ctx, lineID)
	if err != nil {
		return domain.BudgetLine{}, err
	}
	projectID, quoteID, err := e.Repo.TaskProject(ctx, l.TaskID)
	if err != nil {
		return domain.BudgetLine{}, err
	}
	if err := e.ensureLineMutable(ctx, quoteID, l.Kind); err != nil {
		return domain.BudgetLine{}, err
	}
	next := l
	if unitPrice != nil {
		next.UnitPrice = *unitPrice
	}
	if quantity != nil {
		next.Quantity = *quantity
	}
	if err := budget.Validate(next); err != nil {
		return domain.BudgetLine{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.BudgetLine{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateBudgetLine(ctx, tx, lineID, unitPrice, quantity); err != nil {
		return domain.BudgetLine{}, err
	}
	if err := e.recomputeTaskTx(ctx, tx, l.TaskID); err != nil {
		return domain.BudgetLine{}, err
	}
	if err := e.Repo.UpdateQuoteTotalTx(ctx, tx, quoteID); err != nil {
		return domain.BudgetLine{}, err
	}
	if err := e.Events.Append(ctx, tx, "budget.line.update", projectID, "budget_ligne", lineID, actorID,
		events.EventPayload{"montant": next.Amount()}); err != nil {
		return domain.BudgetLine{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.BudgetLine{}, err
	}
	return next, nil
}

func (e Engine) DeleteBudgetLine(ctx context.Context, lineID, actorID string) error {
	l, err := e.Repo.GetBudgetLine(ctx, lineID)
	if err != nil {
		return err
	}
	projectID, quoteID, err := e.Repo.TaskProject(ctx, l.TaskID)
	if err != nil {
		return err
	}
	if err := e.ensureLineMutable(ctx, quoteID, l.Kind); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteBudgetLine(ctx, tx, lineID); err != nil {
		return err
	}
	if err := e.recomputeTaskTx(ctx, tx, l.TaskID); err != nil {
		return err
	}
	if err := e.Repo.UpdateQuoteTotalTx(ctx, tx, quoteID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "budget.line.delete", projectID, "budget_ligne", lineID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) ListBudgetLines(ctx context.Context, taskID string) ([]domain.BudgetLine, error) {
	if _, err := e.Repo.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return e.Repo.ListBudgetLines(ctx, taskID)
}
