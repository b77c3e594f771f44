package engine

import (
	"context"
	"errors"
	"fmt"

	"batiplan/internal/budget"
	"batiplan/internal/domain"
	"batiplan/internal/events"
	"batiplan/internal/repo"
)

// ErrQuoteValidated rejects structural edits on a validated quote.
// Réel budget lines and task execution stay open; the commercial
// content is frozen.
var ErrQuoteValidated = errors.New("quote is validated and locked")

// ErrQuoteConflict rejects validating a quote while another quote of
// the same project is already validated.
var ErrQuoteConflict = errors.New("another quote is already validated for this project")

type QuoteCreateOptions struct {
	ID        string
	ProjectID string
	Reference string
	Works     []WorkInput
	ActorID   string
}

// WorkInput is an ouvrage with its tasks and optional budget lines, as
// submitted when composing a quote.
type WorkInput struct {
	Name        string
	Description string
	Tasks       []TaskInput
}

type TaskInput struct {
	Name        string
	Description string
	Lines       []LineInput
}

type LineInput struct {
	Kind      string
	Category  string
	UnitPrice float64
	Quantity  float64
}

func (e Engine) CreateQuote(ctx context.Context, opts QuoteCreateOptions) (domain.Quote, error) {
	if opts.ProjectID == "" {
		return domain.Quote{}, errors.New("project is required")
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Quote{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Quote{}, err
	}
	defer tx.Rollback()

	q := domain.Quote{
		ID:        opts.ID,
		ProjectID: opts.ProjectID,
		Reference: opts.Reference,
		State:     domain.QuotePending,
		CreatedAt: e.timestamp(),
	}
	if q.ID == "" {
		q.ID = newID()
	}
	if q.Reference == "" {
		ref, err := e.nextReference(ctx, opts.ProjectID)
		if err != nil {
			return domain.Quote{}, err
		}
		q.Reference = ref
	}
	if err := e.Repo.InsertQuote(ctx, tx, q); err != nil {
		return domain.Quote{}, fmt.Errorf("insert quote: %w", err)
	}
	for pos, wi := range opts.Works {
		w := domain.Work{
			ID:          newID(),
			QuoteID:     q.ID,
			Name:        wi.Name,
			Description: wi.Description,
			Position:    pos,
		}
		if w.Name == "" {
			return domain.Quote{}, errors.New("ouvrage name is required")
		}
		if err := e.Repo.InsertWork(ctx, tx, w); err != nil {
			return domain.Quote{}, fmt.Errorf("insert ouvrage: %w", err)
		}
		for _, ti := range wi.Tasks {
			if ti.Name == "" {
				return domain.Quote{}, errors.New("task name is required")
			}
			t := domain.Task{
				ID:     newID(),
				WorkID: w.ID,
				Name:   ti.Name,
				State:  domain.TaskPending,
			}
			t.Description = ti.Description
			if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
				return domain.Quote{}, fmt.Errorf("insert task: %w", err)
			}
			for _, li := range ti.Lines {
				if _, err := e.insertLineTx(ctx, tx, t.ID, li); err != nil {
					return domain.Quote{}, err
				}
			}
			if err := e.recomputeTaskTx(ctx, tx, t.ID); err != nil {
				return domain.Quote{}, err
			}
		}
	}
	if err := e.Repo.UpdateQuoteTotalTx(ctx, tx, q.ID); err != nil {
		return domain.Quote{}, fmt.Errorf("recompute quote total: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "quote.create", opts.ProjectID, "devis", q.ID, opts.ActorID,
		events.EventPayload{"reference": q.Reference}); err != nil {
		return domain.Quote{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Quote{}, err
	}
	return e.Repo.GetQuote(ctx, q.ID)
}

// nextReference continues the numbering from the highest existing
// suffix, so deleting a quote never frees its reference for reuse.
func (e Engine) nextReference(ctx context.Context, projectID string) (string, error) {
	prefix := "D"
	if e.Config != nil && e.Config.Quotes.ReferencePrefix != "" {
		prefix = e.Config.Quotes.ReferencePrefix
	}
	quotes, err := e.Repo.ListQuotes(ctx, projectID)
	if err != nil {
		return "", err
	}
	max := 0
	for _, q := range quotes {
		var n int
		if _, err := fmt.Sscanf(q.Reference, prefix+"-%d", &n); err == nil && n > max {
			max = n
		}
	}
	return fmt.Sprintf("%s-%04d", prefix, max+1), nil
}

// ensureQuoteMutable gates structural edits: a validated quote keeps
// its commercial content as signed.
func (e Engine) ensureQuoteMutable(ctx context.Context, quoteID string) (domain.Quote, error) {
	q, err := e.Repo.GetQuote(ctx, quoteID)
	if err != nil {
		return domain.Quote{}, err
	}
	if q.State == domain.QuoteValidated {
		return domain.Quote{}, ErrQuoteValidated
	}
	return q, nil
}

func (e Engine) UpdateQuote(ctx context.Context, quoteID string, reference *string) (domain.Quote, error) {
	if _, err := e.ensureQuoteMutable(ctx, quoteID); err != nil {
		return domain.Quote{}, err
	}
	if err := e.Repo.UpdateQuote(ctx, quoteID, reference); err != nil {
		return domain.Quote{}, err
	}
	return e.Repo.GetQuote(ctx, quoteID)
}

func (e Engine) DeleteQuote(ctx context.Context, quoteID, actorID string) error {
	q, err := e.ensureQuoteMutable(ctx, quoteID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteQuote(ctx, tx, quoteID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "quote.delete", q.ProjectID, "devis", quoteID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// ValidateQuote marks the quote validé and advances the project into
// preparation. Validating the already-validated quote is a no-op;
// validating while a sibling is validated fails with ErrQuoteConflict.
func (e Engine) ValidateQuote(ctx context.Context, quoteID, actorID string) (domain.Quote, error) {
	q, err := e.Repo.GetQuote(ctx, quoteID)
	if err != nil {
		return domain.Quote{}, err
	}
	if q.State == domain.QuoteValidated {
		return q, nil
	}
	p, err := e.Repo.GetProject(ctx, q.ProjectID)
	if err != nil {
		return domain.Quote{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Quote{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.ValidatedQuoteID(ctx, tx, q.ProjectID); err == nil {
		return domain.Quote{}, ErrQuoteConflict
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Quote{}, err
	}
	if err := e.Repo.UpdateQuoteState(ctx, tx, quoteID, domain.QuoteValidated); err != nil {
		return domain.Quote{}, err
	}
	if p.Phase == domain.PhaseDevis {
		if err := e.setPhaseTx(ctx, tx, p.ID, p.Phase, domain.PhasePreparation, actorID); err != nil {
			return domain.Quote{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "quote.validate", q.ProjectID, "devis", quoteID, actorID,
		events.EventPayload{"montant_total": q.MontantTotal}); err != nil {
		return domain.Quote{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Quote{}, err
	}
	q.State = domain.QuoteValidated
	return q, nil
}

// RefuseQuote marks the quote refusé. Refusing the validated quote
// drops the project back to the devis phase.
func (e Engine) RefuseQuote(ctx context.Context, quoteID, actorID string) (domain.Quote, error) {
	return e.demoteQuote(ctx, quoteID, domain.QuoteRefused, "quote.refuse", actorID)
}

// RevertQuote puts a quote back to en attente. Reverting the validated
// quote drops the project back to the devis phase; réel spend already
// recorded under it is left untouched.
func (e Engine) RevertQuote(ctx context.Context, quoteID, actorID string) (domain.Quote, error) {
	return e.demoteQuote(ctx, quoteID, domain.QuotePending, "quote.revert", actorID)
}

func (e Engine) demoteQuote(ctx context.Context, quoteID, toState, evtType, actorID string) (domain.Quote, error) {
	q, err := e.Repo.GetQuote(ctx, quoteID)
	if err != nil {
		return domain.Quote{}, err
	}
	if q.State == toState {
		return q, nil
	}
	p, err := e.Repo.GetProject(ctx, q.ProjectID)
	if err != nil {
		return domain.Quote{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Quote{}, err
	}
	defer tx.Rollback()

	wasValidated := q.State == domain.QuoteValidated
	if err := e.Repo.UpdateQuoteState(ctx, tx, quoteID, toState); err != nil {
		return domain.Quote{}, err
	}
	if wasValidated {
		if err := e.setPhaseTx(ctx, tx, p.ID, p.Phase, domain.PhaseDevis, actorID); err != nil {
			return domain.Quote{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, evtType, q.ProjectID, "devis", quoteID, actorID, nil); err != nil {
		return domain.Quote{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Quote{}, err
	}
	q.State = toState
	return q, nil
}

// --- works (ouvrages) ---

func (e Engine) CreateWork(ctx context.Context, quoteID, name, description string, actorID string) (domain.Work, error) {
	if name == "" {
		return domain.Work{}, errors.New("name is required")
	}
	q, err := e.ensureQuoteMutable(ctx, quoteID)
	if err != nil {
		return domain.Work{}, err
	}
	works, err := e.Repo.ListWorks(ctx, quoteID)
	if err != nil {
		return domain.Work{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Work{}, err
	}
	defer tx.Rollback()
	w := domain.Work{
		ID:          newID(),
		QuoteID:     quoteID,
		Name:        name,
		Description: description,
		Position:    len(works),
	}
	if err := e.Repo.InsertWork(ctx, tx, w); err != nil {
		return domain.Work{}, fmt.Errorf("insert ouvrage: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "work.create", q.ProjectID, "ouvrage", w.ID, actorID,
		events.EventPayload{"nom_ouvrage": name}); err != nil {
		return domain.Work{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Work{}, err
	}
	return w, nil
}

func (e Engine) UpdateWork(ctx context.Context, workID string, name, description *string, position *int) (domain.Work, error) {
	_, quoteID, err := e.Repo.WorkProject(ctx, workID)
	if err != nil {
		return domain.Work{}, err
	}
	if _, err := e.ensureQuoteMutable(ctx, quoteID); err != nil {
		return domain.Work{}, err
	}
	if err := e.Repo.UpdateWork(ctx, workID, name, description, position); err != nil {
		return domain.Work{}, err
	}
	return e.Repo.GetWork(ctx, workID)
}

func (e Engine) DeleteWork(ctx context.Context, workID, actorID string) error {
	projectID, quoteID, err := e.Repo.WorkProject(ctx, workID)
	if err != nil {
		return err
	}
	if _, err := e.ensureQuoteMutable(ctx, quoteID); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteWork(ctx, tx, workID); err != nil {
		return err
	}
	if err := e.Repo.UpdateQuoteTotalTx(ctx, tx, quoteID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "work.delete", projectID, "ouvrage", workID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// ReplaceWorks swaps the quote's whole ouvrage tree for a new one and
// recomputes every rollup. Rejected once the quote is validated.
func (e Engine) ReplaceWorks(ctx context.Context, quoteID string, inputs []WorkInput, actorID string) (domain.Quote, error) {
	q, err := e.ensureQuoteMutable(ctx, quoteID)
	if err != nil {
		return domain.Quote{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Quote{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.ReplaceWorksTx(ctx, tx, quoteID, nil); err != nil {
		return domain.Quote{}, err
	}
	for pos, wi := range inputs {
		if wi.Name == "" {
			return domain.Quote{}, errors.New("ouvrage name is required")
		}
		w := domain.Work{ID: newID(), QuoteID: quoteID, Name: wi.Name, Description: wi.Description, Position: pos}
		if err := e.Repo.InsertWork(ctx, tx, w); err != nil {
			return domain.Quote{}, err
		}
		for _, ti := range wi.Tasks {
			if ti.Name == "" {
				return domain.Quote{}, errors.New("task name is required")
			}
			t := domain.Task{ID: newID(), WorkID: w.ID, Name: ti.Name, Description: ti.Description, State: domain.TaskPending}
			if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
				return domain.Quote{}, err
			}
			for _, li := range ti.Lines {
				if _, err := e.insertLineTx(ctx, tx, t.ID, li); err != nil {
					return domain.Quote{}, err
				}
			}
			if err := e.recomputeTaskTx(ctx, tx, t.ID); err != nil {
				return domain.Quote{}, err
			}
		}
	}
	if err := e.Repo.UpdateQuoteTotalTx(ctx, tx, quoteID); err != nil {
		return domain.Quote{}, err
	}
	if err := e.Events.Append(ctx, tx, "quote.replace_works", q.ProjectID, "devis", quoteID, actorID,
		events.EventPayload{"ouvrages": len(inputs)}); err != nil {
		return domain.Quote{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Quote{}, err
	}
	return e.Repo.GetQuote(ctx, quoteID)
}

// BudgetSummary derives the project rollup from cached snapshots.
func (e Engine) BudgetSummary(ctx context.Context, projectID string) (budget.Summary, error) {
	p, err := e.Repo.FetchProject(ctx, projectID)
	if err != nil {
		return budget.Summary{}, err
	}
	return budget.ProjectSummary(p), nil
}
