// Package budget rolls typed budget lines up the
// task -> ouvrage -> devis -> project hierarchy. All functions are pure
// over domain records; persisting the recomputed snapshots is the
// engine's job. Lines are the source of truth, snapshots are caches.
package budget

import (
	"fmt"

	"batiplan/internal/domain"
)

// Budget line categories, a closed set so rollups stay exhaustive.
const (
	CategoryMO            = "mo"
	CategoryMateriaux     = "materiaux"
	CategoryMateriels     = "materiels"
	CategorySousTraitance = "sous_traitance"
)

// Categories in display order.
var Categories = []string{CategoryMO, CategoryMateriaux, CategoryMateriels, CategorySousTraitance}

// InvalidLineError reports a budget line that fails validation. The
// caller boundary guarantees quantity >= 1; anything else is a data
// error, never silently clamped.
type InvalidLineError struct {
	LineID string
	Reason string
}

func (e InvalidLineError) Error() string {
	if e.LineID == "" {
		return "invalid budget line: " + e.Reason
	}
	return fmt.Sprintf("invalid budget line %s: %s", e.LineID, e.Reason)
}

// ParseCategory normalizes a category string, accepting the legacy
// "budget_<categorie>" form used by quote import payloads.
func ParseCategory(s string) (string, error) {
	switch s {
	case CategoryMO, "budget_mo":
		return CategoryMO, nil
	case CategoryMateriaux, "budget_materiaux":
		return CategoryMateriaux, nil
	case CategoryMateriels, "budget_materiel", "budget_materiels":
		return CategoryMateriels, nil
	case CategorySousTraitance, "budget_sous_traitance":
		return CategorySousTraitance, nil
	default:
		return "", fmt.Errorf("unknown budget category %q", s)
	}
}

// Validate rejects malformed lines before any rollup or mutation.
func Validate(l domain.BudgetLine) error {
	if _, err := ParseCategory(l.Category); err != nil {
		return InvalidLineError{LineID: l.ID, Reason: err.Error()}
	}
	if l.Kind != domain.BudgetPrevisionnel && l.Kind != domain.BudgetReel {
		return InvalidLineError{LineID: l.ID, Reason: fmt.Sprintf("unknown kind %q", l.Kind)}
	}
	if l.Quantity < 1 {
		return InvalidLineError{LineID: l.ID, Reason: fmt.Sprintf("quantity %g below 1", l.Quantity)}
	}
	if l.UnitPrice < 0 {
		return InvalidLineError{LineID: l.ID, Reason: fmt.Sprintf("negative unit price %g", l.UnitPrice)}
	}
	return nil
}

// TaskTotals folds a task's own lines into the two snapshot records.
// Every line must validate; the task snapshot must equal this result
// for both kinds (rollup conservation).
func TaskTotals(lines []domain.BudgetLine) (prev, reel domain.BudgetTotals, err error) {
	for _, l := range lines {
		if err := Validate(l); err != nil {
			return domain.BudgetTotals{}, domain.BudgetTotals{}, err
		}
		target := &prev
		if l.Kind == domain.BudgetReel {
			target = &reel
		}
		switch l.Category {
		case CategoryMO:
			target.MO += l.Amount()
		case CategoryMateriaux:
			target.Materiaux += l.Amount()
		case CategoryMateriels:
			target.Materiels += l.Amount()
		case CategorySousTraitance:
			target.SousTraitance += l.Amount()
		}
	}
	return prev, reel, nil
}

// SumWork aggregates the cached task snapshots of one ouvrage.
func SumWork(w domain.Work) (prev, reel domain.BudgetTotals) {
	for _, t := range w.Tasks {
		prev = prev.Add(t.BudgetPrevisionnel)
		reel = reel.Add(t.BudgetReel)
	}
	return prev, reel
}

// SumQuote aggregates all ouvrages of a quote.
func SumQuote(q domain.Quote) (prev, reel domain.BudgetTotals) {
	for _, w := range q.Works {
		wp, wr := SumWork(w)
		prev = prev.Add(wp)
		reel = reel.Add(wr)
	}
	return prev, reel
}

// Revenue is the project's chiffre d'affaires: the montant_total of
// validated quotes only. Pending and refused quotes never contribute,
// whatever budget data they carry.
func Revenue(quotes []domain.Quote) float64 {
	var total float64
	for _, q := range quotes {
		if q.State == domain.QuoteValidated {
			total += q.MontantTotal
		}
	}
	return total
}

// Expenses sums réel spend across every quote of the project. Actual
// spend is tracked independently of quote approval.
func Expenses(p domain.Project) domain.BudgetTotals {
	var out domain.BudgetTotals
	for _, q := range p.Quotes {
		_, reel := SumQuote(q)
		out = out.Add(reel)
	}
	return out
}

// Summary is the project-level rollup served by the API and the CLI.
type Summary struct {
	Revenue      float64             `json:"chiffre_affaires"`
	Previsionnel domain.BudgetTotals `json:"previsionnel"`
	Reel         domain.BudgetTotals `json:"reel"`
	Expenses     float64             `json:"depenses"`
}

// ProjectSummary derives the full project rollup from cached task
// snapshots and quote totals.
func ProjectSummary(p domain.Project) Summary {
	var prev, reel domain.BudgetTotals
	for _, q := range p.Quotes {
		qp, qr := SumQuote(q)
		prev = prev.Add(qp)
		reel = reel.Add(qr)
	}
	return Summary{
		Revenue:      Revenue(p.Quotes),
		Previsionnel: prev,
		Reel:         reel,
		Expenses:     reel.Total(),
	}
}
