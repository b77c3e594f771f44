package budget

import (
	"errors"
	"testing"

	"batiplan/internal/domain"
)

func line(kind, cat string, price, qty float64) domain.BudgetLine {
	return domain.BudgetLine{ID: "l", TaskID: "t", Kind: kind, Category: cat, UnitPrice: price, Quantity: qty}
}

func TestTaskTotalsSplitsKinds(t *testing.T) {
	lines := []domain.BudgetLine{
		line(domain.BudgetPrevisionnel, CategoryMO, 35, 10),
		line(domain.BudgetPrevisionnel, CategoryMateriaux, 12.5, 4),
		line(domain.BudgetReel, CategoryMO, 40, 8),
		line(domain.BudgetReel, CategorySousTraitance, 500, 1),
	}
	prev, reel, err := TaskTotals(lines)
	if err != nil {
		t.Fatal(err)
	}
	if prev.MO != 350 || prev.Materiaux != 50 {
		t.Fatalf("previsionnel %+v", prev)
	}
	if prev.Total() != 400 {
		t.Fatalf("previsionnel total %g", prev.Total())
	}
	if reel.MO != 320 || reel.SousTraitance != 500 || reel.Total() != 820 {
		t.Fatalf("reel %+v", reel)
	}
}

func TestTaskTotalsRejectsBadLines(t *testing.T) {
	var invalid InvalidLineError
	_, _, err := TaskTotals([]domain.BudgetLine{line(domain.BudgetReel, CategoryMO, 35, 0)})
	if !errors.As(err, &invalid) {
		t.Fatalf("zero quantity: expected InvalidLineError, got %v", err)
	}
	_, _, err = TaskTotals([]domain.BudgetLine{line(domain.BudgetReel, CategoryMO, -5, 2)})
	if !errors.As(err, &invalid) {
		t.Fatalf("negative price: expected InvalidLineError, got %v", err)
	}
	_, _, err = TaskTotals([]domain.BudgetLine{line(domain.BudgetReel, "peinture", 5, 2)})
	if !errors.As(err, &invalid) {
		t.Fatalf("unknown category: expected InvalidLineError, got %v", err)
	}
}

func TestParseCategoryLegacyForms(t *testing.T) {
	for in, want := range map[string]string{
		"mo":                    CategoryMO,
		"budget_mo":             CategoryMO,
		"budget_materiaux":      CategoryMateriaux,
		"budget_materiel":       CategoryMateriels,
		"budget_sous_traitance": CategorySousTraitance,
	} {
		got, err := ParseCategory(in)
		if err != nil || got != want {
			t.Errorf("ParseCategory(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseCategory("budget_divers"); err == nil {
		t.Error("expected error for unknown category")
	}
}

func taskWith(prev, reel domain.BudgetTotals) domain.Task {
	return domain.Task{BudgetPrevisionnel: prev, BudgetReel: reel}
}

func TestRollupConservation(t *testing.T) {
	w1 := domain.Work{Tasks: []domain.Task{
		taskWith(domain.BudgetTotals{MO: 100}, domain.BudgetTotals{MO: 90}),
		taskWith(domain.BudgetTotals{Materiaux: 200}, domain.BudgetTotals{Materiaux: 250}),
	}}
	w2 := domain.Work{Tasks: []domain.Task{
		taskWith(domain.BudgetTotals{SousTraitance: 300}, domain.BudgetTotals{}),
	}}
	q := domain.Quote{Works: []domain.Work{w1, w2}}

	prev, reel := SumQuote(q)
	if prev.Total() != 600 {
		t.Fatalf("quote previsionnel %g", prev.Total())
	}
	if reel.Total() != 340 {
		t.Fatalf("quote reel %g", reel.Total())
	}

	var workSum domain.BudgetTotals
	for _, w := range q.Works {
		wp, _ := SumWork(w)
		workSum = workSum.Add(wp)
	}
	if workSum != prev {
		t.Fatalf("work sums %+v != quote total %+v", workSum, prev)
	}
}

func TestRevenueCountsOnlyValidatedQuotes(t *testing.T) {
	quotes := []domain.Quote{
		{State: domain.QuoteValidated, MontantTotal: 10000},
		{State: domain.QuotePending, MontantTotal: 5000},
		{State: domain.QuoteRefused, MontantTotal: 7000},
	}
	if got := Revenue(quotes); got != 10000 {
		t.Fatalf("revenue %g, want 10000", got)
	}
}

func TestExpensesIgnoreQuoteState(t *testing.T) {
	p := domain.Project{Quotes: []domain.Quote{
		{State: domain.QuotePending, Works: []domain.Work{{Tasks: []domain.Task{
			taskWith(domain.BudgetTotals{}, domain.BudgetTotals{Materiels: 120}),
		}}}},
		{State: domain.QuoteValidated, Works: []domain.Work{{Tasks: []domain.Task{
			taskWith(domain.BudgetTotals{}, domain.BudgetTotals{MO: 80}),
		}}}},
	}}
	if got := Expenses(p); got.Total() != 200 {
		t.Fatalf("expenses %+v", got)
	}
}

func TestProjectSummary(t *testing.T) {
	p := domain.Project{Quotes: []domain.Quote{
		{State: domain.QuoteValidated, MontantTotal: 10000, Works: []domain.Work{{Tasks: []domain.Task{
			taskWith(domain.BudgetTotals{MO: 4000}, domain.BudgetTotals{MO: 1500}),
		}}}},
		{State: domain.QuotePending, MontantTotal: 5000},
	}}
	s := ProjectSummary(p)
	if s.Revenue != 10000 {
		t.Fatalf("revenue %g", s.Revenue)
	}
	if s.Previsionnel.Total() != 4000 || s.Reel.Total() != 1500 || s.Expenses != 1500 {
		t.Fatalf("summary %+v", s)
	}
}
