package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"batiplan/internal/board"
	"batiplan/internal/config"
	"batiplan/internal/db"
	"batiplan/internal/domain"
	"batiplan/internal/engine"
	"batiplan/internal/migrate"
	"batiplan/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("chantier-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

// seedQuote builds project -> devis -> ouvrage -> tache and returns
// the created records.
func seedQuote(t *testing.T, env testEnv) (domain.Project, domain.Quote, domain.Work, domain.Task) {
	t.Helper()
	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Name: "Maison Dupont", ActorID: "tester"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	q, err := env.Engine.CreateQuote(env.Ctx, engine.QuoteCreateOptions{ProjectID: p.ID, ActorID: "tester"})
	if err != nil {
		t.Fatalf("create quote: %v", err)
	}
	w, err := env.Engine.CreateWork(env.Ctx, q.ID, "Gros oeuvre", "", "tester")
	if err != nil {
		t.Fatalf("create work: %v", err)
	}
	task, err := env.Engine.CreateTask(env.Ctx, w.ID, "Fondations", "", "tester")
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return p, q, w, task
}

func TestCreateQuoteAssignsReference(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Name: "Chantier", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	q1, err := env.Engine.CreateQuote(env.Ctx, engine.QuoteCreateOptions{ProjectID: p.ID, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if q1.Reference != "D-0001" {
		t.Fatalf("reference = %q, want D-0001", q1.Reference)
	}
	q2, err := env.Engine.CreateQuote(env.Ctx, engine.QuoteCreateOptions{ProjectID: p.ID, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if q2.Reference != "D-0002" {
		t.Fatalf("reference = %q, want D-0002", q2.Reference)
	}
}

func TestQuoteReferenceNotReusedAfterDelete(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{Name: "Chantier", ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	q1, err := env.Engine.CreateQuote(env.Ctx, engine.QuoteCreateOptions{ProjectID: p.ID, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	q2, err := env.Engine.CreateQuote(env.Ctx, engine.QuoteCreateOptions{ProjectID: p.ID, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	// Deleting the first quote leaves D-0002 alive; the next quote
	// must not collide with it.
	if err := env.Engine.DeleteQuote(env.Ctx, q1.ID, "tester"); err != nil {
		t.Fatalf("delete quote: %v", err)
	}
	q3, err := env.Engine.CreateQuote(env.Ctx, engine.QuoteCreateOptions{ProjectID: p.ID, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if q3.Reference == q2.Reference {
		t.Fatalf("reference %q reused after delete", q3.Reference)
	}
	if q3.Reference != "D-0003" {
		t.Fatalf("reference after delete = %q, want D-0003", q3.Reference)
	}
}

func TestQuoteValidationCascadesPhase(t *testing.T) {
	env := newTestEnv(t)
	p, q, _, _ := seedQuote(t, env)
	if p.Phase != domain.PhaseDevis {
		t.Fatalf("new project phase = %q", p.Phase)
	}
	validated, err := env.Engine.ValidateQuote(env.Ctx, q.ID, "tester")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if validated.State != domain.QuoteValidated {
		t.Fatalf("state = %q", validated.State)
	}
	got, err := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Phase != domain.PhasePreparation {
		t.Fatalf("phase after validation = %q, want preparation", got.Phase)
	}

	// Validating again is a no-op, not an error.
	if _, err := env.Engine.ValidateQuote(env.Ctx, q.ID, "tester"); err != nil {
		t.Fatalf("revalidate: %v", err)
	}

	// Reverting drops the project back to devis.
	if _, err := env.Engine.RevertQuote(env.Ctx, q.ID, "tester"); err != nil {
		t.Fatalf("revert: %v", err)
	}
	got, err = env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Phase != domain.PhaseDevis {
		t.Fatalf("phase after revert = %q, want devis", got.Phase)
	}
}

func TestSecondQuoteValidationConflicts(t *testing.T) {
	env := newTestEnv(t)
	p, q1, _, _ := seedQuote(t, env)
	q2, err := env.Engine.CreateQuote(env.Ctx, engine.QuoteCreateOptions{ProjectID: p.ID, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ValidateQuote(env.Ctx, q1.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.ValidateQuote(env.Ctx, q2.ID, "tester")
	if !errors.Is(err, engine.ErrQuoteConflict) {
		t.Fatalf("validate second quote = %v, want ErrQuoteConflict", err)
	}
}

func TestValidatedQuoteIsLocked(t *testing.T) {
	env := newTestEnv(t)
	_, q, w, task := seedQuote(t, env)
	if _, err := env.Engine.ValidateQuote(env.Ctx, q.ID, "tester"); err != nil {
		t.Fatal(err)
	}

	name := "renamed"
	if _, err := env.Engine.UpdateQuote(env.Ctx, q.ID, &name); !errors.Is(err, engine.ErrQuoteValidated) {
		t.Fatalf("update quote = %v, want ErrQuoteValidated", err)
	}
	if _, err := env.Engine.CreateWork(env.Ctx, q.ID, "Second oeuvre", "", "tester"); !errors.Is(err, engine.ErrQuoteValidated) {
		t.Fatalf("create work = %v, want ErrQuoteValidated", err)
	}
	if err := env.Engine.DeleteWork(env.Ctx, w.ID, "tester"); !errors.Is(err, engine.ErrQuoteValidated) {
		t.Fatalf("delete work = %v, want ErrQuoteValidated", err)
	}
	_, err := env.Engine.AddBudgetLine(env.Ctx, task.ID, engine.LineInput{
		Kind: domain.BudgetPrevisionnel, Category: "mo", UnitPrice: 100, Quantity: 2,
	}, "tester")
	if !errors.Is(err, engine.ErrQuoteValidated) {
		t.Fatalf("add previsionnel line = %v, want ErrQuoteValidated", err)
	}

	// Réel spend stays open after validation.
	if _, err := env.Engine.AddBudgetLine(env.Ctx, task.ID, engine.LineInput{
		Kind: domain.BudgetReel, Category: "materiaux", UnitPrice: 50, Quantity: 3,
	}, "tester"); err != nil {
		t.Fatalf("add reel line: %v", err)
	}
}

func TestBudgetRollupThroughHierarchy(t *testing.T) {
	env := newTestEnv(t)
	_, q, _, task := seedQuote(t, env)
	lines := []engine.LineInput{
		{Kind: domain.BudgetPrevisionnel, Category: "mo", UnitPrice: 100, Quantity: 10},
		{Kind: domain.BudgetPrevisionnel, Category: "materiaux", UnitPrice: 25, Quantity: 4},
		{Kind: domain.BudgetReel, Category: "mo", UnitPrice: 120, Quantity: 5},
	}
	for _, l := range lines {
		if _, err := env.Engine.AddBudgetLine(env.Ctx, task.ID, l, "tester"); err != nil {
			t.Fatalf("add line: %v", err)
		}
	}
	got, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.BudgetPrevisionnel.MO != 1000 || got.BudgetPrevisionnel.Materiaux != 100 {
		t.Fatalf("previsionnel snapshot = %+v", got.BudgetPrevisionnel)
	}
	if got.BudgetReel.MO != 600 {
		t.Fatalf("reel snapshot = %+v", got.BudgetReel)
	}
	quote, err := env.Engine.Repo.GetQuote(env.Ctx, q.ID)
	if err != nil {
		t.Fatal(err)
	}
	if quote.MontantTotal != 1100 {
		t.Fatalf("montant_total = %g, want 1100", quote.MontantTotal)
	}
}

func TestRevenueCountsOnlyValidatedQuotes(t *testing.T) {
	env := newTestEnv(t)
	p, q1, _, task1 := seedQuote(t, env)
	if _, err := env.Engine.AddBudgetLine(env.Ctx, task1.ID, engine.LineInput{
		Kind: domain.BudgetPrevisionnel, Category: "mo", UnitPrice: 1000, Quantity: 10,
	}, "tester"); err != nil {
		t.Fatal(err)
	}

	q2, err := env.Engine.CreateQuote(env.Ctx, engine.QuoteCreateOptions{
		ProjectID: p.ID,
		ActorID:   "tester",
		Works: []engine.WorkInput{{
			Name: "Toiture",
			Tasks: []engine.TaskInput{{
				Name:  "Charpente",
				Lines: []engine.LineInput{{Kind: domain.BudgetPrevisionnel, Category: "mo", UnitPrice: 500, Quantity: 10}},
			}},
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if q2.MontantTotal != 5000 {
		t.Fatalf("q2 montant_total = %g, want 5000", q2.MontantTotal)
	}

	if _, err := env.Engine.ValidateQuote(env.Ctx, q1.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	sum, err := env.Engine.BudgetSummary(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Revenue != 10000 {
		t.Fatalf("revenue = %g, want 10000 (pending quote must not count)", sum.Revenue)
	}
}

func TestExpensesIgnoreQuoteState(t *testing.T) {
	env := newTestEnv(t)
	p, _, _, task := seedQuote(t, env)
	if _, err := env.Engine.AddBudgetLine(env.Ctx, task.ID, engine.LineInput{
		Kind: domain.BudgetReel, Category: "sous_traitance", UnitPrice: 300, Quantity: 2,
	}, "tester"); err != nil {
		t.Fatal(err)
	}
	sum, err := env.Engine.BudgetSummary(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Revenue != 0 {
		t.Fatalf("revenue = %g, want 0", sum.Revenue)
	}
	if sum.Expenses != 600 {
		t.Fatalf("expenses = %g, want 600 even with no validated quote", sum.Expenses)
	}
}

func TestPlanTaskWritesSessionsAndDates(t *testing.T) {
	env := newTestEnv(t)
	_, _, _, task := seedQuote(t, env)
	start := time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)
	end := time.Date(2024, 6, 5, 11, 30, 0, 0, time.UTC)
	plan, err := env.Engine.PlanTask(env.Ctx, task.ID, start, end, "tester")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan.Sessions) != 3 {
		t.Fatalf("sessions = %d, want 3", len(plan.Sessions))
	}
	first, middle, last := plan.Sessions[0], plan.Sessions[1], plan.Sessions[2]
	if first.Start != "14:00" || first.End != "18:00" {
		t.Fatalf("first session = %s-%s", first.Start, first.End)
	}
	if middle.Start != "08:00" || middle.End != "18:00" {
		t.Fatalf("middle session = %s-%s", middle.Start, middle.End)
	}
	if last.Start != "08:00" || last.End != "11:30" {
		t.Fatalf("last session = %s-%s", last.Start, last.End)
	}
	if plan.Task.PlannedStart == nil || *plan.Task.PlannedStart != "2024-06-03" {
		t.Fatalf("planned start = %v", plan.Task.PlannedStart)
	}
	if plan.Task.PlannedEnd == nil || *plan.Task.PlannedEnd != "2024-06-05" {
		t.Fatalf("planned end = %v", plan.Task.PlannedEnd)
	}
	if plan.Task.ActualStart == nil || *plan.Task.ActualStart != "2024-06-03" {
		t.Fatalf("actual start should mirror planned start, got %v", plan.Task.ActualStart)
	}
}

func TestMoveTaskStampsDates(t *testing.T) {
	env := newTestEnv(t)
	_, _, _, task := seedQuote(t, env)

	moved, err := env.Engine.MoveTask(env.Ctx, task.ID, domain.TaskInProgress, false, "tester")
	if err != nil {
		t.Fatalf("move to en cours: %v", err)
	}
	if moved.ActualStart == nil || *moved.ActualStart != "2024-06-01" {
		t.Fatalf("actual start = %v, want 2024-06-01", moved.ActualStart)
	}
	moved, err = env.Engine.MoveTask(env.Ctx, moved.ID, domain.TaskDone, false, "tester")
	if err != nil {
		t.Fatalf("move to termine: %v", err)
	}
	if moved.ActualEnd == nil || *moved.ActualEnd != "2024-06-01" {
		t.Fatalf("actual end = %v", moved.ActualEnd)
	}

	// Leaving termine requires force and clears the actual end.
	_, err = env.Engine.MoveTask(env.Ctx, moved.ID, domain.TaskInProgress, false, "tester")
	var invalid board.ErrInvalidTransition
	if !errors.As(err, &invalid) {
		t.Fatalf("unforced leave termine = %v, want ErrInvalidTransition", err)
	}
	moved, err = env.Engine.MoveTask(env.Ctx, moved.ID, domain.TaskInProgress, true, "tester")
	if err != nil {
		t.Fatalf("forced leave termine: %v", err)
	}
	if moved.ActualEnd != nil {
		t.Fatalf("actual end not cleared: %v", *moved.ActualEnd)
	}
}

func TestAssignWorkersSkipsDuplicates(t *testing.T) {
	env := newTestEnv(t)
	_, _, w, task := seedQuote(t, env)
	other, err := env.Engine.CreateTask(env.Ctx, w.ID, "Coffrage", "", "tester")
	if err != nil {
		t.Fatal(err)
	}
	worker1, err := env.Engine.CreateWorker(env.Ctx, engine.WorkerCreateOptions{Name: "Martin", Firstname: "Paul"})
	if err != nil {
		t.Fatal(err)
	}
	worker2, err := env.Engine.CreateWorker(env.Ctx, engine.WorkerCreateOptions{Name: "Durand", Firstname: "Luc"})
	if err != nil {
		t.Fatal(err)
	}

	start := time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC)
	end := time.Date(2024, 6, 11, 18, 0, 0, 0, time.UTC)
	res, err := env.Engine.AssignWorkers(env.Ctx, task.ID, []string{worker1.ID, worker2.ID}, start, end, "tester")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if res.Attempted != 4 || res.Created != 4 || len(res.Skipped) != 0 {
		t.Fatalf("first assign = %+v", res)
	}

	// worker1 is busy on both days; worker2's entries on the other
	// task still go through day by day.
	res, err = env.Engine.AssignWorkers(env.Ctx, other.ID, []string{worker1.ID}, start, end, "tester")
	if err != nil {
		t.Fatalf("second assign: %v", err)
	}
	if res.Attempted != 2 || res.Created != 0 || len(res.Skipped) != 2 {
		t.Fatalf("duplicate assign = %+v", res)
	}
	for _, s := range res.Skipped {
		if s.WorkerID != worker1.ID {
			t.Fatalf("skipped wrong worker: %+v", s)
		}
	}
}

func TestCancelledEntryFreesSlot(t *testing.T) {
	env := newTestEnv(t)
	_, _, _, task := seedQuote(t, env)
	worker, err := env.Engine.CreateWorker(env.Ctx, engine.WorkerCreateOptions{Name: "Petit", Firstname: "Jean"})
	if err != nil {
		t.Fatal(err)
	}
	day := time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC)
	res, err := env.Engine.AssignWorkers(env.Ctx, task.ID, []string{worker.ID}, day, day.Add(9*time.Hour), "tester")
	if err != nil || res.Created != 1 {
		t.Fatalf("assign: %v %+v", err, res)
	}
	if _, err := env.Engine.CancelAssignment(env.Ctx, res.Entries[0].ID, "tester"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	res, err = env.Engine.AssignWorkers(env.Ctx, task.ID, []string{worker.ID}, day, day.Add(9*time.Hour), "tester")
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if res.Created != 1 || len(res.Skipped) != 0 {
		t.Fatalf("reassign after cancel = %+v", res)
	}
}

func TestDeleteQuoteCascades(t *testing.T) {
	env := newTestEnv(t)
	_, q, _, task := seedQuote(t, env)
	if _, err := env.Engine.AddBudgetLine(env.Ctx, task.ID, engine.LineInput{
		Kind: domain.BudgetPrevisionnel, Category: "mo", UnitPrice: 10, Quantity: 1,
	}, "tester"); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteQuote(env.Ctx, q.ID, "tester"); err != nil {
		t.Fatalf("delete quote: %v", err)
	}
	if _, err := env.Engine.Repo.GetTask(env.Ctx, task.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("task survived quote deletion: %v", err)
	}
	lines, err := env.Engine.Repo.ListBudgetLines(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 0 {
		t.Fatalf("budget lines survived quote deletion: %d", len(lines))
	}
}

func TestTaskProgressOverdue(t *testing.T) {
	env := newTestEnv(t)
	_, _, _, task := seedQuote(t, env)
	start := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	end := time.Date(2024, 5, 10, 18, 0, 0, 0, time.UTC)
	if _, err := env.Engine.PlanTask(env.Ctx, task.ID, start, end, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.MoveTask(env.Ctx, task.ID, domain.TaskInProgress, false, "tester"); err != nil {
		t.Fatal(err)
	}
	// Clock is 2024-06-01, well past the planned end.
	pct, err := env.Engine.TaskProgress(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if pct != 90 {
		t.Fatalf("overdue progress = %d, want 90", pct)
	}
}

func TestInvoiceBillsValidatedQuote(t *testing.T) {
	env := newTestEnv(t)
	_, q, _, task := seedQuote(t, env)
	if _, err := env.Engine.AddBudgetLine(env.Ctx, task.ID, engine.LineInput{
		Kind: domain.BudgetPrevisionnel, Category: "mo", UnitPrice: 500, Quantity: 2,
	}, "tester"); err != nil {
		t.Fatal(err)
	}

	// Billing an unapproved devis is rejected.
	if _, err := env.Engine.CreateInvoice(env.Ctx, q.ID, "tester"); !errors.Is(err, engine.ErrQuoteNotValidated) {
		t.Fatalf("invoice on pending quote = %v, want ErrQuoteNotValidated", err)
	}

	if _, err := env.Engine.ValidateQuote(env.Ctx, q.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	inv, err := env.Engine.CreateInvoice(env.Ctx, q.ID, "tester")
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	if inv.Reference != "F-0001" {
		t.Fatalf("reference = %q, want F-0001", inv.Reference)
	}
	if inv.MontantTotal != 1000 {
		t.Fatalf("montant = %v, want 1000", inv.MontantTotal)
	}
	if inv.QuoteID == nil || *inv.QuoteID != q.ID {
		t.Fatalf("devis_id = %v, want %s", inv.QuoteID, q.ID)
	}

	inv2, err := env.Engine.CreateInvoice(env.Ctx, q.ID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if inv2.Reference != "F-0002" {
		t.Fatalf("second reference = %q, want F-0002", inv2.Reference)
	}

	if err := env.Engine.DeleteInvoice(env.Ctx, inv.ID, "tester"); err != nil {
		t.Fatalf("delete invoice: %v", err)
	}
	items, err := env.Engine.ListInvoices(env.Ctx, inv.ProjectID)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].ID != inv2.ID {
		t.Fatalf("invoices after delete = %+v", items)
	}
}
