package progress

import (
	"testing"
	"time"

	"batiplan/internal/domain"
)

func strptr(s string) *string { return &s }

func at(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestPendingAndDone(t *testing.T) {
	now := at("2024-01-10")
	if got := Estimate(domain.Task{State: domain.TaskPending}, now); got != 0 {
		t.Fatalf("pending: got %d", got)
	}
	if got := Estimate(domain.Task{State: domain.TaskDone}, now); got != 100 {
		t.Fatalf("done: got %d", got)
	}
}

func TestInProgressNotStarted(t *testing.T) {
	got := Estimate(domain.Task{State: domain.TaskInProgress}, at("2024-01-10"))
	if got != 25 {
		t.Fatalf("expected 25, got %d", got)
	}
}

func TestInProgressElapsed(t *testing.T) {
	task := domain.Task{
		State:       domain.TaskInProgress,
		ActualStart: strptr("2024-01-01"),
		PlannedEnd:  strptr("2024-01-11"),
	}
	// Halfway through: 50%.
	if got := Estimate(task, at("2024-01-06")); got != 50 {
		t.Fatalf("halfway: got %d", got)
	}
	// Barely started: clamped up to 25.
	if got := Estimate(task, at("2024-01-01")); got != 25 {
		t.Fatalf("start: got %d", got)
	}
	// Nearly finished: clamped down to 90.
	if got := Estimate(task, at("2024-01-10").Add(23*time.Hour)); got != 90 {
		t.Fatalf("near end: got %d", got)
	}
}

func TestOverduePinsAtNinety(t *testing.T) {
	task := domain.Task{
		State:       domain.TaskInProgress,
		ActualStart: strptr("2024-01-01"),
		PlannedEnd:  strptr("2024-01-05"),
	}
	if got := Estimate(task, at("2024-01-10")); got != 90 {
		t.Fatalf("overdue: got %d, want 90", got)
	}
}

func TestActualEndPreferred(t *testing.T) {
	task := domain.Task{
		State:       domain.TaskInProgress,
		ActualStart: strptr("2024-01-01"),
		ActualEnd:   strptr("2024-01-03"),
		PlannedEnd:  strptr("2024-01-21"),
	}
	// Against the actual end the task is overdue; against the planned
	// end it would barely have started.
	if got := Estimate(task, at("2024-01-04")); got != 90 {
		t.Fatalf("got %d, want 90", got)
	}
}

func TestMonotoneAcrossStates(t *testing.T) {
	now := at("2024-01-06")
	pending := Estimate(domain.Task{State: domain.TaskPending}, now)
	inProgress := Estimate(domain.Task{
		State:       domain.TaskInProgress,
		ActualStart: strptr("2024-01-01"),
		PlannedEnd:  strptr("2024-01-11"),
	}, now)
	done := Estimate(domain.Task{State: domain.TaskDone}, now)
	if !(pending < inProgress && inProgress < done) {
		t.Fatalf("expected 0 < %d < 100", inProgress)
	}
	if inProgress < 25 || inProgress > 90 {
		t.Fatalf("in-progress estimate %d outside [25,90]", inProgress)
	}
}
