package board

import (
	"context"
	"errors"
	"testing"

	"batiplan/internal/domain"
)

type fakeStore struct {
	project   domain.Project
	failWrite error
	writes    []string
	fetches   int
}

func (f *fakeStore) FetchProject(ctx context.Context, projectID string) (domain.Project, error) {
	f.fetches++
	return f.project, nil
}

func (f *fakeStore) UpdateTaskState(ctx context.Context, taskID, state string, force bool) error {
	if f.failWrite != nil {
		return f.failWrite
	}
	f.writes = append(f.writes, taskID+":"+state)
	for qi := range f.project.Quotes {
		for wi := range f.project.Quotes[qi].Works {
			for ti := range f.project.Quotes[qi].Works[wi].Tasks {
				if f.project.Quotes[qi].Works[wi].Tasks[ti].ID == taskID {
					f.project.Quotes[qi].Works[wi].Tasks[ti].State = state
				}
			}
		}
	}
	return nil
}

func projectWithTasks(states map[string]string) domain.Project {
	var tasks []domain.Task
	for id, state := range states {
		tasks = append(tasks, domain.Task{ID: id, WorkID: "w1", Name: id, State: state})
	}
	return domain.Project{
		ID: "p1",
		Quotes: []domain.Quote{{
			ID:    "q1",
			Works: []domain.Work{{ID: "w1", QuoteID: "q1", Tasks: tasks}},
		}},
	}
}

func TestEnsureTransition(t *testing.T) {
	cases := []struct {
		from, to string
		force    bool
		ok       bool
	}{
		{domain.TaskPending, domain.TaskInProgress, false, true},
		{domain.TaskInProgress, domain.TaskPending, false, true},
		{domain.TaskInProgress, domain.TaskDone, false, true},
		{domain.TaskPending, domain.TaskDone, false, false},
		{domain.TaskDone, domain.TaskInProgress, false, false},
		{domain.TaskDone, domain.TaskInProgress, true, true},
		{domain.TaskDone, domain.TaskDone, false, true},
		{domain.TaskPending, "unknown", true, false},
	}
	for _, c := range cases {
		err := EnsureTransition(c.from, c.to, c.force)
		if c.ok && err != nil {
			t.Errorf("EnsureTransition(%q,%q,force=%v) = %v, want nil", c.from, c.to, c.force, err)
		}
		if !c.ok && err == nil {
			t.Errorf("EnsureTransition(%q,%q,force=%v) = nil, want error", c.from, c.to, c.force)
		}
	}
}

func TestBoardLoadColumns(t *testing.T) {
	store := &fakeStore{project: projectWithTasks(map[string]string{
		"t1": domain.TaskPending,
		"t2": domain.TaskInProgress,
		"t3": domain.TaskDone,
	})}
	b := New(store, "p1")
	if err := b.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	cols := b.Columns()
	if len(cols.Pending) != 1 || len(cols.InProgress) != 1 || len(cols.Done) != 1 {
		t.Fatalf("columns = %d/%d/%d, want 1/1/1", len(cols.Pending), len(cols.InProgress), len(cols.Done))
	}
}

func TestBoardMovePersists(t *testing.T) {
	store := &fakeStore{project: projectWithTasks(map[string]string{"t1": domain.TaskPending})}
	b := New(store, "p1")
	if err := b.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := b.Move(context.Background(), "t1", domain.TaskInProgress, false); err != nil {
		t.Fatalf("move: %v", err)
	}
	cols := b.Columns()
	if len(cols.InProgress) != 1 || cols.InProgress[0].State != domain.TaskInProgress {
		t.Fatalf("task not moved to en cours: %+v", cols)
	}
	if len(store.writes) != 1 || store.writes[0] != "t1:en cours" {
		t.Fatalf("writes = %v", store.writes)
	}
}

func TestBoardMoveRejectsInvalidTransition(t *testing.T) {
	store := &fakeStore{project: projectWithTasks(map[string]string{"t1": domain.TaskPending})}
	b := New(store, "p1")
	if err := b.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	err := b.Move(context.Background(), "t1", domain.TaskDone, false)
	var invalid ErrInvalidTransition
	if !errors.As(err, &invalid) {
		t.Fatalf("move = %v, want ErrInvalidTransition", err)
	}
	if len(store.writes) != 0 {
		t.Fatalf("invalid move reached the store: %v", store.writes)
	}
}

func TestBoardMoveSameColumnRejected(t *testing.T) {
	store := &fakeStore{project: projectWithTasks(map[string]string{
		"t1": domain.TaskPending,
		"t2": domain.TaskPending,
	})}
	b := New(store, "p1")
	if err := b.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	before := b.Columns()

	err := b.Move(context.Background(), "t1", domain.TaskPending, false)
	if !errors.Is(err, ErrSameColumn) {
		t.Fatalf("move = %v, want ErrSameColumn", err)
	}
	if len(store.writes) != 0 {
		t.Fatalf("same-column move reached the store: %v", store.writes)
	}
	after := b.Columns()
	if len(after.Pending) != len(before.Pending) {
		t.Fatalf("pending column changed: %d -> %d", len(before.Pending), len(after.Pending))
	}
	for i := range before.Pending {
		if after.Pending[i].ID != before.Pending[i].ID {
			t.Fatalf("pending column reordered at %d: %s -> %s", i, before.Pending[i].ID, after.Pending[i].ID)
		}
	}
}

func TestBoardMoveResyncsOnSuccess(t *testing.T) {
	store := &fakeStore{project: projectWithTasks(map[string]string{"t1": domain.TaskPending})}
	b := New(store, "p1")
	if err := b.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	// A task lands in the store behind the board's back; the settle
	// re-sync after a successful move must pick it up.
	store.project.Quotes[0].Works[0].Tasks = append(store.project.Quotes[0].Works[0].Tasks,
		domain.Task{ID: "t2", WorkID: "w1", Name: "t2", State: domain.TaskDone})

	if err := b.Move(context.Background(), "t1", domain.TaskInProgress, false); err != nil {
		t.Fatalf("move: %v", err)
	}
	cols := b.Columns()
	if len(cols.Done) != 1 || cols.Done[0].ID != "t2" {
		t.Fatalf("settle re-sync missed server-side task: done = %+v", cols.Done)
	}
	if len(cols.InProgress) != 1 || cols.InProgress[0].ID != "t1" {
		t.Fatalf("moved task missing after re-sync: %+v", cols.InProgress)
	}
}

func TestBoardMoveRollsBackOnWriteFailure(t *testing.T) {
	store := &fakeStore{
		project:   projectWithTasks(map[string]string{"t1": domain.TaskPending}),
		failWrite: errors.New("write failed"),
	}
	b := New(store, "p1")
	if err := b.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	err := b.Move(context.Background(), "t1", domain.TaskInProgress, false)
	if err == nil || err.Error() != "write failed" {
		t.Fatalf("move = %v, want write failed", err)
	}
	cols := b.Columns()
	if len(cols.Pending) != 1 || len(cols.InProgress) != 0 {
		t.Fatalf("view not rolled back: %+v", cols)
	}
}

func TestBoardRefreshDuringMoveIsQueued(t *testing.T) {
	store := &fakeStore{project: projectWithTasks(map[string]string{"t1": domain.TaskPending})}
	b := New(store, "p1")
	if err := b.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	fetchesBefore := store.fetches

	b.mu.Lock()
	b.updating = true
	b.mu.Unlock()
	if err := b.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if store.fetches != fetchesBefore {
		t.Fatalf("refresh fetched during in-flight move")
	}
	b.mu.Lock()
	if !b.refreshQueued {
		b.mu.Unlock()
		t.Fatal("refresh not queued")
	}
	b.updating = false
	b.mu.Unlock()

	// Queued refresh runs when the next move settles.
	if err := b.Move(context.Background(), "t1", domain.TaskInProgress, false); err != nil {
		t.Fatalf("move: %v", err)
	}
	if store.fetches == fetchesBefore {
		t.Fatal("queued refresh never ran")
	}
}
