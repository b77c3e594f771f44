// Package board groups a project's tasks into kanban columns and
// applies column moves optimistically: the local view changes first,
// persistence runs behind it, and a failed write rolls the view back
// from a fresh fetch.
package board

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"batiplan/internal/domain"
)

// ErrSameColumn rejects a move into the column the task already
// occupies. Callers treat it as a no-op rather than a failure.
var ErrSameColumn = errors.New("task already in target column")

// ErrInvalidTransition rejects a state change the task lifecycle does
// not allow.
type ErrInvalidTransition struct {
	From string
	To   string
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid task transition %q -> %q", e.From, e.To)
}

var transitions = map[string][]string{
	domain.TaskPending:    {domain.TaskInProgress},
	domain.TaskInProgress: {domain.TaskPending, domain.TaskDone},
	domain.TaskDone:       {},
}

// EnsureTransition validates a task state change. Leaving termine is
// only allowed with force.
func EnsureTransition(from, to string, force bool) error {
	if from == to {
		return nil
	}
	if force {
		if _, ok := transitions[to]; !ok {
			return ErrInvalidTransition{From: from, To: to}
		}
		return nil
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return ErrInvalidTransition{From: from, To: to}
}

// Store is the persistence the board needs: a nested project read and
// a single task state write.
type Store interface {
	FetchProject(ctx context.Context, projectID string) (domain.Project, error)
	UpdateTaskState(ctx context.Context, taskID, state string, force bool) error
}

// Columns is the board view, one slice per task state.
type Columns struct {
	Pending    []domain.Task `json:"en_attente"`
	InProgress []domain.Task `json:"en_cours"`
	Done       []domain.Task `json:"termine"`
}

func columnsOf(p domain.Project) Columns {
	var c Columns
	for _, q := range p.Quotes {
		for _, w := range q.Works {
			for _, t := range w.Tasks {
				switch t.State {
				case domain.TaskInProgress:
					c.InProgress = append(c.InProgress, t)
				case domain.TaskDone:
					c.Done = append(c.Done, t)
				default:
					c.Pending = append(c.Pending, t)
				}
			}
		}
	}
	return c
}

// Board holds the in-memory view of one project's tasks. Moves are
// serialized per board; a refresh requested while a move is in flight
// runs once the move settles instead of interleaving with it.
type Board struct {
	store     Store
	projectID string

	mu            sync.Mutex
	cols          Columns
	updating      bool
	refreshQueued bool
}

func New(store Store, projectID string) *Board {
	return &Board{store: store, projectID: projectID}
}

// Load fetches the project and rebuilds the columns.
func (b *Board) Load(ctx context.Context) error {
	p, err := b.store.FetchProject(ctx, b.projectID)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.cols = columnsOf(p)
	b.mu.Unlock()
	return nil
}

// Columns returns a snapshot of the current view.
func (b *Board) Columns() Columns {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.cols
	c.Pending = append([]domain.Task(nil), c.Pending...)
	c.InProgress = append([]domain.Task(nil), c.InProgress...)
	c.Done = append([]domain.Task(nil), c.Done...)
	return c
}

// Refresh re-reads the project. During an in-flight move the request
// is queued and applied when the move settles.
func (b *Board) Refresh(ctx context.Context) error {
	b.mu.Lock()
	if b.updating {
		b.refreshQueued = true
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()
	return b.Load(ctx)
}

// Move applies a column move: the view updates immediately, then the
// state change is persisted, then the view re-syncs from a fresh fetch
// once the write settles. The fresh read confirms a successful write
// and rolls back a failed one, and it satisfies any refresh queued
// while the move was in flight.
func (b *Board) Move(ctx context.Context, taskID, toState string, force bool) error {
	b.mu.Lock()
	if b.updating {
		b.mu.Unlock()
		return fmt.Errorf("move already in flight")
	}
	task, ok := b.findLocked(taskID)
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("task %s not on board", taskID)
	}
	if task.State == toState {
		b.mu.Unlock()
		return ErrSameColumn
	}
	if err := EnsureTransition(task.State, toState, force); err != nil {
		b.mu.Unlock()
		return err
	}
	b.updating = true
	prev := b.cols
	b.applyLocked(taskID, toState)
	b.mu.Unlock()

	writeErr := b.store.UpdateTaskState(ctx, taskID, toState, force)

	if err := b.Load(ctx); err != nil && writeErr != nil {
		// Could not re-fetch after a failed write: fall back to the
		// pre-move snapshot so the view does not show the phantom move.
		b.mu.Lock()
		b.cols = prev
		b.mu.Unlock()
	}

	b.mu.Lock()
	b.updating = false
	b.refreshQueued = false
	b.mu.Unlock()
	return writeErr
}

func (b *Board) findLocked(taskID string) (domain.Task, bool) {
	for _, col := range [][]domain.Task{b.cols.Pending, b.cols.InProgress, b.cols.Done} {
		for _, t := range col {
			if t.ID == taskID {
				return t, true
			}
		}
	}
	return domain.Task{}, false
}

func (b *Board) applyLocked(taskID, toState string) {
	strip := func(col []domain.Task) ([]domain.Task, *domain.Task) {
		for i, t := range col {
			if t.ID == taskID {
				moved := t
				return append(append([]domain.Task(nil), col[:i]...), col[i+1:]...), &moved
			}
		}
		return col, nil
	}
	var moved *domain.Task
	if b.cols.Pending, moved = strip(b.cols.Pending); moved == nil {
		if b.cols.InProgress, moved = strip(b.cols.InProgress); moved == nil {
			b.cols.Done, moved = strip(b.cols.Done)
		}
	}
	if moved == nil {
		return
	}
	moved.State = toState
	switch toState {
	case domain.TaskInProgress:
		b.cols.InProgress = append(b.cols.InProgress, *moved)
	case domain.TaskDone:
		b.cols.Done = append(b.cols.Done, *moved)
	default:
		b.cols.Pending = append(b.cols.Pending, *moved)
	}
}
