package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"batiplan/internal/board"
	"batiplan/internal/domain"
	"batiplan/internal/events"
	"batiplan/internal/planning"
	"batiplan/internal/progress"
)

func (e Engine) CreateTask(ctx context.Context, workID, name, description, actorID string) (domain.Task, error) {
	if name == "" {
		return domain.Task{}, errors.New("name is required")
	}
	projectID, quoteID, err := e.Repo.WorkProject(ctx, workID)
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := e.ensureQuoteMutable(ctx, quoteID); err != nil {
		return domain.Task{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	t := domain.Task{
		ID:          newID(),
		WorkID:      workID,
		Name:        name,
		Description: description,
		State:       domain.TaskPending,
	}
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "task.create", projectID, "tache", t.ID, actorID,
		events.EventPayload{"nom_tache": name}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) UpdateTask(ctx context.Context, taskID string, name, description *string) (domain.Task, error) {
	if err := e.Repo.UpdateTask(ctx, taskID, name, description); err != nil {
		return domain.Task{}, err
	}
	return e.Repo.GetTask(ctx, taskID)
}

func (e Engine) DeleteTask(ctx context.Context, taskID, actorID string) error {
	projectID, quoteID, err := e.Repo.TaskProject(ctx, taskID)
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
	if err := e.Repo.DeleteTask(ctx, tx, taskID); err != nil {
		return err
	}
	if err := e.Repo.UpdateQuoteTotalTx(ctx, tx, quoteID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "task.delete", projectID, "tache", taskID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// TaskPlan is the outcome of planning a task: its working sessions and
// the dates written back to the task.
type TaskPlan struct {
	Task     domain.Task        `json:"tache"`
	Sessions []planning.Session `json:"sessions"`
}

// PlanTask slices the given range into daily working sessions and
// records the planned dates. The actual start mirrors the planned
// start until execution overwrites it.
func (e Engine) PlanTask(ctx context.Context, taskID string, start, end time.Time, actorID string) (TaskPlan, error) {
	projectID, _, err := e.Repo.TaskProject(ctx, taskID)
	if err != nil {
		return TaskPlan{}, err
	}
	window := e.window()
	sessions, err := planning.Sessions(planning.ClampToWindow(start, window), planning.ClampToWindow(end, window), window)
	if err != nil {
		return TaskPlan{}, err
	}
	plannedStart := sessions[0].Date
	plannedEnd := sessions[len(sessions)-1].Date

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return TaskPlan{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTaskDates(ctx, tx, taskID, &plannedStart, &plannedEnd, &plannedStart, nil); err != nil {
		return TaskPlan{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.plan", projectID, "tache", taskID, actorID,
		events.EventPayload{"date_debut_prevue": plannedStart, "date_fin_prevue": plannedEnd, "sessions": len(sessions)}); err != nil {
		return TaskPlan{}, err
	}
	if err := tx.Commit(); err != nil {
		return TaskPlan{}, err
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return TaskPlan{}, err
	}
	return TaskPlan{Task: t, Sessions: sessions}, nil
}

// ExecuteTask records actual execution dates. Nil leaves a column
// untouched, a pointer to "" clears it.
func (e Engine) ExecuteTask(ctx context.Context, taskID string, actualStart, actualEnd *string, actorID string) (domain.Task, error) {
	projectID, _, err := e.Repo.TaskProject(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTaskDates(ctx, tx, taskID, nil, nil, actualStart, actualEnd); err != nil {
		return domain.Task{}, err
	}
	payload := events.EventPayload{}
	if actualStart != nil {
		payload["date_debut_reelle"] = *actualStart
	}
	if actualEnd != nil {
		payload["date_fin_reelle"] = *actualEnd
	}
	if err := e.Events.Append(ctx, tx, "task.execute", projectID, "tache", taskID, actorID, payload); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return e.Repo.GetTask(ctx, taskID)
}

// MoveTask changes a task's lifecycle state. Entering en cours stamps
// the actual start when missing; entering termine stamps the actual
// end; forcing a task back out of termine clears it.
func (e Engine) MoveTask(ctx context.Context, taskID, toState string, force bool, actorID string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := board.EnsureTransition(t.State, toState, force); err != nil {
		return domain.Task{}, err
	}
	if t.State == toState {
		return t, nil
	}
	projectID, _, err := e.Repo.TaskProject(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTaskState(ctx, tx, taskID, toState); err != nil {
		return domain.Task{}, err
	}
	var actualStart, actualEnd *string
	today := e.today()
	switch toState {
	case domain.TaskInProgress:
		if t.ActualStart == nil {
			actualStart = &today
		}
		if t.State == domain.TaskDone {
			empty := ""
			actualEnd = &empty
		}
	case domain.TaskDone:
		actualEnd = &today
	}
	if actualStart != nil || actualEnd != nil {
		if err := e.Repo.UpdateTaskDates(ctx, tx, taskID, nil, nil, actualStart, actualEnd); err != nil {
			return domain.Task{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "task.move", projectID, "tache", taskID, actorID,
		events.EventPayload{"from": t.State, "to": toState, "force": force}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return e.Repo.GetTask(ctx, taskID)
}

// TaskProgress estimates completion percent from state and dates.
func (e Engine) TaskProgress(ctx context.Context, taskID string) (int, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return 0, err
	}
	return progress.Estimate(t, e.now()), nil
}

// FetchProject and UpdateTaskState make the engine a board.Store.

func (e Engine) FetchProject(ctx context.Context, projectID string) (domain.Project, error) {
	return e.Repo.FetchProject(ctx, projectID)
}

func (e Engine) UpdateTaskState(ctx context.Context, taskID, state string, force bool) error {
	_, err := e.MoveTask(ctx, taskID, state, force, "board")
	return err
}
