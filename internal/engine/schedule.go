package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"batiplan/internal/domain"
	"batiplan/internal/events"
	"batiplan/internal/planning"
	"batiplan/internal/repo"
)

// --- workers and jobs ---

type WorkerCreateOptions struct {
	ID        string
	Name      string
	Firstname string
	JobID     string
	Photo     string
}

func (e Engine) CreateWorker(ctx context.Context, opts WorkerCreateOptions) (domain.Worker, error) {
	if opts.Name == "" || opts.Firstname == "" {
		return domain.Worker{}, errors.New("name and firstname are required")
	}
	if opts.JobID != "" {
		if _, err := e.Repo.GetJob(ctx, opts.JobID); err != nil {
			return domain.Worker{}, fmt.Errorf("job %s: %w", opts.JobID, err)
		}
	}
	w := domain.Worker{
		ID:        opts.ID,
		Name:      opts.Name,
		Firstname: opts.Firstname,
		Photo:     opts.Photo,
		CreatedAt: e.timestamp(),
	}
	if w.ID == "" {
		w.ID = newID()
	}
	if opts.JobID != "" {
		w.JobID = &opts.JobID
	}
	if err := e.Repo.InsertWorker(ctx, w); err != nil {
		return domain.Worker{}, fmt.Errorf("insert worker: %w", err)
	}
	return w, nil
}

func (e Engine) CreateJob(ctx context.Context, id, name string) (domain.Job, error) {
	if name == "" {
		return domain.Job{}, errors.New("name is required")
	}
	j := domain.Job{ID: id, Name: name, CreatedAt: e.timestamp()}
	if j.ID == "" {
		j.ID = newID()
	}
	if err := e.Repo.InsertJob(ctx, j); err != nil {
		return domain.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return j, nil
}

// --- schedule (edt) ---

// SkippedAssignment is one worker/date pair left out because the
// worker already had a live entry that day.
type SkippedAssignment struct {
	WorkerID string `json:"ouvrier_id"`
	Date     string `json:"date_edt"`
}

// AssignmentResult reports a bulk assignment: how many pairs were
// attempted, how many entries were created, and which pairs were
// skipped as duplicates. Skips never abort the rest of the batch.
type AssignmentResult struct {
	Attempted int                    `json:"attempted"`
	Created   int                    `json:"created"`
	Skipped   []SkippedAssignment    `json:"skipped,omitempty"`
	Entries   []domain.ScheduleEntry `json:"entries,omitempty"`
}

// AssignWorkers schedules the given workers on the task over the date
// range, one entry per worker per working session. A worker already
// holding a live entry on a date is skipped for that date only.
func (e Engine) AssignWorkers(ctx context.Context, taskID string, workerIDs []string, start, end time.Time, actorID string) (AssignmentResult, error) {
	if len(workerIDs) == 0 {
		return AssignmentResult{}, errors.New("at least one worker is required")
	}
	projectID, _, err := e.Repo.TaskProject(ctx, taskID)
	if err != nil {
		return AssignmentResult{}, err
	}
	for _, id := range workerIDs {
		if _, err := e.Repo.GetWorker(ctx, id); err != nil {
			return AssignmentResult{}, fmt.Errorf("worker %s: %w", id, err)
		}
	}
	window := e.window()
	sessions, err := planning.Sessions(planning.ClampToWindow(start, window), planning.ClampToWindow(end, window), window)
	if err != nil {
		return AssignmentResult{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return AssignmentResult{}, err
	}
	defer tx.Rollback()

	var res AssignmentResult
	for _, workerID := range workerIDs {
		for _, s := range sessions {
			res.Attempted++
			entry := domain.ScheduleEntry{
				ID:        newID(),
				TaskID:    taskID,
				WorkerID:  workerID,
				Date:      s.Date,
				StartTime: s.Start,
				EndTime:   s.End,
				Status:    domain.EntryAssigned,
				CreatedAt: e.timestamp(),
			}
			err := e.Repo.InsertScheduleEntry(ctx, tx, entry)
			if errors.Is(err, repo.ErrDuplicateAssignment) {
				res.Skipped = append(res.Skipped, SkippedAssignment{WorkerID: workerID, Date: s.Date})
				continue
			}
			if err != nil {
				return AssignmentResult{}, fmt.Errorf("insert schedule entry: %w", err)
			}
			res.Created++
			res.Entries = append(res.Entries, entry)
		}
	}
	if err := e.Events.Append(ctx, tx, "edt.assign", projectID, "tache", taskID, actorID,
		events.EventPayload{"attempted": res.Attempted, "created": res.Created, "skipped": len(res.Skipped)}); err != nil {
		return AssignmentResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return AssignmentResult{}, err
	}
	return res, nil
}

// CompleteAssignment marks one entry completed.
func (e Engine) CompleteAssignment(ctx context.Context, entryID, actorID string) (domain.ScheduleEntry, error) {
	return e.setEntryStatus(ctx, entryID, domain.EntryCompleted, "edt.complete", actorID)
}

// CancelAssignment cancels one entry, freeing its worker/date slot.
func (e Engine) CancelAssignment(ctx context.Context, entryID, actorID string) (domain.ScheduleEntry, error) {
	return e.setEntryStatus(ctx, entryID, domain.EntryCancelled, "edt.cancel", actorID)
}

func (e Engine) setEntryStatus(ctx context.Context, entryID, status, evtType, actorID string) (domain.ScheduleEntry, error) {
	entry, err := e.Repo.GetScheduleEntry(ctx, entryID)
	if err != nil {
		return domain.ScheduleEntry{}, err
	}
	projectID, _, err := e.Repo.TaskProject(ctx, entry.TaskID)
	if err != nil {
		return domain.ScheduleEntry{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ScheduleEntry{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateScheduleStatus(ctx, tx, entryID, status); err != nil {
		return domain.ScheduleEntry{}, err
	}
	if err := e.Events.Append(ctx, tx, evtType, projectID, "edt", entryID, actorID, nil); err != nil {
		return domain.ScheduleEntry{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ScheduleEntry{}, err
	}
	entry.Status = status
	return entry, nil
}

// CancelTaskAssignments cancels every live entry of a task, for
// replanning. Returns how many entries were cancelled.
func (e Engine) CancelTaskAssignments(ctx context.Context, taskID, actorID string) (int64, error) {
	projectID, _, err := e.Repo.TaskProject(ctx, taskID)
	if err != nil {
		return 0, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	n, err := e.Repo.CancelTaskEntries(ctx, tx, taskID)
	if err != nil {
		return 0, err
	}
	if err := e.Events.Append(ctx, tx, "edt.cancel_all", projectID, "tache", taskID, actorID,
		events.EventPayload{"cancelled": n}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func (e Engine) ListSchedule(ctx context.Context, f repo.ScheduleFilter) ([]domain.ScheduleEntry, error) {
	return e.Repo.ListScheduleEntries(ctx, f)
}
