package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"batiplan/internal/board"
	"batiplan/internal/budget"
	"batiplan/internal/domain"
	"batiplan/internal/engine"
	"batiplan/internal/repo"
)

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProject(ctx, engine.ProjectCreateOptions{
			ID:        input.Body.ID,
			Name:      input.Body.Name,
			ClientID:  input.Body.ClientID,
			Address:   input.Body.Address,
			Latitude:  input.Body.Latitude,
			Longitude: input.Body.Longitude,
			ActorID:   actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Project `json:"body"`
	}, error) {
		items, err := e.Repo.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Project `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{id}",
		Summary:     "Get project with its quote tree",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		p, err := e.Repo.FetchProject(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{id}",
		Summary:     "Update project",
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body UpdateProjectRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		p, err := e.UpdateProject(ctx, input.ID, input.Body.Name, input.Body.Address)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-project",
		Method:        http.MethodDelete,
		Path:          "/projects/{id}",
		Summary:       "Delete project",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteProject(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "advance-project-phase",
		Method:      http.MethodPost,
		Path:        "/projects/{id}/phase/advance",
		Summary:     "Advance the project phase",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.AdvanceProjectPhase(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "retreat-project-phase",
		Method:      http.MethodPost,
		Path:        "/projects/{id}/phase/retreat",
		Summary:     "Move the project phase back",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.RetreatProjectPhase(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-budget",
		Method:      http.MethodGet,
		Path:        "/projects/{id}/budget",
		Summary:     "Project budget rollup",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body budget.Summary `json:"body"`
	}, error) {
		sum, err := e.BudgetSummary(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body budget.Summary `json:"body"`
		}{Body: sum}, nil
	})
}

func registerClients(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-client",
		Method:        http.MethodPost,
		Path:          "/clients",
		Summary:       "Create client",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateClientRequest `json:"body"`
	}) (*struct {
		Body domain.Client `json:"body"`
	}, error) {
		c, err := e.CreateClient(ctx, engine.ClientCreateOptions{
			ID:      input.Body.ID,
			Name:    input.Body.Name,
			Email:   input.Body.Email,
			Contact: input.Body.Contact,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Client `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-clients",
		Method:      http.MethodGet,
		Path:        "/clients",
		Summary:     "List clients",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Client `json:"body"`
	}, error) {
		items, err := e.Repo.ListClients(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Client `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-client",
		Method:      http.MethodGet,
		Path:        "/clients/{id}",
		Summary:     "Get client",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Client `json:"body"`
	}, error) {
		c, err := e.Repo.GetClient(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Client `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-client",
		Method:        http.MethodDelete,
		Path:          "/clients/{id}",
		Summary:       "Delete client",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if err := e.Repo.DeleteClient(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerQuotes(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-quote",
		Method:        http.MethodPost,
		Path:          "/quotes",
		Summary:       "Create quote",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateQuoteRequest `json:"body"`
	}) (*struct {
		Body domain.Quote `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		q, err := e.CreateQuote(ctx, engine.QuoteCreateOptions{
			ID:        input.Body.ID,
			ProjectID: input.Body.ProjectID,
			Reference: input.Body.Reference,
			Works:     workInputs(input.Body.Works),
			ActorID:   actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Quote `json:"body"`
		}{Body: q}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-quotes",
		Method:      http.MethodGet,
		Path:        "/quotes",
		Summary:     "List quotes of a project",
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id" required:"true"`
	}) (*struct {
		Body []domain.Quote `json:"body"`
	}, error) {
		items, err := e.Repo.ListQuotes(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Quote `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-quote",
		Method:      http.MethodGet,
		Path:        "/quotes/{id}",
		Summary:     "Get quote with ouvrages and tasks",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Quote `json:"body"`
	}, error) {
		q, err := e.Repo.GetQuote(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		works, err := e.Repo.ListWorks(ctx, q.ID)
		if err != nil {
			return nil, handleError(err)
		}
		for i := range works {
			tasks, err := e.Repo.ListTasks(ctx, works[i].ID)
			if err != nil {
				return nil, handleError(err)
			}
			works[i].Tasks = tasks
		}
		q.Works = works
		return &struct {
			Body domain.Quote `json:"body"`
		}{Body: q}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-quote",
		Method:      http.MethodPatch,
		Path:        "/quotes/{id}",
		Summary:     "Update quote",
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body UpdateQuoteRequest `json:"body"`
	}) (*struct {
		Body domain.Quote `json:"body"`
	}, error) {
		q, err := e.UpdateQuote(ctx, input.ID, input.Body.Reference)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Quote `json:"body"`
		}{Body: q}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-quote",
		Method:        http.MethodDelete,
		Path:          "/quotes/{id}",
		Summary:       "Delete quote",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteQuote(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	stateOp := func(opID, path, summary string, fn func(context.Context, string, string) (domain.Quote, error)) {
		huma.Register(api, huma.Operation{
			OperationID: opID,
			Method:      http.MethodPost,
			Path:        path,
			Summary:     summary,
		}, func(ctx context.Context, input *struct {
			ID string `path:"id"`
		}) (*struct {
			Body domain.Quote `json:"body"`
		}, error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			q, err := fn(ctx, input.ID, actorID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body domain.Quote `json:"body"`
			}{Body: q}, nil
		})
	}
	stateOp("validate-quote", "/quotes/{id}/validate", "Validate quote", e.ValidateQuote)
	stateOp("refuse-quote", "/quotes/{id}/refuse", "Refuse quote", e.RefuseQuote)
	stateOp("revert-quote", "/quotes/{id}/revert", "Put quote back to en attente", e.RevertQuote)

	huma.Register(api, huma.Operation{
		OperationID: "replace-quote-works",
		Method:      http.MethodPut,
		Path:        "/quotes/{id}/works",
		Summary:     "Replace the quote's ouvrage tree",
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body ReplaceWorksRequest `json:"body"`
	}) (*struct {
		Body domain.Quote `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		q, err := e.ReplaceWorks(ctx, input.ID, workInputs(input.Body.Works), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Quote `json:"body"`
		}{Body: q}, nil
	})
}

func registerWorks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-work",
		Method:        http.MethodPost,
		Path:          "/quotes/{id}/works",
		Summary:       "Add ouvrage to quote",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body CreateWorkRequest `json:"body"`
	}) (*struct {
		Body domain.Work `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.CreateWork(ctx, input.ID, input.Body.Name, input.Body.Description, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Work `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-work",
		Method:      http.MethodPatch,
		Path:        "/works/{id}",
		Summary:     "Update ouvrage",
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateWorkRequest `json:"body"`
	}) (*struct {
		Body domain.Work `json:"body"`
	}, error) {
		w, err := e.UpdateWork(ctx, input.ID, input.Body.Name, input.Body.Description, input.Body.Position)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Work `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-work",
		Method:        http.MethodDelete,
		Path:          "/works/{id}",
		Summary:       "Delete ouvrage",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteWork(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/works/{id}/tasks",
		Summary:       "Add task to ouvrage",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTask(ctx, input.ID, input.Body.Name, input.Body.Description, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.Repo.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}",
		Summary:     "Update task",
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.UpdateTask(ctx, input.ID, input.Body.Name, input.Body.Description)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-task",
		Method:        http.MethodDelete,
		Path:          "/tasks/{id}",
		Summary:       "Delete task",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteTask(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "plan-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/plan",
		Summary:     "Plan task over a date range",
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body PlanTaskRequest `json:"body"`
	}) (*struct {
		Body engine.TaskPlan `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		plan, err := e.PlanTask(ctx, input.ID, input.Body.Start, input.Body.End, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.TaskPlan `json:"body"`
		}{Body: plan}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "execute-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/execute",
		Summary:     "Record actual execution dates",
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body ExecuteTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.ExecuteTask(ctx, input.ID, input.Body.ActualStart, input.Body.ActualEnd, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/move",
		Summary:     "Move task to another state",
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body MoveTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.MoveTask(ctx, input.ID, input.Body.To, input.Body.Force, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-progress",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/progress",
		Summary:     "Estimated completion percent",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body struct {
			Percent int `json:"percent" minimum:"0" maximum:"100"`
		} `json:"body"`
	}, error) {
		pct, err := e.TaskProgress(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Percent int `json:"percent" minimum:"0" maximum:"100"`
			} `json:"body"`
		}{}
		out.Body.Percent = pct
		return out, nil
	})
}

func registerBudget(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-budget-lines",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/budget-lines",
		Summary:     "List budget lines of a task",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.BudgetLine `json:"body"`
	}, error) {
		lines, err := e.ListBudgetLines(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.BudgetLine `json:"body"`
		}{Body: lines}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-budget-line",
		Method:        http.MethodPost,
		Path:          "/tasks/{id}/budget-lines",
		Summary:       "Add budget line to a task",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		ID   string      `path:"id"`
		Body LineRequest `json:"body"`
	}) (*struct {
		Body domain.BudgetLine `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		l, err := e.AddBudgetLine(ctx, input.ID, lineInput(input.Body), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.BudgetLine `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-budget-line",
		Method:      http.MethodPatch,
		Path:        "/budget-lines/{id}",
		Summary:     "Update budget line",
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateLineRequest `json:"body"`
	}) (*struct {
		Body domain.BudgetLine `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		l, err := e.UpdateBudgetLine(ctx, input.ID, input.Body.UnitPrice, input.Body.Quantity, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.BudgetLine `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-budget-line",
		Method:        http.MethodDelete,
		Path:          "/budget-lines/{id}",
		Summary:       "Delete budget line",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteBudgetLine(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerBoard(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-board",
		Method:      http.MethodGet,
		Path:        "/projects/{id}/board",
		Summary:     "Kanban board of the project's tasks",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body board.Columns `json:"body"`
	}, error) {
		b := board.New(e, input.ID)
		if err := b.Load(ctx); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body board.Columns `json:"body"`
		}{Body: b.Columns()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "board-move",
		Method:      http.MethodPost,
		Path:        "/projects/{id}/board/move",
		Summary:     "Move a task between board columns",
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body BoardMoveRequest `json:"body"`
	}) (*struct {
		Body board.Columns `json:"body"`
	}, error) {
		b := board.New(e, input.ID)
		if err := b.Load(ctx); err != nil {
			return nil, handleError(err)
		}
		if err := b.Move(ctx, input.Body.TaskID, input.Body.To, input.Body.Force); err != nil && !errors.Is(err, board.ErrSameColumn) {
			return nil, handleError(err)
		}
		return &struct {
			Body board.Columns `json:"body"`
		}{Body: b.Columns()}, nil
	})
}

func registerWorkers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-worker",
		Method:        http.MethodPost,
		Path:          "/workers",
		Summary:       "Create worker",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateWorkerRequest `json:"body"`
	}) (*struct {
		Body domain.Worker `json:"body"`
	}, error) {
		w, err := e.CreateWorker(ctx, engine.WorkerCreateOptions{
			ID:        input.Body.ID,
			Name:      input.Body.Name,
			Firstname: input.Body.Firstname,
			JobID:     input.Body.JobID,
			Photo:     input.Body.Photo,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Worker `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-workers",
		Method:      http.MethodGet,
		Path:        "/workers",
		Summary:     "List workers",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Worker `json:"body"`
	}, error) {
		items, err := e.Repo.ListWorkers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Worker `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-job",
		Method:        http.MethodPost,
		Path:          "/jobs",
		Summary:       "Create metier",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateJobRequest `json:"body"`
	}) (*struct {
		Body domain.Job `json:"body"`
	}, error) {
		j, err := e.CreateJob(ctx, input.Body.ID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Job `json:"body"`
		}{Body: j}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/jobs",
		Summary:     "List metiers",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Job `json:"body"`
	}, error) {
		items, err := e.Repo.ListJobs(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Job `json:"body"`
		}{Body: items}, nil
	})
}

func registerSchedule(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "assign-workers",
		Method:        http.MethodPost,
		Path:          "/tasks/{id}/assignments",
		Summary:       "Assign workers to a task over a date range",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body AssignRequest `json:"body"`
	}) (*struct {
		Body engine.AssignmentResult `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.AssignWorkers(ctx, input.ID, input.Body.WorkerIDs, input.Body.Start, input.Body.End, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.AssignmentResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "cancel-task-assignments",
		Method:        http.MethodDelete,
		Path:          "/tasks/{id}/assignments",
		Summary:       "Cancel every live assignment of a task",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.CancelTaskAssignments(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-schedule",
		Method:      http.MethodGet,
		Path:        "/schedule",
		Summary:     "List schedule entries",
	}, func(ctx context.Context, input *struct {
		TaskID   string `query:"task_id"`
		WorkerID string `query:"worker_id"`
		From     string `query:"from"`
		To       string `query:"to"`
		Status   string `query:"status"`
	}) (*struct {
		Body []domain.ScheduleEntry `json:"body"`
	}, error) {
		items, err := e.ListSchedule(ctx, repo.ScheduleFilter{
			TaskID:   input.TaskID,
			WorkerID: input.WorkerID,
			From:     input.From,
			To:       input.To,
			Status:   input.Status,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ScheduleEntry `json:"body"`
		}{Body: items}, nil
	})

	entryOp := func(opID, path, summary string, fn func(context.Context, string, string) (domain.ScheduleEntry, error)) {
		huma.Register(api, huma.Operation{
			OperationID: opID,
			Method:      http.MethodPost,
			Path:        path,
			Summary:     summary,
		}, func(ctx context.Context, input *struct {
			ID string `path:"id"`
		}) (*struct {
			Body domain.ScheduleEntry `json:"body"`
		}, error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			entry, err := fn(ctx, input.ID, actorID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body domain.ScheduleEntry `json:"body"`
			}{Body: entry}, nil
		})
	}
	entryOp("complete-assignment", "/schedule/{id}/complete", "Mark assignment completed", e.CompleteAssignment)
	entryOp("cancel-assignment", "/schedule/{id}/cancel", "Cancel assignment", e.CancelAssignment)
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Latest events",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit"`
		ProjectID  string `query:"project_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		items, err := e.Repo.LatestEvents(ctx, input.Limit, input.ProjectID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}

func registerInvoices(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-invoice",
		Method:        http.MethodPost,
		Path:          "/invoices",
		Summary:       "Bill a validated quote",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateInvoiceRequest `json:"body"`
	}) (*struct {
		Body domain.Invoice `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		inv, err := e.CreateInvoice(ctx, input.Body.QuoteID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Invoice `json:"body"`
		}{Body: inv}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-invoices",
		Method:      http.MethodGet,
		Path:        "/invoices",
		Summary:     "List invoices",
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
	}) (*struct {
		Body []domain.Invoice `json:"body"`
	}, error) {
		items, err := e.ListInvoices(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Invoice `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-invoice",
		Method:        http.MethodDelete,
		Path:          "/invoices/{id}",
		Summary:       "Delete invoice",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteInvoice(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
