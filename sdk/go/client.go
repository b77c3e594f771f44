// Package batiplansdk is a small HTTP client for the Batiplan API.
package batiplansdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to a Batiplan server. Authentication uses either a
// bearer token or an API key; the bearer token wins when both are set.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Project is the chantier model (partial).
type Project struct {
	ID      string `json:"id"`
	Name    string `json:"nom_projet"`
	Phase   string `json:"phase_projet"`
	Address string `json:"adresse_chantier"`
}

// Quote is the devis model (partial).
type Quote struct {
	ID           string  `json:"id"`
	ProjectID    string  `json:"projet_id"`
	Reference    string  `json:"reference"`
	State        string  `json:"etat_devis"`
	MontantTotal float64 `json:"montant_total"`
}

// Task is the tache model (partial).
type Task struct {
	ID          string  `json:"id"`
	WorkID      string  `json:"ouvrage_id"`
	Name        string  `json:"nom_tache"`
	State       string  `json:"etat_tache"`
	PlannedEnd  *string `json:"date_fin_prevue,omitempty"`
	ActualStart *string `json:"date_debut_reelle,omitempty"`
}

// BudgetTotals is one rollup side, four categories.
type BudgetTotals struct {
	MO            float64 `json:"mo"`
	Materiaux     float64 `json:"materiaux"`
	Materiels     float64 `json:"materiels"`
	SousTraitance float64 `json:"sous_traitance"`
}

// BudgetSummary is the chantier rollup.
type BudgetSummary struct {
	Revenue      float64      `json:"chiffre_affaires"`
	Previsionnel BudgetTotals `json:"previsionnel"`
	Reel         BudgetTotals `json:"reel"`
	Expenses     float64      `json:"depenses"`
}

// BoardColumns groups tasks by state.
type BoardColumns struct {
	Pending    []Task `json:"en_attente"`
	InProgress []Task `json:"en_cours"`
	Done       []Task `json:"termine"`
}

// AssignmentResult reports a bulk assignment, duplicate days are
// skipped rather than failing the whole request.
type AssignmentResult struct {
	Attempted int `json:"attempted"`
	Created   int `json:"created"`
	Skipped   []struct {
		WorkerID string `json:"ouvrier_id"`
		Date     string `json:"date_edt"`
	} `json:"skipped,omitempty"`
}

// Event is a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
}

// APIError wraps non-2xx responses, carrying the server's error
// envelope when it parses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateProject creates a chantier.
func (c *Client) CreateProject(ctx context.Context, name, clientID, address string) (Project, error) {
	body := map[string]any{
		"nom_projet":       name,
		"client_id":        clientID,
		"adresse_chantier": address,
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, "projects", body, &resp)
	return resp, err
}

// GetProject fetches a chantier with its full devis tree.
func (c *Client) GetProject(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, "projects/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// BudgetSummary returns the chantier budget rollup.
func (c *Client) BudgetSummary(ctx context.Context, projectID string) (BudgetSummary, error) {
	var resp BudgetSummary
	err := c.do(ctx, http.MethodGet, "projects/"+url.PathEscape(projectID)+"/budget", nil, &resp)
	return resp, err
}

// CreateQuote creates a devis; pass a nil works slice for an empty one.
func (c *Client) CreateQuote(ctx context.Context, projectID, reference string, works any) (Quote, error) {
	body := map[string]any{
		"projet_id": projectID,
		"reference": reference,
	}
	if works != nil {
		body["ouvrages"] = works
	}
	var resp Quote
	err := c.do(ctx, http.MethodPost, "quotes", body, &resp)
	return resp, err
}

// ValidateQuote validates a devis, advancing the chantier phase.
func (c *Client) ValidateQuote(ctx context.Context, id string) (Quote, error) {
	var resp Quote
	err := c.do(ctx, http.MethodPost, "quotes/"+url.PathEscape(id)+"/validate", nil, &resp)
	return resp, err
}

// RefuseQuote refuses a devis.
func (c *Client) RefuseQuote(ctx context.Context, id string) (Quote, error) {
	var resp Quote
	err := c.do(ctx, http.MethodPost, "quotes/"+url.PathEscape(id)+"/refuse", nil, &resp)
	return resp, err
}

// MoveTask moves a tache between kanban states.
func (c *Client) MoveTask(ctx context.Context, taskID, to string, force bool) (Task, error) {
	body := map[string]any{"to": to, "force": force}
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks/"+url.PathEscape(taskID)+"/move", body, &resp)
	return resp, err
}

// PlanTask slices a tache into daily sessions inside the business window.
func (c *Client) PlanTask(ctx context.Context, taskID string, start, end time.Time) (Task, error) {
	body := map[string]any{"debut": start, "fin": end}
	var resp struct {
		Task Task `json:"tache"`
	}
	err := c.do(ctx, http.MethodPost, "tasks/"+url.PathEscape(taskID)+"/plan", body, &resp)
	return resp.Task, err
}

// TaskProgress returns the estimated completion percent.
func (c *Client) TaskProgress(ctx context.Context, taskID string) (int, error) {
	var resp struct {
		Percent int `json:"percent"`
	}
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(taskID)+"/progress", nil, &resp)
	return resp.Percent, err
}

// Board returns the chantier kanban columns.
func (c *Client) Board(ctx context.Context, projectID string) (BoardColumns, error) {
	var resp BoardColumns
	err := c.do(ctx, http.MethodGet, "projects/"+url.PathEscape(projectID)+"/board", nil, &resp)
	return resp, err
}

// AssignWorkers assigns ouvriers to a tache over a date range.
func (c *Client) AssignWorkers(ctx context.Context, taskID string, workerIDs []string, start, end time.Time) (AssignmentResult, error) {
	body := map[string]any{
		"ouvrier_ids": workerIDs,
		"debut":       start,
		"fin":         end,
	}
	var resp AssignmentResult
	err := c.do(ctx, http.MethodPost, "tasks/"+url.PathEscape(taskID)+"/assignments", body, &resp)
	return resp, err
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "events"
	if limit > 0 {
		endpoint = fmt.Sprintf("events?limit=%d", limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
