package server

import (
	"time"

	"batiplan/internal/engine"
)

type CreateProjectRequest struct {
	ID        string   `json:"id,omitempty"`
	Name      string   `json:"nom_projet" minLength:"1"`
	ClientID  string   `json:"client_id,omitempty"`
	Address   string   `json:"adresse_chantier,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

type UpdateProjectRequest struct {
	Name    *string `json:"nom_projet,omitempty"`
	Address *string `json:"adresse_chantier,omitempty"`
}

type CreateClientRequest struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"nom_client" minLength:"1"`
	Email   string `json:"email,omitempty"`
	Contact string `json:"contact_client,omitempty"`
}

type LineRequest struct {
	Kind      string  `json:"type" enum:"previsionnel,reel"`
	Category  string  `json:"categorie"`
	UnitPrice float64 `json:"prix_unitaire" minimum:"0"`
	Quantity  float64 `json:"quantite" minimum:"1"`
}

type TaskRequest struct {
	Name        string        `json:"nom_tache" minLength:"1"`
	Description string        `json:"description_tache,omitempty"`
	Lines       []LineRequest `json:"lignes,omitempty"`
}

type WorkRequest struct {
	Name        string        `json:"nom_ouvrage" minLength:"1"`
	Description string        `json:"description_ouvrage,omitempty"`
	Tasks       []TaskRequest `json:"taches,omitempty"`
}

type CreateQuoteRequest struct {
	ID        string        `json:"id,omitempty"`
	ProjectID string        `json:"projet_id" minLength:"1"`
	Reference string        `json:"reference,omitempty"`
	Works     []WorkRequest `json:"ouvrages,omitempty"`
}

type UpdateQuoteRequest struct {
	Reference *string `json:"reference,omitempty"`
}

type ReplaceWorksRequest struct {
	Works []WorkRequest `json:"ouvrages"`
}

type CreateWorkRequest struct {
	Name        string `json:"nom_ouvrage" minLength:"1"`
	Description string `json:"description_ouvrage,omitempty"`
}

type UpdateWorkRequest struct {
	Name        *string `json:"nom_ouvrage,omitempty"`
	Description *string `json:"description_ouvrage,omitempty"`
	Position    *int    `json:"position,omitempty"`
}

type CreateTaskRequest struct {
	Name        string `json:"nom_tache" minLength:"1"`
	Description string `json:"description_tache,omitempty"`
}

type UpdateTaskRequest struct {
	Name        *string `json:"nom_tache,omitempty"`
	Description *string `json:"description_tache,omitempty"`
}

type PlanTaskRequest struct {
	Start time.Time `json:"debut"`
	End   time.Time `json:"fin"`
}

type ExecuteTaskRequest struct {
	ActualStart *string `json:"date_debut_reelle,omitempty"`
	ActualEnd   *string `json:"date_fin_reelle,omitempty"`
}

type MoveTaskRequest struct {
	To    string `json:"to" enum:"en attente,en cours,termine"`
	Force bool   `json:"force,omitempty"`
}

type UpdateLineRequest struct {
	UnitPrice *float64 `json:"prix_unitaire,omitempty"`
	Quantity  *float64 `json:"quantite,omitempty"`
}

type CreateInvoiceRequest struct {
	QuoteID string `json:"devis_id" minLength:"1"`
}

type CreateWorkerRequest struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name" minLength:"1"`
	Firstname string `json:"firstname" minLength:"1"`
	JobID     string `json:"job_id,omitempty"`
	Photo     string `json:"photo,omitempty"`
}

type CreateJobRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"nom_metier" minLength:"1"`
}

type AssignRequest struct {
	WorkerIDs []string  `json:"ouvrier_ids" minItems:"1"`
	Start     time.Time `json:"debut"`
	End       time.Time `json:"fin"`
}

type BoardMoveRequest struct {
	TaskID string `json:"tache_id" minLength:"1"`
	To     string `json:"to" enum:"en attente,en cours,termine"`
	Force  bool   `json:"force,omitempty"`
}

func lineInput(r LineRequest) engine.LineInput {
	return engine.LineInput{
		Kind:      r.Kind,
		Category:  r.Category,
		UnitPrice: r.UnitPrice,
		Quantity:  r.Quantity,
	}
}

func workInputs(reqs []WorkRequest) []engine.WorkInput {
	var out []engine.WorkInput
	for _, wr := range reqs {
		wi := engine.WorkInput{Name: wr.Name, Description: wr.Description}
		for _, tr := range wr.Tasks {
			ti := engine.TaskInput{Name: tr.Name, Description: tr.Description}
			for _, lr := range tr.Lines {
				ti.Lines = append(ti.Lines, lineInput(lr))
			}
			wi.Tasks = append(wi.Tasks, ti)
		}
		out = append(out, wi)
	}
	return out
}
