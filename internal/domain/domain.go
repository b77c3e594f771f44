package domain

// Project phases, in order. Phase moves forward when a quote is
// validated and backward when it is reverted.
const (
	PhaseDevis       = "devis"
	PhasePreparation = "preparation"
	PhaseRealisation = "realisation"
)

// Quote states.
const (
	QuotePending   = "en attente"
	QuoteValidated = "validé"
	QuoteRefused   = "refusé"
)

// Task states.
const (
	TaskPending    = "en attente"
	TaskInProgress = "en cours"
	TaskDone       = "termine"
)

// Schedule entry statuses.
const (
	EntryAssigned  = "assigned"
	EntryCompleted = "completed"
	EntryCancelled = "cancelled"
)

type Project struct {
	ID        string   `json:"id"`
	Name      string   `json:"nom_projet"`
	ClientID  *string  `json:"client_id,omitempty"`
	Address   string   `json:"adresse_chantier,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Phase     string   `json:"phase_projet" enum:"devis,preparation,realisation"`
	CreatedAt string   `json:"created_at" format:"date-time"`
	Quotes    []Quote  `json:"devis,omitempty"`
}

type Client struct {
	ID        string `json:"id"`
	Name      string `json:"nom_client"`
	Email     string `json:"email,omitempty"`
	Contact   string `json:"contact_client,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Quote struct {
	ID           string  `json:"id"`
	ProjectID    string  `json:"projet_id"`
	Reference    string  `json:"reference,omitempty"`
	State        string  `json:"etat_devis" enum:"en attente,validé,refusé"`
	MontantTotal float64 `json:"montant_total"`
	CreatedAt    string  `json:"date_creation" format:"date-time"`
	Works        []Work  `json:"ouvrages,omitempty"`
}

// Invoice (facture) is billed from a validated quote. The amount is a
// snapshot taken at creation; later quote changes do not touch it.
type Invoice struct {
	ID           string  `json:"id"`
	ProjectID    string  `json:"projet_id"`
	QuoteID      *string `json:"devis_id,omitempty"`
	Reference    string  `json:"reference"`
	MontantTotal float64 `json:"montant_total"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

type Work struct {
	ID          string `json:"id"`
	QuoteID     string `json:"devis_id"`
	Name        string `json:"nom_ouvrage"`
	Description string `json:"description_ouvrage,omitempty"`
	Position    int    `json:"position"`
	Tasks       []Task `json:"taches,omitempty"`
}

type Task struct {
	ID                 string       `json:"id"`
	WorkID             string       `json:"ouvrage_id"`
	Name               string       `json:"nom_tache"`
	Description        string       `json:"description_tache,omitempty"`
	State              string       `json:"etat_tache" enum:"en attente,en cours,termine"`
	PlannedStart       *string      `json:"date_debut_prevue,omitempty" format:"date"`
	PlannedEnd         *string      `json:"date_fin_prevue,omitempty" format:"date"`
	ActualStart        *string      `json:"date_debut_reelle,omitempty" format:"date"`
	ActualEnd          *string      `json:"date_fin_reelle,omitempty" format:"date"`
	BudgetPrevisionnel BudgetTotals `json:"budget_previsionnel"`
	BudgetReel         BudgetTotals `json:"budget_reel"`
}

// BudgetTotals is the per-task cached rollup of budget lines, one
// subtotal per category. It is always derived, never edited directly.
type BudgetTotals struct {
	MO            float64 `json:"mo"`
	Materiaux     float64 `json:"materiaux"`
	Materiels     float64 `json:"materiels"`
	SousTraitance float64 `json:"sous_traitance"`
}

func (b BudgetTotals) Total() float64 {
	return b.MO + b.Materiaux + b.Materiels + b.SousTraitance
}

func (b BudgetTotals) Add(o BudgetTotals) BudgetTotals {
	return BudgetTotals{
		MO:            b.MO + o.MO,
		Materiaux:     b.Materiaux + o.Materiaux,
		Materiels:     b.Materiels + o.Materiels,
		SousTraitance: b.SousTraitance + o.SousTraitance,
	}
}

// Budget line kinds.
const (
	BudgetPrevisionnel = "previsionnel"
	BudgetReel         = "reel"
)

type BudgetLine struct {
	ID        string  `json:"id"`
	TaskID    string  `json:"tache_id"`
	Kind      string  `json:"type" enum:"previsionnel,reel"`
	Category  string  `json:"categorie" enum:"mo,materiaux,materiels,sous_traitance"`
	UnitPrice float64 `json:"prix_unitaire"`
	Quantity  float64 `json:"quantite"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

// Amount is the line total, unit price times quantity.
func (l BudgetLine) Amount() float64 { return l.UnitPrice * l.Quantity }

type ScheduleEntry struct {
	ID        string `json:"id"`
	TaskID    string `json:"tache_id"`
	WorkerID  string `json:"ouvrier_id"`
	Date      string `json:"date_edt" format:"date"`
	StartTime string `json:"heure_debut"`
	EndTime   string `json:"heure_fin"`
	Status    string `json:"status" enum:"assigned,completed,cancelled"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Worker struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Firstname string  `json:"firstname"`
	JobID     *string `json:"job_id,omitempty"`
	Photo     string  `json:"photo,omitempty"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type Job struct {
	ID        string `json:"id"`
	Name      string `json:"nom_metier"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// ValidatedQuote returns the project's validated quote, if any. At
// most one quote per project may be validated at a time.
func (p Project) ValidatedQuote() *Quote {
	for i := range p.Quotes {
		if p.Quotes[i].State == QuoteValidated {
			return &p.Quotes[i]
		}
	}
	return nil
}
