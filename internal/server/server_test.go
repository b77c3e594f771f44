package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"batiplan/internal/config"
	"batiplan/internal/db"
	"batiplan/internal/domain"
	"batiplan/internal/engine"
	"batiplan/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Close() { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("chantier-1")
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

var authHeaders = map[string]string{"X-Actor-Id": "tester"}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestHealthNeedsNoAuth(t *testing.T) {
	ts := newTestServer(t)
	res, _ := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health = %d", res.StatusCode)
	}
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	ts := newTestServer(t)
	res, body := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/projects", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d body=%s", res.StatusCode, body)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, body)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("code = %q", envelope.Error.Code)
	}
}

func TestQuoteLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	res, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/projects", CreateProjectRequest{Name: "Villa Roc"}, authHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project = %d body=%s", res.StatusCode, body)
	}
	var p domain.Project
	if err := json.Unmarshal(body, &p); err != nil {
		t.Fatalf("decode project: %v", err)
	}
	if p.Phase != domain.PhaseDevis {
		t.Fatalf("phase = %q", p.Phase)
	}

	res, body = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/quotes", CreateQuoteRequest{
		ProjectID: p.ID,
		Works: []WorkRequest{{
			Name: "Gros oeuvre",
			Tasks: []TaskRequest{{
				Name:  "Fondations",
				Lines: []LineRequest{{Kind: "previsionnel", Category: "mo", UnitPrice: 100, Quantity: 10}},
			}},
		}},
	}, authHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create quote = %d body=%s", res.StatusCode, body)
	}
	var q domain.Quote
	if err := json.Unmarshal(body, &q); err != nil {
		t.Fatalf("decode quote: %v", err)
	}
	if q.MontantTotal != 1000 {
		t.Fatalf("montant_total = %g", q.MontantTotal)
	}

	res, body = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/quotes/"+q.ID+"/validate", nil, authHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("validate = %d body=%s", res.StatusCode, body)
	}

	res, body = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/projects/"+p.ID, nil, authHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get project = %d", res.StatusCode)
	}
	if err := json.Unmarshal(body, &p); err != nil {
		t.Fatalf("decode project: %v", err)
	}
	if p.Phase != domain.PhasePreparation {
		t.Fatalf("phase after validation = %q", p.Phase)
	}

	// Structural edits are rejected with the conflict envelope.
	res, body = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/quotes/"+q.ID+"/works",
		CreateWorkRequest{Name: "Second oeuvre"}, authHeaders)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("add work to validated quote = %d body=%s", res.StatusCode, body)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, body)
	}
	if envelope.Error.Code != "quote_locked" {
		t.Fatalf("code = %q", envelope.Error.Code)
	}

	res, body = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/projects/"+p.ID+"/budget", nil, authHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("budget = %d", res.StatusCode)
	}
	var sum struct {
		Revenue float64 `json:"chiffre_affaires"`
	}
	if err := json.Unmarshal(body, &sum); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if sum.Revenue != 1000 {
		t.Fatalf("revenue = %g", sum.Revenue)
	}

	// A validated devis can be billed.
	res, body = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/invoices",
		CreateInvoiceRequest{QuoteID: q.ID}, authHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create invoice = %d body=%s", res.StatusCode, body)
	}
	var inv domain.Invoice
	if err := json.Unmarshal(body, &inv); err != nil {
		t.Fatalf("decode invoice: %v", err)
	}
	if inv.Reference != "F-0001" || inv.MontantTotal != 1000 {
		t.Fatalf("invoice = %+v", inv)
	}
}

func TestBoardMoveOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	_, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/projects", CreateProjectRequest{Name: "Hangar"}, authHeaders)
	var p domain.Project
	if err := json.Unmarshal(body, &p); err != nil {
		t.Fatal(err)
	}
	_, body = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/quotes", CreateQuoteRequest{
		ProjectID: p.ID,
		Works:     []WorkRequest{{Name: "Charpente", Tasks: []TaskRequest{{Name: "Pose"}}}},
	}, authHeaders)
	var q domain.Quote
	if err := json.Unmarshal(body, &q); err != nil {
		t.Fatal(err)
	}
	_, body = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/quotes/"+q.ID, nil, authHeaders)
	if err := json.Unmarshal(body, &q); err != nil {
		t.Fatal(err)
	}
	taskID := q.Works[0].Tasks[0].ID

	res, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/projects/"+p.ID+"/board/move",
		BoardMoveRequest{TaskID: taskID, To: domain.TaskInProgress}, authHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("board move = %d body=%s", res.StatusCode, body)
	}
	var cols struct {
		InProgress []domain.Task `json:"en_cours"`
	}
	if err := json.Unmarshal(body, &cols); err != nil {
		t.Fatal(err)
	}
	if len(cols.InProgress) != 1 || cols.InProgress[0].ID != taskID {
		t.Fatalf("board after move = %s", body)
	}

	// Skipping straight to termine is an invalid transition.
	res, body = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/projects/"+p.ID+"/board/move",
		BoardMoveRequest{TaskID: taskID, To: domain.TaskDone, Force: false}, authHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("move to termine from en cours = %d body=%s", res.StatusCode, body)
	}
	res, _ = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/projects/"+p.ID+"/board/move",
		BoardMoveRequest{TaskID: taskID, To: domain.TaskInProgress}, authHeaders)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("leave termine without force = %d", res.StatusCode)
	}
}

func TestAssignmentsSkipDuplicatesOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	_, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/projects", CreateProjectRequest{Name: "Pont"}, authHeaders)
	var p domain.Project
	if err := json.Unmarshal(body, &p); err != nil {
		t.Fatal(err)
	}
	_, body = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/quotes", CreateQuoteRequest{
		ProjectID: p.ID,
		Works:     []WorkRequest{{Name: "Tablier", Tasks: []TaskRequest{{Name: "Coulage"}, {Name: "Ferraillage"}}}},
	}, authHeaders)
	var q domain.Quote
	if err := json.Unmarshal(body, &q); err != nil {
		t.Fatal(err)
	}
	_, body = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/quotes/"+q.ID, nil, authHeaders)
	if err := json.Unmarshal(body, &q); err != nil {
		t.Fatal(err)
	}
	task1 := q.Works[0].Tasks[0].ID
	task2 := q.Works[0].Tasks[1].ID

	_, body = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/workers",
		CreateWorkerRequest{Name: "Martin", Firstname: "Paul"}, authHeaders)
	var worker domain.Worker
	if err := json.Unmarshal(body, &worker); err != nil {
		t.Fatal(err)
	}

	assign := AssignRequest{
		WorkerIDs: []string{worker.ID},
		Start:     time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC),
		End:       time.Date(2024, 6, 11, 18, 0, 0, 0, time.UTC),
	}
	res, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/tasks/"+task1+"/assignments", assign, authHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("assign = %d body=%s", res.StatusCode, body)
	}
	var result engine.AssignmentResult
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatal(err)
	}
	if result.Created != 2 {
		t.Fatalf("created = %d", result.Created)
	}

	res, body = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/tasks/"+task2+"/assignments", assign, authHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("second assign = %d body=%s", res.StatusCode, body)
	}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatal(err)
	}
	if result.Created != 0 || len(result.Skipped) != 2 {
		t.Fatalf("duplicate batch = %+v", result)
	}
}
