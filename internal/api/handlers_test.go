package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jobboard/jobboard/internal/apply"
	"github.com/jobboard/jobboard/internal/board"
	"github.com/jobboard/jobboard/internal/config"
	"github.com/jobboard/jobboard/internal/job"
	"github.com/jobboard/jobboard/internal/journal"
	"github.com/jobboard/jobboard/internal/portal"
	"github.com/jobboard/jobboard/internal/refresh"
)

const testSecret = "test-secret"

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fixture struct {
	router  http.Handler
	board   *board.Board
	tracker *apply.Tracker
	catalog *portal.Catalog
}

func seedJobs() []job.Job {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return []job.Job{
		{ID: "j1", Title: "Go Developer", Location: "Berlin", Industry: "Tech", Salary: job.NewSalary(5000), CreatedAt: base, Company: &job.Company{Name: "Acme"}},
		{ID: "j2", Title: "Product Designer", Location: "Paris", Industry: "Design", Salary: job.NewSalary(3000), CreatedAt: base.Add(time.Hour), Company: &job.Company{Name: "Studio"}},
		{ID: "j3", Title: "Remote Engineer", Location: "Berlin", Industry: "Tech", Salary: job.NewSalary(7000), CreatedAt: base.Add(2 * time.Hour), Company: &job.Company{Name: "Initech"}},
	}
}

func newFixture(t *testing.T, journalReader HistoryReader) *fixture {
	t.Helper()
	ctx := context.Background()

	cat, err := portal.OpenCatalog(t.TempDir(), quiet)
	if err != nil {
		t.Fatalf("OpenCatalog: %v", err)
	}
	t.Cleanup(func() { cat.Close() })
	if _, err := cat.Import(ctx, seedJobs()); err != nil {
		t.Fatalf("Import: %v", err)
	}

	store := job.NewStore()
	tracker := apply.NewTracker(store, quiet)
	b := board.New(store, tracker, quiet)
	t.Cleanup(b.Close)

	poller := refresh.New(cat, b, 0, quiet)
	if _, err := poller.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	cfg := &config.Config{
		JWTSecret: testSecret,
		QuickTags: []string{"Developer", "Designer", "Remote"},
		Portal:    config.PortalConfig{Mode: config.PortalLocal},
	}
	router, err := NewRouter(Deps{
		Config:   cfg,
		Board:    b,
		Tracker:  tracker,
		Portal:   cat,
		Poller:   poller,
		Logger:   quiet,
		Journal:  journalReader,
		Catalog:  cat,
		Recorder: cat,
	})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return &fixture{router: router, board: b, tracker: tracker, catalog: cat}
}

func token(t *testing.T, applicant, role string) string {
	t.Helper()
	tok, err := IssueToken(testSecret, applicant, role, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	return "Bearer " + tok
}

func (f *fixture) do(t *testing.T, method, target, auth string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func applyForm(t *testing.T, fullName string, cv []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("fullName", fullName)
	mw.WriteField("email", "ada@example.com")
	mw.WriteField("phone", "+49 30 1234")
	if cv != nil {
		fw, err := mw.CreateFormFile("cv", "ada.pdf")
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(cv)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, "GET", "/health", "", nil, "")
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var resp map[string]string
	decode(t, w, &resp)
	if resp["status"] != "healthy" {
		t.Errorf("expected healthy, got %s", resp["status"])
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, "GET", "/stats", "", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]any
	decode(t, w, &resp)
	b := resp["board"].(map[string]any)
	if b["jobs"].(float64) != 3 {
		t.Errorf("expected 3 jobs, got %v", b["jobs"])
	}
}

func TestListJobs(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		query string
		want  []string
		code  int
	}{
		{"", []string{"j3", "j2", "j1"}, http.StatusOK},
		{"?location=Berlin", []string{"j3", "j1"}, http.StatusOK},
		{"?location=Berlin&salary_min=6000&salary_max=8000", []string{"j3"}, http.StatusOK},
		{"?q=designer", []string{"j2"}, http.StatusOK},
		{"?salary_min=10", nil, http.StatusBadRequest},
		{"?salary_min=9&salary_max=1", nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := f.do(t, "GET", "/api/jobs"+tt.query, "", nil, "")
			if w.Code != tt.code {
				t.Fatalf("expected %d, got %d: %s", tt.code, w.Code, w.Body.String())
			}
			if tt.code != http.StatusOK {
				return
			}
			var resp struct {
				Jobs  []job.Job `json:"jobs"`
				Total int       `json:"total"`
			}
			decode(t, w, &resp)
			var got []string
			for _, j := range resp.Jobs {
				got = append(got, j.ID)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
			if resp.Total != 3 {
				t.Errorf("expected total 3, got %d", resp.Total)
			}
		})
	}

	// listing never touches the shared view
	if v := f.board.View(); len(v.Jobs) != 3 || v.Spec.SearchQuery != "" {
		t.Errorf("board view changed: %+v", v.Spec)
	}
}

func TestApplyFlow(t *testing.T) {
	f := newFixture(t, nil)
	ada := token(t, "ada", RoleApplicant)
	admin := token(t, "root", RoleAdmin)

	body, ct := applyForm(t, "Ada Lovelace", []byte("%PDF-1.4 cv"))
	w := f.do(t, "POST", "/api/jobs/j1/apply", "", body, ct)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	body, ct = applyForm(t, "Ada Lovelace", []byte("%PDF-1.4 cv"))
	w = f.do(t, "POST", "/api/jobs/j1/apply", ada, body, ct)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var applied struct {
		Record job.ApplicationRecord `json:"record"`
		State  struct {
			Kind   string `json:"kind"`
			Status string `json:"status"`
		} `json:"state"`
	}
	decode(t, w, &applied)
	if applied.State.Kind != "confirmed" || applied.State.Status != "pending" {
		t.Errorf("unexpected state %+v", applied.State)
	}
	if applied.Record.ID == "" || strings.HasPrefix(applied.Record.ID, "local-") {
		t.Errorf("expected server record id, got %q", applied.Record.ID)
	}

	body, ct = applyForm(t, "Ada Lovelace", nil)
	w = f.do(t, "POST", "/api/jobs/j1/apply", ada, body, ct)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 on second apply, got %d", w.Code)
	}

	w = f.do(t, "GET", "/api/jobs/j1", ada, nil, "")
	var detail map[string]any
	decode(t, w, &detail)
	if detail["applied"] != true {
		t.Errorf("expected applied flag, got %v", detail["applied"])
	}
	w = f.do(t, "GET", "/api/jobs/j1", "", nil, "")
	detail = nil
	decode(t, w, &detail)
	if _, ok := detail["applied"]; ok {
		t.Error("anonymous request should not carry an applied flag")
	}

	w = f.do(t, "GET", "/api/me/applications", ada, nil, "")
	var mine struct {
		Applications []apply.AppliedJob `json:"applications"`
	}
	decode(t, w, &mine)
	if len(mine.Applications) != 1 || mine.Applications[0].Job.ID != "j1" {
		t.Fatalf("unexpected applications %+v", mine.Applications)
	}

	statusBody := `{"status":"accepted"}`
	w = f.do(t, "POST", "/api/jobs/j1/applications/ada/status", ada, strings.NewReader(statusBody), "application/json")
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for applicant, got %d", w.Code)
	}
	w = f.do(t, "POST", "/api/jobs/j1/applications/ada/status", admin, strings.NewReader(statusBody), "application/json")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	st, err := f.tracker.State("j1", "ada")
	if err != nil || st.Status != job.StatusAccepted {
		t.Fatalf("expected accepted, got %v (%v)", st, err)
	}

	// the decision survives a refetch from the catalog
	w = f.do(t, "POST", "/api/refresh", admin, nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("refresh: %d", w.Code)
	}
	if st, _ := f.tracker.State("j1", "ada"); st.Status != job.StatusAccepted {
		t.Errorf("status lost after refresh: %v", st)
	}

	data, name, err := f.catalog.CV("j1", "ada")
	if err != nil || name != "ada.pdf" || !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Errorf("cv not stored: %q %v", name, err)
	}
	w = f.do(t, "GET", "/api/admin/jobs/j1/applications/ada/cv", admin, nil, "")
	if w.Code != http.StatusOK || !bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF")) {
		t.Errorf("cv download failed: %d", w.Code)
	}
}

func TestApplyErrors(t *testing.T) {
	f := newFixture(t, nil)
	ada := token(t, "ada", RoleApplicant)

	body, ct := applyForm(t, "Ada", nil)
	w := f.do(t, "POST", "/api/jobs/missing/apply", ada, body, ct)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}

	body, ct = applyForm(t, "", nil)
	w = f.do(t, "POST", "/api/jobs/j1/apply", ada, body, ct)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without a name, got %d", w.Code)
	}

	bad := "Bearer " + strings.Repeat("x", 20)
	w = f.do(t, "GET", "/api/me/applications", bad, nil, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for a bad token, got %d", w.Code)
	}
	if f.tracker.InFlight() != 0 {
		t.Errorf("expected nothing in flight, got %d", f.tracker.InFlight())
	}
}

func TestViewSpec(t *testing.T) {
	f := newFixture(t, nil)
	admin := token(t, "root", RoleAdmin)

	w := f.do(t, "PUT", "/api/view/spec", admin, strings.NewReader(`{"locations":["Berlin"]}`), "application/json")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var v board.View
	decode(t, w, &v)
	if len(v.Jobs) != 2 {
		t.Fatalf("expected 2 Berlin jobs, got %d", len(v.Jobs))
	}

	w = f.do(t, "PUT", "/api/view/spec", admin, strings.NewReader(`{"salaryRange":{"min":5,"max":1}}`), "application/json")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if got := f.board.Spec(); len(got.Locations) != 1 || got.SalaryRange != nil {
		t.Errorf("invalid spec should leave the previous one, got %+v", got)
	}

	w = f.do(t, "POST", "/api/view/tags/remote", admin, nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	decode(t, w, &v)
	if v.Spec.SearchQuery != "Remote" || len(v.Jobs) != 1 || v.Jobs[0].ID != "j3" {
		t.Errorf("unexpected view after tag: %+v", v.Spec)
	}

	w = f.do(t, "POST", "/api/view/tags/sales", admin, nil, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown tag, got %d", w.Code)
	}

	w = f.do(t, "PATCH", "/api/view/spec?location=", admin, nil, "")
	decode(t, w, &v)
	if len(v.Spec.Locations) != 0 || v.Spec.SearchQuery != "Remote" {
		t.Errorf("patch should clear only locations: %+v", v.Spec)
	}

	w = f.do(t, "DELETE", "/api/view/search", admin, nil, "")
	decode(t, w, &v)
	if v.Spec.SearchQuery != "" || len(v.Jobs) != 3 {
		t.Errorf("clear search: %+v", v.Spec)
	}
}

func TestViewMutationsNeedAdmin(t *testing.T) {
	f := newFixture(t, nil)
	ada := token(t, "ada", RoleApplicant)
	before := f.board.View().Version

	tests := []struct {
		method, target, body string
	}{
		{"PUT", "/api/view/spec", `{"locations":["Berlin"]}`},
		{"PATCH", "/api/view/spec?location=Berlin", ""},
		{"POST", "/api/view/search", `{"query":"go"}`},
		{"DELETE", "/api/view/search", ""},
		{"POST", "/api/view/tags/remote", ""},
		{"POST", "/api/refresh", ""},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			if w := f.do(t, tt.method, tt.target, "", strings.NewReader(tt.body), "application/json"); w.Code != http.StatusUnauthorized {
				t.Errorf("anonymous: expected 401, got %d", w.Code)
			}
			if w := f.do(t, tt.method, tt.target, ada, strings.NewReader(tt.body), "application/json"); w.Code != http.StatusForbidden {
				t.Errorf("applicant: expected 403, got %d", w.Code)
			}
		})
	}

	if f.board.View().Version != before {
		t.Error("rejected requests changed the board")
	}
	if w := f.do(t, "GET", "/api/view", "", nil, ""); w.Code != http.StatusOK {
		t.Errorf("reading the view should stay public, got %d", w.Code)
	}
}

func TestPreviewDoesNotCommit(t *testing.T) {
	f := newFixture(t, nil)
	before := f.board.View().Version

	w := f.do(t, "POST", "/api/view/preview", "", strings.NewReader(`{"query":"acme"}`), "application/json")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Jobs []job.Job `json:"jobs"`
	}
	decode(t, w, &resp)
	if len(resp.Jobs) != 1 || resp.Jobs[0].ID != "j1" {
		t.Errorf("unexpected preview %+v", resp.Jobs)
	}
	if f.board.View().Version != before {
		t.Error("preview must not change the board")
	}
}

func TestReplaceSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	admin := token(t, "root", RoleAdmin)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"missing id", `{"jobs":[{"title":"x"}]}`, http.StatusBadRequest},
		{"bad status", `{"jobs":[{"_id":"a","applications":[{"applicant":"u","status":"maybe"}]}]}`, http.StatusBadRequest},
		{"not json", `{`, http.StatusBadRequest},
		{"duplicate ids", `{"jobs":[{"_id":"a"},{"_id":"a"}]}`, http.StatusBadRequest},
		{"applicant twice", `{"jobs":[{"_id":"a","applications":[{"applicant":"u2","status":"pending"},{"applicant":"u2","status":"accepted"}]}]}`, http.StatusBadRequest},
		{"ok", `{"jobs":[{"_id":"a","title":"Alpha","salary":"1200"},{"_id":"b","salary":null}]}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, "PUT", "/api/snapshot", admin, strings.NewReader(tt.body), "application/json")
			if w.Code != tt.code {
				t.Fatalf("expected %d, got %d: %s", tt.code, w.Code, w.Body.String())
			}
		})
	}

	if v := f.board.View(); v.Total != 2 {
		t.Errorf("expected 2 jobs after replace, got %d", v.Total)
	}

	w := f.do(t, "PUT", "/api/snapshot", token(t, "ada", RoleApplicant), strings.NewReader(`{"jobs":[]}`), "application/json")
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for applicant, got %d", w.Code)
	}
}

func TestAdminJobs(t *testing.T) {
	f := newFixture(t, nil)
	admin := token(t, "root", RoleAdmin)

	w := f.do(t, "GET", "/api/admin/jobs?text=studio", admin, nil, "")
	var resp struct {
		Jobs  []job.Job `json:"jobs"`
		Total int       `json:"total"`
	}
	decode(t, w, &resp)
	if resp.Total != 1 || resp.Jobs[0].ID != "j2" {
		t.Fatalf("unexpected admin search %+v", resp)
	}

	w = f.do(t, "POST", "/api/admin/jobs", admin, strings.NewReader(`{"_id":"j4","title":"Data Engineer","location":"Lisbon"}`), "application/json")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if f.board.View().Total != 4 {
		t.Errorf("new job should be on the board, total %d", f.board.View().Total)
	}

	w = f.do(t, "DELETE", "/api/admin/jobs/j4", admin, nil, "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	w = f.do(t, "DELETE", "/api/admin/jobs/j4", admin, nil, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 on second delete, got %d", w.Code)
	}
	if f.board.View().Total != 3 {
		t.Errorf("deleted job still on the board")
	}
}

type fakeHistory struct {
	entries []journal.Entry
	asked   string
}

func (h *fakeHistory) ForJob(_ context.Context, jobID string) ([]journal.Entry, error) {
	var out []journal.Entry
	for i := len(h.entries) - 1; i >= 0; i-- {
		if h.entries[i].JobID == jobID {
			out = append(out, h.entries[i])
		}
	}
	return out, nil
}

func (h *fakeHistory) History(_ context.Context, applicantID string, limit int) ([]journal.Entry, error) {
	h.asked = applicantID
	if limit < len(h.entries) {
		return h.entries[:limit], nil
	}
	return h.entries, nil
}

func TestMyHistory(t *testing.T) {
	f := newFixture(t, nil)
	ada := token(t, "ada", RoleApplicant)
	if w := f.do(t, "GET", "/api/me/history", ada, nil, ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without a journal, got %d", w.Code)
	}

	hist := &fakeHistory{entries: []journal.Entry{
		{ID: 2, Kind: apply.EventConfirmed, JobID: "j1", ApplicantID: "ada"},
		{ID: 1, Kind: apply.EventApplied, JobID: "j1", ApplicantID: "ada"},
	}}
	f = newFixture(t, hist)
	w := f.do(t, "GET", "/api/me/history?limit=1", ada, nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Events []journal.Entry `json:"events"`
	}
	decode(t, w, &resp)
	if hist.asked != "ada" || len(resp.Events) != 1 || resp.Events[0].Kind != apply.EventConfirmed {
		t.Errorf("unexpected history %+v (asked %q)", resp.Events, hist.asked)
	}
}

func TestAdminJobHistory(t *testing.T) {
	hist := &fakeHistory{entries: []journal.Entry{
		{ID: 2, Kind: apply.EventConfirmed, JobID: "j1", ApplicantID: "ada"},
		{ID: 1, Kind: apply.EventApplied, JobID: "j1", ApplicantID: "ada"},
	}}
	f := newFixture(t, hist)
	admin := token(t, "root", RoleAdmin)

	w := f.do(t, "GET", "/api/admin/jobs/j1/history", admin, nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Events []journal.Entry `json:"events"`
	}
	decode(t, w, &resp)
	if len(resp.Events) != 2 || resp.Events[0].Kind != apply.EventApplied {
		t.Errorf("unexpected job history %+v", resp.Events)
	}

	if w := f.do(t, "GET", "/api/admin/jobs/nope/history", admin, nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown job, got %d", w.Code)
	}
	if w := f.do(t, "GET", "/api/admin/jobs/j1/history", token(t, "ada", RoleApplicant), nil, ""); w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for applicant, got %d", w.Code)
	}
}

func TestHeaderIdentityWithoutSecret(t *testing.T) {
	a := authenticator{}
	req := httptest.NewRequest("GET", "/", nil)
	if _, err := a.identify(req); err == nil {
		t.Fatal("expected error without header")
	}
	req.Header.Set(HeaderApplicant, "ada")
	id, err := a.identify(req)
	if err != nil || id.ApplicantID != "ada" {
		t.Fatalf("unexpected identity %+v, %v", id, err)
	}
}
