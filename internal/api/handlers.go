package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jobboard/jobboard/internal/apply"
	"github.com/jobboard/jobboard/internal/board"
	"github.com/jobboard/jobboard/internal/config"
	"github.com/jobboard/jobboard/internal/filter"
	"github.com/jobboard/jobboard/internal/job"
	"github.com/jobboard/jobboard/internal/journal"
	"github.com/jobboard/jobboard/internal/portal"
	"github.com/jobboard/jobboard/internal/querysync"
	"github.com/jobboard/jobboard/internal/refresh"
	"github.com/jobboard/jobboard/internal/search"
	"github.com/jobboard/jobboard/internal/storage"
	"github.com/jobboard/jobboard/internal/ws"
)

const (
	version         = "0.1.0"
	maxSnapshotBody = 32 << 20
	defaultHistory  = 50
)

var startTime = time.Now()

// HistoryReader lists application events by applicant or by job.
type HistoryReader interface {
	History(ctx context.Context, applicantID string, limit int) ([]journal.Entry, error)
	ForJob(ctx context.Context, jobID string) ([]journal.Entry, error)
}

// CatalogEditor is the admin side of the local catalog.
type CatalogEditor interface {
	PutJob(ctx context.Context, j job.Job) (job.Job, error)
	DeleteJob(ctx context.Context, id string) error
	CV(jobID, applicantID string) ([]byte, string, error)
}

type Handlers struct {
	cfg      *config.Config
	board    *board.Board
	tracker  *apply.Tracker
	portal   portal.Portal
	poller   *refresh.Poller
	feed     *ws.Server
	journal  HistoryReader
	catalog  CatalogEditor
	recorder portal.StatusRecorder
	schema   *snapshotValidator
	logger   *slog.Logger
}

func NewHandlers(d Deps) (*Handlers, error) {
	if d.Config == nil || d.Board == nil || d.Tracker == nil {
		return nil, errors.New("api: config, board and tracker are required")
	}
	schema, err := newSnapshotValidator()
	if err != nil {
		return nil, err
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		cfg:      d.Config,
		board:    d.Board,
		tracker:  d.Tracker,
		portal:   d.Portal,
		poller:   d.Poller,
		feed:     d.Feed,
		journal:  d.Journal,
		catalog:  d.Catalog,
		recorder: d.Recorder,
		schema:   schema,
		logger:   logger,
	}, nil
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handlers) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":        version,
		"portal_mode":    h.cfg.Portal.Mode,
		"uptime_seconds": int(time.Since(startTime).Seconds()),
	})
}

func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	bs := h.board.Stats()
	resp := map[string]any{
		"uptime_seconds": int(time.Since(startTime).Seconds()),
		"board": map[string]any{
			"jobs":        bs.Jobs,
			"visible":     bs.Visible,
			"version":     bs.Version,
			"subscribers": bs.Subscribers,
		},
		"applications": map[string]int{
			"in_flight": h.tracker.InFlight(),
		},
	}
	if h.feed != nil {
		resp["feed"] = map[string]int{"connected": h.feed.Connections()}
	}
	if h.poller != nil {
		resp["refresh"] = h.poller.Status()
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListJobs filters the snapshot with the query parameters layered over the
// board's current spec. The board itself is not changed.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	patch, err := querysync.ParsePatch(r.URL.Query())
	if err != nil {
		h.writeErr(w, err)
		return
	}
	spec, err := patch.Apply(h.board.Spec())
	if err != nil {
		h.writeErr(w, err)
		return
	}
	jobs, err := filter.Compute(h.board.Store().Snapshot(), spec)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if jobs == nil {
		jobs = []job.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"spec":  spec,
		"jobs":  jobs,
		"total": h.board.Store().Len(),
	})
}

func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	j, err := h.board.Store().Get(id)
	if err != nil {
		h.writeErr(w, err)
		return
	}

	resp := map[string]any{
		"job":          j,
		"requirements": j.RequirementList(),
		"posted":       j.PostedDate(),
		"applicants":   j.ApplicantCount(),
	}
	if ident, ok := identityFrom(r.Context()); ok {
		st, err := h.tracker.State(id, ident.ApplicantID)
		if err != nil {
			h.writeErr(w, err)
			return
		}
		resp["applied"] = st.Applied()
		resp["state"] = st
	}
	writeJSON(w, http.StatusOK, resp)
}

// Apply runs the optimistic apply flow for the caller. The form carries
// fullName, email, phone and an optional cv file.
func (h *Handlers) Apply(w http.ResponseWriter, r *http.Request) {
	if h.portal == nil {
		writeError(w, http.StatusServiceUnavailable, "no portal configured")
		return
	}
	ident, _ := identityFrom(r.Context())
	jobID := chi.URLParam(r, "id")

	r.Body = http.MaxBytesReader(w, r.Body, portal.MaxCVSize+1<<20)
	if err := r.ParseMultipartForm(portal.MaxCVSize + 1<<20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	p := apply.Payload{
		FullName: strings.TrimSpace(r.FormValue("fullName")),
		Email:    strings.TrimSpace(r.FormValue("email")),
		Phone:    strings.TrimSpace(r.FormValue("phone")),
	}
	if p.FullName == "" || p.Email == "" {
		writeError(w, http.StatusBadRequest, "fullName and email are required")
		return
	}

	file, hdr, err := r.FormFile("cv")
	switch {
	case err == nil:
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, portal.MaxCVSize+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, "could not read cv")
			return
		}
		if len(data) > portal.MaxCVSize {
			writeError(w, http.StatusRequestEntityTooLarge, "cv is too large")
			return
		}
		p.CV = data
		p.CVName = hdr.Filename
	case errors.Is(err, http.ErrMissingFile):
	default:
		writeError(w, http.StatusBadRequest, "invalid cv upload")
		return
	}

	j, err := h.tracker.Submit(r.Context(), h.portal, jobID, ident.ApplicantID, p)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	st, _ := h.tracker.State(jobID, ident.ApplicantID)
	rec, _ := j.FindApplication(ident.ApplicantID)
	writeJSON(w, http.StatusCreated, map[string]any{
		"job":    j,
		"record": rec,
		"state":  st,
	})
}

type statusRequest struct {
	Status job.ApplicationStatus `json:"status"`
}

// UpdateStatus records an admin decision. The local catalog is written
// first so a refresh cannot undo it.
func (h *Handlers) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Status.Valid() {
		h.writeErr(w, fmt.Errorf("%w: %q", apply.ErrInvalidStatus, req.Status))
		return
	}
	ev := apply.StatusEvent{
		JobID:       chi.URLParam(r, "id"),
		ApplicantID: chi.URLParam(r, "applicant"),
		Status:      req.Status,
	}

	if h.recorder != nil {
		if _, err := h.recorder.SetStatus(r.Context(), ev.JobID, ev.ApplicantID, ev.Status); err != nil {
			h.writeErr(w, err)
			return
		}
	}
	j, err := h.tracker.UpdateStatus(ev)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	rec, _ := j.FindApplication(ev.ApplicantID)
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handlers) GetView(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.board.View())
}

func (h *Handlers) SetSpec(w http.ResponseWriter, r *http.Request) {
	var spec filter.Spec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	v, err := h.board.SetSpec(spec)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// PatchSpec changes only the dimensions present in the query string.
func (h *Handlers) PatchSpec(w http.ResponseWriter, r *http.Request) {
	patch, err := querysync.ParsePatch(r.URL.Query())
	if err != nil {
		h.writeErr(w, err)
		return
	}
	v, err := h.board.ApplyPatch(patch)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type searchRequest struct {
	Query string `json:"query"`
}

func (h *Handlers) CommitSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.commitQuery(w, req.Query)
}

func (h *Handlers) ClearSearch(w http.ResponseWriter, r *http.Request) {
	h.commitQuery(w, "")
}

func (h *Handlers) ListTags(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tags": h.cfg.QuickTags})
}

func (h *Handlers) ApplyTag(w http.ResponseWriter, r *http.Request) {
	tag, ok := search.FindTag(h.cfg.QuickTags, chi.URLParam(r, "tag"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown tag")
		return
	}
	h.commitQuery(w, tag)
}

func (h *Handlers) commitQuery(w http.ResponseWriter, q string) {
	v, err := h.board.ApplyPatch(querysync.FromQuery(q))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Preview matches typed text against the snapshot without committing it.
func (h *Handlers) Preview(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	box := querysync.NewSearchBox("", h.cfg.QuickTags, nil)
	box.Edit(req.Query)
	jobs := box.Preview(h.board.Store().Snapshot())
	if jobs == nil {
		jobs = []job.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": req.Query, "jobs": jobs})
}

func (h *Handlers) ReplaceSnapshot(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSnapshotBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "snapshot too large")
		return
	}
	jobs, err := h.schema.decode(r.Context(), body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.board.Replace(jobs); err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.board.View())
}

// ResetBoard drops the snapshot and every in-flight application, as on
// logout.
func (h *Handlers) ResetBoard(w http.ResponseWriter, r *http.Request) {
	if err := h.board.Reset(); err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.board.View())
}

func (h *Handlers) RefreshStatus(w http.ResponseWriter, r *http.Request) {
	if h.poller == nil {
		writeError(w, http.StatusServiceUnavailable, "refresh disabled")
		return
	}
	writeJSON(w, http.StatusOK, h.poller.Status())
}

func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	if h.poller == nil {
		writeError(w, http.StatusServiceUnavailable, "refresh disabled")
		return
	}
	n, err := h.poller.Refresh(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"jobs": n})
}

func (h *Handlers) MyApplications(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFrom(r.Context())
	applied := h.tracker.AppliedJobs(ident.ApplicantID)
	if applied == nil {
		applied = []apply.AppliedJob{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"applications": applied})
}

func (h *Handlers) MyHistory(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal disabled")
		return
	}
	ident, _ := identityFrom(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = defaultHistory
	}
	entries, err := h.journal.History(r.Context(), ident.ApplicantID, limit)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": entries})
}

// AdminJobHistory lists every application event on a job, oldest first.
func (h *Handlers) AdminJobHistory(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal disabled")
		return
	}
	jobID := chi.URLParam(r, "id")
	if _, err := h.board.Store().Get(jobID); err != nil {
		h.writeErr(w, err)
		return
	}
	entries, err := h.journal.ForJob(r.Context(), jobID)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "events": entries})
}

// AdminJobs lists the snapshot filtered by title or company name.
func (h *Handlers) AdminJobs(w http.ResponseWriter, r *http.Request) {
	text := r.URL.Query().Get("text")
	jobs := []job.Job{}
	for _, j := range h.board.Store().Snapshot() {
		if search.AdminMatch(j, text) {
			jobs = append(jobs, j)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "total": len(jobs)})
}

func (h *Handlers) AdminPutJob(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		writeError(w, http.StatusNotImplemented, "jobs are managed by the remote portal")
		return
	}
	var j job.Job
	if err := json.NewDecoder(r.Body).Decode(&j); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	stored, err := h.catalog.PutJob(r.Context(), j)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.refreshAfterEdit(r.Context())
	writeJSON(w, http.StatusCreated, stored)
}

func (h *Handlers) AdminDeleteJob(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		writeError(w, http.StatusNotImplemented, "jobs are managed by the remote portal")
		return
	}
	if err := h.catalog.DeleteJob(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeErr(w, err)
		return
	}
	h.refreshAfterEdit(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) AdminCV(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		writeError(w, http.StatusNotImplemented, "CVs are kept by the remote portal")
		return
	}
	data, name, err := h.catalog.CV(chi.URLParam(r, "id"), chi.URLParam(r, "applicant"))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// refreshAfterEdit pulls the catalog into the board so edits show up
// without waiting for the poller.
func (h *Handlers) refreshAfterEdit(ctx context.Context) {
	if h.poller == nil {
		return
	}
	if _, err := h.poller.Refresh(ctx); err != nil {
		h.logger.Warn("refresh after edit failed", "error", err)
	}
}

// writeErr maps domain errors onto status codes.
func (h *Handlers) writeErr(w http.ResponseWriter, err error) {
	var (
		validation *filter.ValidationError
		remote     *portal.RemoteError
		submission *apply.SubmissionError
	)
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, apply.ErrAlreadyApplied), errors.Is(err, portal.ErrDuplicateApplication):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, storage.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.As(err, &remote) && remote.StatusCode == http.StatusConflict:
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &submission):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, job.ErrNotFound), errors.Is(err, apply.ErrNoApplication), errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, apply.ErrNotConfirmed), errors.Is(err, apply.ErrNotPending):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, apply.ErrInvalidStatus), errors.Is(err, job.ErrDuplicateID), errors.Is(err, job.ErrDuplicateApplication):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
