// Package apply tracks the application state of (job, applicant) pairs.
// An apply is recorded optimistically, then either reconciled with the
// confirmed record or rolled back when submission fails.
package apply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jobboard/jobboard/internal/job"
)

// Payload is what the applicant sends along with an application.
type Payload struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	CVName   string `json:"cvName,omitempty"`
	CV       []byte `json:"-"`
}

// Submitter delivers an application to the server and returns the
// confirmed record.
type Submitter interface {
	SubmitApplication(ctx context.Context, jobID, applicantID string, p Payload) (job.ApplicationRecord, error)
}

type SubmitterFunc func(ctx context.Context, jobID, applicantID string, p Payload) (job.ApplicationRecord, error)

func (f SubmitterFunc) SubmitApplication(ctx context.Context, jobID, applicantID string, p Payload) (job.ApplicationRecord, error) {
	return f(ctx, jobID, applicantID, p)
}

// StatusEvent is a server-side decision on an application.
type StatusEvent struct {
	JobID       string                `json:"jobId"`
	ApplicantID string                `json:"applicantId"`
	Status      job.ApplicationStatus `json:"status"`
}

// AppliedJob pairs a job with the applicant's record on it.
type AppliedJob struct {
	Job    job.Job               `json:"job"`
	Record job.ApplicationRecord `json:"record"`
	State  State                 `json:"state"`
}

type EventKind string

const (
	EventApplied       EventKind = "applied"
	EventConfirmed     EventKind = "confirmed"
	EventRolledBack    EventKind = "rolled_back"
	EventStatusChanged EventKind = "status_changed"
)

// Event reports a transition after it reached the store.
type Event struct {
	Kind        EventKind             `json:"kind"`
	JobID       string                `json:"job_id"`
	ApplicantID string                `json:"applicant_id"`
	RecordID    string                `json:"record_id,omitempty"`
	Status      job.ApplicationStatus `json:"status,omitempty"`
	At          time.Time             `json:"at"`
}

type pairKey struct {
	jobID       string
	applicantID string
}

type Tracker struct {
	store  job.JobStore
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
	events []func(Event)

	mu       sync.Mutex
	inflight map[pairKey]time.Time
}

type Option func(*Tracker)

// WithClock replaces time.Now for the appliedAt of optimistic records.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithEvents registers fn to receive every transition. fn runs on the
// caller's goroutine after the store write.
func WithEvents(fn func(Event)) Option {
	return func(t *Tracker) { t.events = append(t.events, fn) }
}

// WithIDs replaces the generator of local record ids.
func WithIDs(newID func() string) Option {
	return func(t *Tracker) { t.newID = newID }
}

func NewTracker(store job.JobStore, logger *slog.Logger, opts ...Option) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{
		store:    store,
		logger:   logger,
		now:      time.Now,
		newID:    func() string { return "local-" + uuid.NewString() },
		inflight: make(map[pairKey]time.Time),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// State derives the pair's state from the snapshot and the in-flight set.
func (t *Tracker) State(jobID, applicantID string) (State, error) {
	j, err := t.store.Get(jobID)
	if err != nil {
		return State{}, err
	}
	return t.stateOf(j, applicantID), nil
}

func (t *Tracker) stateOf(j job.Job, applicantID string) State {
	t.mu.Lock()
	_, pending := t.inflight[pairKey{j.ID, applicantID}]
	t.mu.Unlock()

	rec, ok := j.FindApplication(applicantID)
	switch {
	case pending:
		return State{Kind: Pending}
	case ok:
		return State{Kind: Confirmed, Status: rec.Status}
	default:
		return State{Kind: NotApplied}
	}
}

// HasApplied is true while the pair is Pending or Confirmed. An unknown
// job counts as not applied.
func (t *Tracker) HasApplied(jobID, applicantID string) bool {
	s, err := t.State(jobID, applicantID)
	return err == nil && s.Applied()
}

// ApplyOptimistic appends a pending record for the applicant and marks the
// pair in flight. The returned job is the updated snapshot entry.
func (t *Tracker) ApplyOptimistic(jobID, applicantID string) (job.Job, error) {
	if applicantID == "" {
		return job.Job{}, errors.New("applicant id is required")
	}
	key := pairKey{jobID, applicantID}
	now := t.now()

	t.mu.Lock()
	if _, busy := t.inflight[key]; busy {
		t.mu.Unlock()
		return job.Job{}, &AlreadyAppliedError{JobID: jobID, ApplicantID: applicantID, State: State{Kind: Pending}}
	}
	t.inflight[key] = now
	t.mu.Unlock()

	id := t.newID()
	updated, err := t.store.UpdateApplications(jobID, func(j job.Job) (job.Job, error) {
		return appendPending(j, applicantID, id, now)
	})
	if err != nil {
		t.release(key)
		return job.Job{}, err
	}

	t.logger.Debug("application pending", "job_id", jobID, "applicant_id", applicantID, "record_id", id)
	t.emit(Event{Kind: EventApplied, JobID: jobID, ApplicantID: applicantID, RecordID: id, Status: job.StatusPending, At: now})
	return updated, nil
}

// Reconcile replaces the optimistic record with the confirmed one.
func (t *Tracker) Reconcile(jobID string, confirmed job.ApplicationRecord) (job.Job, error) {
	if confirmed.ApplicantID == "" {
		return job.Job{}, errors.New("confirmed record has no applicant")
	}
	if confirmed.Status != "" && !confirmed.Status.Valid() {
		return job.Job{}, fmt.Errorf("%w: %q", ErrInvalidStatus, confirmed.Status)
	}
	key := pairKey{jobID, confirmed.ApplicantID}
	if err := t.claim(key); err != nil {
		return job.Job{}, err
	}

	updated, err := t.store.UpdateApplications(jobID, func(j job.Job) (job.Job, error) {
		return mergeConfirmed(j, confirmed)
	})
	if err != nil {
		return job.Job{}, err
	}

	rec, _ := updated.FindApplication(confirmed.ApplicantID)
	t.logger.Info("application confirmed", "job_id", jobID, "applicant_id", confirmed.ApplicantID, "status", rec.Status)
	t.emit(Event{Kind: EventConfirmed, JobID: jobID, ApplicantID: rec.ApplicantID, RecordID: rec.ID, Status: rec.Status, At: t.now()})
	return updated, nil
}

// Rollback removes the optimistic record. Other records keep their order.
func (t *Tracker) Rollback(jobID, applicantID string) (job.Job, error) {
	key := pairKey{jobID, applicantID}
	if err := t.claim(key); err != nil {
		return job.Job{}, err
	}

	updated, err := t.store.UpdateApplications(jobID, func(j job.Job) (job.Job, error) {
		return removeRecord(j, applicantID), nil
	})
	if err != nil {
		return job.Job{}, err
	}

	t.logger.Info("application rolled back", "job_id", jobID, "applicant_id", applicantID)
	t.emit(Event{Kind: EventRolledBack, JobID: jobID, ApplicantID: applicantID, At: t.now()})
	return updated, nil
}

// UpdateStatus applies a server decision to a confirmed record. Pairs
// still in flight are refused; the decision is for a record the server
// has not acknowledged to this client yet.
func (t *Tracker) UpdateStatus(ev StatusEvent) (job.Job, error) {
	if !ev.Status.Valid() {
		return job.Job{}, fmt.Errorf("%w: %q", ErrInvalidStatus, ev.Status)
	}
	t.mu.Lock()
	_, pending := t.inflight[pairKey{ev.JobID, ev.ApplicantID}]
	t.mu.Unlock()
	if pending {
		return job.Job{}, fmt.Errorf("%w: %s on job %s", ErrNotConfirmed, ev.ApplicantID, ev.JobID)
	}

	updated, err := t.store.UpdateApplications(ev.JobID, func(j job.Job) (job.Job, error) {
		return setStatus(j, ev.ApplicantID, ev.Status)
	})
	if err != nil {
		return job.Job{}, err
	}

	rec, _ := updated.FindApplication(ev.ApplicantID)
	t.logger.Info("application status changed", "job_id", ev.JobID, "applicant_id", ev.ApplicantID, "status", ev.Status)
	t.emit(Event{Kind: EventStatusChanged, JobID: ev.JobID, ApplicantID: ev.ApplicantID, RecordID: rec.ID, Status: ev.Status, At: t.now()})
	return updated, nil
}

// Submit runs the whole apply flow: optimistic record, submission, then
// reconcile or rollback.
func (t *Tracker) Submit(ctx context.Context, sub Submitter, jobID, applicantID string, p Payload) (job.Job, error) {
	if _, err := t.ApplyOptimistic(jobID, applicantID); err != nil {
		return job.Job{}, err
	}

	rec, err := sub.SubmitApplication(ctx, jobID, applicantID, p)
	if err == nil && rec.ApplicantID != "" && rec.ApplicantID != applicantID {
		err = fmt.Errorf("server confirmed applicant %s, expected %s", rec.ApplicantID, applicantID)
	}
	if err != nil {
		if _, rbErr := t.Rollback(jobID, applicantID); rbErr != nil {
			t.logger.Warn("rollback failed", "job_id", jobID, "applicant_id", applicantID, "error", rbErr)
		}
		t.logger.Warn("application submission failed", "job_id", jobID, "applicant_id", applicantID, "error", err)
		return job.Job{}, &SubmissionError{JobID: jobID, ApplicantID: applicantID, Err: err}
	}

	rec.ApplicantID = applicantID
	return t.Reconcile(jobID, rec)
}

// AppliedJobs lists every job in the snapshot holding a record for the
// applicant, newest application first.
func (t *Tracker) AppliedJobs(applicantID string) []AppliedJob {
	var out []AppliedJob
	for _, j := range t.store.Snapshot() {
		rec, ok := j.FindApplication(applicantID)
		if !ok {
			continue
		}
		out = append(out, AppliedJob{Job: j, Record: rec, State: t.stateOf(j, applicantID)})
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Record.AppliedAt.After(out[b].Record.AppliedAt)
	})
	return out
}

// InFlight returns how many applications await confirmation.
func (t *Tracker) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}

// Reset forgets every in-flight pair. Used when the session changes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.inflight = make(map[pairKey]time.Time)
	t.mu.Unlock()
}

// claim removes key from the in-flight set, failing if it was not there.
// Exactly one of Reconcile and Rollback wins for a given apply.
func (t *Tracker) claim(key pairKey) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.inflight[key]; !ok {
		return fmt.Errorf("%w: %s on job %s", ErrNotPending, key.applicantID, key.jobID)
	}
	delete(t.inflight, key)
	return nil
}

func (t *Tracker) emit(ev Event) {
	for _, fn := range t.events {
		fn(ev)
	}
}

func (t *Tracker) release(key pairKey) {
	t.mu.Lock()
	delete(t.inflight, key)
	t.mu.Unlock()
}
