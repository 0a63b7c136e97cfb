package job

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrNotFound    = errors.New("job not found")
	ErrDuplicateID = errors.New("duplicate job id")

	// ErrDuplicateApplication means a job holds two records for one applicant.
	ErrDuplicateApplication = errors.New("duplicate application")
)

// CheckApplications verifies that every applicant has at most one record
// on j.
func CheckApplications(j Job) error {
	seen := make(map[string]struct{}, len(j.Applications))
	for _, rec := range j.Applications {
		if _, dup := seen[rec.ApplicantID]; dup {
			return fmt.Errorf("%w: job %s has two records for %s", ErrDuplicateApplication, j.ID, rec.ApplicantID)
		}
		seen[rec.ApplicantID] = struct{}{}
	}
	return nil
}

// Store holds the canonical in-memory snapshot. Jobs keep the order of the
// last snapshot. Application records are the only part changed in place.
type Store struct {
	mu    sync.RWMutex
	jobs  map[string]Job
	order []string

	watchMu   sync.Mutex
	watchers  map[int]func()
	nextWatch int
}

func NewStore() *Store {
	return &Store{
		jobs:     make(map[string]Job),
		order:    make([]string, 0),
		watchers: make(map[int]func()),
	}
}

// Replace swaps the whole snapshot. Ids must be unique and non-empty, and
// no job may hold two records for the same applicant.
func (s *Store) Replace(jobs []Job) error {
	next := make(map[string]Job, len(jobs))
	order := make([]string, 0, len(jobs))
	for i, j := range jobs {
		if j.ID == "" {
			return fmt.Errorf("job at index %d: empty id", i)
		}
		if _, dup := next[j.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateID, j.ID)
		}
		if err := CheckApplications(j); err != nil {
			return err
		}
		j = j.Clone()
		if len(j.Applications) == 0 {
			// empty application sets are always nil in the store
			j.Applications = nil
		}
		next[j.ID] = j
		order = append(order, j.ID)
	}

	s.mu.Lock()
	s.jobs = next
	s.order = order
	s.mu.Unlock()

	s.notify()
	return nil
}

// Snapshot returns a copy of every job in snapshot order.
func (s *Store) Snapshot() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Job, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.jobs[id].Clone())
	}
	return out
}

func (s *Store) Get(id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return j.Clone(), nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// UpdateApplications runs fn on a copy of the job under the write lock and
// stores the result. Only the applications of the returned job are kept, so
// fn cannot rewrite the rest of the snapshot.
func (s *Store) UpdateApplications(id string, fn func(Job) (Job, error)) (Job, error) {
	s.mu.Lock()
	current, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	updated, err := fn(current.Clone())
	if err != nil {
		s.mu.Unlock()
		return Job{}, err
	}
	next := current.Clone()
	next.Applications = updated.Clone().Applications
	if len(next.Applications) == 0 {
		next.Applications = nil
	}
	s.jobs[id] = next
	s.mu.Unlock()

	s.notify()
	return next.Clone(), nil
}

// Watch registers fn to be called after every change. The returned func
// removes it.
func (s *Store) Watch(fn func()) (cancel func()) {
	s.watchMu.Lock()
	id := s.nextWatch
	s.nextWatch++
	s.watchers[id] = fn
	s.watchMu.Unlock()

	return func() {
		s.watchMu.Lock()
		delete(s.watchers, id)
		s.watchMu.Unlock()
	}
}

func (s *Store) notify() {
	s.watchMu.Lock()
	fns := make([]func(), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.watchMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
