// Package board holds the shared job board state: the job snapshot, the
// current filter spec and the filtered view derived from them. Subscribers
// are called with a freshly computed view whenever either input changes.
package board

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jobboard/jobboard/internal/filter"
	"github.com/jobboard/jobboard/internal/job"
)

// View is the filtered job list for one (snapshot, spec) pair.
type View struct {
	Version   uint64      `json:"version"`
	Spec      filter.Spec `json:"spec"`
	Jobs      []job.Job   `json:"jobs"`
	Total     int         `json:"total"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Resetter is implemented by state that must be dropped with the snapshot,
// such as the tracker's in-flight applications.
type Resetter interface {
	Reset()
}

type Stats struct {
	Subscribers int    `json:"subscribers"`
	Jobs        int    `json:"jobs"`
	Visible     int    `json:"visible"`
	Version     uint64 `json:"version"`
}

type Board struct {
	store    job.JobStore
	resetter Resetter
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.RWMutex
	spec filter.Spec
	view View

	// pubMu orders deliveries; it is taken before subsMu.
	pubMu  sync.Mutex
	subsMu sync.RWMutex
	subs   map[string]*subscriber

	stopWatch func()
}

func New(store job.JobStore, resetter Resetter, logger *slog.Logger) *Board {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Board{
		store:    store,
		resetter: resetter,
		logger:   logger,
		now:      time.Now,
		subs:     make(map[string]*subscriber),
	}
	b.recompute()
	b.stopWatch = store.Watch(func() { b.recompute() })
	return b
}

// Close detaches the board from its store. Subscribers stop receiving views.
func (b *Board) Close() {
	if b.stopWatch != nil {
		b.stopWatch()
	}
	b.subsMu.Lock()
	b.subs = make(map[string]*subscriber)
	b.subsMu.Unlock()
}

func (b *Board) Store() job.JobStore {
	return b.store
}

func (b *Board) Spec() filter.Spec {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.spec.Clone()
}

func (b *Board) View() View {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return copyView(b.view)
}

// SetSpec replaces the spec. An invalid spec is rejected and the previous
// one stays in effect.
func (b *Board) SetSpec(spec filter.Spec) (View, error) {
	if err := spec.Validate(); err != nil {
		return b.View(), err
	}
	b.mu.Lock()
	b.spec = spec.Clone()
	b.mu.Unlock()
	return b.recompute(), nil
}

// ApplyPatch merges p into the current spec.
func (b *Board) ApplyPatch(p filter.Patch) (View, error) {
	b.mu.Lock()
	next, err := p.Apply(b.spec)
	if err != nil {
		b.mu.Unlock()
		return b.View(), err
	}
	b.spec = next
	b.mu.Unlock()
	return b.recompute(), nil
}

// Replace installs a new snapshot. Subscribers are notified through the
// store watch.
func (b *Board) Replace(jobs []job.Job) error {
	if err := b.store.Replace(jobs); err != nil {
		return err
	}
	b.logger.Info("snapshot replaced", "jobs", len(jobs))
	return nil
}

// Reset empties the snapshot and drops in-flight applications, as on
// logout. The spec is kept.
func (b *Board) Reset() error {
	if b.resetter != nil {
		b.resetter.Reset()
	}
	if err := b.store.Replace(nil); err != nil {
		return err
	}
	b.logger.Info("board reset")
	return nil
}

// Subscribe registers fn and calls it once with the current view. Each
// subscriber sees strictly increasing versions: a view older than the last
// one delivered to it is never delivered. fn runs on the goroutine that
// changed the board, must not block and must not call back into the board.
func (b *Board) Subscribe(fn func(View)) (id string, cancel func()) {
	id = uuid.NewString()
	sub := &subscriber{fn: fn}

	b.pubMu.Lock()
	b.subsMu.Lock()
	b.subs[id] = sub
	n := len(b.subs)
	b.subsMu.Unlock()
	sub.deliver(b.View())
	b.pubMu.Unlock()

	b.logger.Debug("subscriber added", "id", id, "subscribers", n)
	return id, func() { b.Unsubscribe(id) }
}

func (b *Board) Unsubscribe(id string) {
	b.subsMu.Lock()
	_, ok := b.subs[id]
	delete(b.subs, id)
	n := len(b.subs)
	b.subsMu.Unlock()
	if ok {
		b.logger.Debug("subscriber removed", "id", id, "subscribers", n)
	}
}

func (b *Board) Stats() Stats {
	b.subsMu.RLock()
	subs := len(b.subs)
	b.subsMu.RUnlock()

	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		Subscribers: subs,
		Jobs:        b.view.Total,
		Visible:     len(b.view.Jobs),
		Version:     b.view.Version,
	}
}

// recompute rebuilds the view from the current snapshot and spec and
// publishes it. The stored spec is always valid, so Compute cannot fail
// here.
func (b *Board) recompute() View {
	b.mu.Lock()
	snapshot := b.store.Snapshot()
	jobs, err := filter.Compute(snapshot, b.spec)
	if err != nil {
		b.mu.Unlock()
		b.logger.Error("recompute failed", "error", err)
		return b.View()
	}
	b.view = View{
		Version:   b.view.Version + 1,
		Spec:      b.spec.Clone(),
		Jobs:      jobs,
		Total:     len(snapshot),
		UpdatedAt: b.now(),
	}
	v := copyView(b.view)
	b.mu.Unlock()

	b.publish(v)
	return v
}

// publish delivers v to every subscriber. Deliveries are serialized, and a
// recompute that lost the race to a newer one is dropped per subscriber.
func (b *Board) publish(v View) {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	b.subsMu.RLock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subsMu.RUnlock()

	for _, sub := range subs {
		sub.deliver(v)
	}
}

// subscriber is guarded by Board.pubMu.
type subscriber struct {
	fn   func(View)
	last uint64
}

func (s *subscriber) deliver(v View) {
	if v.Version <= s.last {
		return
	}
	s.last = v.Version
	s.fn(copyView(v))
}

func copyView(v View) View {
	out := v
	out.Spec = v.Spec.Clone()
	if v.Jobs != nil {
		out.Jobs = make([]job.Job, len(v.Jobs))
		copy(out.Jobs, v.Jobs)
	}
	return out
}
