package notion

import (
	"context"
	"log/slog"
	"time"

	"github.com/jobboard/jobboard/internal/apply"
	"github.com/jobboard/jobboard/internal/job"
)

// PageCreator is the part of Client the sync needs.
type PageCreator interface {
	CreateApplicationPage(ctx context.Context, j job.Job, rec job.ApplicationRecord) (string, error)
}

// Sync turns confirmed applications into Notion pages in the background.
// Failures are logged and never reach the tracker.
type Sync struct {
	pages  PageCreator
	store  job.JobStore
	logger *slog.Logger
	queue  chan apply.Event
}

func NewSync(pages PageCreator, store job.JobStore, logger *slog.Logger) *Sync {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sync{
		pages:  pages,
		store:  store,
		logger: logger,
		queue:  make(chan apply.Event, 64),
	}
}

// Observe queues confirmed applications. It never blocks; when the queue
// is full the event is dropped with a warning.
func (s *Sync) Observe(ev apply.Event) {
	if ev.Kind != apply.EventConfirmed {
		return
	}
	select {
	case s.queue <- ev:
	default:
		s.logger.Warn("notion sync queue full, dropping event", "job_id", ev.JobID, "applicant_id", ev.ApplicantID)
	}
}

// Run drains the queue until ctx is done.
func (s *Sync) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.queue:
			s.push(ctx, ev)
		}
	}
}

func (s *Sync) push(ctx context.Context, ev apply.Event) {
	j, err := s.store.Get(ev.JobID)
	if err != nil {
		s.logger.Warn("notion sync: job gone", "job_id", ev.JobID, "error", err)
		return
	}
	rec, ok := j.FindApplication(ev.ApplicantID)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	pageID, err := s.pages.CreateApplicationPage(ctx, j, rec)
	if err != nil {
		s.logger.Warn("notion page create failed", "job_id", ev.JobID, "applicant_id", ev.ApplicantID, "error", err)
		return
	}
	s.logger.Info("notion page created", "job_id", ev.JobID, "applicant_id", ev.ApplicantID, "page_id", pageID)
}
