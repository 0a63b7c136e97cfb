// Package refresh refetches the job snapshot from the portal on an
// interval and installs it wholesale.
package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jobboard/jobboard/internal/job"
	"github.com/jobboard/jobboard/internal/portal"
)

// Replacer installs a snapshot. *board.Board and *job.Store both qualify.
type Replacer interface {
	Replace(jobs []job.Job) error
}

type Status struct {
	Runs      int       `json:"runs"`
	Failures  int       `json:"failures"`
	Jobs      int       `json:"jobs"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

type Poller struct {
	src      portal.Source
	dst      Replacer
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time

	// run serializes refreshes so a manual refresh never interleaves with a
	// scheduled one.
	run sync.Mutex

	mu     sync.RWMutex
	status Status
}

func New(src portal.Source, dst Replacer, interval time.Duration, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		src:      src,
		dst:      dst,
		interval: interval,
		timeout:  30 * time.Second,
		logger:   logger,
		now:      time.Now,
	}
}

// Refresh fetches once and replaces the snapshot. A failed fetch leaves
// the current snapshot in place.
func (p *Poller) Refresh(ctx context.Context) (int, error) {
	p.run.Lock()
	defer p.run.Unlock()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	jobs, err := p.src.FetchJobs(ctx)
	if err == nil {
		err = p.dst.Replace(jobs)
	}

	p.mu.Lock()
	p.status.Runs++
	p.status.LastRun = p.now()
	if err != nil {
		p.status.Failures++
		p.status.LastError = err.Error()
	} else {
		p.status.LastError = ""
		p.status.Jobs = len(jobs)
	}
	p.mu.Unlock()

	if err != nil {
		return 0, fmt.Errorf("refresh: %w", err)
	}
	return len(jobs), nil
}

// Run refreshes immediately, then every interval until ctx is done. With
// a non-positive interval it refreshes once and returns.
func (p *Poller) Run(ctx context.Context) error {
	p.refreshAndLog(ctx)
	if p.interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.refreshAndLog(ctx)
		}
	}
}

func (p *Poller) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

func (p *Poller) refreshAndLog(ctx context.Context) {
	n, err := p.Refresh(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("snapshot refresh failed", "error", err)
		}
		return
	}
	p.logger.Debug("snapshot refreshed", "jobs", n)
}
