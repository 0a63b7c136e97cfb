// Package portal talks to whatever owns the jobs: a remote job portal over
// HTTP, or a local badger catalog when the board runs standalone.
package portal

import (
	"context"
	"errors"
	"fmt"

	"github.com/jobboard/jobboard/internal/apply"
	"github.com/jobboard/jobboard/internal/job"
)

var ErrDuplicateApplication = errors.New("application already exists")

// Source supplies full job snapshots.
type Source interface {
	FetchJobs(ctx context.Context) ([]job.Job, error)
}

// StatusRecorder persists a decision on an application. Only the local
// catalog needs it; a remote portal is where decisions come from.
type StatusRecorder interface {
	SetStatus(ctx context.Context, jobID, applicantID string, status job.ApplicationStatus) (job.ApplicationRecord, error)
}

// Portal is the full external collaborator used by the server.
type Portal interface {
	Source
	apply.Submitter
	Close() error
}

// RemoteError is a non-2xx answer from the remote portal.
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("portal returned %d", e.StatusCode)
	}
	return fmt.Sprintf("portal returned %d: %s", e.StatusCode, e.Message)
}
