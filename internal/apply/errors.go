package apply

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyApplied = errors.New("already applied")
	ErrNotPending     = errors.New("application is not pending")
	ErrNotConfirmed   = errors.New("application is not confirmed")
	ErrNoApplication  = errors.New("no application for applicant")
	ErrInvalidStatus  = errors.New("invalid application status")
)

// AlreadyAppliedError is returned by ApplyOptimistic when the pair is
// Pending or Confirmed. Callers must disable the apply action and must not
// retry on their own.
type AlreadyAppliedError struct {
	JobID       string
	ApplicantID string
	State       State
}

func (e *AlreadyAppliedError) Error() string {
	return fmt.Sprintf("applicant %s already applied to job %s (%s)", e.ApplicantID, e.JobID, e.State)
}

func (e *AlreadyAppliedError) Unwrap() error { return ErrAlreadyApplied }

// SubmissionError wraps a failure of the submission channel. The optimistic
// record has been rolled back by the time it is returned.
type SubmissionError struct {
	JobID       string
	ApplicantID string
	Err         error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit application to job %s: %v", e.JobID, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }
