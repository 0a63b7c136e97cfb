package apply

import (
	"fmt"
	"time"

	"github.com/jobboard/jobboard/internal/job"
)

// HasApplied reports whether j already holds a record for applicantID.
func HasApplied(j job.Job, applicantID string) bool {
	_, ok := j.FindApplication(applicantID)
	return ok
}

// appendPending returns j with a pending record for applicantID appended.
func appendPending(j job.Job, applicantID, id string, now time.Time) (job.Job, error) {
	if rec, ok := j.FindApplication(applicantID); ok {
		return job.Job{}, &AlreadyAppliedError{
			JobID:       j.ID,
			ApplicantID: applicantID,
			State:       State{Kind: Confirmed, Status: rec.Status},
		}
	}
	out := j.Clone()
	out.Applications = append(out.Applications, job.ApplicationRecord{
		ID:          id,
		ApplicantID: applicantID,
		Status:      job.StatusPending,
		AppliedAt:   now,
	})
	if err := checkUnique(out); err != nil {
		return job.Job{}, err
	}
	return out, nil
}

// mergeConfirmed replaces the record of confirmed.ApplicantID in place,
// keeping local fields the confirmation leaves empty. A missing record is
// appended, which happens when a refetch dropped the optimistic one.
func mergeConfirmed(j job.Job, confirmed job.ApplicationRecord) (job.Job, error) {
	out := j.Clone()
	for i, rec := range out.Applications {
		if rec.ApplicantID != confirmed.ApplicantID {
			continue
		}
		if confirmed.ID != "" {
			rec.ID = confirmed.ID
		}
		if confirmed.Status != "" {
			rec.Status = confirmed.Status
		}
		if !confirmed.AppliedAt.IsZero() {
			rec.AppliedAt = confirmed.AppliedAt
		}
		out.Applications[i] = rec
		return out, checkUnique(out)
	}
	if confirmed.Status == "" {
		confirmed.Status = job.StatusPending
	}
	out.Applications = append(out.Applications, confirmed)
	return out, checkUnique(out)
}

// removeRecord drops the record of applicantID and leaves every other
// record where it was.
func removeRecord(j job.Job, applicantID string) job.Job {
	out := j.Clone()
	var kept []job.ApplicationRecord
	for _, rec := range j.Applications {
		if rec.ApplicantID != applicantID {
			kept = append(kept, rec)
		}
	}
	out.Applications = kept
	return out
}

func setStatus(j job.Job, applicantID string, status job.ApplicationStatus) (job.Job, error) {
	out := j.Clone()
	for i := range out.Applications {
		if out.Applications[i].ApplicantID == applicantID {
			out.Applications[i].Status = status
			return out, nil
		}
	}
	return job.Job{}, fmt.Errorf("%w %s on job %s", ErrNoApplication, applicantID, j.ID)
}

func checkUnique(j job.Job) error {
	return job.CheckApplications(j)
}
