package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jobboard/jobboard/internal/apply"
	"github.com/jobboard/jobboard/internal/db"
	"github.com/jobboard/jobboard/internal/job"
	"github.com/jobboard/jobboard/internal/storage"
)

const (
	nsJobs = "jobs/"
	nsApps = "apps/"
	nsCV   = "cv"

	MaxCVSize = 5 << 20
)

// Catalog is the standalone portal: jobs and applications in badger, CVs
// on disk.
type Catalog struct {
	db     *db.Store
	files  *storage.Store
	logger *slog.Logger
	now    func() time.Time
}

// storedApplication is what the catalog keeps per (job, applicant).
type storedApplication struct {
	Record   job.ApplicationRecord `json:"record"`
	FullName string                `json:"full_name"`
	Email    string                `json:"email"`
	Phone    string                `json:"phone"`
	CVPath   string                `json:"cv_path,omitempty"`
}

// OpenCatalog opens the catalog kept under dataDir.
func OpenCatalog(dataDir string, logger *slog.Logger) (*Catalog, error) {
	store, err := db.NewStore(filepath.Join(dataDir, "catalog"))
	if err != nil {
		return nil, err
	}
	files, err := storage.NewStore(filepath.Join(dataDir, "uploads"))
	if err != nil {
		store.Close()
		return nil, err
	}
	return NewCatalog(store, files, logger), nil
}

func NewCatalog(store *db.Store, files *storage.Store, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{db: store, files: files, logger: logger, now: time.Now}
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

// PutJob creates or replaces a job. A missing id is generated and a zero
// createdAt is set to now. Applications on j are ignored.
func (c *Catalog) PutJob(_ context.Context, j job.Job) (job.Job, error) {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if strings.Contains(j.ID, "/") {
		return job.Job{}, fmt.Errorf("job id %q must not contain '/'", j.ID)
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = c.now().UTC()
	}
	j.Applications = nil
	if err := c.db.SetJSON(nsJobs, j.ID, j); err != nil {
		return job.Job{}, fmt.Errorf("put job %s: %w", j.ID, err)
	}
	return j, nil
}

// Import stores every job of a snapshot, including its applications.
func (c *Catalog) Import(ctx context.Context, jobs []job.Job) (int, error) {
	for i, j := range jobs {
		stored, err := c.PutJob(ctx, j)
		if err != nil {
			return i, err
		}
		for _, rec := range j.Applications {
			if err := c.db.SetJSON(nsApps, appKey(stored.ID, rec.ApplicantID), storedApplication{Record: rec}); err != nil {
				return i, fmt.Errorf("import application %s/%s: %w", stored.ID, rec.ApplicantID, err)
			}
		}
	}
	c.logger.Info("catalog import", "jobs", len(jobs))
	return len(jobs), nil
}

// DeleteJob removes a job with its applications and uploaded CVs.
func (c *Catalog) DeleteJob(_ context.Context, id string) error {
	if _, err := c.db.Get(nsJobs, id); err != nil {
		return c.notFound(id, err)
	}
	keys, err := c.db.List(nsApps, id+"/", 0)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := c.db.Delete(nsApps, k); err != nil {
			return err
		}
	}
	files, err := c.files.List(nsCV, id+"/")
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := c.files.Delete(nsCV, f); err != nil {
			c.logger.Warn("cv cleanup failed", "path", f, "error", err)
		}
	}
	return c.db.Delete(nsJobs, id)
}

// FetchJobs returns every job, newest first, with its applications in
// the order they were made.
func (c *Catalog) FetchJobs(_ context.Context) ([]job.Job, error) {
	var jobs []job.Job
	err := c.db.Scan(nsJobs, "", func(_ string, value []byte) error {
		var j job.Job
		if err := json.Unmarshal(value, &j); err != nil {
			return err
		}
		jobs = append(jobs, j)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan jobs: %w", err)
	}

	for i := range jobs {
		apps, err := c.applications(jobs[i].ID)
		if err != nil {
			return nil, err
		}
		jobs[i].Applications = apps
	}

	sort.SliceStable(jobs, func(a, b int) bool {
		if !jobs[a].CreatedAt.Equal(jobs[b].CreatedAt) {
			return jobs[a].CreatedAt.After(jobs[b].CreatedAt)
		}
		return jobs[a].ID < jobs[b].ID
	})
	return jobs, nil
}

// SubmitApplication records the application and stores the CV. A second
// application by the same applicant is refused.
func (c *Catalog) SubmitApplication(_ context.Context, jobID, applicantID string, p apply.Payload) (job.ApplicationRecord, error) {
	if _, err := c.db.Get(nsJobs, jobID); err != nil {
		return job.ApplicationRecord{}, c.notFound(jobID, err)
	}
	if len(p.CV) > MaxCVSize {
		return job.ApplicationRecord{}, fmt.Errorf("%w: cv is %d bytes", storage.ErrTooLarge, len(p.CV))
	}

	stored := storedApplication{
		Record: job.ApplicationRecord{
			ID:          uuid.NewString(),
			ApplicantID: applicantID,
			Status:      job.StatusPending,
			AppliedAt:   c.now().UTC(),
		},
		FullName: p.FullName,
		Email:    p.Email,
		Phone:    p.Phone,
	}
	if p.CV != nil {
		stored.CVPath = path.Join(jobID, applicantID, storage.SafeName(p.CVName))
	}

	key := appKey(jobID, applicantID)
	err := c.db.Update(nsApps, key, func(current []byte) ([]byte, error) {
		if current != nil {
			return nil, fmt.Errorf("%w: %s on job %s", ErrDuplicateApplication, applicantID, jobID)
		}
		return json.Marshal(stored)
	})
	if err != nil {
		return job.ApplicationRecord{}, err
	}

	if stored.CVPath != "" {
		if _, err := c.files.PutReader(nsCV, stored.CVPath, bytes.NewReader(p.CV), MaxCVSize); err != nil {
			if derr := c.db.Delete(nsApps, key); derr != nil {
				c.logger.Error("application cleanup failed", "job_id", jobID, "applicant_id", applicantID, "error", derr)
			}
			return job.ApplicationRecord{}, fmt.Errorf("store cv: %w", err)
		}
	}

	c.logger.Info("application stored", "job_id", jobID, "applicant_id", applicantID, "record_id", stored.Record.ID)
	return stored.Record, nil
}

func (c *Catalog) SetStatus(_ context.Context, jobID, applicantID string, status job.ApplicationStatus) (job.ApplicationRecord, error) {
	var rec job.ApplicationRecord
	err := c.db.Update(nsApps, appKey(jobID, applicantID), func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, fmt.Errorf("%w %s on job %s", apply.ErrNoApplication, applicantID, jobID)
		}
		var stored storedApplication
		if err := json.Unmarshal(current, &stored); err != nil {
			return nil, err
		}
		stored.Record.Status = status
		rec = stored.Record
		return json.Marshal(stored)
	})
	if err != nil {
		return job.ApplicationRecord{}, err
	}
	return rec, nil
}

// CV returns the uploaded CV of an application and its file name.
func (c *Catalog) CV(jobID, applicantID string) ([]byte, string, error) {
	var stored storedApplication
	if err := c.db.GetJSON(nsApps, appKey(jobID, applicantID), &stored); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, "", fmt.Errorf("%w %s on job %s", apply.ErrNoApplication, applicantID, jobID)
		}
		return nil, "", err
	}
	if stored.CVPath == "" {
		return nil, "", fmt.Errorf("%w: no cv for %s on job %s", storage.ErrNotFound, applicantID, jobID)
	}
	data, err := c.files.Get(nsCV, stored.CVPath)
	if err != nil {
		return nil, "", err
	}
	return data, path.Base(stored.CVPath), nil
}

func (c *Catalog) applications(jobID string) ([]job.ApplicationRecord, error) {
	var apps []job.ApplicationRecord
	err := c.db.Scan(nsApps, jobID+"/", func(_ string, value []byte) error {
		var stored storedApplication
		if err := json.Unmarshal(value, &stored); err != nil {
			return err
		}
		apps = append(apps, stored.Record)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan applications of %s: %w", jobID, err)
	}
	sort.SliceStable(apps, func(a, b int) bool {
		return apps[a].AppliedAt.Before(apps[b].AppliedAt)
	})
	return apps, nil
}

func (c *Catalog) notFound(id string, err error) error {
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("%w: %s", job.ErrNotFound, id)
	}
	return err
}

func appKey(jobID, applicantID string) string {
	return jobID + "/" + applicantID
}

var (
	_ Portal         = (*Catalog)(nil)
	_ StatusRecorder = (*Catalog)(nil)
	_ Portal         = (*Client)(nil)
)
