package portal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jobboard/jobboard/internal/apply"
	"github.com/jobboard/jobboard/internal/job"
	"github.com/jobboard/jobboard/internal/storage"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := OpenCatalog(t.TempDir(), quiet)
	if err != nil {
		t.Fatalf("OpenCatalog() error: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCatalog_PutAndFetch(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base.Add(24 * time.Hour) }

	for i, title := range []string{"Old", "New", "Middle"} {
		_, err := c.PutJob(ctx, job.Job{
			ID:        string(rune('a' + i)),
			Title:     title,
			CreatedAt: base.Add(time.Duration([]int{0, 2, 1}[i]) * time.Hour),
			Salary:    job.NewSalary(1000),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	generated, err := c.PutJob(ctx, job.Job{Title: "No id"})
	if err != nil {
		t.Fatal(err)
	}
	if generated.ID == "" || generated.CreatedAt.IsZero() {
		t.Errorf("PutJob() did not fill id/createdAt: %+v", generated)
	}

	jobs, err := c.FetchJobs(ctx)
	if err != nil {
		t.Fatalf("FetchJobs() error: %v", err)
	}
	var titles []string
	for _, j := range jobs {
		titles = append(titles, j.Title)
	}
	want := []string{"No id", "New", "Middle", "Old"}
	if len(titles) != len(want) {
		t.Fatalf("titles = %v", titles)
	}
	for i := range want {
		if titles[i] != want[i] {
			t.Errorf("titles = %v, want %v", titles, want)
			break
		}
	}

	if _, err := c.PutJob(ctx, job.Job{ID: "a/b"}); err == nil {
		t.Error("id with slash accepted")
	}
}

func TestCatalog_SubmitApplication(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	if _, err := c.PutJob(ctx, job.Job{ID: "1", Title: "Engineer"}); err != nil {
		t.Fatal(err)
	}

	rec, err := c.SubmitApplication(ctx, "1", "u1", apply.Payload{
		FullName: "Ada", Email: "ada@example.com", CVName: "../cv.pdf", CV: []byte("%PDF"),
	})
	if err != nil {
		t.Fatalf("SubmitApplication() error: %v", err)
	}
	if rec.ID == "" || rec.Status != job.StatusPending || rec.ApplicantID != "u1" {
		t.Errorf("record = %+v", rec)
	}

	_, err = c.SubmitApplication(ctx, "1", "u1", apply.Payload{})
	if !errors.Is(err, ErrDuplicateApplication) {
		t.Errorf("second submit error = %v, want ErrDuplicateApplication", err)
	}
	if _, err := c.SubmitApplication(ctx, "nope", "u1", apply.Payload{}); !errors.Is(err, job.ErrNotFound) {
		t.Errorf("unknown job error = %v, want job.ErrNotFound", err)
	}

	data, name, err := c.CV("1", "u1")
	if err != nil {
		t.Fatalf("CV() error: %v", err)
	}
	if string(data) != "%PDF" || name != "cv.pdf" {
		t.Errorf("CV() = %q, %q", data, name)
	}

	jobs, _ := c.FetchJobs(ctx)
	if len(jobs) != 1 || len(jobs[0].Applications) != 1 || jobs[0].Applications[0].ID != rec.ID {
		t.Errorf("fetched applications = %+v", jobs)
	}
}

func TestCatalog_SubmitApplication_CVTooLarge(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	if _, err := c.PutJob(ctx, job.Job{ID: "1"}); err != nil {
		t.Fatal(err)
	}

	_, err := c.SubmitApplication(ctx, "1", "u1", apply.Payload{CV: make([]byte, MaxCVSize+1)})
	if !errors.Is(err, storage.ErrTooLarge) {
		t.Fatalf("error = %v, want ErrTooLarge", err)
	}
	jobs, _ := c.FetchJobs(ctx)
	if len(jobs[0].Applications) != 0 {
		t.Error("rejected application was stored")
	}
}

func TestCatalog_SetStatus(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	if _, err := c.PutJob(ctx, job.Job{ID: "1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.SubmitApplication(ctx, "1", "u1", apply.Payload{}); err != nil {
		t.Fatal(err)
	}

	rec, err := c.SetStatus(ctx, "1", "u1", job.StatusRejected)
	if err != nil {
		t.Fatalf("SetStatus() error: %v", err)
	}
	if rec.Status != job.StatusRejected {
		t.Errorf("status = %s", rec.Status)
	}
	if _, err := c.SetStatus(ctx, "1", "u2", job.StatusAccepted); !errors.Is(err, apply.ErrNoApplication) {
		t.Errorf("unknown applicant error = %v", err)
	}
}

func TestCatalog_ImportAndDelete(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	n, err := c.Import(ctx, []job.Job{
		{ID: "1", Title: "A", Applications: []job.ApplicationRecord{{ApplicantID: "u1", Status: job.StatusAccepted}}},
		{ID: "2", Title: "B"},
	})
	if err != nil || n != 2 {
		t.Fatalf("Import() = %d, %v", n, err)
	}
	if _, err := c.SubmitApplication(ctx, "1", "u2", apply.Payload{CVName: "x.pdf", CV: []byte("x")}); err != nil {
		t.Fatal(err)
	}

	if err := c.DeleteJob(ctx, "1"); err != nil {
		t.Fatalf("DeleteJob() error: %v", err)
	}
	if err := c.DeleteJob(ctx, "1"); !errors.Is(err, job.ErrNotFound) {
		t.Errorf("second delete error = %v", err)
	}
	if _, _, err := c.CV("1", "u2"); !errors.Is(err, apply.ErrNoApplication) {
		t.Errorf("CV() after delete error = %v", err)
	}
	jobs, _ := c.FetchJobs(ctx)
	if len(jobs) != 1 || jobs[0].ID != "2" {
		t.Errorf("remaining jobs = %+v", jobs)
	}
}
