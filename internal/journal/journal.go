// Package journal keeps an append-only sqlite log of application events.
// It is a history for applicants, not a source of state: the tracker never
// reads it back.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jobboard/jobboard/internal/apply"
	"github.com/jobboard/jobboard/internal/job"
)

type Entry struct {
	ID          int64                 `json:"id"`
	Kind        apply.EventKind       `json:"kind"`
	JobID       string                `json:"job_id"`
	ApplicantID string                `json:"applicant_id"`
	RecordID    string                `json:"record_id,omitempty"`
	Status      job.ApplicationStatus `json:"status,omitempty"`
	At          time.Time             `json:"at"`
}

type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens the journal at path, creating the file and schema if needed.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// one writer; sqlite serializes anyway and this avoids SQLITE_BUSY
	conn.SetMaxOpenConns(1)
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}

	j := &Journal{db: conn, logger: logger}
	if err := j.migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) migrate(ctx context.Context) error {
	_, err := j.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS application_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	job_id TEXT NOT NULL,
	applicant_id TEXT NOT NULL,
	record_id TEXT,
	status TEXT,
	at_unix_nano INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_applicant ON application_events(applicant_id, at_unix_nano);
CREATE INDEX IF NOT EXISTS idx_events_job ON application_events(job_id, at_unix_nano);
`)
	if err != nil {
		return fmt.Errorf("migrate journal: %w", err)
	}
	return nil
}

// Record appends ev.
func (j *Journal) Record(ctx context.Context, ev apply.Event) (int64, error) {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	res, err := j.db.ExecContext(ctx, `
INSERT INTO application_events (kind, job_id, applicant_id, record_id, status, at_unix_nano)
VALUES (?, ?, ?, ?, ?, ?)`,
		string(ev.Kind), ev.JobID, ev.ApplicantID, ev.RecordID, string(ev.Status), at.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("record %s event: %w", ev.Kind, err)
	}
	return res.LastInsertId()
}

// Observe records ev and only logs failures. It has the shape the
// tracker's event hook expects.
func (j *Journal) Observe(ev apply.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := j.Record(ctx, ev); err != nil {
		j.logger.Warn("journal write failed", "kind", ev.Kind, "job_id", ev.JobID, "error", err)
	}
}

// History lists the applicant's events, newest first. limit <= 0 means
// no limit.
func (j *Journal) History(ctx context.Context, applicantID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	return j.query(ctx, `
SELECT id, kind, job_id, applicant_id, record_id, status, at_unix_nano
FROM application_events
WHERE applicant_id = ?
ORDER BY at_unix_nano DESC, id DESC
LIMIT ?`, applicantID, limit)
}

// ForJob lists every event on a job in the order it happened.
func (j *Journal) ForJob(ctx context.Context, jobID string) ([]Entry, error) {
	return j.query(ctx, `
SELECT id, kind, job_id, applicant_id, record_id, status, at_unix_nano
FROM application_events
WHERE job_id = ?
ORDER BY at_unix_nano ASC, id ASC`, jobID)
}

func (j *Journal) query(ctx context.Context, q string, args ...any) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e            Entry
			kind, status string
			recordID     sql.NullString
			at           int64
		)
		if err := rows.Scan(&e.ID, &kind, &e.JobID, &e.ApplicantID, &recordID, &status, &at); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		e.Kind = apply.EventKind(kind)
		e.Status = job.ApplicationStatus(status)
		e.RecordID = recordID.String
		e.At = time.Unix(0, at).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
