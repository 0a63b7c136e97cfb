package job

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

type ApplicationStatus string

const (
	StatusPending  ApplicationStatus = "pending"
	StatusAccepted ApplicationStatus = "accepted"
	StatusRejected ApplicationStatus = "rejected"
)

// Valid reports whether s is one of the statuses the portal emits.
func (s ApplicationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether s is an admin decision.
func (s ApplicationStatus) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

type ApplicationRecord struct {
	ID          string            `json:"_id,omitempty"`
	ApplicantID string            `json:"applicant"`
	Status      ApplicationStatus `json:"status"`
	AppliedAt   time.Time         `json:"appliedAt"`
}

type Company struct {
	ID    string `json:"_id,omitempty"`
	Name  string `json:"name"`
	Logo  string `json:"logo,omitempty"`
	About string `json:"about,omitempty"`
}

type Job struct {
	ID           string              `json:"_id"`
	Title        string              `json:"title,omitempty"`
	Description  string              `json:"description,omitempty"`
	Requirements string              `json:"requirements,omitempty"`
	Location     string              `json:"location,omitempty"`
	Industry     string              `json:"industry,omitempty"`
	JobType      string              `json:"jobType,omitempty"`
	Position     *int                `json:"position,omitempty"`
	Experience   *int                `json:"experience,omitempty"`
	Salary       Salary              `json:"salary"`
	Company      *Company            `json:"company,omitempty"`
	CreatedAt    time.Time           `json:"createdAt"`
	Applications []ApplicationRecord `json:"applications,omitempty"`
}

// Clone copies the job and its applications. The company is shared: jobs
// reference it, they do not own it.
func (j Job) Clone() Job {
	out := j
	if j.Applications != nil {
		out.Applications = make([]ApplicationRecord, len(j.Applications))
		copy(out.Applications, j.Applications)
	}
	if j.Position != nil {
		p := *j.Position
		out.Position = &p
	}
	if j.Experience != nil {
		e := *j.Experience
		out.Experience = &e
	}
	return out
}

// CompanyName returns the company name or "" when the job has no company.
func (j Job) CompanyName() string {
	if j.Company == nil {
		return ""
	}
	return j.Company.Name
}

// FindApplication returns the record for applicantID, if any.
func (j Job) FindApplication(applicantID string) (ApplicationRecord, bool) {
	for _, rec := range j.Applications {
		if rec.ApplicantID == applicantID {
			return rec, true
		}
	}
	return ApplicationRecord{}, false
}

func (j Job) ApplicantCount() int {
	return len(j.Applications)
}

// RequirementList splits requirements on newlines when any are present and
// on commas otherwise. Blank items are dropped.
func (j Job) RequirementList() []string {
	if strings.TrimSpace(j.Requirements) == "" {
		return nil
	}
	sep := ","
	if strings.Contains(j.Requirements, "\n") {
		sep = "\n"
	}
	var out []string
	for _, item := range strings.Split(j.Requirements, sep) {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// PostedDate formats CreatedAt as YYYY-MM-DD, or "" when unset.
func (j Job) PostedDate() string {
	if j.CreatedAt.IsZero() {
		return ""
	}
	return j.CreatedAt.UTC().Format("2006-01-02")
}

// Salary holds the salary exactly as the portal delivered it. The portal
// sends numbers, numeric strings, free text or nothing at all.
type Salary struct {
	Raw   string
	Valid bool
}

func NewSalary(v float64) Salary {
	return Salary{Raw: strconv.FormatFloat(v, 'f', -1, 64), Valid: true}
}

func SalaryText(s string) Salary {
	return Salary{Raw: s, Valid: true}
}

// Float parses the salary. ok is false for missing, non-numeric and
// non-finite values.
func (s Salary) Float() (float64, bool) {
	if !s.Valid {
		return 0, false
	}
	raw := strings.TrimSpace(s.Raw)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func (s Salary) String() string {
	return s.Raw
}

func (s Salary) MarshalJSON() ([]byte, error) {
	if !s.Valid {
		return []byte("null"), nil
	}
	if v, ok := s.Float(); ok && strings.TrimSpace(s.Raw) == s.Raw {
		return []byte(strconv.FormatFloat(v, 'f', -1, 64)), nil
	}
	return json.Marshal(s.Raw)
}

func (s *Salary) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*s = Salary{}
		return nil
	case data[0] == '"':
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*s = Salary{Raw: text, Valid: true}
		return nil
	default:
		// booleans, objects and arrays carry no salary
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			*s = Salary{}
			return nil
		}
		*s = Salary{Raw: n.String(), Valid: true}
		return nil
	}
}
