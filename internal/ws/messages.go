package ws

import (
	"time"

	"github.com/jobboard/jobboard/internal/filter"
	"github.com/jobboard/jobboard/internal/job"
)

type BaseMessage struct {
	Type string `json:"type"`
}

// Client → Server

type PingMessage struct {
	Type string `json:"type"`
}

// PreviewRequest asks for the live preview of text still being typed. It
// never changes the shared view.
type PreviewRequest struct {
	Type  string `json:"type"`
	Query string `json:"query"`
}

// Server → Client

type HelloMessage struct {
	Type     string   `json:"type"`
	ClientID string   `json:"client_id"`
	Tags     []string `json:"tags"`
}

type ViewMessage struct {
	Type      string      `json:"type"`
	Version   uint64      `json:"version"`
	Total     int         `json:"total"`
	Spec      filter.Spec `json:"spec"`
	Jobs      []job.Job   `json:"jobs"`
	UpdatedAt time.Time   `json:"updated_at"`
}

type JobSummary struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Company  string `json:"company,omitempty"`
	Location string `json:"location,omitempty"`
	JobType  string `json:"job_type,omitempty"`
}

type PreviewMessage struct {
	Type  string       `json:"type"`
	Query string       `json:"query"`
	Jobs  []JobSummary `json:"jobs"`
}

type PongMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func summarize(jobs []job.Job) []JobSummary {
	out := make([]JobSummary, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, JobSummary{
			ID:       j.ID,
			Title:    j.Title,
			Company:  j.CompanyName(),
			Location: j.Location,
			JobType:  j.JobType,
		})
	}
	return out
}
