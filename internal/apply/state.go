package apply

import "github.com/jobboard/jobboard/internal/job"

type Kind int

const (
	NotApplied Kind = iota
	Pending
	Confirmed
)

func (k Kind) String() string {
	switch k {
	case NotApplied:
		return "not_applied"
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	}
	return "unknown"
}

// State is the application state of one (job, applicant) pair. Status is
// only meaningful when Kind is Confirmed. A rolled back pair reports
// NotApplied.
type State struct {
	Kind   Kind                  `json:"kind"`
	Status job.ApplicationStatus `json:"status,omitempty"`
}

func (s State) String() string {
	if s.Kind == Confirmed {
		return "confirmed(" + string(s.Status) + ")"
	}
	return s.Kind.String()
}

// Applied is true for Pending and every Confirmed status.
func (s State) Applied() bool {
	return s.Kind != NotApplied
}

// MarshalText lets State be used directly in JSON responses.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}
