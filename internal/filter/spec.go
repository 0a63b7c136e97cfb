package filter

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

var ErrInvalidSalaryRange = errors.New("invalid salary range")

// ValidationError reports a FilterSpec the engine refuses to run. The range
// is never clamped; the caller has to send a corrected one.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid filter %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidSalaryRange
}

type SalaryRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Spec is the set of active constraints. Empty slices, a nil range and an
// empty query each leave their dimension unconstrained.
type Spec struct {
	Locations   []string     `json:"locations,omitempty"`
	Industries  []string     `json:"industries,omitempty"`
	SalaryRange *SalaryRange `json:"salaryRange,omitempty"`
	SearchQuery string       `json:"searchQuery,omitempty"`
}

func (s Spec) Validate() error {
	r := s.SalaryRange
	if r == nil {
		return nil
	}
	if math.IsNaN(r.Min) || math.IsNaN(r.Max) {
		return &ValidationError{Field: "salaryRange", Reason: "bounds must be numbers"}
	}
	if r.Min > r.Max {
		return &ValidationError{Field: "salaryRange", Reason: fmt.Sprintf("min %v is greater than max %v", r.Min, r.Max)}
	}
	return nil
}

// Empty reports whether no dimension is active.
func (s Spec) Empty() bool {
	return len(s.Locations) == 0 && len(s.Industries) == 0 && s.SalaryRange == nil && s.SearchQuery == ""
}

func (s Spec) Clone() Spec {
	out := Spec{
		Locations:   slices.Clone(s.Locations),
		Industries:  slices.Clone(s.Industries),
		SearchQuery: s.SearchQuery,
	}
	if s.SalaryRange != nil {
		r := *s.SalaryRange
		out.SalaryRange = &r
	}
	return out
}

// Patch changes a subset of Spec fields. Nil fields are left alone;
// ClearSalary drops the salary range.
type Patch struct {
	Locations   *[]string
	Industries  *[]string
	SalaryRange *SalaryRange
	ClearSalary bool
	SearchQuery *string
}

// Apply returns spec with the patch applied. The result is validated.
func (p Patch) Apply(spec Spec) (Spec, error) {
	out := spec.Clone()
	if p.Locations != nil {
		out.Locations = slices.Clone(*p.Locations)
	}
	if p.Industries != nil {
		out.Industries = slices.Clone(*p.Industries)
	}
	if p.ClearSalary {
		out.SalaryRange = nil
	}
	if p.SalaryRange != nil {
		r := *p.SalaryRange
		out.SalaryRange = &r
	}
	if p.SearchQuery != nil {
		out.SearchQuery = *p.SearchQuery
	}
	if err := out.Validate(); err != nil {
		return spec, err
	}
	return out, nil
}
