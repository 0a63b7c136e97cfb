// Package filter computes the visible job list from a snapshot and a Spec.
package filter

import (
	"slices"
	"strings"

	"github.com/jobboard/jobboard/internal/job"
	"github.com/jobboard/jobboard/internal/search"
)

// Compute returns the jobs passing every active dimension, in input order.
// It does not modify jobs and keeps no state between calls.
func Compute(jobs []job.Job, spec Spec) ([]job.Job, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	out := make([]job.Job, 0, len(jobs))
	for _, j := range jobs {
		if Matches(j, spec) {
			out = append(out, j.Clone())
		}
	}
	return out, nil
}

// Matches reports whether j passes all active predicates of spec. The spec
// is assumed valid.
func Matches(j job.Job, spec Spec) bool {
	return matchLocation(j, spec.Locations) &&
		matchIndustry(j, spec.Industries) &&
		matchSalary(j, spec.SalaryRange) &&
		search.MatchJob(j, spec.SearchQuery)
}

// exact match, no normalization
func matchLocation(j job.Job, locations []string) bool {
	if len(locations) == 0 {
		return true
	}
	return slices.Contains(locations, j.Location)
}

func matchIndustry(j job.Job, industries []string) bool {
	if len(industries) == 0 {
		return true
	}
	if j.Industry == "" {
		return false
	}
	industry := strings.ToLower(j.Industry)
	for _, selected := range industries {
		if strings.Contains(industry, strings.ToLower(selected)) {
			return true
		}
	}
	return false
}

// Missing and non-numeric salaries never pass an active range.
func matchSalary(j job.Job, r *SalaryRange) bool {
	if r == nil {
		return true
	}
	salary, ok := j.Salary.Float()
	if !ok {
		return false
	}
	return salary >= r.Min && salary <= r.Max
}
