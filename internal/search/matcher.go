// Package search holds the text matching shared by typed search, quick-filter
// tags and the admin job table. Every caller goes through Normalize so the
// same query matches the same jobs no matter where it was entered.
package search

import (
	"strconv"
	"strings"

	"github.com/jobboard/jobboard/internal/job"
)

// DefaultTags are the one-click quick filters shown next to the search box.
var DefaultTags = []string{"Developer", "Designer", "Remote", "Marketing", "Engineer"}

// Normalize trims and lowercases s.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Text coerces a match target to a string. Nil pointers and nil values are
// "", numbers use their shortest decimal form.
func Text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case *string:
		if t == nil {
			return ""
		}
		return *t
	case int:
		return strconv.Itoa(t)
	case *int:
		if t == nil {
			return ""
		}
		return strconv.Itoa(*t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case job.Salary:
		return t.Raw
	case interface{ String() string }:
		return t.String()
	default:
		return ""
	}
}

// Contains reports whether the normalized query is a substring of the
// normalized field. An empty query matches everything.
func Contains(field any, query string) bool {
	q := Normalize(query)
	if q == "" {
		return true
	}
	return strings.Contains(Normalize(Text(field)), q)
}

// MatchAny reports whether query matches at least one of fields. An empty
// query matches.
func MatchAny(query string, fields ...any) bool {
	q := Normalize(query)
	if q == "" {
		return true
	}
	for _, f := range fields {
		if strings.Contains(Normalize(Text(f)), q) {
			return true
		}
	}
	return false
}

// QueryFields are the job fields a committed search query is matched
// against: title, description, location, company name, position and job type.
func QueryFields(j job.Job) []any {
	return []any{j.Title, j.Description, j.Location, j.CompanyName(), j.Position, j.JobType}
}

// MatchJob is the free-text predicate used by the filter engine.
func MatchJob(j job.Job, query string) bool {
	return MatchAny(query, QueryFields(j)...)
}

// PreviewFields are the fields the search page previews against while the
// user is still typing.
func PreviewFields(j job.Job) []any {
	return []any{j.Title, j.CompanyName(), j.Position, j.JobType}
}

func MatchPreview(j job.Job, query string) bool {
	return MatchAny(query, PreviewFields(j)...)
}

// AdminMatch is the admin job table search: title or company name.
func AdminMatch(j job.Job, text string) bool {
	return MatchAny(text, j.Title, j.CompanyName())
}

// FindTag returns the configured tag equal to name after normalization.
func FindTag(tags []string, name string) (string, bool) {
	n := Normalize(name)
	for _, tag := range tags {
		if Normalize(tag) == n {
			return tag, true
		}
	}
	return "", false
}
