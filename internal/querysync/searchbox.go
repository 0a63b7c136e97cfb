package querysync

import (
	"fmt"
	"sync"

	"github.com/jobboard/jobboard/internal/filter"
	"github.com/jobboard/jobboard/internal/job"
	"github.com/jobboard/jobboard/internal/search"
)

// CommitFunc pushes a search patch to whatever holds the spec.
type CommitFunc func(filter.Patch) error

// SearchBox holds the text being typed. Edit never reaches the filter;
// Commit, Clear and ApplyTag do.
type SearchBox struct {
	mu        sync.Mutex
	input     string
	committed string
	tags      []string
	commit    CommitFunc
}

func NewSearchBox(initial string, tags []string, commit CommitFunc) *SearchBox {
	if len(tags) == 0 {
		tags = search.DefaultTags
	}
	return &SearchBox{
		input:     initial,
		committed: initial,
		tags:      append([]string(nil), tags...),
		commit:    commit,
	}
}

func (s *SearchBox) Edit(text string) {
	s.mu.Lock()
	s.input = text
	s.mu.Unlock()
}

func (s *SearchBox) Input() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.input
}

// Committed is the query last pushed to the filter.
func (s *SearchBox) Committed() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed
}

func (s *SearchBox) Tags() []string {
	return append([]string(nil), s.tags...)
}

// Commit pushes the current input as the search query.
func (s *SearchBox) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.push(s.input)
}

// CommitText replaces the input with text and commits it.
func (s *SearchBox) CommitText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.input = text
	return s.push(text)
}

// Clear empties the input and the committed query.
func (s *SearchBox) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.input = ""
	return s.push("")
}

// ApplyTag commits one of the quick filter tags. Matching is case
// insensitive; the tag is committed in its canonical spelling.
func (s *SearchBox) ApplyTag(name string) (string, error) {
	tag, ok := search.FindTag(s.tags, name)
	if !ok {
		return "", fmt.Errorf("unknown tag %q", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.input = tag
	return tag, s.push(tag)
}

// Preview lists the jobs whose title, company, position or job type match
// the uncommitted input. Nothing is committed.
func (s *SearchBox) Preview(jobs []job.Job) []job.Job {
	q := search.Normalize(s.Input())
	if q == "" {
		return nil
	}
	var out []job.Job
	for _, j := range jobs {
		if search.MatchPreview(j, q) {
			out = append(out, j)
		}
	}
	return out
}

func (s *SearchBox) push(q string) error {
	if s.commit != nil {
		if err := s.commit(FromQuery(q)); err != nil {
			return err
		}
	}
	s.committed = q
	return nil
}
