// Package querysync maps URL query parameters onto filter specs and owns
// the search box, whose edits only reach the filter when committed.
package querysync

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/jobboard/jobboard/internal/filter"
)

const (
	ParamQuery     = "q"
	ParamLocation  = "location"
	ParamIndustry  = "industry"
	ParamSalaryMin = "salary_min"
	ParamSalaryMax = "salary_max"
)

// FromQuery returns the patch setting the search query to q.
func FromQuery(q string) filter.Patch {
	return filter.Patch{SearchQuery: &q}
}

// Init applies startup precedence: a q parameter that is present, even
// empty, replaces the retained search query; an absent one leaves prior
// untouched.
func Init(values url.Values, prior filter.Spec) (filter.Spec, error) {
	if !values.Has(ParamQuery) {
		return prior.Clone(), nil
	}
	return FromQuery(values.Get(ParamQuery)).Apply(prior)
}

// ParsePatch reads every filter dimension present in values. Dimensions
// whose parameters are absent are left out of the patch.
func ParsePatch(values url.Values) (filter.Patch, error) {
	var p filter.Patch
	if values.Has(ParamQuery) {
		q := values.Get(ParamQuery)
		p.SearchQuery = &q
	}
	if values.Has(ParamLocation) {
		locs := splitList(values[ParamLocation])
		p.Locations = &locs
	}
	if values.Has(ParamIndustry) {
		inds := splitList(values[ParamIndustry])
		p.Industries = &inds
	}

	hasMin, hasMax := values.Has(ParamSalaryMin), values.Has(ParamSalaryMax)
	if hasMin != hasMax {
		return filter.Patch{}, &filter.ValidationError{Field: "salaryRange", Reason: "salary_min and salary_max must be given together"}
	}
	if hasMin {
		lo, err := parseBound(ParamSalaryMin, values.Get(ParamSalaryMin))
		if err != nil {
			return filter.Patch{}, err
		}
		hi, err := parseBound(ParamSalaryMax, values.Get(ParamSalaryMax))
		if err != nil {
			return filter.Patch{}, err
		}
		p.SalaryRange = &filter.SalaryRange{Min: lo, Max: hi}
	}
	return p, nil
}

// ToQuery renders the active dimensions of spec as query parameters.
func ToQuery(spec filter.Spec) url.Values {
	v := url.Values{}
	if spec.SearchQuery != "" {
		v.Set(ParamQuery, spec.SearchQuery)
	}
	for _, l := range spec.Locations {
		v.Add(ParamLocation, l)
	}
	for _, i := range spec.Industries {
		v.Add(ParamIndustry, i)
	}
	if r := spec.SalaryRange; r != nil {
		v.Set(ParamSalaryMin, strconv.FormatFloat(r.Min, 'f', -1, 64))
		v.Set(ParamSalaryMax, strconv.FormatFloat(r.Max, 'f', -1, 64))
	}
	return v
}

// splitList accepts both repeated parameters and comma separated values.
func splitList(raw []string) []string {
	var out []string
	for _, item := range raw {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func parseBound(name, raw string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, &filter.ValidationError{Field: "salaryRange", Reason: fmt.Sprintf("%s is not a number", name)}
	}
	return f, nil
}
