package pipeline

import "strings"

// DefaultExcludedLocations is used when no exclusion list is configured.
var DefaultExcludedLocations = []string{
	"New York", "NY", "NYC", "Manhattan", "Brooklyn",
	"Midwest",
	"Illinois", "Indiana", "Iowa", "Kansas", "Michigan", "Minnesota",
	"Missouri", "Nebraska", "North Dakota", "Ohio", "South Dakota", "Wisconsin",
}

// LocationFilter decides whether a company's location is excluded from outreach.
type LocationFilter struct {
	patterns []string
}

// NewLocationFilter builds a filter from case-insensitive substring patterns.
// Blank patterns are ignored.
func NewLocationFilter(patterns []string) *LocationFilter {
	f := &LocationFilter{}
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			f.patterns = append(f.patterns, p)
		}
	}
	return f
}

// Match returns the first pattern contained in location. An empty location never matches.
func (f *LocationFilter) Match(location string) (string, bool) {
	location = strings.ToLower(strings.TrimSpace(location))
	if location == "" {
		return "", false
	}
	for _, p := range f.patterns {
		if strings.Contains(location, p) {
			return p, true
		}
	}
	return "", false
}
