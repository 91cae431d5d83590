package scraper

import "strings"

// Matcher decides whether an image source looks like a schedule.
type Matcher interface {
	Name() string
	Match(src string) bool
}

// MarkerMatcher matches sources containing any of Markers verbatim
// (e.g. the "/R7/" upload folder the site uses for schedules).
type MarkerMatcher struct {
	Markers []string
}

func (m MarkerMatcher) Name() string { return "marker" }

func (m MarkerMatcher) Match(src string) bool {
	for _, mk := range m.Markers {
		if mk != "" && strings.Contains(src, mk) {
			return true
		}
	}
	return false
}

// KeywordMatcher matches sources containing any keyword, case-insensitively.
type KeywordMatcher struct {
	Keywords []string
}

func (m KeywordMatcher) Name() string { return "keyword" }

func (m KeywordMatcher) Match(src string) bool {
	low := strings.ToLower(src)
	for _, kw := range m.Keywords {
		if kw != "" && strings.Contains(low, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// DefaultMatchers returns the marker matcher followed by the keyword fallback.
func DefaultMatchers(markers, keywords []string) []Matcher {
	out := make([]Matcher, 0, 2)
	if len(markers) > 0 {
		out = append(out, MarkerMatcher{Markers: markers})
	}
	if len(keywords) > 0 {
		out = append(out, KeywordMatcher{Keywords: keywords})
	}
	return out
}

// pick returns the first source accepted by the earliest matcher that accepts
// anything at all.
func pick(srcs []string, matchers []Matcher) (src string, matcher string, ok bool) {
	for _, m := range matchers {
		for _, s := range srcs {
			if m.Match(s) {
				return s, m.Name(), true
			}
		}
	}
	return "", "", false
}
