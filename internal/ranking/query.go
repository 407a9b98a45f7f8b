package ranking

import (
	"regexp"
	"strconv"
	"strings"
)

// TemporalType is the direction of a before/after query.
type TemporalType string

const (
	Before TemporalType = "before"
	After  TemporalType = "after"
)

// TemporalContext is the anchor of a "before X" or "after X" query. It lives
// for one search call.
type TemporalContext struct {
	Type      TemporalType `json:"type"`
	Reference string       `json:"reference"`
	// ReferenceYear is nil until resolved against the corpus.
	ReferenceYear *int `json:"reference_year,omitempty"`
	// ReferenceMonth is 1-12 when the resolved range names a month, else 0.
	ReferenceMonth int `json:"reference_month,omitempty"`
}

var (
	temporalRe = regexp.MustCompile(`(?i)\b(before|after|during|prior to|since|until|following|` +
		`career (progression|path|history|journey)|progress(ed|ion)|over the years|timeline|` +
		`first (job|role)|early (career|days)|most recent|latest (role|job)|previous (role|job|company)|` +
		`earlier|later on|then|next|subsequently|chronolog\w*)\b`)

	anchorRe = regexp.MustCompile(`(?i)\b(before|prior to|after|following)\s+` +
		`(?:(?:joining|leaving|starting at|working at|moving to|my time at|i joined|i left|you joined|you left)\s+)?` +
		`(.+?)(?:\s*[,;:?.!]|\s+(?:what|how|did|do|does|were|was|where|which|who|when|why|tell|can|could|would)\b|\s*$)`)

	preferenceRe = regexp.MustCompile(`(?i)\b(prefer\w*|day[- ]to[- ]day|ideal (role|job|team|company|environment)|` +
		`work style|working style|what do you (like|enjoy|value|want)|looking for in|dream job|motivat\w*|` +
		`would you rather|environment do you)\b`)

	yearOnlyRe = regexp.MustCompile(`^(19|20)\d{2}$`)
)

// IsTemporal reports whether query uses before/after/during phrasing,
// career-progression language or sequence words.
func IsTemporal(query string) bool {
	return temporalRe.MatchString(query)
}

// IsPreference reports whether query asks about work preferences.
func IsPreference(query string) bool {
	return preferenceRe.MatchString(query)
}

// ParseTemporalContext extracts the before/after anchor from query, or nil.
// A four-digit year anchor is resolved immediately.
func ParseTemporalContext(query string) *TemporalContext {
	m := anchorRe.FindStringSubmatch(strings.TrimSpace(query))
	if m == nil {
		return nil
	}
	ref := strings.TrimSpace(m[2])
	for _, p := range []string{"the ", "my ", "your "} {
		if len(ref) > len(p) && strings.EqualFold(ref[:len(p)], p) {
			ref = ref[len(p):]
		}
	}
	ref = strings.Trim(ref, `"'`)
	if ref == "" {
		return nil
	}

	tc := &TemporalContext{Type: After, Reference: ref}
	switch strings.ToLower(m[1]) {
	case "before", "prior to":
		tc.Type = Before
	}
	if yearOnlyRe.MatchString(ref) {
		y, _ := strconv.Atoi(ref)
		tc.ReferenceYear = &y
	}
	return tc
}

// mentionCount counts case-insensitive whole-word occurrences of ref in text.
func mentionCount(text, ref string) int {
	if ref == "" {
		return 0
	}
	re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(ref) + `\b`)
	if err != nil {
		return 0
	}
	return len(re.FindAllStringIndex(text, -1))
}
