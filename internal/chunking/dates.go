package chunking

import (
	"regexp"
	"strconv"
	"strings"
)

// YearMonth is a calendar month. Month is 1-12.
type YearMonth struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// Before reports whether ym is strictly earlier than other.
func (ym YearMonth) Before(other YearMonth) bool {
	if ym.Year != other.Year {
		return ym.Year < other.Year
	}
	return ym.Month < other.Month
}

// DateRange is a span like "Jan 2018 - Mar 2021" or "2019 - Present".
type DateRange struct {
	Raw     string    `json:"raw"`
	Start   YearMonth `json:"start"`
	End     YearMonth `json:"end"`
	Ongoing bool      `json:"ongoing"`

	// StartMonthKnown and EndMonthKnown are false for year-only bounds,
	// in which case Start.Month is 1 and End.Month is 12.
	StartMonthKnown bool `json:"start_month_known"`
	EndMonthKnown   bool `json:"end_month_known"`
}

const monthPattern = `(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\.?`

var (
	dateRangeRe = regexp.MustCompile(`(?i)\b(?:` + monthPattern + `\s+)?((?:19|20)\d{2})\s*(?:-|\x{2013}|\x{2014}|to|until)\s*(?:(?:` + monthPattern + `\s+)?((?:19|20)\d{2})|(present|current|now|today))\b`)
	monthYearRe = regexp.MustCompile(`(?i)\b` + monthPattern + `\s+((?:19|20)\d{2})\b`)
	yearRe      = regexp.MustCompile(`\b(?:19|20)\d{2}\b`)
)

var monthNumbers = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

// MonthNumber returns 1-12 for a month name or abbreviation, or 0.
func MonthNumber(name string) int {
	name = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(name), "."))
	if len(name) < 3 {
		return 0
	}
	return monthNumbers[name[:3]]
}

// ParseDateRanges extracts every date range in text, in order of appearance.
func ParseDateRanges(text string) []DateRange {
	matches := dateRangeRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]DateRange, 0, len(matches))
	for _, m := range matches {
		startYear, _ := strconv.Atoi(m[2])
		dr := DateRange{
			Raw:   strings.TrimSpace(m[0]),
			Start: YearMonth{Year: startYear, Month: 1},
		}
		if mo := MonthNumber(m[1]); mo > 0 {
			dr.Start.Month = mo
			dr.StartMonthKnown = true
		}

		if m[5] != "" {
			dr.Ongoing = true
		} else {
			endYear, _ := strconv.Atoi(m[4])
			dr.End = YearMonth{Year: endYear, Month: 12}
			if mo := MonthNumber(m[3]); mo > 0 {
				dr.End.Month = mo
				dr.EndMonthKnown = true
			}
			if dr.End.Before(dr.Start) {
				continue
			}
		}
		out = append(out, dr)
	}
	return out
}

// ExtractYears returns the distinct four-digit years mentioned in text.
func ExtractYears(text string) []int {
	var years []int
	seen := map[int]bool{}
	for _, y := range yearRe.FindAllString(text, -1) {
		n, _ := strconv.Atoi(y)
		if !seen[n] {
			seen[n] = true
			years = append(years, n)
		}
	}
	return years
}

// TemporalMarkers returns date ranges, month-year mentions and bare years
// found in text, deduplicated, in order of appearance.
func TemporalMarkers(text string) []string {
	var markers []string
	seen := map[string]bool{}
	add := func(s string) {
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			return
		}
		seen[key] = true
		markers = append(markers, s)
	}

	covered := text
	for _, dr := range ParseDateRanges(text) {
		add(dr.Raw)
		covered = strings.Replace(covered, dr.Raw, " ", 1)
	}
	for _, m := range monthYearRe.FindAllString(covered, -1) {
		add(m)
		covered = strings.Replace(covered, m, " ", 1)
	}
	for _, y := range yearRe.FindAllString(covered, -1) {
		add(y)
	}
	return markers
}

func mergeMarkers(lists ...[]string) []string {
	var out []string
	seen := map[string]bool{}
	for _, l := range lists {
		for _, m := range l {
			key := strings.ToLower(m)
			if !seen[key] {
				seen[key] = true
				out = append(out, m)
			}
		}
	}
	return out
}
