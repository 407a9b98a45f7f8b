package metadata

import (
	"regexp"
	"strings"
	"time"

	"github.com/earlyspark/ai-candidate/internal/chunking"
)

var (
	// Capitalised names following "at", "joined" and similar words.
	entityRe = regexp.MustCompile(`\b(?:at|@|joined|for|with|from)\s+((?:[A-Z][\w&.'-]*)(?:\s+[A-Z][\w&.'-]*){0,2})`)

	relationRe = regexp.MustCompile(`\b((?i:before|after|during|while at|prior to|since))\s+(?:(?i:joining|leaving|starting at|moving to)\s+)?((?:[A-Z][\w&.'-]*|(?:19|20)\d{2})(?:\s+[A-Z][\w&.'-]*){0,2})`)

	ongoingRe = regexp.MustCompile(`(?i)\b(currently|present|these days|right now|nowadays)\b`)
)

var entityStopwords = map[string]bool{
	"i": true, "the": true, "a": true, "my": true, "our": true, "we": true, "this": true,
	"jan": true, "feb": true, "mar": true, "apr": true, "may": true, "jun": true, "june": true,
	"jul": true, "july": true, "aug": true, "sep": true, "oct": true, "nov": true, "dec": true,
	"january": true, "february": true, "march": true, "april": true, "august": true,
	"september": true, "october": true, "november": true, "december": true,
	"present": true, "example": true,
}

var conceptRules = map[string][]string{
	"ownership":       {"owned", "ownership", "end-to-end", "accountable"},
	"mentorship":      {"mentor", "coached", "onboarded"},
	"scalability":     {"scale", "scaling", "scalab"},
	"reliability":     {"reliab", "resilien", "on-call", "incident"},
	"collaboration":   {"collaborat", "partnered", "cross-functional"},
	"delivery":        {"shipped", "launched", "delivered", "rolled out"},
	"problem-solving": {"debugged", "root cause", "diagnosed", "solved"},
	"growth":          {"promoted", "grew", "expanded"},
}

// Heuristic extracts metadata without a completion service. now anchors the
// recency classification.
func Heuristic(text string, now time.Time, tags *TagExtractor) Metadata {
	if tags == nil {
		tags = NewTagExtractor(nil)
	}
	m := Metadata{
		Entities: heuristicEntities(text),
		Topics:   tags.ExtractTags(text),
		Tools:    chunking.DetectTechnologies(text),
		Concepts: NewTagExtractor(conceptRules).ExtractTags(text),
		Source:   SourceHeuristic,
	}

	var rel []string
	for _, match := range relationRe.FindAllStringSubmatch(text, -1) {
		target := strings.TrimRight(match[2], ".,'")
		rel = append(rel, strings.ToLower(match[1])+" "+target)
		if len(chunking.ExtractYears(target)) == 0 {
			m.Entities = append(m.Entities, target)
		}
	}
	m.Entities = clean(m.Entities)
	rel = append(rel, chunking.TemporalMarkers(text)...)
	m.TemporalRelationships = clean(rel)
	m.Recency = classifyRecency(text, now)
	return m
}

func heuristicEntities(text string) []string {
	var out []string
	for _, match := range entityRe.FindAllStringSubmatch(text, -1) {
		words := strings.Fields(match[1])
		for len(words) > 0 && entityStopwords[strings.ToLower(strings.Trim(words[len(words)-1], ".,"))] {
			words = words[:len(words)-1]
		}
		for len(words) > 0 && entityStopwords[strings.ToLower(words[0])] {
			words = words[1:]
		}
		if len(words) == 0 {
			continue
		}
		out = append(out, strings.Trim(strings.Join(words, " "), ".,'"))
	}
	return clean(out)
}

// classifyRecency says current for ongoing ranges or present-tense markers,
// recent when the latest year is within two years of now, historical for
// older years and timeless when no time is mentioned.
func classifyRecency(text string, now time.Time) Recency {
	for _, dr := range chunking.ParseDateRanges(text) {
		if dr.Ongoing {
			return RecencyCurrent
		}
	}
	if ongoingRe.MatchString(text) {
		return RecencyCurrent
	}
	years := chunking.ExtractYears(text)
	if len(years) == 0 {
		return RecencyTimeless
	}
	latest := years[0]
	for _, y := range years[1:] {
		latest = max(latest, y)
	}
	if latest >= now.Year()-2 {
		return RecencyRecent
	}
	return RecencyHistorical
}
