package metadata

import (
	"sort"
	"strings"
)

// DefaultTagRules maps tags to keywords that indicate them. Keywords are
// lowercase substrings; a leading or trailing space anchors a word edge.
var DefaultTagRules = map[string][]string{
	// Work
	"leadership":       {"led ", "lead ", "leading", "leadership", "managed", "manager", "mentor", "head of"},
	"architecture":     {"architecture", "architected", "system design", "designed the"},
	"backend":          {"backend", "back-end", " api", "microservice", "server"},
	"frontend":         {"frontend", "front-end", " ui", "react", "vue", "css"},
	"data":             {"data platform", "pipeline", "etl", "analytics", "warehouse", "ingestion"},
	"infrastructure":   {"infrastructure", "kubernetes", "terraform", "devops", " sre ", "on-call"},
	"machine-learning": {"machine learning", " ml ", "llm", "embedding", "model training", " rag "},
	"payments":         {"billing", "payments", "invoic"},
	"reliability":      {"incident", "outage", "reliability", "uptime", "postmortem"},
	"performance":      {"latency", "throughput", "optimiz", "performance"},
	"security":         {"security", "auth", "encryption", "compliance"},
	"testing":          {"testing", "test suite", "coverage", "qa "},

	// People
	"collaboration": {"collaborat", "cross-functional", "partnered", "stakeholder"},
	"communication": {"presented", "wrote", "documentation", "communicat"},
	"hiring":        {"hiring", "interview", "recruit"},

	// Career
	"career":      {"promoted", "joined", "left ", "career", "role"},
	"preferences": {"prefer", "day-to-day", "ideal role", "work style", "enjoy", "remote"},
	"education":   {"degree", "university", "bachelor", "master", "bootcamp"},
}

// TagExtractor derives tags from text with keyword rules.
type TagExtractor struct {
	rules map[string][]string
}

// NewTagExtractor creates a tag extractor. Empty rules use DefaultTagRules.
func NewTagExtractor(rules map[string][]string) *TagExtractor {
	if len(rules) == 0 {
		rules = DefaultTagRules
	}
	return &TagExtractor{rules: rules}
}

// ExtractTags returns the sorted tags whose keywords occur in text.
func (t *TagExtractor) ExtractTags(text string) []string {
	lower := " " + strings.ToLower(text) + " "
	var tags []string
	for tag, keywords := range t.rules {
		for _, kw := range keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				tags = append(tags, tag)
				break
			}
		}
	}
	sort.Strings(tags)
	return tags
}

// QueryTags returns the tags used for tag-overlap scoring: the extracted
// tools, topics and entities plus keyword tags, lowercased and deduplicated.
func (t *TagExtractor) QueryTags(query string, m Metadata) []string {
	var all []string
	all = append(all, m.Tools...)
	all = append(all, m.Topics...)
	all = append(all, m.Entities...)
	all = append(all, t.ExtractTags(query)...)
	return clean(lowerAll(all))
}
