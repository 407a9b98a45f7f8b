package ranking

import (
	"regexp"
	"strings"

	"github.com/earlyspark/ai-candidate/internal/chunking"
)

var preferenceTags = map[string]bool{
	"preference":    true,
	"preferences":   true,
	"work-style":    true,
	"work style":    true,
	"day-to-day":    true,
	"ideal-role":    true,
	"values":        true,
	"environment":   true,
	"team-culture":  true,
	"collaboration": true,
}

var preferencePhraseRe = regexp.MustCompile(`(?i)\b(i prefer|i enjoy|i like to|i thrive|i work best|ideal role|ideal team|day[- ]to[- ]day|looking for|work style|what matters to me|i value)\b`)

// isPreferenceChunk reports whether c carries preference signals: the
// preferences category, a preference tag, a skill category or proficiency field,
// or a preference phrase in its text.
func isPreferenceChunk(c chunking.Chunk) bool {
	if c.Category == chunking.CategoryPreferences {
		return true
	}
	for _, t := range c.Tags {
		if preferenceTags[strings.ToLower(strings.TrimSpace(t))] {
			return true
		}
	}
	if c.Metadata != nil {
		if _, ok := c.Metadata[chunking.MetaSkillCategory]; ok {
			return true
		}
		if _, ok := c.Metadata[chunking.MetaProficiency]; ok {
			return true
		}
	}
	return preferencePhraseRe.MatchString(c.Content)
}
