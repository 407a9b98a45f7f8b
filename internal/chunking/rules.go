package chunking

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

// Fallback names the segmentation used when no rule matches.
type Fallback string

const (
	FallbackParagraph Fallback = "paragraph"
	FallbackWhole     Fallback = "whole"
)

// Rule marks a line as a structural boundary of SectionType.
type Rule struct {
	Name        string
	Pattern     *regexp.Regexp
	SectionType string
}

// RuleSet is an ordered list of rules tried in priority order. The first
// matching rule wins.
type RuleSet struct {
	Rules    []Rule
	Fallback Fallback
}

// Match returns the first rule matching line.
func (rs RuleSet) Match(line string) (Rule, bool) {
	for _, r := range rs.Rules {
		if r.Pattern.MatchString(line) {
			return r, true
		}
	}
	return Rule{}, false
}

// MatchAny reports whether any line of text matches a rule.
func (rs RuleSet) MatchAny(text string) bool {
	for _, line := range splitLines(text) {
		if _, ok := rs.Match(line); ok {
			return true
		}
	}
	return false
}

func rule(name, pattern, section string) Rule {
	return Rule{Name: name, Pattern: regexp.MustCompile(pattern), SectionType: section}
}

// Section types produced by the built-in rules.
const (
	SectionSummary        = "summary"
	SectionExperience     = "experience"
	SectionJob            = "job"
	SectionEducation      = "education"
	SectionSkills         = "skills"
	SectionProjects       = "projects"
	SectionCertifications = "certifications"
	SectionOther          = "other"

	SectionStoryTitle = "story_title"
	SectionSituation  = "situation"
	SectionTask       = "task"
	SectionAction     = "action"
	SectionResult     = "result"

	SectionProject    = "project"
	SectionSubsection = "subsection"

	SectionTurn       = "turn"
	SectionSkillGroup = "skill_group"
)

// DefaultRules returns the built-in rule set for category. Unknown
// categories get paragraph segmentation with no rules.
func DefaultRules(category string) RuleSet {
	switch category {
	case CategoryResume:
		return RuleSet{Fallback: FallbackParagraph, Rules: []Rule{
			rule("summary header", `(?i)^\s*#*\s*(professional\s+)?(summary|profile|objective|about(\s+me)?)\s*:?\s*$`, SectionSummary),
			rule("experience header", `(?i)^\s*#*\s*((work|professional|relevant)\s+)?(experience|employment(\s+history)?|work\s+history|career\s+history)\s*:?\s*$`, SectionExperience),
			rule("education header", `(?i)^\s*#*\s*(education|academic\s+background)\s*:?\s*$`, SectionEducation),
			rule("skills header", `(?i)^\s*#*\s*((technical|core)\s+)?(skills|competencies|technologies)\s*:?\s*$`, SectionSkills),
			rule("projects header", `(?i)^\s*#*\s*((selected|key|side)\s+)?projects\s*:?\s*$`, SectionProjects),
			rule("certifications header", `(?i)^\s*#*\s*(certifications?|licenses?|awards)\s*:?\s*$`, SectionCertifications),
			rule("dated role line", `(?i)^[^-*•].{2,120}\b(?:19|20)\d{2}\s*(?:-|\x{2013}|\x{2014}|to)\s*(?:[a-z]{3,9}\.?\s+)?(?:(?:19|20)\d{2}|present|current|now)\b`, SectionJob),
			rule("title at company", `^[A-Z][\w/&.,' -]{1,60}\s+(?:at|@)\s+[A-Z][\w&.,' -]{1,60}$`, SectionJob),
			rule("pipe separated role", `^[^|]{2,60}\|[^|]{2,60}(\|[^|]{2,60})?$`, SectionJob),
		}}
	case CategoryExperience:
		return RuleSet{Fallback: FallbackParagraph, Rules: []Rule{
			rule("markdown heading", `^\s*#{1,3}\s+\S`, SectionStoryTitle),
			rule("story label", `(?i)^\s*(story|example|scenario)\s*#?\d*\s*[:.-]`, SectionStoryTitle),
			rule("situation", `(?i)^\s*\**\s*(situation|context|background)\s*\**\s*[:\-]`, SectionSituation),
			rule("task", `(?i)^\s*\**\s*(task|challenge|problem|goal)\s*\**\s*[:\-]`, SectionTask),
			rule("action", `(?i)^\s*\**\s*(action|actions|approach|what i did)\s*\**\s*[:\-]`, SectionAction),
			rule("result", `(?i)^\s*\**\s*(result|results|outcome|impact)\s*\**\s*[:\-]`, SectionResult),
		}}
	case CategoryProjects:
		return RuleSet{Fallback: FallbackParagraph, Rules: []Rule{
			rule("project label", `(?i)^\s*project\s*(name)?\s*[:\-]\s*\S`, SectionProject),
			rule("numbered project", `^\s*\d{1,2}[.)]\s+[A-Z][^.]{2,80}$`, SectionProject),
		}}
	case CategoryCommunication:
		return RuleSet{Fallback: FallbackParagraph, Rules: []Rule{
			rule("timestamped turn", `^\s*\[?\d{1,2}:\d{2}(:\d{2})?\s*([ap]m)?\]?\s*[\w .'-]{1,40}:\s`, SectionTurn),
			rule("speaker turn", `^\s*(\*\*)?[A-Z][\w.'-]*( [A-Z][\w.'-]*){0,2}(\*\*)?:\s+\S`, SectionTurn),
			rule("quoted turn", `^\s*>\s*[\w .'-]{1,40}:\s`, SectionTurn),
		}}
	case CategorySkills:
		return RuleSet{Fallback: FallbackParagraph, Rules: []Rule{
			rule("markdown heading", `^\s*#{1,4}\s+\S`, SectionSkillGroup),
			rule("labelled list", `^\s*[A-Za-z][\w /&+-]{1,40}:\s*\S`, SectionSkillGroup),
			rule("header line", `^\s*[A-Za-z][\w /&+-]{1,40}:\s*$`, SectionSkillGroup),
			rule("caps header", `^\s*[A-Z][A-Z /&+-]{2,40}$`, SectionSkillGroup),
		}}
	default:
		return RuleSet{Fallback: FallbackParagraph}
	}
}

type ruleFile struct {
	Categories map[string]struct {
		Fallback string `toml:"fallback"`
		Rules    []struct {
			Name    string `toml:"name"`
			Pattern string `toml:"pattern"`
			Section string `toml:"section"`
		} `toml:"rules"`
	} `toml:"categories"`
}

// LoadRules reads rule overrides from a TOML file. Override rules for a
// category are tried before its built-in rules.
//
//	[categories.resume]
//	fallback = "paragraph"
//
//	[[categories.resume.rules]]
//	name = "dotted role"
//	pattern = '^.+ · .+ · \d{4}'
//	section = "job"
func LoadRules(path string) (map[string]RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}
	return parseRules(string(data))
}

func parseRules(data string) (map[string]RuleSet, error) {
	var f ruleFile
	if _, err := toml.Decode(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}

	out := make(map[string]RuleSet, len(f.Categories))
	for category, c := range f.Categories {
		rs := RuleSet{Fallback: Fallback(c.Fallback)}
		switch rs.Fallback {
		case "":
			rs.Fallback = DefaultRules(category).Fallback
		case FallbackParagraph, FallbackWhole:
		default:
			return nil, fmt.Errorf("%w: category %s: unknown fallback %q", ErrInvalidRules, category, c.Fallback)
		}
		for _, r := range c.Rules {
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				return nil, fmt.Errorf("%w: category %s rule %q: %v", ErrInvalidRules, category, r.Name, err)
			}
			if strings.TrimSpace(r.Section) == "" {
				return nil, fmt.Errorf("%w: category %s rule %q: section required", ErrInvalidRules, category, r.Name)
			}
			rs.Rules = append(rs.Rules, Rule{Name: r.Name, Pattern: re, SectionType: r.Section})
		}
		out[category] = rs
	}
	return out, nil
}

// mergeRules prepends override rules to the built-in set.
func mergeRules(builtin RuleSet, override RuleSet) RuleSet {
	merged := RuleSet{
		Rules:    append(append([]Rule(nil), override.Rules...), builtin.Rules...),
		Fallback: builtin.Fallback,
	}
	if override.Fallback != "" {
		merged.Fallback = override.Fallback
	}
	return merged
}
