package chunking

import (
	"context"
	"regexp"
	"strings"
)

// SkillsStrategy chunks skill listings by skill-category header.
type SkillsStrategy struct {
	rules   RuleSet
	budget  int
	overlap int
}

var _ Strategy = (*SkillsStrategy)(nil)

// NewSkillsStrategy creates a skills chunker.
func NewSkillsStrategy(rules RuleSet, budget, overlap int) *SkillsStrategy {
	return &SkillsStrategy{rules: rules, budget: budget, overlap: overlap}
}

var (
	proficiencyWords = `expert|advanced|proficient|intermediate|familiar|beginner|basic|fluent|native|working knowledge`
	proficiencyParen = regexp.MustCompile(`(?i)^(.+?)\s*\((` + proficiencyWords + `)\)\s*$`)
	proficiencyDash  = regexp.MustCompile(`(?i)^(.+?)\s+[-:\x{2013}]\s+(` + proficiencyWords + `)\s*$`)
	proficiencyLabel = regexp.MustCompile(`(?i)^\s*(` + proficiencyWords + `)\s*(?:in|with)?\s*$`)
)

type skillGroup struct {
	header string
	lines  []string
}

// Chunk implements Strategy.
func (s *SkillsStrategy) Chunk(_ context.Context, content string, tags []string) []Chunk {
	groups := s.groups(content)
	if len(groups) == 0 {
		return fallbackChunks(content, CategorySkills, tags, s.rules.Fallback, s.budget, s.overlap)
	}

	var chunks []Chunk
	for _, g := range groups {
		label, inline := splitLabel(g.header)
		items := parseSkillItems(append([]string{inline}, g.lines...))
		meta := map[string]any{
			MetaSectionType:   SectionSkillGroup,
			MetaSkillCategory: label,
		}

		names := make([]string, 0, len(items))
		prof := map[string]any{}
		for _, it := range items {
			names = append(names, it.name)
			if it.level != "" {
				prof[it.name] = it.level
			}
		}
		// "Expert: Go, Python" assigns the header level to every item.
		if m := proficiencyLabel.FindStringSubmatch(label); m != nil {
			for _, n := range names {
				if _, ok := prof[n]; !ok {
					prof[n] = strings.ToLower(m[1])
				}
			}
		}
		if len(names) > 0 {
			meta[MetaSkills] = names
		}
		if len(prof) > 0 {
			meta[MetaProficiency] = prof
		}

		for i, piece := range s.fit(g) {
			m := meta
			if i > 0 {
				m = cloneMeta(meta)
				m[MetaSplitPart] = i + 1
			}
			chunks = append(chunks, newChunk(piece, CategorySkills, tags, m))
		}
	}
	return chunks
}

func (s *SkillsStrategy) groups(content string) []*skillGroup {
	var (
		out     []*skillGroup
		current *skillGroup
	)
	for _, line := range splitLines(content) {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !isBullet(trimmed) {
			if _, ok := s.rules.Match(trimmed); ok {
				current = &skillGroup{header: strings.TrimSpace(strings.TrimLeft(trimmed, "#"))}
				out = append(out, current)
				continue
			}
		}
		if current == nil {
			current = &skillGroup{}
			out = append(out, current)
		}
		current.lines = append(current.lines, trimmed)
	}
	for _, g := range out {
		if g.header != "" {
			return out
		}
	}
	return nil
}

// splitLabel separates "Languages: Go, Python" into label and inline list.
func splitLabel(header string) (string, string) {
	if i := strings.Index(header, ":"); i >= 0 {
		return strings.TrimSpace(header[:i]), strings.TrimSpace(header[i+1:])
	}
	return header, ""
}

type skillItem struct {
	name  string
	level string
}

func parseSkillItems(lines []string) []skillItem {
	var out []skillItem
	seen := map[string]bool{}
	for _, line := range lines {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*+•▪"))
		if line == "" {
			continue
		}
		for _, part := range strings.FieldsFunc(line, func(r rune) bool { return r == ',' || r == ';' || r == '|' }) {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			it := skillItem{name: part}
			if m := proficiencyParen.FindStringSubmatch(part); m != nil {
				it = skillItem{name: strings.TrimSpace(m[1]), level: strings.ToLower(m[2])}
			} else if m := proficiencyDash.FindStringSubmatch(part); m != nil {
				it = skillItem{name: strings.TrimSpace(m[1]), level: strings.ToLower(m[2])}
			}
			key := strings.ToLower(it.name)
			if !seen[key] {
				seen[key] = true
				out = append(out, it)
			}
		}
	}
	return out
}

func (s *SkillsStrategy) fit(g *skillGroup) []string {
	text := strings.TrimSpace(strings.Join(append([]string{g.header}, g.lines...), "\n"))
	if EstimateTokens(text) <= s.budget {
		return []string{text}
	}
	if len(g.lines) == 0 {
		return splitWithOverlap(text, s.budget, s.overlap)
	}
	room := max(s.budget-EstimateTokens(g.header)-1, s.budget/2)
	var pieces []string
	for _, group := range packUnits(g.lines, room, "\n") {
		if g.header == "" {
			pieces = append(pieces, group)
			continue
		}
		pieces = append(pieces, g.header+"\n"+group)
	}
	return pieces
}

// GenericStrategy packs paragraphs up to the budget. It serves preferences
// and any category without a dedicated strategy.
type GenericStrategy struct {
	category string
	rules    RuleSet
	budget   int
	overlap  int
}

var _ Strategy = (*GenericStrategy)(nil)

// NewGenericStrategy creates a paragraph chunker for category.
func NewGenericStrategy(category string, rules RuleSet, budget, overlap int) *GenericStrategy {
	return &GenericStrategy{category: category, rules: rules, budget: budget, overlap: overlap}
}

// Chunk implements Strategy.
func (s *GenericStrategy) Chunk(_ context.Context, content string, tags []string) []Chunk {
	return fallbackChunks(content, s.category, tags, s.rules.Fallback, s.budget, s.overlap)
}
