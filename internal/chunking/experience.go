package chunking

import (
	"context"
	"strings"
)

// StarStrategy chunks behavioral stories written in Situation, Task,
// Action, Result form. A story opens at a title line, or at a Situation
// label once the previous story reached its Result.
type StarStrategy struct {
	rules   RuleSet
	budget  int
	overlap int
}

var _ Strategy = (*StarStrategy)(nil)

// NewStarStrategy creates a STAR story chunker.
func NewStarStrategy(rules RuleSet, budget, overlap int) *StarStrategy {
	return &StarStrategy{rules: rules, budget: budget, overlap: overlap}
}

type starComponent struct {
	kind  string
	lines []string
}

type story struct {
	title      string
	components []*starComponent
}

func (st *story) hasResult() bool {
	for _, c := range st.components {
		if c.kind == SectionResult {
			return true
		}
	}
	return false
}

func (st *story) kinds() []string {
	var out []string
	for _, c := range st.components {
		if c.kind != "" {
			out = append(out, c.kind)
		}
	}
	return dedupeStrings(out)
}

func (c *starComponent) text() string {
	return strings.TrimSpace(strings.Join(c.lines, "\n"))
}

// Chunk implements Strategy.
func (s *StarStrategy) Chunk(_ context.Context, content string, tags []string) []Chunk {
	stories := s.parse(content)
	if len(stories) == 0 {
		return fallbackChunks(content, CategoryExperience, tags, s.rules.Fallback, s.budget, s.overlap)
	}

	var chunks []Chunk
	for _, st := range stories {
		meta := map[string]any{MetaStory: st.kinds()}
		if st.title != "" {
			meta[MetaTitle] = st.title
		}
		for i, piece := range s.fit(st) {
			m := meta
			if i > 0 {
				m = cloneMeta(meta)
				m[MetaSplitPart] = i + 1
			}
			chunks = append(chunks, newChunk(piece, CategoryExperience, tags, m))
		}
	}
	return chunks
}

// parse returns nil when no STAR structure or story title was found.
func (s *StarStrategy) parse(content string) []*story {
	var (
		stories []*story
		current *story
		comp    *starComponent
		matched bool
	)
	open := func(title string) {
		current = &story{title: title}
		comp = nil
		stories = append(stories, current)
	}

	for _, line := range splitLines(content) {
		trimmed := strings.TrimSpace(line)
		r, ok := s.rules.Match(trimmed)
		switch {
		case ok && r.SectionType == SectionStoryTitle:
			matched = true
			open(strings.TrimSpace(strings.TrimLeft(trimmed, "#")))
			continue
		case ok:
			matched = true
			if current == nil || (r.SectionType == SectionSituation && current.hasResult()) {
				open("")
			}
			comp = &starComponent{kind: r.SectionType}
			current.components = append(current.components, comp)
		}

		if current == nil {
			if trimmed == "" {
				continue
			}
			open("")
		}
		if comp == nil {
			comp = &starComponent{}
			current.components = append(current.components, comp)
		}
		comp.lines = append(comp.lines, line)
	}

	if !matched {
		return nil
	}
	return stories
}

func (st *story) text() string {
	parts := make([]string, 0, len(st.components)+1)
	if st.title != "" {
		parts = append(parts, st.title)
	}
	for _, c := range st.components {
		if t := c.text(); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

// fit keeps a story whole when it fits, otherwise splits along component
// boundaries, and only then by sentences with overlap. Every piece keeps
// the story title.
func (s *StarStrategy) fit(st *story) []string {
	full := st.text()
	if EstimateTokens(full) <= s.budget {
		return []string{full}
	}

	prefix := ""
	if st.title != "" {
		prefix = st.title + "\n"
	}
	room := max(s.budget-EstimateTokens(prefix), s.budget/2)

	var units []string
	for _, c := range st.components {
		if t := c.text(); t != "" {
			units = append(units, t)
		}
	}

	var pieces []string
	for _, group := range packUnits(units, room, "\n") {
		if EstimateTokens(group) <= room {
			pieces = append(pieces, prefix+group)
			continue
		}
		for _, p := range splitWithOverlap(group, room, s.overlap) {
			pieces = append(pieces, prefix+p)
		}
	}
	return pieces
}
