package chunking

import (
	"bytes"
	"context"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// ProjectStrategy chunks technical writeups. Markdown headings found by
// goldmark are the primary project boundaries; plain-text project header
// rules are used for documents without headings.
type ProjectStrategy struct {
	rules   RuleSet
	md      goldmark.Markdown
	budget  int
	overlap int
}

var _ Strategy = (*ProjectStrategy)(nil)

// NewProjectStrategy creates a technical writeup chunker.
func NewProjectStrategy(rules RuleSet, budget, overlap int) *ProjectStrategy {
	return &ProjectStrategy{rules: rules, md: goldmark.New(), budget: budget, overlap: overlap}
}

type heading struct {
	level  int
	title  string
	offset int // byte offset of the heading line
}

type projectSection struct {
	title string
	level int
	body  string
}

// Chunk implements Strategy.
func (s *ProjectStrategy) Chunk(_ context.Context, content string, tags []string) []Chunk {
	sections := s.sections(content)
	if len(sections) == 0 {
		return fallbackChunks(content, CategoryProjects, tags, s.rules.Fallback, s.budget, s.overlap)
	}

	var chunks []Chunk
	for _, sec := range sections {
		body := strings.TrimSpace(sec.body)
		if body == "" {
			continue
		}
		meta := map[string]any{MetaSectionType: SectionProject}
		if sec.title != "" {
			meta[MetaTitle] = sec.title
		}
		if stack := techStack(body); len(stack) > 0 {
			meta[MetaTechStack] = stack
		}
		for i, piece := range s.fit(sec, body) {
			m := meta
			if i > 0 {
				m = cloneMeta(meta)
				m[MetaSplitPart] = i + 1
			}
			chunks = append(chunks, newChunk(piece, CategoryProjects, tags, m))
		}
	}
	return chunks
}

func (s *ProjectStrategy) headings(src []byte) []heading {
	doc := s.md.Parser().Parse(text.NewReader(src))
	var out []heading
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Lines().Len() == 0 {
			continue
		}
		var title bytes.Buffer
		for i := 0; i < h.Lines().Len(); i++ {
			seg := h.Lines().At(i)
			title.Write(seg.Value(src))
		}
		start := h.Lines().At(0).Start
		lineStart := bytes.LastIndexByte(src[:start], '\n') + 1
		out = append(out, heading{
			level:  h.Level,
			title:  strings.TrimSpace(title.String()),
			offset: lineStart,
		})
	}
	return out
}

// splitLevel picks the shallowest heading level that occurs at least twice,
// so a single document title does not swallow every project.
func splitLevel(hs []heading) int {
	counts := map[int]int{}
	for _, h := range hs {
		counts[h.level]++
	}
	for level := 1; level <= 6; level++ {
		if counts[level] >= 2 {
			return level
		}
	}
	if len(hs) > 0 {
		return hs[0].level
	}
	return 0
}

func (s *ProjectStrategy) sections(content string) []projectSection {
	src := []byte(content)
	hs := s.headings(src)
	if len(hs) == 0 {
		return s.ruleSections(content)
	}

	level := splitLevel(hs)
	var cuts []heading
	for _, h := range hs {
		if h.level == level {
			cuts = append(cuts, h)
		}
	}

	var out []projectSection
	if pre := strings.TrimSpace(content[:cuts[0].offset]); pre != "" {
		out = append(out, projectSection{title: preambleTitle(hs, cuts[0]), body: pre})
	}
	for i, h := range cuts {
		end := len(content)
		if i+1 < len(cuts) {
			end = cuts[i+1].offset
		}
		out = append(out, projectSection{title: h.title, level: h.level, body: content[h.offset:end]})
	}
	return out
}

func preambleTitle(hs []heading, first heading) string {
	for _, h := range hs {
		if h.offset < first.offset {
			return h.title
		}
	}
	return ""
}

// ruleSections splits plain text at lines matching a project rule.
func (s *ProjectStrategy) ruleSections(content string) []projectSection {
	var (
		out     []projectSection
		current *projectSection
		matched bool
	)
	for _, line := range splitLines(content) {
		if r, ok := s.rules.Match(line); ok && r.SectionType == SectionProject {
			matched = true
			title := strings.TrimSpace(line)
			if i := strings.Index(title, ":"); i >= 0 && i < len(title)-1 {
				title = strings.TrimSpace(title[i+1:])
			}
			out = append(out, projectSection{title: title})
			current = &out[len(out)-1]
		}
		if current == nil {
			out = append(out, projectSection{})
			current = &out[len(out)-1]
		}
		current.body += line + "\n"
	}
	if !matched {
		return nil
	}
	return out
}

// fit splits an oversized project at its subsection headings, then
// paragraphs, then sentences. Pieces after the first repeat the project
// title.
func (s *ProjectStrategy) fit(sec projectSection, body string) []string {
	if EstimateTokens(body) <= s.budget {
		return []string{body}
	}

	prefix := ""
	if sec.title != "" {
		prefix = sec.title + "\n"
	}
	room := max(s.budget-EstimateTokens(prefix), s.budget/2)

	units := s.subsections(body, sec.level)
	if len(units) <= 1 {
		units = splitParagraphs(body)
	}

	var pieces []string
	for i, group := range packUnits(units, room, "\n\n") {
		parts := []string{group}
		if EstimateTokens(group) > room {
			parts = splitWithOverlap(group, room, s.overlap)
		}
		for j, p := range parts {
			if i == 0 && j == 0 {
				pieces = append(pieces, p)
				continue
			}
			pieces = append(pieces, prefix+p)
		}
	}
	return pieces
}

func (s *ProjectStrategy) subsections(body string, level int) []string {
	src := []byte(body)
	var cuts []int
	for _, h := range s.headings(src) {
		if h.level > level && h.offset > 0 {
			cuts = append(cuts, h.offset)
		}
	}
	if len(cuts) == 0 {
		return nil
	}
	var out []string
	prev := 0
	for _, c := range cuts {
		if u := strings.TrimSpace(body[prev:c]); u != "" {
			out = append(out, u)
		}
		prev = c
	}
	if u := strings.TrimSpace(body[prev:]); u != "" {
		out = append(out, u)
	}
	return out
}
