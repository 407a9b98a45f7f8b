package chunking

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/earlyspark/ai-candidate/internal/llm"
	"go.uber.org/zap"
)

const (
	sectionQuestion = "Is this line a section heading of a resume? If it is, name the section; otherwise answer none."
	jobQuestion     = "Does this line start a new job entry (a role, employer or dated position) in a resume?"

	maxBoundaryLineRunes = 120
)

var sectionOptions = []string{
	SectionSummary, SectionExperience, SectionEducation, SectionSkills,
	SectionProjects, SectionCertifications, "none",
}

// ResumeStrategy chunks structured documents into sections and job entries.
// Each candidate boundary line is put to the labeler first; rules decide
// when the labeler has no answer.
type ResumeStrategy struct {
	rules   RuleSet
	labeler llm.Labeler
	budget  int
	overlap int
	logger  *zap.Logger
}

var _ Strategy = (*ResumeStrategy)(nil)

// NewResumeStrategy creates a resume chunker. A nil labeler uses rules only.
func NewResumeStrategy(rules RuleSet, labeler llm.Labeler, budget, overlap int, logger *zap.Logger) *ResumeStrategy {
	if labeler == nil {
		labeler = llm.NoSignal{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResumeStrategy{rules: rules, labeler: labeler, budget: budget, overlap: overlap, logger: logger}
}

type resumeUnit struct {
	section string
	lead    string // section heading carried onto the first entry
	header  string
	isEntry bool
	body    []string
}

func (u *resumeUnit) text() string {
	var lines []string
	if u.lead != "" {
		lines = append(lines, u.lead)
	}
	if u.header != "" {
		lines = append(lines, u.header)
	}
	lines = append(lines, u.body...)
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func (u *resumeUnit) empty() bool {
	return strings.TrimSpace(strings.Join(u.body, "")) == ""
}

// Chunk implements Strategy.
func (s *ResumeStrategy) Chunk(ctx context.Context, content string, tags []string) []Chunk {
	units, structured := s.segment(ctx, content)
	if !structured {
		return fallbackChunks(content, CategoryResume, tags, s.rules.Fallback, s.budget, s.overlap)
	}

	var chunks []Chunk
	for _, u := range units {
		text := u.text()
		if text == "" {
			continue
		}
		meta := map[string]any{MetaSectionType: u.section}
		if u.header != "" {
			meta[MetaTitle] = u.header
		}
		if u.isEntry {
			meta["is_job_entry"] = true
			if ranges := ParseDateRanges(u.header); len(ranges) > 0 {
				meta[MetaDateRange] = ranges[0].Raw
			}
		}

		for i, piece := range s.fit(u, text) {
			if i == 0 && u.lead != "" && !strings.HasPrefix(piece, u.lead) {
				piece = u.lead + "\n" + piece
			}
			m := meta
			if i > 0 {
				m = cloneMeta(meta)
				m[MetaSplitPart] = i + 1
			}
			chunks = append(chunks, newChunk(piece, CategoryResume, tags, m))
		}
	}
	return chunks
}

// segment walks the lines and opens a new unit at each section heading or
// entry line. structured is false when no boundary was found.
func (s *ResumeStrategy) segment(ctx context.Context, content string) ([]*resumeUnit, bool) {
	var (
		units      []*resumeUnit
		current    = &resumeUnit{section: SectionSummary}
		section    = SectionSummary
		boundaries int
	)
	flush := func() {
		if current.header != "" || !current.empty() {
			units = append(units, current)
		}
	}

	for _, line := range splitLines(content) {
		trimmed := strings.TrimSpace(line)
		if !isBoundaryCandidate(trimmed) {
			current.body = append(current.body, line)
			continue
		}

		if sec, ok := s.sectionHeading(ctx, trimmed); ok {
			flush()
			section = sec
			current = &resumeUnit{section: sec, header: trimmed}
			boundaries++
			continue
		}
		if s.isJobEntry(ctx, trimmed) {
			sec := section
			if sec == SectionSummary {
				sec = SectionExperience
			}
			next := &resumeUnit{section: sec, header: trimmed, isEntry: true}
			if !current.isEntry && current.header != "" && current.empty() {
				next.lead = current.header
			} else {
				flush()
			}
			current = next
			boundaries++
			continue
		}
		current.body = append(current.body, line)
	}
	flush()
	return units, boundaries > 0
}

func isBoundaryCandidate(line string) bool {
	if line == "" || isBullet(line) || utf8.RuneCountInString(line) > maxBoundaryLineRunes {
		return false
	}
	return !strings.HasSuffix(line, ".")
}

func (s *ResumeStrategy) sectionHeading(ctx context.Context, line string) (string, bool) {
	if label, ok := s.labeler.Classify(ctx, sectionQuestion, line, sectionOptions); ok {
		if label == "none" {
			return "", false
		}
		return label, true
	}
	if r, ok := s.rules.Match(line); ok && r.SectionType != SectionJob {
		return r.SectionType, true
	}
	return "", false
}

func (s *ResumeStrategy) isJobEntry(ctx context.Context, line string) bool {
	if label, ok := s.labeler.Classify(ctx, jobQuestion, line, []string{"yes", "no"}); ok {
		return label == "yes"
	}
	r, ok := s.rules.Match(line)
	return ok && r.SectionType == SectionJob
}

// fit splits an oversized unit. Job entries repeat their header on every
// piece so bullets stay attached to the role they describe.
func (s *ResumeStrategy) fit(u *resumeUnit, text string) []string {
	if EstimateTokens(text) <= s.budget {
		return []string{text}
	}
	if !u.isEntry || u.header == "" {
		return splitWithOverlap(text, s.budget, s.overlap)
	}

	var body []string
	for _, l := range u.body {
		if strings.TrimSpace(l) != "" {
			body = append(body, strings.TrimSpace(l))
		}
	}
	if len(body) == 0 {
		return []string{text}
	}
	room := max(s.budget-EstimateTokens(u.header)-1, s.budget/2)
	var pieces []string
	for _, group := range packUnits(body, room, "\n") {
		if EstimateTokens(group) > room {
			for _, p := range splitWithOverlap(group, room, s.overlap) {
				pieces = append(pieces, u.header+"\n"+p)
			}
			continue
		}
		pieces = append(pieces, u.header+"\n"+group)
	}
	return pieces
}

// fallbackChunks implements the paragraph and whole-document fallbacks
// shared by all strategies.
func fallbackChunks(content, category string, tags []string, fb Fallback, budget, overlap int) []Chunk {
	var units []string
	if fb == FallbackWhole {
		units = []string{strings.TrimSpace(content)}
	} else {
		units = packUnits(splitParagraphs(content), budget, "\n\n")
	}

	var chunks []Chunk
	for _, u := range units {
		for _, piece := range splitWithOverlap(u, budget, overlap) {
			chunks = append(chunks, newChunk(piece, category, tags, nil))
		}
	}
	return chunks
}
