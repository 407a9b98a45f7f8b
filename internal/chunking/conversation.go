package chunking

import (
	"context"
	"regexp"
	"strings"
)

// ConversationStrategy chunks multi-party transcripts into runs of whole
// turns. Style chunks for dual-purpose content come from StyleChunks.
type ConversationStrategy struct {
	rules   RuleSet
	budget  int
	overlap int
}

var _ Strategy = (*ConversationStrategy)(nil)

// NewConversationStrategy creates a transcript chunker.
func NewConversationStrategy(rules RuleSet, budget, overlap int) *ConversationStrategy {
	return &ConversationStrategy{rules: rules, budget: budget, overlap: overlap}
}

var speakerRe = regexp.MustCompile(`^\s*(?:>\s*)?(?:\[?\d{1,2}:\d{2}(?::\d{2})?\s*(?:[ap]m)?\]?\s*)?(?:\*\*)?([\w .'-]{1,40}?)(?:\*\*)?:\s`)

type turn struct {
	speaker string
	text    string
}

// Chunk implements Strategy.
func (s *ConversationStrategy) Chunk(_ context.Context, content string, tags []string) []Chunk {
	turns := s.turns(content)

	var chunks []Chunk
	if len(turns) == 0 {
		chunks = fallbackChunks(content, CategoryCommunication, tags, s.rules.Fallback, s.budget, s.overlap)
	} else {
		texts := make([]string, len(turns))
		for i, t := range turns {
			texts[i] = t.text
		}
		start := 0
		for _, group := range packUnits(texts, s.budget, "\n") {
			n := strings.Count(group, "\n") + 1
			members := turns[start:min(start+n, len(turns))]
			start += n

			meta := map[string]any{
				MetaParticipants: participants(members),
				MetaTurnCount:    len(members),
			}
			for i, piece := range splitWithOverlap(group, s.budget, s.overlap) {
				m := meta
				if i > 0 {
					m = cloneMeta(meta)
					m[MetaSplitPart] = i + 1
				}
				chunks = append(chunks, newChunk(piece, CategoryCommunication, tags, m))
			}
		}
	}
	return chunks
}

// turns groups lines into speaker turns. Continuation lines belong to the
// preceding turn. Returns nil when no turn marker was found.
func (s *ConversationStrategy) turns(content string) []turn {
	var (
		out     []turn
		matched bool
	)
	for _, line := range splitLines(content) {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if _, ok := s.rules.Match(line); ok {
			matched = true
			speaker := ""
			if m := speakerRe.FindStringSubmatch(line); m != nil {
				speaker = strings.TrimSpace(m[1])
			}
			out = append(out, turn{speaker: speaker, text: trimmed})
			continue
		}
		if len(out) == 0 {
			out = append(out, turn{text: trimmed})
			continue
		}
		// Keep one turn per line in the packed text.
		out[len(out)-1].text += " " + trimmed
	}
	if !matched {
		return nil
	}
	return out
}

func participants(turns []turn) []string {
	names := make([]string, 0, len(turns))
	for _, t := range turns {
		if t.speaker != "" {
			names = append(names, t.speaker)
		}
	}
	return dedupeStrings(names)
}

// StyleSignals describes how a piece of text communicates.
type StyleSignals struct {
	Tone           string   `json:"tone"`
	Helpfulness    []string `json:"helpfulness"`
	TechnicalDepth string   `json:"technical_depth"`
	Structure      string   `json:"structure"`
}

// Map converts the signals for chunk metadata.
func (s StyleSignals) Map() map[string]any {
	help := make([]any, len(s.Helpfulness))
	for i, h := range s.Helpfulness {
		help[i] = h
	}
	return map[string]any{
		"tone":            s.Tone,
		"helpfulness":     help,
		"technical_depth": s.TechnicalDepth,
		"structure":       s.Structure,
	}
}

var (
	formalRe       = regexp.MustCompile(`(?i)\b(therefore|furthermore|regarding|please find|kind regards|sincerely|in addition)\b`)
	casualRe       = regexp.MustCompile(`(?i)\b(hey|yeah|gonna|wanna|cool|awesome|lol|btw|haha)\b|!{2,}`)
	enthusiasticRe = regexp.MustCompile(`(?i)\b(excited|love|great|amazing|fantastic|thrilled)\b|!`)
	examplesRe     = regexp.MustCompile(`(?i)\b(for example|for instance|e\.g\.|such as)\b`)
	stepsRe        = regexp.MustCompile(`(?i)\b(first|second|then|next|finally|step \d)\b`)
	offerRe        = regexp.MustCompile(`(?i)\b(happy to|let me know|feel free|i can help|glad to)\b`)
	questionRe     = regexp.MustCompile(`\?`)
)

// AnalyzeStyle derives tone, helpfulness, technical depth and structure
// signals from text.
func AnalyzeStyle(text string) StyleSignals {
	sig := StyleSignals{Tone: "neutral"}
	switch {
	case casualRe.MatchString(text):
		sig.Tone = "casual"
	case formalRe.MatchString(text):
		sig.Tone = "formal"
	case len(enthusiasticRe.FindAllString(text, -1)) >= 2:
		sig.Tone = "enthusiastic"
	}

	if examplesRe.MatchString(text) {
		sig.Helpfulness = append(sig.Helpfulness, "gives_examples")
	}
	if stepsRe.MatchString(text) {
		sig.Helpfulness = append(sig.Helpfulness, "step_by_step")
	}
	if offerRe.MatchString(text) {
		sig.Helpfulness = append(sig.Helpfulness, "offers_follow_up")
	}
	if questionRe.MatchString(text) {
		sig.Helpfulness = append(sig.Helpfulness, "asks_questions")
	}

	switch n := len(DetectTechnologies(text)); {
	case n >= 4:
		sig.TechnicalDepth = "high"
	case n >= 1:
		sig.TechnicalDepth = "medium"
	default:
		sig.TechnicalDepth = "low"
	}

	bullets, lines := 0, 0
	for _, l := range splitLines(text) {
		if strings.TrimSpace(l) == "" {
			continue
		}
		lines++
		if isBullet(l) {
			bullets++
		}
	}
	switch {
	case bullets > 0 && bullets*2 >= lines:
		sig.Structure = "list"
	case len(splitParagraphs(text)) > 1:
		sig.Structure = "paragraphs"
	default:
		sig.Structure = "single_block"
	}
	return sig
}

// StyleChunks returns one style chunk per information chunk, with the same
// text and a pointer back to its position.
func StyleChunks(info []Chunk) []Chunk {
	out := make([]Chunk, 0, len(info))
	for i, c := range info {
		if c.ProcessingType != ProcessingInformation {
			continue
		}
		sc := newChunk(c.Content, c.Category, c.Tags, cloneMeta(c.Metadata))
		sc.ProcessingType = ProcessingStyle
		sc.Metadata[MetaStyle] = AnalyzeStyle(c.Content).Map()
		sc.Metadata[MetaPairedIndex] = i
		out = append(out, sc)
	}
	return out
}
