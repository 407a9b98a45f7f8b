package chunking

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	paragraphBreakRe = regexp.MustCompile(`\n\s*\n`)

	// connectiveRe marks sentences worth carrying into the next chunk.
	connectiveRe = regexp.MustCompile(`(?i)\b(however|therefore|because|as a result|consequently|then|after|before|during|while|later|previously|subsequently|meanwhile|afterwards|since|until|when|following|prior to|which led|this meant)\b`)
)

// splitParagraphs splits on blank lines and drops empty paragraphs.
func splitParagraphs(text string) []string {
	parts := paragraphBreakRe.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitLines returns trimmed lines, keeping empty lines as "".
func splitLines(text string) []string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i := range lines {
		lines[i] = strings.TrimRightFunc(lines[i], unicode.IsSpace)
	}
	return lines
}

// splitSentences splits prose on terminal punctuation followed by white
// space, and on line breaks.
func splitSentences(text string) []string {
	var (
		out   []string
		start int
	)
	runes := []rune(text)
	flush := func(end int) {
		s := strings.TrimSpace(string(runes[start:end]))
		if s != "" {
			out = append(out, s)
		}
		start = end
	}
	for i, r := range runes {
		switch {
		case r == '\n':
			flush(i + 1)
		case r == '.' || r == '!' || r == '?':
			if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
				// Skip abbreviations like "e.g." and "Sr." by requiring the
				// next word to start upper case or a digit.
				if i+1 < len(runes) && !nextWordStartsSentence(runes[i+1:]) {
					continue
				}
				flush(i + 1)
			}
		}
	}
	flush(len(runes))
	return out
}

func nextWordStartsSentence(rest []rune) bool {
	for _, r := range rest {
		if unicode.IsSpace(r) {
			continue
		}
		return unicode.IsUpper(r) || unicode.IsDigit(r) || !unicode.IsLetter(r)
	}
	return true
}

// firstSentence and lastSentence return the sentence-level neighbors used
// for semantic boundaries.
func firstSentence(text string) string {
	s := splitSentences(text)
	if len(s) == 0 {
		return ""
	}
	return truncateRunes(s[0], 200)
}

func lastSentence(text string) string {
	s := splitSentences(text)
	if len(s) == 0 {
		return ""
	}
	return truncateRunes(s[len(s)-1], 200)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// overlapSentences picks up to n sentences from the tail of prev to carry
// into the next chunk. Sentences with connective or temporal words win over
// plain recency; with none, the last n sentences are used.
func overlapSentences(prev []string, n int) []string {
	if n <= 0 || len(prev) == 0 {
		return nil
	}
	window := prev
	if len(window) > n+2 {
		window = window[len(window)-(n+2):]
	}

	var picked []int
	for i := len(window) - 1; i >= 0 && len(picked) < n; i-- {
		if connectiveRe.MatchString(window[i]) || yearRe.MatchString(window[i]) {
			picked = append(picked, i)
		}
	}
	if len(picked) == 0 {
		start := max(len(prev)-n, 0)
		return append([]string(nil), prev[start:]...)
	}

	// Keep original order.
	out := make([]string, 0, len(picked))
	for i := len(picked) - 1; i >= 0; i-- {
		out = append(out, window[picked[i]])
	}
	return out
}

// splitWithOverlap packs sentences into pieces of at most budget tokens.
// Each piece after the first starts with overlap sentences from the
// previous piece. A single sentence over budget becomes its own piece.
func splitWithOverlap(text string, budget, overlap int) []string {
	if EstimateTokens(text) <= budget {
		return []string{strings.TrimSpace(text)}
	}
	sentences := splitSentences(text)
	if len(sentences) <= 1 {
		return splitHard(text, budget)
	}

	var (
		pieces  []string
		current []string
		fresh   int // sentences in current that are not overlap
	)
	tokens := func(ss []string) int { return EstimateTokens(strings.Join(ss, " ")) }

	for _, s := range sentences {
		if fresh > 0 && tokens(append(current, s)) > budget {
			pieces = append(pieces, strings.Join(current, " "))
			carry := overlapSentences(current, overlap)
			// Never let overlap alone fill the budget.
			if tokens(append(carry, s)) > budget {
				carry = nil
			}
			current = append([]string(nil), carry...)
			fresh = 0
		}
		current = append(current, s)
		fresh++
	}
	if fresh > 0 {
		pieces = append(pieces, strings.Join(current, " "))
	}
	return pieces
}

// splitHard cuts text at word boundaries into pieces of at most budget
// tokens. Used when there is no sentence structure to follow.
func splitHard(text string, budget int) []string {
	words := strings.Fields(text)
	var (
		pieces []string
		b      strings.Builder
	)
	for _, w := range words {
		if b.Len() > 0 && EstimateTokens(b.String()+" "+w) > budget {
			pieces = append(pieces, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(w)
	}
	if b.Len() > 0 {
		pieces = append(pieces, b.String())
	}
	return pieces
}

// packUnits greedily joins consecutive units with sep while the total stays
// within budget. Oversized units pass through unchanged.
func packUnits(units []string, budget int, sep string) []string {
	var (
		out     []string
		current string
	)
	for _, u := range units {
		if current == "" {
			current = u
			continue
		}
		if EstimateTokens(current+sep+u) > budget {
			out = append(out, current)
			current = u
			continue
		}
		current += sep + u
	}
	if current != "" {
		out = append(out, current)
	}
	return out
}

func isBullet(line string) bool {
	t := strings.TrimSpace(line)
	if t == "" {
		return false
	}
	switch t[0] {
	case '-', '*', '+':
		return len(t) > 1 && t[1] == ' '
	}
	return strings.HasPrefix(t, "•") || strings.HasPrefix(t, "▪") || numberedRe.MatchString(t)
}

var numberedRe = regexp.MustCompile(`^\d{1,2}[.)]\s`)

func dedupeStrings(in []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, s := range in {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}
