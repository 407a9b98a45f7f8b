// Package crossref finds chunks related to a primary result set by shared
// metadata, hierarchy adjacency or temporal sequence, and scores them.
package crossref

import (
	"context"
	"math"
	"regexp"
	"slices"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/earlyspark/ai-candidate/internal/chunking"
	"github.com/earlyspark/ai-candidate/internal/metadata"
	"github.com/earlyspark/ai-candidate/internal/ranking"
	"github.com/earlyspark/ai-candidate/internal/store"
)

// Relation is how a cross-reference relates to the primary results.
type Relation string

const (
	RelationMetadata Relation = "metadata"
	RelationParent   Relation = "parent"
	RelationChild    Relation = "child"
	RelationSibling  Relation = "sibling"
	RelationTemporal Relation = "temporal"
)

func (r Relation) hierarchical() bool {
	return r == RelationParent || r == RelationChild || r == RelationSibling
}

// Intent is the kind of context a query asks for.
type Intent string

const (
	IntentGeneral  Intent = "general"
	IntentOverview Intent = "overview"
	IntentDetail   Intent = "detail"
	IntentTimeline Intent = "timeline"
)

var (
	overviewRe = regexp.MustCompile(`(?i)\b(overview|summar\w*|in general|overall|big picture|background|career)\b`)
	detailRe   = regexp.MustCompile(`(?i)\b(specific(ally)?|exactly|in detail|details?|step by step|walk me through|how did you)\b`)
)

// DetectIntent classifies query for relationship weighting.
func DetectIntent(query string) Intent {
	switch {
	case ranking.IsTemporal(query):
		return IntentTimeline
	case detailRe.MatchString(query):
		return IntentDetail
	case overviewRe.MatchString(query):
		return IntentOverview
	}
	return IntentGeneral
}

var relationWeights = map[Intent]map[Relation]float64{
	IntentGeneral:  {RelationMetadata: 1.0, RelationParent: 0.8, RelationChild: 0.7, RelationSibling: 0.6, RelationTemporal: 0.8},
	IntentOverview: {RelationMetadata: 0.9, RelationParent: 1.0, RelationChild: 0.5, RelationSibling: 0.7, RelationTemporal: 0.8},
	IntentDetail:   {RelationMetadata: 0.9, RelationParent: 0.6, RelationChild: 1.0, RelationSibling: 0.8, RelationTemporal: 0.6},
	IntentTimeline: {RelationMetadata: 0.8, RelationParent: 0.8, RelationChild: 0.6, RelationSibling: 0.9, RelationTemporal: 1.0},
}

// Composite score factors.
const (
	PrimaryMultiplier   = 1.0
	SecondaryMultiplier = 0.7
	OtherMultiplier     = 0.3

	ExactTermBoost   = 0.25
	FuzzyTermBoost   = 0.1
	MaxSemanticBoost = 2.0

	TemporalBoost    = 1.2
	DiversityPenalty = 0.9

	MaxScore = 10.0
)

// Context describes the query side of cross-referencing.
type Context struct {
	Query string
	// Metadata is extracted from the query.
	Metadata metadata.Metadata
	// Primary and Secondary list the query's strongest categories.
	Primary   []string
	Secondary []string
	Limit     int
}

// Reference is one cross-referenced chunk.
type Reference struct {
	Chunk        chunking.Chunk `json:"chunk"`
	Relation     Relation       `json:"relation"`
	RelatedTo    string         `json:"related_to,omitempty"`
	MatchedTerms []string       `json:"matched_terms,omitempty"`
	Score        float64        `json:"score"`
}

// Engine discovers and scores cross-references.
type Engine struct {
	reader store.Reader
	logger *zap.Logger
}

// New creates an engine over reader.
func New(reader store.Reader, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{reader: reader, logger: logger}
}

type candidate struct {
	chunk    chunking.Chunk
	relation Relation
	anchor   ranking.Result
	base     float64
	matched  []string
	exact    int
	fuzzy    int
	temporal bool
}

// Find returns up to qc.Limit cross-references for primary, highest score
// first. Lookup failures are logged and skipped.
func (e *Engine) Find(ctx context.Context, primary []ranking.Result, qc Context) []Reference {
	if len(primary) == 0 {
		return nil
	}
	ctx, span := otel.Tracer("candidate.crossref").Start(ctx, "crossref.Find")
	defer span.End()

	exclude := make(map[string]bool, len(primary))
	primaryCats := map[string]bool{}
	for _, r := range primary {
		exclude[r.Chunk.ID] = true
		primaryCats[r.Chunk.Category] = true
	}

	var cands []candidate
	base, err := e.reader.List(ctx, store.Filter{
		Level:          store.Level(chunking.LevelBase),
		ProcessingType: chunking.ProcessingInformation,
	})
	if err != nil {
		e.logger.Warn("cross-reference scan failed", zap.Error(err))
	} else {
		cands = append(cands, e.byMetadata(base, primary, qc, exclude, primaryCats)...)
		cands = append(cands, e.byTemporal(base, primary, qc, exclude)...)
	}
	cands = append(cands, e.byHierarchy(ctx, primary, exclude)...)

	intent := DetectIntent(qc.Query)
	best := map[string]Reference{}
	for _, c := range cands {
		ref := Reference{
			Chunk:        c.chunk,
			Relation:     c.relation,
			RelatedTo:    c.anchor.Chunk.ID,
			MatchedTerms: c.matched,
			Score:        score(c, intent, qc),
		}
		if prev, ok := best[c.chunk.ID]; !ok || ref.Score > prev.Score {
			best[c.chunk.ID] = ref
		}
	}

	out := make([]Reference, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Chunk.ID < out[j].Chunk.ID
	})
	if qc.Limit > 0 && len(out) > qc.Limit {
		out = out[:qc.Limit]
	}
	span.SetAttributes(attribute.Int("candidates", len(cands)), attribute.Int("references", len(out)))
	return out
}

// byMetadata finds chunks in categories outside the primary results that
// share metadata terms with the query.
func (e *Engine) byMetadata(base []chunking.Chunk, primary []ranking.Result, qc Context, exclude, primaryCats map[string]bool) []candidate {
	queryTerms := qc.Metadata.Terms()
	if len(queryTerms) == 0 {
		return nil
	}
	var out []candidate
	for _, c := range base {
		if exclude[c.ID] || primaryCats[c.Category] {
			continue
		}
		matched, exact, fuzzy := matchTerms(queryTerms, chunkTerms(c))
		if len(matched) == 0 {
			continue
		}
		out = append(out, candidate{
			chunk:    c,
			relation: RelationMetadata,
			anchor:   primary[0],
			base:     primary[0].FinalScore * float64(len(matched)) / float64(len(queryTerms)),
			matched:  matched,
			exact:    exact,
			fuzzy:    fuzzy,
		})
	}
	return out
}

// byTemporal finds chunks whose temporal metadata matches a query that is
// not timeless.
func (e *Engine) byTemporal(base []chunking.Chunk, primary []ranking.Result, qc Context, exclude map[string]bool) []candidate {
	q := qc.Metadata
	if q.Recency == "" || q.Recency == metadata.RecencyTimeless {
		return nil
	}
	queryRel := lowerSet(q.TemporalRelationships)
	var out []candidate
	for _, c := range base {
		if exclude[c.ID] {
			continue
		}
		m := metadata.FromChunk(c.Metadata)
		var shared []string
		for _, r := range m.TemporalRelationships {
			if queryRel[strings.ToLower(r)] {
				shared = append(shared, strings.ToLower(r))
			}
		}
		if len(shared) == 0 && m.Recency != q.Recency {
			continue
		}
		out = append(out, candidate{
			chunk:    c,
			relation: RelationTemporal,
			anchor:   primary[0],
			base:     primary[0].FinalScore * 0.5,
			matched:  shared,
			temporal: true,
		})
	}
	return out
}

// byHierarchy collects parents, children and siblings of each primary result.
func (e *Engine) byHierarchy(ctx context.Context, primary []ranking.Result, exclude map[string]bool) []candidate {
	var out []candidate
	add := func(anchor ranking.Result, rel Relation, chunks ...chunking.Chunk) {
		for _, c := range chunks {
			if exclude[c.ID] {
				continue
			}
			out = append(out, candidate{chunk: c, relation: rel, anchor: anchor, base: anchor.FinalScore})
		}
	}
	for _, r := range primary {
		if r.Chunk.ParentID != "" {
			p, err := store.Parent(ctx, e.reader, r.Chunk)
			if err != nil {
				e.logger.Debug("parent lookup failed", zap.String("chunk_id", r.Chunk.ID), zap.Error(err))
			} else {
				add(r, RelationParent, p)
			}
		}
		children, err := store.Children(ctx, e.reader, r.Chunk)
		if err != nil {
			e.logger.Debug("children lookup failed", zap.String("chunk_id", r.Chunk.ID), zap.Error(err))
		}
		add(r, RelationChild, children...)

		if r.Chunk.GroupID == "" {
			continue
		}
		siblings, err := store.Siblings(ctx, e.reader, r.Chunk)
		if err != nil {
			e.logger.Debug("sibling lookup failed", zap.String("chunk_id", r.Chunk.ID), zap.Error(err))
		}
		add(r, RelationSibling, siblings...)
	}
	return out
}

// score computes base × relationship × semantic × category × temporal ×
// diversity, clamped to [0, MaxScore].
func score(c candidate, intent Intent, qc Context) float64 {
	rel := relationWeights[intent][c.relation]

	semantic := math.Min(MaxSemanticBoost, 1+ExactTermBoost*float64(c.exact)+FuzzyTermBoost*float64(c.fuzzy))

	category := OtherMultiplier
	switch {
	case slices.Contains(qc.Primary, c.chunk.Category):
		category = PrimaryMultiplier
	case slices.Contains(qc.Secondary, c.chunk.Category):
		category = SecondaryMultiplier
	}

	temporal := 1.0
	if c.temporal {
		temporal = TemporalBoost
	}
	diversity := 1.0
	if c.relation.hierarchical() {
		diversity = DiversityPenalty
	}

	s := c.base * rel * semantic * category * temporal * diversity
	return math.Max(0, math.Min(MaxScore, s))
}

// chunkTerms returns the chunk's extracted metadata terms and tags.
func chunkTerms(c chunking.Chunk) []string {
	terms := metadata.FromChunk(c.Metadata).Terms()
	for _, t := range c.Tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" && !slices.Contains(terms, t) {
			terms = append(terms, t)
		}
	}
	return terms
}

// matchTerms pairs each query term with chunk terms. Equal terms are exact
// matches; a term containing the other or sharing a word, with three or more
// letters either way, is fuzzy.
func matchTerms(queryTerms, terms []string) (matched []string, exact, fuzzy int) {
	have := make(map[string]bool, len(terms))
	for _, t := range terms {
		have[t] = true
	}
	for _, q := range queryTerms {
		if have[q] {
			matched = append(matched, q)
			exact++
			continue
		}
		for _, t := range terms {
			if fuzzyMatch(q, t) {
				matched = append(matched, q)
				fuzzy++
				break
			}
		}
	}
	return matched, exact, fuzzy
}

func fuzzyMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if len(a) >= 3 && len(b) >= 3 && (strings.Contains(a, b) || strings.Contains(b, a)) {
		return true
	}
	words := map[string]bool{}
	for _, w := range strings.Fields(a) {
		if len(w) >= 3 {
			words[w] = true
		}
	}
	for _, w := range strings.Fields(b) {
		if words[w] {
			return true
		}
	}
	return false
}

func lowerSet(in []string) map[string]bool {
	out := make(map[string]bool, len(in))
	for _, s := range in {
		out[strings.ToLower(strings.TrimSpace(s))] = true
	}
	return out
}
