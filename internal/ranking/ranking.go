// Package ranking turns a query embedding and category weights into a ranked
// result list.
//
// Ranking shapes the query (temporal, preference), retrieves candidates from
// the store, applies level weights, date-range boosts, mention penalties and
// preference boosts, enforces coverage rules and assigns final ranks. When
// weighted search fails or finds nothing it falls back to basic similarity
// search with a lowered threshold.
package ranking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/earlyspark/ai-candidate/internal/cache"
	"github.com/earlyspark/ai-candidate/internal/chunking"
	"github.com/earlyspark/ai-candidate/internal/config"
	"github.com/earlyspark/ai-candidate/internal/store"
)

// ErrSearchUnavailable is returned when both weighted and basic search fail.
var ErrSearchUnavailable = errors.New("search unavailable")

// Retrieval paths reported in Response.Path.
const (
	PathWeighted = "weighted"
	PathBasic    = "basic"
	PathNone     = "none"
)

var tracer = otel.Tracer("candidate.ranking")

// Store is the part of the chunk store ranking reads.
type Store interface {
	WeightedSearch(ctx context.Context, q store.WeightedQuery) ([]store.Scored, error)
	Search(ctx context.Context, embedding []float32, threshold float64, limit int, f store.Filter) ([]store.Scored, error)
	List(ctx context.Context, f store.Filter) ([]chunking.Chunk, error)
}

// Request is one ranking call.
type Request struct {
	Query     string
	Embedding []float32
	Weights   map[string]float64
	Tags      []string

	// Limit, Threshold and TagBoost fall back to configured defaults when <= 0.
	Limit     int
	Threshold float64
	TagBoost  float64

	Categories         []string
	EnableHierarchical bool
	PreferParentChunks bool
}

// Result is one ranked chunk with its score breakdown.
type Result struct {
	Chunk         chunking.Chunk `json:"chunk"`
	Similarity    float64        `json:"similarity"`
	CategoryScore float64        `json:"category_score"`
	TagMatchScore float64        `json:"tag_match_score"`
	FinalScore    float64        `json:"final_score"`
	Rank          int            `json:"rank"`

	LevelWeight     float64 `json:"level_weight"`
	DateBoost       float64 `json:"date_boost"`
	MentionPenalty  float64 `json:"mention_penalty"`
	PreferenceBoost float64 `json:"preference_boost"`

	// Supplemental marks preference chunks added by the coverage fetch.
	Supplemental bool `json:"supplemental,omitempty"`

	mentions    int
	extendsPast bool
}

// Response is the output of Rank.
type Response struct {
	Results    []Result         `json:"results"`
	Temporal   *TemporalContext `json:"temporal,omitempty"`
	Preference bool             `json:"preference"`
	Path       string           `json:"path"`
}

// Engine ranks candidates for a query.
type Engine struct {
	store      Store
	resolver   *Resolver
	search     config.SearchConfig
	temporal   config.TemporalConfig
	preference config.PreferenceConfig
	logger     *zap.Logger
}

// New creates an engine. refCache caches resolved temporal references and
// may be nil.
func New(s Store, refCache cache.Cache[Anchor], search config.SearchConfig, temporal config.TemporalConfig, preference config.PreferenceConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:      s,
		resolver:   NewResolver(s, refCache, temporal.ReferenceCacheTTL.Duration(), logger),
		search:     search,
		temporal:   temporal,
		preference: preference,
		logger:     logger,
	}
}

// shape is the per-call retrieval plan.
type shape struct {
	limit        int
	fetchLimit   int
	threshold    float64
	tagBoost     float64
	levels       []int
	levelWeights []float64
	temporal     *TemporalContext
	isTemporal   bool
	preference   bool
}

// Rank retrieves and ranks chunks for req. Results are sorted by FinalScore
// with contiguous 1-based ranks and at most the requested limit. Only the
// failure of both retrieval paths returns an error.
func (e *Engine) Rank(ctx context.Context, req Request) (Response, error) {
	ctx, span := tracer.Start(ctx, "ranking.Rank")
	defer span.End()

	sh := e.plan(ctx, req)
	resp := Response{Temporal: sh.temporal, Preference: sh.preference, Path: PathNone}
	span.SetAttributes(
		attribute.Bool("query.temporal", sh.isTemporal),
		attribute.Bool("query.preference", sh.preference),
		attribute.Int("limit", sh.limit),
		attribute.Float64("threshold", sh.threshold),
	)
	if len(req.Embedding) == 0 {
		span.SetStatus(codes.Ok, "no embedding")
		return resp, nil
	}

	cands, weightedErr := e.weighted(ctx, req, sh)
	results := e.score(cands, req, sh, sh.threshold)
	resp.Path = PathWeighted

	if weightedErr != nil || len(results) == 0 {
		if weightedErr != nil {
			e.logger.Warn("weighted search failed, falling back to basic search", zap.Error(weightedErr))
		}
		basicThreshold := sh.threshold * e.search.BasicThresholdFactor
		var basicErr error
		cands, basicErr = e.basic(ctx, req, sh, basicThreshold)
		if basicErr != nil {
			if weightedErr != nil {
				err := fmt.Errorf("%w: weighted: %v; basic: %v", ErrSearchUnavailable, weightedErr, basicErr)
				span.RecordError(err)
				span.SetStatus(codes.Error, "both search paths failed")
				return resp, err
			}
			e.logger.Warn("basic search failed", zap.Error(basicErr))
			cands = nil
		}
		results = e.score(cands, req, sh, basicThreshold)
		resp.Path = PathBasic
	}

	results = e.supplementPreferences(ctx, results, req, sh)
	results = demoteBefore(results, sh.temporal)
	resp.Results = finalize(results, sh.limit)
	if len(resp.Results) == 0 {
		resp.Path = PathNone
	}

	span.SetAttributes(attribute.String("path", resp.Path), attribute.Int("results", len(resp.Results)))
	span.SetStatus(codes.Ok, "")
	return resp, nil
}

func (e *Engine) plan(ctx context.Context, req Request) shape {
	sh := shape{
		limit:      req.Limit,
		threshold:  req.Threshold,
		tagBoost:   req.TagBoost,
		isTemporal: IsTemporal(req.Query),
		preference: IsPreference(req.Query),
		levels:     []int{chunking.LevelBase},
	}
	if sh.limit <= 0 {
		sh.limit = e.search.DefaultLimit
	}
	if e.search.MaxLimit > 0 && sh.limit > e.search.MaxLimit {
		sh.limit = e.search.MaxLimit
	}
	if sh.threshold <= 0 {
		sh.threshold = e.search.Threshold
	}
	if sh.tagBoost <= 0 {
		sh.tagBoost = e.search.TagBoost
	}
	sh.fetchLimit = sh.limit

	if sh.isTemporal {
		sh.temporal = ParseTemporalContext(req.Query)
		e.resolver.Resolve(ctx, sh.temporal)
	}
	if sh.isTemporal || req.EnableHierarchical {
		sh.levels = []int{chunking.LevelBase, chunking.LevelParent, chunking.LevelGrandparent}
		sh.levelWeights = e.search.FocusedLevelWeights
		if req.PreferParentChunks || sh.isTemporal {
			sh.levelWeights = e.search.BroadLevelWeights
		}
		if f := e.temporal.SupersetFactor; f > 1 {
			sh.fetchLimit = sh.limit * f
		}
	}
	return sh
}

// fetchThreshold is the lowest effective threshold any candidate can get.
func (e *Engine) fetchThreshold(sh shape, base float64) float64 {
	t := base
	if sh.temporal != nil && sh.temporal.ReferenceYear != nil {
		t = math.Min(t, e.relaxed(base))
		t = math.Min(t, e.temporal.FetchThreshold)
	}
	if sh.preference {
		t = math.Min(t, e.preference.ThresholdFloor)
	}
	return t
}

func (e *Engine) relaxed(base float64) float64 {
	return math.Max(e.temporal.RelaxFloor, base*e.temporal.RelaxFactor)
}

func (e *Engine) weighted(ctx context.Context, req Request, sh shape) ([]store.Scored, error) {
	start := time.Now()
	out, err := e.store.WeightedSearch(ctx, store.WeightedQuery{
		Embedding:       req.Embedding,
		Threshold:       e.fetchThreshold(sh, sh.threshold),
		CategoryWeights: req.Weights,
		Tags:            req.Tags,
		TagBoost:        sh.tagBoost,
		Levels:          sh.levels,
		Categories:      req.Categories,
		ProcessingType:  chunking.ProcessingInformation,
		Limit:           sh.fetchLimit,
	})
	e.logger.Debug("weighted search",
		zap.Int("candidates", len(out)),
		zap.Ints("levels", sh.levels),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err))
	return out, err
}

// basic runs plain similarity search on base chunks and rescores the hits
// with the same weighted formula the stores use.
func (e *Engine) basic(ctx context.Context, req Request, sh shape, threshold float64) ([]store.Scored, error) {
	f := store.Filter{
		Level:          store.Level(chunking.LevelBase),
		ProcessingType: chunking.ProcessingInformation,
	}
	if len(req.Categories) == 1 {
		f.Category = req.Categories[0]
	}
	hits, err := e.store.Search(ctx, req.Embedding, e.fetchThreshold(sh, threshold), sh.fetchLimit, f)
	if err != nil {
		return nil, err
	}
	out := make([]store.Scored, 0, len(hits))
	for _, h := range hits {
		if len(req.Categories) > 1 && !slices.Contains(req.Categories, h.Chunk.Category) {
			continue
		}
		h.CategoryScore = req.Weights[h.Chunk.Category]
		h.TagMatchScore = store.TagMatchScore(req.Tags, h.Chunk.Tags, sh.tagBoost)
		h.Score = store.WeightedScore(h.Similarity, h.CategoryScore, h.TagMatchScore)
		out = append(out, h)
	}
	return out, nil
}

// score applies level weights, temporal and preference adjustments and the
// per-candidate threshold.
func (e *Engine) score(cands []store.Scored, req Request, sh shape, threshold float64) []Result {
	out := make([]Result, 0, len(cands))
	for _, c := range cands {
		r := Result{
			Chunk:           c.Chunk,
			Similarity:      c.Similarity,
			CategoryScore:   c.CategoryScore,
			TagMatchScore:   c.TagMatchScore,
			LevelWeight:     levelWeight(sh.levelWeights, c.Chunk.Level),
			DateBoost:       1,
			MentionPenalty:  1,
			PreferenceBoost: 1,
		}

		effective := threshold
		if sh.temporal != nil {
			b := DateBoost(c.Chunk.Content, sh.temporal, e.temporal)
			r.DateBoost, r.extendsPast = b.Factor, b.ExtendsPast
			if b.Factor > 1 {
				effective = math.Min(effective, e.relaxed(threshold))
			}
			if sh.temporal.Type == Before {
				r.mentions = mentionCount(c.Chunk.Content, sh.temporal.Reference)
				r.MentionPenalty = math.Pow(e.temporal.MentionPenalty, float64(r.mentions))
			}
		}
		if sh.preference && isPreferenceChunk(c.Chunk) {
			r.PreferenceBoost = e.preference.Boost
			effective = math.Min(effective, e.preference.ThresholdFloor)
		}
		if c.Similarity < effective {
			continue
		}

		r.FinalScore = c.Score * r.LevelWeight * r.DateBoost * r.MentionPenalty * r.PreferenceBoost
		out = append(out, r)
	}
	return out
}

func levelWeight(weights []float64, level int) float64 {
	if len(weights) == 0 {
		return 1
	}
	if level < 0 {
		level = 0
	}
	if level >= len(weights) {
		level = len(weights) - 1
	}
	return weights[level]
}

// supplementPreferences adds preference chunks missing from a preference
// query's results, scored just above the weakest real result.
func (e *Engine) supplementPreferences(ctx context.Context, results []Result, req Request, sh shape) []Result {
	if !sh.preference || e.preference.SupplementLimit <= 0 {
		return results
	}
	if len(req.Categories) > 0 && !slices.Contains(req.Categories, chunking.CategoryPreferences) {
		return results
	}
	extra, err := e.store.List(ctx, store.Filter{
		Category:       chunking.CategoryPreferences,
		Level:          store.Level(chunking.LevelBase),
		ProcessingType: chunking.ProcessingInformation,
	})
	if err != nil {
		e.logger.Warn("preference supplement fetch failed", zap.Error(err))
		return results
	}

	present := make(map[string]bool, len(results))
	synthetic := e.preference.ThresholdFloor
	for i, r := range results {
		present[r.Chunk.ID] = true
		if i == 0 || r.FinalScore*1.01 < synthetic {
			synthetic = r.FinalScore * 1.01
		}
	}

	added := 0
	for _, c := range extra {
		if added >= e.preference.SupplementLimit {
			break
		}
		if present[c.ID] {
			continue
		}
		results = append(results, Result{
			Chunk:           c,
			CategoryScore:   req.Weights[c.Category],
			FinalScore:      synthetic,
			LevelWeight:     1,
			DateBoost:       1,
			MentionPenalty:  1,
			PreferenceBoost: e.preference.Boost,
			Supplemental:    true,
		})
		present[c.ID] = true
		added++
	}
	if added > 0 {
		e.logger.Debug("added preference chunks", zap.Int("count", added))
	}
	return results
}

// demoteBefore drops results of a before query that mention the reference
// or extend past it, unless that would leave nothing.
func demoteBefore(results []Result, tc *TemporalContext) []Result {
	if tc == nil || tc.Type != Before || len(results) == 0 {
		return results
	}
	kept := make([]Result, 0, len(results))
	for _, r := range results {
		if r.mentions > 0 || r.extendsPast {
			continue
		}
		kept = append(kept, r)
	}
	if len(kept) == 0 {
		return results
	}
	return kept
}

func finalize(results []Result, limit int) []Result {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].FinalScore != results[j].FinalScore {
			return results[i].FinalScore > results[j].FinalScore
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}
