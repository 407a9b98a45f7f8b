// Package search answers free-text questions with ranked, cross-referenced
// chunks.
//
// Service.Search applies the runtime settings, embeds the query and extracts
// its metadata concurrently, classifies the query against the discovered
// categories, ranks candidates and attaches cross-references. Dependency
// failures degrade the response; only the failure of every retrieval path is
// returned as an error.
package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/earlyspark/ai-candidate/internal/cache"
	"github.com/earlyspark/ai-candidate/internal/classifier"
	"github.com/earlyspark/ai-candidate/internal/config"
	"github.com/earlyspark/ai-candidate/internal/crossref"
	"github.com/earlyspark/ai-candidate/internal/embeddings"
	"github.com/earlyspark/ai-candidate/internal/metadata"
	"github.com/earlyspark/ai-candidate/internal/ranking"
)

// ErrEmptyQuery is returned for a blank query.
var ErrEmptyQuery = errors.New("query is empty")

// Category weight bands used to split primary and secondary categories for
// cross-referencing.
const (
	primaryWeight   = 0.7
	secondaryWeight = 0.4
)

var tracer = otel.Tracer("candidate.search")

// Options are the caller-controlled search parameters. Zero values use the
// configured defaults.
type Options struct {
	Limit                    int      `json:"limit,omitempty"`
	Threshold                float64  `json:"threshold,omitempty"`
	Categories               []string `json:"categories,omitempty"`
	EnableHierarchicalSearch bool     `json:"enableHierarchicalSearch,omitempty"`
	PreferParentChunks       bool     `json:"preferParentChunks,omitempty"`
}

// Response is a search result. It is always well formed, even when empty.
type Response struct {
	Results         []ranking.Result         `json:"results"`
	CategoryWeights classifier.Weights       `json:"categoryWeights"`
	QueryTags       []string                 `json:"queryTags"`
	SearchTime      time.Duration            `json:"searchTime"`
	CrossReferences []crossref.Reference     `json:"crossReferences"`
	Temporal        *ranking.TemporalContext `json:"temporal,omitempty"`
	Path            string                   `json:"path"`
	Cached          bool                     `json:"cached,omitempty"`
}

// Classifier weights categories for a query.
type Classifier interface {
	Classify(ctx context.Context, query string, queryEmbedding []float32) classifier.Weights
}

// Analyzer extracts metadata from text.
type Analyzer interface {
	Extract(ctx context.Context, text string) metadata.Metadata
}

// Ranker ranks chunks for a request.
type Ranker interface {
	Rank(ctx context.Context, req ranking.Request) (ranking.Response, error)
}

// CrossReferencer finds chunks related to primary results.
type CrossReferencer interface {
	Find(ctx context.Context, primary []ranking.Result, qc crossref.Context) []crossref.Reference
}

// Deps are the collaborators of a Service. Responses and Settings may be nil.
type Deps struct {
	Embedder   embeddings.Embedder
	Classifier Classifier
	Analyzer   Analyzer
	Tags       *metadata.TagExtractor
	Ranker     Ranker
	CrossRefs  CrossReferencer
	Responses  cache.Cache[Response]
	Settings   cache.Cache[config.SearchSettings]
}

// Service runs searches.
type Service struct {
	deps   Deps
	cfg    config.SearchConfig
	logger *zap.Logger
}

// NewService creates a search service.
func NewService(deps Deps, cfg config.SearchConfig, logger *zap.Logger) (*Service, error) {
	if deps.Ranker == nil {
		return nil, fmt.Errorf("search requires a ranker")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Tags == nil {
		deps.Tags = metadata.NewTagExtractor(nil)
	}
	return &Service{deps: deps, cfg: cfg, logger: logger}, nil
}

// Search answers query. ErrEmptyQuery and ranking.ErrSearchUnavailable are
// the only errors returned.
func (s *Service) Search(ctx context.Context, query string, opts Options) (resp Response, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "search.Search")
	defer func() {
		SearchDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			SearchesTotal.WithLabelValues("error").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, "search failed")
		}
		span.End()
	}()

	query = strings.TrimSpace(query)
	if query == "" {
		return Response{}, ErrEmptyQuery
	}

	// Settings come first so the cache key reflects the values applied.
	cfg := s.settings(ctx).Apply(s.cfg)
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = cfg.Threshold
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = cfg.DefaultLimit
	}

	key := cacheKey(query, opts, threshold, limit, cfg.TagBoost)
	if s.deps.Responses != nil {
		if cached, ok, cErr := s.deps.Responses.Get(ctx, key); cErr != nil {
			s.logger.Warn("response cache read failed", zap.Error(cErr))
		} else if ok {
			cached.Cached = true
			SearchesTotal.WithLabelValues("cached").Inc()
			span.SetAttributes(attribute.Bool("cached", true))
			return cached, nil
		}
	}

	var (
		embedding []float32
		meta      metadata.Metadata
	)
	var g errgroup.Group
	g.Go(func() error {
		embedding = s.embed(ctx, query)
		return nil
	})
	g.Go(func() error {
		if s.deps.Analyzer != nil {
			meta = s.deps.Analyzer.Extract(ctx, query)
		}
		return nil
	})
	_ = g.Wait()

	var weights classifier.Weights
	if s.deps.Classifier != nil {
		weights = s.deps.Classifier.Classify(ctx, query, embedding)
	}
	tags := s.deps.Tags.QueryTags(query, meta)

	ranked, err := s.deps.Ranker.Rank(ctx, ranking.Request{
		Query:              query,
		Embedding:          embedding,
		Weights:            weights.Map(),
		Tags:               tags,
		Limit:              limit,
		Threshold:          threshold,
		TagBoost:           cfg.TagBoost,
		Categories:         opts.Categories,
		EnableHierarchical: opts.EnableHierarchicalSearch,
		PreferParentChunks: opts.PreferParentChunks,
	})
	if err != nil {
		return Response{}, err
	}

	resp = Response{
		Results:         ranked.Results,
		CategoryWeights: weights,
		QueryTags:       tags,
		Temporal:        ranked.Temporal,
		Path:            ranked.Path,
	}
	if resp.Results == nil {
		resp.Results = []ranking.Result{}
	}
	if s.deps.CrossRefs != nil && len(ranked.Results) > 0 {
		primary, secondary := splitCategories(weights)
		resp.CrossReferences = s.deps.CrossRefs.Find(ctx, ranked.Results, crossref.Context{
			Query:     query,
			Metadata:  meta,
			Primary:   primary,
			Secondary: secondary,
			Limit:     s.cfg.CrossReferenceLimit,
		})
	}
	if resp.CrossReferences == nil {
		resp.CrossReferences = []crossref.Reference{}
	}
	resp.SearchTime = time.Since(start)

	SearchesTotal.WithLabelValues(resp.Path).Inc()
	ResultsReturned.Observe(float64(len(resp.Results)))
	span.SetAttributes(
		attribute.String("path", resp.Path),
		attribute.Int("results", len(resp.Results)),
		attribute.Int("cross_references", len(resp.CrossReferences)),
	)

	// Degraded responses are not cached so the next call retries the
	// dependency.
	if embedding != nil && len(resp.Results) > 0 {
		cache.SetAsync(s.deps.Responses, key, resp, s.cfg.ResponseCacheTTL.Duration(), s.logger)
	}
	s.logger.Debug("search complete",
		zap.String("path", resp.Path),
		zap.Int("results", len(resp.Results)),
		zap.Duration("duration", resp.SearchTime))
	return resp, nil
}

// Invalidate drops every cached response. Ingestion calls it after the
// corpus changes.
func (s *Service) Invalidate(ctx context.Context) {
	if s.deps.Responses == nil {
		return
	}
	if err := s.deps.Responses.Clear(ctx); err != nil {
		s.logger.Warn("response cache clear failed", zap.Error(err))
	}
}

func (s *Service) embed(ctx context.Context, query string) []float32 {
	if s.deps.Embedder == nil {
		DegradedTotal.WithLabelValues("embedding").Inc()
		return nil
	}
	vec, err := s.deps.Embedder.Embed(ctx, query)
	if err != nil {
		s.logger.Warn("query embedding failed, search degrades to empty", zap.Error(err))
		DegradedTotal.WithLabelValues("embedding").Inc()
		return nil
	}
	return vec
}

// settings loads the runtime settings file through the settings cache.
func (s *Service) settings(ctx context.Context) config.SearchSettings {
	if s.cfg.SettingsFile == "" {
		return config.SearchSettings{}
	}
	got, err := cache.GetOrLoad(ctx, s.deps.Settings, "settings:"+s.cfg.SettingsFile, s.cfg.SettingsTTL.Duration(), s.logger,
		func(context.Context) (config.SearchSettings, error) {
			return config.LoadSearchSettings(s.cfg.SettingsFile)
		})
	if err != nil {
		s.logger.Warn("loading search settings failed, using configured values", zap.Error(err))
		DegradedTotal.WithLabelValues("settings").Inc()
		return config.SearchSettings{}
	}
	return got
}

func splitCategories(ws classifier.Weights) (primary, secondary []string) {
	for _, w := range ws {
		switch {
		case w.Weight >= primaryWeight:
			primary = append(primary, w.Category)
		case w.Weight >= secondaryWeight:
			secondary = append(secondary, w.Category)
		}
	}
	return primary, secondary
}

// cacheKey identifies a response by the normalized query, the request
// options and the threshold, limit and tag boost actually applied.
func cacheKey(query string, opts Options, threshold float64, limit int, tagBoost float64) string {
	cats := slices.Clone(opts.Categories)
	slices.Sort(cats)
	raw := fmt.Sprintf("%s|%d|%g|%g|%s|%t|%t",
		strings.Join(strings.Fields(strings.ToLower(query)), " "),
		limit, threshold, tagBoost, strings.Join(cats, ","),
		opts.EnableHierarchicalSearch, opts.PreferParentChunks)
	sum := sha256.Sum256([]byte(raw))
	return "search:" + hex.EncodeToString(sum[:16])
}
