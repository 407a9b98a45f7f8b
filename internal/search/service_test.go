package search

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/earlyspark/ai-candidate/internal/cache"
	"github.com/earlyspark/ai-candidate/internal/chunking"
	"github.com/earlyspark/ai-candidate/internal/classifier"
	"github.com/earlyspark/ai-candidate/internal/config"
	"github.com/earlyspark/ai-candidate/internal/crossref"
	"github.com/earlyspark/ai-candidate/internal/logging"
	"github.com/earlyspark/ai-candidate/internal/metadata"
	"github.com/earlyspark/ai-candidate/internal/ranking"
	"github.com/earlyspark/ai-candidate/internal/store"
)

// keywordEmbedder maps text onto three axes: a shared baseline, "globex" and
// "acme". It stands in for a semantic model with predictable similarities.
type keywordEmbedder struct {
	err error
}

func (k keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if k.err != nil {
		return nil, k.err
	}
	lower := strings.ToLower(text)
	v := []float32{1, 0, 0}
	if strings.Contains(lower, "globex") {
		v[1] = 1
	}
	if strings.Contains(lower, "acme") {
		v[2] = 1
	}
	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v, nil
}

func (k keywordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := k.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func newCorpus(t *testing.T) *store.ChromemStore {
	t.Helper()
	s, err := store.NewChromemStore(config.ChromemConfig{}, 3, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	var records []store.Record
	for i, content := range []string{
		"Senior Engineer at Acme (Jan 2018 - Mar 2021)",
		"Staff Engineer at Globex (Apr 2021 - Present)",
	} {
		c := chunking.Chunk{
			ID:             []string{"acme", "globex"}[i],
			Content:        content,
			Category:       chunking.CategoryResume,
			ProcessingType: chunking.ProcessingInformation,
			GroupID:        "resume-1",
			SequenceOrder:  i,
			SourceID:       "resume",
		}
		vec, err := keywordEmbedder{}.Embed(context.Background(), content)
		require.NoError(t, err)
		records = append(records, store.Record{Chunk: c, Embedding: vec})
	}
	res, err := s.Insert(context.Background(), records)
	require.NoError(t, err)
	require.Equal(t, 2, res.Inserted)
	return s
}

func newService(t *testing.T, s *store.ChromemStore, deps Deps) *Service {
	t.Helper()
	cfg := config.Default()
	if deps.Embedder == nil {
		deps.Embedder = keywordEmbedder{}
	}
	if deps.Classifier == nil {
		deps.Classifier = classifier.New(nil, nil, nil, cfg.Classifier, nil)
	}
	if deps.Analyzer == nil {
		deps.Analyzer = metadata.NewExtractor(nil, nil, 0, nil)
	}
	if deps.Ranker == nil {
		deps.Ranker = ranking.New(s, nil, cfg.Search, cfg.Temporal, cfg.Preference, nil)
	}
	if deps.CrossRefs == nil {
		deps.CrossRefs = crossref.New(s, nil)
	}
	svc, err := NewService(deps, cfg.Search, nil)
	require.NoError(t, err)
	return svc
}

func TestSearch_BeforeEmployer(t *testing.T) {
	svc := newService(t, newCorpus(t), Deps{})

	resp, err := svc.Search(context.Background(), "what did you do before Globex", Options{})
	require.NoError(t, err)

	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "acme", resp.Results[0].Chunk.ID)
	assert.Equal(t, 1, resp.Results[0].Rank)
	for _, r := range resp.Results[1:] {
		assert.NotEqual(t, "globex", r.Chunk.ID)
	}
	assert.Equal(t, ranking.PathWeighted, resp.Path)
	require.NotNil(t, resp.Temporal)
	assert.Equal(t, "Globex", resp.Temporal.Reference)

	w, ok := resp.CategoryWeights.Get(chunking.CategoryResume)
	require.True(t, ok)
	assert.Equal(t, 0.7, w, "keyword overlay for before/after")
	assert.Positive(t, resp.SearchTime)
}

func TestSearch_GracefulDegradation(t *testing.T) {
	logger := logging.NewTestLogger()
	cfg := config.Default()
	s := newCorpus(t)
	svc, err := NewService(Deps{
		Embedder:   keywordEmbedder{err: errors.New("embedding service down")},
		Classifier: classifier.New(nil, nil, nil, cfg.Classifier, nil),
		Analyzer:   metadata.NewExtractor(nil, nil, 0, nil),
		Ranker:     ranking.New(s, nil, cfg.Search, cfg.Temporal, cfg.Preference, nil),
		CrossRefs:  crossref.New(s, nil),
	}, cfg.Search, logger.Underlying())
	require.NoError(t, err)

	resp, err := svc.Search(context.Background(), "what did you do before Globex", Options{})
	require.NoError(t, err)
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
	assert.NotNil(t, resp.CrossReferences)
	assert.Equal(t, ranking.PathNone, resp.Path)
	assert.Len(t, resp.CategoryWeights, 6, "static weights still reported")
	logger.AssertLogged(t, zapcore.WarnLevel, "query embedding failed")
}

func TestSearch_EmptyQuery(t *testing.T) {
	svc := newService(t, newCorpus(t), Deps{})
	_, err := svc.Search(context.Background(), "   ", Options{})
	require.ErrorIs(t, err, ErrEmptyQuery)
}

type rankerFunc func(ctx context.Context, req ranking.Request) (ranking.Response, error)

func (f rankerFunc) Rank(ctx context.Context, req ranking.Request) (ranking.Response, error) {
	return f(ctx, req)
}

func TestSearch_RankFailurePropagates(t *testing.T) {
	svc := newService(t, newCorpus(t), Deps{Ranker: rankerFunc(func(context.Context, ranking.Request) (ranking.Response, error) {
		return ranking.Response{}, ranking.ErrSearchUnavailable
	})})
	_, err := svc.Search(context.Background(), "anything", Options{})
	require.ErrorIs(t, err, ranking.ErrSearchUnavailable)
}

func TestSearch_ResponseCache(t *testing.T) {
	mem := cache.NewMemory[Response](time.Minute, 10)
	svc := newService(t, newCorpus(t), Deps{Responses: mem})
	ctx := context.Background()

	first, err := svc.Search(ctx, "what did you do before Globex", Options{})
	require.NoError(t, err)
	assert.False(t, first.Cached)
	require.Eventually(t, func() bool { return mem.Len() == 1 }, time.Second, 5*time.Millisecond)

	second, err := svc.Search(ctx, "  What did you do BEFORE   Globex ", Options{})
	require.NoError(t, err)
	assert.True(t, second.Cached, "normalized query hits the cache")
	assert.Equal(t, first.Results[0].Chunk.ID, second.Results[0].Chunk.ID)

	_, err = svc.Search(ctx, "what did you do before Globex", Options{Limit: 1})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return mem.Len() == 2 }, time.Second, 5*time.Millisecond, "options are part of the key")

	svc.Invalidate(ctx)
	assert.Equal(t, 0, mem.Len())
}

func TestSearch_SettingsChangeMissesCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "search.yaml")
	require.NoError(t, os.WriteFile(path, []byte("threshold: 0.42\n"), 0600))

	var (
		calls int
		got   ranking.Request
	)
	ranker := rankerFunc(func(_ context.Context, req ranking.Request) (ranking.Response, error) {
		calls++
		got = req
		return ranking.Response{
			Results: []ranking.Result{{Chunk: chunking.Chunk{ID: "acme"}, Rank: 1}},
			Path:    ranking.PathWeighted,
		}, nil
	})

	cfg := config.Default()
	cfg.Search.SettingsFile = path
	mem := cache.NewMemory[Response](time.Minute, 10)
	svc, err := NewService(Deps{
		Embedder:   keywordEmbedder{},
		Classifier: classifier.New(nil, nil, nil, cfg.Classifier, nil),
		Ranker:     ranker,
		Responses:  mem,
	}, cfg.Search, nil)
	require.NoError(t, err)
	ctx := context.Background()
	query := "what projects have you built with go"

	_, err = svc.Search(ctx, query, Options{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return mem.Len() == 1 }, time.Second, 5*time.Millisecond)

	cached, err := svc.Search(ctx, query, Options{})
	require.NoError(t, err)
	assert.True(t, cached.Cached)
	assert.Equal(t, 1, calls)

	require.NoError(t, os.WriteFile(path, []byte("threshold: 0.55\ndefault_limit: 3\ntag_boost: 0.2\n"), 0600))
	fresh, err := svc.Search(ctx, query, Options{})
	require.NoError(t, err)
	assert.False(t, fresh.Cached, "new settings change the key")
	assert.Equal(t, 2, calls)
	assert.Equal(t, 0.55, got.Threshold)
	assert.Equal(t, 3, got.Limit)
	assert.Equal(t, 0.2, got.TagBoost)
}

func TestCacheKey(t *testing.T) {
	base := cacheKey("q", Options{}, 0.3, 5, 0.1)
	assert.Equal(t, base, cacheKey("q", Options{}, 0.3, 5, 0.1))
	assert.NotEqual(t, base, cacheKey("q", Options{}, 0.42, 5, 0.1), "threshold")
	assert.NotEqual(t, base, cacheKey("q", Options{}, 0.3, 4, 0.1), "limit")
	assert.NotEqual(t, base, cacheKey("q", Options{}, 0.3, 5, 0.2), "tag boost")
	assert.Equal(t,
		cacheKey("q", Options{Categories: []string{"skills", "resume"}}, 0.3, 5, 0.1),
		cacheKey("q", Options{Categories: []string{"resume", "skills"}}, 0.3, 5, 0.1),
		"category order")
}

func TestSearch_StyleTwinsNotReturned(t *testing.T) {
	s := newCorpus(t)
	content := "Senior Engineer at Acme (Jan 2018 - Mar 2021)"
	vec, err := keywordEmbedder{}.Embed(context.Background(), content)
	require.NoError(t, err)
	_, err = s.Insert(context.Background(), []store.Record{{
		Chunk: chunking.Chunk{
			ID:             "acme-style",
			Content:        content,
			Category:       chunking.CategoryResume,
			ProcessingType: chunking.ProcessingStyle,
			GroupID:        "resume-1",
			SourceID:       "resume",
		},
		Embedding: vec,
	}})
	require.NoError(t, err)
	svc := newService(t, s, Deps{})

	for _, q := range []string{"tell me about Acme", "what did you do before Globex"} {
		t.Run(q, func(t *testing.T) {
			resp, err := svc.Search(context.Background(), q, Options{Limit: 10})
			require.NoError(t, err)
			require.NotEmpty(t, resp.Results)

			seen := map[string]bool{}
			for _, r := range resp.Results {
				assert.NotEqual(t, chunking.ProcessingStyle, r.Chunk.ProcessingType, r.Chunk.ID)
				assert.False(t, seen[r.Chunk.Content], "duplicate content %q", r.Chunk.Content)
				seen[r.Chunk.Content] = true
			}
			for _, ref := range resp.CrossReferences {
				assert.NotEqual(t, "acme-style", ref.Chunk.ID)
			}
		})
	}
}

func TestSearch_SettingsAndOptions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "search.yaml")
	require.NoError(t, os.WriteFile(path, []byte("threshold: 0.42\ntag_boost: 0.3\ndefault_limit: 4\n"), 0600))

	var got ranking.Request
	ranker := rankerFunc(func(_ context.Context, req ranking.Request) (ranking.Response, error) {
		got = req
		return ranking.Response{Path: ranking.PathNone}, nil
	})

	cfg := config.Default()
	cfg.Search.SettingsFile = path
	svc, err := NewService(Deps{
		Embedder:   keywordEmbedder{},
		Classifier: classifier.New(nil, nil, nil, cfg.Classifier, nil),
		Ranker:     ranker,
		Settings:   cache.NewMemory[config.SearchSettings](time.Minute, 1),
	}, cfg.Search, nil)
	require.NoError(t, err)

	_, err = svc.Search(context.Background(), "what projects have you built with go", Options{})
	require.NoError(t, err)
	assert.Equal(t, 0.42, got.Threshold)
	assert.Equal(t, 0.3, got.TagBoost)
	assert.Equal(t, 4, got.Limit)
	assert.NotEmpty(t, got.Embedding)
	assert.Equal(t, 0.7, got.Weights["projects"])

	_, err = svc.Search(context.Background(), "what projects have you built with go", Options{
		Threshold: 0.6, Limit: 2, Categories: []string{"projects"}, EnableHierarchicalSearch: true, PreferParentChunks: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 0.6, got.Threshold, "caller threshold wins")
	assert.Equal(t, 2, got.Limit)
	assert.Equal(t, []string{"projects"}, got.Categories)
	assert.True(t, got.EnableHierarchical)
	assert.True(t, got.PreferParentChunks)
}

type crossRefFunc func(ctx context.Context, primary []ranking.Result, qc crossref.Context) []crossref.Reference

func (f crossRefFunc) Find(ctx context.Context, primary []ranking.Result, qc crossref.Context) []crossref.Reference {
	return f(ctx, primary, qc)
}

type classifierFunc func(ctx context.Context, query string, emb []float32) classifier.Weights

func (f classifierFunc) Classify(ctx context.Context, query string, emb []float32) classifier.Weights {
	return f(ctx, query, emb)
}

func TestSearch_CrossReferenceContext(t *testing.T) {
	var qc crossref.Context
	svc := newService(t, newCorpus(t), Deps{
		Classifier: classifierFunc(func(context.Context, string, []float32) classifier.Weights {
			return classifier.Weights{
				{Category: "resume", Weight: 0.9},
				{Category: "projects", Weight: 0.5},
				{Category: "skills", Weight: 0.2},
			}
		}),
		CrossRefs: crossRefFunc(func(_ context.Context, primary []ranking.Result, c crossref.Context) []crossref.Reference {
			qc = c
			return []crossref.Reference{{Chunk: primary[0].Chunk, Relation: crossref.RelationSibling}}
		}),
	})

	resp, err := svc.Search(context.Background(), "where did you work at Acme", Options{})
	require.NoError(t, err)
	require.Len(t, resp.CrossReferences, 1)
	assert.Equal(t, []string{"resume"}, qc.Primary)
	assert.Equal(t, []string{"projects"}, qc.Secondary)
	assert.Equal(t, config.Default().Search.CrossReferenceLimit, qc.Limit)
	assert.Contains(t, qc.Metadata.Terms(), "acme")
}
