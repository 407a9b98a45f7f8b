package ranking

import (
	"context"
	"errors"
	"slices"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/earlyspark/ai-candidate/internal/chunking"
	"github.com/earlyspark/ai-candidate/internal/config"
	"github.com/earlyspark/ai-candidate/internal/logging"
	"github.com/earlyspark/ai-candidate/internal/store"
)

// fakeStore returns a fixed similarity per chunk id, so tests control raw
// similarity independently of any embedding.
type fakeStore struct {
	chunks []chunking.Chunk
	sims   map[string]float64

	weightedErr error
	basicErr    error

	lastLimit int
	listCalls int
}

func (f *fakeStore) add(c chunking.Chunk, sim float64) {
	if f.sims == nil {
		f.sims = map[string]float64{}
	}
	f.chunks = append(f.chunks, c)
	f.sims[c.ID] = sim
}

func (f *fakeStore) WeightedSearch(_ context.Context, q store.WeightedQuery) ([]store.Scored, error) {
	f.lastLimit = q.Limit
	if f.weightedErr != nil {
		return nil, f.weightedErr
	}
	levels := q.Levels
	if len(levels) == 0 {
		levels = []int{chunking.LevelBase}
	}
	var out []store.Scored
	for _, c := range f.chunks {
		sim := f.sims[c.ID]
		if sim < q.Threshold || !slices.Contains(levels, c.Level) {
			continue
		}
		if len(q.Categories) > 0 && !slices.Contains(q.Categories, c.Category) {
			continue
		}
		if q.ProcessingType != "" && c.ProcessingType != q.ProcessingType {
			continue
		}
		cat := q.CategoryWeights[c.Category]
		tag := store.TagMatchScore(q.Tags, c.Tags, q.TagBoost)
		out = append(out, store.Scored{
			Chunk: c, Similarity: sim, CategoryScore: cat, TagMatchScore: tag,
			Score: store.WeightedScore(sim, cat, tag),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (f *fakeStore) Search(_ context.Context, _ []float32, threshold float64, limit int, filter store.Filter) ([]store.Scored, error) {
	if f.basicErr != nil {
		return nil, f.basicErr
	}
	var out []store.Scored
	for _, c := range f.chunks {
		sim := f.sims[c.ID]
		if sim < threshold || (filter.Level != nil && c.Level != *filter.Level) {
			continue
		}
		if filter.Category != "" && c.Category != filter.Category {
			continue
		}
		if filter.ProcessingType != "" && c.ProcessingType != filter.ProcessingType {
			continue
		}
		out = append(out, store.Scored{Chunk: c, Similarity: sim})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) List(_ context.Context, filter store.Filter) ([]chunking.Chunk, error) {
	f.listCalls++
	var out []chunking.Chunk
	for _, c := range f.chunks {
		if filter.Category != "" && c.Category != filter.Category {
			continue
		}
		if filter.Level != nil && c.Level != *filter.Level {
			continue
		}
		if filter.ProcessingType != "" && c.ProcessingType != filter.ProcessingType {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func chunk(id, category, content string) chunking.Chunk {
	return chunking.Chunk{ID: id, Category: category, Content: content, ProcessingType: chunking.ProcessingInformation}
}

func styleTwin(c chunking.Chunk) chunking.Chunk {
	c.ID += "-style"
	c.ProcessingType = chunking.ProcessingStyle
	return c
}

func newEngine(s Store) *Engine {
	cfg := config.Default()
	return New(s, NewReferenceCache(cfg.Temporal.ReferenceCacheTTL.Duration()), cfg.Search, cfg.Temporal, cfg.Preference, nil)
}

var queryVec = []float32{1, 0, 0}

func ids(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Chunk.ID
	}
	return out
}

func rankOf(results []Result, id string) int {
	for _, r := range results {
		if r.Chunk.ID == id {
			return r.Rank
		}
	}
	return 0
}

func TestRank_BeforeEmployer(t *testing.T) {
	s := &fakeStore{}
	s.add(chunk("acme", "resume", "Senior Engineer at Acme (Jan 2018 - Mar 2021)"), 0.45)
	s.add(chunk("globex", "resume", "Staff Engineer at Globex (Apr 2021 - Present)"), 0.72)

	resp, err := newEngine(s).Rank(context.Background(), Request{
		Query:     "what did you do before Globex",
		Embedding: queryVec,
		Weights:   map[string]float64{"resume": 0.7},
	})
	require.NoError(t, err)

	require.NotNil(t, resp.Temporal)
	assert.Equal(t, Before, resp.Temporal.Type)
	assert.Equal(t, "Globex", resp.Temporal.Reference)
	require.NotNil(t, resp.Temporal.ReferenceYear)
	assert.Equal(t, 2021, *resp.Temporal.ReferenceYear)

	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "acme", resp.Results[0].Chunk.ID)
	assert.Equal(t, 1, resp.Results[0].Rank)
	assert.Equal(t, 3.5, resp.Results[0].DateBoost, "ends in the first half of the reference year")
	assert.NotContains(t, ids(resp.Results), "globex", "mentions the anchor and is ongoing")
}

func TestRank_RoleSequence(t *testing.T) {
	newStore := func() *fakeStore {
		s := &fakeStore{}
		s.add(chunk("a", "resume", "Role A at Initech (Jan 2014 - Jun 2016). Led the payments team."), 0.40)
		s.add(chunk("b", "resume", "Role B at Hooli (Aug 2016 - Present). Platform engineering."), 0.60)
		return s
	}
	weights := map[string]float64{"resume": 0.6}

	t.Run("before Role B", func(t *testing.T) {
		resp, err := newEngine(newStore()).Rank(context.Background(), Request{
			Query: "what did I do before Role B", Embedding: queryVec, Weights: weights,
		})
		require.NoError(t, err)
		require.NotEmpty(t, resp.Results)
		assert.Equal(t, "a", resp.Results[0].Chunk.ID)
		if r := rankOf(resp.Results, "b"); r != 0 {
			assert.Greater(t, r, 1)
		}
	})

	t.Run("after Role A", func(t *testing.T) {
		resp, err := newEngine(newStore()).Rank(context.Background(), Request{
			Query: "what did I do after Role A", Embedding: queryVec, Weights: weights,
		})
		require.NoError(t, err)
		require.NotNil(t, resp.Temporal.ReferenceYear)
		assert.Equal(t, 2016, *resp.Temporal.ReferenceYear)
		assert.Equal(t, []string{"b", "a"}, ids(resp.Results))
		assert.Equal(t, 3.5, resp.Results[0].DateBoost)
		assert.Equal(t, 0.05, resp.Results[1].DateBoost)
	})
}

func TestRank_AdjacentRolesInOneYear(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		chunks    []chunking.Chunk
		sims      []float64
		wantFirst string
		wantRef   int
		wantMonth int
	}{
		{
			name:  "after a role that ends in March",
			query: "what did you do after Acme",
			chunks: []chunking.Chunk{
				chunk("acme", "resume", "Senior Engineer at Acme (Jan 2018 - Mar 2021)"),
				chunk("globex", "resume", "Staff Engineer at Globex (Apr 2021 - Present)"),
			},
			sims:      []float64{0.7, 0.45},
			wantFirst: "globex",
			wantRef:   2021,
			wantMonth: 3,
		},
		{
			name:  "before a role that starts in December",
			query: "what did you do before Hooli",
			chunks: []chunking.Chunk{
				chunk("initech", "resume", "Engineer at Initech (Feb 2015 - Sep 2019)"),
				chunk("hooli", "resume", "Lead at Hooli (Dec 2019 - Present)"),
			},
			sims:      []float64{0.45, 0.72},
			wantFirst: "initech",
			wantRef:   2019,
			wantMonth: 12,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeStore{}
			for i, c := range tt.chunks {
				s.add(c, tt.sims[i])
			}
			resp, err := newEngine(s).Rank(context.Background(), Request{
				Query: tt.query, Embedding: queryVec, Weights: map[string]float64{"resume": 0.7},
			})
			require.NoError(t, err)
			require.NotNil(t, resp.Temporal.ReferenceYear)
			assert.Equal(t, tt.wantRef, *resp.Temporal.ReferenceYear)
			assert.Equal(t, tt.wantMonth, resp.Temporal.ReferenceMonth)
			require.NotEmpty(t, resp.Results)
			assert.Equal(t, tt.wantFirst, resp.Results[0].Chunk.ID)
			assert.Equal(t, 3.5, resp.Results[0].DateBoost)
		})
	}
}

func TestRank_LeadingClauseAnchor(t *testing.T) {
	for _, q := range []string{"Before Globex, what did you do?", "what did you do before Globex?"} {
		t.Run(q, func(t *testing.T) {
			s := &fakeStore{}
			s.add(chunk("acme", "resume", "Senior Engineer at Acme (Jan 2018 - Mar 2021)"), 0.45)
			s.add(chunk("globex", "resume", "Staff Engineer at Globex (Apr 2021 - Present)"), 0.72)

			resp, err := newEngine(s).Rank(context.Background(), Request{
				Query: q, Embedding: queryVec, Weights: map[string]float64{"resume": 0.7},
			})
			require.NoError(t, err)
			require.NotNil(t, resp.Temporal)
			assert.Equal(t, "Globex", resp.Temporal.Reference)
			require.NotEmpty(t, resp.Results)
			assert.Equal(t, "acme", resp.Results[0].Chunk.ID)
		})
	}
}

func TestRank_StyleChunksExcluded(t *testing.T) {
	acme := chunk("acme", "resume", "Senior Engineer at Acme (Jan 2018 - Mar 2021)")
	pref := chunk("pref", "preferences", "I work best with small autonomous teams")

	tests := []struct {
		name    string
		query   string
		weights map[string]float64
		s       *fakeStore
	}{
		{
			name:  "weighted search",
			query: "tell me about Acme",
			s:     &fakeStore{},
		},
		{
			name:  "basic fallback",
			query: "tell me about Acme",
			s:     &fakeStore{weightedErr: errors.New("rpc failed")},
		},
		{
			name:    "preference supplement",
			query:   "what is your ideal role?",
			weights: map[string]float64{"preferences": 0.9},
			s:       &fakeStore{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.s.add(acme, 0.8)
			tt.s.add(styleTwin(acme), 0.8)
			tt.s.add(pref, 0.05)
			tt.s.add(styleTwin(pref), 0.05)

			resp, err := newEngine(tt.s).Rank(context.Background(), Request{
				Query: tt.query, Embedding: queryVec, Weights: tt.weights, Limit: 10,
			})
			require.NoError(t, err)
			require.NotEmpty(t, resp.Results)

			seen := map[string]bool{}
			for _, r := range resp.Results {
				assert.Equal(t, chunking.ProcessingInformation, r.Chunk.ProcessingType, r.Chunk.ID)
				assert.False(t, seen[r.Chunk.Content], "duplicate content %q", r.Chunk.Content)
				seen[r.Chunk.Content] = true
			}
		})
	}

	t.Run("resolver ignores style twins", func(t *testing.T) {
		s := &fakeStore{}
		twin := styleTwin(chunk("globex", "resume", "Staff Engineer at Globex (Jan 2019 - Present)"))
		s.add(chunk("globex", "resume", "Staff Engineer at Globex (Apr 2021 - Present)"), 0.7)
		s.add(twin, 0.7)

		resp, err := newEngine(s).Rank(context.Background(), Request{Query: "what did you do before Globex", Embedding: queryVec})
		require.NoError(t, err)
		require.NotNil(t, resp.Temporal.ReferenceYear)
		assert.Equal(t, 2021, *resp.Temporal.ReferenceYear)
	})
}

func TestRank_DemotionNeverEmpties(t *testing.T) {
	s := &fakeStore{}
	s.add(chunk("globex", "resume", "Staff Engineer at Globex (Apr 2021 - Present)"), 0.7)

	resp, err := newEngine(s).Rank(context.Background(), Request{
		Query: "what did you do before Globex", Embedding: queryVec,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"globex"}, ids(resp.Results))
}

func TestRank_ScoreMonotonicity(t *testing.T) {
	sims := []float64{0.31, 0.42, 0.55, 0.67, 0.8, 0.93}
	queries := []string{"tell me about your work", "what did you do before Globex", "what is your ideal role?"}

	for _, q := range queries {
		t.Run(q, func(t *testing.T) {
			s := &fakeStore{}
			for i, sim := range sims {
				c := chunk(string(rune('a'+i)), "projects", "Built a search service in Go")
				c.Tags = []string{"go"}
				s.add(c, sim)
			}
			resp, err := newEngine(s).Rank(context.Background(), Request{
				Query: q, Embedding: queryVec, Tags: []string{"go"},
				Weights: map[string]float64{"projects": 0.8}, Limit: 10,
			})
			require.NoError(t, err)
			require.Len(t, resp.Results, len(sims))

			bySim := slices.Clone(resp.Results)
			sort.Slice(bySim, func(i, j int) bool { return bySim[i].Similarity < bySim[j].Similarity })
			for i := 1; i < len(bySim); i++ {
				assert.GreaterOrEqual(t, bySim[i].FinalScore, bySim[i-1].FinalScore)
			}
		})
	}
}

func TestRank_ThresholdRelaxation(t *testing.T) {
	s := &fakeStore{}
	s.add(chunk("a", "resume", "Role A at Initech (Jan 2014 - Jun 2016)"), 0.25)
	s.add(chunk("b", "resume", "Role B at Hooli (Aug 2016 - Present)"), 0.9)
	s.add(chunk("undated", "experience", "Mentored junior engineers through code review"), 0.25)
	s.add(chunk("too-far", "resume", "Intern at Vandelay (Jun 2012 - Aug 2012)"), 0.15)

	resp, err := newEngine(s).Rank(context.Background(), Request{
		Query: "what did I do before Role B", Embedding: queryVec, Threshold: 0.5,
		Weights: map[string]float64{"resume": 0.5, "experience": 0.5},
	})
	require.NoError(t, err)

	got := ids(resp.Results)
	assert.Contains(t, got, "a", "boosted below the caller threshold, above the relaxed floor")
	assert.NotContains(t, got, "undated", "no boost, no relaxation")
	assert.NotContains(t, got, "too-far", "below the relaxed floor")
	assert.Equal(t, "a", got[0])
}

func TestRank_Preference(t *testing.T) {
	s := &fakeStore{}
	s.add(chunk("resume", "resume", "Staff Engineer at Globex"), 0.6)
	s.add(chunk("pref-1", "preferences", "I work best with small autonomous teams"), 0.15)
	s.add(chunk("pref-2", "preferences", "Remote-friendly, async communication"), 0.05)

	resp, err := newEngine(s).Rank(context.Background(), Request{
		Query: "what is your ideal role day-to-day?", Embedding: queryVec,
		Weights: map[string]float64{"resume": 0.5, "preferences": 0.9},
	})
	require.NoError(t, err)
	assert.True(t, resp.Preference)
	require.Equal(t, []string{"pref-1", "pref-2", "resume"}, ids(resp.Results))

	assert.Equal(t, 4.0, resp.Results[0].PreferenceBoost)
	assert.False(t, resp.Results[0].Supplemental)

	supplement := resp.Results[1]
	assert.True(t, supplement.Supplemental)
	assert.InDelta(t, resp.Results[2].FinalScore*1.01, supplement.FinalScore, 1e-9, "just above the weakest real result")
	assert.Equal(t, []int{1, 2, 3}, []int{resp.Results[0].Rank, resp.Results[1].Rank, resp.Results[2].Rank})
}

func TestRank_LevelWeights(t *testing.T) {
	newStore := func() *fakeStore {
		s := &fakeStore{}
		base := chunk("base", "experience", "Handled an outage")
		parent := chunk("parent", "experience", "Handled an outage. Wrote the postmortem.")
		parent.Level = chunking.LevelParent
		s.add(base, 0.55)
		s.add(parent, 0.5)
		return s
	}
	weights := map[string]float64{"experience": 0.5}

	resp, err := newEngine(newStore()).Rank(context.Background(), Request{
		Query: "tell me about an outage", Embedding: queryVec, Weights: weights,
		EnableHierarchical: true, PreferParentChunks: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"parent", "base"}, ids(resp.Results))
	assert.Equal(t, 1.2, resp.Results[0].LevelWeight)

	resp, err = newEngine(newStore()).Rank(context.Background(), Request{
		Query: "tell me about an outage", Embedding: queryVec, Weights: weights,
		EnableHierarchical: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"base", "parent"}, ids(resp.Results))

	resp, err = newEngine(newStore()).Rank(context.Background(), Request{
		Query: "tell me about an outage", Embedding: queryVec, Weights: weights,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"base"}, ids(resp.Results), "base level only without hierarchy")
}

func TestRank_LimitAndSuperset(t *testing.T) {
	s := &fakeStore{}
	for i := 0; i < 8; i++ {
		s.add(chunk(string(rune('a'+i)), "resume", "Engineer"), 0.4+float64(i)*0.05)
	}
	e := newEngine(s)

	resp, err := e.Rank(context.Background(), Request{Query: "career timeline", Embedding: queryVec, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 6, s.lastLimit, "temporal queries fetch a superset")
	require.Len(t, resp.Results, 3)
	for i, r := range resp.Results {
		assert.Equal(t, i+1, r.Rank)
	}

	_, err = e.Rank(context.Background(), Request{Query: "what do you build", Embedding: queryVec, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, s.lastLimit)
}

func TestRank_FallbackLadder(t *testing.T) {
	t.Run("weighted error uses basic search", func(t *testing.T) {
		s := &fakeStore{weightedErr: errors.New("rpc failed")}
		s.add(chunk("a", "projects", "Built a billing pipeline"), 0.2)
		logger := logging.NewTestLogger()
		cfg := config.Default()
		e := New(s, nil, cfg.Search, cfg.Temporal, cfg.Preference, logger.Underlying())

		resp, err := e.Rank(context.Background(), Request{
			Query: "what have you built", Embedding: queryVec, Weights: map[string]float64{"projects": 1},
		})
		require.NoError(t, err)
		assert.Equal(t, PathBasic, resp.Path)
		require.Len(t, resp.Results, 1, "basic search uses a lowered threshold")
		assert.InDelta(t, store.WeightedScore(0.2, 1, 0), resp.Results[0].FinalScore, 1e-9)
		logger.AssertLogged(t, zapcore.WarnLevel, "weighted search failed")
	})

	t.Run("empty weighted result uses basic search", func(t *testing.T) {
		s := &fakeStore{}
		s.add(chunk("a", "projects", "Built a billing pipeline"), 0.2)
		resp, err := newEngine(s).Rank(context.Background(), Request{Query: "what have you built", Embedding: queryVec})
		require.NoError(t, err)
		assert.Equal(t, PathBasic, resp.Path)
		assert.Len(t, resp.Results, 1)
	})

	t.Run("basic error after empty weighted is empty", func(t *testing.T) {
		s := &fakeStore{basicErr: errors.New("down")}
		resp, err := newEngine(s).Rank(context.Background(), Request{Query: "anything", Embedding: queryVec})
		require.NoError(t, err)
		assert.Equal(t, PathNone, resp.Path)
		assert.Empty(t, resp.Results)
	})

	t.Run("both fail", func(t *testing.T) {
		s := &fakeStore{weightedErr: errors.New("down"), basicErr: errors.New("down")}
		_, err := newEngine(s).Rank(context.Background(), Request{Query: "anything", Embedding: queryVec})
		require.ErrorIs(t, err, ErrSearchUnavailable)
	})

	t.Run("no embedding", func(t *testing.T) {
		resp, err := newEngine(&fakeStore{}).Rank(context.Background(), Request{Query: "anything"})
		require.NoError(t, err)
		assert.Equal(t, PathNone, resp.Path)
		assert.Empty(t, resp.Results)
	})
}

func TestResolver_Caches(t *testing.T) {
	s := &fakeStore{}
	s.add(chunk("globex", "resume", "Staff Engineer at Globex (Apr 2021 - Present)"), 0.7)
	e := newEngine(s)

	for i := 0; i < 3; i++ {
		_, err := e.Rank(context.Background(), Request{Query: "what did you do before Globex", Embedding: queryVec})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, s.listCalls)
}

func TestResolver_UnknownReference(t *testing.T) {
	s := &fakeStore{}
	s.add(chunk("acme", "resume", "Senior Engineer at Acme (Jan 2018 - Mar 2021)"), 0.5)

	resp, err := newEngine(s).Rank(context.Background(), Request{Query: "what did you do before Initech", Embedding: queryVec})
	require.NoError(t, err)
	require.NotNil(t, resp.Temporal)
	assert.Nil(t, resp.Temporal.ReferenceYear)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 1.0, resp.Results[0].DateBoost, "unresolved references are neutral")
}
