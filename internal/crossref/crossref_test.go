package crossref

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earlyspark/ai-candidate/internal/chunking"
	"github.com/earlyspark/ai-candidate/internal/metadata"
	"github.com/earlyspark/ai-candidate/internal/ranking"
	"github.com/earlyspark/ai-candidate/internal/store"
)

type fakeReader struct {
	chunks  []chunking.Chunk
	listErr error
}

func (f *fakeReader) Get(_ context.Context, id string) (chunking.Chunk, error) {
	for _, c := range f.chunks {
		if c.ID == id {
			return c, nil
		}
	}
	return chunking.Chunk{}, store.ErrNotFound
}

func (f *fakeReader) List(_ context.Context, filter store.Filter) ([]chunking.Chunk, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []chunking.Chunk
	for _, c := range f.chunks {
		switch {
		case filter.Level != nil && c.Level != *filter.Level:
		case filter.GroupID != "" && c.GroupID != filter.GroupID:
		case filter.ProcessingType != "" && c.ProcessingType != filter.ProcessingType:
		case filter.Category != "" && c.Category != filter.Category:
		default:
			out = append(out, c)
		}
	}
	return out, nil
}

func withMeta(c chunking.Chunk, m metadata.Metadata) chunking.Chunk {
	c.Metadata = map[string]any{metadata.ChunkKey: m.Map()}
	return c
}

func corpus() *fakeReader {
	base := func(id, category, group string) chunking.Chunk {
		return chunking.Chunk{ID: id, Category: category, GroupID: group, ProcessingType: chunking.ProcessingInformation}
	}
	exp1 := base("exp-1", "experience", "g1")
	exp1.ParentID = "exp-p"
	exp2 := base("exp-2", "experience", "g1")
	exp2.ParentID = "exp-p"
	parent := base("exp-p", "experience", "g1")
	parent.Level = chunking.LevelParent

	proj := withMeta(base("proj-1", "projects", "g2"), metadata.Metadata{Tools: []string{"Kubernetes"}})
	proj.Tags = []string{"go"}
	skill := withMeta(base("skill-1", "skills", "g3"), metadata.Metadata{Tools: []string{"Python"}})
	resume := withMeta(base("res-1", "resume", "g4"), metadata.Metadata{
		TemporalRelationships: []string{"2019"},
		Recency:               metadata.RecencyHistorical,
	})

	return &fakeReader{chunks: []chunking.Chunk{exp1, exp2, parent, proj, skill, resume}}
}

func primaryOf(r *fakeReader, scores map[string]float64) []ranking.Result {
	var out []ranking.Result
	for _, c := range r.chunks {
		if s, ok := scores[c.ID]; ok {
			out = append(out, ranking.Result{Chunk: c, FinalScore: s})
		}
	}
	return out
}

func refIDs(refs []Reference) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.Chunk.ID
	}
	return out
}

func TestFind(t *testing.T) {
	r := corpus()
	e := New(r, nil)

	refs := e.Find(context.Background(), primaryOf(r, map[string]float64{"exp-1": 1.0}), Context{
		Query:     "tell me about the kubernetes migration",
		Metadata:  metadata.Metadata{Tools: []string{"Kubernetes"}, Topics: []string{"migration"}},
		Primary:   []string{"experience"},
		Secondary: []string{"projects"},
	})

	require.Equal(t, []string{"exp-p", "exp-2", "proj-1"}, refIDs(refs))

	assert.Equal(t, RelationParent, refs[0].Relation)
	assert.InDelta(t, 1.0*0.8*1.0*0.9, refs[0].Score, 1e-9)

	assert.Equal(t, RelationSibling, refs[1].Relation)
	assert.Equal(t, "exp-1", refs[1].RelatedTo)

	assert.Equal(t, RelationMetadata, refs[2].Relation)
	assert.Equal(t, []string{"kubernetes"}, refs[2].MatchedTerms)
	assert.InDelta(t, 0.5*1.0*1.25*0.7, refs[2].Score, 1e-9, "half the query terms, one exact match, secondary category")
}

func TestFind_Dedupes(t *testing.T) {
	r := corpus()
	refs := New(r, nil).Find(context.Background(), primaryOf(r, map[string]float64{"exp-1": 1.0, "exp-2": 0.5}), Context{
		Query: "tell me about that", Primary: []string{"experience"},
	})
	require.Equal(t, []string{"exp-p"}, refIDs(refs), "shared parent once, primaries excluded")
	assert.Equal(t, "exp-1", refs[0].RelatedTo, "highest scoring relation wins")
}

func TestFind_SkipsStyleChunks(t *testing.T) {
	r := corpus()
	twin := r.chunks[3]
	twin.ID = "proj-1-style"
	twin.ProcessingType = chunking.ProcessingStyle
	r.chunks = append(r.chunks, twin)

	refs := New(r, nil).Find(context.Background(), primaryOf(r, map[string]float64{"exp-1": 1.0}), Context{
		Query:     "tell me about the kubernetes migration",
		Metadata:  metadata.Metadata{Tools: []string{"Kubernetes"}, Topics: []string{"migration"}},
		Primary:   []string{"experience"},
		Secondary: []string{"projects"},
	})
	assert.Contains(t, refIDs(refs), "proj-1")
	assert.NotContains(t, refIDs(refs), "proj-1-style")
}

func TestFind_Temporal(t *testing.T) {
	r := corpus()
	primary := primaryOf(r, map[string]float64{"exp-1": 1.0})
	qc := Context{
		Query:    "what were you doing during 2019",
		Metadata: metadata.Metadata{TemporalRelationships: []string{"2019"}, Recency: metadata.RecencyHistorical},
		Primary:  []string{"experience"},
	}

	refs := New(r, nil).Find(context.Background(), primary, qc)
	var temporal *Reference
	for i := range refs {
		if refs[i].Chunk.ID == "res-1" {
			temporal = &refs[i]
		}
	}
	require.NotNil(t, temporal)
	assert.Equal(t, RelationTemporal, temporal.Relation)
	assert.Equal(t, []string{"2019"}, temporal.MatchedTerms)
	assert.InDelta(t, 0.5*relationWeights[IntentTimeline][RelationTemporal]*OtherMultiplier*TemporalBoost, temporal.Score, 1e-9)

	qc.Metadata.Recency = metadata.RecencyTimeless
	refs = New(r, nil).Find(context.Background(), primary, qc)
	assert.NotContains(t, refIDs(refs), "res-1", "timeless queries skip temporal matches")
}

func TestFind_DegradesOnListError(t *testing.T) {
	r := corpus()
	primary := primaryOf(r, map[string]float64{"exp-1": 1.0})
	r.listErr = errors.New("store down")

	refs := New(r, nil).Find(context.Background(), primary, Context{Query: "x", Limit: 5})
	assert.Equal(t, []string{"exp-p"}, refIDs(refs), "parent lookup uses Get")

	assert.Nil(t, New(r, nil).Find(context.Background(), nil, Context{}))
}

func TestFind_Limit(t *testing.T) {
	r := corpus()
	refs := New(r, nil).Find(context.Background(), primaryOf(r, map[string]float64{"exp-1": 1.0}), Context{
		Query: "kubernetes", Metadata: metadata.Metadata{Tools: []string{"kubernetes"}}, Limit: 1,
	})
	require.Len(t, refs, 1)
	assert.Equal(t, "proj-1", refs[0].Chunk.ID)
}

func TestScore_Clamped(t *testing.T) {
	c := candidate{chunk: chunking.Chunk{Category: "projects"}, relation: RelationMetadata, base: 100, exact: 10}
	assert.Equal(t, MaxScore, score(c, IntentGeneral, Context{Primary: []string{"projects"}}))

	c.base = -1
	assert.Equal(t, 0.0, score(c, IntentGeneral, Context{}))
}

func TestDetectIntent(t *testing.T) {
	tests := map[string]Intent{
		"what did you do before Globex":    IntentTimeline,
		"walk me through the migration":    IntentDetail,
		"give me an overview of your work": IntentOverview,
		"what languages do you write":      IntentGeneral,
	}
	for q, want := range tests {
		t.Run(q, func(t *testing.T) {
			assert.Equal(t, want, DetectIntent(q))
		})
	}
}

func TestMatchTerms(t *testing.T) {
	matched, exact, fuzzy := matchTerms(
		[]string{"kubernetes", "distributed systems", "go"},
		[]string{"kubernetes", "systems design", "google"},
	)
	assert.Equal(t, []string{"kubernetes", "distributed systems"}, matched)
	assert.Equal(t, 1, exact)
	assert.Equal(t, 1, fuzzy, "short terms never fuzzy-match")
}
