package metadata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/earlyspark/ai-candidate/internal/cache"
	"github.com/earlyspark/ai-candidate/internal/llm"
	"github.com/earlyspark/ai-candidate/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

var fixedNow = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func TestHeuristic(t *testing.T) {
	m := Heuristic("Senior Engineer at Acme (Jan 2018 - Mar 2021). Led the billing migration to Kubernetes before joining Globex.", fixedNow, nil)

	assert.Equal(t, SourceHeuristic, m.Source)
	assert.Contains(t, m.Entities, "Acme")
	assert.Contains(t, m.Entities, "Globex")
	assert.Contains(t, m.Tools, "kubernetes")
	assert.Contains(t, m.Topics, "leadership")
	assert.Contains(t, m.Topics, "payments")
	assert.Contains(t, m.TemporalRelationships, "Jan 2018 - Mar 2021")
	assert.Equal(t, RecencyHistorical, m.Recency)
}

func TestClassifyRecency(t *testing.T) {
	tests := []struct {
		text string
		want Recency
	}{
		{"Staff Engineer at Globex (Apr 2021 - Present)", RecencyCurrent},
		{"I am currently learning Rust", RecencyCurrent},
		{"Shipped the redesign in 2023", RecencyRecent},
		{"Interned in 2012 and 2014", RecencyHistorical},
		{"I prefer small teams", RecencyTimeless},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyRecency(tt.text, fixedNow))
		})
	}
}

func TestExtractor_LLM(t *testing.T) {
	calls := 0
	client := llm.ClientFunc(func(context.Context, []llm.Message, llm.Options) (string, error) {
		calls++
		return "```json\n" + `{"entities":["Acme","acme"],"topics":["Payments"],"tools":["Go"],"concepts":[],"temporal_relationships":["2019"],"temporal_context":"Historical"}` + "\n```", nil
	})
	e := NewExtractor(client, cache.NewMemory[Metadata](time.Minute, 10), time.Minute, nil)

	m := e.Extract(context.Background(), "Built billing at Acme in Go in 2019.")
	assert.Equal(t, SourceLLM, m.Source)
	assert.Equal(t, []string{"Acme"}, m.Entities)
	assert.Equal(t, []string{"payments"}, m.Topics)
	assert.Equal(t, []string{"go"}, m.Tools)
	assert.Equal(t, RecencyHistorical, m.Recency)

	again := e.Extract(context.Background(), "  Built billing at Acme in Go in 2019.  ")
	assert.Equal(t, m, again)
	assert.Equal(t, 1, calls, "second call should hit the cache")
}

func TestExtractor_Fallback(t *testing.T) {
	t.Run("completion error", func(t *testing.T) {
		logger := logging.NewTestLogger()
		client := llm.ClientFunc(func(context.Context, []llm.Message, llm.Options) (string, error) {
			return "", errors.New("boom")
		})
		e := NewExtractor(client, nil, 0, logger.Underlying())
		e.now = func() time.Time { return fixedNow }

		m := e.Extract(context.Background(), "Staff Engineer at Globex (Apr 2021 - Present)")
		assert.Equal(t, SourceHeuristic, m.Source)
		assert.Equal(t, RecencyCurrent, m.Recency)
		logger.AssertLogged(t, zapcore.WarnLevel, "metadata completion failed")
	})

	t.Run("unparseable answer", func(t *testing.T) {
		client := llm.ClientFunc(func(context.Context, []llm.Message, llm.Options) (string, error) {
			return "I think this is about billing.", nil
		})
		e := NewExtractor(client, nil, 0, nil)
		m := e.Extract(context.Background(), "Worked on billing")
		assert.Equal(t, SourceHeuristic, m.Source)
		assert.Contains(t, m.Topics, "payments")
	})

	t.Run("invalid recency is recomputed", func(t *testing.T) {
		client := llm.ClientFunc(func(context.Context, []llm.Message, llm.Options) (string, error) {
			return `{"temporal_context":"ancient"}`, nil
		})
		e := NewExtractor(client, nil, 0, nil)
		e.now = func() time.Time { return fixedNow }
		assert.Equal(t, RecencyHistorical, e.Extract(context.Background(), "In 2010 I joined a startup").Recency)
	})

	t.Run("no client", func(t *testing.T) {
		e := NewExtractor(nil, nil, 0, nil)
		assert.Equal(t, SourceHeuristic, e.Extract(context.Background(), "Go and Python").Source)
		assert.Equal(t, RecencyTimeless, e.Extract(context.Background(), "   ").Recency)
	})
}

func TestMetadata_MapRoundTrip(t *testing.T) {
	m := Metadata{Entities: []string{"Acme"}, Tools: []string{"go"}, Recency: RecencyRecent, Source: SourceLLM}
	back := FromMap(m.Map())
	assert.Equal(t, []string{"Acme"}, back.Entities)
	assert.Equal(t, []string{"go"}, back.Tools)
	assert.Empty(t, back.Topics)
	assert.Equal(t, RecencyRecent, back.Recency)
	assert.Equal(t, []string{"acme", "go"}, back.Terms())
	assert.True(t, FromMap(nil).Empty())
}

func TestTagExtractor_QueryTags(t *testing.T) {
	tags := NewTagExtractor(nil)
	got := tags.QueryTags("What is your ideal role?", Metadata{Tools: []string{"Go"}, Entities: []string{"Acme"}})
	assert.Equal(t, []string{"go", "acme", "career", "preferences"}, got)

	require.Empty(t, tags.ExtractTags("hello there"))
}

func TestFromChunk(t *testing.T) {
	m := Metadata{Tools: []string{"go"}, Recency: RecencyCurrent, Source: SourceLLM}

	assert.Equal(t, m, FromChunk(map[string]any{ChunkKey: m}))

	decoded := FromChunk(map[string]any{ChunkKey: map[string]any{
		"tools":            []any{"go"},
		"temporal_context": "current",
		"source":           "llm",
	}})
	assert.Equal(t, []string{"go"}, decoded.Tools)
	assert.Equal(t, RecencyCurrent, decoded.Recency)

	assert.True(t, FromChunk(nil).Empty())
}
