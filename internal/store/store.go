// Package store persists hierarchical chunks with their embeddings and
// serves weighted and basic vector search over them.
//
// Three backends implement Store:
//   - ChromemStore: embedded chromem-go (default, optionally persisted)
//   - PostgresStore: Postgres with pgvector through bun, scoring in the
//     match_chunks_weighted SQL function
//   - QdrantStore: external Qdrant over gRPC
//
// Every backend stores the full chunk as a JSON payload next to a handful of
// filterable fields (category, level, group, source).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/earlyspark/ai-candidate/internal/chunking"
)

var (
	// ErrNotFound is returned when a chunk id does not exist.
	ErrNotFound = errors.New("chunk not found")

	// ErrDimensionMismatch marks a record whose embedding length differs
	// from the store dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrInvalidConfig indicates invalid store configuration.
	ErrInvalidConfig = errors.New("invalid store configuration")
)

// Score weights applied by every backend's weighted search.
const (
	SimilarityWeight = 0.70
	CategoryWeight   = 0.20
	TagWeight        = 0.10
)

// Record is one chunk ready to persist.
type Record struct {
	Chunk     chunking.Chunk
	Embedding []float32
}

// InsertResult reports what Insert wrote.
type InsertResult struct {
	Inserted int
	// Skipped maps chunk ids to the reason they were not written.
	Skipped map[string]error
}

// WeightedQuery is the input to WeightedSearch.
type WeightedQuery struct {
	Embedding       []float32
	Threshold       float64
	CategoryWeights map[string]float64
	Tags            []string
	TagBoost        float64

	// Levels restricts the hierarchy levels searched. Empty means base only.
	Levels []int

	// Categories restricts results to these categories when non-empty.
	Categories []string

	// ProcessingType restricts results to one processing variant. Empty
	// searches every variant.
	ProcessingType chunking.ProcessingType

	Limit int
}

// Scored is a chunk with its similarity and weighted score components.
type Scored struct {
	Chunk         chunking.Chunk
	Similarity    float64
	CategoryScore float64
	TagMatchScore float64
	Score         float64
}

// Filter selects chunks for List and basic Search. Zero fields match
// everything.
type Filter struct {
	Category       string
	Level          *int
	GroupID        string
	SourceID       string
	ProcessingType chunking.ProcessingType
	Limit          int
}

// Level returns a pointer for Filter.Level.
func Level(l int) *int { return &l }

// Store is the chunk store adapter.
type Store interface {
	// Insert writes records. Records whose embedding length differs from
	// Dimension are skipped and reported, not fatal.
	Insert(ctx context.Context, records []Record) (InsertResult, error)

	// WeightedSearch scores candidates by similarity, category weight and
	// tag overlap. Only candidates with similarity >= Threshold return,
	// ordered by Score descending.
	WeightedSearch(ctx context.Context, q WeightedQuery) ([]Scored, error)

	// Search is plain similarity search, ordered by similarity.
	Search(ctx context.Context, embedding []float32, threshold float64, limit int, f Filter) ([]Scored, error)

	// List returns chunks matching f ordered by group, level and sequence.
	List(ctx context.Context, f Filter) ([]chunking.Chunk, error)

	// Get returns one chunk or ErrNotFound.
	Get(ctx context.Context, id string) (chunking.Chunk, error)

	// Categories returns the distinct categories that have base chunks.
	Categories(ctx context.Context) ([]string, error)

	// DeleteSource removes every chunk derived from sourceID.
	DeleteSource(ctx context.Context, sourceID string) (int, error)

	Dimension() int
	Close() error
}

// TagMatchScore counts query tags present in chunk tags, times boost.
func TagMatchScore(queryTags, chunkTags []string, boost float64) float64 {
	if len(queryTags) == 0 || len(chunkTags) == 0 {
		return 0
	}
	have := make(map[string]bool, len(chunkTags))
	for _, t := range chunkTags {
		have[strings.ToLower(t)] = true
	}
	n := 0
	for _, t := range queryTags {
		if have[strings.ToLower(t)] {
			n++
		}
	}
	return float64(n) * boost
}

// WeightedScore combines the three signals.
func WeightedScore(similarity, category, tag float64) float64 {
	return similarity*SimilarityWeight + category*CategoryWeight + tag*TagWeight
}

// score fills the weighted components for a candidate found by similarity.
func score(c chunking.Chunk, similarity float64, q WeightedQuery) Scored {
	cat := q.CategoryWeights[c.Category]
	tag := TagMatchScore(q.Tags, c.Tags, q.TagBoost)
	return Scored{
		Chunk:         c,
		Similarity:    similarity,
		CategoryScore: cat,
		TagMatchScore: tag,
		Score:         WeightedScore(similarity, cat, tag),
	}
}

func (q WeightedQuery) levels() []int {
	if len(q.Levels) == 0 {
		return []int{chunking.LevelBase}
	}
	return q.Levels
}

func (q WeightedQuery) accepts(c chunking.Chunk) bool {
	if !slices.Contains(q.levels(), c.Level) {
		return false
	}
	if q.ProcessingType != "" && c.ProcessingType != q.ProcessingType {
		return false
	}
	return len(q.Categories) == 0 || slices.Contains(q.Categories, c.Category)
}

func (f Filter) matches(c chunking.Chunk) bool {
	switch {
	case f.Category != "" && c.Category != f.Category:
		return false
	case f.Level != nil && c.Level != *f.Level:
		return false
	case f.GroupID != "" && c.GroupID != f.GroupID:
		return false
	case f.SourceID != "" && c.SourceID != f.SourceID:
		return false
	case f.ProcessingType != "" && c.ProcessingType != f.ProcessingType:
		return false
	}
	return true
}

// finishWeighted sorts by score and truncates.
func finishWeighted(out []Scored, limit int) []Scored {
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func finishBasic(out []Scored, limit int) []Scored {
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// sortChunks orders chunks by group, level and sequence.
func sortChunks(chunks []chunking.Chunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		a, b := chunks[i], chunks[j]
		if a.GroupID != b.GroupID {
			return a.GroupID < b.GroupID
		}
		if a.Level != b.Level {
			return a.Level < b.Level
		}
		if a.ProcessingType != b.ProcessingType {
			return a.ProcessingType < b.ProcessingType
		}
		return a.SequenceOrder < b.SequenceOrder
	})
}

func distinctCategories(chunks []chunking.Chunk) []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range chunks {
		if c.Category != "" && !seen[c.Category] {
			seen[c.Category] = true
			out = append(out, c.Category)
		}
	}
	sort.Strings(out)
	return out
}

func encodePayload(c chunking.Chunk) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encoding chunk %s: %w", c.ID, err)
	}
	return string(b), nil
}

func decodePayload(s string) (chunking.Chunk, error) {
	var c chunking.Chunk
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return c, fmt.Errorf("decoding chunk payload: %w", err)
	}
	return c, nil
}

func checkDimension(r Record, dim int) error {
	if len(r.Embedding) != dim {
		return fmt.Errorf("%w: chunk %s has %d, store expects %d", ErrDimensionMismatch, r.Chunk.ID, len(r.Embedding), dim)
	}
	return nil
}

// candidatePool is how many nearest neighbours a backend fetches before
// weighting, so category and tag boosts can reorder beyond the raw top-k.
func candidatePool(limit int) int {
	return max(limit*5, 50)
}
