package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/earlyspark/ai-candidate/internal/chunking"
	"github.com/earlyspark/ai-candidate/internal/config"
)

var chromemTracer = otel.Tracer("candidate.store.chromem")

// Metadata keys stored alongside each chromem document.
const (
	keyPayload        = "payload"
	keyCategory       = "category"
	keyLevel          = "level"
	keyGroupID        = "group_id"
	keySourceID       = "source_id"
	keyProcessingType = "processing_type"
)

// ChromemStore implements Store on the embedded chromem-go database.
//
// An empty path keeps everything in memory; otherwise the collection is
// persisted as gob files under the path.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	dimension  int
	logger     *zap.Logger
}

var _ Store = (*ChromemStore)(nil)

// NewChromemStore opens or creates the chunk collection.
func NewChromemStore(cfg config.ChromemConfig, dimension int, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	name := cfg.Collection
	if name == "" {
		name = "knowledge_chunks"
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		path := config.ExpandPath(cfg.Path)
		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		var err error
		db, err = chromem.NewPersistentDB(path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
	}

	collection, err := db.GetOrCreateCollection(name, nil, precomputed)
	if err != nil {
		return nil, fmt.Errorf("creating collection %s: %w", name, err)
	}

	logger.Info("chromem store initialized",
		zap.String("path", cfg.Path),
		zap.String("collection", name),
		zap.Int("dimension", dimension),
		zap.Int("documents", collection.Count()),
	)
	return &ChromemStore{db: db, collection: collection, dimension: dimension, logger: logger}, nil
}

// precomputed is the collection embedding func. Every document and query
// carries its own vector, so chromem never needs to embed.
func precomputed(context.Context, string) ([]float32, error) {
	return nil, errors.New("chunk store requires precomputed embeddings")
}

// Insert writes records, skipping dimension mismatches.
func (s *ChromemStore) Insert(ctx context.Context, records []Record) (res InsertResult, err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Insert")
	defer span.End()
	defer observe("chromem", "insert", time.Now(), &err)
	span.SetAttributes(attribute.Int("record_count", len(records)))

	docs := make([]chromem.Document, 0, len(records))
	for _, r := range records {
		if dimErr := checkDimension(r, s.dimension); dimErr != nil {
			s.skip(&res, r.Chunk.ID, dimErr)
			continue
		}
		doc, encErr := toDocument(r)
		if encErr != nil {
			s.skip(&res, r.Chunk.ID, encErr)
			continue
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		span.SetStatus(codes.Ok, "nothing to insert")
		return res, nil
	}

	if err = s.collection.AddDocuments(ctx, docs, 4); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, fmt.Errorf("adding documents: %w", err)
	}
	res.Inserted = len(docs)
	span.SetAttributes(attribute.Int("inserted", res.Inserted))
	span.SetStatus(codes.Ok, "success")
	return res, nil
}

func (s *ChromemStore) skip(res *InsertResult, id string, err error) {
	if res.Skipped == nil {
		res.Skipped = make(map[string]error)
	}
	res.Skipped[id] = err
	SkippedRecordsTotal.WithLabelValues("chromem").Inc()
	s.logger.Warn("skipping chunk", zap.String("chunk_id", id), zap.Error(err))
}

func toDocument(r Record) (chromem.Document, error) {
	payload, err := encodePayload(r.Chunk)
	if err != nil {
		return chromem.Document{}, err
	}
	return chromem.Document{
		ID:        r.Chunk.ID,
		Content:   r.Chunk.Content,
		Embedding: r.Embedding,
		Metadata: map[string]string{
			keyPayload:        payload,
			keyCategory:       r.Chunk.Category,
			keyLevel:          strconv.Itoa(r.Chunk.Level),
			keyGroupID:        r.Chunk.GroupID,
			keySourceID:       r.Chunk.SourceID,
			keyProcessingType: string(r.Chunk.ProcessingType),
		},
	}, nil
}

// WeightedSearch scores the nearest candidates in Go.
func (s *ChromemStore) WeightedSearch(ctx context.Context, q WeightedQuery) (out []Scored, err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.WeightedSearch")
	defer span.End()
	defer observe("chromem", "weighted_search", time.Now(), &err)
	span.SetAttributes(
		attribute.Float64("threshold", q.Threshold),
		attribute.Int("limit", q.Limit),
		attribute.IntSlice("levels", q.levels()),
	)

	where := map[string]string{}
	if lv := q.levels(); len(lv) == 1 {
		where[keyLevel] = strconv.Itoa(lv[0])
	}
	if len(q.Categories) == 1 {
		where[keyCategory] = q.Categories[0]
	}
	if q.ProcessingType != "" {
		where[keyProcessingType] = string(q.ProcessingType)
	}

	results, err := s.query(ctx, q.Embedding, candidatePool(q.Limit), where)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	for _, r := range results {
		if float64(r.Similarity) < q.Threshold {
			continue
		}
		c, decErr := decodePayload(r.Metadata[keyPayload])
		if decErr != nil {
			s.logger.Warn("dropping undecodable chunk", zap.String("chunk_id", r.ID), zap.Error(decErr))
			continue
		}
		if !q.accepts(c) {
			continue
		}
		out = append(out, score(c, float64(r.Similarity), q))
	}
	out = finishWeighted(out, q.Limit)
	span.SetAttributes(attribute.Int("results_count", len(out)))
	span.SetStatus(codes.Ok, "success")
	return out, nil
}

// Search is basic similarity search.
func (s *ChromemStore) Search(ctx context.Context, embedding []float32, threshold float64, limit int, f Filter) (out []Scored, err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Search")
	defer span.End()
	defer observe("chromem", "search", time.Now(), &err)

	results, err := s.query(ctx, embedding, candidatePool(limit), whereFor(f))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	for _, r := range results {
		if float64(r.Similarity) < threshold {
			continue
		}
		c, decErr := decodePayload(r.Metadata[keyPayload])
		if decErr != nil {
			continue
		}
		out = append(out, Scored{Chunk: c, Similarity: float64(r.Similarity), Score: float64(r.Similarity)})
	}
	out = finishBasic(out, limit)
	span.SetAttributes(attribute.Int("results_count", len(out)))
	span.SetStatus(codes.Ok, "success")
	return out, nil
}

// List walks every document matching f. chromem has no scan, so it queries
// with a probe vector over the whole collection.
func (s *ChromemStore) List(ctx context.Context, f Filter) (chunks []chunking.Chunk, err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.List")
	defer span.End()
	defer observe("chromem", "list", time.Now(), &err)

	results, err := s.query(ctx, s.probe(), s.collection.Count(), whereFor(f))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	for _, r := range results {
		c, decErr := decodePayload(r.Metadata[keyPayload])
		if decErr != nil || !f.matches(c) {
			continue
		}
		chunks = append(chunks, c)
	}
	sortChunks(chunks)
	if f.Limit > 0 && len(chunks) > f.Limit {
		chunks = chunks[:f.Limit]
	}
	span.SetStatus(codes.Ok, "success")
	return chunks, nil
}

// Get returns a chunk by id.
func (s *ChromemStore) Get(ctx context.Context, id string) (chunking.Chunk, error) {
	doc, err := s.collection.GetByID(ctx, id)
	if err != nil {
		return chunking.Chunk{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return decodePayload(doc.Metadata[keyPayload])
}

// Categories lists categories present at the base level.
func (s *ChromemStore) Categories(ctx context.Context) ([]string, error) {
	chunks, err := s.List(ctx, Filter{Level: Level(chunking.LevelBase)})
	if err != nil {
		return nil, err
	}
	return distinctCategories(chunks), nil
}

// DeleteSource removes all chunks of a source.
func (s *ChromemStore) DeleteSource(ctx context.Context, sourceID string) (n int, err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.DeleteSource")
	defer span.End()
	defer observe("chromem", "delete_source", time.Now(), &err)
	span.SetAttributes(attribute.String("source_id", sourceID))

	if sourceID == "" {
		return 0, fmt.Errorf("%w: source id is required", ErrInvalidConfig)
	}
	before := s.collection.Count()
	if err = s.collection.Delete(ctx, map[string]string{keySourceID: sourceID}, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("deleting source %s: %w", sourceID, err)
	}
	n = before - s.collection.Count()
	span.SetAttributes(attribute.Int("deleted", n))
	span.SetStatus(codes.Ok, "success")
	return n, nil
}

func (s *ChromemStore) Dimension() int { return s.dimension }

// Close is a no-op; persistent collections are written on every insert.
func (s *ChromemStore) Close() error { return nil }

func (s *ChromemStore) query(ctx context.Context, embedding []float32, n int, where map[string]string) ([]chromem.Result, error) {
	if len(embedding) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d, store expects %d", ErrDimensionMismatch, len(embedding), s.dimension)
	}
	count := s.collection.Count()
	if count == 0 || n <= 0 {
		return nil, nil
	}
	if len(where) == 0 {
		where = nil
	}
	results, err := s.collection.QueryEmbedding(ctx, embedding, min(n, count), where, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection: %w", err)
	}
	return results, nil
}

func (s *ChromemStore) probe() []float32 {
	v := make([]float32, s.dimension)
	v[0] = 1
	return v
}

func whereFor(f Filter) map[string]string {
	where := map[string]string{}
	if f.Category != "" {
		where[keyCategory] = f.Category
	}
	if f.Level != nil {
		where[keyLevel] = strconv.Itoa(*f.Level)
	}
	if f.GroupID != "" {
		where[keyGroupID] = f.GroupID
	}
	if f.SourceID != "" {
		where[keySourceID] = f.SourceID
	}
	if f.ProcessingType != "" {
		where[keyProcessingType] = string(f.ProcessingType)
	}
	return where
}
