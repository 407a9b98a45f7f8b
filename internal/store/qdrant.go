package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/earlyspark/ai-candidate/internal/chunking"
	"github.com/earlyspark/ai-candidate/internal/config"
)

var qdrantTracer = otel.Tracer("candidate.store.qdrant")

const (
	qdrantMaxMessageSize = 50 * 1024 * 1024
	qdrantMaxRetries     = 3
	qdrantRetryBackoff   = 200 * time.Millisecond
	qdrantScrollBatch    = 256
)

// QdrantStore implements Store on Qdrant's gRPC API. Chunks live in one
// collection with cosine distance; filter fields are top-level payload keys.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	dimension  int
	logger     *zap.Logger
}

var _ Store = (*QdrantStore)(nil)

// NewQdrantStore connects, checks health and creates the collection if it
// does not exist.
func NewQdrantStore(ctx context.Context, cfg config.QdrantConfig, dimension int, logger *zap.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: qdrant host is required", ErrInvalidConfig)
	}
	port := cfg.Port
	if port == 0 {
		port = 6334
	}
	name := cfg.Collection
	if name == "" {
		name = "knowledge_chunks"
	}
	if !cfg.UseTLS {
		logger.Warn("qdrant gRPC using plaintext, TLS disabled", zap.String("host", cfg.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   port,
		UseTLS: cfg.UseTLS,
		APIKey: cfg.APIKey.Value(),
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(qdrantMaxMessageSize),
				grpc.MaxCallSendMsgSize(qdrantMaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating qdrant client: %w", err)
	}

	s := &QdrantStore{client: client, collection: name, dimension: dimension, logger: logger}

	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(hctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("qdrant health check: %w", err)
	}
	if err := s.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("qdrant store initialized",
		zap.String("host", cfg.Host),
		zap.Int("port", port),
		zap.String("collection", name),
		zap.Int("dimension", dimension),
	)
	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", s.collection, err)
	}
	if exists {
		return nil
	}
	err = s.retry(ctx, "create_collection", func() error {
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(s.dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", s.collection, err)
	}
	return nil
}

// isTransient reports gRPC errors worth retrying.
func isTransient(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	}
	return false
}

func (s *QdrantStore) retry(ctx context.Context, name string, op func() error) error {
	backoff := qdrantRetryBackoff
	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return fmt.Errorf("%s failed (permanent): %w", name, err)
		}
		if attempt == qdrantMaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", name, qdrantMaxRetries, err)
		}
		s.logger.Debug("retrying qdrant operation", zap.String("operation", name), zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

// pointID maps a chunk id onto a Qdrant UUID. Non-UUID ids are hashed.
func pointID(id string) *qdrant.PointId {
	if u, err := uuid.Parse(id); err == nil {
		return qdrant.NewIDUUID(u.String())
	}
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String())
}

func str(v string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
}

func integer(v int) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(v)}}
}

func keyword(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   key,
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func integers(key string, values ...int) *qdrant.Condition {
	if len(values) == 1 {
		return &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   key,
					Match: &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: int64(values[0])}},
				},
			},
		}
	}
	ints := make([]int64, len(values))
	for i, v := range values {
		ints[i] = int64(v)
	}
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   key,
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Integers{Integers: &qdrant.RepeatedIntegers{Integers: ints}}},
			},
		},
	}
}

func keywords(key string, values []string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   key,
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Keywords{Keywords: &qdrant.RepeatedStrings{Strings: values}}},
			},
		},
	}
}

func qdrantFilter(f Filter) *qdrant.Filter {
	var must []*qdrant.Condition
	if f.Category != "" {
		must = append(must, keyword(keyCategory, f.Category))
	}
	if f.Level != nil {
		must = append(must, integers(keyLevel, *f.Level))
	}
	if f.GroupID != "" {
		must = append(must, keyword(keyGroupID, f.GroupID))
	}
	if f.SourceID != "" {
		must = append(must, keyword(keySourceID, f.SourceID))
	}
	if f.ProcessingType != "" {
		must = append(must, keyword(keyProcessingType, string(f.ProcessingType)))
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

// Insert upserts records, skipping dimension mismatches.
func (s *QdrantStore) Insert(ctx context.Context, records []Record) (res InsertResult, err error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Insert")
	defer span.End()
	defer observe("qdrant", "insert", time.Now(), &err)
	span.SetAttributes(attribute.Int("record_count", len(records)))

	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, r := range records {
		if dimErr := checkDimension(r, s.dimension); dimErr != nil {
			s.skip(&res, r.Chunk.ID, dimErr)
			continue
		}
		payload, encErr := encodePayload(r.Chunk)
		if encErr != nil {
			s.skip(&res, r.Chunk.ID, encErr)
			continue
		}
		points = append(points, &qdrant.PointStruct{
			Id:      pointID(r.Chunk.ID),
			Vectors: qdrant.NewVectors(r.Embedding...),
			Payload: map[string]*qdrant.Value{
				keyPayload:        str(payload),
				"chunk_id":        str(r.Chunk.ID),
				keyCategory:       str(r.Chunk.Category),
				keyLevel:          integer(r.Chunk.Level),
				keyGroupID:        str(r.Chunk.GroupID),
				keySourceID:       str(r.Chunk.SourceID),
				keyProcessingType: str(string(r.Chunk.ProcessingType)),
			},
		})
	}
	if len(points) == 0 {
		return res, nil
	}

	err = s.retry(ctx, "upsert", func() error {
		_, upErr := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Points:         points,
			Wait:           qdrant.PtrOf(true),
		})
		return upErr
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, fmt.Errorf("upserting points: %w", err)
	}
	res.Inserted = len(points)
	span.SetStatus(codes.Ok, "success")
	return res, nil
}

func (s *QdrantStore) skip(res *InsertResult, id string, err error) {
	if res.Skipped == nil {
		res.Skipped = make(map[string]error)
	}
	res.Skipped[id] = err
	SkippedRecordsTotal.WithLabelValues("qdrant").Inc()
	s.logger.Warn("skipping chunk", zap.String("chunk_id", id), zap.Error(err))
}

func (s *QdrantStore) query(ctx context.Context, embedding []float32, threshold float64, limit int, filter *qdrant.Filter) ([]*qdrant.ScoredPoint, error) {
	if len(embedding) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d, store expects %d", ErrDimensionMismatch, len(embedding), s.dimension)
	}
	var points []*qdrant.ScoredPoint
	err := s.retry(ctx, "query", func() error {
		res, qErr := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.collection,
			Query:          qdrant.NewQuery(embedding...),
			Limit:          qdrant.PtrOf(uint64(limit)),
			ScoreThreshold: qdrant.PtrOf(float32(threshold)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         filter,
		})
		points = res
		return qErr
	})
	return points, err
}

// WeightedSearch fetches the nearest candidates and weights them in Go.
func (s *QdrantStore) WeightedSearch(ctx context.Context, q WeightedQuery) (out []Scored, err error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.WeightedSearch")
	defer span.End()
	defer observe("qdrant", "weighted_search", time.Now(), &err)

	must := []*qdrant.Condition{integers(keyLevel, q.levels()...)}
	if len(q.Categories) > 0 {
		must = append(must, keywords(keyCategory, q.Categories))
	}
	if q.ProcessingType != "" {
		must = append(must, keyword(keyProcessingType, string(q.ProcessingType)))
	}
	points, err := s.query(ctx, q.Embedding, q.Threshold, candidatePool(q.Limit), &qdrant.Filter{Must: must})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("weighted search: %w", err)
	}
	for _, p := range points {
		c, decErr := decodePayload(p.GetPayload()[keyPayload].GetStringValue())
		if decErr != nil || !q.accepts(c) {
			continue
		}
		out = append(out, score(c, float64(p.GetScore()), q))
	}
	out = finishWeighted(out, q.Limit)
	span.SetAttributes(attribute.Int("results_count", len(out)))
	span.SetStatus(codes.Ok, "success")
	return out, nil
}

// Search is basic similarity search.
func (s *QdrantStore) Search(ctx context.Context, embedding []float32, threshold float64, limit int, f Filter) (out []Scored, err error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Search")
	defer span.End()
	defer observe("qdrant", "search", time.Now(), &err)

	if limit <= 0 {
		limit = candidatePool(0)
	}
	points, err := s.query(ctx, embedding, threshold, limit, qdrantFilter(f))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("search: %w", err)
	}
	for _, p := range points {
		c, decErr := decodePayload(p.GetPayload()[keyPayload].GetStringValue())
		if decErr != nil {
			continue
		}
		sim := float64(p.GetScore())
		out = append(out, Scored{Chunk: c, Similarity: sim, Score: sim})
	}
	span.SetStatus(codes.Ok, "success")
	return finishBasic(out, limit), nil
}

// List scrolls every point matching f.
func (s *QdrantStore) List(ctx context.Context, f Filter) (chunks []chunking.Chunk, err error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.List")
	defer span.End()
	defer observe("qdrant", "list", time.Now(), &err)

	filter := qdrantFilter(f)
	var offset *qdrant.PointId
	for {
		points, next, scrollErr := s.client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
			CollectionName: s.collection,
			Filter:         filter,
			Offset:         offset,
			Limit:          qdrant.PtrOf(uint32(qdrantScrollBatch)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if scrollErr != nil {
			err = fmt.Errorf("scrolling points: %w", scrollErr)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		for _, p := range points {
			c, decErr := decodePayload(p.GetPayload()[keyPayload].GetStringValue())
			if decErr == nil {
				chunks = append(chunks, c)
			}
		}
		if next == nil || len(points) < qdrantScrollBatch {
			break
		}
		offset = next
	}
	sortChunks(chunks)
	if f.Limit > 0 && len(chunks) > f.Limit {
		chunks = chunks[:f.Limit]
	}
	span.SetStatus(codes.Ok, "success")
	return chunks, nil
}

// Get returns a chunk by id.
func (s *QdrantStore) Get(ctx context.Context, id string) (chunking.Chunk, error) {
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            []*qdrant.PointId{pointID(id)},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return chunking.Chunk{}, fmt.Errorf("getting chunk %s: %w", id, err)
	}
	if len(points) == 0 {
		return chunking.Chunk{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return decodePayload(points[0].GetPayload()[keyPayload].GetStringValue())
}

// Categories lists categories present at the base level.
func (s *QdrantStore) Categories(ctx context.Context) ([]string, error) {
	chunks, err := s.List(ctx, Filter{Level: Level(chunking.LevelBase)})
	if err != nil {
		return nil, err
	}
	return distinctCategories(chunks), nil
}

// DeleteSource removes all points of a source.
func (s *QdrantStore) DeleteSource(ctx context.Context, sourceID string) (n int, err error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.DeleteSource")
	defer span.End()
	defer observe("qdrant", "delete_source", time.Now(), &err)
	span.SetAttributes(attribute.String("source_id", sourceID))

	if sourceID == "" {
		return 0, fmt.Errorf("%w: source id is required", ErrInvalidConfig)
	}
	filter := &qdrant.Filter{Must: []*qdrant.Condition{keyword(keySourceID, sourceID)}}
	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Filter:         filter,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("counting source %s: %w", sourceID, err)
	}
	if count == 0 {
		return 0, nil
	}
	err = s.retry(ctx, "delete", func() error {
		_, delErr := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.collection,
			Wait:           qdrant.PtrOf(true),
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter},
			},
		})
		return delErr
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("deleting source %s: %w", sourceID, err)
	}
	span.SetStatus(codes.Ok, "success")
	return int(count), nil
}

func (s *QdrantStore) Dimension() int { return s.dimension }

func (s *QdrantStore) Close() error {
	if err := s.client.Close(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
