// Package ingest turns raw candidate content into stored, embedded chunks.
//
// Service.Ingest chunks the text for its category, extracts metadata for
// every chunk, embeds the chunks in batches and writes them to the store.
// A chunk that cannot be embedded or stored is reported as an ItemFailure;
// the rest of the document is still written.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/earlyspark/ai-candidate/internal/chunking"
	"github.com/earlyspark/ai-candidate/internal/embeddings"
	"github.com/earlyspark/ai-candidate/internal/metadata"
	"github.com/earlyspark/ai-candidate/internal/store"
)

// ErrInvalidRequest is returned for a request missing its category or text.
var ErrInvalidRequest = errors.New("invalid ingest request")

var tracer = otel.Tracer("candidate.ingest")

// Request is one document to ingest.
type Request struct {
	Category string   `json:"category"`
	Text     string   `json:"text"`
	Tags     []string `json:"tags,omitempty"`
	SourceID string   `json:"sourceId,omitempty"`
	// Replace deletes chunks previously derived from SourceID before the new
	// chunks are written.
	Replace bool `json:"replace,omitempty"`
}

// ItemFailure reports one chunk that was not stored.
type ItemFailure struct {
	ChunkID string `json:"chunkId"`
	Index   int    `json:"index"`
	Stage   string `json:"stage"`
	Error   string `json:"error"`
}

// Failure stages.
const (
	StageEmbed = "embed"
	StageStore = "store"
)

// Result summarizes an ingestion.
type Result struct {
	GroupID        string        `json:"groupId"`
	Stored         int           `json:"stored"`
	Replaced       int           `json:"replaced,omitempty"`
	Failures       []ItemFailure `json:"failures"`
	ProcessingTime time.Duration `json:"processingTime"`
}

// Chunker splits content into hierarchical chunks.
type Chunker interface {
	ChunkContent(ctx context.Context, category, text string, tags []string, sourceID string) (*chunking.ChunkingResult, error)
}

// Analyzer extracts metadata from text.
type Analyzer interface {
	Extract(ctx context.Context, text string) metadata.Metadata
}

// Writer is the store surface ingestion needs.
type Writer interface {
	Insert(ctx context.Context, records []store.Record) (store.InsertResult, error)
	DeleteSource(ctx context.Context, sourceID string) (int, error)
	Dimension() int
}

// Invalidator drops derived state once the corpus changes.
type Invalidator interface {
	Invalidate(ctx context.Context)
}

// Refresher rebuilds the category registry.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Deps are the collaborators of a Service. Analyzer, Invalidator and
// Registry may be nil.
type Deps struct {
	Chunker     Chunker
	Analyzer    Analyzer
	Batcher     *embeddings.Batcher
	Store       Writer
	Invalidator Invalidator
	Registry    Refresher
}

// Service ingests documents.
type Service struct {
	deps   Deps
	logger *zap.Logger
}

// NewService creates an ingestion service.
func NewService(deps Deps, logger *zap.Logger) (*Service, error) {
	switch {
	case deps.Chunker == nil:
		return nil, fmt.Errorf("ingest requires a chunker")
	case deps.Batcher == nil:
		return nil, fmt.Errorf("ingest requires an embedding batcher")
	case deps.Store == nil:
		return nil, fmt.Errorf("ingest requires a store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{deps: deps, logger: logger}, nil
}

// Ingest chunks, annotates, embeds and stores req. Only an invalid request,
// a chunking failure or a failed store write of the whole batch is returned
// as an error; per-chunk problems are reported in Result.Failures.
func (s *Service) Ingest(ctx context.Context, req Request) (res Result, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "ingest.Ingest")
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, "ingest failed")
		}
		IngestsTotal.WithLabelValues(strings.ToLower(strings.TrimSpace(req.Category)), outcome).Inc()
		IngestDuration.Observe(time.Since(start).Seconds())
		span.End()
	}()

	if strings.TrimSpace(req.Category) == "" {
		return Result{}, fmt.Errorf("%w: category required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Text) == "" {
		return Result{}, fmt.Errorf("%w: %w", ErrInvalidRequest, chunking.ErrEmptyContent)
	}
	if req.Replace && req.SourceID == "" {
		return Result{}, fmt.Errorf("%w: replace requires a source id", ErrInvalidRequest)
	}
	span.SetAttributes(attribute.String("category", req.Category), attribute.String("source.id", req.SourceID))

	chunked, err := s.deps.Chunker.ChunkContent(ctx, req.Category, req.Text, req.Tags, req.SourceID)
	if err != nil {
		return Result{}, fmt.Errorf("chunking content: %w", err)
	}
	chunks := chunked.Chunks
	res = Result{Failures: []ItemFailure{}}
	if len(chunks) > 0 {
		res.GroupID = chunks[0].GroupID
	}

	s.annotate(ctx, chunks)

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	embedded, err := s.deps.Batcher.Embed(ctx, texts)
	if err != nil {
		s.logger.Warn("embedding interrupted", zap.Error(err))
	}

	dim := s.deps.Store.Dimension()
	records := make([]store.Record, 0, len(chunks))
	for i, r := range embedded {
		c := chunks[i]
		switch {
		case r.Err != nil:
			res.Failures = append(res.Failures, failure(c, i, StageEmbed, r.Err))
		case dim > 0 && len(r.Vector) != dim:
			mismatch := fmt.Errorf("%w: got %d, want %d", store.ErrDimensionMismatch, len(r.Vector), dim)
			s.logger.Warn("skipping chunk with mismatched embedding",
				zap.String("chunk_id", c.ID), zap.Int("got", len(r.Vector)), zap.Int("want", dim))
			res.Failures = append(res.Failures, failure(c, i, StageEmbed, mismatch))
		default:
			records = append(records, store.Record{Chunk: c, Embedding: r.Vector})
		}
	}
	if len(records) == 0 {
		res.ProcessingTime = time.Since(start)
		ChunksTotal.WithLabelValues("failed").Add(float64(len(res.Failures)))
		s.logger.Warn("nothing to store",
			zap.String("category", req.Category), zap.Int("failures", len(res.Failures)))
		return res, nil
	}

	if req.Replace {
		n, delErr := s.deps.Store.DeleteSource(ctx, req.SourceID)
		if delErr != nil {
			return res, fmt.Errorf("deleting previous chunks of %q: %w", req.SourceID, delErr)
		}
		res.Replaced = n
	}

	inserted, err := s.deps.Store.Insert(ctx, records)
	if err != nil {
		return res, fmt.Errorf("storing chunks: %w", err)
	}
	res.Stored = inserted.Inserted
	res.Failures = append(res.Failures, skipped(chunks, inserted.Skipped)...)
	res.ProcessingTime = time.Since(start)

	ChunksTotal.WithLabelValues("stored").Add(float64(res.Stored))
	ChunksTotal.WithLabelValues("failed").Add(float64(len(res.Failures)))
	span.SetAttributes(attribute.Int("stored", res.Stored), attribute.Int("failures", len(res.Failures)))

	if res.Stored > 0 {
		s.corpusChanged(ctx)
	}
	s.logger.Info("content ingested",
		zap.String("category", req.Category),
		zap.String("source.id", req.SourceID),
		zap.String("group_id", res.GroupID),
		zap.Int("stored", res.Stored),
		zap.Int("replaced", res.Replaced),
		zap.Int("failures", len(res.Failures)),
		zap.Duration("duration", res.ProcessingTime))
	return res, nil
}

// DeleteSource removes every chunk derived from sourceID.
func (s *Service) DeleteSource(ctx context.Context, sourceID string) (int, error) {
	if strings.TrimSpace(sourceID) == "" {
		return 0, fmt.Errorf("%w: source id required", ErrInvalidRequest)
	}
	n, err := s.deps.Store.DeleteSource(ctx, sourceID)
	if err != nil {
		return 0, fmt.Errorf("deleting source %q: %w", sourceID, err)
	}
	if n > 0 {
		s.corpusChanged(ctx)
	}
	return n, nil
}

// annotate extracts metadata for each chunk in turn. Extraction never fails;
// a degraded extractor yields heuristic metadata.
func (s *Service) annotate(ctx context.Context, chunks []chunking.Chunk) {
	if s.deps.Analyzer == nil {
		return
	}
	for i := range chunks {
		m := s.deps.Analyzer.Extract(ctx, chunks[i].Content)
		if chunks[i].Metadata == nil {
			chunks[i].Metadata = map[string]any{}
		}
		chunks[i].Metadata[metadata.ChunkKey] = m.Map()
	}
}

func (s *Service) corpusChanged(ctx context.Context) {
	if s.deps.Invalidator != nil {
		s.deps.Invalidator.Invalidate(ctx)
	}
	if s.deps.Registry != nil {
		if err := s.deps.Registry.Refresh(ctx); err != nil {
			s.logger.Warn("category registry refresh failed", zap.Error(err))
		}
	}
}

func failure(c chunking.Chunk, index int, stage string, err error) ItemFailure {
	return ItemFailure{ChunkID: c.ID, Index: index, Stage: stage, Error: err.Error()}
}

func skipped(chunks []chunking.Chunk, reasons map[string]error) []ItemFailure {
	if len(reasons) == 0 {
		return nil
	}
	index := make(map[string]int, len(chunks))
	for i, c := range chunks {
		index[c.ID] = i
	}
	out := make([]ItemFailure, 0, len(reasons))
	for id, err := range reasons {
		out = append(out, ItemFailure{ChunkID: id, Index: index[id], Stage: StageStore, Error: err.Error()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
