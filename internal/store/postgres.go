package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/earlyspark/ai-candidate/internal/chunking"
	"github.com/earlyspark/ai-candidate/internal/config"
)

//go:embed migrations/*.sql
var migrations embed.FS

var postgresTracer = otel.Tracer("candidate.store.postgres")

var tableNameRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// chunkRow is the table model. The table name is configurable, so every
// query sets ModelTableExpr.
type chunkRow struct {
	bun.BaseModel `bun:"table:knowledge_chunks,alias:kc"`

	ID             string          `bun:"id,pk"`
	Content        string          `bun:"content,notnull"`
	Category       string          `bun:"category,notnull"`
	Level          int             `bun:"level,notnull"`
	GroupID        string          `bun:"group_id,notnull"`
	SourceID       string          `bun:"source_id,notnull"`
	ProcessingType string          `bun:"processing_type,notnull"`
	SequenceOrder  int             `bun:"sequence_order,notnull"`
	Tags           []string        `bun:"tags,array"`
	Payload        string          `bun:"payload,type:jsonb,notnull"`
	Embedding      pgvector.Vector `bun:"embedding,type:vector"`
	CreatedAt      time.Time       `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type matchRow struct {
	ID            string  `bun:"id"`
	Payload       string  `bun:"payload"`
	Similarity    float64 `bun:"similarity"`
	CategoryScore float64 `bun:"category_score"`
	TagMatchScore float64 `bun:"tag_match_score"`
	Score         float64 `bun:"score"`
}

// PostgresStore implements Store on Postgres with pgvector. Weighted scoring
// runs server-side in match_chunks_weighted.
type PostgresStore struct {
	db        *bun.DB
	table     string
	dimension int
	logger    *zap.Logger
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects and, when cfg.Migrate is set, creates the table,
// indexes and scoring function.
func NewPostgresStore(ctx context.Context, cfg config.PostgresConfig, dimension int, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.DSN.IsSet() {
		return nil, fmt.Errorf("%w: postgres dsn is required", ErrInvalidConfig)
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	table := cfg.Table
	if table == "" {
		table = "knowledge_chunks"
	}
	if !tableNameRe.MatchString(table) {
		return nil, fmt.Errorf("%w: invalid table name %q", ErrInvalidConfig, table)
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN.Value())))
	db := bun.NewDB(sqldb, pgdialect.New())
	if cfg.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	s := &PostgresStore{db: db, table: table, dimension: dimension, logger: logger}
	if cfg.Migrate {
		if err := s.migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	logger.Info("postgres store initialized",
		zap.String("table", table),
		zap.Int("dimension", dimension),
		zap.Bool("migrated", cfg.Migrate),
	)
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("listing migrations: %w", err)
	}
	sort.Strings(names)
	r := strings.NewReplacer("{{table}}", s.table, "{{dimension}}", strconv.Itoa(s.dimension))
	for _, name := range names {
		body, err := migrations.ReadFile(name)
		if err != nil {
			return fmt.Errorf("reading %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, r.Replace(string(body))); err != nil {
			return fmt.Errorf("applying %s: %w", name, err)
		}
		s.logger.Debug("applied migration", zap.String("name", name))
	}
	return nil
}

// Insert upserts records, skipping dimension mismatches.
func (s *PostgresStore) Insert(ctx context.Context, records []Record) (res InsertResult, err error) {
	ctx, span := postgresTracer.Start(ctx, "PostgresStore.Insert")
	defer span.End()
	defer observe("postgres", "insert", time.Now(), &err)
	span.SetAttributes(attribute.Int("record_count", len(records)))

	rows := make([]chunkRow, 0, len(records))
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
		rows = append(rows, chunkRow{
			ID:             r.Chunk.ID,
			Content:        r.Chunk.Content,
			Category:       r.Chunk.Category,
			Level:          r.Chunk.Level,
			GroupID:        r.Chunk.GroupID,
			SourceID:       r.Chunk.SourceID,
			ProcessingType: string(r.Chunk.ProcessingType),
			SequenceOrder:  r.Chunk.SequenceOrder,
			Tags:           lowerTags(r.Chunk.Tags),
			Payload:        payload,
			Embedding:      pgvector.NewVector(r.Embedding),
		})
	}
	if len(rows) == 0 {
		return res, nil
	}

	_, err = s.db.NewInsert().
		Model(&rows).
		ModelTableExpr("?", bun.Ident(s.table)).
		On("CONFLICT (id) DO UPDATE").
		Set("content = EXCLUDED.content").
		Set("category = EXCLUDED.category").
		Set("level = EXCLUDED.level").
		Set("group_id = EXCLUDED.group_id").
		Set("source_id = EXCLUDED.source_id").
		Set("processing_type = EXCLUDED.processing_type").
		Set("sequence_order = EXCLUDED.sequence_order").
		Set("tags = EXCLUDED.tags").
		Set("payload = EXCLUDED.payload").
		Set("embedding = EXCLUDED.embedding").
		Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, fmt.Errorf("inserting chunks: %w", err)
	}
	res.Inserted = len(rows)
	span.SetStatus(codes.Ok, "success")
	return res, nil
}

func (s *PostgresStore) skip(res *InsertResult, id string, err error) {
	if res.Skipped == nil {
		res.Skipped = make(map[string]error)
	}
	res.Skipped[id] = err
	SkippedRecordsTotal.WithLabelValues("postgres").Inc()
	s.logger.Warn("skipping chunk", zap.String("chunk_id", id), zap.Error(err))
}

// WeightedSearch calls match_chunks_weighted.
func (s *PostgresStore) WeightedSearch(ctx context.Context, q WeightedQuery) (out []Scored, err error) {
	ctx, span := postgresTracer.Start(ctx, "PostgresStore.WeightedSearch")
	defer span.End()
	defer observe("postgres", "weighted_search", time.Now(), &err)
	span.SetAttributes(
		attribute.Float64("threshold", q.Threshold),
		attribute.Int("limit", q.Limit),
	)

	if len(q.Embedding) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d, store expects %d", ErrDimensionMismatch, len(q.Embedding), s.dimension)
	}
	weights := q.CategoryWeights
	if weights == nil {
		weights = map[string]float64{}
	}
	weightsJSON, err := json.Marshal(weights)
	if err != nil {
		return nil, fmt.Errorf("encoding category weights: %w", err)
	}
	count := q.Limit
	if len(q.Categories) > 0 {
		count = candidatePool(q.Limit)
	}

	var rows []matchRow
	err = s.db.NewRaw(
		"SELECT * FROM match_chunks_weighted(?::vector, ?, ?::jsonb, ?::text[], ?, ?::integer[], ?, ?::text)",
		pgvector.NewVector(q.Embedding),
		q.Threshold,
		string(weightsJSON),
		pgdialect.Array(lowerTags(q.Tags)),
		q.TagBoost,
		pgdialect.Array(q.levels()),
		count,
		processingTypeArg(q.ProcessingType),
	).Scan(ctx, &rows)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("weighted search: %w", err)
	}

	for _, r := range rows {
		c, decErr := decodePayload(r.Payload)
		if decErr != nil || !q.accepts(c) {
			continue
		}
		out = append(out, Scored{
			Chunk:         c,
			Similarity:    r.Similarity,
			CategoryScore: r.CategoryScore,
			TagMatchScore: r.TagMatchScore,
			Score:         r.Score,
		})
	}
	out = finishWeighted(out, q.Limit)
	span.SetAttributes(attribute.Int("results_count", len(out)))
	span.SetStatus(codes.Ok, "success")
	return out, nil
}

// processingTypeArg maps the empty type to SQL NULL, which matches every
// variant.
func processingTypeArg(pt chunking.ProcessingType) *string {
	if pt == "" {
		return nil
	}
	v := string(pt)
	return &v
}

// Search is basic cosine search with optional filters.
func (s *PostgresStore) Search(ctx context.Context, embedding []float32, threshold float64, limit int, f Filter) (out []Scored, err error) {
	ctx, span := postgresTracer.Start(ctx, "PostgresStore.Search")
	defer span.End()
	defer observe("postgres", "search", time.Now(), &err)

	if len(embedding) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d, store expects %d", ErrDimensionMismatch, len(embedding), s.dimension)
	}
	vec := pgvector.NewVector(embedding)
	var rows []matchRow
	q := s.db.NewSelect().
		TableExpr("? AS kc", bun.Ident(s.table)).
		ColumnExpr("kc.id, kc.payload").
		ColumnExpr("1 - (kc.embedding <=> ?) AS similarity", vec).
		Where("1 - (kc.embedding <=> ?) >= ?", vec, threshold).
		OrderExpr("kc.embedding <=> ?", vec)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err = applyFilter(q, f).Scan(ctx, &rows); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("search: %w", err)
	}
	for _, r := range rows {
		c, decErr := decodePayload(r.Payload)
		if decErr != nil {
			continue
		}
		out = append(out, Scored{Chunk: c, Similarity: r.Similarity, Score: r.Similarity})
	}
	span.SetStatus(codes.Ok, "success")
	return finishBasic(out, limit), nil
}

// List returns chunks matching f.
func (s *PostgresStore) List(ctx context.Context, f Filter) (chunks []chunking.Chunk, err error) {
	ctx, span := postgresTracer.Start(ctx, "PostgresStore.List")
	defer span.End()
	defer observe("postgres", "list", time.Now(), &err)

	var rows []chunkRow
	q := s.db.NewSelect().
		Model(&rows).
		ModelTableExpr("? AS kc", bun.Ident(s.table)).
		ExcludeColumn("embedding").
		OrderExpr("kc.group_id, kc.level, kc.processing_type, kc.sequence_order")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if err = applyFilter(q, f).Scan(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("listing chunks: %w", err)
	}
	for _, r := range rows {
		c, decErr := decodePayload(r.Payload)
		if decErr != nil {
			continue
		}
		chunks = append(chunks, c)
	}
	span.SetStatus(codes.Ok, "success")
	return chunks, nil
}

// Get returns a chunk by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (chunking.Chunk, error) {
	var row chunkRow
	err := s.db.NewSelect().
		Model(&row).
		ModelTableExpr("? AS kc", bun.Ident(s.table)).
		ExcludeColumn("embedding").
		Where("kc.id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return chunking.Chunk{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return chunking.Chunk{}, fmt.Errorf("getting chunk %s: %w", id, err)
	}
	return decodePayload(row.Payload)
}

// Categories lists categories present at the base level.
func (s *PostgresStore) Categories(ctx context.Context) (cats []string, err error) {
	defer observe("postgres", "categories", time.Now(), &err)
	err = s.db.NewSelect().
		TableExpr("? AS kc", bun.Ident(s.table)).
		ColumnExpr("DISTINCT kc.category").
		Where("kc.level = ?", chunking.LevelBase).
		OrderExpr("kc.category").
		Scan(ctx, &cats)
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	return cats, nil
}

// DeleteSource removes all chunks of a source.
func (s *PostgresStore) DeleteSource(ctx context.Context, sourceID string) (n int, err error) {
	ctx, span := postgresTracer.Start(ctx, "PostgresStore.DeleteSource")
	defer span.End()
	defer observe("postgres", "delete_source", time.Now(), &err)
	span.SetAttributes(attribute.String("source_id", sourceID))

	if sourceID == "" {
		return 0, fmt.Errorf("%w: source id is required", ErrInvalidConfig)
	}
	res, err := s.db.NewDelete().
		Model((*chunkRow)(nil)).
		ModelTableExpr("? AS kc", bun.Ident(s.table)).
		Where("kc.source_id = ?", sourceID).
		Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("deleting source %s: %w", sourceID, err)
	}
	affected, _ := res.RowsAffected()
	span.SetStatus(codes.Ok, "success")
	return int(affected), nil
}

func (s *PostgresStore) Dimension() int { return s.dimension }

func (s *PostgresStore) Close() error { return s.db.Close() }

func applyFilter(q *bun.SelectQuery, f Filter) *bun.SelectQuery {
	if f.Category != "" {
		q = q.Where("kc.category = ?", f.Category)
	}
	if f.Level != nil {
		q = q.Where("kc.level = ?", *f.Level)
	}
	if f.GroupID != "" {
		q = q.Where("kc.group_id = ?", f.GroupID)
	}
	if f.SourceID != "" {
		q = q.Where("kc.source_id = ?", f.SourceID)
	}
	if f.ProcessingType != "" {
		q = q.Where("kc.processing_type = ?", string(f.ProcessingType))
	}
	return q
}

func lowerTags(tags []string) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = strings.ToLower(t)
	}
	return out
}
