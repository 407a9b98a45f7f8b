package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/earlyspark/ai-candidate/internal/chunking"
	"github.com/earlyspark/ai-candidate/internal/classifier"
	"github.com/earlyspark/ai-candidate/internal/ingest"
	"github.com/earlyspark/ai-candidate/internal/logging"
	"github.com/earlyspark/ai-candidate/internal/ranking"
	"github.com/earlyspark/ai-candidate/internal/search"
	"github.com/earlyspark/ai-candidate/internal/store"
)

type fakeChunker struct{}

func (fakeChunker) ChunkContent(_ context.Context, category, text string, tags []string, sourceID string) (*chunking.ChunkingResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, chunking.ErrEmptyContent
	}
	c := chunking.Chunk{ID: "c1", Content: text, Category: category, Tags: tags, SourceID: sourceID}
	return &chunking.ChunkingResult{Chunks: []chunking.Chunk{c}, TotalChunks: 1}, nil
}

type fakeIngester struct {
	last     ingest.Request
	lastCtx  context.Context
	err      error
	deleted  map[string]int
	lastDrop string
}

func (f *fakeIngester) Ingest(ctx context.Context, req ingest.Request) (ingest.Result, error) {
	f.last, f.lastCtx = req, ctx
	if f.err != nil {
		return ingest.Result{}, f.err
	}
	return ingest.Result{GroupID: "g1", Stored: 3, Failures: []ingest.ItemFailure{}}, nil
}

func (f *fakeIngester) DeleteSource(_ context.Context, sourceID string) (int, error) {
	f.lastDrop = sourceID
	return f.deleted[sourceID], nil
}

type fakeSearcher struct {
	query string
	opts  search.Options
	ctx   context.Context
	err   error
}

func (f *fakeSearcher) Search(ctx context.Context, query string, opts search.Options) (search.Response, error) {
	f.query, f.opts, f.ctx = query, opts, ctx
	if f.err != nil {
		return search.Response{}, f.err
	}
	return search.Response{
		Results: []ranking.Result{{Chunk: chunking.Chunk{ID: "acme", Content: "Senior Engineer at Acme"}, FinalScore: 0.9, Rank: 1}},
		Path:    ranking.PathWeighted,
	}, nil
}

type fakeRegistry struct {
	snap classifier.Snapshot
	err  error
}

func (f fakeRegistry) Snapshot() classifier.Snapshot { return f.snap }
func (f fakeRegistry) LastError() error              { return f.err }

type fakeCounter struct {
	chunks []chunking.Chunk
	err    error
}

func (f fakeCounter) Categories(context.Context) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []string{"resume"}, nil
}

func (f fakeCounter) List(context.Context, store.Filter) ([]chunking.Chunk, error) {
	return f.chunks, f.err
}

type testServer struct {
	*Server
	ingester *fakeIngester
	searcher *fakeSearcher
}

func setupTestServer(t *testing.T, mutate func(*Services)) testServer {
	t.Helper()
	ing := &fakeIngester{deleted: map[string]int{"resume.md": 4}}
	srch := &fakeSearcher{}
	svcs := Services{
		Chunker:  fakeChunker{},
		Ingester: ing,
		Searcher: srch,
		Registry: fakeRegistry{snap: classifier.Snapshot{
			Categories:  []classifier.Category{{Name: "resume", Description: "Employment history", Samples: 2}},
			RefreshedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		}},
		Store: fakeCounter{chunks: make([]chunking.Chunk, 7)},
	}
	if mutate != nil {
		mutate(&svcs)
	}
	server, err := NewServer(svcs, zap.NewNop(), &Config{Host: "localhost", Port: 9494, Version: "test"})
	require.NoError(t, err)
	return testServer{Server: server, ingester: ing, searcher: srch}
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestNewServer(t *testing.T) {
	svcs := Services{Chunker: fakeChunker{}, Ingester: &fakeIngester{}, Searcher: &fakeSearcher{}}

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(svcs, zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "localhost", server.config.Host)
		assert.Equal(t, 9494, server.config.Port)
		assert.Equal(t, "4M", server.config.BodyLimit)
		assert.NotNil(t, server.Echo())
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(svcs, nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when a service is missing", func(t *testing.T) {
		_, err := NewServer(Services{Chunker: fakeChunker{}}, zap.NewNop(), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "required")
	})
}

func TestHandleHealth(t *testing.T) {
	server := setupTestServer(t, nil)

	rec := do(t, server.Server, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[HealthResponse](t, rec).Status)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestHandleStatus(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		server := setupTestServer(t, nil)
		rec := do(t, server.Server, http.MethodGet, "/api/v1/status", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decode[StatusResponse](t, rec)
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, "test", resp.Version)
		assert.Equal(t, StatusCounts{Chunks: 7, Categories: 1}, resp.Counts)
		assert.Equal(t, map[string]string{"store": "ok", "registry": "ok"}, resp.Services)
		require.NotNil(t, resp.Registry)
		assert.Equal(t, 1, resp.Registry.Categories)
	})

	t.Run("degraded", func(t *testing.T) {
		server := setupTestServer(t, func(s *Services) {
			s.Store = fakeCounter{err: errors.New("store down")}
			s.Registry = fakeRegistry{err: errors.New("llm timeout")}
		})
		resp := decode[StatusResponse](t, do(t, server.Server, http.MethodGet, "/api/v1/status", nil))
		assert.Equal(t, "degraded", resp.Status)
		assert.Equal(t, StatusCounts{Chunks: -1, Categories: -1}, resp.Counts)
		assert.Equal(t, "unavailable", resp.Services["store"])
		assert.Equal(t, "degraded", resp.Services["registry"])
		assert.Equal(t, "llm timeout", resp.Registry.LastError)
	})
}

func TestHandleCategories(t *testing.T) {
	server := setupTestServer(t, nil)
	rec := do(t, server.Server, http.MethodGet, "/api/v1/categories", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[classifier.Snapshot](t, rec)
	assert.Equal(t, []string{"resume"}, snap.Names())

	empty := setupTestServer(t, func(s *Services) { s.Registry = nil })
	rec = do(t, empty.Server, http.MethodGet, "/api/v1/categories", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"categories":[],"refreshed_at":"0001-01-01T00:00:00Z"}`, rec.Body.String())
}

func TestHandleChunk(t *testing.T) {
	server := setupTestServer(t, nil)

	t.Run("chunks content", func(t *testing.T) {
		rec := do(t, server.Server, http.MethodPost, "/api/v1/chunk", ChunkRequest{
			Category: "resume", Content: "Senior Engineer at Acme", Tags: []string{"career"},
		})
		require.Equal(t, http.StatusOK, rec.Code)
		res := decode[chunking.ChunkingResult](t, rec)
		require.Len(t, res.Chunks, 1)
		assert.Equal(t, "resume", res.Chunks[0].Category)
		assert.Equal(t, []string{"career"}, res.Chunks[0].Tags)
	})

	tests := []struct {
		name    string
		body    any
		message string
	}{
		{"missing category", ChunkRequest{Content: "x"}, "category field is required"},
		{"missing content", ChunkRequest{Category: "resume", Content: " "}, "content field is required"},
		{"invalid json", "invalid json", "invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, server.Server, http.MethodPost, "/api/v1/chunk", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, decode[map[string]any](t, rec)["message"], tt.message)
		})
	}
}

func TestHandleIngest(t *testing.T) {
	t.Run("ingests content", func(t *testing.T) {
		server := setupTestServer(t, nil)
		rec := do(t, server.Server, http.MethodPost, "/api/v1/ingest", map[string]any{
			"category": "resume", "text": "Senior Engineer at Acme", "sourceId": "resume.md", "replace": true,
		})
		require.Equal(t, http.StatusOK, rec.Code)
		res := decode[ingest.Result](t, rec)
		assert.Equal(t, 3, res.Stored)
		assert.Equal(t, "g1", res.GroupID)

		assert.Equal(t, ingest.Request{Category: "resume", Text: "Senior Engineer at Acme", SourceID: "resume.md", Replace: true}, server.ingester.last)
		assert.Equal(t, "resume.md", logging.SourceIDFromContext(server.ingester.lastCtx))
		assert.Equal(t, rec.Header().Get(echo.HeaderXRequestID), logging.RequestIDFromContext(server.ingester.lastCtx))
	})

	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid request", fmt.Errorf("%w: category required", ingest.ErrInvalidRequest), http.StatusBadRequest},
		{"empty content", chunking.ErrEmptyContent, http.StatusBadRequest},
		{"timeout", fmt.Errorf("embedding: %w", context.DeadlineExceeded), http.StatusServiceUnavailable},
		{"store failure", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := setupTestServer(t, nil)
			server.ingester.err = tt.err
			rec := do(t, server.Server, http.MethodPost, "/api/v1/ingest", ingest.Request{Category: "resume", Text: "x"})
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestHandleDeleteSource(t *testing.T) {
	server := setupTestServer(t, nil)

	rec := do(t, server.Server, http.MethodDelete, "/api/v1/sources/resume.md", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, DeleteResponse{SourceID: "resume.md", Deleted: 4}, decode[DeleteResponse](t, rec))

	rec = do(t, server.Server, http.MethodDelete, "/api/v1/sources/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "unknown", server.ingester.lastDrop)
}

func TestHandleSearch(t *testing.T) {
	t.Run("returns ranked results", func(t *testing.T) {
		server := setupTestServer(t, nil)
		rec := do(t, server.Server, http.MethodPost, "/api/v1/search", map[string]any{
			"query": "what did you do before Globex", "limit": 3, "categories": []string{"resume"}, "preferParentChunks": true,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decode[search.Response](t, rec)
		require.Len(t, resp.Results, 1)
		assert.Equal(t, "acme", resp.Results[0].Chunk.ID)
		assert.Equal(t, ranking.PathWeighted, resp.Path)

		assert.Equal(t, "what did you do before Globex", server.searcher.query)
		assert.Equal(t, search.Options{Limit: 3, Categories: []string{"resume"}, PreferParentChunks: true}, server.searcher.opts)
		assert.NotEmpty(t, logging.SearchIDFromContext(server.searcher.ctx))
	})

	t.Run("requires a query", func(t *testing.T) {
		server := setupTestServer(t, nil)
		rec := do(t, server.Server, http.MethodPost, "/api/v1/search", SearchRequest{Query: "  "})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("maps unavailable search to 503", func(t *testing.T) {
		server := setupTestServer(t, nil)
		server.searcher.err = fmt.Errorf("%w: store down", ranking.ErrSearchUnavailable)
		rec := do(t, server.Server, http.MethodPost, "/api/v1/search", SearchRequest{Query: "anything"})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("maps empty query to 400", func(t *testing.T) {
		server := setupTestServer(t, nil)
		server.searcher.err = search.ErrEmptyQuery
		rec := do(t, server.Server, http.MethodPost, "/api/v1/search", SearchRequest{Query: "x"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	server := setupTestServer(t, nil)
	rec := do(t, server.Server, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServerStartShutdown(t *testing.T) {
	server, err := NewServer(Services{Chunker: fakeChunker{}, Ingester: &fakeIngester{}, Searcher: &fakeSearcher{}},
		zap.NewNop(), &Config{Host: "127.0.0.1", Port: 0})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(ctx))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(time.Second):
		t.Fatal("server did not stop")
	}
}
