// Package http provides the REST API for the candidate retrieval engine.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/earlyspark/ai-candidate/internal/chunking"
	"github.com/earlyspark/ai-candidate/internal/classifier"
	"github.com/earlyspark/ai-candidate/internal/ingest"
	"github.com/earlyspark/ai-candidate/internal/llm"
	"github.com/earlyspark/ai-candidate/internal/logging"
	"github.com/earlyspark/ai-candidate/internal/ranking"
	"github.com/earlyspark/ai-candidate/internal/search"
	"github.com/earlyspark/ai-candidate/internal/store"
	"github.com/earlyspark/ai-candidate/internal/telemetry"
)

// Chunker splits content without storing it.
type Chunker interface {
	ChunkContent(ctx context.Context, category, text string, tags []string, sourceID string) (*chunking.ChunkingResult, error)
}

// Ingester stores and removes content.
type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) (ingest.Result, error)
	DeleteSource(ctx context.Context, sourceID string) (int, error)
}

// Searcher answers queries.
type Searcher interface {
	Search(ctx context.Context, query string, opts search.Options) (search.Response, error)
}

// Registry exposes the discovered categories.
type Registry interface {
	Snapshot() classifier.Snapshot
	LastError() error
}

// Services are the handlers' collaborators. Registry, Store and Telemetry
// may be nil.
type Services struct {
	Chunker   Chunker
	Ingester  Ingester
	Searcher  Searcher
	Registry  Registry
	Store     Counter
	Telemetry *telemetry.Telemetry
}

// Server provides the HTTP endpoints.
type Server struct {
	echo     *echo.Echo
	services Services
	logger   *zap.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Version string
	// BodyLimit caps request bodies, in echo's size notation ("4M").
	BodyLimit string
}

// NewServer creates a new HTTP server.
func NewServer(svcs Services, logger *zap.Logger, cfg *Config) (*Server, error) {
	if svcs.Chunker == nil || svcs.Ingester == nil || svcs.Searcher == nil {
		return nil, fmt.Errorf("chunker, ingester and searcher are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9494,
		}
	}
	if cfg.BodyLimit == "" {
		cfg.BodyLimit = "4M"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			id := c.Response().Header().Get(echo.HeaderXRequestID)
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), id)))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Info("http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", id),
			)
			return nil
		}
	})

	s := &Server{
		echo:     e,
		services: svcs,
		logger:   logger,
		config:   cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
	v1.GET("/categories", s.handleCategories)
	v1.POST("/chunk", s.handleChunk)
	v1.POST("/ingest", s.handleIngest)
	v1.DELETE("/sources/:id", s.handleDeleteSource)
	v1.POST("/search", s.handleSearch)
}

// Echo returns the underlying echo instance for additional routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// ChunkRequest is the request body for POST /api/v1/chunk.
type ChunkRequest struct {
	Category string   `json:"category"`
	Content  string   `json:"content"`
	Tags     []string `json:"tags,omitempty"`
	SourceID string   `json:"sourceId,omitempty"`
}

// SearchRequest is the request body for POST /api/v1/search.
type SearchRequest struct {
	Query string `json:"query"`
	search.Options
}

// DeleteResponse is the response body for DELETE /api/v1/sources/:id.
type DeleteResponse struct {
	SourceID string `json:"sourceId"`
	Deleted  int    `json:"deleted"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleStatus reports dependency health and corpus counts.
func (s *Server) handleStatus(c echo.Context) error {
	ctx := c.Request().Context()
	resp := StatusResponse{
		Status:   "ok",
		Version:  s.config.Version,
		Services: map[string]string{},
	}

	resp.Counts.Chunks, resp.Counts.Categories = CountChunks(ctx, s.services.Store)
	switch {
	case s.services.Store == nil:
	case resp.Counts.Chunks < 0:
		resp.Services["store"] = "unavailable"
		resp.Status = "degraded"
	default:
		resp.Services["store"] = "ok"
	}

	if s.services.Registry != nil {
		snap := s.services.Registry.Snapshot()
		reg := &RegistryStatus{Categories: len(snap.Categories), RefreshedAt: snap.RefreshedAt}
		resp.Services["registry"] = "ok"
		if err := s.services.Registry.LastError(); err != nil {
			reg.LastError = err.Error()
			resp.Services["registry"] = "degraded"
		}
		resp.Registry = reg
	}

	if h := s.services.Telemetry.Health(); h.Enabled {
		resp.Services["telemetry"] = "ok"
		if h.Degraded {
			resp.Services["telemetry"] = "degraded"
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// handleCategories returns the current registry snapshot.
func (s *Server) handleCategories(c echo.Context) error {
	if s.services.Registry == nil {
		return c.JSON(http.StatusOK, classifier.Snapshot{Categories: []classifier.Category{}})
	}
	snap := s.services.Registry.Snapshot()
	if snap.Categories == nil {
		snap.Categories = []classifier.Category{}
	}
	return c.JSON(http.StatusOK, snap)
}

// handleChunk chunks content and returns the chunks without storing them.
func (s *Server) handleChunk(c echo.Context) error {
	var req ChunkRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid chunk request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Category) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "category field is required")
	}
	if strings.TrimSpace(req.Content) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content field is required")
	}

	res, err := s.services.Chunker.ChunkContent(c.Request().Context(), req.Category, req.Content, req.Tags, req.SourceID)
	if err != nil {
		return s.toHTTPError(c, "chunk", err)
	}
	return c.JSON(http.StatusOK, res)
}

// handleIngest chunks, embeds and stores content.
func (s *Server) handleIngest(c echo.Context) error {
	var req ingest.Request
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid ingest request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	if req.SourceID != "" {
		ctx = logging.WithSourceID(ctx, req.SourceID)
	}
	res, err := s.services.Ingester.Ingest(ctx, req)
	if err != nil {
		return s.toHTTPError(c, "ingest", err)
	}
	return c.JSON(http.StatusOK, res)
}

// handleDeleteSource removes every chunk derived from a source document.
func (s *Server) handleDeleteSource(c echo.Context) error {
	id := c.Param("id")
	n, err := s.services.Ingester.DeleteSource(logging.WithSourceID(c.Request().Context(), id), id)
	if err != nil {
		return s.toHTTPError(c, "delete source", err)
	}
	if n == 0 {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("no chunks for source %q", id))
	}
	return c.JSON(http.StatusOK, DeleteResponse{SourceID: id, Deleted: n})
}

// handleSearch answers a query.
func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid search request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query field is required")
	}

	ctx := logging.WithSearchID(c.Request().Context(), uuid.NewString())
	resp, err := s.services.Searcher.Search(ctx, req.Query, req.Options)
	if err != nil {
		return s.toHTTPError(c, "search", err)
	}
	return c.JSON(http.StatusOK, resp)
}

// toHTTPError maps domain errors to status codes: caller input errors to
// 400, missing chunks to 404 and unavailable dependencies to 503.
func (s *Server) toHTTPError(c echo.Context, op string, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, search.ErrEmptyQuery),
		errors.Is(err, ingest.ErrInvalidRequest),
		errors.Is(err, chunking.ErrEmptyContent):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ranking.ErrSearchUnavailable),
		errors.Is(err, llm.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}

	fields := []zap.Field{
		zap.String("op", op),
		zap.Int("status", status),
		zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", fields...)
	} else {
		s.logger.Warn("request rejected", fields...)
	}
	return echo.NewHTTPError(status, err.Error())
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
