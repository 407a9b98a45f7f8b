// Candidated serves the candidate retrieval engine over HTTP.
//
// This binary loads configuration, builds the chunk store, embedding
// provider, completion client and caches, starts the category registry and
// serves the REST API with a /metrics endpoint.
//
// Configuration is read from defaults, an optional YAML file and CANDIDATE_*
// environment variables. A .env file in the working directory is loaded
// first when present.
//
// Usage:
//
//	# Start server with defaults (embedded chromem store)
//	candidated
//
//	# Use a config file and override the port
//	CANDIDATE_SERVER_HTTP_PORT=8080 candidated -config ./candidate.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"

	"github.com/earlyspark/ai-candidate/internal/cache"
	"github.com/earlyspark/ai-candidate/internal/chunking"
	"github.com/earlyspark/ai-candidate/internal/classifier"
	"github.com/earlyspark/ai-candidate/internal/config"
	"github.com/earlyspark/ai-candidate/internal/crossref"
	"github.com/earlyspark/ai-candidate/internal/embeddings"
	httpserver "github.com/earlyspark/ai-candidate/internal/http"
	"github.com/earlyspark/ai-candidate/internal/ingest"
	"github.com/earlyspark/ai-candidate/internal/llm"
	"github.com/earlyspark/ai-candidate/internal/logging"
	"github.com/earlyspark/ai-candidate/internal/metadata"
	"github.com/earlyspark/ai-candidate/internal/ranking"
	"github.com/earlyspark/ai-candidate/internal/search"
	"github.com/earlyspark/ai-candidate/internal/store"
	"github.com/earlyspark/ai-candidate/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file (default ~/.config/candidate/config.yaml)")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  candidated [-config path]   Start the server\n")
			fmt.Fprintf(os.Stderr, "  candidated version          Show version information\n")
			os.Exit(1)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Ignoring unreadable .env file: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("candidated\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the server and blocks until ctx is cancelled.
//
// This function initializes all dependencies and services:
//  1. Loads and validates configuration
//  2. Initializes telemetry and the logger
//  3. Opens the chunk store, embedding provider, completion client and caches
//  4. Starts the category registry refresh loop
//  5. Wires chunking, ingestion and search
//  6. Serves HTTP until ctx is done, then shuts down gracefully
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, cfg.Telemetry, version, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	lg, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = lg.Sync() // Best-effort sync on shutdown
	}()
	logger := lg.Underlying()

	logger.Info("Starting candidated",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Provider),
		zap.String("embeddings", cfg.Embeddings.Provider),
		zap.String("llm", cfg.LLM.Provider))

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	svcs, err := initServices(cfg, deps, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	svcs.registry.Start(ctx)
	defer svcs.registry.Stop()

	srv, err := httpserver.NewServer(httpserver.Services{
		Chunker:   svcs.chunker,
		Ingester:  svcs.ingest,
		Searcher:  svcs.search,
		Registry:  svcs.registry,
		Store:     deps.store,
		Telemetry: tel,
	}, logger, &httpserver.Config{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	logger.Info("Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)),
		zap.String("api_prefix", "/api/v1"),
		zap.String("metrics_endpoint", "/metrics"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// initLogger builds the zap logger from the logging section. OTEL output goes
// through the global logger provider.
func initLogger(cfg *config.Config) (*logging.Logger, error) {
	lc, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, err
	}
	if cfg.Logging.OTEL {
		return logging.NewLogger(lc, global.GetLoggerProvider())
	}
	return logging.NewLogger(lc, nil)
}

// dependencies holds all infrastructure dependencies.
type dependencies struct {
	store    store.Store
	embedder embeddings.Provider
	llm      llm.Client
	redis    *redis.Client

	metadata  cache.Cache[metadata.Metadata]
	responses cache.Cache[search.Response]
	refs      cache.Cache[ranking.Anchor]
	settings  cache.Cache[config.SearchSettings]

	logger *zap.Logger
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.embedder != nil {
		if err := d.embedder.Close(); err != nil {
			d.logger.Warn("closing embedding provider", zap.Error(err))
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Warn("closing chunk store", zap.Error(err))
		}
	}
	if d.redis != nil {
		_ = d.redis.Close()
	}
}

// initDependencies opens the store, the embedding provider, the completion
// client and the caches. Redis backs the shared caches when configured.
func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	d := &dependencies{logger: logger}

	s, err := store.New(ctx, cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Provider, err)
	}
	d.store = s
	logger.Info("Chunk store ready", zap.String("provider", cfg.Store.Provider), zap.Int("dimension", s.Dimension()))

	d.embedder, err = embeddings.NewProvider(cfg.Embeddings, cfg.Store.Dimension, logger)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}

	d.llm, err = llm.NewClient(cfg.LLM, logger)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to create completion client: %w", err)
	}
	logger.Info("Completion client ready",
		zap.String("provider", cfg.LLM.Provider),
		zap.String("model", cfg.LLM.Model),
		zap.String("key_hint", cfg.LLM.APIKey.Hint()),
	)

	if cfg.Cache.Provider == "redis" {
		d.redis, err = cache.NewRedisClient(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword.Value(), cfg.Cache.RedisDB)
		if err != nil {
			d.Close()
			return nil, err
		}
		logger.Info("Connected to Redis", zap.String("addr", cfg.Cache.RedisAddr))
	}

	prefix, maxEntries := cfg.Cache.KeyPrefix, cfg.Cache.MaxEntries
	d.metadata = cache.New[metadata.Metadata](d.redis, prefix, "metadata", cfg.Cache.MetadataTTL.Duration(), maxEntries)
	d.responses = cache.New[search.Response](d.redis, prefix, "search", cfg.Search.ResponseCacheTTL.Duration(), maxEntries)
	d.refs = cache.New[ranking.Anchor](d.redis, prefix, "temporal", cfg.Temporal.ReferenceCacheTTL.Duration(), maxEntries)
	// The settings file is local to each instance.
	d.settings = cache.NewMemory[config.SearchSettings](cfg.Search.SettingsTTL.Duration(), 1)
	return d, nil
}

// services holds all business services.
type services struct {
	registry *classifier.Registry
	chunker  *chunking.Service
	ingest   *ingest.Service
	search   *search.Service
}

func initServices(cfg *config.Config, d *dependencies, logger *zap.Logger) (*services, error) {
	chunker, err := chunking.NewService(cfg.Chunking, llm.NewOracle(d.llm, logger), logger.Named("chunking"))
	if err != nil {
		return nil, err
	}

	registry := classifier.NewRegistry(d.store, d.llm, d.embedder, cfg.Classifier, logger.Named("registry"))
	extractor := metadata.NewExtractor(d.llm, d.metadata, cfg.Cache.MetadataTTL.Duration(), logger.Named("metadata"))

	searchSvc, err := search.NewService(search.Deps{
		Embedder:   d.embedder,
		Classifier: classifier.New(registry, d.llm, d.embedder, cfg.Classifier, logger.Named("classifier")),
		Analyzer:   extractor,
		Tags:       extractor.Tags(),
		Ranker:     ranking.New(d.store, d.refs, cfg.Search, cfg.Temporal, cfg.Preference, logger.Named("ranking")),
		CrossRefs:  crossref.New(d.store, logger.Named("crossref")),
		Responses:  d.responses,
		Settings:   d.settings,
	}, cfg.Search, logger.Named("search"))
	if err != nil {
		return nil, err
	}

	ingestSvc, err := ingest.NewService(ingest.Deps{
		Chunker:     chunker,
		Analyzer:    extractor,
		Batcher:     embeddings.NewBatcher(d.embedder, cfg.Embeddings.BatchSize, cfg.Embeddings.BatchDelay.Duration(), logger),
		Store:       d.store,
		Invalidator: corpusHooks{search: searchSvc, refs: d.refs, logger: logger},
		Registry:    registry,
	}, logger.Named("ingest"))
	if err != nil {
		return nil, err
	}

	return &services{registry: registry, chunker: chunker, ingest: ingestSvc, search: searchSvc}, nil
}

// corpusHooks drops state derived from the corpus after it changes.
type corpusHooks struct {
	search *search.Service
	refs   cache.Cache[ranking.Anchor]
	logger *zap.Logger
}

func (h corpusHooks) Invalidate(ctx context.Context) {
	h.search.Invalidate(ctx)
	if err := h.refs.Clear(ctx); err != nil {
		h.logger.Warn("temporal reference cache clear failed", zap.Error(err))
	}
}
