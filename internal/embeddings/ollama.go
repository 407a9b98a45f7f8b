package embeddings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/earlyspark/ai-candidate/internal/config"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.uber.org/zap"
)

// OllamaProvider embeds through a local Ollama server.
type OllamaProvider struct {
	embedder  embeddings.Embedder
	model     string
	dimension int
	metrics   *Metrics
	logger    *zap.Logger
}

var _ Provider = (*OllamaProvider)(nil)

// NewOllamaProvider creates an Ollama-backed provider for cfg.Model.
func NewOllamaProvider(cfg config.EmbeddingsConfig, dimension int, logger *zap.Logger) (*OllamaProvider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model required for ollama", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama embedder: %w", err)
	}

	return &OllamaProvider{
		embedder:  embedder,
		model:     cfg.Model,
		dimension: modelDimension(cfg.Model, dimension),
		metrics:   NewMetrics(logger),
		logger:    logger,
	}, nil
}

// Embed implements Embedder.
func (p *OllamaProvider) Embed(ctx context.Context, text string) (vec []float32, err error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	start := time.Now()
	defer func() {
		p.metrics.RecordGeneration(ctx, p.model, "embed", time.Since(start), 1, err)
	}()

	vec, err = p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vec, nil
}

// EmbedBatch implements Embedder.
func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) (vecs [][]float32, err error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	start := time.Now()
	defer func() {
		p.metrics.RecordGeneration(ctx, p.model, "batch_embed", time.Since(start), len(texts), err)
	}()

	vecs, err = p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d vectors, got %d", ErrEmbeddingFailed, len(texts), len(vecs))
	}
	return vecs, nil
}

// Dimension implements Provider.
func (p *OllamaProvider) Dimension() int { return p.dimension }

// Close implements Provider.
func (p *OllamaProvider) Close() error { return nil }
