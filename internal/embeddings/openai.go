package embeddings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/earlyspark/ai-candidate/internal/config"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIProvider uses the OpenAI embeddings endpoint or a compatible server.
type OpenAIProvider struct {
	client    *openai.Client
	model     string
	dimension int
	timeout   time.Duration
	metrics   *Metrics
	logger    *zap.Logger
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates an OpenAI embeddings client.
func NewOpenAIProvider(cfg config.EmbeddingsConfig, dimension int, logger *zap.Logger) (*OpenAIProvider, error) {
	if !cfg.APIKey.IsSet() && cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: api_key or base_url required for openai", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model required for openai", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey.Value())
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	return &OpenAIProvider{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     cfg.Model,
		dimension: modelDimension(cfg.Model, dimension),
		timeout:   timeout,
		metrics:   NewMetrics(logger),
		logger:    logger,
	}, nil
}

// Embed implements Embedder.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vecs, err := p.embed(ctx, []string{text}, "embed")
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements Embedder.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	return p.embed(ctx, texts, "batch_embed")
}

func (p *OpenAIProvider) embed(ctx context.Context, texts []string, operation string) (vecs [][]float32, err error) {
	start := time.Now()
	defer func() {
		p.metrics.RecordGeneration(ctx, p.model, operation, time.Since(start), len(texts), err)
	}()

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.CreateEmbeddings(callCtx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d vectors, got %d", ErrEmbeddingFailed, len(texts), len(resp.Data))
	}

	vecs = make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", ErrEmbeddingFailed, d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	if p.dimension == 0 && len(vecs[0]) > 0 {
		p.dimension = len(vecs[0])
	}
	return vecs, nil
}

// Dimension implements Provider.
func (p *OpenAIProvider) Dimension() int { return p.dimension }

// Close implements Provider.
func (p *OpenAIProvider) Close() error { return nil }
