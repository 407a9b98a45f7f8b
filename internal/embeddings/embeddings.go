// Package embeddings turns text into fixed-length vectors.
//
// Providers:
//   - tei: HuggingFace text-embeddings-inference server (default)
//   - openai: OpenAI or a compatible /v1/embeddings endpoint
//   - ollama: a local Ollama server via langchaingo
//   - fastembed: in-process ONNX models (requires cgo)
//   - hash: deterministic bag-of-words vectors for offline use
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/earlyspark/ai-candidate/internal/config"
	"go.uber.org/zap"
)

var (
	// ErrEmptyInput is returned when the text to embed is empty.
	ErrEmptyInput = errors.New("empty input")

	// ErrInvalidConfig is returned for unusable provider configuration.
	ErrInvalidConfig = errors.New("invalid embeddings configuration")

	// ErrEmbeddingFailed wraps provider-side failures.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Embedder produces vectors for text.
type Embedder interface {
	// Embed returns the vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per text, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Provider is an Embedder with a known dimension and releasable resources.
type Provider interface {
	Embedder
	Dimension() int
	Close() error
}

// NewProvider builds the provider named by cfg.Provider. dimension is the
// store dimension; providers whose model dimension is known check it matches.
func NewProvider(cfg config.EmbeddingsConfig, dimension int, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		p   Provider
		err error
	)
	switch strings.ToLower(cfg.Provider) {
	case "", "tei":
		p, err = NewTEIProvider(cfg, dimension, logger)
	case "openai":
		p, err = NewOpenAIProvider(cfg, dimension, logger)
	case "ollama":
		p, err = NewOllamaProvider(cfg, dimension, logger)
	case "fastembed":
		p, err = NewFastEmbedProvider(cfg, logger)
	case "hash":
		p = NewHashEmbedder(dimension)
	default:
		return nil, fmt.Errorf("%w: unsupported provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if dimension > 0 && p.Dimension() > 0 && p.Dimension() != dimension {
		_ = p.Close()
		return nil, fmt.Errorf("%w: model %q produces %d dimensions, store expects %d",
			ErrInvalidConfig, cfg.Model, p.Dimension(), dimension)
	}

	logger.Info("embedding provider ready",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
		zap.Int("dimension", p.Dimension()),
	)
	return p, nil
}

// knownDimensions lists output sizes of common models.
var knownDimensions = map[string]int{
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-small-en":                      384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-base-en":                       768,
	"BAAI/bge-large-en-v1.5":                 1024,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
	"nomic-embed-text":                       768,
	"mxbai-embed-large":                      1024,
	"text-embedding-3-small":                 1536,
	"text-embedding-3-large":                 3072,
	"text-embedding-ada-002":                 1536,
}

// modelDimension returns the known dimension for model, or fallback.
func modelDimension(model string, fallback int) int {
	if d, ok := knownDimensions[model]; ok {
		return d
	}
	return fallback
}
