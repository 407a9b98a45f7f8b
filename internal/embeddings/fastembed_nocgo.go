//go:build !cgo

package embeddings

import (
	"context"
	"errors"

	"github.com/earlyspark/ai-candidate/internal/config"
	"go.uber.org/zap"
)

// ErrFastEmbedNotAvailable is returned when the binary was built without cgo.
var ErrFastEmbedNotAvailable = errors.New("fastembed: not available (binary built without cgo, use the tei provider instead)")

// FastEmbedProvider is a stub for non-cgo builds.
type FastEmbedProvider struct{}

var _ Provider = (*FastEmbedProvider)(nil)

// NewFastEmbedProvider always fails without cgo.
func NewFastEmbedProvider(config.EmbeddingsConfig, *zap.Logger) (*FastEmbedProvider, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (p *FastEmbedProvider) Embed(context.Context, string) ([]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (p *FastEmbedProvider) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (p *FastEmbedProvider) Dimension() int { return 0 }

func (p *FastEmbedProvider) Close() error { return nil }
