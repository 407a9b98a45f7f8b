package embeddings

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultBatchSize is the number of texts sent per request.
	DefaultBatchSize = 10

	// DefaultBatchDelay is the pause between consecutive requests.
	DefaultBatchDelay = 100 * time.Millisecond
)

// BatchResult is the outcome for one input text. Exactly one of Vector and
// Err is set.
type BatchResult struct {
	Index  int
	Vector []float32
	Err    error
}

// Batcher embeds large inputs in fixed-size batches with a delay between
// requests. A failing batch is retried item by item so one bad text only
// fails itself.
type Batcher struct {
	embedder Embedder
	size     int
	delay    time.Duration
	metrics  *Metrics
	logger   *zap.Logger
	sleep    func(context.Context, time.Duration) error
}

// NewBatcher wraps embedder. Non-positive size and negative delay select the
// defaults.
func NewBatcher(embedder Embedder, size int, delay time.Duration, logger *zap.Logger) *Batcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if size <= 0 {
		size = DefaultBatchSize
	}
	if delay < 0 {
		delay = DefaultBatchDelay
	}
	return &Batcher{
		embedder: embedder,
		size:     size,
		delay:    delay,
		metrics:  NewMetrics(logger),
		logger:   logger,
		sleep:    sleepContext,
	}
}

// Embed returns one result per text, in input order. The returned error is
// non-nil only when ctx is done before all batches were attempted.
func (b *Batcher) Embed(ctx context.Context, texts []string) ([]BatchResult, error) {
	results := make([]BatchResult, len(texts))
	for i := range results {
		results[i].Index = i
	}

	for start := 0; start < len(texts); start += b.size {
		if start > 0 && b.delay > 0 {
			if err := b.sleep(ctx, b.delay); err != nil {
				b.failRemaining(results, start, err)
				return results, err
			}
		}
		end := min(start+b.size, len(texts))
		b.embedBatch(ctx, texts[start:end], results[start:end])
	}
	return results, nil
}

func (b *Batcher) embedBatch(ctx context.Context, texts []string, out []BatchResult) {
	vecs, err := b.embedder.EmbedBatch(ctx, texts)
	if err == nil && len(vecs) == len(texts) {
		for i := range out {
			out[i].Vector = vecs[i]
		}
		return
	}
	if err == nil {
		err = fmt.Errorf("%w: expected %d vectors, got %d", ErrEmbeddingFailed, len(texts), len(vecs))
	}

	b.logger.Warn("batch embedding failed, retrying items individually",
		zap.Int("batch_size", len(texts)), zap.Error(err))
	b.metrics.RecordFallback(ctx)

	for i, text := range texts {
		vec, err := b.embedder.Embed(ctx, text)
		if err != nil {
			b.logger.Warn("embedding failed for item", zap.Int("index", out[i].Index), zap.Error(err))
			out[i].Err = err
			continue
		}
		out[i].Vector = vec
	}
}

func (b *Batcher) failRemaining(results []BatchResult, from int, err error) {
	for i := from; i < len(results); i++ {
		results[i].Err = err
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
