package http

import (
	"context"

	"github.com/earlyspark/ai-candidate/internal/chunking"
	"github.com/earlyspark/ai-candidate/internal/store"
)

// Counter is the part of the chunk store the status endpoint reads.
type Counter interface {
	Categories(ctx context.Context) ([]string, error)
	List(ctx context.Context, f store.Filter) ([]chunking.Chunk, error)
}

// CountChunks counts stored chunks at every level and the categories that
// have base chunks.
//
// Returns (-1, -1) if:
//   - s is nil
//   - listing chunks or categories fails
func CountChunks(ctx context.Context, s Counter) (chunks int, categories int) {
	if s == nil {
		return -1, -1
	}

	all, err := s.List(ctx, store.Filter{})
	if err != nil {
		return -1, -1
	}
	cats, err := s.Categories(ctx)
	if err != nil {
		return -1, -1
	}
	return len(all), len(cats)
}
