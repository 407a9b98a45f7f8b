package store

import (
	"context"
	"fmt"

	"github.com/earlyspark/ai-candidate/internal/chunking"
)

// Reader is the read side of Store used by the relation helpers.
type Reader interface {
	Get(ctx context.Context, id string) (chunking.Chunk, error)
	List(ctx context.Context, f Filter) ([]chunking.Chunk, error)
}

// Parent returns the chunk one level above c, or ErrNotFound when c is the
// top of its hierarchy.
func Parent(ctx context.Context, s Reader, c chunking.Chunk) (chunking.Chunk, error) {
	if c.ParentID == "" {
		return chunking.Chunk{}, fmt.Errorf("%w: %s has no parent", ErrNotFound, c.ID)
	}
	return s.Get(ctx, c.ParentID)
}

// Children returns the chunks whose parent is c, in sequence order.
func Children(ctx context.Context, s Reader, c chunking.Chunk) ([]chunking.Chunk, error) {
	if c.Level == chunking.LevelBase {
		return nil, nil
	}
	group, err := s.List(ctx, Filter{GroupID: c.GroupID, Level: Level(c.Level - 1)})
	if err != nil {
		return nil, err
	}
	var out []chunking.Chunk
	for _, g := range group {
		if g.ParentID == c.ID {
			out = append(out, g)
		}
	}
	return out, nil
}

// Siblings returns the other chunks at c's level in its group that share
// its processing type.
func Siblings(ctx context.Context, s Reader, c chunking.Chunk) ([]chunking.Chunk, error) {
	group, err := s.List(ctx, Filter{GroupID: c.GroupID, Level: Level(c.Level), ProcessingType: c.ProcessingType})
	if err != nil {
		return nil, err
	}
	var out []chunking.Chunk
	for _, g := range group {
		if g.ID != c.ID {
			out = append(out, g)
		}
	}
	return out, nil
}
