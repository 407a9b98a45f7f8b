package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/earlyspark/ai-candidate/internal/config"
)

// New creates the Store selected by cfg.Provider:
//   - "chromem" (default): embedded, no external services
//   - "postgres": pgvector, weighted scoring in SQL
//   - "qdrant": external Qdrant server
//
// Example usage:
//
//	s, err := store.New(ctx, cfg.Store, logger)
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
func New(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Provider {
	case "chromem", "":
		return NewChromemStore(cfg.Chromem, cfg.Dimension, logger)
	case "postgres":
		return NewPostgresStore(ctx, cfg.Postgres, cfg.Dimension, logger)
	case "qdrant":
		return NewQdrantStore(ctx, cfg.Qdrant, cfg.Dimension, logger)
	default:
		return nil, fmt.Errorf("%w: unsupported store provider %q (supported: chromem, postgres, qdrant)", ErrInvalidConfig, cfg.Provider)
	}
}
