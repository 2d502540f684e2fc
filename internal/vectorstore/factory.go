package vectorstore

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mailindex/internal/config"
)

// Open builds the Index described by cfg. The chromem database comes from
// handles, or DefaultHandles when nil; a Qdrant connection is owned by the
// returned Index and closed with it.
func Open(ctx context.Context, cfg config.IndexConfig, handles *Handles, logger *zap.Logger) (*Index, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	root, err := config.ExpandPath(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: index path: %v", ErrInvalidConfig, err)
	}
	if root == "" {
		return nil, fmt.Errorf("%w: index path required", ErrInvalidConfig)
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("%w: creating %s: %v", ErrIndexUnavailable, root, err)
	}

	var backend Backend
	switch cfg.Backend {
	case "", "chromem":
		if handles == nil {
			handles = DefaultHandles()
		}
		db, err := handles.Chromem(root, cfg.Compress)
		if err != nil {
			return nil, err
		}
		backend = NewChromemBackend(db, root, logger)
	case "qdrant":
		backend, err = NewQdrantBackend(ctx, QdrantConfig{
			Host:   cfg.Qdrant.Host,
			Port:   cfg.Qdrant.Port,
			APIKey: cfg.Qdrant.APIKey.Value(),
			UseTLS: cfg.Qdrant.UseTLS,
		}, logger)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, cfg.Backend)
	}

	logger.Debug("index opened", zap.String("backend", backend.Name()), zap.String("root", root))
	return NewIndex(backend, root, logger), nil
}
