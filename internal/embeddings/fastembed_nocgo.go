//go:build !cgo

package embeddings

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mailindex/pkg/collections"
)

// ErrFastEmbedNotAvailable is returned when FastEmbed is not available (requires CGO).
var ErrFastEmbedNotAvailable = fmt.Errorf("%w: fastembed requires a cgo build, use the ollama or openai provider instead", ErrProviderUnavailable)

// FastEmbedProvider is a stub for non-cgo builds.
type FastEmbedProvider struct {
	*base
}

// NewFastEmbedProvider returns ErrFastEmbedNotAvailable.
func NewFastEmbedProvider(cfg FastEmbedConfig, logger *zap.Logger) (*FastEmbedProvider, error) {
	if _, err := newBase(collections.ProviderFastEmbed, cfg.Model, cfg.BatchSize, logger); err != nil {
		return nil, err
	}
	return nil, ErrFastEmbedNotAvailable
}

// Dimension returns ErrFastEmbedNotAvailable.
func (p *FastEmbedProvider) Dimension(_ context.Context) (int, error) {
	return 0, ErrFastEmbedNotAvailable
}

// Embed returns ErrFastEmbedNotAvailable.
func (p *FastEmbedProvider) Embed(_ context.Context, _ string) ([]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

// EmbedBatch returns all-absent vectors.
func (p *FastEmbedProvider) EmbedBatch(_ context.Context, texts []string) [][]float32 {
	return make([][]float32, len(texts))
}

// TestConnection always fails.
func (p *FastEmbedProvider) TestConnection(_ context.Context) bool {
	return false
}

// Close is a no-op.
func (p *FastEmbedProvider) Close() error {
	return nil
}
