//go:build cgo

package embeddings

import (
	"context"
	"fmt"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mailindex/pkg/collections"
)

// fastembedBatchSize is the ONNX inference batch inside one PassageEmbed call.
const fastembedBatchSize = 256

// modelMapping maps catalogue model names to fastembed model constants.
var modelMapping = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
	// Also accept the fastembed model names directly
	"fast-bge-small-en-v1.5": fastembed.BGESmallENV15,
	"fast-bge-base-en-v1.5":  fastembed.BGEBaseENV15,
	"fast-all-MiniLM-L6-v2":  fastembed.AllMiniLML6V2,
}

// FastEmbedProvider runs ONNX embedding models in process. The runtime
// library and the model files are fetched on first use.
type FastEmbedProvider struct {
	*base
	cfg   FastEmbedConfig
	model fastembed.EmbeddingModel

	mu    sync.RWMutex
	embed *fastembed.FlagEmbedding
}

var _ Materializer = (*FastEmbedProvider)(nil)

// NewFastEmbedProvider creates a FastEmbed provider without loading the model.
func NewFastEmbedProvider(cfg FastEmbedConfig, logger *zap.Logger) (*FastEmbedProvider, error) {
	b, err := newBase(collections.ProviderFastEmbed, cfg.Model, cfg.BatchSize, logger)
	if err != nil {
		return nil, err
	}
	model, ok := modelMapping[b.model]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported model %q (supported: BAAI/bge-small-en-v1.5, BAAI/bge-base-en-v1.5, sentence-transformers/all-MiniLM-L6-v2)", ErrInvalidConfig, b.model)
	}
	if cfg.MaxLength == 0 {
		cfg.MaxLength = 512
	}
	return &FastEmbedProvider{base: b, cfg: cfg, model: model}, nil
}

// EnsureModel loads the ONNX runtime and model, downloading both if missing.
func (p *FastEmbedProvider) EnsureModel(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.embed != nil {
		return nil
	}

	if _, err := EnsureONNXRuntime(ctx, p.logger); err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	cacheDir := p.cfg.CacheDir
	if cacheDir == "" {
		cacheDir = defaultModelCacheDir()
	}
	showProgress := false
	flagEmbed, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                p.model,
		CacheDir:             cacheDir,
		MaxLength:            p.cfg.MaxLength,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return fmt.Errorf("%w: initializing FastEmbed: %v", ErrProviderUnavailable, err)
	}
	p.embed = flagEmbed
	p.logger.Info("fastembed model loaded", zap.String("cache_dir", cacheDir))
	return nil
}

// Dimension returns the catalogued dimension or probes the model once.
func (p *FastEmbedProvider) Dimension(ctx context.Context) (int, error) {
	return p.dimension(ctx, p.Embed)
}

// Embed generates a query embedding. BGE models add the "query: " prefix.
func (p *FastEmbedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return p.embedOne(ctx, text, func(ctx context.Context, text string) ([]float32, error) {
		if err := p.ready(ctx); err != nil {
			return nil, err
		}
		p.mu.RLock()
		defer p.mu.RUnlock()
		vec, err := p.embed.QueryEmbed(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEmbeddingAbsent, err)
		}
		return vec, nil
	})
}

// EmbedBatch generates passage embeddings in chunks.
func (p *FastEmbedProvider) EmbedBatch(ctx context.Context, texts []string) [][]float32 {
	return p.embedChunks(ctx, texts, func(ctx context.Context, chunk []string) ([][]float32, error) {
		if err := p.ready(ctx); err != nil {
			return nil, err
		}
		p.mu.RLock()
		defer p.mu.RUnlock()
		vecs, err := p.embed.PassageEmbed(chunk, fastembedBatchSize)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEmbeddingAbsent, err)
		}
		return vecs, nil
	})
}

func (p *FastEmbedProvider) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.EnsureModel(ctx)
}

// TestConnection reports whether the model loads.
func (p *FastEmbedProvider) TestConnection(ctx context.Context) bool {
	if err := p.EnsureModel(ctx); err != nil {
		p.logger.Warn("fastembed model failed to load", zap.Error(err))
		return false
	}
	return true
}

// Close releases resources held by the FastEmbed provider.
func (p *FastEmbedProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.embed != nil {
		err := p.embed.Destroy()
		p.embed = nil
		return err
	}
	return nil
}
