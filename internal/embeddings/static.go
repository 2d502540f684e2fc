package embeddings

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/fyrsmithlabs/mailindex/pkg/collections"
)

// StaticProvider computes vectors with a caller-supplied function. It does
// no I/O and is meant for tests and offline tooling.
type StaticProvider struct {
	provider, model string
	id              collections.ModelIdentity
	dim             int
	fn              func(text string) ([]float32, error)

	// Calls counts backend invocations (Embed calls plus EmbedBatch texts).
	Calls atomic.Int64
}

// NewStaticProvider returns a provider reporting the given identity and
// dimension. fn may return a nil vector or an error to simulate failures.
func NewStaticProvider(provider, model string, dim int, fn func(text string) ([]float32, error)) *StaticProvider {
	return &StaticProvider{
		provider: provider,
		model:    model,
		id:       collections.MustModelIdentity(provider, model),
		dim:      dim,
		fn:       fn,
	}
}

func (p *StaticProvider) ModelIdentity() collections.ModelIdentity { return p.id }
func (p *StaticProvider) ProviderName() string                     { return p.provider }
func (p *StaticProvider) ModelName() string                        { return p.model }

func (p *StaticProvider) Dimension(context.Context) (int, error) {
	if p.dim <= 0 {
		return 0, ErrDimensionUnknown
	}
	return p.dim, nil
}

func (p *StaticProvider) Embed(_ context.Context, text string) ([]float32, error) {
	p.Calls.Add(1)
	vec, err := p.fn(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingAbsent, err)
	}
	if len(vec) == 0 {
		return nil, ErrEmbeddingAbsent
	}
	return vec, nil
}

func (p *StaticProvider) EmbedBatch(ctx context.Context, texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = p.Embed(ctx, t)
	}
	return out
}

func (p *StaticProvider) TestConnection(context.Context) bool { return true }
func (p *StaticProvider) Close() error                        { return nil }
