package embeddings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mailindex/internal/logging"
	"github.com/fyrsmithlabs/mailindex/pkg/collections"
)

var (
	// ErrProviderUnavailable indicates the backend is unreachable or misconfigured.
	ErrProviderUnavailable = errors.New("embedding provider unavailable")

	// ErrEmbeddingAbsent indicates a text produced no vector.
	ErrEmbeddingAbsent = errors.New("embedding absent")

	// ErrDimensionUnknown indicates the provider could not report its vector length.
	ErrDimensionUnknown = errors.New("embedding dimension unknown")

	// ErrUnknownProvider indicates a provider name outside collections.KnownProviders.
	ErrUnknownProvider = errors.New("unknown embedding provider")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyInput indicates empty or nil input texts
	ErrEmptyInput = errors.New("empty or nil input texts")
)

// DefaultBatchSize is the number of texts sent per backend request.
const DefaultBatchSize = 100

// canaryText is embedded once to learn the dimension of an uncatalogued model.
const canaryText = "test"

// Provider generates embeddings for one model.
type Provider interface {
	// ModelIdentity is pure and does no I/O.
	ModelIdentity() collections.ModelIdentity
	ProviderName() string
	ModelName() string

	// Dimension returns the vector length, probing the backend at most once.
	Dimension(ctx context.Context) (int, error)

	// Embed returns the vector for text. On failure the vector is nil and
	// the error wraps ErrEmbeddingAbsent or ErrProviderUnavailable.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one entry per text, in order. Texts whose chunk
	// failed get a nil entry; other chunks are unaffected.
	EmbedBatch(ctx context.Context, texts []string) [][]float32

	// TestConnection is a best-effort liveness and auth check.
	TestConnection(ctx context.Context) bool

	Close() error
}

// Materializer is implemented by providers that download their model on
// first use. EnsureModel is idempotent.
type Materializer interface {
	EnsureModel(ctx context.Context) error
}

var tracer = otel.Tracer("mailindex.embeddings")

// base carries the identity, dimension cache and chunked batching shared by
// every provider.
type base struct {
	provider  string
	model     string
	id        collections.ModelIdentity
	batchSize int
	logger    *zap.Logger
	usage     *usage

	dimMu sync.Mutex
	dim   int
}

func newBase(provider, model string, batchSize int, logger *zap.Logger) (*base, error) {
	if model == "" {
		model = DefaultModel(provider)
	}
	id, err := collections.NewModelIdentity(provider, model)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("provider", provider), zap.String("model", model))
	return &base{
		provider:  provider,
		model:     model,
		id:        id,
		batchSize: batchSize,
		logger:    logger,
		usage:     newUsage(nil, id, logger),
	}, nil
}

func (b *base) ModelIdentity() collections.ModelIdentity { return b.id }
func (b *base) ProviderName() string                     { return b.provider }
func (b *base) ModelName() string                        { return b.model }

// dimension answers from the catalogue, then from the cache, then by
// embedding the canary text once.
func (b *base) dimension(ctx context.Context, embed func(context.Context, string) ([]float32, error)) (int, error) {
	b.dimMu.Lock()
	defer b.dimMu.Unlock()

	if b.dim > 0 {
		return b.dim, nil
	}
	if dim, ok := KnownDimension(b.provider, b.model); ok {
		b.dim = dim
		return dim, nil
	}

	vec, err := embed(ctx, canaryText)
	if err == nil && len(vec) == 0 {
		err = fmt.Errorf("%w: probe returned no vector for %s", ErrDimensionUnknown, b.id)
	} else if err != nil {
		err = fmt.Errorf("%w: probe failed for %s: %v", ErrDimensionUnknown, b.id, err)
	}
	b.usage.probe(ctx, err)
	if err != nil {
		return 0, err
	}
	b.dim = len(vec)
	b.logger.Debug("probed embedding dimension", zap.Int("dimension", b.dim))
	return b.dim, nil
}

// embedOne wraps a single-text backend call with tracing, metrics and the
// absent-vector contract.
func (b *base) embedOne(ctx context.Context, text string, call func(context.Context, string) ([]float32, error)) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "embeddings.Embed")
	defer span.End()
	span.SetAttributes(attribute.String("model_id", b.id.String()))

	start := time.Now()
	vec, err := b.embedText(ctx, text, call)
	absent := 0
	if err != nil {
		absent = 1
	}
	b.usage.request(ctx, "embed", time.Since(start), 1, absent)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		b.logger.Warn("embedding failed", zap.Error(err))
		return nil, err
	}
	return vec, nil
}

func (b *base) embedText(ctx context.Context, text string, call func(context.Context, string) ([]float32, error)) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: %w: text cannot be empty", ErrEmbeddingAbsent, ErrEmptyInput)
	}
	vec, err := call(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: backend returned an empty vector", ErrEmbeddingAbsent)
	}
	return vec, nil
}

// embedChunks splits texts into batchSize chunks and embeds them in order.
// A failed or short chunk leaves nil entries for its own slice only.
func (b *base) embedChunks(ctx context.Context, texts []string, call func(context.Context, []string) ([][]float32, error)) [][]float32 {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out
	}

	ctx, span := tracer.Start(ctx, "embeddings.EmbedBatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("model_id", b.id.String()),
		attribute.Int("texts", len(texts)),
	)

	var failed int
	for start := 0; start < len(texts); start += b.batchSize {
		end := min(start+b.batchSize, len(texts))
		chunk := texts[start:end]

		began := time.Now()
		vecs, err := call(ctx, chunk)
		if err == nil && len(vecs) != len(chunk) {
			err = fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingAbsent, len(vecs), len(chunk))
		}
		if err != nil {
			b.usage.request(ctx, "embed_batch", time.Since(began), len(chunk), len(chunk))
			failed += len(chunk)
			b.logger.Warn("embedding chunk failed",
				zap.Int("chunk_start", start),
				zap.Int("chunk_size", len(chunk)),
				zap.Error(err))
			continue
		}
		empty := 0
		for i, v := range vecs {
			if len(v) > 0 {
				out[start+i] = v
			} else {
				empty++
			}
		}
		failed += empty
		b.usage.request(ctx, "embed_batch", time.Since(began), len(chunk), empty)
		if ce := b.logger.Check(logging.TraceLevel, "embedded chunk"); ce != nil {
			ce.Write(
				zap.Int("chunk_start", start),
				zap.Int("chunk_size", len(chunk)),
				zap.Int("empty", empty),
				zap.Duration("took", time.Since(began)))
		}
	}

	if failed > 0 {
		span.SetAttributes(attribute.Int("absent", failed))
	}
	return out
}
