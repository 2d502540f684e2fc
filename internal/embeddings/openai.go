package embeddings

import (
	"context"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/mailindex/pkg/collections"
)

// DefaultOpenAITimeout bounds a single embeddings request.
const DefaultOpenAITimeout = time.Minute

// OpenAIConfig holds configuration for the OpenAI provider.
type OpenAIConfig struct {
	APIKey string
	// BaseURL overrides the API endpoint, e.g. for Azure or a compatible proxy.
	BaseURL string
	Model   string

	BatchSize int
	// RequestsPerSecond throttles requests; zero disables throttling.
	RequestsPerSecond float64
	Timeout           time.Duration

	HTTPClient *http.Client
}

// OpenAIProvider embeds through the OpenAI embeddings API.
type OpenAIProvider struct {
	*base
	client  *openai.Client
	limiter *rate.Limiter
}

// NewOpenAIProvider creates an OpenAI provider. An API key is required.
func NewOpenAIProvider(cfg OpenAIConfig, logger *zap.Logger) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: OpenAI API key not configured (set OPENAI_API_KEY or embeddings.openai.api_key)", ErrInvalidConfig)
	}
	b, err := newBase(collections.ProviderOpenAI, cfg.Model, cfg.BatchSize, logger)
	if err != nil {
		return nil, err
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	} else {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultOpenAITimeout
		}
		clientCfg.HTTPClient = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &OpenAIProvider{
		base:    b,
		client:  openai.NewClientWithConfig(clientCfg),
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

// Dimension returns the catalogued dimension or probes the model once.
func (p *OpenAIProvider) Dimension(ctx context.Context) (int, error) {
	return p.dimension(ctx, p.Embed)
}

// Embed generates an embedding for a single text.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return p.embedOne(ctx, text, func(ctx context.Context, text string) ([]float32, error) {
		vecs, err := p.create(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		if len(vecs) == 0 {
			return nil, fmt.Errorf("%w: no embeddings in response", ErrEmbeddingAbsent)
		}
		return vecs[0], nil
	})
}

// EmbedBatch embeds texts in chunks of the configured batch size, one API
// request per chunk.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) [][]float32 {
	return p.embedChunks(ctx, texts, p.create)
}

func (p *OpenAIProvider) create(ctx context.Context, texts []string) ([][]float32, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %v", ErrEmbeddingAbsent, err)
	}

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input:          texts,
		Model:          openai.EmbeddingModel(p.model),
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingAbsent, err)
	}

	// Data carries its own index; do not rely on response order.
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("%w: response index %d out of range", ErrEmbeddingAbsent, d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// TestConnection reports whether the API accepts the key.
func (p *OpenAIProvider) TestConnection(ctx context.Context) bool {
	if _, err := p.client.ListModels(ctx); err != nil {
		p.logger.Warn("openai connection test failed", zap.Error(err))
		return false
	}
	return true
}

// Close is a no-op; the provider holds only an HTTP client.
func (p *OpenAIProvider) Close() error {
	return nil
}
