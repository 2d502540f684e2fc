package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tmc/langchaingo/llms/ollama"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mailindex/pkg/collections"
)

// Default configuration values.
const (
	DefaultOllamaHost        = "http://localhost:11434"
	DefaultOllamaTimeout     = 2 * time.Minute
	DefaultOllamaPullTimeout = 30 * time.Minute
)

// OllamaConfig holds configuration for the Ollama provider.
type OllamaConfig struct {
	// Host is the Ollama API base URL.
	Host  string
	Model string

	BatchSize   int
	Timeout     time.Duration
	PullTimeout time.Duration

	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

// OllamaProvider embeds through a local Ollama server. Embedding requests
// go through langchaingo; model listing and pulling use the Ollama REST API.
type OllamaProvider struct {
	*base
	llm         *ollama.LLM
	host        string
	client      *http.Client
	pullTimeout time.Duration

	pullMu       sync.Mutex
	materialized bool
}

var _ Materializer = (*OllamaProvider)(nil)

// NewOllamaProvider creates an Ollama provider. No request is made until
// the first embedding or EnsureModel call.
func NewOllamaProvider(cfg OllamaConfig, logger *zap.Logger) (*OllamaProvider, error) {
	b, err := newBase(collections.ProviderOllama, cfg.Model, cfg.BatchSize, logger)
	if err != nil {
		return nil, err
	}

	host := strings.TrimRight(cfg.Host, "/")
	if host == "" {
		host = DefaultOllamaHost
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultOllamaTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	pullTimeout := cfg.PullTimeout
	if pullTimeout <= 0 {
		pullTimeout = DefaultOllamaPullTimeout
	}

	llm, err := ollama.New(
		ollama.WithModel(b.model),
		ollama.WithServerURL(host),
		ollama.WithHTTPClient(client),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: creating ollama client: %v", ErrInvalidConfig, err)
	}

	return &OllamaProvider{
		base:        b,
		llm:         llm,
		host:        host,
		client:      client,
		pullTimeout: pullTimeout,
	}, nil
}

// Dimension returns the catalogued dimension or probes the model once.
func (p *OllamaProvider) Dimension(ctx context.Context) (int, error) {
	return p.dimension(ctx, p.Embed)
}

// Embed generates an embedding for a single text.
func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
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

// EmbedBatch embeds texts in chunks of the configured batch size.
func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) [][]float32 {
	return p.embedChunks(ctx, texts, p.create)
}

func (p *OllamaProvider) create(ctx context.Context, texts []string) ([][]float32, error) {
	if err := p.EnsureModel(ctx); err != nil {
		return nil, err
	}
	vecs, err := p.llm.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingAbsent, err)
	}
	return vecs, nil
}

// TestConnection reports whether the server answers /api/tags.
func (p *OllamaProvider) TestConnection(ctx context.Context) bool {
	if _, err := p.ListLocalModels(ctx); err != nil {
		p.logger.Warn("ollama connection test failed", zap.String("host", p.host), zap.Error(err))
		return false
	}
	return true
}

// Close is a no-op; the provider holds only an HTTP client.
func (p *OllamaProvider) Close() error {
	return nil
}

type ollamaTagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

// ListLocalModels returns the names of models installed on the server.
func (p *OllamaProvider) ListLocalModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.host+"/api/tags", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", ErrProviderUnavailable, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: ollama at %s: %v", ErrProviderUnavailable, p.host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: ollama returned status %d: %s", ErrProviderUnavailable, resp.StatusCode, string(body))
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("%w: decoding tags: %v", ErrProviderUnavailable, err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		name := m.Name
		if name == "" {
			name = m.Model
		}
		names = append(names, name)
	}
	return names, nil
}

// EnsureModel pulls the model if the server does not have it yet. Once the
// model is known to be present, later calls return without a request.
func (p *OllamaProvider) EnsureModel(ctx context.Context) error {
	p.pullMu.Lock()
	defer p.pullMu.Unlock()

	if p.materialized {
		return nil
	}

	installed, err := p.ListLocalModels(ctx)
	if err != nil {
		return err
	}
	for _, name := range installed {
		if sameOllamaModel(name, p.model) {
			p.materialized = true
			return nil
		}
	}

	p.logger.Info("model not found locally, pulling")
	start := time.Now()
	if err := p.pull(ctx); err != nil {
		return err
	}
	p.logger.Info("model pulled", zap.Duration("duration", time.Since(start)))
	p.materialized = true
	return nil
}

type ollamaPullResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

func (p *OllamaProvider) pull(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.pullTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]any{"name": p.model, "stream": false})
	if err != nil {
		return fmt.Errorf("marshal pull request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: creating pull request: %v", ErrProviderUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	// The pull can outlast the per-request timeout of p.client.
	pullClient := &http.Client{Transport: p.client.Transport}
	resp, err := pullClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: pulling %s: %v", ErrProviderUnavailable, p.model, err)
	}
	defer resp.Body.Close()

	var result ollamaPullResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil && err != io.EOF {
		return fmt.Errorf("%w: decoding pull response: %v", ErrProviderUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK || result.Error != "" {
		return fmt.Errorf("%w: pulling %s: status %d: %s", ErrProviderUnavailable, p.model, resp.StatusCode, result.Error)
	}
	return nil
}

// sameOllamaModel treats "name" and "name:latest" as the same model.
func sameOllamaModel(installed, want string) bool {
	if installed == want {
		return true
	}
	return strings.TrimSuffix(installed, ":latest") == strings.TrimSuffix(want, ":latest")
}
