package embeddings

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mailindex/internal/config"
	"github.com/fyrsmithlabs/mailindex/pkg/collections"
)

// FastEmbedConfig holds configuration for the FastEmbed provider.
type FastEmbedConfig struct {
	// Model is one of the fastembed catalogue models.
	Model     string
	BatchSize int
	// CacheDir is where model files are downloaded.
	CacheDir string
	// MaxLength is the maximum input sequence length. Defaults to 512.
	MaxLength int
}

// Settings selects a provider and carries the per-backend configuration.
type Settings struct {
	Provider  string
	Model     string
	BatchSize int

	Ollama    OllamaConfig
	OpenAI    OpenAIConfig
	FastEmbed FastEmbedConfig
}

// SettingsFromConfig maps the embeddings config section to Settings.
func SettingsFromConfig(c config.EmbeddingsConfig) (Settings, error) {
	cacheDir, err := config.ExpandPath(c.FastEmbed.CacheDir)
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		Provider:  c.Provider,
		Model:     c.Model,
		BatchSize: c.BatchSize,
		Ollama: OllamaConfig{
			Host:        c.Ollama.Host,
			Timeout:     c.Ollama.Timeout.Duration(),
			PullTimeout: c.Ollama.PullTimeout.Duration(),
		},
		OpenAI: OpenAIConfig{
			APIKey:            c.OpenAI.APIKey.Value(),
			BaseURL:           c.OpenAI.BaseURL,
			RequestsPerSecond: c.OpenAI.RequestsPerSecond,
			Timeout:           c.OpenAI.Timeout.Duration(),
		},
		FastEmbed: FastEmbedConfig{
			CacheDir:  cacheDir,
			MaxLength: c.FastEmbed.MaxLength,
		},
	}, nil
}

// With returns a copy of s targeting provider and model. Empty arguments
// keep the configured values; switching provider without a model selects
// that provider's default model.
func (s Settings) With(provider, model string) Settings {
	if provider != "" && provider != s.Provider {
		s.Provider = provider
		s.Model = ""
	}
	if model != "" {
		s.Model = model
	}
	return s
}

// Identity returns the model identity s would produce, without building a
// provider.
func (s Settings) Identity() (collections.ModelIdentity, error) {
	model := s.Model
	if model == "" {
		model = DefaultModel(s.Provider)
	}
	return collections.NewModelIdentity(s.Provider, model)
}

// New builds the provider described by s. It does no I/O.
func New(s Settings, logger *zap.Logger) (Provider, error) {
	var (
		p   Provider
		err error
	)
	switch s.Provider {
	case collections.ProviderOllama:
		cfg := s.Ollama
		cfg.Model, cfg.BatchSize = s.Model, s.BatchSize
		p, err = NewOllamaProvider(cfg, logger)
	case collections.ProviderOpenAI:
		cfg := s.OpenAI
		cfg.Model, cfg.BatchSize = s.Model, s.BatchSize
		p, err = NewOpenAIProvider(cfg, logger)
	case collections.ProviderFastEmbed:
		cfg := s.FastEmbed
		cfg.Model, cfg.BatchSize = s.Model, s.BatchSize
		p, err = NewFastEmbedProvider(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: %q (expected one of %v)", ErrUnknownProvider, s.Provider, collections.KnownProviders)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Open builds the provider and resolves its dimension, so a provider that
// cannot report its vector length fails here rather than mid-sync.
func Open(ctx context.Context, s Settings, logger *zap.Logger) (Provider, error) {
	p, err := New(s, logger)
	if err != nil {
		return nil, err
	}
	if _, err := p.Dimension(ctx); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}
