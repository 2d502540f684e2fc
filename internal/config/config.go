// Package config provides configuration loading for mailindex.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (MAILINDEX_EMBEDDINGS_PROVIDER, ...)
//  2. YAML config file (~/.config/mailindex/config.yaml)
//  3. Defaults (Default)
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete mailindex configuration.
type Config struct {
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Index      IndexConfig      `koanf:"index"`
	Sync       SyncConfig       `koanf:"sync"`
	Search     SearchConfig     `koanf:"search"`
	Server     ServerConfig     `koanf:"server"`
	Redaction  RedactionConfig  `koanf:"redaction"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

// EmbeddingsConfig selects and configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is one of ollama, openai, fastembed.
	Provider string `koanf:"provider"`
	// Model is the provider's model name; empty means the provider default.
	Model     string          `koanf:"model"`
	BatchSize int             `koanf:"batch_size"`
	Ollama    OllamaConfig    `koanf:"ollama"`
	OpenAI    OpenAIConfig    `koanf:"openai"`
	FastEmbed FastEmbedConfig `koanf:"fastembed"`
}

// OllamaConfig configures the local Ollama server backend.
type OllamaConfig struct {
	Host        string   `koanf:"host"`
	PullTimeout Duration `koanf:"pull_timeout"`
	Timeout     Duration `koanf:"timeout"`
}

// OpenAIConfig configures the OpenAI embeddings backend.
type OpenAIConfig struct {
	APIKey            Secret   `koanf:"api_key"`
	BaseURL           string   `koanf:"base_url"`
	RequestsPerSecond float64  `koanf:"requests_per_second"`
	Timeout           Duration `koanf:"timeout"`
}

// FastEmbedConfig configures the in-process ONNX backend.
type FastEmbedConfig struct {
	CacheDir  string `koanf:"cache_dir"`
	MaxLength int    `koanf:"max_length"`
}

// IndexConfig configures the vector index.
type IndexConfig struct {
	// Backend is chromem (embedded, default) or qdrant.
	Backend  string       `koanf:"backend"`
	Path     string       `koanf:"path"`
	Compress bool         `koanf:"compress"`
	Qdrant   QdrantConfig `koanf:"qdrant"`
}

// QdrantConfig holds Qdrant gRPC connection settings.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	UseTLS bool   `koanf:"use_tls"`
	APIKey Secret `koanf:"api_key"`
}

// SyncConfig holds defaults for the sync and watch commands.
type SyncConfig struct {
	Query         string   `koanf:"query"`
	MaxResults    int      `koanf:"max_results"`
	SourceDir     string   `koanf:"source_dir"`
	WatchDebounce Duration `koanf:"watch_debounce"`
}

// SearchConfig holds search limits.
type SearchConfig struct {
	MaxResults int `koanf:"max_results"`
	DefaultK   int `koanf:"default_k"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// RedactionConfig controls secret scrubbing of message bodies before embedding.
type RedactionConfig struct {
	Enabled       bool   `koanf:"enabled"`
	AllowlistFile string `koanf:"allowlist_file"`
}

// LoggingConfig is the user-facing subset of logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Output string `koanf:"output"` // stderr, stdout or otel
}

// TelemetryConfig is the user-facing subset of telemetry.Config.
type TelemetryConfig struct {
	Enabled    bool    `koanf:"enabled"`
	Endpoint   string  `koanf:"endpoint"`
	Protocol   string  `koanf:"protocol"`
	Insecure   bool    `koanf:"insecure"`
	SampleRate float64 `koanf:"sample_rate"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Embeddings: EmbeddingsConfig{
			Provider:  "ollama",
			BatchSize: 100,
			Ollama: OllamaConfig{
				Host:        "http://localhost:11434",
				PullTimeout: Duration(30 * time.Minute),
				Timeout:     Duration(2 * time.Minute),
			},
			OpenAI: OpenAIConfig{
				RequestsPerSecond: 5,
				Timeout:           Duration(time.Minute),
			},
			FastEmbed: FastEmbedConfig{
				CacheDir:  "~/.cache/mailindex/fastembed",
				MaxLength: 512,
			},
		},
		Index: IndexConfig{
			Backend:  "chromem",
			Path:     "~/.local/share/mailindex/index",
			Compress: true,
			Qdrant: QdrantConfig{
				Host: "localhost",
				Port: 6334,
			},
		},
		Sync: SyncConfig{
			MaxResults:    500,
			SourceDir:     "~/Mail",
			WatchDebounce: Duration(2 * time.Second),
		},
		Search: SearchConfig{
			MaxResults: 50,
			DefaultK:   10,
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8787,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Redaction: RedactionConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Telemetry: TelemetryConfig{
			Endpoint:   "localhost:4317",
			Protocol:   "grpc",
			Insecure:   true,
			SampleRate: 1.0,
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	switch c.Embeddings.Provider {
	case "ollama", "openai", "fastembed":
	default:
		errs = append(errs, fmt.Errorf("embeddings.provider must be ollama, openai or fastembed, got %q", c.Embeddings.Provider))
	}
	if c.Embeddings.BatchSize <= 0 || c.Embeddings.BatchSize > 2048 {
		errs = append(errs, fmt.Errorf("embeddings.batch_size must be in 1..2048, got %d", c.Embeddings.BatchSize))
	}
	if c.Embeddings.Provider == "ollama" && c.Embeddings.Ollama.Host == "" {
		errs = append(errs, errors.New("embeddings.ollama.host is required"))
	}
	if c.Embeddings.OpenAI.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("embeddings.openai.requests_per_second must be >= 0"))
	}

	switch c.Index.Backend {
	case "chromem":
		if c.Index.Path == "" {
			errs = append(errs, errors.New("index.path is required for the chromem backend"))
		}
	case "qdrant":
		if c.Index.Qdrant.Host == "" {
			errs = append(errs, errors.New("index.qdrant.host is required"))
		}
		if c.Index.Qdrant.Port <= 0 || c.Index.Qdrant.Port > 65535 {
			errs = append(errs, fmt.Errorf("index.qdrant.port out of range: %d", c.Index.Qdrant.Port))
		}
		if c.Index.Path == "" {
			errs = append(errs, errors.New("index.path is required for sync state"))
		}
	default:
		errs = append(errs, fmt.Errorf("index.backend must be chromem or qdrant, got %q", c.Index.Backend))
	}

	if c.Sync.MaxResults <= 0 {
		errs = append(errs, fmt.Errorf("sync.max_results must be positive, got %d", c.Sync.MaxResults))
	}
	if c.Search.MaxResults <= 0 {
		errs = append(errs, fmt.Errorf("search.max_results must be positive, got %d", c.Search.MaxResults))
	}
	if c.Search.DefaultK <= 0 || c.Search.DefaultK > c.Search.MaxResults {
		errs = append(errs, fmt.Errorf("search.default_k must be in 1..%d, got %d", c.Search.MaxResults, c.Search.DefaultK))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}

	switch c.Logging.Output {
	case "stderr", "stdout", "otel":
	default:
		errs = append(errs, fmt.Errorf("logging.output must be stderr, stdout or otel, got %q", c.Logging.Output))
	}

	return errors.Join(errs...)
}
