package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/knadh/koanf/parsers/yaml"
)

// ErrConfigExists is returned by Write when the file exists and overwrite
// is false.
var ErrConfigExists = errors.New("config file already exists")

// Marshal renders cfg as YAML in the layout Load reads. Secrets are
// written empty; they belong in the environment or a .env file.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Parser().Marshal(toMap(cfg))
}

// Write saves cfg to path with 0600 permissions, creating the parent
// directory with 0700.
func Write(path string, cfg *Config, overwrite bool) error {
	if _, err := os.Stat(path); err == nil && !overwrite {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to stat config file: %w", err)
	}

	data, err := Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	// WriteFile keeps the mode of an existing file.
	return os.Chmod(path, 0o600)
}

func toMap(c *Config) map[string]any {
	e := c.Embeddings
	return map[string]any{
		"embeddings": map[string]any{
			"provider":   e.Provider,
			"model":      e.Model,
			"batch_size": e.BatchSize,
			"ollama": map[string]any{
				"host":         e.Ollama.Host,
				"timeout":      e.Ollama.Timeout.Duration().String(),
				"pull_timeout": e.Ollama.PullTimeout.Duration().String(),
			},
			"openai": map[string]any{
				"api_key":             "",
				"base_url":            e.OpenAI.BaseURL,
				"requests_per_second": e.OpenAI.RequestsPerSecond,
				"timeout":             e.OpenAI.Timeout.Duration().String(),
			},
			"fastembed": map[string]any{
				"cache_dir":  e.FastEmbed.CacheDir,
				"max_length": e.FastEmbed.MaxLength,
			},
		},
		"index": map[string]any{
			"backend":  c.Index.Backend,
			"path":     c.Index.Path,
			"compress": c.Index.Compress,
			"qdrant": map[string]any{
				"host":    c.Index.Qdrant.Host,
				"port":    c.Index.Qdrant.Port,
				"use_tls": c.Index.Qdrant.UseTLS,
				"api_key": "",
			},
		},
		"sync": map[string]any{
			"query":          c.Sync.Query,
			"max_results":    c.Sync.MaxResults,
			"source_dir":     c.Sync.SourceDir,
			"watch_debounce": c.Sync.WatchDebounce.Duration().String(),
		},
		"search": map[string]any{
			"max_results": c.Search.MaxResults,
			"default_k":   c.Search.DefaultK,
		},
		"server": map[string]any{
			"host":             c.Server.Host,
			"port":             c.Server.Port,
			"shutdown_timeout": c.Server.ShutdownTimeout.Duration().String(),
		},
		"redaction": map[string]any{
			"enabled":        c.Redaction.Enabled,
			"allowlist_file": c.Redaction.AllowlistFile,
		},
		"logging": map[string]any{
			"level":  c.Logging.Level,
			"format": c.Logging.Format,
			"output": c.Logging.Output,
		},
		"telemetry": map[string]any{
			"enabled":     c.Telemetry.Enabled,
			"endpoint":    c.Telemetry.Endpoint,
			"protocol":    c.Telemetry.Protocol,
			"insecure":    c.Telemetry.Insecure,
			"sample_rate": c.Telemetry.SampleRate,
		},
	}
}
