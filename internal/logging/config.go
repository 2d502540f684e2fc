package logging

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/mailindex/internal/config"
)

// Config is the full logger configuration. Users only see level, format and
// output (config.LoggingConfig); the rest keeps its defaults.
type Config struct {
	Level      zapcore.Level     `koanf:"level"`
	Format     string            `koanf:"format"`
	Output     OutputConfig      `koanf:"output"`
	Sampling   SamplingConfig    `koanf:"sampling"`
	Caller     CallerConfig      `koanf:"caller"`
	Stacktrace StacktraceConfig  `koanf:"stacktrace"`
	Fields     map[string]string `koanf:"fields"`
	Redaction  RedactionConfig   `koanf:"redaction"`
}

// OutputConfig selects the sinks. Search results go to stdout, so the CLI
// logs to stderr unless told otherwise.
type OutputConfig struct {
	Stdout bool `koanf:"stdout"`
	Stderr bool `koanf:"stderr"`
	OTEL   bool `koanf:"otel"`
}

func (o OutputConfig) any() bool { return o.Stdout || o.Stderr || o.OTEL }

// SamplingConfig thins repetitive entries, such as one debug line per
// embedded chunk during a large sync.
type SamplingConfig struct {
	Enabled bool                                  `koanf:"enabled"`
	Tick    config.Duration                       `koanf:"tick"`
	Levels  map[zapcore.Level]LevelSamplingConfig `koanf:"levels"`
}

// LevelSamplingConfig keeps the first Initial entries per tick, then every
// Thereafter-th. Thereafter 0 drops the rest.
type LevelSamplingConfig struct {
	Initial    int `koanf:"initial"`
	Thereafter int `koanf:"thereafter"`
}

type CallerConfig struct {
	Enabled bool `koanf:"enabled"`
	Skip    int  `koanf:"skip"`
}

type StacktraceConfig struct {
	Level zapcore.Level `koanf:"level"`
}

// RedactionConfig scrubs local log output. Keys lists field names whose
// values are dropped entirely, Patterns lists value spans to mask, and
// Addresses masks the local part of email addresses in every string field
// except those named in Keep.
type RedactionConfig struct {
	Enabled   bool     `koanf:"enabled"`
	Keys      []string `koanf:"keys"`
	Patterns  []string `koanf:"patterns"`
	Addresses bool     `koanf:"addresses"`
	Keep      []string `koanf:"keep"`
}

const maxPatternLen = 200

var (
	defaultRedactKeys = []string{
		"password", "secret", "token", "api_key", "authorization",
		"bearer", "credential", "private_key", "body",
	}

	defaultRedactPatterns = []string{
		`(?i)bearer\s+\S+`,
		`(?i)api[_-]?key[=:]\s*\S+`,
		`\bsk-[A-Za-z0-9_-]{16,}`,
	}

	// Message ids look like addresses but identify mail, not people.
	defaultKeepKeys = []string{"email_id", "message_id", "id"}
)

// NewDefaultConfig returns the configuration used by the mailindex CLI.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Format: "console",
		Output: OutputConfig{Stderr: true},
		Sampling: SamplingConfig{
			Enabled: true,
			Tick:    config.Duration(time.Second),
			Levels:  DefaultLevelSamplingConfig(),
		},
		Caller:     CallerConfig{Skip: 1},
		Stacktrace: StacktraceConfig{Level: zapcore.ErrorLevel},
		Fields:     map[string]string{"service": "mailindex"},
		Redaction: RedactionConfig{
			Enabled:   true,
			Keys:      append([]string(nil), defaultRedactKeys...),
			Patterns:  append([]string(nil), defaultRedactPatterns...),
			Addresses: true,
			Keep:      append([]string(nil), defaultKeepKeys...),
		},
	}
}

// DefaultLevelSamplingConfig samples trace hardest and leaves warnings
// nearly untouched. Error and above are never sampled.
func DefaultLevelSamplingConfig() map[zapcore.Level]LevelSamplingConfig {
	return map[zapcore.Level]LevelSamplingConfig{
		TraceLevel:         {Initial: 1},
		zapcore.DebugLevel: {Initial: 10},
		zapcore.InfoLevel:  {Initial: 100, Thereafter: 10},
		zapcore.WarnLevel:  {Initial: 100, Thereafter: 100},
	}
}

// Validate reports every problem in c at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("format must be json or console, got %q", c.Format))
	}
	if !c.Output.any() {
		errs = append(errs, errors.New("at least one output must be enabled (stdout, stderr or otel)"))
	}
	if c.Sampling.Enabled && c.Sampling.Tick.Duration() <= 0 {
		errs = append(errs, errors.New("sampling tick must be positive when sampling is enabled"))
	}
	if c.Caller.Enabled && c.Caller.Skip < 0 {
		errs = append(errs, fmt.Errorf("caller skip must be >= 0, got %d", c.Caller.Skip))
	}
	if c.Redaction.Enabled {
		for _, p := range c.Redaction.Patterns {
			if _, err := compilePattern(p); err != nil {
				errs = append(errs, err)
			}
		}
	}
	for k, v := range c.Fields {
		switch {
		case k == "":
			errs = append(errs, errors.New("static field with empty key"))
		case v == "":
			errs = append(errs, fmt.Errorf("static field %q has empty value", k))
		}
	}
	return errors.Join(errs...)
}

func compilePattern(p string) (*regexp.Regexp, error) {
	if len(p) > maxPatternLen {
		return nil, fmt.Errorf("redaction pattern longer than %d chars: %q", maxPatternLen, p)
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
	}
	return re, nil
}
