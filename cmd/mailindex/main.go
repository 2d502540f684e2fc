// Package main implements the mailindex CLI: semantic search over a local
// mail archive.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/mailindex/internal/config"
	"github.com/fyrsmithlabs/mailindex/internal/logging"
	"github.com/fyrsmithlabs/mailindex/internal/services"
	"github.com/fyrsmithlabs/mailindex/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	configPath string
	logLevel   string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mailindex",
	Short: "Semantic search over a local mail archive",
	Long: `mailindex embeds your mail into a local vector index and answers
natural-language queries against it.

Each embedding model gets its own collection, so you can sync with several
providers (ollama, openai, fastembed) and pick one per search.

Examples:
  # Write a config file and check the default provider
  mailindex setup

  # Index ~/Mail with the configured model
  mailindex sync

  # Ask a question
  mailindex search "flight confirmation for the Lisbon trip"`,
	Version:       fmt.Sprintf("%s (commit %s, built %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/mailindex/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (trace, debug, info, warn, error)")
}

// app holds what every command that touches the index needs.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	tel    *telemetry.Telemetry
}

// loadApp reads the config and builds logging and telemetry. forceStderr
// keeps stdout free for protocols that own it.
func loadApp(ctx context.Context, forceStderr bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	tel, err := telemetry.New(ctx, telemetryConfig(cfg))
	if err != nil {
		return nil, err
	}

	lcfg, err := loggingConfig(cfg.Logging, forceStderr)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}
	provider := tel.LoggerProvider()
	if provider == nil && lcfg.Output.OTEL {
		provider = global.GetLoggerProvider()
	}
	logger, err := logging.NewLogger(lcfg, provider)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return &app{cfg: cfg, logger: logger, tel: tel}, nil
}

// Close flushes the logger and telemetry.
func (a *app) Close() {
	_ = a.logger.Sync()
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	_ = a.tel.Shutdown(ctx)
}

// openRegistry builds the services registry from the loaded config.
func (a *app) openRegistry(ctx context.Context) (services.Registry, error) {
	reg, err := services.Open(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	return reg, nil
}

// withRegistry runs fn with a freshly opened registry and closes everything
// afterwards.
func withRegistry(cmd *cobra.Command, fn func(ctx context.Context, a *app, reg services.Registry) error) error {
	ctx := cmd.Context()
	a, err := loadApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	reg, err := a.openRegistry(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = reg.Close() }()

	return fn(logging.WithLogger(ctx, a.logger), a, reg)
}

func loggingConfig(c config.LoggingConfig, forceStderr bool) (*logging.Config, error) {
	lcfg := logging.NewDefaultConfig()
	if c.Level != "" {
		level, err := logging.LevelFromString(c.Level)
		if err != nil {
			return nil, err
		}
		lcfg.Level = level
	}
	if c.Format != "" {
		lcfg.Format = c.Format
	}

	switch c.Output {
	case "", "stderr":
		lcfg.Output = logging.OutputConfig{Stderr: true}
	case "stdout":
		lcfg.Output = logging.OutputConfig{Stdout: true}
	case "otel":
		lcfg.Output = logging.OutputConfig{Stderr: true, OTEL: true}
	default:
		return nil, fmt.Errorf("logging.output must be stderr, stdout or otel, got %q", c.Output)
	}
	if forceStderr && lcfg.Output.Stdout {
		lcfg.Output.Stdout = false
		lcfg.Output.Stderr = true
	}
	if lcfg.Level <= zapcore.DebugLevel {
		lcfg.Caller.Enabled = true
	}
	if err := lcfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	return lcfg, nil
}

func telemetryConfig(cfg *config.Config) *telemetry.Config {
	c := cfg.Telemetry
	tcfg := telemetry.NewDefaultConfig()
	tcfg.Enabled = c.Enabled
	tcfg.ServiceVersion = version
	if c.Endpoint != "" {
		tcfg.Endpoint = c.Endpoint
	}
	if c.Protocol != "" {
		tcfg.Protocol = c.Protocol
	}
	tcfg.Insecure = c.Insecure
	if c.SampleRate > 0 {
		tcfg.Sampling.Rate = c.SampleRate
	}
	tcfg.Attributes["mailindex.index.backend"] = cfg.Index.Backend
	tcfg.Attributes["mailindex.embedding.provider"] = cfg.Embeddings.Provider
	return tcfg
}

// exitIfCanceled turns a Ctrl-C during a long command into a clean exit.
func exitIfCanceled(ctx context.Context, err error) error {
	if err != nil && errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("interrupted: %w", err)
	}
	return err
}
