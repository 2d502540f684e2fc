package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mailindex/internal/services"
)

// Server is an MCP server over a services registry.
type Server struct {
	mcp     *mcp.Server
	reg     services.Registry
	metrics *toolMetrics
	logger  *zap.Logger
	cfg     *Config
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "mailindex")
	Name string

	// Version is the server version (default: "1.0.0")
	Version string

	// Logger for structured logging
	Logger *zap.Logger

	// AllowSync registers the sync_emails tool.
	AllowSync bool

	// MaxBodyChars truncates get_email bodies; 0 disables truncation.
	MaxBodyChars int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:         "mailindex",
		Version:      "1.0.0",
		Logger:       zap.NewNop(),
		MaxBodyChars: 20000,
	}
}

// NewServer creates an MCP server and registers its tools.
func NewServer(cfg *Config, reg services.Registry) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if reg == nil {
		return nil, fmt.Errorf("services registry is required")
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:     mcpServer,
		reg:     reg,
		metrics: newToolMetrics(nil, cfg.Logger),
		logger:  cfg.Logger,
		cfg:     cfg,
	}
	s.registerTools()
	return s, nil
}

// MCP returns the underlying SDK server.
func (s *Server) MCP() *mcp.Server { return s.mcp }

// Run serves on the stdio transport until ctx ends or the client leaves.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Close releases the registry.
func (s *Server) Close() error {
	s.logger.Info("closing MCP server and services")
	if err := s.reg.Close(); err != nil {
		return fmt.Errorf("registry close: %w", err)
	}
	return nil
}
