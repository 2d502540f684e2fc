package main

import (
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/mailindex/internal/logging"
	"github.com/fyrsmithlabs/mailindex/internal/mcp"
)

var (
	mcpAllowSync    bool
	mcpMaxBodyChars int
)

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().BoolVar(&mcpAllowSync, "allow-sync", false, "expose the sync_emails tool")
	mcpCmd.Flags().IntVar(&mcpMaxBodyChars, "max-body-chars", 0, "truncate get_email bodies to this many characters (default 20000)")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the MCP tool server on stdio",
	Long: `Run a Model Context Protocol server on stdin/stdout so an assistant can
search your mail. Tools: search_emails, list_collections, collection_stats,
get_email, and sync_emails with --allow-sync.

Logs go to stderr whatever logging.output says.

Example client entry:
  {"command": "mailindex", "args": ["mcp"]}`,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := loadApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	reg, err := a.openRegistry(ctx)
	if err != nil {
		return err
	}

	cfg := mcp.DefaultConfig()
	cfg.Version = version
	cfg.Logger = a.logger.Underlying().Named("mcp")
	cfg.AllowSync = mcpAllowSync
	if mcpMaxBodyChars > 0 {
		cfg.MaxBodyChars = mcpMaxBodyChars
	}

	srv, err := mcp.NewServer(cfg, reg)
	if err != nil {
		_ = reg.Close()
		return err
	}
	defer func() { _ = srv.Close() }()

	return srv.Run(logging.WithLogger(ctx, a.logger))
}
