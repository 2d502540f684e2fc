// Package mcp exposes the email index to MCP clients.
//
// It uses the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp) and calls
// the services layer directly. The tools are search_emails, list_collections,
// collection_stats and get_email; sync_emails is registered only when the
// server is configured to allow it. Email bodies returned by get_email are
// the scrubbed text stored at sync time.
package mcp
