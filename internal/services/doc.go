// Package services wires configuration into the index, resolver, syncer and
// scrubber, and exposes the operations shared by the CLI, the HTTP API and
// the MCP tool server.
package services
