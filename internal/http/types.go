package http

import (
	"github.com/fyrsmithlabs/mailindex/internal/ingest"
	"github.com/fyrsmithlabs/mailindex/internal/telemetry"
	"github.com/fyrsmithlabs/mailindex/internal/vectorstore"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Backend     string `json:"backend,omitempty"`
	Collections int    `json:"collections"`
	// Telemetry is present when the server was given a Telemetry.
	Telemetry *telemetry.HealthStatus `json:"telemetry,omitempty"`
}

// CollectionsResponse is the response body for GET /api/v1/collections.
type CollectionsResponse struct {
	Collections []vectorstore.CollectionInfo `json:"collections"`
}

// SyncRequest is the request body for POST /api/v1/sync.
type SyncRequest struct {
	Query       string `json:"query,omitempty"`
	MaxResults  int    `json:"max_results,omitempty"`
	Incremental bool   `json:"incremental,omitempty"`
	Clear       bool   `json:"clear,omitempty"`
	Provider    string `json:"provider,omitempty"`
	Model       string `json:"model,omitempty"`
}

// SyncResponse is the response body for POST /api/v1/sync.
type SyncResponse struct {
	Descriptor string `json:"descriptor"`
	Created    bool   `json:"created"`
	*ingest.Report
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Message string `json:"message"`
}
