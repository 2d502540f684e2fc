// Package telemetry wires OpenTelemetry tracing and metrics for mailindex.
package telemetry

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/fyrsmithlabs/mailindex/internal/config"
)

// Config configures OTLP export. Users set the fields mirrored in
// config.TelemetryConfig; Attributes is filled from the rest of the config
// so traces can be told apart by index backend and embedding provider.
type Config struct {
	Enabled        bool              `koanf:"enabled"`
	Endpoint       string            `koanf:"endpoint"`
	Protocol       string            `koanf:"protocol"`
	ServiceName    string            `koanf:"service_name"`
	ServiceVersion string            `koanf:"service_version"`
	Insecure       bool              `koanf:"insecure"`
	Attributes     map[string]string `koanf:"attributes"`
	Sampling       SamplingConfig    `koanf:"sampling"`
	Metrics        MetricsConfig     `koanf:"metrics"`
	Shutdown       ShutdownConfig    `koanf:"shutdown"`
}

type SamplingConfig struct {
	// Rate is the head sampling ratio for root spans, 0 to 1.
	Rate float64 `koanf:"rate"`
}

type MetricsConfig struct {
	Enabled        bool            `koanf:"enabled"`
	ExportInterval config.Duration `koanf:"export_interval"`
}

type ShutdownConfig struct {
	Timeout config.Duration `koanf:"timeout"`
}

const (
	protocolGRPC = "grpc"
	protocolHTTP = "http/protobuf"
)

// NewDefaultConfig targets a collector on localhost. Export stays off until
// telemetry.enabled is set.
func NewDefaultConfig() *Config {
	return &Config{
		Endpoint:       "localhost:4317",
		Protocol:       protocolGRPC,
		ServiceName:    "mailindex",
		ServiceVersion: "dev",
		Insecure:       true,
		Attributes:     map[string]string{},
		Sampling:       SamplingConfig{Rate: 1},
		Metrics: MetricsConfig{
			Enabled:        true,
			ExportInterval: config.Duration(15 * time.Second),
		},
		Shutdown: ShutdownConfig{Timeout: config.Duration(5 * time.Second)},
	}
}

// Validate checks an enabled config. A disabled one is always valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	var errs []error
	if c.Endpoint == "" {
		errs = append(errs, errors.New("endpoint is required when telemetry is enabled"))
	} else if c.Insecure && !isLoopback(c.Endpoint) {
		errs = append(errs, fmt.Errorf("insecure export is only allowed to local endpoints, got %q", c.Endpoint))
	}
	if c.ServiceName == "" {
		errs = append(errs, errors.New("service_name is required when telemetry is enabled"))
	}
	if p := c.Protocol; p != "" && p != protocolGRPC && p != protocolHTTP {
		errs = append(errs, fmt.Errorf("protocol must be %s or %s, got %q", protocolGRPC, protocolHTTP, p))
	}
	if c.Sampling.Rate < 0 || c.Sampling.Rate > 1 {
		errs = append(errs, fmt.Errorf("sampling.rate must be between 0 and 1, got %g", c.Sampling.Rate))
	}
	if c.Metrics.Enabled && c.Metrics.ExportInterval.Duration() <= 0 {
		errs = append(errs, errors.New("metrics.export_interval must be positive when metrics are enabled"))
	}
	if c.Shutdown.Timeout.Duration() <= 0 {
		errs = append(errs, errors.New("shutdown.timeout must be positive"))
	}
	for k := range c.Attributes {
		if strings.TrimSpace(k) == "" {
			errs = append(errs, errors.New("resource attribute with empty key"))
		}
	}
	return errors.Join(errs...)
}

// hostPort strips any http:// or https:// prefix; OTLP exporters want
// host:port.
func hostPort(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return strings.TrimPrefix(endpoint, "http://")
}

func isLoopback(endpoint string) bool {
	host := hostPort(endpoint)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
