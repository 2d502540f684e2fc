package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Telemetry owns the process's tracer and meter providers.
//
// A provider that fails to start leaves the global no-op in place and marks
// the instance degraded; sync and search keep working without export.
type Telemetry struct {
	config *Config

	tracerProvider *trace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	logProvider    log.LoggerProvider

	status atomic.Pointer[HealthStatus]
}

// HealthStatus is the telemetry section of GET /health.
type HealthStatus struct {
	Enabled   bool   `json:"enabled"`
	Healthy   bool   `json:"healthy"`
	Degraded  bool   `json:"degraded"`
	LastError string `json:"last_error,omitempty"`
}

// flusher is the part of the SDK providers Shutdown and ForceFlush need.
type flusher interface {
	ForceFlush(context.Context) error
	Shutdown(context.Context) error
}

// New validates cfg and, when it is enabled, installs tracer and meter
// providers globally along with W3C trace context propagation.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Telemetry, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	t := &Telemetry{config: cfg}
	t.status.Store(&HealthStatus{Enabled: cfg.Enabled, Healthy: true})
	if !cfg.Enabled {
		return t, nil
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	res := newResource(cfg)

	tp, err := newTracerProvider(ctx, cfg, res, &o)
	if err != nil {
		t.degrade(err)
	} else {
		t.tracerProvider = tp
		otel.SetTracerProvider(tp)
	}

	mp, err := newMeterProvider(ctx, cfg, res, &o)
	switch {
	case err != nil:
		t.degrade(err)
	case mp != nil:
		t.meterProvider = mp
		otel.SetMeterProvider(mp)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return t, nil
}

func (t *Telemetry) Tracer(name string, opts ...oteltrace.TracerOption) oteltrace.Tracer {
	if t == nil || t.tracerProvider == nil {
		return otel.GetTracerProvider().Tracer(name, opts...)
	}
	return t.tracerProvider.Tracer(name, opts...)
}

func (t *Telemetry) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if t == nil || t.meterProvider == nil {
		return otel.GetMeterProvider().Meter(name, opts...)
	}
	return t.meterProvider.Meter(name, opts...)
}

// LoggerProvider returns the provider for the otelzap bridge, or nil when
// none was set.
func (t *Telemetry) LoggerProvider() log.LoggerProvider {
	if t == nil {
		return nil
	}
	return t.logProvider
}

func (t *Telemetry) SetLoggerProvider(lp log.LoggerProvider) {
	if t != nil {
		t.logProvider = lp
	}
}

func (t *Telemetry) providers() map[string]flusher {
	out := make(map[string]flusher, 2)
	if t.tracerProvider != nil {
		out["trace"] = t.tracerProvider
	}
	if t.meterProvider != nil {
		out["meter"] = t.meterProvider
	}
	return out
}

// ForceFlush exports pending spans and metrics, e.g. at the end of a sync
// run started from the CLI.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var errs []error
	for name, p := range t.providers() {
		if err := p.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s flush: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Shutdown flushes and stops the providers. Without a deadline on ctx it is
// bounded by shutdown.timeout.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.Shutdown.Timeout.Duration())
		defer cancel()
	}
	var errs []error
	for name, p := range t.providers() {
		if err := p.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s provider shutdown: %w", name, err))
		}
	}
	next := t.Health()
	next.Healthy = false
	t.status.Store(&next)
	return errors.Join(errs...)
}

// Health reports the current state. A nil Telemetry reports degraded.
func (t *Telemetry) Health() HealthStatus {
	if t == nil {
		return HealthStatus{Degraded: true}
	}
	if s := t.status.Load(); s != nil {
		return *s
	}
	return HealthStatus{}
}

// IsEnabled reports whether export is configured and not shut down.
func (t *Telemetry) IsEnabled() bool {
	h := t.Health()
	return h.Enabled && h.Healthy
}

func (t *Telemetry) degrade(err error) {
	next := t.Health()
	next.Degraded = true
	next.LastError = err.Error()
	t.status.Store(&next)
}
