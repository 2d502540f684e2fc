package http

import (
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "mailindex.http"

// requestMetrics is the OTEL side of the API: request counts and latency
// per route, tagged with the collection the request addressed.
type requestMetrics struct {
	meter    metric.Meter
	logger   *zap.Logger
	requests metric.Int64Counter
	latency  metric.Float64Histogram
	inflight metric.Int64UpDownCounter
}

func newRequestMetrics(meter metric.Meter, logger *zap.Logger) *requestMetrics {
	if meter == nil {
		meter = otel.Meter(httpInstrumentationName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &requestMetrics{meter: meter, logger: logger}

	var err error
	m.requests, err = meter.Int64Counter(
		"mailindex.http.requests",
		metric.WithDescription("API requests by route group, route and status class."),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		logger.Warn("failed to create request counter", zap.Error(err))
	}
	m.latency, err = meter.Float64Histogram(
		"mailindex.http.latency",
		metric.WithDescription("API request latency. Search latency includes embedding the query."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 60),
	)
	if err != nil {
		logger.Warn("failed to create latency histogram", zap.Error(err))
	}
	m.inflight, err = meter.Int64UpDownCounter(
		"mailindex.http.inflight",
		metric.WithDescription("API requests being served."),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		logger.Warn("failed to create inflight counter", zap.Error(err))
	}
	return m
}

// middleware records every request except Prometheus scrapes, which would
// otherwise dominate the counts of an idle server.
func (m *requestMetrics) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := routeOf(c)
			if route == "/metrics" {
				return next(c)
			}
			ctx := c.Request().Context()
			if m.inflight != nil {
				m.inflight.Add(ctx, 1)
				defer m.inflight.Add(ctx, -1)
			}

			start := time.Now()
			err := next(c)

			attrs := metric.WithAttributes(
				attribute.String("group", routeGroup(route)),
				attribute.String("route", route),
				attribute.String("method", c.Request().Method),
				attribute.String("status_class", statusClass(c.Response().Status)),
				attribute.String("collection", collectionOf(c)),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.latency != nil {
				m.latency.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			return err
		}
	}
}

// routeOf returns the registered pattern (/api/v1/emails/:collection/:id)
// so raw email ids never become attribute values.
func routeOf(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return "unmatched"
}

func routeGroup(route string) string {
	switch {
	case route == "/health":
		return "health"
	case strings.HasPrefix(route, "/api/v1/search"):
		return "search"
	case strings.HasPrefix(route, "/api/v1/sync"):
		return "sync"
	case strings.HasPrefix(route, "/api/v1/emails"):
		return "email"
	case strings.HasPrefix(route, "/api/v1/collections"):
		return "collections"
	default:
		return "other"
	}
}

func collectionOf(c echo.Context) string {
	if name := c.Param("collection"); name != "" {
		return name
	}
	return c.Param("name")
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "other"
	}
}
