package logging

import (
	"context"
	"regexp"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// tag is a correlation value carried in a context and added to every entry
// logged with that context.
type tag struct{ field string }

var (
	collectionTag = tag{"collection"}
	runTag        = tag{"run.id"}
	requestTag    = tag{"request.id"}

	// Order of the fields in an entry.
	tags = []tag{collectionTag, runTag, requestTag}
)

const maxTagLen = 128

var tagValue = regexp.MustCompile(`^[A-Za-z0-9_.:-]+$`)

// with stores v under t. Values that are empty, too long or contain other
// characters than [A-Za-z0-9_.:-] are dropped: request ids arrive from
// clients and must not break logging.
func (t tag) with(ctx context.Context, v string) context.Context {
	if len(v) > maxTagLen || !tagValue.MatchString(v) {
		return ctx
	}
	return context.WithValue(ctx, t, v)
}

func (t tag) from(ctx context.Context) string {
	v, _ := ctx.Value(t).(string)
	return v
}

// WithCollection tags ctx with the collection an operation targets.
func WithCollection(ctx context.Context, name string) context.Context {
	return collectionTag.with(ctx, name)
}

func CollectionFromContext(ctx context.Context) string { return collectionTag.from(ctx) }

// WithRunID tags ctx with a sync run id.
func WithRunID(ctx context.Context, runID string) context.Context {
	return runTag.with(ctx, runID)
}

func RunIDFromContext(ctx context.Context) string { return runTag.from(ctx) }

// WithRequestID tags ctx with the X-Request-ID of an HTTP request.
func WithRequestID(ctx context.Context, id string) context.Context {
	return requestTag.with(ctx, id)
}

func RequestIDFromContext(ctx context.Context) string { return requestTag.from(ctx) }

// ContextFields returns the trace ids and tags carried by ctx.
func ContextFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()))
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}
	for _, t := range tags {
		if v := t.from(ctx); v != "" {
			fields = append(fields, zap.String(t.field, v))
		}
	}
	return fields
}

type loggerKey struct{}

func WithLogger(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// FromContext returns the logger stored by WithLogger, or a no-op logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey{}).(*Logger); ok && l != nil {
		return l
	}
	return NewNop()
}
