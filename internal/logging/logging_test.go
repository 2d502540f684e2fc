package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/mailindex/internal/config"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "bad format", mutate: func(c *Config) { c.Format = "xml" }, wantErr: "format"},
		{name: "no outputs", mutate: func(c *Config) { c.Output = OutputConfig{} }, wantErr: "at least one output"},
		{name: "zero tick", mutate: func(c *Config) { c.Sampling.Tick = 0 }, wantErr: "sampling tick"},
		{name: "bad pattern", mutate: func(c *Config) { c.Redaction.Patterns = []string{"("} }, wantErr: "invalid redaction pattern"},
		{name: "empty field value", mutate: func(c *Config) { c.Fields["env"] = "" }, wantErr: "empty value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLevelFromString(t *testing.T) {
	lvl, err := LevelFromString("TRACE")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, lvl)

	lvl, err = LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	_, err = LevelFromString("loud")
	assert.Error(t, err)
}

func TestContextFields(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))

	ctx := WithCollection(context.Background(), "emails_ollama_all_minilm")
	ctx = WithRunID(ctx, "run-1")
	ctx = WithRequestID(ctx, "req_42")

	fields := ContextFields(ctx)
	got := map[string]string{}
	for _, f := range fields {
		got[f.Key] = f.String
	}
	assert.Equal(t, map[string]string{
		"collection": "emails_ollama_all_minilm",
		"run.id":     "run-1",
		"request.id": "req_42",
	}, got)
}

func TestContextFields_TraceCorrelation(t *testing.T) {
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithSyncer(tracetest.NewInMemoryExporter()),
	)
	ctx, span := provider.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	keys := map[string]bool{}
	for _, f := range ContextFields(ctx) {
		keys[f.Key] = true
	}
	assert.True(t, keys["trace_id"])
	assert.True(t, keys["span_id"])
	assert.True(t, keys["trace_sampled"])
}

func TestContextTags_DropInvalid(t *testing.T) {
	ctx := WithCollection(context.Background(), "")
	ctx = WithRunID(ctx, "has space")
	ctx = WithRequestID(ctx, strings.Repeat("a", maxTagLen+1))
	assert.Empty(t, ContextFields(ctx))

	ctx = WithRequestID(ctx, "7f3a:b1")
	assert.Equal(t, "7f3a:b1", RequestIDFromContext(ctx))
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Info(ctx, "via context")
	tl.AssertLogged(t, zapcore.InfoLevel, "via context")
}

func TestTestLogger_FieldsAndSecrets(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithCollection(context.Background(), "emails_openai_text_embedding_3_small")

	tl.Info(ctx, "batch embedded", zap.Int("count", 3))
	tl.Trace(ctx, "chunk detail")

	tl.AssertLogged(t, zapcore.InfoLevel, "batch embedded")
	tl.AssertLogged(t, TraceLevel, "chunk detail")
	tl.AssertField(t, "batch embedded", "count", int64(3))
	tl.AssertField(t, "batch embedded", "collection", "emails_openai_text_embedding_3_small")
	tl.AssertNoSecrets(t)
}

func TestRedactingEncoder(t *testing.T) {
	enc, err := NewRedactingEncoder(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	buf, err := enc.EncodeEntry(zapcore.Entry{Message: "request failed"}, []zapcore.Field{
		zap.String("api_key", "plain-value"),
		zap.String("error", "401 for key sk-abcdefghijklmnopqrstuv"),
		zap.String("host", "http://localhost:11434"),
		Secret("openai_key", config.Secret("sk-live-123")),
	})
	require.NoError(t, err)
	out := buf.String()

	assert.NotContains(t, out, "plain-value")
	assert.NotContains(t, out, "sk-abcdefghijklmnopqrstuv")
	assert.NotContains(t, out, "sk-live-123")
	assert.Contains(t, out, "401 for key [REDACTED:pattern]")
	assert.Contains(t, out, "http://localhost:11434")
}

func TestRedactingEncoder_Disabled(t *testing.T) {
	base := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	enc, err := NewRedactingEncoder(base, RedactionConfig{Enabled: false})
	require.NoError(t, err)

	buf, err := enc.EncodeEntry(zapcore.Entry{Message: "m"}, []zapcore.Field{zap.String("token", "abc")})
	require.NoError(t, err)
	assert.True(t, bytes.Contains(buf.Bytes(), []byte(`"token":"abc"`)))
}

func TestNewSampledCore(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	sampled := newSampledCore(core, SamplingConfig{
		Enabled: true,
		Tick:    config.Duration(time.Hour),
		Levels: map[zapcore.Level]LevelSamplingConfig{
			zapcore.InfoLevel:  {Initial: 5, Thereafter: 0},
			zapcore.DebugLevel: {Initial: 2, Thereafter: 0},
		},
	})
	logger := &Logger{zap: zap.New(sampled), config: NewDefaultConfig()}
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		logger.Info(ctx, "info")
		logger.Debug(ctx, "debug")
		logger.Warn(ctx, "warn")
		logger.Error(ctx, "error")
	}

	assert.Len(t, observed.FilterMessage("info").All(), 5)
	assert.Len(t, observed.FilterMessage("debug").All(), 2)
	assert.Len(t, observed.FilterMessage("warn").All(), 20, "unconfigured levels pass through")
	assert.Len(t, observed.FilterMessage("error").All(), 20, "errors are never sampled")
}

func TestNewSampledCore_Disabled(t *testing.T) {
	core, _ := observer.New(zapcore.InfoLevel)
	assert.Equal(t, core, newSampledCore(core, SamplingConfig{}))
}

func TestNewDualCore(t *testing.T) {
	cfg := NewDefaultConfig()
	core, err := newDualCore(cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, core)

	cfg.Output = OutputConfig{OTEL: true}
	_, err = newDualCore(cfg, nil)
	assert.ErrorContains(t, err, "at least one output")
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "yaml"
	_, err := NewLogger(cfg, nil)
	assert.ErrorContains(t, err, "invalid config")
}

func TestRedactingEncoder_Addresses(t *testing.T) {
	enc, err := NewRedactingEncoder(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	buf, err := enc.EncodeEntry(zapcore.Entry{Message: "skipped mail from bob@example.org"}, []zapcore.Field{
		zap.String("query", "invoices from alice.smith@mail.example.com"),
		zap.String("email_id", "<CAF1234@mail.gmail.com>"),
		zap.String("body", "hello"),
	})
	require.NoError(t, err)
	out := buf.String()

	assert.Contains(t, out, "b***@example.org")
	assert.Contains(t, out, "invoices from a***@mail.example.com")
	assert.Contains(t, out, "<CAF1234@mail.gmail.com>", "message ids are kept")
	assert.Contains(t, out, `"body":"[REDACTED]"`)
	assert.NotContains(t, out, "alice.smith")
}

func TestRedactingEncoder_WithFields(t *testing.T) {
	enc, err := NewRedactingEncoder(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	child := enc.Clone()
	child.AddString("token", "abc")
	child.AddString("mailbox", "carol@example.net")
	buf, err := child.EncodeEntry(zapcore.Entry{Message: "m"}, nil)
	require.NoError(t, err)

	assert.Contains(t, buf.String(), `"token":"[REDACTED]"`)
	assert.Contains(t, buf.String(), "c***@example.net")
}

func TestMaskAddresses(t *testing.T) {
	tests := []struct{ in, want string }{
		{"no address here", "no address here"},
		{"x@y", "x@y"},
		{"dave@example.com", "d***@example.com"},
		{"a@b.co and e.f+tag@sub.example.io", "a***@b.co and e***@sub.example.io"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, maskAddresses(tt.in), tt.in)
	}
}

func TestConsoleEncoder_TraceLevel(t *testing.T) {
	enc := newEncoder("console")
	buf, err := enc.EncodeEntry(zapcore.Entry{Level: TraceLevel, Message: "embedded chunk"}, nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "TRACE")
}

func TestConfig_ValidateJoinsErrors(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	cfg.Output = OutputConfig{}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "format")
	assert.Contains(t, err.Error(), "at least one output")
}
