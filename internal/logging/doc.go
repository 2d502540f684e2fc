// Package logging provides structured logging with OpenTelemetry integration.
//
// The package wraps Zap with:
//   - a custom Trace level (-2, below Debug)
//   - stdout, stderr and OpenTelemetry outputs
//   - context field injection (trace_id, collection, run.id, request.id)
//   - secret redaction, plus masking of mailbox addresses
//   - per-level sampling (errors never sampled)
//
// Create a logger from config:
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, otelProvider)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
// Log with context:
//
//	ctx = logging.WithCollection(ctx, "emails_ollama_nomic_embed_text")
//	ctx = logging.WithRunID(ctx, runID)
//	logger.Info(ctx, "sync finished", zap.Int("inserted", n))
//
// Library packages (embeddings, vectorstore, ingest) take a plain *zap.Logger;
// pass Logger.Underlying() to them.
//
// Use TestLogger for assertions:
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "test message", zap.String("key", "value"))
//	tl.AssertLogged(t, zapcore.InfoLevel, "test message")
//	tl.AssertNoSecrets(t)
package logging
