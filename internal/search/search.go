// Package search answers natural-language queries against one collection.
package search

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mailindex/internal/embeddings"
	"github.com/fyrsmithlabs/mailindex/internal/mail"
	"github.com/fyrsmithlabs/mailindex/internal/vectorstore"
)

var tracer = otel.Tracer("mailindex.search")

// DefaultK is the result count used when the caller passes k <= 0 through
// a surface that allows omitting it.
const DefaultK = 10

// Result is one ranked email.
type Result struct {
	Email    *mail.Email `json:"email"`
	Score    float64     `json:"score"`
	Distance float64     `json:"distance"`
}

// ScoreForSpace maps a distance to a similarity where higher is better.
func ScoreForSpace(space string, distance float32) float64 {
	d := float64(distance)
	switch space {
	case vectorstore.SpaceL2:
		return 1 / (1 + d)
	default:
		return 1 - d
	}
}

// Engine pairs a collection with the provider that populated it.
type Engine struct {
	coll     *vectorstore.Collection
	provider embeddings.Provider
	logger   *zap.Logger
}

// New returns an Engine. provider must produce vectors of coll's dimension.
func New(coll *vectorstore.Collection, provider embeddings.Provider, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{coll: coll, provider: provider, logger: logger}
}

// Collection returns the searched collection.
func (e *Engine) Collection() *vectorstore.Collection { return e.coll }

// Search returns up to k emails closest to query, best first. A query that
// cannot be embedded, or embeds to a degenerate vector, yields no results
// rather than an error.
func (e *Engine) Search(ctx context.Context, query string, k int) ([]Result, error) {
	ctx, span := tracer.Start(ctx, "Engine.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", e.coll.Name()),
		attribute.Int("k", k),
	)

	start := time.Now()
	vec, err := e.provider.Embed(ctx, query)
	if err != nil {
		e.logger.Warn("query embedding failed",
			zap.String("collection", e.coll.Name()),
			zap.Error(err),
		)
		return []Result{}, nil
	}

	hits, err := e.coll.Search(ctx, vec, k)
	if errors.Is(err, vectorstore.ErrEmbeddingAbsent) {
		e.logger.Warn("query embedding unusable",
			zap.String("collection", e.coll.Name()),
			zap.Error(err),
		)
		return []Result{}, nil
	}
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		email, err := mail.FromMetadata(h.ID, h.Metadata, h.Document)
		if err != nil {
			e.logger.Warn("skipping hit with unreadable metadata",
				zap.String("collection", e.coll.Name()),
				zap.String("id", h.ID),
				zap.Error(err),
			)
			continue
		}
		results = append(results, Result{
			Email:    email,
			Score:    ScoreForSpace(e.coll.Space(), h.Distance),
			Distance: float64(h.Distance),
		})
	}

	span.SetAttributes(attribute.Int("results", len(results)))
	e.logger.Debug("search complete",
		zap.String("collection", e.coll.Name()),
		zap.Int("results", len(results)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return results, nil
}
