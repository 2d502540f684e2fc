// Package ingest pulls messages from a mail source into a collection.
//
// A run lists message ids, skips the ones already stored, fetches and
// scrubs the rest, embeds them in batches and adds them to the collection.
// The sync watermark only moves when a run inserted something.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mailindex/internal/embeddings"
	"github.com/fyrsmithlabs/mailindex/internal/mail"
	"github.com/fyrsmithlabs/mailindex/internal/secrets"
	"github.com/fyrsmithlabs/mailindex/internal/vectorstore"
)

var tracer = otel.Tracer("mailindex.ingest")

// DefaultBatchSize is the number of messages fetched and embedded per step.
const DefaultBatchSize = 100

// Source is a mailbox.
type Source interface {
	// ListMessageIDs returns up to max ids matching query, newest first.
	ListMessageIDs(ctx context.Context, query string, max int) ([]string, error)
	FetchMessage(ctx context.Context, id string) (*mail.Email, error)
}

// Options controls one run.
type Options struct {
	// Query uses the source's search grammar (after:, from:, label: ...).
	Query      string
	MaxResults int

	// Incremental narrows Query to messages since the collection's
	// watermark, unless Query already carries an after: term.
	Incremental bool

	// Clear empties the collection first.
	Clear bool

	BatchSize int

	// Progress, when set, is called after each batch.
	Progress func(done, total int)
}

// Report tallies one run.
type Report struct {
	RunID      string `json:"run_id"`
	Collection string `json:"collection"`
	Query      string `json:"query"`

	Listed         int `json:"listed"`
	AlreadyIndexed int `json:"already_indexed"`
	Fetched        int `json:"fetched"`
	FetchFailed    int `json:"fetch_failed"`
	Redactions     int `json:"redactions"`

	vectorstore.AddResult

	Watermark time.Time     `json:"watermark,omitzero"`
	Advanced  bool          `json:"watermark_advanced"`
	Duration  time.Duration `json:"duration"`
}

// ErrSyncInProgress is returned when ctx ends while waiting for another run.
var ErrSyncInProgress = errors.New("another sync is running")

// Syncer runs syncs one at a time.
type Syncer struct {
	source   Source
	scrubber *secrets.Scrubber
	logger   *zap.Logger
	sem      chan struct{}
}

// NewSyncer returns a Syncer. A nil scrubber disables redaction.
func NewSyncer(source Source, scrubber *secrets.Scrubber, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{
		source:   source,
		scrubber: scrubber,
		logger:   logger,
		sem:      make(chan struct{}, 1),
	}
}

func (s *Syncer) acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrSyncInProgress, ctx.Err())
	}
}

func (s *Syncer) release() { <-s.sem }

// Run syncs the source into coll using provider, which must be the model
// coll was created for. Per-message fetch failures and failed embeddings
// are counted, not returned; source listing and index errors abort the run.
func (s *Syncer) Run(ctx context.Context, coll *vectorstore.Collection, provider embeddings.Provider, opts Options) (*Report, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	start := time.Now()
	report := &Report{RunID: uuid.NewString(), Collection: coll.Name()}
	logger := s.logger.With(zap.String("run_id", report.RunID), zap.String("collection", coll.Name()))

	ctx, span := tracer.Start(ctx, "Syncer.Run")
	defer span.End()
	span.SetAttributes(attribute.String("collection", coll.Name()), attribute.String("run_id", report.RunID))

	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}

	if opts.Clear {
		if err := coll.Clear(ctx); err != nil {
			return nil, err
		}
		logger.Info("collection cleared")
	}

	query, err := s.plan(coll, opts, logger)
	if err != nil {
		return nil, err
	}
	report.Query = query

	ids, err := s.source.ListMessageIDs(ctx, query, opts.MaxResults)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	report.Listed = len(ids)

	ids = s.dropStored(ctx, coll, ids, report, logger)
	logger.Info("sync planned",
		zap.String("query", query),
		zap.Int("listed", report.Listed),
		zap.Int("to_fetch", len(ids)),
	)

	for i := 0; i < len(ids); i += opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		batch := ids[i:min(i+opts.BatchSize, len(ids))]
		if err := s.syncBatch(ctx, coll, provider, batch, report, logger); err != nil {
			return report, err
		}
		if opts.Progress != nil {
			opts.Progress(i+len(batch), len(ids))
		}
	}

	if report.Inserted > 0 {
		if err := coll.MarkSynced(ctx); err != nil {
			return report, err
		}
		report.Advanced = true
	}
	if wm, ok, err := coll.SyncWatermark(); err == nil && ok {
		report.Watermark = wm
	}

	report.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int("inserted", report.Inserted),
		attribute.Int("skipped", report.Skipped),
		attribute.Int("absent", report.Absent),
	)
	logger.Info("sync complete",
		zap.Int("listed", report.Listed),
		zap.Int("fetched", report.Fetched),
		zap.Int("fetch_failed", report.FetchFailed),
		zap.Int("inserted", report.Inserted),
		zap.Int("skipped", report.Skipped),
		zap.Int("absent", report.Absent),
		zap.Int("redactions", report.Redactions),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// plan returns the source query for the run.
func (s *Syncer) plan(coll *vectorstore.Collection, opts Options, logger *zap.Logger) (string, error) {
	if !opts.Incremental || opts.Clear {
		return opts.Query, nil
	}
	wm, ok, err := coll.SyncWatermark()
	if err != nil {
		return "", err
	}
	if !ok {
		logger.Info("no previous sync, running full sync")
		return opts.Query, nil
	}
	q, err := mail.IncrementalQuery(opts.Query, wm)
	if err != nil {
		return "", err
	}
	return q, nil
}

// dropStored removes ids already in coll. If the check fails every id is
// kept, and Add deduplicates instead.
func (s *Syncer) dropStored(ctx context.Context, coll *vectorstore.Collection, ids []string, report *Report, logger *zap.Logger) []string {
	if len(ids) == 0 {
		return ids
	}
	stored, err := coll.Contains(ctx, ids)
	if err != nil {
		logger.Warn("could not check stored messages, fetching all", zap.Error(err))
		return ids
	}
	fresh := ids[:0:0]
	for _, id := range ids {
		if stored[id] {
			report.AlreadyIndexed++
			continue
		}
		fresh = append(fresh, id)
	}
	return fresh
}

func (s *Syncer) syncBatch(ctx context.Context, coll *vectorstore.Collection, provider embeddings.Provider, ids []string, report *Report, logger *zap.Logger) error {
	emails := make([]*mail.Email, 0, len(ids))
	for _, id := range ids {
		e, err := s.source.FetchMessage(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			report.FetchFailed++
			logger.Warn("fetch failed", zap.String("email_id", id), zap.Error(err))
			continue
		}
		report.Fetched++
		report.Redactions += s.scrubber.ScrubEmail(e).Redactions
		emails = append(emails, e)
	}
	if len(emails) == 0 {
		return nil
	}

	texts := make([]string, len(emails))
	for i, e := range emails {
		texts[i] = e.ContentForEmbedding()
	}
	vectors := provider.EmbedBatch(ctx, texts)

	entries := make([]vectorstore.Entry, len(emails))
	for i, e := range emails {
		var v []float32
		if i < len(vectors) {
			v = vectors[i]
		}
		entries[i] = vectorstore.Entry{Email: e, Vector: v}
	}

	res, err := coll.Add(ctx, entries)
	if err != nil {
		return err
	}
	report.Inserted += res.Inserted
	report.Skipped += res.Skipped
	report.Absent += res.Absent
	return nil
}
