package vectorstore

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mailindex/internal/mail"
	"github.com/fyrsmithlabs/mailindex/pkg/collections"
)

// DedupBatchSize bounds both the existence checks and the inserts of Add.
const DedupBatchSize = 100

var tracer = otel.Tracer("mailindex.vectorstore")

// timeNow is replaced in tests.
var timeNow = time.Now

// Collection is a handle on one per-model collection.
type Collection struct {
	ix        *Index
	name      string
	modelID   collections.ModelIdentity
	provider  string
	modelName string
	dim       int
	space     string
	meta      map[string]string
}

func (c *Collection) Name() string                       { return c.name }
func (c *Collection) ModelID() collections.ModelIdentity { return c.modelID }
func (c *Collection) Provider() string                   { return c.provider }
func (c *Collection) ModelName() string                  { return c.modelName }
func (c *Collection) Dimension() int                     { return c.dim }
func (c *Collection) Space() string                      { return c.space }

// Entry pairs an email with its embedding. A nil Vector marks an email
// whose embedding failed.
type Entry struct {
	Email  *mail.Email
	Vector []float32
}

// degenerate reports whether v cannot be normalized: it is all zeros or
// holds a NaN or infinite component.
func degenerate(v []float32) bool {
	var norm float64
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return true
		}
		norm += f * f
	}
	return norm == 0
}

// AddResult tallies one Add call.
type AddResult struct {
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
	Absent   int `json:"absent"`
}

// Add stores the entries whose ids are not yet in the collection.
//
// Entries without a vector, or with a degenerate one, are counted as
// Absent and never written. A vector of the wrong length fails the whole call with ErrDimensionMismatch
// before anything is written. Repeating a call with the same entries
// inserts nothing.
func (c *Collection) Add(ctx context.Context, entries []Entry) (AddResult, error) {
	ctx, span := tracer.Start(ctx, "Collection.Add")
	defer span.End()
	span.SetAttributes(attribute.String("collection", c.name), attribute.Int("entries", len(entries)))

	var res AddResult
	points := make([]Point, 0, len(entries))
	seen := make(map[string]bool, len(entries))

	for _, e := range entries {
		if e.Email == nil {
			continue
		}
		if e.Vector == nil {
			res.Absent++
			continue
		}
		if len(e.Vector) != c.dim {
			err := fmt.Errorf("%w: email %s has %d dimensions, collection %s expects %d",
				ErrDimensionMismatch, e.Email.ID, len(e.Vector), c.name, c.dim)
			span.RecordError(err)
			span.SetStatus(codes.Error, "dimension mismatch")
			return AddResult{}, err
		}
		if degenerate(e.Vector) {
			c.ix.logger.Warn("dropping degenerate embedding",
				zap.String("collection", c.name), zap.String("email_id", e.Email.ID))
			res.Absent++
			continue
		}
		if seen[e.Email.ID] {
			res.Skipped++
			continue
		}
		seen[e.Email.ID] = true
		points = append(points, Point{
			ID:       e.Email.ID,
			Vector:   e.Vector,
			Metadata: e.Email.Metadata(),
			Document: e.Email.ContentForEmbedding(),
		})
	}
	if len(points) == 0 {
		c.ix.metrics.RecordAdd(ctx, c.name, res)
		return res, nil
	}

	before, err := c.ix.backend.Count(ctx, c.name)
	if err != nil {
		return res, c.ix.unavailable(ctx, c.name, "count", err)
	}

	checkFailed := false
	for start := 0; start < len(points); start += DedupBatchSize {
		batch := points[start:min(start+DedupBatchSize, len(points))]

		ids := make([]string, len(batch))
		for i, p := range batch {
			ids[i] = p.ID
		}
		existing, err := c.ix.backend.Existing(ctx, c.name, ids)
		if err != nil {
			c.ix.logger.Warn("existence check failed, inserting batch unfiltered",
				zap.String("collection", c.name),
				zap.Int("batch", len(batch)),
				zap.Error(err),
			)
			existing = nil
			checkFailed = true
		}

		fresh := make([]Point, 0, len(batch))
		for _, p := range batch {
			if existing[p.ID] {
				res.Skipped++
				continue
			}
			fresh = append(fresh, p)
		}
		if len(fresh) == 0 {
			continue
		}
		if err := c.ix.backend.Insert(ctx, c.name, fresh); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "insert failed")
			return res, c.ix.unavailable(ctx, c.name, "insert", err)
		}
		res.Inserted += len(fresh)
	}

	if checkFailed {
		after, err := c.ix.backend.Count(ctx, c.name)
		if err != nil {
			return res, c.ix.unavailable(ctx, c.name, "count", err)
		}
		total := res.Inserted + res.Skipped
		res.Inserted = max(after-before, 0)
		res.Skipped = total - res.Inserted
	}

	span.SetAttributes(
		attribute.Int("inserted", res.Inserted),
		attribute.Int("skipped", res.Skipped),
		attribute.Int("absent", res.Absent),
	)
	c.ix.metrics.RecordAdd(ctx, c.name, res)
	c.ix.logger.Info("added emails",
		zap.String("collection", c.name),
		zap.Int("inserted", res.Inserted),
		zap.Int("skipped", res.Skipped),
		zap.Int("absent", res.Absent),
	)
	return res, nil
}

// Hit is one search result.
type Hit struct {
	ID       string
	Distance float32
	Metadata map[string]string
	Document string
}

// Search returns up to k nearest emails, closest first. k is clamped to the
// member count; k <= 0 or an empty collection yields no hits. A nil, all-zero
// or non-finite query fails with ErrEmbeddingAbsent.
func (c *Collection) Search(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	ctx, span := tracer.Start(ctx, "Collection.Search")
	defer span.End()
	span.SetAttributes(attribute.String("collection", c.name), attribute.Int("k", k))

	if vector == nil {
		return nil, ErrEmbeddingAbsent
	}
	if len(vector) != c.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection %s expects %d",
			ErrDimensionMismatch, len(vector), c.name, c.dim)
	}
	if degenerate(vector) {
		return nil, fmt.Errorf("%w: degenerate query vector", ErrEmbeddingAbsent)
	}
	if k <= 0 {
		return []Hit{}, nil
	}

	count, err := c.ix.backend.Count(ctx, c.name)
	if err != nil {
		return nil, c.ix.unavailable(ctx, c.name, "count", err)
	}
	if count == 0 {
		return []Hit{}, nil
	}
	k = min(k, count)

	start := time.Now()
	matches, err := c.ix.backend.Query(ctx, c.name, vector, k)
	c.ix.metrics.RecordSearch(ctx, c.name, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return nil, c.ix.unavailable(ctx, c.name, "search", err)
	}

	hits := make([]Hit, len(matches))
	for i, m := range matches {
		hits[i] = Hit(m)
	}
	span.SetAttributes(attribute.Int("results", len(hits)))
	return hits, nil
}

// GetByID returns the stored email, or nil when the id is not present.
func (c *Collection) GetByID(ctx context.Context, id string) (*mail.Email, error) {
	p, err := c.ix.backend.Get(ctx, c.name, id)
	if err != nil {
		return nil, c.ix.unavailable(ctx, c.name, "get", err)
	}
	if p == nil {
		return nil, nil
	}
	return mail.FromMetadata(p.ID, p.Metadata, p.Document)
}

// Count returns the member count.
func (c *Collection) Count(ctx context.Context) (int, error) {
	n, err := c.ix.backend.Count(ctx, c.name)
	if err != nil {
		return 0, c.ix.unavailable(ctx, c.name, "count", err)
	}
	return n, nil
}

// Contains reports which of ids are stored, checking DedupBatchSize ids per
// backend call.
func (c *Collection) Contains(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	for start := 0; start < len(ids); start += DedupBatchSize {
		batch := ids[start:min(start+DedupBatchSize, len(ids))]
		existing, err := c.ix.backend.Existing(ctx, c.name, batch)
		if err != nil {
			return nil, c.ix.unavailable(ctx, c.name, "existing", err)
		}
		for id, ok := range existing {
			if ok {
				out[id] = true
			}
		}
	}
	return out, nil
}

func (c *Collection) syncPath() string {
	return SyncStatePath(c.ix.root, c.name)
}

// MarkSynced records now as the sync watermark. The watermark never moves
// backwards.
func (c *Collection) MarkSynced(context.Context) error {
	now := timeNow()
	prev, ok, err := ReadSyncState(c.syncPath())
	if err != nil {
		c.ix.logger.Warn("unreadable sync state, overwriting",
			zap.String("collection", c.name), zap.Error(err))
	}
	if ok && prev.LastSyncDate.After(now) {
		now = prev.LastSyncDate
	}
	return WriteSyncState(c.syncPath(), SyncState{
		LastSyncDate:   now,
		CollectionName: c.name,
		ModelID:        c.modelID.String(),
	})
}

// SyncWatermark returns the last sync time; ok is false if never synced.
func (c *Collection) SyncWatermark() (time.Time, bool, error) {
	st, ok, err := ReadSyncState(c.syncPath())
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	return st.LastSyncDate, true, nil
}

// Stats describes a collection.
type Stats struct {
	CollectionInfo
}

// Stats returns the collection's metadata, member count and watermark. An
// unreadable sync file is logged and reported as never synced.
func (c *Collection) Stats(ctx context.Context) (Stats, error) {
	n, err := c.Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	last, _, err := c.SyncWatermark()
	if err != nil {
		c.ix.logger.Warn("unreadable sync state", zap.String("collection", c.name), zap.Error(err))
	}
	return Stats{CollectionInfo{
		Name:        c.name,
		ModelID:     c.modelID.String(),
		Provider:    c.provider,
		ModelName:   c.modelName,
		Dimension:   c.dim,
		Space:       c.space,
		MemberCount: n,
		LastSync:    last,
	}}, nil
}

// Clear empties the collection, keeping its metadata, and forgets the sync
// watermark so the next sync starts from scratch.
func (c *Collection) Clear(ctx context.Context) error {
	meta := make(map[string]string, len(c.meta)+5)
	for k, v := range c.meta {
		meta[k] = v
	}
	meta[MetaModelID] = c.modelID.String()
	meta[MetaDimension] = fmt.Sprint(c.dim)
	meta[MetaSpace] = c.space
	if c.provider != "" {
		meta[MetaProvider] = c.provider
	}
	if c.modelName != "" {
		meta[MetaModelName] = c.modelName
	}

	if err := c.ix.backend.DeleteCollection(ctx, c.name); err != nil {
		return c.ix.unavailable(ctx, c.name, "clear", err)
	}
	if err := c.ix.backend.CreateCollection(ctx, c.name, meta, c.dim); err != nil {
		return c.ix.unavailable(ctx, c.name, "clear", err)
	}
	c.meta = meta
	if err := RemoveSyncState(c.syncPath()); err != nil {
		return err
	}
	c.ix.logger.Info("cleared collection", zap.String("collection", c.name))
	return nil
}
