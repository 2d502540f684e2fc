package vectorstore

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var chromemTracer = otel.Tracer("mailindex.vectorstore.chromem")

// errNoEmbedder backs the embedding func handed to chromem. Every document
// and query arrives with its vector, so the func is never expected to run.
var errNoEmbedder = errors.New("chromem: text embedding disabled, vectors must be supplied")

// noEmbed must be passed instead of nil: chromem substitutes its OpenAI
// embedder for a nil func.
func noEmbed(context.Context, string) ([]float32, error) {
	return nil, errNoEmbedder
}

// ChromemBackend stores collections in an embedded chromem-go database.
//
// chromem keeps collection metadata private, so a copy is kept in a small
// JSON catalog next to the sync state: <root>/metadata/<name>_meta.json.
type ChromemBackend struct {
	db      *chromem.DB
	metaDir string
	logger  *zap.Logger

	mu sync.Mutex
}

// NewChromemBackend wraps db. root is the storage root that also holds the
// metadata directory.
func NewChromemBackend(db *chromem.DB, root string, logger *zap.Logger) *ChromemBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromemBackend{
		db:      db,
		metaDir: filepath.Join(root, metadataDirName),
		logger:  logger,
	}
}

// Name implements Backend.
func (b *ChromemBackend) Name() string { return "chromem" }

func (b *ChromemBackend) collection(name string) *chromem.Collection {
	return b.db.GetCollection(name, noEmbed)
}

func (b *ChromemBackend) metaPath(name string) string {
	return filepath.Join(b.metaDir, name+"_meta.json")
}

// CreateCollection implements Backend.
func (b *ChromemBackend) CreateCollection(ctx context.Context, name string, meta map[string]string, dimension int) error {
	_, span := chromemTracer.Start(ctx, "chromem.CreateCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name), attribute.Int("dimension", dimension))

	b.mu.Lock()
	defer b.mu.Unlock()

	// chromem replaces an existing collection's in-memory state on create.
	if b.collection(name) != nil {
		return nil
	}
	if err := b.writeMeta(name, meta); err != nil {
		return err
	}
	if _, err := b.db.CreateCollection(name, meta, noEmbed); err != nil {
		if rmErr := os.Remove(b.metaPath(name)); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			b.logger.Warn("removing orphaned collection metadata",
				zap.String("collection", name), zap.Error(rmErr))
		}
		return fmt.Errorf("creating collection %s: %w", name, err)
	}
	b.logger.Debug("chromem collection created", zap.String("collection", name), zap.Int("dimension", dimension))
	return nil
}

func (b *ChromemBackend) writeMeta(name string, meta map[string]string) error {
	if err := os.MkdirAll(b.metaDir, 0o700); err != nil {
		return fmt.Errorf("creating metadata directory: %w", err)
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding collection metadata: %w", err)
	}
	return writeFileAtomic(b.metaPath(name), data)
}

// CollectionMeta implements Backend. A missing catalog entry is rebuilt
// from chromem's own copy of the metadata, falling back to the length of a
// stored vector for the dimension, and written back.
func (b *ChromemBackend) CollectionMeta(_ context.Context, name string) (map[string]string, bool, error) {
	if b.collection(name) == nil {
		return nil, false, nil
	}
	data, err := os.ReadFile(b.metaPath(name))
	if errors.Is(err, os.ErrNotExist) {
		meta, err := b.recoverMeta(name)
		return meta, true, err
	}
	if err != nil {
		return nil, true, fmt.Errorf("reading collection metadata: %w", err)
	}
	meta := map[string]string{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, true, fmt.Errorf("decoding collection metadata %s: %w", name, err)
	}
	return meta, true, nil
}

// chromemExport mirrors the gob layout of chromem.DB.ExportToWriter.
type chromemExport struct {
	Collections map[string]*exportedCollection
}

type exportedCollection struct {
	Name      string
	Metadata  map[string]string
	Documents map[string]*chromem.Document
}

func (b *ChromemBackend) recoverMeta(name string) (map[string]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var buf bytes.Buffer
	if err := b.db.ExportToWriter(&buf, false, "", name); err != nil {
		return nil, fmt.Errorf("exporting collection %s: %w", name, err)
	}
	var dump chromemExport
	if err := gob.NewDecoder(&buf).Decode(&dump); err != nil {
		return nil, fmt.Errorf("decoding collection %s: %w", name, err)
	}

	meta := map[string]string{}
	col := dump.Collections[name]
	if col == nil {
		return meta, nil
	}
	for k, v := range col.Metadata {
		meta[k] = v
	}
	if d, err := strconv.Atoi(meta[MetaDimension]); err != nil || d <= 0 {
		delete(meta, MetaDimension)
		for _, doc := range col.Documents {
			if doc != nil && len(doc.Embedding) > 0 {
				meta[MetaDimension] = strconv.Itoa(len(doc.Embedding))
				break
			}
		}
	}
	if len(meta) == 0 {
		return meta, nil
	}
	if err := b.writeMeta(name, meta); err != nil {
		return nil, err
	}
	b.logger.Warn("rebuilt missing collection metadata",
		zap.String("collection", name), zap.String("dimension", meta[MetaDimension]))
	return meta, nil
}

// WriteCollectionMeta replaces the catalog entry of an existing collection.
func (b *ChromemBackend) WriteCollectionMeta(_ context.Context, name string, meta map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.collection(name) == nil {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return b.writeMeta(name, meta)
}

// ListCollections implements Backend.
func (b *ChromemBackend) ListCollections(context.Context) ([]string, error) {
	cols := b.db.ListCollections()
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// DeleteCollection implements Backend.
func (b *ChromemBackend) DeleteCollection(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("deleting collection %s: %w", name, err)
	}
	if err := os.Remove(b.metaPath(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing collection metadata: %w", err)
	}
	return nil
}

// Count implements Backend.
func (b *ChromemBackend) Count(_ context.Context, name string) (int, error) {
	c := b.collection(name)
	if c == nil {
		return 0, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return c.Count(), nil
}

// Existing implements Backend.
func (b *ChromemBackend) Existing(ctx context.Context, name string, ids []string) (map[string]bool, error) {
	c := b.collection(name)
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	found := make(map[string]bool)
	for _, id := range ids {
		if _, err := c.GetByID(ctx, id); err == nil {
			found[id] = true
		}
	}
	return found, nil
}

// Insert implements Backend. chromem overwrites documents with an existing
// id. Documents are added one at a time, in order.
func (b *ChromemBackend) Insert(ctx context.Context, name string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	ctx, span := chromemTracer.Start(ctx, "chromem.Insert")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name), attribute.Int("points", len(points)))

	c := b.collection(name)
	if c == nil {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	docs := make([]chromem.Document, len(points))
	for i, p := range points {
		docs[i] = chromem.Document{
			ID:        p.ID,
			Metadata:  p.Metadata,
			Embedding: p.Vector,
			Content:   p.Document,
		}
	}
	if err := c.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		return fmt.Errorf("adding documents: %w", err)
	}
	return nil
}

// Query implements Backend.
func (b *ChromemBackend) Query(ctx context.Context, name string, vector []float32, k int) ([]Match, error) {
	ctx, span := chromemTracer.Start(ctx, "chromem.Query")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name), attribute.Int("k", k))

	c := b.collection(name)
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	res, err := c.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("querying: %w", err)
	}
	matches := make([]Match, len(res))
	for i, r := range res {
		matches[i] = Match{
			ID:       r.ID,
			Distance: 1 - r.Similarity,
			Metadata: r.Metadata,
			Document: r.Content,
		}
	}
	return matches, nil
}

// Get implements Backend.
func (b *ChromemBackend) Get(ctx context.Context, name, id string) (*Point, error) {
	c := b.collection(name)
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	doc, err := c.GetByID(ctx, id)
	if err != nil {
		return nil, nil
	}
	return &Point{ID: doc.ID, Vector: doc.Embedding, Metadata: doc.Metadata, Document: doc.Content}, nil
}

// Close implements Backend. The database itself belongs to Handles.
func (b *ChromemBackend) Close() error { return nil }
