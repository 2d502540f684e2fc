// Package vectorstore persists email embeddings in per-model collections.
//
// A Backend adapts one vector engine (chromem-go embedded, Qdrant remote).
// Index and Collection carry the semantics on top: one collection per
// embedding model named "emails_<model identity>", a fixed vector dimension
// per collection, id-based dedup on add, and a sync watermark file per
// collection under <root>/metadata.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mailindex/pkg/collections"
)

// Index is the registry of collections stored by one backend.
type Index struct {
	backend Backend
	root    string
	logger  *zap.Logger
	metrics *Metrics
}

// NewIndex wraps backend. root is the storage root holding the sync state
// files; it is required for both backends.
func NewIndex(backend Backend, root string, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{
		backend: backend,
		root:    root,
		logger:  logger,
		metrics: NewMetrics(logger),
	}
}

// Root returns the storage root.
func (ix *Index) Root() string { return ix.root }

// Backend returns the underlying engine adapter.
func (ix *Index) Backend() Backend { return ix.backend }

// Close releases the backend.
func (ix *Index) Close() error { return ix.backend.Close() }

// CollectionSpec describes the collection owned by one embedding model.
type CollectionSpec struct {
	ModelID   collections.ModelIdentity
	Provider  string
	ModelName string
	Dimension int
}

// Name derives the collection name from the model id.
func (s CollectionSpec) Name() string { return collections.Name(s.ModelID) }

func (s CollectionSpec) metadata() map[string]string {
	return map[string]string{
		MetaModelID:   s.ModelID.String(),
		MetaDimension: strconv.Itoa(s.Dimension),
		MetaProvider:  s.Provider,
		MetaModelName: s.ModelName,
		MetaSpace:     SpaceCosine,
	}
}

// CollectionInfo summarizes a stored collection.
type CollectionInfo struct {
	Name        string    `json:"name"`
	ModelID     string    `json:"model_id"`
	Provider    string    `json:"provider,omitempty"`
	ModelName   string    `json:"model_name,omitempty"`
	Dimension   int       `json:"embedding_dimension"`
	Space       string    `json:"space"`
	MemberCount int       `json:"member_count"`
	LastSync    time.Time `json:"last_sync_date,omitzero"`
}

// Synced reports whether the collection has a sync watermark.
func (ci CollectionInfo) Synced() bool { return !ci.LastSync.IsZero() }

func (ix *Index) unavailable(ctx context.Context, collection, op string, err error) error {
	ix.metrics.RecordError(ctx, collection, op)
	if errors.Is(err, ErrCollectionNotFound) {
		return err
	}
	return fmt.Errorf("%w: %s %s: %v", ErrIndexUnavailable, op, collection, err)
}

// OpenCollection returns the collection for spec, creating it when missing.
// An existing collection built with a different dimension is rejected.
func (ix *Index) OpenCollection(ctx context.Context, spec CollectionSpec) (*Collection, error) {
	name := spec.Name()
	if err := collections.ValidateName(name); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCollectionName, err)
	}
	if spec.Dimension <= 0 {
		return nil, fmt.Errorf("%w: collection %s needs a positive dimension", ErrInvalidConfig, name)
	}

	meta, ok, err := ix.backend.CollectionMeta(ctx, name)
	if err != nil {
		return nil, ix.unavailable(ctx, name, "open", err)
	}
	if ok {
		c := ix.fromMeta(name, meta)
		if c.dim == 0 {
			ix.logger.Warn("collection has no stored dimension, adopting the model's",
				zap.String("collection", name), zap.Int("dimension", spec.Dimension))
			if c, err = ix.adoptDimension(ctx, spec, meta); err != nil {
				return nil, err
			}
		}
		if c.dim != spec.Dimension {
			return nil, fmt.Errorf("%w: collection %s stores %d-dimensional vectors, model %s produces %d",
				ErrDimensionMismatch, name, c.dim, spec.ModelID, spec.Dimension)
		}
		return c, nil
	}

	meta = spec.metadata()
	if err := ix.backend.CreateCollection(ctx, name, meta, spec.Dimension); err != nil {
		return nil, ix.unavailable(ctx, name, "create", err)
	}
	ix.logger.Info("created collection",
		zap.String("collection", name),
		zap.String("model_id", spec.ModelID.String()),
		zap.Int("dimension", spec.Dimension),
		zap.String("backend", ix.backend.Name()),
	)
	return ix.fromMeta(name, meta), nil
}

// metaWriter is implemented by backends whose collection metadata can be
// rewritten after creation.
type metaWriter interface {
	WriteCollectionMeta(ctx context.Context, name string, meta map[string]string) error
}

// adoptDimension records spec's dimension on a collection whose metadata
// lacks one. Other stored keys are kept.
func (ix *Index) adoptDimension(ctx context.Context, spec CollectionSpec, stored map[string]string) (*Collection, error) {
	name := spec.Name()
	meta := spec.metadata()
	for k, v := range stored {
		if k != MetaDimension && v != "" {
			meta[k] = v
		}
	}
	meta[MetaDimension] = strconv.Itoa(spec.Dimension)
	if w, ok := ix.backend.(metaWriter); ok {
		if err := w.WriteCollectionMeta(ctx, name, meta); err != nil {
			return nil, ix.unavailable(ctx, name, "open", err)
		}
	}
	return ix.fromMeta(name, meta), nil
}

// Collection returns an existing collection by name.
func (ix *Index) Collection(ctx context.Context, name string) (*Collection, error) {
	if err := collections.ValidateName(name); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCollectionName, err)
	}
	meta, ok, err := ix.backend.CollectionMeta(ctx, name)
	if err != nil {
		return nil, ix.unavailable(ctx, name, "open", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return ix.fromMeta(name, meta), nil
}

// fromMeta builds a handle, deriving the model id from the name when the
// stored metadata lacks it.
func (ix *Index) fromMeta(name string, meta map[string]string) *Collection {
	c := &Collection{
		ix:        ix,
		name:      name,
		modelID:   collections.ModelIdentity(meta[MetaModelID]),
		provider:  meta[MetaProvider],
		modelName: meta[MetaModelName],
		space:     meta[MetaSpace],
		meta:      meta,
	}
	if c.modelID == "" {
		if id, err := collections.ParseName(name); err == nil {
			c.modelID = id
		}
	}
	if c.provider == "" {
		c.provider = c.modelID.Provider()
	}
	if c.space == "" {
		c.space = SpaceCosine
	}
	if d, err := strconv.Atoi(meta[MetaDimension]); err == nil && d > 0 {
		c.dim = d
	}
	return c
}

// ListCollections enumerates every collection with its metadata, member
// count and sync watermark, sorted by name.
func (ix *Index) ListCollections(ctx context.Context) ([]CollectionInfo, error) {
	names, err := ix.backend.ListCollections(ctx)
	if err != nil {
		return nil, ix.unavailable(ctx, "", "list", err)
	}
	sort.Strings(names)

	infos := make([]CollectionInfo, 0, len(names))
	for _, name := range names {
		meta, ok, err := ix.backend.CollectionMeta(ctx, name)
		if err != nil {
			return nil, ix.unavailable(ctx, name, "list", err)
		}
		if !ok {
			continue
		}
		c := ix.fromMeta(name, meta)
		st, err := c.Stats(ctx)
		if err != nil {
			return nil, err
		}
		infos = append(infos, st.CollectionInfo)
	}
	return infos, nil
}

// DeleteCollection drops a collection and its sync state.
func (ix *Index) DeleteCollection(ctx context.Context, name string) error {
	if _, err := ix.Collection(ctx, name); err != nil {
		return err
	}
	if err := ix.backend.DeleteCollection(ctx, name); err != nil {
		return ix.unavailable(ctx, name, "delete", err)
	}
	if err := RemoveSyncState(SyncStatePath(ix.root, name)); err != nil {
		return err
	}
	ix.logger.Info("deleted collection", zap.String("collection", name))
	return nil
}
