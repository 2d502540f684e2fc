package vectorstore

import (
	"context"
	"errors"
)

var (
	// ErrIndexUnavailable wraps every failure reported by a backend.
	ErrIndexUnavailable = errors.New("vector index unavailable")

	// ErrCollectionNotFound indicates the named collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrDimensionMismatch indicates a vector whose length differs from the
	// collection's embedding dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrInvalidCollectionName indicates a malformed collection name.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrInvalidConfig indicates invalid backend configuration.
	ErrInvalidConfig = errors.New("invalid vector store configuration")

	// ErrEmbeddingAbsent is returned when a query has no usable vector.
	ErrEmbeddingAbsent = errors.New("query embedding absent")
)

// Collection metadata keys. model_id and embedding_dimension are immutable
// for the lifetime of a collection.
const (
	MetaModelID   = "model_id"
	MetaDimension = "embedding_dimension"
	MetaProvider  = "provider"
	MetaModelName = "model_name"
	MetaSpace     = "hnsw:space"
)

// Distance spaces.
const (
	SpaceCosine = "cosine"
	SpaceL2     = "l2"
	SpaceIP     = "ip"
)

// Point is one record written to a backend.
type Point struct {
	ID       string
	Vector   []float32
	Metadata map[string]string
	Document string
}

// Match is one nearest-neighbor result. Distance is in the collection's
// space; for cosine it is 1 - similarity.
type Match struct {
	ID       string
	Distance float32
	Metadata map[string]string
	Document string
}

// Backend is the narrow adapter over a vector engine. Implementations do
// not interpret metadata; all email semantics live in Index and Collection.
type Backend interface {
	// Name identifies the engine in logs ("chromem", "qdrant").
	Name() string

	// CreateCollection creates a collection. Creating an existing
	// collection is a no-op.
	CreateCollection(ctx context.Context, name string, meta map[string]string, dimension int) error

	// CollectionMeta returns the stored metadata of a collection; ok is
	// false when it does not exist.
	CollectionMeta(ctx context.Context, name string) (meta map[string]string, ok bool, err error)

	ListCollections(ctx context.Context) ([]string, error)
	DeleteCollection(ctx context.Context, name string) error
	Count(ctx context.Context, name string) (int, error)

	// Existing returns the subset of ids already stored.
	Existing(ctx context.Context, name string, ids []string) (map[string]bool, error)

	// Insert upserts points by id.
	Insert(ctx context.Context, name string, points []Point) error

	// Query returns the k nearest points ordered by ascending distance.
	// Callers guarantee 0 < k <= Count.
	Query(ctx context.Context, name string, vector []float32, k int) ([]Match, error)

	// Get returns the point stored under id, or nil when absent.
	Get(ctx context.Context, name, id string) (*Point, error)

	Close() error
}
