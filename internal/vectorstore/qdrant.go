package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

var qdrantTracer = otel.Tracer("mailindex.vectorstore.qdrant")

// pointNamespace derives Qdrant point ids from email ids, which are not
// UUIDs. The email id itself is kept in the payload.
var pointNamespace = uuid.MustParse("b7e0c1d2-5a4f-5e3b-8c9d-0a1b2c3d4e5f")

// Payload keys reserved by the backend.
const (
	payloadEmailID  = "email_id"
	payloadDocument = "document"
)

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname. Default: "localhost".
	Host string

	// Port is the gRPC port (NOT the 6333 REST port). Default: 6334.
	Port int

	APIKey string
	UseTLS bool

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB, large enough for a full insert batch of long bodies.
	MaxMessageSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	return nil
}

// QdrantBackend stores collections in a Qdrant server over native gRPC.
// Collection metadata is kept in Qdrant's own collection metadata.
type QdrantBackend struct {
	client *qdrant.Client
	logger *zap.Logger
}

// NewQdrantBackend connects to Qdrant and performs a health check.
func NewQdrantBackend(ctx context.Context, cfg QdrantConfig, logger *zap.Logger) (*QdrantBackend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.UseTLS {
		logger.Warn("qdrant gRPC using plaintext (TLS disabled)", zap.String("host", cfg.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to qdrant: %v", ErrIndexUnavailable, err)
	}

	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(hctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: qdrant health check: %v", ErrIndexUnavailable, err)
	}

	logger.Info("qdrant backend connected", zap.String("host", cfg.Host), zap.Int("port", cfg.Port))
	return &QdrantBackend{client: client, logger: logger}, nil
}

// Name implements Backend.
func (b *QdrantBackend) Name() string { return "qdrant" }

// PointID returns the Qdrant point id used for an email id.
func PointID(emailID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(emailID)).String()
}

func qdrantDistance(space string) qdrant.Distance {
	switch space {
	case SpaceL2:
		return qdrant.Distance_Euclid
	case SpaceIP:
		return qdrant.Distance_Dot
	default:
		return qdrant.Distance_Cosine
	}
}

// CreateCollection implements Backend.
func (b *QdrantBackend) CreateCollection(ctx context.Context, name string, meta map[string]string, dimension int) error {
	ctx, span := qdrantTracer.Start(ctx, "qdrant.CreateCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name), attribute.Int("dimension", dimension))

	exists, err := b.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", name, err)
	}
	if exists {
		return nil
	}

	values := make(map[string]any, len(meta))
	for k, v := range meta {
		values[k] = v
	}
	err = b.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrantDistance(meta[MetaSpace]),
		}),
		Metadata: qdrant.NewValueMap(values),
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("creating collection %s: %w", name, err)
	}
	return nil
}

// CollectionMeta implements Backend.
func (b *QdrantBackend) CollectionMeta(ctx context.Context, name string) (map[string]string, bool, error) {
	exists, err := b.client.CollectionExists(ctx, name)
	if err != nil {
		return nil, false, fmt.Errorf("checking collection %s: %w", name, err)
	}
	if !exists {
		return nil, false, nil
	}
	info, err := b.client.GetCollectionInfo(ctx, name)
	if err != nil {
		return nil, true, fmt.Errorf("reading collection %s: %w", name, err)
	}
	meta := make(map[string]string)
	for k, v := range info.GetConfig().GetMetadata() {
		meta[k] = v.GetStringValue()
	}
	if _, ok := meta[MetaDimension]; !ok {
		if size := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize(); size > 0 {
			meta[MetaDimension] = fmt.Sprint(size)
		}
	}
	return meta, true, nil
}

// ListCollections implements Backend.
func (b *QdrantBackend) ListCollections(ctx context.Context) ([]string, error) {
	names, err := b.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	return names, nil
}

// DeleteCollection implements Backend.
func (b *QdrantBackend) DeleteCollection(ctx context.Context, name string) error {
	if err := b.client.DeleteCollection(ctx, name); err != nil {
		return fmt.Errorf("deleting collection %s: %w", name, err)
	}
	return nil
}

// Count implements Backend.
func (b *QdrantBackend) Count(ctx context.Context, name string) (int, error) {
	n, err := b.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: name,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", name, err)
	}
	return int(n), nil
}

// Existing implements Backend.
func (b *QdrantBackend) Existing(ctx context.Context, name string, ids []string) (map[string]bool, error) {
	if len(ids) == 0 {
		return map[string]bool{}, nil
	}
	byPoint := make(map[string]string, len(ids))
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pid := PointID(id)
		byPoint[pid] = id
		pointIDs[i] = qdrant.NewIDUUID(pid)
	}
	points, err := b.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: name,
		Ids:            pointIDs,
		WithPayload:    qdrant.NewWithPayload(false),
	})
	if err != nil {
		return nil, fmt.Errorf("checking existing ids: %w", err)
	}
	found := make(map[string]bool, len(points))
	for _, p := range points {
		if id, ok := byPoint[p.GetId().GetUuid()]; ok {
			found[id] = true
		}
	}
	return found, nil
}

// Insert implements Backend.
func (b *QdrantBackend) Insert(ctx context.Context, name string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	ctx, span := qdrantTracer.Start(ctx, "qdrant.Insert")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name), attribute.Int("points", len(points)))

	structs := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		payload := make(map[string]*qdrant.Value, len(p.Metadata)+2)
		for k, v := range p.Metadata {
			payload[k] = qdrant.NewValueString(v)
		}
		payload[payloadEmailID] = qdrant.NewValueString(p.ID)
		payload[payloadDocument] = qdrant.NewValueString(p.Document)

		structs[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(p.ID)),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: payload,
		}
	}

	_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: name,
		Wait:           qdrant.PtrOf(true),
		Points:         structs,
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("upserting points: %w", err)
	}
	return nil
}

// Query implements Backend. Qdrant scores are similarities; they are
// reported as distances so both backends order results the same way.
func (b *QdrantBackend) Query(ctx context.Context, name string, vector []float32, k int) ([]Match, error) {
	ctx, span := qdrantTracer.Start(ctx, "qdrant.Query")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name), attribute.Int("k", k))

	res, err := b.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("querying: %w", err)
	}
	matches := make([]Match, len(res))
	for i, p := range res {
		id, meta, doc := splitPayload(p.GetPayload())
		matches[i] = Match{ID: id, Distance: 1 - p.GetScore(), Metadata: meta, Document: doc}
	}
	return matches, nil
}

// Get implements Backend.
func (b *QdrantBackend) Get(ctx context.Context, name, id string) (*Point, error) {
	points, err := b.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: name,
		Ids:            []*qdrant.PointId{qdrant.NewIDUUID(PointID(id))},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("getting %s: %w", id, err)
	}
	if len(points) == 0 {
		return nil, nil
	}
	storedID, meta, doc := splitPayload(points[0].GetPayload())
	if storedID == "" {
		storedID = id
	}
	return &Point{ID: storedID, Metadata: meta, Document: doc}, nil
}

func splitPayload(payload map[string]*qdrant.Value) (id string, meta map[string]string, doc string) {
	meta = make(map[string]string, len(payload))
	for k, v := range payload {
		switch k {
		case payloadEmailID:
			id = v.GetStringValue()
		case payloadDocument:
			doc = v.GetStringValue()
		default:
			meta[k] = v.GetStringValue()
		}
	}
	return id, meta, doc
}

// Close closes the gRPC connection.
func (b *QdrantBackend) Close() error {
	if b.client != nil {
		return b.client.Close()
	}
	return nil
}
