package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/lawbranch/geogate/internal/embeddings"
)

var qdrantTracer = otel.Tracer("geogate.retrieval.qdrant")

// qdrantPayloadText is the payload key holding the chunk content.
const qdrantPayloadText = "text"

// qdrantPayloadChunkID preserves the original chunk ID. Qdrant point IDs
// must be UUIDs, so non-UUID chunk IDs live in the payload instead.
const qdrantPayloadChunkID = "chunk_id"

// QdrantConfig holds configuration for the qdrant gRPC backend.
type QdrantConfig struct {
	// Host is the qdrant server hostname or IP address.
	Host string

	// Port is the qdrant gRPC port (6334 by default, not the 6333 REST port).
	Port int

	// APIKey authenticates against a secured qdrant deployment. Optional.
	APIKey string

	// Collection is the corpus collection name.
	Collection string

	// UseTLS enables TLS encryption for the gRPC connection.
	UseTLS bool

	// VectorSize is the embedding dimensionality. Must match the provider.
	VectorSize uint64

	// MaxRetries is the maximum number of retry attempts for transient
	// failures. Default: 3.
	MaxRetries int

	// RetryBackoff is the initial backoff duration for retries, doubling
	// on each attempt. Default: 1 second.
	RetryBackoff time.Duration

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB, large enough for full-corpus indexing batches.
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
	if c.Collection == "" {
		c.Collection = "regulations"
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
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
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return ValidateCollectionName(c.Collection)
}

// IsTransientError reports whether a gRPC error is worth retrying.
// Network timeouts and temporary unavailability are transient; invalid
// arguments, missing collections, and auth failures are not.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	st, ok := status.FromError(err)
	if !ok {
		return false
	}

	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantBackend implements Service against an external qdrant server over
// native gRPC. The binary protobuf transport avoids the REST layer's payload
// limits, which matters when indexing a full regulation corpus in one run.
type QdrantBackend struct {
	client   *qdrant.Client
	provider embeddings.Provider
	config   QdrantConfig
	logger   *zap.Logger
}

// NewQdrantBackend connects to qdrant, health-checks the connection, and
// bootstraps the corpus collection if it does not exist yet.
func NewQdrantBackend(config QdrantConfig, provider embeddings.Provider, logger *zap.Logger) (*QdrantBackend, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: embeddings provider is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if !config.UseTLS {
		logger.Warn("qdrant gRPC using plaintext, enable TLS for production",
			zap.String("host", config.Host),
			zap.Int("port", config.Port),
		)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	backend := &QdrantBackend{
		client:   client,
		provider: provider,
		config:   config,
		logger:   logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := backend.healthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("health check failed: %w", err)
	}

	if err := backend.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("qdrant corpus backend ready",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("collection", config.Collection),
		zap.Uint64("vector_size", config.VectorSize),
	)

	return backend, nil
}

// healthCheck verifies the qdrant connection.
func (b *QdrantBackend) healthCheck(ctx context.Context) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantBackend.HealthCheck")
	defer span.End()

	if _, err := b.client.HealthCheck(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "healthy")
	return nil
}

// ensureCollection creates the corpus collection when missing.
func (b *QdrantBackend) ensureCollection(ctx context.Context) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantBackend.EnsureCollection")
	defer span.End()

	span.SetAttributes(attribute.String("collection", b.config.Collection))

	var exists bool
	err := b.retryOperation(ctx, "collection_exists", func() error {
		info, err := b.client.GetCollectionInfo(ctx, b.config.Collection)
		if err != nil {
			st, ok := status.FromError(err)
			if ok && st.Code() == grpccodes.NotFound {
				exists = false
				return nil
			}
			return err
		}
		exists = info != nil
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("checking collection %s: %w", b.config.Collection, err)
	}

	if exists {
		span.SetStatus(codes.Ok, "exists")
		return nil
	}

	err = b.retryOperation(ctx, "create_collection", func() error {
		return b.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: b.config.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     b.config.VectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("creating collection %s: %w", b.config.Collection, err)
	}

	b.logger.Info("created qdrant collection",
		zap.String("collection", b.config.Collection),
		zap.Uint64("vector_size", b.config.VectorSize),
	)

	span.SetStatus(codes.Ok, "created")
	return nil
}

// retryOperation retries an operation with exponential backoff. Only
// transient gRPC errors are retried.
func (b *QdrantBackend) retryOperation(ctx context.Context, operationName string, operation func() error) error {
	backoff := b.config.RetryBackoff

	for attempt := 0; attempt <= b.config.MaxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}

		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", operationName, err)
		}

		if attempt == b.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", operationName, b.config.MaxRetries, err)
		}

		b.logger.Debug("retrying qdrant operation",
			zap.String("operation", operationName),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", operationName, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}

// Index embeds and stores a batch of regulation chunks.
func (b *QdrantBackend) Index(ctx context.Context, docs []Document) ([]string, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantBackend.Index")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", b.config.Collection),
		attribute.Int("chunk_count", len(docs)),
	)

	if len(docs) == 0 {
		return nil, ErrNoDocuments
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Text
	}

	vectors, err := b.provider.EmbedDocuments(ctx, texts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	points := make([]*qdrant.PointStruct, len(docs))
	ids := make([]string, len(docs))

	for i, doc := range docs {
		chunkID := doc.ID
		if chunkID == "" {
			chunkID = fmt.Sprintf("chunk_%d_%d", timeNow().UnixNano(), i)
		}
		ids[i] = chunkID

		payload := make(map[string]*qdrant.Value, len(doc.Metadata)+2)
		payload[qdrantPayloadText] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: doc.Text}}
		payload[qdrantPayloadChunkID] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: chunkID}}
		for k, v := range doc.Metadata {
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
		}

		var pointID *qdrant.PointId
		if _, err := uuid.Parse(chunkID); err == nil {
			pointID = qdrant.NewIDUUID(chunkID)
		} else {
			pointID = qdrant.NewIDUUID(uuid.New().String())
		}

		points[i] = &qdrant.PointStruct{
			Id:      pointID,
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: payload,
		}
	}

	err = b.retryOperation(ctx, "upsert", func() error {
		_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: b.config.Collection,
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("upserting points to collection %s: %w", b.config.Collection, err)
	}

	span.SetAttributes(attribute.Int("chunks_added", len(ids)))
	span.SetStatus(codes.Ok, "success")

	b.logger.Debug("indexed regulation chunks",
		zap.String("collection", b.config.Collection),
		zap.Int("count", len(ids)),
	)

	return ids, nil
}

// Retrieve returns up to topK chunks closest to the query.
func (b *QdrantBackend) Retrieve(ctx context.Context, query string, topK int) ([]Snippet, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantBackend.Retrieve")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", b.config.Collection),
		attribute.Int("top_k", topK),
	)

	if query == "" {
		return nil, ErrEmptyQuery
	}
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}

	queryVector, err := b.provider.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	var results []*qdrant.ScoredPoint
	err = b.retryOperation(ctx, "query", func() error {
		res, err := b.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: b.config.Collection,
			Query:          qdrant.NewQuery(queryVector...),
			Limit:          qdrant.PtrOf(uint64(topK)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching collection %s: %w", b.config.Collection, err)
	}

	snippets := make([]Snippet, len(results))
	for i, point := range results {
		snippets[i] = snippetFromPoint(point)
	}

	span.SetAttributes(attribute.Int("results_count", len(snippets)))
	span.SetStatus(codes.Ok, "success")

	return snippets, nil
}

// snippetFromPoint rebuilds a Snippet from a scored qdrant point.
func snippetFromPoint(point *qdrant.ScoredPoint) Snippet {
	var id, text string
	meta := make(map[string]string, len(point.Payload))

	for k, v := range point.Payload {
		sv, ok := v.Kind.(*qdrant.Value_StringValue)
		if !ok {
			continue
		}
		switch k {
		case qdrantPayloadText:
			text = sv.StringValue
		case qdrantPayloadChunkID:
			id = sv.StringValue
		default:
			meta[k] = sv.StringValue
		}
	}

	// Cosine scores from qdrant are similarities, same convention as chromem.
	return snippetFromResult(id, text, float64(point.Score), meta)
}

// Count reports how many chunks the corpus currently holds.
func (b *QdrantBackend) Count(ctx context.Context) (int, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantBackend.Count")
	defer span.End()

	var count int
	err := b.retryOperation(ctx, "collection_info", func() error {
		info, err := b.client.GetCollectionInfo(ctx, b.config.Collection)
		if err != nil {
			return err
		}
		if info.PointsCount != nil {
			count = int(*info.PointsCount)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("getting collection info for %s: %w", b.config.Collection, err)
	}

	span.SetStatus(codes.Ok, "success")
	return count, nil
}

// Close closes the qdrant gRPC connection.
func (b *QdrantBackend) Close() error {
	if b.client != nil {
		return b.client.Close()
	}
	return nil
}

// Ensure QdrantBackend implements Service.
var _ Service = (*QdrantBackend)(nil)
