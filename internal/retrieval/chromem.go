package retrieval

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/lawbranch/geogate/internal/embeddings"
)

var chromemTracer = otel.Tracer("geogate.retrieval.chromem")

// ChromemConfig holds settings for the embedded chromem backend.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Supports ~ expansion.
	Path string

	// Collection is the corpus collection name.
	Collection string

	// Compress enables gzip compression for stored chunks.
	Compress bool
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "data/index"
	}
	if c.Collection == "" {
		c.Collection = "regulations"
	}
}

// ChromemBackend implements Service using chromem-go, an embeddable pure-Go
// vector database. It needs no external service and persists to gob files,
// which fits the single-node screening daemon.
type ChromemBackend struct {
	db         *chromem.DB
	collection *chromem.Collection
	provider   embeddings.Provider
	config     ChromemConfig
	logger     *zap.Logger
}

// NewChromemBackend opens or creates the persistent corpus index and
// bootstraps the collection.
func NewChromemBackend(config ChromemConfig, provider embeddings.Provider, logger *zap.Logger) (*ChromemBackend, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: embeddings provider is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()

	if err := ValidateCollectionName(config.Collection); err != nil {
		return nil, err
	}

	expandedPath, err := expandIndexPath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}

	if err := os.MkdirAll(expandedPath, 0755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", expandedPath, err)
	}

	db, err := chromem.NewPersistentDB(expandedPath, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	// Queries are embedded through the provider; indexed chunks carry
	// precomputed embeddings so this func only runs on the query path.
	collection, err := db.GetOrCreateCollection(config.Collection, nil, embeddings.QueryEmbeddingFunc(provider))
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", config.Collection, err)
	}

	backend := &ChromemBackend{
		db:         db,
		collection: collection,
		provider:   provider,
		config:     config,
		logger:     logger,
	}

	logger.Info("regulation index ready",
		zap.String("path", expandedPath),
		zap.String("collection", config.Collection),
		zap.Bool("compress", config.Compress),
		zap.Int("chunks", collection.Count()),
	)

	return backend, nil
}

// expandIndexPath expands ~ to home directory.
func expandIndexPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// Index embeds and stores a batch of regulation chunks.
func (b *ChromemBackend) Index(ctx context.Context, docs []Document) ([]string, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemBackend.Index")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", b.config.Collection),
		attribute.Int("chunk_count", len(docs)),
	)

	if len(docs) == 0 {
		return nil, ErrNoDocuments
	}

	ids := make([]string, len(docs))
	texts := make([]string, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ID
		if ids[i] == "" {
			ids[i] = fmt.Sprintf("chunk_%d_%d", timeNow().UnixNano(), i)
			b.logger.Warn("auto-generated chunk ID, ingest should provide explicit IDs",
				zap.String("generated_id", ids[i]),
				zap.Int("index", i),
			)
		}
		texts[i] = doc.Text
	}

	// Embed the whole batch up front so chromem stores our vectors instead
	// of calling the embedding func once per chunk.
	vectors, err := b.provider.EmbedDocuments(ctx, texts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	chromemDocs := make([]chromem.Document, len(docs))
	for i, doc := range docs {
		chromemDocs[i] = chromem.Document{
			ID:        ids[i],
			Content:   doc.Text,
			Metadata:  doc.Metadata,
			Embedding: vectors[i],
		}
	}

	if err := b.collection.AddDocuments(ctx, chromemDocs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("adding chunks to collection %s: %w", b.config.Collection, err)
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
func (b *ChromemBackend) Retrieve(ctx context.Context, query string, topK int) ([]Snippet, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemBackend.Retrieve")
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

	// Cap topK at corpus size (chromem requires nResults <= chunk count).
	count := b.collection.Count()
	if count == 0 {
		return []Snippet{}, nil
	}
	if topK > count {
		topK = count
	}

	results, err := b.collection.Query(ctx, query, topK, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", b.config.Collection, err)
	}

	snippets := make([]Snippet, len(results))
	for i, r := range results {
		snippets[i] = snippetFromResult(r.ID, r.Content, float64(r.Similarity), r.Metadata)
	}

	span.SetAttributes(attribute.Int("results_count", len(snippets)))
	span.SetStatus(codes.Ok, "success")

	b.logger.Debug("retrieved regulation chunks",
		zap.String("collection", b.config.Collection),
		zap.Int("top_k", topK),
		zap.Int("results", len(snippets)),
	)

	return snippets, nil
}

// Count reports how many chunks the corpus currently holds.
func (b *ChromemBackend) Count(ctx context.Context) (int, error) {
	return b.collection.Count(), nil
}

// Close releases backend resources. chromem persists on every write, so
// there is nothing to flush.
func (b *ChromemBackend) Close() error {
	return nil
}

// Ensure ChromemBackend implements Service.
var _ Service = (*ChromemBackend)(nil)
