//go:build cgo

package embeddings

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
)

// FastEmbedConfig configures the local ONNX embedding provider.
type FastEmbedConfig struct {
	// Model selects the embedding model. Accepts either Hugging Face style
	// names (BAAI/bge-small-en-v1.5, the default) or fastembed's own
	// fast-* identifiers.
	Model string

	// CacheDir is where downloaded model files are stored.
	CacheDir string

	// MaxLength caps the input token sequence length. Defaults to 512.
	MaxLength int

	// BatchSize governs how many texts are embedded per ONNX call.
	// Defaults to 32.
	BatchSize int
}

// FastEmbedProvider generates embeddings locally via fastembed's ONNX models.
type FastEmbedProvider struct {
	model     *fastembed.FlagEmbedding
	modelName string
	dimension int
	batchSize int
	mu        sync.RWMutex
}

// fastEmbedCatalog describes every model the provider accepts, keyed by the
// Hugging Face name with the fastembed alias alongside.
var fastEmbedCatalog = []struct {
	name      string
	alias     string
	model     fastembed.EmbeddingModel
	dimension int
}{
	{"BAAI/bge-small-en-v1.5", "fast-bge-small-en-v1.5", fastembed.BGESmallENV15, 384},
	{"BAAI/bge-small-en", "fast-bge-small-en", fastembed.BGESmallEN, 384},
	{"BAAI/bge-base-en-v1.5", "fast-bge-base-en-v1.5", fastembed.BGEBaseENV15, 768},
	{"BAAI/bge-base-en", "fast-bge-base-en", fastembed.BGEBaseEN, 768},
	{"BAAI/bge-small-zh-v1.5", "fast-bge-small-zh-v1.5", fastembed.BGESmallZH, 512},
	{"sentence-transformers/all-MiniLM-L6-v2", "fast-all-MiniLM-L6-v2", fastembed.AllMiniLML6V2, 384},
}

// resolveFastEmbedModel maps a configured model name to the fastembed
// constant and its output dimension.
func resolveFastEmbedModel(name string) (fastembed.EmbeddingModel, int, bool) {
	for _, entry := range fastEmbedCatalog {
		if name == entry.name || name == entry.alias || name == string(entry.model) {
			return entry.model, entry.dimension, true
		}
	}
	return "", 0, false
}

// fastEmbedModelDimension reports the embedding dimension for a model name.
func fastEmbedModelDimension(model string) (int, bool) {
	_, dim, ok := resolveFastEmbedModel(model)
	return dim, ok
}

// NewFastEmbedProvider loads the configured model, first making sure the
// ONNX runtime shared library is present (downloading it on first run; the
// context bounds that download).
func NewFastEmbedProvider(ctx context.Context, cfg FastEmbedConfig) (*FastEmbedProvider, error) {
	model, dimension, ok := resolveFastEmbedModel(cfg.Model)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported model %q (supported: BAAI/bge-small-en-v1.5, BAAI/bge-base-en-v1.5, sentence-transformers/all-MiniLM-L6-v2)", ErrInvalidConfig, cfg.Model)
	}

	libPath, err := EnsureONNXRuntime(ctx)
	if err != nil {
		return nil, fmt.Errorf("ensuring ONNX runtime: %w", err)
	}
	if err := setONNXPathEnv(libPath); err != nil {
		return nil, fmt.Errorf("setting ONNX_PATH: %w", err)
	}

	opts := &fastembed.InitOptions{
		Model:     model,
		CacheDir:  cfg.CacheDir,
		MaxLength: cfg.MaxLength,
	}
	if opts.CacheDir == "" {
		opts.CacheDir = filepath.Join(".", "data", "models")
	}
	if opts.MaxLength == 0 {
		opts.MaxLength = 512
	}
	// No progress bar when running as a service.
	showProgress := false
	opts.ShowDownloadProgress = &showProgress

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}

	flagEmbed, err := fastembed.NewFlagEmbedding(opts)
	if err != nil {
		return nil, fmt.Errorf("initializing FastEmbed: %w", err)
	}

	return &FastEmbedProvider{
		model:     flagEmbed,
		modelName: cfg.Model,
		dimension: dimension,
		batchSize: batchSize,
	}, nil
}

// EmbedDocuments embeds a batch of texts with the BGE "passage: " prefix.
func (p *FastEmbedProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	vectors, err := p.model.PassageEmbed(texts, p.batchSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vectors, nil
}

// EmbedQuery embeds a single search query with the BGE "query: " prefix.
func (p *FastEmbedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	vector, err := p.model.QueryEmbed(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vector, nil
}

// Dimension returns the embedding width of the loaded model.
func (p *FastEmbedProvider) Dimension() int {
	return p.dimension
}

// Close releases the underlying ONNX session.
func (p *FastEmbedProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.model != nil {
		return p.model.Destroy()
	}
	return nil
}

var _ Provider = (*FastEmbedProvider)(nil)
