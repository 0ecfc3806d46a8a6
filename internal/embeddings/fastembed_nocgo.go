//go:build !cgo

package embeddings

import (
	"context"
	"errors"
)

// ErrFastEmbedNotAvailable reports that local embedding requires a CGO build.
var ErrFastEmbedNotAvailable = errors.New("fastembed: not available (binary built without CGO support, use the openai provider instead)")

// FastEmbedConfig configures the local ONNX embedding provider.
type FastEmbedConfig struct {
	Model     string
	CacheDir  string
	MaxLength int
	BatchSize int
}

// FastEmbedProvider is a stub that satisfies Provider on non-CGO builds.
// Every operation fails with ErrFastEmbedNotAvailable.
type FastEmbedProvider struct{}

func NewFastEmbedProvider(_ context.Context, _ FastEmbedConfig) (*FastEmbedProvider, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (p *FastEmbedProvider) EmbedDocuments(_ context.Context, _ []string) ([][]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (p *FastEmbedProvider) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (p *FastEmbedProvider) Dimension() int { return 0 }

func (p *FastEmbedProvider) Close() error { return nil }

// fastEmbedModelDimension mirrors the CGO build's model table so dimension
// lookups keep working without loading the ONNX runtime.
func fastEmbedModelDimension(model string) (int, bool) {
	switch model {
	case "BAAI/bge-small-en-v1.5", "fast-bge-small-en-v1.5",
		"BAAI/bge-small-en", "fast-bge-small-en",
		"sentence-transformers/all-MiniLM-L6-v2", "fast-all-MiniLM-L6-v2":
		return 384, true
	case "BAAI/bge-base-en-v1.5", "fast-bge-base-en-v1.5",
		"BAAI/bge-base-en", "fast-bge-base-en":
		return 768, true
	case "BAAI/bge-small-zh-v1.5", "fast-bge-small-zh-v1.5":
		return 512, true
	}
	return 0, false
}
