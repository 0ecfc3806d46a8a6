package embeddings

import (
	"context"
)

// QueryEmbeddingFunc adapts a Provider's query path to the single-text
// embedding function signature embedded vector stores expect.
func QueryEmbeddingFunc(p Provider) func(ctx context.Context, text string) ([]float32, error) {
	return func(ctx context.Context, text string) ([]float32, error) {
		return p.EmbedQuery(ctx, text)
	}
}
