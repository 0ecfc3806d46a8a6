package embeddings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lawbranch/geogate/internal/config"
)

func TestNewProviderRejectsUnknownProvider(t *testing.T) {
	_, err := NewProvider(context.Background(), config.EmbeddingsConfig{
		Provider: "word2vec",
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "word2vec")
}

func TestNewProviderOpenAIDefaultsBaseURL(t *testing.T) {
	p, err := NewProvider(context.Background(), config.EmbeddingsConfig{
		Provider: "openai",
		Model:    "text-embedding-3-small",
		APIKey:   config.Secret("sk-test"),
	})

	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, 1536, p.Dimension())
}

func TestDetectDimensionFromModel(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"BAAI/bge-small-en-v1.5", 384},
		{"BAAI/bge-base-en-v1.5", 768},
		{"sentence-transformers/all-MiniLM-L6-v2", 384},
		{"text-embedding-3-small", 1536},
		{"text-embedding-3-large", 3072},
		{"text-embedding-ada-002", 1536},
		{"custom-large-model", 1024},
		{"custom-base-model", 768},
		{"custom-mini-model", 384},
		{"mystery", 384},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, detectDimensionFromModel(tt.model))
		})
	}
}
