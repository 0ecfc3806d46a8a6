package retrieval

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/lawbranch/geogate/internal/config"
	"github.com/lawbranch/geogate/internal/embeddings"
)

// NewService creates a retrieval Service based on the configuration.
//
// The factory examines RetrievalConfig.Provider and creates the matching
// backend:
//   - "chromem" (default): embedded persistent index, no external service
//   - "qdrant": external qdrant server over gRPC
//
// When the qdrant vector size is unset it is taken from the embeddings
// provider so the collection always matches the model's dimensionality.
func NewService(cfg config.RetrievalConfig, provider embeddings.Provider, logger *zap.Logger) (Service, error) {
	switch cfg.Provider {
	case "chromem", "":
		return NewChromemBackend(ChromemConfig{
			Path:       cfg.Chromem.Path,
			Collection: cfg.Chromem.Collection,
			Compress:   cfg.Chromem.Compress,
		}, provider, logger)

	case "qdrant":
		vectorSize := cfg.Qdrant.VectorSize
		if vectorSize == 0 && provider != nil {
			vectorSize = uint64(provider.Dimension())
		}
		return NewQdrantBackend(QdrantConfig{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			APIKey:     cfg.Qdrant.APIKey.Value(),
			Collection: cfg.Qdrant.Collection,
			UseTLS:     cfg.Qdrant.UseTLS,
			VectorSize: vectorSize,
		}, provider, logger)

	default:
		return nil, fmt.Errorf("%w: unsupported provider %q (supported: chromem, qdrant)", ErrInvalidConfig, cfg.Provider)
	}
}
