// Package retrieval stores the regulation corpus as embedded chunks and
// serves similarity search for the research stage.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Sentinel errors for retrieval operations.
var (
	// ErrInvalidConfig indicates invalid backend configuration.
	ErrInvalidConfig = errors.New("invalid retrieval configuration")

	// ErrNoDocuments indicates an empty or nil indexing batch.
	ErrNoDocuments = errors.New("no documents to index")

	// ErrEmptyQuery indicates an empty retrieval query.
	ErrEmptyQuery = errors.New("query cannot be empty")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("failed to generate embeddings")

	// ErrConnectionFailed indicates the qdrant gRPC connection could not be
	// established.
	ErrConnectionFailed = errors.New("failed to connect to qdrant")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")
)

// Metadata keys attached to every indexed regulation chunk.
const (
	MetaSourceFilename = "source_filename"
	MetaRegulationName = "regulation_name"
	MetaURL            = "url"
	MetaJurisdiction   = "jurisdiction"
	MetaCorpusCommit   = "corpus_commit"
)

// collectionNamePattern validates collection names.
// Pattern: lowercase letters, numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// timeNow is the time source, replaceable in tests.
var timeNow = time.Now

// Document is one regulation chunk ready for indexing.
type Document struct {
	// ID is the unique chunk identifier. Auto-generated when empty.
	ID string

	// Text is the chunk content that gets embedded.
	Text string

	// Metadata carries provenance for citation rendering. Use the Meta*
	// key constants.
	Metadata map[string]string
}

// Snippet is one retrieved regulation chunk with its provenance.
type Snippet struct {
	// ID is the chunk identifier assigned at indexing time.
	ID string

	// Text is the chunk content.
	Text string

	// SourceFilename is the corpus file the chunk came from.
	SourceFilename string

	// RegulationName is the human-readable regulation title.
	RegulationName string

	// URL points at the authoritative source of the regulation.
	URL string

	// Jurisdiction is the region the regulation applies to, when known.
	Jurisdiction string

	// Distance is the cosine distance to the query in [0, 2].
	// Lower means closer; the research stage derives relevance from it.
	Distance float64
}

// Service indexes regulation chunks and retrieves the closest matches for
// a query. Backends must tolerate an empty corpus: Retrieve returns an
// empty slice, never an error, when nothing is indexed yet.
type Service interface {
	// Index embeds and stores a batch of chunks, returning their IDs.
	Index(ctx context.Context, docs []Document) ([]string, error)

	// Retrieve returns up to topK chunks closest to the query.
	Retrieve(ctx context.Context, query string, topK int) ([]Snippet, error)

	// Count reports how many chunks the corpus currently holds.
	Count(ctx context.Context) (int, error)

	// Close releases backend resources.
	Close() error
}

// ValidateCollectionName validates a collection name against naming rules.
// Rejects uppercase, special characters, path traversal, and spaces.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match pattern ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// snippetFromResult builds a Snippet from a backend hit. Similarity is the
// cosine similarity reported by the backend; distance is derived from it.
func snippetFromResult(id, text string, similarity float64, meta map[string]string) Snippet {
	distance := 1 - similarity
	if distance < 0 {
		distance = 0
	}
	return Snippet{
		ID:             id,
		Text:           text,
		SourceFilename: meta[MetaSourceFilename],
		RegulationName: meta[MetaRegulationName],
		URL:            meta[MetaURL],
		Jurisdiction:   meta[MetaJurisdiction],
		Distance:       distance,
	}
}
