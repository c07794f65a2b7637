package service

import (
	"context"

	"github.com/docstream/corpusd/internal/repository"
)

// VectorIndex abstracts the vector store so services can be exercised with
// fakes in tests.
type VectorIndex interface {
	UpsertBatch(ctx context.Context, points []repository.ChunkPoint) error
	Search(ctx context.Context, ownerID string, vector []float32, topK int, scoreThreshold float32) ([]repository.ScoredChunk, error)
}

// EmbeddingProvider computes vector embeddings. Documents and queries go
// through separate methods because asymmetric models embed the two sides
// differently.
type EmbeddingProvider interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
	Model() string
	Version() string
}

// ParseRequest is what gets submitted to the external parsing provider. The
// provider fetches the document from SourceURL, then delivers the result to
// CallbackURL signed with Secret.
type ParseRequest struct {
	JobID       string
	SourceURL   string
	CallbackURL string
	Secret      string
}

// ParseProvider submits documents for asynchronous parsing.
type ParseProvider interface {
	Submit(ctx context.Context, req *ParseRequest) error
}
