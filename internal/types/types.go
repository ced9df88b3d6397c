package types

import (
	"context"

	"github.com/xhad/docchat/internal/models"
)

// Core interfaces. The pipeline depends on these; concrete adapters live
// under pkg/.

// Extractor turns a file on disk into plain text.
type Extractor interface {
	Extract(path string) (string, error)
}

// Embedder converts a batch of texts into fixed-dimension vectors, one per
// input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Chunker splits raw document text into passages.
type Chunker interface {
	Chunk(ctx context.Context, text string) ([]string, error)
}

// ContentCache maps content hashes to previously computed chunk/embedding
// pairs.
type ContentCache interface {
	Hash(path string) (string, error)
	IsCached(ctx context.Context, hash string) (bool, error)
	Save(ctx context.Context, hash, sourcePath string, chunks []string, embeddings [][]float32) error
	Load(ctx context.Context, hash string) ([]models.Chunk, error)
	SweepStale(ctx context.Context, live map[string]bool) ([]models.Document, error)
}

// VectorIndex is the boundary to the vector database.
type VectorIndex interface {
	EnsureSchema(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, points []models.IndexPoint) (int, error)
	Query(ctx context.Context, vector []float32, limit int) ([]models.Candidate, error)
	DeleteByFile(ctx context.Context, file string) error
	Drop(ctx context.Context) error
}

// Reranker re-scores candidates against a query with a pairwise relevance
// model.
type Reranker interface {
	Warmup(ctx context.Context) error
	Rerank(ctx context.Context, query string, candidates []models.Candidate) ([]models.Candidate, error)
}

// Generator produces a grounded natural-language answer, optionally as a
// token stream. GenerateStream closes the token channel when generation
// finishes and then delivers at most one error on the error channel; a
// service failure mid-stream arrives there, never as token text.
type Generator interface {
	Generate(ctx context.Context, question, context string) (string, error)
	GenerateStream(ctx context.Context, question, context string) (<-chan string, <-chan error)
}
