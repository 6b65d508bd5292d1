package domain

import "context"

// Chunker splits documents into passages suitable for retrieval indexing.
type Chunker interface {
	Chunk(document Document) ([]Passage, error)
}

// Index stores passages and answers nearest-neighbour queries over them.
type Index interface {
	EnsureIndex(ctx context.Context) error
	Upsert(ctx context.Context, passages []Passage) error
	Search(ctx context.Context, query string, k int) ([]SearchResult, error)
	HealthCheck(ctx context.Context) bool
}

// RAGService defines the operations exposed by the application core.
type RAGService interface {
	Ingest(ctx context.Context, text, source string) (IngestResult, error)
	Query(ctx context.Context, question string, topK int) (Answer, error)
	HealthCheck(ctx context.Context) bool
}
