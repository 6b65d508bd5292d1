package embedding

import (
	"context"
	"strings"
)

// Embedder converts free text into a numeric vector representation.
type Embedder interface {
	Name() string
	Model() string
	// Dimension is the vector length declared for the configured model. It is
	// known before any text is embedded and is what the index is sized by.
	Dimension() int
	Embed(ctx context.Context, text string) ([]float64, error)
	// EmbedBatch embeds every text and returns vectors in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
}

// DefaultDimension applies to models missing from the lookup table.
const DefaultDimension = 768

// Ordered so that more specific names win over their prefixes.
var modelDimensions = []struct {
	name      string
	dimension int
}{
	{"snowflake-arctic-embed", 1024},
	{"mxbai-embed-large", 1024},
	{"nomic-embed-text", 768},
	{"text-embedding-3-large", 3072},
	{"text-embedding-3-small", 1536},
	{"text-embedding-ada-002", 1536},
	{"granite-embedding", 384},
	{"paraphrase-multilingual", 768},
	{"all-minilm", 384},
	{"bge-large", 1024},
	{"bge-m3", 1024},
}

// DimensionFor returns the vector length produced by model, matching table
// entries as case-insensitive substrings of the model name (so tags such as
// "nomic-embed-text:latest" resolve).
func DimensionFor(model string) int {
	m := strings.ToLower(model)
	for _, e := range modelDimensions {
		if strings.Contains(m, e.name) {
			return e.dimension
		}
	}
	return DefaultDimension
}
