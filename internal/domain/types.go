package domain

import "time"

// Document is a plain-text file handed to the system for indexing.
// It is only held for the duration of a single ingest call.
type Document struct {
	Content    string
	Source     string
	IngestedAt time.Time
}

// PassageMetadata locates a passage inside the document it came from.
type PassageMetadata struct {
	Source     string    `json:"source"`
	Index      int       `json:"chunk_index"`
	Total      int       `json:"total_chunks"`
	IngestedAt time.Time `json:"ingested_at"`
}

// Passage is a contiguous, trimmed slice of a document used for retrieval.
type Passage struct {
	Text     string          `json:"text"`
	Metadata PassageMetadata `json:"metadata"`
}

// SearchResult is a passage returned by a nearest-neighbour query with its
// cosine similarity score.
type SearchResult struct {
	Text     string          `json:"text"`
	Metadata PassageMetadata `json:"metadata"`
	Score    float64         `json:"score"`
}

// Answer is the outcome of a question: the generated text and the passages
// it was grounded on. Sources is empty when nothing relevant was found.
type Answer struct {
	Text    string         `json:"answer"`
	Sources []SearchResult `json:"sources"`
}

// IngestResult summarises a completed ingest call.
type IngestResult struct {
	Source       string `json:"source"`
	PassageCount int    `json:"passage_count"`
	TotalChars   int    `json:"total_chars"`
}
