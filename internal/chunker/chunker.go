package chunker

import (
	"strings"

	"docqa/internal/domain"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// CharacterChunker splits text into windows of at most chunkSize characters,
// preferring to cut at a newline, period or space, with chunkOverlap
// characters carried over between consecutive passages.
type CharacterChunker struct {
	chunkSize    int
	chunkOverlap int
}

func NewCharacterChunker(chunkSize, chunkOverlap int) *CharacterChunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	return &CharacterChunker{chunkSize: chunkSize, chunkOverlap: chunkOverlap}
}

// Chunk implements domain.Chunker.
func (c *CharacterChunker) Chunk(document domain.Document) ([]domain.Passage, error) {
	return Split(document, c.chunkSize, c.chunkOverlap), nil
}

// Split walks the document content and returns its passages in order.
// Indices are contiguous from 0 and every passage carries the final count.
func Split(document domain.Document, chunkSize, chunkOverlap int) []domain.Passage {
	content := []rune(document.Content)
	n := len(content)
	if n == 0 || chunkSize <= 0 {
		return nil
	}

	var passages []domain.Passage
	start := 0
	for start < n {
		end := start + chunkSize
		final := end >= n
		if final {
			end = n
		} else if cut := lastBoundary(content[start:end]); cut > chunkSize/2 {
			end = start + cut + 1
		}

		if text := strings.TrimSpace(string(content[start:end])); text != "" {
			passages = append(passages, domain.Passage{
				Text: text,
				Metadata: domain.PassageMetadata{
					Source:     document.Source,
					Index:      len(passages),
					IngestedAt: document.IngestedAt,
				},
			})
		}
		if final {
			break
		}

		next := end - chunkOverlap
		if next < 0 {
			next = 0
		}
		// An overlap as large as the advance would revisit the same window.
		if next <= start {
			next = end
		}
		start = next
	}

	for i := range passages {
		passages[i].Metadata.Total = len(passages)
	}
	return passages
}

// lastBoundary returns the position of the last newline, period or space in
// window, or -1 when there is none.
func lastBoundary(window []rune) int {
	for i := len(window) - 1; i >= 0; i-- {
		switch window[i] {
		case '\n', '.', ' ':
			return i
		}
	}
	return -1
}
