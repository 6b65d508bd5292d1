package chunker

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
)

func doc(content string) domain.Document {
	return domain.Document{
		Content:    content,
		Source:     "notes.txt",
		IngestedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func longText() string {
	var b strings.Builder
	for i := 0; i < 120; i++ {
		fmt.Fprintf(&b, "Line %d states fact %d about the corpus.\n", i, i*i)
	}
	return b.String()
}

func TestSplit_ShortDocumentYieldsSinglePassage(t *testing.T) {
	passages := Split(doc("  The sky is blue. Water is wet.  "), 1000, 200)

	require.Len(t, passages, 1)
	assert.Equal(t, "The sky is blue. Water is wet.", passages[0].Text)
	assert.Equal(t, 0, passages[0].Metadata.Index)
	assert.Equal(t, 1, passages[0].Metadata.Total)
	assert.Equal(t, "notes.txt", passages[0].Metadata.Source)
	assert.Equal(t, 2026, passages[0].Metadata.IngestedAt.Year())
}

func TestSplit_EmptyContent(t *testing.T) {
	assert.Empty(t, Split(doc(""), 1000, 200))
	assert.Empty(t, Split(doc("   \n\t "), 1000, 200))
}

func TestSplit_IndicesContiguousAndTotalBackfilled(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
	}{
		{"default", 1000, 200},
		{"small", 100, 20},
		{"no overlap", 64, 0},
		{"large overlap", 50, 49},
		{"tiny", 3, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			passages := Split(doc(longText()), tt.size, tt.overlap)
			require.NotEmpty(t, passages)
			for i, p := range passages {
				assert.Equal(t, i, p.Metadata.Index)
				assert.Equal(t, len(passages), p.Metadata.Total)
				assert.LessOrEqual(t, len([]rune(p.Text)), tt.size)
				assert.Equal(t, strings.TrimSpace(p.Text), p.Text)
			}
		})
	}
}

func TestSplit_Deterministic(t *testing.T) {
	first := Split(doc(longText()), 120, 30)
	second := Split(doc(longText()), 120, 30)
	assert.Equal(t, first, second)
}

func TestSplit_CutsAtBoundary(t *testing.T) {
	content := "alpha beta gamma delta epsilon zeta eta theta iota kappa"
	passages := Split(doc(content), 20, 0)

	// First window "alpha beta gamma del" has its last space at 16 > 10.
	require.Len(t, passages, 3)
	assert.Equal(t, "alpha beta gamma", passages[0].Text)
	assert.Equal(t, "delta epsilon zeta", passages[1].Text)
	assert.Equal(t, "eta theta iota kappa", passages[2].Text)
}

func TestSplit_NoBoundaryAdvancesFullWindow(t *testing.T) {
	content := strings.Repeat("a", 25)
	passages := Split(doc(content), 10, 0)

	require.Len(t, passages, 3)
	assert.Equal(t, strings.Repeat("a", 10), passages[0].Text)
	assert.Equal(t, strings.Repeat("a", 10), passages[1].Text)
	assert.Equal(t, strings.Repeat("a", 5), passages[2].Text)
}

func TestSplit_OverlapSharesContext(t *testing.T) {
	content := strings.Repeat("b", 30)
	passages := Split(doc(content), 10, 4)

	require.Len(t, passages, 5)
	// Starts at 0, 6, 12, 18, 24.
	assert.Equal(t, strings.Repeat("b", 6), passages[4].Text)
}

func TestSplit_CoversDocumentWithoutGaps(t *testing.T) {
	content := longText()
	passages := Split(doc(content), 90, 15)
	require.NotEmpty(t, passages)

	covered := make([]bool, len(content))
	from := 0
	for _, p := range passages {
		idx := strings.Index(content[from:], p.Text)
		require.GreaterOrEqual(t, idx, 0, "passage %d not found in source", p.Metadata.Index)
		begin := from + idx
		for i := begin; i < begin+len(p.Text); i++ {
			covered[i] = true
		}
		from = begin + 1
	}
	for i, ch := range content {
		if ch != ' ' && ch != '\n' {
			require.True(t, covered[i], "character %d (%q) not covered", i, ch)
		}
	}
}

func TestSplit_OverlapNotSmallerThanSizeTerminates(t *testing.T) {
	passages := Split(doc(strings.Repeat("word ", 50)), 10, 10)
	require.NotEmpty(t, passages)

	passages = Split(doc(strings.Repeat("word ", 50)), 10, 25)
	require.NotEmpty(t, passages)
}

func TestSplit_MultibyteCharacters(t *testing.T) {
	content := strings.Repeat("日本語のテキスト。", 20)
	passages := Split(doc(content), 15, 3)

	require.NotEmpty(t, passages)
	for _, p := range passages {
		assert.LessOrEqual(t, len([]rune(p.Text)), 15)
		assert.True(t, strings.Contains(content, p.Text))
	}
}

func TestCharacterChunker_Defaults(t *testing.T) {
	c := NewCharacterChunker(0, -5)
	assert.Equal(t, DefaultChunkSize, c.chunkSize)
	assert.Equal(t, 0, c.chunkOverlap)

	passages, err := c.Chunk(doc("hello world"))
	require.NoError(t, err)
	require.Len(t, passages, 1)
}
