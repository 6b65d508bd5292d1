package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"docqa/internal/chunker"
	"docqa/internal/domain"
	embedollama "docqa/internal/embedding/ollama"
	genollama "docqa/internal/generation/ollama"
	"docqa/internal/inference"
	"docqa/internal/inference/inferencetest"
	"docqa/internal/vectorstore"
	"docqa/internal/vectorstore/memory"
)

type fakeIndex struct {
	results   []domain.SearchResult
	err       error
	upserted  [][]domain.Passage
	searchedK []int
	healthy   bool
}

func (f *fakeIndex) EnsureIndex(context.Context) error { return nil }

func (f *fakeIndex) Upsert(_ context.Context, p []domain.Passage) error {
	f.upserted = append(f.upserted, p)
	return f.err
}

func (f *fakeIndex) Search(_ context.Context, _ string, k int) ([]domain.SearchResult, error) {
	f.searchedK = append(f.searchedK, k)
	if f.err != nil {
		return nil, f.err
	}
	if k < len(f.results) {
		return f.results[:k], nil
	}
	return f.results, nil
}

func (f *fakeIndex) HealthCheck(context.Context) bool { return f.healthy }

type fakeGenerator struct {
	reply   string
	err     error
	prompts []string
}

func (f *fakeGenerator) Model() string { return "fake" }

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

func newService(t *testing.T, idx domain.Index, gen *fakeGenerator) *RAGServiceImpl {
	t.Helper()
	return NewRAGService(chunker.NewCharacterChunker(1000, 200), idx, gen, Options{}, zaptest.NewLogger(t))
}

func results(texts ...string) []domain.SearchResult {
	out := make([]domain.SearchResult, len(texts))
	for i, text := range texts {
		out[i] = domain.SearchResult{
			Text:     text,
			Metadata: domain.PassageMetadata{Source: "facts.txt", Index: i, Total: len(texts)},
			Score:    1 - float64(i)/10,
		}
	}
	return out
}

func TestQuery_NoContextSkipsGeneration(t *testing.T) {
	gen := &fakeGenerator{reply: "should not be used"}
	s := newService(t, &fakeIndex{}, gen)

	ans, err := s.Query(context.Background(), "What is the capital of Mars?", 3)
	require.NoError(t, err)
	assert.Equal(t, NoContextAnswer, ans.Text)
	assert.NotNil(t, ans.Sources)
	assert.Empty(t, ans.Sources)
	assert.Empty(t, gen.prompts)
}

func TestQuery_ClampsTopK(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{50, 10},
		{11, 10},
		{10, 10},
		{3, 3},
		{0, 5},
		{-4, 5},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.in), func(t *testing.T) {
			idx := &fakeIndex{results: results("a")}
			s := newService(t, idx, &fakeGenerator{reply: "ok"})

			_, err := s.Query(context.Background(), "question", tt.in)
			require.NoError(t, err)
			assert.Equal(t, []int{tt.want}, idx.searchedK)
		})
	}
}

func TestQuery_CustomBounds(t *testing.T) {
	s := NewRAGService(nil, &fakeIndex{}, &fakeGenerator{}, Options{DefaultTopK: 20, MaxTopK: 4}, nil)
	assert.Equal(t, 4, s.ClampTopK(0))
	assert.Equal(t, 4, s.ClampTopK(9))
	assert.Equal(t, 2, s.ClampTopK(2))
}

func TestQuery_MaxTopKNeverExceedsLimit(t *testing.T) {
	idx := &fakeIndex{results: results("a")}
	s := NewRAGService(nil, idx, &fakeGenerator{reply: "ok"}, Options{DefaultTopK: 40, MaxTopK: 50}, nil)
	assert.Equal(t, MaxTopK, s.ClampTopK(50))
	assert.Equal(t, MaxTopK, s.ClampTopK(0))

	_, err := s.Query(context.Background(), "question", 50)
	require.NoError(t, err)
	assert.Equal(t, []int{MaxTopK}, idx.searchedK)
}

func TestQuery_RejectsEmptyQuestion(t *testing.T) {
	idx := &fakeIndex{results: results("a")}
	s := newService(t, idx, &fakeGenerator{})

	for _, q := range []string{"", "   \n\t", "\xff\xfe"} {
		_, err := s.Query(context.Background(), q, 5)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, "question %q", q)
	}
	assert.Empty(t, idx.searchedK)
}

func TestQuery_BuildsGroundedPrompt(t *testing.T) {
	gen := &fakeGenerator{reply: "\n  The sky is blue.  \n"}
	idx := &fakeIndex{results: results("The sky is blue.", "Water is wet.")}
	s := newService(t, idx, gen)

	ans, err := s.Query(context.Background(), "  What color is the sky? ", 5)
	require.NoError(t, err)
	assert.Equal(t, "The sky is blue.", ans.Text)
	assert.Equal(t, idx.results, ans.Sources)

	require.Len(t, gen.prompts, 1)
	prompt := gen.prompts[0]
	assert.Contains(t, prompt, "[1] The sky is blue.\n\n[2] Water is wet.")
	assert.Contains(t, prompt, "Question: What color is the sky?")
	assert.Contains(t, prompt, "only the context")
	assert.Contains(t, prompt, "don't have the information")
	assert.Less(t, strings.Index(prompt, "[2]"), strings.Index(prompt, "Question:"))
}

func TestQuery_PropagatesFailures(t *testing.T) {
	boom := errors.New("connection refused")

	s := newService(t, &fakeIndex{err: boom}, &fakeGenerator{})
	_, err := s.Query(context.Background(), "q", 5)
	assert.ErrorIs(t, err, boom)

	s = newService(t, &fakeIndex{results: results("a")}, &fakeGenerator{err: boom})
	_, err = s.Query(context.Background(), "q", 5)
	assert.ErrorIs(t, err, boom)
}

func TestIngest_EmptyDocumentMakesNoBackendCalls(t *testing.T) {
	idx := &fakeIndex{}
	s := newService(t, idx, &fakeGenerator{})

	for _, text := range []string{"", "  \n\n  "} {
		res, err := s.Ingest(context.Background(), text, "empty.txt")
		require.NoError(t, err)
		assert.Zero(t, res.PassageCount)
	}
	assert.Empty(t, idx.upserted)
}

func TestIngest_StampsPassages(t *testing.T) {
	idx := &fakeIndex{}
	s := newService(t, idx, &fakeGenerator{})
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	res, err := s.Ingest(context.Background(), "The sky is blue. Water is wet.", "facts.txt")
	require.NoError(t, err)
	assert.Equal(t, domain.IngestResult{Source: "facts.txt", PassageCount: 1, TotalChars: 30}, res)

	require.Len(t, idx.upserted, 1)
	require.Len(t, idx.upserted[0], 1)
	p := idx.upserted[0][0]
	assert.Equal(t, "The sky is blue. Water is wet.", p.Text)
	assert.Equal(t, domain.PassageMetadata{Source: "facts.txt", Index: 0, Total: 1, IngestedAt: fixed}, p.Metadata)
}

func TestIngest_RejectsBinary(t *testing.T) {
	idx := &fakeIndex{}
	s := newService(t, idx, &fakeGenerator{})
	_, err := s.Ingest(context.Background(), "ok\xff\x00", "blob.txt")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Empty(t, idx.upserted)
}

func TestIngest_IndexFailureIsReported(t *testing.T) {
	boom := errors.New("qdrant down")
	s := newService(t, &fakeIndex{err: boom}, &fakeGenerator{})
	_, err := s.Ingest(context.Background(), "some text", "a.txt")
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "a.txt")
}

func TestHealthCheck(t *testing.T) {
	assert.True(t, newService(t, &fakeIndex{healthy: true}, &fakeGenerator{}).HealthCheck(context.Background()))
	assert.False(t, newService(t, &fakeIndex{}, &fakeGenerator{}).HealthCheck(context.Background()))
}

// The embedding model is missing on first use: ingest must pull it once and
// still index every passage, then a question is answered from those passages.
func TestEndToEnd_PullsMissingEmbeddingModel(t *testing.T) {
	ctx := context.Background()
	log := zaptest.NewLogger(t)

	srv := inferencetest.NewServer(t, "llama2")
	srv.Dimension = 768
	srv.Response = " Water is wet. "

	transport := inference.NewClient(inference.Config{BaseURL: srv.URL, Timeout: 5 * time.Second}, log)
	emb := embedollama.NewClient(transport, embedollama.Config{
		Model:          "nomic-embed-text",
		Concurrency:    1,
		PullSettle:     time.Millisecond,
		LoadRetryDelay: time.Millisecond,
	}, log)
	gen := genollama.NewClient(transport, genollama.Config{Model: "llama2", PullSettle: time.Millisecond}, log)
	index := vectorstore.NewManager(memory.NewStorage(), emb, "documents", log)
	s := NewRAGService(chunker.NewCharacterChunker(120, 20), index, gen, Options{}, log)

	var doc strings.Builder
	for i := range 12 {
		fmt.Fprintf(&doc, "Fact number %d says that water is wet and the sky is blue.\n", i)
	}
	want := len(chunker.Split(domain.Document{Content: doc.String(), Source: "facts.txt"}, 120, 20))
	require.Greater(t, want, 1)

	res, err := s.Ingest(ctx, doc.String(), "facts.txt")
	require.NoError(t, err)
	assert.Equal(t, want, res.PassageCount)
	assert.Equal(t, 1, srv.Calls("/api/pull"))
	assert.Equal(t, want+1, srv.Calls("/api/embeddings"))

	info, err := index.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, info.PointCount)

	// Re-ingesting the same document overwrites in place.
	_, err = s.Ingest(ctx, doc.String(), "facts.txt")
	require.NoError(t, err)
	info, err = index.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, info.PointCount)

	ans, err := s.Query(ctx, "Is water wet?", 3)
	require.NoError(t, err)
	assert.Equal(t, "Water is wet.", ans.Text)
	assert.Len(t, ans.Sources, 3)
	assert.Contains(t, srv.Prompts()[0], "[3] ")
}
