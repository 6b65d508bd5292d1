package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/inference/inferencetest"
	"docqa/internal/service"
	"docqa/internal/vectorstore/qdrant/qdranttest"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, ollamaURL string) string {
	t.Helper()
	return writeConfigFor(t, ollamaURL, "type: memory")
}

func writeConfigFor(t *testing.T, ollamaURL, vectorStore string) string {
	t.Helper()
	for _, k := range []string{"OLLAMA_BASE_URL", "QDRANT_URL", "QDRANT_HOST", "QDRANT_API_KEY", "CHUNK_SIZE", "CHUNK_OVERLAP"} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(`
inference:
  base_url: %s
  embedding_model: all-minilm
  generation_model: llama2
chunker:
  chunk_size: 100
  chunk_overlap: 10
vector_store:
  %s
log:
  level: error
`, ollamaURL, vectorStore)), 0o644))
	return path
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "docqa dev")
}

func TestIngestAndAsk(t *testing.T) {
	srv := inferencetest.NewServer(t, "all-minilm", "llama2")
	srv.Dimension = 384
	store := qdranttest.NewServer(t)
	store.APIKey = "secret"
	cfgFile := writeConfigFor(t, srv.URL, fmt.Sprintf(`type: qdrant
  qdrant:
    url: %s
    api_key: secret
    collection: notes`, store.URL))

	doc := filepath.Join(t.TempDir(), "sky.txt")
	require.NoError(t, os.WriteFile(doc, []byte("The sky is blue. Water is wet."), 0o644))
	skipped := filepath.Join(filepath.Dir(doc), "image.png")
	require.NoError(t, os.WriteFile(skipped, []byte{0x89}, 0o644))

	out, err := execute(t, "--config", cfgFile, "ingest", doc, skipped)
	require.NoError(t, err)
	assert.Contains(t, out, "sky.txt: 1 passages, 30 characters")
	assert.NotContains(t, out, "image.png")
	assert.NotContains(t, out, "warning")

	info, err := store.Storage().CollectionInfo(context.Background(), "notes")
	require.NoError(t, err)
	assert.Equal(t, 384, info.VectorSize)
	assert.Equal(t, 1, info.PointCount)

	// A separate invocation answers from what the first one stored.
	out, err = execute(t, "--config", cfgFile, "ask", "What", "color?")
	require.NoError(t, err)
	assert.Contains(t, out, "A grounded answer.")
	assert.NotContains(t, out, service.NoContextAnswer)
	assert.Contains(t, out, "[1] sky.txt #1/1")
	require.Len(t, srv.Prompts(), 1)
	assert.Contains(t, srv.Prompts()[0], "The sky is blue. Water is wet.")
	assert.Equal(t, 1, store.Calls("POST /collections/{name}/points/search"))
}

func TestAsk_MemoryStoreWarns(t *testing.T) {
	srv := inferencetest.NewServer(t, "all-minilm", "llama2")
	srv.Dimension = 384
	cfgFile := writeConfig(t, srv.URL)

	out, err := execute(t, "--config", cfgFile, "ask", "What", "color?")
	require.NoError(t, err)
	assert.Contains(t, out, "warning: vector_store.type is memory")
	assert.Contains(t, out, service.NoContextAnswer)
	assert.Empty(t, srv.Prompts())
}

func TestIngest_NoTextFiles(t *testing.T) {
	srv := inferencetest.NewServer(t)
	cfgFile := writeConfig(t, srv.URL)
	_, err := execute(t, "--config", cfgFile, "ingest", filepath.Join(t.TempDir(), "*.txt"))
	assert.ErrorContains(t, err, "no .txt documents found")
}

func TestInvalidConfigIsRejected(t *testing.T) {
	cfgFile := writeConfig(t, "http://127.0.0.1:1")
	t.Setenv("CHUNK_OVERLAP", "500")
	_, err := execute(t, "--config", cfgFile, "health")
	assert.ErrorContains(t, err, "chunk_overlap")
}

func TestHealth_Memory(t *testing.T) {
	cfgFile := writeConfig(t, "http://127.0.0.1:1")
	out, err := execute(t, "--config", cfgFile, "health")
	require.NoError(t, err)
	assert.Contains(t, out, "vector store (memory): ok")
}
