package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"docqa/internal/chunker"
	"docqa/internal/config"
	embedollama "docqa/internal/embedding/ollama"
	genollama "docqa/internal/generation/ollama"
	"docqa/internal/inference"
	"docqa/internal/service"
	"docqa/internal/vectorstore"
	"docqa/internal/vectorstore/memory"
	"docqa/internal/vectorstore/qdrant"
)

// app holds the assembled components for one process.
type app struct {
	service *service.RAGServiceImpl
	index   *vectorstore.Manager
}

func buildApp(cfg *config.AppConfig, log *zap.Logger) (*app, error) {
	transport := inference.NewClient(inference.Config{
		BaseURL: cfg.Inference.BaseURL,
		Timeout: cfg.Inference.Timeout(),
	}, log)

	emb := embedollama.NewClient(transport, embedollama.Config{
		Model:          cfg.Inference.EmbeddingModel,
		Concurrency:    cfg.Inference.EmbedConcurrency,
		PullSettle:     cfg.Inference.PullSettle(),
		LoadRetryDelay: cfg.Inference.LoadRetry(),
	}, log)

	temp := cfg.Temperature()
	gen := genollama.NewClient(transport, genollama.Config{
		Model:       cfg.Inference.GenerationModel,
		Temperature: &temp,
		PullSettle:  cfg.Inference.PullSettle(),
	}, log)

	var st vectorstore.Storage
	switch cfg.VectorStore.Type {
	case "memory":
		st = memory.NewStorage()
	case "qdrant":
		if cfg.VectorStore.Qdrant == nil {
			return nil, fmt.Errorf("qdrant config missing")
		}
		st = qdrant.NewStorage(qdrant.Config{
			URL:     cfg.VectorStore.Qdrant.URL,
			APIKey:  cfg.VectorStore.Qdrant.APIKey,
			Timeout: cfg.VectorStore.Qdrant.Timeout(),
		}, log)
	default:
		return nil, fmt.Errorf("unknown vector store: %s", cfg.VectorStore.Type)
	}

	collection := "documents"
	if cfg.VectorStore.Qdrant != nil && cfg.VectorStore.Qdrant.Collection != "" {
		collection = cfg.VectorStore.Qdrant.Collection
	}
	index := vectorstore.NewManager(st, emb, collection, log)

	svc := service.NewRAGService(
		chunker.NewCharacterChunker(cfg.Chunker.ChunkSize, cfg.Chunker.ChunkOverlap),
		index,
		gen,
		service.Options{DefaultTopK: cfg.Query.DefaultTopK, MaxTopK: cfg.Query.MaxTopK},
		log,
	)

	log.Info("components ready",
		zap.String("inference", transport.BaseURL()),
		zap.String("embedding_model", emb.Model()),
		zap.Int("dimension", emb.Dimension()),
		zap.String("generation_model", gen.Model()),
		zap.String("vector_store", cfg.VectorStore.Type),
		zap.String("collection", collection))
	return &app{service: svc, index: index}, nil
}

// warnEphemeral tells one-shot commands that the memory store is emptied
// when the process exits.
func warnEphemeral(cmd *cobra.Command) {
	if cfg.VectorStore.Type != "memory" {
		return
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "warning: vector_store.type is memory; the index does not outlive this command, use qdrant to keep it")
}
