package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"docqa/internal/domain"
	"docqa/internal/embedding"
	"docqa/internal/logger"
	"docqa/internal/metrics"
)

// Payload keys stored alongside each vector.
const (
	payloadText       = "text"
	payloadSource     = "source"
	payloadIndex      = "chunk_index"
	payloadTotal      = "total_chunks"
	payloadIngestedAt = "ingested_at"
)

// Manager keeps one named collection sized for the embedder's model and
// moves passages in and out of it.
type Manager struct {
	storage    Storage
	embedder   embedding.Embedder
	collection string
	logger     *zap.Logger
}

var _ domain.Index = (*Manager)(nil)

// NewManager creates an index manager for collection.
func NewManager(storage Storage, embedder embedding.Embedder, collection string, log *zap.Logger) *Manager {
	if collection == "" {
		collection = "documents"
	}
	return &Manager{
		storage:    storage,
		embedder:   embedder,
		collection: collection,
		logger:     logger.OrNop(log).Named("index").With(zap.String("collection", collection)),
	}
}

// Collection returns the managed collection name.
func (m *Manager) Collection() string { return m.collection }

// EnsureIndex creates the collection when absent. A collection whose vector
// size differs from the embedder's declared dimension is dropped and
// recreated, discarding its points.
func (m *Manager) EnsureIndex(ctx context.Context) error {
	dim := m.embedder.Dimension()

	names, err := m.storage.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("index %s: list collections: %w", m.collection, err)
	}
	if !slices.Contains(names, m.collection) {
		if err := m.storage.CreateCollection(ctx, m.collection, dim, Cosine); err != nil {
			return fmt.Errorf("index %s: create: %w", m.collection, err)
		}
		m.logger.Info("created collection", zap.Int("dimension", dim))
		return nil
	}

	info, err := m.storage.CollectionInfo(ctx, m.collection)
	if err != nil {
		return fmt.Errorf("index %s: inspect: %w", m.collection, err)
	}
	if info.VectorSize == dim {
		return nil
	}

	m.logger.Warn("collection vector size does not match embedding model, recreating",
		zap.Int("stored_dimension", info.VectorSize),
		zap.Int("declared_dimension", dim),
		zap.String("model", m.embedder.Model()),
		zap.Int("discarded_points", info.PointCount))
	metrics.IndexRecreations.WithLabelValues(m.collection).Inc()

	if err := m.storage.DeleteCollection(ctx, m.collection); err != nil {
		return fmt.Errorf("index %s: delete: %w", m.collection, err)
	}
	if err := m.storage.CreateCollection(ctx, m.collection, dim, Cosine); err != nil {
		return fmt.Errorf("index %s: recreate: %w", m.collection, err)
	}
	return nil
}

// Upsert embeds and writes passages in a single storage call. If any
// embedding has the wrong length nothing is written.
func (m *Manager) Upsert(ctx context.Context, passages []domain.Passage) error {
	if err := m.EnsureIndex(ctx); err != nil {
		return err
	}
	if len(passages) == 0 {
		return nil
	}

	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Text
	}
	vectors, err := m.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("index %s: embed passages: %w", m.collection, err)
	}
	if len(vectors) != len(passages) {
		return fmt.Errorf("index %s: %w: got %d embeddings for %d passages",
			m.collection, domain.ErrMalformedResponse, len(vectors), len(passages))
	}
	for i, v := range vectors {
		if err := m.checkDimension(v); err != nil {
			return fmt.Errorf("index %s: passage %d: %w", m.collection, i, err)
		}
	}

	points := make([]Point, len(passages))
	for i, p := range passages {
		points[i] = Point{
			ID:      PointID(p.Metadata.Source, p.Metadata.Index),
			Vector:  vectors[i],
			Payload: toPayload(p),
		}
	}
	if err := m.storage.Upsert(ctx, m.collection, points); err != nil {
		return fmt.Errorf("index %s: upsert %d points: %w", m.collection, len(points), err)
	}
	metrics.PassagesIngested.Add(float64(len(points)))
	m.logger.Debug("upserted passages", zap.Int("count", len(points)))
	return nil
}

// Search returns the k passages nearest to query. A collection that does not
// exist yet yields no results.
func (m *Manager) Search(ctx context.Context, query string, k int) ([]domain.SearchResult, error) {
	vector, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("index %s: embed query: %w", m.collection, err)
	}
	if err := m.checkDimension(vector); err != nil {
		return nil, fmt.Errorf("index %s: query: %w", m.collection, err)
	}

	hits, err := m.storage.Search(ctx, m.collection, vector, k)
	if errors.Is(err, ErrCollectionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("index %s: search: %w", m.collection, err)
	}

	results := make([]domain.SearchResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, fromPayload(h))
	}
	return results, nil
}

// HealthCheck reports whether the storage backend is reachable.
func (m *Manager) HealthCheck(ctx context.Context) bool {
	if err := m.storage.Health(ctx); err != nil {
		m.logger.Warn("vector store health check failed", zap.Error(err))
		return false
	}
	return true
}

// Stats returns the collection's current configuration and size.
func (m *Manager) Stats(ctx context.Context) (CollectionInfo, error) {
	info, err := m.storage.CollectionInfo(ctx, m.collection)
	if err != nil {
		return CollectionInfo{}, fmt.Errorf("index %s: inspect: %w", m.collection, err)
	}
	return info, nil
}

func (m *Manager) checkDimension(v []float64) error {
	if want := m.embedder.Dimension(); len(v) != want {
		return fmt.Errorf("%w: got %d, model %s declares %d",
			domain.ErrDimensionMismatch, len(v), m.embedder.Model(), want)
	}
	return nil
}

func toPayload(p domain.Passage) map[string]any {
	return map[string]any{
		payloadText:       p.Text,
		payloadSource:     p.Metadata.Source,
		payloadIndex:      p.Metadata.Index,
		payloadTotal:      p.Metadata.Total,
		payloadIngestedAt: p.Metadata.IngestedAt.UTC().Format(time.RFC3339Nano),
	}
}

// fromPayload tolerates the number and time encodings produced by a JSON
// round trip through the backend.
func fromPayload(h Hit) domain.SearchResult {
	return domain.SearchResult{
		Text: cast.ToString(h.Payload[payloadText]),
		Metadata: domain.PassageMetadata{
			Source:     cast.ToString(h.Payload[payloadSource]),
			Index:      cast.ToInt(h.Payload[payloadIndex]),
			Total:      cast.ToInt(h.Payload[payloadTotal]),
			IngestedAt: cast.ToTime(h.Payload[payloadIngestedAt]),
		},
		Score: h.Score,
	}
}
