package memory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"math"
	"slices"
	"sort"
	"sync"

	"docqa/internal/vectorstore"
)

// Storage is an in-process vector store using brute-force cosine similarity.
// Useful for tests and single-process runs; contents are lost on exit.
type Storage struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

type collection struct {
	size     int
	distance vectorstore.Distance
	points   map[uint64]vectorstore.Point
}

var _ vectorstore.Storage = (*Storage)(nil)

func NewStorage() *Storage {
	return &Storage{collections: map[string]*collection{}}
}

func (s *Storage) ListCollections(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := slices.Collect(maps.Keys(s.collections))
	sort.Strings(names)
	return names, nil
}

func (s *Storage) CollectionInfo(_ context.Context, name string) (vectorstore.CollectionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return vectorstore.CollectionInfo{}, fmt.Errorf("%s: %w", name, vectorstore.ErrCollectionNotFound)
	}
	return vectorstore.CollectionInfo{VectorSize: c.size, Distance: c.distance, PointCount: len(c.points)}, nil
}

func (s *Storage) CreateCollection(_ context.Context, name string, size int, distance vectorstore.Distance) error {
	if size <= 0 {
		return fmt.Errorf("invalid vector size %d", size)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; ok {
		return fmt.Errorf("collection %s already exists", name)
	}
	s.collections[name] = &collection{size: size, distance: distance, points: map[uint64]vectorstore.Point{}}
	return nil
}

func (s *Storage) DeleteCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, name)
	return nil
}

// Upsert validates the whole batch before writing any of it.
func (s *Storage) Upsert(_ context.Context, name string, points []vectorstore.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, vectorstore.ErrCollectionNotFound)
	}
	for _, p := range points {
		if len(p.Vector) != c.size {
			return fmt.Errorf("point %d: vector size %d, collection expects %d", p.ID, len(p.Vector), c.size)
		}
	}
	for _, p := range points {
		p.Vector = slices.Clone(p.Vector)
		p.Payload = maps.Clone(p.Payload)
		c.points[p.ID] = p
	}
	return nil
}

func (s *Storage) Search(_ context.Context, name string, vector []float64, limit int) ([]vectorstore.Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, vectorstore.ErrCollectionNotFound)
	}
	if len(vector) != c.size {
		return nil, fmt.Errorf("query vector size %d, collection expects %d", len(vector), c.size)
	}
	if limit <= 0 {
		limit = 5
	}

	hits := make([]vectorstore.Hit, 0, len(c.points))
	for _, p := range c.points {
		hits = append(hits, vectorstore.Hit{ID: p.ID, Score: cosine(p.Vector, vector), Payload: maps.Clone(p.Payload)})
	}
	// ID breaks ties so results are stable across map iteration orders.
	slices.SortFunc(hits, func(a, b vectorstore.Hit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if limit < len(hits) {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *Storage) Health(context.Context) error { return nil }

func cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
