// Package vectorstore owns the passage index: collection lifecycle, point
// identity and nearest-neighbour search over a pluggable Storage backend.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
)

// Distance is the similarity metric a collection is configured with.
type Distance string

const Cosine Distance = "Cosine"

// ErrCollectionNotFound is returned by Storage.CollectionInfo for an absent collection.
var ErrCollectionNotFound = errors.New("collection not found")

// StatusError is a non-2xx reply from a remote Storage backend.
type StatusError struct {
	Backend    string
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s %s failed: %d %s", e.Backend, e.Method, e.Path, e.StatusCode, e.Body)
}

// CollectionInfo is the part of a collection's configuration the manager checks.
type CollectionInfo struct {
	VectorSize int
	Distance   Distance
	PointCount int
}

// Point is one persisted index entry.
type Point struct {
	ID      uint64
	Vector  []float64
	Payload map[string]any
}

// Hit is a search match as reported by the backend, best first.
type Hit struct {
	ID      uint64
	Score   float64
	Payload map[string]any
}

// Storage persists vectors and supports similarity search.
type Storage interface {
	ListCollections(ctx context.Context) ([]string, error)
	CollectionInfo(ctx context.Context, name string) (CollectionInfo, error)
	CreateCollection(ctx context.Context, name string, size int, distance Distance) error
	DeleteCollection(ctx context.Context, name string) error
	// Upsert writes all points in one call and returns once the backend has
	// acknowledged them. Existing IDs are overwritten.
	Upsert(ctx context.Context, name string, points []Point) error
	Search(ctx context.Context, name string, vector []float64, limit int) ([]Hit, error)
	Health(ctx context.Context) error
}
