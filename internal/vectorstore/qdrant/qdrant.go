package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"docqa/internal/domain"
	"docqa/internal/logger"
	"docqa/internal/vectorstore"
)

// Storage is a REST client to Qdrant.
type Storage struct {
	url    string
	apiKey string
	client *http.Client
	logger *zap.Logger
}

type Config struct {
	URL        string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

var _ vectorstore.Storage = (*Storage)(nil)

func NewStorage(cfg Config, log *zap.Logger) *Storage {
	if cfg.URL == "" {
		cfg.URL = "http://localhost:6333"
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Storage{
		url:    strings.TrimRight(cfg.URL, "/"),
		apiKey: cfg.APIKey,
		client: hc,
		logger: logger.OrNop(log).Named("qdrant"),
	}
}

func (s *Storage) ListCollections(ctx context.Context) ([]string, error) {
	var resp struct {
		Result struct {
			Collections []struct {
				Name string `json:"name"`
			} `json:"collections"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodGet, "/collections", nil, &resp); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(resp.Result.Collections))
	for _, c := range resp.Result.Collections {
		names = append(names, c.Name)
	}
	return names, nil
}

func (s *Storage) CollectionInfo(ctx context.Context, name string) (vectorstore.CollectionInfo, error) {
	var resp struct {
		Result struct {
			PointsCount *int `json:"points_count"`
			Config      struct {
				Params struct {
					Vectors json.RawMessage `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodGet, collectionPath(name), nil, &resp); err != nil {
		return vectorstore.CollectionInfo{}, notFound(name, err)
	}

	// Only the unnamed single-vector layout is supported; named vectors decode
	// to a zero size, which the manager treats as a mismatch.
	var vectors struct {
		Size     int    `json:"size"`
		Distance string `json:"distance"`
	}
	if len(resp.Result.Config.Params.Vectors) > 0 {
		if err := json.Unmarshal(resp.Result.Config.Params.Vectors, &vectors); err != nil {
			return vectorstore.CollectionInfo{}, fmt.Errorf("%w: collection %s vectors config: %v", domain.ErrMalformedResponse, name, err)
		}
	}
	info := vectorstore.CollectionInfo{VectorSize: vectors.Size, Distance: vectorstore.Distance(vectors.Distance)}
	if resp.Result.PointsCount != nil {
		info.PointCount = *resp.Result.PointsCount
	}
	return info, nil
}

func (s *Storage) CreateCollection(ctx context.Context, name string, size int, distance vectorstore.Distance) error {
	if size <= 0 {
		return fmt.Errorf("invalid vector size %d", size)
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     size,
			"distance": string(distance),
		},
	}
	return s.do(ctx, http.MethodPut, collectionPath(name), body, nil)
}

func (s *Storage) DeleteCollection(ctx context.Context, name string) error {
	return s.do(ctx, http.MethodDelete, collectionPath(name), nil, nil)
}

// Upsert writes with wait=true so the call returns after the points are
// persisted.
func (s *Storage) Upsert(ctx context.Context, name string, points []vectorstore.Point) error {
	type point struct {
		ID      uint64         `json:"id"`
		Vector  []float64      `json:"vector"`
		Payload map[string]any `json:"payload"`
	}
	body := struct {
		Points []point `json:"points"`
	}{Points: make([]point, len(points))}
	for i, p := range points {
		body.Points[i] = point{ID: p.ID, Vector: p.Vector, Payload: p.Payload}
	}
	err := s.do(ctx, http.MethodPut, collectionPath(name)+"/points?wait=true", body, nil)
	return notFound(name, err)
}

func (s *Storage) Search(ctx context.Context, name string, vector []float64, limit int) ([]vectorstore.Hit, error) {
	if limit <= 0 {
		limit = 5
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			ID      json.RawMessage `json:"id"`
			Score   float64         `json:"score"`
			Payload map[string]any  `json:"payload"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, collectionPath(name)+"/points/search", req, &resp); err != nil {
		return nil, notFound(name, err)
	}
	hits := make([]vectorstore.Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		// UUID ids, which this client never writes, map to 0.
		id, _ := cast.ToUint64E(strings.Trim(string(r.ID), `"`))
		hits = append(hits, vectorstore.Hit{ID: id, Score: r.Score, Payload: r.Payload})
	}
	return hits, nil
}

func (s *Storage) Health(ctx context.Context) error {
	if err := s.do(ctx, http.MethodGet, "/healthz", nil, nil); err != nil {
		return fmt.Errorf("qdrant health check failed: %w", err)
	}
	return nil
}

func (s *Storage) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode qdrant %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.url+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	s.logger.Debug("qdrant request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)))

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &vectorstore.StatusError{Backend: "qdrant", Method: method, Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode qdrant %s %s: %v", domain.ErrMalformedResponse, method, path, err)
	}
	return nil
}

func collectionPath(name string) string {
	return "/collections/" + url.PathEscape(name)
}

// notFound maps a 404 on a collection-scoped call to ErrCollectionNotFound.
func notFound(name string, err error) error {
	var se *vectorstore.StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", name, vectorstore.ErrCollectionNotFound)
	}
	return err
}
