// Package qdranttest provides a fake Qdrant REST server for tests. Collections
// live in a memory.Storage, so data outlives individual clients.
package qdranttest

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"docqa/internal/vectorstore"
	"docqa/internal/vectorstore/memory"
)

// Server emulates the collection and point endpoints the qdrant client uses.
type Server struct {
	*httptest.Server

	// APIKey, when set, is required in the api-key header.
	APIKey string

	store *memory.Storage
	mu    sync.Mutex
	calls map[string]int
}

func NewServer(t testing.TB) *Server {
	s := &Server{store: memory.NewStorage(), calls: map[string]int{}}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("healthz check passed"))
	})
	mux.HandleFunc("GET /collections", s.listCollections)
	mux.HandleFunc("GET /collections/{name}", s.collectionInfo)
	mux.HandleFunc("PUT /collections/{name}", s.createCollection)
	mux.HandleFunc("DELETE /collections/{name}", s.deleteCollection)
	mux.HandleFunc("PUT /collections/{name}/points", s.upsert)
	mux.HandleFunc("POST /collections/{name}/points/search", s.search)
	s.Server = httptest.NewServer(s.authorize(mux))
	t.Cleanup(s.Close)
	return s
}

// Calls reports how many requests matched the given route pattern,
// e.g. "PUT /collections/{name}/points".
func (s *Server) Calls(pattern string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[pattern]
}

// Storage exposes the backing store for assertions.
func (s *Server) Storage() *memory.Storage {
	return s.store
}

func (s *Server) authorize(next *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.APIKey != "" && r.Header.Get("api-key") != s.APIKey {
			writeStatus(w, http.StatusForbidden, "Invalid api-key")
			return
		}
		_, pattern := next.Handler(r)
		s.mu.Lock()
		s.calls[pattern]++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) listCollections(w http.ResponseWriter, r *http.Request) {
	names, _ := s.store.ListCollections(r.Context())
	type entry struct {
		Name string `json:"name"`
	}
	list := make([]entry, len(names))
	for i, n := range names {
		list[i] = entry{Name: n}
	}
	writeResult(w, map[string]any{"collections": list})
}

func (s *Server) collectionInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.store.CollectionInfo(r.Context(), r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, map[string]any{
		"status":       "green",
		"points_count": info.PointCount,
		"config": map[string]any{
			"params": map[string]any{
				"vectors": map[string]any{"size": info.VectorSize, "distance": info.Distance},
			},
		},
	})
}

func (s *Server) createCollection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Vectors struct {
			Size     int                  `json:"size"`
			Distance vectorstore.Distance `json:"distance"`
		} `json:"vectors"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.CreateCollection(r.Context(), r.PathValue("name"), req.Vectors.Size, req.Vectors.Distance); err != nil {
		writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	writeResult(w, true)
}

func (s *Server) deleteCollection(w http.ResponseWriter, r *http.Request) {
	_ = s.store.DeleteCollection(r.Context(), r.PathValue("name"))
	writeResult(w, true)
}

func (s *Server) upsert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Points []struct {
			ID      uint64         `json:"id"`
			Vector  []float64      `json:"vector"`
			Payload map[string]any `json:"payload"`
		} `json:"points"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	points := make([]vectorstore.Point, len(req.Points))
	for i, p := range req.Points {
		points[i] = vectorstore.Point{ID: p.ID, Vector: p.Vector, Payload: p.Payload}
	}
	if err := s.store.Upsert(r.Context(), r.PathValue("name"), points); err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, map[string]any{"operation_id": 0, "status": "completed"})
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Vector []float64 `json:"vector"`
		Limit  int       `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	hits, err := s.store.Search(r.Context(), r.PathValue("name"), req.Vector, req.Limit)
	if err != nil {
		writeError(w, err)
		return
	}
	type scored struct {
		ID      uint64         `json:"id"`
		Version int            `json:"version"`
		Score   float64        `json:"score"`
		Payload map[string]any `json:"payload"`
	}
	out := make([]scored, len(hits))
	for i, h := range hits {
		out[i] = scored{ID: h.ID, Score: h.Score, Payload: h.Payload}
	}
	writeResult(w, out)
}

func writeResult(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result, "status": "ok", "time": 0.001})
}

func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, vectorstore.ErrCollectionNotFound) {
		writeStatus(w, http.StatusNotFound, "Not found: "+err.Error())
		return
	}
	writeStatus(w, http.StatusBadRequest, err.Error())
}

func writeStatus(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": map[string]string{"error": msg}})
}
