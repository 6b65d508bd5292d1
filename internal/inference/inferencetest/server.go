// Package inferencetest provides a fake Ollama-compatible model server for tests.
package inferencetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// Failure is a canned error reply. Hangup closes the connection without a
// response, which the client sees as EOF.
type Failure struct {
	Status int
	Body   string
	Hangup bool
}

// Server emulates /api/pull, /api/embeddings and /api/generate. Models must
// be pulled (or listed in NewServer) before they answer.
type Server struct {
	*httptest.Server

	// Dimension is the length of vectors returned by the default embedder.
	Dimension int
	// EmbedFunc overrides the default deterministic embedding.
	EmbedFunc func(text string) []float64
	// Response is returned by /api/generate.
	Response string

	mu        sync.Mutex
	available map[string]bool
	failures  map[string][]Failure
	calls     map[string]int
	prompts   []string
	requests  []map[string]any
}

// NewServer starts a fake server with the given models already available.
func NewServer(t testing.TB, models ...string) *Server {
	s := &Server{
		Dimension: 8,
		Response:  "  A grounded answer.  ",
		available: map[string]bool{},
		failures:  map[string][]Failure{},
		calls:     map[string]int{},
	}
	for _, m := range models {
		s.available[m] = true
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Fail queues a failure for the next request to path.
func (s *Server) Fail(path string, f Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = append(s.failures[path], f)
}

// Calls returns how many requests reached path.
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// Prompts returns the prompts received by /api/generate.
func (s *Server) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

// LastGenerateRequest returns the decoded body of the latest /api/generate call.
func (s *Server) LastGenerateRequest() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return nil
	}
	return s.requests[len(s.requests)-1]
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	model, _ := body["model"].(string)

	s.mu.Lock()
	s.calls[r.URL.Path]++
	var failure *Failure
	if q := s.failures[r.URL.Path]; len(q) > 0 {
		failure = &q[0]
		s.failures[r.URL.Path] = q[1:]
	}
	available := s.available[model]
	s.mu.Unlock()

	if failure != nil {
		if failure.Hangup {
			if hj, ok := w.(http.Hijacker); ok {
				conn, _, err := hj.Hijack()
				if err == nil {
					_ = conn.Close()
					return
				}
			}
		}
		http.Error(w, failure.Body, failure.Status)
		return
	}

	switch r.URL.Path {
	case "/api/pull":
		s.mu.Lock()
		s.available[model] = true
		s.mu.Unlock()
		for _, status := range []string{"pulling manifest", "verifying sha256 digest", "success"} {
			_, _ = fmt.Fprintf(w, "{\"status\":%q}\n", status)
		}
	case "/api/embeddings":
		if !available {
			notFound(w, model)
			return
		}
		prompt, _ := body["prompt"].(string)
		embed := s.EmbedFunc
		if embed == nil {
			embed = s.defaultEmbedding
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": embed(prompt)})
	case "/api/generate":
		if !available {
			notFound(w, model)
			return
		}
		prompt, _ := body["prompt"].(string)
		s.mu.Lock()
		s.prompts = append(s.prompts, prompt)
		s.requests = append(s.requests, body)
		resp := s.Response
		s.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"model": model, "response": resp, "done": true})
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) defaultEmbedding(text string) []float64 {
	v := make([]float64, s.Dimension)
	for i := range v {
		v[i] = 1
	}
	for i, ch := range text {
		v[i%len(v)] += float64(ch%17) / 17
	}
	return v
}

func notFound(w http.ResponseWriter, model string) {
	w.WriteHeader(http.StatusNotFound)
	_, _ = fmt.Fprintf(w, "{\"error\":\"model %q not found, try pulling it first\"}", model)
}
