// Package server exposes the document QA service over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"docqa/internal/domain"
	"docqa/internal/inference"
	"docqa/internal/logger"
	"docqa/internal/metrics"
	"docqa/internal/vectorstore"
)

// DefaultMaxUploadBytes bounds uploaded documents when no limit is configured.
const DefaultMaxUploadBytes = 10 << 20

// Handler serves upload, query, health and metrics endpoints.
type Handler struct {
	svc            domain.RAGService
	maxUploadBytes int64
	logger         *zap.Logger
}

// ErrorResponse is the JSON body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// QueryRequest is the body of POST /api/query.
type QueryRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
}

// UploadResponse is returned after a document has been indexed.
type UploadResponse struct {
	domain.IngestResult
	Message string `json:"message"`
}

func New(svc domain.RAGService, maxUploadBytes int64, log *zap.Logger) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &Handler{svc: svc, maxUploadBytes: maxUploadBytes, logger: logger.OrNop(log).Named("http")}
}

// Routes returns the router with request logging applied.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/upload", h.Upload)
	mux.HandleFunc("POST /api/query", h.Query)
	mux.HandleFunc("GET /healthz", h.Health)
	mux.Handle("GET /metrics", metrics.Handler())
	return h.logRequests(mux)
}

// Upload handles POST /api/upload. The document is either the multipart
// field "file" or a raw text/plain body named by the "source" query parameter.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	name, content, err := readDocument(r)
	if err != nil {
		h.fail(w, err)
		return
	}

	res, err := h.svc.Ingest(r.Context(), string(content), name)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, UploadResponse{
		IngestResult: res,
		Message:      fmt.Sprintf("Processed %s: %d passages, %d characters", res.Source, res.PassageCount, res.TotalChars),
	})
}

// Query handles POST /api/query.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		h.fail(w, fmt.Errorf("%w: request body must be JSON with a question field", domain.ErrInvalidInput))
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		h.fail(w, fmt.Errorf("%w: question is required", domain.ErrInvalidInput))
		return
	}

	ans, err := h.svc.Query(r.Context(), req.Question, req.TopK)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if !h.svc.HealthCheck(r.Context()) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func readDocument(r *http.Request) (string, []byte, error) {
	var (
		name string
		src  io.Reader
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		f, hdr, err := r.FormFile("file")
		if err != nil {
			if tooLarge(err) {
				return "", nil, err
			}
			return "", nil, fmt.Errorf("%w: multipart field \"file\" is required", domain.ErrInvalidInput)
		}
		defer f.Close()
		name, src = hdr.Filename, f
	} else {
		name, src = r.URL.Query().Get("source"), r.Body
		if name == "" {
			name = "upload.txt"
		}
	}

	name = filepath.Base(name)
	if !strings.EqualFold(filepath.Ext(name), ".txt") {
		return "", nil, fmt.Errorf("%w: only .txt files are supported, got %q", domain.ErrInvalidInput, name)
	}
	content, err := io.ReadAll(src)
	if err != nil {
		return "", nil, err
	}
	if !utf8.Valid(content) {
		return "", nil, fmt.Errorf("%w: %s is not UTF-8 text", domain.ErrInvalidInput, name)
	}
	return name, content, nil
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= 500 {
		h.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	var (
		apiErr   *inference.APIError
		storeErr *vectorstore.StatusError
		urlErr   *url.Error
	)
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case tooLarge(err):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrMalformedResponse),
		errors.Is(err, domain.ErrDimensionMismatch),
		errors.As(err, &apiErr),
		errors.As(err, &storeErr),
		errors.As(err, &urlErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func tooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)))
	})
}
