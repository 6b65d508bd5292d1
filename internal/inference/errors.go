package inference

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"syscall"
)

// APIError is a non-success reply from the model server. Ollama reports
// failures as short text (sometimes wrapped in {"error": ...}); Body keeps it
// verbatim so callers can classify it.
type APIError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("model server %s returned %d: %s", e.Path, e.StatusCode, e.Body)
}

// IsModelNotFound reports whether err says the requested model is not
// available on the server yet.
func IsModelNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return strings.Contains(strings.ToLower(apiErr.Body), "not found")
}

// IsModelLoading reports whether err looks like the server dropping the
// request while it loads a model into memory: an EOF or connection reset,
// either reported in the reply body or seen on the wire.
func IsModelLoading(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		body := strings.ToLower(apiErr.Body)
		return strings.Contains(body, "eof") || strings.Contains(body, "connection reset")
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET)
}
