package domain

import "errors"

var (
	// ErrInvalidInput indicates a request that was rejected before any backend call.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDimensionMismatch indicates an embedding whose length differs from the
	// dimension declared for the configured model.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrMalformedResponse indicates a backend reply that could not be interpreted.
	ErrMalformedResponse = errors.New("malformed backend response")
)
