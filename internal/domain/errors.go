package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration signals missing or invalid configuration. Fatal at startup, never retried.
	ErrConfiguration = errors.New("configuration error")
	// ErrProviderUnavailable signals that a remote embedding or vector-index call gave up.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrIndexNotReady signals that the vector collection did not become ready in time.
	ErrIndexNotReady = errors.New("index not ready")
	// ErrValidation signals a document that cannot be indexed.
	ErrValidation = errors.New("validation error")

	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrEmbeddingQuotaExceeded signals an exhausted embedding budget.
	ErrEmbeddingQuotaExceeded = errors.New("embedding quota exceeded")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
)

// DimensionMismatchError reports vectors that cannot share a namespace.
// It matches both ErrConfiguration and ErrVectorDimMismatch.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("%s: %s: collection has %d dimensions, provider produces %d",
		ErrConfiguration.Error(), ErrVectorDimMismatch.Error(), e.Expected, e.Actual)
}

func (e *DimensionMismatchError) Unwrap() []error {
	return []error{ErrConfiguration, ErrVectorDimMismatch}
}

// NewDimensionMismatch creates a dimension mismatch error.
func NewDimensionMismatch(expected, actual int) error {
	return &DimensionMismatchError{Expected: expected, Actual: actual}
}

// ValidationError describes why a single document was rejected.
type ValidationError struct {
	DocumentID string
	Reason     string
}

func (e *ValidationError) Error() string {
	if e.DocumentID == "" {
		return fmt.Sprintf("%s: %s", ErrValidation.Error(), e.Reason)
	}
	return fmt.Sprintf("%s: document %s: %s", ErrValidation.Error(), e.DocumentID, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidation creates a validation error for one document.
func NewValidation(documentID, reason string) error {
	return &ValidationError{DocumentID: documentID, Reason: reason}
}

// Configurationf formats a configuration error.
func Configurationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
