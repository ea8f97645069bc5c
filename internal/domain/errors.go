package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable signals that the backing vector store failed an operation.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrInvalidDocument signals a record rejected at the ingestion boundary.
	ErrInvalidDocument = errors.New("invalid document")
	// ErrInvalidRequest signals malformed search parameters.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrBatchTooLarge signals an ingestion batch over the configured limit.
	ErrBatchTooLarge = errors.New("batch too large")
	// ErrDocumentNotFound signals a missing document.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrRateLimited signals a rate limit hit.
	ErrRateLimited = errors.New("rate limited")
)

// StoreError describes a failed store operation on a collection.
// It always unwraps to ErrStoreUnavailable and to the underlying cause.
type StoreError struct {
	Op         string
	Collection string
	Err        error
}

func (e *StoreError) Error() string {
	if e.Collection == "" {
		return fmt.Sprintf("%s: %s: %v", ErrStoreUnavailable.Error(), e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s %s: %v", ErrStoreUnavailable.Error(), e.Op, e.Collection, e.Err)
}

// Unwrap exposes both the sentinel and the cause to errors.Is / errors.As.
func (e *StoreError) Unwrap() []error { return []error{ErrStoreUnavailable, e.Err} }

// NewStoreError wraps err as a store failure of op on collection.
func NewStoreError(op, collection string, err error) error {
	return &StoreError{Op: op, Collection: collection, Err: err}
}
