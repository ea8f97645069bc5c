package problemdex

import "github.com/kailas-cloud/problemdex/internal/domain"

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrStoreUnavailable       = domain.ErrStoreUnavailable
	ErrInvalidDocument        = domain.ErrInvalidDocument
	ErrDocumentNotFound       = domain.ErrDocumentNotFound
	ErrInvalidRequest         = domain.ErrInvalidRequest
	ErrBatchTooLarge          = domain.ErrBatchTooLarge
	ErrVectorDimMismatch      = domain.ErrVectorDimMismatch
	ErrEmbeddingProviderError = domain.ErrEmbeddingProviderError
	ErrRateLimited            = domain.ErrRateLimited
)

// StoreError describes a failed store operation. Retrieve it with errors.As.
type StoreError = domain.StoreError
