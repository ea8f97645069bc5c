package ingest

import (
	"context"

	domdoc "github.com/kailas-cloud/problemdex/internal/domain/document"
)

// Store adds validated record batches to the document store.
type Store interface {
	Add(ctx context.Context, records []domdoc.Record) (int, error)
	MaxBatchSize() int
}
