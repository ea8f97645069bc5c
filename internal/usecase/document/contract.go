package document

import (
	"context"

	domdoc "github.com/kailas-cloud/problemdex/internal/domain/document"
	"github.com/kailas-cloud/problemdex/internal/domain/search/filter"
	"github.com/kailas-cloud/problemdex/internal/domain/search/result"
)

// Repository is the storage contract every DocumentStore backend implements.
type Repository interface {
	// Insert persists the batch atomically and assigns insertion sequence numbers.
	Insert(ctx context.Context, docs []domdoc.Document) error
	Search(ctx context.Context, vec []float32, k int, f filter.Filter) ([]result.Result, error)
	// Get returns the stored document with its vector, or domain.ErrDocumentNotFound.
	Get(ctx context.Context, id string) (domdoc.Document, error)
	// List returns matching documents in insertion order; limit <= 0 means all.
	List(ctx context.Context, limit int, f filter.Filter) ([]domdoc.Document, error)
	Categories(ctx context.Context, sampleSize int) ([]string, error)
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}

// Embedder vectorizes a batch of texts. It never fails; see embedding.Model.
type Embedder interface {
	Embed(ctx context.Context, texts []string) [][]float32
	Dimensions() int
}
