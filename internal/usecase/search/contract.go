package search

import (
	"context"

	domdoc "github.com/kailas-cloud/problemdex/internal/domain/document"
	"github.com/kailas-cloud/problemdex/internal/domain/search/filter"
	"github.com/kailas-cloud/problemdex/internal/domain/search/result"
)

// Store is the read side of the document store.
type Store interface {
	SimilarityQuery(ctx context.Context, vec []float32, k int, f filter.Filter) ([]result.Result, error)
	List(ctx context.Context, limit int, f filter.Filter) ([]domdoc.Document, error)
	Get(ctx context.Context, id string) (domdoc.Document, error)
}

// Embedder vectorizes a query. It never fails; see embedding.Model.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) []float32
}
