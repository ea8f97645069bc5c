package category

import (
	"context"

	domdoc "github.com/kailas-cloud/problemdex/internal/domain/document"
	"github.com/kailas-cloud/problemdex/internal/domain/search/filter"
)

// Store is the subset of the document store the category index reads.
type Store interface {
	Categories(ctx context.Context) ([]string, error)
	List(ctx context.Context, limit int, f filter.Filter) ([]domdoc.Document, error)
	Count(ctx context.Context) (int, error)
}
