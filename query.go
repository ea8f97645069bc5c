package problemdex

import (
	"fmt"

	"github.com/kailas-cloud/problemdex/internal/domain"
	"github.com/kailas-cloud/problemdex/internal/domain/search/filter"
)

// QueryOption narrows Search, Browse and Sample.
type QueryOption func(*queryOptions)

type queryOptions struct {
	category string
	limit    int
	techOnly bool
}

// InCategory restricts results to one category. AllCategories or "" means any.
func InCategory(category string) QueryOption {
	return func(q *queryOptions) { q.category = category }
}

// Limit caps the number of results.
func Limit(n int) QueryOption {
	return func(q *queryOptions) { q.limit = n }
}

// TechOnly applies the configured tag allow-list.
func TechOnly() QueryOption {
	return func(q *queryOptions) { q.techOnly = true }
}

// Filter builds the store filter for a category and the optional tag allow-list.
func (ix *Index) Filter(category string, techOnly bool) (filter.Filter, error) {
	if !techOnly {
		return filter.New(category, filter.Tag{}), nil
	}
	if ix.techTag.IsEmpty() {
		return filter.Filter{}, fmt.Errorf("tech-only filter is not configured: %w", domain.ErrInvalidRequest)
	}
	return filter.New(category, ix.techTag), nil
}

func (ix *Index) queryOptions(opts []QueryOption) (queryOptions, filter.Filter, error) {
	q := queryOptions{limit: ix.cfg.Search.DefaultLimit}
	for _, o := range opts {
		o(&q)
	}
	f, err := ix.Filter(q.category, q.techOnly)
	return q, f, err
}
