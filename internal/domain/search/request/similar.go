package request

import (
	"errors"
	"strings"

	"github.com/kailas-cloud/problemdex/internal/domain/search/filter"
)

// DefaultSimilarLimit is the number of neighbours returned when none is requested.
const DefaultSimilarLimit = 5

// Similar is a validated "more like this" query anchored on a stored document.
type Similar struct {
	id     string
	filter filter.Filter
	limit  int
}

// NewSimilar validates and normalizes similar request parameters.
// limit defaults to DefaultSimilarLimit and is clamped to MaxTopK.
func NewSimilar(id string, f filter.Filter, limit int) (Similar, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Similar{}, errors.New("document id is required")
	}
	if limit <= 0 {
		limit = DefaultSimilarLimit
	}
	if limit > MaxTopK {
		limit = MaxTopK
	}
	return Similar{id: id, filter: f, limit: limit}, nil
}

// ID returns the anchor document id.
func (r *Similar) ID() string { return r.id }

// Filter returns the pre-filter applied to neighbours.
func (r *Similar) Filter() filter.Filter { return r.filter }

// Limit returns the maximum number of neighbours, the anchor excluded.
func (r *Similar) Limit() int { return r.limit }
