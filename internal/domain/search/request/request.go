package request

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/problemdex/internal/domain/search/filter"
	"github.com/kailas-cloud/problemdex/internal/domain/search/mode"
)

// Search parameter limits.
const (
	// MaxQueryLength is the maximum allowed search query length.
	MaxQueryLength = 4096
	DefaultTopK    = 10
	MaxTopK        = 100
)

// Request is a validated search query.
type Request struct {
	query      string
	searchMode mode.Mode
	filter     filter.Filter
	topK       int
}

// New validates and normalizes search parameters.
// An empty mode resolves to semantic, and a semantic request with a blank
// query degrades to browse. topK defaults to DefaultTopK and is clamped to MaxTopK.
func New(query string, m mode.Mode, f filter.Filter, topK int) (Request, error) {
	query = strings.TrimSpace(query)
	if len(query) > MaxQueryLength {
		return Request{}, fmt.Errorf("query too long (max %d chars)", MaxQueryLength)
	}
	if m == "" {
		m = mode.Semantic
	}
	if !m.IsValid() {
		return Request{}, fmt.Errorf("invalid search mode: %q", m)
	}
	if m == mode.Semantic && query == "" {
		m = mode.Browse
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}

	return Request{query: query, searchMode: m, filter: f, topK: topK}, nil
}

// Query returns the search query text.
func (r *Request) Query() string { return r.query }

// Mode returns the search strategy.
func (r *Request) Mode() mode.Mode { return r.searchMode }

// Filter returns the pre-filter.
func (r *Request) Filter() filter.Filter { return r.filter }

// TopK returns the number of results to retrieve.
func (r *Request) TopK() int { return r.topK }
