package filter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kailas-cloud/problemdex/internal/domain/document"
)

// AllCategories is the sentinel category meaning "no category filter".
const AllCategories = "All"

// MaxTagValues bounds the allow-set of a tag filter.
const MaxTagValues = 64

// Tag restricts results to documents whose metadata value for key is in an allow-set.
// Matching is case-insensitive.
type Tag struct {
	key   string
	allow map[string]struct{}
}

// NewTag validates and creates a tag allow-set filter.
func NewTag(key string, values []string) (Tag, error) {
	if key == "" {
		return Tag{}, fmt.Errorf("tag filter key is required")
	}
	if len(values) == 0 {
		return Tag{}, fmt.Errorf("tag filter %q needs at least one value", key)
	}
	if len(values) > MaxTagValues {
		return Tag{}, fmt.Errorf("too many tag values (max %d)", MaxTagValues)
	}
	allow := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = normalizeTag(v)
		if v == "" {
			return Tag{}, fmt.Errorf("empty value in tag filter %q", key)
		}
		allow[v] = struct{}{}
	}
	return Tag{key: key, allow: allow}, nil
}

// Key returns the metadata key the filter applies to.
func (t Tag) Key() string { return t.key }

// Values returns the normalized allow-set, sorted.
func (t Tag) Values() []string {
	out := make([]string, 0, len(t.allow))
	for v := range t.allow {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// IsEmpty reports whether the tag filter is unset.
func (t Tag) IsEmpty() bool { return len(t.allow) == 0 }

// Allows reports whether v is in the allow-set. An empty filter allows everything.
func (t Tag) Allows(v string) bool {
	if t.IsEmpty() {
		return true
	}
	_, ok := t.allow[normalizeTag(v)]
	return ok
}

// Filter is the pre-filter applied to similarity queries and listings.
type Filter struct {
	category string
	tag      Tag
}

// New creates a filter. An empty category or AllCategories means no category restriction.
func New(category string, tag Tag) Filter {
	category = strings.TrimSpace(category)
	if category == AllCategories {
		category = ""
	}
	return Filter{category: category, tag: tag}
}

// None returns a filter that matches every document.
func None() Filter { return Filter{} }

// Category returns the exact category to match, or "" for any.
func (f Filter) Category() string { return f.category }

// Tag returns the tag allow-set filter.
func (f Filter) Tag() Tag { return f.tag }

// IsEmpty reports whether the filter matches every document.
func (f Filter) IsEmpty() bool { return f.category == "" && f.tag.IsEmpty() }

// Matches evaluates the filter against a stored document.
func (f Filter) Matches(doc *document.Document) bool {
	if f.category != "" && doc.Category() != f.category {
		return false
	}
	if f.tag.IsEmpty() {
		return true
	}
	v, ok := doc.Source().Value(f.tag.key)
	return ok && f.tag.Allows(v)
}

// NormalizeTag is the canonical form tag values are stored and compared in.
func NormalizeTag(v string) string { return normalizeTag(v) }

func normalizeTag(v string) string { return strings.ToLower(strings.TrimSpace(v)) }
