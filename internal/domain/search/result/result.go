package result

import "github.com/kailas-cloud/problemdex/internal/domain/document"

// Result is a single retrieved document in the shape consumers render.
// Browse results carry no score.
type Result struct {
	id          string
	title       string
	summary     string
	description string
	category    string
	source      document.Source
	score       *float64
}

// FromDocument builds an unscored result (browse mode).
func FromDocument(d *document.Document) Result {
	return Result{
		id:          d.ID(),
		title:       d.Title(),
		summary:     d.DisplayText(),
		description: d.Body(),
		category:    d.Category(),
		source:      d.Source(),
	}
}

// Scored builds a result carrying a similarity score in [0, 1].
func Scored(d *document.Document, score float64) Result {
	r := FromDocument(d)
	r.score = &score
	return r
}

// ID returns the document identifier.
func (r *Result) ID() string { return r.id }

// Title returns the document title.
func (r *Result) Title() string { return r.title }

// Summary returns the display text: the summary when present, otherwise the title.
func (r *Result) Summary() string { return r.summary }

// Description returns the stored body.
func (r *Result) Description() string { return r.description }

// Category returns the category label.
func (r *Result) Category() string { return r.category }

// Source returns the provenance metadata.
func (r *Result) Source() document.Source { return r.source }

// Score returns the similarity score and whether the result has one.
func (r *Result) Score() (float64, bool) {
	if r.score == nil {
		return 0, false
	}
	return *r.score, true
}

// Group is the ordered list of results sharing a category.
type Group struct {
	Category string
	Results  []Result
}

// GroupByCategory partitions results by category. Groups appear in order of
// first occurrence and each group keeps the input (rank) order.
func GroupByCategory(results []Result) []Group {
	idx := make(map[string]int)
	var groups []Group
	for _, r := range results {
		i, ok := idx[r.category]
		if !ok {
			i = len(groups)
			idx[r.category] = i
			groups = append(groups, Group{Category: r.category})
		}
		groups[i].Results = append(groups[i].Results, r)
	}
	return groups
}

// Dedupe concatenates result lists keeping only the first occurrence of each id.
func Dedupe(lists ...[]Result) []Result {
	seen := make(map[string]struct{})
	var out []Result
	for _, list := range lists {
		for _, r := range list {
			if _, dup := seen[r.id]; dup {
				continue
			}
			seen[r.id] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}
