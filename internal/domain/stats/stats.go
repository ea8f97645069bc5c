package stats

import (
	"maps"
	"sort"
	"time"

	"github.com/kailas-cloud/problemdex/internal/domain/document"
)

// UncategorizedLabel is reported for documents stored without a category.
const UncategorizedLabel = "Uncategorized"

// Period is a trailing recency window.
type Period struct {
	Name     string
	Duration time.Duration
}

// DefaultPeriods are the recency windows reported alongside the totals.
var DefaultPeriods = []Period{
	{Name: "last_24h", Duration: 24 * time.Hour},
	{Name: "last_7d", Duration: 7 * 24 * time.Hour},
	{Name: "last_30d", Duration: 30 * 24 * time.Hour},
}

// Window counts documents whose timestamp falls within a period.
type Window struct {
	Period     Period
	Total      int
	ByCategory map[string]int
}

// Snapshot is a point-in-time breakdown of the collection by category and recency.
type Snapshot struct {
	Total       int
	ByCategory  map[string]int
	Windows     []Window
	GeneratedAt time.Time
}

// Categories returns the category labels of the snapshot, sorted.
func (s Snapshot) Categories() []string {
	out := make([]string, 0, len(s.ByCategory))
	for c := range s.ByCategory {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy that shares no maps with s.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.ByCategory = maps.Clone(s.ByCategory)
	out.Windows = make([]Window, len(s.Windows))
	for i, w := range s.Windows {
		w.ByCategory = maps.Clone(w.ByCategory)
		out.Windows[i] = w
	}
	return out
}

// Compute aggregates docs into a snapshot as of now.
// Documents without any timestamp count toward the totals only.
func Compute(docs []document.Document, periods []Period, now time.Time) Snapshot {
	snap := Snapshot{
		Total:       len(docs),
		ByCategory:  make(map[string]int),
		Windows:     make([]Window, len(periods)),
		GeneratedAt: now,
	}
	for i, p := range periods {
		snap.Windows[i] = Window{Period: p, ByCategory: make(map[string]int)}
	}

	for i := range docs {
		d := &docs[i]
		cat := d.Category()
		if cat == "" {
			cat = UncategorizedLabel
		}
		snap.ByCategory[cat]++

		ts, ok := d.Source().Timestamp()
		if !ok {
			continue
		}
		age := now.Sub(ts)
		for w := range snap.Windows {
			if age <= snap.Windows[w].Period.Duration {
				snap.Windows[w].Total++
				snap.Windows[w].ByCategory[cat]++
			}
		}
	}
	return snap
}
