package document

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Storage limits.
const (
	// MaxTitleLen caps the stored title, in runes.
	MaxTitleLen = 500
	// MaxBodyLen caps the stored body, in runes.
	MaxBodyLen = 500
	// EmbeddingBodyPrefix is how much of the body contributes to the embedding, in runes.
	EmbeddingBodyPrefix = 200
	// DefaultCategory replaces a blank category at write time.
	DefaultCategory = "General Tech"
)

// Well-known source metadata keys.
const (
	KeySourcePlatform = "source_platform"
	KeySourceURL      = "source_url"
)

// Source is the typed provenance metadata of a document.
type Source struct {
	Platform    string            `json:"source_platform,omitempty"`
	URL         string            `json:"source_url,omitempty"`
	Popularity  int64             `json:"popularity_score,omitempty"`
	CreatedAt   int64             `json:"created_at,omitempty"`
	ProcessedAt string            `json:"processed_at,omitempty"`
	Extra       map[string]string `json:"metadata,omitempty"`
}

// Value looks a metadata key up across the typed fields and the extra pairs.
func (s Source) Value(key string) (string, bool) {
	switch key {
	case KeySourcePlatform:
		return s.Platform, s.Platform != ""
	case KeySourceURL:
		return s.URL, s.URL != ""
	}
	v, ok := s.Extra[key]
	return v, ok
}

// Timestamp returns CreatedAt, falling back to ProcessedAt when the source had no creation time.
func (s Source) Timestamp() (time.Time, bool) {
	if s.CreatedAt > 0 {
		return time.Unix(s.CreatedAt, 0).UTC(), true
	}
	if s.ProcessedAt != "" {
		if t, err := time.Parse(time.RFC3339, s.ProcessedAt); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// Document is a persisted problem (immutable value object).
type Document struct {
	id       string
	title    string
	body     string
	summary  string
	category string
	source   Source
	vector   []float32
	seq      int64
}

// New normalizes a validated record into a storable document.
// Title and body are truncated, a blank category becomes DefaultCategory
// and a missing processed_at is stamped with now.
func New(id string, r Record, now time.Time) (Document, error) {
	if id == "" {
		return Document{}, fmt.Errorf("document ID is required")
	}
	if err := r.Validate(); err != nil {
		return Document{}, err
	}

	category := strings.TrimSpace(r.Category)
	if category == "" {
		category = DefaultCategory
	}
	processed := r.ProcessedAt
	if processed == "" {
		processed = now.UTC().Format(time.RFC3339)
	}

	return Document{
		id:       id,
		title:    truncateRunes(r.Title, MaxTitleLen),
		body:     truncateRunes(r.Body, MaxBodyLen),
		summary:  strings.TrimSpace(r.Summary),
		category: category,
		source: Source{
			Platform:    r.SourcePlatform,
			URL:         r.SourceURL,
			Popularity:  r.PopularityScore,
			CreatedAt:   r.CreatedAt,
			ProcessedAt: processed,
			Extra:       cloneStringMap(r.Metadata),
		},
	}, nil
}

// Reconstruct creates a Document without validation (storage hydration).
func Reconstruct(
	id, title, body, summary, category string, source Source, vector []float32, seq int64,
) Document {
	return Document{
		id: id, title: title, body: body, summary: summary, category: category,
		source: source, vector: vector, seq: seq,
	}
}

// ID returns the document identifier.
func (d *Document) ID() string { return d.id }

// Title returns the stored (truncated) title.
func (d *Document) Title() string { return d.title }

// Body returns the stored (truncated) body.
func (d *Document) Body() string { return d.body }

// Summary returns the optional summary.
func (d *Document) Summary() string { return d.summary }

// Category returns the category label.
func (d *Document) Category() string { return d.category }

// Source returns the provenance metadata.
func (d *Document) Source() Source { return d.source }

// Vector returns the embedding vector.
func (d *Document) Vector() []float32 { return d.vector }

// Seq returns the insertion sequence number.
func (d *Document) Seq() int64 { return d.seq }

// DisplayText is the summary when present, otherwise the title.
func (d *Document) DisplayText() string {
	if d.summary != "" {
		return d.summary
	}
	return d.title
}

// WithVector returns a copy with the given vector set.
func (d *Document) WithVector(v []float32) Document {
	c := *d
	c.vector = v
	return c
}

// WithSeq returns a copy with the given insertion sequence.
func (d *Document) WithSeq(seq int64) Document {
	c := *d
	c.seq = seq
	return c
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
