package document

import (
	"fmt"
	"strings"
)

// Record is the normalized problem handed over by the ingestion pipeline.
// It is the only input shape accepted by the document store.
type Record struct {
	Title           string            `json:"title"`
	Body            string            `json:"body,omitempty"`
	Summary         string            `json:"summary,omitempty"`
	Category        string            `json:"category,omitempty"`
	SourceURL       string            `json:"source_url,omitempty"`
	SourcePlatform  string            `json:"source_platform,omitempty"`
	PopularityScore int64             `json:"popularity_score,omitempty"`
	CreatedAt       int64             `json:"created_at,omitempty"`
	ProcessedAt     string            `json:"processed_at,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Validate checks the record at the ingestion boundary.
func (r Record) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if r.CreatedAt < 0 {
		return fmt.Errorf("created_at must be non-negative")
	}
	for k := range r.Metadata {
		if k == "" {
			return fmt.Errorf("metadata key must not be empty")
		}
	}
	return nil
}

// EmbeddingText is the text fed to the embedding model: title, summary
// and the head of the body, taken from the untruncated record.
func (r Record) EmbeddingText() string {
	return r.Title + " " + r.Summary + " " + truncateRunes(r.Body, EmbeddingBodyPrefix)
}
