package chi

import (
	"time"

	domdoc "github.com/kailas-cloud/problemdex/internal/domain/document"
	"github.com/kailas-cloud/problemdex/internal/domain/search/result"
	"github.com/kailas-cloud/problemdex/internal/domain/stats"
)

type errorCode string

const (
	codeBadRequest        errorCode = "bad_request"
	codeNotFound          errorCode = "not_found"
	codeValidationFailed  errorCode = "validation_failed"
	codeUnauthorized      errorCode = "unauthorized"
	codeBatchTooLarge     errorCode = "batch_too_large"
	codeVectorDimMismatch errorCode = "vector_dim_mismatch"
	codeRateLimited       errorCode = "rate_limited"
	codeEmbeddingProvider errorCode = "embedding_provider_error"
	codeStoreUnavailable  errorCode = "store_unavailable"
	codeInternalError     errorCode = "internal_error"
)

type errorResponse struct {
	Status  string    `json:"status"`
	Code    errorCode `json:"code"`
	Message string    `json:"message"`
}

type resultDTO struct {
	ID              string        `json:"id"`
	Title           string        `json:"title"`
	Summary         string        `json:"summary"`
	Description     string        `json:"description"`
	Category        string        `json:"category"`
	SourceURL       string        `json:"source_url,omitempty"`
	SimilarityScore *float64      `json:"similarity_score,omitempty"`
	SourceMetadata  domdoc.Source `json:"source_metadata"`
}

type groupedResponse struct {
	Status      string                 `json:"status"`
	SearchQuery string                 `json:"search_query,omitempty"`
	Data        map[string][]resultDTO `json:"data"`
	Categories  []string               `json:"categories"`
	TotalFound  int                    `json:"total_found"`
	Message     string                 `json:"message"`
	SearchType  string                 `json:"search_type"`
	TechOnly    bool                   `json:"tech_only"`
}

type searchRequestBody struct {
	Query    string `json:"query"`
	Category string `json:"category"`
	Limit    int    `json:"limit"`
	TechOnly bool   `json:"tech_only"`
}

type searchResponse struct {
	Status     string      `json:"status"`
	Query      string      `json:"query"`
	Results    []resultDTO `json:"results"`
	TotalFound int         `json:"total_found"`
	SearchType string      `json:"search_type"`
}

type similarResponse struct {
	Status          string      `json:"status"`
	ProblemID       string      `json:"problem_id"`
	SimilarProblems []resultDTO `json:"similar_problems"`
	TotalFound      int         `json:"total_found"`
	Message         string      `json:"message"`
}

type categoriesResponse struct {
	Status     string   `json:"status"`
	Categories []string `json:"categories"`
}

type statusResponse struct {
	Status         string    `json:"status"`
	VectorStore    string    `json:"vector_store"`
	EmbeddingModel string    `json:"embedding_model"`
	TotalDocuments int       `json:"total_documents"`
	Categories     []string  `json:"categories"`
	CollectionName string    `json:"collection_name"`
	LastUpdated    time.Time `json:"last_updated"`
}

type windowDTO struct {
	Period     string         `json:"period"`
	Total      int            `json:"total"`
	ByCategory map[string]int `json:"by_category"`
}

type statsResponse struct {
	Status      string         `json:"status"`
	Total       int            `json:"total"`
	ByCategory  map[string]int `json:"by_category"`
	Windows     []windowDTO    `json:"windows"`
	GeneratedAt time.Time      `json:"generated_at"`
}

type chunkFailureDTO struct {
	Offset  int    `json:"offset"`
	Size    int    `json:"size"`
	Message string `json:"message"`
}

type ingestResponse struct {
	Status   string            `json:"status"`
	Received int               `json:"received"`
	Added    int               `json:"added"`
	Failed   []chunkFailureDTO `json:"failed,omitempty"`
}

type healthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Documents int               `json:"documents"`
}

func resultToDTO(r *result.Result) resultDTO {
	d := resultDTO{
		ID:             r.ID(),
		Title:          r.Title(),
		Summary:        r.Summary(),
		Description:    r.Description(),
		Category:       r.Category(),
		SourceURL:      r.Source().URL,
		SourceMetadata: r.Source(),
	}
	if s, ok := r.Score(); ok {
		d.SimilarityScore = &s
	}
	return d
}

func resultsToDTO(rs []result.Result) []resultDTO {
	out := make([]resultDTO, len(rs))
	for i := range rs {
		out[i] = resultToDTO(&rs[i])
	}
	return out
}

func groupsToDTO(groups []result.Group) (map[string][]resultDTO, []string) {
	data := make(map[string][]resultDTO, len(groups))
	order := make([]string, 0, len(groups))
	for _, g := range groups {
		data[g.Category] = resultsToDTO(g.Results)
		order = append(order, g.Category)
	}
	return data, order
}

func statsToDTO(s *stats.Snapshot) statsResponse {
	windows := make([]windowDTO, len(s.Windows))
	for i, w := range s.Windows {
		windows[i] = windowDTO{Period: w.Period.Name, Total: w.Total, ByCategory: w.ByCategory}
	}
	return statsResponse{
		Status:      "success",
		Total:       s.Total,
		ByCategory:  s.ByCategory,
		Windows:     windows,
		GeneratedAt: s.GeneratedAt,
	}
}
