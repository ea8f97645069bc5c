package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/problemdex/internal/domain"
	"github.com/kailas-cloud/problemdex/internal/domain/search/mode"
	"github.com/kailas-cloud/problemdex/internal/domain/search/request"
	logpkg "github.com/kailas-cloud/problemdex/internal/logger"
	healthuc "github.com/kailas-cloud/problemdex/internal/usecase/health"
	"github.com/kailas-cloud/problemdex/internal/usecase/ingest"
	searchuc "github.com/kailas-cloud/problemdex/internal/usecase/search"
)

const (
	// defaultLiveLimit is the page size of /api/live_problems and /api/sample.
	defaultLiveLimit = 20
	maxBodyBytes     = 8 << 20
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server serves the problem index over HTTP.
type Server struct {
	index         Index
	logger        *zap.Logger
	metrics       http.Handler
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(index Index, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{index: index, logger: logger, metrics: promhttp.Handler()}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrInvalidRequest, http.StatusBadRequest, codeValidationFailed),
		sentinelHandler(domain.ErrInvalidDocument, http.StatusBadRequest, codeValidationFailed),
		sentinelHandler(domain.ErrDocumentNotFound, http.StatusNotFound, codeNotFound),
		sentinelHandler(domain.ErrBatchTooLarge, http.StatusBadRequest, codeBatchTooLarge),
		sentinelHandler(domain.ErrVectorDimMismatch, http.StatusBadRequest, codeVectorDimMismatch),
		sentinelHandler(domain.ErrRateLimited, http.StatusTooManyRequests, codeRateLimited),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, codeEmbeddingProvider),
		sentinelHandler(domain.ErrStoreUnavailable, http.StatusServiceUnavailable, codeStoreUnavailable),
	}
	return s
}

type liveParams struct {
	Query    *string
	Category *string
	Limit    *int
	TechOnly *bool
	Mode     *string
}

func bindLiveParams(r *http.Request) (liveParams, error) {
	var p liveParams
	q := r.URL.Query()
	binds := []struct {
		name string
		dest any
	}{
		{"query", &p.Query},
		{"category", &p.Category},
		{"limit", &p.Limit},
		{"tech_only", &p.TechOnly},
		{"mode", &p.Mode},
	}
	for _, b := range binds {
		if err := runtime.BindQueryParameter("form", true, false, b.name, q, b.dest); err != nil {
			return liveParams{}, fmt.Errorf("invalid %s parameter: %w", b.name, err)
		}
	}
	return p, nil
}

// LiveProblems handles GET /api/live_problems.
// A query runs a semantic search; without one the response is a diverse sample,
// or an insertion-ordered listing when mode=browse.
func (s *Server) LiveProblems(w http.ResponseWriter, r *http.Request) {
	p, err := bindLiveParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	query := deref(p.Query)
	m := mode.Mode("")
	if strings.TrimSpace(query) == "" {
		m = mode.Sample
		if deref(p.Mode) == string(mode.Browse) {
			m = mode.Browse
		}
	}
	s.serveGrouped(w, r, query, m, p)
}

// Sample handles GET /api/sample.
func (s *Server) Sample(w http.ResponseWriter, r *http.Request) {
	p, err := bindLiveParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	s.serveGrouped(w, r, "", mode.Sample, p)
}

func (s *Server) serveGrouped(w http.ResponseWriter, r *http.Request, query string, m mode.Mode, p liveParams) {
	techOnly := deref(p.TechOnly)
	limit := defaultLiveLimit
	if p.Limit != nil {
		limit = *p.Limit
	}

	resp, err := s.execute(r, query, m, deref(p.Category), techOnly, limit)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	data, order := groupsToDTO(resp.Groups())
	writeJSON(w, http.StatusOK, groupedResponse{
		Status:      "success",
		SearchQuery: resp.Query,
		Data:        data,
		Categories:  order,
		TotalFound:  len(resp.Results),
		Message:     responseMessage(&resp),
		SearchType:  string(resp.Mode),
		TechOnly:    techOnly,
	})
}

func responseMessage(resp *searchuc.Response) string {
	n := len(resp.Results)
	switch resp.Mode {
	case mode.Semantic:
		return fmt.Sprintf("Found %d problems matching '%s'", n, resp.Query)
	case mode.Sample:
		return fmt.Sprintf("Sample of %d tech problems", n)
	default:
		return fmt.Sprintf("Showing %d tech problems", n)
	}
}

// Search handles POST /api/search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var body searchRequestBody
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(body.Query) == "" {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "query is required")
		return
	}
	if body.Limit < 0 || body.Limit > request.MaxTopK {
		writeError(w, http.StatusBadRequest, codeValidationFailed,
			fmt.Sprintf("limit must be between 1 and %d", request.MaxTopK))
		return
	}

	resp, err := s.execute(r, body.Query, mode.Semantic, body.Category, body.TechOnly, body.Limit)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, searchResponse{
		Status:     "success",
		Query:      resp.Query,
		Results:    resultsToDTO(resp.Results),
		TotalFound: len(resp.Results),
		SearchType: "advanced_semantic",
	})
}

// Similar handles GET /api/similar/{id}.
func (s *Server) Similar(w http.ResponseWriter, r *http.Request) {
	p, err := bindLiveParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	limit := deref(p.Limit)
	if limit < 0 || limit > request.MaxTopK {
		writeError(w, http.StatusBadRequest, codeValidationFailed,
			fmt.Sprintf("limit must be between 1 and %d", request.MaxTopK))
		return
	}

	f, err := s.index.Filter(deref(p.Category), deref(p.TechOnly))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	req, err := request.NewSimilar(chi.URLParam(r, "id"), f, limit)
	if err != nil {
		s.handleDomainError(w, r, fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err))
		return
	}
	resp, err := s.index.ExecuteSimilar(r.Context(), &req)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, similarResponse{
		Status:          "success",
		ProblemID:       req.ID(),
		SimilarProblems: resultsToDTO(resp.Results),
		TotalFound:      len(resp.Results),
		Message:         fmt.Sprintf("Found %d problems similar to '%s'", len(resp.Results), resp.Query),
	})
}

func (s *Server) execute(
	r *http.Request, query string, m mode.Mode, category string, techOnly bool, limit int,
) (searchuc.Response, error) {
	f, err := s.index.Filter(category, techOnly)
	if err != nil {
		return searchuc.Response{}, err
	}
	req, err := request.New(query, m, f, limit)
	if err != nil {
		return searchuc.Response{}, fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
	}
	resp, err := s.index.Execute(r.Context(), &req)
	if err != nil {
		return searchuc.Response{}, err
	}
	return resp, nil
}

// Categories handles GET /api/categories.
func (s *Server) Categories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.index.Categories(r.Context())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, categoriesResponse{
		Status:     "success",
		Categories: append([]string{"All"}, cats...),
	})
}

// Status handles GET /api/status.
func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	count, err := s.index.Count(ctx)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	cats, err := s.index.Categories(ctx)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:         "running",
		VectorStore:    s.index.Backend(),
		EmbeddingModel: s.index.ModelName(),
		TotalDocuments: count,
		Categories:     cats,
		CollectionName: s.index.Collection(),
		LastUpdated:    time.Now().UTC(),
	})
}

// Stats handles GET /api/stats.
func (s *Server) Stats(w http.ResponseWriter, r *http.Request) {
	snap, err := s.index.Stats(r.Context())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statsToDTO(&snap))
}

// AddDocuments handles POST /api/documents. The body is a JSON array of records or a single record.
func (s *Server) AddDocuments(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	records, err := ingest.DecodeBatch(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	rep, err := s.index.Add(r.Context(), records)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	resp := ingestResponse{Status: "success", Received: len(records), Added: rep.Added}
	for _, c := range rep.Failed() {
		resp.Failed = append(resp.Failed, chunkFailureDTO{
			Offset: c.Offset, Size: c.Size, Message: safeDomainMessage(c.Err),
		})
	}
	status := http.StatusOK
	if len(records) > 0 && rep.Added == 0 && len(resp.Failed) > 0 {
		status = http.StatusBadRequest
		resp.Status = "error"
	}
	writeJSON(w, status, resp)
}

// ClearDocuments handles DELETE /api/documents.
func (s *Server) ClearDocuments(w http.ResponseWriter, r *http.Request) {
	if err := s.index.Clear(r.Context()); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.index.Health(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, healthResponse{
		Status:    string(report.Status),
		Checks:    checks,
		Documents: report.Documents,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	s.metrics.ServeHTTP(w, r)
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code errorCode, message string) {
	writeJSON(w, status, errorResponse{
		Status:  "error",
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrInvalidRequest,
		domain.ErrInvalidDocument,
		domain.ErrDocumentNotFound,
		domain.ErrBatchTooLarge,
		domain.ErrVectorDimMismatch,
		domain.ErrRateLimited,
		domain.ErrEmbeddingProviderError,
		domain.ErrStoreUnavailable,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code errorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logpkg.FromContext(r.Context())
	log.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	// validation errors carry a useful client message
	if errors.Is(err, domain.ErrInvalidRequest) || errors.Is(err, domain.ErrInvalidDocument) {
		msg = err.Error()
	}
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
